package model

import "testing"

func TestParseRunStatus_AcceptsCanonicalSet(t *testing.T) {
	cases := []string{
		"created", "context_built", "rca_ready", "plan_ready", "plan_blocked",
		"critic_ready", "consensus_ready", "patch_ready", "patch_blocked",
		"validation_passed", "validation_failed", "pr_created", "pr_failed",
		"awaiting_approval", "monitoring", "merged", "escalated", "blocked",
	}
	for _, in := range cases {
		got, err := ParseRunStatus(in)
		if err != nil {
			t.Fatalf("ParseRunStatus(%q) error: %v", in, err)
		}
		if string(got) != in {
			t.Fatalf("ParseRunStatus(%q)=%q", in, got)
		}
	}
	if _, err := ParseRunStatus("cancelled"); err == nil {
		t.Fatalf("expected error for unknown status")
	}
	if _, err := ParseRunStatus(""); err == nil {
		t.Fatalf("expected error for empty status")
	}
}

func TestRunStatus_CanAdvance_ForwardOnly(t *testing.T) {
	cases := []struct {
		from, to RunStatus
		want     bool
	}{
		{StatusCreated, StatusContextBuilt, true},
		{StatusContextBuilt, StatusRCAReady, true},
		{StatusRCAReady, StatusPlanReady, true},
		{StatusRCAReady, StatusPlanBlocked, true},
		{StatusPlanReady, StatusCriticReady, true},
		{StatusConsensusReady, StatusPatchReady, true},
		{StatusPatchReady, StatusValidationPassed, true},
		{StatusValidationPassed, StatusPRCreated, true},
		{StatusPRCreated, StatusMonitoring, true},
		{StatusMonitoring, StatusMerged, true},
		{StatusMonitoring, StatusEscalated, true},

		// Backwards edges are rejected.
		{StatusRCAReady, StatusContextBuilt, false},
		{StatusPRCreated, StatusPatchReady, false},
		{StatusMonitoring, StatusCreated, false},

		// Sibling outcomes at the same rank are not reachable from each other.
		{StatusPlanReady, StatusPlanBlocked, false},
		{StatusValidationPassed, StatusValidationFailed, false},

		// Terminals stay terminal.
		{StatusPlanBlocked, StatusCriticReady, false},
		{StatusMerged, StatusMonitoring, false},
		{StatusBlocked, StatusContextBuilt, false},
	}
	for _, tc := range cases {
		if got := tc.from.CanAdvance(tc.to); got != tc.want {
			t.Fatalf("CanAdvance(%s -> %s)=%v want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestRunStatus_BlockedReachableFromAnyNonTerminal(t *testing.T) {
	for st := range statusRank {
		if st.Terminal() {
			continue
		}
		if !st.CanAdvance(StatusBlocked) {
			t.Fatalf("blocked should be reachable from %s", st)
		}
	}
}

func TestRunStatus_AwaitingApprovalExitsOnlyToPRStage(t *testing.T) {
	if !StatusAwaitingApproval.CanAdvance(StatusPRCreated) {
		t.Fatalf("awaiting_approval must advance to pr_created")
	}
	if !StatusAwaitingApproval.CanAdvance(StatusPRFailed) {
		t.Fatalf("awaiting_approval must advance to pr_failed")
	}
	if StatusAwaitingApproval.CanAdvance(StatusMonitoring) {
		t.Fatalf("awaiting_approval must not skip the PR stage")
	}
}

func TestParseAutomationMode(t *testing.T) {
	cases := []struct {
		in   string
		want AutomationMode
	}{
		{"suggest", ModeSuggest},
		{"auto_pr", ModeAutoPR},
		{"auto_merge", ModeAutoMerge},
		{"AUTO_PR", ModeAutoPR},
		{"", ModeAutoPR}, // default
	}
	for _, tc := range cases {
		got, err := ParseAutomationMode(tc.in)
		if err != nil {
			t.Fatalf("ParseAutomationMode(%q) error: %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("ParseAutomationMode(%q)=%q want %q", tc.in, got, tc.want)
		}
	}
	if _, err := ParseAutomationMode("yolo"); err == nil {
		t.Fatalf("expected error for unknown mode")
	}
}
