package consensus

import (
	"testing"

	"github.com/Mrgig7/Autonomous-Al-powered-SRE-Agent-sub001/internal/model"
	"github.com/Mrgig7/Autonomous-Al-powered-SRE-Agent-sub001/internal/policy"
)

func goodPlan() *model.FixPlan {
	return &model.FixPlan{
		RootCause:  "missing dependency",
		Category:   model.CategoryDependency,
		Confidence: 0.9,
		Files:      []string{"requirements.txt"},
		Operations: []model.FixOperation{
			{Type: model.OpAddDependency, File: "requirements.txt", Details: map[string]any{"package": "requests"}},
		},
	}
}

func goodCritic() *model.CriticDecision {
	return &model.CriticDecision{Allowed: true, HallucinationRisk: 0.1, ReasoningConsistency: 0.9, RecommendedLabel: policy.LabelSafe}
}

func allowedPolicy() policy.Decision {
	return policy.Decision{Allowed: true, DangerScore: 10, PRLabel: policy.LabelSafe}
}

func TestDecide_Accepted(t *testing.T) {
	d := Decide(goodPlan(), goodCritic(), allowedPolicy(), DefaultThresholds())
	if d.State != StateAccepted {
		t.Fatalf("state: %s (%v)", d.State, d.Rejections)
	}
	if d.AgreementRate != 1 {
		t.Fatalf("rate: %v", d.AgreementRate)
	}
	if d.SelectedAgent != "planner" || d.SelectedPlan == nil {
		t.Fatalf("selection: %+v", d)
	}
	if len(d.Candidates) != 1 || d.Candidates[0].Score != 0.9 {
		t.Fatalf("candidates: %+v", d.Candidates)
	}
}

func TestDecide_SafetyVetoOnBlockedPolicy(t *testing.T) {
	pol := policy.Decision{
		Allowed:     false,
		DangerScore: 5,
		Violations: []policy.Violation{
			{Code: policy.CodeForbiddenPath, Severity: policy.SeverityBlock, Message: "touches .github/workflows"},
		},
	}
	d := Decide(goodPlan(), goodCritic(), pol, DefaultThresholds())
	if d.State != StateRejectedSafetyVeto {
		t.Fatalf("state: %s", d.State)
	}
	if len(d.Rejections) == 0 || d.Rejections[0] != policy.CodeForbiddenPath {
		t.Fatalf("rejections: %v", d.Rejections)
	}
}

func TestDecide_SafetyVetoOnDangerScore(t *testing.T) {
	pol := allowedPolicy()
	pol.DangerScore = 80
	d := Decide(goodPlan(), goodCritic(), pol, DefaultThresholds())
	if d.State != StateRejectedSafetyVeto {
		t.Fatalf("state: %s", d.State)
	}

	pol.DangerScore = 79
	d = Decide(goodPlan(), goodCritic(), pol, DefaultThresholds())
	if d.State == StateRejectedSafetyVeto {
		t.Fatalf("danger below threshold must not veto")
	}
}

func TestDecide_InvalidCandidates(t *testing.T) {
	d := Decide(nil, goodCritic(), allowedPolicy(), DefaultThresholds())
	if d.State != StateRejectedInvalid {
		t.Fatalf("missing plan: %s", d.State)
	}

	broken := goodPlan()
	broken.Operations = nil
	d = Decide(broken, goodCritic(), allowedPolicy(), DefaultThresholds())
	if d.State != StateRejectedInvalid {
		t.Fatalf("invalid plan: %s", d.State)
	}

	d = Decide(goodPlan(), nil, allowedPolicy(), DefaultThresholds())
	if d.State != StateRejectedInvalid {
		t.Fatalf("missing critic: %s", d.State)
	}
}

func TestDecide_LowAgreement(t *testing.T) {
	critic := goodCritic()
	critic.Allowed = false
	critic.ReasoningConsistency = 0.2

	d := Decide(goodPlan(), critic, allowedPolicy(), DefaultThresholds())
	if d.State != StateRejectedLowAgreement {
		t.Fatalf("state: %s", d.State)
	}
	if d.AgreementRate != 0.5 {
		t.Fatalf("rate: %v", d.AgreementRate)
	}
	if len(d.Rejections) != 2 {
		t.Fatalf("rejections: %v", d.Rejections)
	}
	if d.SelectedPlan != nil {
		t.Fatalf("rejected decision must not select a plan")
	}
}

func TestDecide_ThreeOfFourPasses(t *testing.T) {
	critic := goodCritic()
	critic.Allowed = false

	d := Decide(goodPlan(), critic, allowedPolicy(), DefaultThresholds())
	if d.State != StateAccepted {
		t.Fatalf("0.75 agreement should accept: %s", d.State)
	}
	if d.Metadata["signal_critic_allowed"] != "false" {
		t.Fatalf("metadata: %v", d.Metadata)
	}
}
