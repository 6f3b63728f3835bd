// Package consensus decides whether a plan proceeds to patching. The
// decision is a pure function over the plan, the critic review, and the
// plan-level policy decision; no model call happens here.
package consensus

import (
	"fmt"

	"github.com/Mrgig7/Autonomous-Al-powered-SRE-Agent-sub001/internal/model"
	"github.com/Mrgig7/Autonomous-Al-powered-SRE-Agent-sub001/internal/policy"
)

// Decision states.
const (
	StateAccepted             = "accepted"
	StateRejectedLowAgreement = "rejected_low_agreement"
	StateRejectedSafetyVeto   = "rejected_safety_veto"
	StateRejectedInvalid      = "rejected_invalid_candidates"
)

// Thresholds tune the vote. MinConfidence gates both the planner's own
// confidence and the critic's consistency score; a danger score at or
// above VetoDangerScore vetoes regardless of agreement.
type Thresholds struct {
	MinAgreement    float64
	MinConfidence   float64
	VetoDangerScore int
}

func DefaultThresholds() Thresholds {
	return Thresholds{MinAgreement: 0.75, MinConfidence: 0.6, VetoDangerScore: 80}
}

// Candidate is one plan considered by the vote. The single-planner
// pipeline always has at most one.
type Candidate struct {
	Agent string  `json:"agent"`
	Kind  string  `json:"kind"`
	Score float64 `json:"score"`
}

// Decision is the persisted consensus stage output.
type Decision struct {
	State         string            `json:"state"`
	AgreementRate float64           `json:"agreement_rate"`
	SelectedAgent string            `json:"selected_agent,omitempty"`
	SelectedPlan  *model.FixPlan    `json:"selected_plan,omitempty"`
	Candidates    []Candidate       `json:"candidates"`
	Rejections    []string          `json:"rejections,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

func (d Decision) Accepted() bool { return d.State == StateAccepted }

// Decide applies the veto and agreement rules in order: safety veto
// first, candidate validity second, then the four-signal vote.
func Decide(plan *model.FixPlan, critic *model.CriticDecision, pol policy.Decision, th Thresholds) Decision {
	if !pol.Allowed || pol.DangerScore >= th.VetoDangerScore {
		rej := make([]string, 0, len(pol.Violations)+1)
		for _, v := range pol.Violations {
			if v.Severity == policy.SeverityBlock {
				rej = append(rej, v.Code)
			}
		}
		if pol.DangerScore >= th.VetoDangerScore {
			rej = append(rej, fmt.Sprintf("danger_score %d >= %d", pol.DangerScore, th.VetoDangerScore))
		}
		return Decision{
			State:         StateRejectedSafetyVeto,
			Rejections:    rej,
			Candidates:    candidates(plan),
			Metadata:      map[string]string{"danger_score": fmt.Sprintf("%d", pol.DangerScore)},
			AgreementRate: 0,
		}
	}

	if plan == nil || plan.Validate() != nil || critic == nil {
		rej := []string{}
		if plan == nil {
			rej = append(rej, "missing plan")
		} else if err := plan.Validate(); err != nil {
			rej = append(rej, err.Error())
		}
		if critic == nil {
			rej = append(rej, "missing critic decision")
		}
		return Decision{State: StateRejectedInvalid, Rejections: rej, Candidates: candidates(plan)}
	}

	signals := []struct {
		name  string
		agree bool
	}{
		{"plan_confidence", plan.Confidence >= th.MinConfidence},
		{"critic_allowed", critic.Allowed},
		{"critic_consistency", critic.ReasoningConsistency >= th.MinConfidence},
		{"policy_allowed", pol.Allowed},
	}

	agree := 0
	meta := make(map[string]string, len(signals))
	var rejections []string
	for _, s := range signals {
		meta["signal_"+s.name] = fmt.Sprintf("%t", s.agree)
		if s.agree {
			agree++
		} else {
			rejections = append(rejections, s.name)
		}
	}
	rate := float64(agree) / float64(len(signals))

	d := Decision{
		AgreementRate: rate,
		Candidates:    candidates(plan),
		Rejections:    rejections,
		Metadata:      meta,
	}
	if rate >= th.MinAgreement {
		d.State = StateAccepted
		d.SelectedAgent = "planner"
		d.SelectedPlan = plan
	} else {
		d.State = StateRejectedLowAgreement
	}
	return d
}

func candidates(plan *model.FixPlan) []Candidate {
	if plan == nil {
		return []Candidate{}
	}
	return []Candidate{{Agent: "planner", Kind: "fix_plan", Score: plan.Confidence}}
}
