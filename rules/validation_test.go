package rules

import (
	"strings"
	"testing"

	"github.com/forumkit/automation/event"
)

func validDonationRule() *Rule {
	return &Rule{
		Name:      "generous donor",
		EventType: event.TypeDonation,
		Enabled:   true,
		Priority:  1,
		Condition: Cmp("amount", OpGt, 100),
		Actions:   []Action{{Type: ActionAwardBadge, Params: map[string]any{"badgeId": float64(3)}}},
	}
}

func TestValidateRuleAcceptsValidRule(t *testing.T) {
	if err := ValidateRule(validDonationRule()); err != nil {
		t.Errorf("ValidateRule() rejected a valid rule: %v", err)
	}
}

func TestValidateRuleRejections(t *testing.T) {
	testCases := []struct {
		name    string
		mutate  func(*Rule)
		wantErr string
	}{
		{"empty name", func(r *Rule) { r.Name = "  " }, "name cannot be empty"},
		{"unknown event type", func(r *Rule) { r.EventType = "TELEPORT" }, "unknown event type"},
		{"negative priority", func(r *Rule) { r.Priority = -1 }, "priority"},
		{"nil condition", func(r *Rule) { r.Condition = nil }, "condition node is nil"},
		{"empty group", func(r *Rule) { r.Condition = Group(GroupAnd) }, "at least one child"},
		{"bad group op", func(r *Rule) { r.Condition = &Condition{Kind: NodeGroup, Op: "XOR", Children: []*Condition{Cmp("amount", OpGt, 1)}} }, "group op"},
		{"unknown field", func(r *Rule) { r.Condition = Cmp("favoriteColor", OpEq, "red") }, "no payload field"},
		{"unknown operator", func(r *Rule) { r.Condition = Cmp("amount", "like", 1) }, "unknown operator"},
		{"in without list", func(r *Rule) { r.Condition = Cmp("currency", OpIn, "CNY") }, "requires a list"},
		{"in with empty list", func(r *Rule) { r.Condition = Cmp("currency", OpIn, []any{}) }, "non-empty list"},
		{"empty expression", func(r *Rule) { r.Condition = Expr("   ") }, "expression cannot be empty"},
		{"broken expression", func(r *Rule) { r.Condition = Expr("amount >") }, "compile error"},
		{"no actions", func(r *Rule) { r.Actions = nil }, "at least one action"},
		{"unknown action type", func(r *Rule) { r.Actions = []Action{{Type: "LAUNCH_ROCKET"}} }, "unknown action type"},
		{"badge without id", func(r *Rule) { r.Actions = []Action{{Type: ActionAwardBadge}} }, "badgeId"},
		{"credits without amount", func(r *Rule) { r.Actions = []Action{{Type: ActionGrantCredits}} }, "amount"},
		{"credits with non-positive amount", func(r *Rule) {
			r.Actions = []Action{{Type: ActionGrantCredits, Params: map[string]any{"amount": float64(0)}}}
		}, "must be positive"},
		{"notification without template", func(r *Rule) { r.Actions = []Action{{Type: ActionSendNotification}} }, "template"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rule := validDonationRule()
			tc.mutate(rule)
			err := ValidateRule(rule)
			if err == nil {
				t.Fatal("ValidateRule() should have failed")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("error %q does not mention %q", err, tc.wantErr)
			}
		})
	}
}

func TestValidateConditionDepthLimit(t *testing.T) {
	cond := Cmp("amount", OpGt, 1)
	for i := 0; i <= maxConditionDepth; i++ {
		cond = Group(GroupAnd, cond)
	}
	rule := validDonationRule()
	rule.Condition = cond

	err := ValidateRule(rule)
	if err == nil || !strings.Contains(err.Error(), "maximum depth") {
		t.Errorf("deep condition tree should be rejected, got %v", err)
	}
}

func TestValidateRuleDottedFieldPath(t *testing.T) {
	// The root segment must exist in the payload; nested sub-paths are
	// checked at evaluation time where they fail closed.
	rule := validDonationRule()
	rule.Condition = Cmp("amount.cents", OpGt, 1)
	if err := ValidateRule(rule); err != nil {
		t.Errorf("dotted path rooted at a known field should validate: %v", err)
	}
}
