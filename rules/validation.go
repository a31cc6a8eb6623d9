package rules

import (
	"fmt"
	"strings"

	"github.com/forumkit/automation/event"
)

const (
	maxConditionDepth = 10
	maxGroupChildren  = 50
	maxRuleActions    = 20
)

// ValidateRule checks a rule at authoring time. Anything the evaluator would
// fail closed on at runtime — unknown operators, empty groups, fields the
// rule's event type never carries, expressions that do not compile — is
// rejected here instead, so the engine only ever loads well-formed rules.
func ValidateRule(r *Rule) error {
	if r == nil {
		return fmt.Errorf("rule is nil")
	}
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("rule name cannot be empty")
	}
	if !r.EventType.Valid() {
		return fmt.Errorf("unknown event type %q", r.EventType)
	}
	if r.Priority < 0 {
		return fmt.Errorf("priority must be non-negative, got %d", r.Priority)
	}
	if err := ValidateCondition(r.Condition, r); err != nil {
		return fmt.Errorf("invalid condition: %w", err)
	}
	if len(r.Actions) == 0 {
		return fmt.Errorf("rule must have at least one action")
	}
	if len(r.Actions) > maxRuleActions {
		return fmt.Errorf("rule has %d actions, maximum allowed is %d", len(r.Actions), maxRuleActions)
	}
	for i, a := range r.Actions {
		if err := validateAction(a); err != nil {
			return fmt.Errorf("invalid action %d: %w", i, err)
		}
	}
	return nil
}

// ValidateCondition checks a condition tree against the payload shape of the
// rule's event type.
func ValidateCondition(c *Condition, r *Rule) error {
	return validateNode(c, r, 0)
}

func validateNode(c *Condition, r *Rule, depth int) error {
	if c == nil {
		return fmt.Errorf("condition node is nil")
	}
	if depth > maxConditionDepth {
		return fmt.Errorf("condition tree exceeds maximum depth of %d", maxConditionDepth)
	}

	switch c.Kind {
	case NodeGroup:
		if c.Op != GroupAnd && c.Op != GroupOr {
			return fmt.Errorf("group op must be %s or %s, got %q", GroupAnd, GroupOr, c.Op)
		}
		if len(c.Children) == 0 {
			return fmt.Errorf("group must contain at least one child")
		}
		if len(c.Children) > maxGroupChildren {
			return fmt.Errorf("group contains %d children, maximum allowed is %d", len(c.Children), maxGroupChildren)
		}
		for i, child := range c.Children {
			if err := validateNode(child, r, depth+1); err != nil {
				return fmt.Errorf("child %d: %w", i, err)
			}
		}
		return nil

	case NodeCmp:
		if c.Field == "" {
			return fmt.Errorf("comparison field cannot be empty")
		}
		root := c.Field
		if i := strings.IndexByte(root, '.'); i >= 0 {
			root = root[:i]
		}
		if !knownPayloadField(r.EventType, root) {
			return fmt.Errorf("event type %s has no payload field %q", r.EventType, root)
		}
		switch c.Operator {
		case OpEq, OpNeq, OpGt, OpGte, OpLt, OpLte, OpContains:
			if c.Value == nil {
				return fmt.Errorf("operator %s requires a value", c.Operator)
			}
		case OpIn:
			list, ok := c.Value.([]any)
			if !ok {
				return fmt.Errorf("operator in requires a list value")
			}
			if len(list) == 0 {
				return fmt.Errorf("operator in requires a non-empty list")
			}
		default:
			return fmt.Errorf("unknown operator %q", c.Operator)
		}
		return nil

	case NodeExpr:
		if strings.TrimSpace(c.Expression) == "" {
			return fmt.Errorf("expression cannot be empty")
		}
		if err := CompileExpression(c.Expression); err != nil {
			return err
		}
		return nil

	default:
		return fmt.Errorf("unknown node kind %q", c.Kind)
	}
}

func validateAction(a Action) error {
	switch a.Type {
	case ActionAwardBadge:
		if _, ok := numberParam(a.Params, "badgeId"); !ok {
			return fmt.Errorf("%s requires numeric param %q", a.Type, "badgeId")
		}
	case ActionGrantCredits:
		amount, ok := numberParam(a.Params, "amount")
		if !ok {
			return fmt.Errorf("%s requires numeric param %q", a.Type, "amount")
		}
		if amount <= 0 {
			return fmt.Errorf("%s amount must be positive, got %v", a.Type, amount)
		}
	case ActionSendNotification:
		if _, ok := stringParam(a.Params, "template"); !ok {
			return fmt.Errorf("%s requires string param %q", a.Type, "template")
		}
	default:
		return fmt.Errorf("unknown action type %q", a.Type)
	}
	return nil
}

func knownPayloadField(t event.Type, name string) bool {
	_, ok := samplePayload(t).Fields()[name]
	return ok
}

func numberParam(params map[string]any, key string) (float64, bool) {
	v, ok := params[key]
	if !ok {
		return 0, false
	}
	return asNumber(v)
}

func stringParam(params map[string]any, key string) (string, bool) {
	v, ok := params[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok && s != ""
}
