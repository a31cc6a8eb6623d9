// Package rules holds the automation rule model: condition trees, actions,
// authoring validation, the condition evaluator, and the rule stores.
package rules

import (
	"time"

	"github.com/forumkit/automation/event"
)

// Operator is a comparison operator usable in a cmp condition node.
type Operator string

const (
	OpEq       Operator = "eq"
	OpNeq      Operator = "neq"
	OpGt       Operator = "gt"
	OpGte      Operator = "gte"
	OpLt       Operator = "lt"
	OpLte      Operator = "lte"
	OpContains Operator = "contains"
	OpIn       Operator = "in"
)

// GroupOp combines the results of a group node's children.
type GroupOp string

const (
	GroupAnd GroupOp = "AND"
	GroupOr  GroupOp = "OR"
)

// NodeKind discriminates the condition tree node variants.
type NodeKind string

const (
	NodeGroup NodeKind = "group"
	NodeCmp   NodeKind = "cmp"
	NodeExpr  NodeKind = "expr"
)

// Condition is one node of a rule's condition tree. Exactly one variant is
// populated, selected by Kind:
//
//   - group: Op and Children (at least one child)
//   - cmp:   Field (dotted path into the event payload), Operator, Value
//   - expr:  Expression, a CEL predicate over the payload for conditions the
//     cmp grammar cannot express (e.g. consecutiveDays % 7 == 0)
//
// The zero Condition is invalid; Validate rejects it at authoring time.
type Condition struct {
	Kind NodeKind `json:"kind"`

	Op       GroupOp      `json:"op,omitempty"`
	Children []*Condition `json:"children,omitempty"`

	Field    string   `json:"field,omitempty"`
	Operator Operator `json:"operator,omitempty"`
	Value    any      `json:"value,omitempty"`

	Expression string `json:"expression,omitempty"`
}

// Group builds an AND/OR node.
func Group(op GroupOp, children ...*Condition) *Condition {
	return &Condition{Kind: NodeGroup, Op: op, Children: children}
}

// Cmp builds a comparison node.
func Cmp(field string, op Operator, value any) *Condition {
	return &Condition{Kind: NodeCmp, Field: field, Operator: op, Value: value}
}

// Expr builds a CEL expression node.
func Expr(expression string) *Condition {
	return &Condition{Kind: NodeExpr, Expression: expression}
}

// ActionType names a side-effecting operation a matched rule triggers.
type ActionType string

const (
	ActionAwardBadge       ActionType = "AWARD_BADGE"
	ActionGrantCredits     ActionType = "GRANT_CREDITS"
	ActionSendNotification ActionType = "SEND_NOTIFICATION"
)

// Action is a stateless description of one side effect. Params are
// type-specific, e.g. {"badgeId": 3} or {"amount": 10, "reason": "weekly streak"}.
type Action struct {
	Type   ActionType     `json:"type"`
	Params map[string]any `json:"params,omitempty"`
}

// Rule binds an event type and a condition to an ordered list of actions.
// Rules are authored by administrators; the engine only reads enabled ones.
// Version increments on every update so in-flight evaluations can be traced
// back to the exact revision they saw.
type Rule struct {
	ID        int64      `json:"id"`
	Name      string     `json:"name"`
	EventType event.Type `json:"eventType"`
	Enabled   bool       `json:"enabled"`
	// Priority orders evaluation within an event type; lower runs first.
	Priority  int        `json:"priority"`
	Condition *Condition `json:"condition"`
	Actions   []Action   `json:"actions"`
	Version   int        `json:"version"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}
