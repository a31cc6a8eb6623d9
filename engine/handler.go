// Package engine contains the event bus and the action executor: the pieces
// that turn a published event plus the administrator's rules into idempotent
// side effects on external sinks.
package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/forumkit/automation/event"
	"github.com/forumkit/automation/rules"
	"github.com/forumkit/automation/sinks"
)

// Handler executes one action type against its external sink.
type Handler interface {
	Handle(ctx context.Context, ev *event.Event, action rules.Action) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, ev *event.Event, action rules.Action) error

func (f HandlerFunc) Handle(ctx context.Context, ev *event.Event, action rules.Action) error {
	return f(ctx, ev, action)
}

// Registry maps action types to their handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[rules.ActionType]Handler
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[rules.ActionType]Handler)}
}

// Register binds a handler to an action type, replacing any previous binding.
func (r *Registry) Register(t rules.ActionType, h Handler) {
	r.mu.Lock()
	r.handlers[t] = h
	r.mu.Unlock()
}

// Lookup returns the handler for an action type.
func (r *Registry) Lookup(t rules.ActionType) (Handler, bool) {
	r.mu.RLock()
	h, ok := r.handlers[t]
	r.mu.RUnlock()
	return h, ok
}

// NewDefaultRegistry wires the built-in handlers for the three core action
// types over the provided sinks.
func NewDefaultRegistry(ledger sinks.CreditsLedger, badges sinks.BadgeStore, notifier sinks.Notifier) *Registry {
	r := NewRegistry()
	r.Register(rules.ActionAwardBadge, AwardBadgeHandler(badges))
	r.Register(rules.ActionGrantCredits, GrantCreditsHandler(ledger))
	r.Register(rules.ActionSendNotification, SendNotificationHandler(notifier))
	return r
}

// AwardBadgeHandler awards the badge named by the action's badgeId param to
// the event's subject user.
func AwardBadgeHandler(badges sinks.BadgeStore) Handler {
	return HandlerFunc(func(ctx context.Context, ev *event.Event, action rules.Action) error {
		badgeID, err := int64Param(action.Params, "badgeId")
		if err != nil {
			return sinks.Permanent(err)
		}
		_, err = badges.AwardBadge(ctx, ev.Payload.UserID(), badgeID, "automation")
		return err
	})
}

// GrantCreditsHandler grants the action's amount of credits to the event's
// subject user.
func GrantCreditsHandler(ledger sinks.CreditsLedger) Handler {
	return HandlerFunc(func(ctx context.Context, ev *event.Event, action rules.Action) error {
		amount, err := int64Param(action.Params, "amount")
		if err != nil {
			return sinks.Permanent(err)
		}
		reason, _ := action.Params["reason"].(string)
		if reason == "" {
			reason = fmt.Sprintf("automation:%s", ev.Type)
		}
		_, err = ledger.GrantCredits(ctx, ev.Payload.UserID(), amount, reason)
		return err
	})
}

// SendNotificationHandler sends the action's template to the event's subject
// user, passing string params through.
func SendNotificationHandler(notifier sinks.Notifier) Handler {
	return HandlerFunc(func(ctx context.Context, ev *event.Event, action rules.Action) error {
		template, ok := action.Params["template"].(string)
		if !ok || template == "" {
			return sinks.Permanent(fmt.Errorf("action param %q is missing or not a string", "template"))
		}
		params := make(map[string]string)
		for key, value := range action.Params {
			if key == "template" {
				continue
			}
			if s, ok := value.(string); ok {
				params[key] = s
			}
		}
		return notifier.Notify(ctx, ev.Payload.UserID(), template, params)
	})
}

// int64Param reads a numeric action param. Rule JSON decodes numbers as
// float64, so both float64 and integer types are accepted.
func int64Param(params map[string]any, key string) (int64, error) {
	v, ok := params[key]
	if !ok {
		return 0, fmt.Errorf("action param %q is missing", key)
	}
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case float64:
		return int64(n), nil
	default:
		return 0, fmt.Errorf("action param %q is not numeric", key)
	}
}
