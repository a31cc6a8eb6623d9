package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/forumkit/automation/event"
	"github.com/forumkit/automation/execution"
	"github.com/forumkit/automation/rules"
	"github.com/forumkit/automation/sinks"
)

// ExecutorConfig bounds action execution.
type ExecutorConfig struct {
	// MaxAttempts is the total number of attempts per action, first try
	// included, before the record is marked FAILED.
	MaxAttempts int

	// InitialBackoff and MaxBackoff bound the exponential retry delay.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// AttemptTimeout bounds a single handler call.
	AttemptTimeout time.Duration
}

// DefaultExecutorConfig returns the production defaults.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		MaxAttempts:    4,
		InitialBackoff: 200 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		AttemptTimeout: 10 * time.Second,
	}
}

func (c ExecutorConfig) withDefaults() ExecutorConfig {
	d := DefaultExecutorConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = d.InitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = d.MaxBackoff
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = d.AttemptTimeout
	}
	return c
}

// Executor runs a matched rule's actions in order, guarded by the execution
// record store so each (event, rule, action) triple takes effect at most
// once. Transient failures retry with exponential backoff inside the attempt
// budget; permanent failures and exhausted budgets leave a terminal FAILED
// record. One action's failure never blocks the rule's remaining actions,
// and one rule's failure never reaches another rule.
type Executor struct {
	registry *Registry
	records  execution.Store
	config   ExecutorConfig
	log      *slog.Logger
}

// NewExecutor creates an executor over the given handler registry and
// execution record store.
func NewExecutor(registry *Registry, records execution.Store, config ExecutorConfig, log *slog.Logger) *Executor {
	if log == nil {
		log = slog.Default()
	}
	return &Executor{
		registry: registry,
		records:  records,
		config:   config.withDefaults(),
		log:      log,
	}
}

// Execute runs every action of a matched rule sequentially. Completion is
// observed through the execution record store, not a return value.
func (x *Executor) Execute(ctx context.Context, ev *event.Event, rule *rules.Rule) {
	x.ExecuteWithStart(ctx, ev, rule, nil)
}

// ExecuteWithStart is Execute with a start hook: onStart fires once the
// rule's first action attempt has been recorded (or once the rule turns out
// to have nothing to do). The bus uses it to guarantee a higher-priority
// rule observably begins before a lower-priority one. onStart must be safe
// to call more than once.
func (x *Executor) ExecuteWithStart(ctx context.Context, ev *event.Event, rule *rules.Rule, onStart func()) {
	if onStart != nil {
		defer onStart()
	}
	for i, action := range rule.Actions {
		key := execution.Key{EventID: ev.ID, RuleID: rule.ID, ActionIndex: i}
		x.executeAction(ctx, ev, rule, action, key, onStart)
	}
}

func (x *Executor) executeAction(ctx context.Context, ev *event.Event, rule *rules.Rule, action rules.Action, key execution.Key, onStart func()) {
	log := x.log.With(
		slog.String("event_id", ev.ID),
		slog.Int64("rule_id", rule.ID),
		slog.Int("action_index", key.ActionIndex),
		slog.String("action_type", string(action.Type)),
	)

	succeeded, err := x.records.HasSucceeded(ctx, key)
	if err != nil {
		log.Error("idempotency check failed", slog.String("error", err.Error()))
		return
	}
	if succeeded {
		log.Debug("action already succeeded, skipping")
		return
	}

	handler, ok := x.registry.Lookup(action.Type)
	if !ok {
		x.finish(ctx, key, execution.StatusFailed, fmt.Sprintf("no handler registered for action type %s", action.Type), log)
		return
	}

	operation := func() error {
		if _, err := x.records.RecordAttempt(ctx, key); err != nil {
			// The record store is down; retrying the whole attempt is
			// the only safe move.
			return fmt.Errorf("failed to record attempt: %w", err)
		}
		if onStart != nil {
			onStart()
		}

		attemptCtx, cancel := context.WithTimeout(ctx, x.config.AttemptTimeout)
		defer cancel()

		err := handler.Handle(attemptCtx, ev, action)
		if err == nil {
			return nil
		}
		if sinks.IsPermanent(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = x.config.InitialBackoff
	policy.MaxInterval = x.config.MaxBackoff
	policy.MaxElapsedTime = 0

	err = backoff.Retry(operation, backoff.WithContext(
		backoff.WithMaxRetries(policy, uint64(x.config.MaxAttempts-1)), ctx))
	if err != nil {
		x.finish(ctx, key, execution.StatusFailed, err.Error(), log)
		return
	}

	won, err := x.records.RecordOutcome(ctx, key, execution.StatusSucceeded, "")
	if err != nil {
		log.Error("failed to record success", slog.String("error", err.Error()))
		return
	}
	if !won {
		log.Debug("another writer already recorded success")
		return
	}
	log.Info("action succeeded")
}

func (x *Executor) finish(ctx context.Context, key execution.Key, status execution.Status, lastErr string, log *slog.Logger) {
	if _, err := x.records.RecordOutcome(ctx, key, status, lastErr); err != nil {
		log.Error("failed to record outcome", slog.String("error", err.Error()))
		return
	}
	log.Warn("action failed permanently", slog.String("error", lastErr))
}
