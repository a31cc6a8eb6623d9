package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/forumkit/automation/event"
	"github.com/forumkit/automation/rules"
)

// RuleSource is the bus's view of the rule store: the cached store in
// production, a plain store in tests.
type RuleSource interface {
	RulesFor(ctx context.Context, t event.Type) ([]*rules.Rule, error)
}

// BusConfig bounds how long Publish waits for scheduled work.
type BusConfig struct {
	// WaitBudget is the best-effort synchronous wait for action execution
	// to finish. When it elapses, remaining work continues in the
	// background and the caller is not told anything went wrong. Zero
	// means return immediately after scheduling.
	WaitBudget time.Duration
}

// DefaultBusConfig returns the production defaults.
func DefaultBusConfig() BusConfig {
	return BusConfig{WaitBudget: 250 * time.Millisecond}
}

// Result reports what Publish scheduled. It never carries an error: the
// caller's business transaction must not depend on automation health.
type Result struct {
	EventID    string
	Candidates int
	Matched    int
	// Completed reports whether all scheduled work finished inside the
	// wait budget. False is not a failure; execution continues detached.
	Completed bool
}

// Bus is the engine's entry point. Publish looks up candidate rules for the
// event's type, evaluates their conditions, and hands matched rules to the
// executor. Rule evaluation order is deterministic (priority, then ID) and a
// higher-priority rule's actions begin before a lower-priority rule's, but
// rules then execute concurrently.
type Bus struct {
	source   RuleSource
	executor *Executor
	config   BusConfig
	log      *slog.Logger
}

// NewBus creates a bus over the given rule source and executor.
func NewBus(source RuleSource, executor *Executor, config BusConfig, log *slog.Logger) *Bus {
	if log == nil {
		log = slog.Default()
	}
	return &Bus{source: source, executor: executor, config: config, log: log}
}

// Publish evaluates an event against the enabled rules for its type and
// schedules matched rules for execution. It never panics and never returns
// an error; every failure is logged and isolated. Canceling ctx abandons
// only the synchronous wait — scheduled work runs on a detached context to
// terminal success or failure.
func (b *Bus) Publish(ctx context.Context, ev *event.Event) (res Result) {
	res.EventID = ev.ID
	log := b.log.With(slog.String("event_id", ev.ID), slog.String("event_type", string(ev.Type)))

	defer func() {
		if r := recover(); r != nil {
			log.Error("publish panicked", slog.Any("panic", r))
		}
	}()

	candidates, err := b.source.RulesFor(ctx, ev.Type)
	if err != nil {
		log.Error("rule lookup failed", slog.String("error", err.Error()))
		return res
	}
	res.Candidates = len(candidates)
	rules.SortForEvaluation(candidates)

	payload := ev.Payload.Fields()
	var matched []*rules.Rule
	for _, rule := range candidates {
		if b.ruleMatches(rule, payload, log) {
			matched = append(matched, rule)
		}
	}
	res.Matched = len(matched)
	if len(matched) == 0 {
		res.Completed = true
		return res
	}

	// Execution outlives the caller's request.
	execCtx := context.WithoutCancel(ctx)

	var wg sync.WaitGroup
	gate := make(chan struct{})
	close(gate)
	for _, rule := range matched {
		// Each rule signals once its first action attempt is recorded;
		// the next rule waits for that signal, then both run
		// concurrently. Higher priority therefore observably begins
		// first without serializing execution.
		started := make(chan struct{})
		release := sync.OnceFunc(func() { close(started) })
		wg.Add(1)
		go func(rule *rules.Rule, gate chan struct{}, release func()) {
			defer wg.Done()
			defer release()
			defer func() {
				if r := recover(); r != nil {
					log.Error("rule execution panicked",
						slog.Int64("rule_id", rule.ID), slog.Any("panic", r))
				}
			}()
			<-gate
			b.executor.ExecuteWithStart(execCtx, ev, rule, release)
		}(rule, gate, release)
		gate = started
	}

	if b.config.WaitBudget <= 0 {
		return res
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(b.config.WaitBudget)
	defer timer.Stop()
	select {
	case <-done:
		res.Completed = true
	case <-timer.C:
	case <-ctx.Done():
	}
	return res
}

// ruleMatches evaluates one rule's condition with full isolation: a panic or
// diagnostic in one rule must not stop its siblings.
func (b *Bus) ruleMatches(rule *rules.Rule, payload map[string]any, log *slog.Logger) (matched bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("condition evaluation panicked",
				slog.Int64("rule_id", rule.ID), slog.Any("panic", r))
			matched = false
		}
	}()

	res := rules.Evaluate(rule.Condition, payload)
	for _, diag := range res.Diagnostics {
		log.Warn("condition diagnostic",
			slog.Int64("rule_id", rule.ID), slog.String("diagnostic", diag))
	}
	return res.Matched
}
