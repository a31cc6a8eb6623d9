package rules

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/forumkit/automation/event"
)

// exprEnv is the shared CEL environment for expression condition nodes.
// Every payload field name across all event types is declared as a dynamic
// variable, so an expression can reference any field of the event kind its
// rule listens to. Referencing a field absent from the actual payload makes
// the expression fail closed at evaluation time.
var (
	exprEnvOnce sync.Once
	exprEnv     *cel.Env
	exprEnvErr  error

	exprMu       sync.RWMutex
	exprPrograms = make(map[string]cel.Program)
)

func payloadFieldNames() []string {
	seen := make(map[string]struct{})
	var names []string
	for _, t := range event.Types() {
		for name := range samplePayload(t).Fields() {
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			names = append(names, name)
		}
	}
	return names
}

func samplePayload(t event.Type) event.Payload {
	switch t {
	case event.TypeUserLogin:
		return event.UserLogin{}
	case event.TypeCheckin:
		return event.Checkin{}
	case event.TypeDonation:
		return event.Donation{}
	case event.TypePostCreate:
		return event.PostCreate{}
	case event.TypePostLikeGiven:
		return event.PostLikeGiven{}
	case event.TypePostLikeReceived:
		return event.PostLikeReceived{}
	default:
		panic(fmt.Sprintf("unhandled event type %q", t))
	}
}

func celEnv() (*cel.Env, error) {
	exprEnvOnce.Do(func() {
		opts := make([]cel.EnvOption, 0, 24)
		for _, name := range payloadFieldNames() {
			opts = append(opts, cel.Variable(name, cel.DynType))
		}
		exprEnv, exprEnvErr = cel.NewEnv(opts...)
	})
	return exprEnv, exprEnvErr
}

// CompileExpression type-checks a CEL expression condition and caches the
// compiled program for evaluation. It is called at rule-authoring time so a
// bad expression is rejected before the rule is stored, and lazily at
// evaluation time for rules loaded from persistence.
func CompileExpression(expression string) error {
	_, err := compiledProgram(expression)
	return err
}

func compiledProgram(expression string) (cel.Program, error) {
	exprMu.RLock()
	prog, ok := exprPrograms[expression]
	exprMu.RUnlock()
	if ok {
		return prog, nil
	}

	env, err := celEnv()
	if err != nil {
		return nil, fmt.Errorf("cel environment: %w", err)
	}

	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile error: %w", issues.Err())
	}

	// Cost limit keeps a pathological admin-authored expression from
	// consuming unbounded evaluation time.
	prog, err = env.Program(ast, cel.CostLimit(1000000))
	if err != nil {
		return nil, fmt.Errorf("program creation error: %w", err)
	}

	exprMu.Lock()
	exprPrograms[expression] = prog
	exprMu.Unlock()

	return prog, nil
}

func evalExpr(expression string, payload map[string]any, diags *[]string) bool {
	prog, err := compiledProgram(expression)
	if err != nil {
		*diags = append(*diags, fmt.Sprintf("expression %q: %v", expression, err))
		return false
	}

	out, _, err := prog.Eval(payload)
	if err != nil {
		*diags = append(*diags, fmt.Sprintf("expression %q: %v", expression, err))
		return false
	}

	matched, ok := out.Value().(bool)
	if !ok {
		*diags = append(*diags, fmt.Sprintf("expression %q did not evaluate to a boolean", expression))
		return false
	}
	return matched
}
