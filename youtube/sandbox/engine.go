package sandbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Engine names accepted by NewEngine.
const (
	EngineGoja = "goja"
	EngineOtto = "otto"
)

// DefaultEvalTimeout bounds a single evaluation, and the top-level code a
// fragment runs when it is loaded.
const DefaultEvalTimeout = 2 * time.Second

// ErrBudgetExceeded is returned when loading or evaluating a fragment runs
// past its time budget.
var ErrBudgetExceeded = errors.New("sandbox: evaluation budget exceeded")

// Handle is a compiled fragment, reusable across evaluations.
type Handle interface {
	Entry() string
}

// Engine compiles and runs cipher fragments. Runtimes get no host objects;
// a fragment can only compute on its string input. Compile runs the
// fragment's top-level code, so it is bounded by ctx and the engine budget
// just like Eval.
type Engine interface {
	Name() string
	Compile(ctx context.Context, src, entry string) (Handle, error)
	Eval(ctx context.Context, h Handle, input string) (string, error)
}

// NewEngine returns the engine called name with the given per-evaluation
// budget. An empty name selects goja.
func NewEngine(name string, budget time.Duration) (Engine, error) {
	if budget <= 0 {
		budget = DefaultEvalTimeout
	}
	switch strings.ToLower(name) {
	case "", EngineGoja:
		return &GojaEngine{Budget: budget}, nil
	case EngineOtto:
		return &OttoEngine{Budget: budget}, nil
	}
	return nil, fmt.Errorf("unknown script engine %q", name)
}

func budgetOr(d time.Duration) time.Duration {
	if d <= 0 {
		return DefaultEvalTimeout
	}
	return d
}

// interruptOn arranges for interrupt to be called when ctx ends or budget
// elapses, whichever comes first. The returned stop func must be called
// once the evaluation is over.
func interruptOn(ctx context.Context, budget time.Duration, interrupt func(reason error)) (stop func()) {
	stopCtx := context.AfterFunc(ctx, func() { interrupt(ctx.Err()) })
	timer := time.AfterFunc(budget, func() { interrupt(ErrBudgetExceeded) })
	return func() {
		stopCtx()
		timer.Stop()
	}
}
