package sandbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dop251/goja"
)

// GojaEngine runs fragments on goja. Programs are compiled once; every
// evaluation gets a fresh runtime so no state survives a call.
type GojaEngine struct {
	Budget time.Duration
}

type gojaHandle struct {
	prog  *goja.Program
	entry string
}

func (h *gojaHandle) Entry() string { return h.entry }

// Name implements Engine.
func (e *GojaEngine) Name() string { return EngineGoja }

// Compile parses src and checks that running it defines entry as a function.
func (e *GojaEngine) Compile(ctx context.Context, src, entry string) (Handle, error) {
	prog, err := goja.Compile(entry, src, false)
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", entry, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vm, err := e.load(ctx, prog)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", entry, err)
	}
	if _, ok := goja.AssertFunction(vm.Get(entry)); !ok {
		return nil, fmt.Errorf("fragment does not define function %s", entry)
	}
	return &gojaHandle{prog: prog, entry: entry}, nil
}

// load runs the top-level code of prog in a fresh runtime under the budget.
func (e *GojaEngine) load(ctx context.Context, prog *goja.Program) (*goja.Runtime, error) {
	vm := goja.New()
	stop := interruptOn(ctx, budgetOr(e.Budget), func(reason error) { vm.Interrupt(reason) })
	defer stop()
	if _, err := vm.RunProgram(prog); err != nil {
		return nil, interrupted(err)
	}
	vm.ClearInterrupt()
	return vm, nil
}

// Eval calls the entry function of h with input in a fresh runtime.
func (e *GojaEngine) Eval(ctx context.Context, h Handle, input string) (string, error) {
	gh, ok := h.(*gojaHandle)
	if !ok {
		return "", fmt.Errorf("goja: foreign handle %T", h)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	vm := goja.New()
	stop := interruptOn(ctx, budgetOr(e.Budget), func(reason error) { vm.Interrupt(reason) })
	defer stop()

	if _, err := vm.RunProgram(gh.prog); err != nil {
		return "", interrupted(err)
	}
	fn, ok := goja.AssertFunction(vm.Get(gh.entry))
	if !ok {
		return "", fmt.Errorf("function %s not defined", gh.entry)
	}
	res, err := fn(goja.Undefined(), vm.ToValue(input))
	if err != nil {
		return "", interrupted(err)
	}
	out, ok := res.Export().(string)
	if !ok {
		return "", fmt.Errorf("%s returned a non-string value", gh.entry)
	}
	return out, nil
}

// interrupted unwraps the reason passed to Interrupt.
func interrupted(err error) error {
	var ie *goja.InterruptedError
	if errors.As(err, &ie) {
		if reason, ok := ie.Value().(error); ok {
			return reason
		}
	}
	return err
}
