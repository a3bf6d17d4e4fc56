package sandbox

import (
	"context"
	"fmt"
	"time"

	"github.com/robertkrimen/otto"
)

// OttoEngine runs fragments on otto. It is slower than goja and lacks some
// newer syntax, but has no cgo or unsafe dependencies.
type OttoEngine struct {
	Budget time.Duration
}

type ottoHandle struct {
	script *otto.Script
	entry  string
}

func (h *ottoHandle) Entry() string { return h.entry }

// Name implements Engine.
func (e *OttoEngine) Name() string { return EngineOtto }

// Compile parses src and checks that running it defines entry as a function.
func (e *OttoEngine) Compile(ctx context.Context, src, entry string) (Handle, error) {
	vm := otto.New()
	script, err := vm.Compile(entry, src)
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", entry, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	err = e.guarded(ctx, vm, func() error {
		_, err := vm.Run(script)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", entry, err)
	}
	fn, err := vm.Get(entry)
	if err != nil || !fn.IsFunction() {
		return nil, fmt.Errorf("fragment does not define function %s", entry)
	}
	return &ottoHandle{script: script, entry: entry}, nil
}

type ottoHalt struct{ reason error }

// guarded runs fn on vm, halting it when ctx ends or the budget elapses.
func (e *OttoEngine) guarded(ctx context.Context, vm *otto.Otto, fn func() error) (err error) {
	vm.Interrupt = make(chan func(), 1)
	defer func() {
		if caught := recover(); caught != nil {
			halt, ok := caught.(ottoHalt)
			if !ok {
				panic(caught)
			}
			err = halt.reason
		}
	}()
	stop := interruptOn(ctx, budgetOr(e.Budget), func(reason error) {
		select {
		case vm.Interrupt <- func() { panic(ottoHalt{reason}) }:
		default:
		}
	})
	defer stop()
	return fn()
}

// Eval calls the entry function of h with input in a fresh runtime.
func (e *OttoEngine) Eval(ctx context.Context, h Handle, input string) (string, error) {
	oh, ok := h.(*ottoHandle)
	if !ok {
		return "", fmt.Errorf("otto: foreign handle %T", h)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	vm := otto.New()
	var res otto.Value
	err := e.guarded(ctx, vm, func() error {
		if _, err := vm.Run(oh.script); err != nil {
			return err
		}
		var err error
		res, err = vm.Call(oh.entry, nil, input)
		return err
	})
	if err != nil {
		return "", err
	}
	if !res.IsString() {
		return "", fmt.Errorf("%s returned a non-string value", oh.entry)
	}
	return res.String(), nil
}
