package sandbox

import (
	"context"
	"errors"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ytget/ytresolve/errs"
	"github.com/ytget/ytresolve/internal/metrics"
	"github.com/ytget/ytresolve/types"
	"github.com/ytget/ytresolve/youtube/cipher"
)

const (
	functionSignature = "signature"
	functionN         = "n"

	nExceptionPrefix = "enhanced_except_"

	// nMemoSize bounds the decoded n values kept per program.
	nMemoSize = 256
)

// Program is the compiled signature and n functions of one player version.
// It is safe for concurrent use and never changes once built.
type Program struct {
	Key       types.PlayerVersionKey
	Fragments cipher.Fragments

	engine Engine
	sig    Handle
	n      Handle
	sem    *semaphore

	nMemo *lru.Cache[string, string]
}

// Compile builds a Program from fragments. Loading a fragment is bounded by
// ctx and the engine budget; an overrun is a COMPILE_FAILED cipher error
// while a cancelled ctx returns the context error as is.
func Compile(ctx context.Context, e Engine, key types.PlayerVersionKey, frags *cipher.Fragments) (*Program, error) {
	if frags == nil {
		return nil, errs.Cipher(errs.CodeCompileFailed, "no fragments", string(key))
	}
	sig, err := e.Compile(ctx, frags.Signature.Source, frags.Signature.Entry)
	if err != nil {
		return nil, compileFailure(ctx, e, key, functionSignature, err)
	}
	n, err := e.Compile(ctx, frags.N.Source, frags.N.Entry)
	if err != nil {
		return nil, compileFailure(ctx, e, key, functionN, err)
	}
	memo, err := lru.New[string, string](nMemoSize)
	if err != nil {
		return nil, err
	}
	metrics.Compiles.WithLabelValues(e.Name(), "ok").Inc()
	return &Program{
		Key:       key,
		Fragments: *frags,
		engine:    e,
		sig:       sig,
		n:         n,
		nMemo:     memo,
	}, nil
}

func compileFailure(ctx context.Context, e Engine, key types.PlayerVersionKey, function string, err error) error {
	metrics.Compiles.WithLabelValues(e.Name(), "error").Inc()
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		return err
	}
	return compileError(key, function, err)
}

func compileError(key types.PlayerVersionKey, function string, cause error) error {
	e := errs.Cipher(errs.CodeCompileFailed, function+" fragment does not compile", map[string]string{
		"key":      string(key),
		"function": function,
	})
	e.Err = cause
	return e
}

// Engine returns the name of the engine the program runs on.
func (p *Program) Engine() string { return p.engine.Name() }

// DecodeSignature applies the signature transform to s.
func (p *Program) DecodeSignature(ctx context.Context, s string) (string, error) {
	out, err := p.eval(ctx, p.sig, functionSignature, s)
	if err != nil {
		return "", err
	}
	if err := validate(s, out, false); err != nil {
		metrics.Evals.WithLabelValues(functionSignature, "invalid").Inc()
		return "", p.evalError(functionSignature, err)
	}
	return out, nil
}

// DecodeN applies the throttling transform to n. Results are memoised per
// program since the same n repeats across formats.
func (p *Program) DecodeN(ctx context.Context, n string) (string, error) {
	if out, ok := p.nMemo.Get(n); ok {
		return out, nil
	}

	out, err := p.eval(ctx, p.n, functionN, n)
	if err != nil {
		return "", err
	}
	if err := validate(n, out, true); err != nil {
		metrics.Evals.WithLabelValues(functionN, "invalid").Inc()
		return "", p.evalError(functionN, err)
	}

	p.nMemo.Add(n, out)
	return out, nil
}

func (p *Program) eval(ctx context.Context, h Handle, function, input string) (string, error) {
	release, err := p.sem.acquire(ctx)
	if err != nil {
		return "", err
	}
	defer release()

	out, err := p.engine.Eval(ctx, h, input)
	if err != nil {
		metrics.Evals.WithLabelValues(function, "error").Inc()
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return "", err
		}
		return "", p.evalError(function, err)
	}
	metrics.Evals.WithLabelValues(function, "ok").Inc()
	return out, nil
}

func (p *Program) evalError(function string, cause error) error {
	e := errs.Cipher(errs.CodeEvalFailed, function+" transform failed", map[string]string{
		"key":      string(p.Key),
		"function": function,
	})
	e.Err = cause
	return e
}

var errEmptyOutput = errors.New("empty output")

type invalidOutput string

func (e invalidOutput) Error() string { return string(e) }

// validate rejects outputs that cannot be a decoded signature or n value.
func validate(input, output string, isN bool) error {
	if output == "" {
		return errEmptyOutput
	}
	if len(output) > 4*len(input)+32 {
		return invalidOutput("output too long")
	}
	for i := 0; i < len(output); i++ {
		if !validByte(output[i]) {
			return invalidOutput("unexpected character in output")
		}
	}
	if isN {
		if strings.HasPrefix(output, nExceptionPrefix) {
			return invalidOutput("n transform raised an exception")
		}
		if len(input) >= 8 && output == input {
			return invalidOutput("n transform returned its input")
		}
	}
	return nil
}

func validByte(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	}
	return strings.IndexByte("_-=.%~", c) >= 0
}
