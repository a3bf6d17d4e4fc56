// Package sandbox compiles synthesized cipher fragments and runs them in an
// isolated JavaScript runtime.
//
// Two engines implement the Engine interface: goja (the default) and otto.
// Both evaluate each call in a fresh runtime with no host objects and
// interrupt it when the context ends or the per-evaluation budget runs out.
//
// A Program holds the compiled signature and n functions of one player
// version and validates every output before returning it. Programs are
// obtained through a Cache, which builds each player version at most once at
// a time, bounds the number of programs it keeps, and remembers failures for
// a short while:
//
//	cache, _ := sandbox.NewCache(sandbox.Config{})
//	prog, err := cache.Get(ctx, pr.PlayerKey, fetchScript)
//	if err != nil {
//		return err
//	}
//	sig, err := prog.DecodeSignature(ctx, s)
//
// An optional FragmentStore keeps synthesized fragments across restarts.
package sandbox
