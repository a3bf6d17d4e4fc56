package sandbox

import (
	"context"
	"runtime"
)

// semaphore bounds CPU-heavy sandbox work (synthesis, compilation and
// evaluation) across every program of a cache. A nil semaphore does not
// limit.
//
//	release, err := sem.acquire(ctx)
//	if err != nil { return err }
//	defer release()
type semaphore struct {
	slots chan struct{}
}

func newSemaphore(n int) *semaphore {
	if n < 1 {
		n = runtime.GOMAXPROCS(0)
	}
	return &semaphore{slots: make(chan struct{}, n)}
}

func (s *semaphore) acquire(ctx context.Context) (release func(), err error) {
	if s == nil {
		return func() {}, nil
	}
	select {
	case s.slots <- struct{}{}:
		return func() { <-s.slots }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
