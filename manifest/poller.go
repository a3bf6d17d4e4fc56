package manifest

import (
	"context"
	"iter"
	"net/url"
	"sync"
	"time"

	"github.com/ytget/ytresolve/client"
	"github.com/ytget/ytresolve/errs"
	"github.com/ytget/ytresolve/internal/logger"
	"github.com/ytget/ytresolve/types"
)

// MinPollInterval is the floor between two playlist fetches.
const MinPollInterval = time.Second

// DefaultHistory is the number of merged segments a Poller keeps.
const DefaultHistory = 256

// Fetcher retrieves playlist documents. *client.Client satisfies it.
type Fetcher interface {
	Get(ctx context.Context, url string) (*client.Response, error)
}

// Poller follows a live media playlist. Each snapshot it yields is the merge
// of what has been seen so far, trimmed to the newest History segments. The
// latest fetched window is always kept whole.
type Poller struct {
	// History caps the merged segment list; zero means DefaultHistory.
	History int

	url   string
	fetch Fetcher
	log   *logger.ComponentLogger

	mu    sync.Mutex
	state *types.ManifestVariant

	sleep func(ctx context.Context, d time.Duration) error
}

// NewPoller creates a poller for the media playlist at playlistURL.
func NewPoller(f Fetcher, playlistURL string) *Poller {
	return &Poller{
		url:   playlistURL,
		fetch: f,
		log:   logger.WithComponent(logger.ComponentManifest),
	}
}

// State returns the merged variant so far, or nil before the first fetch.
func (p *Poller) State() *types.ManifestVariant {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == nil {
		return nil
	}
	return clone(p.state)
}

// Snapshots fetches the playlist, yields the merged snapshot and sleeps half
// the target duration (at least MinPollInterval) before the next fetch. The
// sequence ends when the playlist carries EXT-X-ENDLIST, when the consumer
// stops, or on the first error; context cancellation is yielded as an error.
// Calling Snapshots again continues from the merged state.
func (p *Poller) Snapshots(ctx context.Context) iter.Seq2[*types.ManifestVariant, error] {
	return func(yield func(*types.ManifestVariant, error) bool) {
		for {
			snap, err := p.poll(ctx)
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(snap, nil) {
				return
			}
			if !snap.Live {
				return
			}
			if err := p.wait(ctx, pollInterval(snap.TargetDuration)); err != nil {
				yield(nil, err)
				return
			}
		}
	}
}

func (p *Poller) poll(ctx context.Context) (*types.ManifestVariant, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	resp, err := p.fetch.Get(ctx, p.url)
	if err != nil {
		return nil, err
	}
	base, err := url.Parse(resp.URL)
	if err != nil || resp.URL == "" {
		base, _ = url.Parse(p.url)
	}
	h, err := ParseHLS(resp.Body, base)
	if err != nil {
		return nil, err
	}
	if h.Master {
		return nil, errs.Manifest(errs.CodeParseFailed, "expected a media playlist, got a master playlist", nil)
	}
	next := &h.Variants[0]

	p.mu.Lock()
	merged := Merge(p.state, next)
	if keep := max(p.history(), len(next.Segments)); len(merged.Segments) > keep {
		merged.Segments = merged.Segments[len(merged.Segments)-keep:]
	}
	p.state = merged
	out := clone(merged)
	p.mu.Unlock()

	last, _ := out.LastSequence()
	p.log.Trace("live snapshot", map[string]interface{}{
		"segments": len(out.Segments),
		"last":     last,
		"live":     out.Live,
	})
	return out, nil
}

func (p *Poller) history() int {
	if p.History > 0 {
		return p.History
	}
	return DefaultHistory
}

func (p *Poller) wait(ctx context.Context, d time.Duration) error {
	if p.sleep != nil {
		return p.sleep(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func pollInterval(target time.Duration) time.Duration {
	if d := target / 2; d > MinPollInterval {
		return d
	}
	return MinPollInterval
}
