package client

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/ytget/ytresolve/errs"
)

var errReadStalled = errors.New("response body stalled")

// stallBody cancels the request when a single Read blocks for longer than
// idle. Time spent by the caller between reads does not count, so a slow
// consumer of a long stream is never cut off. Read errors come back in the
// transport taxonomy.
type stallBody struct {
	rc     io.ReadCloser
	client *Client
	ctx    context.Context // caller context
	cancel context.CancelCauseFunc
	req    context.Context // attempt context
	url    string
	idle   time.Duration
	timer  *time.Timer
}

func newStallBody(c *Client, ctx, req context.Context, cancel context.CancelCauseFunc, rc io.ReadCloser, rawURL string) *stallBody {
	b := &stallBody{rc: rc, client: c, ctx: ctx, req: req, cancel: cancel, url: rawURL, idle: c.Timeout}
	if b.idle > 0 {
		b.timer = time.AfterFunc(b.idle, func() { cancel(errReadStalled) })
		b.timer.Stop()
	}
	return b
}

func (b *stallBody) Read(p []byte) (int, error) {
	if b.timer != nil {
		b.timer.Reset(b.idle)
	}
	n, err := b.rc.Read(p)
	if b.timer != nil {
		b.timer.Stop()
	}
	if err == nil || errors.Is(err, io.EOF) {
		return n, err
	}
	if errors.Is(context.Cause(b.req), errReadStalled) {
		return n, errs.Timeout(b.url, errReadStalled)
	}
	return n, b.client.classify(b.ctx, b.url, err)
}

func (b *stallBody) Close() error {
	if b.timer != nil {
		b.timer.Stop()
	}
	err := b.rc.Close()
	b.cancel(nil)
	return err
}
