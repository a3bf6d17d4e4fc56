// Package stream delivers the bytes of a resolved format as a lazy sequence
// of chunks: ranged requests for progressive and adaptive URLs, decrypted
// segments for HLS playlists, followed live when the playlist is open.
package stream

import (
	"context"
	"errors"
	"io"
	"iter"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/ytget/ytresolve/client"
	"github.com/ytget/ytresolve/decrypt"
	"github.com/ytget/ytresolve/errs"
	"github.com/ytget/ytresolve/internal/logger"
	"github.com/ytget/ytresolve/internal/metrics"
	"github.com/ytget/ytresolve/types"
)

const (
	// DefaultChunkSize is the size of one ranged request.
	DefaultChunkSize = 1 << 20 // 1MB

	headerRange         = "Range"
	headerContentRange  = "Content-Range"
	headerContentLength = "Content-Length"
	headerAccept        = "Accept"
	headerAcceptEnc     = "Accept-Encoding"
)

// Progress holds information about stream progress.
type Progress struct {
	TotalSize      int64
	DownloadedSize int64
	Percent        float64
}

// Config tunes a Streamer. Zero values select defaults.
type Config struct {
	// ChunkSize is the byte length of one ranged request.
	ChunkSize int64
	// RateLimit caps delivered bytes per second; 0 disables limiting.
	RateLimit int64
	// KeyTTL bounds how long HLS keys are reused.
	KeyTTL time.Duration
	// Progress, when set, is called after every chunk.
	Progress func(Progress)
}

// Streamer fetches media bytes through a client.Client.
type Streamer struct {
	http      *client.Client
	keys      *decrypt.Keyring
	chunkSize int64
	limiter   *rate.Limiter
	progress  func(Progress)
	log       *logger.ComponentLogger
}

// New creates a Streamer on top of c. A nil c uses client.New().
func New(c *client.Client, cfg Config) *Streamer {
	if c == nil {
		c = client.New()
	}
	chunk := cfg.ChunkSize
	if chunk <= 0 {
		chunk = DefaultChunkSize
	}
	s := &Streamer{
		http:      c,
		keys:      decrypt.NewKeyring(c, cfg.KeyTTL),
		chunkSize: chunk,
		progress:  cfg.Progress,
		log:       logger.WithComponent(logger.ComponentStream),
	}
	if cfg.RateLimit > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), int(chunk))
	}
	return s
}

// Stream yields the bytes of f. HLS formats are read segment by segment;
// everything else is read in ranged chunks. The sequence stops at the first
// error, which is yielded.
func (s *Streamer) Stream(ctx context.Context, f types.Format) iter.Seq2[[]byte, error] {
	if f.IsHLS {
		return s.HLS(ctx, f.URL)
	}
	return s.Ranged(ctx, f.URL, f.ContentLength)
}

// tracker accumulates progress for one stream.
type tracker struct {
	total, done int64
}

func (s *Streamer) emit(ctx context.Context, t *tracker, data []byte, yield func([]byte, error) bool) bool {
	if err := s.throttle(ctx, len(data)); err != nil {
		yield(nil, err)
		return false
	}
	t.done += int64(len(data))
	metrics.StreamBytes.Add(float64(len(data)))
	if s.progress != nil {
		p := Progress{TotalSize: t.total, DownloadedSize: t.done}
		if t.total > 0 {
			p.Percent = float64(t.done) / float64(t.total) * 100
		}
		s.progress(p)
	}
	return yield(data, nil)
}

// throttle waits until n bytes may be delivered.
func (s *Streamer) throttle(ctx context.Context, n int) error {
	if s.limiter == nil {
		return nil
	}
	burst := s.limiter.Burst()
	for n > 0 {
		step := min(n, burst)
		if err := s.limiter.WaitN(ctx, step); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return err
		}
		n -= step
	}
	return nil
}

// Ranged yields the resource at rawURL in chunks of the configured size.
// A size of 0 is looked up first; when it stays unknown the resource is read
// in one request.
func (s *Streamer) Ranged(ctx context.Context, rawURL string, size int64) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		total := size
		if total <= 0 {
			n, err := s.totalSize(ctx, rawURL)
			if err != nil {
				if ctx.Err() != nil {
					yield(nil, ctx.Err())
					return
				}
				s.log.Debug("size unknown", map[string]interface{}{"error": err.Error()})
			}
			total = n
		}
		t := &tracker{total: total}
		if total <= 0 {
			resp, err := s.http.Do(ctx, &client.Request{Method: http.MethodGet, URL: rawURL, Header: mediaHeader()})
			if err != nil {
				yield(nil, err)
				return
			}
			defer resp.Body.Close()
			s.pipe(ctx, t, rawURL, resp.Body, yield)
			return
		}

		var off int64
		for off < total {
			end := min(off+s.chunkSize, total) - 1
			h := mediaHeader()
			h.Set(headerRange, types.ByteRange{Start: off, End: end}.Header())
			resp, err := s.http.Do(ctx, &client.Request{Method: http.MethodGet, URL: rawURL, Header: h})
			if err != nil {
				yield(nil, err)
				return
			}
			if resp.StatusCode != http.StatusPartialContent {
				// The range was ignored and the body is the whole resource.
				s.log.Debug("range ignored", map[string]interface{}{"status": resp.StatusCode, "offset": off})
				if _, err := io.CopyN(io.Discard, resp.Body, off); err != nil {
					resp.Body.Close()
					yield(nil, readError(ctx, rawURL, err))
					return
				}
				s.pipe(ctx, t, rawURL, resp.Body, yield)
				resp.Body.Close()
				return
			}
			data, err := io.ReadAll(io.LimitReader(resp.Body, end-off+1))
			resp.Body.Close()
			if err != nil {
				yield(nil, readError(ctx, rawURL, err))
				return
			}
			if len(data) == 0 {
				yield(nil, errs.Network(rawURL, io.ErrUnexpectedEOF))
				return
			}
			off += int64(len(data))
			if !s.emit(ctx, t, data, yield) {
				return
			}
		}
	}
}

// pipe yields body in chunks until EOF.
func (s *Streamer) pipe(ctx context.Context, t *tracker, rawURL string, body io.Reader, yield func([]byte, error) bool) {
	for {
		buf := make([]byte, s.chunkSize)
		n, err := io.ReadFull(body, buf)
		if n > 0 && !s.emit(ctx, t, buf[:n], yield) {
			return
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return
		}
		if err != nil {
			yield(nil, readError(ctx, rawURL, err))
			return
		}
	}
}

// readError keeps body errors the client already classified, so a stalled
// read stays a TIMEOUT.
func readError(ctx context.Context, rawURL string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	var classified *errs.Error
	if errors.As(err, &classified) {
		return err
	}
	return errs.Network(rawURL, err)
}

// totalSize asks for the first two bytes and reads the total size from
// Content-Range, falling back to Content-Length of a full response.
func (s *Streamer) totalSize(ctx context.Context, rawURL string) (int64, error) {
	h := mediaHeader()
	h.Set(headerRange, "bytes=0-1")
	resp, err := s.http.Do(ctx, &client.Request{Method: http.MethodGet, URL: rawURL, Header: h})
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if cr := resp.Header.Get(headerContentRange); cr != "" {
		if _, total, ok := strings.Cut(cr, "/"); ok {
			if v, err := strconv.ParseInt(total, 10, 64); err == nil {
				return v, nil
			}
		}
	}
	if resp.StatusCode == http.StatusOK {
		if cl := resp.Header.Get(headerContentLength); cl != "" {
			if v, err := strconv.ParseInt(cl, 10, 64); err == nil {
				return v, nil
			}
		}
	}
	return 0, errors.New("cannot determine total size")
}

func mediaHeader() http.Header {
	return http.Header{
		headerAccept:    {"*/*"},
		headerAcceptEnc: {"identity"},
	}
}
