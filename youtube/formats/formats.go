// Package formats turns raw player-response entries into resolved, directly
// fetchable formats and selects among them.
package formats

import (
	"context"
	"errors"
	"net/url"
	"slices"
	"sync"
	"time"

	"github.com/ytget/ytresolve/errs"
	"github.com/ytget/ytresolve/internal/logger"
	"github.com/ytget/ytresolve/internal/metrics"
	"github.com/ytget/ytresolve/internal/mimeext"
	"github.com/ytget/ytresolve/types"
)

const (
	defaultWorkers  = 4
	defaultSigParam = "signature"
)

// Decoder applies the signature and n transforms of one player version.
// *sandbox.Program implements it.
type Decoder interface {
	DecodeSignature(ctx context.Context, s string) (string, error)
	DecodeN(ctx context.Context, n string) (string, error)
}

// ProgramFunc obtains the decoder for a response. Resolve calls it at most
// once, and only when some entry needs a transform.
type ProgramFunc func(ctx context.Context) (Decoder, error)

// Result is the outcome of one resolution.
type Result struct {
	// Formats is deduplicated by itag and ordered combined first, then by
	// bitrate descending, then by itag.
	Formats []types.Format
	// Unresolved counts entries dropped because they could not be resolved.
	Unresolved int
}

// Resolver resolves raw format entries.
type Resolver struct {
	// Workers bounds concurrent entry decoding; defaults to 4.
	Workers int
}

// NewResolver returns a Resolver with default settings.
func NewResolver() *Resolver {
	return &Resolver{Workers: defaultWorkers}
}

var errMalformedCipher = errors.New("malformed signatureCipher")

// lazyProgram calls a ProgramFunc at most once on first use.
type lazyProgram struct {
	fn     ProgramFunc
	once   sync.Once
	called bool
	dec    Decoder
	err    error
}

func (l *lazyProgram) get(ctx context.Context) (Decoder, error) {
	l.once.Do(func() {
		l.called = true
		if l.fn == nil {
			l.err = errs.Cipher(errs.CodePatternNotFound, "no decoder available")
			return
		}
		l.dec, l.err = l.fn(ctx)
	})
	return l.dec, l.err
}

// Resolve resolves every entry of pr. Entries that cannot be resolved are
// dropped and counted; failing to obtain the decoder fails the whole
// resolution, as does every entry failing.
func (r *Resolver) Resolve(ctx context.Context, pr *types.PlayerResponse, program ProgramFunc) (*Result, error) {
	log := logger.WithComponent(logger.ComponentFormat)
	entries := pr.Formats
	if len(entries) == 0 {
		return nil, &errs.Error{Kind: errs.KindResolve, Code: errs.CodeAllFormatsUnresolved, Message: "no format entries", Details: pr.VideoID}
	}

	workers := r.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	lazy := &lazyProgram{fn: program}
	out := make([]types.Format, len(entries))
	failed := make([]error, len(entries))

	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	for i := range entries {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			out[i], failed[i] = resolveEntry(ctx, &entries[i], lazy)
		}(i)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if lazy.called && lazy.err != nil {
		return nil, lazy.err
	}

	resolved := make([]types.Format, 0, len(entries))
	var firstErr error
	unresolved := 0
	for i := range entries {
		if failed[i] != nil {
			unresolved++
			if firstErr == nil {
				firstErr = failed[i]
			}
			log.Debug("format unresolved", map[string]interface{}{
				"video_id": pr.VideoID,
				"itag":     entries[i].Itag,
				"error":    failed[i].Error(),
			})
			continue
		}
		resolved = append(resolved, out[i])
	}
	metrics.Formats.WithLabelValues("resolved").Add(float64(len(resolved)))
	metrics.Formats.WithLabelValues("unresolved").Add(float64(unresolved))

	if len(resolved) == 0 {
		return nil, &errs.Error{
			Kind:    errs.KindResolve,
			Code:    errs.CodeAllFormatsUnresolved,
			Message: "no format could be resolved",
			Details: map[string]any{"video_id": pr.VideoID, "unresolved": unresolved},
			Err:     firstErr,
		}
	}

	formats := Dedupe(resolved)
	Sort(formats)
	return &Result{Formats: formats, Unresolved: unresolved}, nil
}

// resolveEntry builds the format for one entry, applying the signature and
// n transforms when needed.
func resolveEntry(ctx context.Context, e *types.RawFormatEntry, lazy *lazyProgram) (types.Format, error) {
	raw := e.URL
	var sig, sp string
	if e.Ciphered() {
		q, err := url.ParseQuery(e.SignatureCipher)
		if err != nil {
			return types.Format{}, errMalformedCipher
		}
		sig, raw, sp = q.Get("s"), q.Get("url"), q.Get("sp")
		if sig == "" || raw == "" {
			return types.Format{}, errMalformedCipher
		}
		if sp == "" {
			sp = defaultSigParam
		}
	}
	u, err := url.Parse(raw)
	if err != nil {
		return types.Format{}, err
	}
	if u.Scheme == "" || u.Host == "" {
		return types.Format{}, errors.New("format URL is not absolute")
	}

	q := u.Query()
	if sig != "" {
		dec, err := lazy.get(ctx)
		if err != nil {
			return types.Format{}, err
		}
		decoded, err := dec.DecodeSignature(ctx, sig)
		if err != nil {
			return types.Format{}, err
		}
		q.Set(sp, decoded)
	}
	if n := q.Get("n"); n != "" {
		dec, err := lazy.get(ctx)
		if err != nil {
			return types.Format{}, err
		}
		decoded, err := dec.DecodeN(ctx, n)
		if err != nil {
			return types.Format{}, err
		}
		q.Set("n", decoded)
	}

	f := toFormat(e)
	if f.Kind == types.Combined && !f.IsLive && !f.IsHLS && !f.IsDASH && q.Get("ratebypass") == "" {
		q.Set("ratebypass", "yes")
	}
	u.RawQuery = q.Encode()
	f.URL = u.String()
	return f, nil
}

// toFormat copies entry metadata into a Format and derives the rest.
func toFormat(e *types.RawFormatEntry) types.Format {
	ref := e.URL
	if e.Ciphered() {
		if q, err := url.ParseQuery(e.SignatureCipher); err == nil {
			ref = q.Get("url")
		}
	}
	f := types.Format{
		Itag:            e.Itag,
		MimeType:        e.MimeType,
		Container:       mimeext.ExtFromMime(e.MimeType),
		Codecs:          mimeext.Codecs(e.MimeType),
		Bitrate:         e.Bitrate,
		AverageBitrate:  e.AverageBitrate,
		Quality:         e.Quality,
		QualityLabel:    e.QualityLabel,
		Width:           e.Width,
		Height:          e.Height,
		FPS:             e.FPS,
		AudioQuality:    e.AudioQuality,
		AudioSampleRate: e.AudioSampleRate,
		AudioChannels:   e.AudioChannels,
		ContentLength:   e.ContentLength,
		Duration:        time.Duration(e.ApproxDurationMs) * time.Millisecond,
		InitRange:       e.InitRange,
		IndexRange:      e.IndexRange,
		Kind:            kindOf(e),
		IsLive:          isLiveRe.MatchString(ref),
		IsHLS:           isHLSRe.MatchString(ref),
		IsDASH:          isDASHRe.MatchString(ref),
	}
	if f.Height == 0 {
		f.Height = parseHeight(e.QualityLabel)
	}
	return f
}

// Dedupe keeps one format per itag: the one with the most complete
// metadata, the earliest on ties. Order of first appearance is kept.
func Dedupe(formats []types.Format) []types.Format {
	index := make(map[int]int, len(formats))
	out := make([]types.Format, 0, len(formats))
	for _, f := range formats {
		i, seen := index[f.Itag]
		if !seen {
			index[f.Itag] = len(out)
			out = append(out, f)
			continue
		}
		if completeness(f) > completeness(out[i]) {
			out[i] = f
		}
	}
	return out
}

// completeness counts the populated metadata fields of f.
func completeness(f types.Format) int {
	n := 0
	for _, set := range []bool{
		f.MimeType != "",
		len(f.Codecs) > 0,
		f.Bitrate > 0,
		f.AverageBitrate > 0,
		f.QualityLabel != "",
		f.Width > 0,
		f.Height > 0,
		f.FPS > 0,
		f.AudioQuality != "",
		f.AudioSampleRate > 0,
		f.AudioChannels > 0,
		f.ContentLength > 0,
		f.Duration > 0,
		f.InitRange != nil,
		f.IndexRange != nil,
	} {
		if set {
			n++
		}
	}
	return n
}

// Sort orders formats combined first, then by bitrate descending, then by
// itag ascending. The sort is stable.
func Sort(formats []types.Format) {
	slices.SortStableFunc(formats, func(a, b types.Format) int {
		ac, bc := a.Kind == types.Combined, b.Kind == types.Combined
		if ac != bc {
			if ac {
				return -1
			}
			return 1
		}
		if a.Bitrate != b.Bitrate {
			if a.Bitrate > b.Bitrate {
				return -1
			}
			return 1
		}
		return a.Itag - b.Itag
	})
}
