package stream

import (
	"context"
	"iter"
	"net/http"
	"net/url"
	"sort"

	"github.com/ytget/ytresolve/client"
	"github.com/ytget/ytresolve/decrypt"
	"github.com/ytget/ytresolve/errs"
	"github.com/ytget/ytresolve/manifest"
	"github.com/ytget/ytresolve/types"
)

// HLS yields the decrypted segments of the playlist at playlistURL. A master
// playlist is narrowed to its highest-bandwidth variant. The init segment,
// when declared, comes first. An open live playlist is followed until it
// ends or ctx is cancelled; only segments not yet delivered are yielded.
func (s *Streamer) HLS(ctx context.Context, playlistURL string) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		media, mediaURL, err := s.mediaPlaylist(ctx, playlistURL)
		if err != nil {
			yield(nil, err)
			return
		}
		t := &tracker{}
		st := &segmentState{}
		if !media.Live {
			s.segments(ctx, t, st, media, yield)
			return
		}

		s.log.Info("following live playlist", map[string]interface{}{"url": mediaURL})
		p := manifest.NewPoller(s.http, mediaURL)
		for snap, err := range p.Snapshots(ctx) {
			if err != nil {
				yield(nil, err)
				return
			}
			if !s.segments(ctx, t, st, snap, yield) {
				return
			}
		}
	}
}

// segmentState remembers what a stream has delivered across snapshots.
type segmentState struct {
	initDone bool
	started  bool
	last     uint64
}

// segments yields the segments of v after st.last. It returns false once
// the stream must stop.
func (s *Streamer) segments(ctx context.Context, t *tracker, st *segmentState, v *types.ManifestVariant, yield func([]byte, error) bool) bool {
	if v.Init != nil && !st.initDone {
		seq := uint64(0)
		if len(v.Segments) > 0 {
			seq = v.Segments[0].Sequence
		}
		data, err := s.segment(ctx, v.Init, seq)
		if err != nil {
			yield(nil, err)
			return false
		}
		st.initDone = true
		if !s.emit(ctx, t, data, yield) {
			return false
		}
	}
	start := 0
	if st.started {
		start = sort.Search(len(v.Segments), func(i int) bool { return v.Segments[i].Sequence > st.last })
	}
	for i := start; i < len(v.Segments); i++ {
		seg := &v.Segments[i]
		data, err := s.segment(ctx, seg, seg.Sequence)
		if err != nil {
			yield(nil, err)
			return false
		}
		st.started, st.last = true, seg.Sequence
		if !s.emit(ctx, t, data, yield) {
			return false
		}
	}
	return true
}

// segment fetches one segment and decrypts it when its key requires.
func (s *Streamer) segment(ctx context.Context, seg *types.Segment, seq uint64) ([]byte, error) {
	h := mediaHeader()
	if seg.Range != nil {
		h.Set(headerRange, seg.Range.Header())
	}
	resp, err := s.http.Fetch(ctx, &client.Request{Method: http.MethodGet, URL: seg.URL, Header: h})
	if err != nil {
		return nil, err
	}
	c, err := s.keys.ContextFor(ctx, seg.Key, seq)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return resp.Body, nil
	}
	return decrypt.Decrypt(*c, resp.Body)
}

// mediaPlaylist fetches playlistURL and, for a master playlist, the media
// playlist of its first variant.
func (s *Streamer) mediaPlaylist(ctx context.Context, playlistURL string) (*types.ManifestVariant, string, error) {
	target := playlistURL
	for depth := 0; depth < 2; depth++ {
		h, final, err := s.fetchHLS(ctx, target)
		if err != nil {
			return nil, "", err
		}
		if !h.Master {
			return &h.Variants[0], final, nil
		}
		v := h.Variants[0]
		s.log.Debug("selected variant", map[string]interface{}{
			"bandwidth":  v.Bandwidth,
			"resolution": v.Resolution,
			"codecs":     v.Codecs,
		})
		target = v.URI
	}
	return nil, "", errs.Manifest(errs.CodeParseFailed, "variant playlist is a master playlist", nil)
}

func (s *Streamer) fetchHLS(ctx context.Context, rawURL string) (*manifest.HLS, string, error) {
	resp, err := s.http.Get(ctx, rawURL)
	if err != nil {
		return nil, "", err
	}
	final := resp.URL
	if final == "" {
		final = rawURL
	}
	base, _ := url.Parse(final)
	h, err := manifest.ParseHLS(resp.Body, base)
	if err != nil {
		return nil, "", err
	}
	return h, final, nil
}
