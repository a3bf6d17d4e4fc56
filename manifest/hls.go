// Package manifest parses adaptive streaming manifests (HLS playlists and
// DASH MPDs) into types.ManifestVariant values and reconciles successive
// snapshots of live playlists.
package manifest

import (
	"bytes"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/grafov/m3u8"

	"github.com/ytget/ytresolve/decrypt"
	"github.com/ytget/ytresolve/errs"
	"github.com/ytget/ytresolve/internal/logger"
	"github.com/ytget/ytresolve/internal/metrics"
	"github.com/ytget/ytresolve/internal/mimeext"
	"github.com/ytget/ytresolve/types"
)

// HLS is a parsed playlist. A master playlist yields its variants without
// segments; a media playlist yields exactly one variant with segments.
type HLS struct {
	Master   bool
	Variants []types.ManifestVariant
}

// ParseHLS decodes an m3u8 document. Relative URIs are resolved against base
// when it is non-nil.
func ParseHLS(body []byte, base *url.URL) (*HLS, error) {
	log := logger.WithComponent(logger.ComponentManifest)

	pl, listType, err := m3u8.DecodeFrom(bytes.NewReader(body), false)
	if err != nil {
		metrics.ManifestParses.WithLabelValues("hls", "error").Inc()
		return nil, errs.Manifest(errs.CodeParseFailed, "decode m3u8", err)
	}

	var out *HLS
	switch listType {
	case m3u8.MASTER:
		out, err = fromMaster(pl.(*m3u8.MasterPlaylist), base)
	case m3u8.MEDIA:
		out, err = fromMedia(pl.(*m3u8.MediaPlaylist), base)
	default:
		err = errs.Manifest(errs.CodeParseFailed, "unknown playlist type", nil)
	}
	metrics.ManifestParses.WithLabelValues("hls", metrics.Outcome(err)).Inc()
	if err != nil {
		return nil, err
	}

	log.Debug("parsed hls", map[string]interface{}{
		"master":   out.Master,
		"variants": len(out.Variants),
	})
	return out, nil
}

func fromMaster(master *m3u8.MasterPlaylist, base *url.URL) (*HLS, error) {
	variants := make([]types.ManifestVariant, 0, len(master.Variants))
	for _, v := range master.Variants {
		if v == nil || v.Iframe || v.URI == "" {
			continue
		}
		variants = append(variants, types.ManifestVariant{
			URI:        resolve(base, v.URI),
			Bandwidth:  int(v.Bandwidth),
			Codecs:     v.Codecs,
			Resolution: v.Resolution,
			MimeType:   mimeext.MimeMPEGURL,
		})
	}
	if len(variants) == 0 {
		return nil, errs.Manifest(errs.CodeNoVariants, "master playlist has no variants", nil)
	}
	sort.SliceStable(variants, func(i, j int) bool {
		if variants[i].Bandwidth != variants[j].Bandwidth {
			return variants[i].Bandwidth > variants[j].Bandwidth
		}
		return variants[i].Codecs < variants[j].Codecs
	})
	return &HLS{Master: true, Variants: variants}, nil
}

func fromMedia(media *m3u8.MediaPlaylist, base *url.URL) (*HLS, error) {
	v := types.ManifestVariant{
		TargetDuration: seconds(media.TargetDuration),
		Live:           !media.Closed,
		MimeType:       mimeext.MimeMPEGURL,
	}
	if base != nil {
		v.URI = base.String()
	}
	if media.Map != nil && media.Map.URI != "" {
		v.Init = mapSegment(media.Map, base)
	}

	// The decoder only attaches a key to the segment following EXT-X-KEY;
	// it stays in force until the next one. media.Key is the first key seen
	// anywhere in the list, so it is not used for earlier segments.
	var current *types.KeyRef
	count := int(media.Count())
	for i, seg := range media.Segments {
		if seg == nil || i >= count {
			break
		}
		if seg.Key != nil {
			current = keyRef(seg.Key, base)
		}
		if seg.Map != nil && seg.Map.URI != "" && v.Init == nil {
			v.Init = mapSegment(seg.Map, base)
		}
		s := types.Segment{
			Sequence: media.SeqNo + uint64(i),
			URL:      resolve(base, seg.URI),
			Duration: seconds(seg.Duration),
			Key:      current,
		}
		if seg.Limit > 0 {
			s.Range = &types.ByteRange{Start: seg.Offset, End: seg.Offset + seg.Limit - 1}
		}
		v.Segments = append(v.Segments, s)
	}
	if len(v.Segments) == 0 && !v.Live {
		return nil, errs.Manifest(errs.CodeNoVariants, "media playlist has no segments", nil)
	}
	return &HLS{Variants: []types.ManifestVariant{v}}, nil
}

func mapSegment(m *m3u8.Map, base *url.URL) *types.Segment {
	s := &types.Segment{URL: resolve(base, m.URI)}
	if m.Limit > 0 {
		s.Range = &types.ByteRange{Start: m.Offset, End: m.Offset + m.Limit - 1}
	}
	return s
}

// keyRef converts an EXT-X-KEY tag; METHOD=NONE yields nil.
func keyRef(k *m3u8.Key, base *url.URL) *types.KeyRef {
	if k == nil || k.Method == "" || strings.EqualFold(k.Method, "NONE") {
		return nil
	}
	ref := &types.KeyRef{Method: strings.ToUpper(k.Method), URI: resolve(base, k.URI)}
	if k.IV != "" {
		if iv, err := decrypt.ParseIV(k.IV); err == nil {
			ref.IV = iv
		}
	}
	return ref
}

func seconds(f float64) time.Duration {
	return time.Duration(f * float64(time.Second))
}

func resolve(base *url.URL, ref string) string {
	ref = strings.TrimSpace(ref)
	if base == nil || ref == "" {
		return ref
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(u).String()
}
