package formats

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/ytget/ytresolve/types"
)

var variantItagRe = regexp.MustCompile(`/itag/(\d+)/`)

// FromVariants turns the variants of an HLS master playlist into raw
// entries so they resolve alongside the player-response formats. The itag
// comes from the /itag/NN/ path element; variants without one are skipped.
func FromVariants(variants []types.ManifestVariant) []types.RawFormatEntry {
	out := make([]types.RawFormatEntry, 0, len(variants))
	for _, v := range variants {
		m := variantItagRe.FindStringSubmatch(v.URI)
		if m == nil {
			continue
		}
		itag, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		e := types.RawFormatEntry{
			Itag:     itag,
			MimeType: variantMime(v),
			Bitrate:  v.Bandwidth,
			URL:      v.URI,
		}
		if w, h, ok := parseResolution(v.Resolution); ok {
			e.Width, e.Height = w, h
			e.QualityLabel = strconv.Itoa(h) + "p"
		}
		if strings.Contains(v.Codecs, "mp4a") {
			e.AudioQuality = "AUDIO_QUALITY_MEDIUM"
		}
		out = append(out, e)
	}
	return out
}

func variantMime(v types.ManifestVariant) string {
	if v.MimeType != "" && strings.Contains(v.MimeType, "codecs=") {
		return v.MimeType
	}
	mime := v.MimeType
	if mime == "" {
		mime = "video/mp4"
	}
	if v.Codecs == "" {
		return mime
	}
	return mime + `; codecs="` + v.Codecs + `"`
}

func parseResolution(s string) (w, h int, ok bool) {
	ws, hs, found := strings.Cut(s, "x")
	if !found {
		return 0, 0, false
	}
	w, err1 := strconv.Atoi(ws)
	h, err2 := strconv.Atoi(hs)
	if err1 != nil || err2 != nil || h <= 0 {
		return 0, 0, false
	}
	return w, h, true
}
