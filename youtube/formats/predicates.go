package formats

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/ytget/ytresolve/internal/mimeext"
	"github.com/ytget/ytresolve/types"
)

var (
	heightRe = regexp.MustCompile(`([0-9]{3,4})p`)
	isLiveRe = regexp.MustCompile(`\bsource[/=]yt_live_broadcast\b`)
	isHLSRe  = regexp.MustCompile(`/manifest/hls_(?:variant|playlist)/`)
	isDASHRe = regexp.MustCompile(`/manifest/dash/`)
)

func parseHeight(label string) int {
	m := heightRe.FindStringSubmatch(label)
	if len(m) >= 2 {
		if v, err := strconv.Atoi(m[1]); err == nil {
			return v
		}
	}
	return 0
}

// kindOf classifies an entry by its tracks. A quality label marks video,
// audio quality or sample rate marks audio; the MIME top-level type
// overrides both.
func kindOf(e *types.RawFormatEntry) types.Kind {
	hasVideo := e.QualityLabel != "" || e.Width > 0 || e.Height > 0
	hasAudio := e.AudioQuality != "" || e.AudioSampleRate > 0 || e.AudioChannels > 0
	switch {
	case strings.HasPrefix(mimeext.Base(e.MimeType), "audio/"):
		return types.AudioOnly
	case hasVideo && !hasAudio:
		return types.VideoOnly
	case hasAudio && !hasVideo:
		return types.AudioOnly
	}
	return types.Combined
}

// hasDirectURL returns true when the format already contains a resolvable URL.
func hasDirectURL(format types.Format) bool {
	return strings.TrimSpace(format.URL) != ""
}

// extEquals checks that the container of format equals desiredExt.
// The desiredExt is case-insensitive and may start with a dot.
// If desiredExt is empty, the function returns true (no filtering).
func extEquals(format types.Format, desiredExt string) bool {
	desired := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(desiredExt)), ".")
	if desired == "" {
		return true
	}
	if format.Container == desired {
		return true
	}
	_, sub, _ := strings.Cut(mimeext.Base(format.MimeType), "/")
	return sub == desired
}

// itagEquals checks that format's itag matches the specified itag value.
// Returns false if itag is 0 or negative.
func itagEquals(format types.Format, itag int) bool {
	return itag > 0 && format.Itag == itag
}

// heightOf returns the video height, from the label when no height is set.
func heightOf(format types.Format) int {
	if format.Height > 0 {
		return format.Height
	}
	return parseHeight(format.QualityLabel)
}

// withinHeight checks whether the format's height is within [minHeight, maxHeight].
// A bound of 0 is ignored.
func withinHeight(format types.Format, minHeight int, maxHeight int) bool {
	if minHeight <= 0 && maxHeight <= 0 {
		return true
	}
	h := heightOf(format)
	if minHeight > 0 && h < minHeight {
		return false
	}
	if maxHeight > 0 && h > maxHeight {
		return false
	}
	return true
}

// betterByHeightThenBitrate compares two formats and returns true when candidate is better than current
// using height as primary criterion and bitrate as a tiebreaker.
func betterByHeightThenBitrate(candidate types.Format, current types.Format) bool {
	candidateHeight := heightOf(candidate)
	currentHeight := heightOf(current)
	if candidateHeight != currentHeight {
		return candidateHeight > currentHeight
	}
	return candidate.Bitrate > current.Bitrate
}
