package formats

import (
	"errors"
	"slices"
	"strconv"
	"strings"

	"github.com/ytget/ytresolve/types"
)

// Quality picks the end of the ranking Choose takes a format from.
type Quality int

const (
	Highest Quality = iota
	Lowest
	HighestAudio
	LowestAudio
	HighestVideo
	LowestVideo
)

// Filter restricts the tracks a chosen format carries. Live formats pass
// every filter.
type Filter int

const (
	FilterCombined Filter = iota
	FilterAudioOnly
	FilterVideoOnly
	FilterAny
)

// Selection describes which format to choose.
type Selection struct {
	Quality Quality
	Filter  Filter
	// Ext keeps only formats with this container, when any has it.
	Ext string
	// Selector, when set, replaces Quality and Filter with a string
	// selector: itag=NN, best, worst, height<=N or height>=N.
	Selector string
}

// ErrNoMatch is returned when no format satisfies a selection.
var ErrNoMatch = errors.New("no format matches the selection")

var (
	videoEncodingRanks = []string{"mp4v", "avc1", "Sorenson H.283", "MPEG-4 Visual", "VP8", "VP9", "H.264"}
	audioEncodingRanks = []string{"mp4a", "mp3", "vorbis", "aac", "opus", "flac"}
)

// Choose returns the format sel picks from formats.
func Choose(formats []types.Format, sel Selection) (types.Format, error) {
	candidates := filterExt(formats, sel.Ext)
	if len(candidates) == 0 {
		return types.Format{}, ErrNoMatch
	}
	if strings.TrimSpace(sel.Selector) != "" {
		if f := SelectFormat(candidates, sel.Selector, ""); f != nil {
			return *f, nil
		}
		return types.Format{}, ErrNoMatch
	}

	if slices.ContainsFunc(candidates, func(f types.Format) bool { return f.IsHLS }) {
		candidates = slices.DeleteFunc(candidates, func(f types.Format) bool { return f.IsLive && !f.IsHLS })
	}

	var ranked []types.Format
	switch sel.Quality {
	case HighestAudio, LowestAudio:
		ranked = keep(candidates, FilterAudioOnly)
		slices.SortStableFunc(ranked, byKeys(audioBitrate, audioEncodingRank))
	case HighestVideo, LowestVideo:
		ranked = keep(candidates, FilterVideoOnly)
		slices.SortStableFunc(ranked, byKeys(heightOf, bitrate, videoEncodingRank))
	default:
		ranked = keep(candidates, sel.Filter)
		slices.SortStableFunc(ranked, byKeys(
			flag(func(f types.Format) bool { return f.IsHLS }),
			flag(func(f types.Format) bool { return f.IsDASH }),
			flag(func(f types.Format) bool { return f.Kind == types.Combined }),
			flag(types.Format.HasVideo),
			flag(func(f types.Format) bool { return f.ContentLength > 0 }),
			heightOf,
			bitrate,
			audioBitrate,
			videoEncodingRank,
			audioEncodingRank,
		))
	}
	if len(ranked) == 0 {
		return types.Format{}, ErrNoMatch
	}
	switch sel.Quality {
	case Lowest, LowestAudio, LowestVideo:
		return ranked[len(ranked)-1], nil
	}
	return ranked[0], nil
}

func filterExt(formats []types.Format, ext string) []types.Format {
	out := make([]types.Format, 0, len(formats))
	for _, f := range formats {
		if extEquals(f, ext) {
			out = append(out, f)
		}
	}
	if len(out) == 0 {
		return slices.Clone(formats)
	}
	return out
}

func keep(formats []types.Format, filter Filter) []types.Format {
	out := make([]types.Format, 0, len(formats))
	for _, f := range formats {
		ok := f.IsLive
		switch filter {
		case FilterAny:
			ok = true
		case FilterAudioOnly:
			ok = ok || f.Kind == types.AudioOnly
		case FilterVideoOnly:
			ok = ok || f.Kind == types.VideoOnly
		default:
			ok = ok || f.Kind == types.Combined
		}
		if ok {
			out = append(out, f)
		}
	}
	return out
}

// byKeys orders formats by each key in turn, descending.
func byKeys(keys ...func(types.Format) int) func(a, b types.Format) int {
	return func(a, b types.Format) int {
		for _, key := range keys {
			if ka, kb := key(a), key(b); ka != kb {
				if ka > kb {
					return -1
				}
				return 1
			}
		}
		return 0
	}
}

func flag(pred func(types.Format) bool) func(types.Format) int {
	return func(f types.Format) int {
		if pred(f) {
			return 1
		}
		return 0
	}
}

func bitrate(f types.Format) int { return f.Bitrate }

func audioBitrate(f types.Format) int {
	if !f.HasAudio() {
		return 0
	}
	if f.Kind == types.AudioOnly {
		return f.Bitrate
	}
	return f.AudioSampleRate / 1000
}

func videoEncodingRank(f types.Format) int { return encodingRank(f, videoEncodingRanks) }

func audioEncodingRank(f types.Format) int { return encodingRank(f, audioEncodingRanks) }

func encodingRank(f types.Format, ranks []string) int {
	codecs := strings.ToLower(strings.Join(f.Codecs, ", "))
	for i, enc := range ranks {
		if strings.Contains(codecs, strings.ToLower(enc)) {
			return i
		}
	}
	return -1
}

// SelectFormat chooses a format with a string selector:
//   - itag=NN: specific format by itag (e.g., "itag=22")
//   - best: highest quality (height, then bitrate)
//   - worst: lowest quality
//   - height<=NNN: height no more than NNN (e.g., "height<=720")
//   - height>=NNN: height no less than NNN (e.g., "height>=480")
//
// ext, when set, prefers formats with that container. If no selector
// matches, itag 22, then itag 18, then a progressive avc1 mp4, then the
// first format with a URL is returned. It returns nil for an empty list.
func SelectFormat(formats []types.Format, quality, ext string) *types.Format {
	if len(formats) == 0 {
		return nil
	}
	filtered := filterExt(formats, ext)

	q := strings.TrimSpace(strings.ToLower(quality))
	if strings.HasPrefix(q, "itag=") {
		it, err := strconv.Atoi(strings.TrimPrefix(q, "itag="))
		if err == nil {
			for i := range filtered {
				if itagEquals(filtered[i], it) {
					return &filtered[i]
				}
			}
		}
		return nil
	}

	var minH, maxH int
	if v, ok := strings.CutPrefix(q, "height<="); ok {
		maxH, _ = strconv.Atoi(v)
	}
	if v, ok := strings.CutPrefix(q, "height>="); ok {
		minH, _ = strconv.Atoi(v)
	}
	if minH > 0 || maxH > 0 {
		tmp := filtered[:0:0]
		for i := range filtered {
			if withinHeight(filtered[i], minH, maxH) {
				tmp = append(tmp, filtered[i])
			}
		}
		if len(tmp) == 0 {
			return nil
		}
		filtered = tmp
		q = "best"
	}

	if q == "best" || q == "worst" {
		pick := filtered[0]
		for _, f := range filtered[1:] {
			if q == "best" && betterByHeightThenBitrate(f, pick) {
				pick = f
			}
			if q == "worst" && betterByHeightThenBitrate(pick, f) {
				pick = f
			}
		}
		return &pick
	}

	for _, itag := range []int{22, 18} {
		for i := range filtered {
			if filtered[i].Itag == itag {
				return &filtered[i]
			}
		}
	}
	for i := range filtered {
		if filtered[i].Kind == types.Combined && filtered[i].Container == "mp4" && slices.ContainsFunc(filtered[i].Codecs, func(c string) bool {
			return strings.HasPrefix(c, "avc1")
		}) {
			return &filtered[i]
		}
	}
	for i := range filtered {
		if hasDirectURL(filtered[i]) {
			return &filtered[i]
		}
	}
	return &filtered[0]
}
