// Package types holds the data model shared by the extractor, the format
// resolver, the manifest parser and the streaming layer. Values are built
// once and never mutated afterwards.
package types

import (
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"
)

// VideoDetails describes the video a PlayerResponse belongs to.
type VideoDetails struct {
	ID            string
	Title         string
	Author        string
	ChannelID     string
	Description   string
	LengthSeconds int
	ViewCount     int64
	Keywords      []string
	IsLive        bool
	IsLiveContent bool
}

// Playability is the upstream verdict on whether the video can be played.
type Playability struct {
	Status string
	Reason string
}

// Playable reports an OK status.
func (p Playability) Playable() bool {
	return p.Status == "" || p.Status == "OK"
}

// PlayerResponse is the parsed player configuration of one video.
type PlayerResponse struct {
	VideoID     string
	Details     VideoDetails
	Playability Playability
	// Formats lists progressive formats first, then adaptive ones, in
	// upstream order.
	Formats         []RawFormatEntry
	PlayerURL       string
	PlayerKey       PlayerVersionKey
	HLSManifestURL  string
	DASHManifestURL string
	// ExpiresIn is the upstream hint for how long format URLs stay valid.
	ExpiresIn time.Duration
}

// ByteRange is an inclusive byte interval.
type ByteRange struct {
	Start int64
	End   int64
}

// Len returns the number of bytes covered.
func (r ByteRange) Len() int64 { return r.End - r.Start + 1 }

// Header renders the range as an HTTP Range header value.
func (r ByteRange) Header() string { return fmt.Sprintf("bytes=%d-%d", r.Start, r.End) }

// RawFormatEntry is one format as described by the player response, before
// any signature or n transform. Exactly one of URL and SignatureCipher is set.
type RawFormatEntry struct {
	Itag             int
	MimeType         string
	Bitrate          int
	AverageBitrate   int
	Quality          string
	QualityLabel     string
	Width            int
	Height           int
	FPS              int
	AudioQuality     string
	AudioSampleRate  int
	AudioChannels    int
	ContentLength    int64
	ApproxDurationMs int64
	URL              string
	SignatureCipher  string
	// NeedsN is set when the URL carries an n parameter that must be decoded.
	NeedsN     bool
	InitRange  *ByteRange
	IndexRange *ByteRange
}

// Ciphered reports whether the entry needs a signature decode.
func (e RawFormatEntry) Ciphered() bool { return e.SignatureCipher != "" }

// PlayerVersionKey identifies one player script build. Compiled decode
// programs are cached by it.
type PlayerVersionKey string

// String implements fmt.Stringer.
func (k PlayerVersionKey) String() string { return string(k) }

// VersionKeyFromURL derives the key from a player script URL: the
// /s/player/<id>/ component when present, otherwise the cleaned URL path.
func VersionKeyFromURL(raw string) PlayerVersionKey {
	if raw == "" {
		return ""
	}
	p := raw
	if u, err := url.Parse(raw); err == nil {
		p = u.Path
	}
	const marker = "/s/player/"
	if i := strings.Index(p, marker); i >= 0 {
		rest := p[i+len(marker):]
		if j := strings.IndexByte(rest, '/'); j > 0 {
			return PlayerVersionKey(rest[:j])
		}
	}
	return PlayerVersionKey(path.Clean("/" + p))
}

// Kind classifies a format by its tracks.
type Kind int

const (
	Combined Kind = iota
	VideoOnly
	AudioOnly
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case Combined:
		return "combined"
	case VideoOnly:
		return "video"
	case AudioOnly:
		return "audio"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Format is a resolved, directly fetchable format.
type Format struct {
	Itag            int
	URL             string
	MimeType        string
	Container       string
	Codecs          []string
	Bitrate         int
	AverageBitrate  int
	Quality         string
	QualityLabel    string
	Width           int
	Height          int
	FPS             int
	AudioQuality    string
	AudioSampleRate int
	AudioChannels   int
	ContentLength   int64
	Duration        time.Duration
	Kind            Kind
	InitRange       *ByteRange
	IndexRange      *ByteRange
	IsLive          bool
	IsHLS           bool
	IsDASH          bool
}

// HasVideo reports whether the format carries a video track.
func (f Format) HasVideo() bool { return f.Kind != AudioOnly }

// HasAudio reports whether the format carries an audio track.
func (f Format) HasAudio() bool { return f.Kind != VideoOnly }

// KeyRef points at the key protecting a run of segments.
type KeyRef struct {
	Method string
	URI    string
	// IV is nil when the playlist gives none and the sequence number applies.
	IV []byte
}

// Encrypted reports whether segments under this key need decryption.
func (k *KeyRef) Encrypted() bool {
	return k != nil && k.Method != "" && !strings.EqualFold(k.Method, "NONE")
}

// Segment is one media segment of a variant.
type Segment struct {
	Sequence uint64
	URL      string
	Range    *ByteRange
	Duration time.Duration
	Key      *KeyRef
}

// ManifestVariant is one rendition of an adaptive manifest.
type ManifestVariant struct {
	URI            string
	Bandwidth      int
	Codecs         string
	Resolution     string
	MimeType       string
	TargetDuration time.Duration
	Live           bool
	// Init is the initialisation segment (EXT-X-MAP or DASH Initialization).
	Init     *Segment
	Segments []Segment
}

// LastSequence returns the highest sequence number, or false when empty.
func (v *ManifestVariant) LastSequence() (uint64, bool) {
	if v == nil || len(v.Segments) == 0 {
		return 0, false
	}
	return v.Segments[len(v.Segments)-1].Sequence, true
}
