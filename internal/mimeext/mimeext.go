// Package mimeext maps format MIME types to container extensions and
// splits out the codecs parameter.
package mimeext

import (
	"mime"
	"strings"
)

const (
	// DefaultExt is the extension used when MIME is unknown or empty.
	DefaultExt = "mp4"

	// ExtM4A is the file extension for MP4 audio.
	ExtM4A = "m4a"
	// ExtWebM is the file extension for WebM media.
	ExtWebM = "webm"
	// ExtTS is the file extension for MPEG transport streams (HLS).
	ExtTS = "ts"
	// Ext3GP is the file extension for legacy 3GPP formats.
	Ext3GP = "3gp"

	MimeVideoMP4  = "video/mp4"
	MimeAudioMP4  = "audio/mp4"
	MimeVideoWebM = "video/webm"
	MimeAudioWebM = "audio/webm"
	MimeVideo3GPP = "video/3gpp"
	MimeMPEGURL   = "application/x-mpegurl"
	MimeVideoTS   = "video/mp2t"
)

// Base returns the lower-cased media type without parameters.
func Base(mimeType string) string {
	base := strings.TrimSpace(mimeType)
	if i := strings.IndexByte(base, ';'); i >= 0 {
		base = strings.TrimSpace(base[:i])
	}
	return strings.ToLower(base)
}

// ExtFromMime returns file extension (without dot) for given mime type.
// Falls back to subtype or mp4 if unknown.
func ExtFromMime(mimeType string) string {
	base := Base(mimeType)
	if base == "" {
		return DefaultExt
	}
	switch base {
	case MimeVideoMP4:
		return DefaultExt
	case MimeAudioMP4:
		return ExtM4A
	case MimeVideoWebM, MimeAudioWebM:
		return ExtWebM
	case MimeVideo3GPP:
		return Ext3GP
	case MimeMPEGURL, "application/vnd.apple.mpegurl", MimeVideoTS:
		return ExtTS
	}
	if _, sub, ok := strings.Cut(base, "/"); ok && sub != "" {
		return sub
	}
	return DefaultExt
}

// Codecs returns the entries of the codecs parameter, e.g.
// `video/mp4; codecs="avc1.64001F, mp4a.40.2"` gives [avc1.64001F mp4a.40.2].
func Codecs(mimeType string) []string {
	_, params, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return codecsFallback(mimeType)
	}
	return splitCodecs(params["codecs"])
}

// codecsFallback handles MIME strings that mime.ParseMediaType rejects,
// such as unquoted codec lists with spaces.
func codecsFallback(mimeType string) []string {
	i := strings.Index(strings.ToLower(mimeType), "codecs=")
	if i < 0 {
		return nil
	}
	v := mimeType[i+len("codecs="):]
	if j := strings.IndexByte(v, ';'); j >= 0 {
		v = v[:j]
	}
	return splitCodecs(strings.Trim(strings.TrimSpace(v), `"`))
}

func splitCodecs(v string) []string {
	var out []string
	for _, c := range strings.Split(v, ",") {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	return out
}
