package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/ytget/ytresolve/errs"
)

const masterPlaylist = `#EXTM3U
#EXT-X-INDEPENDENT-SEGMENTS
#EXT-X-STREAM-INF:BANDWIDTH=1280000,CODECS="avc1.4d401f,mp4a.40.2",RESOLUTION=1280x720
/api/manifest/hls_playlist/itag/95/index.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=2560000,CODECS="avc1.640028,mp4a.40.2",RESOLUTION=1920x1080
https://cdn.example.com/itag/96/index.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=1280000,CODECS="avc1.4d401e,mp4a.40.2",RESOLUTION=1280x720
rel/itag/94/index.m3u8
`

const encryptedMedia = `#EXTM3U
#EXT-X-VERSION:3
#EXT-X-TARGETDURATION:6
#EXT-X-MEDIA-SEQUENCE:100
#EXTINF:6.0,
clear.ts
#EXT-X-KEY:METHOD=AES-128,URI="key1.bin",IV=0x00000000000000000000000000000001
#EXTINF:6.0,
seg101.ts
#EXTINF:6.0,
seg102.ts
#EXT-X-KEY:METHOD=AES-128,URI="https://keys.example.com/key2.bin"
#EXTINF:5.5,
seg103.ts
#EXT-X-KEY:METHOD=NONE
#EXTINF:6.0,
seg104.ts
#EXT-X-ENDLIST
`

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatal(err)
	}
	return u
}

func TestParseHLSMaster(t *testing.T) {
	h, err := ParseHLS([]byte(masterPlaylist), mustURL(t, "https://manifest.example.com/api/manifest/hls_variant/id/x/file/index.m3u8"))
	if err != nil {
		t.Fatalf("ParseHLS: %v", err)
	}
	if !h.Master {
		t.Fatal("expected master playlist")
	}
	want := []struct {
		uri       string
		bandwidth int
	}{
		{"https://cdn.example.com/itag/96/index.m3u8", 2560000},
		{"https://manifest.example.com/api/manifest/hls_variant/id/x/file/rel/itag/94/index.m3u8", 1280000},
		{"https://manifest.example.com/api/manifest/hls_playlist/itag/95/index.m3u8", 1280000},
	}
	if len(h.Variants) != len(want) {
		t.Fatalf("variants = %d, want %d", len(h.Variants), len(want))
	}
	for i, w := range want {
		v := h.Variants[i]
		if v.URI != w.uri || v.Bandwidth != w.bandwidth {
			t.Errorf("variant %d = %s @%d, want %s @%d", i, v.URI, v.Bandwidth, w.uri, w.bandwidth)
		}
		if len(v.Segments) != 0 {
			t.Errorf("master variants carry no segments")
		}
	}
	if h.Variants[0].Resolution != "1920x1080" || !strings.HasPrefix(h.Variants[0].Codecs, "avc1.640028") {
		t.Errorf("variant metadata = %+v", h.Variants[0])
	}
}

func TestParseHLSMediaKeys(t *testing.T) {
	h, err := ParseHLS([]byte(encryptedMedia), mustURL(t, "https://media.example.com/live/index.m3u8"))
	if err != nil {
		t.Fatalf("ParseHLS: %v", err)
	}
	if h.Master || len(h.Variants) != 1 {
		t.Fatalf("expected one media variant, got %+v", h)
	}
	v := h.Variants[0]
	if v.Live {
		t.Error("ENDLIST playlist is not live")
	}
	if v.TargetDuration != 6*time.Second {
		t.Errorf("target duration = %v", v.TargetDuration)
	}
	if len(v.Segments) != 5 {
		t.Fatalf("segments = %d, want 5", len(v.Segments))
	}
	for i, s := range v.Segments {
		if s.Sequence != uint64(100+i) {
			t.Errorf("segment %d sequence = %d", i, s.Sequence)
		}
	}

	segs := v.Segments
	if segs[0].Key != nil {
		t.Error("segment before the first key tag is clear")
	}
	if segs[1].Key == nil || segs[1].Key.URI != "https://media.example.com/live/key1.bin" {
		t.Fatalf("segment 101 key = %+v", segs[1].Key)
	}
	if !bytes.Equal(segs[1].Key.IV, append(make([]byte, 15), 1)) {
		t.Errorf("explicit IV = %x", segs[1].Key.IV)
	}
	if segs[2].Key == nil || segs[2].Key.URI != segs[1].Key.URI {
		t.Error("key must carry forward to the next segment")
	}
	if segs[3].Key == nil || segs[3].Key.URI != "https://keys.example.com/key2.bin" || segs[3].Key.IV != nil {
		t.Errorf("rotated key = %+v", segs[3].Key)
	}
	if segs[3].Duration != 5500*time.Millisecond {
		t.Errorf("duration = %v", segs[3].Duration)
	}
	if segs[4].Key != nil {
		t.Error("METHOD=NONE must clear the key")
	}
	if segs[4].URL != "https://media.example.com/live/seg104.ts" {
		t.Errorf("relative URI resolved to %q", segs[4].URL)
	}
}

func TestParseHLSByteRange(t *testing.T) {
	body := `#EXTM3U
#EXT-X-VERSION:4
#EXT-X-TARGETDURATION:10
#EXTINF:10.0,
#EXT-X-BYTERANGE:1000@0
media.mp4
#EXTINF:10.0,
#EXT-X-BYTERANGE:2000@1000
media.mp4
#EXT-X-ENDLIST
`
	h, err := ParseHLS([]byte(body), nil)
	if err != nil {
		t.Fatalf("ParseHLS: %v", err)
	}
	segs := h.Variants[0].Segments
	if len(segs) != 2 {
		t.Fatalf("segments = %d", len(segs))
	}
	if segs[0].Range == nil || segs[0].Range.Start != 0 || segs[0].Range.End != 999 {
		t.Errorf("range 0 = %+v", segs[0].Range)
	}
	if segs[1].Range == nil || segs[1].Range.Start != 1000 || segs[1].Range.End != 2999 {
		t.Errorf("range 1 = %+v", segs[1].Range)
	}
	if segs[0].URL != "media.mp4" {
		t.Errorf("without a base URIs stay relative, got %q", segs[0].URL)
	}
}

func TestParseHLSLive(t *testing.T) {
	h, err := ParseHLS([]byte(livePlaylist(10, 15, false)), nil)
	if err != nil {
		t.Fatalf("ParseHLS: %v", err)
	}
	v := h.Variants[0]
	if !v.Live {
		t.Error("playlist without ENDLIST is live")
	}
	if first, last := v.Segments[0].Sequence, v.Segments[len(v.Segments)-1].Sequence; first != 10 || last != 15 {
		t.Errorf("sequence span = %d..%d", first, last)
	}
}

func TestParseHLSErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want error
	}{
		{"garbage", "<html>not a playlist</html>", errs.ErrManifest},
		{"iframe only", "#EXTM3U\n#EXT-X-I-FRAME-STREAM-INF:BANDWIDTH=100,URI=\"iframe.m3u8\"\n", errs.ErrNoVariants},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseHLS([]byte(tt.body), nil); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

// livePlaylist renders a media playlist holding sequences first..last.
func livePlaylist(first, last int, ended bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-TARGETDURATION:4\n#EXT-X-MEDIA-SEQUENCE:%d\n", first)
	for i := first; i <= last; i++ {
		fmt.Fprintf(&b, "#EXTINF:4.0,\nseg%d.ts\n", i)
	}
	if ended {
		b.WriteString("#EXT-X-ENDLIST\n")
	}
	return b.String()
}
