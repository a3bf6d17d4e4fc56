package formats

import (
	"errors"
	"testing"

	"github.com/ytget/ytresolve/types"
)

func sampleFormats() []types.Format {
	return []types.Format{
		{Itag: 18, Container: "mp4", Codecs: []string{"avc1.42001E", "mp4a.40.2"}, Kind: types.Combined, Height: 360, Bitrate: 500000, ContentLength: 100, URL: "u18"},
		{Itag: 22, Container: "mp4", Codecs: []string{"avc1.64001F", "mp4a.40.2"}, Kind: types.Combined, Height: 720, Bitrate: 1500000, ContentLength: 300, URL: "u22"},
		{Itag: 137, Container: "mp4", Codecs: []string{"avc1.640028"}, Kind: types.VideoOnly, Height: 1080, Bitrate: 4000000, URL: "u137"},
		{Itag: 248, Container: "webm", Codecs: []string{"vp9"}, Kind: types.VideoOnly, Height: 1080, Bitrate: 4000000, URL: "u248"},
		{Itag: 140, Container: "m4a", Codecs: []string{"mp4a.40.2"}, Kind: types.AudioOnly, Bitrate: 128000, URL: "u140"},
		{Itag: 251, Container: "webm", Codecs: []string{"opus"}, Kind: types.AudioOnly, Bitrate: 130000, URL: "u251"},
		{Itag: 249, Container: "webm", Codecs: []string{"opus"}, Kind: types.AudioOnly, Bitrate: 50000, URL: "u249"},
	}
}

func TestChoose(t *testing.T) {
	tests := []struct {
		name string
		sel  Selection
		want int
	}{
		{name: "highest combined", sel: Selection{}, want: 22},
		{name: "lowest combined", sel: Selection{Quality: Lowest}, want: 18},
		{name: "highest any", sel: Selection{Filter: FilterAny}, want: 22},
		{name: "highest video only", sel: Selection{Filter: FilterVideoOnly}, want: 248},
		{name: "highest audio", sel: Selection{Quality: HighestAudio}, want: 251},
		{name: "lowest audio", sel: Selection{Quality: LowestAudio}, want: 249},
		{name: "highest audio m4a", sel: Selection{Quality: HighestAudio, Ext: "m4a"}, want: 140},
		{name: "highest video", sel: Selection{Quality: HighestVideo}, want: 248},
		{name: "highest video mp4", sel: Selection{Quality: HighestVideo, Ext: ".MP4"}, want: 137},
		{name: "lowest video", sel: Selection{Quality: LowestVideo, Ext: "mp4"}, want: 137},
		{name: "selector", sel: Selection{Selector: "height<=400"}, want: 18},
		{name: "itag selector", sel: Selection{Selector: "itag=140"}, want: 140},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Choose(sampleFormats(), tt.sel)
			if err != nil {
				t.Fatalf("Choose: %v", err)
			}
			if got.Itag != tt.want {
				t.Errorf("itag = %d, want %d", got.Itag, tt.want)
			}
		})
	}
}

func TestChooseNoMatch(t *testing.T) {
	if _, err := Choose(nil, Selection{}); !errors.Is(err, ErrNoMatch) {
		t.Errorf("empty list: err = %v", err)
	}
	audio := []types.Format{{Itag: 140, Kind: types.AudioOnly}}
	if _, err := Choose(audio, Selection{Quality: HighestVideo}); !errors.Is(err, ErrNoMatch) {
		t.Errorf("no video: err = %v", err)
	}
	if _, err := Choose(audio, Selection{Selector: "itag=22"}); !errors.Is(err, ErrNoMatch) {
		t.Errorf("missing itag: err = %v", err)
	}
}

func TestChoosePrefersHLSForLive(t *testing.T) {
	fs := []types.Format{
		{Itag: 95, Kind: types.Combined, IsLive: true, Height: 720, Bitrate: 3000000},
		{Itag: 301, Kind: types.Combined, IsLive: true, IsHLS: true, Height: 720, Bitrate: 2500000},
		{Itag: 140, Kind: types.AudioOnly, IsLive: true, Bitrate: 128000},
	}
	got, err := Choose(fs, Selection{Filter: FilterAudioOnly})
	if err != nil {
		t.Fatalf("Choose: %v", err)
	}
	if got.Itag != 301 {
		t.Errorf("itag = %d, want 301", got.Itag)
	}
}

func TestSelectFormat(t *testing.T) {
	tests := []struct {
		name    string
		quality string
		ext     string
		want    int
	}{
		{name: "itag", quality: "itag=137", want: 137},
		{name: "best", quality: "best", want: 137},
		{name: "best webm", quality: "best", ext: "webm", want: 248},
		{name: "worst", quality: "worst", want: 249},
		{name: "height cap", quality: "height<=720", want: 22},
		{name: "height floor", quality: "height>=1080", want: 137},
		{name: "fallback 22", quality: "", want: 22},
		{name: "unknown ext falls back", quality: "itag=18", ext: "flv", want: 18},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SelectFormat(sampleFormats(), tt.quality, tt.ext)
			if got == nil {
				t.Fatalf("SelectFormat returned nil")
			}
			if got.Itag != tt.want {
				t.Errorf("itag = %d, want %d", got.Itag, tt.want)
			}
		})
	}

	if SelectFormat(nil, "best", "") != nil {
		t.Errorf("empty list should select nothing")
	}
	if SelectFormat(sampleFormats(), "itag=999", "") != nil {
		t.Errorf("missing itag should select nothing")
	}
	if SelectFormat(sampleFormats(), "height>=2160", "") != nil {
		t.Errorf("unsatisfiable height should select nothing")
	}
	only18 := []types.Format{{Itag: 43, Container: "webm"}, {Itag: 18, Container: "mp4"}}
	if got := SelectFormat(only18, "", ""); got == nil || got.Itag != 18 {
		t.Errorf("fallback = %+v, want itag 18", got)
	}
}
