package ytresolve

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ytget/ytresolve/errs"
	"github.com/ytget/ytresolve/internal/testplayer"
	"github.com/ytget/ytresolve/types"
	"github.com/ytget/ytresolve/youtube/innertube"
)

const (
	videoID = "dQw4w9WgXcQ"
	testSig = "AOq0QJ8wRgIhAKx7yZ3Lm9PqRsTuVwXy"
	testN   = "abcdefghXY"
)

var media = bytes.Repeat([]byte("media-bytes|"), 300)

// fakeSite serves a watch page, the player script, the /player endpoint,
// manifests and media for one video.
type fakeSite struct {
	srv *httptest.Server

	status      string
	noEmbedded  bool
	withHLS     bool
	scriptGets  int32
	apiCalls    int32
	apiSTS      int32
	mediaServed int32
}

func newFakeSite(t *testing.T) *fakeSite {
	t.Helper()
	site := &fakeSite{status: "OK"}
	mux := http.NewServeMux()
	mux.HandleFunc("/watch", site.watch)
	mux.HandleFunc(testplayer.URL, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&site.scriptGets, 1)
		io.WriteString(w, testplayer.Script)
	})
	mux.HandleFunc("/youtubei/v1/player", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&site.apiCalls, 1)
		var req struct {
			PlaybackContext struct {
				ContentPlaybackContext struct {
					SignatureTimestamp int32 `json:"signatureTimestamp"`
				} `json:"contentPlaybackContext"`
			} `json:"playbackContext"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode player request: %v", err)
		}
		atomic.StoreInt32(&site.apiSTS, req.PlaybackContext.ContentPlaybackContext.SignatureTimestamp)
		w.Write(site.playerResponse())
	})
	mux.HandleFunc("/videoplayback", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&site.mediaServed, 1)
		http.ServeContent(w, r, "media", time.Time{}, bytes.NewReader(media))
	})
	mux.HandleFunc("/api/manifest/hls_variant/master.m3u8", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "#EXTM3U\n"+
			"#EXT-X-STREAM-INF:BANDWIDTH=2500000,RESOLUTION=1280x720,CODECS=\"avc1.4d401f,mp4a.40.2\"\n"+
			"%[1]s/api/manifest/hls_playlist/itag/95/index.m3u8\n"+
			"#EXT-X-STREAM-INF:BANDWIDTH=800000,RESOLUTION=640x360,CODECS=\"avc1.4d401e,mp4a.40.2\"\n"+
			"%[1]s/api/manifest/hls_playlist/itag/93/index.m3u8\n", site.srv.URL)
	})
	mux.HandleFunc("/manifest.mpd", func(w http.ResponseWriter, r *http.Request) { io.WriteString(w, testMPD) })
	site.srv = httptest.NewServer(mux)

	old := innertube.BaseURL
	innertube.BaseURL = site.srv.URL
	t.Cleanup(func() {
		innertube.BaseURL = old
		site.srv.Close()
	})
	return site
}

const testMPD = `<?xml version="1.0" encoding="UTF-8"?>
<MPD xmlns="urn:mpeg:dash:schema:mpd:2011" type="static" mediaPresentationDuration="PT8S">
  <Period>
    <AdaptationSet mimeType="video/mp4" codecs="avc1.4d401f">
      <SegmentTemplate media="$RepresentationID$/seg-$Number$.m4s" initialization="$RepresentationID$/init.mp4" startNumber="1" timescale="1000" duration="4000"/>
      <Representation id="v720" bandwidth="2000000" width="1280" height="720"/>
    </AdaptationSet>
  </Period>
</MPD>`

func (s *fakeSite) playerResponse() []byte {
	base := s.srv.URL + "/videoplayback"
	streaming := map[string]any{
		"expiresInSeconds": "21540",
		"formats": []any{map[string]any{
			"itag":          18,
			"url":           base + "?itag=18&n=" + testN,
			"mimeType":      `video/mp4; codecs="avc1.42001E, mp4a.40.2"`,
			"bitrate":       500000,
			"qualityLabel":  "360p",
			"audioQuality":  "AUDIO_QUALITY_LOW",
			"contentLength": fmt.Sprint(len(media)),
		}},
		"adaptiveFormats": []any{
			map[string]any{
				"itag":            251,
				"signatureCipher": url.Values{"s": {testSig}, "sp": {"sig"}, "url": {base + "?itag=251"}}.Encode(),
				"mimeType":        `audio/webm; codecs="opus"`,
				"bitrate":         130000,
				"audioQuality":    "AUDIO_QUALITY_MEDIUM",
			},
			map[string]any{
				"itag":            140,
				"signatureCipher": "s=abc",
				"mimeType":        `audio/mp4; codecs="mp4a.40.2"`,
				"bitrate":         128000,
			},
		},
	}
	if s.withHLS {
		streaming["hlsManifestUrl"] = s.srv.URL + "/api/manifest/hls_variant/master.m3u8"
	}
	playability := map[string]any{"status": s.status}
	if s.status != "OK" {
		playability["reason"] = "This video is private"
	}
	body, _ := json.Marshal(map[string]any{
		"playabilityStatus": playability,
		"streamingData":     streaming,
		"videoDetails":      map[string]any{"videoId": videoID, "title": "Test video", "author": "Someone"},
	})
	return body
}

func (s *fakeSite) watch(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("v") != videoID {
		http.NotFound(w, r)
		return
	}
	fmt.Fprintf(w, `<!DOCTYPE html><html><head><script>ytcfg.set({"INNERTUBE_API_KEY":"key123","PLAYER_JS_URL":"%s"});</script></head><body>`, s.srv.URL+testplayer.URL)
	if !s.noEmbedded {
		fmt.Fprintf(w, `<script>var ytInitialPlayerResponse = %s;var meta = 1;</script>`, s.playerResponse())
	}
	io.WriteString(w, `</body></html>`)
}

func checkResult(t *testing.T, res *Result) {
	t.Helper()
	if len(res.Formats) != 2 || res.Unresolved != 1 {
		t.Fatalf("got %d formats, %d unresolved; want 2 and 1", len(res.Formats), res.Unresolved)
	}
	if res.PlayerKey != testplayer.ID || res.Video.Title != "Test video" {
		t.Errorf("player key %q, title %q", res.PlayerKey, res.Video.Title)
	}
	progressive, audio := res.Formats[0], res.Formats[1]
	u, _ := url.Parse(progressive.URL)
	if progressive.Itag != 18 || u.Query().Get("n") != testplayer.DecodeN(testN) {
		t.Errorf("progressive = itag %d url %s", progressive.Itag, progressive.URL)
	}
	u, _ = url.Parse(audio.URL)
	if audio.Itag != 251 || u.Query().Get("sig") != testplayer.DecodeSignature(testSig) {
		t.Errorf("audio = itag %d url %s", audio.Itag, audio.URL)
	}
}

func TestResolveFromWatchPage(t *testing.T) {
	site := newFakeSite(t)
	c := New()
	defer c.Close()

	for i := 0; i < 2; i++ {
		res, err := c.Resolve(context.Background(), "https://www.youtube.com/watch?v="+videoID, Options{})
		if err != nil {
			t.Fatalf("Resolve #%d: %v", i+1, err)
		}
		checkResult(t, res)
	}
	if n := atomic.LoadInt32(&site.scriptGets); n != 1 {
		t.Errorf("player script fetched %d times, want 1", n)
	}
	if n := atomic.LoadInt32(&site.apiCalls); n != 0 {
		t.Errorf("API called %d times, want 0", n)
	}
}

func TestResolveFromAPI(t *testing.T) {
	tests := []struct {
		name       string
		opts       Options
		noEmbedded bool
	}{
		{name: "requested", opts: Options{UseAPI: true}},
		{name: "fallback", noEmbedded: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			site := newFakeSite(t)
			site.noEmbedded = tt.noEmbedded
			res, err := New().Resolve(context.Background(), videoID, tt.opts)
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			checkResult(t, res)
			if n := atomic.LoadInt32(&site.apiCalls); n != 1 {
				t.Errorf("API called %d times, want 1", n)
			}
			if sts := atomic.LoadInt32(&site.apiSTS); sts != testplayer.SignatureTimestamp {
				t.Errorf("signatureTimestamp = %d, want %d", sts, testplayer.SignatureTimestamp)
			}
			if n := atomic.LoadInt32(&site.scriptGets); n != 1 {
				t.Errorf("player script fetched %d times, want 1", n)
			}
		})
	}
}

func TestResolveUnplayable(t *testing.T) {
	site := newFakeSite(t)
	site.status = "LOGIN_REQUIRED"
	_, err := New().Resolve(context.Background(), videoID, Options{})
	if !errors.Is(err, errs.ErrPrivate) {
		t.Fatalf("err = %v, want private", err)
	}
	if e, ok := errs.As(err); !ok || e.Code != errs.CodeUnplayable {
		t.Errorf("err = %#v, want UNPLAYABLE", err)
	}
}

func TestResolveInvalidInput(t *testing.T) {
	_, err := New().Resolve(context.Background(), "https://example.com/nothing", Options{})
	if !errors.Is(err, errs.ErrMalformed) {
		t.Fatalf("err = %v, want malformed", err)
	}
}

func TestResolveWithFragmentStore(t *testing.T) {
	site := newFakeSite(t)
	spec := "file:" + filepath.Join(t.TempDir(), "fragments")

	for i := 0; i < 2; i++ {
		c, err := NewWithConfig(Config{FragmentStore: spec})
		if err != nil {
			t.Fatalf("NewWithConfig: %v", err)
		}
		res, err := c.Resolve(context.Background(), videoID, Options{})
		if err != nil {
			t.Fatalf("Resolve #%d: %v", i+1, err)
		}
		checkResult(t, res)
		c.Close()
	}
	if n := atomic.LoadInt32(&site.scriptGets); n != 1 {
		t.Errorf("player script fetched %d times across restarts, want 1", n)
	}
}

func TestResolveIncludesHLS(t *testing.T) {
	site := newFakeSite(t)
	site.withHLS = true
	res, err := New().Resolve(context.Background(), videoID, Options{IncludeHLS: true})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	var hls []types.Format
	for _, f := range res.Formats {
		if f.IsHLS {
			hls = append(hls, f)
		}
	}
	if len(hls) != 2 {
		t.Fatalf("got %d HLS formats, want 2", len(hls))
	}
	if hls[0].Itag != 95 || hls[0].Height != 720 || hls[0].Kind != types.Combined {
		t.Errorf("first HLS format = %+v", hls[0])
	}
	if res.HLSManifestURL == "" {
		t.Errorf("manifest URL missing from result")
	}
}

func TestStreamAndDownload(t *testing.T) {
	site := newFakeSite(t)
	c := New().WithChunkSize(1000)
	res, err := c.Resolve(context.Background(), videoID, Options{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	f, err := Choose(res.Formats, Selection{Quality: Highest})
	if err != nil {
		t.Fatalf("Choose: %v", err)
	}
	if f.Itag != 18 {
		t.Fatalf("chose itag %d, want 18", f.Itag)
	}

	var got bytes.Buffer
	for chunk, err := range c.Stream(context.Background(), f) {
		if err != nil {
			t.Fatalf("Stream: %v", err)
		}
		got.Write(chunk)
	}
	if !bytes.Equal(got.Bytes(), media) {
		t.Fatalf("streamed %d bytes, want %d", got.Len(), len(media))
	}
	if n := atomic.LoadInt32(&site.mediaServed); n != 4 {
		t.Errorf("media requests = %d, want 4", n)
	}

	dir := t.TempDir()
	var last Progress
	path, n, err := c.WithProgress(func(p Progress) { last = p }).Download(context.Background(), res, f, dir)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if path != filepath.Join(dir, "Test video.mp4") || n != int64(len(media)) {
		t.Errorf("path %q, %d bytes", path, n)
	}
	data, err := os.ReadFile(path)
	if err != nil || !bytes.Equal(data, media) {
		t.Errorf("file content mismatch: %v", err)
	}
	if last.Percent != 100 {
		t.Errorf("last progress = %+v", last)
	}

	path, _, err = c.Download(context.Background(), res, res.Formats[1], dir)
	if err != nil {
		t.Fatalf("Download(audio): %v", err)
	}
	if path != filepath.Join(dir, "Test video [251].webm") {
		t.Errorf("audio path = %q", path)
	}
}

func TestVariants(t *testing.T) {
	site := newFakeSite(t)
	c := New()

	variants, err := c.Variants(context.Background(), types.Format{URL: site.srv.URL + "/api/manifest/hls_variant/master.m3u8", IsHLS: true})
	if err != nil {
		t.Fatalf("Variants(hls): %v", err)
	}
	if len(variants) != 2 || variants[0].Bandwidth != 2500000 {
		t.Errorf("hls variants = %+v", variants)
	}

	variants, err = c.Variants(context.Background(), types.Format{URL: site.srv.URL + "/manifest.mpd", IsDASH: true})
	if err != nil {
		t.Fatalf("Variants(dash): %v", err)
	}
	if len(variants) != 1 || len(variants[0].Segments) != 2 || !strings.HasSuffix(variants[0].Segments[0].URL, "v720/seg-1.m4s") {
		t.Errorf("dash variants = %+v", variants)
	}

	if _, err := c.Variants(context.Background(), types.Format{URL: site.srv.URL + "/videoplayback"}); !errors.Is(err, errs.ErrNoVariants) {
		t.Errorf("progressive format: err = %v, want no variants", err)
	}
}
