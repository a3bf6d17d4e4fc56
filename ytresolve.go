package ytresolve

import (
	"bytes"
	"context"
	"errors"
	"io"
	"iter"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ytget/ytresolve/client"
	"github.com/ytget/ytresolve/errs"
	"github.com/ytget/ytresolve/internal/logger"
	"github.com/ytget/ytresolve/internal/sanitize"
	"github.com/ytget/ytresolve/manifest"
	"github.com/ytget/ytresolve/stream"
	"github.com/ytget/ytresolve/types"
	"github.com/ytget/ytresolve/youtube/cipher"
	"github.com/ytget/ytresolve/youtube/extractor"
	"github.com/ytget/ytresolve/youtube/formats"
	"github.com/ytget/ytresolve/youtube/innertube"
	"github.com/ytget/ytresolve/youtube/sandbox"
)

// Selection re-exports the format selector types.
type (
	Selection = formats.Selection
	Quality   = formats.Quality
	Filter    = formats.Filter
	Progress  = stream.Progress
)

// Qualities and filters accepted by Choose.
const (
	Highest      = formats.Highest
	Lowest       = formats.Lowest
	HighestAudio = formats.HighestAudio
	LowestAudio  = formats.LowestAudio
	HighestVideo = formats.HighestVideo
	LowestVideo  = formats.LowestVideo

	FilterCombined  = formats.FilterCombined
	FilterAudioOnly = formats.FilterAudioOnly
	FilterVideoOnly = formats.FilterVideoOnly
	FilterAny       = formats.FilterAny
)

// Options tunes one Resolve call.
type Options struct {
	// UseAPI asks the /player endpoint instead of reading the player
	// response embedded in the watch page.
	UseAPI bool
	// IncludeHLS adds the variants of the HLS manifest as formats. Live
	// videos always include them.
	IncludeHLS bool
}

// Result is the outcome of Resolve.
type Result struct {
	Video types.VideoDetails
	// Formats are ready to fetch, combined first, then by bitrate.
	Formats []types.Format
	// Unresolved counts format entries that had to be dropped.
	Unresolved      int
	PlayerKey       types.PlayerVersionKey
	HLSManifestURL  string
	DASHManifestURL string
	// ExpiresIn is how long the format URLs stay valid, when known.
	ExpiresIn time.Duration
}

// Client resolves videos into formats and streams their bytes. Configure it
// with the With* setters before first use; a configured Client is safe for
// concurrent use.
type Client struct {
	cfg      Config
	http     *client.Client
	it       *innertube.Client
	programs *sandbox.Cache
	store    sandbox.FragmentStore
	resolver *formats.Resolver
	streamer *stream.Streamer
	log      *logger.ComponentLogger
}

// New creates a Client with default settings.
func New() *Client {
	c, err := NewWithConfig(Config{})
	if err != nil {
		// The default configuration names no store and the default engine.
		panic(err)
	}
	return c
}

// NewWithConfig creates a Client from cfg.
func NewWithConfig(cfg Config) (*Client, error) {
	if cfg.Sandbox.Store == nil {
		store, err := sandbox.OpenStore(cfg.FragmentStore)
		if err != nil {
			return nil, err
		}
		cfg.Sandbox.Store = store
	}
	programs, err := sandbox.NewCache(cfg.Sandbox)
	if err != nil {
		closeStore(cfg.Sandbox.Store)
		return nil, err
	}
	c := &Client{
		cfg:      cfg,
		programs: programs,
		store:    cfg.Sandbox.Store,
		resolver: &formats.Resolver{Workers: cfg.Workers},
		log:      logger.WithComponent(logger.ComponentApp),
	}
	c.WithHTTPClient(client.NewWith(cfg.HTTP))
	return c, nil
}

// WithHTTPClient sets the transport used for every network call.
func (c *Client) WithHTTPClient(hc *client.Client) *Client {
	if hc == nil {
		hc = client.New()
	}
	c.http = hc
	c.it = innertube.New(hc).WithClient(c.cfg.InnertubeClient, c.cfg.InnertubeVersion)
	c.streamer = stream.New(hc, c.cfg.Stream)
	return c
}

// WithInnertubeClient sets the InnerTube client name and version used for
// /player requests.
func (c *Client) WithInnertubeClient(name, version string) *Client {
	c.cfg.InnertubeClient = strings.TrimSpace(name)
	c.cfg.InnertubeVersion = strings.TrimSpace(version)
	c.it.WithClient(c.cfg.InnertubeClient, c.cfg.InnertubeVersion)
	return c
}

// WithProgramCache replaces the compiled-program cache, e.g. to share one
// between clients.
func (c *Client) WithProgramCache(programs *sandbox.Cache) *Client {
	if programs != nil {
		c.programs = programs
	}
	return c
}

// WithWorkers bounds concurrent format decoding.
func (c *Client) WithWorkers(n int) *Client {
	c.resolver = &formats.Resolver{Workers: n}
	return c
}

// WithProgress registers a callback that receives stream progress updates.
func (c *Client) WithProgress(f func(Progress)) *Client {
	c.cfg.Stream.Progress = f
	c.streamer = stream.New(c.http, c.cfg.Stream)
	return c
}

// WithRateLimit sets a stream rate limit in bytes per second. Zero disables limiting.
func (c *Client) WithRateLimit(bytesPerSecond int64) *Client {
	if bytesPerSecond < 0 {
		bytesPerSecond = 0
	}
	c.cfg.Stream.RateLimit = bytesPerSecond
	c.streamer = stream.New(c.http, c.cfg.Stream)
	return c
}

// WithChunkSize sets the byte length of ranged stream requests.
func (c *Client) WithChunkSize(n int64) *Client {
	c.cfg.Stream.ChunkSize = n
	c.streamer = stream.New(c.http, c.cfg.Stream)
	return c
}

// Close releases the fragment store.
func (c *Client) Close() error {
	return closeStore(c.store)
}

func closeStore(s sandbox.FragmentStore) error {
	if cl, ok := s.(io.Closer); ok {
		return cl.Close()
	}
	return nil
}

// Resolve turns a video id or URL into resolved formats.
func (c *Client) Resolve(ctx context.Context, input string, opts Options) (*Result, error) {
	videoID, err := extractor.VideoID(input)
	if err != nil {
		return nil, err
	}
	log := c.log.With(logger.Fields{"video_id": videoID})

	pr, script, err := c.playerResponse(ctx, videoID, opts)
	if err != nil {
		return nil, err
	}
	log.Debug("player response", map[string]interface{}{
		"entries":    len(pr.Formats),
		"player_key": string(pr.PlayerKey),
		"live":       pr.Details.IsLive,
	})

	if pr.HLSManifestURL != "" && (opts.IncludeHLS || pr.Details.IsLive) {
		pr = c.withHLSEntries(ctx, pr)
	}

	res, err := c.resolver.Resolve(ctx, pr, c.programFor(pr, script))
	if err != nil {
		return nil, err
	}
	log.Info("resolved", map[string]interface{}{
		"formats":    len(res.Formats),
		"unresolved": res.Unresolved,
	})
	return &Result{
		Video:           pr.Details,
		Formats:         res.Formats,
		Unresolved:      res.Unresolved,
		PlayerKey:       pr.PlayerKey,
		HLSManifestURL:  pr.HLSManifestURL,
		DASHManifestURL: pr.DASHManifestURL,
		ExpiresIn:       pr.ExpiresIn,
	}, nil
}

// playerResponse reads the player response from the watch page, falling
// back to the /player endpoint when the page carries none. The player
// script is returned when it had to be fetched on the way.
func (c *Client) playerResponse(ctx context.Context, videoID string, opts Options) (*types.PlayerResponse, string, error) {
	page, err := c.it.WatchPage(ctx, videoID)
	if err != nil {
		return nil, "", err
	}
	if !opts.UseAPI {
		pr, err := extractor.ParseWatchPage(videoID, page)
		if err == nil {
			return pr, "", nil
		}
		if !errors.Is(err, errs.ErrStructureChanged) {
			return nil, "", err
		}
		c.log.Info("watch page has no usable player response, asking the API", map[string]interface{}{
			"video_id": videoID,
			"error":    err.Error(),
		})
	}

	var script string
	sts := 0
	playerURL, perr := cipher.PlayerScriptURL(page)
	if perr == nil {
		script, err = c.it.PlayerScript(ctx, playerURL)
		if err != nil {
			return nil, "", err
		}
		sts, _ = cipher.SignatureTimestamp(script)
	}
	body, err := c.it.Player(ctx, videoID, sts)
	if err != nil {
		return nil, "", err
	}
	pr, err := extractor.ParsePlayerResponse(videoID, body)
	if err != nil {
		return nil, "", err
	}
	if perr == nil {
		pr.PlayerURL = playerURL
		pr.PlayerKey = types.VersionKeyFromURL(playerURL)
	}
	return pr, script, nil
}

// programFor returns the decoder source of pr. A prefetched script skips
// the download on a cache miss.
func (c *Client) programFor(pr *types.PlayerResponse, prefetched string) formats.ProgramFunc {
	return func(ctx context.Context) (formats.Decoder, error) {
		if pr.PlayerURL == "" {
			return nil, errs.Extraction(errs.CodeStructureChanged, "player script URL not found", nil)
		}
		prog, err := c.programs.Get(ctx, pr.PlayerKey, func(ctx context.Context) (string, error) {
			if prefetched != "" {
				return prefetched, nil
			}
			return c.it.PlayerScript(ctx, pr.PlayerURL)
		})
		if err != nil {
			return nil, err
		}
		return prog, nil
	}
}

// withHLSEntries returns a copy of pr with the HLS master variants appended
// as entries. A manifest that cannot be read is logged and skipped.
func (c *Client) withHLSEntries(ctx context.Context, pr *types.PlayerResponse) *types.PlayerResponse {
	variants, err := c.ManifestVariants(ctx, pr.HLSManifestURL)
	if err != nil {
		c.log.Warn("hls manifest skipped", map[string]interface{}{
			"video_id": pr.VideoID,
			"error":    err.Error(),
		})
		return pr
	}
	out := *pr
	out.Formats = append(append([]types.RawFormatEntry(nil), pr.Formats...), formats.FromVariants(variants)...)
	return &out
}

// Stream yields the bytes of f in chunks. HLS formats are decrypted segment
// by segment and followed while live.
func (c *Client) Stream(ctx context.Context, f types.Format) iter.Seq2[[]byte, error] {
	return c.streamer.Stream(ctx, f)
}

// Variants lists the renditions of an HLS or DASH format.
func (c *Client) Variants(ctx context.Context, f types.Format) ([]types.ManifestVariant, error) {
	if !f.IsHLS && !f.IsDASH {
		return nil, errs.Manifest(errs.CodeNoVariants, "format is not an adaptive manifest", nil)
	}
	return c.ManifestVariants(ctx, f.URL)
}

// ManifestVariants fetches the manifest at manifestURL and lists its
// renditions. HLS is recognised by its #EXTM3U header; anything else is
// read as a DASH MPD.
func (c *Client) ManifestVariants(ctx context.Context, manifestURL string) ([]types.ManifestVariant, error) {
	resp, err := c.http.Get(ctx, manifestURL)
	if err != nil {
		return nil, err
	}
	final := resp.URL
	if final == "" {
		final = manifestURL
	}
	base, _ := url.Parse(final)
	if bytes.HasPrefix(bytes.TrimSpace(resp.Body), []byte("#EXTM3U")) {
		h, err := manifest.ParseHLS(resp.Body, base)
		if err != nil {
			return nil, err
		}
		return h.Variants, nil
	}
	return manifest.ParseDASH(resp.Body, base)
}

// Download streams f into outputPath and returns the path written. An empty
// outputPath, or a directory, gets a safe file name derived from the title;
// audio-only and video-only formats carry their itag in that name.
func (c *Client) Download(ctx context.Context, res *Result, f types.Format, outputPath string) (string, int64, error) {
	title := ""
	if res != nil {
		title = res.Video.Title
	}
	name := sanitize.ToSafeFilename(title, f.Container)
	if f.Kind != types.Combined {
		name = sanitize.FormatFilename(title, f.Itag, f.Container)
	}
	switch {
	case outputPath == "":
		outputPath = name
	default:
		if fi, err := os.Stat(outputPath); err == nil && fi.IsDir() {
			outputPath = filepath.Join(outputPath, name)
		}
	}
	n, err := stream.ToFile(c.Stream(ctx, f), outputPath)
	if err != nil {
		return "", n, err
	}
	c.log.Info("download complete", map[string]interface{}{
		"path":  outputPath,
		"bytes": n,
		"itag":  f.Itag,
	})
	return outputPath, n, nil
}

// Choose picks a format from a resolved list.
func Choose(fs []types.Format, sel Selection) (types.Format, error) {
	return formats.Choose(fs, sel)
}
