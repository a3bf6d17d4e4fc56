package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/ytget/ytresolve"
	"github.com/ytget/ytresolve/errs"
	"github.com/ytget/ytresolve/internal/logger"
	"github.com/ytget/ytresolve/internal/metrics"
	"github.com/ytget/ytresolve/types"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := ytresolve.ConfigFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid environment: %v\n", err)
		return 2
	}

	var (
		flagFormat        string
		flagQuality       string
		flagExt           string
		flagOutput        string
		flagNoProgress    bool
		flagTimeout       time.Duration
		flagRetries       int
		flagUA            string
		flagProxy         string
		flagRateLimit     string
		flagEngine        string
		flagFragmentStore string
		flagUseAPI        bool
		flagHLS           bool
		flagList          bool
		flagURLOnly       bool
		flagMetricsAddr   string
	)

	flag.StringVar(&flagFormat, "format", "", "Format selector (e.g., 'itag=22', 'best', 'height<=480')")
	flag.StringVar(&flagQuality, "quality", "highest", "highest, lowest, highest-audio, lowest-audio, highest-video or lowest-video")
	flag.StringVar(&flagExt, "ext", "", "Desired extension (e.g., 'mp4', 'webm')")
	flag.StringVar(&flagOutput, "output", "", "Output path (file or directory). Empty derives from title + MIME")
	flag.BoolVar(&flagNoProgress, "no-progress", false, "Disable progress output")
	flag.DurationVar(&flagTimeout, "http-timeout", 30*time.Second, "HTTP timeout (e.g., 30s, 1m)")
	flag.IntVar(&flagRetries, "retries", 3, "HTTP retries for transient errors")
	flag.StringVar(&flagUA, "ua", "", "Override User-Agent header")
	flag.StringVar(&flagProxy, "proxy", "", "Proxy URL (http/https/socks)")
	flag.StringVar(&flagRateLimit, "rate-limit", "", "Download rate limit (e.g., 2MiB/s, 500KiB/s)")
	flag.StringVar(&flagEngine, "engine", "", "Script engine: goja or otto")
	flag.StringVar(&flagFragmentStore, "fragment-store", "", "Persist synthesized programs: file:<dir> or sqlite:<path>")
	flag.BoolVar(&flagUseAPI, "use-api", false, "Ask the player API instead of reading the watch page")
	flag.BoolVar(&flagHLS, "hls", false, "Include HLS variants as formats")
	flag.BoolVar(&flagList, "list", false, "List resolved formats and exit")
	flag.BoolVar(&flagURLOnly, "url", false, "Print the chosen format URL instead of downloading")
	flag.StringVar(&flagMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g., :9090)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] <video_url_or_id>\n", os.Args[0])
		fmt.Fprintln(os.Stderr, "\nFlags:")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEnvironment: %s* configures the client, %s* the logger.\n", ytresolve.EnvPrefix, logger.EnvPrefix)
	}

	flag.Parse()
	args := flag.Args()
	if len(args) < 1 {
		flag.Usage()
		return 2
	}
	input := strings.TrimSpace(args[0])

	closeLog, err := setupLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid logging configuration: %v\n", err)
		return 2
	}
	defer closeLog()

	quality, err := parseQuality(flagQuality)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	// Flags override the environment only when given.
	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	if set["http-timeout"] || cfg.HTTP.Timeout == 0 {
		cfg.HTTP.Timeout = flagTimeout
	}
	if set["retries"] || cfg.HTTP.Retries == 0 {
		cfg.HTTP.Retries = flagRetries
	}
	if flagUA != "" {
		cfg.HTTP.UserAgent = flagUA
	}
	if flagProxy != "" {
		cfg.HTTP.ProxyURL = flagProxy
	}
	if flagRateLimit != "" {
		if cfg.Stream.RateLimit = ytresolve.ParseRate(flagRateLimit); cfg.Stream.RateLimit == 0 {
			fmt.Fprintf(os.Stderr, "Invalid rate limit %q\n", flagRateLimit)
			return 2
		}
	}
	if flagEngine != "" {
		cfg.Sandbox.Engine = strings.ToLower(flagEngine)
	}
	if flagFragmentStore != "" {
		cfg.FragmentStore = flagFragmentStore
	}

	if flagMetricsAddr != "" {
		srv := &http.Server{Addr: flagMetricsAddr, Handler: metrics.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				fmt.Fprintf(os.Stderr, "Metrics server: %v\n", err)
			}
		}()
		defer srv.Close()
	}

	c, err := ytresolve.NewWithConfig(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}
	defer c.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := c.Resolve(ctx, input, ytresolve.Options{UseAPI: flagUseAPI, IncludeHLS: flagHLS})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitCode(err)
	}

	if flagList {
		printFormats(os.Stdout, res)
		return 0
	}

	f, err := ytresolve.Choose(res.Formats, ytresolve.Selection{Quality: quality, Filter: filterFor(quality), Ext: flagExt, Selector: flagFormat})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if flagURLOnly {
		fmt.Fprintln(os.Stdout, f.URL)
		return 0
	}

	if !flagNoProgress {
		c = c.WithProgress(func(p ytresolve.Progress) {
			if p.TotalSize > 0 {
				_, _ = fmt.Fprintf(os.Stdout, "Downloaded %.1f%%\r", p.Percent)
			}
		})
	}
	path, n, err := c.Download(ctx, res, f, flagOutput)
	if err != nil {
		fmt.Fprintf(os.Stderr, "\nError: %v\n", err)
		return exitCode(err)
	}
	_, _ = fmt.Fprintf(os.Stdout, "\nSaved: %s (%d bytes, itag %d)\n", path, n, f.Itag)
	return 0
}

// setupLogger installs the global logger from YTRESOLVE_LOG_*. File
// outputs rotate.
func setupLogger() (func(), error) {
	cfg := logger.EnvironmentConfig()
	if strings.HasPrefix(cfg.Output, "file:") {
		l, closer, err := logger.CreateLoggerWithRotation(cfg)
		if err != nil {
			return nil, err
		}
		logger.SetGlobalLogger(l)
		return func() {
			if closer != nil {
				closer.Close()
			}
		}, nil
	}
	l, err := logger.CreateLoggerFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	logger.SetGlobalLogger(l)
	return func() {}, nil
}

func parseQuality(s string) (ytresolve.Quality, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "highest", "best":
		return ytresolve.Highest, nil
	case "lowest", "worst":
		return ytresolve.Lowest, nil
	case "highest-audio":
		return ytresolve.HighestAudio, nil
	case "lowest-audio":
		return ytresolve.LowestAudio, nil
	case "highest-video":
		return ytresolve.HighestVideo, nil
	case "lowest-video":
		return ytresolve.LowestVideo, nil
	}
	return 0, fmt.Errorf("unknown quality %q", s)
}

func filterFor(q ytresolve.Quality) ytresolve.Filter {
	switch q {
	case ytresolve.HighestAudio, ytresolve.LowestAudio:
		return ytresolve.FilterAudioOnly
	case ytresolve.HighestVideo, ytresolve.LowestVideo:
		return ytresolve.FilterVideoOnly
	}
	return ytresolve.FilterCombined
}

func printFormats(w io.Writer, res *ytresolve.Result) {
	fmt.Fprintf(w, "%s (%s)\n", res.Video.Title, res.Video.ID)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ITAG\tKIND\tEXT\tQUALITY\tBITRATE\tSIZE\tCODECS")
	for _, f := range res.Formats {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\t%s\t%s\n",
			f.Itag, kindLabel(f), f.Container, qualityLabel(f), f.Bitrate, sizeLabel(f.ContentLength), strings.Join(f.Codecs, ","))
	}
	tw.Flush()
	if res.Unresolved > 0 {
		fmt.Fprintf(w, "%d format(s) could not be resolved\n", res.Unresolved)
	}
}

func kindLabel(f types.Format) string {
	switch {
	case f.IsHLS:
		return f.Kind.String() + "/hls"
	case f.IsDASH:
		return f.Kind.String() + "/dash"
	}
	return f.Kind.String()
}

func qualityLabel(f types.Format) string {
	if f.QualityLabel != "" {
		return f.QualityLabel
	}
	if f.AudioQuality != "" {
		return strings.ToLower(strings.TrimPrefix(f.AudioQuality, "AUDIO_QUALITY_"))
	}
	return f.Quality
}

func sizeLabel(n int64) string {
	if n <= 0 {
		return "-"
	}
	const unit = 1 << 10
	if n < unit {
		return fmt.Sprintf("%dB", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%ciB", float64(n)/float64(div), "KMGT"[exp])
}

// exitCode maps unplayable videos to 3 and transport failures to 4.
func exitCode(err error) int {
	switch {
	case errs.IsUnplayable(err):
		return 3
	case errs.KindOf(err) == errs.KindTransport:
		return 4
	}
	return 1
}
