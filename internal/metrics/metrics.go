// Package metrics holds the Prometheus collectors shared by the resolver
// packages. Everything is registered on Registry rather than the default
// registerer so embedding applications decide whether to expose it.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ytresolve"

// Registry collects every metric of the module.
var Registry = prometheus.NewRegistry()

var (
	// HTTPRequests counts transport attempts by outcome ("2xx", "4xx", "5xx", "error").
	HTTPRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP attempts by outcome class.",
	}, []string{"outcome"})

	// HTTPRetries counts attempts that were retried.
	HTTPRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "retries_total",
		Help:      "HTTP attempts followed by a retry.",
	})

	// CacheLookups counts program cache lookups by result
	// ("hit", "miss", "shared", "negative").
	CacheLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sandbox",
		Name:      "cache_lookups_total",
		Help:      "Decode program cache lookups by result.",
	}, []string{"result"})

	// CacheEntries tracks the number of compiled programs held.
	CacheEntries = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "sandbox",
		Name:      "cache_entries",
		Help:      "Compiled decode programs currently cached.",
	})

	// Compiles counts program builds by engine and outcome ("ok", "error").
	Compiles = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sandbox",
		Name:      "compiles_total",
		Help:      "Decode program compilations.",
	}, []string{"engine", "outcome"})

	// CompileSeconds observes how long a full build (fetch, synthesis, compile) takes.
	CompileSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "sandbox",
		Name:      "compile_seconds",
		Help:      "Time to build a decode program.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
	}, []string{"engine"})

	// Evals counts decode calls by function ("signature", "n") and outcome.
	Evals = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sandbox",
		Name:      "evals_total",
		Help:      "Decode function evaluations.",
	}, []string{"function", "outcome"})

	// Synthesis counts synthesizer runs by function and winning strategy, or
	// the error code on failure.
	Synthesis = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cipher",
		Name:      "synthesis_total",
		Help:      "Cipher fragment synthesis results.",
	}, []string{"function", "result"})

	// Formats counts resolver output by state ("resolved", "unresolved").
	Formats = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "formats",
		Name:      "entries_total",
		Help:      "Raw format entries processed by the resolver.",
	}, []string{"state"})

	// ManifestParses counts manifest parses by type ("hls", "dash") and outcome.
	ManifestParses = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "manifest",
		Name:      "parses_total",
		Help:      "Manifest documents parsed.",
	}, []string{"type", "outcome"})

	// Segments counts decrypted segments by outcome.
	Segments = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "decrypt",
		Name:      "segments_total",
		Help:      "Segments passed through the decryptor.",
	}, []string{"outcome"})

	// StreamBytes counts payload bytes yielded to stream consumers.
	StreamBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "stream",
		Name:      "bytes_total",
		Help:      "Bytes delivered by media streams.",
	})
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		HTTPRequests,
		HTTPRetries,
		CacheLookups,
		CacheEntries,
		Compiles,
		CompileSeconds,
		Evals,
		Synthesis,
		Formats,
		ManifestParses,
		Segments,
		StreamBytes,
	)
}

// Handler serves Registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// Outcome maps an error to the "ok"/"error" label used by most vectors.
func Outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// StatusClass returns the outcome label for an HTTP status code.
func StatusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	case code >= 200:
		return "2xx"
	default:
		return "error"
	}
}
