package ytresolve

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ytget/ytresolve/client"
	"github.com/ytget/ytresolve/stream"
	"github.com/ytget/ytresolve/youtube/sandbox"
)

// EnvPrefix prefixes every environment variable ConfigFromEnv reads.
const EnvPrefix = "YTRESOLVE_"

// Config collects the settings of a Client. Zero values select defaults.
type Config struct {
	HTTP    client.Config
	Sandbox sandbox.Config
	Stream  stream.Config
	// FragmentStore is "", "memory", "file:<dir>" or "sqlite:<path>". It is
	// ignored when Sandbox.Store is set.
	FragmentStore string
	// Workers bounds concurrent format decoding.
	Workers          int
	InnertubeClient  string
	InnertubeVersion string
}

// ConfigFromEnv reads a Config from YTRESOLVE_* variables:
//
//	YTRESOLVE_HTTP_TIMEOUT     duration, e.g. 30s
//	YTRESOLVE_RETRIES          attempts per request
//	YTRESOLVE_USER_AGENT       User-Agent header
//	YTRESOLVE_PROXY            proxy URL
//	YTRESOLVE_REQUEST_RATE     requests per second
//	YTRESOLVE_RATE_LIMIT       stream rate, e.g. 2MiB/s
//	YTRESOLVE_CHUNK_SIZE       ranged request size, e.g. 4MiB
//	YTRESOLVE_CACHE_CAPACITY   compiled programs kept
//	YTRESOLVE_NEGATIVE_TTL     duration failed builds are remembered
//	YTRESOLVE_EVAL_TIMEOUT     budget of one script evaluation
//	YTRESOLVE_ENGINE           goja or otto
//	YTRESOLVE_FRAGMENT_STORE   file:<dir> or sqlite:<path>
//	YTRESOLVE_WORKERS          concurrent format decoding
func ConfigFromEnv() (Config, error) {
	return configFromEnv(os.Getenv)
}

func configFromEnv(getenv func(string) string) (Config, error) {
	var cfg Config
	var err error
	env := func(name string) string { return strings.TrimSpace(getenv(EnvPrefix + name)) }

	if cfg.HTTP.Timeout, err = envDuration(env, "HTTP_TIMEOUT"); err != nil {
		return cfg, err
	}
	if cfg.HTTP.Retries, err = envInt(env, "RETRIES"); err != nil {
		return cfg, err
	}
	cfg.HTTP.UserAgent = env("USER_AGENT")
	cfg.HTTP.ProxyURL = env("PROXY")
	if v := env("REQUEST_RATE"); v != "" {
		if cfg.HTTP.RateLimit, err = strconv.ParseFloat(v, 64); err != nil {
			return cfg, fmt.Errorf("%sREQUEST_RATE: %w", EnvPrefix, err)
		}
	}
	if v := env("RATE_LIMIT"); v != "" {
		if cfg.Stream.RateLimit = ParseRate(v); cfg.Stream.RateLimit == 0 {
			return cfg, fmt.Errorf("%sRATE_LIMIT: invalid rate %q", EnvPrefix, v)
		}
	}
	if v := env("CHUNK_SIZE"); v != "" {
		if cfg.Stream.ChunkSize = ParseRate(v); cfg.Stream.ChunkSize == 0 {
			return cfg, fmt.Errorf("%sCHUNK_SIZE: invalid size %q", EnvPrefix, v)
		}
	}
	if cfg.Sandbox.Capacity, err = envInt(env, "CACHE_CAPACITY"); err != nil {
		return cfg, err
	}
	if cfg.Sandbox.NegativeTTL, err = envDuration(env, "NEGATIVE_TTL"); err != nil {
		return cfg, err
	}
	if cfg.Sandbox.EvalTimeout, err = envDuration(env, "EVAL_TIMEOUT"); err != nil {
		return cfg, err
	}
	switch engine := strings.ToLower(env("ENGINE")); engine {
	case "", sandbox.EngineGoja, sandbox.EngineOtto:
		cfg.Sandbox.Engine = engine
	default:
		return cfg, fmt.Errorf("%sENGINE: unknown engine %q", EnvPrefix, engine)
	}
	cfg.FragmentStore = env("FRAGMENT_STORE")
	if cfg.Workers, err = envInt(env, "WORKERS"); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func envInt(env func(string) string, name string) (int, error) {
	v := env(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
	}
	return n, nil
}

func envDuration(env func(string) string, name string) (time.Duration, error) {
	v := env(name)
	if v == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
	}
	return d, nil
}

// ParseRate parses strings like "2MiB/s", "500KiB/s" or "4MB" into bytes
// (per second). It returns 0 for anything it cannot read.
func ParseRate(s string) int64 {
	s = strings.TrimSpace(strings.ToUpper(s))
	if s == "" {
		return 0
	}
	s = strings.TrimSpace(strings.TrimSuffix(s, "/S"))
	mul := int64(1)
	for _, unit := range []struct {
		suffix string
		mul    int64
	}{
		{"KIB", 1 << 10}, {"MIB", 1 << 20}, {"GIB", 1 << 30},
		{"KB", 1000}, {"MB", 1000 * 1000}, {"GB", 1000 * 1000 * 1000},
		{"B", 1},
	} {
		if strings.HasSuffix(s, unit.suffix) {
			s, mul = strings.TrimSuffix(s, unit.suffix), unit.mul
			break
		}
	}
	val, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || val <= 0 {
		return 0
	}
	return int64(val * float64(mul))
}
