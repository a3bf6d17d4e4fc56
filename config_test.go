package ytresolve

import (
	"testing"
	"time"
)

func TestConfigFromEnv(t *testing.T) {
	env := map[string]string{
		"YTRESOLVE_HTTP_TIMEOUT":   "45s",
		"YTRESOLVE_RETRIES":        "5",
		"YTRESOLVE_USER_AGENT":     " test-agent ",
		"YTRESOLVE_PROXY":          "http://127.0.0.1:3128",
		"YTRESOLVE_REQUEST_RATE":   "2.5",
		"YTRESOLVE_RATE_LIMIT":     "2MiB/s",
		"YTRESOLVE_CHUNK_SIZE":     "4MB",
		"YTRESOLVE_CACHE_CAPACITY": "16",
		"YTRESOLVE_NEGATIVE_TTL":   "1m",
		"YTRESOLVE_EVAL_TIMEOUT":   "250ms",
		"YTRESOLVE_ENGINE":         "Otto",
		"YTRESOLVE_FRAGMENT_STORE": "sqlite:/tmp/fragments.db",
		"YTRESOLVE_WORKERS":        "8",
	}
	cfg, err := configFromEnv(func(k string) string { return env[k] })
	if err != nil {
		t.Fatalf("configFromEnv: %v", err)
	}

	if cfg.HTTP.Timeout != 45*time.Second || cfg.HTTP.Retries != 5 {
		t.Errorf("http timeout/retries = %v/%d", cfg.HTTP.Timeout, cfg.HTTP.Retries)
	}
	if cfg.HTTP.UserAgent != "test-agent" || cfg.HTTP.ProxyURL != "http://127.0.0.1:3128" || cfg.HTTP.RateLimit != 2.5 {
		t.Errorf("http = %+v", cfg.HTTP)
	}
	if cfg.Stream.RateLimit != 2<<20 || cfg.Stream.ChunkSize != 4000000 {
		t.Errorf("stream = %+v", cfg.Stream)
	}
	if cfg.Sandbox.Capacity != 16 || cfg.Sandbox.NegativeTTL != time.Minute || cfg.Sandbox.EvalTimeout != 250*time.Millisecond {
		t.Errorf("sandbox = %+v", cfg.Sandbox)
	}
	if cfg.Sandbox.Engine != "otto" || cfg.FragmentStore != "sqlite:/tmp/fragments.db" || cfg.Workers != 8 {
		t.Errorf("engine %q, store %q, workers %d", cfg.Sandbox.Engine, cfg.FragmentStore, cfg.Workers)
	}
}

func TestConfigFromEnvEmpty(t *testing.T) {
	cfg, err := configFromEnv(func(string) string { return "" })
	if err != nil {
		t.Fatalf("configFromEnv: %v", err)
	}
	if cfg.HTTP.Timeout != 0 || cfg.Sandbox.Engine != "" || cfg.Workers != 0 || cfg.FragmentStore != "" {
		t.Errorf("empty environment produced %+v", cfg)
	}
}

func TestConfigFromEnvErrors(t *testing.T) {
	tests := []struct {
		name, key, value string
	}{
		{"engine", "YTRESOLVE_ENGINE", "v8"},
		{"retries", "YTRESOLVE_RETRIES", "three"},
		{"timeout", "YTRESOLVE_HTTP_TIMEOUT", "30"},
		{"request rate", "YTRESOLVE_REQUEST_RATE", "fast"},
		{"rate limit", "YTRESOLVE_RATE_LIMIT", "lots"},
		{"chunk size", "YTRESOLVE_CHUNK_SIZE", "-1MB"},
		{"workers", "YTRESOLVE_WORKERS", "1.5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := configFromEnv(func(k string) string {
				if k == tt.key {
					return tt.value
				}
				return ""
			})
			if err == nil {
				t.Fatalf("%s=%q: expected error", tt.key, tt.value)
			}
		})
	}
}

func TestParseRate(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"", 0},
		{"1024", 1024},
		{"100B", 100},
		{"500KiB/s", 500 << 10},
		{"2MiB/s", 2 << 20},
		{"1GiB", 1 << 30},
		{"1.5MB/s", 1500000},
		{"10kb", 10000},
		{" 3 MiB /s ", 3 << 20},
		{"0", 0},
		{"-5MB", 0},
		{"fast", 0},
	}
	for _, tt := range tests {
		if got := ParseRate(tt.in); got != tt.want {
			t.Errorf("ParseRate(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
