package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestEnvironmentConfig(t *testing.T) {
	env := map[string]string{
		"YTRESOLVE_LOG_LEVEL":       "debug",
		"YTRESOLVE_LOG_FORMAT":      "json",
		"YTRESOLVE_LOG_CALLER":      "true",
		"YTRESOLVE_LOG_COMPONENTS":  "sandbox, cipher",
		"YTRESOLVE_LOG_MAX_SIZE":    "10MB",
		"YTRESOLVE_LOG_MAX_BACKUPS": "5",
	}
	config := environmentConfig(func(k string) string { return env[k] })

	if config.Level != "debug" || config.Format != "json" || !config.ShowCaller {
		t.Fatalf("unexpected config: %+v", config)
	}
	if !config.Components["sandbox"] || !config.Components["cipher"] || config.Components["app"] {
		t.Errorf("components = %v", config.Components)
	}
	if config.Rotation == nil || config.Rotation.MaxSize != "10MB" || config.Rotation.MaxBackups != 5 {
		t.Errorf("rotation = %+v", config.Rotation)
	}
	if err := config.ValidateConfig(); err != nil {
		t.Errorf("ValidateConfig: %v", err)
	}
}

func TestEnvironmentConfigAll(t *testing.T) {
	config := environmentConfig(func(k string) string {
		if k == "YTRESOLVE_LOG_COMPONENTS" {
			return "all"
		}
		return ""
	})
	for _, c := range AllComponents {
		if !config.Components[string(c)] {
			t.Errorf("component %s should be enabled", c)
		}
	}
	if config.Rotation != nil {
		t.Error("rotation should stay unset")
	}
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*LogConfig)
		wantErr bool
	}{
		{"defaults", func(*LogConfig) {}, false},
		{"bad level", func(c *LogConfig) { c.Level = "LOUD" }, true},
		{"bad format", func(c *LogConfig) { c.Format = "xml" }, true},
		{"bad output", func(c *LogConfig) { c.Output = "syslog" }, true},
		{"empty file", func(c *LogConfig) { c.Output = "file:" }, true},
		{"bad size", func(c *LogConfig) { c.Rotation = &RotationConfig{MaxSize: "10XB"} }, true},
		{"bad age", func(c *LogConfig) { c.Rotation = &RotationConfig{MaxAge: "3w"} }, true},
		{"negative backups", func(c *LogConfig) { c.Rotation = &RotationConfig{MaxBackups: -1} }, true},
		{"file rotation", func(c *LogConfig) {
			c.Output = "file:/tmp/x.log"
			c.Rotation = &RotationConfig{MaxSize: "1MB", MaxAge: "7d"}
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultLogConfig()
			tt.mutate(c)
			err := c.ValidateConfig()
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"", 0},
		{"512", 512},
		{"1KB", 1024},
		{"10MB", 10 << 20},
		{"2GB", 2 << 30},
	}
	for _, tt := range tests {
		got, err := parseSize(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("parseSize(%q) = %d, %v; want %d", tt.in, got, err, tt.want)
		}
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"", 0},
		{"30s", 30 * time.Second},
		{"15m", 15 * time.Minute},
		{"24h", 24 * time.Hour},
		{"7d", 7 * 24 * time.Hour},
	}
	for _, tt := range tests {
		got, err := parseDuration(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("parseDuration(%q) = %v, %v; want %v", tt.in, got, err, tt.want)
		}
	}
}

func TestSaveAndLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.json")
	c := DefaultLogConfig()
	c.Level = "WARN"
	c.Components["manifest"] = true
	if err := c.SaveConfigToFile(path); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := LoadConfigFromFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Level != "WARN" || !loaded.Components["manifest"] {
		t.Errorf("loaded = %+v", loaded)
	}
}

func TestCreateLoggerFromConfig_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "out.log")
	c := DefaultLogConfig()
	c.Output = "file:" + path

	l, err := CreateLoggerFromConfig(c)
	if err != nil {
		t.Fatalf("CreateLoggerFromConfig: %v", err)
	}
	l.WithComponent(ComponentApp).Info("to file")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(data), "to file") {
		t.Errorf("file content = %q", data)
	}
}

func TestRotatingWriter_Size(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")
	rw, err := NewRotatingWriter(path, 16, 0, 2, false)
	if err != nil {
		t.Fatalf("NewRotatingWriter: %v", err)
	}
	defer rw.Close()

	tick := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rw.now = func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}

	for i := 0; i < 5; i++ {
		if _, err := rw.Write([]byte("0123456789\n")); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	var backups int
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "app.log.") {
			backups++
		}
	}
	if backups != 2 {
		t.Errorf("expected 2 kept backups, got %d", backups)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "0123456789\n" {
		t.Errorf("current file = %q", data)
	}
}

func TestRotatingWriter_Closed(t *testing.T) {
	rw, err := NewRotatingWriter(filepath.Join(t.TempDir(), "a.log"), 0, 0, 0, false)
	if err != nil {
		t.Fatal(err)
	}
	if err := rw.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := rw.Write([]byte("x")); err == nil {
		t.Error("write after close should fail")
	}
}
