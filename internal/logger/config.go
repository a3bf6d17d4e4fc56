package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// EnvPrefix prefixes every logging environment variable.
const EnvPrefix = "YTRESOLVE_LOG_"

// LogConfig is the serialisable logging configuration
type LogConfig struct {
	Level      string          `json:"level"`
	Format     string          `json:"format"`
	Output     string          `json:"output"`
	Components map[string]bool `json:"components"`
	ShowCaller bool            `json:"show_caller"`
	Timestamp  bool            `json:"timestamp"`
	Rotation   *RotationConfig `json:"rotation,omitempty"`
}

// RotationConfig controls rotation of file outputs
type RotationConfig struct {
	MaxSize    string `json:"max_size"`    // e.g. "100MB"
	MaxAge     string `json:"max_age"`     // e.g. "7d"
	MaxBackups int    `json:"max_backups"` // number of kept backups
	Compress   bool   `json:"compress"`    // gzip rotated files
}

// DefaultLogConfig returns default logging configuration
func DefaultLogConfig() *LogConfig {
	components := make(map[string]bool, len(AllComponents))
	for _, c := range AllComponents {
		components[string(c)] = c == ComponentApp
	}
	return &LogConfig{
		Level:      "INFO",
		Format:     "text",
		Output:     "stderr",
		Components: components,
	}
}

// LoadConfigFromFile loads configuration from a JSON file
func LoadConfigFromFile(filename string) (*LogConfig, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	config := DefaultLogConfig()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return config, nil
}

// SaveConfigToFile saves configuration to a JSON file
func (c *LogConfig) SaveConfigToFile(filename string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// EnvironmentConfig loads configuration from YTRESOLVE_LOG_* variables on
// top of the defaults.
func EnvironmentConfig() *LogConfig {
	return environmentConfig(os.Getenv)
}

func environmentConfig(getenv func(string) string) *LogConfig {
	config := DefaultLogConfig()

	if v := getenv(EnvPrefix + "LEVEL"); v != "" {
		config.Level = v
	}
	if v := getenv(EnvPrefix + "FORMAT"); v != "" {
		config.Format = v
	}
	if v := getenv(EnvPrefix + "OUTPUT"); v != "" {
		config.Output = v
	}
	if v := getenv(EnvPrefix + "CALLER"); v != "" {
		config.ShowCaller = isTrue(v)
	}
	if v := getenv(EnvPrefix + "TIMESTAMP"); v != "" {
		config.Timestamp = isTrue(v)
	}
	// "all" enables every component; otherwise a comma separated allow list.
	if v := getenv(EnvPrefix + "COMPONENTS"); v != "" {
		config.Components = make(map[string]bool)
		for _, comp := range strings.Split(v, ",") {
			comp = strings.TrimSpace(comp)
			if comp == "" {
				continue
			}
			if comp == "all" {
				for _, c := range AllComponents {
					config.Components[string(c)] = true
				}
				continue
			}
			config.Components[comp] = true
		}
	}
	if v := getenv(EnvPrefix + "MAX_SIZE"); v != "" {
		config.rotation().MaxSize = v
	}
	if v := getenv(EnvPrefix + "MAX_AGE"); v != "" {
		config.rotation().MaxAge = v
	}
	if v := getenv(EnvPrefix + "MAX_BACKUPS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.rotation().MaxBackups = n
		}
	}
	if v := getenv(EnvPrefix + "COMPRESS"); v != "" {
		config.rotation().Compress = isTrue(v)
	}
	return config
}

func (c *LogConfig) rotation() *RotationConfig {
	if c.Rotation == nil {
		c.Rotation = &RotationConfig{MaxBackups: 3}
	}
	return c.Rotation
}

func isTrue(v string) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	return err == nil && b
}

// ValidateConfig validates the configuration without opening outputs
func (c *LogConfig) ValidateConfig() error {
	if _, err := parseLevel(c.Level); err != nil {
		return fmt.Errorf("invalid level: %w", err)
	}
	if _, err := parseFormat(c.Format); err != nil {
		return fmt.Errorf("invalid format: %w", err)
	}
	if err := validateOutput(c.Output); err != nil {
		return fmt.Errorf("invalid output: %w", err)
	}
	if c.Rotation != nil {
		if err := c.Rotation.Validate(); err != nil {
			return fmt.Errorf("invalid rotation config: %w", err)
		}
	}
	return nil
}

// Validate validates rotation configuration
func (r *RotationConfig) Validate() error {
	if _, err := parseSize(r.MaxSize); err != nil {
		return fmt.Errorf("invalid max_size: %w", err)
	}
	if _, err := parseDuration(r.MaxAge); err != nil {
		return fmt.Errorf("invalid max_age: %w", err)
	}
	if r.MaxBackups < 0 {
		return fmt.Errorf("max_backups must be non-negative")
	}
	return nil
}

// ToLoggerConfig converts LogConfig to Config, opening the output. File
// outputs with a rotation section get a RotatingWriter.
func (c *LogConfig) ToLoggerConfig() (*Config, error) {
	if err := c.ValidateConfig(); err != nil {
		return nil, err
	}
	level, _ := parseLevel(c.Level)
	format, _ := parseFormat(c.Format)

	output, err := c.openOutput()
	if err != nil {
		return nil, fmt.Errorf("open output: %w", err)
	}

	components := make(map[Component]bool, len(c.Components))
	for name, enabled := range c.Components {
		components[Component(name)] = enabled
	}

	return &Config{
		Level:      level,
		Format:     format,
		Output:     output,
		Components: components,
		ShowCaller: c.ShowCaller,
		Timestamp:  c.Timestamp,
	}, nil
}

func (c *LogConfig) openOutput() (io.Writer, error) {
	path, isFile := filePath(c.Output)
	if !isFile || c.Rotation == nil {
		return parseOutput(c.Output)
	}
	maxSize, _ := parseSize(c.Rotation.MaxSize)
	maxAge, _ := parseDuration(c.Rotation.MaxAge)
	return NewRotatingWriter(path, maxSize, maxAge, c.Rotation.MaxBackups, c.Rotation.Compress)
}

// CreateLoggerFromConfig creates a logger from LogConfig
func CreateLoggerFromConfig(config *LogConfig) (*Logger, error) {
	loggerConfig, err := config.ToLoggerConfig()
	if err != nil {
		return nil, fmt.Errorf("convert config: %w", err)
	}
	return New(loggerConfig), nil
}

func parseLevel(levelStr string) (Level, error) {
	switch strings.ToUpper(strings.TrimSpace(levelStr)) {
	case "TRACE":
		return TRACE, nil
	case "DEBUG":
		return DEBUG, nil
	case "INFO", "":
		return INFO, nil
	case "WARN", "WARNING":
		return WARN, nil
	case "ERROR":
		return ERROR, nil
	default:
		return INFO, fmt.Errorf("unknown level: %s", levelStr)
	}
}

func parseFormat(formatStr string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(formatStr)) {
	case "text", "":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	case "color", "colored":
		return FormatColor, nil
	default:
		return FormatText, fmt.Errorf("unknown format: %s", formatStr)
	}
}

func filePath(output string) (string, bool) {
	if strings.HasPrefix(output, "file:") {
		return strings.TrimPrefix(output, "file:"), true
	}
	return "", false
}

func validateOutput(outputStr string) error {
	switch strings.ToLower(outputStr) {
	case "stdout", "stderr", "null", "none", "":
		return nil
	}
	if path, ok := filePath(outputStr); ok && path != "" {
		return nil
	}
	return fmt.Errorf("unknown output: %s", outputStr)
}

func parseOutput(outputStr string) (io.Writer, error) {
	switch strings.ToLower(outputStr) {
	case "stdout":
		return os.Stdout, nil
	case "stderr", "":
		return os.Stderr, nil
	case "null", "none":
		return io.Discard, nil
	}
	path, ok := filePath(outputStr)
	if !ok || path == "" {
		return nil, fmt.Errorf("unknown output: %s", outputStr)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return file, nil
}

// parseSize parses "100MB", "1GB" into bytes. Empty means unlimited.
func parseSize(sizeStr string) (int64, error) {
	num, unit, err := splitNumber(sizeStr)
	if err != nil || num == 0 && unit == "" {
		return num, err
	}
	switch strings.ToUpper(unit) {
	case "B", "":
		return num, nil
	case "KB":
		return num << 10, nil
	case "MB":
		return num << 20, nil
	case "GB":
		return num << 30, nil
	case "TB":
		return num << 40, nil
	default:
		return 0, fmt.Errorf("unknown unit: %s", unit)
	}
}

// parseDuration parses "7d", "24h", "30m". Empty means no age limit.
func parseDuration(durationStr string) (time.Duration, error) {
	num, unit, err := splitNumber(durationStr)
	if err != nil || num == 0 && unit == "" {
		return time.Duration(num), err
	}
	switch strings.ToLower(unit) {
	case "s", "sec", "second", "seconds":
		return time.Duration(num) * time.Second, nil
	case "m", "min", "minute", "minutes":
		return time.Duration(num) * time.Minute, nil
	case "h", "hour", "hours":
		return time.Duration(num) * time.Hour, nil
	case "d", "day", "days":
		return time.Duration(num) * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("unknown unit: %s", unit)
	}
}

func splitNumber(s string) (int64, string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, "", nil
	}
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i == 0 {
		return 0, "", fmt.Errorf("no number found in %q", s)
	}
	num, err := strconv.ParseInt(s[:i], 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("parse number: %w", err)
	}
	return num, strings.TrimSpace(s[i:]), nil
}
