package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB

	// EnvPrefix prefixes every environment variable read by LoadWithFile.
	EnvPrefix = "TASKRELAY_"
)

// LoadWithFile loads configuration from YAML file, then overrides with environment variables.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (TASKRELAY_PROGRESS_SOFT_CAP, TASKRELAY_NATS_URL, etc.)
//  2. YAML config file (~/.config/taskrelay/config.yaml)
//  3. Hardcoded defaults
//
// The configPath parameter specifies the YAML file to load. If empty, uses default path.
//
// # Security Considerations
//
// File Permissions: the configuration file MUST have 0600 or 0400 permissions.
//
// Path Validation: only files under ~/.config/taskrelay/ or /etc/taskrelay/ can be loaded.
//
// File Size Limit: files larger than 1MB are rejected.
//
// # Environment Variable Mapping
//
// The prefix is stripped and the remainder split on the first underscore:
//
//	TASKRELAY_PROGRESS_SOFT_CAP        -> progress.soft_cap
//	TASKRELAY_HEARTBEAT_INTERVAL_SECONDS -> heartbeat.interval_seconds
//	TASKRELAY_SERVER_HTTP_PORT         -> server.http_port
func LoadWithFile(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configPath = filepath.Join(home, ".config", "taskrelay", "config.yaml")
	}

	if err := validateConfigPath(configPath); err != nil {
		return nil, fmt.Errorf("config path validation failed: %w", err)
	}

	if _, err := os.Stat(configPath); err == nil {
		// Open once and validate through the descriptor to avoid a TOCTOU race
		f, err := os.Open(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
		if err := validateConfigFileProperties(info); err != nil {
			return nil, fmt.Errorf("config file validation failed: %w", err)
		}

		content, err := io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// envKey maps TASKRELAY_SECTION_FIELD_NAME to section.field_name.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower
	}
	return parts[0] + "." + parts[1]
}

// validateConfigPath checks if path is in allowed directories.
// This validation runs even if the file doesn't exist yet.
func validateConfigPath(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	// Follow symlinks so they cannot escape the allowed directories
	resolvedPath, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		resolvedPath = absPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}

	allowedDirs := []string{
		filepath.Join(home, ".config", "taskrelay"),
		"/etc/taskrelay",
	}

	for _, dir := range allowedDirs {
		if resolvedPath == dir || strings.HasPrefix(resolvedPath, dir+string(filepath.Separator)) {
			return nil
		}
	}

	return fmt.Errorf("config file must be in ~/.config/taskrelay/ or /etc/taskrelay/")
}

// validateConfigFileProperties checks file permissions and size.
// Takes FileInfo from an already-opened file descriptor.
func validateConfigFileProperties(info os.FileInfo) error {
	if runtime.GOOS != "windows" {
		perm := info.Mode().Perm()
		if perm != 0600 && perm != 0400 {
			return fmt.Errorf("insecure config file permissions: %v (expected 0600 or 0400)", perm)
		}
	}

	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}

	return nil
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	// Progress aggregator
	if cfg.Progress.Floor == 0 {
		cfg.Progress.Floor = 0.05
	}
	if cfg.Progress.Step == 0 {
		cfg.Progress.Step = 0.01
	}
	if cfg.Progress.SoftCap == 0 {
		cfg.Progress.SoftCap = 0.93
	}
	if cfg.Progress.RateLimitSeconds == 0 {
		cfg.Progress.RateLimitSeconds = 1.0
	}
	if cfg.Progress.FinalGraceSeconds == 0 {
		cfg.Progress.FinalGraceSeconds = 30
	}
	if cfg.Progress.TombstoneTTLSeconds == 0 {
		cfg.Progress.TombstoneTTLSeconds = 3600
	}

	if cfg.Heartbeat.IntervalSeconds == 0 {
		cfg.Heartbeat.IntervalSeconds = 8
	}

	// Termination
	if cfg.Termination.ScoreThreshold == 0 {
		cfg.Termination.ScoreThreshold = 90
	}
	if cfg.Termination.ReviewerSource == "" {
		cfg.Termination.ReviewerSource = "reviewer"
	}
	if cfg.Termination.LoopTimeoutSeconds == 0 {
		cfg.Termination.LoopTimeoutSeconds = 300
	}
	if cfg.Termination.MaxMessages == 0 {
		cfg.Termination.MaxMessages = 1000
	}

	// Phases
	if cfg.Phase.OuterDeadlineSeconds == 0 {
		cfg.Phase.OuterDeadlineSeconds = 600
	}
	if cfg.Phase.DeliveryConcurrency == 0 {
		cfg.Phase.DeliveryConcurrency = 4
	}
	if cfg.Phase.UploadTimeoutSeconds == 0 {
		cfg.Phase.UploadTimeoutSeconds = 60
	}

	// Publish channel
	if cfg.Publish.MaxRetries == 0 {
		cfg.Publish.MaxRetries = 3
	}
	if cfg.Publish.InitialBackoff == 0 {
		cfg.Publish.InitialBackoff = Duration(50 * time.Millisecond)
	}
	if cfg.Publish.MaxBackoff == 0 {
		cfg.Publish.MaxBackoff = Duration(time.Second)
	}
	if cfg.Publish.PerSecond == 0 {
		cfg.Publish.PerSecond = 50
	}
	if cfg.Publish.Burst == 0 {
		cfg.Publish.Burst = 10
	}

	if cfg.NATS.URL == "" {
		cfg.NATS.URL = "nats://localhost:4222"
	}
	if cfg.NATS.SubjectPrefix == "" {
		cfg.NATS.SubjectPrefix = "taskrelay"
	}
	if cfg.NATS.MaxReconnects == 0 {
		cfg.NATS.MaxReconnects = 5
	}
	if cfg.NATS.ReconnectWait == 0 {
		cfg.NATS.ReconnectWait = Duration(time.Second)
	}

	// Server
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9191
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}

	if cfg.Artifacts.Dir == "" {
		cfg.Artifacts.Dir = defaultArtifactsDir()
	}
}

func defaultArtifactsDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "taskrelay", "artifacts")
	}
	return filepath.Join(home, ".local", "share", "taskrelay", "artifacts")
}

// EnsureConfigDir creates the taskrelay config directory with 0700 permissions.
func EnsureConfigDir() error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}

	configDir := filepath.Join(home, ".config", "taskrelay")
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", configDir, err)
	}

	return nil
}
