// Package config provides configuration loading for taskrelay.
//
// Configuration is assembled from hardcoded defaults, an optional YAML file and
// TASKRELAY_* environment variables (see LoadWithFile). Every numeric knob of the
// progress aggregator, the termination composer and the phase orchestrator lives here.
package config

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Config holds the complete taskrelay configuration.
type Config struct {
	Progress    ProgressConfig    `koanf:"progress"`
	Heartbeat   HeartbeatConfig   `koanf:"heartbeat"`
	Termination TerminationConfig `koanf:"termination"`
	Phase       PhaseConfig       `koanf:"phase"`
	Publish     PublishConfig     `koanf:"publish"`
	NATS        NATSConfig        `koanf:"nats"`
	Server      ServerConfig      `koanf:"server"`
	Artifacts   ArtifactsConfig   `koanf:"artifacts"`
	Scrub       ScrubConfig       `koanf:"scrub"`
}

// ProgressConfig tunes the progress aggregator.
type ProgressConfig struct {
	Floor               float64 `koanf:"floor"`
	Step                float64 `koanf:"step"`
	SoftCap             float64 `koanf:"soft_cap"`
	RateLimitSeconds    float64 `koanf:"rate_limit_seconds"`
	FinalGraceSeconds   float64 `koanf:"final_grace_seconds"`
	TombstoneTTLSeconds float64 `koanf:"tombstone_ttl_seconds"`
}

// RateLimit returns the minimum interval between two publishes of the same update.
func (c ProgressConfig) RateLimit() time.Duration { return seconds(c.RateLimitSeconds) }

// FinalGrace returns how long a finalized task state is retained.
func (c ProgressConfig) FinalGrace() time.Duration { return seconds(c.FinalGraceSeconds) }

// TombstoneTTL returns how long a finalized task id is remembered after its state is dropped.
func (c ProgressConfig) TombstoneTTL() time.Duration { return seconds(c.TombstoneTTLSeconds) }

// HeartbeatConfig controls liveness republishing.
type HeartbeatConfig struct {
	IntervalSeconds float64 `koanf:"interval_seconds"`
	// AutoStart arms the heartbeat on the first accepted report for a task.
	AutoStart *bool `koanf:"auto_start"`
}

// Interval returns the heartbeat period.
func (c HeartbeatConfig) Interval() time.Duration { return seconds(c.IntervalSeconds) }

// AutoStartEnabled reports whether heartbeats start on the first accepted report.
func (c HeartbeatConfig) AutoStartEnabled() bool {
	return c.AutoStart == nil || *c.AutoStart
}

// TerminationConfig configures the stop conditions of the bounded loop.
type TerminationConfig struct {
	ScoreThreshold     float64 `koanf:"score_threshold"`
	ReviewerSource     string  `koanf:"reviewer_source"`
	LoopTimeoutSeconds float64 `koanf:"loop_timeout_seconds"`
	MaxMessages        int     `koanf:"max_messages"`
}

// LoopTimeout returns the wall-clock backstop of the loop.
func (c TerminationConfig) LoopTimeout() time.Duration { return seconds(c.LoopTimeoutSeconds) }

// PhaseConfig configures the phase orchestrator.
type PhaseConfig struct {
	OuterDeadlineSeconds float64 `koanf:"outer_deadline_seconds"`
	DeliveryConcurrency  int     `koanf:"delivery_concurrency"`
	UploadTimeoutSeconds float64 `koanf:"upload_timeout_seconds"`
}

// OuterDeadline returns the coarse deadline of the planning/execution phase.
func (c PhaseConfig) OuterDeadline() time.Duration { return seconds(c.OuterDeadlineSeconds) }

// UploadTimeout returns the per-artifact upload timeout.
func (c PhaseConfig) UploadTimeout() time.Duration { return seconds(c.UploadTimeoutSeconds) }

// PublishConfig controls retries and pacing of outgoing updates.
type PublishConfig struct {
	MaxRetries     int      `koanf:"max_retries"`
	InitialBackoff Duration `koanf:"initial_backoff"`
	MaxBackoff     Duration `koanf:"max_backoff"`
	PerSecond      float64  `koanf:"per_second"`
	Burst          int      `koanf:"burst"`
}

// NATSConfig holds the publish channel connection settings.
type NATSConfig struct {
	URL           string   `koanf:"url"`
	SubjectPrefix string   `koanf:"subject_prefix"`
	Token         Secret   `koanf:"token"`
	MaxReconnects int      `koanf:"max_reconnects"`
	ReconnectWait Duration `koanf:"reconnect_wait"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `koanf:"http_host"`
	Port            int           `koanf:"http_port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// ArtifactsConfig configures the filesystem artifact store.
type ArtifactsConfig struct {
	Dir string `koanf:"dir"`
}

// ScrubConfig controls secret redaction of published updates.
type ScrubConfig struct {
	Enabled   *bool    `koanf:"enabled"`
	AllowList []string `koanf:"allow_list"`
}

// Active reports whether scrubbing is on. It defaults to true.
func (c ScrubConfig) Active() bool {
	return c.Enabled == nil || *c.Enabled
}

// Default returns a configuration populated with every default value.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []error

	p := c.Progress
	if !inUnitInterval(p.Floor) {
		errs = append(errs, fmt.Errorf("progress.floor must be within [0,1], got %v", p.Floor))
	}
	if !(p.Step > 0 && p.Step <= 1) {
		errs = append(errs, fmt.Errorf("progress.step must be within (0,1], got %v", p.Step))
	}
	if !inUnitInterval(p.SoftCap) || p.SoftCap < p.Floor {
		errs = append(errs, fmt.Errorf("progress.soft_cap must be within [floor,1], got %v", p.SoftCap))
	}
	if p.RateLimitSeconds < 0 {
		errs = append(errs, errors.New("progress.rate_limit_seconds cannot be negative"))
	}
	if p.FinalGraceSeconds < 0 || p.TombstoneTTLSeconds < 0 {
		errs = append(errs, errors.New("progress retention windows cannot be negative"))
	}

	if c.Heartbeat.IntervalSeconds <= 0 {
		errs = append(errs, fmt.Errorf("heartbeat.interval_seconds must be positive, got %v", c.Heartbeat.IntervalSeconds))
	}

	if c.Termination.LoopTimeoutSeconds <= 0 {
		errs = append(errs, errors.New("termination.loop_timeout_seconds must be positive"))
	}
	if c.Termination.MaxMessages <= 0 {
		errs = append(errs, errors.New("termination.max_messages must be positive"))
	}

	if c.Phase.OuterDeadlineSeconds <= 0 {
		errs = append(errs, errors.New("phase.outer_deadline_seconds must be positive"))
	}
	if c.Phase.DeliveryConcurrency <= 0 {
		errs = append(errs, errors.New("phase.delivery_concurrency must be positive"))
	}

	if c.Publish.MaxRetries < 0 {
		errs = append(errs, errors.New("publish.max_retries cannot be negative"))
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port))
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("shutdown timeout must be positive"))
	}

	return errors.Join(errs...)
}

func inUnitInterval(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 1
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
