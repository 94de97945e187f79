package config

import (
	"strings"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Progress.Floor != 0.05 {
		t.Errorf("Progress.Floor = %v, want 0.05", cfg.Progress.Floor)
	}
	if cfg.Progress.Step != 0.01 {
		t.Errorf("Progress.Step = %v, want 0.01", cfg.Progress.Step)
	}
	if cfg.Progress.SoftCap != 0.93 {
		t.Errorf("Progress.SoftCap = %v, want 0.93", cfg.Progress.SoftCap)
	}
	if cfg.Progress.RateLimit() != time.Second {
		t.Errorf("Progress.RateLimit() = %v, want 1s", cfg.Progress.RateLimit())
	}
	if cfg.Heartbeat.Interval() != 8*time.Second {
		t.Errorf("Heartbeat.Interval() = %v, want 8s", cfg.Heartbeat.Interval())
	}
	if !cfg.Heartbeat.AutoStartEnabled() {
		t.Error("Heartbeat.AutoStartEnabled() = false, want true")
	}
	if cfg.Termination.ScoreThreshold != 90 {
		t.Errorf("Termination.ScoreThreshold = %v, want 90", cfg.Termination.ScoreThreshold)
	}
	if cfg.Termination.ReviewerSource != "reviewer" {
		t.Errorf("Termination.ReviewerSource = %q, want reviewer", cfg.Termination.ReviewerSource)
	}
	if cfg.Termination.MaxMessages != 1000 {
		t.Errorf("Termination.MaxMessages = %d, want 1000", cfg.Termination.MaxMessages)
	}
	if cfg.Phase.OuterDeadline() <= cfg.Termination.LoopTimeout() {
		t.Errorf("outer deadline %v should exceed loop timeout %v", cfg.Phase.OuterDeadline(), cfg.Termination.LoopTimeout())
	}
	if cfg.Publish.InitialBackoff.Duration() != 50*time.Millisecond {
		t.Errorf("Publish.InitialBackoff = %v, want 50ms", cfg.Publish.InitialBackoff.Duration())
	}
	if cfg.Server.Port != 9191 {
		t.Errorf("Server.Port = %d, want 9191", cfg.Server.Port)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default().Validate() error = %v", err)
	}
}

func TestHeartbeatConfig_AutoStartDisabled(t *testing.T) {
	off := false
	cfg := HeartbeatConfig{AutoStart: &off}
	if cfg.AutoStartEnabled() {
		t.Error("AutoStartEnabled() = true, want false")
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(*Config) {},
		},
		{
			name:    "floor above one",
			mutate:  func(c *Config) { c.Progress.Floor = 1.5 },
			wantErr: "progress.floor",
		},
		{
			name:    "zero step",
			mutate:  func(c *Config) { c.Progress.Step = 0 },
			wantErr: "progress.step",
		},
		{
			name:    "soft cap below floor",
			mutate:  func(c *Config) { c.Progress.SoftCap = 0.01 },
			wantErr: "progress.soft_cap",
		},
		{
			name:    "negative rate limit",
			mutate:  func(c *Config) { c.Progress.RateLimitSeconds = -1 },
			wantErr: "rate_limit_seconds",
		},
		{
			name:    "zero heartbeat interval",
			mutate:  func(c *Config) { c.Heartbeat.IntervalSeconds = 0 },
			wantErr: "heartbeat.interval_seconds",
		},
		{
			name:    "zero max messages",
			mutate:  func(c *Config) { c.Termination.MaxMessages = 0 },
			wantErr: "termination.max_messages",
		},
		{
			name:    "zero outer deadline",
			mutate:  func(c *Config) { c.Phase.OuterDeadlineSeconds = 0 },
			wantErr: "phase.outer_deadline_seconds",
		},
		{
			name:    "invalid port",
			mutate:  func(c *Config) { c.Server.Port = 99999 },
			wantErr: "invalid server port",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() error = nil, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestEnvKey(t *testing.T) {
	tests := map[string]string{
		"TASKRELAY_PROGRESS_SOFT_CAP":          "progress.soft_cap",
		"TASKRELAY_HEARTBEAT_INTERVAL_SECONDS": "heartbeat.interval_seconds",
		"TASKRELAY_NATS_URL":                   "nats.url",
		"TASKRELAY_DEBUG":                      "debug",
	}
	for in, want := range tests {
		if got := envKey(in); got != want {
			t.Errorf("envKey(%q) = %q, want %q", in, got, want)
		}
	}
}
