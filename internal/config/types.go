// Package config loads and watches postbot's configuration file.
//
// The file may be JSON or YAML; YAML is coerced to JSON so a single strict
// decoder (DisallowUnknownFields) covers both. Secrets support ${ENV}
// expansion so tokens can stay out of the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Content   ContentConfig   `json:"content"`
	Storage   StorageConfig   `json:"storage"`
	Schedule  ScheduleConfig  `json:"schedule,omitempty"`
	Notify    NotifyConfig    `json:"notify,omitempty"`
	Broadcast BroadcastConfig `json:"broadcast,omitempty"`
}

type TelegramConfig struct {
	// Token supports ${ENV} expansion; falls back to TELEGRAM_BOT_TOKEN.
	Token string `json:"token"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type ContentConfig struct {
	// Provider: "openai" (default) or "static".
	Provider string `json:"provider,omitempty"`
	// APIKey supports ${ENV} expansion; falls back to OPENAI_API_KEY.
	APIKey  string `json:"api_key,omitempty"`
	BaseURL string `json:"base_url,omitempty"`
	Model   string `json:"model,omitempty"`
	Timeout string `json:"timeout,omitempty"`
}

type StorageConfig struct {
	Driver      string `json:"driver,omitempty"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// ScheduleConfig tunes the posting engine. Both knobs are Go duration
// strings; leave them empty for the defaults (10s warm-up, 1m floor).
type ScheduleConfig struct {
	WarmUp   string `json:"warm_up,omitempty"`
	MinDelay string `json:"min_delay,omitempty"`
}

type NotifyConfig struct {
	Workers    int    `json:"workers,omitempty"`
	QueueSize  int    `json:"queue_size,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
	RetryMax   int    `json:"retry_max,omitempty"`
	RetryBase  string `json:"retry_base,omitempty"`
}

type BroadcastConfig struct {
	RatePerSec int    `json:"rate_per_sec,omitempty"`
	Pause      string `json:"pause,omitempty"`
}

// expandSecrets applies ${ENV} expansion and environment fallbacks.
func (c *Config) expandSecrets() {
	c.Telegram.Token = strings.TrimSpace(os.ExpandEnv(c.Telegram.Token))
	if c.Telegram.Token == "" {
		c.Telegram.Token = strings.TrimSpace(os.Getenv("TELEGRAM_BOT_TOKEN"))
	}
	c.Content.APIKey = strings.TrimSpace(os.ExpandEnv(c.Content.APIKey))
	if c.Content.APIKey == "" {
		c.Content.APIKey = strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	}
}

// Validate checks the parts that would otherwise fail deep inside a service.
func (c *Config) Validate() error {
	if c.Telegram.Token == "" {
		return errors.New("telegram.token is required (or set TELEGRAM_BOT_TOKEN)")
	}
	for _, d := range []struct{ name, val string }{
		{"telegram.poll_timeout", c.Telegram.PollTimeout},
		{"content.timeout", c.Content.Timeout},
		{"storage.busy_timeout", c.Storage.BusyTimeout},
		{"schedule.warm_up", c.Schedule.WarmUp},
		{"schedule.min_delay", c.Schedule.MinDelay},
		{"notify.retry_base", c.Notify.RetryBase},
		{"broadcast.pause", c.Broadcast.Pause},
	} {
		if d.val == "" {
			continue
		}
		if _, err := time.ParseDuration(d.val); err != nil {
			return fmt.Errorf("%s: %w", d.name, err)
		}
	}
	return nil
}

// Duration parses a Go duration string, returning def when s is empty or
// malformed. Validate() rejects malformed values up front, so the silent
// default only covers the empty case in practice.
func Duration(s string, def time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}
