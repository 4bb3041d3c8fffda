// Package config holds the engine configuration. A JSON5 file provides
// the base, environment variables overlay secrets on top; secrets are
// never written back to the file.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/titanous/json5"
)

// Config is the root configuration.
type Config struct {
	Admin    AdminConfig    `json:"admin"`
	Bridge   BridgeConfig   `json:"bridge"`
	Database DatabaseConfig `json:"database"`
	Agents   AgentsConfig   `json:"agents"`
	Sessions SessionsConfig `json:"sessions"`
	Sweeps   SweepsConfig   `json:"sweeps"`
	Outbound OutboundConfig `json:"outbound"`
	Files    FilesConfig    `json:"files"`
}

// AdminConfig configures the administrative HTTP API.
type AdminConfig struct {
	Host  string `json:"host"`
	Port  int    `json:"port"`
	Token string `json:"-"` // from env ZAPDESK_ADMIN_TOKEN only
}

// BridgeConfig points at the external chat-network bridge process.
// The bridge speaks the wire protocol; we exchange JSON frames with it
// over a WebSocket.
type BridgeConfig struct {
	URL string `json:"url"` // env ZAPDESK_BRIDGE_URL overrides
	// StaleAfterSeconds drops inbound events older than this, so an
	// outage is not replayed at the users.
	StaleAfterSeconds int `json:"stale_after_seconds"`
}

// DatabaseConfig configures Postgres.
// The DSN is never read from the config file (secret), only from env
// ZAPDESK_POSTGRES_DSN.
type DatabaseConfig struct {
	PostgresDSN string `json:"-"`
}

// AgentsConfig is the known-operator registry. Operator commands
// (/finalizar, /falarcom_) are honored only for phones listed here.
type AgentsConfig struct {
	Known []string `json:"known"`
}

// IsKnown reports whether a phone belongs to a registered operator.
func (a AgentsConfig) IsKnown(phone string) bool {
	for _, p := range a.Known {
		if p == phone {
			return true
		}
	}
	return false
}

// SessionsConfig controls the in-memory working set.
type SessionsConfig struct {
	// IdleTimeoutMinutes is the fallback eviction threshold; the
	// session_timeout_minutes setting in the store takes precedence.
	IdleTimeoutMinutes int `json:"idle_timeout_minutes"`
}

// SweepsConfig holds the cron expressions for the maintenance sweeps.
type SweepsConfig struct {
	Reminders      string `json:"reminders"`
	QueuePositions string `json:"queue_positions"`
	IdleEviction   string `json:"idle_eviction"`
	PostSale       string `json:"post_sale"`
}

// OutboundConfig bounds per-contact outbound send rate.
type OutboundConfig struct {
	RatePerSecond float64 `json:"rate_per_second"`
	Burst         int     `json:"burst"`
}

// FilesConfig locates static documents sent during flows.
type FilesConfig struct {
	TermsPath   string `json:"terms_path"`
	InvoicesDir string `json:"invoices_dir"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Admin: AdminConfig{
			Host: "0.0.0.0",
			Port: 3000,
		},
		Bridge: BridgeConfig{
			URL:               "ws://127.0.0.1:3001/ws",
			StaleAfterSeconds: 60,
		},
		Sessions: SessionsConfig{
			IdleTimeoutMinutes: 360,
		},
		Sweeps: SweepsConfig{
			Reminders:      "0 * * * *",
			QueuePositions: "* * * * *",
			IdleEviction:   "*/30 * * * *",
			PostSale:       "*/5 * * * *",
		},
		Outbound: OutboundConfig{
			RatePerSecond: 1,
			Burst:         5,
		},
		Files: FilesConfig{
			TermsPath:   "./resources/termos_lgpd.pdf",
			InvoicesDir: "./invoices",
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file is not an error: defaults plus env apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envStr("ZAPDESK_POSTGRES_DSN", &c.Database.PostgresDSN)
	envStr("ZAPDESK_ADMIN_TOKEN", &c.Admin.Token)
	envStr("ZAPDESK_BRIDGE_URL", &c.Bridge.URL)

	if v := os.Getenv("ZAPDESK_ADMIN_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Admin.Port = p
		}
	}
}
