// Package config holds the call-control client's persisted configuration,
// generalized from the teacher's internal/config/config.go: a small typed
// struct tree with JSON tags, a Default() constructor, and a Validate()
// pass, loaded/saved as a single JSON blob.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// Config is the root configuration object.
type Config struct {
	Signaling Signaling `json:"signaling"`
	Toggles   Toggles   `json:"toggles"`
	Resilience Resilience `json:"resilience"`
}

// Signaling holds the default signaling host and the trusted-host
// allowlist used by the deep-link resolver's host policy (spec §4.4).
type Signaling struct {
	// DefaultHost is the bare-authority host persisted across restarts
	// (spec §6 "Default host").
	DefaultHost string `json:"default_host"`

	// TrustedHosts is the fixed allowlist of canonical hosts (spec §4.4:
	// "a fixed allowlist of two canonical hosts"). Deep links to any
	// other host are applied as a one-off and never persisted.
	TrustedHosts []string `json:"trusted_hosts"`
}

// Toggles are the feature flags spec §6 lists as persisted state.
type Toggles struct {
	DefaultMicEnabled          bool `json:"default_mic_enabled"`
	DefaultCamEnabled          bool `json:"default_cam_enabled"`
	HDVideoExperimental        bool `json:"hd_video_experimental"`
	SavedRoomsShownFirst       bool `json:"saved_rooms_shown_first"`
	InviteNotificationsEnabled bool `json:"invite_notifications_enabled"`
}

// Resilience holds override values for a subset of the shared timing
// constants (internal/constants). Validate rejects negative values, but
// no package in this module reads these fields: the controller and
// signaling client always use the internal/constants values, so setting
// them changes no timeout.
type Resilience struct {
	JoinHardTimeout time.Duration `json:"join_hard_timeout_ns,omitempty"`
	OfferTimeout    time.Duration `json:"offer_timeout_ns,omitempty"`
}

// Default returns the out-of-the-box configuration.
func Default() Config {
	return Config{
		Signaling: Signaling{
			DefaultHost:  "",
			TrustedHosts: []string{"rendezvous.example.com", "rendezvous-eu.example.com"},
		},
		Toggles: Toggles{
			DefaultMicEnabled:          true,
			DefaultCamEnabled:          true,
			HDVideoExperimental:        false,
			SavedRoomsShownFirst:       false,
			InviteNotificationsEnabled: true,
		},
	}
}

// Validate checks invariants a loaded config must satisfy.
func (c *Config) Validate() error {
	if len(c.Signaling.TrustedHosts) == 0 {
		return errors.New("signaling.trusted_hosts must not be empty")
	}
	for _, h := range c.Signaling.TrustedHosts {
		if strings.TrimSpace(h) == "" {
			return errors.New("signaling.trusted_hosts must not contain empty entries")
		}
		if strings.Contains(h, "://") {
			return fmt.Errorf("signaling.trusted_hosts entry %q must be a bare authority", h)
		}
	}
	if c.Resilience.JoinHardTimeout < 0 || c.Resilience.OfferTimeout < 0 {
		return errors.New("resilience overrides must not be negative")
	}
	return nil
}

// IsTrustedHost reports whether host is in the trusted allowlist,
// comparing bare authorities case-insensitively.
func (c Config) IsTrustedHost(host string) bool {
	host = strings.ToLower(strings.TrimSuffix(host, "/"))
	for _, h := range c.Signaling.TrustedHosts {
		if strings.ToLower(h) == host {
			return true
		}
	}
	return false
}

// Load reads a JSON config file, starting from Default() so missing
// fields remain initialized, then validates it.
func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := Default()
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Save validates and writes cfg as indented JSON.
func Save(path string, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	b, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

// Ensure loads config if it exists; otherwise creates and saves a default
// config file. Returns (cfg, createdNew, err).
func Ensure(path string) (Config, bool, error) {
	if _, err := os.Stat(path); err == nil {
		cfg, err := Load(path)
		return cfg, false, err
	} else if !os.IsNotExist(err) {
		return Config{}, false, err
	}

	cfg := Default()
	if err := Save(path, cfg); err != nil {
		return Config{}, false, fmt.Errorf("create default config: %w", err)
	}
	return cfg, true, nil
}
