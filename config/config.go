// Package config holds the engine configuration: the client identity, the
// provider metadata (static or discovered), and the timing knobs of the
// silent-login, session-watch, and refresh machinery.
package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v3"
	"gopkg.in/yaml.v3"
)

// Hardcoded timing defaults.
const (
	DefaultSilentLoginTimeout  = 5 * time.Second
	DefaultCheckInterval       = 10 * time.Second
	DefaultRefreshAhead        = time.Minute
	DefaultRefreshPollInterval = 5 * time.Second
)

// DefaultScopes is the scope set requested when the caller overrides
// nothing.
var DefaultScopes = []string{"openid", "profile", "email", "phone"}

// ClientIdentity identifies this relying party towards the provider.
// Immutable after configuration.
type ClientIdentity struct {
	ClientID          string `yaml:"client_id"`
	RedirectURI       string `yaml:"redirect_uri"`
	SilentRedirectURI string `yaml:"silent_redirect_uri"`
}

// ProviderMetadata describes the identity provider. Obtained once, from
// static configuration or discovery, and read-only afterwards; replacing
// the whole value is the only sanctioned mutation.
type ProviderMetadata struct {
	Issuer                string `yaml:"issuer"`
	AuthorizationEndpoint string `yaml:"authorization_endpoint"`
	TokenEndpoint         string `yaml:"token_endpoint"`
	UserInfoEndpoint      string `yaml:"userinfo_endpoint"`
	EndSessionEndpoint    string `yaml:"end_session_endpoint"`
	CheckSessionIframe    string `yaml:"check_session_iframe"`

	// Algorithms lists the allowed ID-token signing algorithms. Empty
	// means the provider declared none and RS256 is assumed.
	Algorithms []string `yaml:"algorithms"`

	// MaxTokenAge bounds how old an ID token's iat may be. Zero means
	// unbounded.
	MaxTokenAge time.Duration `yaml:"max_token_age"`

	// Keys is the provider's JWKS. Populated from discovery or by the
	// embedding; never loaded from YAML.
	Keys *jose.JSONWebKeySet `yaml:"-"`
}

// SilentConfig controls the non-interactive login attempt.
type SilentConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// SessionConfig controls provider session monitoring.
type SessionConfig struct {
	CheckInterval time.Duration `yaml:"check_interval"`
}

// RefreshConfig controls token refresh scheduling.
type RefreshConfig struct {
	// Ahead is the remaining-validity floor below which a refresh is
	// triggered.
	Ahead time.Duration `yaml:"ahead"`
	// PollInterval is how often remaining validity is checked.
	PollInterval time.Duration `yaml:"poll_interval"`
}

// Config captures the full engine configuration loaded from YAML and
// environment variables.
type Config struct {
	Client   ClientIdentity   `yaml:"client"`
	Provider ProviderMetadata `yaml:"provider"`
	Silent   SilentConfig     `yaml:"silent"`
	Session  SessionConfig    `yaml:"session"`
	Refresh  RefreshConfig    `yaml:"refresh"`
}

// DefaultConfig returns a configuration with every timing knob at its
// default.
func DefaultConfig() Config {
	return Config{
		Silent:  SilentConfig{Timeout: DefaultSilentLoginTimeout},
		Session: SessionConfig{CheckInterval: DefaultCheckInterval},
		Refresh: RefreshConfig{Ahead: DefaultRefreshAhead, PollInterval: DefaultRefreshPollInterval},
	}
}

// LoadConfig reads the YAML config file and merges environment overrides.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}

		// Strict unmarshaling to detect unknown fields.
		decoder := yaml.NewDecoder(bytes.NewReader(b))
		decoder.KnownFields(true)
		if err := decoder.Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration for structural problems.
func (c *Config) Validate() error {
	if c.Client.ClientID == "" {
		return fmt.Errorf("client.client_id is required")
	}
	if c.Client.RedirectURI == "" {
		return fmt.Errorf("client.redirect_uri is required")
	}
	if c.Provider.Issuer == "" &&
		(c.Provider.AuthorizationEndpoint == "" || c.Provider.TokenEndpoint == "") {
		return fmt.Errorf("provider needs either an issuer for discovery or static authorization/token endpoints")
	}
	if c.Silent.Timeout <= 0 {
		return fmt.Errorf("silent.timeout must be positive")
	}
	if c.Session.CheckInterval <= 0 {
		return fmt.Errorf("session.check_interval must be positive")
	}
	if c.Refresh.Ahead <= 0 || c.Refresh.PollInterval <= 0 {
		return fmt.Errorf("refresh.ahead and refresh.poll_interval must be positive")
	}
	return nil
}

// NeedsDiscovery reports whether the provider endpoints still have to be
// resolved from the issuer's discovery document.
func (c *Config) NeedsDiscovery() bool {
	return c.Provider.AuthorizationEndpoint == "" || c.Provider.TokenEndpoint == ""
}

// AllowedAlgorithms returns the provider's signing algorithm list, or the
// RS256 default when it declared none.
func (m *ProviderMetadata) AllowedAlgorithms() []string {
	if len(m.Algorithms) == 0 {
		return []string{"RS256"}
	}
	return m.Algorithms
}

func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("OIDCFLOW_CLIENT_ID")); v != "" {
		cfg.Client.ClientID = v
	}
	if v := strings.TrimSpace(os.Getenv("OIDCFLOW_REDIRECT_URI")); v != "" {
		cfg.Client.RedirectURI = v
	}
	if v := strings.TrimSpace(os.Getenv("OIDCFLOW_SILENT_REDIRECT_URI")); v != "" {
		cfg.Client.SilentRedirectURI = v
	}
	if v := strings.TrimSpace(os.Getenv("OIDCFLOW_ISSUER")); v != "" {
		cfg.Provider.Issuer = v
	}
}
