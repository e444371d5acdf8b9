// Package config provides configuration management for the cookie-injector
// control plane.  It loads the YAML site list, applies environment-variable
// defaults, and validates the result so that a broken configuration is a
// startup failure rather than a runtime surprise.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Default locations and ports, overridable through the environment.
const (
	DefaultConfigPath = "/config/sites.yaml"
	DefaultCookieDir  = "/cookies"
	DefaultHealthPort = "8081"
)

// AuthConfig describes how a site's login script obtains credentials.
//
// Type selects the login mechanism; "credentials" reads a username and
// password from the environment variables named by UsernameEnv and
// PasswordEnv.  The values themselves never appear in the config file.
type AuthConfig struct {
	Type        string `yaml:"type"`
	UsernameEnv string `yaml:"username_env"`
	PasswordEnv string `yaml:"password_env"`
}

// Site is the configuration for a single paywalled site.
type Site struct {
	// Domain is the canonical registered domain, e.g. "nrc.nl".  It keys
	// the jar file, the login-script registry, and the health report.
	Domain string `yaml:"domain"`

	// LoginURL is where the login script starts its flow.
	LoginURL string `yaml:"login_url"`

	// Auth names the credential environment variables for the site.
	Auth AuthConfig `yaml:"auth"`

	// RefreshInterval is advisory only.  The adaptive scheduler derives
	// the real interval from observed cookie lifetimes; this field is
	// parsed at startup purely so a malformed value fails fast.
	RefreshInterval string `yaml:"refresh_interval"`
}

// Config is the top-level service configuration.
//
// The struct is loaded once at startup and then shared across goroutines as
// a read-only value, making it inherently thread-safe after initialisation.
type Config struct {
	// Sites lists every paywalled site whose cookies are kept fresh.
	// An empty list is a fatal configuration error.
	Sites []Site `yaml:"sites"`

	// CookieDir is the directory holding {domain}.json jar files.
	// Defaults to $COOKIE_DIR, then /cookies.
	CookieDir string `yaml:"cookie_dir"`

	// NtfyURL is the optional ntfy topic URL for refresh-failure alerts.
	NtfyURL string `yaml:"ntfy_url"`

	// HealthcheckURL is the optional healthchecks.io base URL pinged after
	// every refresh attempt (GET base on success, base/fail on failure).
	HealthcheckURL string `yaml:"healthcheck_url"`

	// ProxyFile is an optional newline-delimited list of upstream proxies
	// the login driver rotates through.  Leave empty to connect directly.
	ProxyFile string `yaml:"proxy_file"`
}

// Load reads and validates the YAML configuration at path.  An empty path
// falls back to $CONFIG_PATH, then to DefaultConfigPath.
//
// Missing files, YAML syntax errors, unknown keys, and validation failures
// are all returned as errors; callers are expected to treat any of them as
// fatal at startup.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = DefaultConfigPath
	}

	f, err := os.Open(path) // #nosec G304 – path is an operator-supplied config path
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	var cfg Config
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true) // catch typos in config files early
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode %q: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %q: %w", path, err)
	}
	return &cfg, nil
}

// applyDefaults fills unset fields from the environment.
func (c *Config) applyDefaults() {
	if c.CookieDir == "" {
		c.CookieDir = os.Getenv("COOKIE_DIR")
	}
	if c.CookieDir == "" {
		c.CookieDir = DefaultCookieDir
	}
	if c.NtfyURL == "" {
		c.NtfyURL = os.Getenv("NTFY_URL")
	}
	if c.HealthcheckURL == "" {
		c.HealthcheckURL = os.Getenv("HEALTHCHECK_URL")
	}
}

// Validate checks the invariants a loaded configuration must satisfy.
func (c *Config) Validate() error {
	if len(c.Sites) == 0 {
		return fmt.Errorf("config must define at least one site")
	}
	for i, s := range c.Sites {
		if s.Domain == "" {
			return fmt.Errorf("site %d: domain must not be empty", i)
		}
		if s.LoginURL == "" {
			return fmt.Errorf("site %q: login_url must not be empty", s.Domain)
		}
		switch s.Auth.Type {
		case "credentials", "oauth":
		default:
			return fmt.Errorf("site %q: auth.type must be \"credentials\" or \"oauth\", got %q", s.Domain, s.Auth.Type)
		}
		if s.RefreshInterval != "" {
			if _, err := time.ParseDuration(s.RefreshInterval); err != nil {
				return fmt.Errorf("site %q: refresh_interval: %w", s.Domain, err)
			}
		}
	}
	return nil
}

// HealthPort returns the port for the health HTTP listener:
// $HEALTH_PORT, then DefaultHealthPort.
func HealthPort() string {
	if p := os.Getenv("HEALTH_PORT"); p != "" {
		return p
	}
	return DefaultHealthPort
}
