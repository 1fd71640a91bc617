// Package authority is the privileged side of the page channel: it answers
// exception lookups, keeps blocked popups until an operator resolves them,
// and pushes the verdict back to the page that asked.
package authority

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/popwatch/internal/ratelimit"
)

// Config controls how the authority answers pages.
type Config struct {
	// Exceptions are page hosts where blocking is disabled. Subdomains of an entry match too.
	Exceptions []string `yaml:"exceptions"`
	// Silent announces every blocked popup without prompting.
	Silent bool `yaml:"silent"`
	// SilentHosts are page hosts whose blocked popups are announced without prompting.
	SilentHosts []string `yaml:"silent_hosts"`
	// PendingTTL expires unresolved popups. Zero keeps them until resolved.
	PendingTTL time.Duration `yaml:"pending_ttl"`
	// RateLimit caps popup requests per page. Requests over it are dropped.
	RateLimit ratelimit.Limit `yaml:"rate_limit"`
}

// DefaultConfig returns the built-in authority configuration.
func DefaultConfig() *Config {
	return &Config{
		PendingTTL: 10 * time.Minute,
		RateLimit:  ratelimit.Limit{MaxRequests: 60, Window: time.Minute},
	}
}

// DefaultConfigPath returns ~/.popwatch/authority.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "popwatch", "authority.yaml")
	}
	return filepath.Join(home, ".popwatch", "authority.yaml")
}

// LoadConfig loads the configuration and returns the SHA-256 of the raw file.
// Empty path uses DefaultConfigPath. A missing file yields defaults and the
// hash of empty input. Invalid YAML is an error.
func LoadConfig(path string) (*Config, string, error) {
	if path == "" {
		path = DefaultConfigPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), hashBytes(nil), nil
		}
		return nil, "", fmt.Errorf("failed to read authority config: %w", err)
	}

	// defaults first, YAML overwrites only what it names
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, "", fmt.Errorf("failed to parse authority config: %w", err)
	}
	return cfg, hashBytes(data), nil
}

// Reply computes the exception reply for a page host.
func (c *Config) Reply(hostname string) (enabled, silent bool) {
	hostname = strings.ToLower(hostname)
	excepted := matchPageHost(hostname, c.Exceptions)
	quiet := matchPageHost(hostname, c.SilentHosts)
	return !excepted, c.Silent || quiet
}

// matchPageHost reports whether hostname is an entry or a subdomain of one.
// Unlike popup-host matching, a parent domain never matches a subdomain entry.
func matchPageHost(hostname string, entries []string) bool {
	if hostname == "" {
		return false
	}
	for _, e := range entries {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if hostname == e || strings.HasSuffix(hostname, "."+e) {
			return true
		}
	}
	return false
}

// DefaultConfigYAML is the commented template written by init-config.
const DefaultConfigYAML = `# popwatch authority configuration

# Page hosts where popup blocking is disabled (subdomains match too).
exceptions: []

# Announce blocked popups without prompting, everywhere or per page host.
silent: false
silent_hosts: []

# Unresolved popups expire after this long. 0s keeps them until resolved.
pending_ttl: 10m

# Popup requests one page may queue per window. max_requests: 0 disables.
rate_limit:
  max_requests: 60
  window: 1m
`

func hashBytes(data []byte) string {
	h := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(h[:])
}
