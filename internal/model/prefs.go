package model

// Preference storage keys.
const (
	KeyEnabled              = "enabled"
	KeyShadow               = "shadow"
	KeyDomain               = "domain"
	KeyProtocols            = "protocols"
	KeyPopupHosts           = "popup-hosts"
	KeyBlockPageRedirection = "block-page-redirection"
)

// PreferenceKeys lists every recognized preference key.
var PreferenceKeys = []string{
	KeyEnabled,
	KeyShadow,
	KeyDomain,
	KeyProtocols,
	KeyPopupHosts,
	KeyBlockPageRedirection,
}

// IsPreferenceKey reports whether key is one of the recognized preference keys.
func IsPreferenceKey(key string) bool {
	for _, k := range PreferenceKeys {
		if k == key {
			return true
		}
	}
	return false
}

// Preferences is the configuration mirrored into each page execution context.
type Preferences struct {
	Enabled              bool     `json:"enabled" yaml:"enabled"`
	ShadowMode           bool     `json:"shadow" yaml:"shadow"`
	DomainAllow          bool     `json:"domain" yaml:"domain"`
	AllowedProtocols     []string `json:"protocols" yaml:"protocols"`
	AllowedHosts         []string `json:"popup-hosts" yaml:"popup-hosts"`
	BlockPageRedirection bool     `json:"block-page-redirection" yaml:"block-page-redirection"`
}

// DefaultPreferences returns the built-in preference set.
func DefaultPreferences() Preferences {
	return Preferences{
		Enabled:          true,
		AllowedProtocols: []string{"magnet:"},
		AllowedHosts:     []string{"google.com", "bing.com", "t.co", "twitter.com", "disqus.com"},
	}
}

// Clone returns a deep copy so callers can hold a snapshot without sharing slices.
func (p Preferences) Clone() Preferences {
	c := p
	c.AllowedProtocols = append([]string(nil), p.AllowedProtocols...)
	c.AllowedHosts = append([]string(nil), p.AllowedHosts...)
	return c
}

// ToMap converts Preferences to a keyed map for storage.
func (p Preferences) ToMap() map[string]any {
	return map[string]any{
		KeyEnabled:              p.Enabled,
		KeyShadow:               p.ShadowMode,
		KeyDomain:               p.DomainAllow,
		KeyProtocols:            toAnySlice(p.AllowedProtocols),
		KeyPopupHosts:           toAnySlice(p.AllowedHosts),
		KeyBlockPageRedirection: p.BlockPageRedirection,
	}
}

// ApplyKey sets one preference from a loosely typed value.
// Unknown keys and values of the wrong type are ignored and report false.
func (p *Preferences) ApplyKey(key string, value any) bool {
	switch key {
	case KeyEnabled:
		return setBool(&p.Enabled, value)
	case KeyShadow:
		return setBool(&p.ShadowMode, value)
	case KeyDomain:
		return setBool(&p.DomainAllow, value)
	case KeyBlockPageRedirection:
		return setBool(&p.BlockPageRedirection, value)
	case KeyProtocols:
		return setStrings(&p.AllowedProtocols, value)
	case KeyPopupHosts:
		return setStrings(&p.AllowedHosts, value)
	}
	return false
}

// Apply sets every recognized key from m. Returns the keys that were applied.
func (p *Preferences) Apply(m map[string]any) []string {
	var applied []string
	for _, key := range PreferenceKeys {
		v, ok := m[key]
		if !ok {
			continue
		}
		if p.ApplyKey(key, v) {
			applied = append(applied, key)
		}
	}
	return applied
}

func setBool(dst *bool, v any) bool {
	switch b := v.(type) {
	case bool:
		*dst = b
		return true
	case string:
		switch b {
		case "true":
			*dst = true
			return true
		case "false":
			*dst = false
			return true
		}
	}
	return false
}

func setStrings(dst *[]string, v any) bool {
	switch list := v.(type) {
	case []string:
		*dst = append([]string{}, list...)
		return true
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		*dst = out
		return true
	}
	return false
}

func toAnySlice(ss []string) []any {
	result := make([]any, len(ss))
	for i, s := range ss {
		result[i] = s
	}
	return result
}
