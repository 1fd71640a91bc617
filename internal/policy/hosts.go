package policy

import (
	"net/url"
	"strings"

	"github.com/ppiankov/popwatch/internal/dom"
	"github.com/ppiankov/popwatch/internal/model"
)

// FamilyMatch reports whether two hostnames are equal or one is a
// dot-suffix of the other ("a.b.com" and "b.com" match, "xb.com" and "b.com" do not).
// This is a plain string test, not a public-suffix-aware comparison.
func FamilyMatch(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return a == b || strings.HasSuffix(a, "."+b) || strings.HasSuffix(b, "."+a)
}

// MatchHost returns the first allow-list entry that family-matches hostname.
func MatchHost(hostname string, hosts []string) (string, bool) {
	for _, h := range hosts {
		if FamilyMatch(hostname, h) {
			return h, true
		}
	}
	return "", false
}

// parseAbsolute parses href as an absolute URL. References without a scheme are malformed.
func parseAbsolute(href string) (*url.URL, bool) {
	u, err := url.Parse(href)
	if err != nil || u.Scheme == "" {
		return nil, false
	}
	return u, true
}

// matchAllowRules extracts the hostname of href and reports whether any allow rule applies.
// A malformed href yields no hostname and no match.
func matchAllowRules(href string, prefs model.Preferences, doc dom.Document) (string, bool) {
	u, ok := parseAbsolute(href)
	if !ok {
		return "", false
	}
	hostname := strings.ToLower(u.Hostname())
	allowed := false

	if prefs.DomainAllow {
		// cross-origin top: cannot confirm, so this rule does not allow
		if top, err := doc.TopHostname(); err == nil && FamilyMatch(strings.ToLower(top), hostname) {
			allowed = true
		}
	}

	protocol := u.Scheme + ":"
	for _, p := range prefs.AllowedProtocols {
		if p == protocol {
			allowed = true
			break
		}
	}

	if hostname != "" {
		if _, ok := MatchHost(hostname, prefs.AllowedHosts); ok {
			allowed = true
		}
	}

	return hostname, allowed
}
