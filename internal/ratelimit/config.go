// Package ratelimit caps how many popup requests one page may queue per window.
package ratelimit

import "time"

// Limit defines a fixed-window rate limit.
// Zero values mean no limit.
type Limit struct {
	MaxRequests int           `yaml:"max_requests"`
	Window      time.Duration `yaml:"window"`
}

// Enabled returns true if both fields are set.
func (l Limit) Enabled() bool {
	return l.MaxRequests > 0 && l.Window > 0
}
