package security

import "time"

// rateLimitEntry tracks connection attempts for one host within the
// current window. The count resets when the window elapses.
type rateLimitEntry struct {
	attemptCount int
	windowStart  time.Time
}

// checkRateLimit consults and updates the per-host attempt counter.
// Returns false when the host has met or exceeded the configured
// threshold inside the current window; otherwise the attempt is
// recorded and true is returned.
//
// Callers must hold v.mu.
func (v *Validator) checkRateLimit(host string, p *Policy, now time.Time) bool {
	if p.MaxConnectionAttempts <= 0 {
		return true
	}

	window := p.ConnectionAttemptWindow
	if window <= 0 {
		window = 1 * time.Minute
	}

	entry, ok := v.attempts[host]
	if !ok || now.Sub(entry.windowStart) >= window {
		v.attempts[host] = &rateLimitEntry{attemptCount: 1, windowStart: now}
		return true
	}

	if entry.attemptCount >= p.MaxConnectionAttempts {
		return false
	}

	entry.attemptCount++
	return true
}

// ResetRateLimit clears the attempt counter for a host, e.g. after a
// successful authentication.
func (v *Validator) ResetRateLimit(host string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.attempts, host)
}
