package models

import "time"

// Counter is one durable fixed-window counter, addressed by "action:token".
//
// Count is the number of attempts observed since WindowStart. WindowStart
// only moves forward, and only when a request arrives after the window has
// fully elapsed. UpdatedAt is informational.
type Counter struct {
	Key         string    `json:"key"`
	Count       int       `json:"count"`
	WindowStart time.Time `json:"window_start"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ResetAt returns when the counter's current window ends for the given window length.
func (c Counter) ResetAt(window time.Duration) time.Time {
	return c.WindowStart.Add(window)
}

// Expired reports whether the window beginning at WindowStart has fully elapsed at now.
func (c Counter) Expired(now time.Time, window time.Duration) bool {
	return !c.WindowStart.After(now.Add(-window))
}
