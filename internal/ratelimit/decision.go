package ratelimit

import "time"

// Outcome is the result of counting one attempt.
type Outcome int

const (
	Allowed Outcome = iota
	Exceeded
	// Unavailable means the counter store could not be consulted. It never
	// reaches callers; the limiter falls back to its local counters instead.
	Unavailable
)

func (o Outcome) String() string {
	switch o {
	case Allowed:
		return "allowed"
	case Exceeded:
		return "exceeded"
	case Unavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Source identifies which counter produced a decision.
type Source string

const (
	SourceStore    Source = "store"
	SourceFallback Source = "fallback"
)

// Decision is the tagged result of one attempt.
type Decision struct {
	Outcome     Outcome
	Count       int
	WindowStart time.Time
	Source      Source
}

// Info contains rate limit state for populating response headers.
type Info struct {
	Limit      int           // Maximum attempts per window
	Remaining  int           // Attempts left in the current window
	ResetAt    time.Time     // When the current window ends
	RetryAfter time.Duration // How long to wait (meaningful only when denied)
}

func decide(count, limit int) Outcome {
	if count > limit {
		return Exceeded
	}
	return Allowed
}

func infoFor(p Policy, d Decision, now time.Time) Info {
	remaining := p.Limit - d.Count
	if remaining < 0 {
		remaining = 0
	}
	resetAt := d.WindowStart.Add(p.Window)
	info := Info{
		Limit:     p.Limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
	if d.Outcome == Exceeded {
		info.RetryAfter = resetAt.Sub(now)
		if info.RetryAfter < 0 {
			info.RetryAfter = 0
		}
	}
	return info
}
