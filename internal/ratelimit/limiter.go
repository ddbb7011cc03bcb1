// Package ratelimit enforces fixed-window limits on abuse-prone actions
// (login, signup, password reset, draft updates). Counters live in a shared
// storage.CounterStore so every instance sees the same counts. When the store
// cannot be reached, each instance falls back to its own bounded local
// counters, so limits are still enforced, per instance, until the store
// recovers.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gatekeeper/internal/models"
	"gatekeeper/internal/storage"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	DefaultStoreTimeout     = 500 * time.Millisecond
	DefaultFallbackCapacity = 10000
)

// Limiter is the rate limit registry. Build one at startup and share it; it
// is safe for concurrent use.
type Limiter struct {
	store            storage.CounterStore
	policies         map[Action]Policy
	fallback         map[Action]*LocalLimiter
	now              func() time.Time
	storeTimeout     time.Duration
	fallbackCapacity int
	logger           *slog.Logger

	decisions   metric.Int64Counter
	unavailable metric.Int64Counter
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock sets the clock used by Check, Allow and the action wrappers.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithStoreTimeout bounds each counter store round-trip.
func WithStoreTimeout(d time.Duration) Option {
	return func(l *Limiter) { l.storeTimeout = d }
}

// WithFallbackCapacity sets how many tokens each local fallback tracks.
func WithFallbackCapacity(n int) Option {
	return func(l *Limiter) { l.fallbackCapacity = n }
}

// WithLogger sets the logger for store failures and exceeded decisions.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) { l.logger = logger }
}

// WithPolicies replaces the compiled-in policy table.
func WithPolicies(policies ...Policy) Option {
	return func(l *Limiter) {
		l.policies = make(map[Action]Policy, len(policies))
		for _, p := range policies {
			l.policies[p.Action] = p
		}
	}
}

// New creates a Limiter backed by store.
func New(store storage.CounterStore, opts ...Option) (*Limiter, error) {
	if store == nil {
		return nil, errors.New("ratelimit: counter store is required")
	}

	l := &Limiter{
		store:            store,
		policies:         defaultPolicies,
		now:              time.Now,
		storeTimeout:     DefaultStoreTimeout,
		fallbackCapacity: DefaultFallbackCapacity,
		logger:           slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	if len(l.policies) == 0 {
		return nil, errors.New("ratelimit: at least one policy is required")
	}
	for action, p := range l.policies {
		if p.Limit <= 0 || p.Window <= 0 {
			return nil, fmt.Errorf("ratelimit: policy %q needs a positive limit and window, got %d per %s",
				action, p.Limit, p.Window)
		}
	}

	l.fallback = make(map[Action]*LocalLimiter, len(l.policies))
	for action, p := range l.policies {
		l.fallback[action] = NewLocalLimiter(p.Window, l.fallbackCapacity)
	}

	meter := otel.Meter("gatekeeper/ratelimit")
	var err error
	l.decisions, err = meter.Int64Counter(
		"ratelimit.decisions",
		metric.WithDescription("Number of rate limit decisions"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return nil, err
	}
	l.unavailable, err = meter.Int64Counter(
		"ratelimit.store.unavailable",
		metric.WithDescription("Number of attempts decided by the local fallback because the counter store failed"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	return l, nil
}

// Policy returns the limiter's policy for action, if any.
func (l *Limiter) Policy(action Action) (Policy, bool) {
	p, ok := l.policies[action]
	return p, ok
}

// Policies returns the limiter's policies sorted by action name.
func (l *Limiter) Policies() []Policy {
	return sortedPolicies(l.policies)
}

func (l *Limiter) policy(action Action) Policy {
	p, ok := l.policies[action]
	if !ok {
		panic("ratelimit: no policy for action " + string(action))
	}
	return p
}

// Check counts one attempt by rawToken for action at the current time.
// It returns nil if the attempt is allowed, an *ExceededError if it is over
// the limit, or the context's error if ctx ended before a decision was made.
// It panics if action has no policy.
func (l *Limiter) Check(ctx context.Context, action Action, rawToken string) error {
	return l.CheckAt(ctx, action, rawToken, l.now())
}

// CheckAt is Check with an explicit time.
func (l *Limiter) CheckAt(ctx context.Context, action Action, rawToken string, now time.Time) error {
	_, err := l.AllowAt(ctx, action, rawToken, now)
	return err
}

// Allow is Check that also reports the counter state for response headers.
func (l *Limiter) Allow(ctx context.Context, action Action, rawToken string) (Info, error) {
	return l.AllowAt(ctx, action, rawToken, l.now())
}

// AllowAt is Allow with an explicit time.
func (l *Limiter) AllowAt(ctx context.Context, action Action, rawToken string, now time.Time) (Info, error) {
	p := l.policy(action)
	d, err := l.evaluate(ctx, p, NormalizeToken(rawToken), now)
	if err != nil {
		return Info{}, err
	}

	info := infoFor(p, d, now)
	if d.Outcome == Exceeded {
		return info, &ExceededError{
			Action:     p.Action,
			Limit:      p.Limit,
			Window:     p.Window,
			RetryAfter: info.RetryAfter,
		}
	}
	return info, nil
}

func (l *Limiter) evaluate(ctx context.Context, p Policy, token string, now time.Time) (Decision, error) {
	d, storeErr := l.countInStore(ctx, p, token, now)
	if d.Outcome == Unavailable {
		// A caller that has gone away gets its own error and no local count.
		if err := ctx.Err(); err != nil {
			return Decision{}, err
		}

		l.logger.Warn("Counter store unavailable, using local fallback",
			"action", p.Action,
			"error", storeErr,
		)
		l.unavailable.Add(ctx, 1, metric.WithAttributes(attribute.String("action", string(p.Action))))
		d = l.fallback[p.Action].Check(token, p.Limit, now)
	}

	l.decisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("action", string(p.Action)),
		attribute.String("outcome", d.Outcome.String()),
		attribute.String("source", string(d.Source)),
	))
	if d.Outcome == Exceeded {
		l.logger.Debug("Rate limit exceeded",
			"action", p.Action,
			"count", d.Count,
			"limit", p.Limit,
			"source", d.Source,
		)
	}
	return d, nil
}

func (l *Limiter) countInStore(ctx context.Context, p Policy, token string, now time.Time) (Decision, error) {
	storeCtx, cancel := context.WithTimeout(ctx, l.storeTimeout)
	defer cancel()

	c, err := l.store.Increment(storeCtx, p.Key(token), now, p.Window)
	if err != nil {
		return Decision{Outcome: Unavailable, Source: SourceStore}, err
	}
	return Decision{
		Outcome:     decide(c.Count, p.Limit),
		Count:       c.Count,
		WindowStart: c.WindowStart,
		Source:      SourceStore,
	}, nil
}

// Inspect returns the stored counter for rawToken under action without
// counting an attempt.
func (l *Limiter) Inspect(ctx context.Context, action Action, rawToken string) (models.Counter, error) {
	p := l.policy(action)
	return l.store.Get(ctx, p.Key(rawToken))
}

// Reset clears the stored and local counters for rawToken under action.
// A missing stored counter is not an error.
func (l *Limiter) Reset(ctx context.Context, action Action, rawToken string) error {
	p := l.policy(action)
	l.fallback[p.Action].Forget(NormalizeToken(rawToken))
	if err := l.store.Reset(ctx, p.Key(rawToken)); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	return nil
}

// ResetFallback forgets every locally tracked token.
func (l *Limiter) ResetFallback() {
	for _, f := range l.fallback {
		f.Purge()
	}
}
