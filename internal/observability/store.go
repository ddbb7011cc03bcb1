package observability

import (
	"context"
	"errors"
	"strings"
	"time"

	"gatekeeper/internal/models"
	"gatekeeper/internal/storage"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentedStore wraps a storage.CounterStore with OpenTelemetry spans,
// a latency histogram and an error counter. Counter keys carry client
// identities, so only the action part of a key is recorded.
type InstrumentedStore struct {
	inner    storage.CounterStore
	backend  string
	tracer   trace.Tracer
	duration metric.Float64Histogram
	errors   metric.Int64Counter
}

// NewInstrumentedStore wraps inner. backend names the store type on every
// span and metric.
func NewInstrumentedStore(inner storage.CounterStore, backend string) (*InstrumentedStore, error) {
	tracer := otel.Tracer("gatekeeper/storage")
	meter := otel.Meter("gatekeeper/storage")

	duration, err := meter.Float64Histogram(
		"counter_store.operation.duration",
		metric.WithDescription("Duration of counter store operations in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	errCounter, err := meter.Int64Counter(
		"counter_store.operation.errors",
		metric.WithDescription("Number of failed counter store operations"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	return &InstrumentedStore{
		inner:    inner,
		backend:  backend,
		tracer:   tracer,
		duration: duration,
		errors:   errCounter,
	}, nil
}

func (s *InstrumentedStore) startSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "counter_store."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(append([]attribute.KeyValue{
			attribute.String("counter_store.backend", s.backend),
			attribute.String("counter_store.operation", operation),
		}, attrs...)...),
	)
}

func (s *InstrumentedStore) record(ctx context.Context, span trace.Span, operation string, start time.Time, err error) {
	attrs := metric.WithAttributes(
		attribute.String("backend", s.backend),
		attribute.String("operation", operation),
	)
	s.duration.Record(ctx, time.Since(start).Seconds(), attrs)

	// A missing counter is an answer, not a failure.
	if err != nil && !isNotFound(err) {
		s.errors.Add(ctx, 1, attrs)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

func (s *InstrumentedStore) Increment(ctx context.Context, key string, now time.Time, window time.Duration) (models.Counter, error) {
	ctx, span := s.startSpan(ctx, "Increment",
		attribute.String("ratelimit.action", actionOf(key)),
		attribute.Int64("ratelimit.window_ms", window.Milliseconds()),
	)
	start := time.Now()
	c, err := s.inner.Increment(ctx, key, now, window)
	if err == nil {
		span.SetAttributes(attribute.Int("ratelimit.count", c.Count))
	}
	s.record(ctx, span, "Increment", start, err)
	return c, err
}

func (s *InstrumentedStore) Get(ctx context.Context, key string) (models.Counter, error) {
	ctx, span := s.startSpan(ctx, "Get", attribute.String("ratelimit.action", actionOf(key)))
	start := time.Now()
	c, err := s.inner.Get(ctx, key)
	s.record(ctx, span, "Get", start, err)
	return c, err
}

func (s *InstrumentedStore) Reset(ctx context.Context, key string) error {
	ctx, span := s.startSpan(ctx, "Reset", attribute.String("ratelimit.action", actionOf(key)))
	start := time.Now()
	err := s.inner.Reset(ctx, key)
	s.record(ctx, span, "Reset", start, err)
	return err
}

func (s *InstrumentedStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	ctx, span := s.startSpan(ctx, "Prune")
	start := time.Now()
	n, err := s.inner.Prune(ctx, before)
	span.SetAttributes(attribute.Int64("counter_store.pruned", n))
	s.record(ctx, span, "Prune", start, err)
	return n, err
}

func (s *InstrumentedStore) Ping(ctx context.Context) error {
	ctx, span := s.startSpan(ctx, "Ping")
	start := time.Now()
	err := s.inner.Ping(ctx)
	s.record(ctx, span, "Ping", start, err)
	return err
}

func (s *InstrumentedStore) Close() error {
	return s.inner.Close()
}

// Unwrap returns the wrapped store.
func (s *InstrumentedStore) Unwrap() storage.CounterStore {
	return s.inner
}

func actionOf(key string) string {
	action, _, _ := strings.Cut(key, ":")
	return action
}

func isNotFound(err error) bool {
	return errors.Is(err, storage.ErrNotFound)
}
