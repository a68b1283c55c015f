package session

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

type metrics struct {
	started metric.Int64Counter
	closed  metric.Int64Counter
}

// initMetrics registers the session counters and an observable gauge of
// sessions currently interviewing or finalizing.
func initMetrics(store Store, logger *slog.Logger) *metrics {
	meter := otel.Meter("github.com/loqalabs/loqa-intake/session")
	m := &metrics{started: noop.Int64Counter{}, closed: noop.Int64Counter{}}

	if c, err := meter.Int64Counter("intake.sessions.started", metric.WithDescription("Interviews started")); err == nil {
		m.started = c
	} else {
		logger.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}
	if c, err := meter.Int64Counter("intake.sessions.closed", metric.WithDescription("Interviews closed, by trigger")); err == nil {
		m.closed = c
	} else {
		logger.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}

	gauge, err := meter.Int64ObservableGauge("intake.sessions.active", metric.WithDescription("Sessions not yet closed"))
	if err != nil {
		logger.Warn("failed to initialize metrics", slog.String("error", err.Error()))
		return m
	}
	_, err = meter.RegisterCallback(func(_ context.Context, obs metric.Observer) error {
		var active int64
		for _, s := range store.List() {
			if s.State() != StateClosed {
				active++
			}
		}
		obs.ObserveInt64(gauge, active)
		return nil
	}, gauge)
	if err != nil {
		logger.Warn("failed to register metrics callback", slog.String("error", err.Error()))
	}
	return m
}

func (m *metrics) sessionStarted(ctx context.Context) {
	m.started.Add(ctx, 1)
}

func (m *metrics) sessionClosed(ctx context.Context, t Trigger) {
	m.closed.Add(ctx, 1, metric.WithAttributes(attribute.String("trigger", string(t))))
}
