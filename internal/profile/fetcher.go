package profile

import (
	"context"
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-intake/internal/config"
)

const (
	defaultAttempts = 5
	defaultInterval = 500 * time.Millisecond
)

// Fetcher polls a Source that may not have the profile yet. The room
// directory is written by the client shortly before the interview starts, so
// the first lookups are expected to miss.
type Fetcher struct {
	source   Source
	attempts int
	interval time.Duration
	logger   *slog.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

func NewFetcher(source Source, cfg config.ProfileConfig, logger *slog.Logger) *Fetcher {
	attempts := cfg.Attempts
	if attempts <= 0 {
		attempts = defaultAttempts
	}
	interval := time.Duration(cfg.IntervalMS) * time.Millisecond
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Fetcher{
		source:   source,
		attempts: attempts,
		interval: interval,
		logger:   logger.With(slog.String("component", "profile-fetcher")),
		sleep:    sleepContext,
	}
}

// Fetch returns the first profile the source yields within the attempt
// budget. Exhausted retries, lookup errors and cancellation all degrade to
// Unknown; Fetch never fails.
func (f *Fetcher) Fetch(ctx context.Context, sessionID string) Profile {
	for attempt := 1; attempt <= f.attempts; attempt++ {
		p, ok, err := f.source.Lookup(ctx, sessionID)
		switch {
		case err != nil:
			f.logger.Debug("profile lookup failed",
				slog.String("session_id", sessionID),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()))
		case ok:
			f.logger.Info("profile resolved",
				slog.String("session_id", sessionID),
				slog.Int("attempt", attempt))
			return p.withDefaults()
		}
		if attempt == f.attempts {
			break
		}
		if err := f.sleep(ctx, f.interval); err != nil {
			break
		}
	}
	f.logger.Warn("profile unavailable, continuing with defaults",
		slog.String("session_id", sessionID),
		slog.Int("attempts", f.attempts))
	return Unknown()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
