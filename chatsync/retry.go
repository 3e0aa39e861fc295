package chatsync

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	chaterrors "github.com/marksewell/chat-sync/internal/errors"
)

// defaultBackoffs is the bounded retry table: attempt 0 immediate,
// attempt 1 after 1s, attempt 2 after 2s, then give up. An exhausted
// operation stays flagged unsynced until a reconnect event (or a later
// reconciliation pass) restarts the cycle.
var defaultBackoffs = []time.Duration{0, 1 * time.Second, 2 * time.Second}

// Scheduler runs sync pushes with bounded backoff. Only transient
// failures are retried; validation errors return immediately since a
// malformed payload will not heal with time.
type Scheduler struct {
	backoffs []time.Duration
	logger   *slog.Logger

	done     chan struct{}
	stopOnce sync.Once
}

// NewScheduler creates a scheduler with the default backoff table.
func NewScheduler(logger *slog.Logger) *Scheduler {
	return &Scheduler{
		backoffs: defaultBackoffs,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// newSchedulerWithBackoffs is used by tests to shrink the wait table.
func newSchedulerWithBackoffs(backoffs []time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		backoffs: backoffs,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Stop cancels any in-progress waits. Called on component teardown so no
// retry timer outlives the engine.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
	})
}

// Do runs fn, retrying per the backoff table on transient errors. The
// returned error is the last attempt's error once the table is exhausted.
func (s *Scheduler) Do(ctx context.Context, name string, fn func(context.Context) error) error {
	var lastErr error

	for attempt, wait := range s.backoffs {
		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-s.done:
				timer.Stop()
				return fmt.Errorf("%s: scheduler stopped", name)
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		if !chaterrors.IsTransient(lastErr) && !chaterrors.IsAuthExpired(lastErr) {
			// Validation and other permanent failures do not heal on
			// retry; surface them now.
			return lastErr
		}

		s.logger.Warn("sync push failed",
			slog.String("op", name),
			slog.Int("attempt", attempt),
			slog.String("error", lastErr.Error()),
		)
	}

	return fmt.Errorf("%s: retries exhausted: %w", name, lastErr)
}
