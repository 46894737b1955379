package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// SessionCleaner is the part of a session backend the sweeper needs.
type SessionCleaner interface {
	Cleanup(ctx context.Context, cutoff time.Time) (int64, error)
}

type SessionCleanupWorker struct {
	repo            SessionCleaner
	cleanupInterval time.Duration
	logger          zerolog.Logger
	now             func() time.Time
}

func NewSessionCleanupWorker(repo SessionCleaner, cleanupInterval time.Duration, logger zerolog.Logger) *SessionCleanupWorker {
	return &SessionCleanupWorker{
		repo:            repo,
		cleanupInterval: cleanupInterval,
		logger:          logger,
		now:             time.Now,
	}
}

// Start sweeps once immediately, then on every tick until ctx is done.
func (w *SessionCleanupWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.cleanupInterval)
	defer ticker.Stop()

	w.run(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.run(ctx)
		}
	}
}

func (w *SessionCleanupWorker) run(ctx context.Context) {
	if err := w.cleanup(ctx); err != nil {
		// Log error but continue
		w.logger.Error().Err(err).Msg("session cleanup failed")
	}
}

func (w *SessionCleanupWorker) cleanup(ctx context.Context) error {
	cutoff := w.now()

	rows, err := w.repo.Cleanup(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("failed to cleanup sessions: %w", err)
	}

	w.logger.Info().Int64("rows", rows).Time("cutoff", cutoff).Msg("cleaned up expired sessions")
	return nil
}
