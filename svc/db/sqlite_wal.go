package db

import (
	"context"
	"fmt"
	"time"
)

const checkpointInterval = 5 * time.Minute

// StartWALMaintenance checkpoints the WAL until ctx is cancelled, then runs a
// final checkpoint before closing done.
func (s *SQLite) StartWALMaintenance(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(checkpointInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := s.checkpoint(ctx); err != nil {
				s.log.Error().Err(err).Msg("WAL checkpoint failed")
			}
		case <-ctx.Done():
			finalCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := s.checkpoint(finalCtx); err != nil {
				s.log.Error().Err(err).Msg("final WAL checkpoint failed")
			}
			cancel()
			return
		}
	}
}
func (s *SQLite) checkpoint(ctx context.Context) error {
	start := time.Now()
	var busyPages, logPages, checkpointed int
	err := s.db.QueryRowxContext(ctx, "PRAGMA wal_checkpoint(PASSIVE)").Scan(&busyPages, &logPages, &checkpointed)
	if err != nil {
		return fmt.Errorf("PASSIVE checkpoint failed: %w", err)
	}
	s.log.Debug().
		Int("busy", busyPages).
		Int("log", logPages).
		Int("checkpointed", checkpointed).
		Msg("PASSIVE checkpoint result")
	if logPages > 1000 || busyPages > 0 {
		s.log.Info().Msg("escalating to TRUNCATE checkpoint")
		err = s.db.QueryRowxContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)").Scan(&busyPages, &logPages, &checkpointed)
		if err != nil {
			return fmt.Errorf("TRUNCATE checkpoint failed: %w", err)
		}
		s.log.Info().
			Int("busy", busyPages).
			Int("log", logPages).
			Int("checkpointed", checkpointed).
			Msg("TRUNCATE checkpoint result")
	}
	if err := s.verifyIntegrity(ctx); err != nil {
		s.log.Error().Err(err).Msg("database integrity check failed after checkpoint")
		return err
	}
	s.log.Debug().Dur("duration", time.Since(start)).Msg("WAL checkpoint completed")
	return nil
}
func (s *SQLite) verifyIntegrity(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	var result string
	if err := s.db.QueryRowxContext(ctx, "PRAGMA quick_check").Scan(&result); err != nil {
		return fmt.Errorf("quick_check query failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("quick_check returned: %s", result)
	}
	return nil
}
