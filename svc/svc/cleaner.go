package svc

import (
	"context"
	"pastebin/metrics"
	"pastebin/svc/db"
	"pastebin/svc/util"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Cleaner periodically purges expired pastes and stale tokens.
type Cleaner struct {
	db       *db.SQLite
	pastes   *Pastes
	interval time.Duration
	log      zerolog.Logger
	now      func() time.Time
	running  atomic.Bool
}

// Start runs the cleaner until ctx is done. done is closed on return.
func (c *Cleaner) Start(ctx context.Context, done chan<- struct{}) error {
	if !c.running.CompareAndSwap(false, true) {
		return errors.New("cleaner already running")
	}
	if c.interval <= 0 {
		c.running.Store(false)
		return errors.New("cleanup interval must be positive")
	}
	go c.run(ctx, done)
	return nil
}
func (c *Cleaner) run(ctx context.Context, done chan<- struct{}) {
	defer c.running.Store(false)
	if done != nil {
		defer close(done)
	}
	requestID := util.NewRequestID()
	ctx = util.SetRequestID(ctx, requestID)
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	c.log.Info().Str("request_id", requestID).Dur("interval", c.interval).Msg("cleanup worker started")
	for {
		select {
		case <-ctx.Done():
			c.log.Info().Str("request_id", requestID).Msg("cleanup worker shutting down")
			return
		case <-ticker.C:
			c.RunOnce(ctx)
		}
	}
}

// RunOnce performs one cleanup cycle.
func (c *Cleaner) RunOnce(ctx context.Context) {
	requestID := util.GetRequestID(ctx)
	now := c.now()
	ids, err := c.db.CleanupExpired(ctx, now)
	c.pastes.Evict(ctx, ids...)
	if err != nil {
		c.log.Error().Err(err).Str("request_id", requestID).Msg("paste cleanup failed")
	} else if len(ids) > 0 {
		c.log.Info().Int("deleted", len(ids)).Str("request_id", requestID).Msg("expired pastes purged")
	}
	n, err := c.db.PurgeExpiredTokens(ctx, now)
	if err != nil {
		c.log.Error().Err(err).Str("request_id", requestID).Msg("token cleanup failed")
	} else if n > 0 {
		c.log.Debug().Int64("cleared", n).Str("request_id", requestID).Msg("expired tokens cleared")
	}
	metrics.PruneCycles.Inc()
}
