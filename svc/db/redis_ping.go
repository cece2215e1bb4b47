package db

import (
	"context"
	"time"
)

// Ping does a write and delete round trip, so a read-only replica fails it.
func (r *Redis) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	key := "health_check:" + time.Now().Format(time.RFC3339Nano)
	if err := r.client.Set(ctx, key, "ok", 5*time.Second).Err(); err != nil {
		return err
	}
	return r.client.Del(ctx, key).Err()
}
