package db

import (
	"context"
)

// Ping bypasses the breaker so readiness reflects the real database state.
func (s *SQLite) Ping(ctx context.Context) error {
	var result int
	return s.db.QueryRowxContext(ctx, "SELECT 1").Scan(&result)
}
func (s *SQLite) BreakerState() string {
	return s.cb.State().String()
}
