package db

import (
	"context"
	"database/sql"
	"embed"
	"io/fs"
	"pastebin/metrics"
	"pastebin/pkg/domain"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var ErrCircuitOpen = errors.Wrap(domain.ErrUnavailable, "database circuit breaker open")

const (
	maxFailures     = 5
	cooldownPeriod  = 30 * time.Second
	failureInterval = time.Minute
)

const (
	defaultMaxOpenConns = 25
	defaultMaxIdleConns = 10
	defaultQueryTimeout = 5 * time.Second
)

type SQLite struct {
	db           *sqlx.DB
	cb           *gobreaker.CircuitBreaker
	queryTimeout time.Duration
	log          zerolog.Logger
}

func (s *SQLite) DB() *sql.DB {
	return s.db.DB
}
func NewSQLite(path string, log zerolog.Logger) (*SQLite, error) {
	return NewSQLiteWithConfig(path, defaultMaxOpenConns, defaultMaxIdleConns, defaultQueryTimeout, log)
}

func NewSQLiteWithConfig(path string, maxOpenConns, maxIdleConns int, queryTimeout time.Duration, log zerolog.Logger) (*SQLite, error) {
	memory := strings.Contains(path, ":memory:") || strings.Contains(path, "mode=memory")
	db, err := sqlx.Open("sqlite3", buildDSN(path, memory))
	if err != nil {
		return nil, errors.Wrap(err, "failed to open db")
	}
	if memory {
		// every connection to :memory: is a separate database
		maxOpenConns, maxIdleConns = 1, 1
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(1 * time.Hour)
	db.SetConnMaxIdleTime(10 * time.Minute)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to ping db")
	}
	if queryTimeout <= 0 {
		queryTimeout = defaultQueryTimeout
	}
	s := &SQLite{
		db:           db,
		queryTimeout: queryTimeout,
		log:          log,
	}
	s.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "sqlite",
		MaxRequests: 1,
		Interval:    failureInterval,
		Timeout:     cooldownPeriod,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		IsSuccessful: countsAsSuccess,
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.DBCircuitState.Set(float64(to))
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	})
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "migration failed")
	}
	return s, nil
}

// buildDSN appends the connection options every connection needs.
// _txlock=immediate takes the write lock at BEGIN so read-then-write
// transactions wait on busy_timeout instead of failing with SQLITE_BUSY.
func buildDSN(path string, memory bool) string {
	opts := "_foreign_keys=on&_busy_timeout=5000&_txlock=immediate"
	if !memory {
		opts += "&_journal_mode=WAL&_synchronous=FULL"
	}
	if strings.Contains(path, "?") {
		return path + "&" + opts
	}
	return path + "?" + opts
}

// countsAsSuccess keeps caller mistakes such as missing rows or constraint
// violations from tripping the breaker.
func countsAsSuccess(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, sql.ErrNoRows) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		isConstraintError(err) {
		return true
	}
	_, isDomain := domain.AsErr(err)
	return isDomain
}
func (s *SQLite) migrate(ctx context.Context) error {
	sub, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return err
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, s.db.DB, sub)
	if err != nil {
		return errors.Wrap(err, "goose provider")
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return errors.Wrap(err, "goose up")
	}
	for _, r := range results {
		s.log.Info().Str("migration", r.Source.Path).Dur("duration", r.Duration).Msg("migration applied")
	}
	return nil
}

// run executes fn under the breaker with a per-query deadline.
func (s *SQLite) run(ctx context.Context, fn func(ctx context.Context) error) error {
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, fn(queryCtx)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrCircuitOpen
	}
	return err
}
func (s *SQLite) inTx(ctx context.Context, fn func(ctx context.Context, tx *sqlx.Tx) error) error {
	return s.run(ctx, func(ctx context.Context) error {
		tx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			return errors.Wrap(err, "begin tx")
		}
		if err := fn(ctx, tx); err != nil {
			_ = tx.Rollback()
			return err
		}
		return errors.Wrap(tx.Commit(), "commit tx")
	})
}
// inQuery expands a single IN (?) placeholder for args.
func inQuery(q string, args ...interface{}) (string, []interface{}, error) {
	q, out, err := sqlx.In(q, args...)
	if err != nil {
		return "", nil, errors.Wrap(err, "expand in clause")
	}
	return q, out, nil
}
func affected(res sql.Result) (int64, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "rows affected")
	}
	return n, nil
}
func (s *SQLite) Close() error {
	return s.db.Close()
}
