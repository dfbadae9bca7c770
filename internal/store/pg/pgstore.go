package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"agora.org/internal/governance"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
	pgErrSerialization       = "40001"
	pgErrDeadlock            = "40P01"
)

// Store implements governance.Store on Postgres. Every InTx runs at
// serializable isolation and is retried on serialization failures.
type Store struct {
	db            *sql.DB
	retries       uint
	retryInterval time.Duration
	log           *zap.Logger
}

var _ governance.Store = (*Store)(nil)

// Option configures Store.
type Option func(*Store)

// WithRetries sets how many times a conflicting transaction is re-run.
func WithRetries(n uint) Option {
	return func(s *Store) { s.retries = n }
}

// WithRetryInterval sets the first backoff delay between re-runs.
func WithRetryInterval(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.retryInterval = d
		}
	}
}

// WithLogger logs retried transactions.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

// PoolConfig tunes the connection pool opened by Open.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Open connects through the pgx driver.
func Open(dsn string, pool PoolConfig, opts ...Option) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if pool.MaxOpenConns > 0 {
		db.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		db.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if pool.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)
	return New(db, opts...), nil
}

// New wraps an existing handle.
func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{
		db:            db,
		retries:       5,
		retryInterval: 20 * time.Millisecond,
		log:           zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// InTx runs fn in a serializable transaction, re-running it from scratch when
// Postgres reports a serialization failure or deadlock.
func (s *Store) InTx(ctx context.Context, fn func(tx governance.Tx) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.retryInterval
	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		err := s.run(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable}, true, fn)
		if err == nil {
			return struct{}{}, nil
		}
		if retryable(err) {
			s.log.Debug("retrying serializable transaction", zap.Int("attempt", attempt), zap.Error(err))
			return struct{}{}, err
		}
		return struct{}{}, backoff.Permanent(err)
	}, backoff.WithBackOff(b), backoff.WithMaxTries(s.retries+1))
	return err
}

// View runs fn in a read-only snapshot.
func (s *Store) View(ctx context.Context, fn func(tx governance.Tx) error) error {
	return s.run(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}, false, fn)
}

func (s *Store) run(ctx context.Context, opts *sql.TxOptions, commit bool, fn func(tx governance.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if !commit {
		return nil
	}
	return tx.Commit()
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

func retryable(err error) bool {
	pgErr, ok := maybePgError(err)
	return ok && (pgErr.Code == pgErrSerialization || pgErr.Code == pgErrDeadlock)
}

// translate maps driver errors onto engine sentinels. what names the row for
// error messages; onUnique is returned for unique violations.
func translate(err error, what string, onUnique error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", governance.ErrNotFound, what)
	}
	if pgErr, ok := maybePgError(err); ok {
		switch pgErr.Code {
		case pgErrUniqueViolation:
			if onUnique != nil {
				return onUnique
			}
			return fmt.Errorf("%w: %s already exists", governance.ErrInvalidState, what)
		case pgErrForeignKeyViolation:
			return fmt.Errorf("%w: %s references a missing row", governance.ErrNotFound, what)
		}
	}
	return err
}

func mustAffect(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", governance.ErrNotFound, what)
	}
	return nil
}
