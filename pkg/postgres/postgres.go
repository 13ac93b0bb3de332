// Package postgres provides a replica.Store backed by a PostgreSQL table,
// using LISTEN/NOTIFY for change detection.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/zoobzio/replica"
)

// Store keeps durable records as rows of a key/value table and notifies
// watchers through pg_notify. Writes send the notification themselves, so
// no trigger is needed. The table is created by Migrate:
//
//	CREATE TABLE IF NOT EXISTS replica_state (
//	    key   TEXT PRIMARY KEY,
//	    value BYTEA NOT NULL
//	);
type Store struct {
	pool    *pgxpool.Pool
	table   string
	channel string
}

// Option configures a Store.
type Option func(*Store)

// WithTable sets the table name. Defaults to "replica_state".
func WithTable(table string) Option {
	return func(s *Store) {
		s.table = table
	}
}

// WithChannel sets the notification channel. Defaults to "replica_state_changed".
func WithChannel(channel string) Option {
	return func(s *Store) {
		s.channel = channel
	}
}

// New creates a Store using pool.
func New(pool *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{
		pool:    pool,
		table:   "replica_state",
		channel: "replica_state_changed",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Migrate creates the backing table if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (key TEXT PRIMARY KEY, value BYTEA NOT NULL)`,
		pgx.Identifier{s.table}.Sanitize())
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create table %s: %w", s.table, err)
	}
	return nil
}

// Get implements replica.Store.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	query := fmt.Sprintf("SELECT value FROM %s WHERE key = $1", pgx.Identifier{s.table}.Sanitize())
	err := s.pool.QueryRow(ctx, query, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, replica.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres get %s: %w", key, err)
	}
	return value, nil
}

// Set implements replica.Store. The upsert and the notification commit
// together.
func (s *Store) Set(ctx context.Context, key string, data []byte) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	query := fmt.Sprintf(
		"INSERT INTO %s (key, value) VALUES ($1, $2) ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value",
		pgx.Identifier{s.table}.Sanitize(),
	)
	if _, err := tx.Exec(ctx, query, key, data); err != nil {
		return fmt.Errorf("postgres set %s: %w", key, err)
	}
	if _, err := tx.Exec(ctx, "SELECT pg_notify($1, $2)", s.channel, key); err != nil {
		return fmt.Errorf("postgres notify %s: %w", key, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres commit: %w", err)
	}
	return nil
}

// Watch implements replica.Store. The current value is emitted first when
// the row exists.
func (s *Store) Watch(ctx context.Context, key string) (<-chan []byte, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}

	// Start listening
	_, err = conn.Exec(ctx, "LISTEN "+pgx.Identifier{s.channel}.Sanitize())
	if err != nil {
		conn.Release()
		return nil, fmt.Errorf("failed to listen on channel %s: %w", s.channel, err)
	}

	// The connection keeps the LISTEN for its lifetime, so it leaves the pool.
	listener := conn.Hijack()
	out := make(chan []byte)

	go func() {
		defer close(out)
		defer listener.Close(context.Background()) //nolint:errcheck // best effort on shutdown

		if value, err := s.Get(ctx, key); err == nil {
			select {
			case out <- value:
			case <-ctx.Done():
				return
			}
		}

		for {
			notification, err := listener.WaitForNotification(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				continue
			}
			if notification.Payload != key {
				continue
			}

			value, err := s.Get(ctx, key)
			if err != nil {
				continue
			}
			select {
			case out <- value:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

// Ensure Store implements replica.Store.
var _ replica.Store = (*Store)(nil)
