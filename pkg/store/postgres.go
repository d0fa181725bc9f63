package store

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgxConn is the subset of *pgxpool.Pool (and *pgx.Conn) PostgresStore uses.
type PgxConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore keeps one row per document.
// Requires a table with schema (see EnsureSchema):
//
//	CREATE TABLE docsync_documents (
//	    id TEXT PRIMARY KEY,
//	    state BYTEA NOT NULL,
//	    content TEXT NOT NULL,
//	    contributors TEXT[] NOT NULL DEFAULT '{}',
//	    updated_at TIMESTAMPTZ NOT NULL
//	);
type PostgresStore struct {
	conn      PgxConn
	tableName string
	closer    func()
	closed    atomic.Bool
}

// PostgresStoreOption configures PostgresStore behavior.
type PostgresStoreOption func(*postgresStoreConfig)

type postgresStoreConfig struct {
	tableName string
}

// WithPostgresTable sets the table name.
// Default: "docsync_documents".
func WithPostgresTable(name string) PostgresStoreOption {
	return func(c *postgresStoreConfig) {
		c.tableName = name
	}
}

// NewPostgresStore creates a store over an existing pool or connection.
// Close does not close conn, as it may be shared with other components.
func NewPostgresStore(conn PgxConn, opts ...PostgresStoreOption) *PostgresStore {
	cfg := &postgresStoreConfig{
		tableName: "docsync_documents",
	}
	for _, opt := range opts {
		opt(cfg)
	}

	return &PostgresStore{
		conn:      conn,
		tableName: cfg.tableName,
	}
}

// ConnectPostgres opens a pgx pool for databaseURL and returns a store that
// owns it.
func ConnectPostgres(ctx context.Context, databaseURL string, opts ...PostgresStoreOption) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("store: connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping postgres: %w", err)
	}

	s := NewPostgresStore(pool, opts...)
	s.closer = pool.Close
	return s, nil
}

// EnsureSchema creates the documents table if it doesn't exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			state BYTEA NOT NULL,
			content TEXT NOT NULL,
			contributors TEXT[] NOT NULL DEFAULT '{}',
			updated_at TIMESTAMPTZ NOT NULL
		)
	`, s.tableName)

	_, err := s.conn.Exec(ctx, query)
	return err
}

// LoadSnapshot selects the row for documentID.
func (s *PostgresStore) LoadSnapshot(ctx context.Context, documentID string) (*Snapshot, error) {
	if s.closed.Load() {
		return nil, ErrStoreClosed
	}

	query := fmt.Sprintf(`
		SELECT state, content, contributors, updated_at FROM %s
		WHERE id = $1
	`, s.tableName)

	var (
		snap         Snapshot
		contributors []string
		updatedAt    time.Time
	)
	err := s.conn.QueryRow(ctx, query, documentID).Scan(&snap.State, &snap.Content, &contributors, &updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if len(contributors) > 0 {
		snap.ContributorIDs = contributors
	}
	snap.UpdatedAt = updatedAt.UTC()
	return &snap, nil
}

// SaveSnapshot upserts the row for documentID.
func (s *PostgresStore) SaveSnapshot(ctx context.Context, documentID string, snap Snapshot) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, state, content, contributors, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			state = EXCLUDED.state,
			content = EXCLUDED.content,
			contributors = EXCLUDED.contributors,
			updated_at = EXCLUDED.updated_at
	`, s.tableName)

	contributors := snap.ContributorIDs
	if contributors == nil {
		contributors = []string{}
	}
	updatedAt := snap.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	_, err := s.conn.Exec(ctx, query, documentID, snap.State, snap.Content, contributors, updatedAt)
	return err
}

// Close marks the store closed and releases the pool if the store owns it.
func (s *PostgresStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	if s.closer != nil {
		s.closer()
	}
	return nil
}
