// Package postgres provides a PostgreSQL implementation of
// storage.HistoryStore. It uses pgx/v5 for connection pooling and JSONB for
// the request summary and artifact list.
package postgres

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rhuss/antwort-sandbox/pkg/api"
	"github.com/rhuss/antwort-sandbox/pkg/storage"
)

// Store is a PostgreSQL-backed HistoryStore.
type Store struct {
	pool *pgxpool.Pool
}

var _ storage.HistoryStore = (*Store)(nil)

// Config holds the history store's connection settings. Zero pool sizes
// and lifetime fall back to 25 connections, 5 idle and 5 minutes.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MigrateOnStart  bool
}

// New connects to the history database and, when MigrateOnStart is set,
// brings its schema up to date.
func New(ctx context.Context, cfg Config) (*Store, error) {
	poolCfg, err := poolConfig(cfg)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	s := &Store{pool: pool}

	if cfg.MigrateOnStart {
		if err := s.migrate(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("running migrations: %w", err)
		}
	}

	return s, nil
}

func poolConfig(cfg Config) (*pgxpool.Config, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing DSN: %w", err)
	}
	poolCfg.MaxConns = cmp.Or(cfg.MaxConns, 25)
	poolCfg.MinConns = min(cmp.Or(cfg.MinConns, 5), poolCfg.MaxConns)
	poolCfg.MaxConnLifetime = cmp.Or(cfg.MaxConnLifetime, 5*time.Minute)
	return poolCfg, nil
}

// Append inserts a history entry. The BIGSERIAL sequence preserves
// completion order.
func (s *Store) Append(ctx context.Context, entry *api.HistoryEntry) error {
	requestJSON, err := json.Marshal(entry.Request)
	if err != nil {
		return fmt.Errorf("marshaling request summary: %w", err)
	}

	var artifactsJSON []byte
	if len(entry.Artifacts) > 0 {
		artifactsJSON, err = json.Marshal(entry.Artifacts)
		if err != nil {
			return fmt.Errorf("marshaling artifacts: %w", err)
		}
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO execution_history (
			execution_id, tenant_id, session_id, runtime, status,
			request, artifacts, duration_ms, exit_code, recovered, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		entry.ExecutionID, storage.GetTenant(ctx), entry.SessionID, string(entry.Request.Runtime), string(entry.Status),
		requestJSON, nullJSON(artifactsJSON), entry.DurationMs, entry.ExitCode, entry.Recovered, entry.CompletedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("inserting history entry: %w", err)
	}
	return nil
}

const selectColumns = `
	SELECT execution_id, session_id, status, request, artifacts,
	       duration_ms, exit_code, recovered, completed_at
	FROM execution_history
`

// List returns a session's entries in completion order, starting after the
// cursor when one is given.
func (s *Store) List(ctx context.Context, sessionID string, opts storage.ListOptions) (*storage.HistoryPage, error) {
	tenantID := storage.GetTenant(ctx)
	limit := opts.NormalizedLimit()

	query := selectColumns + " WHERE tenant_id = $1 AND session_id = $2"
	args := []any{tenantID, sessionID}

	if opts.After != "" {
		var seq int64
		err := s.pool.QueryRow(ctx,
			"SELECT seq FROM execution_history WHERE execution_id = $1 AND tenant_id = $2 AND session_id = $3",
			opts.After, tenantID, sessionID,
		).Scan(&seq)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("resolving cursor: %w", err)
		}
		query += " AND seq > $3"
		args = append(args, seq)
	}
	query += fmt.Sprintf(" ORDER BY seq ASC LIMIT %d", limit+1)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (api.HistoryEntry, error) {
		e, err := scanEntry(row)
		if err != nil {
			return api.HistoryEntry{}, err
		}
		return *e, nil
	})
	if err != nil {
		return nil, err
	}
	return storage.NewHistoryPage(entries, limit), nil
}

// Get returns the entry for one execution.
func (s *Store) Get(ctx context.Context, executionID string) (*api.HistoryEntry, error) {
	query := selectColumns + " WHERE execution_id = $1"
	args := []any{executionID}
	if tenantID := storage.GetTenant(ctx); tenantID != "" {
		query += " AND tenant_id = $2"
		args = append(args, tenantID)
	}

	e, err := scanEntry(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	return e, err
}

// DeleteSession removes every entry of a session.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	result, err := s.pool.Exec(ctx,
		"DELETE FROM execution_history WHERE tenant_id = $1 AND session_id = $2",
		storage.GetTenant(ctx), sessionID,
	)
	if err != nil {
		return fmt.Errorf("deleting session history: %w", err)
	}
	if result.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// HealthCheck verifies the database connection.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func scanEntry(row pgx.Row) (*api.HistoryEntry, error) {
	var e api.HistoryEntry
	var status string
	var requestJSON []byte
	var artifactsJSON *[]byte

	err := row.Scan(
		&e.ExecutionID, &e.SessionID, &status, &requestJSON, &artifactsJSON,
		&e.DurationMs, &e.ExitCode, &e.Recovered, &e.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning history entry: %w", err)
	}

	e.Status = api.Status(status)
	if err := json.Unmarshal(requestJSON, &e.Request); err != nil {
		return nil, fmt.Errorf("unmarshaling request summary: %w", err)
	}
	if artifactsJSON != nil {
		if err := json.Unmarshal(*artifactsJSON, &e.Artifacts); err != nil {
			return nil, fmt.Errorf("unmarshaling artifacts: %w", err)
		}
	}
	return &e, nil
}

// nullJSON converts nil/empty byte slices to nil for nullable JSONB columns.
func nullJSON(b []byte) *[]byte {
	if len(b) == 0 {
		return nil
	}
	return &b
}

// isDuplicateKey checks if the error is a PostgreSQL unique violation.
func isDuplicateKey(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
