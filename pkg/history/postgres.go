package history

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coldharbour/proxy-console/pkg/logbuffer"
)

const pgLogPrefix = "history:postgres"

// schema holds the console_logs table. Applied idempotently at startup.
const schema = `
CREATE TABLE IF NOT EXISTS console_logs (
    seq      BIGSERIAL PRIMARY KEY,
    id       BIGINT NOT NULL,
    ts       BIGINT NOT NULL,
    level    TEXT NOT NULL,
    target   TEXT NOT NULL DEFAULT '',
    message  TEXT NOT NULL DEFAULT '',
    fields   JSONB
)`

// PostgresStore persists history in Postgres, for deployments where the
// management service restarts must not lose the console history.
type PostgresStore struct {
	pool     *pgxpool.Pool
	capacity int
}

// NewPool creates a pgx connection pool from the given database URL and
// verifies connectivity.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	slog.Info(fmt.Sprintf("%s - Connecting to database", pgLogPrefix))

	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to parse database URL: %w", pgLogPrefix, err)
	}
	config.MaxConns = 10
	config.MinConns = 1

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to create pool: %w", pgLogPrefix, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%s - failed to ping database: %w", pgLogPrefix, err)
	}
	return pool, nil
}

// NewPostgresStore creates a PostgresStore over the given pool and ensures
// the schema exists. A capacity of zero or less uses the console default.
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool, capacity int) (*PostgresStore, error) {
	if capacity <= 0 {
		capacity = logbuffer.DefaultCapacity
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("%s - ensure schema: %w", pgLogPrefix, err)
	}
	return &PostgresStore{pool: pool, capacity: capacity}, nil
}

// Append inserts one record and trims rows past capacity.
func (s *PostgresStore) Append(ctx context.Context, record logbuffer.Record) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO console_logs (id, ts, level, target, message, fields)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		record.ID, record.Timestamp, record.Level, record.Target, record.Message, record.Fields)
	if err != nil {
		return fmt.Errorf("%s - insert: %w", pgLogPrefix, err)
	}

	_, err = s.pool.Exec(ctx,
		`DELETE FROM console_logs
		 WHERE seq <= (SELECT seq FROM console_logs ORDER BY seq DESC OFFSET $1 LIMIT 1)`,
		s.capacity)
	if err != nil {
		return fmt.Errorf("%s - trim: %w", pgLogPrefix, err)
	}
	return nil
}

// Snapshot returns up to limit most recent records in insertion order.
func (s *PostgresStore) Snapshot(ctx context.Context, limit int) ([]logbuffer.Record, error) {
	if limit <= 0 {
		limit = s.capacity
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, ts, level, target, message, fields
		 FROM (SELECT * FROM console_logs ORDER BY seq DESC LIMIT $1) recent
		 ORDER BY seq ASC`,
		limit)
	if err != nil {
		return nil, fmt.Errorf("%s - snapshot query: %w", pgLogPrefix, err)
	}
	defer rows.Close()

	var records []logbuffer.Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s - snapshot rows: %w", pgLogPrefix, err)
	}
	return records, nil
}

// Clear purges the history.
func (s *PostgresStore) Clear(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `TRUNCATE console_logs`); err != nil {
		return fmt.Errorf("%s - truncate: %w", pgLogPrefix, err)
	}
	return nil
}

func scanRecord(row pgx.Row) (logbuffer.Record, error) {
	var record logbuffer.Record
	var fields map[string]string
	if err := row.Scan(&record.ID, &record.Timestamp, &record.Level, &record.Target,
		&record.Message, &fields); err != nil {
		return logbuffer.Record{}, fmt.Errorf("%s - scan: %w", pgLogPrefix, err)
	}
	record.Fields = fields
	return record, nil
}
