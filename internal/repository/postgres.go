package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/imagemux/imagemux/pkg/types"
)

// PostgresStore implements Store using PostgreSQL. The full record is
// stored as JSONB alongside indexed query columns.
type PostgresStore struct {
	db *sql.DB
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Database     string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	ConnLifetime time.Duration
}

// DefaultPostgresConfig returns sensible defaults.
func DefaultPostgresConfig() *PostgresConfig {
	return &PostgresConfig{
		Host:         "localhost",
		Port:         5432,
		Database:     "imagemux",
		SSLMode:      "disable",
		MaxOpenConns: 25,
		MaxIdleConns: 5,
		ConnLifetime: 5 * time.Minute,
	}
}

// NewPostgresStore connects to PostgreSQL and ensures the schema exists.
func NewPostgresStore(ctx context.Context, cfg *PostgresConfig) (*PostgresStore, error) {
	if cfg == nil {
		cfg = DefaultPostgresConfig()
	}

	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnLifetime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	store := &PostgresStore{db: db}
	if err := store.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS generation_records (
	id            TEXT PRIMARY KEY,
	department_id TEXT NOT NULL,
	user_id       TEXT NOT NULL,
	status        TEXT NOT NULL,
	provider      TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL,
	record        JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_generation_records_department
	ON generation_records (department_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_generation_records_user
	ON generation_records (user_id, created_at DESC);
`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}

// Save implements Store.
func (s *PostgresStore) Save(ctx context.Context, record *types.GenerationRecord) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("postgres: marshal record: %w", err)
	}

	const q = `
INSERT INTO generation_records (id, department_id, user_id, status, provider, created_at, record)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (id) DO UPDATE SET
	status = EXCLUDED.status,
	provider = EXCLUDED.provider,
	record = EXCLUDED.record
`
	_, err = s.db.ExecContext(ctx, q,
		record.ID,
		record.Request.DepartmentID,
		record.Request.UserID,
		string(record.Status),
		record.Provider,
		record.CreatedAt,
		raw,
	)
	if err != nil {
		return fmt.Errorf("postgres: save record: %w", err)
	}
	return nil
}

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, id string) (*types.GenerationRecord, error) {
	const q = `SELECT record FROM generation_records WHERE id = $1`

	var raw []byte
	err := s.db.QueryRowContext(ctx, q, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get record: %w", err)
	}

	var record types.GenerationRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("postgres: unmarshal record: %w", err)
	}
	return &record, nil
}

// List implements Store.
func (s *PostgresStore) List(ctx context.Context, filter ListFilter) ([]*types.GenerationRecord, error) {
	q := `SELECT record FROM generation_records WHERE 1=1`
	args := make([]any, 0, 4)

	if filter.DepartmentID != "" {
		args = append(args, filter.DepartmentID)
		q += fmt.Sprintf(" AND department_id = $%d", len(args))
	}
	if filter.UserID != "" {
		args = append(args, filter.UserID)
		q += fmt.Sprintf(" AND user_id = $%d", len(args))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		q += fmt.Sprintf(" AND status = $%d", len(args))
	}
	q += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list records: %w", err)
	}
	defer rows.Close()

	var out []*types.GenerationRecord
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("postgres: scan record: %w", err)
		}
		var record types.GenerationRecord
		if err := json.Unmarshal(raw, &record); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal record: %w", err)
		}
		out = append(out, &record)
	}
	return out, rows.Err()
}

// Close implements Store.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
