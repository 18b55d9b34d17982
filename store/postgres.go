package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// Config holds PostgreSQL connection settings.
type Config struct {
	Host         string
	Port         int
	Database     string
	Username     string
	Password     string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  time.Duration
}

// PostgresAuditStore implements AuditStore on PostgreSQL.
type PostgresAuditStore struct {
	db *sql.DB
}

// NewPostgresAuditStore opens the connection pool, verifies it and creates
// the audit table if needed.
func NewPostgresAuditStore(cfg Config) (*PostgresAuditStore, error) {
	connStr := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.Username, cfg.Password, cfg.Database, cfg.SSLMode)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.MaxLifetime)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := createTableIfNotExists(db); err != nil {
		return nil, fmt.Errorf("failed to create table: %w", err)
	}

	return &PostgresAuditStore{db: db}, nil
}

func createTableIfNotExists(db *sql.DB) error {
	query := `
	CREATE TABLE IF NOT EXISTS anonymization_audit (
		id UUID PRIMARY KEY,
		text_sha256 VARCHAR(64) NOT NULL,
		detector VARCHAR(50) NOT NULL,
		entity_count INTEGER NOT NULL,
		labels JSONB NOT NULL DEFAULT '{}',
		duration_ms BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_anonymization_audit_created_at ON anonymization_audit(created_at);
	CREATE INDEX IF NOT EXISTS idx_anonymization_audit_detector ON anonymization_audit(detector);
	CREATE INDEX IF NOT EXISTS idx_anonymization_audit_text_sha256 ON anonymization_audit(text_sha256);
	`

	_, err := db.Exec(query)
	return err
}

// Record stores one run. Re-recording the same request ID updates it.
func (p *PostgresAuditStore) Record(ctx context.Context, e Entry) error {
	labels, err := json.Marshal(e.Labels)
	if err != nil {
		return fmt.Errorf("failed to encode labels: %w", err)
	}

	query := `
	INSERT INTO anonymization_audit (id, text_sha256, detector, entity_count, labels, duration_ms, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, NOW())
	ON CONFLICT (id)
	DO UPDATE SET
		entity_count = EXCLUDED.entity_count,
		labels = EXCLUDED.labels,
		duration_ms = EXCLUDED.duration_ms
	`

	_, err = p.db.ExecContext(ctx, query, e.ID, e.TextSHA256, e.Detector, e.EntityCount, labels, e.DurationMS)
	return err
}

// Recent returns up to limit entries, newest first.
func (p *PostgresAuditStore) Recent(ctx context.Context, limit int) ([]Entry, error) {
	query := `
	SELECT id, text_sha256, detector, entity_count, labels, duration_ms, created_at
	FROM anonymization_audit
	ORDER BY created_at DESC
	LIMIT $1
	`

	rows, err := p.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			fmt.Printf("Warning: failed to close rows: %v\n", err)
		}
	}()

	var out []Entry
	for rows.Next() {
		var e Entry
		var labels []byte
		if err := rows.Scan(&e.ID, &e.TextSHA256, &e.Detector, &e.EntityCount, &labels, &e.DurationMS, &e.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(labels, &e.Labels); err != nil {
			return nil, fmt.Errorf("failed to decode labels for %s: %w", e.ID, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// CountByLabel aggregates label occurrences across all recorded runs.
func (p *PostgresAuditStore) CountByLabel(ctx context.Context) (map[string]int, error) {
	query := `
	SELECT kv.key, SUM((kv.value)::int)
	FROM anonymization_audit, jsonb_each_text(labels) AS kv
	GROUP BY kv.key
	`

	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			fmt.Printf("Warning: failed to close rows: %v\n", err)
		}
	}()

	counts := make(map[string]int)
	for rows.Next() {
		var label string
		var n int
		if err := rows.Scan(&label, &n); err != nil {
			return nil, err
		}
		counts[label] = n
	}
	return counts, rows.Err()
}

// Cleanup removes entries older than olderThan.
func (p *PostgresAuditStore) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	result, err := p.db.ExecContext(ctx, `DELETE FROM anonymization_audit WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// Close closes the connection pool.
func (p *PostgresAuditStore) Close() error {
	return p.db.Close()
}
