package bulk

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/nblp/dcnet/group"
)

// PostgresLog persists a round's message log for post-mortem replay. It
// implements LogStore and is entirely optional: a Round with no LogStore
// attached behaves identically, just without durable history.
type PostgresLog struct {
	db *sql.DB
}

// PostgresConfig carries PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

func (c *PostgresConfig) connectionString() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, sslMode)
}

// NewPostgresLog opens a connection, verifies it, and ensures the log
// table exists.
func NewPostgresLog(cfg *PostgresConfig) (*PostgresLog, error) {
	db, err := sql.Open("postgres", cfg.connectionString())
	if err != nil {
		return nil, fmt.Errorf("bulk: opening postgres log: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("bulk: pinging postgres log: %w", err)
	}

	store := &PostgresLog{db: db}
	if err := store.migrate(); err != nil {
		return nil, fmt.Errorf("bulk: migrating postgres log: %w", err)
	}
	return store, nil
}

func (s *PostgresLog) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS bulk_round_log (
		id BIGSERIAL PRIMARY KEY,
		round_id VARCHAR(32) NOT NULL,
		sender_id VARCHAR(32) NOT NULL,
		kind SMALLINT NOT NULL,
		payload BYTEA,
		parse_error TEXT,
		recorded_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_bulk_round_log_round ON bulk_round_log(round_id);
	`
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Append implements LogStore.
func (s *PostgresLog) Append(roundID group.ID, entry Entry) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var parseErr sql.NullString
	if entry.Err != nil {
		parseErr = sql.NullString{String: entry.Err.Error(), Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO bulk_round_log (round_id, sender_id, kind, payload, parse_error)
		 VALUES ($1, $2, $3, $4, $5)`,
		roundID.String(), entry.Sender.String(), int(entry.Kind), entry.Payload, parseErr)
	return err
}

// Close releases the underlying connection pool.
func (s *PostgresLog) Close() error {
	return s.db.Close()
}
