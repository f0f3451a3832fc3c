package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/sweetpotato0/ai-router/conversation"
	"github.com/sweetpotato0/ai-router/errors"
)

// PostgresStore keeps conversations in a single table with a JSONB transcript.
type PostgresStore struct {
	db *sql.DB
}

var _ conversation.Store = (*PostgresStore)(nil)

// PostgresConfig holds PostgreSQL connection configuration
type PostgresConfig struct {
	// DSN takes precedence over the discrete fields when set.
	DSN      string
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// DefaultPostgresConfig returns default PostgreSQL configuration
func DefaultPostgresConfig() *PostgresConfig {
	return &PostgresConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "postgres",
		Password: "postgres",
		DBName:   "ai_router",
		SSLMode:  "disable",
	}
}

func (c *PostgresConfig) dsn() string {
	if c.DSN != "" {
		return c.DSN
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

// NewPostgresStore connects to PostgreSQL and ensures the conversations table.
func NewPostgresStore(ctx context.Context, config *PostgresConfig) (*PostgresStore, error) {
	if config == nil {
		config = DefaultPostgresConfig()
	}

	db, err := sql.Open("postgres", config.dsn())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	store := &PostgresStore{db: db}
	if err := store.createTable(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}
	return store, nil
}

func (s *PostgresStore) createTable(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS conversations (
		id VARCHAR(255) PRIMARY KEY,
		name TEXT NOT NULL,
		messages JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_conversations_updated_at ON conversations(updated_at);
	`
	_, err := s.db.ExecContext(ctx, query)
	return err
}

// Get loads a conversation row.
func (s *PostgresStore) Get(ctx context.Context, id string) (*conversation.Conversation, error) {
	var (
		c   conversation.Conversation
		raw []byte
	)
	row := s.db.QueryRowContext(ctx, `SELECT id, name, messages, updated_at FROM conversations WHERE id = $1`, id)
	if err := row.Scan(&c.ID, &c.Name, &raw, &c.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("conversation %s: %w", id, errors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}
	if err := json.Unmarshal(raw, &c.Messages); err != nil {
		return nil, fmt.Errorf("failed to unmarshal messages: %w", err)
	}
	return &c, nil
}

// Save upserts the conversation row.
func (s *PostgresStore) Save(ctx context.Context, c *conversation.Conversation) error {
	if c == nil || c.ID == "" {
		return fmt.Errorf("conversation cannot be nil")
	}
	messages := c.Messages
	if messages == nil {
		messages = []conversation.Entry{}
	}
	raw, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("failed to marshal messages: %w", err)
	}
	updated := c.UpdatedAt
	if updated.IsZero() {
		updated = time.Now().UTC()
	}

	query := `
	INSERT INTO conversations (id, name, messages, updated_at)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (id) DO UPDATE SET
		name = EXCLUDED.name,
		messages = EXCLUDED.messages,
		updated_at = EXCLUDED.updated_at
	`
	if _, err := s.db.ExecContext(ctx, query, c.ID, c.Name, string(raw), updated); err != nil {
		return fmt.Errorf("failed to save conversation to PostgreSQL: %w", err)
	}
	return nil
}

// List returns id and name of every conversation.
func (s *PostgresStore) List(ctx context.Context) ([]conversation.Summary, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name FROM conversations ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	out := make([]conversation.Summary, 0)
	for rows.Next() {
		var sum conversation.Summary
		if err := rows.Scan(&sum.ID, &sum.Name); err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// Delete removes a conversation row.
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	return nil
}

// Ping checks if the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
