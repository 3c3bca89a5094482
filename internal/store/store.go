// Package store persists conversations and settings in SQLite.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/glowlab/deskagent/internal/chat"
	"github.com/glowlab/deskagent/internal/logger"
)

// Conversation is one persisted chat thread.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store handles SQLite operations for conversations and settings.
type Store struct {
	db     *sql.DB
	dbPath string
	log    *logger.Logger
}

// New opens (or creates) the database at dbPath. ":memory:" is accepted for
// ephemeral stores.
func New(dbPath string) (*Store, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s := &Store{db: db, dbPath: dbPath, log: logger.WithPrefix("store")}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS config (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		tool_calls TEXT,
		reasoning_trace TEXT,
		cost_estimate REAL DEFAULT 0.0,
		duration_ms INTEGER DEFAULT 0,
		is_error BOOLEAN NOT NULL DEFAULT FALSE,
		timestamp DATETIME NOT NULL,
		FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, timestamp);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create initial schema: %w", err)
	}
	return nil
}

// Config operations

// GetConfig gets a configuration value; missing keys return "".
func (s *Store) GetConfig(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM config WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// SetConfig sets a configuration value.
func (s *Store) SetConfig(key, value string) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO config (key, value) VALUES (?, ?)
	`, key, value)
	return err
}

// Conversation operations

// CreateConversation creates a new conversation with the given title.
func (s *Store) CreateConversation(title string) (*Conversation, error) {
	now := time.Now().UTC()
	conv := &Conversation{
		ID:        uuid.NewString(),
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := s.db.Exec(`
		INSERT INTO conversations (id, title, created_at, updated_at)
		VALUES (?, ?, ?, ?)
	`, conv.ID, conv.Title, conv.CreatedAt, conv.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	return conv, nil
}

// GetConversation looks up one conversation by id.
func (s *Store) GetConversation(id string) (*Conversation, error) {
	conv := &Conversation{ID: id}
	err := s.db.QueryRow(`
		SELECT title, created_at, updated_at FROM conversations WHERE id = ?
	`, id).Scan(&conv.Title, &conv.CreatedAt, &conv.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("conversation %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	return conv, nil
}

// ListConversations returns all conversations, most recently updated first.
func (s *Store) ListConversations() ([]*Conversation, error) {
	rows, err := s.db.Query(`
		SELECT id, title, created_at, updated_at
		FROM conversations
		ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var convs []*Conversation
	for rows.Next() {
		conv := &Conversation{}
		if err := rows.Scan(&conv.ID, &conv.Title, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
			return nil, err
		}
		convs = append(convs, conv)
	}
	return convs, rows.Err()
}

// RenameConversation updates a conversation title.
func (s *Store) RenameConversation(id, title string) error {
	_, err := s.db.Exec(`
		UPDATE conversations SET title = ?, updated_at = ? WHERE id = ?
	`, title, time.Now().UTC(), id)
	return err
}

// DeleteConversation removes a conversation and its messages.
func (s *Store) DeleteConversation(id string) error {
	_, err := s.db.Exec(`DELETE FROM conversations WHERE id = ?`, id)
	return err
}

// Message operations

// AppendMessage persists one message at the end of a conversation. Tool calls
// and the reasoning trace are stored as JSON columns.
func (s *Store) AppendMessage(conversationID string, msg chat.Message) error {
	toolCalls, err := marshalNullable(msg.ToolCalls)
	if err != nil {
		return fmt.Errorf("failed to encode tool calls: %w", err)
	}
	trace, err := marshalNullable(msg.ReasoningTrace)
	if err != nil {
		return fmt.Errorf("failed to encode reasoning trace: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO messages
		(id, conversation_id, role, content, tool_calls, reasoning_trace,
		 cost_estimate, duration_ms, is_error, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, msg.ID, conversationID, string(msg.Role), msg.Content, toolCalls, trace,
		msg.CostEstimate, msg.DurationMs, msg.IsError, msg.Timestamp.UTC())
	if err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}

	_, err = s.db.Exec(`
		UPDATE conversations SET updated_at = ? WHERE id = ?
	`, time.Now().UTC(), conversationID)
	return err
}

// Messages loads the full message log of a conversation in order.
func (s *Store) Messages(conversationID string) ([]chat.Message, error) {
	rows, err := s.db.Query(`
		SELECT id, role, content, tool_calls, reasoning_trace,
		       cost_estimate, duration_ms, is_error, timestamp
		FROM messages WHERE conversation_id = ?
		ORDER BY timestamp, id
	`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []chat.Message
	for rows.Next() {
		var msg chat.Message
		var role string
		var toolCalls, trace sql.NullString

		err := rows.Scan(&msg.ID, &role, &msg.Content, &toolCalls, &trace,
			&msg.CostEstimate, &msg.DurationMs, &msg.IsError, &msg.Timestamp)
		if err != nil {
			return nil, err
		}
		msg.Role = chat.Role(role)

		if toolCalls.Valid && toolCalls.String != "" {
			if err := json.Unmarshal([]byte(toolCalls.String), &msg.ToolCalls); err != nil {
				return nil, fmt.Errorf("failed to decode tool calls for message %s: %w", msg.ID, err)
			}
		}
		if trace.Valid && trace.String != "" {
			if err := json.Unmarshal([]byte(trace.String), &msg.ReasoningTrace); err != nil {
				return nil, fmt.Errorf("failed to decode reasoning trace for message %s: %w", msg.ID, err)
			}
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// marshalNullable encodes a slice to JSON, mapping empty to SQL NULL.
func marshalNullable[T any](v []T) (any, error) {
	if len(v) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}
