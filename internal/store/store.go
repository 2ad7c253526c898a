// Package store implements sqlite-backed persistence for conversations and
// messages.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	_ "modernc.org/sqlite"
)

// GlobalConversationID identifies the singleton shared conversation.
const GlobalConversationID = "global"

// MessageType distinguishes user turns from agent replies.
type MessageType string

const (
	MessageUser  MessageType = "user"
	MessageAgent MessageType = "agent"
)

// ErrNotFound is returned when a conversation or message does not exist.
var ErrNotFound = errors.New("not found")

// Conversation is one chat thread.
type Conversation struct {
	UID          string    `json:"conversation_uid"`
	Title        string    `json:"title"`
	UserUID      string    `json:"user_uid,omitempty"`
	AgentUID     string    `json:"agent_uid,omitempty"`
	Archived     bool      `json:"is_archived"`
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Message is one persisted turn.
type Message struct {
	UID             string            `json:"message_uid"`
	ConversationUID string            `json:"conversation_uid"`
	Content         string            `json:"content"`
	Type            MessageType       `json:"message_type"`
	AgentUID        string            `json:"agent_uid,omitempty"`
	VoicelinePath   string            `json:"voiceline_path,omitempty"`
	Rating          string            `json:"rating,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
}

// Store is the sqlite-backed document store.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	logger *slog.Logger
}

// Open opens (or creates) the database at path and runs migrations.
func Open(path string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS conversations (
		conversation_uid TEXT PRIMARY KEY,
		title TEXT NOT NULL DEFAULT '',
		user_uid TEXT NOT NULL DEFAULT '',
		agent_uid TEXT NOT NULL DEFAULT '',
		is_archived INTEGER NOT NULL DEFAULT 0,
		message_count INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS messages (
		message_uid TEXT PRIMARY KEY,
		conversation_uid TEXT NOT NULL,
		content TEXT NOT NULL,
		message_type TEXT NOT NULL,
		agent_uid TEXT NOT NULL DEFAULT '',
		voiceline_path TEXT NOT NULL DEFAULT '',
		rating TEXT NOT NULL DEFAULT '',
		metadata TEXT NOT NULL DEFAULT '{}',
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_uid, created_at);
	CREATE INDEX IF NOT EXISTS idx_conversations_updated ON conversations(updated_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateConversation inserts a new conversation with a fresh UID.
func (s *Store) CreateConversation(ctx context.Context, title, userUID, agentUID string) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	conv := &Conversation{
		UID:       uuid.NewString(),
		Title:     title,
		UserUID:   userUID,
		AgentUID:  agentUID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (conversation_uid, title, user_uid, agent_uid, is_archived, message_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, 0, 0, ?, ?)`,
		conv.UID, conv.Title, conv.UserUID, conv.AgentUID, conv.CreatedAt, conv.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert conversation: %w", err)
	}

	s.logger.Info("created conversation", "conversation", conv.UID, "title", title)
	return conv, nil
}

// EnsureGlobalConversation creates the singleton global conversation if it
// does not exist yet.
func (s *Store) EnsureGlobalConversation(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (conversation_uid, title, created_at, updated_at)
		VALUES (?, 'Global Conversation', ?, ?)
		ON CONFLICT(conversation_uid) DO NOTHING`,
		GlobalConversationID, now, now)
	if err != nil {
		return fmt.Errorf("failed to ensure global conversation: %w", err)
	}
	return nil
}

// GetConversation returns one conversation by UID.
func (s *Store) GetConversation(ctx context.Context, uid string) (*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT conversation_uid, title, user_uid, agent_uid, is_archived, message_count, created_at, updated_at
		FROM conversations WHERE conversation_uid = ?`, uid)

	conv := &Conversation{}
	var archived int
	err := row.Scan(&conv.UID, &conv.Title, &conv.UserUID, &conv.AgentUID, &archived, &conv.MessageCount, &conv.CreatedAt, &conv.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}
	conv.Archived = archived != 0
	return conv, nil
}

// InsertMessage persists a message and bumps the conversation's
// last-activity timestamp and message count. A failed bump is logged but
// does not fail the insert: losing activity metadata is preferable to
// losing the message.
func (s *Store) InsertMessage(ctx context.Context, msg *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.UID == "" {
		msg.UID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	metadata := msg.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal message metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO messages (message_uid, conversation_uid, content, message_type, agent_uid, voiceline_path, rating, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.UID, msg.ConversationUID, msg.Content, string(msg.Type), msg.AgentUID, msg.VoicelinePath, msg.Rating, string(metadataJSON), msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE conversations
		SET updated_at = ?, message_count = message_count + 1
		WHERE conversation_uid = ?`,
		msg.CreatedAt, msg.ConversationUID)
	if err != nil {
		s.logger.Warn("failed to update conversation activity", "conversation", msg.ConversationUID, "error", err)
	}

	return nil
}

// ListMessages returns a conversation's messages ordered by creation time.
func (s *Store) ListMessages(ctx context.Context, conversationUID string, limit int) ([]*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 1000
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT message_uid, conversation_uid, content, message_type, agent_uid, voiceline_path, rating, metadata, created_at
		FROM messages WHERE conversation_uid = ?
		ORDER BY created_at ASC LIMIT ?`, conversationUID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		msg := &Message{}
		var msgType, metadataJSON string
		if err := rows.Scan(&msg.UID, &msg.ConversationUID, &msg.Content, &msgType, &msg.AgentUID, &msg.VoicelinePath, &msg.Rating, &metadataJSON, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msg.Type = MessageType(msgType)
		if err := json.Unmarshal([]byte(metadataJSON), &msg.Metadata); err != nil {
			s.logger.Warn("corrupt message metadata", "message", msg.UID, "error", err)
			msg.Metadata = map[string]string{}
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// UpdateMessageRating sets the rating on a message.
func (s *Store) UpdateMessageRating(ctx context.Context, messageUID, rating string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `UPDATE messages SET rating = ? WHERE message_uid = ?`, rating, messageUID)
	if err != nil {
		return fmt.Errorf("failed to update message rating: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateMessageVoiceline attaches a voiceline path to an existing message.
// Non-critical: callers may ignore the error.
func (s *Store) UpdateMessageVoiceline(ctx context.Context, messageUID, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `UPDATE messages SET voiceline_path = ? WHERE message_uid = ?`, path, messageUID)
	if err != nil {
		return fmt.Errorf("failed to update message voiceline: %w", err)
	}
	return nil
}
