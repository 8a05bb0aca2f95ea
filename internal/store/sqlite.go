// Package store provides storage backends for Chatterbox.
//
// This file implements a SQLite-backed store, the local durable variant used
// for single-host deployments and offline caching.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "embed"

	"github.com/chatterbox-chat/chatterbox/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// DefaultDirPermissions defines the default permissions for database directories
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// Compile-time check that SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) SaveMessage(conversationID string, msg models.Message) error {
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("invalid message: %w", err)
	}
	reactions, err := marshalReactions(msg.Reactions)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO messages
		 (conversation_id, message_id, sender_id, receiver_id, content, image_url, type, timestamp, seen, reactions)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		conversationID, msg.ID, msg.SenderID, msg.ReceiverID,
		nilIfEmpty(msg.Content), nilIfEmpty(msg.ImageURL), string(msg.Type), msg.Timestamp, msg.Seen, reactions,
	)
	if err != nil {
		slog.Error("SQLiteStore SaveMessage failed", "error", err, "conversationID", conversationID, "messageID", msg.ID)
		return fmt.Errorf("failed to save message %s: %w", msg.ID, err)
	}
	slog.Debug("SQLiteStore SaveMessage succeeded", "conversationID", conversationID, "messageID", msg.ID)
	return nil
}

func (s *SQLiteStore) ListMessages(conversationID string) ([]models.Message, error) {
	rows, err := s.db.Query(
		`SELECT message_id, sender_id, receiver_id, content, image_url, type, timestamp, seen, reactions
		 FROM messages WHERE conversation_id = ? ORDER BY timestamp ASC`, conversationID)
	if err != nil {
		slog.Error("SQLiteStore ListMessages query failed", "error", err, "conversationID", conversationID)
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var msgs []models.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			slog.Error("SQLiteStore ListMessages scan failed", "error", err)
			return nil, err
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		slog.Error("SQLiteStore ListMessages rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate message rows: %w", err)
	}
	slog.Debug("SQLiteStore ListMessages succeeded", "conversationID", conversationID, "count", len(msgs))
	return msgs, nil
}

func (s *SQLiteStore) GetMessage(conversationID, messageID string) (*models.Message, error) {
	rows, err := s.db.Query(
		`SELECT message_id, sender_id, receiver_id, content, image_url, type, timestamp, seen, reactions
		 FROM messages WHERE conversation_id = ? AND message_id = ?`, conversationID, messageID)
	if err != nil {
		return nil, fmt.Errorf("failed to query message: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, rows.Err()
	}
	m, err := scanMessage(rows)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *SQLiteStore) MarkMessageSeen(conversationID, messageID string) error {
	res, err := s.db.Exec(
		`UPDATE messages SET seen = 1 WHERE conversation_id = ? AND message_id = ?`,
		conversationID, messageID)
	if err != nil {
		slog.Error("SQLiteStore MarkMessageSeen failed", "error", err, "messageID", messageID)
		return fmt.Errorf("mark seen failed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) AddReaction(conversationID, messageID, emoji, userID string) error {
	return s.mutateReactions(conversationID, messageID, func(m *models.Message) {
		m.AddReaction(emoji, userID)
	})
}

func (s *SQLiteStore) RemoveReaction(conversationID, messageID, emoji, userID string) error {
	return s.mutateReactions(conversationID, messageID, func(m *models.Message) {
		m.RemoveReaction(emoji, userID)
	})
}

// mutateReactions reads the message, applies fn, and writes the reactions
// column back.
func (s *SQLiteStore) mutateReactions(conversationID, messageID string, fn func(*models.Message)) error {
	m, err := s.GetMessage(conversationID, messageID)
	if err != nil {
		return err
	}
	if m == nil {
		return ErrNotFound
	}
	fn(m)
	reactions, err := marshalReactions(m.Reactions)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`UPDATE messages SET reactions = ? WHERE conversation_id = ? AND message_id = ?`,
		reactions, conversationID, messageID)
	if err != nil {
		slog.Error("SQLiteStore reaction update failed", "error", err, "messageID", messageID)
		return fmt.Errorf("reaction update failed: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SaveChat(chat models.Chat) error {
	if chat.ChatID == "" {
		return fmt.Errorf("chat id cannot be empty")
	}
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO chats
		 (chat_id, user1_id, user2_id, last_message_content, last_message_timestamp, last_message_sender_id)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		chat.ChatID, chat.User1ID, chat.User2ID,
		nilIfEmpty(chat.LastMessageContent), chat.LastMessageTime, nilIfEmpty(chat.LastMessageSenderID),
	)
	if err != nil {
		slog.Error("SQLiteStore SaveChat failed", "error", err, "chatID", chat.ChatID)
		return fmt.Errorf("failed to save chat %s: %w", chat.ChatID, err)
	}
	return nil
}

func (s *SQLiteStore) GetChat(chatID string) (*models.Chat, error) {
	var chat models.Chat
	var content, senderID sql.NullString
	err := s.db.QueryRow(
		`SELECT chat_id, user1_id, user2_id, last_message_content, last_message_timestamp, last_message_sender_id
		 FROM chats WHERE chat_id = ?`, chatID).
		Scan(&chat.ChatID, &chat.User1ID, &chat.User2ID, &content, &chat.LastMessageTime, &senderID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetChat failed", "error", err, "chatID", chatID)
		return nil, fmt.Errorf("failed to get chat: %w", err)
	}
	chat.LastMessageContent = content.String
	chat.LastMessageSenderID = senderID.String
	return &chat, nil
}

func (s *SQLiteStore) ListChatPartners(userID string) ([]string, error) {
	rows, err := s.db.Query(
		`SELECT user1_id, user2_id FROM chats WHERE user1_id = ? OR user2_id = ? ORDER BY chat_id`,
		userID, userID)
	if err != nil {
		slog.Error("SQLiteStore ListChatPartners query failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to query chats: %w", err)
	}
	defer rows.Close()

	var peers []string
	for rows.Next() {
		var u1, u2 string
		if err := rows.Scan(&u1, &u2); err != nil {
			return nil, fmt.Errorf("failed to scan chat row: %w", err)
		}
		if u1 == userID {
			peers = append(peers, u2)
		} else {
			peers = append(peers, u1)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate chat rows: %w", err)
	}
	return peers, nil
}

func (s *SQLiteStore) SaveUser(user models.User) error {
	if user.UserID == "" {
		return fmt.Errorf("user id cannot be empty")
	}
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO users (user_id, username, email, profile_image_url, status, last_seen)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		user.UserID, user.Username, nilIfEmpty(user.Email), nilIfEmpty(user.ProfileImageURL),
		nilIfEmpty(user.Status), user.LastSeen,
	)
	if err != nil {
		slog.Error("SQLiteStore SaveUser failed", "error", err, "userID", user.UserID)
		return fmt.Errorf("failed to save user %s: %w", user.UserID, err)
	}
	return nil
}

func (s *SQLiteStore) GetUser(userID string) (*models.User, error) {
	var user models.User
	var email, imageURL, status sql.NullString
	err := s.db.QueryRow(
		`SELECT user_id, username, email, profile_image_url, status, last_seen FROM users WHERE user_id = ?`,
		userID).
		Scan(&user.UserID, &user.Username, &email, &imageURL, &status, &user.LastSeen)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetUser failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	user.Email = email.String
	user.ProfileImageURL = imageURL.String
	user.Status = status.String
	return &user, nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	}
	return err
}
