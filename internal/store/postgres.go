// Package store provides storage backends for Chatterbox.
//
// This file implements a PostgreSQL-backed store for shared deployments.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/chatterbox-chat/chatterbox/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running Postgres migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) SaveMessage(conversationID string, msg models.Message) error {
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("invalid message: %w", err)
	}
	reactions, err := marshalReactions(msg.Reactions)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT INTO messages
		 (conversation_id, message_id, sender_id, receiver_id, content, image_url, type, timestamp, seen, reactions)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (conversation_id, message_id) DO UPDATE SET
		   content = EXCLUDED.content, image_url = EXCLUDED.image_url,
		   seen = EXCLUDED.seen, reactions = EXCLUDED.reactions`,
		conversationID, msg.ID, msg.SenderID, msg.ReceiverID,
		nilIfEmpty(msg.Content), nilIfEmpty(msg.ImageURL), string(msg.Type), msg.Timestamp, msg.Seen, reactions,
	)
	if err != nil {
		slog.Error("PostgresStore SaveMessage failed", "error", err, "conversationID", conversationID, "messageID", msg.ID)
		return fmt.Errorf("failed to save message %s: %w", msg.ID, err)
	}
	return nil
}

func (s *PostgresStore) ListMessages(conversationID string) ([]models.Message, error) {
	rows, err := s.db.Query(
		`SELECT message_id, sender_id, receiver_id, content, image_url, type, timestamp, seen, reactions
		 FROM messages WHERE conversation_id = $1 ORDER BY timestamp ASC`, conversationID)
	if err != nil {
		slog.Error("PostgresStore ListMessages query failed", "error", err, "conversationID", conversationID)
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var msgs []models.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate message rows: %w", err)
	}
	return msgs, nil
}

func (s *PostgresStore) GetMessage(conversationID, messageID string) (*models.Message, error) {
	rows, err := s.db.Query(
		`SELECT message_id, sender_id, receiver_id, content, image_url, type, timestamp, seen, reactions
		 FROM messages WHERE conversation_id = $1 AND message_id = $2`, conversationID, messageID)
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

func (s *PostgresStore) MarkMessageSeen(conversationID, messageID string) error {
	res, err := s.db.Exec(
		`UPDATE messages SET seen = TRUE WHERE conversation_id = $1 AND message_id = $2`,
		conversationID, messageID)
	if err != nil {
		slog.Error("PostgresStore MarkMessageSeen failed", "error", err, "messageID", messageID)
		return fmt.Errorf("mark seen failed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) AddReaction(conversationID, messageID, emoji, userID string) error {
	return s.mutateReactions(conversationID, messageID, func(m *models.Message) {
		m.AddReaction(emoji, userID)
	})
}

func (s *PostgresStore) RemoveReaction(conversationID, messageID, emoji, userID string) error {
	return s.mutateReactions(conversationID, messageID, func(m *models.Message) {
		m.RemoveReaction(emoji, userID)
	})
}

func (s *PostgresStore) mutateReactions(conversationID, messageID string, fn func(*models.Message)) error {
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
		`UPDATE messages SET reactions = $1 WHERE conversation_id = $2 AND message_id = $3`,
		reactions, conversationID, messageID)
	if err != nil {
		slog.Error("PostgresStore reaction update failed", "error", err, "messageID", messageID)
		return fmt.Errorf("reaction update failed: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveChat(chat models.Chat) error {
	if chat.ChatID == "" {
		return fmt.Errorf("chat id cannot be empty")
	}
	_, err := s.db.Exec(
		`INSERT INTO chats (chat_id, user1_id, user2_id, last_message_content, last_message_timestamp, last_message_sender_id)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (chat_id) DO UPDATE SET
		   last_message_content = EXCLUDED.last_message_content,
		   last_message_timestamp = EXCLUDED.last_message_timestamp,
		   last_message_sender_id = EXCLUDED.last_message_sender_id`,
		chat.ChatID, chat.User1ID, chat.User2ID,
		nilIfEmpty(chat.LastMessageContent), chat.LastMessageTime, nilIfEmpty(chat.LastMessageSenderID),
	)
	if err != nil {
		slog.Error("PostgresStore SaveChat failed", "error", err, "chatID", chat.ChatID)
		return fmt.Errorf("failed to save chat %s: %w", chat.ChatID, err)
	}
	return nil
}

func (s *PostgresStore) GetChat(chatID string) (*models.Chat, error) {
	var chat models.Chat
	var content, senderID sql.NullString
	err := s.db.QueryRow(
		`SELECT chat_id, user1_id, user2_id, last_message_content, last_message_timestamp, last_message_sender_id
		 FROM chats WHERE chat_id = $1`, chatID).
		Scan(&chat.ChatID, &chat.User1ID, &chat.User2ID, &content, &chat.LastMessageTime, &senderID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get chat: %w", err)
	}
	chat.LastMessageContent = content.String
	chat.LastMessageSenderID = senderID.String
	return &chat, nil
}

func (s *PostgresStore) ListChatPartners(userID string) ([]string, error) {
	rows, err := s.db.Query(
		`SELECT user1_id, user2_id FROM chats WHERE user1_id = $1 OR user2_id = $1 ORDER BY chat_id`,
		userID)
	if err != nil {
		slog.Error("PostgresStore ListChatPartners query failed", "error", err, "userID", userID)
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

func (s *PostgresStore) SaveUser(user models.User) error {
	if user.UserID == "" {
		return fmt.Errorf("user id cannot be empty")
	}
	_, err := s.db.Exec(
		`INSERT INTO users (user_id, username, email, profile_image_url, status, last_seen)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (user_id) DO UPDATE SET
		   username = EXCLUDED.username, email = EXCLUDED.email,
		   profile_image_url = EXCLUDED.profile_image_url,
		   status = EXCLUDED.status, last_seen = EXCLUDED.last_seen`,
		user.UserID, user.Username, nilIfEmpty(user.Email), nilIfEmpty(user.ProfileImageURL),
		nilIfEmpty(user.Status), user.LastSeen,
	)
	if err != nil {
		slog.Error("PostgresStore SaveUser failed", "error", err, "userID", user.UserID)
		return fmt.Errorf("failed to save user %s: %w", user.UserID, err)
	}
	return nil
}

func (s *PostgresStore) GetUser(userID string) (*models.User, error) {
	var user models.User
	var email, imageURL, status sql.NullString
	err := s.db.QueryRow(
		`SELECT user_id, username, email, profile_image_url, status, last_seen FROM users WHERE user_id = $1`,
		userID).
		Scan(&user.UserID, &user.Username, &email, &imageURL, &status, &user.LastSeen)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	user.Email = email.String
	user.ProfileImageURL = imageURL.String
	user.Status = status.String
	return &user, nil
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	return s.db.Close()
}
