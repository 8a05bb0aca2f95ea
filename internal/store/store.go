// Package store provides storage backends for Chatterbox.
//
// It persists messages, conversation records, and user profiles. An
// in-memory store backs tests and single-process deployments; SQLite and
// PostgreSQL stores provide durable variants behind the same interface.
package store

import (
	"fmt"
	"sort"
	"sync"

	"github.com/chatterbox-chat/chatterbox/internal/models"
)

// Opts holds configuration options for store backends.
type Opts struct {
	// DSN is the database connection string: a file path for SQLite or a
	// connection URL for Postgres.
	DSN string
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// Store defines the persistence interface for messages, chats, and users.
type Store interface {
	// SaveMessage inserts or replaces a message in its conversation.
	SaveMessage(conversationID string, msg models.Message) error
	// ListMessages returns all messages of a conversation ordered by
	// timestamp ascending.
	ListMessages(conversationID string) ([]models.Message, error)
	// GetMessage returns a single message, or nil if not found.
	GetMessage(conversationID, messageID string) (*models.Message, error)
	// MarkMessageSeen sets the seen flag on a message.
	MarkMessageSeen(conversationID, messageID string) error
	// AddReaction records an emoji reaction from a user on a message.
	AddReaction(conversationID, messageID, emoji, userID string) error
	// RemoveReaction removes a user's emoji reaction from a message.
	RemoveReaction(conversationID, messageID, emoji, userID string) error

	// SaveChat inserts or updates a conversation record.
	SaveChat(chat models.Chat) error
	// GetChat returns a conversation record, or nil if not found.
	GetChat(chatID string) (*models.Chat, error)
	// ListChatPartners returns the peer user ids of every conversation the
	// user participates in.
	ListChatPartners(userID string) ([]string, error)

	// SaveUser inserts or updates a user profile.
	SaveUser(user models.User) error
	// GetUser returns a user profile, or nil if not found.
	GetUser(userID string) (*models.User, error)

	// Close releases underlying resources.
	Close() error
}

// ErrNotFound is returned by mutation methods that target a missing record.
var ErrNotFound = fmt.Errorf("record not found")

// InMemoryStore is a mutex-guarded in-memory Store implementation.
type InMemoryStore struct {
	mu       sync.RWMutex
	messages map[string][]models.Message // conversation id -> messages
	chats    map[string]models.Chat
	users    map[string]models.User
}

// Compile-time check that InMemoryStore implements Store.
var _ Store = (*InMemoryStore)(nil)

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		messages: make(map[string][]models.Message),
		chats:    make(map[string]models.Chat),
		users:    make(map[string]models.User),
	}
}

func (s *InMemoryStore) SaveMessage(conversationID string, msg models.Message) error {
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("invalid message: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.messages[conversationID]
	for i := range msgs {
		if msgs[i].ID == msg.ID {
			msgs[i] = msg
			return nil
		}
	}
	s.messages[conversationID] = append(msgs, msg)
	return nil
}

func (s *InMemoryStore) ListMessages(conversationID string) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := make([]models.Message, len(s.messages[conversationID]))
	copy(msgs, s.messages[conversationID])
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].Timestamp < msgs[j].Timestamp })
	return msgs, nil
}

func (s *InMemoryStore) GetMessage(conversationID, messageID string) (*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.messages[conversationID] {
		if m.ID == messageID {
			cp := m
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *InMemoryStore) MarkMessageSeen(conversationID, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.messages[conversationID]
	for i := range msgs {
		if msgs[i].ID == messageID {
			msgs[i].Seen = true
			return nil
		}
	}
	return ErrNotFound
}

func (s *InMemoryStore) AddReaction(conversationID, messageID, emoji, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.messages[conversationID]
	for i := range msgs {
		if msgs[i].ID == messageID {
			msgs[i].AddReaction(emoji, userID)
			return nil
		}
	}
	return ErrNotFound
}

func (s *InMemoryStore) RemoveReaction(conversationID, messageID, emoji, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.messages[conversationID]
	for i := range msgs {
		if msgs[i].ID == messageID {
			msgs[i].RemoveReaction(emoji, userID)
			return nil
		}
	}
	return ErrNotFound
}

func (s *InMemoryStore) SaveChat(chat models.Chat) error {
	if chat.ChatID == "" {
		return fmt.Errorf("chat id cannot be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chats[chat.ChatID] = chat
	return nil
}

func (s *InMemoryStore) GetChat(chatID string) (*models.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chat, ok := s.chats[chatID]
	if !ok {
		return nil, nil
	}
	return &chat, nil
}

func (s *InMemoryStore) ListChatPartners(userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var peers []string
	for _, chat := range s.chats {
		switch userID {
		case chat.User1ID:
			peers = append(peers, chat.User2ID)
		case chat.User2ID:
			peers = append(peers, chat.User1ID)
		}
	}
	sort.Strings(peers)
	return peers, nil
}

func (s *InMemoryStore) SaveUser(user models.User) error {
	if user.UserID == "" {
		return fmt.Errorf("user id cannot be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.UserID] = user
	return nil
}

func (s *InMemoryStore) GetUser(userID string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[userID]
	if !ok {
		return nil, nil
	}
	return &user, nil
}

func (s *InMemoryStore) Close() error { return nil }
