// Package models defines the core data structures for Chatterbox.
//
// It includes types for messages, conversations, users, and notifications,
// which are shared across modules.
package models

import (
	"errors"
	"time"
)

// MessageType defines the kind of content a message carries.
type MessageType string

const (
	// MessageTypeText is a plain text message.
	MessageTypeText MessageType = "text"
	// MessageTypeImage is an image message; Content may be empty and
	// ImageURL points at the stored blob.
	MessageTypeImage MessageType = "image"
)

// Validation constants for input validation
const (
	// MaxMessageContentLength defines the maximum allowed length for message content
	MaxMessageContentLength = 4096
	// NameFallbackIDLength is how many leading id characters a synthesized
	// display name uses when a user lookup fails.
	NameFallbackIDLength = 5
)

// Error variables for better error handling and testability
var (
	ErrEmptyMessageID   = errors.New("message id cannot be empty")
	ErrEmptySenderID    = errors.New("sender id cannot be empty")
	ErrEmptyReceiverID  = errors.New("receiver id cannot be empty")
	ErrInvalidType      = errors.New("invalid message type")
	ErrContentTooLong   = errors.New("message content exceeds maximum length")
	ErrMissingTimestamp = errors.New("message timestamp is not set")
)

// IsValidMessageType checks if the given message type is supported.
func IsValidMessageType(mt MessageType) bool {
	switch mt {
	case MessageTypeText, MessageTypeImage:
		return true
	default:
		return false
	}
}

// Message represents one chat message between two users. Messages are
// immutable once written except for the seen flag and reactions.
type Message struct {
	ID         string              `json:"id"`
	SenderID   string              `json:"sender_id"`
	ReceiverID string              `json:"receiver_id"`
	Content    string              `json:"content,omitempty"`
	ImageURL   string              `json:"image_url,omitempty"`
	Type       MessageType         `json:"type"`
	Timestamp  int64               `json:"timestamp"` // milliseconds since epoch, sender's clock
	Seen       bool                `json:"seen"`
	Reactions  map[string][]string `json:"reactions,omitempty"` // emoji -> user ids
}

// Validate performs validation on a Message structure.
func (m *Message) Validate() error {
	if m.ID == "" {
		return ErrEmptyMessageID
	}
	if m.SenderID == "" {
		return ErrEmptySenderID
	}
	if m.ReceiverID == "" {
		return ErrEmptyReceiverID
	}
	if !IsValidMessageType(m.Type) {
		return ErrInvalidType
	}
	if len(m.Content) > MaxMessageContentLength {
		return ErrContentTooLong
	}
	if m.Timestamp <= 0 {
		return ErrMissingTimestamp
	}
	return nil
}

// IsInbound reports whether the message was sent by the given peer to the
// given local user, as opposed to an echo of the local user's own message.
func (m *Message) IsInbound(currentUserID, peerID string) bool {
	return m.SenderID == peerID && m.ReceiverID == currentUserID
}

// AddReaction records a reaction from a user. Adding the same reaction twice
// is a no-op.
func (m *Message) AddReaction(emoji, userID string) {
	if m.Reactions == nil {
		m.Reactions = make(map[string][]string)
	}
	for _, id := range m.Reactions[emoji] {
		if id == userID {
			return
		}
	}
	m.Reactions[emoji] = append(m.Reactions[emoji], userID)
}

// RemoveReaction removes a user's reaction. Empty reaction lists are deleted.
func (m *Message) RemoveReaction(emoji, userID string) {
	users := m.Reactions[emoji]
	for i, id := range users {
		if id == userID {
			m.Reactions[emoji] = append(users[:i], users[i+1:]...)
			break
		}
	}
	if len(m.Reactions[emoji]) == 0 {
		delete(m.Reactions, emoji)
	}
}

// HasReaction reports whether the user already reacted with the given emoji.
func (m *Message) HasReaction(emoji, userID string) bool {
	for _, id := range m.Reactions[emoji] {
		if id == userID {
			return true
		}
	}
	return false
}

// Chat represents the conversation record between exactly two users.
type Chat struct {
	ChatID              string `json:"chat_id"`
	User1ID             string `json:"user1_id"`
	User2ID             string `json:"user2_id"`
	LastMessageContent  string `json:"last_message_content"`
	LastMessageTime     int64  `json:"last_message_timestamp"`
	LastMessageSenderID string `json:"last_message_sender_id"`
}

// ChatPreview is the per-user view of a conversation shown in chat lists.
type ChatPreview struct {
	PeerID              string `json:"peer_id"`
	LastMessageContent  string `json:"last_message_content"`
	LastMessageTime     int64  `json:"last_message_timestamp"`
	LastMessageSenderID string `json:"last_message_sender_id"`
}

// User represents a Chatterbox account as stored in the user directory.
type User struct {
	UserID          string `json:"user_id"`
	Username        string `json:"username"`
	Email           string `json:"email,omitempty"`
	ProfileImageURL string `json:"profile_image_url,omitempty"`
	Status          string `json:"status,omitempty"`
	LastSeen        int64  `json:"last_seen,omitempty"`
}

// Notification is one user-visible alert produced by the notification core.
type Notification struct {
	ID     string    `json:"id"`
	PeerID string    `json:"peer_id"`
	Title  string    `json:"title"`
	Body   string    `json:"body"`
	Time   time.Time `json:"time"`
}

// ConversationID derives the canonical conversation key for two user ids.
/// Both participants compute the same key: the lexicographically smaller id
// comes first.
func ConversationID(a, b string) string {
	if a < b {
		return a + "_" + b
	}
	return b + "_" + a
}

// TimerInfo describes an active scheduled timer.
type TimerInfo struct {
	ID          string    `json:"id"`
	ScheduledAt time.Time `json:"scheduled_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	Remaining   string    `json:"remaining"`
	Description string    `json:"description"`
}

// APIStatus classifies a control API response.
type APIStatus string

const (
	APIStatusOK    APIStatus = "ok"
	APIStatusError APIStatus = "error"
)

// APIResponse is the standard envelope for control API responses.
type APIResponse struct {
	Status  APIStatus   `json:"status"`
	Message string      `json:"message,omitempty"`
	Result  interface{} `json:"result,omitempty"`
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: APIStatusOK, Result: result}
}

// SuccessWithMessage creates a successful API response with a message.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return APIResponse{Status: APIStatusOK, Message: message, Result: result}
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: APIStatusError, Message: message}
}
