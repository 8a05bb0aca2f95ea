// Package backend defines the remote change source for Chatterbox: the
// document-store surface the notification core reads from and subscribes to.
//
// The core treats the backend as a black box exposing per-conversation
// queries and subscriptions. Delivery is at-least-once: the same insert may
// be reported more than once, and consumers are expected to deduplicate.
package backend

import (
	"context"

	"github.com/chatterbox-chat/chatterbox/internal/models"
)

// ChangeKind classifies a change event from the backend.
type ChangeKind string

const (
	// ChangeAdded reports a newly inserted record.
	ChangeAdded ChangeKind = "added"
	// ChangeModified reports an update to an existing record.
	ChangeModified ChangeKind = "modified"
	// ChangeRemoved reports a deleted record.
	ChangeRemoved ChangeKind = "removed"
)

// MessageEvent is one change to a conversation's message collection.
type MessageEvent struct {
	Kind           ChangeKind
	ConversationID string
	Message        models.Message
}

// ChatEvent is one change to a user's conversation-list collection.
type ChatEvent struct {
	Kind   ChangeKind
	PeerID string
}

// MessageSubscription is an active per-conversation subscription. Events
// arrive on Events until Remove is called; Remove is idempotent and closes
// the channel.
type MessageSubscription struct {
	Events <-chan MessageEvent
	remove func()
}

// NewMessageSubscription wraps an event channel and a release function into a
// subscription handle. remove must be safe to call more than once.
func NewMessageSubscription(events <-chan MessageEvent, remove func()) *MessageSubscription {
	return &MessageSubscription{Events: events, remove: remove}
}

// Remove releases the subscription.
func (s *MessageSubscription) Remove() {
	if s.remove != nil {
		s.remove()
	}
}

// ChatSubscription is an active subscription on a user's conversation list.
type ChatSubscription struct {
	Events <-chan ChatEvent
	remove func()
}

// NewChatSubscription wraps an event channel and a release function into a
// subscription handle. remove must be safe to call more than once.
func NewChatSubscription(events <-chan ChatEvent, remove func()) *ChatSubscription {
	return &ChatSubscription{Events: events, remove: remove}
}

// Remove releases the subscription.
func (s *ChatSubscription) Remove() {
	if s.remove != nil {
		s.remove()
	}
}

// Backend is the narrow interface the notification core consumes.
type Backend interface {
	// ListChatPartners returns the peer ids of every conversation the user
	// participates in.
	ListChatPartners(ctx context.Context, userID string) ([]string, error)

	// ListMessages returns all messages of a conversation ordered by
	// timestamp ascending.
	ListMessages(ctx context.Context, conversationID string) ([]models.Message, error)

	// GetUser resolves a user profile, or nil if unknown.
	GetUser(ctx context.Context, userID string) (*models.User, error)

	// SubscribeMessages opens a change subscription on one conversation's
	// message collection.
	SubscribeMessages(conversationID string) (*MessageSubscription, error)

	// SubscribeChatList opens a change subscription on the user's
	// conversation-list collection. Only insert events are reported.
	SubscribeChatList(userID string) (*ChatSubscription, error)

	// SendMessage writes a text message from sender to receiver, updates the
	// conversation record, and publishes an insert event.
	SendMessage(ctx context.Context, senderID, receiverID, content string) (*models.Message, error)

	// SendImageMessage writes an image message referencing an uploaded blob.
	SendImageMessage(ctx context.Context, senderID, receiverID, imageURL string) (*models.Message, error)

	// MarkConversationSeen flags every inbound message from peer to user as
	// seen and publishes modify events.
	MarkConversationSeen(ctx context.Context, userID, peerID string) error

	// AddReaction records an emoji reaction on a message.
	AddReaction(ctx context.Context, conversationID, messageID, emoji, userID string) error

	// RemoveReaction removes an emoji reaction from a message.
	RemoveReaction(ctx context.Context, conversationID, messageID, emoji, userID string) error
}
