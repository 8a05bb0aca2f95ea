package backend

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chatterbox-chat/chatterbox/internal/models"
	"github.com/chatterbox-chat/chatterbox/internal/store"
)

// DefaultEventBufferSize is the per-subscription channel buffer. A consumer
// that falls further behind than this drops events instead of blocking the
// publisher; the poller path picks up anything the listener missed.
const DefaultEventBufferSize = 64

// LocalBackend implements Backend over a store.Store with in-process
// subscription fan-out. It serves single-host deployments and tests.
type LocalBackend struct {
	store store.Store

	mu          sync.RWMutex
	msgSubs     map[string]map[int]chan MessageEvent // conversation id -> subscriber set
	chatSubs    map[string]map[int]chan ChatEvent    // user id -> subscriber set
	nextSub     int
	eventBuffer int
}

// Compile-time check that LocalBackend implements Backend.
var _ Backend = (*LocalBackend)(nil)

// NewLocalBackend creates a backend over the given store.
func NewLocalBackend(s store.Store) *LocalBackend {
	return &LocalBackend{
		store:       s,
		msgSubs:     make(map[string]map[int]chan MessageEvent),
		chatSubs:    make(map[string]map[int]chan ChatEvent),
		eventBuffer: DefaultEventBufferSize,
	}
}

func (b *LocalBackend) ListChatPartners(ctx context.Context, userID string) ([]string, error) {
	return b.store.ListChatPartners(userID)
}

func (b *LocalBackend) ListMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	return b.store.ListMessages(conversationID)
}

func (b *LocalBackend) GetUser(ctx context.Context, userID string) (*models.User, error) {
	return b.store.GetUser(userID)
}

func (b *LocalBackend) SubscribeMessages(conversationID string) (*MessageSubscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextSub
	b.nextSub++
	ch := make(chan MessageEvent, b.eventBuffer)
	if b.msgSubs[conversationID] == nil {
		b.msgSubs[conversationID] = make(map[int]chan MessageEvent)
	}
	b.msgSubs[conversationID][id] = ch

	slog.Debug("LocalBackend.SubscribeMessages: subscription opened", "conversationID", conversationID, "subID", id)

	var once sync.Once
	return &MessageSubscription{
		Events: ch,
		remove: func() {
			once.Do(func() {
				b.mu.Lock()
				delete(b.msgSubs[conversationID], id)
				b.mu.Unlock()
				close(ch)
			})
		},
	}, nil
}

func (b *LocalBackend) SubscribeChatList(userID string) (*ChatSubscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextSub
	b.nextSub++
	ch := make(chan ChatEvent, b.eventBuffer)
	if b.chatSubs[userID] == nil {
		b.chatSubs[userID] = make(map[int]chan ChatEvent)
	}
	b.chatSubs[userID][id] = ch

	slog.Debug("LocalBackend.SubscribeChatList: subscription opened", "userID", userID, "subID", id)

	var once sync.Once
	return &ChatSubscription{
		Events: ch,
		remove: func() {
			once.Do(func() {
				b.mu.Lock()
				delete(b.chatSubs[userID], id)
				b.mu.Unlock()
				close(ch)
			})
		},
	}, nil
}

func (b *LocalBackend) SendMessage(ctx context.Context, senderID, receiverID, content string) (*models.Message, error) {
	msg := models.Message{
		ID:         uuid.NewString(),
		SenderID:   senderID,
		ReceiverID: receiverID,
		Content:    content,
		Type:       models.MessageTypeText,
		Timestamp:  time.Now().UnixMilli(),
	}
	return b.deliver(ctx, msg)
}

func (b *LocalBackend) SendImageMessage(ctx context.Context, senderID, receiverID, imageURL string) (*models.Message, error) {
	msg := models.Message{
		ID:         uuid.NewString(),
		SenderID:   senderID,
		ReceiverID: receiverID,
		ImageURL:   imageURL,
		Type:       models.MessageTypeImage,
		Timestamp:  time.Now().UnixMilli(),
	}
	return b.deliver(ctx, msg)
}

// deliver persists the message, updates the conversation record, and fans
// out change events.
func (b *LocalBackend) deliver(ctx context.Context, msg models.Message) (*models.Message, error) {
	if err := msg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid message: %w", err)
	}
	convID := models.ConversationID(msg.SenderID, msg.ReceiverID)

	if err := b.store.SaveMessage(convID, msg); err != nil {
		return nil, fmt.Errorf("save message failed: %w", err)
	}

	existing, err := b.store.GetChat(convID)
	if err != nil {
		return nil, fmt.Errorf("load chat failed: %w", err)
	}
	preview := msg.Content
	if msg.Type == models.MessageTypeImage {
		preview = "📷 Image"
	}
	chat := models.Chat{
		ChatID:              convID,
		User1ID:             msg.SenderID,
		User2ID:             msg.ReceiverID,
		LastMessageContent:  preview,
		LastMessageTime:     msg.Timestamp,
		LastMessageSenderID: msg.SenderID,
	}
	if existing != nil {
		chat.User1ID = existing.User1ID
		chat.User2ID = existing.User2ID
	}
	if err := b.store.SaveChat(chat); err != nil {
		return nil, fmt.Errorf("save chat failed: %w", err)
	}

	if existing == nil {
		// A brand new conversation: tell both participants' chat lists.
		b.publishChat(msg.SenderID, ChatEvent{Kind: ChangeAdded, PeerID: msg.ReceiverID})
		b.publishChat(msg.ReceiverID, ChatEvent{Kind: ChangeAdded, PeerID: msg.SenderID})
	}

	b.PublishMessage(MessageEvent{Kind: ChangeAdded, ConversationID: convID, Message: msg})

	slog.Debug("LocalBackend.deliver: message delivered", "conversationID", convID, "messageID", msg.ID, "type", msg.Type)
	return &msg, nil
}

func (b *LocalBackend) MarkConversationSeen(ctx context.Context, userID, peerID string) error {
	convID := models.ConversationID(userID, peerID)
	msgs, err := b.store.ListMessages(convID)
	if err != nil {
		return fmt.Errorf("list messages failed: %w", err)
	}
	for _, m := range msgs {
		if !m.Seen && m.IsInbound(userID, peerID) {
			if err := b.store.MarkMessageSeen(convID, m.ID); err != nil {
				return fmt.Errorf("mark seen failed for %s: %w", m.ID, err)
			}
			m.Seen = true
			b.PublishMessage(MessageEvent{Kind: ChangeModified, ConversationID: convID, Message: m})
		}
	}
	return nil
}

func (b *LocalBackend) AddReaction(ctx context.Context, conversationID, messageID, emoji, userID string) error {
	if err := b.store.AddReaction(conversationID, messageID, emoji, userID); err != nil {
		return err
	}
	b.publishModified(conversationID, messageID)
	return nil
}

func (b *LocalBackend) RemoveReaction(ctx context.Context, conversationID, messageID, emoji, userID string) error {
	if err := b.store.RemoveReaction(conversationID, messageID, emoji, userID); err != nil {
		return err
	}
	b.publishModified(conversationID, messageID)
	return nil
}

func (b *LocalBackend) publishModified(conversationID, messageID string) {
	m, err := b.store.GetMessage(conversationID, messageID)
	if err != nil || m == nil {
		return
	}
	b.PublishMessage(MessageEvent{Kind: ChangeModified, ConversationID: conversationID, Message: *m})
}

// PublishMessage fans an event out to every subscriber of its conversation.
// A full subscriber channel drops the event with a warning; the publisher
// never blocks.
func (b *LocalBackend) PublishMessage(ev MessageEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, ch := range b.msgSubs[ev.ConversationID] {
		select {
		case ch <- ev:
		default:
			slog.Warn("LocalBackend.PublishMessage: subscriber channel full, dropping event",
				"conversationID", ev.ConversationID, "subID", id, "messageID", ev.Message.ID)
		}
	}
}

func (b *LocalBackend) publishChat(userID string, ev ChatEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, ch := range b.chatSubs[userID] {
		select {
		case ch <- ev:
		default:
			slog.Warn("LocalBackend.publishChat: subscriber channel full, dropping event",
				"userID", userID, "subID", id, "peerID", ev.PeerID)
		}
	}
}
