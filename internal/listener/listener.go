// Package listener implements the push-driven half of the notification core.
//
// A Listener owns per-conversation change subscriptions, discovers new
// conversations as they appear, and decides for every inserted message
// record whether to surface an alert. Duplicate deliveries are absorbed by
// the shared dedup cache, so the listener and the poller can run over the
// same backend at the same time without double-notifying.
package listener

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chatterbox-chat/chatterbox/internal/backend"
	"github.com/chatterbox-chat/chatterbox/internal/dedup"
	"github.com/chatterbox-chat/chatterbox/internal/directory"
	"github.com/chatterbox-chat/chatterbox/internal/models"
	"github.com/chatterbox-chat/chatterbox/internal/notify"
)

// DefaultLookupTimeout bounds one display-name lookup.
const DefaultLookupTimeout = 5 * time.Second

// newChatsKey is the sentinel registration key for the conversation-list
// subscription.
const newChatsKey = "new_chats"

// registration is any releasable subscription handle.
type registration interface {
	Remove()
}

// Opts holds configuration options for the listener.
type Opts struct {
	SeenCache     *dedup.SeenCache
	LookupTimeout time.Duration
}

// Option defines a configuration option for the listener.
type Option func(*Opts)

// WithSeenCache shares a dedup cache with another component (the poller).
func WithSeenCache(c *dedup.SeenCache) Option {
	return func(o *Opts) { o.SeenCache = c }
}

// WithLookupTimeout sets the per-lookup timeout for name resolution.
func WithLookupTimeout(d time.Duration) Option {
	return func(o *Opts) { o.LookupTimeout = d }
}

// Listener watches every conversation of the signed-in user and alerts on
// inbound messages.
type Listener struct {
	backend  backend.Backend
	lookup   directory.Lookup
	notifier notify.Notifier
	seen     *dedup.SeenCache

	lookupTimeout time.Duration

	// ensureMu serializes EnsureActive against itself.
	ensureMu sync.Mutex

	mu      sync.Mutex
	session *Session
	running bool
	regs    map[string]registration

	nameMu sync.Mutex
	names  map[string]string
}

// NewListener creates a listener over the given backend, directory, and
// notifier.
func NewListener(be backend.Backend, lookup directory.Lookup, notifier notify.Notifier, opts ...Option) *Listener {
	cfg := Opts{LookupTimeout: DefaultLookupTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.SeenCache == nil {
		cfg.SeenCache = dedup.NewSeenCache(0)
	}
	return &Listener{
		backend:       be,
		lookup:        lookup,
		notifier:      notifier,
		seen:          cfg.SeenCache,
		lookupTimeout: cfg.LookupTimeout,
		regs:          make(map[string]registration),
		names:         make(map[string]string),
	}
}

// registrationKey derives the per-conversation registration key.
func registrationKey(currentUserID, otherUserID string) string {
	return "chat_" + currentUserID + "_" + otherUserID
}

// Start begins listening for the session's user. Idempotent: a second call
// while running is a no-op. A conversation-list fetch failure resets the
// running flag so a later Start or EnsureActive can recover.
func (l *Listener) Start(ctx context.Context, sess *Session) error {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		slog.Debug("Listener.Start: already running, nothing to do")
		return nil
	}

	userID, ok := sess.Get()
	if !ok || userID == "" {
		l.mu.Unlock()
		return fmt.Errorf("cannot start listener: session is not live")
	}

	l.running = true
	l.session = sess

	partners, err := l.backend.ListChatPartners(ctx, userID)
	if err != nil {
		l.running = false
		l.session = nil
		l.mu.Unlock()
		return fmt.Errorf("failed to list chat partners for %s: %w", userID, err)
	}

	for _, peerID := range partners {
		l.subscribeConversationLocked(sess, userID, peerID)
	}

	if sub, err := l.backend.SubscribeChatList(userID); err != nil {
		// Left inactive until an explicit restart.
		slog.Error("Listener.Start: chat list subscription failed", "error", err, "userID", userID)
	} else {
		l.regs[newChatsKey] = sub
		go l.watchChatList(sess, sub)
	}

	count := len(l.regs)
	l.mu.Unlock()

	slog.Info("Listener.Start: listening", "userID", userID, "registrations", count)
	return nil
}

// subscribeConversationLocked opens a subscription on one conversation and
// records it. Caller holds l.mu. Subscription failures are logged and the
// conversation stays unwatched until a restart.
func (l *Listener) subscribeConversationLocked(sess *Session, userID, peerID string) {
	key := registrationKey(userID, peerID)
	if _, exists := l.regs[key]; exists {
		return
	}

	convID := models.ConversationID(userID, peerID)
	sub, err := l.backend.SubscribeMessages(convID)
	if err != nil {
		slog.Error("Listener: conversation subscription failed", "error", err, "conversationID", convID)
		return
	}
	l.regs[key] = sub
	go l.watchMessages(sess, key, peerID, sub)

	slog.Debug("Listener: watching conversation", "key", key, "conversationID", convID)
}

// watchMessages consumes one conversation's change events until the
// subscription is removed.
func (l *Listener) watchMessages(sess *Session, key, peerID string, sub *backend.MessageSubscription) {
	for ev := range sub.Events {
		l.handleMessageEvent(sess, key, peerID, sub, ev)
	}
}

func (l *Listener) handleMessageEvent(sess *Session, key, peerID string, sub *backend.MessageSubscription, ev backend.MessageEvent) {
	userID, ok := sess.Get()
	if !ok {
		// Session torn down while we were subscribed: release our own
		// registration instead of acting on stale state.
		slog.Debug("Listener: session gone, releasing registration", "key", key)
		l.dropRegistration(key, sub)
		return
	}

	if ev.Kind != backend.ChangeAdded {
		return
	}
	msg := ev.Message
	if msg.ID == "" {
		return
	}

	// Mark before any asynchronous work so a concurrent delivery of the
	// same id through the poller path cannot also pass.
	if !l.seen.MarkIfNew(msg.ID) {
		slog.Debug("Listener: duplicate message suppressed", "messageID", msg.ID)
		return
	}

	if msg.SenderID == "" || msg.ReceiverID == "" || msg.Timestamp == 0 {
		slog.Debug("Listener: malformed record skipped", "messageID", msg.ID)
		return
	}
	if !msg.IsInbound(userID, peerID) {
		return
	}

	body := msg.Content
	if msg.Type == models.MessageTypeImage && body == "" {
		body = "📷 Image"
	}

	if name, ok := l.cachedName(msg.SenderID); ok {
		l.show(name, body, msg.SenderID)
		return
	}
	go l.resolveAndShow(sess, msg.SenderID, body)
}

// resolveAndShow looks the sender up in the directory and then alerts. The
// continuation re-validates session liveness because the lookup may outlive
// a teardown.
func (l *Listener) resolveAndShow(sess *Session, senderID, body string) {
	ctx, cancel := context.WithTimeout(context.Background(), l.lookupTimeout)
	defer cancel()

	user, err := l.lookup.GetUser(ctx, senderID)

	if _, ok := sess.Get(); !ok {
		slog.Debug("Listener: session gone during name lookup, dropping alert", "senderID", senderID)
		return
	}

	title := fallbackName(senderID)
	switch {
	case err != nil:
		slog.Error("Listener: name lookup failed", "error", err, "senderID", senderID)
	case user != nil && user.Username != "":
		title = user.Username
		l.nameMu.Lock()
		l.names[senderID] = title
		l.nameMu.Unlock()
	}

	l.show(title, body, senderID)
}

// show renders one alert. Render failures are logged and absorbed.
func (l *Listener) show(title, body, peerID string) {
	if err := l.notifier.Show(title, body, peerID); err != nil {
		slog.Error("Listener: notification failed", "error", err, "peerID", peerID)
		return
	}
	slog.Debug("Listener: notification shown", "peerID", peerID, "title", title)
}

func (l *Listener) cachedName(userID string) (string, bool) {
	l.nameMu.Lock()
	defer l.nameMu.Unlock()
	name, ok := l.names[userID]
	return name, ok
}

// fallbackName synthesizes a display name from a user id.
func fallbackName(userID string) string {
	short := userID
	if len(short) > models.NameFallbackIDLength {
		short = short[:models.NameFallbackIDLength]
	}
	return "User " + short
}

// watchChatList consumes conversation-list events and opens a subscription
// for every newly discovered conversation.
func (l *Listener) watchChatList(sess *Session, sub *backend.ChatSubscription) {
	for ev := range sub.Events {
		userID, ok := sess.Get()
		if !ok {
			slog.Debug("Listener: session gone, releasing chat list registration")
			l.dropRegistration(newChatsKey, sub)
			return
		}
		if ev.Kind != backend.ChangeAdded || ev.PeerID == "" {
			continue
		}

		l.mu.Lock()
		if l.running && l.session == sess {
			l.subscribeConversationLocked(sess, userID, ev.PeerID)
		}
		l.mu.Unlock()
	}
}

// dropRegistration releases one registration if it is still the recorded
// one. A restart may have replaced it; in that case only the stale handle
// itself is released.
func (l *Listener) dropRegistration(key string, sub registration) {
	l.mu.Lock()
	if l.regs[key] == sub {
		delete(l.regs, key)
	}
	l.mu.Unlock()
	sub.Remove()
}

// Stop releases every registration, clears the table, and resets the
// running flag. Safe to call repeatedly and with nothing active.
func (l *Listener) Stop() {
	l.mu.Lock()
	snapshot := l.regs
	l.regs = make(map[string]registration)
	l.running = false
	l.session = nil
	l.mu.Unlock()

	for key, sub := range snapshot {
		sub.Remove()
		slog.Debug("Listener.Stop: registration released", "key", key)
	}
	slog.Info("Listener.Stop: stopped", "released", len(snapshot))
}

// EnsureActive restarts the listener if it is not running or has lost all
// registrations. Serialized internally; safe to call repeatedly.
func (l *Listener) EnsureActive(ctx context.Context, sess *Session) error {
	l.ensureMu.Lock()
	defer l.ensureMu.Unlock()

	l.mu.Lock()
	healthy := l.running && len(l.regs) > 0
	l.mu.Unlock()
	if healthy {
		return nil
	}

	slog.Info("Listener.EnsureActive: restarting")
	l.Stop()
	return l.Start(ctx, sess)
}

// IsListening reports whether the listener is running.
func (l *Listener) IsListening() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// RegistrationCount returns the number of active registrations.
func (l *Listener) RegistrationCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.regs)
}

// MarkConversationRead clears the peer's alert and flags the conversation's
// inbound messages as seen. Called when the user opens the conversation.
func (l *Listener) MarkConversationRead(ctx context.Context, peerID string) error {
	l.notifier.Clear(peerID)

	l.mu.Lock()
	sess := l.session
	l.mu.Unlock()
	if sess == nil {
		return nil
	}
	userID, ok := sess.Get()
	if !ok {
		return nil
	}
	if err := l.backend.MarkConversationSeen(ctx, userID, peerID); err != nil {
		return fmt.Errorf("failed to mark conversation with %s seen: %w", peerID, err)
	}
	return nil
}
