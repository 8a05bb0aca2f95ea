package poller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chatterbox-chat/chatterbox/internal/backend"
	"github.com/chatterbox-chat/chatterbox/internal/dedup"
	"github.com/chatterbox-chat/chatterbox/internal/models"
)

// fakeBackend serves canned conversations for poller tests.
type fakeBackend struct {
	mu           sync.Mutex
	partners     []string
	partnersErr  error
	msgs         map[string][]models.Message // conversation id -> messages
	partnerCalls atomic.Int64
}

var _ backend.Backend = (*fakeBackend)(nil)

func newFakeBackend(partners ...string) *fakeBackend {
	return &fakeBackend{partners: partners, msgs: make(map[string][]models.Message)}
}

func (f *fakeBackend) addMessage(convID string, m models.Message) {
	f.mu.Lock()
	f.msgs[convID] = append(f.msgs[convID], m)
	f.mu.Unlock()
}

func (f *fakeBackend) ListChatPartners(ctx context.Context, userID string) ([]string, error) {
	f.partnerCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.partnersErr != nil {
		return nil, f.partnersErr
	}
	return append([]string(nil), f.partners...), nil
}

func (f *fakeBackend) ListMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Message(nil), f.msgs[conversationID]...), nil
}

func (f *fakeBackend) GetUser(ctx context.Context, userID string) (*models.User, error) {
	return nil, nil
}

func (f *fakeBackend) SubscribeMessages(conversationID string) (*backend.MessageSubscription, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeBackend) SubscribeChatList(userID string) (*backend.ChatSubscription, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeBackend) SendMessage(ctx context.Context, senderID, receiverID, content string) (*models.Message, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeBackend) SendImageMessage(ctx context.Context, senderID, receiverID, imageURL string) (*models.Message, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeBackend) MarkConversationSeen(ctx context.Context, userID, peerID string) error {
	return nil
}

func (f *fakeBackend) AddReaction(ctx context.Context, conversationID, messageID, emoji, userID string) error {
	return nil
}

func (f *fakeBackend) RemoveReaction(ctx context.Context, conversationID, messageID, emoji, userID string) error {
	return nil
}

// recordingNotifier records Show calls synchronously.
type recordingNotifier struct {
	mu    sync.Mutex
	shown []models.Notification
}

func (n *recordingNotifier) EnsureChannel() error { return nil }

func (n *recordingNotifier) Show(title, body, peerID string) error {
	n.mu.Lock()
	n.shown = append(n.shown, models.Notification{PeerID: peerID, Title: title, Body: body})
	n.mu.Unlock()
	return nil
}

func (n *recordingNotifier) Clear(peerID string) {}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.shown)
}

// fakeLookup resolves canned users.
type fakeLookup struct {
	users map[string]*models.User
}

func (f *fakeLookup) GetUser(ctx context.Context, userID string) (*models.User, error) {
	return f.users[userID], nil
}

// fixedUser satisfies UserProvider with a constant id.
type fixedUser string

func (u fixedUser) Get() (string, bool) { return string(u), u != "" }

func msg(id, sender, receiver, content string, ts int64) models.Message {
	return models.Message{
		ID:         id,
		SenderID:   sender,
		ReceiverID: receiver,
		Content:    content,
		Type:       models.MessageTypeText,
		Timestamp:  ts,
	}
}

func TestFirstCheckEstablishesBaseline(t *testing.T) {
	be := newFakeBackend("alice")
	convID := models.ConversationID("alice", "bob")
	now := time.Now().UnixMilli()
	for i, id := range []string{"m1", "m2", "m3", "m4", "m5"} {
		be.addMessage(convID, msg(id, "alice", "bob", "old", now+int64(i)))
	}

	notifier := &recordingNotifier{}
	cache := dedup.NewSeenCache(0)
	p := NewPoller(be, notifier, WithSeenCache(cache))

	if err := p.CheckOnce(context.Background(), "bob"); err != nil {
		t.Fatalf("CheckOnce: %v", err)
	}
	if notifier.count() != 0 {
		t.Errorf("baseline cycle must not notify, got %d alerts", notifier.count())
	}
	if !p.Warmed() {
		t.Error("poller should be warmed after the first cycle")
	}
	if cache.Len() != 5 {
		t.Errorf("expected 5 baseline ids marked, got %d", cache.Len())
	}
}

func TestNewMessageAfterBaselineNotifiesOnce(t *testing.T) {
	be := newFakeBackend("alice")
	convID := models.ConversationID("alice", "bob")
	now := time.Now().UnixMilli()
	for i, id := range []string{"m1", "m2", "m3", "m4", "m5"} {
		be.addMessage(convID, msg(id, "alice", "bob", "old", now+int64(i)))
	}

	notifier := &recordingNotifier{}
	p := NewPoller(be, notifier)
	p.CheckOnce(context.Background(), "bob")

	be.addMessage(convID, msg("m6", "alice", "bob", "fresh", time.Now().UnixMilli()))
	if err := p.CheckOnce(context.Background(), "bob"); err != nil {
		t.Fatalf("CheckOnce: %v", err)
	}

	if notifier.count() != 1 {
		t.Fatalf("expected exactly one alert, got %d", notifier.count())
	}
	notifier.mu.Lock()
	first := notifier.shown[0]
	notifier.mu.Unlock()
	if first.Body != "fresh" || first.PeerID != "alice" {
		t.Errorf("unexpected alert: %+v", first)
	}

	// A third cycle sees nothing new.
	p.CheckOnce(context.Background(), "bob")
	if notifier.count() != 1 {
		t.Errorf("already-processed message notified again: %d alerts", notifier.count())
	}
}

func TestCoalesceToLatest(t *testing.T) {
	be := newFakeBackend("alice")
	convID := models.ConversationID("alice", "bob")

	notifier := &recordingNotifier{}
	cache := dedup.NewSeenCache(0)
	p := NewPoller(be, notifier, WithSeenCache(cache))
	p.CheckOnce(context.Background(), "bob") // empty baseline

	base := time.Now().UnixMilli()
	be.addMessage(convID, msg("m1", "alice", "bob", "first", base))
	be.addMessage(convID, msg("m2", "alice", "bob", "second", base+1))
	be.addMessage(convID, msg("m3", "alice", "bob", "third", base+2))

	p.CheckOnce(context.Background(), "bob")

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	if len(notifier.shown) != 1 {
		t.Fatalf("expected one coalesced alert, got %d", len(notifier.shown))
	}
	if notifier.shown[0].Body != "third" {
		t.Errorf("expected the latest message's content, got %q", notifier.shown[0].Body)
	}
	for _, id := range []string{"m1", "m2", "m3"} {
		if !cache.Contains(id) {
			t.Errorf("message %s not marked processed", id)
		}
	}
}

func TestStaleMessageMarkedButNotNotified(t *testing.T) {
	be := newFakeBackend("alice")
	convID := models.ConversationID("alice", "bob")

	notifier := &recordingNotifier{}
	cache := dedup.NewSeenCache(0)
	p := NewPoller(be, notifier, WithSeenCache(cache))
	p.CheckOnce(context.Background(), "bob")

	// Older than the effective lower bound: a late-arriving record from
	// twenty minutes ago.
	stale := time.Now().Add(-20 * time.Minute).UnixMilli()
	be.addMessage(convID, msg("m1", "alice", "bob", "stale", stale))

	p.CheckOnce(context.Background(), "bob")
	if notifier.count() != 0 {
		t.Error("stale message must not notify")
	}
	if !cache.Contains("m1") {
		t.Error("stale message must still be marked processed")
	}
}

func TestOutboundEchoNotNotified(t *testing.T) {
	be := newFakeBackend("alice")
	convID := models.ConversationID("alice", "bob")

	notifier := &recordingNotifier{}
	cache := dedup.NewSeenCache(0)
	p := NewPoller(be, notifier, WithSeenCache(cache))
	p.CheckOnce(context.Background(), "bob")

	be.addMessage(convID, msg("m1", "bob", "alice", "mine", time.Now().UnixMilli()))

	p.CheckOnce(context.Background(), "bob")
	if notifier.count() != 0 {
		t.Error("own message must not notify")
	}
	if !cache.Contains("m1") {
		t.Error("own message must still be marked processed")
	}
}

func TestSharedCacheSuppressesListenerDuplicates(t *testing.T) {
	be := newFakeBackend("alice")
	convID := models.ConversationID("alice", "bob")

	notifier := &recordingNotifier{}
	cache := dedup.NewSeenCache(0)
	p := NewPoller(be, notifier, WithSeenCache(cache))
	p.CheckOnce(context.Background(), "bob")

	// The listener path already surfaced this message.
	cache.MarkIfNew("m1")
	be.addMessage(convID, msg("m1", "alice", "bob", "hi", time.Now().UnixMilli()))

	p.CheckOnce(context.Background(), "bob")
	if notifier.count() != 0 {
		t.Error("message surfaced by the listener must not notify again")
	}
}

func TestEmptyUserIDIsSilentNoOp(t *testing.T) {
	be := newFakeBackend("alice")
	notifier := &recordingNotifier{}
	p := NewPoller(be, notifier)

	if err := p.CheckOnce(context.Background(), ""); err != nil {
		t.Fatalf("no-session check must not error: %v", err)
	}
	if p.Warmed() {
		t.Error("no-session check must not consume the baseline cycle")
	}
	if be.partnerCalls.Load() != 0 {
		t.Error("no-session check must not touch the backend")
	}
}

func TestPartnerFetchFailureLeavesBaselinePending(t *testing.T) {
	be := newFakeBackend("alice")
	be.partnersErr = errors.New("backend down")
	p := NewPoller(be, &recordingNotifier{})

	if err := p.CheckOnce(context.Background(), "bob"); err == nil {
		t.Fatal("expected an error")
	}
	if p.Warmed() {
		t.Error("failed cycle must not mark the poller warmed")
	}
}

func TestNotificationTitleFromDirectory(t *testing.T) {
	be := newFakeBackend("alice")
	convID := models.ConversationID("alice", "bob")
	lookup := &fakeLookup{users: map[string]*models.User{
		"alice": {UserID: "alice", Username: "Alice"},
	}}

	notifier := &recordingNotifier{}
	p := NewPoller(be, notifier, WithLookup(lookup))
	p.CheckOnce(context.Background(), "bob")

	be.addMessage(convID, msg("m1", "alice", "bob", "hi", time.Now().UnixMilli()))
	p.CheckOnce(context.Background(), "bob")

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	if len(notifier.shown) != 1 || notifier.shown[0].Title != "Alice" {
		t.Errorf("expected directory-resolved title, got %+v", notifier.shown)
	}
}

func TestFallbackTitleWithoutDirectory(t *testing.T) {
	be := newFakeBackend("stranger123")
	convID := models.ConversationID("stranger123", "bob")

	notifier := &recordingNotifier{}
	p := NewPoller(be, notifier)
	p.CheckOnce(context.Background(), "bob")

	be.addMessage(convID, msg("m1", "stranger123", "bob", "hi", time.Now().UnixMilli()))
	p.CheckOnce(context.Background(), "bob")

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	if len(notifier.shown) != 1 || notifier.shown[0].Title != "User stran" {
		t.Errorf("expected synthesized title, got %+v", notifier.shown)
	}
}

func TestRunChainSurvivesFailures(t *testing.T) {
	be := newFakeBackend("alice")
	be.partnersErr = errors.New("backend down")
	p := NewPoller(be, &recordingNotifier{},
		WithInitialDelay(5*time.Millisecond),
		WithInterval(5*time.Millisecond),
	)

	ctx, cancel := context.WithCancel(context.Background())
	p.Run(ctx, fixedUser("bob"))

	deadline := time.Now().Add(2 * time.Second)
	for be.partnerCalls.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if be.partnerCalls.Load() < 3 {
		t.Fatal("poll chain did not keep rescheduling after failures")
	}

	cancel()
	time.Sleep(20 * time.Millisecond)
	settled := be.partnerCalls.Load()
	time.Sleep(50 * time.Millisecond)
	if be.partnerCalls.Load() != settled {
		t.Error("poll chain kept running after cancellation")
	}
}
