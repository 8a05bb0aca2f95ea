package notify

import (
	"log/slog"
	"sync"
	"time"

	"github.com/chatterbox-chat/chatterbox/internal/models"
	"github.com/chatterbox-chat/chatterbox/internal/util"
)

const (
	// DefaultChannelBufferSize is the event channel buffer.
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout bounds how long an emit waits on a full channel
	// before dropping.
	DefaultChannelTimeout = 100 * time.Millisecond
	// DefaultRecentLimit caps the recent-notification history.
	DefaultRecentLimit = 100
)

// EventNotifier delivers alerts as events on a channel and tracks the active
// alert per peer. It is the default Notifier for headless deployments: the
// control API and any attached front end consume the event stream.
type EventNotifier struct {
	mu      sync.Mutex
	ready   bool
	stopped bool
	active  map[string]models.Notification // peer id -> currently shown alert
	recent  []models.Notification
	events  chan models.Notification
}

// Compile-time check that EventNotifier implements Notifier.
var _ Notifier = (*EventNotifier)(nil)

// NewEventNotifier creates an EventNotifier.
func NewEventNotifier() *EventNotifier {
	return &EventNotifier{
		active: make(map[string]models.Notification),
		events: make(chan models.Notification, DefaultChannelBufferSize),
	}
}

// EnsureChannel marks the notifier ready. Idempotent.
func (n *EventNotifier) EnsureChannel() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.ready {
		slog.Debug("EventNotifier.EnsureChannel: channel registered")
		n.ready = true
	}
	return nil
}

// Show records the alert as the peer's active notification and emits it on
// the event channel. A previous alert for the same peer is replaced.
func (n *EventNotifier) Show(title, body, peerID string) error {
	n.mu.Lock()
	if !n.ready {
		n.mu.Unlock()
		slog.Warn("EventNotifier.Show: channel not registered", "peerID", peerID)
		return ErrChannelNotReady
	}
	if n.stopped {
		n.mu.Unlock()
		return nil
	}
	notification := models.Notification{
		ID:     util.GenerateRandomID("notif_", 16),
		PeerID: peerID,
		Title:  title,
		Body:   body,
		Time:   time.Now(),
	}
	n.active[peerID] = notification
	n.recent = append(n.recent, notification)
	if len(n.recent) > DefaultRecentLimit {
		n.recent = n.recent[len(n.recent)-DefaultRecentLimit:]
	}
	n.mu.Unlock()

	select {
	case n.events <- notification:
		slog.Debug("EventNotifier.Show: notification emitted", "peerID", peerID, "title", title)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("EventNotifier.Show: events channel blocked, dropping notification", "peerID", peerID)
	}
	return nil
}

// Clear removes the active alert for the peer.
func (n *EventNotifier) Clear(peerID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.active[peerID]; ok {
		delete(n.active, peerID)
		slog.Debug("EventNotifier.Clear: notification cleared", "peerID", peerID)
	}
}

// Events returns the notification event stream.
func (n *EventNotifier) Events() <-chan models.Notification {
	return n.events
}

// Active returns the currently shown alerts, one per peer.
func (n *EventNotifier) Active() []models.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]models.Notification, 0, len(n.active))
	for _, notification := range n.active {
		out = append(out, notification)
	}
	return out
}

// Recent returns the notification history, oldest first.
func (n *EventNotifier) Recent() []models.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]models.Notification, len(n.recent))
	copy(out, n.recent)
	return out
}

// Stop silences the notifier; later Show calls become no-ops.
func (n *EventNotifier) Stop() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.stopped = true
}
