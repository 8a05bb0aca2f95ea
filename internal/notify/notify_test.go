package notify

import (
	"errors"
	"testing"

	"github.com/chatterbox-chat/chatterbox/internal/twiliosms"
)

func TestEventNotifierRequiresChannel(t *testing.T) {
	n := NewEventNotifier()
	if err := n.Show("Alice", "hi", "alice"); err != ErrChannelNotReady {
		t.Errorf("expected ErrChannelNotReady, got %v", err)
	}
	if err := n.EnsureChannel(); err != nil {
		t.Fatalf("EnsureChannel: %v", err)
	}
	if err := n.EnsureChannel(); err != nil {
		t.Fatalf("EnsureChannel should be idempotent: %v", err)
	}
	if err := n.Show("Alice", "hi", "alice"); err != nil {
		t.Errorf("Show after EnsureChannel: %v", err)
	}
}

func TestEventNotifierReplacePerPeer(t *testing.T) {
	n := NewEventNotifier()
	n.EnsureChannel()

	n.Show("Alice", "first", "alice")
	n.Show("Alice", "second", "alice")
	n.Show("Bob", "hello", "bob")

	active := n.Active()
	if len(active) != 2 {
		t.Fatalf("expected 2 active alerts (one per peer), got %d", len(active))
	}
	for _, a := range active {
		if a.PeerID == "alice" && a.Body != "second" {
			t.Errorf("alice alert not replaced: %+v", a)
		}
	}

	n.Clear("alice")
	active = n.Active()
	if len(active) != 1 || active[0].PeerID != "bob" {
		t.Errorf("clear did not target alice's alert: %+v", active)
	}
	n.Clear("alice") // clearing an absent alert is fine
}

func TestEventNotifierEventsAndRecent(t *testing.T) {
	n := NewEventNotifier()
	n.EnsureChannel()

	n.Show("Alice", "hi", "alice")

	select {
	case ev := <-n.Events():
		if ev.PeerID != "alice" || ev.Body != "hi" {
			t.Errorf("unexpected event: %+v", ev)
		}
	default:
		t.Fatal("no event emitted")
	}

	recent := n.Recent()
	if len(recent) != 1 || recent[0].Body != "hi" {
		t.Errorf("recent history wrong: %+v", recent)
	}
}

func TestEventNotifierStop(t *testing.T) {
	n := NewEventNotifier()
	n.EnsureChannel()
	n.Stop()
	if err := n.Show("Alice", "hi", "alice"); err != nil {
		t.Errorf("Show after Stop should be a silent no-op, got %v", err)
	}
	if len(n.Active()) != 0 {
		t.Error("stopped notifier must not record alerts")
	}
}

func TestSMSNotifier(t *testing.T) {
	mock := twiliosms.NewMockClient()
	n, err := NewSMSNotifier(mock, "+15550001111")
	if err != nil {
		t.Fatalf("NewSMSNotifier: %v", err)
	}
	if err := n.EnsureChannel(); err != nil {
		t.Fatalf("EnsureChannel: %v", err)
	}
	if err := n.Show("Alice", "hi", "alice"); err != nil {
		t.Fatalf("Show: %v", err)
	}
	if len(mock.SentMessages) != 1 || mock.SentMessages[0].Body != "Alice: hi" {
		t.Errorf("SMS not sent as expected: %+v", mock.SentMessages)
	}
	n.Clear("alice") // no-op

	if _, err := NewSMSNotifier(nil, "+15550001111"); err == nil {
		t.Error("nil sender should be rejected")
	}
	if _, err := NewSMSNotifier(mock, ""); err == nil {
		t.Error("empty destination should be rejected")
	}
}

type failingNotifier struct{ err error }

func (f *failingNotifier) EnsureChannel() error      { return f.err }
func (f *failingNotifier) Show(_, _, _ string) error { return f.err }
func (f *failingNotifier) Clear(_ string)            {}

func TestMultiNotifier(t *testing.T) {
	ev := NewEventNotifier()
	ev.EnsureChannel()
	boom := errors.New("boom")
	m := NewMultiNotifier(ev, nil, &failingNotifier{err: boom})

	if err := m.Show("Alice", "hi", "alice"); err != boom {
		t.Errorf("expected first error returned, got %v", err)
	}
	// The healthy target still received the alert.
	if len(ev.Active()) != 1 {
		t.Error("healthy target should have shown the alert")
	}
	m.Clear("alice")
	if len(ev.Active()) != 0 {
		t.Error("clear should fan out")
	}
}
