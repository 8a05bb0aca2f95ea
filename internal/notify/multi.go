package notify

import "log/slog"

// MultiNotifier fans alerts out to several notifiers. Per-target failures
// are logged; the first error is returned so callers can record it.
type MultiNotifier struct {
	targets []Notifier
}

// Compile-time check that MultiNotifier implements Notifier.
var _ Notifier = (*MultiNotifier)(nil)

// NewMultiNotifier combines the given notifiers. Nil entries are skipped.
func NewMultiNotifier(targets ...Notifier) *MultiNotifier {
	m := &MultiNotifier{}
	for _, t := range targets {
		if t != nil {
			m.targets = append(m.targets, t)
		}
	}
	return m
}

func (m *MultiNotifier) EnsureChannel() error {
	var first error
	for _, t := range m.targets {
		if err := t.EnsureChannel(); err != nil {
			slog.Error("MultiNotifier.EnsureChannel: target failed", "error", err)
			if first == nil {
				first = err
			}
		}
	}
	return first
}

func (m *MultiNotifier) Show(title, body, peerID string) error {
	var first error
	for _, t := range m.targets {
		if err := t.Show(title, body, peerID); err != nil {
			slog.Error("MultiNotifier.Show: target failed", "error", err, "peerID", peerID)
			if first == nil {
				first = err
			}
		}
	}
	return first
}

func (m *MultiNotifier) Clear(peerID string) {
	for _, t := range m.targets {
		t.Clear(peerID)
	}
}
