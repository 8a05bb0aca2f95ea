// Package notify defines the alert-rendering boundary of the notification
// core.
//
// The core guarantees it will not call Show twice for the same logical
// inbound message (modulo the dedup cache's wholesale clear) and calls Clear
// when the user opens the corresponding conversation. How alerts are
// rendered is up to the implementation.
package notify

import "errors"

// ErrChannelNotReady is returned by Show when EnsureChannel has not
// completed successfully.
var ErrChannelNotReady = errors.New("notification channel not registered")

// Notifier renders user-visible alerts for incoming messages.
//
// Alerts are keyed by the source peer: a later Show for the same peer
// replaces the previous alert rather than stacking, and Clear targets it
// precisely.
type Notifier interface {
	// EnsureChannel performs the one-time channel/category registration
	// required before the first Show. Idempotent.
	EnsureChannel() error

	// Show renders an alert for one inbound message. Failures are local:
	// implementations log and return the error, and callers are expected to
	// absorb it rather than retry.
	Show(title, body, peerID string) error

	// Clear removes the alert currently shown for the peer, if any.
	Clear(peerID string)
}
