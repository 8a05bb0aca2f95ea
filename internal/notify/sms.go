package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/chatterbox-chat/chatterbox/internal/twiliosms"
)

// DefaultSMSTimeout bounds one SMS send.
const DefaultSMSTimeout = 10 * time.Second

// SMSNotifier forwards alerts as SMS messages to a configured phone number,
// for users who want message alerts while away from any connected device.
type SMSNotifier struct {
	sender twiliosms.Sender
	to     string
}

// Compile-time check that SMSNotifier implements Notifier.
var _ Notifier = (*SMSNotifier)(nil)

// NewSMSNotifier creates an SMSNotifier sending to the given number.
func NewSMSNotifier(sender twiliosms.Sender, to string) (*SMSNotifier, error) {
	if sender == nil {
		return nil, fmt.Errorf("SMS sender must be provided")
	}
	if to == "" {
		return nil, fmt.Errorf("destination number must be provided")
	}
	return &SMSNotifier{sender: sender, to: to}, nil
}

// EnsureChannel is a no-op for SMS; the channel is the phone number itself.
func (n *SMSNotifier) EnsureChannel() error { return nil }

// Show sends the alert as one SMS. Failures are logged and returned but
// never retried.
func (n *SMSNotifier) Show(title, body, peerID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), DefaultSMSTimeout)
	defer cancel()

	text := fmt.Sprintf("%s: %s", title, body)
	if err := n.sender.SendSMS(ctx, n.to, text); err != nil {
		slog.Error("SMSNotifier.Show: send failed", "error", err, "peerID", peerID)
		return err
	}
	slog.Debug("SMSNotifier.Show: alert sent", "peerID", peerID)
	return nil
}

// Clear is a no-op; sent SMS messages cannot be withdrawn.
func (n *SMSNotifier) Clear(peerID string) {}
