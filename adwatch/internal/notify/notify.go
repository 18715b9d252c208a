// Package notify delivers scan notifications to search owners.
//
// A Notifier is one-way: the pipeline pushes a Message and never reads a
// reply. Failures are typed so callers can tell a blocked recipient from a
// transient network problem.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Message is one outbound notification.
type Message struct {
	Recipient string `json:"recipient"` // chat id
	Text      string `json:"text"`
	PhotoURL  string `json:"photo_url,omitempty"`
}

// Notifier sends messages.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

var (
	// ErrRecipientUnreachable means the recipient blocked the bot or the chat
	// no longer exists. Retrying will not help.
	ErrRecipientUnreachable = errors.New("notify: recipient unreachable")
	// ErrBadRequest means the platform rejected the message itself.
	ErrBadRequest = errors.New("notify: bad request")
)

// SendError wraps a delivery failure with the platform and recipient.
type SendError struct {
	Platform  string
	Recipient string
	Cause     error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("notify: send failed on %s to %s: %v", e.Platform, e.Recipient, e.Cause)
}

func (e *SendError) Unwrap() error { return e.Cause }

// Outcome classifies a Send error for logs and metrics:
// "sent", "unreachable", "rejected" or "failed".
func Outcome(err error) string {
	switch {
	case err == nil:
		return "sent"
	case errors.Is(err, ErrRecipientUnreachable):
		return "unreachable"
	case errors.Is(err, ErrBadRequest):
		return "rejected"
	default:
		return "failed"
	}
}

// Log is a Notifier that only writes messages to a logger. Used when no bot
// token is configured.
type Log struct {
	Logger *slog.Logger
}

func (l *Log) Send(_ context.Context, msg Message) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("notify: message", "recipient", msg.Recipient, "text", msg.Text, "photo_url", msg.PhotoURL)
	return nil
}
