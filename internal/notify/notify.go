package notify

import (
	"context"
	"time"

	"afripay.org/internal/obs"
)

// Channel selects the delivery transport.
type Channel string

const (
	ChannelSMS   Channel = "sms"
	ChannelEmail Channel = "email"
)

// Message is a fire-and-forget notification. Delivery failures must never
// fail the operation that triggered them.
type Message struct {
	Channel   Channel
	Recipient string
	Subject   string
	Body      string
}

// Notifier delivers messages to users.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// LogNotifier writes notifications to the structured log. It stands in
// for the SMS/email senders, which are external collaborators.
type LogNotifier struct{}

var _ Notifier = LogNotifier{}

func (LogNotifier) Send(ctx context.Context, msg Message) error {
	obs.LogRequest(map[string]any{
		"ts":        time.Now().UTC().Format(time.RFC3339Nano),
		"type":      "notification",
		"channel":   string(msg.Channel),
		"recipient": msg.Recipient,
		"subject":   msg.Subject,
	})
	return nil
}

// Dispatch sends the message and logs a warning on failure instead of
// propagating it.
func Dispatch(ctx context.Context, n Notifier, msg Message) {
	if n == nil {
		return
	}
	if err := n.Send(ctx, msg); err != nil {
		obs.LogRequest(map[string]any{
			"ts":    time.Now().UTC().Format(time.RFC3339Nano),
			"level": "warn",
			"msg":   "notification delivery failed",
			"err":   err.Error(),
		})
	}
}
