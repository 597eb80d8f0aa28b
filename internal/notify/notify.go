// Package notify is the dispatch collaborator for automation notify actions.
// The real email/push provider lives outside this service; the interface is
// the contract, and failures come back as ordinary errors for the automation
// engine to record.
package notify

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// Channel is a delivery channel.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelPush  Channel = "push"
)

// ErrUnknownChannel is returned for channels no dispatcher handles.
var ErrUnknownChannel = errors.New("unknown notification channel")

// Notifier sends one notification. Implementations must respect the context
// deadline; the engine wraps every call in a per-action timeout.
type Notifier interface {
	Send(ctx context.Context, channel Channel, recipients string, content string) error
}

// LogNotifier logs instead of dispatching. Default when no provider is wired.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Send(ctx context.Context, channel Channel, recipients string, content string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	switch channel {
	case ChannelEmail, ChannelPush:
	default:
		return ErrUnknownChannel
	}
	n.logger.Info("notification",
		zap.String("channel", string(channel)),
		zap.String("recipients", recipients),
		zap.String("content", content),
	)
	return nil
}
