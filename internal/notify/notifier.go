package notify

import (
	"context"
	"log/slog"
)

// Notifier pushes a state-change event at one connected client. The
// transport gives no delivery guarantee and no acknowledgment; callers
// treat pushes as fire-and-forget. An empty connection handle means
// the recipient is not connected and the push is silently skipped.
type Notifier interface {
	Push(ctx context.Context, handle, event string, payload any) error
}

// KafkaNotifier publishes client push events to the client.events
// topic, keyed by connection handle so the socket tier can route them.
type KafkaNotifier struct {
	producer *Producer
	logger   *slog.Logger
}

func NewKafkaNotifier(producer *Producer, logger *slog.Logger) *KafkaNotifier {
	return &KafkaNotifier{producer: producer, logger: logger}
}

func (n *KafkaNotifier) Push(ctx context.Context, handle, event string, payload any) error {
	if handle == "" {
		return nil
	}

	if err := n.producer.Publish(ctx, handle, event, payload); err != nil {
		n.logger.Error("failed to push client event", "error", err, "event", event)
		return err
	}

	return nil
}
