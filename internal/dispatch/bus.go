package dispatch

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// handlerTimeout bounds a single message handling attempt. Pipelines that
// outlive it are failed and retried via broker redelivery or reaped.
const handlerTimeout = 10 * time.Minute

// Bus wraps a NATS connection with the publish and subscribe operations the
// dispatcher and worker need. Delivery is at-least-once from the consumer's
// perspective: duplicates and reordering are handled downstream by the
// task store's claim transition, never here.
type Bus struct {
	nc     *nats.Conn
	logger *slog.Logger
}

// Connect establishes a NATS connection that reconnects indefinitely.
func Connect(url string, logger *slog.Logger) (*Bus, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return nil, err
	}

	return &Bus{
		nc:     nc,
		logger: logger.With("component", "dispatch_bus"),
	}, nil
}

// Close drains the connection, letting in-flight messages finish.
func (b *Bus) Close() {
	if b.nc != nil {
		_ = b.nc.Drain()
	}
}

// PublishTask enqueues a dispatch message onto the task subject.
func (b *Bus) PublishTask(subject string, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	if err := b.nc.Publish(subject, data); err != nil {
		return err
	}

	b.logger.Debug("published task message",
		"subject", subject,
		"task_id", msg.TaskID,
		"kind", msg.Kind)
	return nil
}

// SubscribeTasks consumes dispatch messages from the task subject as part of
// a queue group, so each message is handled by one worker instance.
// A payload that fails to decode is logged and dropped: redelivering it
// cannot succeed, and the reaper will eventually fail its task. Handler
// errors are logged; the handler itself is responsible for having written a
// terminal state or left the task claimable.
func (b *Bus) SubscribeTasks(
	subject string,
	queue string,
	handler func(ctx context.Context, msg Message) error,
) (*nats.Subscription, error) {
	return b.nc.QueueSubscribe(subject, queue, func(natsMsg *nats.Msg) {
		ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
		defer cancel()

		msg, err := Decode(natsMsg.Data)
		if err != nil {
			b.logger.Error("dropping malformed dispatch message",
				"subject", subject,
				"error", err)
			return
		}

		if err := handler(ctx, msg); err != nil {
			b.logger.Error("task message handler failed",
				"subject", subject,
				"task_id", msg.TaskID,
				"error", err)
		}
	})
}
