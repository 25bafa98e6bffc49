package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/thrillee/esmelink/internal/message"
)

// Queue name suffixes; each is prefixed with the transport name.
const (
	InboundQueue  = ".inbound"
	EventQueue    = ".event"
	OutboundQueue = ".outbound"
)

// Redis is a bus on Redis lists: publishers LPUSH JSON documents and the
// outbound consumer BRPOPs them, so several processes can share the queue.
type Redis struct {
	client      *redis.Client
	transport   string
	pollTimeout time.Duration
}

func NewRedis(client *redis.Client, transportName string, pollTimeout time.Duration) *Redis {
	if pollTimeout <= 0 {
		pollTimeout = time.Second
	}
	return &Redis{client: client, transport: transportName, pollTimeout: pollTimeout}
}

func (r *Redis) PublishInbound(ctx context.Context, msg message.Inbound) error {
	return r.push(ctx, InboundQueue, msg)
}

func (r *Redis) PublishEvent(ctx context.Context, ev message.Event) error {
	return r.push(ctx, EventQueue, ev)
}

// PublishOutbound queues a message for sending. The application side normally
// does this; it is here for tools and tests.
func (r *Redis) PublishOutbound(ctx context.Context, msg message.Outbound) error {
	return r.push(ctx, OutboundQueue, msg)
}

func (r *Redis) push(ctx context.Context, queue string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("bus: encode %s message: %w", queue, err)
	}
	if err := r.client.LPush(ctx, r.transport+queue, b).Err(); err != nil {
		return fmt.Errorf("bus: push %s: %w", r.transport+queue, err)
	}
	return nil
}

// Consume implements Consumer. Handler errors are logged; the message is not
// requeued because the handler reports outcomes as events.
func (r *Redis) Consume(ctx context.Context, gate *Gate, handle HandlerFunc) error {
	key := r.transport + OutboundQueue
	for {
		if err := gate.Wait(ctx); err != nil {
			return err
		}
		res, err := r.client.BRPop(ctx, r.pollTimeout, key).Result()
		switch {
		case errors.Is(err, redis.Nil):
			continue
		case ctx.Err() != nil:
			return ctx.Err()
		case err != nil:
			slog.ErrorContext(ctx, "Failed to pop outbound message", slog.String("queue", key), slog.Any("error", err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.pollTimeout):
			}
			continue
		}

		var msg message.Outbound
		if err := json.Unmarshal([]byte(res[1]), &msg); err != nil {
			slog.ErrorContext(ctx, "Dropping undecodable outbound message", slog.String("queue", key), slog.Any("error", err))
			continue
		}
		if err := handle(ctx, msg); err != nil {
			slog.ErrorContext(ctx, "Outbound handler failed", slog.String("message_id", msg.MessageID), slog.Any("error", err))
		}
	}
}

var (
	_ Publisher = (*Redis)(nil)
	_ Consumer  = (*Redis)(nil)
)
