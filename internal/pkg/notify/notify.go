// internal/pkg/notify/notify.go
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Event types published by the settlement engine.
const (
	EventOrderCreated     = "order.created"
	EventPaymentConfirmed = "payment.confirmed"
	EventOrderShipped     = "order.shipped"
	EventOrderDelivered   = "order.delivered"
	EventOrderCancelled   = "order.cancelled"
)

// Event is a fire-and-forget notification for downstream consumers
type Event struct {
	Type       string                 `json:"type"`
	OrderID    uint                   `json:"order_id,omitempty"`
	UserID     uint                   `json:"user_id,omitempty"`
	Data       map[string]interface{} `json:"data,omitempty"`
	OccurredAt time.Time              `json:"occurred_at"`
}

// Publisher delivers events to interested parties. Implementations must
// never return publish failures to callers; settlement outcomes do not
// depend on notification delivery.
type Publisher interface {
	Publish(ctx context.Context, event Event)
}

// RedisPublisher publishes events on a redis pub/sub channel
type RedisPublisher struct {
	client  *redis.Client
	channel string
	log     *logrus.Entry
}

// NewRedisPublisher creates a publisher for the given channel
func NewRedisPublisher(client *redis.Client, channel string, log *logrus.Logger) *RedisPublisher {
	return &RedisPublisher{
		client:  client,
		channel: channel,
		log:     log.WithField("component", "notify"),
	}
}

// Publish sends the event on the configured channel. Failures are logged
// and swallowed.
func (p *RedisPublisher) Publish(ctx context.Context, event Event) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		p.log.WithError(err).WithField("event", event.Type).Warn("failed to marshal notification event")
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		p.log.WithError(err).WithFields(logrus.Fields{
			"event":    event.Type,
			"order_id": event.OrderID,
		}).Warn("failed to publish notification event")
	}
}

// NopPublisher discards all events
type NopPublisher struct{}

// Publish implements Publisher
func (NopPublisher) Publish(context.Context, Event) {}
