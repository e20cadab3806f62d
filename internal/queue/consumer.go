package queue

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/IBM/sarama"
)

// BroadcastFn is the callback the consumer invokes once a deferred
// record's scheduled time has arrived; cmd/server wires this to
// Server.Broadcast.
type BroadcastFn func(ctx context.Context, channel, event string, payload json.RawMessage)

// Consumer reads deferred-broadcast records off the Kafka topic and
// sleeps until each record's At before replaying it.
type Consumer struct {
	group     sarama.ConsumerGroup
	broadcast BroadcastFn
	log       *slog.Logger
}

// NewConsumer joins groupID against brokers for the deferred-broadcasts
// topic.
func NewConsumer(brokers []string, groupID string, broadcast BroadcastFn, log *slog.Logger) (*Consumer, error) {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_0_0_0
	group, err := sarama.NewConsumerGroup(brokers, groupID, cfg)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	return &Consumer{group: group, broadcast: broadcast, log: log}, nil
}

// Run joins the consumer group and processes records until ctx is
// cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	handler := &groupHandler{consumer: c}
	for {
		if err := c.group.Consume(ctx, []string{topic}, handler); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// Close releases the underlying consumer group.
func (c *Consumer) Close() error {
	return c.group.Close()
}

type groupHandler struct {
	consumer *Consumer
}

func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *groupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			h.consumer.handle(sess.Context(), msg)
			sess.MarkMessage(msg, "")
		case <-sess.Context().Done():
			return nil
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg *sarama.ConsumerMessage) {
	var rec Record
	if err := json.Unmarshal(msg.Value, &rec); err != nil {
		c.log.Warn("queue: malformed deferred-broadcast record", "error", err)
		return
	}

	wait := time.Until(rec.At)
	if wait > 0 {
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return
		}
	}
	c.broadcast(ctx, rec.Channel, rec.Event, rec.Payload)
}
