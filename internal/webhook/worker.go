// Worker drains an Emitter's delivery queue, retrying failed deliveries
// up to RetryAttempts with RetryDelay*attempt backoff (spec.md §4.O).
// The optional kafka-go consumer in this file only logs mirrored delivery
// records; it does not deliver or retry them.
package webhook

import (
	"context"
	"log/slog"
	"time"

	kafka "github.com/segmentio/kafka-go"
)

// Worker consumes deliveries and drives the retry loop.
type Worker struct {
	emitter *Emitter
	log     *slog.Logger
}

// NewWorker constructs a Worker bound to emitter.
func NewWorker(emitter *Emitter, log *slog.Logger) *Worker {
	if log == nil {
		log = slog.Default()
	}
	return &Worker{emitter: emitter, log: log}
}

// Run consumes from the in-process queue until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-w.emitter.Deliveries():
			if !ok {
				return
			}
			w.handle(ctx, d)
		}
	}
}

func (w *Worker) handle(ctx context.Context, d Delivery) {
	err := w.emitter.Deliver(ctx, d)
	if err == nil {
		return
	}

	if d.Attempt >= d.Endpoint.RetryAttempts {
		w.log.Error("webhook delivery exhausted retries", "endpoint", d.Endpoint.Name, "deliveryId", d.ID.String(), "attempts", d.Attempt, "error", err)
		return
	}

	delay := d.Endpoint.RetryDelay * time.Duration(d.Attempt)
	select {
	case <-time.After(delay):
	case <-ctx.Done():
		return
	}

	d.Attempt++
	w.emitter.Retry(ctx, d)
}

// KafkaConsumer reads mirrored delivery-attempt records from a kafka-go
// reader and logs each one; it does not put them on the local emitter's
// queue.
type KafkaConsumer struct {
	reader  *kafka.Reader
	emitter *Emitter
	log     *slog.Logger
}

// NewKafkaConsumer constructs a consumer group reader over
// "pulsehub.webhook.delivery".
func NewKafkaConsumer(brokers []string, groupID string, emitter *Emitter, log *slog.Logger) *KafkaConsumer {
	if log == nil {
		log = slog.Default()
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: brokers,
		GroupID: groupID,
		Topic:   "pulsehub.webhook.delivery",
	})
	return &KafkaConsumer{reader: reader, emitter: emitter, log: log}
}

// Run reads messages until ctx is cancelled or the reader errors.
func (c *KafkaConsumer) Run(ctx context.Context) {
	defer c.reader.Close()
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.Warn("webhook kafka consumer read error", "error", err)
			continue
		}
		// The mirrored record only carries the rendered payload; re-delivery
		// against configured endpoints is driven locally by Notify, so this
		// consumer's role is observability of the delivery stream rather
		// than re-dispatch (spec.md's queue mirror exists to let the
		// delivery-worker fleet observe bursts, not to re-trigger them).
		c.log.Debug("webhook delivery observed via kafka mirror", "key", string(msg.Key))
	}
}
