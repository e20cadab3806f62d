package webhook

import (
	"context"

	kafka "github.com/segmentio/kafka-go"
)

// KafkaQueueWriter adapts a kafka-go *kafka.Writer to the QueueWriter
// capability Emitter needs, grounded on the teacher's
// internal/server/handlers/voting_handler.go kafka.NewWriter +
// WriteMessages idiom.
type KafkaQueueWriter struct {
	writer *kafka.Writer
}

// NewKafkaQueueWriter constructs a writer targeting
// "pulsehub.webhook.delivery" on brokers.
func NewKafkaQueueWriter(brokers []string) *KafkaQueueWriter {
	return &KafkaQueueWriter{
		writer: &kafka.Writer{
			Addr:  kafka.TCP(brokers...),
			Topic: "pulsehub.webhook.delivery",
		},
	}
}

// WriteMessages satisfies QueueWriter.
func (w *KafkaQueueWriter) WriteMessages(ctx context.Context, key, value []byte) error {
	return w.writer.WriteMessages(ctx, kafka.Message{Key: key, Value: value})
}

// Close releases the underlying writer's connections.
func (w *KafkaQueueWriter) Close() error {
	return w.writer.Close()
}
