package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
)

const topic = "pulsehub.deferred-broadcasts"

// NewProducerConfig mirrors the teacher's
// internal/adapters/kafka.InitKafkaProducer tuning (wait-for-all acks,
// bounded retries, snappy compression), generalized from a fixed
// "chat-service" client id to the caller-supplied one.
func NewProducerConfig(clientID string) *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Return.Successes = true
	cfg.Producer.Compression = sarama.CompressionSnappy
	cfg.Producer.Partitioner = sarama.NewHashPartitioner
	cfg.Version = sarama.V2_0_0_0
	cfg.ClientID = clientID
	return cfg
}

// KafkaBroadcaster implements DeferredBroadcaster on a sarama sync
// producer.
type KafkaBroadcaster struct {
	producer sarama.SyncProducer
}

// NewKafkaBroadcaster dials brokers and returns a ready KafkaBroadcaster.
func NewKafkaBroadcaster(brokers []string, clientID string) (*KafkaBroadcaster, error) {
	producer, err := sarama.NewSyncProducer(brokers, NewProducerConfig(clientID))
	if err != nil {
		return nil, fmt.Errorf("queue: create sarama producer: %w", err)
	}
	return &KafkaBroadcaster{producer: producer}, nil
}

// Enqueue produces a Record to the deferred-broadcasts topic, keyed by
// channel so all deferred broadcasts for one channel land on the same
// partition and preserve relative order.
func (k *KafkaBroadcaster) Enqueue(ctx context.Context, at time.Time, channel, event string, payload json.RawMessage) error {
	rec := Record{At: at, Channel: channel, Event: event, Payload: payload}
	value, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("queue: marshal record: %w", err)
	}
	_, _, err = k.producer.SendMessage(&sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(channel),
		Value: sarama.ByteEncoder(value),
	})
	if err != nil {
		return fmt.Errorf("queue: send message: %w", err)
	}
	return nil
}

// Close releases the underlying producer.
func (k *KafkaBroadcaster) Close() error {
	return k.producer.Close()
}
