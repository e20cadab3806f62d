// Package queue implements the deferred-broadcast queue (spec.md §1's
// "background job queue for deferred broadcasts... described only
// through the interfaces the core invokes"). DeferredBroadcaster is the
// interface internal/hub.Server.ScheduleBroadcast calls through;
// KafkaBroadcaster (kafka.go) is the one concrete adapter the core ships,
// on github.com/IBM/sarama, grounded on the teacher's
// internal/adapters/kafka.InitKafkaProducer bootstrap.
package queue

import (
	"context"
	"encoding/json"
	"time"
)

// DeferredBroadcaster schedules a broadcast for future delivery.
type DeferredBroadcaster interface {
	Enqueue(ctx context.Context, at time.Time, channel, event string, payload json.RawMessage) error
}

// Record is the wire shape of one deferred-broadcast job.
type Record struct {
	At      time.Time       `json:"at"`
	Channel string          `json:"channel"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}
