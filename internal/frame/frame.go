// Package frame implements the inbound frame parser and outbound frame
// renderer (spec.md §4.E). Inbound frames are represented as a tagged
// union over the ten kinds spec.md's REDESIGN FLAGS §9 calls for, rather
// than as the teacher's single any-typed Message map
// (internal/websocket/message_type.go's Message.Data map[string]interface{}
// is exactly the weakly-typed shape §9 asks us to move away from).
package frame

import (
	"encoding/json"
	"fmt"
)

// Kind tags an inbound frame's dispatch category.
type Kind string

const (
	KindSubscribe         Kind = "subscribe"
	KindUnsubscribe       Kind = "unsubscribe"
	KindBatchSubscribe    Kind = "batch_subscribe"
	KindBatchUnsubscribe  Kind = "batch_unsubscribe"
	KindPing              Kind = "ping"
	KindHeartbeat         Kind = "heartbeat"
	KindPresenceHeartbeat Kind = "presence_heartbeat"
	KindAck               Kind = "ack"
	KindClientEvent       Kind = "client_event"
	KindUnknown           Kind = "unknown"
)

// envelope is the raw wire shape every inbound frame decodes into before
// being classified into a Inbound.
type envelope struct {
	Event       string          `json:"event"`
	Channel     string          `json:"channel,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`
	MessageID   string          `json:"messageId,omitempty"`
	Ack         bool            `json:"ack,omitempty"`
	Channels    []string        `json:"channels,omitempty"`
	ChannelData json.RawMessage `json:"channelData,omitempty"`
	Timestamp   int64           `json:"timestamp,omitempty"`
}

// Inbound is the parsed, classified representation of one client frame.
type Inbound struct {
	Kind        Kind
	Event       string
	Channel     string
	Channels    []string
	Data        json.RawMessage
	ChannelData json.RawMessage
	MessageID   string
	AckRequested bool
	Timestamp   int64

	raw envelope
}

// Raw exposes the underlying wire envelope for validators that need to see
// the original shape.
func (in Inbound) Raw() envelope { return in.raw }

// ErrEmptyFrame is returned for zero-length payloads.
var ErrEmptyFrame = fmt.Errorf("frame: empty payload")

// Decode parses raw bytes into a classified Inbound frame. It does not
// perform structural/semantic validation (see internal/validate) beyond
// what is needed to classify the frame's event.
func Decode(raw []byte) (Inbound, error) {
	if len(raw) == 0 {
		return Inbound{}, ErrEmptyFrame
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Inbound{}, fmt.Errorf("frame: decode: %w", err)
	}

	in := Inbound{
		Event:        env.Event,
		Channel:      env.Channel,
		Channels:     env.Channels,
		Data:         env.Data,
		ChannelData:  env.ChannelData,
		MessageID:    env.MessageID,
		AckRequested: env.Ack,
		Timestamp:    env.Timestamp,
		raw:          env,
	}
	in.Kind = classify(env.Event)
	return in, nil
}

func classify(event string) Kind {
	switch event {
	case "subscribe":
		return KindSubscribe
	case "unsubscribe":
		return KindUnsubscribe
	case "batch_subscribe":
		return KindBatchSubscribe
	case "batch_unsubscribe":
		return KindBatchUnsubscribe
	case "ping":
		return KindPing
	case "heartbeat":
		return KindHeartbeat
	case "presence_heartbeat":
		return KindPresenceHeartbeat
	case "ack":
		return KindAck
	default:
		if len(event) >= len("client-") && event[:7] == "client-" {
			return KindClientEvent
		}
		return KindUnknown
	}
}

// Outbound is a server-to-client frame ready for rendering.
type Outbound struct {
	Event     string `json:"event"`
	Channel   string `json:"channel,omitempty"`
	Data      any    `json:"data,omitempty"`
	MessageID string `json:"messageId,omitempty"`
}

// Encode renders an outbound frame as JSON text.
func Encode(out Outbound) ([]byte, error) {
	b, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("frame: encode: %w", err)
	}
	return b, nil
}

// ByteSize returns the actual encoded byte length of out, per §9's "adopt
// actual byte length of the encoded frame" redesign note (never a
// rune/JSON-string-length approximation).
func ByteSize(out Outbound) (int, error) {
	b, err := Encode(out)
	if err != nil {
		return 0, err
	}
	return len(b), nil
}

// Connection-established, subscription results, presence pushes, etc. are
// constructed by internal/hub using Outbound directly; these helpers cover
// the handful of payload shapes spec.md §6 pins down exactly.

// PresenceData is data.presence on a presence-channel subscription_succeeded
// frame (spec.md §4.E's tie-break).
type PresenceData struct {
	IDs   []string       `json:"ids"`
	Hash  map[string]any `json:"hash"`
	Count int            `json:"count"`
}

// SubscriptionErrorData is the data payload of a subscription_error frame.
type SubscriptionErrorData struct {
	Type   string `json:"type"`
	Error  string `json:"error"`
	Status int    `json:"status"`
}

// ErrorData is the data payload of a generic error frame.
type ErrorData struct {
	Type       string `json:"type"`
	Error      string `json:"error"`
	RetryAfter *int64 `json:"retryAfter,omitempty"`
}
