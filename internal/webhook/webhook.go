// Package webhook implements the webhook emitter (spec.md §4.O):
// HMAC-signed HTTP notification of configured endpoints on server/client
// events, with a bounded in-process delivery queue and, when configured,
// a mirrored Kafka topic on which delivery attempts can be observed
// outside this process. Grounded on the teacher's github.com/segmentio/kafka-go writer
// idiom (internal/server/handlers/voting_handler.go's kafka.NewWriter +
// WriteMessages), adapted from vote-cast events to webhook delivery
// attempts.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/rs/xid"
	"golang.org/x/time/rate"

	"pulsehub/internal/breaker"
)

// Endpoint is one configured webhook target.
type Endpoint struct {
	Name          string
	URL           string
	Events        []string // event names this endpoint subscribes to; "*" matches all
	Secret        string   // HMAC signing secret, empty disables signing
	RetryAttempts int
	RetryDelay    time.Duration
	RetryPerSec   float64 // token-bucket cap on retries against this endpoint
	Timeout       time.Duration
}

func (e Endpoint) matches(event string) bool {
	for _, want := range e.Events {
		if want == "*" || want == event {
			return true
		}
	}
	return false
}

// Payload is the JSON body posted to an endpoint. Signature is populated
// only when the endpoint has a secret configured (spec.md §4.O: the body
// is `{event, timestamp, data, signature?}`).
type Payload struct {
	Event     string          `json:"event"`
	Timestamp int64           `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
	Signature string          `json:"signature,omitempty"`
}

// Delivery is one attempt, correlated by a github.com/rs/xid id for
// cross-log tracing.
type Delivery struct {
	ID       xid.ID
	Endpoint Endpoint
	Payload  Payload
	Attempt  int
}

// Emitter matches events against configured endpoints and queues
// deliveries.
type Emitter struct {
	endpoints []Endpoint
	client    *http.Client
	breakers  *breaker.Manager
	log       *slog.Logger

	queue  chan Delivery
	limits map[string]*rate.Limiter

	kafka QueueWriter
}

// QueueWriter is the capability the mirrored Kafka topic needs;
// KafkaQueueWriter adapts kafka-go's *kafka.Writer to it. Nil disables the
// mirror.
type QueueWriter interface {
	WriteMessages(ctx context.Context, key, value []byte) error
}

// New constructs an Emitter. kafka may be nil to disable the mirrored
// dispatch queue (spec.md's Kafka broker config is optional).
func New(endpoints []Endpoint, breakers *breaker.Manager, kafka QueueWriter, log *slog.Logger) *Emitter {
	if log == nil {
		log = slog.Default()
	}
	limits := make(map[string]*rate.Limiter, len(endpoints))
	for _, e := range endpoints {
		perSec := e.RetryPerSec
		if perSec <= 0 {
			perSec = 5
		}
		limits[e.Name] = rate.NewLimiter(rate.Limit(perSec), 1)
	}
	return &Emitter{
		endpoints: endpoints,
		client:    &http.Client{},
		breakers:  breakers,
		log:       log,
		queue:     make(chan Delivery, 1024),
		limits:    limits,
		kafka:     kafka,
	}
}

// Notify matches event against configured endpoints and enqueues a
// delivery for each match, mirroring to Kafka when configured.
func (e *Emitter) Notify(ctx context.Context, event string, data json.RawMessage) {
	payload := Payload{Event: event, Timestamp: time.Now().Unix(), Data: data}
	for _, ep := range e.endpoints {
		if !ep.matches(event) {
			continue
		}
		d := Delivery{ID: xid.New(), Endpoint: ep, Payload: payload, Attempt: 1}
		select {
		case e.queue <- d:
		default:
			e.log.Warn("webhook queue full, dropping delivery", "endpoint", ep.Name, "event", event)
		}
		e.mirrorToKafka(ctx, d)
	}
}

func (e *Emitter) mirrorToKafka(ctx context.Context, d Delivery) {
	if e.kafka == nil {
		return
	}
	value, err := json.Marshal(d.Payload)
	if err != nil {
		return
	}
	if err := e.kafka.WriteMessages(ctx, []byte(d.ID.String()), value); err != nil {
		e.log.Warn("webhook kafka mirror failed", "endpoint", d.Endpoint.Name, "error", err)
	}
}

// Deliveries exposes the in-process queue for internal/webhook/worker.go
// consumers.
func (e *Emitter) Deliveries() <-chan Delivery { return e.queue }

// Retry re-enqueues d for another attempt, respecting the endpoint's
// per-second retry pacing.
func (e *Emitter) Retry(ctx context.Context, d Delivery) {
	limiter := e.limits[d.Endpoint.Name]
	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return
		}
	}
	select {
	case e.queue <- d:
	case <-ctx.Done():
	}
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Deliver performs one HTTP POST attempt for d, wrapped in the endpoint's
// circuit breaker. It returns an error the caller should retry on
// (network/5xx/timeout), or nil on success. 4xx responses are not
// retried and return nil (spec.md §4.O).
func (e *Emitter) Deliver(ctx context.Context, d Delivery) error {
	payload := d.Payload
	payload.Signature = ""
	if d.Endpoint.Secret != "" {
		unsigned, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("webhook: marshal payload: %w", err)
		}
		payload.Signature = sign(d.Endpoint.Secret, unsigned)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("webhook: marshal payload: %w", err)
	}

	deliver := func(ctx context.Context) error {
		reqCtx := ctx
		var cancel context.CancelFunc
		if d.Endpoint.Timeout > 0 {
			reqCtx, cancel = context.WithTimeout(ctx, d.Endpoint.Timeout)
			defer cancel()
		}
		req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, d.Endpoint.URL, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Delivery-Id", d.ID.String())

		resp, err := e.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return fmt.Errorf("webhook: %s responded %d", d.Endpoint.Name, resp.StatusCode)
		}
		if resp.StatusCode >= 400 {
			e.log.Warn("webhook delivery rejected, not retrying", "endpoint", d.Endpoint.Name, "status", resp.StatusCode, "deliveryId", d.ID.String())
			return nil
		}
		return nil
	}

	if e.breakers == nil {
		return deliver(ctx)
	}
	return e.breakers.Get(d.Endpoint.Name).Execute(ctx, deliver)
}
