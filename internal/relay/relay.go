// Package relay implements the relay adapter (spec.md §4.L): the
// cross-node fan-out contract any pub/sub-plus-shared-state backend can
// satisfy, and RedisAdapter, the production implementation on
// github.com/redis/go-redis/v9. Grounded on the teacher's
// internal/services.RedisService (SADD/HSET/EXPIRE pipelines,
// fmt.Sprintf key assembly) and internal/websocket.Hub's
// subscribeToRedis/pubsub pairing, generalized from ad hoc presence/
// channel bookkeeping into the single Adapter contract spec.md names.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Envelope is what gets published on the shared broadcast channel.
type Envelope struct {
	Type     string          `json:"type"`
	Channel  string          `json:"channel"`
	Event    string          `json:"event"`
	Data     json.RawMessage `json:"data"`
	SocketID string          `json:"socketId,omitempty"`
	ServerID string          `json:"serverId"`
}

// Adapter is the relay contract (spec.md §4.L). The orchestrator listens
// on the channel returned by Subscribe and re-runs broadcast locally for
// received envelopes; it never re-publishes what it receives.
type Adapter interface {
	Publish(ctx context.Context, channel, event string, data json.RawMessage, socketID string) error
	Subscribe(ctx context.Context) (<-chan Envelope, error)

	StoreChannel(ctx context.Context, channel, socketID string) error
	RemoveChannel(ctx context.Context, channel, socketID string) error

	StorePresenceMember(ctx context.Context, channel, socketID string, member any) error
	RemovePresenceMember(ctx context.Context, channel, socketID string) error

	StoreConnection(ctx context.Context, socketID string, snapshot any) error
	RemoveConnection(ctx context.Context, socketID string) error

	SetIfAbsent(ctx context.Context, key string, ttl time.Duration) (bool, error)

	HealthCheck(ctx context.Context) error
	Close() error
}

const (
	channelSetTTL     = 3600 * time.Second
	presenceHashTTL   = 3600 * time.Second
	connectionTTL     = 7200 * time.Second
	broadcastChannel  = "channel"
)

// RedisAdapter is the production Adapter, on go-redis/v9.
type RedisAdapter struct {
	client   *redis.Client
	prefix   string
	serverID string
}

// NewRedisAdapter constructs a RedisAdapter. prefix defaults to
// "broadcasting:" when empty, matching spec.md §4.L.
func NewRedisAdapter(client *redis.Client, prefix, serverID string) *RedisAdapter {
	if prefix == "" {
		prefix = "broadcasting:"
	}
	return &RedisAdapter{client: client, prefix: prefix, serverID: serverID}
}

func (a *RedisAdapter) key(parts ...string) string {
	return buildKey(a.prefix, parts...)
}

func buildKey(prefix string, parts ...string) string {
	k := prefix
	for i, p := range parts {
		if i > 0 {
			k += ":"
		}
		k += p
	}
	return k
}

// isLoopback reports whether env originated from this node and should be
// dropped before reaching the orchestrator (spec.md §4.L's echo guard).
func isLoopback(env Envelope, localServerID string) bool {
	return env.ServerID == localServerID
}

// Publish sends an Envelope on the shared broadcast channel.
func (a *RedisAdapter) Publish(ctx context.Context, channel, event string, data json.RawMessage, socketID string) error {
	env := Envelope{
		Type:     "broadcast",
		Channel:  channel,
		Event:    event,
		Data:     data,
		SocketID: socketID,
		ServerID: a.serverID,
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("relay: marshal envelope: %w", err)
	}
	return a.client.Publish(ctx, a.key(broadcastChannel), payload).Err()
}

// Subscribe listens on the shared broadcast channel and returns a channel
// of envelopes with the loopback guard already applied: envelopes whose
// ServerID equals this node's are dropped before they reach the caller
// (spec.md §4.L's "single invariant that prevents echo storms").
func (a *RedisAdapter) Subscribe(ctx context.Context) (<-chan Envelope, error) {
	sub := a.client.Subscribe(ctx, a.key(broadcastChannel))
	if _, err := sub.Receive(ctx); err != nil {
		return nil, fmt.Errorf("relay: subscribe: %w", err)
	}

	out := make(chan Envelope, 256)
	go func() {
		defer close(out)
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var env Envelope
				if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
					continue
				}
				if isLoopback(env, a.serverID) {
					continue // loopback guard
				}
				select {
				case out <- env:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// StoreChannel adds socketID to channel's member set with a 3600s TTL.
func (a *RedisAdapter) StoreChannel(ctx context.Context, channel, socketID string) error {
	key := a.key("channel", channel, "members")
	pipe := a.client.Pipeline()
	pipe.SAdd(ctx, key, socketID)
	pipe.Expire(ctx, key, channelSetTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// RemoveChannel removes socketID from channel's member set.
func (a *RedisAdapter) RemoveChannel(ctx context.Context, channel, socketID string) error {
	return a.client.SRem(ctx, a.key("channel", channel, "members"), socketID).Err()
}

// StorePresenceMember records socketID's presence member data in a hash
// keyed by channel, with a 3600s TTL.
func (a *RedisAdapter) StorePresenceMember(ctx context.Context, channel, socketID string, member any) error {
	payload, err := json.Marshal(member)
	if err != nil {
		return fmt.Errorf("relay: marshal presence member: %w", err)
	}
	key := a.key("presence", channel, "members")
	pipe := a.client.Pipeline()
	pipe.HSet(ctx, key, socketID, payload)
	pipe.Expire(ctx, key, presenceHashTTL)
	_, err = pipe.Exec(ctx)
	return err
}

// RemovePresenceMember removes socketID from channel's presence hash.
func (a *RedisAdapter) RemovePresenceMember(ctx context.Context, channel, socketID string) error {
	return a.client.HDel(ctx, a.key("presence", channel, "members"), socketID).Err()
}

// StoreConnection stores a connection snapshot keyed by socketID, with a
// 7200s TTL.
func (a *RedisAdapter) StoreConnection(ctx context.Context, socketID string, snapshot any) error {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("relay: marshal connection snapshot: %w", err)
	}
	return a.client.Set(ctx, a.key("connection", socketID), payload, connectionTTL).Err()
}

// RemoveConnection deletes a connection snapshot.
func (a *RedisAdapter) RemoveConnection(ctx context.Context, socketID string) error {
	return a.client.Del(ctx, a.key("connection", socketID)).Err()
}

// SetIfAbsent implements internal/dedup.Store on top of Redis SET NX.
func (a *RedisAdapter) SetIfAbsent(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return a.client.SetNX(ctx, a.key("dedup", key), 1, ttl).Result()
}

// HealthCheck round-trip pings the Redis connection.
func (a *RedisAdapter) HealthCheck(ctx context.Context) error {
	return a.client.Ping(ctx).Err()
}

// Close releases the underlying Redis client.
func (a *RedisAdapter) Close() error {
	return a.client.Close()
}
