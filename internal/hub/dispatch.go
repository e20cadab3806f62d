package hub

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"pulsehub/internal/authz"
	"pulsehub/internal/batch"
	"pulsehub/internal/channel"
	"pulsehub/internal/conn"
	"pulsehub/internal/dedup"
	"pulsehub/internal/frame"
	"pulsehub/internal/ratelimit"
	"pulsehub/internal/validate"
)

// handleFrame decodes, validates, gates, and dispatches one inbound
// frame. A panic anywhere in the chain terminates the connection with
// code 1011 and must never crash the server (spec.md §7).
func (s *Server) handleFrame(c *conn.Connection, raw []byte) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("hub: panic in frame dispatch, closing connection", "socket_id", c.ID, "panic", r)
			_ = c.Sender.Close(1011, "internal error")
		}
	}()

	if int64(len(raw)) > s.cfg.Server.MaxPayloadSize {
		s.sendError(c, WirePayloadTooLarge, "payload exceeds maximum size", nil)
		return
	}

	in, err := frame.Decode(raw)
	if err != nil {
		s.sendError(c, WireValidationError, err.Error(), nil)
		return
	}

	if err := validate.Frame(in); err != nil {
		s.sendError(c, WireValidationError, err.Error(), nil)
		return
	}

	if in.Kind != frame.KindAck {
		key := ratelimit.Key(s.cfg.RateLimit.PerUser, c.UserID, c.ID, s.cfg.RateLimit.PerChannel, in.Channel)
		if s.limiter.Allow(key) {
			retryAfter := time.Now().Add(s.cfg.RateLimit.Window).Unix()
			s.sendError(c, WireRateLimitExceeded, "rate limit exceeded", &retryAfter)
			return
		}
	}

	ctx := context.Background()

	// Any frame carrying ack:true gets an immediate ack reply, then
	// dispatch continues normally (spec.md §4.R's catch-all row).
	if in.AckRequested && in.MessageID != "" {
		s.sendAck(c, in.MessageID)
	}

	switch in.Kind {
	case frame.KindSubscribe:
		s.handleSubscribe(ctx, c, in)
	case frame.KindUnsubscribe:
		s.handleUnsubscribe(ctx, c, in)
	case frame.KindBatchSubscribe:
		s.handleBatchSubscribe(ctx, c, in)
	case frame.KindBatchUnsubscribe:
		s.handleBatchUnsubscribe(ctx, c, in)
	case frame.KindPing:
		s.sendOutbound(c, frame.Outbound{Event: "pong"})
	case frame.KindHeartbeat, frame.KindPresenceHeartbeat:
		s.handleHeartbeat(c, in)
	case frame.KindAck:
		if s.ack != nil && s.ack.Acknowledge(in.MessageID) {
			s.clearPendingSend(in.MessageID)
		}
	case frame.KindClientEvent:
		s.handleClientEvent(ctx, c, in)
	default:
		s.sendError(c, WireNotSupported, "unsupported event", nil)
	}
}

func (s *Server) handleSubscribe(ctx context.Context, c *conn.Connection, in frame.Inbound) {
	if s.load.SubscriptionCapExceeded(c.ChannelCount()) || s.load.AtCapacity() {
		s.sendSubscriptionError(c, WireCapacityError, "server at capacity", 429)
		return
	}

	result, err := s.channels.Subscribe(ctx, c.ID, c.UserID, in.Channel, decodeAny(in.ChannelData))
	if err != nil {
		s.replySubscribeError(c, err)
		return
	}

	c.AddChannel(in.Channel)
	s.load.IncChannels()

	out := frame.Outbound{Event: "subscription_succeeded", Channel: in.Channel}
	if result.Channel.Class == channel.Presence {
		out.Data = frame.PresenceData{
			IDs:   result.PresenceIDs,
			Hash:  result.PresenceHash,
			Count: len(result.PresenceIDs),
		}
	}
	s.sendOutbound(c, out)

	if s.relay != nil {
		if err := s.relay.StoreChannel(ctx, in.Channel, c.ID); err != nil {
			s.log.Warn("hub: relay store channel failed", "channel", in.Channel, "error", err)
		}
	}

	if result.Channel.Class == channel.Presence {
		member := result.PresenceHash[c.ID]
		s.presence.Touch(in.Channel, c.ID, member)
		if s.relay != nil {
			if err := s.relay.StorePresenceMember(ctx, in.Channel, c.ID, member); err != nil {
				s.log.Warn("hub: relay store presence member failed", "channel", in.Channel, "error", err)
			}
		}
		memberPayload, _ := json.Marshal(member)
		s.Broadcast(ctx, in.Channel, "member_added", memberPayload, c.ID)
	}
}

func (s *Server) replySubscribeError(c *conn.Connection, err error) {
	switch {
	case errors.Is(err, authz.ErrAuthDenied), errors.Is(err, authz.ErrNoRule):
		s.sendSubscriptionError(c, WireAuthError, err.Error(), 401)
	case errors.Is(err, authz.ErrServerError):
		s.sendSubscriptionError(c, WireServerError, err.Error(), 500)
	default:
		s.sendSubscriptionError(c, WireServerError, err.Error(), 500)
	}
}

func (s *Server) handleUnsubscribe(ctx context.Context, c *conn.Connection, in frame.Inbound) {
	s.unsubscribeOne(ctx, c, in.Channel)
}

// unsubscribeOne is the shared subscribe-teardown path for a single
// unsubscribe frame and for each channel in a batch unsubscribe.
func (s *Server) unsubscribeOne(ctx context.Context, c *conn.Connection, name string) error {
	if !c.HasChannel(name) {
		return nil
	}

	var member any
	isPresence := false
	if ch, ok := s.channels.Get(name); ok && ch.Class == channel.Presence {
		isPresence = true
		member = ch.Members()[c.ID]
	}

	s.channels.Unsubscribe(ctx, c.ID, name)
	c.RemoveChannel(name)
	s.load.DecChannels()

	if s.relay != nil {
		if err := s.relay.RemoveChannel(ctx, name, c.ID); err != nil {
			s.log.Warn("hub: relay remove channel failed", "channel", name, "error", err)
		}
	}

	if isPresence {
		s.presence.Remove(name, c.ID)
		if s.relay != nil {
			if err := s.relay.RemovePresenceMember(ctx, name, c.ID); err != nil {
				s.log.Warn("hub: relay remove presence member failed", "channel", name, "error", err)
			}
		}
		memberPayload, _ := json.Marshal(member)
		s.Broadcast(ctx, name, "member_removed", memberPayload, c.ID)
	}
	return nil
}

func (s *Server) handleBatchSubscribe(ctx context.Context, c *conn.Connection, in frame.Inbound) {
	kept, dropped := batch.Cap(in.Channels, s.cfg.Batch.MaxBatchSize)
	result := batch.Subscribe(ctx, kept, func(ctx context.Context, name string) error {
		if s.load.SubscriptionCapExceeded(c.ChannelCount()) || s.load.AtCapacity() {
			return errCapacityExceeded
		}
		res, err := s.channels.Subscribe(ctx, c.ID, c.UserID, name, nil)
		if err != nil {
			return err
		}
		c.AddChannel(name)
		s.load.IncChannels()
		if res.Channel.Class == channel.Presence {
			member := res.PresenceHash[c.ID]
			s.presence.Touch(name, c.ID, member)
			memberPayload, _ := json.Marshal(member)
			s.Broadcast(ctx, name, "member_added", memberPayload, c.ID)
		}
		return nil
	})
	s.sendOutbound(c, frame.Outbound{
		Event:     "batch_subscribe_result",
		MessageID: in.MessageID,
		Data:      batchResultPayload(result, dropped),
	})
}

func (s *Server) handleBatchUnsubscribe(ctx context.Context, c *conn.Connection, in frame.Inbound) {
	kept, dropped := batch.Cap(in.Channels, s.cfg.Batch.MaxBatchSize)
	result := batch.Unsubscribe(ctx, kept, func(ctx context.Context, name string) error {
		return s.unsubscribeOne(ctx, c, name)
	})
	s.sendOutbound(c, frame.Outbound{
		Event:     "batch_unsubscribe_result",
		MessageID: in.MessageID,
		Data:      batchResultPayload(result, dropped),
	})
}

func batchResultPayload(result batch.Result, dropped int) any {
	return struct {
		Succeeded []string          `json:"succeeded"`
		Failed    map[string]string `json:"failed"`
		Dropped   int               `json:"dropped"`
	}{Succeeded: result.Succeeded, Failed: result.Failed, Dropped: dropped}
}

func (s *Server) handleHeartbeat(c *conn.Connection, in frame.Inbound) {
	if in.Channel == "" || s.presence == nil {
		return
	}
	var member any
	if ch, ok := s.channels.Get(in.Channel); ok {
		member = ch.Members()[c.ID]
	}
	s.presence.Touch(in.Channel, c.ID, member)
}

func (s *Server) handleClientEvent(ctx context.Context, c *conn.Connection, in frame.Inbound) {
	if channel.ClassOf(in.Channel) == channel.Public {
		// Client events on public channels are dropped without a reply.
		return
	}
	if !c.HasChannel(in.Channel) {
		s.sendError(c, WireValidationError, "not subscribed to channel", nil)
		return
	}

	sanitized, err := json.Marshal(validate.SanitizeMap(decodeAny(in.Data)))
	if err != nil {
		s.sendError(c, WireValidationError, "malformed event payload", nil)
		return
	}

	if s.dedup != nil {
		key, err := dedup.Key(in.Channel, in.Event, decodeAny(in.Data), in.MessageID)
		if err == nil && s.dedup.IsDuplicate(ctx, key) {
			return
		}
	}

	exclude := c.ID
	if s.cfg.Server.PublishToSelf {
		exclude = ""
	}
	s.Broadcast(ctx, in.Channel, in.Event, sanitized, exclude)
}

// onDisconnect tears down every channel subscription a closing
// connection held (spec.md §4.B's unsubscribeAll), removes it from the
// connection table, and clears its relay-side footprint.
func (s *Server) onDisconnect(c *conn.Connection) {
	ctx := context.Background()
	for _, name := range c.Channels() {
		_ = s.unsubscribeOne(ctx, c, name)
	}
	s.conns.Remove(c.ID)
	s.load.DecConnections()
	if s.relay != nil {
		if err := s.relay.RemoveConnection(ctx, c.ID); err != nil {
			s.log.Warn("hub: relay remove connection failed", "socket_id", c.ID, "error", err)
		}
	}
}

func decodeAny(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	return v
}

var errCapacityExceeded = errors.New("hub: capacity exceeded")
