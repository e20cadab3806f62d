// Package hub implements the server orchestrator (spec.md §4.R): it wires
// every other component together, owns the connection table and channel
// registry exclusively (spec.md §3's ownership summary), and runs the
// frame dispatch loop. Grounded structurally on the teacher's
// internal/websocket.Hub (register/unregister/handleMessage select loop)
// and internal/websocket/client.go's ServeWS upgrade entry point,
// generalized from the teacher's six fixed message types to spec.md's
// full dispatch table, and on internal/server/routes.go's gin
// route-registration idiom.
package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"pulsehub/internal/ack"
	"pulsehub/internal/authz"
	"pulsehub/internal/breaker"
	"pulsehub/internal/channel"
	"pulsehub/internal/config"
	"pulsehub/internal/conn"
	"pulsehub/internal/dedup"
	"pulsehub/internal/events"
	"pulsehub/internal/frame"
	"pulsehub/internal/history"
	"pulsehub/internal/loadmgr"
	"pulsehub/internal/presence"
	"pulsehub/internal/queue"
	"pulsehub/internal/ratelimit"
	"pulsehub/internal/relay"
	"pulsehub/internal/webhook"
)

// Deps are the already-constructed components the orchestrator wires
// together; cmd/server/main.go builds one Deps from a *config.Config and
// hands it to New. Relay, History, Webhook, Queue, and Dedup are optional
// (nil disables the corresponding overlay).
type Deps struct {
	Config   *config.Config
	Conns    *conn.Table
	Channels *channel.Registry
	Authz    *authz.Authorizer
	Bus      *events.Bus
	Limiter  *ratelimit.Limiter
	Load     *loadmgr.Manager
	Ack      *ack.Acknowledger
	Dedup    dedup.Deduplicator
	Breakers *breaker.Manager
	Relay    relay.Adapter
	History  history.Store
	Presence *presence.Tracker
	Webhook  *webhook.Emitter
	Queue    queue.DeferredBroadcaster
	Logger   *slog.Logger
}

// Server is the orchestrator: component R.
type Server struct {
	cfg      *config.Config
	conns    *conn.Table
	channels *channel.Registry
	authz    *authz.Authorizer
	bus      *events.Bus
	limiter  *ratelimit.Limiter
	load     *loadmgr.Manager
	ack      *ack.Acknowledger
	dedup    dedup.Deduplicator
	breakers *breaker.Manager
	relay    relay.Adapter
	history  history.Store
	presence *presence.Tracker
	webhook  *webhook.Emitter
	queue    queue.DeferredBroadcaster
	log      *slog.Logger

	router     *gin.Engine
	httpServer *http.Server

	mu        sync.Mutex
	started   bool
	stopped   bool
	startedAt time.Time

	sendsMu sync.Mutex
	sends   map[string]pendingSend
}

// pendingSend is what ResendPending needs to retransmit an
// acknowledgment-tracked frame: the original bytes and who to resend
// them to (spec.md §4.I's retry semantics: "leave the payload intact").
type pendingSend struct {
	connID string
	bytes  []byte
}

// New wires deps into a Server. It performs no I/O.
func New(deps Deps) *Server {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		cfg:      deps.Config,
		conns:    deps.Conns,
		channels: deps.Channels,
		authz:    deps.Authz,
		bus:      deps.Bus,
		limiter:  deps.Limiter,
		load:     deps.Load,
		ack:      deps.Ack,
		dedup:    deps.Dedup,
		breakers: deps.Breakers,
		relay:    deps.Relay,
		history:  deps.History,
		presence: deps.Presence,
		webhook:  deps.Webhook,
		queue:    deps.Queue,
		log:      log,
		sends:    make(map[string]pendingSend),
	}
	if deps.Presence != nil {
		// presence eviction feeds member_removed broadcasts (spec.md §4.N).
	}
	return s
}

// Start binds the HTTP/WebSocket surface and, if a relay is configured,
// begins draining its inbound envelope stream. Idempotent re-entry is a
// no-op (spec.md §4.R).
func (s *Server) Start() error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.startedAt = time.Now()
	s.mu.Unlock()

	if s.relay != nil {
		ctx := context.Background()
		inbound, err := s.relay.Subscribe(ctx)
		if err != nil {
			return fmt.Errorf("hub: relay subscribe: %w", err)
		}
		go s.drainRelay(ctx, inbound)
	}

	s.router = s.buildRouter()
	s.httpServer = &http.Server{
		Addr:         ":" + s.cfg.Server.Port,
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("hub: http server exited", "error", err)
		}
	}()

	s.log.Info("hub: ready", "port", s.cfg.Server.Port, "server_id", s.cfg.Server.ServerID)
	return nil
}

// Stop refuses new connections, halts periodic sweepers, closes every
// live socket with code 1001, and awaits drain (spec.md §4.R, §5's
// "Cancellation and timeouts").
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.mu.Unlock()

	if s.limiter != nil {
		s.limiter.Close()
	}
	if s.ack != nil {
		s.ack.Close()
	}
	if s.dedup != nil {
		s.dedup.Close()
	}
	if s.presence != nil {
		s.presence.Close()
	}
	if s.relay != nil {
		if err := s.relay.Close(); err != nil {
			s.log.Warn("hub: relay close failed", "error", err)
		}
	}

	for _, c := range s.conns.Snapshot() {
		_ = c.Sender.Close(1001, "server shutting down")
		s.conns.Remove(c.ID)
	}

	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

func (s *Server) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// Broadcast fans event out locally to channel's subscribers (excluding
// exclude, if non-empty), then hands the same triple to the relay
// adapter tagged with this node's id (spec.md §4.R). Relay publish
// failures are logged, never surfaced (spec.md §7).
func (s *Server) Broadcast(ctx context.Context, channelName, event string, payload json.RawMessage, exclude string) {
	s.localBroadcast(ctx, channelName, event, payload, exclude)

	if s.relay != nil {
		err := s.breakers.Get("relay").Execute(ctx, func(ctx context.Context) error {
			return s.relay.Publish(ctx, channelName, event, payload, exclude)
		})
		if err != nil {
			s.log.Warn("hub: relay publish failed", "channel", channelName, "event", event, "error", err)
		}
	}

	if s.history != nil {
		if _, err := s.history.Store(ctx, channelName, event, payload, exclude); err != nil {
			s.log.Warn("hub: history store failed", "channel", channelName, "error", err)
		}
	}

	if s.webhook != nil {
		s.webhook.Notify(ctx, event, payload)
	}
}

// ScheduleBroadcast hands a deferred broadcast to the background job
// queue described only through its interface (spec.md §1). A nil Queue
// means the feature is disabled; callers get a clear error rather than a
// silent drop.
func (s *Server) ScheduleBroadcast(ctx context.Context, at time.Time, channelName, event string, payload json.RawMessage) error {
	if s.queue == nil {
		return fmt.Errorf("hub: deferred broadcast queue not configured")
	}
	return s.queue.Enqueue(ctx, at, channelName, event, payload)
}

// SendWithAck sends out to c requiring acknowledgment, registering a
// pending future with the acknowledger (spec.md §4.I) and remembering
// the encoded bytes so ResendPending can retransmit them verbatim on
// timeout.
func (s *Server) SendWithAck(c *conn.Connection, out frame.Outbound) (*ack.Pending, error) {
	if out.MessageID == "" {
		out.MessageID = uuid.NewString()
	}
	b, err := frame.Encode(out)
	if err != nil {
		return nil, fmt.Errorf("hub: encode ack-tracked frame: %w", err)
	}

	pending := s.ack.Register(out.MessageID)

	s.sendsMu.Lock()
	s.sends[out.MessageID] = pendingSend{connID: c.ID, bytes: b}
	s.sendsMu.Unlock()

	if err := c.Sender.Send(b); err != nil {
		s.log.Debug("hub: ack-tracked send failed", "socket_id", c.ID, "message_id", out.MessageID, "error", err)
	}
	return pending, nil
}

// ResendPending is the ack.RetryFn wired in by cmd/server/main.go: it
// retransmits the original bytes for messageID, verbatim, to whichever
// connection is still on record for it.
func (s *Server) ResendPending(messageID string, attempt int) {
	s.sendsMu.Lock()
	entry, ok := s.sends[messageID]
	s.sendsMu.Unlock()
	if !ok {
		return
	}
	c, ok := s.conns.Get(entry.connID)
	if !ok {
		return
	}
	if err := c.Sender.Send(entry.bytes); err != nil {
		s.log.Debug("hub: ack retry send failed", "socket_id", entry.connID, "message_id", messageID, "attempt", attempt, "error", err)
	}
}

func (s *Server) clearPendingSend(messageID string) {
	s.sendsMu.Lock()
	delete(s.sends, messageID)
	s.sendsMu.Unlock()
}

// localBroadcast fans out to local subscribers only, without touching
// the relay — used both by Broadcast and by envelopes received from the
// relay's inbound stream (which must never be re-published, spec.md
// §4.L).
func (s *Server) localBroadcast(ctx context.Context, channelName, event string, payload json.RawMessage, exclude string) {
	ch, ok := s.channels.Get(channelName)
	if !ok {
		return
	}
	out := frame.Outbound{Event: event, Channel: channelName, Data: json.RawMessage(payload)}
	b, err := frame.Encode(out)
	if err != nil {
		s.log.Error("hub: encode broadcast frame failed", "channel", channelName, "event", event, "error", err)
		return
	}
	for _, socketID := range ch.Subscribers() {
		if socketID == exclude {
			continue
		}
		c, ok := s.conns.Get(socketID)
		if !ok {
			continue
		}
		if !isPresenceEvent(event) && s.load.ShouldShed(c.Sender) {
			continue // advisory backpressure drop of a non-critical server event; presence events are exempt (spec.md §5)
		}
		if err := c.Sender.Send(b); err != nil {
			s.log.Debug("hub: send failed, dropping subscriber", "socket_id", socketID, "error", err)
		}
	}
}

// isPresenceEvent reports whether event is one of the presence membership
// broadcasts spec.md §5's backpressure paragraph exempts from shedding.
func isPresenceEvent(event string) bool {
	return event == "member_added" || event == "member_removed"
}

// drainRelay listens on the relay adapter's inbound envelope stream and
// re-runs broadcast locally for each, without re-publishing (spec.md
// §4.L's "the adapter never mutates local state" contract).
func (s *Server) drainRelay(ctx context.Context, inbound <-chan relay.Envelope) {
	for env := range inbound {
		s.localBroadcast(ctx, env.Channel, env.Event, env.Data, "")
	}
}

// Stats aggregates the counters exposed by /stats and /metrics.
type Stats struct {
	Connections int              `json:"connections"`
	Channels    int              `json:"channels"`
	UptimeSec   float64          `json:"uptime_seconds"`
	Load        loadmgr.Stats    `json:"load"`
	Breakers    map[string]string `json:"breakers"`
}

func (s *Server) stats() Stats {
	s.mu.Lock()
	started := s.startedAt
	s.mu.Unlock()

	uptime := 0.0
	if !started.IsZero() {
		uptime = time.Since(started).Seconds()
	}

	breakers := map[string]string{}
	if s.breakers != nil {
		for name, st := range s.breakers.Snapshot() {
			breakers[name] = st.String()
		}
	}

	return Stats{
		Connections: s.conns.Len(),
		Channels:    s.channels.Len(),
		UptimeSec:   uptime,
		Load:        s.load.Snapshot(),
		Breakers:    breakers,
	}
}
