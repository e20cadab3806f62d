package hub

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"pulsehub/internal/ack"
	"pulsehub/internal/authz"
	"pulsehub/internal/breaker"
	"pulsehub/internal/channel"
	"pulsehub/internal/config"
	"pulsehub/internal/conn"
	"pulsehub/internal/dedup"
	"pulsehub/internal/events"
	"pulsehub/internal/frame"
	"pulsehub/internal/loadmgr"
	"pulsehub/internal/presence"
	"pulsehub/internal/ratelimit"
)

// fakeSender is the conn.Sender test double: it records every frame it
// was asked to send and can be told to panic on the next Send, to
// exercise handleFrame's panic recovery.
type fakeSender struct {
	sent          [][]byte
	closeCode     int
	closeMsg      string
	panicNext     bool
	bufferedBytes int
}

func (f *fakeSender) Send(b []byte) error {
	if f.panicNext {
		f.panicNext = false
		panic("simulated transport failure")
	}
	f.sent = append(f.sent, append([]byte(nil), b...))
	return nil
}

func (f *fakeSender) BufferedBytes() int { return f.bufferedBytes }

func (f *fakeSender) Close(code int, reason string) error {
	f.closeCode = code
	f.closeMsg = reason
	return nil
}

func (f *fakeSender) events(t *testing.T) []map[string]any {
	t.Helper()
	out := make([]map[string]any, 0, len(f.sent))
	for _, b := range f.sent {
		var m map[string]any
		if err := json.Unmarshal(b, &m); err != nil {
			t.Fatalf("sent frame is not valid JSON: %v", err)
		}
		out = append(out, m)
	}
	return out
}

func (f *fakeSender) lastEvent(t *testing.T) map[string]any {
	t.Helper()
	ev := f.events(t)
	if len(ev) == 0 {
		t.Fatal("expected at least one sent frame")
	}
	return ev[len(ev)-1]
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.Server{
			MaxPayloadSize:  65536,
			ActivityTimeout: 120 * time.Second,
		},
		RateLimit: config.RateLimit{Window: time.Minute, Cap: 1000},
		Load: config.LoadManagement{
			MaxConnections:            1000,
			MaxGlobalChannels:         1000,
			MaxSubscriptionsPerSocket: 100,
			AdmissionPercent:          90,
		},
		Batch: config.Batch{MaxBatchSize: 3},
	}
}

// newTestServer wires a Server with real in-process components and no
// optional overlays (relay/history/webhook/queue), matching how the
// orchestrator runs with every optional dependency disabled.
func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := testConfig()
	bus := events.New(nil)
	auth := authz.New()
	if err := auth.Register("private-room.{id}", func(socketID, userID string, params map[string]string) (authz.Result, error) {
		if userID == "" {
			return authz.Denied(), nil
		}
		return authz.Allowed(), nil
	}); err != nil {
		t.Fatal(err)
	}
	if err := auth.Register("presence-lobby.{id}", func(socketID, userID string, params map[string]string) (authz.Result, error) {
		return authz.AllowedWithMember(map[string]string{"socketId": socketID}), nil
	}); err != nil {
		t.Fatal(err)
	}

	channels := channel.New(auth, bus)
	conns := conn.NewTable()
	limiter := ratelimit.New(cfg.RateLimit.Window, cfg.RateLimit.Cap)
	load := loadmgr.New(loadmgr.Thresholds{
		MaxConnections:            cfg.Load.MaxConnections,
		MaxGlobalChannels:         cfg.Load.MaxGlobalChannels,
		MaxSubscriptionsPerSocket: cfg.Load.MaxSubscriptionsPerSocket,
		AdmissionPercent:          cfg.Load.AdmissionPercent,
	})
	acker := ack.New(time.Second, 1, nil, true)
	deduper := dedup.NewInMemory(time.Minute, 1000)
	breakers := breaker.NewManager(breaker.Config{
		FailureThreshold: 5, FailureWindow: 30 * time.Second,
		ResetTimeout: 10 * time.Second, SuccessThreshold: 2, CallTimeout: 5 * time.Second,
	})
	presenceTracker := presence.New(time.Hour, time.Hour, nil)

	t.Cleanup(func() {
		limiter.Close()
		acker.Close()
		deduper.Close()
		presenceTracker.Close()
	})

	return New(Deps{
		Config:   cfg,
		Conns:    conns,
		Channels: channels,
		Authz:    auth,
		Bus:      bus,
		Limiter:  limiter,
		Load:     load,
		Ack:      acker,
		Dedup:    deduper,
		Breakers: breakers,
		Presence: presenceTracker,
	})
}

func addConn(s *Server, userID string) (*conn.Connection, *fakeSender) {
	sender := &fakeSender{}
	c := conn.New(userID, sender)
	s.conns.Add(c)
	s.load.IncConnections()
	return c, sender
}

func TestBroadcastExcludesSender(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	a, senderA := addConn(s, "")
	b, senderB := addConn(s, "")
	if _, err := s.channels.Subscribe(ctx, a.ID, "", "news", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := s.channels.Subscribe(ctx, b.ID, "", "news", nil); err != nil {
		t.Fatal(err)
	}
	a.AddChannel("news")
	b.AddChannel("news")

	s.Broadcast(ctx, "news", "update", json.RawMessage(`{"x":1}`), a.ID)

	if len(senderA.sent) != 0 {
		t.Fatalf("excluded sender should not receive its own broadcast, got %d frames", len(senderA.sent))
	}
	if len(senderB.sent) != 1 {
		t.Fatalf("expected subscriber to receive 1 frame, got %d", len(senderB.sent))
	}
	ev := senderB.lastEvent(t)
	if ev["event"] != "update" || ev["channel"] != "news" {
		t.Fatalf("unexpected frame: %v", ev)
	}
}

func TestHandleSubscribePublicChannel(t *testing.T) {
	s := newTestServer(t)
	c, sender := addConn(s, "")

	s.handleFrame(c, []byte(`{"event":"subscribe","channel":"news"}`))

	ev := sender.lastEvent(t)
	if ev["event"] != "subscription_succeeded" {
		t.Fatalf("expected subscription_succeeded, got %v", ev)
	}
	if !c.HasChannel("news") {
		t.Fatal("connection should now be subscribed to news")
	}
}

func TestHandleSubscribePrivateChannelDenied(t *testing.T) {
	s := newTestServer(t)
	c, sender := addConn(s, "") // anonymous -> denied by the test rule above

	s.handleFrame(c, []byte(`{"event":"subscribe","channel":"private-room.1"}`))

	ev := sender.lastEvent(t)
	if ev["event"] != "subscription_error" {
		t.Fatalf("expected subscription_error, got %v", ev)
	}
	if c.HasChannel("private-room.1") {
		t.Fatal("denied subscription should not be recorded")
	}
}

func TestHandleSubscribePresenceBroadcastsMemberAdded(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	first, _ := addConn(s, "u1")

	s.handleFrame(first, []byte(`{"event":"subscribe","channel":"presence-lobby.1"}`))

	second, secondSender := addConn(s, "u2")
	s.handleFrame(second, []byte(`{"event":"subscribe","channel":"presence-lobby.1"}`))
	_ = ctx

	found := false
	for _, ev := range secondSender.events(t) {
		if ev["event"] == "member_added" {
			found = true
		}
	}
	if found {
		t.Fatal("the subscriber that just joined should not receive its own member_added broadcast")
	}

	firstSenderEvents := func() []map[string]any {
		c, ok := s.conns.Get(first.ID)
		if !ok {
			t.Fatal("connection vanished")
		}
		return c.Sender.(*fakeSender).events(t)
	}()
	sawMemberAdded := false
	for _, ev := range firstSenderEvents {
		if ev["event"] == "member_added" {
			sawMemberAdded = true
		}
	}
	if !sawMemberAdded {
		t.Fatal("expected the existing member to observe member_added for the new joiner")
	}
}

func TestRateLimitBlocksExcessFrames(t *testing.T) {
	s := newTestServer(t)
	s.limiter.Close()
	s.limiter = ratelimit.New(time.Minute, 1)
	defer s.limiter.Close()

	c, sender := addConn(s, "")
	s.handleFrame(c, []byte(`{"event":"subscribe","channel":"news"}`))
	s.handleFrame(c, []byte(`{"event":"subscribe","channel":"weather"}`))

	ev := sender.lastEvent(t)
	if ev["event"] != "error" {
		t.Fatalf("expected rate-limited frame to get an error reply, got %v", ev)
	}
	data, _ := ev["data"].(map[string]any)
	if data["type"] != string(WireRateLimitExceeded) {
		t.Fatalf("expected RateLimitExceeded, got %v", data)
	}
}

func TestHandleFrameRecoversFromPanic(t *testing.T) {
	s := newTestServer(t)
	c, sender := addConn(s, "")
	sender.panicNext = true

	s.handleFrame(c, []byte(`{"event":"subscribe","channel":"news","ack":true,"messageId":"m1"}`))

	if sender.closeCode != 1011 {
		t.Fatalf("expected connection closed with code 1011 after panic, got %d", sender.closeCode)
	}
}

func TestBatchSubscribeCapsAndReportsDropped(t *testing.T) {
	s := newTestServer(t)
	c, sender := addConn(s, "")

	s.handleFrame(c, []byte(`{"event":"batch_subscribe","channels":["a","b","c","d","e"]}`))

	ev := sender.lastEvent(t)
	if ev["event"] != "batch_subscribe_result" {
		t.Fatalf("expected batch_subscribe_result, got %v", ev)
	}
	data, _ := ev["data"].(map[string]any)
	if int(data["dropped"].(float64)) != 2 {
		t.Fatalf("expected 2 channels dropped by the batch cap of 3, got %v", data["dropped"])
	}
	succeeded, _ := data["succeeded"].([]any)
	if len(succeeded) != 3 {
		t.Fatalf("expected 3 channels accepted, got %v", succeeded)
	}
}

func TestClientEventRejectedOnPublicChannel(t *testing.T) {
	s := newTestServer(t)
	c, sender := addConn(s, "")
	s.handleFrame(c, []byte(`{"event":"subscribe","channel":"news"}`))
	before := len(sender.sent)

	s.handleFrame(c, []byte(`{"event":"client-typing","channel":"news","data":{"x":1}}`))

	if len(sender.sent) != before {
		t.Fatalf("expected client event on public channel to be dropped without a reply, got %v", sender.events(t)[before:])
	}
	ev := sender.lastEvent(t)
	if ev["event"] != "subscription_succeeded" {
		t.Fatalf("expected subscription_succeeded to remain the last frame, got %v", ev)
	}
}

func TestClientEventPublishToSelf(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	s.cfg.Server.PublishToSelf = true

	c, sender := addConn(s, "u1")
	if _, err := s.channels.Subscribe(ctx, c.ID, "u1", "private-room.1", nil); err != nil {
		t.Fatal(err)
	}
	c.AddChannel("private-room.1")

	s.handleFrame(c, []byte(`{"event":"client-typing","channel":"private-room.1","data":{"x":1}}`))

	found := false
	for _, ev := range sender.events(t) {
		if ev["event"] == "client-typing" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected sender to observe its own client event when PublishToSelf is enabled")
	}
}

func TestBackpressureExemptsPresenceEvents(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	s.load = loadmgr.New(loadmgr.Thresholds{
		MaxConnections:            1000,
		MaxGlobalChannels:         1000,
		MaxSubscriptionsPerSocket: 100,
		AdmissionPercent:          90,
		BackpressureThreshold:     10,
	})

	a, _ := addConn(s, "")
	b, senderB := addConn(s, "")
	senderB.bufferedBytes = 1 << 20 // well over threshold, backed up
	if _, err := s.channels.Subscribe(ctx, a.ID, "", "news", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := s.channels.Subscribe(ctx, b.ID, "", "news", nil); err != nil {
		t.Fatal(err)
	}
	a.AddChannel("news")
	b.AddChannel("news")

	s.Broadcast(ctx, "news", "article.created", json.RawMessage(`{}`), a.ID)
	if len(senderB.sent) != 0 {
		t.Fatalf("expected ordinary event to be shed for a backed-up subscriber, got %d frames", len(senderB.sent))
	}

	s.Broadcast(ctx, "news", "member_added", json.RawMessage(`{}`), a.ID)
	if len(senderB.sent) != 1 {
		t.Fatalf("expected member_added to bypass backpressure shedding, got %d frames", len(senderB.sent))
	}
}

func TestSendWithAckRegistersPendingSend(t *testing.T) {
	s := newTestServer(t)
	s.ack.Close()
	s.ack = ack.New(time.Hour, 3, nil, false)
	defer s.ack.Close()

	c, sender := addConn(s, "")
	pending, err := s.SendWithAck(c, frame.Outbound{Event: "important", MessageID: "msg-1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("expected the frame to be sent immediately, got %d", len(sender.sent))
	}

	s.sendsMu.Lock()
	_, tracked := s.sends["msg-1"]
	s.sendsMu.Unlock()
	if !tracked {
		t.Fatal("expected pending send to be tracked until acked")
	}

	s.clearPendingSend("msg-1")
	s.sendsMu.Lock()
	_, stillTracked := s.sends["msg-1"]
	s.sendsMu.Unlock()
	if stillTracked {
		t.Fatal("expected clearPendingSend to remove the tracked entry")
	}

	if !s.ack.Acknowledge("msg-1") {
		t.Fatal("expected acknowledge to resolve the pending future")
	}
	res := pending.Wait(context.Background())
	if !res.Acked {
		t.Fatalf("expected pending future to resolve acked, got %+v", res)
	}
}
