// pulsehub-server boots every component internal/hub.Server orchestrates
// and runs until an interrupt or terminate signal, then drains
// connections and shuts the HTTP surface down cleanly. Grounded on the
// teacher's cmd/server/main.go bootstrap-then-signal-wait shape.
package main

import (
	"context"
	"encoding/json"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"pulsehub/internal/ack"
	"pulsehub/internal/authz"
	"pulsehub/internal/breaker"
	"pulsehub/internal/channel"
	"pulsehub/internal/config"
	"pulsehub/internal/conn"
	"pulsehub/internal/dedup"
	"pulsehub/internal/events"
	"pulsehub/internal/history"
	"pulsehub/internal/hub"
	"pulsehub/internal/loadmgr"
	"pulsehub/internal/presence"
	"pulsehub/internal/queue"
	"pulsehub/internal/ratelimit"
	"pulsehub/internal/relay"
	"pulsehub/internal/webhook"
)

func main() {
	structuralPath := os.Getenv("PULSEHUB_STRUCTURAL_CONFIG")
	cfg, err := config.Load(structuralPath)
	if err != nil {
		log.Fatal("failed to load config:", err)
	}

	slog.Info("pulsehub: starting", "server_id", cfg.Server.ServerID, "port", cfg.Server.Port)

	bus := events.New(nil)
	auth := authz.New()
	channels := channel.New(auth, bus)
	conns := conn.NewTable()
	limiter := ratelimit.New(cfg.RateLimit.Window, cfg.RateLimit.Cap)
	load := loadmgr.New(loadmgr.Thresholds{
		MaxConnections:            cfg.Load.MaxConnections,
		MaxGlobalChannels:         cfg.Load.MaxGlobalChannels,
		MaxSubscriptionsPerSocket: cfg.Load.MaxSubscriptionsPerSocket,
		AdmissionPercent:          cfg.Load.AdmissionPercent,
		BackpressureThreshold:     cfg.Load.BackpressureThreshold,
	})
	breakers := breaker.NewManager(breaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		FailureWindow:    cfg.Breaker.FailureWindow,
		ResetTimeout:     cfg.Breaker.ResetTimeout,
		SuccessThreshold: cfg.Breaker.SuccessThreshold,
		CallTimeout:      cfg.Breaker.CallTimeout,
	})

	relayAdapter, redisClient := buildRelay(cfg)

	// hub.Server is the RetryFn's target, but ack.New must exist before
	// hub.New can be constructed. srv is assigned once, after hub.New
	// returns; the closure only fires asynchronously, well after that.
	var srv *hub.Server
	acker := ack.New(cfg.Ack.Timeout, cfg.Ack.RetryAttempts, func(messageID string, attempt int) {
		if srv != nil {
			srv.ResendPending(messageID, attempt)
		}
	}, !cfg.Ack.Enabled)

	deduper := buildDedup(cfg, relayAdapter)
	presenceTracker := buildPresence(cfg, channels)
	historyStore := buildHistory(cfg)
	webhookEmitter, webhookWorker := buildWebhook(cfg, breakers)
	deferredQueue := buildQueue(cfg)

	srv = hub.New(hub.Deps{
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
		Relay:    relayAdapter,
		History:  historyStore,
		Presence: presenceTracker,
		Webhook:  webhookEmitter,
		Queue:    deferredQueue,
		Logger:   slog.Default(),
	})

	rootCtx, cancelWorkers := context.WithCancel(context.Background())
	if webhookWorker != nil {
		go webhookWorker.Run(rootCtx)
	}
	stopConsumer := startDeferredConsumer(rootCtx, cfg, srv)

	if err := srv.Start(); err != nil {
		log.Fatal("failed to start server:", err)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("pulsehub: shutting down")

	cancelWorkers()
	if stopConsumer != nil {
		stopConsumer()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		slog.Error("pulsehub: forced shutdown", "error", err)
	}
	if redisClient != nil {
		_ = redisClient.Close()
	}

	slog.Info("pulsehub: stopped")
}

func buildRelay(cfg *config.Config) (relay.Adapter, *redis.Client) {
	if cfg.Relay.RedisURL == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(cfg.Relay.RedisURL)
	if err != nil {
		slog.Error("pulsehub: invalid relay redis url, running single-node", "error", err)
		return nil, nil
	}
	client := redis.NewClient(opts)
	return relay.NewRedisAdapter(client, cfg.Relay.KeyPrefix, cfg.Server.ServerID), client
}

func buildDedup(cfg *config.Config, adapter relay.Adapter) dedup.Deduplicator {
	if !cfg.Dedup.Enabled {
		return nil
	}
	if cfg.Dedup.Mode == "relay" && adapter != nil {
		return dedup.NewRelayed(adapter, cfg.Dedup.TTL, nil)
	}
	return dedup.NewInMemory(cfg.Dedup.TTL, cfg.Dedup.MaxSize)
}

func buildPresence(cfg *config.Config, channels *channel.Registry) *presence.Tracker {
	return presence.New(cfg.Presence.Interval, cfg.Presence.Timeout, func(channelName, socketID string) {
		channels.Unsubscribe(context.Background(), socketID, channelName)
	})
}

func buildHistory(cfg *config.Config) history.Store {
	if !cfg.Persistence.Enabled {
		return nil
	}

	var archiver *history.Archiver
	if cfg.Persistence.ArchiveEnabled && cfg.Persistence.MinioEndpoint != "" {
		a, err := history.NewMinioArchiver(
			context.Background(),
			cfg.Persistence.MinioEndpoint,
			cfg.Persistence.MinioAccessKey,
			cfg.Persistence.MinioSecretKey,
			cfg.Persistence.MinioBucket,
			cfg.Persistence.MinioSecure,
			cfg.Persistence.ArchiveWindow,
			nil,
		)
		if err != nil {
			slog.Error("pulsehub: minio archiver disabled", "error", err)
		} else {
			archiver = a
		}
	}
	var onEvict history.EvictedFn
	if archiver != nil {
		onEvict = archiver.OnEvicted
	}

	switch cfg.Persistence.Backend {
	case "mysql":
		store, err := history.OpenSQLStore(cfg.Persistence.MySQLDSN)
		if err != nil {
			slog.Error("pulsehub: mysql history store disabled, falling back to memory", "error", err)
			return history.NewRingStore(cfg.Persistence.MaxMessages, cfg.Persistence.TTL, onEvict)
		}
		return store
	default:
		return history.NewRingStore(cfg.Persistence.MaxMessages, cfg.Persistence.TTL, onEvict)
	}
}

func buildWebhook(cfg *config.Config, breakers *breaker.Manager) (*webhook.Emitter, *webhook.Worker) {
	if !cfg.Webhooks.Enabled {
		return nil, nil
	}
	endpoints := make([]webhook.Endpoint, 0, len(cfg.Webhooks.Endpoints))
	for _, e := range cfg.Webhooks.Endpoints {
		endpoints = append(endpoints, webhook.Endpoint{
			Name:          e.Name,
			URL:           e.URL,
			Events:        e.Events,
			Secret:        e.Secret,
			RetryAttempts: e.RetryAttempts,
			RetryDelay:    e.RetryDelay,
			RetryPerSec:   e.RetryPerSec,
			Timeout:       e.Timeout,
		})
	}
	var writer webhook.QueueWriter
	if len(cfg.Webhooks.QueueBroker) > 0 {
		writer = webhook.NewKafkaQueueWriter(cfg.Webhooks.QueueBroker)
	}
	emitter := webhook.New(endpoints, breakers, writer, nil)
	return emitter, webhook.NewWorker(emitter, nil)
}

func buildQueue(cfg *config.Config) queue.DeferredBroadcaster {
	if len(cfg.Queue.Brokers) == 0 {
		return nil
	}
	broadcaster, err := queue.NewKafkaBroadcaster(cfg.Queue.Brokers, cfg.Queue.ClientID)
	if err != nil {
		slog.Error("pulsehub: deferred-broadcast queue disabled", "error", err)
		return nil
	}
	return broadcaster
}

// startDeferredConsumer joins the deferred-broadcast consumer group and
// replays scheduled records through srv.Broadcast once their time
// arrives, returning a func that stops it.
func startDeferredConsumer(ctx context.Context, cfg *config.Config, srv *hub.Server) func() {
	if len(cfg.Queue.Brokers) == 0 {
		return nil
	}
	consumer, err := queue.NewConsumer(cfg.Queue.Brokers, cfg.Queue.GroupID, func(ctx context.Context, channelName, event string, payload json.RawMessage) {
		srv.Broadcast(ctx, channelName, event, payload, "")
	}, nil)
	if err != nil {
		slog.Error("pulsehub: deferred-broadcast consumer disabled", "error", err)
		return nil
	}
	go func() {
		if err := consumer.Run(ctx); err != nil {
			slog.Error("pulsehub: deferred-broadcast consumer stopped", "error", err)
		}
	}()
	return func() { _ = consumer.Close() }
}
