// Package config loads pulsehub's typed configuration once at process
// start: environment variables via viper (with .env support via
// godotenv), plus an optional YAML file for the webhook endpoint list via
// gopkg.in/yaml.v3 (authorization rules are not read from it).
// The core never reads the environment or a file directly; it is always
// handed a *Config. Grounded on the teacher's configs/config.go
// (viper.SetDefault + viper.AutomaticEnv + sync.Once bootstrap), adapted
// from Postgres/JWT/websocket-upgrader fields to pulsehub's per-component
// subrecords.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration handed to internal/hub.
type Config struct {
	Server     Server
	Relay      Relay
	RateLimit  RateLimit
	Load       LoadManagement
	Ack        Ack
	Dedup      Dedup
	Breaker    Breaker
	Persistence Persistence
	Presence   Presence
	Webhooks   Webhooks
	Auth       Auth
	Queue      Queue
	Batch      Batch
}

// Server is transport/HTTP-surface configuration.
type Server struct {
	Port            string
	ServerID        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	MaxPayloadSize  int64
	ActivityTimeout time.Duration
	PublishToSelf   bool
}

// Batch configures internal/batch's list cap.
type Batch struct {
	MaxBatchSize int
}

// Relay is the cross-node relay adapter's configuration.
type Relay struct {
	RedisURL  string
	KeyPrefix string
}

// RateLimit configures internal/ratelimit.
type RateLimit struct {
	Window     time.Duration
	Cap        int
	PerUser    bool
	PerChannel bool
}

// LoadManagement configures internal/loadmgr.
type LoadManagement struct {
	MaxConnections            int64
	MaxGlobalChannels         int64
	MaxSubscriptionsPerSocket int
	AdmissionPercent          float64
	BackpressureThreshold     int
}

// Ack configures internal/ack.
type Ack struct {
	Enabled       bool
	Timeout       time.Duration
	RetryAttempts int
}

// Dedup configures internal/dedup.
type Dedup struct {
	Enabled bool
	Mode    string // "memory" or "relay"
	TTL     time.Duration
	MaxSize int
}

// Breaker configures internal/breaker.
type Breaker struct {
	FailureThreshold int
	FailureWindow    time.Duration
	ResetTimeout     time.Duration
	SuccessThreshold int
	CallTimeout      time.Duration
}

// Persistence configures internal/history.
type Persistence struct {
	Enabled       bool
	Backend       string // "memory" or "mysql"
	MySQLDSN      string
	MaxMessages   int
	TTL           time.Duration
	ArchiveEnabled bool
	ArchiveWindow  time.Duration
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioSecure    bool
}

// Presence configures internal/presence.
type Presence struct {
	Interval time.Duration
	Timeout  time.Duration
}

// Webhooks configures internal/webhook, including the optional
// structural endpoint table loaded from YAML.
type Webhooks struct {
	Enabled     bool
	Endpoints   []WebhookEndpoint `yaml:"endpoints"`
	QueueBroker []string          `yaml:"queueBroker"`
}

// WebhookEndpoint is one YAML-configured webhook target.
type WebhookEndpoint struct {
	Name          string        `yaml:"name"`
	URL           string        `yaml:"url"`
	Events        []string      `yaml:"events"`
	Secret        string        `yaml:"secret"`
	RetryAttempts int           `yaml:"retryAttempts"`
	RetryDelay    time.Duration `yaml:"retryDelay"`
	RetryPerSec   float64       `yaml:"retryPerSec"`
	Timeout       time.Duration `yaml:"timeout"`
}

// Auth configures JWT/API-key verification at WebSocket upgrade time.
type Auth struct {
	JWTSecret string
	APIKeyHash string // bcrypt hash, empty disables static API-key auth
}

// Queue configures the deferred-broadcast queue.
type Queue struct {
	Brokers  []string
	ClientID string
	GroupID  string
}

// structuralFile is the optional YAML document containing the more
// list-shaped configuration; it holds the webhook endpoints only.
type structuralFile struct {
	Webhooks Webhooks `yaml:"webhooks"`
}

// Load reads configuration from environment variables (optionally backed
// by a .env file) and, when structuralPath is non-empty, an additional
// YAML file for webhook endpoints.
func Load(structuralPath string) (*Config, error) {
	_ = godotenv.Load() // optional; missing .env is not an error

	v := viper.New()
	v.SetEnvPrefix("PULSEHUB")
	v.AutomaticEnv()

	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("SERVER_ID", defaultServerID())
	v.SetDefault("RELAY_REDIS_URL", "redis://127.0.0.1:6379/0")
	v.SetDefault("RELAY_KEY_PREFIX", "broadcasting:")
	v.SetDefault("RATELIMIT_WINDOW", "1s")
	v.SetDefault("RATELIMIT_CAP", 20)
	v.SetDefault("LOAD_MAX_CONNECTIONS", 10000)
	v.SetDefault("LOAD_MAX_GLOBAL_CHANNELS", 5000)
	v.SetDefault("LOAD_MAX_SUBSCRIPTIONS_PER_SOCKET", 100)
	v.SetDefault("LOAD_ADMISSION_PERCENT", 90.0)
	v.SetDefault("LOAD_BACKPRESSURE_THRESHOLD", 1<<20)
	v.SetDefault("ACK_ENABLED", false)
	v.SetDefault("ACK_TIMEOUT", "5s")
	v.SetDefault("ACK_RETRY_ATTEMPTS", 3)
	v.SetDefault("DEDUP_ENABLED", false)
	v.SetDefault("DEDUP_MODE", "memory")
	v.SetDefault("DEDUP_TTL", "60s")
	v.SetDefault("DEDUP_MAX_SIZE", 100000)
	v.SetDefault("BREAKER_FAILURE_THRESHOLD", 5)
	v.SetDefault("BREAKER_FAILURE_WINDOW", "30s")
	v.SetDefault("BREAKER_RESET_TIMEOUT", "10s")
	v.SetDefault("BREAKER_SUCCESS_THRESHOLD", 2)
	v.SetDefault("BREAKER_CALL_TIMEOUT", "5s")
	v.SetDefault("PERSISTENCE_ENABLED", true)
	v.SetDefault("PERSISTENCE_BACKEND", "memory")
	v.SetDefault("PERSISTENCE_MAX_MESSAGES", 100)
	v.SetDefault("PERSISTENCE_TTL", "1h")
	v.SetDefault("PRESENCE_INTERVAL", "30s")
	v.SetDefault("PRESENCE_TIMEOUT", "90s")
	v.SetDefault("SERVER_MAX_PAYLOAD_SIZE", 65536)
	v.SetDefault("SERVER_ACTIVITY_TIMEOUT", "120s")
	v.SetDefault("SERVER_PUBLISH_TO_SELF", false)
	v.SetDefault("SERVER_READ_TIMEOUT", "10s")
	v.SetDefault("SERVER_WRITE_TIMEOUT", "10s")
	v.SetDefault("BATCH_MAX_BATCH_SIZE", 100)

	cfg := &Config{
		Server: Server{
			Port:            v.GetString("SERVER_PORT"),
			ServerID:        v.GetString("SERVER_ID"),
			ReadTimeout:     v.GetDuration("SERVER_READ_TIMEOUT"),
			WriteTimeout:    v.GetDuration("SERVER_WRITE_TIMEOUT"),
			MaxPayloadSize:  v.GetInt64("SERVER_MAX_PAYLOAD_SIZE"),
			ActivityTimeout: v.GetDuration("SERVER_ACTIVITY_TIMEOUT"),
			PublishToSelf:   v.GetBool("SERVER_PUBLISH_TO_SELF"),
		},
		Relay: Relay{
			RedisURL:  v.GetString("RELAY_REDIS_URL"),
			KeyPrefix: v.GetString("RELAY_KEY_PREFIX"),
		},
		RateLimit: RateLimit{
			Window:     v.GetDuration("RATELIMIT_WINDOW"),
			Cap:        v.GetInt("RATELIMIT_CAP"),
			PerUser:    v.GetBool("RATELIMIT_PER_USER"),
			PerChannel: v.GetBool("RATELIMIT_PER_CHANNEL"),
		},
		Load: LoadManagement{
			MaxConnections:            v.GetInt64("LOAD_MAX_CONNECTIONS"),
			MaxGlobalChannels:         v.GetInt64("LOAD_MAX_GLOBAL_CHANNELS"),
			MaxSubscriptionsPerSocket: v.GetInt("LOAD_MAX_SUBSCRIPTIONS_PER_SOCKET"),
			AdmissionPercent:          v.GetFloat64("LOAD_ADMISSION_PERCENT"),
			BackpressureThreshold:     v.GetInt("LOAD_BACKPRESSURE_THRESHOLD"),
		},
		Ack: Ack{
			Enabled:       v.GetBool("ACK_ENABLED"),
			Timeout:       v.GetDuration("ACK_TIMEOUT"),
			RetryAttempts: v.GetInt("ACK_RETRY_ATTEMPTS"),
		},
		Dedup: Dedup{
			Enabled: v.GetBool("DEDUP_ENABLED"),
			Mode:    v.GetString("DEDUP_MODE"),
			TTL:     v.GetDuration("DEDUP_TTL"),
			MaxSize: v.GetInt("DEDUP_MAX_SIZE"),
		},
		Breaker: Breaker{
			FailureThreshold: v.GetInt("BREAKER_FAILURE_THRESHOLD"),
			FailureWindow:    v.GetDuration("BREAKER_FAILURE_WINDOW"),
			ResetTimeout:     v.GetDuration("BREAKER_RESET_TIMEOUT"),
			SuccessThreshold: v.GetInt("BREAKER_SUCCESS_THRESHOLD"),
			CallTimeout:      v.GetDuration("BREAKER_CALL_TIMEOUT"),
		},
		Persistence: Persistence{
			Enabled:        v.GetBool("PERSISTENCE_ENABLED"),
			Backend:        v.GetString("PERSISTENCE_BACKEND"),
			MySQLDSN:       v.GetString("PERSISTENCE_MYSQL_DSN"),
			MaxMessages:    v.GetInt("PERSISTENCE_MAX_MESSAGES"),
			TTL:            v.GetDuration("PERSISTENCE_TTL"),
			ArchiveEnabled: v.GetBool("PERSISTENCE_ARCHIVE_ENABLED"),
			ArchiveWindow:  v.GetDuration("PERSISTENCE_ARCHIVE_WINDOW"),
			MinioEndpoint:  v.GetString("PERSISTENCE_MINIO_ENDPOINT"),
			MinioAccessKey: v.GetString("PERSISTENCE_MINIO_ACCESS_KEY"),
			MinioSecretKey: v.GetString("PERSISTENCE_MINIO_SECRET_KEY"),
			MinioBucket:    v.GetString("PERSISTENCE_MINIO_BUCKET"),
			MinioSecure:    v.GetBool("PERSISTENCE_MINIO_SECURE"),
		},
		Presence: Presence{
			Interval: v.GetDuration("PRESENCE_INTERVAL"),
			Timeout:  v.GetDuration("PRESENCE_TIMEOUT"),
		},
		Auth: Auth{
			JWTSecret:  v.GetString("AUTH_JWT_SECRET"),
			APIKeyHash: v.GetString("AUTH_API_KEY_HASH"),
		},
		Queue: Queue{
			Brokers:  v.GetStringSlice("QUEUE_BROKERS"),
			ClientID: v.GetString("QUEUE_CLIENT_ID"),
			GroupID:  v.GetString("QUEUE_GROUP_ID"),
		},
		Batch: Batch{
			MaxBatchSize: v.GetInt("BATCH_MAX_BATCH_SIZE"),
		},
	}

	if structuralPath != "" {
		structural, err := loadStructural(structuralPath)
		if err != nil {
			return nil, err
		}
		cfg.Webhooks = structural.Webhooks
	}

	return cfg, nil
}

func loadStructural(path string) (structuralFile, error) {
	var out structuralFile
	data, err := os.ReadFile(path)
	if err != nil {
		return out, fmt.Errorf("config: read structural file: %w", err)
	}
	if err := yaml.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("config: parse structural file: %w", err)
	}
	out.Webhooks.Enabled = len(out.Webhooks.Endpoints) > 0
	return out, nil
}

func defaultServerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "pulsehub-node"
	}
	return host
}
