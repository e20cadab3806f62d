// (expansion) DB-backed persistence alternative, used when
// config.Persistence.Backend == "mysql". Grounded on the teacher's
// internal/database.NewPostgresConnection bootstrap idiom (gorm.Open +
// AutoMigrate), adapted from the teacher's chat-message schema to the
// message-history table this package needs, and prepared ahead of time
// by cmd/migrate rather than auto-migrated on every boot.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

// PersistedMessage is the persisted_messages table row.
type PersistedMessage struct {
	ID        string `gorm:"primaryKey;size:36"`
	Channel   string `gorm:"index;size:200"`
	Event     string `gorm:"size:200"`
	Data      []byte `gorm:"type:json"`
	SocketID  string `gorm:"size:64"`
	Timestamp time.Time `gorm:"index"`
}

func (PersistedMessage) TableName() string { return "persisted_messages" }

// SQLStore implements Store on top of gorm.io/gorm + gorm.io/driver/mysql.
type SQLStore struct {
	db *gorm.DB
}

// OpenSQLStore connects to MySQL at dsn. It does not run migrations;
// cmd/migrate prepares the schema ahead of time (spec.md's ambient stack
// keeps runtime boot fast and predictable).
func OpenSQLStore(dsn string) (*SQLStore, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("history: open mysql: %w", err)
	}
	return &SQLStore{db: db}, nil
}

// Migrate prepares the persisted_messages schema; called from cmd/migrate.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&PersistedMessage{})
}

// Store inserts one persisted message row.
func (s *SQLStore) Store(ctx context.Context, channel, event string, data json.RawMessage, socketID string) (Message, error) {
	msg := Message{
		ID:        uuid.NewString(),
		Channel:   channel,
		Event:     event,
		Data:      data,
		SocketID:  socketID,
		Timestamp: time.Now(),
	}
	row := PersistedMessage{
		ID:        msg.ID,
		Channel:   msg.Channel,
		Event:     msg.Event,
		Data:      []byte(data),
		SocketID:  socketID,
		Timestamp: msg.Timestamp,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return Message{}, fmt.Errorf("history: store: %w", err)
	}
	return msg, nil
}

// GetHistory queries persisted_messages for channel, since, limit.
func (s *SQLStore) GetHistory(ctx context.Context, channel string, since time.Time, limit int) ([]Message, error) {
	var rows []PersistedMessage
	q := s.db.WithContext(ctx).
		Where("channel = ? AND timestamp > ?", channel, since).
		Order("timestamp asc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("history: get history: %w", err)
	}

	out := make([]Message, 0, len(rows))
	for _, r := range rows {
		out = append(out, Message{
			ID:        r.ID,
			Channel:   r.Channel,
			Event:     r.Event,
			Data:      json.RawMessage(r.Data),
			SocketID:  r.SocketID,
			Timestamp: r.Timestamp,
		})
	}
	return out, nil
}

// Close releases the underlying database connection pool.
func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
