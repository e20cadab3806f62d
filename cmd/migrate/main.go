// pulsehub-migrate prepares the persisted_messages schema ahead of boot,
// grounded on the teacher's cmd/migrate/main.go connect-then-migrate
// shape, adapted from gorm's Postgres driver to the MySQL one
// internal/history.SQLStore uses.
package main

import (
	"log"
	"log/slog"
	"os"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"pulsehub/internal/history"
)

func main() {
	dsn := os.Getenv("PULSEHUB_PERSISTENCE_MYSQL_DSN")
	if dsn == "" {
		log.Fatal("PULSEHUB_PERSISTENCE_MYSQL_DSN is required")
	}

	slog.Info("pulsehub-migrate: connecting")
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatal("failed to connect to database:", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Fatal("failed to get database instance:", err)
	}
	if err := sqlDB.Ping(); err != nil {
		log.Fatal("failed to ping database:", err)
	}

	slog.Info("pulsehub-migrate: running schema migration")
	if err := history.Migrate(db); err != nil {
		log.Fatal("migration failed:", err)
	}

	slog.Info("pulsehub-migrate: done")
}
