package db

import (
	"errors"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/Purpose-Longe/guesssing-game/internal/config"
)

// Open connects to Postgres using the configured DATABASE_URL and applies
// the pool settings.
func Open(cfg config.Config) (*gorm.DB, error) {
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is not set")
	}
	conn, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}
	sqlDB, err := conn.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(cfg.DBMaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.DBMaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime())
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime())
	return conn, nil
}

// Migrate runs GORM auto-migrations for the core tables, then adds the
// indexes GORM tags cannot express.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return errors.New("db connection is nil")
	}
	if err := conn.AutoMigrate(
		&Session{},
		&Player{},
		&Round{},
		&Attempt{},
		&Event{},
	); err != nil {
		return err
	}
	if err := conn.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS players_session_username_lower_uq
		ON players (session_id, lower(username))`).Error; err != nil {
		return err
	}
	log.Info().Msg("database migration complete")
	return nil
}
