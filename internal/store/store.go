package store

import (
	"errors"
	"fmt"
	stlog "log"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"eloqua-sms-bridge/internal/models"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("record not found")

// Store wraps the gorm connection and groups all collection accessors.
type Store struct {
	db *gorm.DB
}

// Open initializes the database connection using the provided DSN.
func Open(dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database DSN cannot be empty")
	}

	gormLog := gormlogger.New(
		stlog.New(log.Logger, "", stlog.LstdFlags),
		gormlogger.Config{
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	log.Info().Msg("Database connection established")
	return &Store{db: db}, nil
}

// Migrate runs gorm AutoMigrate for all collections.
func (s *Store) Migrate() error {
	err := s.db.AutoMigrate(
		&models.Tenant{},
		&models.ActionInstance{},
		&models.DecisionInstance{},
		&models.FeederInstance{},
		&models.Job{},
		&models.SmsLog{},
		&models.SmsReply{},
		&models.LinkHit{},
	)
	if err != nil {
		return fmt.Errorf("failed to auto-migrate database: %w", err)
	}
	log.Info().Msg("Database migration completed")
	return nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func wrapNotFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
