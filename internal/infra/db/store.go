package db

import (
	"errors"
	"fmt"

	"tollguard/internal/config"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var errDBUnavailable = errors.New("db unavailable")

type Store struct {
	DB *gorm.DB
}

func NewStore(cfg config.Config) (*Store, error) {
	if cfg.PostgresDSN == "" {
		return nil, fmt.Errorf("POSTGRES_DSN is required")
	}
	gdb, err := gorm.Open(postgres.Open(cfg.PostgresDSN), &gorm.Config{
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{DB: gdb}, nil
}

// Migrate creates or updates the subsystem's tables.
func (s *Store) Migrate() error {
	if s == nil || s.DB == nil {
		return errDBUnavailable
	}
	return s.DB.AutoMigrate(
		&ReaderModel{},
		&TrustRecordModel{},
		&ViolationModel{},
		&NonceRecordModel{},
		&QuarantineRecordModel{},
		&ChallengeModel{},
		&ConsensusVoteModel{},
		&TagSuspicionModel{},
		&TollDecisionModel{},
	)
}
