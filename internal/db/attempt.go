package db

import (
	"time"

	"github.com/google/uuid"
)

type Attempt struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey"`
	RoundID         uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_attempts_round_player_number"`
	SessionID       uuid.UUID `gorm:"type:uuid;index;not null"`
	PlayerID        uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_attempts_round_player_number"`
	Guess           string    `gorm:"type:text;not null"`
	GuessNormalized string    `gorm:"type:text;not null"`
	IsCorrect       bool      `gorm:"not null;default:false"`
	AttemptNumber   int       `gorm:"not null;uniqueIndex:idx_attempts_round_player_number"`
	CreatedAt       time.Time `gorm:"not null"`
}
