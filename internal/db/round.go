package db

import (
	"time"

	"github.com/google/uuid"
)

type Round struct {
	ID             uuid.UUID  `gorm:"type:uuid;primaryKey"`
	SessionID      uuid.UUID  `gorm:"type:uuid;index;not null"`
	Question       string     `gorm:"type:text;not null"`
	Answer         string     `gorm:"type:text;not null"`
	StartedAt      time.Time  `gorm:"not null"`
	EndsAt         *time.Time
	WinnerPlayerID *uuid.UUID `gorm:"type:uuid"`
	EndedAt        *time.Time
	EndReason      string    `gorm:"size:64;not null;default:''"`
	CreatedAt      time.Time `gorm:"not null"`
}
