package db

import (
	"time"

	"github.com/google/uuid"
)

type Session struct {
	ID             uuid.UUID  `gorm:"type:uuid;primaryKey"`
	Code           string     `gorm:"size:12;uniqueIndex;not null"`
	GameMasterID   *uuid.UUID `gorm:"type:uuid"`
	Status         string     `gorm:"size:32;not null;index"`
	CurrentRoundID *uuid.UUID `gorm:"type:uuid"`
	CreatedAt      time.Time  `gorm:"not null"`
	UpdatedAt      time.Time  `gorm:"not null"`
}
