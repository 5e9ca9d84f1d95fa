package db

import (
	"time"

	"github.com/google/uuid"
)

// Player names are unique per session ignoring case; that index is created
// by Migrate since it is on an expression.
type Player struct {
	ID        uuid.UUID  `gorm:"type:uuid;primaryKey"`
	SessionID uuid.UUID  `gorm:"type:uuid;index;not null"`
	Username  string     `gorm:"size:64;not null"`
	Score     int        `gorm:"not null;default:0"`
	IsActive  bool       `gorm:"not null;default:true"`
	JoinedAt  time.Time  `gorm:"not null"`
	LastSeen  *time.Time
	UpdatedAt time.Time `gorm:"not null"`
}
