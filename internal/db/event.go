package db

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Event is an audit row written in the same transaction as the change it
// describes.
type Event struct {
	ID        uint           `gorm:"primaryKey"`
	SessionID uuid.UUID      `gorm:"type:uuid;index;not null"`
	Type      string         `gorm:"size:64;not null"`
	Payload   datatypes.JSON `gorm:"type:jsonb;not null"`
	CreatedAt time.Time      `gorm:"not null"`
}
