package game

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusWaiting    Status = "waiting"
	StatusInProgress Status = "in_progress"
	StatusEnded      Status = "ended"
)

// Round end reasons.
const (
	ReasonGuessed          = "guessed"
	ReasonTimeExpired      = "time expired"
	ReasonExhausted        = "all attempts used"
	ReasonRecoveredExpired = "recovered: already expired"
	ReasonMasterLeft       = "master left"
	ReasonManual           = "ended by request"
)

// Session is one running game. CurrentRound is set iff Status is in_progress.
type Session struct {
	ID           uuid.UUID  `json:"id"`
	Code         string     `json:"code"`
	GameMaster   *uuid.UUID `json:"game_master_id"`
	Status       Status     `json:"status"`
	CurrentRound *uuid.UUID `json:"current_round_id"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func (s Session) IsMaster(playerID uuid.UUID) bool {
	return s.GameMaster != nil && *s.GameMaster == playerID
}

type Player struct {
	ID        uuid.UUID  `json:"id"`
	SessionID uuid.UUID  `json:"session_id"`
	Username  string     `json:"username"`
	Score     int        `json:"score"`
	Active    bool       `json:"is_active"`
	JoinedAt  time.Time  `json:"joined_at"`
	LastSeen  *time.Time `json:"last_seen,omitempty"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Round holds one question. Answer is stored normalized.
type Round struct {
	ID        uuid.UUID  `json:"id"`
	SessionID uuid.UUID  `json:"session_id"`
	Question  string     `json:"question"`
	Answer    string     `json:"-"`
	StartedAt time.Time  `json:"started_at"`
	EndsAt    *time.Time `json:"ends_at"`
	Winner    *uuid.UUID `json:"winner_player_id"`
	EndedAt   *time.Time `json:"ended_at"`
	EndReason string     `json:"end_reason,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Resolved reports whether the round already has an outcome.
func (r Round) Resolved() bool {
	return r.Winner != nil || r.EndedAt != nil
}

// Expired reports whether the deadline is at or before now.
func (r Round) Expired(now time.Time) bool {
	return r.EndsAt != nil && !now.Before(*r.EndsAt)
}

type Attempt struct {
	ID              uuid.UUID `json:"id"`
	RoundID         uuid.UUID `json:"round_id"`
	SessionID       uuid.UUID `json:"session_id"`
	PlayerID        uuid.UUID `json:"player_id"`
	Guess           string    `json:"guess"`
	GuessNormalized string    `json:"-"`
	Correct         bool      `json:"is_correct"`
	Number          int       `json:"attempt_number"`
	CreatedAt       time.Time `json:"created_at"`
}

// Rules are the tunable parameters of the game.
type Rules struct {
	MinPlayers      int
	MaxAttempts     int
	PointsPerWin    int
	DefaultDuration time.Duration
	MaxDuration     time.Duration
	RevealDuration  time.Duration
}

func DefaultRules() Rules {
	return Rules{
		MinPlayers:      3,
		MaxAttempts:     3,
		PointsPerWin:    10,
		DefaultDuration: 60 * time.Second,
		MaxDuration:     time.Hour,
		RevealDuration:  3 * time.Second,
	}
}

// SessionTopic is the fan-out topic carrying every event of a session.
func SessionTopic(sessionID uuid.UUID) string {
	return "session-" + sessionID.String()
}
