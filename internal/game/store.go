package game

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store is the durable home of sessions, players, rounds, and attempts.
// Reads outside WithSession observe committed state only.
type Store interface {
	CreateSession(ctx context.Context, session Session) error
	GetSession(ctx context.Context, id uuid.UUID) (Session, error)
	FindSessionByCode(ctx context.Context, code string) (Session, error)
	// ListInFlight returns sessions that are in_progress or ended.
	ListInFlight(ctx context.Context) ([]Session, error)

	GetPlayer(ctx context.Context, id uuid.UUID) (Player, error)
	// ListPlayers returns every player of the session in join order.
	ListPlayers(ctx context.Context, sessionID uuid.UUID) ([]Player, error)
	// TouchPlayer marks the player active and stamps last_seen under the
	// player's own row lock.
	TouchPlayer(ctx context.Context, id uuid.UUID, at time.Time) (Player, error)

	GetRound(ctx context.Context, id uuid.UUID) (Round, error)
	ListAttempts(ctx context.Context, roundID, playerID uuid.UUID) ([]Attempt, error)

	// WithSession runs fn with exclusive access to the session aggregate.
	// fn's writes commit together when it returns nil and are discarded
	// otherwise. Returns ErrNotFound when the session does not exist.
	WithSession(ctx context.Context, sessionID uuid.UUID, fn func(tx Tx) error) error
}

// Tx is a locked view of one session aggregate.
type Tx interface {
	Session() Session
	SaveSession(session Session) error
	// DeleteSession removes the aggregate and records the deletion at the
	// given time.
	DeleteSession(at time.Time) error

	// Players returns every player of the session in join order.
	Players() ([]Player, error)
	InsertPlayer(player Player) error
	SavePlayer(player Player) error

	Round(id uuid.UUID) (Round, error)
	InsertRound(round Round) error
	SaveRound(round Round) error

	CountAttempts(roundID, playerID uuid.UUID) (int, error)
	// AttemptCounts returns attempt totals per player for the round.
	AttemptCounts(roundID uuid.UUID) (map[uuid.UUID]int, error)
	InsertAttempt(attempt Attempt) error
	// ClearAttempts removes every attempt belonging to the session.
	ClearAttempts() error

	// Record appends an audit entry committed with the transaction. at is
	// the engine clock time of the change.
	Record(at time.Time, eventType string, payload any) error
}

// Scheduler arms and cancels the single deadline callback of a session.
type Scheduler interface {
	Arm(sessionID uuid.UUID, deadline time.Time, fire func(ctx context.Context) error)
	Cancel(sessionID uuid.UUID)
	Reset()
}

type noopScheduler struct{}

func (noopScheduler) Arm(uuid.UUID, time.Time, func(context.Context) error) {}
func (noopScheduler) Cancel(uuid.UUID)                                      {}
func (noopScheduler) Reset()                                                {}
