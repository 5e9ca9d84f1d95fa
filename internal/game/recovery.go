package game

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/Purpose-Longe/guesssing-game/internal/fanout"
)

// Recover rebuilds every timer from persisted deadlines. Existing timers
// are discarded first. Rounds whose deadline already passed are ended
// immediately; sessions left in ended return to waiting. A failure on one
// session does not stop the others.
func (e *Engine) Recover(ctx context.Context) error {
	e.scheduler().Reset()

	sessions, err := e.store.ListInFlight(ctx)
	if err != nil {
		return fmt.Errorf("list in-flight sessions: %w", err)
	}

	var errs []error
	armed, expired := 0, 0
	for _, session := range sessions {
		outcome, err := e.recoverSession(ctx, session)
		if err != nil {
			log.Error().Err(err).Str("session_id", session.ID.String()).Msg("session recovery failed")
			errs = append(errs, fmt.Errorf("recover session %s: %w", session.ID, err))
			continue
		}
		switch outcome {
		case recoveredArmed:
			armed++
		case recoveredExpired:
			expired++
		}
	}
	log.Info().
		Int("sessions", len(sessions)).
		Int("armed", armed).
		Int("expired", expired).
		Msg("timer recovery complete")
	return errors.Join(errs...)
}

type recoveryOutcome int

const (
	recoveredNone recoveryOutcome = iota
	recoveredArmed
	recoveredExpired
)

func (e *Engine) recoverSession(ctx context.Context, snapshot Session) (recoveryOutcome, error) {
	outcome := recoveredNone
	err := e.mutate(ctx, snapshot.ID, func(tx Tx, out *outbox) (func(), error) {
		session := tx.Session()
		now := e.now()
		switch session.Status {
		case StatusEnded:
			session.Status = StatusWaiting
			session.UpdatedAt = now
			if err := tx.SaveSession(session); err != nil {
				return nil, err
			}
			out.add(fanout.TypeSessionUpdate, newSessionView(session, nil, false))
			return nil, nil
		case StatusInProgress:
		default:
			return nil, nil
		}

		if session.CurrentRound == nil {
			session.Status = StatusWaiting
			session.UpdatedAt = now
			return nil, tx.SaveSession(session)
		}
		round, err := tx.Round(*session.CurrentRound)
		if err != nil {
			return nil, err
		}
		if round.Resolved() {
			// Ended before the crash but the session was never released.
			session.Status = StatusWaiting
			session.CurrentRound = nil
			session.UpdatedAt = now
			if err := tx.SaveSession(session); err != nil {
				return nil, err
			}
			out.add(fanout.TypeSessionUpdate, newSessionView(session, &round, true))
			return nil, nil
		}
		if round.EndsAt == nil || round.Expired(now) {
			players, err := tx.Players()
			if err != nil {
				return nil, err
			}
			if _, _, err := e.finishNoWinner(tx, out, session, round, players, ReasonRecoveredExpired, now); err != nil {
				return nil, err
			}
			outcome = recoveredExpired
			return nil, nil
		}
		e.armRound(session.ID, round.ID, *round.EndsAt)
		outcome = recoveredArmed
		return func() { e.scheduler().Cancel(session.ID) }, nil
	})
	if errors.Is(err, ErrNotFound) {
		return recoveredNone, nil
	}
	return outcome, err
}
