package game

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/Purpose-Longe/guesssing-game/internal/fanout"
)

const (
	maxCodeAttempts  = 20
	commitRetryDelay = time.Second
)

// Engine runs the session and round state machine. Every mutation of a
// session goes through Store.WithSession, so commands against one session
// are linearized while different sessions proceed in parallel.
type Engine struct {
	store Store
	pub   fanout.Publisher
	clock clockwork.Clock
	rules Rules

	mu    sync.RWMutex
	sched Scheduler
}

func NewEngine(store Store, pub fanout.Publisher, clock clockwork.Clock, rules Rules) *Engine {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Engine{
		store: store,
		pub:   pub,
		clock: clock,
		rules: rules,
		sched: noopScheduler{},
	}
}

// UseScheduler installs the timer service. The scheduler is built after the
// engine because its callbacks call back into it.
func (e *Engine) UseScheduler(s Scheduler) {
	if s == nil {
		s = noopScheduler{}
	}
	e.mu.Lock()
	e.sched = s
	e.mu.Unlock()
}

func (e *Engine) Rules() Rules { return e.rules }

func (e *Engine) scheduler() Scheduler {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.sched
}

func (e *Engine) now() time.Time {
	return e.clock.Now().UTC()
}

// outbox collects events produced inside a transaction. They are published
// only once the transaction has committed.
type outbox struct {
	topic  string
	events []fanout.Event
}

func newOutbox(sessionID uuid.UUID) *outbox {
	return &outbox{topic: SessionTopic(sessionID)}
}

func (o *outbox) add(eventType string, payload any) {
	o.events = append(o.events, fanout.Event{Type: eventType, Payload: payload})
}

func (e *Engine) flush(o *outbox) {
	if e.pub == nil || o == nil {
		return
	}
	now := e.now()
	for _, ev := range o.events {
		ev.ServerTime = now
		e.pub.Publish(o.topic, ev)
	}
}

// mutate runs fn under the session lock. undo is invoked when fn succeeded
// but the commit did not, so timer changes made inside fn can be reverted.
func (e *Engine) mutate(ctx context.Context, sessionID uuid.UUID, fn func(tx Tx, out *outbox) (undo func(), err error)) error {
	out := newOutbox(sessionID)
	var undo func()
	ran := false
	err := e.store.WithSession(ctx, sessionID, func(tx Tx) error {
		out.events = out.events[:0]
		u, err := fn(tx, out)
		if err != nil {
			return err
		}
		undo = u
		ran = true
		return nil
	})
	if err != nil {
		if ran && undo != nil {
			undo()
		}
		switch {
		case IsConflict(err):
			log.Debug().Err(err).Str("session_id", sessionID.String()).Msg("session transaction rejected")
		case CodeOf(err) == "":
			log.Error().Err(err).Str("session_id", sessionID.String()).Msg("session transaction failed")
		}
		return err
	}
	e.flush(out)
	return nil
}

func (e *Engine) CreateSession(ctx context.Context) (Session, error) {
	now := e.now()
	for i := 0; i < maxCodeAttempts; i++ {
		session := Session{
			ID:        uuid.New(),
			Code:      newJoinCode(),
			Status:    StatusWaiting,
			CreatedAt: now,
			UpdatedAt: now,
		}
		err := e.store.CreateSession(ctx, session)
		if errors.Is(err, ErrDuplicate) {
			continue
		}
		if err != nil {
			return Session{}, fmt.Errorf("create session: %w", err)
		}
		log.Info().Str("session_id", session.ID.String()).Str("code", session.Code).Msg("session created")
		return session, nil
	}
	return Session{}, fmt.Errorf("create session: no free join code after %d tries", maxCodeAttempts)
}

func (e *Engine) GetSession(ctx context.Context, id uuid.UUID) (SessionView, error) {
	session, err := e.store.GetSession(ctx, id)
	if err != nil {
		return SessionView{}, err
	}
	return e.view(ctx, session)
}

// FindSession looks a session up by join code, ignoring case. Sessions in
// every status resolve so players can rejoin or reconnect mid round.
func (e *Engine) FindSession(ctx context.Context, code string) (SessionView, error) {
	session, err := e.store.FindSessionByCode(ctx, CanonicalCode(code))
	if err != nil {
		return SessionView{}, err
	}
	return e.view(ctx, session)
}

func (e *Engine) view(ctx context.Context, session Session) (SessionView, error) {
	if session.CurrentRound == nil {
		return newSessionView(session, nil, false), nil
	}
	round, err := e.store.GetRound(ctx, *session.CurrentRound)
	if err != nil {
		return SessionView{}, err
	}
	return newSessionView(session, &round, false), nil
}

func (e *Engine) DeleteSession(ctx context.Context, id uuid.UUID) error {
	err := e.mutate(ctx, id, func(tx Tx, out *outbox) (func(), error) {
		if err := tx.DeleteSession(e.now()); err != nil {
			return nil, err
		}
		e.scheduler().Cancel(id)
		out.add(fanout.TypeSessionDelete, map[string]any{"id": id})
		return nil, nil
	})
	if err != nil {
		return err
	}
	log.Info().Str("session_id", id.String()).Msg("session deleted")
	return nil
}

// Join adds a player to the session. The first player of a session without
// a master becomes the master.
func (e *Engine) Join(ctx context.Context, sessionID uuid.UUID, username string) (Player, error) {
	name, err := validateUsername(username)
	if err != nil {
		return Player{}, err
	}
	var player Player
	err = e.mutate(ctx, sessionID, func(tx Tx, out *outbox) (func(), error) {
		players, err := tx.Players()
		if err != nil {
			return nil, err
		}
		key := usernameKey(name)
		for _, p := range players {
			if usernameKey(p.Username) == key {
				return nil, ErrNameTaken
			}
		}
		now := e.now()
		player = Player{
			ID:        uuid.New(),
			SessionID: sessionID,
			Username:  name,
			Active:    true,
			JoinedAt:  now,
			UpdatedAt: now,
		}
		if err := tx.InsertPlayer(player); err != nil {
			if errors.Is(err, ErrDuplicate) {
				return nil, ErrNameTaken
			}
			return nil, err
		}
		if err := tx.Record(now, fanout.TypePlayerJoin, player); err != nil {
			return nil, err
		}
		out.add(fanout.TypePlayerJoin, player)

		session := tx.Session()
		if session.GameMaster == nil {
			session.GameMaster = &player.ID
			session.UpdatedAt = now
			if err := tx.SaveSession(session); err != nil {
				return nil, err
			}
			out.add(fanout.TypeSessionUpdate, newSessionView(session, nil, false))
		}
		return nil, nil
	})
	if err != nil {
		return Player{}, err
	}
	return player, nil
}

// Heartbeat marks the player active and records when it was last seen.
// It takes the player's own lock rather than the session lock.
func (e *Engine) Heartbeat(ctx context.Context, playerID uuid.UUID) (Player, error) {
	player, err := e.store.TouchPlayer(ctx, playerID, e.now())
	if err != nil {
		return Player{}, err
	}
	if e.pub != nil {
		e.pub.Publish(SessionTopic(player.SessionID), fanout.Event{
			Type:       fanout.TypePlayerUpdate,
			Payload:    player,
			ServerTime: e.now(),
		})
	}
	return player, nil
}

// ListPlayers returns the active players of a session in join order.
func (e *Engine) ListPlayers(ctx context.Context, sessionID uuid.UUID) ([]Player, error) {
	if _, err := e.store.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	players, err := e.store.ListPlayers(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	active := make([]Player, 0, len(players))
	for _, p := range players {
		if p.Active {
			active = append(active, p)
		}
	}
	return active, nil
}

// ListAttempts returns the player's attempts on the running round.
func (e *Engine) ListAttempts(ctx context.Context, sessionID, playerID uuid.UUID) ([]Attempt, error) {
	session, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.CurrentRound == nil {
		return []Attempt{}, nil
	}
	return e.store.ListAttempts(ctx, *session.CurrentRound, playerID)
}

// StartRound opens a new round. A zero duration selects the default. The
// returned view carries the answer since only the master receives it.
func (e *Engine) StartRound(ctx context.Context, sessionID, callerID uuid.UUID, question, answer string, duration time.Duration) (SessionView, error) {
	if duration == 0 {
		duration = e.rules.DefaultDuration
	}
	if duration < 0 || (e.rules.MaxDuration > 0 && duration > e.rules.MaxDuration) {
		return SessionView{}, validationError("duration must be between 1s and %s", e.rules.MaxDuration)
	}
	q, a, err := validateQuestion(question, answer)
	if err != nil {
		return SessionView{}, err
	}

	var result SessionView
	err = e.mutate(ctx, sessionID, func(tx Tx, out *outbox) (func(), error) {
		session := tx.Session()
		if !session.IsMaster(callerID) {
			return nil, ErrNotMaster
		}
		if session.Status != StatusWaiting {
			return nil, ErrInvalidRoundState
		}
		players, err := tx.Players()
		if err != nil {
			return nil, err
		}
		if len(guessers(session, players)) < e.rules.MinPlayers {
			return nil, ErrInsufficientPlayers
		}
		if err := tx.ClearAttempts(); err != nil {
			return nil, err
		}

		now := e.now()
		endsAt := now.Add(duration)
		round := Round{
			ID:        uuid.New(),
			SessionID: sessionID,
			Question:  q,
			Answer:    a,
			StartedAt: now,
			EndsAt:    &endsAt,
			CreatedAt: now,
		}
		if err := tx.InsertRound(round); err != nil {
			return nil, err
		}
		session.Status = StatusInProgress
		session.CurrentRound = &round.ID
		session.UpdatedAt = now
		if err := tx.SaveSession(session); err != nil {
			return nil, err
		}
		if err := tx.Record(now, "round_start", map[string]any{
			"round_id": round.ID,
			"question": round.Question,
			"ends_at":  endsAt,
		}); err != nil {
			return nil, err
		}

		e.armRound(sessionID, round.ID, endsAt)
		out.add(fanout.TypeSessionUpdate, newSessionView(session, &round, false))
		result = newSessionView(session, &round, true)
		return func() { e.scheduler().Cancel(sessionID) }, nil
	})
	if err != nil {
		return SessionView{}, err
	}
	log.Info().
		Str("session_id", sessionID.String()).
		Str("round_id", result.Round.ID.String()).
		Dur("duration", duration).
		Msg("round started")
	return result, nil
}

// SubmitGuess verifies one guess. Reading the round, counting attempts,
// inserting the attempt, and resolving a win all happen under the session
// lock, so concurrent guesses observe each other's attempts.
func (e *Engine) SubmitGuess(ctx context.Context, sessionID, playerID uuid.UUID, guess string) (GuessResult, error) {
	if err := validateGuess(guess); err != nil {
		return GuessResult{}, err
	}

	var result GuessResult
	err := e.mutate(ctx, sessionID, func(tx Tx, out *outbox) (func(), error) {
		session := tx.Session()
		players, err := tx.Players()
		if err != nil {
			return nil, err
		}
		player, ok := findPlayer(players, playerID)
		if !ok || !player.Active {
			return nil, notFound("player")
		}
		if session.IsMaster(playerID) {
			return nil, ErrIsMaster
		}
		if session.Status != StatusInProgress || session.CurrentRound == nil {
			return nil, ErrNoActiveRound
		}
		round, err := tx.Round(*session.CurrentRound)
		if err != nil {
			return nil, err
		}
		now := e.now()
		if round.Resolved() || round.Expired(now) {
			return nil, ErrNoActiveRound
		}
		used, err := tx.CountAttempts(round.ID, playerID)
		if err != nil {
			return nil, err
		}
		if used >= e.rules.MaxAttempts {
			return nil, ErrNoAttemptsRemaining
		}

		normalized := Normalize(guess)
		attempt := Attempt{
			ID:              uuid.New(),
			RoundID:         round.ID,
			SessionID:       sessionID,
			PlayerID:        playerID,
			Guess:           guess,
			GuessNormalized: normalized,
			Correct:         normalized == round.Answer,
			Number:          used + 1,
			CreatedAt:       now,
		}
		if err := tx.InsertAttempt(attempt); err != nil {
			return nil, err
		}
		out.add(fanout.TypeAttemptInsert, attempt)
		result = GuessResult{Correct: attempt.Correct, AttemptNumber: attempt.Number, Attempt: attempt}

		if !attempt.Correct {
			done, err := e.exhausted(tx, session, round, players)
			if err != nil || !done {
				result.Session = newSessionView(session, &round, false)
				return nil, err
			}
			session, round, err = e.finishNoWinner(tx, out, session, round, players, ReasonExhausted, now)
			if err != nil {
				return nil, err
			}
			result.GameOver = true
			result.Session = newSessionView(session, &round, true)
			return e.rearm(sessionID, round), nil
		}

		player.Score += e.rules.PointsPerWin
		player.UpdatedAt = now
		if err := tx.SavePlayer(player); err != nil {
			return nil, err
		}
		round.Winner = &playerID
		round.EndedAt = &now
		round.EndReason = ReasonGuessed
		if err := tx.SaveRound(round); err != nil {
			return nil, err
		}
		session.Status = StatusWaiting
		session.GameMaster = &playerID
		session.CurrentRound = nil
		session.UpdatedAt = now
		if err := tx.SaveSession(session); err != nil {
			return nil, err
		}
		if err := tx.Record(now, "round_won", map[string]any{
			"round_id":  round.ID,
			"winner_id": playerID,
			"points":    e.rules.PointsPerWin,
		}); err != nil {
			return nil, err
		}
		e.scheduler().Cancel(sessionID)

		out.add(fanout.TypePlayerUpdate, player)
		result.GameOver = true
		result.WinnerID = &playerID
		result.Session = newSessionView(session, &round, true)
		out.add(fanout.TypeSessionUpdate, result.Session)
		return e.rearm(sessionID, round), nil
	})
	if errors.Is(err, ErrNoAttemptsRemaining) {
		// The rejected guess left nothing to write, but it may be the last
		// player that still had to run out.
		if _, endErr := e.endIfExhausted(ctx, sessionID); endErr != nil && CodeOf(endErr) == "" {
			log.Error().Err(endErr).Str("session_id", sessionID.String()).Msg("exhaustion check failed")
		}
	}
	if err != nil {
		if CodeOf(err) != "" {
			log.Debug().Err(err).Str("session_id", sessionID.String()).Str("player_id", playerID.String()).Msg("guess rejected")
		}
		return GuessResult{}, err
	}
	if result.GameOver {
		log.Info().
			Str("session_id", sessionID.String()).
			Str("round_id", result.Attempt.RoundID.String()).
			Bool("won", result.Correct).
			Msg("round over")
	}
	return result, nil
}

// rearm restores the round timer when a transaction that cancelled it
// fails to commit. A deadline that has already passed is retried after
// commitRetryDelay rather than immediately.
func (e *Engine) rearm(sessionID uuid.UUID, round Round) func() {
	if round.EndsAt == nil {
		return nil
	}
	deadline := *round.EndsAt
	return func() {
		at := deadline
		if retry := e.now().Add(commitRetryDelay); retry.After(at) {
			at = retry
		}
		e.armRound(sessionID, round.ID, at)
	}
}

func (e *Engine) endIfExhausted(ctx context.Context, sessionID uuid.UUID) (bool, error) {
	ended := false
	err := e.mutate(ctx, sessionID, func(tx Tx, out *outbox) (func(), error) {
		session := tx.Session()
		if session.Status != StatusInProgress || session.CurrentRound == nil {
			return nil, nil
		}
		round, err := tx.Round(*session.CurrentRound)
		if err != nil {
			return nil, err
		}
		if round.Resolved() {
			return nil, nil
		}
		players, err := tx.Players()
		if err != nil {
			return nil, err
		}
		done, err := e.exhausted(tx, session, round, players)
		if err != nil || !done {
			return nil, err
		}
		if _, round, err = e.finishNoWinner(tx, out, session, round, players, ReasonExhausted, e.now()); err != nil {
			return nil, err
		}
		ended = true
		return e.rearm(sessionID, round), nil
	})
	return ended, err
}

// finishNoWinner closes the round without a winner and hands the master
// role to the join-order successor of the current master.
func (e *Engine) finishNoWinner(tx Tx, out *outbox, session Session, round Round, players []Player, reason string, now time.Time) (Session, Round, error) {
	round.EndedAt = &now
	round.EndReason = reason
	if err := tx.SaveRound(round); err != nil {
		return session, round, err
	}
	previous := session.GameMaster
	session.GameMaster = nextMaster(players, previous)
	session.Status = StatusWaiting
	session.CurrentRound = nil
	session.UpdatedAt = now
	if err := tx.SaveSession(session); err != nil {
		return session, round, err
	}
	if err := tx.Record(now, "round_end", map[string]any{
		"round_id":       round.ID,
		"reason":         reason,
		"game_master_id": session.GameMaster,
	}); err != nil {
		return session, round, err
	}
	e.scheduler().Cancel(session.ID)
	out.add(fanout.TypeSessionUpdate, newSessionView(session, &round, true))
	return session, round, nil
}

// EndRoundNoWinner forcibly ends the running round. It is a no-op when the
// session has no active round.
func (e *Engine) EndRoundNoWinner(ctx context.Context, sessionID uuid.UUID, reason string) (SessionView, error) {
	return e.endRoundNoWinner(ctx, sessionID, nil, reason)
}

// endRoundNoWinner ends the round only when it is still the current one,
// so a late timer for an earlier round cannot touch a newer round.
func (e *Engine) endRoundNoWinner(ctx context.Context, sessionID uuid.UUID, roundID *uuid.UUID, reason string) (SessionView, error) {
	var result SessionView
	err := e.mutate(ctx, sessionID, func(tx Tx, out *outbox) (func(), error) {
		session := tx.Session()
		result = newSessionView(session, nil, false)
		if session.Status != StatusInProgress || session.CurrentRound == nil {
			return nil, nil
		}
		if roundID != nil && *roundID != *session.CurrentRound {
			return nil, nil
		}
		round, err := tx.Round(*session.CurrentRound)
		if err != nil {
			return nil, err
		}
		if round.Resolved() {
			return nil, nil
		}
		players, err := tx.Players()
		if err != nil {
			return nil, err
		}
		session, round, err = e.finishNoWinner(tx, out, session, round, players, reason, e.now())
		if err != nil {
			return nil, err
		}
		result = newSessionView(session, &round, true)
		log.Info().Str("session_id", sessionID.String()).Str("reason", reason).Msg("round ended without winner")
		return e.rearm(sessionID, round), nil
	})
	return result, err
}

// EndRound is the manual override. With a winner, the winner is awarded
// and becomes master; without one the master rotates in join order. When a
// reveal period is configured the session rests in ended until it elapses.
func (e *Engine) EndRound(ctx context.Context, sessionID uuid.UUID, winnerID *uuid.UUID) (SessionView, error) {
	var result SessionView
	var revealUntil time.Time
	err := e.mutate(ctx, sessionID, func(tx Tx, out *outbox) (func(), error) {
		session := tx.Session()
		result = newSessionView(session, nil, false)
		if session.Status != StatusInProgress || session.CurrentRound == nil {
			if winnerID != nil {
				return nil, ErrNoActiveRound
			}
			return nil, nil
		}
		round, err := tx.Round(*session.CurrentRound)
		if err != nil {
			return nil, err
		}
		if round.Resolved() {
			if winnerID != nil {
				return nil, ErrNoActiveRound
			}
			return nil, nil
		}
		players, err := tx.Players()
		if err != nil {
			return nil, err
		}

		now := e.now()
		if round.Expired(now) {
			// The deadline won; the round closes as a timeout and nobody is awarded.
			session, round, err = e.finishNoWinner(tx, out, session, round, players, ReasonTimeExpired, now)
			if err != nil {
				return nil, err
			}
			result = newSessionView(session, &round, true)
			return e.rearm(sessionID, round), nil
		}
		round.EndedAt = &now
		round.EndReason = ReasonManual
		if winnerID != nil {
			winner, ok := findPlayer(players, *winnerID)
			if !ok || !winner.Active {
				return nil, notFound("winner")
			}
			if session.IsMaster(winner.ID) {
				return nil, ErrIsMaster
			}
			winner.Score += e.rules.PointsPerWin
			winner.UpdatedAt = now
			if err := tx.SavePlayer(winner); err != nil {
				return nil, err
			}
			out.add(fanout.TypePlayerUpdate, winner)
			round.Winner = &winner.ID
			session.GameMaster = &winner.ID
		} else {
			session.GameMaster = nextMaster(players, session.GameMaster)
		}
		if err := tx.SaveRound(round); err != nil {
			return nil, err
		}

		session.Status = StatusWaiting
		if e.rules.RevealDuration > 0 {
			session.Status = StatusEnded
			revealUntil = now.Add(e.rules.RevealDuration)
		}
		session.CurrentRound = nil
		session.UpdatedAt = now
		if err := tx.SaveSession(session); err != nil {
			return nil, err
		}
		if err := tx.Record(now, "round_end", map[string]any{
			"round_id":       round.ID,
			"reason":         round.EndReason,
			"winner_id":      round.Winner,
			"game_master_id": session.GameMaster,
		}); err != nil {
			return nil, err
		}

		if revealUntil.IsZero() {
			e.scheduler().Cancel(sessionID)
		} else {
			e.scheduler().Arm(sessionID, revealUntil, func(ctx context.Context) error {
				return e.finishReveal(ctx, sessionID)
			})
		}
		result = newSessionView(session, &round, true)
		out.add(fanout.TypeSessionUpdate, result)
		return e.rearm(sessionID, round), nil
	})
	if err != nil {
		return SessionView{}, err
	}
	return result, nil
}

// finishReveal moves a session out of the ended state.
func (e *Engine) finishReveal(ctx context.Context, sessionID uuid.UUID) error {
	err := e.mutate(ctx, sessionID, func(tx Tx, out *outbox) (func(), error) {
		session := tx.Session()
		if session.Status != StatusEnded {
			return nil, nil
		}
		session.Status = StatusWaiting
		session.UpdatedAt = e.now()
		if err := tx.SaveSession(session); err != nil {
			return nil, err
		}
		out.add(fanout.TypeSessionUpdate, newSessionView(session, nil, false))
		return nil, nil
	})
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

// Leave deactivates a player. The last active player leaving deletes the
// session. A master leaving hands the role on, ending any running round.
func (e *Engine) Leave(ctx context.Context, sessionID, playerID uuid.UUID) error {
	deleted := false
	err := e.mutate(ctx, sessionID, func(tx Tx, out *outbox) (func(), error) {
		session := tx.Session()
		players, err := tx.Players()
		if err != nil {
			return nil, err
		}
		player, ok := findPlayer(players, playerID)
		if !ok {
			return nil, notFound("player")
		}
		if !player.Active {
			return nil, nil
		}

		now := e.now()
		player.Active = false
		player.UpdatedAt = now
		if err := tx.SavePlayer(player); err != nil {
			return nil, err
		}
		replacePlayer(players, player)
		if err := tx.Record(now, fanout.TypePlayerLeave, player); err != nil {
			return nil, err
		}
		out.add(fanout.TypePlayerUpdate, player)
		out.add(fanout.TypePlayerLeave, player)

		if countActive(players) == 0 {
			if err := tx.DeleteSession(now); err != nil {
				return nil, err
			}
			e.scheduler().Cancel(sessionID)
			out.add(fanout.TypeSessionDelete, map[string]any{"id": sessionID})
			deleted = true
			return nil, nil
		}

		var round Round
		inRound := session.Status == StatusInProgress && session.CurrentRound != nil
		if inRound {
			if round, err = tx.Round(*session.CurrentRound); err != nil {
				return nil, err
			}
			inRound = !round.Resolved()
		}

		switch {
		case inRound && round.Expired(now):
			if _, round, err = e.finishNoWinner(tx, out, session, round, players, ReasonTimeExpired, now); err != nil {
				return nil, err
			}
			return e.rearm(sessionID, round), nil
		case inRound && session.IsMaster(playerID):
			if _, round, err = e.finishNoWinner(tx, out, session, round, players, ReasonMasterLeft, now); err != nil {
				return nil, err
			}
			return e.rearm(sessionID, round), nil
		case inRound:
			done, err := e.exhausted(tx, session, round, players)
			if err != nil || !done {
				return nil, err
			}
			if _, round, err = e.finishNoWinner(tx, out, session, round, players, ReasonExhausted, now); err != nil {
				return nil, err
			}
			return e.rearm(sessionID, round), nil
		case session.IsMaster(playerID):
			session.GameMaster = nextMaster(players, session.GameMaster)
			session.UpdatedAt = now
			if err := tx.SaveSession(session); err != nil {
				return nil, err
			}
			out.add(fanout.TypeSessionUpdate, newSessionView(session, nil, false))
		}
		return nil, nil
	})
	if err != nil {
		return err
	}
	if deleted {
		log.Info().Str("session_id", sessionID.String()).Msg("last player left, session deleted")
	}
	return nil
}

// armRound schedules the timeout of a round.
func (e *Engine) armRound(sessionID, roundID uuid.UUID, deadline time.Time) {
	e.scheduler().Arm(sessionID, deadline, func(ctx context.Context) error {
		_, err := e.endRoundNoWinner(ctx, sessionID, &roundID, ReasonTimeExpired)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	})
}
