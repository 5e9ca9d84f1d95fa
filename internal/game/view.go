package game

import (
	"time"

	"github.com/google/uuid"
)

// SessionView is the snapshot returned to callers and carried by
// session_update events.
type SessionView struct {
	Session
	Round *RoundView `json:"round,omitempty"`
}

// RoundView describes the running round, or the round that just ended.
// Answer is only filled once the round is over, or for the master.
type RoundView struct {
	ID        uuid.UUID  `json:"id"`
	Question  string     `json:"question"`
	Answer    string     `json:"answer,omitempty"`
	StartedAt time.Time  `json:"started_at"`
	EndsAt    *time.Time `json:"ends_at,omitempty"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	WinnerID  *uuid.UUID `json:"winner_id,omitempty"`
	EndReason string     `json:"end_reason,omitempty"`
}

func newSessionView(session Session, round *Round, revealAnswer bool) SessionView {
	view := SessionView{Session: session}
	if round == nil {
		return view
	}
	rv := &RoundView{
		ID:        round.ID,
		Question:  round.Question,
		StartedAt: round.StartedAt,
		EndsAt:    round.EndsAt,
		EndedAt:   round.EndedAt,
		WinnerID:  round.Winner,
		EndReason: round.EndReason,
	}
	if revealAnswer || round.Resolved() {
		rv.Answer = round.Answer
	}
	view.Round = rv
	return view
}

// GuessResult is the synchronous answer to a guess submission.
type GuessResult struct {
	Correct       bool        `json:"is_correct"`
	AttemptNumber int         `json:"attempt_number"`
	GameOver      bool        `json:"game_over"`
	WinnerID      *uuid.UUID  `json:"winner_id,omitempty"`
	Attempt       Attempt     `json:"attempt"`
	Session       SessionView `json:"session"`
}
