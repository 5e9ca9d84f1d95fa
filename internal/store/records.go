package store

import (
	"github.com/Purpose-Longe/guesssing-game/internal/db"
	"github.com/Purpose-Longe/guesssing-game/internal/game"
)

func sessionRecord(s game.Session) db.Session {
	return db.Session{
		ID:             s.ID,
		Code:           s.Code,
		GameMasterID:   s.GameMaster,
		Status:         string(s.Status),
		CurrentRoundID: s.CurrentRound,
		CreatedAt:      s.CreatedAt,
		UpdatedAt:      s.UpdatedAt,
	}
}

func toSession(r db.Session) game.Session {
	return game.Session{
		ID:           r.ID,
		Code:         r.Code,
		GameMaster:   r.GameMasterID,
		Status:       game.Status(r.Status),
		CurrentRound: r.CurrentRoundID,
		CreatedAt:    r.CreatedAt.UTC(),
		UpdatedAt:    r.UpdatedAt.UTC(),
	}
}

func playerRecord(p game.Player) db.Player {
	return db.Player{
		ID:        p.ID,
		SessionID: p.SessionID,
		Username:  p.Username,
		Score:     p.Score,
		IsActive:  p.Active,
		JoinedAt:  p.JoinedAt,
		LastSeen:  p.LastSeen,
		UpdatedAt: p.UpdatedAt,
	}
}

func toPlayer(r db.Player) game.Player {
	return game.Player{
		ID:        r.ID,
		SessionID: r.SessionID,
		Username:  r.Username,
		Score:     r.Score,
		Active:    r.IsActive,
		JoinedAt:  r.JoinedAt.UTC(),
		LastSeen:  r.LastSeen,
		UpdatedAt: r.UpdatedAt.UTC(),
	}
}

func roundRecord(r game.Round) db.Round {
	return db.Round{
		ID:             r.ID,
		SessionID:      r.SessionID,
		Question:       r.Question,
		Answer:         r.Answer,
		StartedAt:      r.StartedAt,
		EndsAt:         r.EndsAt,
		WinnerPlayerID: r.Winner,
		EndedAt:        r.EndedAt,
		EndReason:      r.EndReason,
		CreatedAt:      r.CreatedAt,
	}
}

func toRound(r db.Round) game.Round {
	return game.Round{
		ID:        r.ID,
		SessionID: r.SessionID,
		Question:  r.Question,
		Answer:    r.Answer,
		StartedAt: r.StartedAt.UTC(),
		EndsAt:    r.EndsAt,
		Winner:    r.WinnerPlayerID,
		EndedAt:   r.EndedAt,
		EndReason: r.EndReason,
		CreatedAt: r.CreatedAt.UTC(),
	}
}

func attemptRecord(a game.Attempt) db.Attempt {
	return db.Attempt{
		ID:              a.ID,
		RoundID:         a.RoundID,
		SessionID:       a.SessionID,
		PlayerID:        a.PlayerID,
		Guess:           a.Guess,
		GuessNormalized: a.GuessNormalized,
		IsCorrect:       a.Correct,
		AttemptNumber:   a.Number,
		CreatedAt:       a.CreatedAt,
	}
}

func toAttempt(r db.Attempt) game.Attempt {
	return game.Attempt{
		ID:              r.ID,
		RoundID:         r.RoundID,
		SessionID:       r.SessionID,
		PlayerID:        r.PlayerID,
		Guess:           r.Guess,
		GuessNormalized: r.GuessNormalized,
		Correct:         r.IsCorrect,
		Number:          r.AttemptNumber,
		CreatedAt:       r.CreatedAt.UTC(),
	}
}
