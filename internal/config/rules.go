package config

import (
	"time"

	"github.com/Purpose-Longe/guesssing-game/internal/game"
)

// Rules projects the game settings consumed by the engine.
func (c Config) Rules() game.Rules {
	return game.Rules{
		MinPlayers:      c.MinPlayers,
		MaxAttempts:     c.MaxAttempts,
		PointsPerWin:    c.PointsPerWin,
		DefaultDuration: time.Duration(c.DefaultRoundSeconds) * time.Second,
		MaxDuration:     time.Duration(c.MaxRoundSeconds) * time.Second,
		RevealDuration:  time.Duration(c.RevealSeconds) * time.Second,
	}
}
