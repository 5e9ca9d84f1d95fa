package game

import "github.com/google/uuid"

// nextMaster picks the next active player in join order after current,
// wrapping around. When current is nil or no longer listed the first active
// player is chosen. players must already be in join order.
func nextMaster(players []Player, current *uuid.UUID) *uuid.UUID {
	if len(players) == 0 {
		return nil
	}
	start := -1
	if current != nil {
		for i, p := range players {
			if p.ID == *current {
				start = i
				break
			}
		}
	}
	for step := 1; step <= len(players); step++ {
		candidate := players[(start+step)%len(players)]
		if candidate.Active {
			id := candidate.ID
			return &id
		}
	}
	return nil
}

func findPlayer(players []Player, id uuid.UUID) (Player, bool) {
	for _, p := range players {
		if p.ID == id {
			return p, true
		}
	}
	return Player{}, false
}

// guessers returns the active players that are not the master.
func guessers(session Session, players []Player) []Player {
	out := make([]Player, 0, len(players))
	for _, p := range players {
		if p.Active && !session.IsMaster(p.ID) {
			out = append(out, p)
		}
	}
	return out
}

func countActive(players []Player) int {
	n := 0
	for _, p := range players {
		if p.Active {
			n++
		}
	}
	return n
}

func replacePlayer(players []Player, updated Player) {
	for i := range players {
		if players[i].ID == updated.ID {
			players[i] = updated
			return
		}
	}
}

// exhausted reports whether no eligible guesser has an attempt left.
func (e *Engine) exhausted(tx Tx, session Session, round Round, players []Player) (bool, error) {
	counts, err := tx.AttemptCounts(round.ID)
	if err != nil {
		return false, err
	}
	for _, p := range guessers(session, players) {
		if counts[p.ID] < e.rules.MaxAttempts {
			return false, nil
		}
	}
	return true, nil
}
