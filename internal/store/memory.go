package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Purpose-Longe/guesssing-game/internal/game"
)

// AuditEntry is one row of a session's audit log.
type AuditEntry struct {
	Type    string
	Payload any
	At      time.Time
}

// Memory keeps every session aggregate in process. Each session has its own
// mutex; a transaction works on a private copy of the aggregate and commits
// by swapping it in, so readers never observe a half-applied change.
type Memory struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*aggregate
	codes    map[string]uuid.UUID
	players  map[uuid.UUID]uuid.UUID
	rounds   map[uuid.UUID]uuid.UUID
	locks    map[uuid.UUID]*sync.Mutex
}

type aggregate struct {
	session  game.Session
	players  []game.Player
	rounds   map[uuid.UUID]game.Round
	attempts []game.Attempt
	audit    []AuditEntry
}

func (a *aggregate) clone() *aggregate {
	out := &aggregate{
		session:  a.session,
		players:  append([]game.Player(nil), a.players...),
		rounds:   make(map[uuid.UUID]game.Round, len(a.rounds)),
		attempts: append([]game.Attempt(nil), a.attempts...),
		audit:    append([]AuditEntry(nil), a.audit...),
	}
	for id, r := range a.rounds {
		out.rounds[id] = r
	}
	return out
}

func NewMemory() *Memory {
	return &Memory{
		sessions: make(map[uuid.UUID]*aggregate),
		codes:    make(map[string]uuid.UUID),
		players:  make(map[uuid.UUID]uuid.UUID),
		rounds:   make(map[uuid.UUID]uuid.UUID),
		locks:    make(map[uuid.UUID]*sync.Mutex),
	}
}

func sessionNotFound(id uuid.UUID) error {
	return fmt.Errorf("session %s: %w", id, game.ErrNotFound)
}

func (m *Memory) CreateSession(ctx context.Context, session game.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.codes[session.Code]; ok {
		return game.ErrDuplicate
	}
	if _, ok := m.sessions[session.ID]; ok {
		return game.ErrDuplicate
	}
	m.sessions[session.ID] = &aggregate{session: session, rounds: make(map[uuid.UUID]game.Round)}
	m.codes[session.Code] = session.ID
	m.locks[session.ID] = &sync.Mutex{}
	return nil
}

func (m *Memory) GetSession(ctx context.Context, id uuid.UUID) (game.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	agg, ok := m.sessions[id]
	if !ok {
		return game.Session{}, sessionNotFound(id)
	}
	return agg.session, nil
}

func (m *Memory) FindSessionByCode(ctx context.Context, code string) (game.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.codes[code]
	if !ok {
		return game.Session{}, fmt.Errorf("join code %q: %w", code, game.ErrNotFound)
	}
	return m.sessions[id].session, nil
}

func (m *Memory) ListInFlight(ctx context.Context) ([]game.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]game.Session, 0)
	for _, agg := range m.sessions {
		if agg.session.Status == game.StatusInProgress || agg.session.Status == game.StatusEnded {
			out = append(out, agg.session)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) GetPlayer(ctx context.Context, id uuid.UUID) (game.Player, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sessionID, ok := m.players[id]
	if !ok {
		return game.Player{}, fmt.Errorf("player %s: %w", id, game.ErrNotFound)
	}
	for _, p := range m.sessions[sessionID].players {
		if p.ID == id {
			return p, nil
		}
	}
	return game.Player{}, fmt.Errorf("player %s: %w", id, game.ErrNotFound)
}

func (m *Memory) ListPlayers(ctx context.Context, sessionID uuid.UUID) ([]game.Player, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	agg, ok := m.sessions[sessionID]
	if !ok {
		return nil, sessionNotFound(sessionID)
	}
	return append([]game.Player(nil), agg.players...), nil
}

// TouchPlayer serializes through the session lock; there are no finer
// grained locks in memory.
func (m *Memory) TouchPlayer(ctx context.Context, id uuid.UUID, at time.Time) (game.Player, error) {
	m.mu.RLock()
	sessionID, ok := m.players[id]
	m.mu.RUnlock()
	if !ok {
		return game.Player{}, fmt.Errorf("player %s: %w", id, game.ErrNotFound)
	}
	var touched game.Player
	err := m.WithSession(ctx, sessionID, func(tx game.Tx) error {
		players, err := tx.Players()
		if err != nil {
			return err
		}
		for _, p := range players {
			if p.ID != id {
				continue
			}
			seen := at
			p.Active = true
			p.LastSeen = &seen
			p.UpdatedAt = at
			touched = p
			return tx.SavePlayer(p)
		}
		return fmt.Errorf("player %s: %w", id, game.ErrNotFound)
	})
	return touched, err
}

func (m *Memory) GetRound(ctx context.Context, id uuid.UUID) (game.Round, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sessionID, ok := m.rounds[id]
	if !ok {
		return game.Round{}, fmt.Errorf("round %s: %w", id, game.ErrNotFound)
	}
	return m.sessions[sessionID].rounds[id], nil
}

func (m *Memory) ListAttempts(ctx context.Context, roundID, playerID uuid.UUID) ([]game.Attempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sessionID, ok := m.rounds[roundID]
	if !ok {
		return []game.Attempt{}, nil
	}
	out := make([]game.Attempt, 0)
	for _, a := range m.sessions[sessionID].attempts {
		if a.RoundID == roundID && a.PlayerID == playerID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

// Audit returns the audit log of a session.
func (m *Memory) Audit(sessionID uuid.UUID) []AuditEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	agg, ok := m.sessions[sessionID]
	if !ok {
		return nil
	}
	return append([]AuditEntry(nil), agg.audit...)
}

func (m *Memory) lockFor(id uuid.UUID) *sync.Mutex {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.locks[id]
}

func (m *Memory) WithSession(ctx context.Context, sessionID uuid.UUID, fn func(tx game.Tx) error) error {
	lock := m.lockFor(sessionID)
	if lock == nil {
		return sessionNotFound(sessionID)
	}
	lock.Lock()
	defer lock.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.RLock()
	current, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok {
		// Deleted while we waited for the lock.
		return sessionNotFound(sessionID)
	}

	tx := &memoryTx{agg: current.clone()}
	if err := fn(tx); err != nil {
		return err
	}
	m.commit(sessionID, current, tx)
	return nil
}

func (m *Memory) commit(sessionID uuid.UUID, previous *aggregate, tx *memoryTx) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tx.deleted {
		delete(m.sessions, sessionID)
		delete(m.codes, previous.session.Code)
		delete(m.locks, sessionID)
		for _, p := range previous.players {
			delete(m.players, p.ID)
		}
		for id := range previous.rounds {
			delete(m.rounds, id)
		}
		for _, p := range tx.agg.players {
			delete(m.players, p.ID)
		}
		return
	}
	m.sessions[sessionID] = tx.agg
	for _, p := range tx.agg.players {
		m.players[p.ID] = sessionID
	}
	for id := range tx.agg.rounds {
		m.rounds[id] = sessionID
	}
}

type memoryTx struct {
	agg     *aggregate
	deleted bool
}

func (t *memoryTx) Session() game.Session { return t.agg.session }

func (t *memoryTx) SaveSession(session game.Session) error {
	t.agg.session = session
	return nil
}

func (t *memoryTx) DeleteSession(at time.Time) error {
	t.deleted = true
	return nil
}

func (t *memoryTx) Players() ([]game.Player, error) {
	return append([]game.Player(nil), t.agg.players...), nil
}

func (t *memoryTx) InsertPlayer(player game.Player) error {
	key := lowerName(player.Username)
	for _, p := range t.agg.players {
		if p.ID == player.ID || lowerName(p.Username) == key {
			return game.ErrDuplicate
		}
	}
	t.agg.players = append(t.agg.players, player)
	return nil
}

func (t *memoryTx) SavePlayer(player game.Player) error {
	for i := range t.agg.players {
		if t.agg.players[i].ID == player.ID {
			t.agg.players[i] = player
			return nil
		}
	}
	return fmt.Errorf("player %s: %w", player.ID, game.ErrNotFound)
}

func (t *memoryTx) Round(id uuid.UUID) (game.Round, error) {
	r, ok := t.agg.rounds[id]
	if !ok {
		return game.Round{}, fmt.Errorf("round %s: %w", id, game.ErrNotFound)
	}
	return r, nil
}

func (t *memoryTx) InsertRound(round game.Round) error {
	if _, ok := t.agg.rounds[round.ID]; ok {
		return game.ErrDuplicate
	}
	t.agg.rounds[round.ID] = round
	return nil
}

func (t *memoryTx) SaveRound(round game.Round) error {
	existing, ok := t.agg.rounds[round.ID]
	if !ok {
		return fmt.Errorf("round %s: %w", round.ID, game.ErrNotFound)
	}
	if existing.EndsAt != nil && (round.EndsAt == nil || !existing.EndsAt.Equal(*round.EndsAt)) {
		return fmt.Errorf("round %s: ends_at is immutable", round.ID)
	}
	t.agg.rounds[round.ID] = round
	return nil
}

func (t *memoryTx) CountAttempts(roundID, playerID uuid.UUID) (int, error) {
	n := 0
	for _, a := range t.agg.attempts {
		if a.RoundID == roundID && a.PlayerID == playerID {
			n++
		}
	}
	return n, nil
}

func (t *memoryTx) AttemptCounts(roundID uuid.UUID) (map[uuid.UUID]int, error) {
	counts := make(map[uuid.UUID]int)
	for _, a := range t.agg.attempts {
		if a.RoundID == roundID {
			counts[a.PlayerID]++
		}
	}
	return counts, nil
}

func (t *memoryTx) InsertAttempt(attempt game.Attempt) error {
	for _, a := range t.agg.attempts {
		if a.RoundID == attempt.RoundID && a.PlayerID == attempt.PlayerID && a.Number == attempt.Number {
			return game.ErrDuplicate
		}
	}
	t.agg.attempts = append(t.agg.attempts, attempt)
	return nil
}

func (t *memoryTx) ClearAttempts() error {
	t.agg.attempts = nil
	return nil
}

func (t *memoryTx) Record(at time.Time, eventType string, payload any) error {
	t.agg.audit = append(t.agg.audit, AuditEntry{Type: eventType, Payload: payload, At: at.UTC()})
	return nil
}
