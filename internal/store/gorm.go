package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Purpose-Longe/guesssing-game/internal/db"
	"github.com/Purpose-Longe/guesssing-game/internal/game"
)

// Gorm stores sessions in Postgres. WithSession opens a transaction and
// takes a FOR UPDATE lock on the session row, which every writer of the
// aggregate must acquire first.
type Gorm struct {
	conn *gorm.DB
}

func NewGorm(conn *gorm.DB) *Gorm {
	return &Gorm{conn: conn}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return errors.Is(err, gorm.ErrDuplicatedKey)
}

func wrapNotFound(err error, what string, id any) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s %v: %w", what, id, game.ErrNotFound)
	}
	return fmt.Errorf("load %s %v: %w", what, id, err)
}

func (g *Gorm) CreateSession(ctx context.Context, session game.Session) error {
	record := sessionRecord(session)
	if err := g.conn.WithContext(ctx).Create(&record).Error; err != nil {
		if isUniqueViolation(err) {
			return game.ErrDuplicate
		}
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (g *Gorm) GetSession(ctx context.Context, id uuid.UUID) (game.Session, error) {
	var record db.Session
	if err := g.conn.WithContext(ctx).First(&record, "id = ?", id).Error; err != nil {
		return game.Session{}, wrapNotFound(err, "session", id)
	}
	return toSession(record), nil
}

func (g *Gorm) FindSessionByCode(ctx context.Context, code string) (game.Session, error) {
	var record db.Session
	if err := g.conn.WithContext(ctx).First(&record, "code = ?", code).Error; err != nil {
		return game.Session{}, wrapNotFound(err, "join code", code)
	}
	return toSession(record), nil
}

func (g *Gorm) ListInFlight(ctx context.Context) ([]game.Session, error) {
	var records []db.Session
	err := g.conn.WithContext(ctx).
		Where("status IN ?", []string{string(game.StatusInProgress), string(game.StatusEnded)}).
		Order("created_at asc").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("list in-flight sessions: %w", err)
	}
	out := make([]game.Session, 0, len(records))
	for _, r := range records {
		out = append(out, toSession(r))
	}
	return out, nil
}

func (g *Gorm) GetPlayer(ctx context.Context, id uuid.UUID) (game.Player, error) {
	var record db.Player
	if err := g.conn.WithContext(ctx).First(&record, "id = ?", id).Error; err != nil {
		return game.Player{}, wrapNotFound(err, "player", id)
	}
	return toPlayer(record), nil
}

func (g *Gorm) ListPlayers(ctx context.Context, sessionID uuid.UUID) ([]game.Player, error) {
	return listPlayers(g.conn.WithContext(ctx), sessionID)
}

func listPlayers(conn *gorm.DB, sessionID uuid.UUID) ([]game.Player, error) {
	var records []db.Player
	err := conn.Where("session_id = ?", sessionID).
		Order("joined_at asc, id asc").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("list players: %w", err)
	}
	out := make([]game.Player, 0, len(records))
	for _, r := range records {
		out = append(out, toPlayer(r))
	}
	return out, nil
}

// TouchPlayer locks only the player row, so heartbeats never queue behind
// a session's round transaction.
func (g *Gorm) TouchPlayer(ctx context.Context, id uuid.UUID, at time.Time) (game.Player, error) {
	var record db.Player
	err := g.conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&record, "id = ?", id).Error; err != nil {
			return wrapNotFound(err, "player", id)
		}
		seen := at
		record.IsActive = true
		record.LastSeen = &seen
		record.UpdatedAt = at
		return tx.Model(&db.Player{}).Where("id = ?", id).Updates(map[string]any{
			"is_active":  true,
			"last_seen":  at,
			"updated_at": at,
		}).Error
	})
	if err != nil {
		return game.Player{}, err
	}
	return toPlayer(record), nil
}

func (g *Gorm) GetRound(ctx context.Context, id uuid.UUID) (game.Round, error) {
	var record db.Round
	if err := g.conn.WithContext(ctx).First(&record, "id = ?", id).Error; err != nil {
		return game.Round{}, wrapNotFound(err, "round", id)
	}
	return toRound(record), nil
}

func (g *Gorm) ListAttempts(ctx context.Context, roundID, playerID uuid.UUID) ([]game.Attempt, error) {
	var records []db.Attempt
	err := g.conn.WithContext(ctx).
		Where("round_id = ? AND player_id = ?", roundID, playerID).
		Order("attempt_number asc").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	out := make([]game.Attempt, 0, len(records))
	for _, r := range records {
		out = append(out, toAttempt(r))
	}
	return out, nil
}

func (g *Gorm) WithSession(ctx context.Context, sessionID uuid.UUID, fn func(tx game.Tx) error) error {
	return g.conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var record db.Session
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&record, "id = ?", sessionID).Error
		if err != nil {
			return wrapNotFound(err, "session", sessionID)
		}
		return fn(&gormTx{conn: tx, session: toSession(record)})
	})
}

type gormTx struct {
	conn    *gorm.DB
	session game.Session
}

func (t *gormTx) Session() game.Session { return t.session }

func (t *gormTx) SaveSession(session game.Session) error {
	err := t.conn.Model(&db.Session{}).Where("id = ?", session.ID).Updates(map[string]any{
		"game_master_id":   session.GameMaster,
		"status":           string(session.Status),
		"current_round_id": session.CurrentRound,
		"updated_at":       session.UpdatedAt,
	}).Error
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	t.session = session
	return nil
}

// DeleteSession removes the aggregate. Audit rows are kept.
func (t *gormTx) DeleteSession(at time.Time) error {
	id := t.session.ID
	steps := []struct {
		name  string
		model any
	}{
		{"attempts", &db.Attempt{}},
		{"rounds", &db.Round{}},
		{"players", &db.Player{}},
	}
	for _, step := range steps {
		if err := t.conn.Where("session_id = ?", id).Delete(step.model).Error; err != nil {
			return fmt.Errorf("delete %s: %w", step.name, err)
		}
	}
	if err := t.conn.Where("id = ?", id).Delete(&db.Session{}).Error; err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return t.Record(at, "session_delete", map[string]any{"id": id})
}

func (t *gormTx) Players() ([]game.Player, error) {
	return listPlayers(t.conn, t.session.ID)
}

func (t *gormTx) InsertPlayer(player game.Player) error {
	record := playerRecord(player)
	if err := t.conn.Create(&record).Error; err != nil {
		if isUniqueViolation(err) {
			return game.ErrDuplicate
		}
		return fmt.Errorf("insert player: %w", err)
	}
	return nil
}

func (t *gormTx) SavePlayer(player game.Player) error {
	err := t.conn.Model(&db.Player{}).Where("id = ?", player.ID).Updates(map[string]any{
		"score":      player.Score,
		"is_active":  player.Active,
		"updated_at": player.UpdatedAt,
	}).Error
	if err != nil {
		return fmt.Errorf("update player: %w", err)
	}
	return nil
}

func (t *gormTx) Round(id uuid.UUID) (game.Round, error) {
	var record db.Round
	err := t.conn.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&record, "id = ? AND session_id = ?", id, t.session.ID).Error
	if err != nil {
		return game.Round{}, wrapNotFound(err, "round", id)
	}
	return toRound(record), nil
}

func (t *gormTx) InsertRound(round game.Round) error {
	record := roundRecord(round)
	if err := t.conn.Create(&record).Error; err != nil {
		return fmt.Errorf("insert round: %w", err)
	}
	return nil
}

// SaveRound writes only the outcome columns; ends_at is never updated.
func (t *gormTx) SaveRound(round game.Round) error {
	err := t.conn.Model(&db.Round{}).Where("id = ?", round.ID).Updates(map[string]any{
		"winner_player_id": round.Winner,
		"ended_at":         round.EndedAt,
		"end_reason":       round.EndReason,
	}).Error
	if err != nil {
		return fmt.Errorf("update round: %w", err)
	}
	return nil
}

func (t *gormTx) CountAttempts(roundID, playerID uuid.UUID) (int, error) {
	var n int64
	err := t.conn.Model(&db.Attempt{}).
		Where("round_id = ? AND player_id = ?", roundID, playerID).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("count attempts: %w", err)
	}
	return int(n), nil
}

func (t *gormTx) AttemptCounts(roundID uuid.UUID) (map[uuid.UUID]int, error) {
	var rows []struct {
		PlayerID uuid.UUID
		Total    int
	}
	err := t.conn.Model(&db.Attempt{}).
		Select("player_id, count(*) AS total").
		Where("round_id = ?", roundID).
		Group("player_id").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("count attempts: %w", err)
	}
	counts := make(map[uuid.UUID]int, len(rows))
	for _, r := range rows {
		counts[r.PlayerID] = r.Total
	}
	return counts, nil
}

func (t *gormTx) InsertAttempt(attempt game.Attempt) error {
	record := attemptRecord(attempt)
	if err := t.conn.Create(&record).Error; err != nil {
		if isUniqueViolation(err) {
			return game.ErrDuplicate
		}
		return fmt.Errorf("insert attempt: %w", err)
	}
	return nil
}

func (t *gormTx) ClearAttempts() error {
	if err := t.conn.Where("session_id = ?", t.session.ID).Delete(&db.Attempt{}).Error; err != nil {
		return fmt.Errorf("clear attempts: %w", err)
	}
	return nil
}

func (t *gormTx) Record(at time.Time, eventType string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	record := db.Event{
		SessionID: t.session.ID,
		Type:      eventType,
		Payload:   datatypes.JSON(data),
		CreatedAt: at.UTC(),
	}
	if err := t.conn.Create(&record).Error; err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}
