package game_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/Purpose-Longe/guesssing-game/internal/fanout"
	"github.com/Purpose-Longe/guesssing-game/internal/game"
	"github.com/Purpose-Longe/guesssing-game/internal/store"
	"github.com/Purpose-Longe/guesssing-game/internal/timers"
)

type fakeClock interface {
	clockwork.Clock
	Advance(d time.Duration)
}

type harness struct {
	t      *testing.T
	ctx    context.Context
	clock  fakeClock
	store  *store.Memory
	hub    *fanout.Hub
	timers *timers.Service
	engine *game.Engine
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clock := clockwork.NewFakeClock()
	h := &harness{
		t:     t,
		ctx:   context.Background(),
		clock: clock,
		store: store.NewMemory(),
		hub:   fanout.NewHub(256, clock),
	}
	h.engine = game.NewEngine(h.store, h.hub, clock, game.DefaultRules())
	h.timers = timers.New(clock)
	h.engine.UseScheduler(h.timers)
	t.Cleanup(h.timers.Close)
	return h
}

// lobby creates a session and joins the named players in order. The first
// name becomes the master.
func (h *harness) lobby(names ...string) (game.Session, []game.Player) {
	h.t.Helper()
	session, err := h.engine.CreateSession(h.ctx)
	if err != nil {
		h.t.Fatalf("create session: %v", err)
	}
	players := make([]game.Player, 0, len(names))
	for _, name := range names {
		p, err := h.engine.Join(h.ctx, session.ID, name)
		if err != nil {
			h.t.Fatalf("join %s: %v", name, err)
		}
		players = append(players, p)
		// Distinct join times keep join order unambiguous.
		h.clock.Advance(time.Millisecond)
	}
	return session, players
}

func (h *harness) start(sessionID, masterID uuid.UUID) game.SessionView {
	h.t.Helper()
	view, err := h.engine.StartRound(h.ctx, sessionID, masterID, "Capital of France?", "Paris", 0)
	if err != nil {
		h.t.Fatalf("start round: %v", err)
	}
	return view
}

func (h *harness) session(id uuid.UUID) game.Session {
	h.t.Helper()
	view, err := h.engine.GetSession(h.ctx, id)
	if err != nil {
		h.t.Fatalf("get session: %v", err)
	}
	checkInvariant(h.t, view.Session)
	return view.Session
}

func (h *harness) player(id uuid.UUID) game.Player {
	h.t.Helper()
	p, err := h.store.GetPlayer(h.ctx, id)
	if err != nil {
		h.t.Fatalf("get player: %v", err)
	}
	return p
}

func checkInvariant(t *testing.T, s game.Session) {
	t.Helper()
	if (s.Status == game.StatusInProgress) != (s.CurrentRound != nil) {
		t.Fatalf("status %s with current round %v", s.Status, s.CurrentRound)
	}
}

func expectCode(t *testing.T, err error, code game.Code) {
	t.Helper()
	if game.CodeOf(err) != code {
		t.Fatalf("expected %s, got %v", code, err)
	}
}

func masterOf(t *testing.T, s game.Session) uuid.UUID {
	t.Helper()
	if s.GameMaster == nil {
		t.Fatalf("session has no master")
	}
	return *s.GameMaster
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met before timeout")
}

func drain(sub *fanout.Subscription) []fanout.Event {
	var events []fanout.Event
	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return events
			}
			events = append(events, ev)
		default:
			return events
		}
	}
}

func eventTypes(events []fanout.Event) map[string]int {
	out := make(map[string]int)
	for _, ev := range events {
		out[ev.Type]++
	}
	return out
}

func TestJoinAssignsFirstMasterAndRejectsDuplicateNames(t *testing.T) {
	h := newHarness(t)
	session, players := h.lobby("Maria", "Xavier")

	if got := masterOf(t, h.session(session.ID)); got != players[0].ID {
		t.Fatalf("expected first player as master")
	}
	_, err := h.engine.Join(h.ctx, session.ID, "  xavier ")
	expectCode(t, err, game.CodeNameTaken)

	_, err = h.engine.Join(h.ctx, session.ID, "   ")
	expectCode(t, err, game.CodeValidation)

	_, err = h.engine.Join(h.ctx, uuid.New(), "Nobody")
	expectCode(t, err, game.CodeNotFound)

	active, err := h.engine.ListPlayers(h.ctx, session.ID)
	if err != nil || len(active) != 2 {
		t.Fatalf("list players: %v %d", err, len(active))
	}
}

func TestFindSessionIgnoresCase(t *testing.T) {
	h := newHarness(t)
	session, _ := h.lobby("Maria")
	view, err := h.engine.FindSession(h.ctx, " "+strings.ToLower(session.Code)+" ")
	if err != nil || view.ID != session.ID {
		t.Fatalf("find session: %v", err)
	}
	_, err = h.engine.FindSession(h.ctx, "ZZZZZZZZ")
	expectCode(t, err, game.CodeNotFound)
}

func TestStartRoundPreconditions(t *testing.T) {
	h := newHarness(t)
	session, p := h.lobby("Maria", "Xavier", "Yuki")

	_, err := h.engine.StartRound(h.ctx, session.ID, p[0].ID, "Q?", "A", 0)
	expectCode(t, err, game.CodeInsufficientPlayers)

	if _, err := h.engine.Join(h.ctx, session.ID, "Zoe"); err != nil {
		t.Fatalf("join: %v", err)
	}
	_, err = h.engine.StartRound(h.ctx, session.ID, p[1].ID, "Q?", "A", 0)
	expectCode(t, err, game.CodeNotMaster)

	_, err = h.engine.StartRound(h.ctx, session.ID, p[0].ID, "", "A", 0)
	expectCode(t, err, game.CodeValidation)
	_, err = h.engine.StartRound(h.ctx, session.ID, p[0].ID, "Q?", "  ", 0)
	expectCode(t, err, game.CodeValidation)
	_, err = h.engine.StartRound(h.ctx, session.ID, p[0].ID, "Q?", "A", 2*time.Hour)
	expectCode(t, err, game.CodeValidation)

	if h.session(session.ID).Status != game.StatusWaiting {
		t.Fatalf("rejected starts must not change state")
	}

	view := h.start(session.ID, p[0].ID)
	if view.Round == nil || view.Round.Answer != "paris" {
		t.Fatalf("master view should carry the normalized answer, got %+v", view.Round)
	}
	if want := h.clock.Now().UTC().Add(time.Minute); !view.Round.EndsAt.Equal(want) {
		t.Fatalf("expected default duration, ends at %v want %v", view.Round.EndsAt, want)
	}
	if _, ok := h.timers.Pending(session.ID); !ok {
		t.Fatalf("expected round timer armed")
	}

	public, err := h.engine.GetSession(h.ctx, session.ID)
	if err != nil || public.Round == nil || public.Round.Answer != "" {
		t.Fatalf("public snapshot must hide the answer: %v %+v", err, public.Round)
	}

	_, err = h.engine.StartRound(h.ctx, session.ID, p[0].ID, "Q?", "A", 0)
	expectCode(t, err, game.CodeInvalidRoundState)
}

// A: a correct guess with stray whitespace and case wins on attempt one.
func TestCorrectGuessWinsAndReassignsMaster(t *testing.T) {
	h := newHarness(t)
	session, p := h.lobby("Maria", "Xavier", "Yuki", "Zoe")
	sub, unsub := h.hub.Subscribe(game.SessionTopic(session.ID))
	defer unsub()
	h.start(session.ID, p[0].ID)
	drain(sub)

	_, err := h.engine.SubmitGuess(h.ctx, session.ID, p[0].ID, "paris")
	expectCode(t, err, game.CodeIsMaster)

	result, err := h.engine.SubmitGuess(h.ctx, session.ID, p[1].ID, "paris ")
	if err != nil {
		t.Fatalf("submit guess: %v", err)
	}
	if !result.Correct || result.AttemptNumber != 1 || !result.GameOver {
		t.Fatalf("unexpected result %+v", result)
	}
	if result.WinnerID == nil || *result.WinnerID != p[1].ID {
		t.Fatalf("expected Xavier to win")
	}

	s := h.session(session.ID)
	if s.Status != game.StatusWaiting || masterOf(t, s) != p[1].ID {
		t.Fatalf("expected waiting with Xavier as master, got %s", s.Status)
	}
	if got := h.player(p[1].ID).Score; got != 10 {
		t.Fatalf("expected 10 points, got %d", got)
	}
	if _, ok := h.timers.Pending(session.ID); ok {
		t.Fatalf("winning guess must cancel the round timer")
	}
	if result.Session.Round == nil || result.Session.Round.Answer != "paris" || result.Session.Round.EndReason != game.ReasonGuessed {
		t.Fatalf("expected revealed round in result, got %+v", result.Session.Round)
	}

	seen := eventTypes(drain(sub))
	if seen[fanout.TypeAttemptInsert] != 1 || seen[fanout.TypeSessionUpdate] != 1 || seen[fanout.TypePlayerUpdate] != 1 {
		t.Fatalf("unexpected events %v", seen)
	}

	_, err = h.engine.SubmitGuess(h.ctx, session.ID, p[2].ID, "paris")
	expectCode(t, err, game.CodeNoActiveRound)
}

// B: attempt cap, then exhaustion ends the round and rotates the master.
func TestAttemptCapAndExhaustionRotatesMaster(t *testing.T) {
	h := newHarness(t)
	session, p := h.lobby("Maria", "Xavier", "Yuki", "Zoe")
	h.start(session.ID, p[0].ID)

	for i := 1; i <= 3; i++ {
		res, err := h.engine.SubmitGuess(h.ctx, session.ID, p[2].ID, "lyon")
		if err != nil {
			t.Fatalf("guess %d: %v", i, err)
		}
		if res.Correct || res.AttemptNumber != i || res.GameOver {
			t.Fatalf("unexpected result %+v", res)
		}
	}
	_, err := h.engine.SubmitGuess(h.ctx, session.ID, p[2].ID, "paris")
	expectCode(t, err, game.CodeNoAttemptsRemaining)

	attempts, err := h.engine.ListAttempts(h.ctx, session.ID, p[2].ID)
	if err != nil || len(attempts) != 3 {
		t.Fatalf("expected 3 attempts, got %d (%v)", len(attempts), err)
	}

	for _, guesser := range []game.Player{p[1], p[3]} {
		for i := 0; i < 3; i++ {
			res, err := h.engine.SubmitGuess(h.ctx, session.ID, guesser.ID, "marseille")
			if err != nil {
				t.Fatalf("guess: %v", err)
			}
			last := guesser.ID == p[3].ID && i == 2
			if res.GameOver != last {
				t.Fatalf("game over=%v on %s attempt %d", res.GameOver, guesser.Username, i+1)
			}
			if last && res.Session.Round.EndReason != game.ReasonExhausted {
				t.Fatalf("expected exhausted reason, got %q", res.Session.Round.EndReason)
			}
		}
	}

	s := h.session(session.ID)
	if s.Status != game.StatusWaiting {
		t.Fatalf("expected waiting, got %s", s.Status)
	}
	if masterOf(t, s) != p[1].ID {
		t.Fatalf("expected master to rotate to the next player in join order")
	}
	if _, ok := h.timers.Pending(session.ID); ok {
		t.Fatalf("exhaustion must cancel the round timer")
	}
}

func TestRejectedGuessCanTriggerExhaustion(t *testing.T) {
	h := newHarness(t)
	session, p := h.lobby("Maria", "Xavier", "Yuki", "Zoe")
	h.start(session.ID, p[0].ID)
	for _, guesser := range p[1:] {
		for i := 0; i < 3; i++ {
			if guesser.ID == p[3].ID && i == 2 {
				break
			}
			if _, err := h.engine.SubmitGuess(h.ctx, session.ID, guesser.ID, "nope"); err != nil {
				t.Fatalf("guess: %v", err)
			}
		}
	}
	// Zoe still has one attempt; Yuki leaving does not exhaust the round.
	if err := h.engine.Leave(h.ctx, session.ID, p[2].ID); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if h.session(session.ID).Status != game.StatusInProgress {
		t.Fatalf("round should still be running")
	}
	// Zoe leaving leaves only exhausted guessers.
	if err := h.engine.Leave(h.ctx, session.ID, p[3].ID); err != nil {
		t.Fatalf("leave: %v", err)
	}
	s := h.session(session.ID)
	if s.Status != game.StatusWaiting || masterOf(t, s) != p[1].ID {
		t.Fatalf("expected exhausted round and rotation, got %s", s.Status)
	}
}

func TestConcurrentCorrectGuessesHaveOneWinner(t *testing.T) {
	h := newHarness(t)
	names := []string{"Maria", "A", "B", "C", "D", "E", "F", "G", "H"}
	session, p := h.lobby(names...)
	h.start(session.ID, p[0].ID)

	var wins, lost atomic.Int32
	var wg sync.WaitGroup
	for _, guesser := range p[1:] {
		wg.Add(1)
		go func(id uuid.UUID) {
			defer wg.Done()
			res, err := h.engine.SubmitGuess(h.ctx, session.ID, id, "PARIS")
			switch {
			case err == nil && res.Correct:
				wins.Add(1)
			case errors.Is(err, game.ErrNoActiveRound):
				lost.Add(1)
			default:
				t.Errorf("unexpected outcome %+v %v", res, err)
			}
		}(guesser.ID)
	}
	wg.Wait()

	if wins.Load() != 1 || lost.Load() != int32(len(p)-2) {
		t.Fatalf("expected one winner, got wins=%d lost=%d", wins.Load(), lost.Load())
	}
	s := h.session(session.ID)
	total := 0
	for _, pl := range p {
		total += h.player(pl.ID).Score
	}
	if total != 10 || s.Status != game.StatusWaiting {
		t.Fatalf("expected exactly one award, total=%d status=%s", total, s.Status)
	}
}

func TestConcurrentGuessesRespectAttemptCap(t *testing.T) {
	h := newHarness(t)
	session, p := h.lobby("Maria", "Xavier", "Yuki", "Zoe")
	view := h.start(session.ID, p[0].ID)

	var ok, capped atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.engine.SubmitGuess(h.ctx, session.ID, p[1].ID, "rome")
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, game.ErrNoAttemptsRemaining):
				capped.Add(1)
			default:
				t.Errorf("unexpected error %v", err)
			}
		}()
	}
	wg.Wait()
	if ok.Load() != 3 || capped.Load() != 9 {
		t.Fatalf("expected 3 accepted and 9 capped, got %d/%d", ok.Load(), capped.Load())
	}

	attempts, err := h.store.ListAttempts(h.ctx, view.Round.ID, p[1].ID)
	if err != nil {
		t.Fatalf("list attempts: %v", err)
	}
	for i, a := range attempts {
		if a.Number != i+1 {
			t.Fatalf("attempt numbers have a gap: %+v", attempts)
		}
	}
}

func TestRoundTimesOut(t *testing.T) {
	h := newHarness(t)
	session, p := h.lobby("Maria", "Xavier", "Yuki", "Zoe")
	view := h.start(session.ID, p[0].ID)

	h.clock.Advance(61 * time.Second)
	waitFor(t, func() bool {
		s, err := h.engine.GetSession(h.ctx, session.ID)
		return err == nil && s.Status == game.StatusWaiting
	})
	round, err := h.store.GetRound(h.ctx, view.Round.ID)
	if err != nil {
		t.Fatalf("get round: %v", err)
	}
	if round.EndReason != game.ReasonTimeExpired || round.Winner != nil || round.EndedAt == nil {
		t.Fatalf("unexpected round %+v", round)
	}
	if masterOf(t, h.session(session.ID)) != p[1].ID {
		t.Fatalf("expected master rotation after timeout")
	}
}

// manualScheduler records armed callbacks and fires them on demand.
type manualScheduler struct {
	mu        sync.Mutex
	fires     map[uuid.UUID]func(context.Context) error
	deadlines map[uuid.UUID]time.Time
}

func newManualScheduler() *manualScheduler {
	return &manualScheduler{
		fires:     make(map[uuid.UUID]func(context.Context) error),
		deadlines: make(map[uuid.UUID]time.Time),
	}
}

func (m *manualScheduler) Arm(id uuid.UUID, deadline time.Time, fire func(context.Context) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fires[id] = fire
	m.deadlines[id] = deadline
}

func (m *manualScheduler) Cancel(id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.fires, id)
	delete(m.deadlines, id)
}

func (m *manualScheduler) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fires = make(map[uuid.UUID]func(context.Context) error)
	m.deadlines = make(map[uuid.UUID]time.Time)
}

func (m *manualScheduler) fire(t *testing.T, id uuid.UUID) {
	t.Helper()
	m.mu.Lock()
	fn, ok := m.fires[id]
	delete(m.fires, id)
	delete(m.deadlines, id)
	m.mu.Unlock()
	if !ok {
		t.Fatalf("no timer armed for %s", id)
	}
	if err := fn(context.Background()); err != nil {
		t.Fatalf("timer callback: %v", err)
	}
}

func TestGuessAfterDeadlineLosesToTimer(t *testing.T) {
	h := newHarness(t)
	sched := newManualScheduler()
	h.engine.UseScheduler(sched)
	session, p := h.lobby("Maria", "Xavier", "Yuki", "Zoe")
	view := h.start(session.ID, p[0].ID)

	h.clock.Advance(time.Minute)
	_, err := h.engine.SubmitGuess(h.ctx, session.ID, p[1].ID, "paris")
	expectCode(t, err, game.CodeNoActiveRound)
	if h.session(session.ID).Status != game.StatusInProgress {
		t.Fatalf("rejected guess must not end the round")
	}

	sched.fire(t, session.ID)
	round, _ := h.store.GetRound(h.ctx, view.Round.ID)
	if round.EndReason != game.ReasonTimeExpired || round.Winner != nil {
		t.Fatalf("expected timeout to end the round, got %+v", round)
	}
	if h.player(p[1].ID).Score != 0 {
		t.Fatalf("late guess must not score")
	}
}

func TestLeaveAfterDeadlineEndsAsTimeout(t *testing.T) {
	h := newHarness(t)
	sched := newManualScheduler()
	h.engine.UseScheduler(sched)
	session, p := h.lobby("Maria", "Xavier", "Yuki", "Zoe")
	view := h.start(session.ID, p[0].ID)
	for _, guesser := range p[1:3] {
		for i := 0; i < 3; i++ {
			if _, err := h.engine.SubmitGuess(h.ctx, session.ID, guesser.ID, "nope"); err != nil {
				t.Fatalf("guess: %v", err)
			}
		}
	}

	// Zoe leaving would exhaust the round, but the deadline has already passed.
	h.clock.Advance(time.Minute)
	if err := h.engine.Leave(h.ctx, session.ID, p[3].ID); err != nil {
		t.Fatalf("leave: %v", err)
	}
	round, _ := h.store.GetRound(h.ctx, view.Round.ID)
	if round.EndReason != game.ReasonTimeExpired || round.Winner != nil {
		t.Fatalf("expected a timeout, got %+v", round)
	}
	if h.session(session.ID).Status != game.StatusWaiting {
		t.Fatalf("expected the round closed")
	}
}

func TestManualWinnerAfterDeadlineIsNotAwarded(t *testing.T) {
	h := newHarness(t)
	sched := newManualScheduler()
	h.engine.UseScheduler(sched)
	session, p := h.lobby("Maria", "Xavier", "Yuki", "Zoe")
	view := h.start(session.ID, p[0].ID)

	h.clock.Advance(time.Minute)
	got, err := h.engine.EndRound(h.ctx, session.ID, &p[2].ID)
	if err != nil {
		t.Fatalf("end round: %v", err)
	}
	if got.Status != game.StatusWaiting || got.Round == nil || got.Round.WinnerID != nil {
		t.Fatalf("expected a timeout without winner, got %+v", got)
	}
	round, _ := h.store.GetRound(h.ctx, view.Round.ID)
	if round.EndReason != game.ReasonTimeExpired {
		t.Fatalf("expected time expired, got %q", round.EndReason)
	}
	if h.player(p[2].ID).Score != 0 {
		t.Fatalf("winner named after the deadline must not score")
	}
	if masterOf(t, h.session(session.ID)) != p[1].ID {
		t.Fatalf("expected join-order rotation after the timeout")
	}
}

func TestStaleTimerDoesNotEndNewerRound(t *testing.T) {
	h := newHarness(t)
	sched := newManualScheduler()
	h.engine.UseScheduler(sched)
	session, p := h.lobby("Maria", "Xavier", "Yuki", "Zoe")
	h.start(session.ID, p[0].ID)

	sched.mu.Lock()
	stale := sched.fires[session.ID]
	sched.mu.Unlock()

	if _, err := h.engine.SubmitGuess(h.ctx, session.ID, p[1].ID, "Paris"); err != nil {
		t.Fatalf("guess: %v", err)
	}
	view := h.start(session.ID, p[1].ID)

	if err := stale(h.ctx); err != nil {
		t.Fatalf("stale callback: %v", err)
	}
	s := h.session(session.ID)
	if s.Status != game.StatusInProgress || *s.CurrentRound != view.Round.ID {
		t.Fatalf("stale timer ended the newer round")
	}
}

// C: a round that expired while the process was down is ended on recovery.
func TestRecoverEndsExpiredAndRearmsPending(t *testing.T) {
	h := newHarness(t)
	h.engine.UseScheduler(newManualScheduler())

	expired, p1 := h.lobby("Maria", "Xavier", "Yuki", "Zoe")
	expiredView := h.start(expired.ID, p1[0].ID)

	h.clock.Advance(30 * time.Second)
	pending, p2 := h.lobby("Ana", "Ben", "Cal", "Dee")
	pendingView, err := h.engine.StartRound(h.ctx, pending.ID, p2[0].ID, "2+2?", "four", 10*time.Minute)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	revealing, p3 := h.lobby("Eve", "Fay", "Gus", "Hal")
	h.start(revealing.ID, p3[0].ID)
	if _, err := h.engine.EndRound(h.ctx, revealing.ID, nil); err != nil {
		t.Fatalf("end round: %v", err)
	}
	if h.session(revealing.ID).Status != game.StatusEnded {
		t.Fatalf("expected reveal state")
	}

	// The process is down for five minutes.
	h.clock.Advance(5 * time.Minute)

	restarted := game.NewEngine(h.store, h.hub, h.clock, game.DefaultRules())
	svc := timers.New(h.clock)
	defer svc.Close()
	restarted.UseScheduler(svc)
	if err := restarted.Recover(h.ctx); err != nil {
		t.Fatalf("recover: %v", err)
	}

	s := h.session(expired.ID)
	if s.Status != game.StatusWaiting || masterOf(t, s) != p1[1].ID {
		t.Fatalf("expected expired round resolved with rotation, got %s", s.Status)
	}
	round, _ := h.store.GetRound(h.ctx, expiredView.Round.ID)
	if round.EndReason != game.ReasonRecoveredExpired {
		t.Fatalf("expected recovered reason, got %q", round.EndReason)
	}

	deadline, ok := svc.Pending(pending.ID)
	if !ok || !deadline.Equal(*pendingView.Round.EndsAt) {
		t.Fatalf("expected pending round re-armed at its deadline, got %v %v", deadline, ok)
	}
	if h.session(pending.ID).Status != game.StatusInProgress {
		t.Fatalf("pending round must keep running")
	}
	if h.session(revealing.ID).Status != game.StatusWaiting {
		t.Fatalf("expected ended session to return to waiting")
	}
	if svc.Len() != 1 {
		t.Fatalf("expected exactly one armed timer, got %d", svc.Len())
	}
}

// D: the master leaving mid-round rotates; the last player leaving deletes.
func TestMasterLeavesMidRoundThenEveryoneLeaves(t *testing.T) {
	h := newHarness(t)
	session, p := h.lobby("Maria", "Xavier", "Yuki", "Zoe", "Walt")
	view := h.start(session.ID, p[0].ID)
	sub, unsub := h.hub.Subscribe(game.SessionTopic(session.ID))
	defer unsub()

	if err := h.engine.Leave(h.ctx, session.ID, p[0].ID); err != nil {
		t.Fatalf("leave: %v", err)
	}
	s := h.session(session.ID)
	if s.Status != game.StatusWaiting || masterOf(t, s) != p[1].ID {
		t.Fatalf("expected rotation to Xavier, got %s", s.Status)
	}
	round, _ := h.store.GetRound(h.ctx, view.Round.ID)
	if round.EndReason != game.ReasonMasterLeft {
		t.Fatalf("unexpected end reason %q", round.EndReason)
	}
	if h.player(p[0].ID).Active {
		t.Fatalf("leaver must be inactive")
	}
	seen := eventTypes(drain(sub))
	if seen[fanout.TypePlayerLeave] != 1 || seen[fanout.TypeSessionUpdate] != 1 {
		t.Fatalf("unexpected events %v", seen)
	}

	// Leaving twice is harmless.
	if err := h.engine.Leave(h.ctx, session.ID, p[0].ID); err != nil {
		t.Fatalf("repeat leave: %v", err)
	}

	h.start(session.ID, p[1].ID)
	for _, pl := range p[1:] {
		if err := h.engine.Leave(h.ctx, session.ID, pl.ID); err != nil {
			t.Fatalf("leave %s: %v", pl.Username, err)
		}
	}
	if _, err := h.engine.GetSession(h.ctx, session.ID); !errors.Is(err, game.ErrNotFound) {
		t.Fatalf("expected session deleted, got %v", err)
	}
	if h.timers.Len() != 0 {
		t.Fatalf("expected timer cancelled")
	}
	if seen := eventTypes(drain(sub)); seen[fanout.TypeSessionDelete] != 1 {
		t.Fatalf("expected session_delete, got %v", seen)
	}
}

func TestMasterLeavingWhileWaitingRotates(t *testing.T) {
	h := newHarness(t)
	session, p := h.lobby("Maria", "Xavier", "Yuki")
	if err := h.engine.Leave(h.ctx, session.ID, p[0].ID); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if masterOf(t, h.session(session.ID)) != p[1].ID {
		t.Fatalf("expected Xavier as master")
	}
	err := h.engine.Leave(h.ctx, session.ID, uuid.New())
	expectCode(t, err, game.CodeNotFound)
}

func TestManualEndRound(t *testing.T) {
	h := newHarness(t)
	session, p := h.lobby("Maria", "Xavier", "Yuki", "Zoe")

	view, err := h.engine.EndRound(h.ctx, session.ID, nil)
	if err != nil || view.Status != game.StatusWaiting {
		t.Fatalf("ending without a round is a no-op: %v", err)
	}
	_, err = h.engine.EndRound(h.ctx, session.ID, &p[2].ID)
	expectCode(t, err, game.CodeNoActiveRound)

	h.start(session.ID, p[0].ID)
	_, err = h.engine.EndRound(h.ctx, session.ID, &p[0].ID)
	expectCode(t, err, game.CodeIsMaster)

	view, err = h.engine.EndRound(h.ctx, session.ID, &p[2].ID)
	if err != nil {
		t.Fatalf("end round: %v", err)
	}
	if view.Status != game.StatusEnded || view.Round == nil || view.Round.Answer != "paris" {
		t.Fatalf("expected reveal with answer, got %+v", view)
	}
	if masterOf(t, view.Session) != p[2].ID || h.player(p[2].ID).Score != 10 {
		t.Fatalf("winner must be awarded and promoted")
	}
	_, err = h.engine.StartRound(h.ctx, session.ID, p[2].ID, "Q?", "A", 0)
	expectCode(t, err, game.CodeInvalidRoundState)

	h.clock.Advance(3 * time.Second)
	waitFor(t, func() bool {
		s, err := h.engine.GetSession(h.ctx, session.ID)
		return err == nil && s.Status == game.StatusWaiting
	})
	h.start(session.ID, p[2].ID)
}

func TestEndRoundNoWinnerIsIdempotent(t *testing.T) {
	h := newHarness(t)
	session, p := h.lobby("Maria", "Xavier", "Yuki", "Zoe")
	h.start(session.ID, p[0].ID)

	first, err := h.engine.EndRoundNoWinner(h.ctx, session.ID, game.ReasonManual)
	if err != nil || first.Status != game.StatusWaiting || masterOf(t, first.Session) != p[1].ID {
		t.Fatalf("end round: %v %+v", err, first)
	}
	second, err := h.engine.EndRoundNoWinner(h.ctx, session.ID, game.ReasonManual)
	if err != nil || masterOf(t, second.Session) != p[1].ID {
		t.Fatalf("second end must be a no-op: %v", err)
	}
}

func TestHeartbeatMarksPlayerSeen(t *testing.T) {
	h := newHarness(t)
	session, p := h.lobby("Maria", "Xavier")
	sub, unsub := h.hub.Subscribe(game.SessionTopic(session.ID))
	defer unsub()

	h.clock.Advance(time.Minute)
	player, err := h.engine.Heartbeat(h.ctx, p[1].ID)
	if err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	if player.LastSeen == nil || !player.LastSeen.Equal(h.clock.Now().UTC()) || !player.Active {
		t.Fatalf("unexpected player %+v", player)
	}
	if seen := eventTypes(drain(sub)); seen[fanout.TypePlayerUpdate] != 1 {
		t.Fatalf("expected player_update, got %v", seen)
	}
	_, err = h.engine.Heartbeat(h.ctx, uuid.New())
	expectCode(t, err, game.CodeNotFound)
}

func TestDeleteSession(t *testing.T) {
	h := newHarness(t)
	session, p := h.lobby("Maria", "Xavier", "Yuki", "Zoe")
	h.start(session.ID, p[0].ID)
	if err := h.engine.DeleteSession(h.ctx, session.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if h.timers.Len() != 0 {
		t.Fatalf("expected timer cancelled")
	}
	_, err := h.engine.SubmitGuess(h.ctx, session.ID, p[1].ID, "paris")
	expectCode(t, err, game.CodeNotFound)
}

// failingStore lets fn run and then refuses to commit while fail is set.
// refuse rejects that many transactions before fn runs at all.
type failingStore struct {
	game.Store
	fail   atomic.Bool
	refuse atomic.Int32
	calls  atomic.Int32
}

var (
	errCommit      = errors.New("commit failed")
	errUnavailable = errors.New("connection refused")
)

func (f *failingStore) WithSession(ctx context.Context, id uuid.UUID, fn func(game.Tx) error) error {
	f.calls.Add(1)
	if f.refuse.Add(-1) >= 0 {
		return errUnavailable
	}
	f.refuse.Store(0)
	return f.Store.WithSession(ctx, id, func(tx game.Tx) error {
		if err := fn(tx); err != nil {
			return err
		}
		if f.fail.Load() {
			return errCommit
		}
		return nil
	})
}

func TestFailedCommitLeavesStateAndTimer(t *testing.T) {
	clock := clockwork.NewFakeClock()
	mem := store.NewMemory()
	fs := &failingStore{Store: mem}
	engine := game.NewEngine(fs, nil, clock, game.DefaultRules())
	svc := timers.New(clock)
	defer svc.Close()
	engine.UseScheduler(svc)
	ctx := context.Background()

	session, err := engine.CreateSession(ctx)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	var players []game.Player
	for _, name := range []string{"Maria", "Xavier", "Yuki", "Zoe"} {
		p, err := engine.Join(ctx, session.ID, name)
		if err != nil {
			t.Fatalf("join: %v", err)
		}
		players = append(players, p)
		clock.Advance(time.Millisecond)
	}
	if _, err := engine.StartRound(ctx, session.ID, players[0].ID, "Q?", "Paris", 0); err != nil {
		t.Fatalf("start: %v", err)
	}
	before, _ := svc.Pending(session.ID)

	fs.fail.Store(true)
	_, err = engine.SubmitGuess(ctx, session.ID, players[1].ID, "paris")
	if !errors.Is(err, errCommit) || game.CodeOf(err) != "" {
		t.Fatalf("expected storage error, got %v", err)
	}
	fs.fail.Store(false)

	after, ok := svc.Pending(session.ID)
	if !ok || !after.Equal(before) {
		t.Fatalf("timer must be restored after a failed commit")
	}
	s, _ := mem.GetSession(ctx, session.ID)
	if s.Status != game.StatusInProgress {
		t.Fatalf("state changed by failed commit")
	}
	attempts, _ := engine.ListAttempts(ctx, session.ID, players[1].ID)
	if len(attempts) != 0 {
		t.Fatalf("failed commit left attempts behind")
	}
}

func startFailingRound(t *testing.T) (fakeClock, *failingStore, *game.Engine, *timers.Service, game.Session, game.SessionView) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	fs := &failingStore{Store: store.NewMemory()}
	engine := game.NewEngine(fs, nil, clock, game.DefaultRules())
	svc := timers.New(clock)
	t.Cleanup(svc.Close)
	engine.UseScheduler(svc)
	ctx := context.Background()

	session, err := engine.CreateSession(ctx)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	var master uuid.UUID
	for i, name := range []string{"Maria", "Xavier", "Yuki", "Zoe"} {
		p, err := engine.Join(ctx, session.ID, name)
		if err != nil {
			t.Fatalf("join: %v", err)
		}
		if i == 0 {
			master = p.ID
		}
		clock.Advance(time.Millisecond)
	}
	view, err := engine.StartRound(ctx, session.ID, master, "Q?", "Paris", 0)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	return clock, fs, engine, svc, session, view
}

func TestTimeoutRetriesWhenStoreIsUnavailable(t *testing.T) {
	clock, fs, engine, svc, session, view := startFailingRound(t)
	ctx := context.Background()

	fs.refuse.Store(1)
	before := fs.calls.Load()
	clock.Advance(61 * time.Second)
	waitFor(t, func() bool { return fs.calls.Load() == before+1 })
	waitFor(t, func() bool {
		deadline, ok := svc.Pending(session.ID)
		return ok && deadline.After(*view.Round.EndsAt)
	})
	if s, _ := engine.GetSession(ctx, session.ID); s.Status != game.StatusInProgress {
		t.Fatalf("expected round to survive the failed timeout, got %s", s.Status)
	}

	clock.Advance(time.Hour)
	waitFor(t, func() bool {
		s, err := engine.GetSession(ctx, session.ID)
		return err == nil && s.Status == game.StatusWaiting
	})
	round, err := fs.GetRound(ctx, view.Round.ID)
	if err != nil || round.EndReason != game.ReasonTimeExpired {
		t.Fatalf("expected timeout after retry, got %v %+v", err, round)
	}
	waitFor(t, func() bool { return svc.Len() == 0 })
}

func TestTimeoutCommitFailureBacksOff(t *testing.T) {
	clock, fs, engine, svc, session, view := startFailingRound(t)
	ctx := context.Background()

	fs.fail.Store(true)
	before := fs.calls.Load()
	clock.Advance(61 * time.Second)
	waitFor(t, func() bool { return fs.calls.Load() > before })
	waitFor(t, func() bool {
		deadline, ok := svc.Pending(session.ID)
		return ok && deadline.Equal(clock.Now().Add(time.Second))
	})

	// Without a clock advance the failing callback must not spin.
	settled := fs.calls.Load()
	time.Sleep(50 * time.Millisecond)
	if got := fs.calls.Load(); got != settled {
		t.Fatalf("timeout retried %d times without waiting", got-settled)
	}

	fs.fail.Store(false)
	clock.Advance(time.Second)
	waitFor(t, func() bool {
		s, err := engine.GetSession(ctx, session.ID)
		return err == nil && s.Status == game.StatusWaiting
	})
	round, err := fs.GetRound(ctx, view.Round.ID)
	if err != nil || round.EndReason != game.ReasonTimeExpired {
		t.Fatalf("expected timeout after retry, got %v %+v", err, round)
	}
}

func TestAuditUsesEngineClock(t *testing.T) {
	h := newHarness(t)
	session, p := h.lobby("Maria", "Xavier", "Yuki", "Zoe")
	joined := h.player(p[0].ID).JoinedAt
	h.start(session.ID, p[0].ID)
	started := h.clock.Now()

	entries := h.store.Audit(session.ID)
	if len(entries) != 5 {
		t.Fatalf("expected four joins and a round start, got %+v", entries)
	}
	if !entries[0].At.Equal(joined) {
		t.Fatalf("expected join stamped %v, got %v", joined, entries[0].At)
	}
	if last := entries[4]; last.Type != "round_start" || !last.At.Equal(started) {
		t.Fatalf("expected round start stamped %v, got %+v", started, last)
	}
}

func TestHeartbeatsDuringGuessesKeepScores(t *testing.T) {
	h := newHarness(t)
	session, p := h.lobby("Maria", "Xavier", "Yuki", "Zoe")
	h.start(session.ID, p[0].ID)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for _, player := range p[1:] {
		wg.Add(1)
		go func(id uuid.UUID) {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				if _, err := h.engine.Heartbeat(h.ctx, id); err != nil {
					t.Errorf("heartbeat: %v", err)
					return
				}
			}
		}(player.ID)
	}

	for i := 0; i < 2; i++ {
		if _, err := h.engine.SubmitGuess(h.ctx, session.ID, p[1].ID, "lyon"); err != nil {
			t.Fatalf("guess: %v", err)
		}
	}
	attempts, err := h.engine.ListAttempts(h.ctx, session.ID, p[1].ID)
	if err != nil || len(attempts) != 2 {
		t.Fatalf("expected two attempts, got %v %d", err, len(attempts))
	}
	result, err := h.engine.SubmitGuess(h.ctx, session.ID, p[2].ID, "paris")
	if err != nil || !result.Correct {
		t.Fatalf("expected winning guess, got %v %+v", err, result)
	}
	close(stop)
	wg.Wait()

	winner := h.player(p[2].ID)
	if winner.Score != game.DefaultRules().PointsPerWin {
		t.Fatalf("expected the win to survive heartbeats, got score %d", winner.Score)
	}
	for _, player := range p[1:] {
		got := h.player(player.ID)
		if !got.Active || got.LastSeen == nil {
			t.Fatalf("expected %s active with last_seen, got %+v", got.Username, got)
		}
	}
	if h.player(p[1].ID).Score != 0 {
		t.Fatalf("wrong guesses must not score")
	}
}

func TestFindSessionResolvesRunningRound(t *testing.T) {
	h := newHarness(t)
	session, p := h.lobby("Maria", "Xavier", "Yuki", "Zoe")
	started := h.start(session.ID, p[0].ID)

	view, err := h.engine.FindSession(h.ctx, strings.ToLower(session.Code))
	if err != nil {
		t.Fatalf("find session: %v", err)
	}
	if view.Status != game.StatusInProgress || view.Round == nil || view.Round.ID != started.Round.ID {
		t.Fatalf("expected the running round, got %+v", view)
	}
	if view.Round.Answer != "" {
		t.Fatalf("lookup must not reveal the answer")
	}
}
