package timers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

const (
	defaultCallbackTimeout = 30 * time.Second
	defaultRetryBase       = time.Second
	defaultRetryMax        = 30 * time.Second
)

// Service keeps at most one pending deadline callback per session. The
// handle table is advisory: after a restart it is rebuilt from persisted
// deadlines, never trusted.
//
// A callback that fails is retried with a doubling backoff until it
// succeeds or the session's timer is replaced or cancelled.
type Service struct {
	clock     clockwork.Clock
	timeout   time.Duration
	retryBase time.Duration
	retryMax  time.Duration

	mu      sync.Mutex
	seq     uint64
	handles map[uuid.UUID]*handle
	running sync.WaitGroup
}

type handle struct {
	seq      uint64
	timer    clockwork.Timer
	deadline time.Time
	failures int
}

func New(clock clockwork.Clock) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Service{
		clock:     clock,
		timeout:   defaultCallbackTimeout,
		retryBase: defaultRetryBase,
		retryMax:  defaultRetryMax,
		handles:   make(map[uuid.UUID]*handle),
	}
}

// Arm schedules fire at deadline, replacing any timer the session already
// had. A deadline in the past fires right away.
func (s *Service) Arm(sessionID uuid.UUID, deadline time.Time, fire func(ctx context.Context) error) {
	delay := deadline.Sub(s.clock.Now())
	if delay < 0 {
		delay = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.handles[sessionID]; ok {
		existing.timer.Stop()
		log.Debug().Str("session_id", sessionID.String()).Msg("replaced existing timer")
	}
	s.seq++
	seq := s.seq
	s.handles[sessionID] = &handle{
		seq:      seq,
		deadline: deadline,
		timer: s.clock.AfterFunc(delay, func() {
			s.fire(sessionID, seq, fire)
		}),
	}
	log.Debug().
		Str("session_id", sessionID.String()).
		Time("deadline", deadline).
		Dur("delay", delay).
		Msg("timer armed")
}

// Cancel stops the session's timer, if any.
func (s *Service) Cancel(sessionID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok := s.handles[sessionID]; ok {
		h.timer.Stop()
		delete(s.handles, sessionID)
		log.Debug().Str("session_id", sessionID.String()).Msg("timer cancelled")
	}
}

// Reset stops and forgets every timer.
func (s *Service) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, h := range s.handles {
		h.timer.Stop()
		delete(s.handles, id)
	}
}

// Close resets the service and waits for running callbacks to return.
func (s *Service) Close() {
	s.Reset()
	s.running.Wait()
}

// Pending returns the deadline armed for the session.
func (s *Service) Pending(sessionID uuid.UUID) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.handles[sessionID]
	if !ok {
		return time.Time{}, false
	}
	return h.deadline, true
}

// Len returns the number of armed timers.
func (s *Service) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handles)
}

// fire runs the callback while its handle stays in the table, so Cancel and
// Arm issued meanwhile are seen when deciding whether to retry.
func (s *Service) fire(sessionID uuid.UUID, seq uint64, fn func(ctx context.Context) error) {
	s.mu.Lock()
	h, ok := s.handles[sessionID]
	if !ok || h.seq != seq {
		// Replaced or cancelled after the timer had already started firing.
		s.mu.Unlock()
		return
	}
	s.running.Add(1)
	s.mu.Unlock()
	defer s.running.Done()

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	err := run(ctx, fn)
	cancel()

	s.mu.Lock()
	defer s.mu.Unlock()
	if current, ok := s.handles[sessionID]; !ok || current != h {
		if err != nil {
			log.Error().Err(err).Str("session_id", sessionID.String()).Msg("timer callback failed, timer already replaced")
		}
		return
	}
	if err == nil {
		delete(s.handles, sessionID)
		log.Debug().Str("session_id", sessionID.String()).Msg("timer fired")
		return
	}

	delay := s.backoff(h.failures)
	h.failures++
	h.deadline = s.clock.Now().Add(delay)
	h.timer = s.clock.AfterFunc(delay, func() {
		s.fire(sessionID, seq, fn)
	})
	log.Error().
		Err(err).
		Str("session_id", sessionID.String()).
		Int("failures", h.failures).
		Dur("retry_in", delay).
		Msg("timer callback failed")
}

func (s *Service) backoff(failures int) time.Duration {
	delay := s.retryBase
	for i := 0; i < failures && delay < s.retryMax; i++ {
		delay *= 2
	}
	if delay > s.retryMax {
		delay = s.retryMax
	}
	return delay
}

func run(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("timer callback panic: %v", r)
		}
	}()
	return fn(ctx)
}
