package server

import (
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/Purpose-Longe/guesssing-game/internal/config"
	"github.com/Purpose-Longe/guesssing-game/internal/fanout"
	"github.com/Purpose-Longe/guesssing-game/internal/game"
	"github.com/Purpose-Longe/guesssing-game/internal/store"
	"github.com/Purpose-Longe/guesssing-game/internal/timers"
)

func newTestServer(t *testing.T, handler http.Handler) *httptest.Server {
	t.Helper()
	listener, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Skipf("skipping test; listen unavailable: %v", err)
	}
	ts := &httptest.Server{
		Listener: listener,
		Config:   &http.Server{Handler: handler},
	}
	ts.Start()
	t.Cleanup(ts.Close)
	return ts
}

type advancingClock interface {
	clockwork.Clock
	Advance(d time.Duration)
}

type testApp struct {
	ts    *httptest.Server
	clock advancingClock
	hub   *fanout.Hub
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	cfg := config.Default()
	clock := clockwork.NewFakeClock()
	hub := fanout.NewHub(cfg.SubscriberBuffer, clock)
	engine := game.NewEngine(store.NewMemory(), hub, clock, cfg.Rules())
	svc := timers.New(clock)
	engine.UseScheduler(svc)
	t.Cleanup(svc.Close)
	srv := New(engine, hub, cfg, clock)
	return &testApp{ts: newTestServer(t, srv.Handler()), clock: clock, hub: hub}
}
