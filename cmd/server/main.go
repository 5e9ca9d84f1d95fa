package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Purpose-Longe/guesssing-game/internal/config"
	"github.com/Purpose-Longe/guesssing-game/internal/db"
	"github.com/Purpose-Longe/guesssing-game/internal/fanout"
	"github.com/Purpose-Longe/guesssing-game/internal/game"
	"github.com/Purpose-Longe/guesssing-game/internal/server"
	"github.com/Purpose-Longe/guesssing-game/internal/store"
	"github.com/Purpose-Longe/guesssing-game/internal/timers"
)

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		log.Warn().Err(err).Msg("failed to load .env")
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	setupLogging(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gameStore, closeStore := openStore(cfg)
	defer closeStore()

	clock := clockwork.NewRealClock()
	hub := fanout.NewHub(cfg.SubscriberBuffer, clock)
	var pub fanout.Publisher = hub
	if cfg.NATSURL != "" {
		nc, err := nats.Connect(cfg.NATSURL,
			nats.Name("guessing-game"),
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second),
		)
		if err != nil {
			log.Fatal().Err(err).Str("url", cfg.NATSURL).Msg("failed to connect to nats")
		}
		defer nc.Drain()
		pub = fanout.Multi{hub, fanout.NewNATSMirror(nc, cfg.NATSSubjectPrefix)}
		log.Info().Str("url", cfg.NATSURL).Str("prefix", cfg.NATSSubjectPrefix).Msg("mirroring events to nats")
	}

	engine := game.NewEngine(gameStore, pub, clock, cfg.Rules())
	scheduler := timers.New(clock)
	engine.UseScheduler(scheduler)
	defer scheduler.Close()

	if err := engine.Recover(ctx); err != nil {
		log.Error().Err(err).Msg("round recovery incomplete")
	}

	srv := server.New(engine, hub, cfg, clock)
	httpServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		log.Info().Str("addr", httpServer.Addr).Msg("guessing game server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}

func setupLogging(cfg config.Config) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}

// openStore uses Postgres when DATABASE_URL is set and keeps everything in
// memory otherwise.
func openStore(cfg config.Config) (game.Store, func()) {
	if cfg.DatabaseURL == "" {
		log.Warn().Msg("DATABASE_URL is not set, using the in-memory store")
		return store.NewMemory(), func() {}
	}
	conn, err := db.Open(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	if err := db.Migrate(conn); err != nil {
		log.Fatal().Err(err).Msg("database migration failed")
	}
	return store.NewGorm(conn), func() {
		if sqlDB, err := conn.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}
