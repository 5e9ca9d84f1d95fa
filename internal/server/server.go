package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	"github.com/Purpose-Longe/guesssing-game/internal/config"
	"github.com/Purpose-Longe/guesssing-game/internal/fanout"
	"github.com/Purpose-Longe/guesssing-game/internal/game"
)

const serverNowHeader = "X-Server-Now"

type Server struct {
	engine   *game.Engine
	hub      *fanout.Hub
	cfg      config.Config
	clock    clockwork.Clock
	upgrader websocket.Upgrader
}

func New(engine *game.Engine, hub *fanout.Hub, cfg config.Config, clock clockwork.Clock) *Server {
	s := &Server{
		engine: engine,
		hub:    hub,
		cfg:    cfg,
		clock:  clock,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	registerValidators()
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), s.logRequests, s.stampServerNow)

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	api.POST("/sessions", s.handleCreateSession)
	api.GET("/sessions/:id", s.handleGetSession)
	api.DELETE("/sessions/:id", s.handleDeleteSession)
	api.GET("/sessions/:id/players", s.handleListPlayers)
	api.GET("/codes/:code", s.handleFindSession)
	api.POST("/players", s.handleJoin)
	api.POST("/players/:id/heartbeat", s.handleHeartbeat)
	api.POST("/start_round", s.handleStartRound)
	api.POST("/submit_guess", s.handleSubmitGuess)
	api.POST("/end_round", s.handleEndRound)
	api.POST("/leave", s.handleLeave)
	api.GET("/attempts/:session_id/:player_id", s.handleListAttempts)

	router.GET("/sse/:topic", s.handleSSE)
	router.GET("/ws/:topic", s.handleWebsocket)

	c := cors.New(cors.Options{
		AllowedOrigins: s.cfg.CORSAllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
		ExposedHeaders: []string{serverNowHeader},
	})
	return c.Handler(router)
}

// stampServerNow lets clients estimate their clock skew from any response.
func (s *Server) stampServerNow(c *gin.Context) {
	c.Header(serverNowHeader, s.clock.Now().UTC().Format(time.RFC3339Nano))
	c.Next()
}

func (s *Server) logRequests(c *gin.Context) {
	start := time.Now()
	c.Next()
	status := c.Writer.Status()
	event := log.Debug()
	if status >= http.StatusInternalServerError {
		event = log.Warn()
	}
	event.
		Str("method", c.Request.Method).
		Str("path", c.FullPath()).
		Int("status", status).
		Dur("took", time.Since(start)).
		Msg("request")
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || s.cfg.AllowsAnyOrigin() {
		return true
	}
	for _, allowed := range s.cfg.CORSAllowedOrigins {
		if allowed == origin {
			return true
		}
	}
	return false
}
