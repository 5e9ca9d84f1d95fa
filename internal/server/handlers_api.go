package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Purpose-Longe/guesssing-game/internal/game"
)

type idURI struct {
	ID string `uri:"id" binding:"required,uuid"`
}

type codeURI struct {
	Code string `uri:"code" binding:"required,max=16"`
}

type attemptsURI struct {
	SessionID string `uri:"session_id" binding:"required,uuid"`
	PlayerID  string `uri:"player_id" binding:"required,uuid"`
}

type joinRequest struct {
	SessionID string `json:"session_id" binding:"required,uuid"`
	Username  string `json:"username" binding:"required,name"`
}

type startRoundRequest struct {
	SessionID       string `json:"session_id" binding:"required,uuid"`
	PlayerID        string `json:"player_id" binding:"required,uuid"`
	Question        string `json:"question" binding:"required,question"`
	Answer          string `json:"answer" binding:"required,answer"`
	DurationSeconds int    `json:"duration_seconds" binding:"gte=0"`
}

type guessRequest struct {
	SessionID string `json:"session_id" binding:"required,uuid"`
	PlayerID  string `json:"player_id" binding:"required,uuid"`
	Guess     string `json:"guess" binding:"required,guess"`
}

type endRoundRequest struct {
	SessionID string `json:"session_id" binding:"required,uuid"`
	WinnerID  string `json:"winner_id" binding:"omitempty,uuid"`
}

type leaveRequest struct {
	SessionID string `json:"session_id" binding:"required,uuid"`
	PlayerID  string `json:"player_id" binding:"required,uuid"`
}

var idMessages = bindMessages{
	"SessionID": {"required": "session_id is required", "uuid": "session_id must be a uuid"},
	"PlayerID":  {"required": "player_id is required", "uuid": "player_id must be a uuid"},
	"WinnerID":  {"uuid": "winner_id must be a uuid"},
}

func withIDMessages(extra bindMessages) bindMessages {
	out := bindMessages{}
	for field, msgs := range idMessages {
		out[field] = msgs
	}
	for field, msgs := range extra {
		out[field] = msgs
	}
	return out
}

var (
	joinMessages = withIDMessages(bindMessages{
		"Username": {"required": "username is required", "name": "username must be 1-24 characters"},
	})
	startRoundMessages = withIDMessages(bindMessages{
		"Question":        {"required": "question is required", "question": "question must be 1-500 characters"},
		"Answer":          {"required": "answer is required", "answer": "answer must be 1-200 characters"},
		"DurationSeconds": {"gte": "duration_seconds must not be negative"},
	})
	guessMessages = withIDMessages(bindMessages{
		"Guess": {"required": "guess is required", "guess": "guess must be 1-200 characters"},
	})
)

func (s *Server) handleCreateSession(c *gin.Context) {
	session, err := s.engine.CreateSession(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, session)
}

func (s *Server) handleGetSession(c *gin.Context) {
	var uri idURI
	if !bindURI(c, &uri) {
		return
	}
	view, err := s.engine.GetSession(c.Request.Context(), parseID(uri.ID))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) handleFindSession(c *gin.Context) {
	var uri codeURI
	if !bindURI(c, &uri) {
		return
	}
	view, err := s.engine.FindSession(c.Request.Context(), uri.Code)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) handleDeleteSession(c *gin.Context) {
	var uri idURI
	if !bindURI(c, &uri) {
		return
	}
	if err := s.engine.DeleteSession(c.Request.Context(), parseID(uri.ID)); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleListPlayers(c *gin.Context) {
	var uri idURI
	if !bindURI(c, &uri) {
		return
	}
	players, err := s.engine.ListPlayers(c.Request.Context(), parseID(uri.ID))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, players)
}

func (s *Server) handleJoin(c *gin.Context) {
	var req joinRequest
	if !bindJSON(c, &req, joinMessages, "invalid join request") {
		return
	}
	player, err := s.engine.Join(c.Request.Context(), parseID(req.SessionID), req.Username)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, player)
}

func (s *Server) handleHeartbeat(c *gin.Context) {
	var uri idURI
	if !bindURI(c, &uri) {
		return
	}
	player, err := s.engine.Heartbeat(c.Request.Context(), parseID(uri.ID))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, player)
}

func (s *Server) handleStartRound(c *gin.Context) {
	var req startRoundRequest
	if !bindJSON(c, &req, startRoundMessages, "invalid round request") {
		return
	}
	view, err := s.engine.StartRound(
		c.Request.Context(),
		parseID(req.SessionID),
		parseID(req.PlayerID),
		req.Question,
		req.Answer,
		time.Duration(req.DurationSeconds)*time.Second,
	)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) handleSubmitGuess(c *gin.Context) {
	var req guessRequest
	if !bindJSON(c, &req, guessMessages, "invalid guess") {
		return
	}
	result, err := s.engine.SubmitGuess(c.Request.Context(), parseID(req.SessionID), parseID(req.PlayerID), req.Guess)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleEndRound(c *gin.Context) {
	var req endRoundRequest
	if !bindJSON(c, &req, idMessages, "invalid end round request") {
		return
	}
	view, err := s.engine.EndRound(c.Request.Context(), parseID(req.SessionID), parseOptionalID(req.WinnerID))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) handleLeave(c *gin.Context) {
	var req leaveRequest
	if !bindJSON(c, &req, idMessages, "invalid leave request") {
		return
	}
	if err := s.engine.Leave(c.Request.Context(), parseID(req.SessionID), parseID(req.PlayerID)); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleListAttempts(c *gin.Context) {
	var uri attemptsURI
	if !bindURI(c, &uri) {
		return
	}
	attempts, err := s.engine.ListAttempts(c.Request.Context(), parseID(uri.SessionID), parseID(uri.PlayerID))
	if err != nil {
		writeError(c, err)
		return
	}
	if attempts == nil {
		attempts = []game.Attempt{}
	}
	c.JSON(http.StatusOK, attempts)
}
