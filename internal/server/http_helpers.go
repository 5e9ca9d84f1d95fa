package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/Purpose-Longe/guesssing-game/internal/game"
)

func writeValidation(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
		"error":   string(game.CodeValidation),
		"message": message,
	})
}

// writeError maps engine errors onto HTTP statuses. Anything without an
// engine code is reported as an opaque internal error.
func writeError(c *gin.Context, err error) {
	code := game.CodeOf(err)
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		c.AbortWithStatusJSON(status, gin.H{"error": "internal", "message": "internal error"})
		return
	}
	message := err.Error()
	var gameErr *game.Error
	if errors.As(err, &gameErr) {
		// Drop the storage context wrapped around the engine error.
		message = gameErr.Error()
	}
	c.AbortWithStatusJSON(status, gin.H{"error": string(code), "message": message})
}

func statusFor(err error) int {
	if game.IsConflict(err) {
		return http.StatusConflict
	}
	switch game.CodeOf(err) {
	case game.CodeValidation:
		return http.StatusBadRequest
	case game.CodeNotFound:
		return http.StatusNotFound
	case game.CodeNotMaster, game.CodeIsMaster:
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}
