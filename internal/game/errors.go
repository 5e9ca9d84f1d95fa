package game

import (
	"errors"
	"fmt"
)

// Code classifies an engine error for callers.
type Code string

const (
	CodeValidation          Code = "validation"
	CodeNotFound            Code = "not_found"
	CodeNameTaken           Code = "name_taken"
	CodeNotMaster           Code = "not_master"
	CodeIsMaster            Code = "is_master"
	CodeInsufficientPlayers Code = "insufficient_players"
	CodeInvalidRoundState   Code = "invalid_round_state"
	CodeNoActiveRound       Code = "no_active_round"
	CodeNoAttemptsRemaining Code = "no_attempts_remaining"
)

type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return e.Message
}

// Is matches any *Error carrying the same code.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return other.Code == e.Code
}

var (
	ErrNotFound            = &Error{Code: CodeNotFound, Message: "not found"}
	ErrNameTaken           = &Error{Code: CodeNameTaken, Message: "username already taken in this session"}
	ErrNotMaster           = &Error{Code: CodeNotMaster, Message: "only the game master can start a round"}
	ErrIsMaster            = &Error{Code: CodeIsMaster, Message: "game master cannot submit guesses"}
	ErrInsufficientPlayers = &Error{Code: CodeInsufficientPlayers, Message: "not enough active players"}
	ErrInvalidRoundState   = &Error{Code: CodeInvalidRoundState, Message: "a round cannot start in the current state"}
	ErrNoActiveRound       = &Error{Code: CodeNoActiveRound, Message: "no active round"}
	ErrNoAttemptsRemaining = &Error{Code: CodeNoAttemptsRemaining, Message: "no attempts remaining"}
)

// ErrDuplicate is returned by stores when a uniqueness constraint rejects a write.
var ErrDuplicate = errors.New("duplicate key")

func validationError(format string, args ...any) error {
	return &Error{Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
}

func notFound(what string) error {
	return &Error{Code: CodeNotFound, Message: what + " not found"}
}

// CodeOf returns the engine code of err, or "" for storage and unknown errors.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsConflict reports errors raised after inspecting live state under the session lock.
func IsConflict(err error) bool {
	switch CodeOf(err) {
	case CodeNameTaken, CodeInsufficientPlayers, CodeInvalidRoundState, CodeNoActiveRound, CodeNoAttemptsRemaining:
		return true
	}
	return false
}
