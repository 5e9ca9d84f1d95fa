package game

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
)

const (
	maxUsernameLength = 24
	maxQuestionLength = 500
	maxAnswerLength   = 200
	maxGuessLength    = 200
)

// Normalize case-folds and trims text. Stored answers and submitted guesses
// are only ever compared in this form.
func Normalize(text string) string {
	return strings.TrimSpace(cases.Fold().String(strings.TrimSpace(text)))
}

// usernameKey is the case-insensitive identity of a display name.
func usernameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func validateUsername(name string) (string, error) {
	trimmed := strings.Join(strings.Fields(name), " ")
	if trimmed == "" {
		return "", validationError("username is required")
	}
	if utf8.RuneCountInString(trimmed) > maxUsernameLength {
		return "", validationError("username must be %d characters or fewer", maxUsernameLength)
	}
	return trimmed, nil
}

func validateQuestion(question, answer string) (string, string, error) {
	q := strings.TrimSpace(question)
	if q == "" {
		return "", "", validationError("question is required")
	}
	if utf8.RuneCountInString(q) > maxQuestionLength {
		return "", "", validationError("question must be %d characters or fewer", maxQuestionLength)
	}
	a := Normalize(answer)
	if a == "" {
		return "", "", validationError("answer is required")
	}
	if utf8.RuneCountInString(a) > maxAnswerLength {
		return "", "", validationError("answer must be %d characters or fewer", maxAnswerLength)
	}
	return q, a, nil
}

func validateGuess(guess string) error {
	if strings.TrimSpace(guess) == "" {
		return validationError("guess is required")
	}
	if utf8.RuneCountInString(guess) > maxGuessLength {
		return validationError("guess must be %d characters or fewer", maxGuessLength)
	}
	return nil
}
