package server

import (
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

// Request-level limits. The engine repeats these checks on the normalized text.
const (
	maxNameLength     = 24
	maxQuestionLength = 500
	maxAnswerLength   = 200
	maxGuessLength    = 200
)

var validatorOnce sync.Once

func registerValidators() {
	validatorOnce.Do(func() {
		engine, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		_ = engine.RegisterValidation("name", textRule(maxNameLength))
		_ = engine.RegisterValidation("question", textRule(maxQuestionLength))
		_ = engine.RegisterValidation("answer", textRule(maxAnswerLength))
		_ = engine.RegisterValidation("guess", textRule(maxGuessLength))
	})
}

func textRule(maxLen int) validator.Func {
	return func(fl validator.FieldLevel) bool {
		return validText(fl.Field().String(), maxLen)
	}
}

func validText(text string, maxLen int) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" || utf8.RuneCountInString(trimmed) > maxLen {
		return false
	}
	for _, r := range trimmed {
		if r < ' ' && r != '\t' {
			return false
		}
	}
	return true
}
