package server

import (
	"html"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
)

const (
	maxUsernameLength = 32
	maxMessageLength  = 200
	joinCodeLength    = 5
	joinCodeAlphabet  = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

var (
	validatorOnce sync.Once
	policy        = bluemonday.StrictPolicy()
)

func registerValidators() {
	validatorOnce.Do(func() {
		engine, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		_ = engine.RegisterValidation("joincode", func(fl validator.FieldLevel) bool {
			return validJoinCode(fl.Field().String())
		})
	})
}

func validJoinCode(code string) bool {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != joinCodeLength {
		return false
	}
	for _, r := range code {
		if !strings.ContainsRune(joinCodeAlphabet, r) {
			return false
		}
	}
	return true
}

// sanitizeText strips markup, collapses whitespace and caps the length in
// runes. Entities escaped by the policy are decoded again so guesses like
// "Guns N' Roses" reach the matcher unchanged.
func sanitizeText(text string, maxLen int) string {
	cleaned := normalizeText(html.UnescapeString(policy.Sanitize(text)))
	if utf8.RuneCountInString(cleaned) <= maxLen {
		return cleaned
	}
	return strings.TrimSpace(string([]rune(cleaned)[:maxLen]))
}

func normalizeText(text string) string {
	fields := strings.Fields(strings.TrimSpace(text))
	return strings.Join(fields, " ")
}

// displayName falls back to the user id when no usable name is given.
func displayName(username, userID string) string {
	if name := sanitizeText(username, maxUsernameLength); name != "" {
		return name
	}
	return userID
}
