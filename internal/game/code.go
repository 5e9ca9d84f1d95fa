package game

import (
	"crypto/rand"
	"strings"
)

const joinCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

func newJoinCode() string {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return "AAAAAA"
	}
	for i := range buf {
		buf[i] = joinCodeAlphabet[int(buf[i])%len(joinCodeAlphabet)]
	}
	return string(buf)
}

// CanonicalCode is the stored form of a join code.
func CanonicalCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
