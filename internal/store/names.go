package store

import "strings"

func lowerName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
