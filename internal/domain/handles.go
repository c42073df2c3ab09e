package domain

import (
	"regexp"
	"strings"
)

var handlePattern = regexp.MustCompile(`^@[a-zA-Z0-9_]{5,32}$`)

// NormalizeHandle приводит @username канала к каноничному виду.
// Хэндл обязан начинаться с @.
func NormalizeHandle(raw string) (string, error) {
	h := strings.ToLower(strings.TrimSpace(raw))
	if !handlePattern.MatchString(h) {
		return "", ErrInvalidUsername
	}
	return h, nil
}

// TrimHandle возвращает username без @.
func TrimHandle(handle string) string {
	return strings.TrimPrefix(strings.TrimSpace(handle), "@")
}
