package telegram

import (
	"strings"
	"unicode/utf8"
)

const (
	messageLimit = 4096
	captionLimit = 1024
)

// SplitMessage режет текст на части, укладывающиеся в лимит сообщения Telegram.
func SplitMessage(text string) []string {
	return Split(text, messageLimit)
}

// FitsCaption сообщает, поместится ли текст в подпись к медиа.
func FitsCaption(text string) bool {
	return utf8.RuneCountInString(strings.TrimSpace(text)) <= captionLimit
}

// Split режет текст на куски не длиннее limit рун. Границы по возможности
// выбираются на переводах строк, чтобы не рвать абзацы и HTML-строки.
func Split(text string, limit int) []string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}
	runes := []rune(trimmed)
	if limit <= 0 || len(runes) <= limit {
		return []string{trimmed}
	}

	var parts []string
	for start := 0; start < len(runes); {
		end := start + limit
		if end >= len(runes) {
			parts = appendChunk(parts, runes[start:])
			break
		}
		cut := lastNewline(runes, start, end)
		if cut == -1 {
			cut = end
		}
		parts = appendChunk(parts, runes[start:cut])
		start = cut
		for start < len(runes) && runes[start] == '\n' {
			start++
		}
	}
	if len(parts) == 0 {
		return []string{trimmed}
	}
	return parts
}

func lastNewline(runes []rune, start, end int) int {
	for i := end; i > start; i-- {
		if runes[i-1] == '\n' {
			return i
		}
	}
	return -1
}

func appendChunk(parts []string, chunk []rune) []string {
	if s := strings.Trim(string(chunk), "\n"); s != "" {
		parts = append(parts, s)
	}
	return parts
}
