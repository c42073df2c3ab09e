package summarizer

import (
	"strings"
	"unicode/utf8"
)

var sentenceEnds = []string{". ", "! ", "? ", "… "}

// maxFallbackRunes ограничивает длину локального сокращения, если в тексте нет конца предложения.
const maxFallbackRunes = 280

// FirstSentence возвращает первое предложение текста вместе с завершающим знаком.
// Пробелы и переводы строк схлопываются.
func FirstSentence(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if text == "" {
		return ""
	}
	cut := -1
	for _, end := range sentenceEnds {
		if idx := strings.Index(text, end); idx >= 0 && (cut < 0 || idx < cut) {
			cut = idx + len(end) - 1
		}
	}
	if cut > 0 {
		return text[:cut]
	}
	return truncate(text, maxFallbackRunes)
}

func truncate(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:limit])) + "…"
}

func clipRunes(text string, limit int) string {
	if limit <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}
