package summarizer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"my-feed-bot/internal/domain"
	"my-feed-bot/internal/infra/metrics"
)

// Shortener превращает пост в одно предложение. При любой ошибке модели
// используется FirstSentence, поэтому Shorten никогда не возвращает ошибку.
type Shortener struct {
	llm      *LLM
	cache    domain.Cache
	cacheTTL time.Duration
	log      zerolog.Logger
}

var _ domain.Shortener = (*Shortener)(nil)

// NewShortener создаёт сокращатель. llm и cache могут быть nil.
func NewShortener(llm *LLM, cache domain.Cache, cacheTTL time.Duration, log zerolog.Logger) *Shortener {
	return &Shortener{llm: llm, cache: cache, cacheTTL: cacheTTL, log: log}
}

// Shorten возвращает одно предложение на основе текста поста.
func (s *Shortener) Shorten(ctx context.Context, text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	if s.llm == nil {
		return FirstSentence(text)
	}

	key := cacheKey(s.llm.Model(), text)
	if s.cache != nil {
		if cached, err := s.cache.Get(ctx, key); err == nil && len(cached) > 0 {
			return string(cached)
		}
	}

	short, err := s.llm.OneSentence(ctx, text)
	if err != nil || short == "" {
		metrics.ShortFeedFallbacks.Inc()
		s.log.Warn().Err(err).Msg("summarizer: LLM недоступна, берём первое предложение")
		return FirstSentence(text)
	}

	if s.cache != nil && s.cacheTTL > 0 {
		if err := s.cache.Set(ctx, key, []byte(short), s.cacheTTL); err != nil {
			s.log.Debug().Err(err).Msg("summarizer: не удалось сохранить в кэш")
		}
	}
	return short
}

func cacheKey(model, text string) string {
	sum := sha256.Sum256([]byte(text))
	return "short:" + model + ":" + hex.EncodeToString(sum[:])
}
