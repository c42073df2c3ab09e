package summarizer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"my-feed-bot/internal/infra/openai"
)

// DefaultModel используется, если модель не задана в конфигурации.
const DefaultModel = "mistral-small-latest"

const oneSentencePrompt = "Сократи текст до ОДНОГО предложения на русском. Без эмодзи, без добавления фактов."

// maxInputRunes ограничивает объём текста, который уходит в модель.
const maxInputRunes = 4000

type chatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// LLM выполняет запросы к модели через OpenAI-совместимый API.
type LLM struct {
	client  chatClient
	model   string
	timeout time.Duration
}

// NewLLM создаёт обёртку над клиентом. Пустая модель заменяется DefaultModel.
func NewLLM(client chatClient, model string, timeout time.Duration) *LLM {
	if model == "" {
		model = DefaultModel
	}
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &LLM{client: client, model: model, timeout: timeout}
}

// Model возвращает имя модели.
func (l *LLM) Model() string { return l.model }

// OneSentence сжимает текст до одного предложения.
func (l *LLM) OneSentence(ctx context.Context, text string) (string, error) {
	return l.complete(ctx, l.timeout, 0.2, oneSentencePrompt, clipRunes(text, maxInputRunes))
}

func (l *LLM) complete(ctx context.Context, timeout time.Duration, temperature float64, system, user string) (string, error) {
	if l == nil || l.client == nil {
		return "", fmt.Errorf("llm не настроен")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := l.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: l.model,
		Messages: []openai.ChatMessage{
			{Role: openai.RoleSystem, Content: system},
			{Role: openai.RoleUser, Content: user},
		},
		Temperature: temperature,
	})
	if err != nil {
		return "", fmt.Errorf("запрос к LLM: %w", err)
	}
	content, err := resp.Content()
	if err != nil {
		return "", fmt.Errorf("ответ LLM: %w", err)
	}
	return strings.TrimSpace(content), nil
}
