// Package delivery пересылает собранные посты подписчикам.
package delivery

import (
	"context"
	"html"
	"strings"

	"my-feed-bot/internal/domain"
)

// Options перечисляет функции, включённые для получателя в текущем цикле.
type Options struct {
	SpamFilter bool
	ShortFeed  bool
}

// OptionsFor вычисляет опции получателя. VIP-функции действуют только пока VIP активен.
func OptionsFor(user domain.User, vip bool) Options {
	return Options{
		SpamFilter: vip && user.SpamFilterOn,
		ShortFeed:  vip && user.ShortFeedOn,
	}
}

// Pipeline прогоняет пост через classify → summarize → render → dispatch.
type Pipeline struct {
	spam       domain.SpamClassifier
	shortener  domain.Shortener
	dispatcher domain.Dispatcher
}

// NewPipeline создаёт конвейер. spam и shortener могут быть nil.
func NewPipeline(spam domain.SpamClassifier, shortener domain.Shortener, dispatcher domain.Dispatcher) *Pipeline {
	return &Pipeline{spam: spam, shortener: shortener, dispatcher: dispatcher}
}

// IsAd сообщает, нужно ли пропустить пост как рекламу.
func (p *Pipeline) IsAd(post domain.FeedPost, opts Options) bool {
	if !opts.SpamFilter || p.spam == nil {
		return false
	}
	return p.spam.LooksLikeAd(post.Text)
}

// Summarize возвращает текст поста, при включённой короткой ленте сокращённый до одного предложения.
func (p *Pipeline) Summarize(ctx context.Context, post domain.FeedPost, opts Options) string {
	text := strings.TrimSpace(post.Text)
	if !opts.ShortFeed || p.shortener == nil || text == "" {
		return text
	}
	if short := p.shortener.Shorten(ctx, text); short != "" {
		return short
	}
	return text
}

// Dispatch отправляет подготовленный пост.
func (p *Pipeline) Dispatch(ctx context.Context, chatID int64, out domain.OutgoingPost) error {
	return p.dispatcher.Dispatch(ctx, chatID, out)
}

// Render добавляет к тексту строку с источником.
func Render(post domain.FeedPost, text string) domain.OutgoingPost {
	var b strings.Builder
	b.WriteString("📰 ")
	b.WriteString(Attribution(post))
	if text != "" {
		b.WriteString("\n\n")
		b.WriteString(html.EscapeString(text))
	}
	return domain.OutgoingPost{
		Text:      b.String(),
		MediaType: post.MediaType,
		Paths:     post.MediaPaths,
	}
}

// Attribution возвращает название канала, по возможности ссылкой на исходное сообщение.
func Attribution(post domain.FeedPost) string {
	name := strings.TrimSpace(post.ChannelTitle)
	if name == "" {
		name = post.ChannelUsername
	}
	name = html.EscapeString(name)
	link := post.SourceLink()
	if link == "" {
		return "<b>" + name + "</b>"
	}
	return `<a href="` + html.EscapeString(link) + `">` + name + "</a>"
}
