package telegram

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"my-feed-bot/internal/domain"
	"my-feed-bot/internal/infra/metrics"
)

// albumLimit ограничивает число элементов в одном media group.
const albumLimit = 10

// ErrNothingToSend возвращается, если у поста нет ни текста, ни доступных файлов.
var ErrNothingToSend = errors.New("пустой пост")

type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	SendMediaGroup(c tgbotapi.MediaGroupConfig) ([]tgbotapi.Message, error)
}

// Dispatcher отправляет посты через Bot API.
type Dispatcher struct {
	bot     botAPI
	limiter *rate.Limiter
	log     zerolog.Logger
	stat    func(string) (os.FileInfo, error)
}

var _ domain.Dispatcher = (*Dispatcher)(nil)

// NewDispatcher создаёт отправителя. rps <= 0 отключает ограничение частоты.
func NewDispatcher(bot botAPI, rps float64, log zerolog.Logger) *Dispatcher {
	limiter := rate.NewLimiter(rate.Inf, 0)
	if rps > 0 {
		limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
	return &Dispatcher{bot: bot, limiter: limiter, log: log, stat: os.Stat}
}

// Dispatch отправляет пост получателю. Если локальных файлов нет, пост уходит текстом.
func (d *Dispatcher) Dispatch(ctx context.Context, chatID int64, post domain.OutgoingPost) error {
	paths := d.existing(post.Paths)
	if post.MediaType != domain.MediaNone && len(paths) < len(post.Paths) {
		d.log.Warn().Int64("chat_id", chatID).Int("missing", len(post.Paths)-len(paths)).Msg("telegram: часть файлов поста не найдена")
	}
	if post.MediaType == domain.MediaNone || len(paths) == 0 {
		return d.SendText(ctx, chatID, post.Text)
	}

	caption := post.Text
	if !FitsCaption(caption) {
		caption = ""
	}
	var err error
	if post.MediaType == domain.MediaMediaGroup || len(paths) > 1 {
		err = d.sendAlbum(ctx, chatID, paths, caption)
	} else {
		err = d.sendSingle(ctx, chatID, post.MediaType, paths[0], caption)
	}
	if err != nil {
		return err
	}
	if caption == "" && strings.TrimSpace(post.Text) != "" {
		// Медиа уже доставлено: повтор всего поста продублировал бы файлы.
		if err := d.SendText(ctx, chatID, post.Text); err != nil {
			d.log.Warn().Err(err).Int64("chat_id", chatID).Msg("telegram: текст после медиа не отправлен")
		}
	}
	return nil
}

// SendText отправляет HTML-текст, при необходимости несколькими сообщениями.
func (d *Dispatcher) SendText(ctx context.Context, chatID int64, text string) error {
	parts := SplitMessage(text)
	if len(parts) == 0 {
		return ErrNothingToSend
	}
	for _, part := range parts {
		msg := tgbotapi.NewMessage(chatID, part)
		msg.ParseMode = tgbotapi.ModeHTML
		msg.DisableWebPagePreview = true
		if err := d.send(ctx, chatID, "send_message", msg); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dispatcher) sendSingle(ctx context.Context, chatID int64, mediaType domain.MediaType, path, caption string) error {
	file := tgbotapi.FilePath(path)
	var (
		msg tgbotapi.Chattable
		op  string
	)
	switch mediaType {
	case domain.MediaPhoto:
		cfg := tgbotapi.NewPhoto(chatID, file)
		cfg.Caption, cfg.ParseMode = caption, tgbotapi.ModeHTML
		msg, op = cfg, "send_photo"
	case domain.MediaVideo:
		cfg := tgbotapi.NewVideo(chatID, file)
		cfg.Caption, cfg.ParseMode = caption, tgbotapi.ModeHTML
		msg, op = cfg, "send_video"
	case domain.MediaVoice:
		cfg := tgbotapi.NewVoice(chatID, file)
		cfg.Caption, cfg.ParseMode = caption, tgbotapi.ModeHTML
		msg, op = cfg, "send_voice"
	default:
		return d.sendDocument(ctx, chatID, path, caption)
	}

	err := d.send(ctx, chatID, op, msg)
	if err == nil || ctx.Err() != nil {
		return err
	}
	d.log.Warn().Err(err).Int64("chat_id", chatID).Str("media_type", string(mediaType)).Msg("telegram: повторяем отправку документом")
	return d.sendDocument(ctx, chatID, path, caption)
}

func (d *Dispatcher) sendDocument(ctx context.Context, chatID int64, path, caption string) error {
	cfg := tgbotapi.NewDocument(chatID, tgbotapi.FilePath(path))
	cfg.Caption, cfg.ParseMode = caption, tgbotapi.ModeHTML
	return d.send(ctx, chatID, "send_document", cfg)
}

func (d *Dispatcher) sendAlbum(ctx context.Context, chatID int64, paths []string, caption string) error {
	asDocuments := false
	for _, p := range paths {
		if albumKind(p) == domain.MediaDocument {
			asDocuments = true
			break
		}
	}
	for start := 0; start < len(paths); start += albumLimit {
		end := start + albumLimit
		if end > len(paths) {
			end = len(paths)
		}
		chunk := paths[start:end]
		if len(chunk) == 1 {
			c := ""
			if start == 0 {
				c = caption
			}
			if err := d.sendSingle(ctx, chatID, albumKind(chunk[0]), chunk[0], c); err != nil {
				return err
			}
			continue
		}
		items := make([]interface{}, 0, len(chunk))
		for i, p := range chunk {
			c := ""
			if start == 0 && i == 0 {
				c = caption
			}
			items = append(items, inputMedia(p, c, asDocuments))
		}
		if err := d.wait(ctx); err != nil {
			return err
		}
		began := time.Now()
		group := tgbotapi.NewMediaGroup(chatID, items)
		err := call(ctx, func() error {
			_, err := d.bot.SendMediaGroup(group)
			return err
		})
		metrics.ObserveNetworkRequest("telegram_bot", "send_media_group", strconv.FormatInt(chatID, 10), began, err)
		if err != nil {
			return fmt.Errorf("отправка альбома: %w", err)
		}
	}
	return nil
}

func inputMedia(path, caption string, asDocument bool) interface{} {
	file := tgbotapi.FilePath(path)
	kind := albumKind(path)
	if asDocument {
		kind = domain.MediaDocument
	}
	switch kind {
	case domain.MediaPhoto:
		m := tgbotapi.NewInputMediaPhoto(file)
		m.Caption, m.ParseMode = caption, tgbotapi.ModeHTML
		return m
	case domain.MediaVideo:
		m := tgbotapi.NewInputMediaVideo(file)
		m.Caption, m.ParseMode = caption, tgbotapi.ModeHTML
		return m
	default:
		m := tgbotapi.NewInputMediaDocument(file)
		m.Caption, m.ParseMode = caption, tgbotapi.ModeHTML
		return m
	}
}

// albumKind определяет вид элемента альбома по расширению файла.
func albumKind(path string) domain.MediaType {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg", ".png", ".webp":
		return domain.MediaPhoto
	case ".mp4", ".mov", ".m4v", ".webm":
		return domain.MediaVideo
	default:
		return domain.MediaDocument
	}
}

func (d *Dispatcher) send(ctx context.Context, chatID int64, op string, msg tgbotapi.Chattable) error {
	if err := d.wait(ctx); err != nil {
		return err
	}
	start := time.Now()
	err := call(ctx, func() error {
		_, err := d.bot.Send(msg)
		return err
	})
	metrics.ObserveNetworkRequest("telegram_bot", op, strconv.FormatInt(chatID, 10), start, err)
	if err != nil {
		return fmt.Errorf("telegram %s: %w", op, err)
	}
	return nil
}

// call выполняет запрос к Bot API и возвращается по истечении ctx.
// Сам запрос ограничен таймаутом HTTP-клиента бота.
func call(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	go func() { done <- fn() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) wait(ctx context.Context) error {
	if err := d.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("ожидание лимита отправки: %w", err)
	}
	return nil
}

func (d *Dispatcher) existing(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if p == "" {
			continue
		}
		if info, err := d.stat(p); err == nil && info.Mode().IsRegular() {
			out = append(out, p)
		}
	}
	return out
}
