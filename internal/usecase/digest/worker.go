package digest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"my-feed-bot/internal/domain"
)

// После maxAttempts попыток задача снимается с очереди.
const maxAttempts = 3

// TextSender отправляет текстовое сообщение.
type TextSender interface {
	SendText(ctx context.Context, chatID int64, text string) error
}

// Worker обрабатывает задачи сводки из очереди.
type Worker struct {
	service *Service
	queue   domain.DigestQueue
	jobs    domain.DigestJobStatusRepo
	sender  TextSender
	log     zerolog.Logger
}

// NewWorker создаёт обработчик очереди сводок.
func NewWorker(service *Service, queue domain.DigestQueue, jobs domain.DigestJobStatusRepo, sender TextSender, log zerolog.Logger) *Worker {
	return &Worker{service: service, queue: queue, jobs: jobs, sender: sender, log: log}
}

// Run читает очередь до отмены контекста.
func (w *Worker) Run(ctx context.Context) error {
	for {
		job, ack, err := w.queue.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.log.Error().Err(err).Msg("digest-worker: ошибка чтения очереди")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}
		success := true
		if err := w.Process(ctx, job); err != nil {
			w.log.Error().Err(err).Str("job_id", job.ID).Int64("tg_user_id", job.UserTGID).Msg("digest-worker: ошибка обработки задачи")
			success = false
		}
		if ack != nil {
			if err := ack(success); err != nil {
				w.log.Warn().Err(err).Str("job_id", job.ID).Msg("digest-worker: не удалось подтвердить задачу")
			}
		}
	}
}

// Process собирает и отправляет одну сводку. Повторно доставленная задача
// не отправляется второй раз.
func (w *Worker) Process(ctx context.Context, job domain.DigestJob) error {
	if job.ID != "" && w.jobs != nil {
		delivered, attempt, err := w.jobs.EnsureDigestJob(ctx, job.ID)
		if err != nil {
			return fmt.Errorf("регистрация задачи: %w", err)
		}
		if delivered {
			w.log.Info().Str("job_id", job.ID).Msg("digest-worker: задача уже выполнена")
			return nil
		}
		if attempt > maxAttempts {
			w.log.Warn().Str("job_id", job.ID).Int("attempt", attempt).Msg("digest-worker: превышено число попыток")
			w.notify(ctx, job.ChatID, FailedText)
			return w.markDelivered(ctx, job.ID)
		}
	}

	chatID := job.ChatID
	if chatID == 0 {
		chatID = job.UserTGID
	}
	text, err := w.service.Build(ctx, job.UserTGID)
	switch {
	case errors.Is(err, ErrNoPosts):
		text = EmptyText(w.service.Window())
	case err != nil:
		return err
	}
	if err := w.sender.SendText(ctx, chatID, text); err != nil {
		return fmt.Errorf("отправка сводки: %w", err)
	}
	if err := w.markDelivered(ctx, job.ID); err != nil {
		return err
	}
	w.service.record(ctx, domain.BusinessMetricEventDigestDelivered, job.UserTGID, map[string]any{"job_id": job.ID})
	w.log.Info().Str("job_id", job.ID).Int64("tg_user_id", job.UserTGID).Msg("digest-worker: сводка отправлена")
	return nil
}

func (w *Worker) markDelivered(ctx context.Context, jobID string) error {
	if jobID == "" || w.jobs == nil {
		return nil
	}
	if err := w.jobs.MarkDigestJobDelivered(ctx, jobID); err != nil {
		return fmt.Errorf("отметка задачи: %w", err)
	}
	return nil
}

func (w *Worker) notify(ctx context.Context, chatID int64, text string) {
	if err := w.sender.SendText(ctx, chatID, text); err != nil {
		w.log.Warn().Err(err).Int64("chat_id", chatID).Msg("digest-worker: не удалось отправить уведомление")
	}
}
