package domain

import (
	"context"
	"time"
)

// DigestJobCause описывает источник запроса на дайджест.
type DigestJobCause string

const (
	// DigestCauseManual означает, что пользователь запросил дайджест командой.
	DigestCauseManual DigestJobCause = "manual"
	// DigestCauseAdmin означает, что дайджест запросил администратор.
	DigestCauseAdmin DigestJobCause = "admin"
)

// DigestJob содержит информацию о задаче построения AI-сводки.
type DigestJob struct {
	ID          string         `json:"job_id,omitempty"`
	UserTGID    int64          `json:"user_tg_id"`
	ChatID      int64          `json:"chat_id"`
	RequestedAt time.Time      `json:"requested_at"`
	Cause       DigestJobCause `json:"cause"`
}

// DigestQueue описывает очередь задач на построение сводок.
type DigestQueue interface {
	Enqueue(ctx context.Context, job DigestJob) error
	Receive(ctx context.Context) (DigestJob, DigestAckFunc, error)
}

// DigestAckFunc подтверждает успешную обработку или запрашивает повтор доставки задачи.
type DigestAckFunc func(success bool) error

// DigestJobStatusRepo отвечает за отслеживание статуса доставки задач дайджеста.
type DigestJobStatusRepo interface {
	// EnsureDigestJob регистрирует попытку обработки и возвращает признак успешной доставки
	// и номер текущей попытки.
	EnsureDigestJob(ctx context.Context, jobID string) (delivered bool, attempt int, err error)
	// MarkDigestJobDelivered помечает задачу как окончательно доставленную.
	MarkDigestJobDelivered(ctx context.Context, jobID string) error
}
