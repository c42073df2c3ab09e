package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"my-feed-bot/internal/domain"
)

// ErrEmptyJob возвращается для задачи без получателя.
var ErrEmptyJob = errors.New("digest job without recipient")

func encodeJob(job domain.DigestJob) ([]byte, error) {
	if job.UserTGID == 0 {
		return nil, ErrEmptyJob
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.RequestedAt.IsZero() {
		job.RequestedAt = time.Now().UTC()
	}
	if job.ChatID == 0 {
		job.ChatID = job.UserTGID
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("marshal job: %w", err)
	}
	return payload, nil
}

func decodeJob(payload []byte) (domain.DigestJob, error) {
	var job domain.DigestJob
	if err := json.Unmarshal(payload, &job); err != nil {
		return domain.DigestJob{}, fmt.Errorf("decode job: %w", err)
	}
	if job.UserTGID == 0 {
		return domain.DigestJob{}, ErrEmptyJob
	}
	return job, nil
}
