package queue

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"my-feed-bot/internal/domain"
)

func TestEncodeJobFillsDefaults(t *testing.T) {
	payload, err := encodeJob(domain.DigestJob{UserTGID: 42, Cause: domain.DigestCauseManual})
	if err != nil {
		t.Fatalf("encodeJob: %v", err)
	}
	job, err := decodeJob(payload)
	if err != nil {
		t.Fatalf("decodeJob: %v", err)
	}
	if job.ID == "" {
		t.Fatal("job id must be generated")
	}
	if job.ChatID != 42 {
		t.Fatalf("chat id = %d, want user id", job.ChatID)
	}
	if job.RequestedAt.IsZero() {
		t.Fatal("requested_at must be set")
	}
}

func TestEncodeJobKeepsExplicitFields(t *testing.T) {
	want := domain.DigestJob{
		ID:          "job-1",
		UserTGID:    7,
		ChatID:      100,
		RequestedAt: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
		Cause:       domain.DigestCauseAdmin,
	}
	payload, err := encodeJob(want)
	if err != nil {
		t.Fatal(err)
	}
	got, err := decodeJob(payload)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("job mismatch (-want +got):\n%s", diff)
	}
}

func TestEncodeJobRejectsEmptyRecipient(t *testing.T) {
	if _, err := encodeJob(domain.DigestJob{}); !errors.Is(err, ErrEmptyJob) {
		t.Fatalf("encodeJob error = %v", err)
	}
	if _, err := decodeJob([]byte(`{"job_id":"x"}`)); !errors.Is(err, ErrEmptyJob) {
		t.Fatalf("decodeJob error = %v", err)
	}
}
