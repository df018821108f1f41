package domain

import (
	"context"
	"time"
)

// PairingJobCause — причина постановки задачи подбора.
type PairingJobCause string

const (
	// CauseScheduled — окно закрылось по расписанию цикла.
	CauseScheduled PairingJobCause = "scheduled"
	// CauseManual — администратор чата форсировал подбор.
	CauseManual PairingJobCause = "manual"
)

// PairingJob — задача на подбор пар для одного чата и одного окна.
type PairingJob struct {
	ID          string          `json:"id"`
	ChatID      int64           `json:"chat_id"`
	RoundTag    string          `json:"round_tag"`
	Cause       PairingJobCause `json:"cause"`
	RequestedAt time.Time       `json:"requested_at"`
}

// AckFunc подтверждает либо возвращает задачу брокеру. ok=false означает
// повторную доставку.
type AckFunc func(ok bool) error

// PairingQueue — очередь задач подбора между планировщиком и воркером.
type PairingQueue interface {
	Enqueue(ctx context.Context, job PairingJob) error
	// Receive блокируется до появления задачи либо отмены контекста.
	Receive(ctx context.Context) (PairingJob, AckFunc, error)
}

// JobStatusRepo хранит статусы задач для идемпотентной обработки.
type JobStatusRepo interface {
	// EnsureJob регистрирует задачу и возвращает признак доставки и
	// номер текущей попытки.
	EnsureJob(jobID string) (delivered bool, attempt int, err error)
	MarkJobDelivered(jobID string) error
}
