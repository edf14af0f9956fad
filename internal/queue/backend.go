package queue

import (
	"context"
	"time"
)

// Backend хранит задачи и их состояния. Реализации должны быть безопасны для
// одновременного использования несколькими воркерами и процессами (Redis).
type Backend interface {
	// Add сохраняет новую задачу. Если RunAt в будущем, задача становится delayed.
	// Возвращает ErrJobExists для занятого ID.
	Add(ctx context.Context, job Job) error
	// Claim забирает следующую готовую задачу, увеличивает Attempts и выдаёт lease до now+lease.
	// Второй результат false, если готовых задач нет.
	Claim(ctx context.Context, now time.Time, lease time.Duration) (Job, bool, error)
	// Complete переводит задачу в completed.
	Complete(ctx context.Context, job Job) error
	// Reschedule возвращает задачу в ожидание до runAt (повтор или ручной перезапуск).
	Reschedule(ctx context.Context, job Job, runAt time.Time) error
	// Fail переводит задачу в failed. Упавшие задачи хранятся до ручного разбора.
	Fail(ctx context.Context, job Job) error
	// RequeueExpired возвращает в waiting активные задачи с истёкшим lease.
	RequeueExpired(ctx context.Context, now time.Time) (int, error)
	// TrimCompleted оставляет keep самых новых завершённых задач.
	TrimCompleted(ctx context.Context, keep int) (int, error)
	// ListFailed возвращает упавшие задачи от новых к старым.
	ListFailed(ctx context.Context, limit int) ([]Job, error)
	Get(ctx context.Context, id string) (Job, error)
	Stats(ctx context.Context) (Stats, error)
}
