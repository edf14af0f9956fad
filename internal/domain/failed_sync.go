package domain

import "time"

// FailedSyncStatus описывает жизненный цикл записи о неудачной синхронизации.
type FailedSyncStatus string

const (
	// FailedSyncPending: запись ждёт повторной попытки.
	FailedSyncPending FailedSyncStatus = "PENDING"
	// FailedSyncSuccess: повторная попытка прошла, запись закрыта.
	FailedSyncSuccess FailedSyncStatus = "SUCCESS"
	// FailedSyncFailed: попытки исчерпаны или заказ пропал.
	FailedSyncFailed FailedSyncStatus = "FAILED"
)

// Terminal сообщает, что из статуса больше нет переходов.
func (s FailedSyncStatus) Terminal() bool {
	return s == FailedSyncSuccess || s == FailedSyncFailed
}

// FailedSync: запись журнала неудачных синхронизаций.
// На один заказ допускается не более одной записи в статусе PENDING.
type FailedSync struct {
	ID          string
	TenantID    string
	OrderID     string
	Status      FailedSyncStatus
	RetryCount  int
	Reason      string
	LastTriedAt time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
