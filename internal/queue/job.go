// Package queue реализует очередь фоновых задач с приоритетами, отложенным запуском
// и повторными попытками. Хранилище задач подключается через Backend (Redis или память).
package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// State: состояние задачи в очереди.
type State string

const (
	StateWaiting   State = "waiting"
	StateDelayed   State = "delayed"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

const (
	defaultMaxAttempts = 3
	defaultBackoffBase = 5 * time.Second
)

var (
	// ErrJobExists: задача с таким ID уже поставлена.
	ErrJobExists = errors.New("job already exists")
	// ErrJobNotFound: задачи нет в хранилище.
	ErrJobNotFound = errors.New("job not found")
	// ErrJobNotFailed: повторно запустить можно только упавшую задачу.
	ErrJobNotFailed = errors.New("job is not in failed state")
)

// Job: задача очереди. Payload хранится в JSON и разбирается обработчиком через Decode.
type Job struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	Payload     json.RawMessage `json:"payload"`
	Priority    int             `json:"priority"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	BackoffBase time.Duration   `json:"backoff_base"`
	State       State           `json:"state"`
	LastError   string          `json:"last_error,omitempty"`
	RunAt       time.Time       `json:"run_at"`
	CreatedAt   time.Time       `json:"created_at"`
	FinishedAt  time.Time       `json:"finished_at,omitempty"`
}

// Options задают параметры постановки задачи. Меньший Priority выполняется раньше.
type Options struct {
	JobID       string
	Delay       time.Duration
	Priority    int
	MaxAttempts int
	BackoffBase time.Duration
}

// Stats: количество задач по состояниям.
type Stats struct {
	Waiting   int64 `json:"waiting"`
	Delayed   int64 `json:"delayed"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// Decode разбирает payload задачи в типизированную структуру.
func Decode[T any](job Job) (T, error) {
	var payload T
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return payload, Permanent(fmt.Errorf("decode %s payload: %w", job.Type, err))
	}
	return payload, nil
}

// PermanentError помечает ошибку, после которой повторять задачу бессмысленно.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent оборачивает ошибку обработчика: задача сразу уходит в failed.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent проверяет, что ошибка не требует повторов.
func IsPermanent(err error) bool {
	var pErr *PermanentError
	return errors.As(err, &pErr)
}

// backoffDelay считает base * 2^(attempt-1) без переполнения.
func backoffDelay(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt <= 1 {
		return base
	}

	const maxDuration = time.Duration(1<<63 - 1)
	delay := base
	for i := 1; i < attempt; i++ {
		if delay > maxDuration/2 {
			return maxDuration
		}
		delay *= 2
	}
	return delay
}
