package queue

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryBackend хранит задачи в памяти процесса. Подходит для тестов и локального запуска.
type MemoryBackend struct {
	mu     sync.Mutex
	jobs   map[string]*Job
	seq    map[string]int64
	leases map[string]time.Time
	next   int64
}

// NewMemoryBackend создаёт пустое in-memory хранилище задач.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		jobs:   make(map[string]*Job),
		seq:    make(map[string]int64),
		leases: make(map[string]time.Time),
	}
}

func (b *MemoryBackend) Add(_ context.Context, job Job) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.jobs[job.ID]; exists {
		return ErrJobExists
	}
	if job.RunAt.After(job.CreatedAt) {
		job.State = StateDelayed
	} else {
		job.State = StateWaiting
	}
	b.next++
	b.seq[job.ID] = b.next
	b.jobs[job.ID] = &job
	return nil
}

func (b *MemoryBackend) Claim(_ context.Context, now time.Time, lease time.Duration) (Job, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var picked *Job
	for _, job := range b.jobs {
		if job.State != StateWaiting && job.State != StateDelayed {
			continue
		}
		if job.RunAt.After(now) {
			continue
		}
		if picked == nil || b.before(job, picked) {
			picked = job
		}
	}
	if picked == nil {
		return Job{}, false, nil
	}

	picked.State = StateActive
	picked.Attempts++
	b.leases[picked.ID] = now.Add(lease)
	return *picked, true, nil
}

// before упорядочивает готовые задачи: приоритет, затем порядок постановки.
func (b *MemoryBackend) before(a, c *Job) bool {
	if a.Priority != c.Priority {
		return a.Priority < c.Priority
	}
	return b.seq[a.ID] < b.seq[c.ID]
}

func (b *MemoryBackend) Complete(_ context.Context, job Job) error {
	return b.store(job, StateCompleted)
}

func (b *MemoryBackend) Fail(_ context.Context, job Job) error {
	return b.store(job, StateFailed)
}

func (b *MemoryBackend) Reschedule(_ context.Context, job Job, runAt time.Time) error {
	job.RunAt = runAt
	state := StateWaiting
	if runAt.After(time.Now()) {
		state = StateDelayed
	}
	return b.store(job, state)
}

func (b *MemoryBackend) store(job Job, state State) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.jobs[job.ID]; !ok {
		return ErrJobNotFound
	}
	job.State = state
	delete(b.leases, job.ID)
	b.jobs[job.ID] = &job
	return nil
}

func (b *MemoryBackend) RequeueExpired(_ context.Context, now time.Time) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	requeued := 0
	for id, deadline := range b.leases {
		if deadline.After(now) {
			continue
		}
		if job, ok := b.jobs[id]; ok && job.State == StateActive {
			job.State = StateWaiting
			requeued++
		}
		delete(b.leases, id)
	}
	return requeued, nil
}

func (b *MemoryBackend) TrimCompleted(_ context.Context, keep int) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	completed := b.collect(StateCompleted)
	if len(completed) <= keep {
		return 0, nil
	}
	for _, job := range completed[keep:] {
		delete(b.jobs, job.ID)
		delete(b.seq, job.ID)
	}
	return len(completed) - keep, nil
}

func (b *MemoryBackend) ListFailed(_ context.Context, limit int) ([]Job, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	failed := b.collect(StateFailed)
	if limit > 0 && len(failed) > limit {
		failed = failed[:limit]
	}
	return failed, nil
}

// collect возвращает задачи в состоянии state от новых к старым по FinishedAt.
func (b *MemoryBackend) collect(state State) []Job {
	result := make([]Job, 0)
	for _, job := range b.jobs {
		if job.State == state {
			result = append(result, *job)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].FinishedAt.Equal(result[j].FinishedAt) {
			return result[i].FinishedAt.After(result[j].FinishedAt)
		}
		return b.seq[result[i].ID] > b.seq[result[j].ID]
	})
	return result
}

func (b *MemoryBackend) Get(_ context.Context, id string) (Job, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	job, ok := b.jobs[id]
	if !ok {
		return Job{}, ErrJobNotFound
	}
	return *job, nil
}

func (b *MemoryBackend) Stats(_ context.Context) (Stats, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var stats Stats
	for _, job := range b.jobs {
		switch job.State {
		case StateWaiting:
			stats.Waiting++
		case StateDelayed:
			stats.Delayed++
		case StateActive:
			stats.Active++
		case StateCompleted:
			stats.Completed++
		case StateFailed:
			stats.Failed++
		}
	}
	return stats, nil
}

var _ Backend = (*MemoryBackend)(nil)
