package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultRedisPrefix = "orderflow:queue"
	promoteBatch       = 100
	// priorityWeight отделяет приоритет от времени постановки в счёте waiting-множества.
	priorityWeight = 1e13
)

// claimScript переносит созревшие delayed-задачи в waiting и атомарно забирает первую готовую.
var claimScript = goredis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[3]))
for _, id in ipairs(due) do
	local prio = tonumber(redis.call('HGET', KEYS[4], id) or '0')
	local runAt = tonumber(redis.call('ZSCORE', KEYS[1], id))
	redis.call('ZREM', KEYS[1], id)
	redis.call('ZADD', KEYS[2], prio * 1e13 + runAt, id)
end
local popped = redis.call('ZPOPMIN', KEYS[2], 1)
if #popped == 0 then
	return false
end
redis.call('ZADD', KEYS[3], ARGV[2], popped[1])
return popped[1]
`)

// requeueScript возвращает в waiting задачи, чей lease истёк.
var requeueScript = goredis.NewScript(`
local expired = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
for _, id in ipairs(expired) do
	local prio = tonumber(redis.call('HGET', KEYS[3], id) or '0')
	redis.call('ZREM', KEYS[1], id)
	redis.call('ZADD', KEYS[2], prio * 1e13 + tonumber(ARGV[1]), id)
end
return expired
`)

// RedisBackend хранит задачи в Redis: JSON задачи в строковом ключе,
// очереди состояний в sorted set'ах. Переживает перезапуск процесса.
type RedisBackend struct {
	client *goredis.Client
	prefix string
}

// NewRedisBackend создаёт backend поверх готового клиента. Пустой prefix заменяется значением по умолчанию.
func NewRedisBackend(client *goredis.Client, prefix string) *RedisBackend {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisBackend{client: client, prefix: prefix}
}

func (b *RedisBackend) jobKey(id string) string { return b.prefix + ":job:" + id }
func (b *RedisBackend) key(name string) string  { return b.prefix + ":" + name }

func millis(t time.Time) float64 {
	return float64(t.UnixMilli())
}

func waitingScore(priority int, at time.Time) float64 {
	return float64(priority)*priorityWeight + millis(at)
}

// Ping проверяет доступность Redis (readiness).
func (b *RedisBackend) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

func (b *RedisBackend) Add(ctx context.Context, job Job) error {
	if job.RunAt.After(job.CreatedAt) {
		job.State = StateDelayed
	} else {
		job.State = StateWaiting
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}

	created, err := b.client.SetNX(ctx, b.jobKey(job.ID), raw, 0).Result()
	if err != nil {
		return fmt.Errorf("store job: %w", err)
	}
	if !created {
		return ErrJobExists
	}

	_, err = b.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.HSet(ctx, b.key("priority"), job.ID, job.Priority)
		if job.State == StateDelayed {
			pipe.ZAdd(ctx, b.key("delayed"), goredis.Z{Score: millis(job.RunAt), Member: job.ID})
		} else {
			pipe.ZAdd(ctx, b.key("waiting"), goredis.Z{Score: waitingScore(job.Priority, job.CreatedAt), Member: job.ID})
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("index job: %w", err)
	}
	return nil
}

func (b *RedisBackend) Claim(ctx context.Context, now time.Time, lease time.Duration) (Job, bool, error) {
	keys := []string{b.key("delayed"), b.key("waiting"), b.key("active"), b.key("priority")}
	id, err := claimScript.Run(ctx, b.client, keys, now.UnixMilli(), now.Add(lease).UnixMilli(), promoteBatch).Text()
	if errors.Is(err, goredis.Nil) {
		return Job{}, false, nil
	}
	if err != nil {
		return Job{}, false, fmt.Errorf("claim job: %w", err)
	}

	job, err := b.Get(ctx, id)
	if errors.Is(err, ErrJobNotFound) {
		b.client.ZRem(ctx, b.key("active"), id)
		return Job{}, false, nil
	}
	if err != nil {
		return Job{}, false, err
	}
	job.State = StateActive
	job.Attempts++
	if err := b.put(ctx, job); err != nil {
		return Job{}, false, err
	}
	return job, true, nil
}

func (b *RedisBackend) Complete(ctx context.Context, job Job) error {
	return b.finish(ctx, job, StateCompleted, "completed")
}

func (b *RedisBackend) Fail(ctx context.Context, job Job) error {
	return b.finish(ctx, job, StateFailed, "failed")
}

func (b *RedisBackend) finish(ctx context.Context, job Job, state State, set string) error {
	job.State = state
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	_, err = b.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.ZRem(ctx, b.key("active"), job.ID)
		pipe.Set(ctx, b.jobKey(job.ID), raw, 0)
		pipe.ZAdd(ctx, b.key(set), goredis.Z{Score: millis(job.FinishedAt), Member: job.ID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("move job to %s: %w", set, err)
	}
	return nil
}

func (b *RedisBackend) Reschedule(ctx context.Context, job Job, runAt time.Time) error {
	job.RunAt = runAt
	job.State = StateWaiting
	if runAt.After(time.Now()) {
		job.State = StateDelayed
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	_, err = b.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.ZRem(ctx, b.key("active"), job.ID)
		pipe.ZRem(ctx, b.key("failed"), job.ID)
		pipe.Set(ctx, b.jobKey(job.ID), raw, 0)
		if job.State == StateDelayed {
			pipe.ZAdd(ctx, b.key("delayed"), goredis.Z{Score: millis(runAt), Member: job.ID})
		} else {
			pipe.ZAdd(ctx, b.key("waiting"), goredis.Z{Score: waitingScore(job.Priority, runAt), Member: job.ID})
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("reschedule job: %w", err)
	}
	return nil
}

func (b *RedisBackend) RequeueExpired(ctx context.Context, now time.Time) (int, error) {
	keys := []string{b.key("active"), b.key("waiting"), b.key("priority")}
	ids, err := requeueScript.Run(ctx, b.client, keys, now.UnixMilli()).StringSlice()
	if err != nil {
		return 0, fmt.Errorf("requeue expired jobs: %w", err)
	}
	for _, id := range ids {
		job, err := b.Get(ctx, id)
		if err != nil {
			continue
		}
		job.State = StateWaiting
		if err := b.put(ctx, job); err != nil {
			return 0, err
		}
	}
	return len(ids), nil
}

func (b *RedisBackend) TrimCompleted(ctx context.Context, keep int) (int, error) {
	total, err := b.client.ZCard(ctx, b.key("completed")).Result()
	if err != nil {
		return 0, fmt.Errorf("count completed jobs: %w", err)
	}
	excess := total - int64(keep)
	if excess <= 0 {
		return 0, nil
	}

	ids, err := b.client.ZRange(ctx, b.key("completed"), 0, excess-1).Result()
	if err != nil {
		return 0, fmt.Errorf("list completed jobs: %w", err)
	}
	_, err = b.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		for _, id := range ids {
			pipe.Del(ctx, b.jobKey(id))
			pipe.HDel(ctx, b.key("priority"), id)
			pipe.ZRem(ctx, b.key("completed"), id)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("trim completed jobs: %w", err)
	}
	return len(ids), nil
}

func (b *RedisBackend) ListFailed(ctx context.Context, limit int) ([]Job, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	ids, err := b.client.ZRevRange(ctx, b.key("failed"), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("list failed jobs: %w", err)
	}

	jobs := make([]Job, 0, len(ids))
	for _, id := range ids {
		job, err := b.Get(ctx, id)
		if errors.Is(err, ErrJobNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func (b *RedisBackend) Get(ctx context.Context, id string) (Job, error) {
	raw, err := b.client.Get(ctx, b.jobKey(id)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return Job{}, ErrJobNotFound
	}
	if err != nil {
		return Job{}, fmt.Errorf("load job %s: %w", id, err)
	}

	var job Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return Job{}, fmt.Errorf("decode job %s: %w", id, err)
	}
	return job, nil
}

func (b *RedisBackend) put(ctx context.Context, job Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	if err := b.client.Set(ctx, b.jobKey(job.ID), raw, 0).Err(); err != nil {
		return fmt.Errorf("store job %s: %w", job.ID, err)
	}
	return nil
}

func (b *RedisBackend) Stats(ctx context.Context) (Stats, error) {
	names := []string{"waiting", "delayed", "active", "completed", "failed"}
	cmds := make([]*goredis.IntCmd, len(names))
	_, err := b.client.Pipelined(ctx, func(pipe goredis.Pipeliner) error {
		for i, name := range names {
			cmds[i] = pipe.ZCard(ctx, b.key(name))
		}
		return nil
	})
	if err != nil {
		return Stats{}, fmt.Errorf("queue stats: %w", err)
	}
	return Stats{
		Waiting:   cmds[0].Val(),
		Delayed:   cmds[1].Val(),
		Active:    cmds[2].Val(),
		Completed: cmds[3].Val(),
		Failed:    cmds[4].Val(),
	}, nil
}

var _ Backend = (*RedisBackend)(nil)
