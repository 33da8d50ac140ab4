package queue

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"docflow/internal/model"
)

// RedisQueue implements Queue on a shared Redis client. All state lives
// under "<prefix>:queue:<name>:" so multiple queues (and deployments)
// coexist on one server.
type RedisQueue struct {
	rdb    *redis.Client
	name   string
	prefix string
}

// NewRedisQueue builds a queue handle. It performs no I/O; keys are created
// lazily on first use.
func NewRedisQueue(rdb *redis.Client, prefix, name string) *RedisQueue {
	return &RedisQueue{rdb: rdb, name: name, prefix: prefix}
}

func (q *RedisQueue) Name() string { return q.name }

func (q *RedisQueue) key(suffix string) string {
	return fmt.Sprintf("%s:queue:%s:%s", q.prefix, q.name, suffix)
}

func (q *RedisQueue) jobKey(id string) string {
	return q.key("job:" + id)
}

// Add stores the job body and places the id on the waiting (or delayed)
// structure. The returned id is the queue-native identity.
func (q *RedisQueue) Add(ctx context.Context, kind string, payload []byte, opts AddOptions) (string, error) {
	id := opts.JobID
	if id == "" {
		id = uuid.NewString()
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}

	now := time.Now()

	pipe := q.rdb.TxPipeline()
	pipe.HSet(ctx, q.jobKey(id), map[string]interface{}{
		"kind":         kind,
		"payload":      payload,
		"priority":     opts.Priority,
		"attempts":     0,
		"max_attempts": opts.MaxAttempts,
		"state":        string(StateWaiting),
		"enqueued_at":  now.UnixMilli(),
	})

	if opts.Delay > 0 {
		pipe.HSet(ctx, q.jobKey(id), "state", string(StateDelayed))
		pipe.ZAdd(ctx, q.key("delayed"), redis.Z{
			Score:  float64(now.Add(opts.Delay).UnixMilli()),
			Member: id,
		})
	} else {
		seq := q.rdb.Incr(ctx, q.key("seq"))
		pipe.ZAdd(ctx, q.key("waiting"), redis.Z{
			Score:  packScore(opts.Priority, seq.Val()),
			Member: id,
		})
	}

	if _, err := pipe.Exec(ctx); err != nil {
		log.Error().Err(err).Str("queue", q.name).Str("jobID", id).Msg("Failed to enqueue job")
		return "", fmt.Errorf("enqueue %s: %w", id, err)
	}

	log.Debug().
		Str("queue", q.name).
		Str("jobID", id).
		Str("kind", kind).
		Int("priority", opts.Priority).
		Dur("delay", opts.Delay).
		Msg("Enqueued job")

	return id, nil
}

// GetJob loads the queue-side view of a job.
func (q *RedisQueue) GetJob(ctx context.Context, id string) (*Job, error) {
	data, err := q.rdb.HGetAll(ctx, q.jobKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("get queue job %s: %w", id, err)
	}
	if len(data) == 0 {
		return nil, ErrJobNotFound
	}

	priority, _ := strconv.Atoi(data["priority"])
	attempts, _ := strconv.Atoi(data["attempts"])
	maxAttempts, _ := strconv.Atoi(data["max_attempts"])
	enqueuedMs, _ := strconv.ParseInt(data["enqueued_at"], 10, 64)

	return &Job{
		ID:          id,
		Kind:        data["kind"],
		Payload:     []byte(data["payload"]),
		Priority:    priority,
		Attempts:    attempts,
		MaxAttempts: maxAttempts,
		State:       JobState(data["state"]),
		LastError:   data["error"],
		EnqueuedAt:  time.UnixMilli(enqueuedMs),
	}, nil
}

// GetWaiting returns the ids of all waiting jobs in delivery order.
func (q *RedisQueue) GetWaiting(ctx context.Context) ([]string, error) {
	return q.rdb.ZRange(ctx, q.key("waiting"), 0, -1).Result()
}

// GetDelayed returns the ids of all delayed jobs ordered by ready time.
func (q *RedisQueue) GetDelayed(ctx context.Context) ([]string, error) {
	return q.rdb.ZRange(ctx, q.key("delayed"), 0, -1).Result()
}

// Remove takes a job out of the waiting or delayed structure. A job that
// has already been claimed by a worker is not touched and false is returned;
// removal is advisory by design.
func (q *RedisQueue) Remove(ctx context.Context, id string) (bool, error) {
	removed, err := q.rdb.ZRem(ctx, q.key("waiting"), id).Result()
	if err != nil {
		return false, fmt.Errorf("remove %s from waiting: %w", id, err)
	}

	if removed == 0 {
		removed, err = q.rdb.ZRem(ctx, q.key("delayed"), id).Result()
		if err != nil {
			return false, fmt.Errorf("remove %s from delayed: %w", id, err)
		}
	}

	if removed == 0 {
		return false, nil
	}

	if err := q.rdb.Del(ctx, q.jobKey(id)).Err(); err != nil {
		log.Warn().Err(err).Str("queue", q.name).Str("jobID", id).Msg("Failed to delete removed job body")
	}

	log.Debug().Str("queue", q.name).Str("jobID", id).Msg("Removed queued job")
	return true, nil
}

// Pause stops workers from claiming new jobs. Already-running jobs finish.
func (q *RedisQueue) Pause(ctx context.Context) error {
	if err := q.rdb.Set(ctx, q.key("paused"), "1", 0).Err(); err != nil {
		return fmt.Errorf("pause queue %s: %w", q.name, err)
	}
	log.Info().Str("queue", q.name).Msg("Queue paused")
	return nil
}

// Resume lifts a pause.
func (q *RedisQueue) Resume(ctx context.Context) error {
	if err := q.rdb.Del(ctx, q.key("paused")).Err(); err != nil {
		return fmt.Errorf("resume queue %s: %w", q.name, err)
	}
	log.Info().Str("queue", q.name).Msg("Queue resumed")
	return nil
}

func (q *RedisQueue) IsPaused(ctx context.Context) (bool, error) {
	n, err := q.rdb.Exists(ctx, q.key("paused")).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Counts reads every per-state counter in one round trip.
func (q *RedisQueue) Counts(ctx context.Context) (model.QueueCounts, error) {
	pipe := q.rdb.Pipeline()
	waiting := pipe.ZCard(ctx, q.key("waiting"))
	active := pipe.HLen(ctx, q.key("active"))
	completed := pipe.ZCard(ctx, q.key("completed"))
	failed := pipe.ZCard(ctx, q.key("failed"))
	delayed := pipe.ZCard(ctx, q.key("delayed"))
	paused := pipe.Exists(ctx, q.key("paused"))

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return model.QueueCounts{}, fmt.Errorf("counts for %s: %w", q.name, err)
	}

	return model.QueueCounts{
		Waiting:   waiting.Val(),
		Active:    active.Val(),
		Completed: completed.Val(),
		Failed:    failed.Val(),
		Delayed:   delayed.Val(),
		Paused:    paused.Val() > 0,
	}, nil
}

// Clean prunes completed or failed entries older than maxAge, up to limit.
func (q *RedisQueue) Clean(ctx context.Context, maxAge time.Duration, limit int64, state JobState) (int64, error) {
	if state != StateCompleted && state != StateFailed {
		return 0, fmt.Errorf("clean does not apply to state %q", state)
	}

	key := q.key(string(state))
	cutoff := time.Now().Add(-maxAge).UnixMilli()

	ids, err := q.rdb.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(cutoff, 10),
		Count: limit,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("clean scan %s: %w", q.name, err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	pipe := q.rdb.TxPipeline()
	for _, id := range ids {
		pipe.ZRem(ctx, key, id)
		pipe.Del(ctx, q.jobKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("clean remove %s: %w", q.name, err)
	}

	log.Info().Str("queue", q.name).Str("state", string(state)).Int("pruned", len(ids)).Msg("Cleaned queue entries")
	return int64(len(ids)), nil
}

// --- worker-side operations ---

// claim atomically pops the highest-priority waiting job and marks it
// active with a fresh heartbeat. Returns nil when the queue is empty.
func (q *RedisQueue) claim(ctx context.Context) (*Job, error) {
	zres, err := q.rdb.ZPopMin(ctx, q.key("waiting"), 1).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("pop from %s: %w", q.name, err)
	}
	if len(zres) == 0 {
		return nil, nil
	}

	id := zres[0].Member.(string)

	job, err := q.GetJob(ctx, id)
	if err == ErrJobNotFound {
		// Body was cleaned out from under the index entry; skip it.
		log.Warn().Str("queue", q.name).Str("jobID", id).Msg("Claimed job without body, dropping")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	pipe := q.rdb.TxPipeline()
	pipe.HSet(ctx, q.key("active"), id, time.Now().UnixMilli())
	pipe.HSet(ctx, q.jobKey(id), "state", string(StateActive))
	if _, err := pipe.Exec(ctx); err != nil {
		// Could not mark active; put it back so another worker can claim it.
		seq := q.rdb.Incr(ctx, q.key("seq"))
		q.rdb.ZAdd(ctx, q.key("waiting"), redis.Z{
			Score:  packScore(job.Priority, seq.Val()),
			Member: id,
		})
		return nil, fmt.Errorf("mark active %s: %w", id, err)
	}

	job.State = StateActive
	return job, nil
}

// heartbeat refreshes the active-set liveness timestamp for a running job.
func (q *RedisQueue) heartbeat(ctx context.Context, id string) error {
	return q.rdb.HSet(ctx, q.key("active"), id, time.Now().UnixMilli()).Err()
}

// complete moves a finished job into the completed set.
func (q *RedisQueue) complete(ctx context.Context, id string) error {
	pipe := q.rdb.TxPipeline()
	pipe.HDel(ctx, q.key("active"), id)
	pipe.HSet(ctx, q.jobKey(id), "state", string(StateCompleted))
	pipe.ZAdd(ctx, q.key("completed"), redis.Z{
		Score:  float64(time.Now().UnixMilli()),
		Member: id,
	})
	_, err := pipe.Exec(ctx)
	return err
}

// fail moves a job into the failed set with its final error message.
func (q *RedisQueue) fail(ctx context.Context, id, errMessage string) error {
	pipe := q.rdb.TxPipeline()
	pipe.HDel(ctx, q.key("active"), id)
	pipe.HSet(ctx, q.jobKey(id), "state", string(StateFailed), "error", errMessage)
	pipe.ZAdd(ctx, q.key("failed"), redis.Z{
		Score:  float64(time.Now().UnixMilli()),
		Member: id,
	})
	_, err := pipe.Exec(ctx)
	return err
}

// reschedule moves a job into the delayed set to run again after delay,
// recording the attempt count it should carry.
func (q *RedisQueue) reschedule(ctx context.Context, id string, delay time.Duration, attempts int, errMessage string) error {
	pipe := q.rdb.TxPipeline()
	pipe.HDel(ctx, q.key("active"), id)
	pipe.HSet(ctx, q.jobKey(id),
		"state", string(StateDelayed),
		"attempts", attempts,
		"error", errMessage,
	)
	pipe.ZAdd(ctx, q.key("delayed"), redis.Z{
		Score:  float64(time.Now().Add(delay).UnixMilli()),
		Member: id,
	})
	_, err := pipe.Exec(ctx)
	return err
}

// promoteDue moves delayed jobs whose ready time has passed onto the
// waiting structure.
func (q *RedisQueue) promoteDue(ctx context.Context) (int, error) {
	now := time.Now().UnixMilli()
	ids, err := q.rdb.ZRangeByScore(ctx, q.key("delayed"), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now, 10),
		Count: 100,
	}).Result()
	if err != nil {
		return 0, err
	}

	promoted := 0
	for _, id := range ids {
		removed, err := q.rdb.ZRem(ctx, q.key("delayed"), id).Result()
		if err != nil || removed == 0 {
			continue // another worker promoted it first
		}

		priority := 0
		if p, err := q.rdb.HGet(ctx, q.jobKey(id), "priority").Int(); err == nil {
			priority = p
		}

		seq := q.rdb.Incr(ctx, q.key("seq"))
		pipe := q.rdb.TxPipeline()
		pipe.HSet(ctx, q.jobKey(id), "state", string(StateWaiting))
		pipe.ZAdd(ctx, q.key("waiting"), redis.Z{
			Score:  packScore(priority, seq.Val()),
			Member: id,
		})
		if _, err := pipe.Exec(ctx); err != nil {
			log.Error().Err(err).Str("queue", q.name).Str("jobID", id).Msg("Failed to promote delayed job")
			continue
		}
		promoted++
	}

	return promoted, nil
}

// requeueStalled returns active jobs with stale heartbeats to the waiting
// structure. Attempts are deliberately not incremented: a crashed worker is
// the backend's fault, not the job's.
func (q *RedisQueue) requeueStalled(ctx context.Context, stallAfter time.Duration) (int, error) {
	entries, err := q.rdb.HGetAll(ctx, q.key("active")).Result()
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-stallAfter).UnixMilli()
	requeued := 0

	for id, beat := range entries {
		beatMs, err := strconv.ParseInt(beat, 10, 64)
		if err != nil || beatMs > cutoff {
			continue
		}

		removed, err := q.rdb.HDel(ctx, q.key("active"), id).Result()
		if err != nil || removed == 0 {
			continue
		}

		priority := 0
		if p, err := q.rdb.HGet(ctx, q.jobKey(id), "priority").Int(); err == nil {
			priority = p
		}

		seq := q.rdb.Incr(ctx, q.key("seq"))
		pipe := q.rdb.TxPipeline()
		pipe.HSet(ctx, q.jobKey(id), "state", string(StateWaiting))
		pipe.ZAdd(ctx, q.key("waiting"), redis.Z{
			Score:  packScore(priority, seq.Val()),
			Member: id,
		})
		if _, err := pipe.Exec(ctx); err != nil {
			log.Error().Err(err).Str("queue", q.name).Str("jobID", id).Msg("Failed to requeue stalled job")
			continue
		}

		log.Warn().Str("queue", q.name).Str("jobID", id).Msg("Requeued stalled job")
		requeued++
	}

	return requeued, nil
}

// reserveRateToken enforces the queue's fixed per-minute rate window.
// Returns false plus the wait until the next window when the budget is
// spent.
func (q *RedisQueue) reserveRateToken(ctx context.Context, perMinute int) (bool, time.Duration, error) {
	if perMinute <= 0 {
		return true, 0, nil
	}

	now := time.Now()
	window := now.Unix() / 60
	key := fmt.Sprintf("%s:rate:%d", q.key("limiter"), window)

	n, err := q.rdb.Incr(ctx, key).Result()
	if err != nil {
		return false, 0, err
	}
	if n == 1 {
		q.rdb.Expire(ctx, key, 2*time.Minute)
	}

	if n > int64(perMinute) {
		next := time.Unix((window+1)*60, 0)
		return false, time.Until(next), nil
	}

	return true, 0, nil
}

// refundRateToken returns a reserved token that was never spent on a job, so
// idle polling does not eat into the window's budget.
func (q *RedisQueue) refundRateToken(ctx context.Context, perMinute int) error {
	if perMinute <= 0 {
		return nil
	}

	window := time.Now().Unix() / 60
	key := fmt.Sprintf("%s:rate:%d", q.key("limiter"), window)
	return q.rdb.Decr(ctx, key).Err()
}
