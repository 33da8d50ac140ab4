package queue

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"docflow/internal/config"
	"docflow/internal/faults"
)

// Handler executes one claimed job. Returned errors are classified to pick
// the retry path; a nil return completes the job.
type Handler func(ctx context.Context, job *Job) error

// WorkerPool pulls jobs off one queue with a fixed concurrency and applies
// the per-category retry policy to failures:
//
//	permanent            -> failed, no retry
//	rate limited         -> delayed by the retry-after hint, attempts unchanged
//	transient / unknown  -> delayed by exponential backoff until attempts
//	                        reach the maximum, then failed
type WorkerPool struct {
	queue   *RedisQueue
	cfg     config.QueueConfig
	handler Handler

	wg   sync.WaitGroup
	stop chan struct{}
	once sync.Once
}

// NewWorkerPool wires a handler to a queue. Start must be called to begin
// processing.
func NewWorkerPool(q *RedisQueue, cfg config.QueueConfig, handler Handler) *WorkerPool {
	return &WorkerPool{
		queue:   q,
		cfg:     cfg,
		handler: handler,
		stop:    make(chan struct{}),
	}
}

// Start launches the worker goroutines plus one janitor goroutine that
// promotes due delayed jobs and requeues stalled ones.
func (w *WorkerPool) Start(ctx context.Context) {
	log.Info().
		Str("queue", w.queue.Name()).
		Int("concurrency", w.cfg.Concurrency).
		Int("ratePerMinute", w.cfg.RatePerMinute).
		Msg("Starting queue workers")

	for i := 0; i < w.cfg.Concurrency; i++ {
		w.wg.Add(1)
		go w.runWorker(ctx, i)
	}

	w.wg.Add(1)
	go w.runJanitor(ctx)
}

// Stop signals every goroutine and waits for in-flight jobs to finish.
func (w *WorkerPool) Stop() {
	w.once.Do(func() { close(w.stop) })
	w.wg.Wait()
	log.Info().Str("queue", w.queue.Name()).Msg("Queue workers stopped")
}

func (w *WorkerPool) runWorker(ctx context.Context, idx int) {
	defer w.wg.Done()

	logger := log.With().Str("queue", w.queue.Name()).Int("worker", idx).Logger()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		default:
		}

		paused, err := w.queue.IsPaused(ctx)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to read pause state")
			w.sleep(ctx, 2*time.Second)
			continue
		}
		if paused {
			w.sleep(ctx, time.Second)
			continue
		}

		ok, wait, err := w.queue.reserveRateToken(ctx, w.cfg.RatePerMinute)
		if err != nil {
			logger.Error().Err(err).Msg("Rate limiter error")
			w.sleep(ctx, 2*time.Second)
			continue
		}
		if !ok {
			logger.Debug().Dur("wait", wait).Msg("Rate limit window exhausted")
			w.sleep(ctx, wait)
			continue
		}

		job, err := w.queue.claim(ctx)
		if err != nil || job == nil {
			// The reserved token was never spent on a job; give it back so
			// idle polls do not shrink the window's budget.
			if rerr := w.queue.refundRateToken(ctx, w.cfg.RatePerMinute); rerr != nil {
				logger.Warn().Err(rerr).Msg("Failed to refund rate token")
			}
			if err != nil {
				logger.Error().Err(err).Msg("Failed to claim job")
				w.sleep(ctx, 2*time.Second)
			} else {
				w.sleep(ctx, 500*time.Millisecond)
			}
			continue
		}

		w.execute(ctx, job, logger.With().Str("jobID", job.ID).Str("kind", job.Kind).Logger())
	}
}

func (w *WorkerPool) execute(ctx context.Context, job *Job, logger zerolog.Logger) {
	logger.Info().Int("attempts", job.Attempts).Msg("Processing job")

	// Keep the liveness heartbeat fresh while the handler runs so the
	// stall janitor leaves this job alone.
	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	hbDone := make(chan struct{})
	go func() {
		defer close(hbDone)
		interval := time.Duration(w.cfg.StallSeconds) * time.Second / 3
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				if err := w.queue.heartbeat(hbCtx, job.ID); err != nil {
					logger.Warn().Err(err).Msg("Heartbeat failed")
				}
			}
		}
	}()

	err := w.handler(ctx, job)

	stopHeartbeat()
	<-hbDone

	if err == nil {
		if cerr := w.queue.complete(ctx, job.ID); cerr != nil {
			logger.Error().Err(cerr).Msg("Failed to mark queue job completed")
		}
		logger.Info().Msg("Job completed")
		return
	}

	ce := faults.Classify(err)

	switch ce.Category {
	case faults.Permanent:
		if ferr := w.queue.fail(ctx, job.ID, ce.Message); ferr != nil {
			logger.Error().Err(ferr).Msg("Failed to mark queue job failed")
		}
		logger.Error().Str("category", string(ce.Category)).Str("error", ce.Message).Msg("Job failed permanently")

	case faults.RateLimited:
		// Scheduling later does not consume the give-up budget.
		if rerr := w.queue.reschedule(ctx, job.ID, ce.RetryAfter, job.Attempts, ce.Message); rerr != nil {
			logger.Error().Err(rerr).Msg("Failed to reschedule rate-limited job")
		}
		logger.Warn().Dur("retryAfter", ce.RetryAfter).Msg("Job rate limited, rescheduled")

	default: // transient and unknown share the backoff policy
		attempts := job.Attempts + 1
		if attempts >= job.MaxAttempts {
			if ferr := w.queue.fail(ctx, job.ID, ce.Message); ferr != nil {
				logger.Error().Err(ferr).Msg("Failed to mark queue job failed")
			}
			logger.Error().Int("attempts", attempts).Str("error", ce.Message).Msg("Job failed, attempts exhausted")
			return
		}

		delay := retryBackoff(time.Duration(w.cfg.BackoffBaseMs)*time.Millisecond, attempts)
		if rerr := w.queue.reschedule(ctx, job.ID, delay, attempts, ce.Message); rerr != nil {
			logger.Error().Err(rerr).Msg("Failed to reschedule job for retry")
		}
		logger.Warn().Int("attempts", attempts).Dur("backoff", delay).Str("error", ce.Message).Msg("Job failed, retry scheduled")
	}
}

// runJanitor promotes due delayed jobs and requeues stalled jobs on a short
// cadence.
func (w *WorkerPool) runJanitor(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	stallAfter := time.Duration(w.cfg.StallSeconds) * time.Second
	lastStallCheck := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case <-ticker.C:
		}

		if _, err := w.queue.promoteDue(ctx); err != nil {
			log.Error().Err(err).Str("queue", w.queue.Name()).Msg("Failed to promote delayed jobs")
		}

		if time.Since(lastStallCheck) >= stallAfter/2 {
			lastStallCheck = time.Now()
			if _, err := w.queue.requeueStalled(ctx, stallAfter); err != nil {
				log.Error().Err(err).Str("queue", w.queue.Name()).Msg("Stall recovery failed")
			}
		}
	}
}

func (w *WorkerPool) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-w.stop:
	case <-time.After(d):
	}
}
