package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/aotms/exam-engine/internal/config"
	"github.com/aotms/exam-engine/internal/model"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const defaultRetryDelay = 5 * time.Second

// AttemptClearer deletes the live state of an attempt.
type AttemptClearer interface {
	Clear(ctx context.Context, key model.AttemptKey) error
}

// CleanupWorker consumes stale_attempts_queue and deletes live state left
// behind by finalizes whose clear step failed.
type CleanupWorker struct {
	rdb        *redis.Client
	attempts   AttemptClearer
	log        zerolog.Logger
	retryDelay time.Duration
}

// NewCleanupWorker creates a new CleanupWorker.
func NewCleanupWorker(rdb *redis.Client, attempts AttemptClearer, log zerolog.Logger) *CleanupWorker {
	return &CleanupWorker{
		rdb:        rdb,
		attempts:   attempts,
		log:        log.With().Str("component", "cleanup_worker").Logger(),
		retryDelay: defaultRetryDelay,
	}
}

// Start begins the worker loop and returns once ctx is done and the queue is
// drained. Call in a goroutine.
func (w *CleanupWorker) Start(ctx context.Context) {
	w.log.Info().Msg("Worker started")

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopping...")
			drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			w.drain(drainCtx)
			cancel()
			w.log.Info().Msg("Worker stopped")
			return
		default:
			w.processNext(ctx)
		}
	}
}

func (w *CleanupWorker) processNext(ctx context.Context) {
	// BLPop blocks until an item is available or timeout (1 second).
	result, err := w.rdb.BLPop(ctx, time.Second, config.WorkerKey.StaleAttemptsQueue).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
			w.log.Error().Err(err).Msg("BLPop error")
		}
		return
	}
	if len(result) < 2 {
		return
	}

	key, ok := w.decode(result[1])
	if !ok {
		return
	}

	if err := w.attempts.Clear(ctx, key); err != nil {
		w.log.Error().Err(err).
			Str("user_id", key.UserID).
			Str("exam_id", key.ExamID).
			Dur("retry_in", w.retryDelay).
			Msg("Clear error, requeueing")
		w.requeue(ctx, result[1])

		select {
		case <-ctx.Done():
		case <-time.After(w.retryDelay):
		}
		return
	}

	w.log.Info().
		Str("user_id", key.UserID).
		Str("exam_id", key.ExamID).
		Msg("stale_attempt_cleared")
}

// drain clears every queued attempt before shutdown, stopping at the first
// failure so the item is left for the next process.
func (w *CleanupWorker) drain(ctx context.Context) {
	drained := 0
	for {
		raw, err := w.rdb.LPop(ctx, config.WorkerKey.StaleAttemptsQueue).Result()
		if err != nil {
			break
		}

		key, ok := w.decode(raw)
		if !ok {
			continue
		}

		if err := w.attempts.Clear(ctx, key); err != nil {
			w.log.Error().Err(err).Msg("Drain clear error")
			w.requeue(ctx, raw)
			break
		}
		drained++
	}

	if drained > 0 {
		w.log.Info().Int("count", drained).Msg("Drained remaining items")
	}
}

func (w *CleanupWorker) decode(raw string) (model.AttemptKey, bool) {
	var key model.AttemptKey
	if err := json.Unmarshal([]byte(raw), &key); err != nil {
		w.log.Error().Err(err).Str("payload", raw).Msg("Unmarshal error, dropping item")
		return key, false
	}
	if err := key.Validate(); err != nil {
		w.log.Error().Err(err).Str("payload", raw).Msg("Invalid attempt key, dropping item")
		return key, false
	}
	return key, true
}

func (w *CleanupWorker) requeue(ctx context.Context, raw string) {
	// The loop context may already be cancelled.
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := w.rdb.RPush(rctx, config.WorkerKey.StaleAttemptsQueue, raw).Err(); err != nil {
		w.log.Error().Err(err).Str("payload", raw).Msg("Requeue failed, item lost")
	}
}
