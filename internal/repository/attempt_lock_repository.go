package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aotms/exam-engine/internal/config"
	"github.com/aotms/exam-engine/internal/model"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	defaultLockTTL     = 10 * time.Second
	defaultLockRetry   = 25 * time.Millisecond
	lockAbandonTimeout = 2 * time.Second
)

// ErrLockNotAcquired is returned when the attempt lock stayed unavailable for
// the whole wait window.
var ErrLockNotAcquired = errors.New("attempt lock not acquired")

// releaseScript deletes the writer key only if it still carries our token, so
// a holder whose lock already expired cannot release someone else's.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// sharedAcquireScript registers a reader unless a writer holds or is waiting
// for the attempt. Readers are scored by their expiry in unix millis.
var sharedAcquireScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
	return 0
end
redis.call("ZADD", KEYS[2], ARGV[2], ARGV[1])
redis.call("PEXPIRE", KEYS[2], ARGV[3])
return 1
`)

// activeReadersScript drops expired readers and counts the rest.
var activeReadersScript = redis.NewScript(`
redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
return redis.call("ZCARD", KEYS[1])
`)

// AttemptLockRepository is a Redis-backed shared/exclusive lock per attempt,
// visible to every process pointed at the same Redis. Answer submits are
// shared holders and never wait on each other; finalize is the exclusive
// holder. A waiting writer blocks new readers so finalize cannot starve.
type AttemptLockRepository struct {
	rdb   *redis.Client
	ttl   time.Duration
	wait  time.Duration
	retry time.Duration
}

// NewAttemptLockRepository creates a new AttemptLockRepository. A ttl or retry
// that is not positive falls back to its default; a lock without expiry would
// outlive a crashed holder.
func NewAttemptLockRepository(rdb *redis.Client, ttl, wait, retry time.Duration) *AttemptLockRepository {
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	if retry <= 0 {
		retry = defaultLockRetry
	}
	return &AttemptLockRepository{rdb: rdb, ttl: ttl, wait: wait, retry: retry}
}

// LockShared registers the caller as one of many concurrent holders. It fails
// with ErrLockNotAcquired if an exclusive holder stays for the wait window.
// The returned func releases the hold.
func (r *AttemptLockRepository) LockShared(ctx context.Context, key model.AttemptKey) (func(context.Context) error, error) {
	writerKey := config.CacheKey.AttemptLockKey(key.UserID, key.ExamID)
	readersKey := config.CacheKey.AttemptReadersKey(key.UserID, key.ExamID)
	token := uuid.NewString()
	ttlMs := r.ttl.Milliseconds()

	err := r.poll(ctx, func() (bool, error) {
		expiresAt := time.Now().Add(r.ttl).UnixMilli()
		n, err := sharedAcquireScript.Run(ctx, r.rdb, []string{writerKey, readersKey}, token, expiresAt, ttlMs).Int()
		if err != nil {
			return false, fmt.Errorf("acquire shared lock %s: %w", readersKey, err)
		}
		return n == 1, nil
	})
	if err != nil {
		return nil, err
	}

	return func(ctx context.Context) error {
		return r.rdb.ZRem(ctx, readersKey, token).Err()
	}, nil
}

// LockExclusive claims the writer slot, then waits for the current shared
// holders to leave. The returned func releases the lock.
func (r *AttemptLockRepository) LockExclusive(ctx context.Context, key model.AttemptKey) (func(context.Context) error, error) {
	writerKey := config.CacheKey.AttemptLockKey(key.UserID, key.ExamID)
	readersKey := config.CacheKey.AttemptReadersKey(key.UserID, key.ExamID)
	token := uuid.NewString()
	deadline := time.Now().Add(r.wait)

	err := r.pollUntil(ctx, deadline, func() (bool, error) {
		ok, err := r.rdb.SetNX(ctx, writerKey, token, r.ttl).Result()
		if err != nil {
			return false, fmt.Errorf("acquire lock %s: %w", writerKey, err)
		}
		return ok, nil
	})
	if err != nil {
		return nil, err
	}

	release := func(ctx context.Context) error {
		return releaseScript.Run(ctx, r.rdb, []string{writerKey}, token).Err()
	}

	err = r.pollUntil(ctx, deadline, func() (bool, error) {
		n, err := activeReadersScript.Run(ctx, r.rdb, []string{readersKey}, time.Now().UnixMilli()).Int()
		if err != nil {
			return false, fmt.Errorf("count readers %s: %w", readersKey, err)
		}
		return n == 0, nil
	})
	if err != nil {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), lockAbandonTimeout)
		defer cancel()
		_ = release(rctx)
		return nil, err
	}

	return release, nil
}

func (r *AttemptLockRepository) poll(ctx context.Context, try func() (bool, error)) error {
	return r.pollUntil(ctx, time.Now().Add(r.wait), try)
}

// pollUntil calls try every retry interval until it reports success. Context
// errors are returned as is so callers can tell a timeout from contention.
func (r *AttemptLockRepository) pollUntil(ctx context.Context, deadline time.Time, try func() (bool, error)) error {
	for {
		ok, err := try()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return err
		}
		if ok {
			return nil
		}

		if !time.Now().Before(deadline) {
			return ErrLockNotAcquired
		}

		t := time.NewTimer(r.retry)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}
