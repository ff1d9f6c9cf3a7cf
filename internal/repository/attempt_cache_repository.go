package repository

import (
	"context"
	"errors"
	"time"

	"github.com/aotms/exam-engine/internal/config"
	"github.com/aotms/exam-engine/internal/model"
	"github.com/redis/go-redis/v9"
)

// AttemptCacheRepository holds live attempt state in Redis: one hash of
// answers and one timer string per attempt.
type AttemptCacheRepository struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewAttemptCacheRepository creates a new AttemptCacheRepository. A ttl of
// zero or less leaves keys without expiry.
func NewAttemptCacheRepository(rdb *redis.Client, ttl time.Duration) *AttemptCacheRepository {
	if ttl < 0 {
		ttl = 0
	}
	return &AttemptCacheRepository{rdb: rdb, ttl: ttl}
}

// UpsertAnswer sets the answer for one question, creating the hash on first write.
func (r *AttemptCacheRepository) UpsertAnswer(ctx context.Context, key model.AttemptKey, questionID, option string) error {
	answersKey := config.CacheKey.AttemptAnswersKey(key.UserID, key.ExamID)

	if r.ttl == 0 {
		return r.rdb.HSet(ctx, answersKey, questionID, option).Err()
	}

	// MULTI/EXEC so the hash never exists without its expiry.
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, answersKey, questionID, option)
		pipe.Expire(ctx, answersKey, r.ttl)
		return nil
	})
	return err
}

// SetTimer overwrites the stored seconds remaining.
func (r *AttemptCacheRepository) SetTimer(ctx context.Context, key model.AttemptKey, seconds int) error {
	timerKey := config.CacheKey.AttemptTimerKey(key.UserID, key.ExamID)
	return r.rdb.Set(ctx, timerKey, seconds, r.ttl).Err()
}

// GetAnswers returns the full answer map, empty when nothing was recorded.
func (r *AttemptCacheRepository) GetAnswers(ctx context.Context, key model.AttemptKey) (model.AnswerMap, error) {
	answersKey := config.CacheKey.AttemptAnswersKey(key.UserID, key.ExamID)
	answers, err := r.rdb.HGetAll(ctx, answersKey).Result()
	if err != nil {
		return nil, err
	}
	if answers == nil {
		answers = map[string]string{}
	}
	return answers, nil
}

// GetTimer returns the stored seconds remaining, or nil if never set or cleared.
func (r *AttemptCacheRepository) GetTimer(ctx context.Context, key model.AttemptKey) (*int, error) {
	timerKey := config.CacheKey.AttemptTimerKey(key.UserID, key.ExamID)
	seconds, err := r.rdb.Get(ctx, timerKey).Int()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &seconds, nil
}

// Clear deletes both keys of the attempt in a single DEL. Clearing a missing
// attempt is not an error.
func (r *AttemptCacheRepository) Clear(ctx context.Context, key model.AttemptKey) error {
	return r.rdb.Del(ctx,
		config.CacheKey.AttemptAnswersKey(key.UserID, key.ExamID),
		config.CacheKey.AttemptTimerKey(key.UserID, key.ExamID),
	).Err()
}
