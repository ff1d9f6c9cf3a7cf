package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aotms/exam-engine/internal/config"
	"github.com/aotms/exam-engine/internal/model"
	"github.com/redis/go-redis/v9"
)

// StaleAttemptQueue hands attempts whose ephemeral state outlived a
// successful finalize to the cleanup worker.
type StaleAttemptQueue struct {
	rdb *redis.Client
}

// NewStaleAttemptQueue creates a new StaleAttemptQueue.
func NewStaleAttemptQueue(rdb *redis.Client) *StaleAttemptQueue {
	return &StaleAttemptQueue{rdb: rdb}
}

// Enqueue pushes the attempt key onto the stale attempts list.
func (q *StaleAttemptQueue) Enqueue(ctx context.Context, key model.AttemptKey) error {
	payload, err := json.Marshal(key)
	if err != nil {
		return fmt.Errorf("marshal attempt key: %w", err)
	}
	return q.rdb.RPush(ctx, config.WorkerKey.StaleAttemptsQueue, payload).Err()
}
