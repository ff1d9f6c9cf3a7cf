package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaleAttemptQueue_Enqueue(t *testing.T) {
	mr, rdb := newTestRedis(t)
	q := NewStaleAttemptQueue(rdb)

	require.NoError(t, q.Enqueue(context.Background(), testKey))

	items, err := mr.List("stale_attempts_queue")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.JSONEq(t, `{"user_id":"u1","exam_id":"e1"}`, items[0])
}
