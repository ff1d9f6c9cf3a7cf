package database

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aotms/exam-engine/internal/config"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisOptions(t *testing.T) {
	opt, err := RedisOptions(&config.Config{
		RedisURL:      "redis://:pw@cache:6380/2",
		RedisPoolSize: 32,
		RedisTimeout:  750 * time.Millisecond,
	})
	require.NoError(t, err)
	assert.Equal(t, "cache:6380", opt.Addr)
	assert.Equal(t, 2, opt.DB)
	assert.Equal(t, "pw", opt.Password)
	assert.Equal(t, "exam-engine", opt.ClientName)
	assert.Equal(t, 32, opt.PoolSize)
	assert.Equal(t, 750*time.Millisecond, opt.DialTimeout)
	assert.Equal(t, 750*time.Millisecond, opt.ReadTimeout)
	assert.Equal(t, 750*time.Millisecond, opt.WriteTimeout)
}

func TestRedisOptions_ZeroKnobsKeepDefaults(t *testing.T) {
	opt, err := RedisOptions(&config.Config{RedisURL: "redis://localhost:6379/0"})
	require.NoError(t, err)
	assert.Zero(t, opt.PoolSize)
	assert.Zero(t, opt.ReadTimeout)

	_, err = RedisOptions(&config.Config{RedisURL: "http://nope"})
	assert.Error(t, err)
}

func TestNewRedisClient_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewRedisClient(context.Background(), &config.Config{
		RedisURL:     "redis://" + addr + "/0",
		RedisTimeout: 200 * time.Millisecond,
	}, zerolog.Nop())
	assert.ErrorContains(t, err, "ping redis")
}
