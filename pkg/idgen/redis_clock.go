package idgen

import (
	"context"
	"time"

	"github.com/anthanhphan/gosdk/logger"
	"github.com/redis/go-redis/v9"
)

// Clock abstracts the time source for the ID generator.
type Clock interface {
	// Now returns the current timestamp in milliseconds.
	Now() int64
}

// SystemClock uses the local system time.
type SystemClock struct{}

func (s *SystemClock) Now() int64 {
	return time.Now().UnixMilli()
}

// RedisClock reads time from Redis, giving ingest replicas that share a node
// ID space one clock.
type RedisClock struct {
	client  redis.Cmdable
	timeout time.Duration
}

// NewRedisClock returns a clock backed by the Redis TIME command.
func NewRedisClock(client redis.Cmdable) *RedisClock {
	return &RedisClock{
		client:  client,
		timeout: 200 * time.Millisecond,
	}
}

// NewClock picks the Redis clock when a client is given, the system clock otherwise.
func NewClock(client redis.Cmdable) Clock {
	if client == nil {
		return &SystemClock{}
	}
	return NewRedisClock(client)
}

func (r *RedisClock) Now() int64 {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	// TIME returns [seconds, microseconds].
	res, err := r.client.Time(ctx).Result()
	if err != nil {
		// Snowflake still rejects the fallback if it is behind the last Redis reading.
		logger.Warnw("Redis clock unavailable, using system time", "error", err.Error())
		return time.Now().UnixMilli()
	}

	return res.UnixMilli()
}
