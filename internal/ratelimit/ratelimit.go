// Package ratelimit implements a sliding-window counter over a Redis sorted
// set. Each key holds one member per allowed event, scored by its timestamp.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Limiter checks and records events against a shared store.
type Limiter struct {
	client redis.Cmdable
	now    func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

func New(client redis.Cmdable, opts ...Option) *Limiter {
	l := &Limiter{client: client, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Key returns the namespaced key for per-user auto-reply limiting.
func Key(userID string) string {
	return "auto_reply:" + userID
}

// Check records an event for key and reports whether it fits within limit
// events per window, along with the slots left. A denied attempt does not
// consume a slot. Store failures fail open.
func (l *Limiter) Check(ctx context.Context, key string, limit int, window time.Duration) (bool, int) {
	allowed, remaining, err := l.check(ctx, key, limit, window)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"key":   key,
			"error": err,
		}).Warn("Rate limiter unavailable, allowing request")
		return true, limit
	}
	return allowed, remaining
}

func (l *Limiter) check(ctx context.Context, key string, limit int, window time.Duration) (bool, int, error) {
	now := l.now()
	score := now.UnixMicro()
	cutoff := now.Add(-window).UnixMicro()
	member := strconv.FormatInt(score, 10) + "-" + uuid.NewString()

	var card *redis.IntCmd
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(cutoff, 10))
		pipe.ZAdd(ctx, key, redis.Z{Score: float64(score), Member: member})
		card = pipe.ZCard(ctx, key)
		pipe.Expire(ctx, key, window)
		return nil
	})
	if err != nil {
		return false, 0, fmt.Errorf("failed to record event: %w", err)
	}

	count := int(card.Val())
	if count > limit {
		if err := l.client.ZRem(ctx, key, member).Err(); err != nil {
			logrus.WithFields(logrus.Fields{
				"key":   key,
				"error": err,
			}).Warn("Failed to roll back denied rate limit entry")
		}
		return false, 0, nil
	}
	return true, limit - count, nil
}
