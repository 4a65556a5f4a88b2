/*
 * Authen Gateway
 * Copyright (C) 2026  Authen Authors
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

// Package limiter implements per-application sliding-window admission
// over a Redis sorted set. Members are unique per request and scored with
// wall-clock milliseconds; the window slides with time rather than
// resetting on a fixed boundary.
package limiter

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"

	"github.com/Johnie198946/Authen-sub000/lib/defaults"
)

// Result is one admission decision together with the quota view the
// response headers expose.
type Result struct {
	// Allowed reports whether the request may proceed.
	Allowed bool
	// Limit is the window capacity of the application.
	Limit int
	// Remaining is how much capacity is left after this admission,
	// never negative.
	Remaining int
	// Reset is a unix-seconds upper bound on the current window's end.
	Reset int64
	// RetryAfter is the suggested wait in seconds, set only on deny and
	// always at least one.
	RetryAfter int64
}

// Config holds limiter configuration.
type Config struct {
	// Client is the shared Redis client.
	Client redis.UniversalClient
	// Clock supplies wall time.
	Clock clockwork.Clock
	// Window is the sliding window length.
	Window time.Duration
	// KeyTTL is the expiry applied to a window's backing key.
	KeyTTL time.Duration
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *Config) CheckAndSetDefaults() error {
	if c.Client == nil {
		return trace.BadParameter("missing redis client")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Window <= 0 {
		c.Window = defaults.RateLimitWindow
	}
	if c.KeyTTL <= 0 {
		c.KeyTTL = defaults.RateLimitKeyTTL
	}
	return nil
}

// Limiter makes sliding-window admission decisions.
type Limiter struct {
	cfg Config
}

// New returns a limiter for the given configuration.
func New(cfg Config) (*Limiter, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Limiter{cfg: cfg}, nil
}

// Admit decides whether one more request from the application fits in the
// current window. Two admissions separated by more than the window length
// never interfere. The remove-count step and the insert-expire step each
// run as one transactional pipeline; a lost update between them can
// over-admit by at most the parallel worker count.
func (l *Limiter) Admit(ctx context.Context, appID string, limit int) (*Result, error) {
	if limit <= 0 {
		limit = defaults.DefaultRateLimit
	}
	key := defaults.RateLimitKeyPrefix + appID
	windowMS := l.cfg.Window.Milliseconds()
	nowMS := l.cfg.Clock.Now().UnixMilli()
	windowStart := nowMS - windowMS

	var card *redis.IntCmd
	_, err := l.cfg.Client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(windowStart, 10))
		card = pipe.ZCard(ctx, key)
		return nil
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	count := card.Val()

	if count >= int64(limit) {
		result := &Result{
			Allowed:    false,
			Limit:      limit,
			Remaining:  0,
			Reset:      (nowMS + windowMS) / 1000,
			RetryAfter: l.cfg.Window.Milliseconds() / 1000,
		}
		// The earliest surviving member tells when capacity frees up.
		earliest, err := l.cfg.Client.ZRangeWithScores(ctx, key, 0, 0).Result()
		if err != nil {
			return nil, trace.Wrap(err)
		}
		if len(earliest) > 0 {
			e := int64(earliest[0].Score)
			result.Reset = (e + windowMS) / 1000
			retryMS := e + windowMS - nowMS
			result.RetryAfter = (retryMS + 999) / 1000
			if result.RetryAfter < 1 {
				result.RetryAfter = 1
			}
		}
		return result, nil
	}

	member := strconv.FormatInt(nowMS, 10) + "-" + uuid.NewString()
	_, err = l.cfg.Client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, key, redis.Z{Score: float64(nowMS), Member: member})
		pipe.Expire(ctx, key, l.cfg.KeyTTL)
		return nil
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}

	remaining := limit - int(count) - 1
	if remaining < 0 {
		remaining = 0
	}
	return &Result{
		Allowed:   true,
		Limit:     limit,
		Remaining: remaining,
		Reset:     (nowMS + windowMS) / 1000,
	}, nil
}
