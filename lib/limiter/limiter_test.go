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

package limiter

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T) (*Limiter, *clockwork.FakeClock) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { client.Close() })

	clock := clockwork.NewFakeClock()
	l, err := New(Config{
		Client: client,
		Clock:  clock,
		Window: time.Minute,
		KeyTTL: 61 * time.Second,
	})
	require.NoError(t, err)
	return l, clock
}

func TestAdmitWithinLimit(t *testing.T) {
	l, _ := newTestLimiter(t)
	ctx := context.Background()

	for i, wantRemaining := range []int{2, 1, 0} {
		res, err := l.Admit(ctx, "app-1", 3)
		require.NoError(t, err, "admission %v", i)
		require.True(t, res.Allowed, "admission %v", i)
		require.Equal(t, 3, res.Limit)
		require.Equal(t, wantRemaining, res.Remaining)
		require.Positive(t, res.Reset)
	}
}

func TestAdmitDeniesOverLimit(t *testing.T) {
	l, clock := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := l.Admit(ctx, "app-1", 3)
		require.NoError(t, err)
		require.True(t, res.Allowed)
	}

	res, err := l.Admit(ctx, "app-1", 3)
	require.NoError(t, err)
	require.False(t, res.Allowed)
	require.Equal(t, 0, res.Remaining)
	require.GreaterOrEqual(t, res.RetryAfter, int64(1))
	require.LessOrEqual(t, res.RetryAfter, int64(60))

	// After the full window passes, the earliest members age out and the
	// next request is admitted again.
	clock.Advance(61 * time.Second)
	res, err = l.Admit(ctx, "app-1", 3)
	require.NoError(t, err)
	require.True(t, res.Allowed)
	require.Equal(t, 2, res.Remaining)
}

func TestWindowSlides(t *testing.T) {
	l, clock := newTestLimiter(t)
	ctx := context.Background()

	res, err := l.Admit(ctx, "app-1", 2)
	require.NoError(t, err)
	require.True(t, res.Allowed)

	clock.Advance(30 * time.Second)
	res, err = l.Admit(ctx, "app-1", 2)
	require.NoError(t, err)
	require.True(t, res.Allowed)

	// Both admissions still in window.
	res, err = l.Admit(ctx, "app-1", 2)
	require.NoError(t, err)
	require.False(t, res.Allowed)

	// 31 more seconds: the first admission has aged out, the second has not.
	clock.Advance(31 * time.Second)
	res, err = l.Admit(ctx, "app-1", 2)
	require.NoError(t, err)
	require.True(t, res.Allowed)
	require.Equal(t, 0, res.Remaining)
}

func TestResetMonotonic(t *testing.T) {
	l, clock := newTestLimiter(t)
	ctx := context.Background()

	var last int64
	for i := 0; i < 5; i++ {
		res, err := l.Admit(ctx, "app-1", 100)
		require.NoError(t, err)
		require.GreaterOrEqual(t, res.Reset, last)
		last = res.Reset
		clock.Advance(time.Second)
	}
}

func TestAppsDoNotInterfere(t *testing.T) {
	l, _ := newTestLimiter(t)
	ctx := context.Background()

	res, err := l.Admit(ctx, "app-1", 1)
	require.NoError(t, err)
	require.True(t, res.Allowed)

	res, err = l.Admit(ctx, "app-1", 1)
	require.NoError(t, err)
	require.False(t, res.Allowed)

	// A different application has its own window.
	res, err = l.Admit(ctx, "app-2", 1)
	require.NoError(t, err)
	require.True(t, res.Allowed)
}

func TestZeroLimitFallsBackToDefault(t *testing.T) {
	l, _ := newTestLimiter(t)

	res, err := l.Admit(context.Background(), "app-1", 0)
	require.NoError(t, err)
	require.True(t, res.Allowed)
	require.Equal(t, 60, res.Limit)
}
