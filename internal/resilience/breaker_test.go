package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestBreakerTransitions(t *testing.T) {
	clock := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	b := NewBreaker(BreakerConfig{Target: "discount_rules", MinRequests: 2, FailureRatio: 0.5, OpenFor: time.Minute})
	b.now = func() time.Time { return clock }
	ctx := context.Background()

	require.True(t, b.Allow(ctx))
	b.Report(ctx, false)
	require.True(t, b.Allow(ctx))
	b.Report(ctx, false)
	require.Equal(t, Open, b.State())
	require.False(t, b.Allow(ctx))

	clock = clock.Add(time.Minute)
	require.True(t, b.Allow(ctx), "cool-off elapsed, one probe is admitted")
	require.Equal(t, HalfOpen, b.State())
	require.False(t, b.Allow(ctx), "only one probe at a time")
	b.Report(ctx, true)
	require.Equal(t, Closed, b.State())
}

func TestBreakerExecute(t *testing.T) {
	MustRegisterMetrics("mealkit_test", prometheus.NewRegistry())
	b := NewBreaker(BreakerConfig{Target: "execute", MinRequests: 1, OpenFor: time.Hour})
	ctx := context.Background()

	boom := errors.New("db down")
	require.ErrorIs(t, b.Execute(ctx, func(context.Context) error { return boom }), boom)
	require.Equal(t, Open, b.State())

	called := false
	err := b.Execute(ctx, func(context.Context) error { called = true; return nil })
	require.ErrorIs(t, err, ErrOpenCircuit)
	require.False(t, called)
	require.Equal(t, float64(1), testutil.ToFloat64(BreakerRejectedTotal.WithLabelValues("execute")))
	require.Equal(t, float64(Open), testutil.ToFloat64(BreakerState.WithLabelValues("execute")))

	var nilBreaker *Breaker
	require.NoError(t, nilBreaker.Execute(ctx, func(context.Context) error { return nil }))
}

func TestBreakerIgnoresCallerCancellation(t *testing.T) {
	b := NewBreaker(BreakerConfig{MinRequests: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := b.Execute(ctx, func(ctx context.Context) error { return ctx.Err() })
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, Closed, b.State())
}

func TestBackoffWithJitter(t *testing.T) {
	base := 100 * time.Millisecond
	require.Equal(t, base, Backoff(base, 1, 0))
	require.Equal(t, base*4, Backoff(base, 3, 0))

	d := Backoff(base, 2, 0.2)
	require.GreaterOrEqual(t, d, base*2-base*2/5)
	require.LessOrEqual(t, d, base*2+base*2/5)
}
