package countdown

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ist = time.FixedZone("IST", 5*3600+1800)

func TestCompute_EventMorning(t *testing.T) {
	target := time.Date(2026, time.February, 23, 10, 0, 0, 0, ist)
	now := time.Date(2026, time.February, 21, 10, 0, 0, 0, ist)

	assert.Equal(t, TimeRemaining{Days: 2}, Compute(target, now))
}

func TestCompute_Breakdown(t *testing.T) {
	target := time.Date(2026, time.February, 23, 10, 0, 0, 0, time.UTC)
	now := target.Add(-(3*24*time.Hour + 4*time.Hour + 5*time.Minute + 6*time.Second + 999*time.Millisecond))

	got := Compute(target, now)
	assert.Equal(t, TimeRemaining{Days: 3, Hours: 4, Minutes: 5, Seconds: 6}, got)
	assert.Equal(t, "3d 04h 05m 06s", got.String())
}

func TestCompute_PastOrPresentTargetIsZero(t *testing.T) {
	target := time.Date(2026, time.February, 23, 10, 0, 0, 0, time.UTC)

	for _, offset := range []time.Duration{0, time.Millisecond, time.Second, 400 * 24 * time.Hour} {
		got := Compute(target, target.Add(offset))
		assert.True(t, got.IsZero(), "offset %s", offset)
	}
}

func TestCompute_SubSecondRemainderIsZeroSeconds(t *testing.T) {
	target := time.Date(2026, time.February, 23, 10, 0, 0, 0, time.UTC)

	got := Compute(target, target.Add(-500*time.Millisecond))
	assert.True(t, got.IsZero())
}

func TestCompute_RoundTripsToWholeSeconds(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	target := time.Date(2026, time.February, 23, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 1000; i++ {
		deltaMs := rng.Int63n(int64(90 * 24 * time.Hour / time.Millisecond))
		now := target.Add(-time.Duration(deltaMs) * time.Millisecond)

		got := Compute(target, now)

		assert.Equal(t, deltaMs/1000, got.TotalSeconds())
		assert.GreaterOrEqual(t, got.Days, 0)
		assert.True(t, got.Hours >= 0 && got.Hours <= 23)
		assert.True(t, got.Minutes >= 0 && got.Minutes <= 59)
		assert.True(t, got.Seconds >= 0 && got.Seconds <= 59)
	}
}

func TestCompute_NonIncreasingOverTime(t *testing.T) {
	target := time.Date(2026, time.February, 23, 10, 0, 0, 0, time.UTC)
	now := target.Add(-90 * time.Second)

	prev := Compute(target, now)
	for i := 0; i < 200; i++ {
		now = now.Add(700 * time.Millisecond)
		cur := Compute(target, now)
		assert.LessOrEqual(t, cur.TotalSeconds(), prev.TotalSeconds())
		prev = cur
	}
	assert.True(t, prev.IsZero())
}

func TestParseTarget(t *testing.T) {
	got, err := ParseTarget("2026-02-23T10:00:00", ist)
	require.NoError(t, err)
	assert.True(t, got.Equal(time.Date(2026, time.February, 23, 4, 30, 0, 0, time.UTC)))

	got, err = ParseTarget("2026-02-23T10:00:00Z", ist)
	require.NoError(t, err)
	assert.True(t, got.Equal(time.Date(2026, time.February, 23, 10, 0, 0, 0, time.UTC)))

	got, err = ParseTarget(" 2026-02-23T10:00:00 ", nil)
	require.NoError(t, err)
	assert.Equal(t, time.UTC, got.Location())

	_, err = ParseTarget("", ist)
	assert.ErrorIs(t, err, ErrZeroTarget)

	_, err = ParseTarget("February 23, 2026", ist)
	assert.Error(t, err)
}

func TestNewEngine_RejectsZeroTarget(t *testing.T) {
	_, err := NewEngine(time.Time{}, nil)
	assert.ErrorIs(t, err, ErrZeroTarget)
}

func TestEngine_Remaining(t *testing.T) {
	start := time.Date(2026, time.February, 23, 9, 59, 58, 0, time.UTC)
	clock := clockwork.NewFakeClockAt(start)
	e, err := NewEngine(start.Add(2*time.Second), clock)
	require.NoError(t, err)

	assert.Equal(t, TimeRemaining{Seconds: 2}, e.Remaining())
	assert.False(t, e.Expired())

	clock.Advance(2 * time.Second)
	assert.True(t, e.Expired())

	clock.Advance(time.Hour)
	assert.True(t, e.Remaining().IsZero())
}

func TestEngine_WatchTicksAndStops(t *testing.T) {
	start := time.Date(2026, time.February, 23, 9, 0, 0, 0, time.UTC)
	clock := clockwork.NewFakeClockAt(start)
	e, err := NewEngine(start.Add(10*time.Second), clock)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := e.Watch(ctx)
	assert.Equal(t, TimeRemaining{Seconds: 10}, receive(t, ch))

	waitCtx, waitCancel := context.WithTimeout(ctx, time.Second)
	defer waitCancel()
	require.NoError(t, clock.BlockUntilContext(waitCtx, 1))

	clock.Advance(TickInterval)
	assert.Equal(t, TimeRemaining{Seconds: 9}, receive(t, ch))

	clock.Advance(TickInterval)
	assert.Equal(t, TimeRemaining{Seconds: 8}, receive(t, ch))

	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
}

func TestEngine_WatchDoesNotAccumulateForSlowConsumer(t *testing.T) {
	start := time.Date(2026, time.February, 23, 9, 0, 0, 0, time.UTC)
	clock := clockwork.NewFakeClockAt(start)
	e, err := NewEngine(start.Add(10*time.Second), clock)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := e.Watch(ctx)
	waitCtx, waitCancel := context.WithTimeout(ctx, time.Second)
	defer waitCancel()
	require.NoError(t, clock.BlockUntilContext(waitCtx, 1))

	for i := 0; i < 3; i++ {
		clock.Advance(TickInterval)
	}

	var seen []TimeRemaining
	require.Eventually(t, func() bool {
		select {
		case v := <-ch:
			seen = append(seen, v)
			return v == TimeRemaining{Seconds: 7}
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)

	assert.LessOrEqual(t, len(seen), 4)
	for i := 1; i < len(seen); i++ {
		assert.LessOrEqual(t, seen[i].TotalSeconds(), seen[i-1].TotalSeconds())
	}
}

func TestEngine_WatchPastTargetStaysZero(t *testing.T) {
	start := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)
	clock := clockwork.NewFakeClockAt(start)
	e, err := NewEngine(start.Add(-24*time.Hour), clock)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := e.Watch(ctx)
	assert.True(t, receive(t, ch).IsZero())

	waitCtx, waitCancel := context.WithTimeout(ctx, time.Second)
	defer waitCancel()
	require.NoError(t, clock.BlockUntilContext(waitCtx, 1))

	clock.Advance(TickInterval)
	assert.True(t, receive(t, ch).IsZero())
}

func receive(t *testing.T, ch <-chan TimeRemaining) TimeRemaining {
	t.Helper()
	select {
	case v, ok := <-ch:
		require.True(t, ok, "channel closed")
		return v
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for countdown tick")
		return TimeRemaining{}
	}
}
