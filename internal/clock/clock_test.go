package clock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"alnorchestrator/internal/eventbus"
	"alnorchestrator/internal/models"
)

// fakeClock lets tests advance simulated time deterministically while the
// Clock's internal ticker still fires on a short real interval.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)}
}

func TestClock_StartElapsedExcludesPausedTime(t *testing.T) {
	bus := eventbus.New()
	fc := newFakeClock()
	c := New(bus, WithNow(fc.Now))

	c.Start(context.Background())
	require.Equal(t, 0, c.GetElapsed())

	fc.Advance(10 * time.Second)
	require.Equal(t, 10, c.GetElapsed())

	c.Pause()
	fc.Advance(5 * time.Second) // time passes while paused
	require.Equal(t, 10, c.GetElapsed(), "paused time must not count toward elapsed")

	c.Resume()
	fc.Advance(3 * time.Second)
	require.Equal(t, 13, c.GetElapsed())

	c.Stop()
}

func TestClock_TickEmitsElapsed(t *testing.T) {
	bus := eventbus.New()
	fc := newFakeClock()
	c := New(bus, WithNow(fc.Now), WithTickInterval(5*time.Millisecond))

	var lastElapsed int32
	var ticks int32
	bus.Subscribe(EventTick, func(data any) {
		p := data.(TickPayload)
		atomic.StoreInt32(&lastElapsed, int32(p.Elapsed))
		atomic.AddInt32(&ticks, 1)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)
	fc.Advance(7 * time.Second)

	require.Eventually(t, func() bool { return atomic.LoadInt32(&ticks) > 0 }, time.Second, time.Millisecond)
	require.Equal(t, int32(7), atomic.LoadInt32(&lastElapsed))
	c.Stop()
}

func TestClock_OvertimeFiresExactlyOnce(t *testing.T) {
	bus := eventbus.New()
	fc := newFakeClock()
	c := New(bus, WithNow(fc.Now), WithTickInterval(5*time.Millisecond), WithOvertimeThreshold(5*time.Second))

	var overtimeCount int32
	bus.Subscribe(EventOvertime, func(data any) {
		atomic.AddInt32(&overtimeCount, 1)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)

	fc.Advance(10 * time.Second)
	require.Eventually(t, func() bool { return atomic.LoadInt32(&overtimeCount) >= 1 }, time.Second, time.Millisecond)

	time.Sleep(30 * time.Millisecond) // allow several more ticks past threshold
	require.Equal(t, int32(1), atomic.LoadInt32(&overtimeCount), "overtime must fire at most once until reset")

	c.Stop()
}

func TestClock_RestoreRunning(t *testing.T) {
	bus := eventbus.New()
	fc := newFakeClock()
	start := fc.Now().Add(-20 * time.Second)
	st := models.ClockState{
		Status:        models.ClockStatusRunning,
		GameStartTime: &start,
		TotalPausedMs: 5000,
	}

	c := New(bus, WithNow(fc.Now))
	c.Restore(context.Background(), st)
	defer c.Stop()

	require.Equal(t, models.ClockStatusRunning, c.Status())
	require.Equal(t, 15, c.GetElapsed()) // 20s elapsed - 5s paused
}

func TestClock_RestorePaused(t *testing.T) {
	bus := eventbus.New()
	fc := newFakeClock()
	start := fc.Now().Add(-30 * time.Second)
	pausedAt := fc.Now().Add(-10 * time.Second)
	st := models.ClockState{
		Status:        models.ClockStatusPaused,
		GameStartTime: &start,
		PausedAt:      &pausedAt,
	}

	c := New(bus, WithNow(fc.Now))
	c.Restore(context.Background(), st)

	require.Equal(t, models.ClockStatusPaused, c.Status())
	// elapsed is computed as of pausedAt, not current now()
	require.Equal(t, 20, c.GetElapsed())

	fc.Advance(100 * time.Second) // more wall time passing must not move a paused clock
	require.Equal(t, 20, c.GetElapsed())
}

func TestClock_ResumeWithoutPauseIsNoop(t *testing.T) {
	bus := eventbus.New()
	fc := newFakeClock()
	c := New(bus, WithNow(fc.Now))
	c.Start(context.Background())
	defer c.Stop()

	c.Resume() // never paused
	fc.Advance(2 * time.Second)
	require.Equal(t, 2, c.GetElapsed())
}
