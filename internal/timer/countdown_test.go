package timer

import (
	"reflect"
	"sync"
	"testing"
	"time"
)

type fakeTicker struct {
	ch      chan time.Time
	mu      sync.Mutex
	stopped bool
}

func (f *fakeTicker) C() <-chan time.Time { return f.ch }

func (f *fakeTicker) Stop() {
	f.mu.Lock()
	f.stopped = true
	f.mu.Unlock()
}

func (f *fakeTicker) isStopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

type fakeClock struct {
	mu      sync.Mutex
	tickers []*fakeTicker
}

func (c *fakeClock) NewTicker(time.Duration) Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTicker{ch: make(chan time.Time)}
	c.tickers = append(c.tickers, t)
	return t
}

func (c *fakeClock) last() *fakeTicker {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tickers[len(c.tickers)-1]
}

// fire delivers one tick, failing if the run does not take it.
func fire(t *testing.T, tk *fakeTicker) {
	t.Helper()
	select {
	case tk.ch <- time.Now():
	case <-time.After(time.Second):
		t.Fatal("tick was not consumed")
	}
}

// tryFire reports whether the run consumed a tick within a short window.
func tryFire(tk *fakeTicker) bool {
	select {
	case tk.ch <- time.Now():
		return true
	case <-time.After(50 * time.Millisecond):
		return false
	}
}

type recorder struct {
	mu      sync.Mutex
	ticks   []int
	expires int
	expired chan struct{}
}

func newRecorder() *recorder {
	return &recorder{expired: make(chan struct{}, 4)}
}

func (r *recorder) onTick(n int) {
	r.mu.Lock()
	r.ticks = append(r.ticks, n)
	r.mu.Unlock()
}

func (r *recorder) onExpire() {
	r.mu.Lock()
	r.expires++
	r.mu.Unlock()
	r.expired <- struct{}{}
}

func (r *recorder) snapshot() ([]int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.ticks...), r.expires
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func waitExpired(t *testing.T, r *recorder) {
	t.Helper()
	select {
	case <-r.expired:
	case <-time.After(time.Second):
		t.Fatal("expiry did not fire")
	}
}

func TestCountdownTicksDownToZeroThenExpiresOnce(t *testing.T) {
	clock := &fakeClock{}
	cd := New(WithClock(clock))
	rec := newRecorder()

	cd.Start(5, rec.onTick, rec.onExpire)
	tk := clock.last()
	for i := 0; i < 5; i++ {
		fire(t, tk)
	}
	waitExpired(t, rec)

	if tryFire(tk) {
		t.Fatal("run kept consuming ticks after expiry")
	}
	ticks, expires := rec.snapshot()
	if want := []int{4, 3, 2, 1, 0}; !reflect.DeepEqual(ticks, want) {
		t.Fatalf("ticks = %v, want %v", ticks, want)
	}
	if expires != 1 {
		t.Fatalf("expires = %d, want 1", expires)
	}
	if cd.Running() {
		t.Fatal("countdown still running after expiry")
	}
	eventually(t, "ticker stop", tk.isStopped)
}

func TestCountdownNonPositiveDurationExpiresImmediately(t *testing.T) {
	for _, d := range []int{0, -3} {
		clock := &fakeClock{}
		cd := New(WithClock(clock))
		rec := newRecorder()

		cd.Start(d, rec.onTick, rec.onExpire)

		ticks, expires := rec.snapshot()
		if len(ticks) != 0 || expires != 1 {
			t.Fatalf("duration %d: ticks=%v expires=%d, want no ticks and one expiry", d, ticks, expires)
		}
		if len(clock.tickers) != 0 {
			t.Fatalf("duration %d: ticker created", d)
		}
	}
}

func TestCountdownCancelPreventsExpiry(t *testing.T) {
	clock := &fakeClock{}
	cd := New(WithClock(clock))
	rec := newRecorder()

	cd.Start(2, rec.onTick, rec.onExpire)
	tk := clock.last()
	fire(t, tk)
	eventually(t, "first tick", func() bool {
		ticks, _ := rec.snapshot()
		return len(ticks) == 1
	})
	cd.Cancel()
	cd.Cancel()

	// A tick racing with the closed stop channel may still be received,
	// but it must not be delivered.
	tryFire(tk)
	time.Sleep(20 * time.Millisecond)
	ticks, expires := rec.snapshot()
	if !reflect.DeepEqual(ticks, []int{1}) || expires != 0 {
		t.Fatalf("ticks=%v expires=%d, want [1] and no expiry", ticks, expires)
	}
}

func TestCountdownRestartCancelsPriorRun(t *testing.T) {
	clock := &fakeClock{}
	cd := New(WithClock(clock))
	first, second := newRecorder(), newRecorder()

	cd.Start(3, first.onTick, first.onExpire)
	firstTicker := clock.last()
	cd.Start(2, second.onTick, second.onExpire)
	secondTicker := clock.last()

	tryFire(firstTicker)
	fire(t, secondTicker)
	fire(t, secondTicker)
	waitExpired(t, second)

	if ticks, expires := first.snapshot(); len(ticks) != 0 || expires != 0 {
		t.Fatalf("prior run delivered ticks=%v expires=%d", ticks, expires)
	}
	if ticks, _ := second.snapshot(); !reflect.DeepEqual(ticks, []int{1, 0}) {
		t.Fatalf("second run ticks = %v", ticks)
	}
}

func TestCountdownCancelIdleIsNoop(t *testing.T) {
	cd := New()
	cd.Cancel()
	if cd.Running() {
		t.Fatal("idle countdown reports running")
	}
}

func TestCountdownRealClock(t *testing.T) {
	cd := New(WithInterval(5 * time.Millisecond))
	rec := newRecorder()

	cd.Start(3, rec.onTick, rec.onExpire)
	waitExpired(t, rec)

	ticks, expires := rec.snapshot()
	if !reflect.DeepEqual(ticks, []int{2, 1, 0}) || expires != 1 {
		t.Fatalf("ticks=%v expires=%d", ticks, expires)
	}
}
