// Package timer provides the attempt countdown clock.
package timer

import (
	"sync"
	"time"
)

// Ticker is the subset of time.Ticker the countdown needs.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// Clock creates tickers. The default wraps time.NewTicker.
type Clock interface {
	NewTicker(d time.Duration) Ticker
}

type realClock struct{}

type realTicker struct{ t *time.Ticker }

func (realClock) NewTicker(d time.Duration) Ticker { return realTicker{t: time.NewTicker(d)} }
func (r realTicker) C() <-chan time.Time           { return r.t.C }
func (r realTicker) Stop()                         { r.t.Stop() }

// Option configures a Countdown.
type Option func(*Countdown)

// WithClock replaces the tick source.
func WithClock(c Clock) Option { return func(cd *Countdown) { cd.clock = c } }

// WithInterval changes the tick cadence. One second unless overridden.
func WithInterval(d time.Duration) Option {
	return func(cd *Countdown) {
		if d > 0 {
			cd.interval = d
		}
	}
}

// Countdown is a cancellable clock ticking once per interval until zero.
//
// Every run is identified by a generation number. A tick or expiry is only
// delivered after re-checking, under the lock, that its run is still current.
// Expiry claims the run in the same critical section, so Cancel and expiry
// never both take effect.
type Countdown struct {
	clock    Clock
	interval time.Duration

	mu      sync.Mutex
	gen     uint64
	running bool
	stop    chan struct{}
}

// New creates an idle countdown.
func New(opts ...Option) *Countdown {
	c := &Countdown{
		clock:    realClock{},
		interval: time.Second,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Start begins counting down from durationSeconds. onTick receives the
// remaining seconds after each decrement, down to and including 0; onExpire
// fires once after the tick that reaches 0. A duration of zero or less fires
// onExpire synchronously without any tick. A run already in progress is
// cancelled first.
func (c *Countdown) Start(durationSeconds int, onTick func(remaining int), onExpire func()) {
	c.mu.Lock()
	c.cancelLocked()
	c.gen++
	gen := c.gen

	if durationSeconds <= 0 {
		c.mu.Unlock()
		if onExpire != nil {
			onExpire()
		}
		return
	}

	stop := make(chan struct{})
	c.stop = stop
	c.running = true
	ticker := c.clock.NewTicker(c.interval)
	c.mu.Unlock()

	go c.run(gen, ticker, stop, durationSeconds, onTick, onExpire)
}

// Cancel stops the current run. Safe to call repeatedly or on an idle timer.
func (c *Countdown) Cancel() {
	c.mu.Lock()
	c.cancelLocked()
	c.mu.Unlock()
}

// Running reports whether a run is active.
func (c *Countdown) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

func (c *Countdown) cancelLocked() {
	if !c.running {
		return
	}
	c.gen++
	c.running = false
	close(c.stop)
	c.stop = nil
}

// current reports whether gen still owns the timer. When finish is set and
// the run is current, the run is marked done so a later Cancel is a no-op.
func (c *Countdown) current(gen uint64, finish bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen || !c.running {
		return false
	}
	if finish {
		c.running = false
		c.stop = nil
	}
	return true
}

func (c *Countdown) run(gen uint64, ticker Ticker, stop <-chan struct{}, remaining int, onTick func(int), onExpire func()) {
	defer ticker.Stop()

	for remaining > 0 {
		select {
		case <-stop:
			return
		case <-ticker.C():
		}

		if !c.current(gen, false) {
			return
		}
		remaining--
		if onTick != nil {
			onTick(remaining)
		}
	}

	if !c.current(gen, true) {
		return
	}
	if onExpire != nil {
		onExpire()
	}
}
