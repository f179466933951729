package session

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-mocktest/internal/attempt"
	"github.com/stemsi/exstem-mocktest/internal/model"
	"github.com/stemsi/exstem-mocktest/internal/timer"
)

type fakeTicker struct{ ch chan time.Time }

func (f *fakeTicker) C() <-chan time.Time { return f.ch }
func (f *fakeTicker) Stop()               {}

type fakeClock struct {
	mu      sync.Mutex
	tickers []*fakeTicker
}

func (c *fakeClock) NewTicker(time.Duration) timer.Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTicker{ch: make(chan time.Time)}
	c.tickers = append(c.tickers, t)
	return t
}

func (c *fakeClock) fire(t *testing.T) {
	t.Helper()
	c.mu.Lock()
	tk := c.tickers[len(c.tickers)-1]
	c.mu.Unlock()
	select {
	case tk.ch <- time.Now():
	case <-time.After(time.Second):
		t.Fatal("tick was not consumed")
	}
}

type submitCall struct {
	snap   *model.Snapshot
	forced bool
}

type fakeSubmitter struct {
	mu     sync.Mutex
	calls  []submitCall
	errs   []error
	always error
	gate   chan struct{}
}

func (f *fakeSubmitter) SubmitAttempt(_ context.Context, snap *model.Snapshot, forced bool) (*model.SubmittedAttempt, error) {
	f.mu.Lock()
	n := len(f.calls)
	f.calls = append(f.calls, submitCall{snap: snap, forced: forced})
	err := f.always
	if n < len(f.errs) {
		err = f.errs[n]
	}
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	return &model.SubmittedAttempt{
		ID:          uuid.NewSHA1(uuid.NameSpaceURL, []byte(snap.AttemptKey.String())),
		SubmittedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Forced:      forced,
		Snapshot:    *snap,
	}, nil
}

func (f *fakeSubmitter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeSubmitter) setAlways(err error) {
	f.mu.Lock()
	f.always = err
	f.mu.Unlock()
}

func testDefinition(duration int) *model.TestDefinition {
	opts := []model.Option{{Key: "A"}, {Key: "B"}, {Key: "C"}}
	marking := model.MarkingScheme{Correct: 4, Incorrect: -1}
	return &model.TestDefinition{
		ExamType:        "jee-main",
		PaperID:         "mock-01",
		Title:           "Mock 01",
		DurationSeconds: duration,
		Questions: []model.Question{
			{ID: "q1", Subject: "Physics", Type: model.QuestionTypeSingle, Options: opts, CorrectAnswer: []string{"A"}, Marking: marking},
			{ID: "q2", Subject: "Chemistry", Type: model.QuestionTypeSingle, Options: opts, CorrectAnswer: []string{"B"}, Marking: marking},
			{ID: "q3", Subject: "Maths", Type: model.QuestionTypeSingle, Options: opts, CorrectAnswer: []string{"C"}, Marking: marking},
		},
	}
}

type harness struct {
	ctrl   *Controller
	clock  *fakeClock
	sub    *fakeSubmitter
	delays []time.Duration
}

func newHarness(t *testing.T, duration int, sub *fakeSubmitter, opts ...Option) *harness {
	t.Helper()
	h := &harness{clock: &fakeClock{}, sub: sub}
	opts = append([]Option{
		WithCountdown(timer.New(timer.WithClock(h.clock))),
		WithRetryPolicy(RetryPolicy{MaxAttempts: 3, Base: 100 * time.Millisecond, Max: time.Second}),
	}, opts...)
	h.ctrl = New(testDefinition(duration), sub, opts...)
	var mu sync.Mutex
	h.ctrl.wait = func(_ context.Context, d time.Duration) error {
		mu.Lock()
		h.delays = append(h.delays, d)
		mu.Unlock()
		return nil
	}
	t.Cleanup(func() {
		h.ctrl.Close()
		h.ctrl.Wait()
	})
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	if err := h.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestControllerStart(t *testing.T) {
	h := newHarness(t, 60, &fakeSubmitter{})

	if _, err := h.ctrl.Submit(context.Background()); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("Submit before Start err = %v", err)
	}
	h.start(t)
	if err := h.ctrl.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("second Start err = %v", err)
	}

	view := h.ctrl.View()
	if view.Status != model.SessionStatusInProgress {
		t.Fatalf("status = %s", view.Status)
	}
	if view.RemainingSeconds != 60 || view.TotalSeconds != 60 {
		t.Fatalf("remaining=%d total=%d", view.RemainingSeconds, view.TotalSeconds)
	}
	want := []model.PaletteState{model.PaletteNotAnswered, model.PaletteNotVisited, model.PaletteNotVisited}
	for i, e := range view.Palette {
		if e.State != want[i] {
			t.Fatalf("palette[%d] = %s, want %s", i, e.State, want[i])
		}
	}
}

func TestControllerTicksRelayToStore(t *testing.T) {
	var mu sync.Mutex
	var ticks []int
	h := newHarness(t, 10, &fakeSubmitter{}, WithHooks(Hooks{OnTick: func(r int) {
		mu.Lock()
		ticks = append(ticks, r)
		mu.Unlock()
	}}))
	h.start(t)

	h.clock.fire(t)
	h.clock.fire(t)
	eventually(t, "two ticks", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(ticks) == 2
	})
	if got := h.ctrl.View().RemainingSeconds; got != 8 {
		t.Fatalf("remaining = %d, want 8", got)
	}
}

func TestControllerPaletteStates(t *testing.T) {
	h := newHarness(t, 60, &fakeSubmitter{})
	h.start(t)

	if err := h.ctrl.SelectAnswer("q1", []string{"A"}); err != nil {
		t.Fatal(err)
	}
	if _, err := h.ctrl.Flag("q1"); err != nil {
		t.Fatal(err)
	}
	if _, err := h.ctrl.Flag("q2"); err != nil {
		t.Fatal(err)
	}
	if err := h.ctrl.NavigateTo(2); err != nil {
		t.Fatal(err)
	}

	view := h.ctrl.View()
	want := []model.PaletteState{model.PaletteAnsweredMarked, model.PaletteMarked, model.PaletteNotAnswered}
	for i, e := range view.Palette {
		if e.State != want[i] {
			t.Fatalf("palette[%d] = %s, want %s", i, e.State, want[i])
		}
	}
	if view.AnsweredCount != 1 || view.FlaggedCount != 2 || view.CurrentIndex != 2 {
		t.Fatalf("view = %+v", view)
	}
	if err := h.ctrl.NavigateTo(3); !errors.Is(err, ErrIndexOutOfRange) {
		t.Fatalf("NavigateTo(3) err = %v", err)
	}
	if err := h.ctrl.SelectAnswer("q9", []string{"A"}); !errors.Is(err, attempt.ErrValidation) {
		t.Fatalf("unknown question err = %v", err)
	}
}

func TestControllerNavigationTracksTime(t *testing.T) {
	var mu sync.Mutex
	now := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		mu.Lock()
		now = now.Add(d)
		mu.Unlock()
	}
	h := newHarness(t, 60, &fakeSubmitter{}, WithNow(clock))
	h.start(t)

	advance(3 * time.Second)
	_ = h.ctrl.NavigateTo(1)
	advance(2 * time.Second)
	_ = h.ctrl.NavigateTo(0)
	advance(4 * time.Second)

	snap, _ := h.ctrl.Snapshot()
	if !snap.TimeTracked {
		t.Fatal("time not tracked")
	}
	if got := snap.Answers["q1"].TimeSpentMs; got != 3000 {
		t.Fatalf("q1 time = %d, want 3000", got)
	}
	if got := snap.Answers["q2"].TimeSpentMs; got != 2000 {
		t.Fatalf("q2 time = %d, want 2000", got)
	}

	result, err := h.ctrl.Submit(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got := result.Snapshot.Answers["q1"].TimeSpentMs; got != 7000 {
		t.Fatalf("q1 time at submit = %d, want 7000", got)
	}
}

func TestControllerConcurrentTriggersSubmitOnce(t *testing.T) {
	for i := 0; i < 50; i++ {
		sub := &fakeSubmitter{gate: make(chan struct{})}
		h := newHarness(t, 600, sub)
		h.start(t)

		var wg sync.WaitGroup
		ready := make(chan struct{})
		wg.Add(2)
		go func() {
			defer wg.Done()
			<-ready
			_, err := h.ctrl.Submit(context.Background())
			if err != nil && !errors.Is(err, ErrSubmitInFlight) {
				t.Errorf("manual submit err = %v", err)
			}
		}()
		go func() {
			defer wg.Done()
			<-ready
			h.ctrl.onExpire()
		}()
		close(ready)

		eventually(t, "submission call", func() bool { return sub.callCount() >= 1 })
		time.Sleep(2 * time.Millisecond)
		close(sub.gate)
		wg.Wait()
		h.ctrl.Wait()

		if n := sub.callCount(); n != 1 {
			t.Fatalf("iteration %d: %d submission calls, want 1", i, n)
		}
		if s := h.ctrl.Status(); s != model.SessionStatusSubmitted {
			t.Fatalf("iteration %d: status = %s", i, s)
		}
	}
}

func TestControllerRetriesTransientFailures(t *testing.T) {
	transient := errors.New("connection reset")
	sub := &fakeSubmitter{errs: []error{transient, transient}}
	h := newHarness(t, 60, sub)
	h.start(t)
	_ = h.ctrl.SelectAnswer("q1", []string{"A"})
	_ = h.ctrl.SelectAnswer("q2", []string{"C"})

	before, _ := h.ctrl.Snapshot()
	result, err := h.ctrl.Submit(context.Background())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	after, _ := h.ctrl.Snapshot()

	if n := sub.callCount(); n != 3 {
		t.Fatalf("%d calls, want 3", n)
	}
	for i := 1; i < 3; i++ {
		if !reflect.DeepEqual(sub.calls[0].snap, sub.calls[i].snap) {
			t.Fatalf("call %d sent a different snapshot", i)
		}
	}
	if !reflect.DeepEqual(before.Answers, after.Answers) || before.AttemptKey != after.AttemptKey {
		t.Fatal("local snapshot changed across retries")
	}
	if !reflect.DeepEqual(after, &result.Snapshot) {
		t.Fatal("result snapshot differs from frozen state")
	}
	if want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}; !reflect.DeepEqual(h.delays, want) {
		t.Fatalf("backoff = %v, want %v", h.delays, want)
	}
	if h.ctrl.Status() != model.SessionStatusSubmitted {
		t.Fatalf("status = %s", h.ctrl.Status())
	}

	again, err := h.ctrl.Submit(context.Background())
	if err != nil || again != result {
		t.Fatalf("resubmit = %v, %v; want existing result", again, err)
	}
	if n := sub.callCount(); n != 3 {
		t.Fatalf("resubmit made a network call: %d", n)
	}
}

func TestControllerExhaustedThenManualRetry(t *testing.T) {
	var failures []error
	sub := &fakeSubmitter{always: errors.New("service unavailable")}
	h := newHarness(t, 60, sub, WithHooks(Hooks{OnSubmitFailed: func(err error) { failures = append(failures, err) }}))
	h.start(t)
	_ = h.ctrl.SelectAnswer("q3", []string{"C"})

	_, err := h.ctrl.Submit(context.Background())
	if !errors.Is(err, ErrSubmissionFailed) {
		t.Fatalf("err = %v, want ErrSubmissionFailed", err)
	}
	if n := sub.callCount(); n != 3 {
		t.Fatalf("%d calls, want 3", n)
	}
	view := h.ctrl.View()
	if view.Status != model.SessionStatusSubmissionFailed || view.LastError == "" {
		t.Fatalf("view = %+v", view)
	}
	if len(failures) != 1 {
		t.Fatalf("OnSubmitFailed called %d times", len(failures))
	}
	if err := h.ctrl.SelectAnswer("q3", []string{"A"}); !errors.Is(err, attempt.ErrAttemptFrozen) {
		t.Fatalf("mutation after failed submit err = %v", err)
	}
	if err := h.ctrl.NavigateTo(1); err != nil {
		t.Fatalf("navigation during failure: %v", err)
	}

	sub.setAlways(nil)
	result, err := h.ctrl.Submit(context.Background())
	if err != nil {
		t.Fatalf("manual retry: %v", err)
	}
	if result.Snapshot.AttemptKey != sub.calls[0].snap.AttemptKey {
		t.Fatal("manual retry used a new attempt key")
	}
	if got := result.Snapshot.Answers["q3"].Selection; !reflect.DeepEqual(got, []string{"C"}) {
		t.Fatalf("retry lost the answer: %v", got)
	}
}

func TestControllerRejectedSubmissionNotRetried(t *testing.T) {
	sub := &fakeSubmitter{always: model.ErrSubmissionRejected}
	h := newHarness(t, 60, sub)
	h.start(t)

	_, err := h.ctrl.Submit(context.Background())
	if !errors.Is(err, ErrSubmissionFailed) || !errors.Is(err, model.ErrSubmissionRejected) {
		t.Fatalf("err = %v", err)
	}
	if n := sub.callCount(); n != 1 {
		t.Fatalf("%d calls, want 1", n)
	}
	if len(h.delays) != 0 {
		t.Fatalf("backoff applied to a rejection: %v", h.delays)
	}
}

func TestControllerExpiryForcesSubmission(t *testing.T) {
	submitted := make(chan *model.SubmittedAttempt, 1)
	sub := &fakeSubmitter{}
	h := newHarness(t, 2, sub, WithHooks(Hooks{OnSubmitted: func(r *model.SubmittedAttempt) { submitted <- r }}))
	h.start(t)

	h.clock.fire(t)
	h.clock.fire(t)

	select {
	case r := <-submitted:
		if !r.Forced {
			t.Fatal("expiry submission not forced")
		}
		if len(r.Snapshot.Answers["q1"].Selection) != 0 || r.Snapshot.AnsweredCount() != 0 {
			t.Fatalf("unexpected answers: %+v", r.Snapshot.Answers)
		}
		if r.Snapshot.RemainingSeconds != 0 {
			t.Fatalf("remaining = %d", r.Snapshot.RemainingSeconds)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expiry did not submit")
	}
	h.ctrl.Wait()
	if !sub.calls[0].forced {
		t.Fatal("submitter not told the attempt was forced")
	}
}

func TestControllerZeroDurationSubmitsImmediately(t *testing.T) {
	sub := &fakeSubmitter{}
	h := newHarness(t, 0, sub)
	h.start(t)

	eventually(t, "forced submit", func() bool { return h.ctrl.Status() == model.SessionStatusSubmitted })
	h.ctrl.Wait()
	if n := sub.callCount(); n != 1 {
		t.Fatalf("%d calls, want 1", n)
	}
}

func TestControllerCloseCancelsTimer(t *testing.T) {
	sub := &fakeSubmitter{}
	cd := timer.New(timer.WithClock(&fakeClock{}))
	h := newHarness(t, 5, sub, WithCountdown(cd))
	h.start(t)

	h.ctrl.Close()
	h.ctrl.Close()
	if cd.Running() {
		t.Fatal("countdown still running after Close")
	}
	if err := h.ctrl.SelectAnswer("q1", []string{"A"}); !errors.Is(err, ErrClosed) {
		t.Fatalf("mutation after Close err = %v", err)
	}
	if n := sub.callCount(); n != 0 {
		t.Fatalf("Close triggered a submission")
	}
}

func TestControllerExpiryAfterCloseIgnored(t *testing.T) {
	sub := &fakeSubmitter{}
	h := newHarness(t, 5, sub, WithCountdown(timer.New(timer.WithClock(&fakeClock{}))))
	h.start(t)
	h.ctrl.Close()

	// The countdown may already have handed its expiry over when Close runs.
	h.ctrl.onExpire()
	h.ctrl.Wait()
	if _, err := h.ctrl.submit(context.Background(), true); !errors.Is(err, ErrClosed) {
		t.Fatalf("forced submit after Close err = %v, want ErrClosed", err)
	}

	if n := sub.callCount(); n != 0 {
		t.Fatalf("submitter called %d times after Close", n)
	}
	if got := h.ctrl.View().Status; got != model.SessionStatusInProgress {
		t.Fatalf("status = %s, want %s", got, model.SessionStatusInProgress)
	}
	if got := h.ctrl.store.Phase(); got != model.AttemptPhaseInProgress {
		t.Fatalf("store phase = %s after a late expiry", got)
	}
}

func TestControllerSubmitCancelsTimer(t *testing.T) {
	cd := timer.New(timer.WithClock(&fakeClock{}))
	h := newHarness(t, 5, &fakeSubmitter{}, WithCountdown(cd))
	h.start(t)

	if _, err := h.ctrl.Submit(context.Background()); err != nil {
		t.Fatal(err)
	}
	if cd.Running() {
		t.Fatal("countdown still running after submit")
	}
}

func TestRetryPolicyDelay(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 6, Base: 500 * time.Millisecond, Max: 3 * time.Second}
	want := []time.Duration{500 * time.Millisecond, time.Second, 2 * time.Second, 3 * time.Second, 3 * time.Second}
	for i, w := range want {
		if got := p.delay(i + 1); got != w {
			t.Errorf("delay(%d) = %v, want %v", i+1, got, w)
		}
	}
}
