// Package session drives one live attempt: navigation, answers, the countdown
// and the submit protocol.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-mocktest/internal/attempt"
	"github.com/stemsi/exstem-mocktest/internal/model"
	"github.com/stemsi/exstem-mocktest/internal/timer"
)

// Controller errors.
var (
	ErrNotStarted       = errors.New("session not started")
	ErrAlreadyStarted   = errors.New("session already started")
	ErrClosed           = errors.New("session closed")
	ErrIndexOutOfRange  = errors.New("question index out of range")
	ErrSubmitInFlight   = errors.New("submission already in flight")
	ErrSubmissionFailed = errors.New("submission failed")
)

// Submitter persists a frozen snapshot and returns the acknowledged attempt.
type Submitter interface {
	SubmitAttempt(ctx context.Context, snap *model.Snapshot, forced bool) (*model.SubmittedAttempt, error)
}

// Hooks are invoked outside the controller lock. Any of them may be nil.
type Hooks struct {
	OnTick         func(remaining int)
	OnChange       func(view model.AttemptView)
	OnSubmitted    func(result *model.SubmittedAttempt)
	OnSubmitFailed func(err error)
}

// RetryPolicy bounds submission retries. Delays double from Base up to Max.
type RetryPolicy struct {
	MaxAttempts int
	Base        time.Duration
	Max         time.Duration
}

// DefaultRetryPolicy is used when no policy is supplied.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 4, Base: 500 * time.Millisecond, Max: 8 * time.Second}

func (p RetryPolicy) delay(attempt int) time.Duration {
	d := p.Base
	for i := 1; i < attempt && d < p.Max; i++ {
		d *= 2
	}
	return min(d, p.Max)
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the parent logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Controller) { c.log = l.With().Str("component", "session").Logger() }
}

// WithHooks sets the presentation callbacks.
func WithHooks(h Hooks) Option { return func(c *Controller) { c.hooks = h } }

// WithRetryPolicy overrides the submission retry policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Controller) {
		if p.MaxAttempts < 1 {
			p.MaxAttempts = 1
		}
		if p.Max < p.Base {
			p.Max = p.Base
		}
		c.retry = p
	}
}

// WithCountdown replaces the countdown, for tests driving ticks by hand.
func WithCountdown(cd *timer.Countdown) Option { return func(c *Controller) { c.timer = cd } }

// WithNow replaces the wall clock used for time tracking.
func WithNow(now func() time.Time) Option { return func(c *Controller) { c.now = now } }

// WithCandidate records the candidate identifier on the attempt.
func WithCandidate(id string) Option { return func(c *Controller) { c.candidateID = id } }

// Controller owns one attempt store and serializes every mutation of it.
type Controller struct {
	def         *model.TestDefinition
	submitter   Submitter
	candidateID string
	hooks       Hooks
	retry       RetryPolicy
	timer       *timer.Countdown
	now         func() time.Time
	wait        func(ctx context.Context, d time.Duration) error
	log         zerolog.Logger

	mu        sync.Mutex
	store     *attempt.Store
	ctx       context.Context
	status    model.SessionStatus
	closed    bool
	current   int
	enteredAt time.Time
	forced    bool
	result    *model.SubmittedAttempt
	lastErr   error

	wg sync.WaitGroup
}

// New creates a controller for one attempt on def.
func New(def *model.TestDefinition, submitter Submitter, opts ...Option) *Controller {
	c := &Controller{
		def:       def,
		submitter: submitter,
		retry:     DefaultRetryPolicy,
		now:       time.Now,
		wait:      sleepCtx,
		log:       zerolog.Nop(),
		status:    model.SessionStatusUninitialized,
	}
	for _, o := range opts {
		o(c)
	}
	if c.timer == nil {
		c.timer = timer.New()
	}
	c.store = attempt.NewStore(c.now)
	return c
}

// Start initializes the attempt and starts the countdown. ctx scopes
// background submissions triggered by expiry.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.status != model.SessionStatusUninitialized {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	if err := c.def.Validate(); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("start session: %w", err)
	}
	if err := c.store.Initialize(c.def, c.candidateID); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("start session: %w", err)
	}
	_ = c.store.MarkVisited(c.def.Questions[0].ID)
	c.ctx = context.WithoutCancel(ctx)
	c.status = model.SessionStatusInProgress
	c.current = 0
	c.enteredAt = c.now()
	snap, _ := c.store.Snapshot()
	c.log = c.log.With().Str("attempt_key", snap.AttemptKey.String()).Logger()
	view := c.viewLocked()
	c.mu.Unlock()

	c.log.Info().
		Str("exam_type", c.def.ExamType).
		Str("paper_id", c.def.PaperID).
		Int("duration_seconds", c.def.DurationSeconds).
		Msg("Attempt started")

	c.emitChange(view)
	c.timer.Start(c.def.DurationSeconds, c.onTick, c.onExpire)
	return nil
}

// Definition returns the paper this session runs on.
func (c *Controller) Definition() *model.TestDefinition { return c.def }

// Status returns the current state machine position.
func (c *Controller) Status() model.SessionStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Result returns the acknowledged attempt once submitted.
func (c *Controller) Result() *model.SubmittedAttempt {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result
}

// Snapshot returns a copy of the current attempt state.
func (c *Controller) Snapshot() (*model.Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status == model.SessionStatusUninitialized {
		return nil, ErrNotStarted
	}
	return c.store.Snapshot()
}

// View returns the read-only presentation of the attempt.
func (c *Controller) View() model.AttemptView {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewLocked()
}

// SelectAnswer records a selection for a question.
func (c *Controller) SelectAnswer(questionID string, selection []string) error {
	return c.mutate(func() error { return c.store.SetAnswer(questionID, selection) })
}

// ClearAnswer resets a question to unanswered.
func (c *Controller) ClearAnswer(questionID string) error {
	return c.mutate(func() error { return c.store.ClearAnswer(questionID) })
}

// Flag toggles the review flag and returns its new value.
func (c *Controller) Flag(questionID string) (bool, error) {
	var flagged bool
	err := c.mutate(func() error {
		var err error
		flagged, err = c.store.ToggleFlag(questionID)
		return err
	})
	return flagged, err
}

// NavigateTo moves the cursor. While the attempt is live the time spent on
// the question being left is accumulated and the target is marked visited.
// After submission it only moves the review cursor.
func (c *Controller) NavigateTo(index int) error {
	c.mu.Lock()
	if c.status == model.SessionStatusUninitialized {
		c.mu.Unlock()
		return ErrNotStarted
	}
	if index < 0 || index >= len(c.def.Questions) {
		c.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrIndexOutOfRange, index)
	}
	if c.store.Phase() == model.AttemptPhaseInProgress && !c.closed {
		now := c.now()
		leaving := c.def.Questions[c.current].ID
		if err := c.store.AddTimeSpent(leaving, now.Sub(c.enteredAt)); err != nil {
			c.mu.Unlock()
			return err
		}
		if err := c.store.MarkVisited(c.def.Questions[index].ID); err != nil {
			c.mu.Unlock()
			return err
		}
		c.enteredAt = now
	}
	c.current = index
	view := c.viewLocked()
	c.mu.Unlock()

	c.emitChange(view)
	return nil
}

// Submit runs the manual submission protocol. A second call while a
// submission is in flight returns ErrSubmitInFlight; once submitted it
// returns the existing result. After SUBMISSION_FAILED it retries with the
// same frozen snapshot.
func (c *Controller) Submit(ctx context.Context) (*model.SubmittedAttempt, error) {
	return c.submit(ctx, false)
}

// Close cancels the countdown. Mutations are rejected afterwards. A
// submission already in flight is allowed to finish.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	c.timer.Cancel()
	c.mu.Unlock()
}

// Wait blocks until background submissions triggered by expiry have finished.
func (c *Controller) Wait() { c.wg.Wait() }

func (c *Controller) mutate(apply func() error) error {
	c.mu.Lock()
	if c.status == model.SessionStatusUninitialized {
		c.mu.Unlock()
		return ErrNotStarted
	}
	if c.closed && c.store.Phase() == model.AttemptPhaseInProgress {
		c.mu.Unlock()
		return ErrClosed
	}
	if err := apply(); err != nil {
		c.mu.Unlock()
		if errors.Is(err, attempt.ErrAttemptFrozen) {
			c.log.Warn().Msg("Mutation rejected on frozen attempt")
		}
		return err
	}
	view := c.viewLocked()
	c.mu.Unlock()

	c.emitChange(view)
	return nil
}

func (c *Controller) onTick(remaining int) {
	c.mu.Lock()
	err := c.store.Tick(remaining)
	c.mu.Unlock()
	if err != nil {
		return
	}
	if c.hooks.OnTick != nil {
		c.hooks.OnTick(remaining)
	}
}

func (c *Controller) onExpire() {
	c.mu.Lock()
	ctx, closed := c.ctx, c.closed
	c.mu.Unlock()
	if closed {
		c.log.Debug().Msg("Expiry after close ignored")
		return
	}

	c.log.Info().Msg("Time expired, forcing submission")
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		_, _ = c.submit(ctx, true)
	}()
}

// begin claims the right to perform the network submission. It returns the
// frozen snapshot to send, or a terminal answer for the caller.
func (c *Controller) begin(forced bool) (*model.Snapshot, *model.SubmittedAttempt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.status {
	case model.SessionStatusUninitialized:
		return nil, nil, ErrNotStarted
	case model.SessionStatusSubmitting:
		return nil, nil, ErrSubmitInFlight
	case model.SessionStatusSubmitted:
		return nil, c.result, nil
	}
	// A late expiry must not freeze a session that was closed meanwhile.
	if forced && c.closed {
		return nil, nil, ErrClosed
	}

	c.timer.Cancel()
	if c.store.Phase() == model.AttemptPhaseInProgress && !c.closed {
		leaving := c.def.Questions[c.current].ID
		_ = c.store.AddTimeSpent(leaving, c.now().Sub(c.enteredAt))
	}
	snap, err := c.store.Freeze()
	if err != nil {
		return nil, nil, fmt.Errorf("freeze attempt: %w", err)
	}
	// A forced trigger marks the attempt forced even if a manual retry follows.
	c.forced = c.forced || forced
	c.status = model.SessionStatusSubmitting
	c.lastErr = nil
	return snap, nil, nil
}

func (c *Controller) submit(ctx context.Context, forced bool) (*model.SubmittedAttempt, error) {
	snap, done, err := c.begin(forced)
	if err != nil {
		return nil, err
	}
	if done != nil {
		return done, nil
	}

	c.mu.Lock()
	forced = c.forced
	view := c.viewLocked()
	c.mu.Unlock()
	c.emitChange(view)

	result, err := c.send(ctx, snap, forced)

	c.mu.Lock()
	if err != nil {
		c.status = model.SessionStatusSubmissionFailed
		c.lastErr = err
	} else {
		c.status = model.SessionStatusSubmitted
		c.result = result
	}
	view = c.viewLocked()
	c.mu.Unlock()

	c.emitChange(view)
	if err != nil {
		c.log.Error().Err(err).Bool("forced", forced).Msg("Submission failed")
		if c.hooks.OnSubmitFailed != nil {
			c.hooks.OnSubmitFailed(err)
		}
		return nil, err
	}

	c.log.Info().
		Str("attempt_id", result.ID.String()).
		Bool("forced", forced).
		Int("answered", snap.AnsweredCount()).
		Msg("Attempt submitted")
	if c.hooks.OnSubmitted != nil {
		c.hooks.OnSubmitted(result)
	}
	return result, nil
}

// send calls the submitter with bounded exponential backoff. Rejections are not retried.
func (c *Controller) send(ctx context.Context, snap *model.Snapshot, forced bool) (*model.SubmittedAttempt, error) {
	var lastErr error
	for n := 1; n <= c.retry.MaxAttempts; n++ {
		result, err := c.submitter.SubmitAttempt(ctx, snap.Clone(), forced)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if errors.Is(err, model.ErrSubmissionRejected) {
			return nil, fmt.Errorf("%w: %w", ErrSubmissionFailed, err)
		}
		if n == c.retry.MaxAttempts {
			break
		}

		d := c.retry.delay(n)
		c.log.Warn().Err(err).Int("attempt", n).Dur("backoff", d).Msg("Submission attempt failed, retrying")
		if werr := c.wait(ctx, d); werr != nil {
			lastErr = werr
			break
		}
	}
	return nil, fmt.Errorf("%w after %d attempt(s): %w", ErrSubmissionFailed, c.retry.MaxAttempts, lastErr)
}

func (c *Controller) emitChange(view model.AttemptView) {
	if c.hooks.OnChange != nil {
		c.hooks.OnChange(view)
	}
}

func (c *Controller) viewLocked() model.AttemptView {
	view := model.AttemptView{
		Status:       c.status,
		ExamType:     c.def.ExamType,
		PaperID:      c.def.PaperID,
		Title:        c.def.Title,
		CurrentIndex: c.current,
		TotalSeconds: max(c.def.DurationSeconds, 0),
	}
	if c.status == model.SessionStatusUninitialized {
		view.RemainingSeconds = view.TotalSeconds
		return view
	}

	view.RemainingSeconds = c.store.Remaining()
	view.Palette = make([]model.PaletteEntry, len(c.def.Questions))
	for i, q := range c.def.Questions {
		rec := c.store.Record(q.ID)
		if rec.Answered() {
			view.AnsweredCount++
		}
		if rec.Flagged {
			view.FlaggedCount++
		}
		view.Palette[i] = model.PaletteEntry{
			Index:      i,
			QuestionID: q.ID,
			Subject:    q.Subject,
			State:      model.PaletteStateOf(rec),
			Selection:  rec.Selection,
		}
	}
	if c.result != nil {
		id := c.result.ID
		view.AttemptID = &id
	}
	if c.lastErr != nil {
		view.LastError = c.lastErr.Error()
	}
	return view
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
