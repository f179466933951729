package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-mocktest/internal/model"
	"github.com/stemsi/exstem-mocktest/internal/session"
	"github.com/stemsi/exstem-mocktest/internal/timer"
)

// ErrSessionNotFound is returned for an unknown or already discarded session.
var ErrSessionNotFound = errors.New("session not found")

const (
	collaboratorTimeout = 3 * time.Second
	// reviewRetention keeps a submitted session reachable for review navigation.
	reviewRetention = 30 * time.Minute
	// expiryGrace is how long past its paper duration an unsubmitted session may linger.
	expiryGrace = 15 * time.Minute
)

// DefinitionLoader loads a paper by exam type and paper id.
type DefinitionLoader interface {
	LoadTestDefinition(ctx context.Context, examType, paperID string) (*model.TestDefinition, error)
}

// SnapshotStore autosaves live snapshots.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, sessionID string, snap *model.Snapshot) error
	DeleteSnapshot(ctx context.Context, sessionID string) error
}

// EventPublisher publishes monitor events for a paper.
type EventPublisher interface {
	PublishEvent(ctx context.Context, examType, paperID string, ev model.MonitorEvent) error
}

// ScoreEnqueuer queues a submitted attempt for score persistence.
type ScoreEnqueuer interface {
	EnqueueScore(ctx context.Context, attemptID uuid.UUID) error
}

// AttemptDeps are the collaborators of an AttemptService.
type AttemptDeps struct {
	Loader    DefinitionLoader
	Submitter session.Submitter
	Snapshots SnapshotStore
	Monitor   EventPublisher
	Scores    ScoreEnqueuer
	Tokens    *TokenService
	Retry     session.RetryPolicy
	// NewCountdown overrides the countdown of every new session.
	NewCountdown func() *timer.Countdown
}

// StartResult is returned to a candidate starting an attempt.
type StartResult struct {
	SessionID    uuid.UUID         `json:"session_id"`
	SessionToken string            `json:"session_token"`
	ExpiresAt    time.Time         `json:"expires_at"`
	Paper        *model.PaperView  `json:"paper"`
	State        model.AttemptView `json:"state"`
}

type liveSession struct {
	id          uuid.UUID
	candidateID string
	ctrl        *session.Controller
	hub         *sessionHub
	createdAt   time.Time
	saveMu      sync.Mutex
}

// AttemptService owns the controllers of all live sessions on this instance.
type AttemptService struct {
	deps AttemptDeps
	log  zerolog.Logger
	now  func() time.Time

	// base scopes background work of controllers; it outlives requests.
	base context.Context

	mu       sync.RWMutex
	sessions map[uuid.UUID]*liveSession
}

// NewAttemptService creates a new AttemptService.
func NewAttemptService(base context.Context, deps AttemptDeps, log zerolog.Logger) *AttemptService {
	if deps.Retry.MaxAttempts == 0 {
		deps.Retry = session.DefaultRetryPolicy
	}
	return &AttemptService{
		deps:     deps,
		log:      log.With().Str("component", "attempt_service").Logger(),
		now:      time.Now,
		base:     context.WithoutCancel(base),
		sessions: make(map[uuid.UUID]*liveSession),
	}
}

// Start loads the paper, starts a timed session on it and issues its token.
func (s *AttemptService) Start(ctx context.Context, req model.StartAttemptRequest) (*StartResult, error) {
	def, err := s.deps.Loader.LoadTestDefinition(ctx, req.ExamType, req.PaperID)
	if err != nil {
		return nil, fmt.Errorf("load paper: %w", err)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}

	ls := &liveSession{
		id:          uuid.New(),
		candidateID: req.CandidateID,
		hub:         newSessionHub(),
		createdAt:   s.now(),
	}
	token, exp, err := s.deps.Tokens.Issue(ls.id, def.ExamType, def.PaperID, req.CandidateID)
	if err != nil {
		return nil, err
	}

	opts := []session.Option{
		session.WithLogger(s.log.With().Str("session_id", ls.id.String()).Logger()),
		session.WithRetryPolicy(s.deps.Retry),
		session.WithCandidate(req.CandidateID),
		session.WithHooks(s.hooks(ls, def)),
	}
	if s.deps.NewCountdown != nil {
		opts = append(opts, session.WithCountdown(s.deps.NewCountdown()))
	}
	ls.ctrl = session.New(def, s.deps.Submitter, opts...)

	s.mu.Lock()
	s.sessions[ls.id] = ls
	s.mu.Unlock()

	if err := ls.ctrl.Start(s.base); err != nil {
		s.remove(ls.id)
		return nil, err
	}

	s.publish(ls, def, model.MonitorAttemptStarted, nil)
	s.log.Info().
		Str("session_id", ls.id.String()).
		Str("exam_type", def.ExamType).
		Str("paper_id", def.PaperID).
		Msg("Session started")

	return &StartResult{
		SessionID:    ls.id,
		SessionToken: token,
		ExpiresAt:    exp,
		Paper:        def.CandidatePaper(),
		State:        ls.ctrl.View(),
	}, nil
}

// Paper returns the candidate-facing paper of a session.
func (s *AttemptService) Paper(id uuid.UUID) (*model.PaperView, error) {
	ls, err := s.get(id)
	if err != nil {
		return nil, err
	}
	return ls.ctrl.Definition().CandidatePaper(), nil
}

// State returns the current view of a session.
func (s *AttemptService) State(id uuid.UUID) (model.AttemptView, error) {
	ls, err := s.get(id)
	if err != nil {
		return model.AttemptView{}, err
	}
	return ls.ctrl.View(), nil
}

// SelectAnswer records a selection and returns the updated view.
func (s *AttemptService) SelectAnswer(id uuid.UUID, questionID string, selection []string) (model.AttemptView, error) {
	return s.apply(id, func(c *session.Controller) error { return c.SelectAnswer(questionID, selection) })
}

// ClearAnswer resets a question to unanswered and returns the updated view.
func (s *AttemptService) ClearAnswer(id uuid.UUID, questionID string) (model.AttemptView, error) {
	return s.apply(id, func(c *session.Controller) error { return c.ClearAnswer(questionID) })
}

// Navigate moves the cursor and returns the updated view.
func (s *AttemptService) Navigate(id uuid.UUID, index int) (model.AttemptView, error) {
	return s.apply(id, func(c *session.Controller) error { return c.NavigateTo(index) })
}

// ToggleFlag flips a review flag and returns the updated view.
func (s *AttemptService) ToggleFlag(id uuid.UUID, questionID string) (model.AttemptView, error) {
	return s.apply(id, func(c *session.Controller) error {
		_, err := c.Flag(questionID)
		return err
	})
}

// Submit runs the manual submission of a session. Retries continue even if
// the caller goes away.
func (s *AttemptService) Submit(ctx context.Context, id uuid.UUID) (*model.SubmittedAttempt, error) {
	ls, err := s.get(id)
	if err != nil {
		return nil, err
	}
	return ls.ctrl.Submit(context.WithoutCancel(ctx))
}

// Abandon closes a session without submitting and discards it.
func (s *AttemptService) Abandon(ctx context.Context, id uuid.UUID) error {
	ls, err := s.get(id)
	if err != nil {
		return err
	}
	ls.ctrl.Close()
	s.remove(id)

	def := ls.ctrl.Definition()
	if ls.ctrl.Status() != model.SessionStatusSubmitted {
		s.publish(ls, def, model.MonitorAttemptAbandoned, nil)
	}
	s.deleteSnapshot(ls)
	ls.hub.close(SessionEvent{Type: SessionEventClosed})

	s.log.Info().Str("session_id", id.String()).Msg("Session abandoned")
	return nil
}

// Subscribe attaches a stream subscriber to a session.
func (s *AttemptService) Subscribe(id uuid.UUID) (<-chan SessionEvent, func(), error) {
	ls, err := s.get(id)
	if err != nil {
		return nil, nil, err
	}
	ch, cancel := ls.hub.subscribe()
	return ch, cancel, nil
}

// LiveSessions returns the progress of every session on a paper held by this instance.
func (s *AttemptService) LiveSessions(examType, paperID string) []model.MonitorEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.MonitorEvent, 0)
	for _, ls := range s.sessions {
		def := ls.ctrl.Definition()
		if def.ExamType != examType || def.PaperID != paperID {
			continue
		}
		out = append(out, s.monitorEvent(ls, model.MonitorAttemptProgress, nil))
	}
	slices.SortFunc(out, func(a, b model.MonitorEvent) int { return strings.Compare(a.SessionID.String(), b.SessionID.String()) })
	return out
}

// ActiveSessions returns the number of sessions held in memory.
func (s *AttemptService) ActiveSessions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Sweep discards sessions submitted longer than the review retention ago and
// sessions that outlived their paper duration. It returns how many were removed.
func (s *AttemptService) Sweep(now time.Time) int {
	s.mu.RLock()
	var stale []*liveSession
	for _, ls := range s.sessions {
		def := ls.ctrl.Definition()
		deadline := ls.createdAt.Add(time.Duration(def.DurationSeconds)*time.Second + expiryGrace)
		if r := ls.ctrl.Result(); r != nil {
			deadline = r.SubmittedAt.Add(reviewRetention)
		}
		if now.After(deadline) {
			stale = append(stale, ls)
		}
	}
	s.mu.RUnlock()

	for _, ls := range stale {
		ls.ctrl.Close()
		s.remove(ls.id)
		ls.hub.close(SessionEvent{Type: SessionEventClosed})
	}
	if len(stale) > 0 {
		s.log.Info().Int("removed", len(stale)).Msg("Swept stale sessions")
	}
	return len(stale)
}

// RunJanitor calls Sweep every interval until ctx is done.
func (s *AttemptService) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.Sweep(now)
		}
	}
}

// Shutdown cancels every countdown and waits for in-flight submissions.
func (s *AttemptService) Shutdown(ctx context.Context) error {
	s.mu.RLock()
	all := make([]*liveSession, 0, len(s.sessions))
	for _, ls := range s.sessions {
		all = append(all, ls)
	}
	s.mu.RUnlock()

	for _, ls := range all {
		ls.ctrl.Close()
	}

	done := make(chan struct{})
	go func() {
		for _, ls := range all {
			ls.ctrl.Wait()
		}
		close(done)
	}()

	select {
	case <-done:
		s.log.Info().Int("sessions", len(all)).Msg("All sessions closed")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for submissions: %w", ctx.Err())
	}
}

func (s *AttemptService) apply(id uuid.UUID, fn func(*session.Controller) error) (model.AttemptView, error) {
	ls, err := s.get(id)
	if err != nil {
		return model.AttemptView{}, err
	}
	if err := fn(ls.ctrl); err != nil {
		return model.AttemptView{}, err
	}
	return ls.ctrl.View(), nil
}

func (s *AttemptService) get(id uuid.UUID) (*liveSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ls, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return ls, nil
}

func (s *AttemptService) remove(id uuid.UUID) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
}

func (s *AttemptService) hooks(ls *liveSession, def *model.TestDefinition) session.Hooks {
	return session.Hooks{
		OnTick: func(remaining int) {
			ls.hub.broadcast(SessionEvent{Type: SessionEventTick, Data: map[string]int{"remaining_seconds": remaining}})
		},
		OnChange: func(view model.AttemptView) {
			ls.hub.broadcast(SessionEvent{Type: SessionEventState, Data: view})
			if view.Status == model.SessionStatusInProgress {
				s.autosave(ls)
				s.publish(ls, def, model.MonitorAttemptProgress, nil)
			}
		},
		OnSubmitted: func(result *model.SubmittedAttempt) {
			ls.hub.broadcast(SessionEvent{Type: SessionEventSubmitted, Data: result})
			s.publish(ls, def, model.MonitorAttemptSubmitted, result)
			s.deleteSnapshot(ls)

			ctx, cancel := context.WithTimeout(s.base, collaboratorTimeout)
			defer cancel()
			if s.deps.Scores != nil {
				if err := s.deps.Scores.EnqueueScore(ctx, result.ID); err != nil {
					s.log.Error().Err(err).Str("attempt_id", result.ID.String()).Msg("Failed to queue score")
				}
			}
		},
		OnSubmitFailed: func(err error) {
			ls.hub.broadcast(SessionEvent{Type: SessionEventSubmitFailed, Data: map[string]string{"error": err.Error()}})
			s.publish(ls, def, model.MonitorSubmitFailed, nil)
		},
	}
}

// autosave writes the latest snapshot. saveMu orders concurrent saves so the
// last write carries the newest state.
func (s *AttemptService) autosave(ls *liveSession) {
	if s.deps.Snapshots == nil || ls.ctrl == nil {
		return
	}
	ls.saveMu.Lock()
	defer ls.saveMu.Unlock()

	snap, err := ls.ctrl.Snapshot()
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(s.base, collaboratorTimeout)
	defer cancel()
	if err := s.deps.Snapshots.SaveSnapshot(ctx, ls.id.String(), snap); err != nil {
		s.log.Warn().Err(err).Str("session_id", ls.id.String()).Msg("Autosave failed")
	}
}

func (s *AttemptService) deleteSnapshot(ls *liveSession) {
	if s.deps.Snapshots == nil {
		return
	}
	ls.saveMu.Lock()
	defer ls.saveMu.Unlock()

	ctx, cancel := context.WithTimeout(s.base, collaboratorTimeout)
	defer cancel()
	if err := s.deps.Snapshots.DeleteSnapshot(ctx, ls.id.String()); err != nil {
		s.log.Warn().Err(err).Str("session_id", ls.id.String()).Msg("Failed to delete autosaved snapshot")
	}
}

func (s *AttemptService) publish(ls *liveSession, def *model.TestDefinition, typ model.MonitorEventType, result *model.SubmittedAttempt) {
	if s.deps.Monitor == nil || ls.ctrl == nil {
		return
	}
	ev := s.monitorEvent(ls, typ, result)

	ctx, cancel := context.WithTimeout(s.base, collaboratorTimeout)
	defer cancel()
	if err := s.deps.Monitor.PublishEvent(ctx, def.ExamType, def.PaperID, ev); err != nil {
		s.log.Warn().Err(err).Str("event", string(typ)).Msg("Failed to publish monitor event")
	}
}

func (s *AttemptService) monitorEvent(ls *liveSession, typ model.MonitorEventType, result *model.SubmittedAttempt) model.MonitorEvent {
	view := ls.ctrl.View()
	ev := model.MonitorEvent{
		Type:             typ,
		SessionID:        ls.id,
		CandidateID:      ls.candidateID,
		Status:           view.Status,
		AnsweredCount:    view.AnsweredCount,
		TotalQuestions:   len(view.Palette),
		RemainingSeconds: view.RemainingSeconds,
		At:               s.now().UTC(),
	}
	if result == nil {
		result = ls.ctrl.Result()
	}
	if result != nil {
		id := result.ID
		ev.AttemptID = &id
		ev.Forced = result.Forced
	}
	return ev
}
