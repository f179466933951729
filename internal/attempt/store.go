// Package attempt holds the in-memory state of one timed attempt.
package attempt

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-mocktest/internal/model"
)

// Store errors. Every rejected mutation leaves the state untouched.
var (
	ErrNotInitialized     = errors.New("attempt not initialized")
	ErrAlreadyInitialized = errors.New("attempt already initialized")
	ErrAttemptFrozen      = errors.New("attempt is frozen")
	ErrValidation         = errors.New("invalid attempt mutation")
)

// Store is the single source of truth for an in-progress attempt.
// It is not safe for concurrent use; its owner serializes access.
type Store struct {
	now func() time.Time

	def         *model.TestDefinition
	attemptKey  uuid.UUID
	candidateID string
	phase       model.AttemptPhase
	answers     map[string]*model.AnswerRecord
	remaining   int
	timeTracked bool
	startedAt   time.Time
	frozen      *model.Snapshot
}

// NewStore creates an empty store. now may be nil to use time.Now.
func NewStore(now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{now: now}
}

// Initialize starts a fresh attempt on def. A live, unsubmitted attempt must be Reset first.
func (s *Store) Initialize(def *model.TestDefinition, candidateID string) error {
	if def == nil {
		return fmt.Errorf("%w: nil definition", ErrValidation)
	}
	if s.def != nil && s.phase == model.AttemptPhaseInProgress {
		return ErrAlreadyInitialized
	}

	s.def = def
	s.attemptKey = uuid.New()
	s.candidateID = candidateID
	s.phase = model.AttemptPhaseInProgress
	s.answers = make(map[string]*model.AnswerRecord)
	s.remaining = max(def.DurationSeconds, 0)
	s.timeTracked = false
	s.startedAt = s.now().UTC()
	s.frozen = nil
	return nil
}

// Reset discards the current attempt.
func (s *Store) Reset() {
	*s = Store{now: s.now}
}

// Definition returns the loaded definition, or nil.
func (s *Store) Definition() *model.TestDefinition { return s.def }

// Phase returns the current lifecycle phase. Empty before Initialize.
func (s *Store) Phase() model.AttemptPhase { return s.phase }

// Remaining returns the stored remaining seconds.
func (s *Store) Remaining() int { return s.remaining }

// SetAnswer records selection for a question and marks it visited.
func (s *Store) SetAnswer(questionID string, selection []string) error {
	q, err := s.mutable(questionID)
	if err != nil {
		return err
	}
	normalized, err := normalizeSelection(q, selection)
	if err != nil {
		return err
	}
	rec := s.record(questionID)
	rec.Selection = normalized
	rec.Visited = true
	return nil
}

// ClearAnswer returns a question to unanswered.
func (s *Store) ClearAnswer(questionID string) error {
	if _, err := s.mutable(questionID); err != nil {
		return err
	}
	rec := s.record(questionID)
	rec.Selection = nil
	rec.Visited = true
	return nil
}

// ToggleFlag flips the review flag and returns its new value.
func (s *Store) ToggleFlag(questionID string) (bool, error) {
	if _, err := s.mutable(questionID); err != nil {
		return false, err
	}
	rec := s.record(questionID)
	rec.Flagged = !rec.Flagged
	return rec.Flagged, nil
}

// MarkVisited marks a question as seen.
func (s *Store) MarkVisited(questionID string) error {
	if _, err := s.mutable(questionID); err != nil {
		return err
	}
	s.record(questionID).Visited = true
	return nil
}

// AddTimeSpent accumulates time spent on a question and marks the attempt as time-tracked.
func (s *Store) AddTimeSpent(questionID string, d time.Duration) error {
	if _, err := s.mutable(questionID); err != nil {
		return err
	}
	if d < 0 {
		return fmt.Errorf("%w: negative duration", ErrValidation)
	}
	s.record(questionID).TimeSpentMs += d.Milliseconds()
	s.timeTracked = true
	return nil
}

// Tick stores the remaining time relayed from the countdown, clamped to [0, total].
func (s *Store) Tick(remaining int) error {
	if err := s.guard(); err != nil {
		return err
	}
	total := max(s.def.DurationSeconds, 0)
	s.remaining = min(max(remaining, 0), total)
	return nil
}

// Freeze moves the attempt to SUBMITTED. Repeat calls return the same frozen snapshot.
func (s *Store) Freeze() (*model.Snapshot, error) {
	if s.def == nil {
		return nil, ErrNotInitialized
	}
	if s.frozen == nil {
		s.phase = model.AttemptPhaseSubmitted
		at := s.now().UTC()
		s.frozen = s.build()
		s.frozen.FrozenAt = &at
	}
	return s.frozen.Clone(), nil
}

// Snapshot returns an immutable copy of the current state.
func (s *Store) Snapshot() (*model.Snapshot, error) {
	if s.def == nil {
		return nil, ErrNotInitialized
	}
	if s.frozen != nil {
		return s.frozen.Clone(), nil
	}
	return s.build(), nil
}

// Record returns a copy of one question's record, zero-valued if never touched.
func (s *Store) Record(questionID string) model.AnswerRecord {
	if rec, ok := s.answers[questionID]; ok {
		out := *rec
		if rec.Selection != nil {
			out.Selection = append([]string(nil), rec.Selection...)
		}
		return out
	}
	return model.AnswerRecord{QuestionID: questionID}
}

func (s *Store) build() *model.Snapshot {
	answers := make(map[string]model.AnswerRecord, len(s.answers))
	for id, rec := range s.answers {
		answers[id] = *rec
	}
	snap := &model.Snapshot{
		AttemptKey:       s.attemptKey,
		CandidateID:      s.candidateID,
		ExamType:         s.def.ExamType,
		PaperID:          s.def.PaperID,
		Phase:            s.phase,
		Answers:          answers,
		RemainingSeconds: s.remaining,
		TotalSeconds:     max(s.def.DurationSeconds, 0),
		TimeTracked:      s.timeTracked,
		StartedAt:        s.startedAt,
	}
	// Clone detaches the selection slices from the live records.
	return snap.Clone()
}

func (s *Store) guard() error {
	if s.def == nil {
		return ErrNotInitialized
	}
	if s.phase != model.AttemptPhaseInProgress {
		return ErrAttemptFrozen
	}
	return nil
}

func (s *Store) mutable(questionID string) (*model.Question, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	q := s.def.Question(questionID)
	if q == nil {
		return nil, fmt.Errorf("%w: unknown question %q", ErrValidation, questionID)
	}
	return q, nil
}

func (s *Store) record(questionID string) *model.AnswerRecord {
	rec, ok := s.answers[questionID]
	if !ok {
		rec = &model.AnswerRecord{QuestionID: questionID}
		s.answers[questionID] = rec
	}
	return rec
}

// normalizeSelection validates a selection against the question and returns
// a trimmed, de-duplicated copy in input order.
func normalizeSelection(q *model.Question, selection []string) ([]string, error) {
	out := make([]string, 0, len(selection))
	seen := make(map[string]struct{}, len(selection))
	for _, v := range selection {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: empty selection for %q", ErrValidation, q.ID)
	}

	switch q.Type {
	case model.QuestionTypeSingle:
		if len(out) != 1 {
			return nil, fmt.Errorf("%w: question %q accepts one option", ErrValidation, q.ID)
		}
	case model.QuestionTypeNumeric:
		if len(out) != 1 {
			return nil, fmt.Errorf("%w: question %q accepts one value", ErrValidation, q.ID)
		}
		if _, err := strconv.ParseFloat(out[0], 64); err != nil {
			return nil, fmt.Errorf("%w: %q is not a number", ErrValidation, out[0])
		}
	}
	if q.Type.Objective() {
		for _, k := range out {
			if !q.HasOption(k) {
				return nil, fmt.Errorf("%w: %q is not an option of %q", ErrValidation, k, q.ID)
			}
		}
	}
	return out, nil
}
