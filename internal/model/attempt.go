package model

import (
	"time"

	"github.com/google/uuid"
)

// AttemptPhase is the store-level lifecycle of an attempt.
type AttemptPhase string

const (
	AttemptPhaseInProgress AttemptPhase = "IN_PROGRESS"
	AttemptPhaseSubmitted  AttemptPhase = "SUBMITTED"
)

// SessionStatus is the controller-level state machine of an attempt session.
type SessionStatus string

const (
	SessionStatusUninitialized    SessionStatus = "UNINITIALIZED"
	SessionStatusInProgress       SessionStatus = "IN_PROGRESS"
	SessionStatusSubmitting       SessionStatus = "SUBMITTING"
	SessionStatusSubmitted        SessionStatus = "SUBMITTED"
	SessionStatusSubmissionFailed SessionStatus = "SUBMISSION_FAILED"
)

// AnswerRecord is a candidate's state for one question.
type AnswerRecord struct {
	QuestionID string `json:"question_id"`
	// Selection is nil while the question is unanswered.
	Selection   []string `json:"selection"`
	Visited     bool     `json:"visited"`
	Flagged     bool     `json:"flagged"`
	TimeSpentMs int64    `json:"time_spent_ms"`
}

// Answered reports whether a selection is recorded.
func (r AnswerRecord) Answered() bool {
	return len(r.Selection) > 0
}

func (r AnswerRecord) clone() AnswerRecord {
	if r.Selection != nil {
		r.Selection = append([]string(nil), r.Selection...)
	}
	return r
}

// Snapshot is an immutable copy of an attempt taken for submission, recovery, or analysis.
type Snapshot struct {
	AttemptKey       uuid.UUID               `json:"attempt_key"`
	CandidateID      string                  `json:"candidate_id,omitempty"`
	ExamType         string                  `json:"exam_type"`
	PaperID          string                  `json:"paper_id"`
	Phase            AttemptPhase            `json:"phase"`
	Answers          map[string]AnswerRecord `json:"answers"`
	RemainingSeconds int                     `json:"remaining_seconds"`
	TotalSeconds     int                     `json:"total_seconds"`
	TimeTracked      bool                    `json:"time_tracked"`
	StartedAt        time.Time               `json:"started_at"`
	FrozenAt         *time.Time              `json:"frozen_at,omitempty"`
}

// Clone returns a deep copy that shares no mutable memory with s.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	out := *s
	out.Answers = make(map[string]AnswerRecord, len(s.Answers))
	for k, v := range s.Answers {
		out.Answers[k] = v.clone()
	}
	if s.FrozenAt != nil {
		t := *s.FrozenAt
		out.FrozenAt = &t
	}
	return &out
}

// AnsweredCount returns the number of questions with a recorded selection.
func (s *Snapshot) AnsweredCount() int {
	n := 0
	for _, r := range s.Answers {
		if r.Answered() {
			n++
		}
	}
	return n
}

// SubmittedAttempt is the server-acknowledged result of a submission.
type SubmittedAttempt struct {
	ID          uuid.UUID `json:"id"`
	SubmittedAt time.Time `json:"submitted_at"`
	Forced      bool      `json:"forced"`
	Snapshot    Snapshot  `json:"snapshot"`
}

// PaletteState is the question-palette state shown to a candidate.
type PaletteState string

const (
	PaletteNotVisited     PaletteState = "NOT_VISITED"
	PaletteNotAnswered    PaletteState = "NOT_ANSWERED"
	PaletteAnswered       PaletteState = "ANSWERED"
	PaletteMarked         PaletteState = "MARKED"
	PaletteAnsweredMarked PaletteState = "ANSWERED_MARKED"
)

// PaletteStateOf derives the palette state of a record.
func PaletteStateOf(r AnswerRecord) PaletteState {
	switch {
	case r.Answered() && r.Flagged:
		return PaletteAnsweredMarked
	case r.Flagged:
		return PaletteMarked
	case r.Answered():
		return PaletteAnswered
	case r.Visited:
		return PaletteNotAnswered
	default:
		return PaletteNotVisited
	}
}

// PaletteEntry is one cell of the question palette.
type PaletteEntry struct {
	Index      int          `json:"index"`
	QuestionID string       `json:"question_id"`
	Subject    string       `json:"subject"`
	State      PaletteState `json:"state"`
	Selection  []string     `json:"selection,omitempty"`
}

// AttemptView is the read-only presentation of a live attempt.
type AttemptView struct {
	Status           SessionStatus  `json:"status"`
	ExamType         string         `json:"exam_type"`
	PaperID          string         `json:"paper_id"`
	Title            string         `json:"title"`
	CurrentIndex     int            `json:"current_index"`
	RemainingSeconds int            `json:"remaining_seconds"`
	TotalSeconds     int            `json:"total_seconds"`
	AnsweredCount    int            `json:"answered_count"`
	FlaggedCount     int            `json:"flagged_count"`
	Palette          []PaletteEntry `json:"palette"`
	AttemptID        *uuid.UUID     `json:"attempt_id,omitempty"`
	LastError        string         `json:"last_error,omitempty"`
}
