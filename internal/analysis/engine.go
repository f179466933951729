// Package analysis derives scoring reports from submitted attempts.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-mocktest/internal/model"
)

// ErrIncompleteDefinition is returned when an attempt references a question
// the definition does not contain.
var ErrIncompleteDefinition = errors.New("incomplete test definition")

// AttemptFetcher resolves a submitted attempt by id.
type AttemptFetcher interface {
	FetchSubmittedAttempt(ctx context.Context, id uuid.UUID) (*model.SubmittedAttempt, error)
}

// DefinitionLoader loads a paper by exam type and paper id.
type DefinitionLoader interface {
	LoadTestDefinition(ctx context.Context, examType, paperID string) (*model.TestDefinition, error)
}

// Engine analyzes attempts entered by identifier.
type Engine struct {
	attempts AttemptFetcher
	loader   DefinitionLoader
	log      zerolog.Logger
}

// NewEngine creates a new Engine.
func NewEngine(attempts AttemptFetcher, loader DefinitionLoader, log zerolog.Logger) *Engine {
	return &Engine{
		attempts: attempts,
		loader:   loader,
		log:      log.With().Str("component", "analysis").Logger(),
	}
}

// AnalyzeByID fetches a submitted attempt and its paper, then analyzes it.
// model.ErrUnknownAttempt is returned unchanged in the chain.
func (e *Engine) AnalyzeByID(ctx context.Context, id uuid.UUID) (*model.AnalysisReport, error) {
	sub, err := e.attempts.FetchSubmittedAttempt(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("fetch attempt %s: %w", id, err)
	}
	def, err := e.loader.LoadTestDefinition(ctx, sub.Snapshot.ExamType, sub.Snapshot.PaperID)
	if err != nil {
		return nil, fmt.Errorf("load definition %s/%s: %w", sub.Snapshot.ExamType, sub.Snapshot.PaperID, err)
	}
	report, err := Analyze(def, sub)
	if err != nil {
		e.log.Error().Err(err).Str("attempt_id", id.String()).Msg("Attempt does not match its paper")
		return nil, err
	}
	return report, nil
}

// Analyze grades every question of def in order against the attempt's frozen
// answers. It has no side effects.
func Analyze(def *model.TestDefinition, sub *model.SubmittedAttempt) (*model.AnalysisReport, error) {
	if def == nil || sub == nil {
		return nil, fmt.Errorf("%w: missing definition or attempt", ErrIncompleteDefinition)
	}
	snap := &sub.Snapshot
	for _, id := range slices.Sorted(maps.Keys(snap.Answers)) {
		if def.Question(id) == nil {
			return nil, fmt.Errorf("%w: question %s is not in paper %s/%s", ErrIncompleteDefinition, id, def.ExamType, def.PaperID)
		}
	}

	tracked := snap.TimeTracked
	report := &model.AnalysisReport{
		AttemptID: sub.ID,
		ExamType:  def.ExamType,
		PaperID:   def.PaperID,
		Forced:    sub.Forced,
		Subjects:  []model.SubjectSummary{},
		Overall:   newSummary("", tracked),
		Questions: make([]model.QuestionResult, 0, len(def.Questions)),
	}
	bySubject := make(map[string]int)

	for i := range def.Questions {
		q := &def.Questions[i]
		rec := snap.Answers[q.ID]

		outcome, marks := grade(q, rec)
		result := model.QuestionResult{
			Index:         i,
			QuestionID:    q.ID,
			Subject:       q.Subject,
			Topic:         q.Topic,
			Outcome:       outcome,
			Selection:     slices.Clone(rec.Selection),
			CorrectAnswer: slices.Clone(q.CorrectAnswer),
			Marks:         marks,
			Flagged:       rec.Flagged,
		}
		if tracked {
			secs := float64(rec.TimeSpentMs) / 1000
			result.TimeSpentSeconds = &secs
		}
		report.Questions = append(report.Questions, result)

		idx, ok := bySubject[q.Subject]
		if !ok {
			idx = len(report.Subjects)
			bySubject[q.Subject] = idx
			report.Subjects = append(report.Subjects, newSummary(q.Subject, tracked))
		}
		accumulate(&report.Subjects[idx], q, result)
		accumulate(&report.Overall, q, result)
	}

	for i := range report.Subjects {
		finish(&report.Subjects[i])
	}
	finish(&report.Overall)
	return report, nil
}

func newSummary(subject string, tracked bool) model.SubjectSummary {
	s := model.SubjectSummary{Subject: subject}
	if tracked {
		zero := 0.0
		s.TimeSpentSeconds = &zero
	}
	return s
}

func accumulate(s *model.SubjectSummary, q *model.Question, r model.QuestionResult) {
	s.Questions++
	s.Score += r.Marks
	s.MaxScore += q.Marking.Correct
	switch r.Outcome {
	case model.OutcomeCorrect:
		s.Attempted++
		s.Correct++
	case model.OutcomeIncorrect:
		s.Attempted++
		s.Incorrect++
	default:
		s.Unattempted++
	}
	if s.TimeSpentSeconds != nil && r.TimeSpentSeconds != nil {
		*s.TimeSpentSeconds += *r.TimeSpentSeconds
	}
}

func finish(s *model.SubjectSummary) {
	if s.Attempted > 0 {
		s.Accuracy = round2(float64(s.Correct) / float64(s.Attempted) * 100)
	}
	s.Score = round2(s.Score)
	s.MaxScore = round2(s.MaxScore)
	if s.TimeSpentSeconds != nil {
		t := round2(*s.TimeSpentSeconds)
		s.TimeSpentSeconds = &t
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// grade classifies one question and returns the marks it earns.
func grade(q *model.Question, rec model.AnswerRecord) (model.Outcome, float64) {
	if !rec.Answered() {
		return model.OutcomeUnattempted, q.Marking.Unattempted
	}

	var correct bool
	switch q.Type {
	case model.QuestionTypeSingle:
		correct = len(rec.Selection) == 1 && slices.Contains(q.CorrectAnswer, rec.Selection[0])
	case model.QuestionTypeMultiple:
		correct = sameSet(rec.Selection, q.CorrectAnswer)
	case model.QuestionTypeNumeric:
		correct = withinTolerance(rec.Selection, q)
	}

	if correct {
		return model.OutcomeCorrect, q.Marking.Correct
	}
	return model.OutcomeIncorrect, q.Marking.Incorrect
}

// sameSet reports set equality. No partial credit is given.
func sameSet(got, want []string) bool {
	a := dedupe(got)
	b := dedupe(want)
	if len(a) != len(b) {
		return false
	}
	for k := range b {
		if _, ok := a[k]; !ok {
			return false
		}
	}
	return true
}

func dedupe(keys []string) map[string]struct{} {
	m := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		m[strings.TrimSpace(k)] = struct{}{}
	}
	return m
}

func withinTolerance(selection []string, q *model.Question) bool {
	if len(selection) != 1 || len(q.CorrectAnswer) != 1 {
		return false
	}
	got, err := strconv.ParseFloat(strings.TrimSpace(selection[0]), 64)
	if err != nil {
		return false
	}
	want, err := strconv.ParseFloat(strings.TrimSpace(q.CorrectAnswer[0]), 64)
	if err != nil {
		return false
	}
	// Epsilon absorbs float rounding at the tolerance boundary.
	return math.Abs(got-want) <= math.Abs(q.Tolerance)+1e-9
}
