package model

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Collaborator errors shared by loaders, submission and fetch services.
var (
	ErrDefinitionNotFound = errors.New("test definition not found")
	ErrUnknownAttempt     = errors.New("unknown attempt")
	// ErrSubmissionRejected marks a submission the backing service refused as invalid.
	// Retrying the same snapshot cannot succeed.
	ErrSubmissionRejected = errors.New("submission rejected")
	ErrInvalidDefinition  = errors.New("invalid test definition")
)

// Validate checks a definition loaded from an external source.
func (d *TestDefinition) Validate() error {
	if d.ExamType == "" || d.PaperID == "" {
		return fmt.Errorf("%w: exam_type and paper_id are required", ErrInvalidDefinition)
	}
	if d.DurationSeconds < 0 {
		return fmt.Errorf("%w: negative duration", ErrInvalidDefinition)
	}
	if len(d.Questions) == 0 {
		return fmt.Errorf("%w: paper %s/%s has no questions", ErrInvalidDefinition, d.ExamType, d.PaperID)
	}

	seen := make(map[string]struct{}, len(d.Questions))
	for i := range d.Questions {
		q := &d.Questions[i]
		if q.ID == "" {
			return fmt.Errorf("%w: question %d has no id", ErrInvalidDefinition, i)
		}
		if _, dup := seen[q.ID]; dup {
			return fmt.Errorf("%w: duplicate question id %s", ErrInvalidDefinition, q.ID)
		}
		seen[q.ID] = struct{}{}

		if !q.Type.Valid() {
			return fmt.Errorf("%w: question %s has unknown type %q", ErrInvalidDefinition, q.ID, q.Type)
		}
		if len(q.CorrectAnswer) == 0 {
			return fmt.Errorf("%w: question %s has no correct answer", ErrInvalidDefinition, q.ID)
		}
		if q.Type == QuestionTypeSingle && len(q.CorrectAnswer) != 1 {
			return fmt.Errorf("%w: single-answer question %s lists %d keys", ErrInvalidDefinition, q.ID, len(q.CorrectAnswer))
		}
		if q.Type == QuestionTypeNumeric {
			if len(q.CorrectAnswer) != 1 {
				return fmt.Errorf("%w: numeric question %s lists %d values", ErrInvalidDefinition, q.ID, len(q.CorrectAnswer))
			}
			if _, err := strconv.ParseFloat(strings.TrimSpace(q.CorrectAnswer[0]), 64); err != nil {
				return fmt.Errorf("%w: numeric question %s has non-numeric answer %q", ErrInvalidDefinition, q.ID, q.CorrectAnswer[0])
			}
		}
		if q.Type.Objective() {
			if len(q.Options) < 2 {
				return fmt.Errorf("%w: question %s must have at least 2 options", ErrInvalidDefinition, q.ID)
			}
			for _, k := range q.CorrectAnswer {
				if !q.HasOption(k) {
					return fmt.Errorf("%w: question %s answer key %q is not an option", ErrInvalidDefinition, q.ID, k)
				}
			}
		}
	}
	return nil
}
