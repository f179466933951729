package model

// QuestionType enumerates how a question's answer is captured and graded.
type QuestionType string

const (
	QuestionTypeSingle   QuestionType = "SINGLE"
	QuestionTypeMultiple QuestionType = "MULTIPLE"
	QuestionTypeNumeric  QuestionType = "NUMERIC"
)

// Valid reports whether t is a known question type.
func (t QuestionType) Valid() bool {
	switch t {
	case QuestionTypeSingle, QuestionTypeMultiple, QuestionTypeNumeric:
		return true
	}
	return false
}

// Objective reports whether the question is answered by picking option keys.
func (t QuestionType) Objective() bool {
	return t == QuestionTypeSingle || t == QuestionTypeMultiple
}

// MarkingScheme holds the points awarded per outcome. Incorrect is usually zero or negative.
type MarkingScheme struct {
	Correct     float64 `json:"correct" yaml:"correct"`
	Incorrect   float64 `json:"incorrect" yaml:"incorrect"`
	Unattempted float64 `json:"unattempted" yaml:"unattempted"`
}

// Option is one selectable choice of an objective question.
type Option struct {
	Key     string `json:"key" yaml:"key"`
	Content string `json:"content" yaml:"content"`
}

// Question is a single item of a test paper, including its answer key.
type Question struct {
	ID      string       `json:"id" yaml:"id"`
	Subject string       `json:"subject" yaml:"subject"`
	Topic   string       `json:"topic,omitempty" yaml:"topic"`
	Type    QuestionType `json:"type" yaml:"type"`
	Prompt  string       `json:"prompt" yaml:"prompt"`
	Options []Option     `json:"options,omitempty" yaml:"options"`
	// CorrectAnswer holds option keys for objective questions, or a single value for NUMERIC.
	CorrectAnswer []string      `json:"correct_answer" yaml:"correct_answer"`
	Tolerance     float64       `json:"tolerance,omitempty" yaml:"tolerance"`
	Marking       MarkingScheme `json:"marking" yaml:"marking"`
}

// HasOption reports whether key is one of the question's option keys.
func (q *Question) HasOption(key string) bool {
	for _, o := range q.Options {
		if o.Key == key {
			return true
		}
	}
	return false
}

// TestDefinition is an immutable, ordered question paper with its time budget.
type TestDefinition struct {
	ExamType        string     `json:"exam_type" yaml:"exam_type"`
	PaperID         string     `json:"paper_id" yaml:"paper_id"`
	Title           string     `json:"title" yaml:"title"`
	DurationSeconds int        `json:"duration_seconds" yaml:"duration_seconds"`
	Questions       []Question `json:"questions" yaml:"questions"`
}

// Question returns the question with the given id, or nil.
func (d *TestDefinition) Question(id string) *Question {
	for i := range d.Questions {
		if d.Questions[i].ID == id {
			return &d.Questions[i]
		}
	}
	return nil
}

// QuestionForCandidate is a question without its answer key, sent to candidates.
type QuestionForCandidate struct {
	Index   int           `json:"index"`
	ID      string        `json:"id"`
	Subject string        `json:"subject"`
	Topic   string        `json:"topic,omitempty"`
	Type    QuestionType  `json:"type"`
	Prompt  string        `json:"prompt"`
	Options []Option      `json:"options,omitempty"`
	Marking MarkingScheme `json:"marking"`
}

// PaperView is the candidate-facing paper (no correct answers).
type PaperView struct {
	ExamType        string                 `json:"exam_type"`
	PaperID         string                 `json:"paper_id"`
	Title           string                 `json:"title"`
	DurationSeconds int                    `json:"duration_seconds"`
	Questions       []QuestionForCandidate `json:"questions"`
}

// CandidatePaper strips the answer key from a definition.
func (d *TestDefinition) CandidatePaper() *PaperView {
	qs := make([]QuestionForCandidate, len(d.Questions))
	for i, q := range d.Questions {
		qs[i] = QuestionForCandidate{
			Index:   i,
			ID:      q.ID,
			Subject: q.Subject,
			Topic:   q.Topic,
			Type:    q.Type,
			Prompt:  q.Prompt,
			Options: append([]Option(nil), q.Options...),
			Marking: q.Marking,
		}
	}
	return &PaperView{
		ExamType:        d.ExamType,
		PaperID:         d.PaperID,
		Title:           d.Title,
		DurationSeconds: d.DurationSeconds,
		Questions:       qs,
	}
}
