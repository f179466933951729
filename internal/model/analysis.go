package model

import "github.com/google/uuid"

// Outcome classifies a question in a submitted attempt.
type Outcome string

const (
	OutcomeCorrect     Outcome = "CORRECT"
	OutcomeIncorrect   Outcome = "INCORRECT"
	OutcomeUnattempted Outcome = "UNATTEMPTED"
)

// QuestionResult is the graded outcome of one question.
type QuestionResult struct {
	Index         int      `json:"index"`
	QuestionID    string   `json:"question_id"`
	Subject       string   `json:"subject"`
	Topic         string   `json:"topic,omitempty"`
	Outcome       Outcome  `json:"outcome"`
	Selection     []string `json:"selection"`
	CorrectAnswer []string `json:"correct_answer"`
	Marks         float64  `json:"marks"`
	Flagged       bool     `json:"flagged"`
	// TimeSpentSeconds is nil when the attempt did not track time.
	TimeSpentSeconds *float64 `json:"time_spent_seconds"`
}

// SubjectSummary aggregates outcomes for one subject, or for the whole paper.
type SubjectSummary struct {
	Subject     string  `json:"subject"`
	Questions   int     `json:"questions"`
	Attempted   int     `json:"attempted"`
	Correct     int     `json:"correct"`
	Incorrect   int     `json:"incorrect"`
	Unattempted int     `json:"unattempted"`
	Score       float64 `json:"score"`
	MaxScore    float64 `json:"max_score"`
	// Accuracy is correct/attempted in percent; zero when nothing was attempted.
	Accuracy float64 `json:"accuracy"`
	// TimeSpentSeconds is nil when time was not tracked, which is not the same as zero.
	TimeSpentSeconds *float64 `json:"time_spent_seconds"`
}

// AnalysisReport is the derived, read-only scoring breakdown of an attempt.
type AnalysisReport struct {
	AttemptID uuid.UUID        `json:"attempt_id"`
	ExamType  string           `json:"exam_type"`
	PaperID   string           `json:"paper_id"`
	Forced    bool             `json:"forced"`
	Subjects  []SubjectSummary `json:"subjects"`
	Overall   SubjectSummary   `json:"overall"`
	Questions []QuestionResult `json:"questions"`
}
