package model

// StartAttemptRequest is the payload for starting a timed attempt on a paper.
type StartAttemptRequest struct {
	ExamType    string `json:"exam_type" binding:"required,min=1,max=50,slug"`
	PaperID     string `json:"paper_id" binding:"required,min=1,max=100,slug"`
	CandidateID string `json:"candidate_id" binding:"omitempty,max=100"`
}

// SelectAnswerRequest sets the selection for one question.
type SelectAnswerRequest struct {
	QuestionID string   `json:"question_id" binding:"required,max=100"`
	Selection  []string `json:"selection" binding:"required,min=1,max=26,dive,required,max=50"`
}

// NavigateRequest moves the cursor to a question index.
type NavigateRequest struct {
	Index *int `json:"index" binding:"required,min=0"`
}

// FlagRequest toggles the review flag of a question.
type FlagRequest struct {
	QuestionID string `json:"question_id" binding:"required,max=100"`
}
