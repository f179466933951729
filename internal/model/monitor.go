package model

import (
	"time"

	"github.com/google/uuid"
)

// MonitorEventType names an attempt lifecycle event on a paper's monitor channel.
type MonitorEventType string

const (
	MonitorAttemptStarted   MonitorEventType = "attempt_started"
	MonitorAttemptProgress  MonitorEventType = "attempt_progress"
	MonitorAttemptSubmitted MonitorEventType = "attempt_submitted"
	MonitorSubmitFailed     MonitorEventType = "submit_failed"
	MonitorAttemptAbandoned MonitorEventType = "attempt_abandoned"
)

// MonitorEvent is published for proctors watching a paper live.
type MonitorEvent struct {
	Type             MonitorEventType `json:"type"`
	SessionID        uuid.UUID        `json:"session_id"`
	CandidateID      string           `json:"candidate_id,omitempty"`
	Status           SessionStatus    `json:"status"`
	AnsweredCount    int              `json:"answered_count"`
	TotalQuestions   int              `json:"total_questions"`
	RemainingSeconds int              `json:"remaining_seconds"`
	AttemptID        *uuid.UUID       `json:"attempt_id,omitempty"`
	Forced           bool             `json:"forced,omitempty"`
	At               time.Time        `json:"at"`
}
