package model

import (
	"time"

	"github.com/google/uuid"
)

// FinalizedSubmission is the immutable durable record of a finished attempt.
type FinalizedSubmission struct {
	ID             uuid.UUID `json:"id"`
	UserID         string    `json:"user_id"`
	ExamID         string    `json:"exam_id"`
	Answers        AnswerMap `json:"final_state"`
	IdempotencyKey *string   `json:"idempotency_key,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// FinishResponse is returned by the finish endpoint.
type FinishResponse struct {
	Status       string    `json:"status"`
	Message      string    `json:"message"`
	SubmissionID uuid.UUID `json:"submission_id"`
	Replayed     bool      `json:"replayed"`
}
