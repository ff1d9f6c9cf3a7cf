package model

import (
	"errors"
	"strings"
)

// AttemptKey identifies one test-taker's live attempt at one exam.
type AttemptKey struct {
	UserID string `json:"user_id"`
	ExamID string `json:"exam_id"`
}

// String renders the key for logs and error messages.
func (k AttemptKey) String() string {
	return k.UserID + "/" + k.ExamID
}

// Validate rejects blank ids. Ids are otherwise opaque.
func (k AttemptKey) Validate() error {
	if strings.TrimSpace(k.UserID) == "" {
		return errors.New("user_id is required")
	}
	if strings.TrimSpace(k.ExamID) == "" {
		return errors.New("exam_id is required")
	}
	return nil
}

// AnswerMap maps question_id to the selected option. Last write wins.
type AnswerMap map[string]string

// AttemptState is what a reconnecting client needs to resume an attempt.
type AttemptState struct {
	Answers              AnswerMap `json:"answers"`
	TimeRemainingSeconds *int      `json:"time_remaining_seconds"`
}

// SubmitAnswerRequest is the payload for saving one answer.
type SubmitAnswerRequest struct {
	UserID               string `json:"user_id" binding:"required,attempt_id"`
	ExamID               string `json:"exam_id" binding:"required,attempt_id"`
	QuestionID           string `json:"question_id" binding:"required,max=255"`
	SelectedOption       string `json:"selected_option" binding:"required,max=1024"`
	TimeRemainingSeconds *int   `json:"time_remaining_seconds" binding:"required,min=0"`
}

// Key returns the attempt the request writes to.
func (r *SubmitAnswerRequest) Key() AttemptKey {
	return AttemptKey{UserID: r.UserID, ExamID: r.ExamID}
}
