package handler

import (
	"net/http"

	"github.com/aotms/exam-engine/internal/middleware"
	"github.com/aotms/exam-engine/internal/model"
	"github.com/aotms/exam-engine/internal/response"
	"github.com/aotms/exam-engine/internal/service"
	"github.com/aotms/exam-engine/internal/validator"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// ExamEngineHandler exposes the live attempt lifecycle: save, recover, finish.
type ExamEngineHandler struct {
	attemptService *service.AttemptService
	log            zerolog.Logger
}

// NewExamEngineHandler creates a new ExamEngineHandler.
func NewExamEngineHandler(attemptService *service.AttemptService, log zerolog.Logger) *ExamEngineHandler {
	return &ExamEngineHandler{
		attemptService: attemptService,
		log:            log.With().Str("component", "exam_engine_handler").Logger(),
	}
}

// SubmitAnswer godoc
// POST /api/v1/exam/submit-answer
// Saves one answer and the client-reported time remaining.
func (h *ExamEngineHandler) SubmitAnswer(c *gin.Context) {
	var req model.SubmitAnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	if !middleware.OwnsAttempt(c, req.UserID) {
		response.Fail(c, http.StatusForbidden, response.ErrForbidden)
		return
	}

	h.log.Info().
		Str("user_id", req.UserID).
		Str("exam_id", req.ExamID).
		Str("question_id", req.QuestionID).
		Msg("answer_submission_received")

	err := h.attemptService.SubmitAnswer(c.Request.Context(), req.Key(),
		req.QuestionID, req.SelectedOption, *req.TimeRemainingSeconds)
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"status":  "success",
		"message": "Answer saved",
	})
}

// GetState godoc
// GET /api/v1/exam/state/:exam_id/:user_id
// Returns the answers and timer of an in-progress attempt so a disconnected
// client can resume.
func (h *ExamEngineHandler) GetState(c *gin.Context) {
	key := attemptKeyFromPath(c)

	state, err := h.attemptService.RecoverState(c.Request.Context(), key)
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, http.StatusOK, state)
}

// Finish godoc
// POST /api/v1/exam/finish/:exam_id/:user_id
// Commits the attempt to the durable store. An Idempotency-Key header makes
// retries return the first submission.
func (h *ExamEngineHandler) Finish(c *gin.Context) {
	key := attemptKeyFromPath(c)
	opts := service.FinalizeOptions{IdempotencyKey: c.GetHeader("Idempotency-Key")}

	res, err := h.attemptService.Finalize(c.Request.Context(), key, opts)
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Success(c, http.StatusOK, model.FinishResponse{
		Status:       "success",
		Message:      "Exam permanently recorded",
		SubmissionID: res.SubmissionID,
		Replayed:     res.Replayed,
	})
}

func (h *ExamEngineHandler) fail(c *gin.Context, err error) {
	status, code := attemptErrorStatus(err)
	evt := h.log.Warn()
	if status >= http.StatusInternalServerError {
		evt = h.log.Error()
	}
	evt.Err(err).
		Str("request_id", response.RequestID(c)).
		Str("code", string(code)).
		Msg("attempt request failed")
	response.Fail(c, status, code)
}

func attemptKeyFromPath(c *gin.Context) model.AttemptKey {
	return model.AttemptKey{
		UserID: c.Param("user_id"),
		ExamID: c.Param("exam_id"),
	}
}
