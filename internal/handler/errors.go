package handler

import (
	"errors"
	"net/http"

	"github.com/aotms/exam-engine/internal/response"
	"github.com/aotms/exam-engine/internal/service"
)

// attemptErrorStatus maps a coordinator error onto an HTTP status and API code.
func attemptErrorStatus(err error) (int, response.ErrCode) {
	switch {
	case errors.Is(err, service.ErrValidation):
		return http.StatusBadRequest, response.ErrValidation
	case errors.Is(err, service.ErrNoAnswersRecorded):
		return http.StatusBadRequest, response.ErrNoAnswersRecorded
	case errors.Is(err, service.ErrTimerRegression):
		return http.StatusConflict, response.ErrTimerRegression
	case errors.Is(err, service.ErrAttemptBusy):
		return http.StatusConflict, response.ErrAttemptBusy
	case errors.Is(err, service.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, response.ErrStoreUnavailable
	case errors.Is(err, service.ErrPersistenceFailure):
		return http.StatusInternalServerError, response.ErrPersistenceFailure
	default:
		return http.StatusInternalServerError, response.ErrInternal
	}
}
