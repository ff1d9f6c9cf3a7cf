package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aotms/exam-engine/internal/middleware"
	"github.com/aotms/exam-engine/internal/model"
	"github.com/aotms/exam-engine/internal/repository"
	"github.com/aotms/exam-engine/internal/response"
	"github.com/aotms/exam-engine/internal/service"
	"github.com/aotms/exam-engine/internal/validator"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
	validator.Setup()
}

type memSubmissions struct {
	mu        sync.Mutex
	rows      []model.FinalizedSubmission
	insertErr error
}

func (m *memSubmissions) Insert(_ context.Context, s *model.FinalizedSubmission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return m.insertErr
	}
	s.ID = uuid.New()
	s.CreatedAt = time.Now()
	m.rows = append(m.rows, *s)
	return nil
}

func (m *memSubmissions) InsertOnce(ctx context.Context, s *model.FinalizedSubmission) (bool, error) {
	return true, m.Insert(ctx, s)
}

func (m *memSubmissions) FindByIdempotencyKey(_ context.Context, key string) (*model.FinalizedSubmission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range m.rows {
		if row.IdempotencyKey != nil && *row.IdempotencyKey == key {
			r := row
			return &r, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (m *memSubmissions) all() []model.FinalizedSubmission {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.FinalizedSubmission(nil), m.rows...)
}

type testEnv struct {
	mr     *miniredis.Miniredis
	subs   *memSubmissions
	router *gin.Engine
	svc    *service.AttemptService
}

func newTestEnv(t *testing.T, secret string) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), Protocol: 2, DisableIdentity: true})
	t.Cleanup(func() { _ = rdb.Close() })

	subs := &memSubmissions{}
	svc := service.NewAttemptService(
		repository.NewAttemptCacheRepository(rdb, 0),
		subs,
		repository.NewAttemptLockRepository(rdb, 5*time.Second, time.Second, 5*time.Millisecond),
		repository.NewStaleAttemptQueue(rdb),
		service.AttemptServiceOptions{},
		zerolog.Nop(),
	)

	h := NewExamEngineHandler(svc, zerolog.Nop())
	r := gin.New()
	r.Use(response.RequestIDMiddleware())
	exam := r.Group("/api/v1/exam", middleware.RequireAttemptOwner(secret))
	exam.POST("/submit-answer", h.SubmitAnswer)
	exam.GET("/state/:exam_id/:user_id", h.GetState)
	exam.POST("/finish/:exam_id/:user_id", h.Finish)

	return &testEnv{mr: mr, subs: subs, router: r, svc: svc}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}, headers map[string]string) (*httptest.ResponseRecorder, response.Response) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	var resp response.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return w, resp
}

func submitBody(user, exam, q, opt string, remaining int) map[string]interface{} {
	return map[string]interface{}{
		"user_id":                user,
		"exam_id":                exam,
		"question_id":            q,
		"selected_option":        opt,
		"time_remaining_seconds": remaining,
	}
}

func TestExamEngineHandler_FullAttempt(t *testing.T) {
	env := newTestEnv(t, "")

	w, _ := env.do(t, http.MethodPost, "/api/v1/exam/submit-answer", submitBody("u1", "e1", "q1", "A", 1800), nil)
	require.Equal(t, http.StatusOK, w.Code)
	w, _ = env.do(t, http.MethodPost, "/api/v1/exam/submit-answer", submitBody("u1", "e1", "q2", "C", 1790), nil)
	require.Equal(t, http.StatusOK, w.Code)
	w, resp := env.do(t, http.MethodPost, "/api/v1/exam/submit-answer", submitBody("u1", "e1", "q1", "B", 1750), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, map[string]interface{}{"status": "success", "message": "Answer saved"}, resp.Data)

	w, resp = env.do(t, http.MethodGet, "/api/v1/exam/state/e1/u1", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, map[string]interface{}{
		"answers":                map[string]interface{}{"q1": "B", "q2": "C"},
		"time_remaining_seconds": float64(1750),
	}, resp.Data)

	w, resp = env.do(t, http.MethodPost, "/api/v1/exam/finish/e1/u1", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, "success", data["status"])
	assert.NotEmpty(t, data["submission_id"])

	rows := env.subs.all()
	require.Len(t, rows, 1)
	assert.Equal(t, model.AnswerMap{"q1": "B", "q2": "C"}, rows[0].Answers)
	assert.Equal(t, rows[0].ID.String(), data["submission_id"])

	assert.False(t, env.mr.Exists("exam_state:u1:e1"))
	assert.False(t, env.mr.Exists("exam_timer:u1:e1"))

	w, resp = env.do(t, http.MethodGet, "/api/v1/exam/state/e1/u1", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, map[string]interface{}{
		"answers":                map[string]interface{}{},
		"time_remaining_seconds": nil,
	}, resp.Data)

	w, resp = env.do(t, http.MethodPost, "/api/v1/exam/finish/e1/u1", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, response.ErrNoAnswersRecorded, resp.Error.Code)
	assert.Len(t, env.subs.all(), 1)
}

func TestExamEngineHandler_SubmitValidation(t *testing.T) {
	env := newTestEnv(t, "")

	tests := []struct {
		name  string
		body  map[string]interface{}
		field string
	}{
		{name: "missing timer", body: map[string]interface{}{"user_id": "u1", "exam_id": "e1", "question_id": "q1", "selected_option": "A"}, field: "time_remaining_seconds"},
		{name: "negative timer", body: submitBody("u1", "e1", "q1", "A", -1), field: "time_remaining_seconds"},
		{name: "missing question", body: submitBody("u1", "e1", "", "A", 10), field: "question_id"},
		{name: "blank user", body: submitBody("  ", "e1", "q1", "A", 10), field: "user_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, resp := env.do(t, http.MethodPost, "/api/v1/exam/submit-answer", tt.body, nil)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			require.NotNil(t, resp.Error)
			assert.Equal(t, response.ErrValidation, resp.Error.Code)
			assert.Contains(t, resp.Error.Fields, tt.field)
		})
	}
	assert.Empty(t, env.mr.Keys())
}

func TestExamEngineHandler_OpaqueIDs(t *testing.T) {
	env := newTestEnv(t, "")

	w, _ := env.do(t, http.MethodPost, "/api/v1/exam/submit-answer", submitBody("u:1", "e1", "q1", "A", 100), nil)
	require.Equal(t, http.StatusOK, w.Code)
	w, _ = env.do(t, http.MethodPost, "/api/v1/exam/submit-answer", submitBody("u", "1:e1", "q1", "B", 100), nil)
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, "A", env.mr.HGet("exam_state:u%3A1:e1", "q1"))
	assert.Equal(t, "B", env.mr.HGet("exam_state:u:1%3Ae1", "q1"))

	w, resp := env.do(t, http.MethodGet, "/api/v1/exam/state/e1/u:1", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, map[string]interface{}{
		"answers":                map[string]interface{}{"q1": "A"},
		"time_remaining_seconds": float64(100),
	}, resp.Data)
}

func TestExamEngineHandler_FinishPersistenceFailureKeepsState(t *testing.T) {
	env := newTestEnv(t, "")
	env.subs.insertErr = errors.New("connection refused")

	w, _ := env.do(t, http.MethodPost, "/api/v1/exam/submit-answer", submitBody("u1", "e1", "q1", "A", 100), nil)
	require.Equal(t, http.StatusOK, w.Code)

	w, resp := env.do(t, http.MethodPost, "/api/v1/exam/finish/e1/u1", nil, nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, response.ErrPersistenceFailure, resp.Error.Code)
	assert.Equal(t, "A", env.mr.HGet("exam_state:u1:e1", "q1"))
}

func TestExamEngineHandler_StoreDown(t *testing.T) {
	env := newTestEnv(t, "")
	env.mr.Close()

	w, resp := env.do(t, http.MethodPost, "/api/v1/exam/submit-answer", submitBody("u1", "e1", "q1", "A", 100), nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, response.ErrStoreUnavailable, resp.Error.Code)
}

func TestExamEngineHandler_IdempotentFinish(t *testing.T) {
	env := newTestEnv(t, "")
	headers := map[string]string{"Idempotency-Key": "finish-1"}

	w, _ := env.do(t, http.MethodPost, "/api/v1/exam/submit-answer", submitBody("u1", "e1", "q1", "A", 100), nil)
	require.Equal(t, http.StatusOK, w.Code)

	w, first := env.do(t, http.MethodPost, "/api/v1/exam/finish/e1/u1", nil, headers)
	require.Equal(t, http.StatusOK, w.Code)
	w, second := env.do(t, http.MethodPost, "/api/v1/exam/finish/e1/u1", nil, headers)
	require.Equal(t, http.StatusOK, w.Code)

	firstData := first.Data.(map[string]interface{})
	secondData := second.Data.(map[string]interface{})
	assert.Equal(t, firstData["submission_id"], secondData["submission_id"])
	assert.Equal(t, false, firstData["replayed"])
	assert.Equal(t, true, secondData["replayed"])
	assert.Len(t, env.subs.all(), 1)
}

func TestExamEngineHandler_OwnerChecks(t *testing.T) {
	env := newTestEnv(t, testSecret)
	token := signToken(t, "u1")
	auth := map[string]string{"Authorization": "Bearer " + token}

	w, _ := env.do(t, http.MethodPost, "/api/v1/exam/submit-answer", submitBody("u1", "e1", "q1", "A", 100), auth)
	assert.Equal(t, http.StatusOK, w.Code)

	w, resp := env.do(t, http.MethodPost, "/api/v1/exam/submit-answer", submitBody("u2", "e1", "q1", "A", 100), auth)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, response.ErrForbidden, resp.Error.Code)

	w, _ = env.do(t, http.MethodGet, "/api/v1/exam/state/e1/u2", nil, auth)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, resp = env.do(t, http.MethodPost, "/api/v1/exam/finish/e1/u1", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, response.ErrTokenRequired, resp.Error.Code)
}

func TestAttemptErrorStatus(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   response.ErrCode
	}{
		{service.ErrValidation, http.StatusBadRequest, response.ErrValidation},
		{service.ErrNoAnswersRecorded, http.StatusBadRequest, response.ErrNoAnswersRecorded},
		{service.ErrTimerRegression, http.StatusConflict, response.ErrTimerRegression},
		{service.ErrAttemptBusy, http.StatusConflict, response.ErrAttemptBusy},
		{service.ErrStoreUnavailable, http.StatusServiceUnavailable, response.ErrStoreUnavailable},
		{service.ErrPersistenceFailure, http.StatusInternalServerError, response.ErrPersistenceFailure},
		{errors.New("boom"), http.StatusInternalServerError, response.ErrInternal},
	}
	for _, tt := range tests {
		status, code := attemptErrorStatus(tt.err)
		assert.Equal(t, tt.status, status, tt.err.Error())
		assert.Equal(t, tt.code, code, tt.err.Error())
	}
}
