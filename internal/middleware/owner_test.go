package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aotms/exam-engine/internal/response"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

func signToken(t *testing.T, secret, subject string, expiresIn time.Duration) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func ownerRouter(secret string) *gin.Engine {
	r := gin.New()
	r.Use(RequireAttemptOwner(secret))
	r.GET("/state/:exam_id/:user_id", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	r.POST("/submit", func(c *gin.Context) {
		if !OwnsAttempt(c, c.Query("user_id")) {
			c.Status(http.StatusForbidden)
			return
		}
		c.String(http.StatusOK, "ok")
	})
	return r
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) response.ErrCode {
	t.Helper()
	var body response.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.NotNil(t, body.Error)
	return body.Error.Code
}

func TestRequireAttemptOwner(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		token      string
		query      bool
		wantStatus int
		wantCode   response.ErrCode
	}{
		{
			name:       "owner",
			path:       "/state/e1/u1",
			token:      signToken(t, testSecret, "u1", time.Hour),
			wantStatus: http.StatusOK,
		},
		{
			name:       "token in query",
			path:       "/state/e1/u1",
			token:      signToken(t, testSecret, "u1", time.Hour),
			query:      true,
			wantStatus: http.StatusOK,
		},
		{
			name:       "missing token",
			path:       "/state/e1/u1",
			wantStatus: http.StatusUnauthorized,
			wantCode:   response.ErrTokenRequired,
		},
		{
			name:       "other user",
			path:       "/state/e1/u2",
			token:      signToken(t, testSecret, "u1", time.Hour),
			wantStatus: http.StatusForbidden,
			wantCode:   response.ErrForbidden,
		},
		{
			name:       "expired",
			path:       "/state/e1/u1",
			token:      signToken(t, testSecret, "u1", -time.Minute),
			wantStatus: http.StatusUnauthorized,
			wantCode:   response.ErrTokenExpired,
		},
		{
			name:       "wrong secret",
			path:       "/state/e1/u1",
			token:      signToken(t, "other", "u1", time.Hour),
			wantStatus: http.StatusUnauthorized,
			wantCode:   response.ErrTokenInvalid,
		},
		{
			name:       "no subject",
			path:       "/state/e1/u1",
			token:      signToken(t, testSecret, "", time.Hour),
			wantStatus: http.StatusUnauthorized,
			wantCode:   response.ErrTokenInvalid,
		},
	}

	r := ownerRouter(testSecret)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := tt.path
			if tt.query && tt.token != "" {
				path += "?token=" + tt.token
			}
			req := httptest.NewRequest(http.MethodGet, path, nil)
			if !tt.query && tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantCode != "" {
				assert.Equal(t, tt.wantCode, errorCode(t, w))
			}
		})
	}
}

func TestOwnsAttempt_BodyAddressed(t *testing.T) {
	r := ownerRouter(testSecret)
	token := signToken(t, testSecret, "u1", time.Hour)

	for userID, want := range map[string]int{"u1": http.StatusOK, "u2": http.StatusForbidden} {
		req := httptest.NewRequest(http.MethodPost, "/submit?user_id="+userID, nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, want, w.Code, userID)
	}
}

func TestRequireAttemptOwner_Disabled(t *testing.T) {
	r := ownerRouter("")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/state/e1/anyone", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/submit?user_id=anyone", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
