package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/aotms/exam-engine/internal/response"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// ContextKeySubject is the Gin context key for the authenticated user id.
const ContextKeySubject = "subject"

// RequireAttemptOwner validates an HS256 bearer token whose subject is the
// test-taker's user_id. Routes carrying a :user_id path parameter must match
// the subject; body-addressed routes check it with OwnsAttempt. With an empty
// secret the middleware is a pass-through.
func RequireAttemptOwner(secret string) gin.HandlerFunc {
	if secret == "" {
		return func(c *gin.Context) { c.Next() }
	}

	key := []byte(secret)
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	return func(c *gin.Context) {
		tokenStr := extractToken(c)
		if tokenStr == "" {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
			return
		}

		claims := &jwt.RegisteredClaims{}
		_, err := parser.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (interface{}, error) {
			return key, nil
		})
		if err != nil {
			if errors.Is(err, jwt.ErrTokenExpired) {
				response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenExpired)
				return
			}
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenInvalid)
			return
		}
		if claims.Subject == "" {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenInvalid)
			return
		}

		if userID := c.Param("user_id"); userID != "" && userID != claims.Subject {
			response.AbortFail(c, http.StatusForbidden, response.ErrForbidden)
			return
		}

		c.Set(ContextKeySubject, claims.Subject)
		c.Next()
	}
}

// OwnsAttempt reports whether the authenticated subject may act for userID.
// It is always true when authentication is disabled.
func OwnsAttempt(c *gin.Context, userID string) bool {
	subject, ok := c.Get(ContextKeySubject)
	if !ok {
		return true
	}
	return subject == userID
}

// extractToken reads the Authorization bearer token, falling back to
// ?token= for WebSocket upgrades which cannot send headers.
func extractToken(c *gin.Context) string {
	if authHeader := c.GetHeader("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	return c.Query("token")
}
