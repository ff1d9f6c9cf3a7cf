package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/aotms/exam-engine/internal/response"
	"github.com/gin-gonic/gin"
)

// Pinger checks one backing store.
type Pinger func(ctx context.Context) error

// HealthHandler reports liveness and store readiness.
type HealthHandler struct {
	checks map[string]Pinger
}

// NewHealthHandler creates a new HealthHandler over named store checks.
func NewHealthHandler(checks map[string]Pinger) *HealthHandler {
	return &HealthHandler{checks: checks}
}

// Root godoc
// GET /
func (h *HealthHandler) Root(c *gin.Context) {
	response.Success(c, http.StatusOK, gin.H{"message": "Exam Engine is running"})
}

// Health godoc
// GET /health
// Pings every store; 503 if any is unreachable.
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	stores := make(map[string]string, len(h.checks))
	healthy := true
	for name, ping := range h.checks {
		if err := ping(ctx); err != nil {
			stores[name] = "down"
			healthy = false
			continue
		}
		stores[name] = "ok"
	}

	if !healthy {
		c.JSON(http.StatusServiceUnavailable, response.Response{
			Data:  gin.H{"status": "degraded", "stores": stores},
			Error: &response.ErrorBody{Code: response.ErrStoreUnavailable, Message: response.GetMessage(response.ErrStoreUnavailable)},
			Metadata: response.Metadata{
				RequestID: response.RequestID(c),
				Timestamp: time.Now().UTC().Format(time.RFC3339),
			},
		})
		return
	}
	response.Success(c, http.StatusOK, gin.H{"status": "ok", "stores": stores})
}
