package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/aotms/exam-engine/internal/middleware"
	"github.com/aotms/exam-engine/internal/model"
	"github.com/aotms/exam-engine/internal/response"
	"github.com/aotms/exam-engine/internal/service"
	ws "github.com/aotms/exam-engine/internal/websocket"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// messageTimeout bounds the store work done for a single client message.
const messageTimeout = 10 * time.Second

// buildUpgrader creates a WebSocket upgrader with origin validation.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler streams one attempt over a WebSocket: autosave, state recovery
// and submit on a single connection.
type WSHandler struct {
	attemptService *service.AttemptService
	log            zerolog.Logger
	upgrader       websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(attemptService *service.AttemptService, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		attemptService: attemptService,
		log:            log.With().Str("component", "ws_handler").Logger(),
		upgrader:       buildUpgrader(allowedOrigins),
	}
}

// AttemptStream godoc
// WS /ws/v1/exam/:exam_id/:user_id/stream
func (h *WSHandler) AttemptStream(c *gin.Context) {
	key := attemptKeyFromPath(c)
	if err := key.Validate(); err != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation,
			map[string]string{"attempt": err.Error()})
		return
	}
	if !middleware.OwnsAttempt(c, key.UserID) {
		response.Fail(c, http.StatusForbidden, response.ErrForbidden)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	wsLog := h.log.With().
		Str("user_id", key.UserID).
		Str("exam_id", key.ExamID).
		Logger()
	wsLog.Info().Msg("Attempt stream connected")

	for {
		var msg ws.RequestPayload
		if err := ws.ReadJSON(conn, &msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			return
		}

		if done := h.dispatch(c.Request.Context(), conn, wsLog, key, &msg); done {
			return
		}
	}
}

// dispatch handles one client message. It reports true once the attempt is
// finalized and the stream should close.
func (h *WSHandler) dispatch(parent context.Context, conn *websocket.Conn, wsLog zerolog.Logger, key model.AttemptKey, msg *ws.RequestPayload) bool {
	ctx, cancel := context.WithTimeout(parent, messageTimeout)
	defer cancel()

	var err error
	switch msg.Action {
	case ws.ActionAutosave:
		err = h.handleAutosave(ctx, conn, key, msg)
	case ws.ActionState:
		err = h.handleState(ctx, conn, key)
	case ws.ActionSubmit:
		if err = h.handleSubmit(ctx, conn, key, msg); err == nil {
			return true
		}
	case ws.ActionPing:
		err = ws.WriteJSON(conn, ws.EventPong, nil)
	default:
		wsLog.Warn().Str("action", string(msg.Action)).Msg("Unknown action")
		err = ws.WriteError(conn, string(response.ErrInvalidPayload), "unknown action: "+string(msg.Action))
	}

	if err != nil {
		h.writeAttemptError(conn, wsLog, err)
	}
	return false
}

func (h *WSHandler) handleAutosave(ctx context.Context, conn *websocket.Conn, key model.AttemptKey, msg *ws.RequestPayload) error {
	if msg.QID == "" || msg.Answer == "" || msg.TimeRemainingSeconds == nil {
		return ws.WriteError(conn, string(response.ErrValidation), "q_id, ans and time_remaining_seconds are required")
	}

	if err := h.attemptService.SubmitAnswer(ctx, key, msg.QID, msg.Answer, *msg.TimeRemainingSeconds); err != nil {
		return err
	}
	return ws.WriteJSON(conn, ws.EventSuccess, map[string]string{"status": "saved", "q_id": msg.QID})
}

func (h *WSHandler) handleState(ctx context.Context, conn *websocket.Conn, key model.AttemptKey) error {
	state, err := h.attemptService.RecoverState(ctx, key)
	if err != nil {
		return err
	}
	return ws.WriteJSON(conn, ws.EventState, state)
}

func (h *WSHandler) handleSubmit(ctx context.Context, conn *websocket.Conn, key model.AttemptKey, msg *ws.RequestPayload) error {
	res, err := h.attemptService.Finalize(ctx, key, service.FinalizeOptions{IdempotencyKey: msg.IdempotencyKey})
	if err != nil {
		return err
	}
	return ws.WriteJSON(conn, ws.EventFinalized, model.FinishResponse{
		Status:       "success",
		Message:      "Exam permanently recorded",
		SubmissionID: res.SubmissionID,
		Replayed:     res.Replayed,
	})
}

// writeAttemptError reports a coordinator or write error to the client.
// Write failures mean the peer is gone; the read loop will notice.
func (h *WSHandler) writeAttemptError(conn *websocket.Conn, wsLog zerolog.Logger, err error) {
	status, code := attemptErrorStatus(err)
	if status >= http.StatusInternalServerError {
		wsLog.Error().Err(err).Str("code", string(code)).Msg("stream action failed")
	} else {
		wsLog.Warn().Err(err).Str("code", string(code)).Msg("stream action rejected")
	}
	if werr := ws.WriteError(conn, string(code), response.GetMessage(code)); werr != nil {
		wsLog.Debug().Err(werr).Msg("error write failed")
	}
}
