package websocket

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionAutosave Action = "autosave"
	ActionState    Action = "state"
	ActionSubmit   Action = "submit"
	ActionPing     Action = "ping"
)

// RequestPayload is the single message shape the client sends. Fields not
// used by an action are ignored.
type RequestPayload struct {
	Action               Action `json:"action"`
	QID                  string `json:"q_id,omitempty"`
	Answer               string `json:"ans,omitempty"`
	TimeRemainingSeconds *int   `json:"time_remaining_seconds,omitempty"`
	IdempotencyKey       string `json:"idempotency_key,omitempty"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventError     Event = "error"
	EventSuccess   Event = "success"
	EventState     Event = "state"
	EventFinalized Event = "finalized"
	EventPong      Event = "pong"
)

// EventMessage wraps every server push.
type EventMessage struct {
	Event Event       `json:"event"`
	Data  interface{} `json:"data,omitempty"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Code  string `json:"code,omitempty"`
	Error string `json:"error"`
}
