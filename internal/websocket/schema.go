package websocket

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionAnswer   Action = "answer"
	ActionClear    Action = "clear"
	ActionNavigate Action = "navigate"
	ActionFlag     Action = "flag"
	ActionSubmit   Action = "submit"
	ActionPing     Action = "ping"
)

// RequestPayload is any client message. Fields unused by an action are ignored.
type RequestPayload struct {
	Action     Action   `json:"action"`
	QuestionID string   `json:"question_id,omitempty"`
	Selection  []string `json:"selection,omitempty"`
	Index      *int     `json:"index,omitempty"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventState        Event = "state"
	EventTick         Event = "tick"
	EventSubmitted    Event = "submitted"
	EventSubmitFailed Event = "submit_failed"
	EventClosed       Event = "closed"
	EventError        Event = "error"
	EventPong         Event = "pong"
)

// ResponsePayload is every server message.
type ResponsePayload struct {
	Event Event       `json:"event"`
	Data  interface{} `json:"data,omitempty"`
}

// ErrorData carries a response error code with its message.
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
