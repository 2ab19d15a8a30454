package collect

import "github.com/ashureev/briefsmith/internal/domain"

// Server message types.
const (
	TypeSessionStarted   = "session_started"
	TypeQuestion         = "question"
	TypeFollowUp         = "follow_up"
	TypeAccepted         = "accepted"
	TypeSkipped          = "skipped"
	TypeError            = "error"
	TypeComplete         = "complete"
	TypeWorkflowStarted  = "workflow_started"
	TypeWorkflowComplete = "workflow_complete"
	TypeWorkflowError    = "workflow_error"
	TypeCancelled        = "cancelled"
	TypePing             = "ping"
)

// Client message types. "answer" is accepted as an alias of "response".
const (
	TypeResponse = "response"
	TypeAnswer   = "answer"
	TypeSkip     = "skip"
	TypeCancel   = "cancel"
	TypePong     = "pong"
)

// ServerMessage is every frame the server sends. Unused fields are omitted.
type ServerMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	Field     string `json:"field,omitempty"`
	Question  string `json:"question,omitempty"`
	Message   string `json:"message,omitempty"`
	Error     string `json:"error,omitempty"`

	Data domain.Record `json:"data,omitempty"`

	RunID         string                 `json:"run_id,omitempty"`
	TRD           string                 `json:"trd,omitempty"`
	TimeEstimate  domain.Document        `json:"time_estimate,omitempty"`
	CostEstimate  domain.Document        `json:"cost_estimate,omitempty"`
	TaskBreakdown domain.Document        `json:"task_breakdown,omitempty"`
	CursorRules   string                 `json:"cursor_rules,omitempty"`
	BackendStatus *domain.DeliveryStatus `json:"backend_status,omitempty"`
}

// ClientMessage is a frame received from the client.
type ClientMessage struct {
	Type     string `json:"type"`
	Response string `json:"response,omitempty"`
}

// text returns the human-readable part of m for transcripts.
func (m ServerMessage) text() string {
	switch {
	case m.Question != "":
		return m.Question
	case m.Error != "":
		return m.Message + ": " + m.Error
	default:
		return m.Message
	}
}
