package domain

import "time"

// RunStatus is the terminal state of a generation run.
type RunStatus string

const (
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// Document is a structured generation result produced by the decoder.
type Document map[string]any

// DeliveryStatus reports the outcome of handing artifacts to the backend.
type DeliveryStatus struct {
	Sent       bool   `json:"sent"`
	StatusCode int    `json:"status_code,omitempty"`
	Message    string `json:"message"`
}

// Artifacts holds everything the generation pipeline produces.
type Artifacts struct {
	FunctionalRequirements string         `json:"functional_requirements"`
	TRD                    string         `json:"trd"`
	TimeEstimate           Document       `json:"time_estimate"`
	CostEstimate           Document       `json:"cost_estimate"`
	TaskBreakdown          Document       `json:"task_breakdown"`
	CursorRules            string         `json:"cursor_rules"`
	BackendStatus          DeliveryStatus `json:"backend_status"`
}

// Run is a persisted generation run.
type Run struct {
	ID        string     `json:"id"`
	SessionID string     `json:"session_id,omitempty"`
	OwnerID   string     `json:"owner_id,omitempty"`
	Source    string     `json:"source"`
	Record    Record     `json:"record"`
	Status    RunStatus  `json:"status"`
	Stage     string     `json:"stage,omitempty"`
	Error     string     `json:"error,omitempty"`
	Artifacts *Artifacts `json:"artifacts,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Run sources.
const (
	SourceCollect = "collect"
	SourceAPI     = "api"
	SourceCLI     = "cli"
	SourceMCP     = "mcp"
)
