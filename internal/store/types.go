package store

import (
	"encoding/json"
	"time"
)

// UserAutomation is the persisted representation of one (userId,
// automationId) workflow registration: its definition, its OAuth token
// bag, and its run bookkeeping.
type UserAutomation struct {
	UserID         string          `json:"user_id"`
	AutomationID   string          `json:"automation_id"`
	Name           string          `json:"name,omitempty"`
	ScheduleExpr   string          `json:"schedule_expr"`
	Definition     json.RawMessage `json:"definition"`
	Parameters     json.RawMessage `json:"parameters,omitempty"`
	AutomationData json.RawMessage `json:"automation_data,omitempty"`
	Provider       string          `json:"provider,omitempty"`
	AccessToken    string          `json:"-"`
	RefreshToken   string          `json:"-"`
	TokenExpiry    *time.Time      `json:"token_expiry,omitempty"`
	IsActive       bool            `json:"is_active"`
	RunCount       int64           `json:"run_count"`
	LastRunAt      *time.Time      `json:"last_run_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// UserAutomationUpdate specifies mutable fields of a UserAutomation.
// Callers set only the fields they intend to change.
type UserAutomationUpdate struct {
	Name           *string
	ScheduleExpr   *string
	Definition     json.RawMessage
	Parameters     json.RawMessage
	AutomationData json.RawMessage
	IsActive       *bool
}

// UserAutomationFilter specifies criteria for listing automations.
type UserAutomationFilter struct {
	UserID     string
	OnlyActive bool
	Limit      int
	Offset     int
}

// WorkflowTemplate is a reusable, named workflow definition.
type WorkflowTemplate struct {
	Name        string          `json:"name"`
	Version     string          `json:"version"`
	Description string          `json:"description,omitempty"`
	Definition  json.RawMessage `json:"definition"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// TemplateFilter specifies criteria for listing templates.
type TemplateFilter struct {
	Name  string
	Limit int
}

// Event is an immutable entry in the append-only audit/event log. NodeID
// holds a node name when the event concerns one node's execution; it is
// empty for workflow- and poll-tick-level events.
type Event struct {
	ID           int64           `json:"id"`
	UserID       string          `json:"user_id"`
	AutomationID string          `json:"automation_id"`
	NodeID       string          `json:"node_id,omitempty"`
	Type         string          `json:"event_type"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
	Sequence     int64           `json:"sequence"`
}

// EventFilter specifies criteria for listing events.
type EventFilter struct {
	UserID       string
	AutomationID string
	EventType    string
	Since        *time.Time
	Limit        int
}
