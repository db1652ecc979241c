package schema

// Event type constants recorded in the audit/event log (internal/store).
const (
	EventWorkflowStarted   = "workflow_started"
	EventWorkflowCompleted = "workflow_completed"
	EventWorkflowFailed    = "workflow_failed"

	EventNodeExecuted = "node_executed"
	EventNodeSkipped  = "node_skipped"
	EventNodeErrored  = "node_errored"

	EventPollTickStarted   = "poll_tick_started"
	EventPollTickCompleted = "poll_tick_completed"
	EventPollTickFailed    = "poll_tick_failed"

	EventCredentialRefreshed = "credential_refreshed"
	EventCredentialRefreshFailed = "credential_refresh_failed"
)

// WorkflowStatus is the lifecycle status of a workflow row in the store.
type WorkflowStatus string

const (
	WorkflowStatusPending   WorkflowStatus = "pending"
	WorkflowStatusActive    WorkflowStatus = "active"
	WorkflowStatusCompleted WorkflowStatus = "completed"
	WorkflowStatusFailed    WorkflowStatus = "failed"
)
