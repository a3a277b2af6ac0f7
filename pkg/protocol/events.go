package protocol

// Event type labels published on the org bus and written to ai_event_logs.
// Dashboards subscribe to these; the engine never reads them back.
const (
	EventTaskSubmitted  = "TASK_SUBMITTED"
	EventTaskProcessing = "TASK_PROCESSING"
	EventTaskDelegated  = "TASK_DELEGATED"
	EventResponseRecv   = "RESPONSE_RECEIVED"
	EventTaskCompleted  = "TASK_COMPLETED"
	EventTaskFailed     = "TASK_FAILED"
	EventTaskCancelled  = "TASK_CANCELLED"

	EventHITLRequired   = "HITL_REQUIRED"
	EventHITLApproved   = "HITL_APPROVED"
	EventHITLRejected   = "HITL_REJECTED"
	EventHITLOverridden = "HITL_OVERRIDDEN"
	EventHITLTimeout    = "HITL_TIMEOUT"
	EventHITLMessage    = "HITL_MESSAGE"

	EventNodePaused  = "NODE_PAUSED"
	EventNodeResumed = "NODE_RESUMED"

	EventNotifyFailed      = "NOTIFY_FAILED"
	EventInvariantViolated = "INVARIANT_VIOLATED"
)

// OrgTopic returns the bus topic for one org's event stream.
func OrgTopic(orgID string) string {
	return "aiorg:" + orgID
}
