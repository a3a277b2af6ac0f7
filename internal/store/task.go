package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Task statuses. Terminal set: completed, failed, cancelled.
const (
	TaskStatusPending    = "pending"
	TaskStatusInProgress = "in_progress"
	TaskStatusDelegated  = "delegated"
	TaskStatusWaiting    = "waiting"
	TaskStatusCompleted  = "completed"
	TaskStatusFailed     = "failed"
	TaskStatusCancelled  = "cancelled"
)

// Task priorities.
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

// Delegation strategies for fanning subtasks out.
const (
	StrategyParallel   = "parallel"
	StrategySequential = "sequential"
)

// TaskTerminal reports whether a status is terminal.
func TaskTerminal(status string) bool {
	switch status {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	}
	return false
}

// TaskData is one unit of work assigned to a node. ParentTaskID nil = root
// task; subtask trees mirror the delegation that produced them.
type TaskData struct {
	ID             uuid.UUID  `json:"id"`
	OrgID          uuid.UUID  `json:"org_id"`
	ParentTaskID   *uuid.UUID `json:"parent_task_id,omitempty"`
	AssignedNodeID *uuid.UUID `json:"assigned_node_id,omitempty"`

	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	InputData   map[string]any `json:"input_data,omitempty"`
	OutputData  map[string]any `json:"output_data,omitempty"`
	Context     map[string]any `json:"context,omitempty"`

	Status             string `json:"status"`
	DelegationStrategy string `json:"delegation_strategy,omitempty"`
	ExpectedResponses  int    `json:"expected_responses"`
	ReceivedResponses  int    `json:"received_responses"`
	Priority           string `json:"priority"`

	Deadline     *time.Time `json:"deadline,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	RetryCount   int        `json:"retry_count"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Overdue reports whether the task has a deadline in the past. Informational
// only; deadlines never cancel work.
func (t *TaskData) Overdue(now time.Time) bool {
	return t.Deadline != nil && now.After(*t.Deadline)
}

// TaskStore manages ai_tasks rows plus the child-completion dedup table.
type TaskStore interface {
	CreateTask(ctx context.Context, task *TaskData) error
	GetTask(ctx context.Context, taskID uuid.UUID) (*TaskData, error)
	UpdateTask(ctx context.Context, taskID uuid.UUID, updates map[string]any) error

	// UpdateTaskStatus moves a task from one status to another, applying
	// extra column updates in the same statement. Returns false (no error)
	// when the task was not in the expected status — the caller lost the
	// transition race.
	UpdateTaskStatus(ctx context.Context, taskID uuid.UUID, from, to string, updates map[string]any) (bool, error)

	// GetSubtasks returns direct subtasks ordered by creation.
	GetSubtasks(ctx context.Context, taskID uuid.UUID) ([]TaskData, error)

	// ListActiveTasks returns an org's non-terminal tasks, newest first.
	ListActiveTasks(ctx context.Context, orgID uuid.UUID) ([]TaskData, error)

	// ListTasksByStatus returns all tasks in one status across orgs,
	// oldest first. Drives crash-recovery requeue at startup.
	ListTasksByStatus(ctx context.Context, status string) ([]TaskData, error)

	// RecordChildCompletion inserts the (parent, child) completion marker.
	// Returns false when the pair was already recorded — the duplicate
	// delivery must not increment the parent counter.
	RecordChildCompletion(ctx context.Context, parentTaskID, childTaskID uuid.UUID) (bool, error)

	// IncrementReceived bumps received_responses by one, bounded by
	// expected_responses, and returns the post-update counters.
	IncrementReceived(ctx context.Context, taskID uuid.UUID) (received, expected int, err error)
}
