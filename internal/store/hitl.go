package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// HITL review checkpoints.
const (
	ReviewTaskReceived     = "task_received"
	ReviewDelegation       = "delegation_review"
	ReviewResponseApproval = "response_approval"
)

// HITL queue item statuses. Everything but pending is terminal; a terminal
// item never reopens, though a new item may be queued for the same task.
const (
	HITLStatusPending    = "pending"
	HITLStatusApproved   = "approved"
	HITLStatusRejected   = "rejected"
	HITLStatusOverridden = "overridden"
	HITLStatusTimeout    = "timeout"
)

// HITL audit action types.
const (
	ActionApprove  = "approve"
	ActionReject   = "reject"
	ActionOverride = "override"
	ActionMessage  = "message"
	ActionPause    = "pause"
	ActionResume   = "resume"
	ActionView     = "view"
)

// HITLQueueItemData is one pending human review request.
type HITLQueueItemData struct {
	ID     uuid.UUID `json:"id"`
	OrgID  uuid.UUID `json:"org_id"`
	NodeID uuid.UUID `json:"node_id"`
	TaskID uuid.UUID `json:"task_id"`

	ReviewType string         `json:"review_type"`
	Content    map[string]any `json:"content,omitempty"` // candidate Response snapshot
	Status     string         `json:"status"`

	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// HITLActionData is one append-only audit record of a human decision.
type HITLActionData struct {
	ID         uuid.UUID  `json:"id"`
	OrgID      uuid.UUID  `json:"org_id"`
	NodeID     uuid.UUID  `json:"node_id"`
	TaskID     *uuid.UUID `json:"task_id,omitempty"`
	ResponseID *uuid.UUID `json:"response_id,omitempty"`

	UserID          string         `json:"user_id"`
	ActionType      string         `json:"action_type"`
	OriginalContent map[string]any `json:"original_content,omitempty"`
	ModifiedContent map[string]any `json:"modified_content,omitempty"`
	Reason          string         `json:"reason,omitempty"`
	Message         string         `json:"message,omitempty"`

	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// HITLStore manages ai_hitl_queue and ai_hitl_actions rows.
type HITLStore interface {
	CreateQueueItem(ctx context.Context, item *HITLQueueItemData) error
	GetQueueItem(ctx context.Context, itemID uuid.UUID) (*HITLQueueItemData, error)

	// ResolveQueueItem moves a pending item to a terminal status. Returns
	// false (no error) when the item is no longer pending — exactly one
	// caller wins the transition.
	ResolveQueueItem(ctx context.Context, itemID uuid.UUID, toStatus string) (bool, error)

	// GetPendingForNodes lists pending items across the given nodes,
	// oldest first.
	GetPendingForNodes(ctx context.Context, nodeIDs []uuid.UUID) ([]HITLQueueItemData, error)

	// GetExpired lists pending items whose expires_at is before now.
	GetExpired(ctx context.Context, now time.Time) ([]HITLQueueItemData, error)

	CreateAction(ctx context.Context, action *HITLActionData) error
	ListActionsByTask(ctx context.Context, taskID uuid.UUID) ([]HITLActionData, error)
}
