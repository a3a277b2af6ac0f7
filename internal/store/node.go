package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Node role types, loosely mirroring a human org chart.
const (
	RoleExecutive   = "executive"
	RoleManager     = "manager"
	RoleAnalyst     = "analyst"
	RoleCoordinator = "coordinator"
)

// Node statuses. A paused node refuses new task assignments.
const (
	NodeStatusActive = "active"
	NodeStatusPaused = "paused"
)

// Notification channel names for HumanMirror delivery.
const (
	ChannelEmail = "email"
	ChannelChat  = "chat_channel"
)

// HumanMirror identifies the human counterpart of a node: the HITL reviewer
// and notification recipient.
type HumanMirror struct {
	Name        string `json:"name,omitempty"`
	Email       string `json:"email,omitempty"`
	ChatIDTeams string `json:"chat_id_teams,omitempty"`
	ChatIDSlack string `json:"chat_id_slack,omitempty"`
}

// HITLConfig controls the human review gates for one node.
type HITLConfig struct {
	Enabled          bool `json:"enabled"`
	ApprovalRequired bool `json:"approval_required"`
	ReviewDelegation bool `json:"review_delegation"`
	TimeoutHours     int  `json:"timeout_hours"`
	AutoProceed      bool `json:"auto_proceed"`
}

// NodeData is one role-occupying entity in an org. ParentNodeID nil = root.
type NodeData struct {
	ID           uuid.UUID  `json:"id"`
	OrgID        uuid.UUID  `json:"org_id"`
	ParentNodeID *uuid.UUID `json:"parent_node_id,omitempty"`

	RoleName    string         `json:"role_name"`
	RoleType    string         `json:"role_type"`
	Description string         `json:"description,omitempty"`
	AgentConfig map[string]any `json:"agent_config,omitempty"`

	Human HumanMirror `json:"human"`
	HITL  HITLConfig  `json:"hitl"`

	NotificationChannels []string `json:"notification_channels,omitempty"`

	PositionX float64 `json:"position_x"`
	PositionY float64 `json:"position_y"`

	Status        string     `json:"status"`
	CurrentTaskID *uuid.UUID `json:"current_task_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsRoot reports whether this node is the org's root.
func (n *NodeData) IsRoot() bool { return n.ParentNodeID == nil }

// NodeStore manages ai_nodes rows.
type NodeStore interface {
	CreateNode(ctx context.Context, node *NodeData) error
	GetNode(ctx context.Context, nodeID uuid.UUID) (*NodeData, error)
	UpdateNode(ctx context.Context, nodeID uuid.UUID, updates map[string]any) error

	// DeleteNode removes a childless node. Returns ErrHasChildren otherwise.
	DeleteNode(ctx context.Context, nodeID uuid.UUID) error

	ListNodesByOrg(ctx context.Context, orgID uuid.UUID) ([]NodeData, error)
	GetRootNode(ctx context.Context, orgID uuid.UUID) (*NodeData, error)
	GetChildNodes(ctx context.Context, nodeID uuid.UUID) ([]NodeData, error)

	// GetNodesByEmail finds nodes whose HumanMirror email matches, across
	// orgs. Drives the per-user HITL dashboard.
	GetNodesByEmail(ctx context.Context, email string) ([]NodeData, error)
}
