package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Org statuses. Lifecycle: draft → active ⇄ paused → archived (terminal).
const (
	OrgStatusDraft    = "draft"
	OrgStatusActive   = "active"
	OrgStatusPaused   = "paused"
	OrgStatusArchived = "archived"
)

// OrgData is one AI organization: a tree of nodes that handles tasks together.
type OrgData struct {
	ID          uuid.UUID      `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Status      string         `json:"status"`
	Config      map[string]any `json:"config,omitempty"`
	CreatedBy   string         `json:"created_by,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// OrgStats summarizes one org for dashboards.
type OrgStats struct {
	OrgID         uuid.UUID      `json:"org_id"`
	NodeCount     int            `json:"node_count"`
	TasksByStatus map[string]int `json:"tasks_by_status"`
	RecentErrors  []TaskError    `json:"recent_errors,omitempty"`
}

// TaskError is one recent failed task for the stats view.
type TaskError struct {
	TaskID       uuid.UUID `json:"task_id"`
	Title        string    `json:"title"`
	ErrorMessage string    `json:"error_message"`
	CompletedAt  time.Time `json:"completed_at"`
}

// OrgStore manages ai_orgs rows.
type OrgStore interface {
	CreateOrg(ctx context.Context, org *OrgData) error
	GetOrg(ctx context.Context, orgID uuid.UUID) (*OrgData, error)
	UpdateOrg(ctx context.Context, orgID uuid.UUID, updates map[string]any) error
	DeleteOrg(ctx context.Context, orgID uuid.UUID) error
	ListOrgs(ctx context.Context) ([]OrgData, error)
	GetOrgStats(ctx context.Context, orgID uuid.UUID) (*OrgStats, error)
}
