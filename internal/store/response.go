package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Response types. Responses are append-only: a human never edits an AI
// response in place, they append a human_override referencing the original.
const (
	ResponseDelegationPlan = "delegation_plan"
	ResponseAnalysis       = "analysis"
	ResponseSummary        = "summary"
	ResponseHumanOverride  = "human_override"
)

// ResponseData is one AI or human output for a task at a node.
type ResponseData struct {
	ID     uuid.UUID `json:"id"`
	TaskID uuid.UUID `json:"task_id"`
	NodeID uuid.UUID `json:"node_id"`

	ResponseType string         `json:"response_type"`
	Content      map[string]any `json:"content,omitempty"`
	Summary      string         `json:"summary,omitempty"`
	Reasoning    string         `json:"reasoning,omitempty"`

	ConfidenceScore float64 `json:"confidence_score,omitempty"`
	QualityScore    float64 `json:"quality_score,omitempty"`

	// Override provenance, set only on human_override rows.
	IsHumanModified    bool           `json:"is_human_modified,omitempty"`
	OriginalAIContent  map[string]any `json:"original_ai_content,omitempty"`
	ModificationReason string         `json:"modification_reason,omitempty"`
	ModifiedBy         string         `json:"modified_by,omitempty"`
	ModifiedAt         *time.Time     `json:"modified_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// ResponseStore manages ai_responses rows.
type ResponseStore interface {
	CreateResponse(ctx context.Context, resp *ResponseData) error
	GetResponse(ctx context.Context, responseID uuid.UUID) (*ResponseData, error)

	// GetTaskResponses returns a task's responses in insertion order.
	GetTaskResponses(ctx context.Context, taskID uuid.UUID) ([]ResponseData, error)
}

// OutcomeResponse picks the authoritative outcome from a task's responses:
// the most recent human_override if any, otherwise the last response that is
// not a delegation_plan. Returns nil when no outcome exists yet.
func OutcomeResponse(responses []ResponseData) *ResponseData {
	for i := len(responses) - 1; i >= 0; i-- {
		if responses[i].ResponseType == ResponseHumanOverride {
			return &responses[i]
		}
	}
	for i := len(responses) - 1; i >= 0; i-- {
		if responses[i].ResponseType != ResponseDelegationPlan {
			return &responses[i]
		}
	}
	return nil
}
