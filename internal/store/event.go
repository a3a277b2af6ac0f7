package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventLogData is one monitoring event derived from a state change. The log
// is write-only from the engine's point of view: correctness never depends
// on reading it back.
type EventLogData struct {
	ID           uuid.UUID      `json:"id"`
	OrgID        uuid.UUID      `json:"org_id"`
	EventType    string         `json:"event_type"`
	SourceNodeID *uuid.UUID     `json:"source_node_id,omitempty"`
	TargetNodeID *uuid.UUID     `json:"target_node_id,omitempty"`
	TaskID       *uuid.UUID     `json:"task_id,omitempty"`
	Payload      map[string]any `json:"payload,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// EventStore manages ai_event_logs rows.
type EventStore interface {
	AppendEvent(ctx context.Context, event *EventLogData) error
	GetEventLogs(ctx context.Context, orgID uuid.UUID, limit int) ([]EventLogData, error)
}
