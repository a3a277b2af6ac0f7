// Package events fans state-change events out to the durable event log and
// the in-process bus. The log is authoritative for history; bus delivery is
// best-effort and never on the correctness path.
package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/aiorg/internal/bus"
	"github.com/nextlevelbuilder/aiorg/internal/store"
	"github.com/nextlevelbuilder/aiorg/pkg/protocol"
)

type Emitter struct {
	store  store.EventStore
	bus    bus.Publisher
	logger *slog.Logger
}

func NewEmitter(es store.EventStore, publisher bus.Publisher, logger *slog.Logger) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{store: es, bus: publisher, logger: logger}
}

// Emit records one event. Log failures are logged and swallowed: an event
// that cannot be persisted must never fail the transition that produced it.
func (e *Emitter) Emit(ctx context.Context, orgID uuid.UUID, eventType string, taskID, sourceNode, targetNode *uuid.UUID, payload map[string]any) {
	now := time.Now().UTC()

	if err := e.store.AppendEvent(ctx, &store.EventLogData{
		ID:           store.GenNewID(),
		OrgID:        orgID,
		EventType:    eventType,
		SourceNodeID: sourceNode,
		TargetNodeID: targetNode,
		TaskID:       taskID,
		Payload:      payload,
		CreatedAt:    now,
	}); err != nil {
		e.logger.Warn("event log append failed", "event_type", eventType, "error", err)
	}

	if e.bus == nil {
		return
	}
	busPayload := map[string]any{"org_id": orgID.String()}
	if taskID != nil {
		busPayload["task_id"] = taskID.String()
	}
	if sourceNode != nil {
		busPayload["node_id"] = sourceNode.String()
	}
	for k, v := range payload {
		busPayload[k] = v
	}
	e.bus.Publish(protocol.OrgTopic(orgID.String()), bus.Event{
		Type:      eventType,
		Payload:   busPayload,
		Timestamp: now,
	})
}
