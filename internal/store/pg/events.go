package pg

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/aiorg/internal/store"
)

// PGEventStore implements store.EventStore backed by Postgres.
type PGEventStore struct {
	db *sql.DB
}

func NewPGEventStore(db *sql.DB) *PGEventStore {
	return &PGEventStore{db: db}
}

const eventSelectCols = `id, org_id, event_type, source_node_id, target_node_id, task_id, payload, created_at`

func (s *PGEventStore) AppendEvent(ctx context.Context, event *store.EventLogData) error {
	if event.ID == uuid.Nil {
		event.ID = store.GenNewID()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ai_event_logs (`+eventSelectCols+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		event.ID, event.OrgID, event.EventType,
		event.SourceNodeID, event.TargetNodeID, event.TaskID,
		store.MarshalMap(event.Payload), event.CreatedAt,
	)
	return err
}

func (s *PGEventStore) GetEventLogs(ctx context.Context, orgID uuid.UUID, limit int) ([]store.EventLogData, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+eventSelectCols+` FROM ai_event_logs
		 WHERE org_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`, orgID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []store.EventLogData
	for rows.Next() {
		var d store.EventLogData
		var sourceID, targetID, taskID uuid.NullUUID
		var payload []byte
		if err := rows.Scan(
			&d.ID, &d.OrgID, &d.EventType,
			&sourceID, &targetID, &taskID,
			&payload, &d.CreatedAt,
		); err != nil {
			return nil, err
		}
		d.Payload = store.UnmarshalMap(payload)
		if sourceID.Valid {
			d.SourceNodeID = &sourceID.UUID
		}
		if targetID.Valid {
			d.TargetNodeID = &targetID.UUID
		}
		if taskID.Valid {
			d.TaskID = &taskID.UUID
		}
		events = append(events, d)
	}
	return events, rows.Err()
}
