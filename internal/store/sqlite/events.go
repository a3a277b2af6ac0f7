package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/aiorg/internal/store"
)

// SQLiteEventStore implements store.EventStore on the standalone database.
type SQLiteEventStore struct {
	db *sql.DB
}

func NewSQLiteEventStore(db *sql.DB) *SQLiteEventStore {
	return &SQLiteEventStore{db: db}
}

const eventSelectCols = `id, org_id, event_type, source_node_id, target_node_id, task_id, payload, created_at`

func (s *SQLiteEventStore) AppendEvent(ctx context.Context, event *store.EventLogData) error {
	if event.ID == uuid.Nil {
		event.ID = store.GenNewID()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ai_event_logs (`+eventSelectCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID, event.OrgID, event.EventType,
		event.SourceNodeID, event.TargetNodeID, event.TaskID,
		store.MarshalMap(event.Payload), event.CreatedAt,
	)
	return err
}

func (s *SQLiteEventStore) GetEventLogs(ctx context.Context, orgID uuid.UUID, limit int) ([]store.EventLogData, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+eventSelectCols+` FROM ai_event_logs
		 WHERE org_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`, orgID, limit)
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
