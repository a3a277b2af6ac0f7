package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/aiorg/internal/store"
)

// SQLiteHITLStore implements store.HITLStore on the standalone database.
type SQLiteHITLStore struct {
	db *sql.DB
}

func NewSQLiteHITLStore(db *sql.DB) *SQLiteHITLStore {
	return &SQLiteHITLStore{db: db}
}

const queueSelectCols = `id, org_id, node_id, task_id, review_type, content, status, created_at, expires_at`

const actionSelectCols = `id, org_id, node_id, task_id, response_id, user_id, action_type,
	original_content, modified_content, reason, message, ip_address, user_agent, created_at`

func (s *SQLiteHITLStore) CreateQueueItem(ctx context.Context, item *store.HITLQueueItemData) error {
	if item.ID == uuid.Nil {
		item.ID = store.GenNewID()
	}
	if item.Status == "" {
		item.Status = store.HITLStatusPending
	}
	item.CreatedAt = time.Now()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ai_hitl_queue (`+queueSelectCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.OrgID, item.NodeID, item.TaskID,
		item.ReviewType, store.MarshalMap(item.Content), item.Status,
		item.CreatedAt, item.ExpiresAt,
	)
	return err
}

func (s *SQLiteHITLStore) GetQueueItem(ctx context.Context, itemID uuid.UUID) (*store.HITLQueueItemData, error) {
	item, err := scanQueueItem(s.db.QueryRowContext(ctx,
		`SELECT `+queueSelectCols+` FROM ai_hitl_queue WHERE id = ?`, itemID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return item, err
}

func (s *SQLiteHITLStore) ResolveQueueItem(ctx context.Context, itemID uuid.UUID, toStatus string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE ai_hitl_queue SET status = ? WHERE id = ? AND status = ?`,
		toStatus, itemID, store.HITLStatusPending,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *SQLiteHITLStore) GetPendingForNodes(ctx context.Context, nodeIDs []uuid.UUID) ([]store.HITLQueueItemData, error) {
	if len(nodeIDs) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(nodeIDs)), ", ")
	args := make([]any, 0, len(nodeIDs)+1)
	args = append(args, store.HITLStatusPending)
	for _, id := range nodeIDs {
		args = append(args, id)
	}
	return s.queryItems(ctx,
		`SELECT `+queueSelectCols+` FROM ai_hitl_queue
		 WHERE status = ? AND node_id IN (`+placeholders+`)
		 ORDER BY created_at`, args...)
}

func (s *SQLiteHITLStore) GetExpired(ctx context.Context, now time.Time) ([]store.HITLQueueItemData, error) {
	return s.queryItems(ctx,
		`SELECT `+queueSelectCols+` FROM ai_hitl_queue
		 WHERE status = ? AND expires_at < ?
		 ORDER BY expires_at`,
		store.HITLStatusPending, now)
}

func (s *SQLiteHITLStore) CreateAction(ctx context.Context, action *store.HITLActionData) error {
	if action.ID == uuid.Nil {
		action.ID = store.GenNewID()
	}
	action.CreatedAt = time.Now()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ai_hitl_actions (`+actionSelectCols+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		action.ID, action.OrgID, action.NodeID, action.TaskID, action.ResponseID,
		action.UserID, action.ActionType,
		store.MarshalMap(action.OriginalContent), store.MarshalMap(action.ModifiedContent),
		nullStr(action.Reason), nullStr(action.Message),
		nullStr(action.IPAddress), nullStr(action.UserAgent),
		action.CreatedAt,
	)
	return err
}

func (s *SQLiteHITLStore) ListActionsByTask(ctx context.Context, taskID uuid.UUID) ([]store.HITLActionData, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+actionSelectCols+` FROM ai_hitl_actions WHERE task_id = ? ORDER BY created_at, id`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var actions []store.HITLActionData
	for rows.Next() {
		action, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		actions = append(actions, *action)
	}
	return actions, rows.Err()
}

func (s *SQLiteHITLStore) queryItems(ctx context.Context, query string, args ...any) ([]store.HITLQueueItemData, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []store.HITLQueueItemData
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

func scanQueueItem(row rowScanner) (*store.HITLQueueItemData, error) {
	var d store.HITLQueueItemData
	var content []byte
	if err := row.Scan(
		&d.ID, &d.OrgID, &d.NodeID, &d.TaskID,
		&d.ReviewType, &content, &d.Status,
		&d.CreatedAt, &d.ExpiresAt,
	); err != nil {
		return nil, err
	}
	d.Content = store.UnmarshalMap(content)
	return &d, nil
}

func scanAction(row rowScanner) (*store.HITLActionData, error) {
	var d store.HITLActionData
	var taskID, responseID uuid.NullUUID
	var original, modified []byte
	var reason, message, ip, ua sql.NullString
	if err := row.Scan(
		&d.ID, &d.OrgID, &d.NodeID, &taskID, &responseID,
		&d.UserID, &d.ActionType,
		&original, &modified, &reason, &message, &ip, &ua,
		&d.CreatedAt,
	); err != nil {
		return nil, err
	}
	d.OriginalContent = store.UnmarshalMap(original)
	d.ModifiedContent = store.UnmarshalMap(modified)
	d.Reason = reason.String
	d.Message = message.String
	d.IPAddress = ip.String
	d.UserAgent = ua.String
	if taskID.Valid {
		d.TaskID = &taskID.UUID
	}
	if responseID.Valid {
		d.ResponseID = &responseID.UUID
	}
	return &d, nil
}
