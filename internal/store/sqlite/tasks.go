package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/aiorg/internal/store"
)

// SQLiteTaskStore implements store.TaskStore on the standalone database.
type SQLiteTaskStore struct {
	db *sql.DB
}

func NewSQLiteTaskStore(db *sql.DB) *SQLiteTaskStore {
	return &SQLiteTaskStore{db: db}
}

const taskSelectCols = `id, org_id, parent_task_id, assigned_node_id, title, description,
	input_data, output_data, context, status, delegation_strategy,
	expected_responses, received_responses, priority,
	deadline, started_at, completed_at, error_message, retry_count, created_at, updated_at`

func (s *SQLiteTaskStore) CreateTask(ctx context.Context, task *store.TaskData) error {
	if task.ID == uuid.Nil {
		task.ID = store.GenNewID()
	}
	if task.Status == "" {
		task.Status = store.TaskStatusPending
	}
	if task.Priority == "" {
		task.Priority = store.PriorityMedium
	}
	now := time.Now()
	task.CreatedAt = now
	task.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ai_tasks (`+taskSelectCols+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID, task.OrgID, task.ParentTaskID, task.AssignedNodeID,
		task.Title, task.Description,
		store.MarshalMap(task.InputData), store.MarshalMap(task.OutputData), store.MarshalMap(task.Context),
		task.Status, nullStr(task.DelegationStrategy),
		task.ExpectedResponses, task.ReceivedResponses, task.Priority,
		task.Deadline, task.StartedAt, task.CompletedAt,
		nullStr(task.ErrorMessage), task.RetryCount, now, now,
	)
	return err
}

func (s *SQLiteTaskStore) GetTask(ctx context.Context, taskID uuid.UUID) (*store.TaskData, error) {
	task, err := scanTask(s.db.QueryRowContext(ctx,
		`SELECT `+taskSelectCols+` FROM ai_tasks WHERE id = ?`, taskID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return task, err
}

func (s *SQLiteTaskStore) UpdateTask(ctx context.Context, taskID uuid.UUID, updates map[string]any) error {
	if len(updates) == 0 {
		return nil
	}
	normalizeTaskUpdates(updates)
	updates["updated_at"] = time.Now()
	return execMapUpdate(ctx, s.db, "ai_tasks", taskID, updates)
}

func (s *SQLiteTaskStore) UpdateTaskStatus(ctx context.Context, taskID uuid.UUID, from, to string, updates map[string]any) (bool, error) {
	normalizeTaskUpdates(updates)

	query := `UPDATE ai_tasks SET status = ?, updated_at = ?`
	args := []any{to, time.Now()}

	keys := make([]string, 0, len(updates))
	for k := range updates {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		query += ", " + k + " = ?"
		args = append(args, updates[k])
	}

	query += " WHERE id = ? AND status = ?"
	args = append(args, taskID, from)

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *SQLiteTaskStore) GetSubtasks(ctx context.Context, taskID uuid.UUID) ([]store.TaskData, error) {
	return s.queryTasks(ctx,
		`SELECT `+taskSelectCols+` FROM ai_tasks WHERE parent_task_id = ? ORDER BY created_at, id`, taskID)
}

func (s *SQLiteTaskStore) ListActiveTasks(ctx context.Context, orgID uuid.UUID) ([]store.TaskData, error) {
	return s.queryTasks(ctx,
		`SELECT `+taskSelectCols+` FROM ai_tasks
		 WHERE org_id = ? AND status NOT IN (?, ?, ?)
		 ORDER BY created_at DESC`,
		orgID, store.TaskStatusCompleted, store.TaskStatusFailed, store.TaskStatusCancelled)
}

func (s *SQLiteTaskStore) ListTasksByStatus(ctx context.Context, status string) ([]store.TaskData, error) {
	return s.queryTasks(ctx,
		`SELECT `+taskSelectCols+` FROM ai_tasks WHERE status = ? ORDER BY created_at`, status)
}

func (s *SQLiteTaskStore) RecordChildCompletion(ctx context.Context, parentTaskID, childTaskID uuid.UUID) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO ai_task_completions (parent_task_id, child_task_id, created_at)
		 VALUES (?, ?, ?)`,
		parentTaskID, childTaskID, time.Now(),
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

func (s *SQLiteTaskStore) IncrementReceived(ctx context.Context, taskID uuid.UUID) (int, int, error) {
	var received, expected int
	err := s.db.QueryRowContext(ctx,
		`UPDATE ai_tasks
		 SET received_responses = received_responses + 1, updated_at = ?
		 WHERE id = ? AND received_responses < expected_responses
		 RETURNING received_responses, expected_responses`,
		time.Now(), taskID,
	).Scan(&received, &expected)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 0, store.ErrNotPending
	}
	return received, expected, err
}

func (s *SQLiteTaskStore) queryTasks(ctx context.Context, query string, args ...any) ([]store.TaskData, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []store.TaskData
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *task)
	}
	return tasks, rows.Err()
}

func normalizeTaskUpdates(updates map[string]any) {
	for _, key := range []string{"input_data", "output_data", "context"} {
		if m, ok := updates[key].(map[string]any); ok {
			updates[key] = store.MarshalMap(m)
		}
	}
}

func scanTask(row rowScanner) (*store.TaskData, error) {
	var d store.TaskData
	var desc, strategy, errMsg sql.NullString
	var input, output, taskCtx []byte
	var parentID, nodeID uuid.NullUUID
	var deadline, startedAt, completedAt sql.NullTime
	if err := row.Scan(
		&d.ID, &d.OrgID, &parentID, &nodeID,
		&d.Title, &desc,
		&input, &output, &taskCtx,
		&d.Status, &strategy,
		&d.ExpectedResponses, &d.ReceivedResponses, &d.Priority,
		&deadline, &startedAt, &completedAt,
		&errMsg, &d.RetryCount, &d.CreatedAt, &d.UpdatedAt,
	); err != nil {
		return nil, err
	}
	d.Description = desc.String
	d.DelegationStrategy = strategy.String
	d.ErrorMessage = errMsg.String
	d.InputData = store.UnmarshalMap(input)
	d.OutputData = store.UnmarshalMap(output)
	d.Context = store.UnmarshalMap(taskCtx)
	if parentID.Valid {
		d.ParentTaskID = &parentID.UUID
	}
	if nodeID.Valid {
		d.AssignedNodeID = &nodeID.UUID
	}
	if deadline.Valid {
		d.Deadline = &deadline.Time
	}
	if startedAt.Valid {
		d.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		d.CompletedAt = &completedAt.Time
	}
	return &d, nil
}
