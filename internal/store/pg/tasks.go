package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/aiorg/internal/store"
)

// PGTaskStore implements store.TaskStore backed by Postgres.
type PGTaskStore struct {
	db *sql.DB
}

func NewPGTaskStore(db *sql.DB) *PGTaskStore {
	return &PGTaskStore{db: db}
}

const taskSelectCols = `id, org_id, parent_task_id, assigned_node_id, title, description,
	input_data, output_data, context, status, delegation_strategy,
	expected_responses, received_responses, priority,
	deadline, started_at, completed_at, error_message, retry_count, created_at, updated_at`

func (s *PGTaskStore) CreateTask(ctx context.Context, task *store.TaskData) error {
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
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`,
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

func (s *PGTaskStore) GetTask(ctx context.Context, taskID uuid.UUID) (*store.TaskData, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+taskSelectCols+` FROM ai_tasks WHERE id = $1`, taskID)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return task, err
}

func (s *PGTaskStore) UpdateTask(ctx context.Context, taskID uuid.UUID, updates map[string]any) error {
	if len(updates) == 0 {
		return nil
	}
	normalizeTaskUpdates(updates)
	updates["updated_at"] = time.Now()
	return execMapUpdate(ctx, s.db, "ai_tasks", taskID, updates)
}

func (s *PGTaskStore) UpdateTaskStatus(ctx context.Context, taskID uuid.UUID, from, to string, updates map[string]any) (bool, error) {
	normalizeTaskUpdates(updates)

	query := `UPDATE ai_tasks SET status = $1, updated_at = $2`
	args := []any{to, time.Now()}

	keys := make([]string, 0, len(updates))
	for k := range updates {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, updates[k])
		query += fmt.Sprintf(", %s = $%d", k, len(args))
	}

	args = append(args, taskID, from)
	query += fmt.Sprintf(" WHERE id = $%d AND status = $%d", len(args)-1, len(args))

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

func (s *PGTaskStore) GetSubtasks(ctx context.Context, taskID uuid.UUID) ([]store.TaskData, error) {
	return s.queryTasks(ctx,
		`SELECT `+taskSelectCols+` FROM ai_tasks WHERE parent_task_id = $1 ORDER BY created_at`, taskID)
}

func (s *PGTaskStore) ListActiveTasks(ctx context.Context, orgID uuid.UUID) ([]store.TaskData, error) {
	return s.queryTasks(ctx,
		`SELECT `+taskSelectCols+` FROM ai_tasks
		 WHERE org_id = $1 AND status NOT IN ($2, $3, $4)
		 ORDER BY created_at DESC`,
		orgID, store.TaskStatusCompleted, store.TaskStatusFailed, store.TaskStatusCancelled)
}

func (s *PGTaskStore) ListTasksByStatus(ctx context.Context, status string) ([]store.TaskData, error) {
	return s.queryTasks(ctx,
		`SELECT `+taskSelectCols+` FROM ai_tasks WHERE status = $1 ORDER BY created_at`, status)
}

func (s *PGTaskStore) RecordChildCompletion(ctx context.Context, parentTaskID, childTaskID uuid.UUID) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO ai_task_completions (parent_task_id, child_task_id, created_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (parent_task_id, child_task_id) DO NOTHING`,
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

func (s *PGTaskStore) IncrementReceived(ctx context.Context, taskID uuid.UUID) (int, int, error) {
	var received, expected int
	err := s.db.QueryRowContext(ctx,
		`UPDATE ai_tasks
		 SET received_responses = received_responses + 1, updated_at = $2
		 WHERE id = $1 AND received_responses < expected_responses
		 RETURNING received_responses, expected_responses`,
		taskID, time.Now(),
	).Scan(&received, &expected)
	if errors.Is(err, sql.ErrNoRows) {
		// Either the task is gone or the counter is already saturated.
		// The caller dedups completions, so this is an invariant breach.
		return 0, 0, store.ErrNotPending
	}
	return received, expected, err
}

func (s *PGTaskStore) queryTasks(ctx context.Context, query string, args ...any) ([]store.TaskData, error) {
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

// normalizeTaskUpdates converts map-typed values to JSON for jsonb columns.
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

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}
