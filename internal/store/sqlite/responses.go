package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/aiorg/internal/store"
)

// SQLiteResponseStore implements store.ResponseStore on the standalone
// database. Append-only.
type SQLiteResponseStore struct {
	db *sql.DB
}

func NewSQLiteResponseStore(db *sql.DB) *SQLiteResponseStore {
	return &SQLiteResponseStore{db: db}
}

const responseSelectCols = `id, task_id, node_id, response_type, content, summary, reasoning,
	confidence_score, quality_score,
	is_human_modified, original_ai_content, modification_reason, modified_by, modified_at, created_at`

func (s *SQLiteResponseStore) CreateResponse(ctx context.Context, resp *store.ResponseData) error {
	if resp.ID == uuid.Nil {
		resp.ID = store.GenNewID()
	}
	resp.CreatedAt = time.Now()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ai_responses (`+responseSelectCols+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		resp.ID, resp.TaskID, resp.NodeID,
		resp.ResponseType, store.MarshalMap(resp.Content), resp.Summary, resp.Reasoning,
		resp.ConfidenceScore, resp.QualityScore,
		resp.IsHumanModified, store.MarshalMap(resp.OriginalAIContent),
		nullStr(resp.ModificationReason), nullStr(resp.ModifiedBy), resp.ModifiedAt,
		resp.CreatedAt,
	)
	return err
}

func (s *SQLiteResponseStore) GetResponse(ctx context.Context, responseID uuid.UUID) (*store.ResponseData, error) {
	resp, err := scanResponse(s.db.QueryRowContext(ctx,
		`SELECT `+responseSelectCols+` FROM ai_responses WHERE id = ?`, responseID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return resp, err
}

func (s *SQLiteResponseStore) GetTaskResponses(ctx context.Context, taskID uuid.UUID) ([]store.ResponseData, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+responseSelectCols+` FROM ai_responses WHERE task_id = ? ORDER BY created_at, id`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var responses []store.ResponseData
	for rows.Next() {
		resp, err := scanResponse(rows)
		if err != nil {
			return nil, err
		}
		responses = append(responses, *resp)
	}
	return responses, rows.Err()
}

func scanResponse(row rowScanner) (*store.ResponseData, error) {
	var d store.ResponseData
	var summary, reasoning, modReason, modBy sql.NullString
	var content, original []byte
	var confidence, quality sql.NullFloat64
	var modifiedAt sql.NullTime
	if err := row.Scan(
		&d.ID, &d.TaskID, &d.NodeID,
		&d.ResponseType, &content, &summary, &reasoning,
		&confidence, &quality,
		&d.IsHumanModified, &original, &modReason, &modBy, &modifiedAt,
		&d.CreatedAt,
	); err != nil {
		return nil, err
	}
	d.Summary = summary.String
	d.Reasoning = reasoning.String
	d.Content = store.UnmarshalMap(content)
	d.OriginalAIContent = store.UnmarshalMap(original)
	d.ConfidenceScore = confidence.Float64
	d.QualityScore = quality.Float64
	d.ModificationReason = modReason.String
	d.ModifiedBy = modBy.String
	if modifiedAt.Valid {
		d.ModifiedAt = &modifiedAt.Time
	}
	return &d, nil
}
