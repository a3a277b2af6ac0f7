package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/aiorg/internal/store"
)

// SQLiteOrgStore implements store.OrgStore on the standalone database.
type SQLiteOrgStore struct {
	db *sql.DB
}

func NewSQLiteOrgStore(db *sql.DB) *SQLiteOrgStore {
	return &SQLiteOrgStore{db: db}
}

const orgSelectCols = `id, name, description, status, config, created_by, created_at, updated_at`

func (s *SQLiteOrgStore) CreateOrg(ctx context.Context, org *store.OrgData) error {
	if org.ID == uuid.Nil {
		org.ID = store.GenNewID()
	}
	if org.Status == "" {
		org.Status = store.OrgStatusDraft
	}
	now := time.Now()
	org.CreatedAt = now
	org.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ai_orgs (`+orgSelectCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		org.ID, org.Name, org.Description, org.Status,
		store.MarshalMap(org.Config), org.CreatedBy, now, now,
	)
	return err
}

func (s *SQLiteOrgStore) GetOrg(ctx context.Context, orgID uuid.UUID) (*store.OrgData, error) {
	org, err := scanOrg(s.db.QueryRowContext(ctx,
		`SELECT `+orgSelectCols+` FROM ai_orgs WHERE id = ?`, orgID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return org, err
}

func (s *SQLiteOrgStore) UpdateOrg(ctx context.Context, orgID uuid.UUID, updates map[string]any) error {
	if len(updates) == 0 {
		return nil
	}
	if cfg, ok := updates["config"].(map[string]any); ok {
		updates["config"] = store.MarshalMap(cfg)
	}
	updates["updated_at"] = time.Now()
	return execMapUpdate(ctx, s.db, "ai_orgs", orgID, updates)
}

func (s *SQLiteOrgStore) DeleteOrg(ctx context.Context, orgID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM ai_orgs WHERE id = ?`, orgID)
	return err
}

func (s *SQLiteOrgStore) ListOrgs(ctx context.Context) ([]store.OrgData, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+orgSelectCols+` FROM ai_orgs ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orgs []store.OrgData
	for rows.Next() {
		org, err := scanOrg(rows)
		if err != nil {
			return nil, err
		}
		orgs = append(orgs, *org)
	}
	return orgs, rows.Err()
}

func (s *SQLiteOrgStore) GetOrgStats(ctx context.Context, orgID uuid.UUID) (*store.OrgStats, error) {
	stats := &store.OrgStats{OrgID: orgID, TasksByStatus: map[string]int{}}

	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM ai_tasks WHERE org_id = ? GROUP BY status`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats.TasksByStatus[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM ai_nodes WHERE org_id = ?`, orgID).Scan(&stats.NodeCount); err != nil {
		return nil, err
	}

	errRows, err := s.db.QueryContext(ctx,
		`SELECT id, title, COALESCE(error_message, ''), COALESCE(completed_at, updated_at)
		 FROM ai_tasks WHERE org_id = ? AND status = ?
		 ORDER BY updated_at DESC LIMIT 5`, orgID, store.TaskStatusFailed)
	if err != nil {
		return nil, err
	}
	defer errRows.Close()
	for errRows.Next() {
		var te store.TaskError
		if err := errRows.Scan(&te.TaskID, &te.Title, &te.ErrorMessage, &te.CompletedAt); err != nil {
			return nil, err
		}
		stats.RecentErrors = append(stats.RecentErrors, te)
	}
	return stats, errRows.Err()
}

func scanOrg(row rowScanner) (*store.OrgData, error) {
	var d store.OrgData
	var desc, createdBy sql.NullString
	var config []byte
	if err := row.Scan(
		&d.ID, &d.Name, &desc, &d.Status, &config,
		&createdBy, &d.CreatedAt, &d.UpdatedAt,
	); err != nil {
		return nil, err
	}
	d.Description = desc.String
	d.CreatedBy = createdBy.String
	d.Config = store.UnmarshalMap(config)
	return &d, nil
}
