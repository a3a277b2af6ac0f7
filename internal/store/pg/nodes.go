package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/aiorg/internal/store"
)

// PGNodeStore implements store.NodeStore backed by Postgres.
type PGNodeStore struct {
	db *sql.DB
}

func NewPGNodeStore(db *sql.DB) *PGNodeStore {
	return &PGNodeStore{db: db}
}

const nodeSelectCols = `id, org_id, parent_node_id, role_name, role_type, description, agent_config,
	human_name, human_email, human_chat_id_teams, human_chat_id_slack,
	hitl_enabled, hitl_approval_required, hitl_review_delegation, hitl_timeout_hours, hitl_auto_proceed,
	notification_channels, position_x, position_y, status, current_task_id, created_at, updated_at`

func (s *PGNodeStore) CreateNode(ctx context.Context, node *store.NodeData) error {
	if node.ID == uuid.Nil {
		node.ID = store.GenNewID()
	}
	if node.Status == "" {
		node.Status = store.NodeStatusActive
	}
	now := time.Now()
	node.CreatedAt = now
	node.UpdatedAt = now

	channels, _ := json.Marshal(node.NotificationChannels)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ai_nodes (`+nodeSelectCols+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)`,
		node.ID, node.OrgID, node.ParentNodeID,
		node.RoleName, node.RoleType, node.Description,
		store.MarshalMap(node.AgentConfig),
		node.Human.Name, node.Human.Email, node.Human.ChatIDTeams, node.Human.ChatIDSlack,
		node.HITL.Enabled, node.HITL.ApprovalRequired, node.HITL.ReviewDelegation,
		node.HITL.TimeoutHours, node.HITL.AutoProceed,
		channels, node.PositionX, node.PositionY,
		node.Status, node.CurrentTaskID, now, now,
	)
	return err
}

func (s *PGNodeStore) GetNode(ctx context.Context, nodeID uuid.UUID) (*store.NodeData, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+nodeSelectCols+` FROM ai_nodes WHERE id = $1`, nodeID)
	node, err := scanNode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return node, err
}

func (s *PGNodeStore) UpdateNode(ctx context.Context, nodeID uuid.UUID, updates map[string]any) error {
	if len(updates) == 0 {
		return nil
	}
	if cfg, ok := updates["agent_config"].(map[string]any); ok {
		updates["agent_config"] = store.MarshalMap(cfg)
	}
	if channels, ok := updates["notification_channels"].([]string); ok {
		data, _ := json.Marshal(channels)
		updates["notification_channels"] = data
	}
	updates["updated_at"] = time.Now()
	return execMapUpdate(ctx, s.db, "ai_nodes", nodeID, updates)
}

func (s *PGNodeStore) DeleteNode(ctx context.Context, nodeID uuid.UUID) error {
	var children int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM ai_nodes WHERE parent_node_id = $1`, nodeID).Scan(&children); err != nil {
		return err
	}
	if children > 0 {
		return store.ErrHasChildren
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM ai_nodes WHERE id = $1`, nodeID)
	return err
}

func (s *PGNodeStore) ListNodesByOrg(ctx context.Context, orgID uuid.UUID) ([]store.NodeData, error) {
	return s.queryNodes(ctx,
		`SELECT `+nodeSelectCols+` FROM ai_nodes WHERE org_id = $1 ORDER BY created_at`, orgID)
}

func (s *PGNodeStore) GetRootNode(ctx context.Context, orgID uuid.UUID) (*store.NodeData, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+nodeSelectCols+` FROM ai_nodes
		 WHERE org_id = $1 AND parent_node_id IS NULL
		 ORDER BY created_at LIMIT 1`, orgID)
	node, err := scanNode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return node, err
}

func (s *PGNodeStore) GetChildNodes(ctx context.Context, nodeID uuid.UUID) ([]store.NodeData, error) {
	return s.queryNodes(ctx,
		`SELECT `+nodeSelectCols+` FROM ai_nodes WHERE parent_node_id = $1 ORDER BY created_at`, nodeID)
}

func (s *PGNodeStore) GetNodesByEmail(ctx context.Context, email string) ([]store.NodeData, error) {
	return s.queryNodes(ctx,
		`SELECT `+nodeSelectCols+` FROM ai_nodes WHERE human_email = $1 ORDER BY created_at`, email)
}

func (s *PGNodeStore) queryNodes(ctx context.Context, query string, args ...any) ([]store.NodeData, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var nodes []store.NodeData
	for rows.Next() {
		node, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, *node)
	}
	return nodes, rows.Err()
}

func scanNode(row rowScanner) (*store.NodeData, error) {
	var d store.NodeData
	var desc, humanName, humanEmail, chatTeams, chatSlack sql.NullString
	var agentConfig, channels []byte
	var parentID, currentTaskID uuid.NullUUID
	if err := row.Scan(
		&d.ID, &d.OrgID, &parentID,
		&d.RoleName, &d.RoleType, &desc, &agentConfig,
		&humanName, &humanEmail, &chatTeams, &chatSlack,
		&d.HITL.Enabled, &d.HITL.ApprovalRequired, &d.HITL.ReviewDelegation,
		&d.HITL.TimeoutHours, &d.HITL.AutoProceed,
		&channels, &d.PositionX, &d.PositionY,
		&d.Status, &currentTaskID, &d.CreatedAt, &d.UpdatedAt,
	); err != nil {
		return nil, err
	}
	d.Description = desc.String
	d.AgentConfig = store.UnmarshalMap(agentConfig)
	d.Human = store.HumanMirror{
		Name:        humanName.String,
		Email:       humanEmail.String,
		ChatIDTeams: chatTeams.String,
		ChatIDSlack: chatSlack.String,
	}
	if len(channels) > 0 {
		json.Unmarshal(channels, &d.NotificationChannels)
	}
	if parentID.Valid {
		d.ParentNodeID = &parentID.UUID
	}
	if currentTaskID.Valid {
		d.CurrentTaskID = &currentTaskID.UUID
	}
	return &d, nil
}
