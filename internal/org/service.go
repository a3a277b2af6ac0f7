// Package org manages organization lifecycle and node topology: status
// transitions, admission control for task submission, and tree edits that
// keep the single-root acyclic invariant intact.
package org

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/aiorg/internal/store"
)

var (
	// ErrNotActive is returned when a task is submitted to an org that is
	// not accepting work.
	ErrNotActive = errors.New("org is not active")

	// ErrArchived is returned for any mutation against an archived org.
	ErrArchived = errors.New("org is archived")

	// ErrRootExists is returned when adding a second root node.
	ErrRootExists = errors.New("org already has a root node")

	// ErrCycle is returned when a reparent would create a cycle.
	ErrCycle = errors.New("reparent would create a cycle")

	// ErrInvalidTransition is returned for an illegal status change.
	ErrInvalidTransition = errors.New("invalid status transition")
)

var validRoleTypes = map[string]bool{
	store.RoleExecutive:   true,
	store.RoleManager:     true,
	store.RoleAnalyst:     true,
	store.RoleCoordinator: true,
}

// Service provides org lifecycle and topology operations on top of the store.
type Service struct {
	stores *store.Stores
	logger *slog.Logger
}

func NewService(stores *store.Stores, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{stores: stores, logger: logger}
}

// CreateOrg creates a new org in draft status.
func (s *Service) CreateOrg(ctx context.Context, name, description, createdBy string) (*store.OrgData, error) {
	if name == "" {
		return nil, fmt.Errorf("org name is required")
	}
	now := time.Now().UTC()
	org := &store.OrgData{
		ID:          store.GenNewID(),
		Name:        name,
		Description: description,
		Status:      store.OrgStatusDraft,
		CreatedBy:   createdBy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.stores.Orgs.CreateOrg(ctx, org); err != nil {
		return nil, fmt.Errorf("create org: %w", err)
	}
	s.logger.Info("org created", "org_id", org.ID, "name", name)
	return org, nil
}

// Activate moves an org to active. An active org accepts task submissions;
// activation requires a root node so submitted tasks have somewhere to go.
func (s *Service) Activate(ctx context.Context, orgID uuid.UUID) error {
	org, err := s.stores.Orgs.GetOrg(ctx, orgID)
	if err != nil {
		return err
	}
	switch org.Status {
	case store.OrgStatusDraft, store.OrgStatusPaused:
	case store.OrgStatusActive:
		return nil
	default:
		return fmt.Errorf("%w: %s -> active", ErrInvalidTransition, org.Status)
	}
	if _, err := s.stores.Nodes.GetRootNode(ctx, orgID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("cannot activate org without a root node")
		}
		return err
	}
	if err := s.stores.Orgs.UpdateOrg(ctx, orgID, map[string]any{"status": store.OrgStatusActive}); err != nil {
		return err
	}
	s.logger.Info("org activated", "org_id", orgID)
	return nil
}

// Pause suspends new task admission. In-flight tasks continue and HITL
// decisions are still processed.
func (s *Service) Pause(ctx context.Context, orgID uuid.UUID) error {
	org, err := s.stores.Orgs.GetOrg(ctx, orgID)
	if err != nil {
		return err
	}
	if org.Status == store.OrgStatusArchived {
		return ErrArchived
	}
	if org.Status != store.OrgStatusActive {
		return fmt.Errorf("%w: %s -> paused", ErrInvalidTransition, org.Status)
	}
	if err := s.stores.Orgs.UpdateOrg(ctx, orgID, map[string]any{"status": store.OrgStatusPaused}); err != nil {
		return err
	}
	s.logger.Info("org paused", "org_id", orgID)
	return nil
}

// Archive moves an org to its terminal read-only state.
func (s *Service) Archive(ctx context.Context, orgID uuid.UUID) error {
	org, err := s.stores.Orgs.GetOrg(ctx, orgID)
	if err != nil {
		return err
	}
	if org.Status == store.OrgStatusArchived {
		return nil
	}
	if err := s.stores.Orgs.UpdateOrg(ctx, orgID, map[string]any{"status": store.OrgStatusArchived}); err != nil {
		return err
	}
	s.logger.Info("org archived", "org_id", orgID)
	return nil
}

// CheckAdmission verifies an org accepts new task submissions.
func (s *Service) CheckAdmission(ctx context.Context, orgID uuid.UUID) error {
	org, err := s.stores.Orgs.GetOrg(ctx, orgID)
	if err != nil {
		return err
	}
	if org.Status != store.OrgStatusActive {
		return fmt.Errorf("%w (status=%s)", ErrNotActive, org.Status)
	}
	return nil
}

// AddNode inserts a node into the org tree. A nil parent makes it the root;
// only one root is allowed. Node edits are refused on archived orgs.
func (s *Service) AddNode(ctx context.Context, node *store.NodeData) error {
	org, err := s.stores.Orgs.GetOrg(ctx, node.OrgID)
	if err != nil {
		return err
	}
	if org.Status == store.OrgStatusArchived {
		return ErrArchived
	}
	if !validRoleTypes[node.RoleType] {
		return fmt.Errorf("invalid role_type %q", node.RoleType)
	}
	if node.RoleName == "" {
		return fmt.Errorf("role_name is required")
	}

	if node.ParentNodeID == nil {
		if _, err := s.stores.Nodes.GetRootNode(ctx, node.OrgID); err == nil {
			return ErrRootExists
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}
	} else {
		parent, err := s.stores.Nodes.GetNode(ctx, *node.ParentNodeID)
		if err != nil {
			return fmt.Errorf("parent node: %w", err)
		}
		if parent.OrgID != node.OrgID {
			return fmt.Errorf("parent node belongs to a different org")
		}
	}

	if node.ID == uuid.Nil {
		node.ID = store.GenNewID()
	}
	if node.Status == "" {
		node.Status = store.NodeStatusActive
	}
	now := time.Now().UTC()
	node.CreatedAt = now
	node.UpdatedAt = now

	if err := s.stores.Nodes.CreateNode(ctx, node); err != nil {
		return fmt.Errorf("create node: %w", err)
	}
	s.logger.Info("node added", "org_id", node.OrgID, "node_id", node.ID, "role", node.RoleName)
	return nil
}

// ReparentNode moves a node under a new parent. The root cannot be
// reparented away (that would leave the org rootless), and the new parent
// must not be the node itself or one of its descendants.
func (s *Service) ReparentNode(ctx context.Context, nodeID, newParentID uuid.UUID) error {
	node, err := s.stores.Nodes.GetNode(ctx, nodeID)
	if err != nil {
		return err
	}
	org, err := s.stores.Orgs.GetOrg(ctx, node.OrgID)
	if err != nil {
		return err
	}
	if org.Status == store.OrgStatusArchived {
		return ErrArchived
	}
	if node.IsRoot() {
		return fmt.Errorf("cannot reparent the root node")
	}
	if nodeID == newParentID {
		return ErrCycle
	}

	parent, err := s.stores.Nodes.GetNode(ctx, newParentID)
	if err != nil {
		return fmt.Errorf("new parent: %w", err)
	}
	if parent.OrgID != node.OrgID {
		return fmt.Errorf("new parent belongs to a different org")
	}

	// Walk up from the new parent; hitting nodeID means the new parent is
	// a descendant of the node being moved.
	cur := parent
	for cur.ParentNodeID != nil {
		if *cur.ParentNodeID == nodeID {
			return ErrCycle
		}
		cur, err = s.stores.Nodes.GetNode(ctx, *cur.ParentNodeID)
		if err != nil {
			return err
		}
	}

	pid := newParentID
	return s.stores.Nodes.UpdateNode(ctx, nodeID, map[string]any{"parent_node_id": &pid})
}

// RemoveNode deletes a childless node.
func (s *Service) RemoveNode(ctx context.Context, nodeID uuid.UUID) error {
	node, err := s.stores.Nodes.GetNode(ctx, nodeID)
	if err != nil {
		return err
	}
	org, err := s.stores.Orgs.GetOrg(ctx, node.OrgID)
	if err != nil {
		return err
	}
	if org.Status == store.OrgStatusArchived {
		return ErrArchived
	}
	return s.stores.Nodes.DeleteNode(ctx, nodeID)
}

// TreeNode is one entry of the nested org chart view.
type TreeNode struct {
	Node     store.NodeData `json:"node"`
	Children []*TreeNode    `json:"children,omitempty"`
}

// Tree builds the nested org chart from the root down.
func (s *Service) Tree(ctx context.Context, orgID uuid.UUID) (*TreeNode, error) {
	nodes, err := s.stores.Nodes.ListNodesByOrg(ctx, orgID)
	if err != nil {
		return nil, err
	}

	byID := make(map[uuid.UUID]*TreeNode, len(nodes))
	for i := range nodes {
		byID[nodes[i].ID] = &TreeNode{Node: nodes[i]}
	}
	var root *TreeNode
	for i := range nodes {
		tn := byID[nodes[i].ID]
		if nodes[i].ParentNodeID == nil {
			root = tn
			continue
		}
		if parent, ok := byID[*nodes[i].ParentNodeID]; ok {
			parent.Children = append(parent.Children, tn)
		}
	}
	if root == nil {
		return nil, store.ErrNotFound
	}
	return root, nil
}

// Stats returns the dashboard summary for one org.
func (s *Service) Stats(ctx context.Context, orgID uuid.UUID) (*store.OrgStats, error) {
	return s.stores.Orgs.GetOrgStats(ctx, orgID)
}
