// Package bootstrap seeds a ready-to-use starter org so a fresh install can
// accept its first task without building a tree by hand.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/aiorg/internal/org"
	"github.com/nextlevelbuilder/aiorg/internal/store"
)

// NodeTemplate describes one node to create. Children hang off their parent
// positionally; only the root may omit a parent.
type NodeTemplate struct {
	RoleName    string
	RoleType    string
	Description string
	HITL        store.HITLConfig
	Human       store.HumanMirror
	Channels    []string
	Children    []NodeTemplate
}

// OrgTemplate is a complete starter org.
type OrgTemplate struct {
	Name        string
	Description string
	CreatedBy   string
	Root        NodeTemplate
	Activate    bool
}

// DefaultTemplate is a three-layer research org: an executive that delegates,
// a coordinating manager, and two analysts doing the work.
func DefaultTemplate(ownerEmail string) OrgTemplate {
	return OrgTemplate{
		Name:        "Research Org",
		Description: "Starter org: an executive delegating research work through a manager to two analysts.",
		CreatedBy:   "bootstrap",
		Activate:    true,
		Root: NodeTemplate{
			RoleName:    "Chief Executive",
			RoleType:    store.RoleExecutive,
			Description: "Receives external tasks, decides whether to delegate, and synthesizes the final answer.",
			Human:       store.HumanMirror{Email: ownerEmail},
			HITL:        store.HITLConfig{Enabled: ownerEmail != "", TimeoutHours: 24, AutoProceed: true},
			Channels:    []string{store.ChannelEmail},
			Children: []NodeTemplate{
				{
					RoleName:    "Research Manager",
					RoleType:    store.RoleManager,
					Description: "Splits research questions into focused subtasks and aggregates findings.",
					Children: []NodeTemplate{
						{
							RoleName:    "Market Analyst",
							RoleType:    store.RoleAnalyst,
							Description: "Analyzes markets, competitors, and quantitative signals.",
						},
						{
							RoleName:    "Research Analyst",
							RoleType:    store.RoleAnalyst,
							Description: "Digs into background material and produces written findings.",
						},
					},
				},
			},
		},
	}
}

// SeedOrg creates the org and its node tree. Seeding is skipped when an org
// with the same name already exists, so repeated startups stay quiet.
func SeedOrg(ctx context.Context, stores *store.Stores, svc *org.Service, tpl OrgTemplate, logger *slog.Logger) (*store.OrgData, error) {
	if logger == nil {
		logger = slog.Default()
	}

	existing, err := stores.Orgs.ListOrgs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list orgs: %w", err)
	}
	for i := range existing {
		if existing[i].Name == tpl.Name {
			logger.Debug("seed org already exists", "org_id", existing[i].ID, "name", tpl.Name)
			return &existing[i], nil
		}
	}

	created, err := svc.CreateOrg(ctx, tpl.Name, tpl.Description, tpl.CreatedBy)
	if err != nil {
		return nil, fmt.Errorf("create seed org: %w", err)
	}

	if err := addNodeTree(ctx, svc, created.ID, nil, tpl.Root); err != nil {
		return nil, err
	}

	if tpl.Activate {
		if err := svc.Activate(ctx, created.ID); err != nil {
			return nil, fmt.Errorf("activate seed org: %w", err)
		}
	}

	logger.Info("seeded starter org", "org_id", created.ID, "name", tpl.Name)
	return created, nil
}

func addNodeTree(ctx context.Context, svc *org.Service, orgID uuid.UUID, parentID *uuid.UUID, tpl NodeTemplate) error {
	node := &store.NodeData{
		OrgID:                orgID,
		ParentNodeID:         parentID,
		RoleName:             tpl.RoleName,
		RoleType:             tpl.RoleType,
		Description:          tpl.Description,
		Human:                tpl.Human,
		HITL:                 tpl.HITL,
		NotificationChannels: tpl.Channels,
	}
	if err := svc.AddNode(ctx, node); err != nil {
		return fmt.Errorf("add node %q: %w", tpl.RoleName, err)
	}
	for _, child := range tpl.Children {
		if err := addNodeTree(ctx, svc, orgID, &node.ID, child); err != nil {
			return err
		}
	}
	return nil
}
