package org

import (
	"context"
	"errors"
	"testing"

	"github.com/nextlevelbuilder/aiorg/internal/store"
	"github.com/nextlevelbuilder/aiorg/internal/store/memstore"
)

func newService(t *testing.T) (*Service, *memstore.Mem) {
	t.Helper()
	mem := memstore.New()
	return NewService(mem.Stores(), nil), mem
}

func TestLifecycle(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	org, err := svc.CreateOrg(ctx, "Acme", "test org", "alice@acme.dev")
	if err != nil {
		t.Fatalf("CreateOrg: %v", err)
	}
	if org.Status != store.OrgStatusDraft {
		t.Errorf("status = %q, want draft", org.Status)
	}

	// No root node yet: activation must refuse.
	if err := svc.Activate(ctx, org.ID); err == nil {
		t.Fatal("Activate without root should fail")
	}

	root := &store.NodeData{OrgID: org.ID, RoleName: "CEO", RoleType: store.RoleExecutive}
	if err := svc.AddNode(ctx, root); err != nil {
		t.Fatalf("AddNode: %v", err)
	}
	if err := svc.Activate(ctx, org.ID); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if err := svc.CheckAdmission(ctx, org.ID); err != nil {
		t.Errorf("CheckAdmission on active org: %v", err)
	}

	if err := svc.Pause(ctx, org.ID); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if err := svc.CheckAdmission(ctx, org.ID); !errors.Is(err, ErrNotActive) {
		t.Errorf("CheckAdmission on paused org = %v, want ErrNotActive", err)
	}

	if err := svc.Archive(ctx, org.ID); err != nil {
		t.Fatalf("Archive: %v", err)
	}
	child := &store.NodeData{OrgID: org.ID, ParentNodeID: &root.ID, RoleName: "Analyst", RoleType: store.RoleAnalyst}
	if err := svc.AddNode(ctx, child); !errors.Is(err, ErrArchived) {
		t.Errorf("AddNode on archived org = %v, want ErrArchived", err)
	}
	// Archived is terminal.
	if err := svc.Activate(ctx, org.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Activate archived = %v, want ErrInvalidTransition", err)
	}
}

func TestSingleRootInvariant(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	org, _ := svc.CreateOrg(ctx, "Acme", "", "")
	if err := svc.AddNode(ctx, &store.NodeData{OrgID: org.ID, RoleName: "CEO", RoleType: store.RoleExecutive}); err != nil {
		t.Fatalf("AddNode root: %v", err)
	}
	err := svc.AddNode(ctx, &store.NodeData{OrgID: org.ID, RoleName: "CTO", RoleType: store.RoleExecutive})
	if !errors.Is(err, ErrRootExists) {
		t.Errorf("second root = %v, want ErrRootExists", err)
	}
}

func TestReparentCycleDetection(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	org, _ := svc.CreateOrg(ctx, "Acme", "", "")
	root := &store.NodeData{OrgID: org.ID, RoleName: "CEO", RoleType: store.RoleExecutive}
	if err := svc.AddNode(ctx, root); err != nil {
		t.Fatal(err)
	}
	mgr := &store.NodeData{OrgID: org.ID, ParentNodeID: &root.ID, RoleName: "Manager", RoleType: store.RoleManager}
	if err := svc.AddNode(ctx, mgr); err != nil {
		t.Fatal(err)
	}
	analyst := &store.NodeData{OrgID: org.ID, ParentNodeID: &mgr.ID, RoleName: "Analyst", RoleType: store.RoleAnalyst}
	if err := svc.AddNode(ctx, analyst); err != nil {
		t.Fatal(err)
	}

	// Moving the manager under its own descendant must be refused.
	if err := svc.ReparentNode(ctx, mgr.ID, analyst.ID); !errors.Is(err, ErrCycle) {
		t.Errorf("reparent under descendant = %v, want ErrCycle", err)
	}
	if err := svc.ReparentNode(ctx, mgr.ID, mgr.ID); !errors.Is(err, ErrCycle) {
		t.Errorf("reparent under self = %v, want ErrCycle", err)
	}
	if err := svc.ReparentNode(ctx, root.ID, mgr.ID); err == nil {
		t.Error("reparenting the root should be refused")
	}

	// A legal move: analyst directly under root.
	if err := svc.ReparentNode(ctx, analyst.ID, root.ID); err != nil {
		t.Errorf("legal reparent: %v", err)
	}
}

func TestRemoveNodeWithChildren(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	org, _ := svc.CreateOrg(ctx, "Acme", "", "")
	root := &store.NodeData{OrgID: org.ID, RoleName: "CEO", RoleType: store.RoleExecutive}
	svc.AddNode(ctx, root)
	child := &store.NodeData{OrgID: org.ID, ParentNodeID: &root.ID, RoleName: "Analyst", RoleType: store.RoleAnalyst}
	svc.AddNode(ctx, child)

	if err := svc.RemoveNode(ctx, root.ID); !errors.Is(err, store.ErrHasChildren) {
		t.Errorf("remove parent = %v, want ErrHasChildren", err)
	}
	if err := svc.RemoveNode(ctx, child.ID); err != nil {
		t.Errorf("remove leaf: %v", err)
	}
}

func TestTree(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	org, _ := svc.CreateOrg(ctx, "Acme", "", "")
	root := &store.NodeData{OrgID: org.ID, RoleName: "CEO", RoleType: store.RoleExecutive}
	svc.AddNode(ctx, root)
	for _, name := range []string{"Research", "Drafting"} {
		svc.AddNode(ctx, &store.NodeData{OrgID: org.ID, ParentNodeID: &root.ID, RoleName: name, RoleType: store.RoleAnalyst})
	}

	tree, err := svc.Tree(ctx, org.ID)
	if err != nil {
		t.Fatalf("Tree: %v", err)
	}
	if tree.Node.RoleName != "CEO" {
		t.Errorf("root = %q", tree.Node.RoleName)
	}
	if len(tree.Children) != 2 {
		t.Errorf("children = %d, want 2", len(tree.Children))
	}
}
