package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/nextlevelbuilder/aiorg/internal/store"
)

func openTestStores(t *testing.T) *store.Stores {
	t.Helper()
	stores, err := NewSQLiteStores(store.StoreConfig{
		SQLitePath: filepath.Join(t.TempDir(), "aiorg.db"),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	return stores
}

func seedOrgAndNode(t *testing.T, stores *store.Stores) (*store.OrgData, *store.NodeData) {
	t.Helper()
	ctx := context.Background()
	org := &store.OrgData{Name: "Acme", Status: store.OrgStatusActive}
	if err := stores.Orgs.CreateOrg(ctx, org); err != nil {
		t.Fatal(err)
	}
	node := &store.NodeData{
		OrgID:    org.ID,
		RoleName: "CEO",
		RoleType: store.RoleExecutive,
		Human:    store.HumanMirror{Email: "ceo@acme.test"},
	}
	if err := stores.Nodes.CreateNode(ctx, node); err != nil {
		t.Fatal(err)
	}
	return org, node
}

func TestTaskRoundTrip(t *testing.T) {
	stores := openTestStores(t)
	org, node := seedOrgAndNode(t, stores)
	ctx := context.Background()

	deadline := time.Now().UTC().Add(time.Hour).Truncate(time.Second)
	task := &store.TaskData{
		OrgID:          org.ID,
		AssignedNodeID: &node.ID,
		Title:          "Quarterly report",
		Description:    "Summarize Q3",
		InputData:      map[string]any{"quarter": "Q3"},
		Priority:       store.PriorityHigh,
		Deadline:       &deadline,
	}
	if err := stores.Tasks.CreateTask(ctx, task); err != nil {
		t.Fatal(err)
	}

	got, err := stores.Tasks.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != "Quarterly report" || got.Priority != store.PriorityHigh {
		t.Errorf("got %+v", got)
	}
	if got.InputData["quarter"] != "Q3" {
		t.Errorf("input_data = %v", got.InputData)
	}
	if got.Status != store.TaskStatusPending {
		t.Errorf("default status = %q", got.Status)
	}
	if got.Deadline == nil || !got.Deadline.Equal(deadline) {
		t.Errorf("deadline = %v, want %v", got.Deadline, deadline)
	}

	if _, err := stores.Tasks.GetTask(ctx, store.GenNewID()); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("missing task err = %v, want ErrNotFound", err)
	}
}

func TestUpdateTaskStatusGuard(t *testing.T) {
	stores := openTestStores(t)
	org, node := seedOrgAndNode(t, stores)
	ctx := context.Background()

	task := &store.TaskData{OrgID: org.ID, AssignedNodeID: &node.ID, Title: "T"}
	if err := stores.Tasks.CreateTask(ctx, task); err != nil {
		t.Fatal(err)
	}

	won, err := stores.Tasks.UpdateTaskStatus(ctx, task.ID, store.TaskStatusPending, store.TaskStatusInProgress, map[string]any{
		"started_at": time.Now().UTC(),
	})
	if err != nil || !won {
		t.Fatalf("first transition: won=%v err=%v", won, err)
	}

	// Stale from-status loses without error.
	won, err = stores.Tasks.UpdateTaskStatus(ctx, task.ID, store.TaskStatusPending, store.TaskStatusFailed, nil)
	if err != nil {
		t.Fatal(err)
	}
	if won {
		t.Error("stale transition must lose")
	}

	got, _ := stores.Tasks.GetTask(ctx, task.ID)
	if got.Status != store.TaskStatusInProgress {
		t.Errorf("status = %q", got.Status)
	}
	if got.StartedAt == nil {
		t.Error("started_at not applied with transition")
	}
}

func TestRecordChildCompletionDedup(t *testing.T) {
	stores := openTestStores(t)
	org, node := seedOrgAndNode(t, stores)
	ctx := context.Background()

	parent := &store.TaskData{OrgID: org.ID, AssignedNodeID: &node.ID, Title: "parent", ExpectedResponses: 2}
	if err := stores.Tasks.CreateTask(ctx, parent); err != nil {
		t.Fatal(err)
	}
	child := &store.TaskData{OrgID: org.ID, ParentTaskID: &parent.ID, AssignedNodeID: &node.ID, Title: "child"}
	if err := stores.Tasks.CreateTask(ctx, child); err != nil {
		t.Fatal(err)
	}

	first, err := stores.Tasks.RecordChildCompletion(ctx, parent.ID, child.ID)
	if err != nil || !first {
		t.Fatalf("first record: %v %v", first, err)
	}
	second, err := stores.Tasks.RecordChildCompletion(ctx, parent.ID, child.ID)
	if err != nil {
		t.Fatal(err)
	}
	if second {
		t.Error("duplicate completion must not be recorded")
	}
}

func TestIncrementReceivedBounded(t *testing.T) {
	stores := openTestStores(t)
	org, node := seedOrgAndNode(t, stores)
	ctx := context.Background()

	task := &store.TaskData{OrgID: org.ID, AssignedNodeID: &node.ID, Title: "parent", ExpectedResponses: 2}
	if err := stores.Tasks.CreateTask(ctx, task); err != nil {
		t.Fatal(err)
	}

	for i := 1; i <= 2; i++ {
		received, expected, err := stores.Tasks.IncrementReceived(ctx, task.ID)
		if err != nil {
			t.Fatal(err)
		}
		if received != i || expected != 2 {
			t.Errorf("counters = %d/%d, want %d/2", received, expected, i)
		}
	}

	if _, _, err := stores.Tasks.IncrementReceived(ctx, task.ID); !errors.Is(err, store.ErrNotPending) {
		t.Errorf("saturated increment err = %v, want ErrNotPending", err)
	}
}

func TestResolveQueueItemSingleWinner(t *testing.T) {
	stores := openTestStores(t)
	org, node := seedOrgAndNode(t, stores)
	ctx := context.Background()

	task := &store.TaskData{OrgID: org.ID, AssignedNodeID: &node.ID, Title: "T"}
	if err := stores.Tasks.CreateTask(ctx, task); err != nil {
		t.Fatal(err)
	}
	item := &store.HITLQueueItemData{
		OrgID:      org.ID,
		NodeID:     node.ID,
		TaskID:     task.ID,
		ReviewType: store.ReviewResponseApproval,
		Content:    map[string]any{"summary": "draft"},
		Status:     store.HITLStatusPending,
		CreatedAt:  time.Now().UTC(),
		ExpiresAt:  time.Now().UTC().Add(time.Hour),
	}
	if err := stores.HITL.CreateQueueItem(ctx, item); err != nil {
		t.Fatal(err)
	}

	won, err := stores.HITL.ResolveQueueItem(ctx, item.ID, store.HITLStatusApproved)
	if err != nil || !won {
		t.Fatalf("first resolve: %v %v", won, err)
	}
	won, err = stores.HITL.ResolveQueueItem(ctx, item.ID, store.HITLStatusRejected)
	if err != nil {
		t.Fatal(err)
	}
	if won {
		t.Error("second resolve must lose")
	}

	got, err := stores.HITL.GetQueueItem(ctx, item.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != store.HITLStatusApproved {
		t.Errorf("status = %q", got.Status)
	}
	if got.Content["summary"] != "draft" {
		t.Errorf("content = %v", got.Content)
	}
}

func TestGetExpiredOnlyPending(t *testing.T) {
	stores := openTestStores(t)
	org, node := seedOrgAndNode(t, stores)
	ctx := context.Background()
	now := time.Now().UTC()

	task := &store.TaskData{OrgID: org.ID, AssignedNodeID: &node.ID, Title: "T"}
	if err := stores.Tasks.CreateTask(ctx, task); err != nil {
		t.Fatal(err)
	}

	mk := func(expires time.Time, status string) *store.HITLQueueItemData {
		item := &store.HITLQueueItemData{
			OrgID: org.ID, NodeID: node.ID, TaskID: task.ID,
			ReviewType: store.ReviewTaskReceived,
			Status:     status,
			CreatedAt:  now.Add(-2 * time.Hour),
			ExpiresAt:  expires,
		}
		if err := stores.HITL.CreateQueueItem(ctx, item); err != nil {
			t.Fatal(err)
		}
		return item
	}

	expired := mk(now.Add(-time.Minute), store.HITLStatusPending)
	mk(now.Add(time.Hour), store.HITLStatusPending)
	mk(now.Add(-time.Minute), store.HITLStatusApproved)

	got, err := stores.HITL.GetExpired(ctx, now)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != expired.ID {
		t.Errorf("expired = %+v, want only the pending past-deadline item", got)
	}
}

func TestNodeEmailLookup(t *testing.T) {
	stores := openTestStores(t)
	org, node := seedOrgAndNode(t, stores)
	ctx := context.Background()

	other := &store.NodeData{
		OrgID: org.ID, ParentNodeID: &node.ID,
		RoleName: "Analyst", RoleType: store.RoleAnalyst,
		Human: store.HumanMirror{Email: "analyst@acme.test"},
	}
	if err := stores.Nodes.CreateNode(ctx, other); err != nil {
		t.Fatal(err)
	}

	nodes, err := stores.Nodes.GetNodesByEmail(ctx, "ceo@acme.test")
	if err != nil {
		t.Fatal(err)
	}
	if len(nodes) != 1 || nodes[0].ID != node.ID {
		t.Errorf("lookup = %+v", nodes)
	}

	root, err := stores.Nodes.GetRootNode(ctx, org.ID)
	if err != nil {
		t.Fatal(err)
	}
	if root.ID != node.ID {
		t.Errorf("root = %s, want %s", root.ID, node.ID)
	}
}

func TestEventLogAppendAndList(t *testing.T) {
	stores := openTestStores(t)
	org, node := seedOrgAndNode(t, stores)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := stores.Events.AppendEvent(ctx, &store.EventLogData{
			OrgID:        org.ID,
			EventType:    "TASK_SUBMITTED",
			SourceNodeID: &node.ID,
			Payload:      map[string]any{"n": i},
			CreatedAt:    time.Now().UTC(),
		}); err != nil {
			t.Fatal(err)
		}
	}

	logs, err := stores.Events.GetEventLogs(ctx, org.ID, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) != 2 {
		t.Errorf("logs = %d, want limit applied", len(logs))
	}
}
