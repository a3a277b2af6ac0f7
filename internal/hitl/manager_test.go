package hitl

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/aiorg/internal/events"
	"github.com/nextlevelbuilder/aiorg/internal/store"
	"github.com/nextlevelbuilder/aiorg/internal/store/memstore"
)

type testSetup struct {
	mem    *memstore.Mem
	stores *store.Stores
	mgr    *Manager
	org    *store.OrgData
}

func newSetup(t *testing.T) *testSetup {
	t.Helper()
	mem := memstore.New()
	stores := mem.Stores()
	mgr := NewManager(stores, events.NewEmitter(stores.Events, nil, nil), nil)

	org := &store.OrgData{ID: store.GenNewID(), Name: "Acme", Status: store.OrgStatusActive}
	if err := stores.Orgs.CreateOrg(context.Background(), org); err != nil {
		t.Fatal(err)
	}
	return &testSetup{mem: mem, stores: stores, mgr: mgr, org: org}
}

func (s *testSetup) node(t *testing.T, cfg store.HITLConfig, email string) *store.NodeData {
	t.Helper()
	n := &store.NodeData{
		ID:       store.GenNewID(),
		OrgID:    s.org.ID,
		RoleName: "Reviewer",
		RoleType: store.RoleManager,
		Human:    store.HumanMirror{Email: email},
		HITL:     cfg,
		Status:   store.NodeStatusActive,
	}
	if err := s.stores.Nodes.CreateNode(context.Background(), n); err != nil {
		t.Fatal(err)
	}
	return n
}

func (s *testSetup) task(t *testing.T, node *store.NodeData, title string) *store.TaskData {
	t.Helper()
	task := &store.TaskData{
		ID:             store.GenNewID(),
		OrgID:          s.org.ID,
		AssignedNodeID: &node.ID,
		Title:          title,
		Status:         store.TaskStatusWaiting,
	}
	if err := s.stores.Tasks.CreateTask(context.Background(), task); err != nil {
		t.Fatal(err)
	}
	return task
}

func TestGateRequired(t *testing.T) {
	cases := []struct {
		name       string
		cfg        store.HITLConfig
		reviewType string
		root       bool
		want       bool
	}{
		{"disabled node gates nothing", store.HITLConfig{}, store.ReviewResponseApproval, true, false},
		{"enabled only reviews root intake", store.HITLConfig{Enabled: true}, store.ReviewTaskReceived, true, true},
		{"intake gate skips subtasks", store.HITLConfig{Enabled: true}, store.ReviewTaskReceived, false, false},
		{"approval flag moves gate to response", store.HITLConfig{Enabled: true, ApprovalRequired: true}, store.ReviewTaskReceived, true, false},
		{"approval flag gates responses", store.HITLConfig{Enabled: true, ApprovalRequired: true}, store.ReviewResponseApproval, true, true},
		{"delegation flag gates plans", store.HITLConfig{Enabled: true, ReviewDelegation: true}, store.ReviewDelegation, true, true},
		{"delegation flag without enable is inert", store.HITLConfig{ReviewDelegation: true}, store.ReviewDelegation, true, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			n := &store.NodeData{HITL: tc.cfg}
			if got := GateRequired(n, tc.reviewType, tc.root); got != tc.want {
				t.Errorf("GateRequired(%+v, %s, root=%v) = %v, want %v", tc.cfg, tc.reviewType, tc.root, got, tc.want)
			}
		})
	}
}

type recordAlerter struct {
	mu    sync.Mutex
	items []uuid.UUID
}

func (r *recordAlerter) HITLPending(ctx context.Context, node *store.NodeData, task *store.TaskData, item *store.HITLQueueItemData) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, item.ID)
}

func TestQueueForReviewSetsExpiryAndAlerts(t *testing.T) {
	s := newSetup(t)
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s.mgr.SetClock(func() time.Time { return base })
	alerter := &recordAlerter{}
	s.mgr.SetAlerter(alerter)

	node := s.node(t, store.HITLConfig{Enabled: true, TimeoutHours: 6}, "ana@acme.test")
	task := s.task(t, node, "Review me")

	item, err := s.mgr.QueueForReview(context.Background(), node, task, store.ReviewTaskReceived, map[string]any{"title": task.Title})
	if err != nil {
		t.Fatal(err)
	}
	if want := base.Add(6 * time.Hour); !item.ExpiresAt.Equal(want) {
		t.Errorf("expires_at = %v, want %v", item.ExpiresAt, want)
	}
	if len(alerter.items) != 1 || alerter.items[0] != item.ID {
		t.Errorf("alerter calls = %v", alerter.items)
	}
	if got := s.mem.EventTypes(s.org.ID); len(got) != 1 || got[0] != "HITL_REQUIRED" {
		t.Errorf("events = %v", got)
	}
}

func TestQueueForReviewDefaultTimeout(t *testing.T) {
	s := newSetup(t)
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s.mgr.SetClock(func() time.Time { return base })

	node := s.node(t, store.HITLConfig{Enabled: true}, "")
	task := s.task(t, node, "No timeout configured")

	item, err := s.mgr.QueueForReview(context.Background(), node, task, store.ReviewTaskReceived, nil)
	if err != nil {
		t.Fatal(err)
	}
	if want := base.Add(defaultTimeoutHours * time.Hour); !item.ExpiresAt.Equal(want) {
		t.Errorf("expires_at = %v, want default %v", item.ExpiresAt, want)
	}
}

func TestRejectRequiresReason(t *testing.T) {
	s := newSetup(t)
	if err := s.mgr.Reject(context.Background(), store.GenNewID(), "bob", ""); err == nil {
		t.Fatal("reject without reason should fail")
	}
	if err := s.mgr.Override(context.Background(), store.GenNewID(), "bob", nil, "why"); err == nil {
		t.Fatal("override without content should fail")
	}
}

func TestDecisionResumesTask(t *testing.T) {
	s := newSetup(t)
	var got Decision
	s.mgr.SetResume(func(ctx context.Context, d Decision) error {
		got = d
		return nil
	})

	node := s.node(t, store.HITLConfig{Enabled: true, ApprovalRequired: true}, "")
	task := s.task(t, node, "Needs sign-off")
	item, err := s.mgr.QueueForReview(context.Background(), node, task, store.ReviewResponseApproval, map[string]any{"summary": "draft"})
	if err != nil {
		t.Fatal(err)
	}

	if err := s.mgr.Override(context.Background(), item.ID, "carol", map[string]any{"summary": "final"}, "tightened wording"); err != nil {
		t.Fatal(err)
	}

	if got.Status != store.HITLStatusOverridden || got.User != "carol" {
		t.Errorf("decision = %+v", got)
	}
	if got.Content["summary"] != "final" {
		t.Errorf("decision content = %v", got.Content)
	}
	if got.Item == nil || got.Item.Content["summary"] != "draft" {
		t.Error("decision must carry the original item content")
	}

	actions, _ := s.stores.HITL.ListActionsByTask(context.Background(), task.ID)
	if len(actions) != 1 || actions[0].ActionType != store.ActionOverride {
		t.Fatalf("actions = %+v", actions)
	}
	if actions[0].OriginalContent["summary"] != "draft" || actions[0].ModifiedContent["summary"] != "final" {
		t.Errorf("audit content = %+v", actions[0])
	}
}

func TestSecondDecisionLoses(t *testing.T) {
	s := newSetup(t)
	node := s.node(t, store.HITLConfig{Enabled: true}, "")
	task := s.task(t, node, "One winner")
	item, err := s.mgr.QueueForReview(context.Background(), node, task, store.ReviewTaskReceived, nil)
	if err != nil {
		t.Fatal(err)
	}

	if err := s.mgr.Approve(context.Background(), item.ID, "alice", ""); err != nil {
		t.Fatal(err)
	}
	if err := s.mgr.Reject(context.Background(), item.ID, "bob", "changed my mind"); err != ErrNotPending {
		t.Errorf("second decision err = %v, want ErrNotPending", err)
	}

	resolved, _ := s.stores.HITL.GetQueueItem(context.Background(), item.ID)
	if resolved.Status != store.HITLStatusApproved {
		t.Errorf("status = %q, first decision must stand", resolved.Status)
	}
}

func TestAddMessagePendingOnly(t *testing.T) {
	s := newSetup(t)
	node := s.node(t, store.HITLConfig{Enabled: true}, "")
	task := s.task(t, node, "Discuss")
	item, err := s.mgr.QueueForReview(context.Background(), node, task, store.ReviewTaskReceived, nil)
	if err != nil {
		t.Fatal(err)
	}

	if err := s.mgr.AddMessage(context.Background(), item.ID, "alice", "looks fine to me"); err != nil {
		t.Fatal(err)
	}
	if err := s.mgr.Approve(context.Background(), item.ID, "alice", ""); err != nil {
		t.Fatal(err)
	}
	if err := s.mgr.AddMessage(context.Background(), item.ID, "bob", "too late"); err != ErrNotPending {
		t.Errorf("message on resolved item err = %v, want ErrNotPending", err)
	}

	actions, _ := s.stores.HITL.ListActionsByTask(context.Background(), task.ID)
	messages := 0
	for _, a := range actions {
		if a.ActionType == store.ActionMessage {
			messages++
			if a.Message != "looks fine to me" {
				t.Errorf("message = %q", a.Message)
			}
		}
	}
	if messages != 1 {
		t.Errorf("message actions = %d, want 1", messages)
	}
}

func TestTimeoutWithoutAutoProceed(t *testing.T) {
	s := newSetup(t)
	var got Decision
	s.mgr.SetResume(func(ctx context.Context, d Decision) error {
		got = d
		return nil
	})
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s.mgr.SetClock(func() time.Time { return base })

	node := s.node(t, store.HITLConfig{Enabled: true, TimeoutHours: 2}, "")
	task := s.task(t, node, "Forgotten review")
	item, err := s.mgr.QueueForReview(context.Background(), node, task, store.ReviewTaskReceived, nil)
	if err != nil {
		t.Fatal(err)
	}

	// Not expired yet.
	count, err := s.mgr.CheckTimeouts(context.Background(), base.Add(time.Hour))
	if err != nil || count != 0 {
		t.Fatalf("early sweep = %d, %v", count, err)
	}

	count, err = s.mgr.CheckTimeouts(context.Background(), base.Add(3*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("processed = %d, want 1", count)
	}
	if got.Status != store.HITLStatusTimeout {
		t.Errorf("resume decision status = %q, want timeout", got.Status)
	}

	resolved, _ := s.stores.HITL.GetQueueItem(context.Background(), item.ID)
	if resolved.Status != store.HITLStatusTimeout {
		t.Errorf("item status = %q", resolved.Status)
	}
	actions, _ := s.stores.HITL.ListActionsByTask(context.Background(), task.ID)
	if len(actions) != 1 || actions[0].ActionType != store.ActionView || actions[0].UserID != "system_timeout" {
		t.Errorf("audit actions = %+v", actions)
	}
}

func TestPauseAndResumeNode(t *testing.T) {
	s := newSetup(t)
	node := s.node(t, store.HITLConfig{}, "lead@acme.test")

	if err := s.mgr.PauseNode(context.Background(), node.ID, "lead", "vacation coverage gap"); err != nil {
		t.Fatal(err)
	}
	paused, _ := s.stores.Nodes.GetNode(context.Background(), node.ID)
	if paused.Status != store.NodeStatusPaused {
		t.Errorf("status = %q, want paused", paused.Status)
	}

	if err := s.mgr.ResumeNode(context.Background(), node.ID, "lead"); err != nil {
		t.Fatal(err)
	}
	active, _ := s.stores.Nodes.GetNode(context.Background(), node.ID)
	if active.Status != store.NodeStatusActive {
		t.Errorf("status = %q, want active", active.Status)
	}

	got := s.mem.EventTypes(s.org.ID)
	if len(got) != 2 || got[0] != "NODE_PAUSED" || got[1] != "NODE_RESUMED" {
		t.Errorf("events = %v", got)
	}
}

func TestListPendingByEmail(t *testing.T) {
	s := newSetup(t)
	mine := s.node(t, store.HITLConfig{Enabled: true}, "me@acme.test")
	other := s.node(t, store.HITLConfig{Enabled: true}, "other@acme.test")

	taskA := s.task(t, mine, "Mine first")
	taskB := s.task(t, mine, "Mine second")
	taskC := s.task(t, other, "Not mine")

	for _, pair := range []struct {
		n *store.NodeData
		t *store.TaskData
	}{{mine, taskA}, {mine, taskB}, {other, taskC}} {
		if _, err := s.mgr.QueueForReview(context.Background(), pair.n, pair.t, store.ReviewTaskReceived, nil); err != nil {
			t.Fatal(err)
		}
	}

	pending, err := s.mgr.ListPending(context.Background(), "me@acme.test")
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 2 {
		t.Fatalf("pending = %d, want 2", len(pending))
	}
	if pending[0].TaskTitle != "Mine first" || pending[1].TaskTitle != "Mine second" {
		t.Errorf("titles = %q, %q (want oldest first)", pending[0].TaskTitle, pending[1].TaskTitle)
	}
	if pending[0].RoleName != "Reviewer" {
		t.Errorf("role = %q", pending[0].RoleName)
	}

	none, err := s.mgr.ListPending(context.Background(), "stranger@acme.test")
	if err != nil {
		t.Fatal(err)
	}
	if len(none) != 0 {
		t.Errorf("stranger sees %d items", len(none))
	}
}

func TestDecisionPrunesItemLock(t *testing.T) {
	s := newSetup(t)
	n := s.node(t, store.HITLConfig{Enabled: true, ApprovalRequired: true, TimeoutHours: 1}, "eve@acme.test")
	task := s.task(t, n, "Prune")

	item, err := s.mgr.QueueForReview(context.Background(), n, task, store.ReviewResponseApproval, map[string]any{"summary": "d"})
	if err != nil {
		t.Fatal(err)
	}

	if err := s.mgr.Approve(context.Background(), item.ID, "eve", ""); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if got := s.mgr.lockCount(); got != 0 {
		t.Errorf("lock entries = %d, want 0 after decision", got)
	}

	// A late decision still loses through the store's pending-only guard
	// and leaves no entry behind.
	if err := s.mgr.Reject(context.Background(), item.ID, "eve", "too late"); err != ErrNotPending {
		t.Errorf("late decision err = %v, want ErrNotPending", err)
	}
	if got := s.mgr.lockCount(); got != 0 {
		t.Errorf("lock entries = %d, want 0 after losing decision", got)
	}
}
