package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/aiorg/internal/events"
	"github.com/nextlevelbuilder/aiorg/internal/hitl"
	"github.com/nextlevelbuilder/aiorg/internal/prompts"
	"github.com/nextlevelbuilder/aiorg/internal/providers"
	"github.com/nextlevelbuilder/aiorg/internal/store"
	"github.com/nextlevelbuilder/aiorg/internal/store/memstore"
)

// scriptProvider routes generate calls by prompt phase and role.
type scriptProvider struct {
	mu sync.Mutex
	fn func(req providers.GenerateRequest) (string, error)
}

func (s *scriptProvider) Name() string         { return "script" }
func (s *scriptProvider) DefaultModel() string { return "script-1" }

func (s *scriptProvider) Generate(ctx context.Context, req providers.GenerateRequest) (*providers.GenerateResponse, error) {
	s.mu.Lock()
	fn := s.fn
	s.mu.Unlock()
	out, err := fn(req)
	if err != nil {
		return nil, err
	}
	return &providers.GenerateResponse{Content: out, FinishReason: "stop"}, nil
}

type fakeNotifier struct {
	mu    sync.Mutex
	tasks []store.TaskData
}

func (f *fakeNotifier) RootTaskCompleted(ctx context.Context, node *store.NodeData, task *store.TaskData) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks = append(f.tasks, *task)
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tasks)
}

type fixture struct {
	mem      *memstore.Mem
	stores   *store.Stores
	engine   *Engine
	hitl     *hitl.Manager
	provider *scriptProvider
	notifier *fakeNotifier
	org      *store.OrgData
}

func newFixture(t *testing.T, fn func(req providers.GenerateRequest) (string, error)) *fixture {
	t.Helper()
	mem := memstore.New()
	stores := mem.Stores()
	emitter := events.NewEmitter(stores.Events, nil, nil)
	mgr := hitl.NewManager(stores, emitter, nil)
	provider := &scriptProvider{fn: fn}
	eng := New(stores, provider, emitter, mgr, Options{Workers: 4, QueueSize: 64}, nil)
	notifier := &fakeNotifier{}
	eng.SetNotifier(notifier)

	ctx, cancel := context.WithCancel(context.Background())
	if err := eng.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		cancel()
		eng.Stop()
	})

	orgData := &store.OrgData{ID: store.GenNewID(), Name: "Acme", Status: store.OrgStatusActive}
	if err := stores.Orgs.CreateOrg(context.Background(), orgData); err != nil {
		t.Fatal(err)
	}
	return &fixture{mem: mem, stores: stores, engine: eng, hitl: mgr, provider: provider, notifier: notifier, org: orgData}
}

func (f *fixture) addNode(t *testing.T, parent *uuid.UUID, roleName, roleType string, cfg store.HITLConfig) *store.NodeData {
	t.Helper()
	node := &store.NodeData{
		ID:           store.GenNewID(),
		OrgID:        f.org.ID,
		ParentNodeID: parent,
		RoleName:     roleName,
		RoleType:     roleType,
		HITL:         cfg,
		Status:       store.NodeStatusActive,
	}
	if err := f.stores.Nodes.CreateNode(context.Background(), node); err != nil {
		t.Fatal(err)
	}
	return node
}

func waitStatus(t *testing.T, f *fixture, taskID uuid.UUID, status string) *store.TaskData {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		task, err := f.stores.Tasks.GetTask(context.Background(), taskID)
		if err != nil {
			t.Fatalf("GetTask: %v", err)
		}
		if task.Status == status {
			return task
		}
		time.Sleep(5 * time.Millisecond)
	}
	task, _ := f.stores.Tasks.GetTask(context.Background(), taskID)
	t.Fatalf("task %s never reached %q (status=%q)", taskID, status, task.Status)
	return nil
}

func waitPendingItem(t *testing.T, f *fixture, nodeID uuid.UUID) *store.HITLQueueItemData {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		items, err := f.stores.HITL.GetPendingForNodes(context.Background(), []uuid.UUID{nodeID})
		if err != nil {
			t.Fatal(err)
		}
		if len(items) > 0 {
			return &items[0]
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("no HITL queue item appeared")
	return nil
}

func countEvents(f *fixture, eventType string) int {
	n := 0
	for _, e := range f.mem.EventTypes(f.org.ID) {
		if e == eventType {
			n++
		}
	}
	return n
}

func TestSingleNodeDirectExecution(t *testing.T) {
	f := newFixture(t, func(req providers.GenerateRequest) (string, error) {
		return `{"summary": "S", "findings": "F", "recommendations": "R", "confidence_level": "high"}`, nil
	})
	f.addNode(t, nil, "CEO", store.RoleExecutive, store.HITLConfig{})

	task, err := f.engine.Submit(context.Background(), SubmitRequest{
		OrgID: f.org.ID, Title: "Summarize 'X'", Priority: store.PriorityMedium,
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	done := waitStatus(t, f, task.ID, store.TaskStatusCompleted)
	if done.OutputData["summary"] != "S" {
		t.Errorf("output summary = %v", done.OutputData["summary"])
	}

	responses, _ := f.stores.Responses.GetTaskResponses(context.Background(), task.ID)
	if len(responses) != 1 || responses[0].ResponseType != store.ResponseAnalysis {
		t.Errorf("responses = %+v", responses)
	}
	if countEvents(f, "TASK_SUBMITTED") != 1 || countEvents(f, "TASK_COMPLETED") != 1 {
		t.Errorf("events = %v", f.mem.EventTypes(f.org.ID))
	}
	if f.notifier.count() != 1 {
		t.Errorf("notifier calls = %d, want 1", f.notifier.count())
	}
	if f.notifier.tasks[0].Title != "Summarize 'X'" {
		t.Errorf("notified title = %q", f.notifier.tasks[0].Title)
	}
}

func TestParallelDelegationFullSuccess(t *testing.T) {
	var n2, n3 uuid.UUID
	f := newFixture(t, func(req providers.GenerateRequest) (string, error) {
		switch {
		case strings.Contains(req.Prompt, "# Task Analysis"):
			return fmt.Sprintf(`{
				"needs_delegation": true,
				"delegation_plan": {
					"strategy": "parallel",
					"subtasks": [
						{"title": "Part A", "assigned_to": "%s"},
						{"title": "Part B", "assigned_to": "%s"}
					]
				}
			}`, n2, n3), nil
		case strings.Contains(req.Prompt, "# Response Aggregation"):
			return `{"executive_summary": "A+B"}`, nil
		case strings.Contains(req.Prompt, "Part A"):
			return `{"summary": "A"}`, nil
		default:
			return `{"summary": "B"}`, nil
		}
	})

	root := f.addNode(t, nil, "CEO", store.RoleExecutive, store.HITLConfig{})
	n2 = f.addNode(t, &root.ID, "Analyst A", store.RoleAnalyst, store.HITLConfig{}).ID
	n3 = f.addNode(t, &root.ID, "Analyst B", store.RoleAnalyst, store.HITLConfig{}).ID

	task, err := f.engine.Submit(context.Background(), SubmitRequest{OrgID: f.org.ID, Title: "Big report"})
	if err != nil {
		t.Fatal(err)
	}

	done := waitStatus(t, f, task.ID, store.TaskStatusCompleted)
	if got := done.OutputData["summary"]; got != "A+B" {
		t.Errorf("outcome summary = %v, want A+B", got)
	}
	if done.ExpectedResponses != 2 || done.ReceivedResponses != 2 {
		t.Errorf("counters = %d/%d, want 2/2", done.ReceivedResponses, done.ExpectedResponses)
	}

	subtasks, _ := f.stores.Tasks.GetSubtasks(context.Background(), task.ID)
	if len(subtasks) != 2 {
		t.Fatalf("subtasks = %d, want 2", len(subtasks))
	}

	total := 0
	for _, id := range []uuid.UUID{task.ID, subtasks[0].ID, subtasks[1].ID} {
		rs, _ := f.stores.Responses.GetTaskResponses(context.Background(), id)
		total += len(rs)
	}
	if total != 4 {
		t.Errorf("responses across tree = %d, want 4 (plan + 2 analysis + summary)", total)
	}
	if countEvents(f, "TASK_DELEGATED") != 1 {
		t.Errorf("TASK_DELEGATED count = %d", countEvents(f, "TASK_DELEGATED"))
	}
	if countEvents(f, "TASK_COMPLETED") != 3 {
		t.Errorf("TASK_COMPLETED count = %d, want 3", countEvents(f, "TASK_COMPLETED"))
	}
}

// failingResponses fails the first CreateResponse for a chosen node,
// simulating a store fault during one child's execution.
type failingResponses struct {
	store.ResponseStore
	mu     sync.Mutex
	nodeID uuid.UUID
	fired  bool
}

func (f *failingResponses) CreateResponse(ctx context.Context, resp *store.ResponseData) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.fired && resp.NodeID == f.nodeID {
		f.fired = true
		return fmt.Errorf("disk full")
	}
	return f.ResponseStore.CreateResponse(ctx, resp)
}

func TestSequentialDelegationPartialFailure(t *testing.T) {
	var n2, n3 uuid.UUID
	f := newFixture(t, func(req providers.GenerateRequest) (string, error) {
		switch {
		case strings.Contains(req.Prompt, "# Task Analysis"):
			return fmt.Sprintf(`{
				"needs_delegation": true,
				"delegation_plan": {
					"strategy": "sequential",
					"subtasks": [
						{"title": "First", "assigned_to": "%s"},
						{"title": "Second", "assigned_to": "%s"}
					]
				}
			}`, n2, n3), nil
		case strings.Contains(req.Prompt, "# Response Aggregation"):
			return `{"executive_summary": "partial"}`, nil
		default:
			return `{"summary": "only B"}`, nil
		}
	})

	root := f.addNode(t, nil, "CEO", store.RoleExecutive, store.HITLConfig{})
	n2node := f.addNode(t, &root.ID, "Analyst A", store.RoleAnalyst, store.HITLConfig{})
	n2 = n2node.ID
	n3 = f.addNode(t, &root.ID, "Analyst B", store.RoleAnalyst, store.HITLConfig{}).ID

	// First child's response write fails, so that child task fails.
	f.stores.Responses = &failingResponses{ResponseStore: f.stores.Responses, nodeID: n2}

	task, err := f.engine.Submit(context.Background(), SubmitRequest{OrgID: f.org.ID, Title: "Report"})
	if err != nil {
		t.Fatal(err)
	}

	done := waitStatus(t, f, task.ID, store.TaskStatusCompleted)
	if done.ReceivedResponses != 2 || done.ExpectedResponses != 2 {
		t.Errorf("counters = %d/%d", done.ReceivedResponses, done.ExpectedResponses)
	}
	if _, ok := done.OutputData["partial_failure"]; !ok {
		t.Error("expected partial_failure annotation on parent outcome")
	}

	subtasks, _ := f.stores.Tasks.GetSubtasks(context.Background(), task.ID)
	statuses := map[string]int{}
	for _, st := range subtasks {
		statuses[st.Status]++
	}
	if statuses[store.TaskStatusFailed] != 1 || statuses[store.TaskStatusCompleted] != 1 {
		t.Errorf("subtask statuses = %v", statuses)
	}
}

func TestResponseApprovalOverride(t *testing.T) {
	f := newFixture(t, func(req providers.GenerateRequest) (string, error) {
		return `{"summary": "AI draft"}`, nil
	})
	node := f.addNode(t, nil, "CEO", store.RoleExecutive, store.HITLConfig{
		Enabled: true, ApprovalRequired: true, TimeoutHours: 1,
	})

	task, err := f.engine.Submit(context.Background(), SubmitRequest{OrgID: f.org.ID, Title: "Draft memo"})
	if err != nil {
		t.Fatal(err)
	}

	item := waitPendingItem(t, f, node.ID)
	if item.ReviewType != store.ReviewResponseApproval {
		t.Fatalf("review type = %q", item.ReviewType)
	}

	if err := f.hitl.Override(context.Background(), item.ID, "carol", map[string]any{"summary": "HUMAN"}, "clarity"); err != nil {
		t.Fatalf("Override: %v", err)
	}

	done := waitStatus(t, f, task.ID, store.TaskStatusCompleted)
	if done.OutputData["summary"] != "HUMAN" {
		t.Errorf("outcome = %v, want HUMAN", done.OutputData["summary"])
	}

	actions, _ := f.stores.HITL.ListActionsByTask(context.Background(), task.ID)
	var override *store.HITLActionData
	for i := range actions {
		if actions[i].ActionType == store.ActionOverride {
			override = &actions[i]
		}
	}
	if override == nil {
		t.Fatal("no override action recorded")
	}
	if override.OriginalContent["summary"] != "AI draft" || override.ModifiedContent["summary"] != "HUMAN" {
		t.Errorf("action content = %+v / %+v", override.OriginalContent, override.ModifiedContent)
	}

	responses, _ := f.stores.Responses.GetTaskResponses(context.Background(), task.ID)
	outcome := store.OutcomeResponse(responses)
	if outcome == nil || outcome.ResponseType != store.ResponseHumanOverride {
		t.Errorf("outcome response = %+v", outcome)
	}
	if countEvents(f, "HITL_REQUIRED") != 1 || countEvents(f, "HITL_OVERRIDDEN") != 1 {
		t.Errorf("events = %v", f.mem.EventTypes(f.org.ID))
	}
}

func TestTimeoutAutoProceed(t *testing.T) {
	f := newFixture(t, func(req providers.GenerateRequest) (string, error) {
		return `{"summary": "candidate"}`, nil
	})
	node := f.addNode(t, nil, "CEO", store.RoleExecutive, store.HITLConfig{
		Enabled: true, ApprovalRequired: true, TimeoutHours: 1, AutoProceed: true,
	})

	task, err := f.engine.Submit(context.Background(), SubmitRequest{OrgID: f.org.ID, Title: "Slow review"})
	if err != nil {
		t.Fatal(err)
	}

	item := waitPendingItem(t, f, node.ID)

	count, err := f.hitl.CheckTimeouts(context.Background(), item.ExpiresAt.Add(time.Millisecond))
	if err != nil {
		t.Fatalf("CheckTimeouts: %v", err)
	}
	if count != 1 {
		t.Errorf("processed = %d, want 1", count)
	}

	done := waitStatus(t, f, task.ID, store.TaskStatusCompleted)
	if done.OutputData["summary"] != "candidate" {
		t.Errorf("outcome = %v, want original candidate", done.OutputData["summary"])
	}

	resolved, _ := f.stores.HITL.GetQueueItem(context.Background(), item.ID)
	if resolved.Status != store.HITLStatusApproved {
		t.Errorf("item status = %q, want approved", resolved.Status)
	}
	actions, _ := f.stores.HITL.ListActionsByTask(context.Background(), task.ID)
	found := false
	for _, a := range actions {
		if a.ActionType == store.ActionApprove && a.UserID == "system_timeout" {
			found = true
		}
	}
	if !found {
		t.Error("no system_timeout approve action recorded")
	}

	// Re-running the sweep is a no-op for the same item.
	count, err = f.hitl.CheckTimeouts(context.Background(), item.ExpiresAt.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("second sweep processed = %d, want 0", count)
	}
}

func TestRejectAtTaskReceived(t *testing.T) {
	f := newFixture(t, func(req providers.GenerateRequest) (string, error) {
		t.Error("LLM must not be called for a rejected task")
		return "", nil
	})
	node := f.addNode(t, nil, "CEO", store.RoleExecutive, store.HITLConfig{
		Enabled: true, TimeoutHours: 1,
	})

	task, err := f.engine.Submit(context.Background(), SubmitRequest{OrgID: f.org.ID, Title: "Odd request"})
	if err != nil {
		t.Fatal(err)
	}

	item := waitPendingItem(t, f, node.ID)
	if item.ReviewType != store.ReviewTaskReceived {
		t.Fatalf("review type = %q", item.ReviewType)
	}

	if err := f.hitl.Reject(context.Background(), item.ID, "dave", "out of scope"); err != nil {
		t.Fatalf("Reject: %v", err)
	}

	done := waitStatus(t, f, task.ID, store.TaskStatusFailed)
	if done.ErrorMessage != "HITL rejected: out of scope" {
		t.Errorf("error = %q", done.ErrorMessage)
	}
	responses, _ := f.stores.Responses.GetTaskResponses(context.Background(), task.ID)
	if len(responses) != 0 {
		t.Errorf("responses = %d, want 0", len(responses))
	}
}

func TestHITLSingleWinner(t *testing.T) {
	f := newFixture(t, func(req providers.GenerateRequest) (string, error) {
		return `{"summary": "x"}`, nil
	})
	node := f.addNode(t, nil, "CEO", store.RoleExecutive, store.HITLConfig{
		Enabled: true, ApprovalRequired: true, TimeoutHours: 1,
	})

	task, err := f.engine.Submit(context.Background(), SubmitRequest{OrgID: f.org.ID, Title: "Race"})
	if err != nil {
		t.Fatal(err)
	}
	item := waitPendingItem(t, f, node.ID)

	var wins, losses int32
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := f.hitl.Approve(context.Background(), item.ID, fmt.Sprintf("user%d", i), "")
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				wins++
			} else if err == hitl.ErrNotPending {
				losses++
			}
		}(i)
	}
	wg.Wait()

	if wins != 1 || losses != 7 {
		t.Errorf("wins=%d losses=%d, want 1/7", wins, losses)
	}
	waitStatus(t, f, task.ID, store.TaskStatusCompleted)
}

func TestDuplicateChildCompleteIdempotent(t *testing.T) {
	f := newFixture(t, func(req providers.GenerateRequest) (string, error) {
		return `{"summary": "x"}`, nil
	})
	ctx := context.Background()

	parentID := store.GenNewID()
	rootNode := f.addNode(t, nil, "CEO", store.RoleExecutive, store.HITLConfig{})
	parent := &store.TaskData{
		ID: parentID, OrgID: f.org.ID, AssignedNodeID: &rootNode.ID,
		Title: "parent", Status: store.TaskStatusWaiting,
		ExpectedResponses: 2, DelegationStrategy: store.StrategyParallel,
	}
	f.stores.Tasks.CreateTask(ctx, parent)

	childID := store.GenNewID()
	f.stores.Tasks.CreateTask(ctx, &store.TaskData{
		ID: childID, OrgID: f.org.ID, ParentTaskID: &parentID,
		AssignedNodeID: &rootNode.ID, Title: "child", Status: store.TaskStatusCompleted,
	})

	f.engine.childComplete(ctx, parentID, childID)
	f.engine.childComplete(ctx, parentID, childID)

	got, _ := f.stores.Tasks.GetTask(ctx, parentID)
	if got.ReceivedResponses != 1 {
		t.Errorf("received = %d, want 1 (duplicate must not double-count)", got.ReceivedResponses)
	}
}

func TestChildCompleteAfterParentTerminal(t *testing.T) {
	f := newFixture(t, func(req providers.GenerateRequest) (string, error) {
		return `{"summary": "x"}`, nil
	})
	ctx := context.Background()

	rootNode := f.addNode(t, nil, "CEO", store.RoleExecutive, store.HITLConfig{})
	parentID := store.GenNewID()
	f.stores.Tasks.CreateTask(ctx, &store.TaskData{
		ID: parentID, OrgID: f.org.ID, AssignedNodeID: &rootNode.ID,
		Title: "parent", Status: store.TaskStatusCancelled, ExpectedResponses: 1,
	})
	childID := store.GenNewID()
	f.stores.Tasks.CreateTask(ctx, &store.TaskData{
		ID: childID, OrgID: f.org.ID, ParentTaskID: &parentID,
		AssignedNodeID: &rootNode.ID, Title: "child", Status: store.TaskStatusCompleted,
	})

	f.engine.childComplete(ctx, parentID, childID)

	got, _ := f.stores.Tasks.GetTask(ctx, parentID)
	if got.Status != store.TaskStatusCancelled {
		t.Errorf("terminal parent reopened: %q", got.Status)
	}
	if got.ReceivedResponses != 0 {
		t.Errorf("received = %d, want 0", got.ReceivedResponses)
	}
}

func TestSubmitRefusedWhenOrgNotActive(t *testing.T) {
	f := newFixture(t, func(req providers.GenerateRequest) (string, error) {
		return `{}`, nil
	})
	f.addNode(t, nil, "CEO", store.RoleExecutive, store.HITLConfig{})
	f.stores.Orgs.UpdateOrg(context.Background(), f.org.ID, map[string]any{"status": store.OrgStatusPaused})

	if _, err := f.engine.Submit(context.Background(), SubmitRequest{OrgID: f.org.ID, Title: "Nope"}); err == nil {
		t.Fatal("submit to paused org should fail")
	}
}

func TestLLMFailureDegradesToDefaultPlan(t *testing.T) {
	var calls sync.Map
	f := newFixture(t, func(req providers.GenerateRequest) (string, error) {
		if strings.Contains(req.Prompt, "# Task Analysis") {
			return "", fmt.Errorf("provider down")
		}
		if strings.Contains(req.Prompt, "# Response Aggregation") {
			return "", fmt.Errorf("provider down")
		}
		calls.Store(req.Prompt, true)
		return `{"summary": "child ok"}`, nil
	})

	root := f.addNode(t, nil, "CEO", store.RoleExecutive, store.HITLConfig{})
	f.addNode(t, &root.ID, "Analyst A", store.RoleAnalyst, store.HITLConfig{})
	f.addNode(t, &root.ID, "Analyst B", store.RoleAnalyst, store.HITLConfig{})

	task, err := f.engine.Submit(context.Background(), SubmitRequest{OrgID: f.org.ID, Title: "Resilient"})
	if err != nil {
		t.Fatal(err)
	}

	// Analyze fails → default plan (one subtask per child, parallel);
	// aggregate fails → mechanical merge. The task must still complete.
	done := waitStatus(t, f, task.ID, store.TaskStatusCompleted)
	if done.ExpectedResponses != 2 {
		t.Errorf("expected_responses = %d, want 2 (default plan)", done.ExpectedResponses)
	}
	if done.OutputData["degraded"] != true {
		t.Errorf("output = %v, want degraded synthesis", done.OutputData)
	}
}

func TestAggregateToleratesRemovedAssignee(t *testing.T) {
	f := newFixture(t, func(req providers.GenerateRequest) (string, error) {
		return `{"executive_summary": "AGG"}`, nil
	})
	ctx := context.Background()

	rootNode := f.addNode(t, nil, "CEO", store.RoleExecutive, store.HITLConfig{})
	parentID := store.GenNewID()
	f.stores.Tasks.CreateTask(ctx, &store.TaskData{
		ID: parentID, OrgID: f.org.ID, AssignedNodeID: &rootNode.ID,
		Title: "parent", Status: store.TaskStatusWaiting,
		ExpectedResponses: 1, ReceivedResponses: 1,
		DelegationStrategy: store.StrategyParallel,
	})
	// The child's node was deleted after it completed, so its
	// assigned_node_id is null (ON DELETE SET NULL).
	f.stores.Tasks.CreateTask(ctx, &store.TaskData{
		ID: store.GenNewID(), OrgID: f.org.ID, ParentTaskID: &parentID,
		Title: "orphan child", Status: store.TaskStatusCompleted,
	})

	f.engine.process(ctx, parentID)

	got, _ := f.stores.Tasks.GetTask(ctx, parentID)
	if got.Status != store.TaskStatusCompleted {
		t.Fatalf("parent status = %q, want completed", got.Status)
	}
	if got.OutputData["summary"] != "AGG" {
		t.Errorf("outcome = %v, want AGG", got.OutputData["summary"])
	}
}

// failingHITLQueue rejects every queue insert, simulating a store fault at
// a review gate.
type failingHITLQueue struct {
	store.HITLStore
}

func (f *failingHITLQueue) CreateQueueItem(ctx context.Context, item *store.HITLQueueItemData) error {
	return fmt.Errorf("disk full")
}

func TestQueueFaultAtIntakeGateFailsTask(t *testing.T) {
	f := newFixture(t, func(req providers.GenerateRequest) (string, error) {
		t.Error("LLM must not be called when intake review fails")
		return "", nil
	})
	f.addNode(t, nil, "CEO", store.RoleExecutive, store.HITLConfig{Enabled: true, TimeoutHours: 1})
	f.stores.HITL = &failingHITLQueue{HITLStore: f.stores.HITL}

	task, err := f.engine.Submit(context.Background(), SubmitRequest{OrgID: f.org.ID, Title: "Gate"})
	if err != nil {
		t.Fatal(err)
	}

	// The task must land in failed, not sit in waiting with no queue item.
	done := waitStatus(t, f, task.ID, store.TaskStatusFailed)
	if !strings.Contains(done.ErrorMessage, "queue for review") {
		t.Errorf("error = %q", done.ErrorMessage)
	}
}

func TestDelegateNeverDuplicatesExistingBatch(t *testing.T) {
	f := newFixture(t, func(req providers.GenerateRequest) (string, error) {
		if strings.Contains(req.Prompt, "# Response Aggregation") {
			return `{"executive_summary": "merged"}`, nil
		}
		return `{"summary": "x"}`, nil
	})
	ctx := context.Background()

	rootNode := f.addNode(t, nil, "CEO", store.RoleExecutive, store.HITLConfig{})
	n2 := f.addNode(t, &rootNode.ID, "Analyst A", store.RoleAnalyst, store.HITLConfig{})
	n3 := f.addNode(t, &rootNode.ID, "Analyst B", store.RoleAnalyst, store.HITLConfig{})

	parentID := store.GenNewID()
	parent := &store.TaskData{
		ID: parentID, OrgID: f.org.ID, AssignedNodeID: &rootNode.ID,
		Title: "parent", Status: store.TaskStatusInProgress,
		DelegationStrategy: store.StrategyParallel,
	}
	f.stores.Tasks.CreateTask(ctx, parent)
	for i, n := range []*store.NodeData{n2, n3} {
		f.stores.Tasks.CreateTask(ctx, &store.TaskData{
			ID: store.GenNewID(), OrgID: f.org.ID, ParentTaskID: &parentID,
			AssignedNodeID: &n.ID, Title: fmt.Sprintf("part %d", i),
			Status: store.TaskStatusPending,
		})
	}

	// A second delegation decision for the same task (duplicate review
	// approval, or a re-run after a crash) must reuse the existing batch.
	plan := &prompts.DelegationPlan{
		Strategy: store.StrategyParallel,
		Subtasks: []prompts.PlannedSubtask{
			{Title: "dup A", AssignedTo: n2.ID.String()},
			{Title: "dup B", AssignedTo: n3.ID.String()},
		},
	}
	f.engine.doDelegate(ctx, parent, rootNode, plan)

	done := waitStatus(t, f, parentID, store.TaskStatusCompleted)
	if done.ExpectedResponses != 2 {
		t.Errorf("expected_responses = %d, want 2", done.ExpectedResponses)
	}

	subtasks, _ := f.stores.Tasks.GetSubtasks(ctx, parentID)
	if len(subtasks) != 2 {
		t.Fatalf("subtasks = %d, want 2 (no duplicate batch)", len(subtasks))
	}
	responses, _ := f.stores.Responses.GetTaskResponses(ctx, parentID)
	for _, r := range responses {
		if r.ResponseType == store.ResponseDelegationPlan {
			t.Error("duplicate delegation plan response recorded")
		}
	}
}

func TestTerminalTaskPrunesLockEntries(t *testing.T) {
	f := newFixture(t, func(req providers.GenerateRequest) (string, error) {
		return `{"summary": "S"}`, nil
	})
	f.addNode(t, nil, "CEO", store.RoleExecutive, store.HITLConfig{})

	task, err := f.engine.Submit(context.Background(), SubmitRequest{OrgID: f.org.ID, Title: "One shot"})
	if err != nil {
		t.Fatal(err)
	}
	waitStatus(t, f, task.ID, store.TaskStatusCompleted)

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		tasks, parents := f.engine.lockCount()
		if tasks == 0 && parents == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	tasks, parents := f.engine.lockCount()
	t.Fatalf("lock entries leaked after terminal task: tasks=%d parents=%d", tasks, parents)
}

func TestTreeView(t *testing.T) {
	var n2 uuid.UUID
	f := newFixture(t, func(req providers.GenerateRequest) (string, error) {
		switch {
		case strings.Contains(req.Prompt, "# Task Analysis"):
			return fmt.Sprintf(`{"needs_delegation": true, "delegation_plan": {"subtasks": [{"title": "Leaf", "assigned_to": "%s"}]}}`, n2), nil
		case strings.Contains(req.Prompt, "# Response Aggregation"):
			return `{"executive_summary": "done"}`, nil
		default:
			return `{"summary": "leaf done"}`, nil
		}
	})
	root := f.addNode(t, nil, "CEO", store.RoleExecutive, store.HITLConfig{})
	n2 = f.addNode(t, &root.ID, "Analyst", store.RoleAnalyst, store.HITLConfig{}).ID

	task, err := f.engine.Submit(context.Background(), SubmitRequest{OrgID: f.org.ID, Title: "Tree"})
	if err != nil {
		t.Fatal(err)
	}
	waitStatus(t, f, task.ID, store.TaskStatusCompleted)

	tree, err := f.engine.Tree(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("Tree: %v", err)
	}
	if tree.NodeLabel != "CEO" {
		t.Errorf("root label = %q", tree.NodeLabel)
	}
	if len(tree.Subtasks) != 1 || tree.Subtasks[0].NodeLabel != "Analyst" {
		t.Errorf("subtask tree = %+v", tree.Subtasks)
	}
	if len(tree.Responses) == 0 {
		t.Error("root responses missing from tree")
	}
}
