// Package memstore is an in-memory store.Stores implementation backing unit
// tests. It mirrors the SQL backends' guard semantics (status-guarded
// updates, completion dedup, bounded counters) without a database.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/aiorg/internal/store"
)

// Mem holds every table behind one mutex. Good enough for tests; the guard
// methods stay atomic the same way single SQL statements do.
type Mem struct {
	mu sync.Mutex

	orgs        map[uuid.UUID]*store.OrgData
	nodes       map[uuid.UUID]*store.NodeData
	tasks       map[uuid.UUID]*store.TaskData
	responses   []store.ResponseData
	queue       map[uuid.UUID]*store.HITLQueueItemData
	actions     []store.HITLActionData
	events      []store.EventLogData
	completions map[[2]uuid.UUID]bool

	seq int64 // creation order tiebreaker
	ord map[uuid.UUID]int64
}

func New() *Mem {
	return &Mem{
		orgs:        make(map[uuid.UUID]*store.OrgData),
		nodes:       make(map[uuid.UUID]*store.NodeData),
		tasks:       make(map[uuid.UUID]*store.TaskData),
		queue:       make(map[uuid.UUID]*store.HITLQueueItemData),
		completions: make(map[[2]uuid.UUID]bool),
		ord:         make(map[uuid.UUID]int64),
	}
}

// Stores wraps the Mem in a store.Stores, with every interface served by
// the same instance.
func (m *Mem) Stores() *store.Stores {
	return &store.Stores{
		Orgs:      m,
		Nodes:     m,
		Tasks:     m,
		Responses: m,
		HITL:      m,
		Events:    m,
	}
}

func (m *Mem) next(id uuid.UUID) {
	m.seq++
	m.ord[id] = m.seq
}

// --- OrgStore ---

func (m *Mem) CreateOrg(ctx context.Context, org *store.OrgData) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *org
	m.orgs[org.ID] = &cp
	m.next(org.ID)
	return nil
}

func (m *Mem) GetOrg(ctx context.Context, orgID uuid.UUID) (*store.OrgData, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	org, ok := m.orgs[orgID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *org
	return &cp, nil
}

func (m *Mem) UpdateOrg(ctx context.Context, orgID uuid.UUID, updates map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	org, ok := m.orgs[orgID]
	if !ok {
		return store.ErrNotFound
	}
	for k, v := range updates {
		switch k {
		case "status":
			org.Status = v.(string)
		case "name":
			org.Name = v.(string)
		case "description":
			org.Description = v.(string)
		case "config":
			org.Config, _ = v.(map[string]any)
		}
	}
	org.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *Mem) DeleteOrg(ctx context.Context, orgID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orgs[orgID]; !ok {
		return store.ErrNotFound
	}
	delete(m.orgs, orgID)
	for id, n := range m.nodes {
		if n.OrgID == orgID {
			delete(m.nodes, id)
		}
	}
	for id, t := range m.tasks {
		if t.OrgID == orgID {
			delete(m.tasks, id)
		}
	}
	return nil
}

func (m *Mem) ListOrgs(ctx context.Context) ([]store.OrgData, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.OrgData
	for _, org := range m.orgs {
		out = append(out, *org)
	}
	sort.Slice(out, func(i, j int) bool { return m.ord[out[i].ID] < m.ord[out[j].ID] })
	return out, nil
}

func (m *Mem) GetOrgStats(ctx context.Context, orgID uuid.UUID) (*store.OrgStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orgs[orgID]; !ok {
		return nil, store.ErrNotFound
	}
	stats := &store.OrgStats{OrgID: orgID, TasksByStatus: make(map[string]int)}
	for _, n := range m.nodes {
		if n.OrgID == orgID {
			stats.NodeCount++
		}
	}
	for _, t := range m.tasks {
		if t.OrgID != orgID {
			continue
		}
		stats.TasksByStatus[t.Status]++
		if t.Status == store.TaskStatusFailed && t.CompletedAt != nil {
			stats.RecentErrors = append(stats.RecentErrors, store.TaskError{
				TaskID:       t.ID,
				Title:        t.Title,
				ErrorMessage: t.ErrorMessage,
				CompletedAt:  *t.CompletedAt,
			})
		}
	}
	return stats, nil
}

// --- NodeStore ---

func (m *Mem) CreateNode(ctx context.Context, node *store.NodeData) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *node
	m.nodes[node.ID] = &cp
	m.next(node.ID)
	return nil
}

func (m *Mem) GetNode(ctx context.Context, nodeID uuid.UUID) (*store.NodeData, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nodes[nodeID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *n
	return &cp, nil
}

func (m *Mem) UpdateNode(ctx context.Context, nodeID uuid.UUID, updates map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nodes[nodeID]
	if !ok {
		return store.ErrNotFound
	}
	for k, v := range updates {
		switch k {
		case "status":
			n.Status = v.(string)
		case "role_name":
			n.RoleName = v.(string)
		case "role_type":
			n.RoleType = v.(string)
		case "description":
			n.Description = v.(string)
		case "parent_node_id":
			n.ParentNodeID, _ = v.(*uuid.UUID)
		case "current_task_id":
			n.CurrentTaskID, _ = v.(*uuid.UUID)
		}
	}
	n.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *Mem) DeleteNode(ctx context.Context, nodeID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.nodes[nodeID]; !ok {
		return store.ErrNotFound
	}
	for _, n := range m.nodes {
		if n.ParentNodeID != nil && *n.ParentNodeID == nodeID {
			return store.ErrHasChildren
		}
	}
	delete(m.nodes, nodeID)
	return nil
}

func (m *Mem) ListNodesByOrg(ctx context.Context, orgID uuid.UUID) ([]store.NodeData, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.NodeData
	for _, n := range m.nodes {
		if n.OrgID == orgID {
			out = append(out, *n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return m.ord[out[i].ID] < m.ord[out[j].ID] })
	return out, nil
}

func (m *Mem) GetRootNode(ctx context.Context, orgID uuid.UUID) (*store.NodeData, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range m.nodes {
		if n.OrgID == orgID && n.ParentNodeID == nil {
			cp := *n
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *Mem) GetChildNodes(ctx context.Context, nodeID uuid.UUID) ([]store.NodeData, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.NodeData
	for _, n := range m.nodes {
		if n.ParentNodeID != nil && *n.ParentNodeID == nodeID {
			out = append(out, *n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return m.ord[out[i].ID] < m.ord[out[j].ID] })
	return out, nil
}

func (m *Mem) GetNodesByEmail(ctx context.Context, email string) ([]store.NodeData, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.NodeData
	for _, n := range m.nodes {
		if n.Human.Email == email {
			out = append(out, *n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return m.ord[out[i].ID] < m.ord[out[j].ID] })
	return out, nil
}

// --- TaskStore ---

func (m *Mem) CreateTask(ctx context.Context, task *store.TaskData) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *task
	m.tasks[task.ID] = &cp
	m.next(task.ID)
	return nil
}

func (m *Mem) GetTask(ctx context.Context, taskID uuid.UUID) (*store.TaskData, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[taskID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *Mem) UpdateTask(ctx context.Context, taskID uuid.UUID, updates map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[taskID]
	if !ok {
		return store.ErrNotFound
	}
	applyTaskUpdates(t, updates)
	return nil
}

func (m *Mem) UpdateTaskStatus(ctx context.Context, taskID uuid.UUID, from, to string, updates map[string]any) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[taskID]
	if !ok {
		return false, store.ErrNotFound
	}
	if t.Status != from {
		return false, nil
	}
	t.Status = to
	applyTaskUpdates(t, updates)
	return true, nil
}

func applyTaskUpdates(t *store.TaskData, updates map[string]any) {
	for k, v := range updates {
		switch k {
		case "status":
			t.Status = v.(string)
		case "output_data":
			t.OutputData, _ = v.(map[string]any)
		case "error_message":
			t.ErrorMessage, _ = v.(string)
		case "started_at":
			t.StartedAt = timePtr(v)
		case "completed_at":
			t.CompletedAt = timePtr(v)
		case "expected_responses":
			t.ExpectedResponses = toInt(v)
		case "received_responses":
			t.ReceivedResponses = toInt(v)
		case "delegation_strategy":
			t.DelegationStrategy, _ = v.(string)
		case "retry_count":
			t.RetryCount = toInt(v)
		case "context":
			t.Context, _ = v.(map[string]any)
		}
	}
	t.UpdatedAt = time.Now().UTC()
}

func timePtr(v any) *time.Time {
	switch tv := v.(type) {
	case time.Time:
		return &tv
	case *time.Time:
		return tv
	}
	return nil
}

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}

func (m *Mem) GetSubtasks(ctx context.Context, taskID uuid.UUID) ([]store.TaskData, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.TaskData
	for _, t := range m.tasks {
		if t.ParentTaskID != nil && *t.ParentTaskID == taskID {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return m.ord[out[i].ID] < m.ord[out[j].ID] })
	return out, nil
}

func (m *Mem) ListActiveTasks(ctx context.Context, orgID uuid.UUID) ([]store.TaskData, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.TaskData
	for _, t := range m.tasks {
		if t.OrgID == orgID && !store.TaskTerminal(t.Status) {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return m.ord[out[i].ID] > m.ord[out[j].ID] })
	return out, nil
}

func (m *Mem) ListTasksByStatus(ctx context.Context, status string) ([]store.TaskData, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.TaskData
	for _, t := range m.tasks {
		if t.Status == status {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return m.ord[out[i].ID] < m.ord[out[j].ID] })
	return out, nil
}

func (m *Mem) RecordChildCompletion(ctx context.Context, parentTaskID, childTaskID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := [2]uuid.UUID{parentTaskID, childTaskID}
	if m.completions[key] {
		return false, nil
	}
	m.completions[key] = true
	return true, nil
}

func (m *Mem) IncrementReceived(ctx context.Context, taskID uuid.UUID) (int, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[taskID]
	if !ok {
		return 0, 0, store.ErrNotFound
	}
	if t.ReceivedResponses >= t.ExpectedResponses {
		return 0, 0, store.ErrNotPending
	}
	t.ReceivedResponses++
	t.UpdatedAt = time.Now().UTC()
	return t.ReceivedResponses, t.ExpectedResponses, nil
}

// --- ResponseStore ---

func (m *Mem) CreateResponse(ctx context.Context, resp *store.ResponseData) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, *resp)
	return nil
}

func (m *Mem) GetResponse(ctx context.Context, responseID uuid.UUID) (*store.ResponseData, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.responses {
		if m.responses[i].ID == responseID {
			cp := m.responses[i]
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *Mem) GetTaskResponses(ctx context.Context, taskID uuid.UUID) ([]store.ResponseData, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.ResponseData
	for _, r := range m.responses {
		if r.TaskID == taskID {
			out = append(out, r)
		}
	}
	return out, nil
}

// --- HITLStore ---

func (m *Mem) CreateQueueItem(ctx context.Context, item *store.HITLQueueItemData) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *item
	m.queue[item.ID] = &cp
	m.next(item.ID)
	return nil
}

func (m *Mem) GetQueueItem(ctx context.Context, itemID uuid.UUID) (*store.HITLQueueItemData, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.queue[itemID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *item
	return &cp, nil
}

func (m *Mem) ResolveQueueItem(ctx context.Context, itemID uuid.UUID, toStatus string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.queue[itemID]
	if !ok {
		return false, store.ErrNotFound
	}
	if item.Status != store.HITLStatusPending {
		return false, nil
	}
	item.Status = toStatus
	return true, nil
}

func (m *Mem) GetPendingForNodes(ctx context.Context, nodeIDs []uuid.UUID) ([]store.HITLQueueItemData, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := make(map[uuid.UUID]bool, len(nodeIDs))
	for _, id := range nodeIDs {
		want[id] = true
	}
	var out []store.HITLQueueItemData
	for _, item := range m.queue {
		if item.Status == store.HITLStatusPending && want[item.NodeID] {
			out = append(out, *item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return m.ord[out[i].ID] < m.ord[out[j].ID] })
	return out, nil
}

func (m *Mem) GetExpired(ctx context.Context, now time.Time) ([]store.HITLQueueItemData, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.HITLQueueItemData
	for _, item := range m.queue {
		if item.Status == store.HITLStatusPending && item.ExpiresAt.Before(now) {
			out = append(out, *item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return m.ord[out[i].ID] < m.ord[out[j].ID] })
	return out, nil
}

func (m *Mem) CreateAction(ctx context.Context, action *store.HITLActionData) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.actions = append(m.actions, *action)
	return nil
}

func (m *Mem) ListActionsByTask(ctx context.Context, taskID uuid.UUID) ([]store.HITLActionData, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.HITLActionData
	for _, a := range m.actions {
		if a.TaskID != nil && *a.TaskID == taskID {
			out = append(out, a)
		}
	}
	return out, nil
}

// --- EventStore ---

func (m *Mem) AppendEvent(ctx context.Context, event *store.EventLogData) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, *event)
	return nil
}

func (m *Mem) GetEventLogs(ctx context.Context, orgID uuid.UUID, limit int) ([]store.EventLogData, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.EventLogData
	for i := len(m.events) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if m.events[i].OrgID == orgID {
			out = append(out, m.events[i])
		}
	}
	return out, nil
}

// EventTypes returns the event_type labels recorded for an org, in append
// order. Test helper.
func (m *Mem) EventTypes(orgID uuid.UUID) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, e := range m.events {
		if e.OrgID == orgID {
			out = append(out, e.EventType)
		}
	}
	return out
}
