// Package hitl implements the human-in-the-loop review checkpoints: queueing
// items for a node's human mirror, recording decisions with a full audit
// trail, and sweeping expired items on a schedule.
package hitl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/aiorg/internal/events"
	"github.com/nextlevelbuilder/aiorg/internal/store"
	"github.com/nextlevelbuilder/aiorg/pkg/protocol"
)

// ErrNotPending is returned when a decision arrives for an item that has
// already been resolved. Exactly one decision wins per item.
var ErrNotPending = errors.New("queue item is not pending")

const defaultTimeoutHours = 24

// Decision is what the manager hands back to the engine when an item
// resolves: the item, the terminal status it reached, and any human
// substitution.
type Decision struct {
	Item    *store.HITLQueueItemData
	Status  string // approved, rejected, overridden, timeout
	User    string
	Reason  string
	Content map[string]any // override payload, nil otherwise
}

// ResumeFunc resumes a suspended task after a review decision. The engine
// registers one at startup.
type ResumeFunc func(ctx context.Context, d Decision) error

// Alerter notifies the node's human mirror that review is needed. Optional.
type Alerter interface {
	HITLPending(ctx context.Context, node *store.NodeData, task *store.TaskData, item *store.HITLQueueItemData)
}

// GateRequired reports whether a review checkpoint applies for a node. The
// three hitl_ flags map to checkpoints as follows: review_delegation gates
// delegation plans, approval_required gates candidate responses, and an
// enabled node with neither specific gate reviews incoming root tasks at
// the front door.
func GateRequired(node *store.NodeData, reviewType string, rootTask bool) bool {
	if !node.HITL.Enabled {
		return false
	}
	switch reviewType {
	case store.ReviewTaskReceived:
		return rootTask && !node.HITL.ApprovalRequired && !node.HITL.ReviewDelegation
	case store.ReviewDelegation:
		return node.HITL.ReviewDelegation
	case store.ReviewResponseApproval:
		return node.HITL.ApprovalRequired
	}
	return false
}

// Manager owns the review queue. All terminal transitions on a single item
// are serialized through a per-item lock on top of the store's
// status-guarded update, so exactly one decision wins.
type Manager struct {
	stores  *store.Stores
	emitter *events.Emitter
	alerter Alerter
	logger  *slog.Logger
	resume  ResumeFunc
	now     func() time.Time

	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

func NewManager(stores *store.Stores, emitter *events.Emitter, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		stores:  stores,
		emitter: emitter,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
		locks:   make(map[uuid.UUID]*sync.Mutex),
	}
}

// SetResume registers the engine's resume path. Must be called before any
// decision can arrive.
func (m *Manager) SetResume(fn ResumeFunc) { m.resume = fn }

// SetAlerter registers the notification hook for newly queued items.
func (m *Manager) SetAlerter(a Alerter) { m.alerter = a }

// SetClock overrides wall-clock reads. Test hook.
func (m *Manager) SetClock(now func() time.Time) { m.now = now }

func (m *Manager) itemLock(id uuid.UUID) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	return l
}

// releaseLock drops a resolved item's lock entry. A terminal item never
// transitions again (the store's pending-only guard is authoritative), so
// the entry would only leak.
func (m *Manager) releaseLock(id uuid.UUID) {
	m.mu.Lock()
	delete(m.locks, id)
	m.mu.Unlock()
}

// lockCount reports live lock entries. Test hook.
func (m *Manager) lockCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}

// QueueForReview creates a pending item for the node's human mirror and
// emits HITL_REQUIRED. Content carries the data under review (a delegation
// plan or a candidate response snapshot).
func (m *Manager) QueueForReview(ctx context.Context, node *store.NodeData, task *store.TaskData, reviewType string, content map[string]any) (*store.HITLQueueItemData, error) {
	hours := node.HITL.TimeoutHours
	if hours <= 0 {
		hours = defaultTimeoutHours
	}
	now := m.now()
	item := &store.HITLQueueItemData{
		ID:         store.GenNewID(),
		OrgID:      task.OrgID,
		NodeID:     node.ID,
		TaskID:     task.ID,
		ReviewType: reviewType,
		Content:    content,
		Status:     store.HITLStatusPending,
		CreatedAt:  now,
		ExpiresAt:  now.Add(time.Duration(hours) * time.Hour),
	}
	if err := m.stores.HITL.CreateQueueItem(ctx, item); err != nil {
		return nil, fmt.Errorf("queue for review: %w", err)
	}

	m.emitter.Emit(ctx, task.OrgID, protocol.EventHITLRequired, &task.ID, &node.ID, nil, map[string]any{
		"item_id":     item.ID.String(),
		"review_type": reviewType,
	})
	m.logger.Info("hitl review queued",
		"item_id", item.ID, "task_id", task.ID, "review_type", reviewType, "expires_at", item.ExpiresAt)

	if m.alerter != nil {
		m.alerter.HITLPending(ctx, node, task, item)
	}
	return item, nil
}

// Approve resolves a pending item positively and resumes the task with the
// original content untouched.
func (m *Manager) Approve(ctx context.Context, itemID uuid.UUID, user, comment string) error {
	return m.decide(ctx, itemID, store.HITLStatusApproved, store.ActionApprove, user, comment, nil)
}

// Reject resolves a pending item negatively. The engine's per-gate policy
// decides what happens to the task.
func (m *Manager) Reject(ctx context.Context, itemID uuid.UUID, user, reason string) error {
	if reason == "" {
		return fmt.Errorf("reject requires a reason")
	}
	return m.decide(ctx, itemID, store.HITLStatusRejected, store.ActionReject, user, reason, nil)
}

// Override resolves a pending item with substituted content: a replacement
// delegation plan or a replacement response.
func (m *Manager) Override(ctx context.Context, itemID uuid.UUID, user string, newContent map[string]any, reason string) error {
	if len(newContent) == 0 {
		return fmt.Errorf("override requires new content")
	}
	return m.decide(ctx, itemID, store.HITLStatusOverridden, store.ActionOverride, user, reason, newContent)
}

func (m *Manager) decide(ctx context.Context, itemID uuid.UUID, toStatus, actionType, user, reason string, newContent map[string]any) error {
	lock := m.itemLock(itemID)
	lock.Lock()
	defer lock.Unlock()

	item, err := m.stores.HITL.GetQueueItem(ctx, itemID)
	if err != nil {
		return err
	}

	won, err := m.stores.HITL.ResolveQueueItem(ctx, itemID, toStatus)
	if err != nil {
		return err
	}
	if !won {
		m.releaseLock(itemID)
		return ErrNotPending
	}
	m.releaseLock(itemID)
	item.Status = toStatus

	action := &store.HITLActionData{
		ID:         store.GenNewID(),
		OrgID:      item.OrgID,
		NodeID:     item.NodeID,
		TaskID:     &item.TaskID,
		UserID:     user,
		ActionType: actionType,
		Reason:     reason,
		CreatedAt:  m.now(),
	}
	if actionType == store.ActionOverride {
		action.OriginalContent = item.Content
		action.ModifiedContent = newContent
	}
	if err := m.stores.HITL.CreateAction(ctx, action); err != nil {
		return fmt.Errorf("write audit action: %w", err)
	}

	m.emitter.Emit(ctx, item.OrgID, eventForStatus(toStatus), &item.TaskID, &item.NodeID, nil, map[string]any{
		"item_id":     item.ID.String(),
		"review_type": item.ReviewType,
		"user":        user,
	})
	m.logger.Info("hitl decision",
		"item_id", itemID, "status", toStatus, "user", user, "review_type", item.ReviewType)

	if m.resume == nil {
		return nil
	}
	return m.resume(ctx, Decision{
		Item:    item,
		Status:  toStatus,
		User:    user,
		Reason:  reason,
		Content: newContent,
	})
}

func eventForStatus(status string) string {
	switch status {
	case store.HITLStatusApproved:
		return protocol.EventHITLApproved
	case store.HITLStatusRejected:
		return protocol.EventHITLRejected
	case store.HITLStatusOverridden:
		return protocol.EventHITLOverridden
	case store.HITLStatusTimeout:
		return protocol.EventHITLTimeout
	}
	return protocol.EventHITLApproved
}

// AddMessage appends a comment to an item's audit trail without affecting
// its flow. Allowed while the item is pending.
func (m *Manager) AddMessage(ctx context.Context, itemID uuid.UUID, user, message string) error {
	item, err := m.stores.HITL.GetQueueItem(ctx, itemID)
	if err != nil {
		return err
	}
	if item.Status != store.HITLStatusPending {
		return ErrNotPending
	}
	action := &store.HITLActionData{
		ID:         store.GenNewID(),
		OrgID:      item.OrgID,
		NodeID:     item.NodeID,
		TaskID:     &item.TaskID,
		UserID:     user,
		ActionType: store.ActionMessage,
		Message:    message,
		CreatedAt:  m.now(),
	}
	if err := m.stores.HITL.CreateAction(ctx, action); err != nil {
		return err
	}
	m.emitter.Emit(ctx, item.OrgID, protocol.EventHITLMessage, &item.TaskID, &item.NodeID, nil, map[string]any{
		"item_id": item.ID.String(),
		"user":    user,
	})
	return nil
}

// PauseNode stops a node from accepting new task assignments. In-flight
// work at the node continues.
func (m *Manager) PauseNode(ctx context.Context, nodeID uuid.UUID, user, reason string) error {
	node, err := m.stores.Nodes.GetNode(ctx, nodeID)
	if err != nil {
		return err
	}
	if err := m.stores.Nodes.UpdateNode(ctx, nodeID, map[string]any{"status": store.NodeStatusPaused}); err != nil {
		return err
	}
	if err := m.stores.HITL.CreateAction(ctx, &store.HITLActionData{
		ID:         store.GenNewID(),
		OrgID:      node.OrgID,
		NodeID:     nodeID,
		UserID:     user,
		ActionType: store.ActionPause,
		Reason:     reason,
		CreatedAt:  m.now(),
	}); err != nil {
		return err
	}
	m.emitter.Emit(ctx, node.OrgID, protocol.EventNodePaused, nil, &nodeID, nil, map[string]any{"user": user})
	return nil
}

// ResumeNode re-enables task assignment at a paused node.
func (m *Manager) ResumeNode(ctx context.Context, nodeID uuid.UUID, user string) error {
	node, err := m.stores.Nodes.GetNode(ctx, nodeID)
	if err != nil {
		return err
	}
	if err := m.stores.Nodes.UpdateNode(ctx, nodeID, map[string]any{"status": store.NodeStatusActive}); err != nil {
		return err
	}
	if err := m.stores.HITL.CreateAction(ctx, &store.HITLActionData{
		ID:         store.GenNewID(),
		OrgID:      node.OrgID,
		NodeID:     nodeID,
		UserID:     user,
		ActionType: store.ActionResume,
		CreatedAt:  m.now(),
	}); err != nil {
		return err
	}
	m.emitter.Emit(ctx, node.OrgID, protocol.EventNodeResumed, nil, &nodeID, nil, map[string]any{"user": user})
	return nil
}

// CheckTimeouts resolves expired pending items. Nodes with auto_proceed
// approve on the system's behalf; the rest land in timeout with an audit
// record. Returns the count processed. Re-running after an item was
// processed is a no-op for that item.
func (m *Manager) CheckTimeouts(ctx context.Context, now time.Time) (int, error) {
	expired, err := m.stores.HITL.GetExpired(ctx, now)
	if err != nil {
		return 0, err
	}

	processed := 0
	for _, item := range expired {
		node, err := m.stores.Nodes.GetNode(ctx, item.NodeID)
		if err != nil {
			m.logger.Warn("timeout sweep: node lookup failed", "item_id", item.ID, "error", err)
			continue
		}

		if node.HITL.AutoProceed {
			err = m.Approve(ctx, item.ID, "system_timeout", "Auto-approved on timeout")
		} else {
			err = m.decide(ctx, item.ID, store.HITLStatusTimeout, store.ActionView, "system_timeout", "review window expired", nil)
		}
		if errors.Is(err, ErrNotPending) {
			continue // lost the race to a human decision
		}
		if err != nil {
			m.logger.Error("timeout sweep failed for item", "item_id", item.ID, "error", err)
			continue
		}
		processed++
	}
	return processed, nil
}

// PendingItem is one queue entry with human-readable context.
type PendingItem struct {
	Item      store.HITLQueueItemData `json:"item"`
	RoleName  string                  `json:"role_name"`
	TaskTitle string                  `json:"task_title"`
}

// ListPending returns the pending reviews for all nodes mirrored by the
// given email, oldest first.
func (m *Manager) ListPending(ctx context.Context, email string) ([]PendingItem, error) {
	nodes, err := m.stores.Nodes.GetNodesByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, nil
	}

	ids := make([]uuid.UUID, len(nodes))
	roleByID := make(map[uuid.UUID]string, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID
		roleByID[n.ID] = n.RoleName
	}

	items, err := m.stores.HITL.GetPendingForNodes(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := make([]PendingItem, 0, len(items))
	for _, item := range items {
		pi := PendingItem{Item: item, RoleName: roleByID[item.NodeID]}
		if task, err := m.stores.Tasks.GetTask(ctx, item.TaskID); err == nil {
			pi.TaskTitle = task.Title
		}
		out = append(out, pi)
	}
	return out, nil
}
