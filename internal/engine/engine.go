// Package engine drives the task state machine: admission, the
// delegate-or-execute decision, subtask fan-out, child completion
// accounting, aggregation, and finalization. All durable state lives in the
// store; workers communicate through it, never through shared memory.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/aiorg/internal/events"
	"github.com/nextlevelbuilder/aiorg/internal/hitl"
	"github.com/nextlevelbuilder/aiorg/internal/providers"
	"github.com/nextlevelbuilder/aiorg/internal/store"
	"github.com/nextlevelbuilder/aiorg/pkg/protocol"
)

// Notifier delivers terminal results to the humans mirrored by nodes.
// Failures are the notifier's problem; the engine never blocks on it.
type Notifier interface {
	RootTaskCompleted(ctx context.Context, node *store.NodeData, task *store.TaskData)
}

// Options tune the worker pool and LLM parameters.
type Options struct {
	Workers     int
	QueueSize   int
	Temperature float64
	MaxTokens   int
}

func (o *Options) defaults() {
	if o.Workers <= 0 {
		o.Workers = 8
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 256
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = 4096
	}
}

// Engine owns the worker pool. A task is processed by at most one goroutine
// at a time: every entry path takes the per-task lock first. Parent counter
// updates additionally serialize through a per-parent lock so the
// "aggregate now" trigger fires exactly once.
type Engine struct {
	stores   *store.Stores
	provider providers.Provider
	emitter  *events.Emitter
	hitl     *hitl.Manager
	notifier Notifier
	logger   *slog.Logger
	opts     Options

	queue  chan uuid.UUID
	wg     sync.WaitGroup
	cancel context.CancelFunc

	taskMu    sync.Mutex
	taskLocks map[uuid.UUID]*sync.Mutex

	parentMu    sync.Mutex
	parentLocks map[uuid.UUID]*sync.Mutex
}

func New(stores *store.Stores, provider providers.Provider, emitter *events.Emitter, hitlMgr *hitl.Manager, opts Options, logger *slog.Logger) *Engine {
	opts.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		stores:      stores,
		provider:    provider,
		emitter:     emitter,
		hitl:        hitlMgr,
		logger:      logger,
		opts:        opts,
		queue:       make(chan uuid.UUID, opts.QueueSize),
		taskLocks:   make(map[uuid.UUID]*sync.Mutex),
		parentLocks: make(map[uuid.UUID]*sync.Mutex),
	}
	if hitlMgr != nil {
		hitlMgr.SetResume(e.ResumeHITL)
	}
	return e
}

// SetNotifier wires the outbound notifier. Optional.
func (e *Engine) SetNotifier(n Notifier) { e.notifier = n }

// Start launches the worker pool and requeues work left over from a
// previous run.
func (e *Engine) Start(ctx context.Context) error {
	ctx, e.cancel = context.WithCancel(ctx)

	for i := 0; i < e.opts.Workers; i++ {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case taskID, ok := <-e.queue:
					if !ok {
						return
					}
					e.process(ctx, taskID)
				}
			}
		}()
	}

	if err := e.recover(ctx); err != nil {
		return fmt.Errorf("startup recovery: %w", err)
	}
	e.logger.Info("engine started", "workers", e.opts.Workers)
	return nil
}

// Stop drains the workers.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
}

// recover requeues tasks a previous process left mid-flight: pending tasks
// awaiting admission, in_progress tasks whose phase must re-run, and
// waiting parents whose last child completed but whose aggregation never
// fired. Phases re-run at-least-once; responses are append-only, so a
// crash can leave a duplicate response but never a lost task.
func (e *Engine) recover(ctx context.Context) error {
	for _, status := range []string{store.TaskStatusPending, store.TaskStatusInProgress, store.TaskStatusDelegated} {
		tasks, err := e.stores.Tasks.ListTasksByStatus(ctx, status)
		if err != nil {
			return err
		}
		for _, t := range tasks {
			e.enqueue(t.ID)
		}
	}

	waiting, err := e.stores.Tasks.ListTasksByStatus(ctx, store.TaskStatusWaiting)
	if err != nil {
		return err
	}
	for _, t := range waiting {
		// expected == 0 means HITL-suspended, resumed by a decision only.
		if t.ExpectedResponses > 0 && t.ReceivedResponses == t.ExpectedResponses {
			e.enqueue(t.ID)
		}
	}
	return nil
}

func (e *Engine) enqueue(taskID uuid.UUID) {
	select {
	case e.queue <- taskID:
	default:
		// Queue full: hand off without blocking the caller. The task is
		// already persisted, so a crash here is covered by recovery.
		go func() { e.queue <- taskID }()
	}
}

func (e *Engine) taskLock(taskID uuid.UUID) *sync.Mutex {
	e.taskMu.Lock()
	defer e.taskMu.Unlock()
	l, ok := e.taskLocks[taskID]
	if !ok {
		l = &sync.Mutex{}
		e.taskLocks[taskID] = l
	}
	return l
}

func (e *Engine) parentLock(taskID uuid.UUID) *sync.Mutex {
	e.parentMu.Lock()
	defer e.parentMu.Unlock()
	l, ok := e.parentLocks[taskID]
	if !ok {
		l = &sync.Mutex{}
		e.parentLocks[taskID] = l
	}
	return l
}

// releaseLocks drops a terminal task's lock entries so the maps don't grow
// with every task ever seen. Safe because every post-terminal transition
// loses its status-guarded update regardless of lock identity.
func (e *Engine) releaseLocks(taskID uuid.UUID) {
	e.taskMu.Lock()
	delete(e.taskLocks, taskID)
	e.taskMu.Unlock()

	e.parentMu.Lock()
	delete(e.parentLocks, taskID)
	e.parentMu.Unlock()
}

// lockCount reports live lock entries. Test hook.
func (e *Engine) lockCount() (tasks, parents int) {
	e.taskMu.Lock()
	tasks = len(e.taskLocks)
	e.taskMu.Unlock()
	e.parentMu.Lock()
	parents = len(e.parentLocks)
	e.parentMu.Unlock()
	return tasks, parents
}

// SubmitRequest is an external task submission aimed at an org's root node.
type SubmitRequest struct {
	OrgID       uuid.UUID      `json:"org_id"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	InputData   map[string]any `json:"input_data,omitempty"`
	Priority    string         `json:"priority,omitempty"`
	Deadline    *time.Time     `json:"deadline,omitempty"`
	SubmittedBy string         `json:"submitted_by,omitempty"`
}

// Submit admits a new root task. The org must be active and have a root
// node. Identical submissions create independent tasks; the core never
// deduplicates.
func (e *Engine) Submit(ctx context.Context, req SubmitRequest) (*store.TaskData, error) {
	if req.Title == "" {
		return nil, fmt.Errorf("task title is required")
	}

	orgData, err := e.stores.Orgs.GetOrg(ctx, req.OrgID)
	if err != nil {
		return nil, err
	}
	if orgData.Status != store.OrgStatusActive {
		return nil, fmt.Errorf("org not accepting tasks (status=%s)", orgData.Status)
	}

	root, err := e.stores.Nodes.GetRootNode(ctx, req.OrgID)
	if err != nil {
		return nil, fmt.Errorf("org has no root node: %w", err)
	}

	priority := req.Priority
	if priority == "" {
		priority = store.PriorityMedium
	}

	now := time.Now().UTC()
	task := &store.TaskData{
		ID:             store.GenNewID(),
		OrgID:          req.OrgID,
		AssignedNodeID: &root.ID,
		Title:          req.Title,
		Description:    req.Description,
		InputData:      req.InputData,
		Context:        map[string]any{"submitted_by": req.SubmittedBy},
		Status:         store.TaskStatusPending,
		Priority:       priority,
		Deadline:       req.Deadline,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := e.stores.Tasks.CreateTask(ctx, task); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}

	e.emitter.Emit(ctx, task.OrgID, protocol.EventTaskSubmitted, &task.ID, nil, &root.ID, map[string]any{
		"title":        task.Title,
		"priority":     priority,
		"submitted_by": req.SubmittedBy,
	})
	e.logger.Info("task submitted", "task_id", task.ID, "org_id", req.OrgID, "title", req.Title)

	e.enqueue(task.ID)
	return task, nil
}

// Cancel moves a non-terminal task to cancelled. In-flight children keep
// running; the cancelled parent discards their results.
func (e *Engine) Cancel(ctx context.Context, taskID uuid.UUID, user string) error {
	lock := e.taskLock(taskID)
	lock.Lock()
	defer lock.Unlock()

	task, err := e.stores.Tasks.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if store.TaskTerminal(task.Status) {
		return fmt.Errorf("task already terminal (status=%s)", task.Status)
	}

	now := time.Now().UTC()
	won, err := e.stores.Tasks.UpdateTaskStatus(ctx, taskID, task.Status, store.TaskStatusCancelled, map[string]any{
		"completed_at":  now,
		"error_message": fmt.Sprintf("cancelled by %s", user),
	})
	if err != nil {
		return err
	}
	if !won {
		return fmt.Errorf("task state changed concurrently")
	}

	e.releaseLocks(taskID)
	e.emitter.Emit(ctx, task.OrgID, protocol.EventTaskCancelled, &taskID, nil, nil, map[string]any{"user": user})
	e.logger.Info("task cancelled", "task_id", taskID, "user", user)

	if task.ParentTaskID != nil {
		e.childComplete(ctx, *task.ParentTaskID, taskID)
	}
	return nil
}

// ActiveTasks lists an org's non-terminal tasks.
func (e *Engine) ActiveTasks(ctx context.Context, orgID uuid.UUID) ([]store.TaskData, error) {
	return e.stores.Tasks.ListActiveTasks(ctx, orgID)
}
