package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/aiorg/internal/hitl"
	"github.com/nextlevelbuilder/aiorg/internal/prompts"
	"github.com/nextlevelbuilder/aiorg/internal/providers"
	"github.com/nextlevelbuilder/aiorg/internal/store"
	"github.com/nextlevelbuilder/aiorg/pkg/protocol"
)

// process advances one task through whatever transition its current status
// calls for. The per-task lock makes the whole step atomic with respect to
// other workers and the HITL resume path.
func (e *Engine) process(ctx context.Context, taskID uuid.UUID) {
	lock := e.taskLock(taskID)
	lock.Lock()
	defer lock.Unlock()

	task, err := e.stores.Tasks.GetTask(ctx, taskID)
	if err != nil {
		e.logger.Error("process: task load failed", "task_id", taskID, "error", err)
		return
	}

	switch task.Status {
	case store.TaskStatusPending:
		e.processPending(ctx, task)
	case store.TaskStatusInProgress:
		e.runInProgress(ctx, task)
	case store.TaskStatusDelegated:
		// Crash window between delegated and waiting: the children exist,
		// finish the handoff.
		e.startWaiting(ctx, task)
	case store.TaskStatusWaiting:
		if task.ExpectedResponses > 0 && task.ReceivedResponses == task.ExpectedResponses {
			e.aggregate(ctx, task)
		}
	default:
		// Terminal, nothing to do.
	}
}

// processPending checks the admission guards and either suspends at the
// task_received gate or admits the task.
func (e *Engine) processPending(ctx context.Context, task *store.TaskData) {
	orgData, err := e.stores.Orgs.GetOrg(ctx, task.OrgID)
	if err != nil {
		e.fail(ctx, task, fmt.Sprintf("org lookup failed: %v", err))
		return
	}
	if orgData.Status != store.OrgStatusActive {
		e.logger.Warn("admission refused: org not active", "task_id", task.ID, "org_status", orgData.Status)
		return // stays pending
	}

	node, err := e.nodeFor(ctx, task)
	if err != nil {
		e.fail(ctx, task, err.Error())
		return
	}
	if node.Status != store.NodeStatusActive {
		e.logger.Warn("admission refused: node paused", "task_id", task.ID, "node_id", node.ID)
		return // stays pending
	}

	if e.hitl != nil && isRoot(task) && hitlGateRequired(node, store.ReviewTaskReceived, task) {
		won, err := e.stores.Tasks.UpdateTaskStatus(ctx, task.ID, store.TaskStatusPending, store.TaskStatusWaiting, nil)
		if err != nil {
			e.fail(ctx, task, fmt.Sprintf("suspend for review: %v", err))
			return
		}
		if !won {
			return
		}
		task.Status = store.TaskStatusWaiting
		if _, err := e.hitl.QueueForReview(ctx, node, task, store.ReviewTaskReceived, map[string]any{
			"title":       task.Title,
			"description": task.Description,
		}); err != nil {
			e.fail(ctx, task, fmt.Sprintf("queue for review: %v", err))
		}
		return
	}

	if !e.admit(ctx, task, node) {
		return
	}
	e.runWithNode(ctx, task, node)
}

func (e *Engine) admit(ctx context.Context, task *store.TaskData, node *store.NodeData) bool {
	now := time.Now().UTC()
	won, err := e.stores.Tasks.UpdateTaskStatus(ctx, task.ID, task.Status, store.TaskStatusInProgress, map[string]any{
		"started_at": now,
	})
	if err != nil {
		e.fail(ctx, task, fmt.Sprintf("admit: %v", err))
		return false
	}
	if !won {
		return false
	}
	task.Status = store.TaskStatusInProgress
	task.StartedAt = &now

	e.emitter.Emit(ctx, task.OrgID, protocol.EventTaskProcessing, &task.ID, &node.ID, nil, nil)
	return true
}

func (e *Engine) runInProgress(ctx context.Context, task *store.TaskData) {
	node, err := e.nodeFor(ctx, task)
	if err != nil {
		e.fail(ctx, task, err.Error())
		return
	}
	e.runWithNode(ctx, task, node)
}

// runWithNode performs the analyze phase: decide between delegation and
// direct execution. LLM failures degrade to the default plan; they never
// fail the task.
func (e *Engine) runWithNode(ctx context.Context, task *store.TaskData, node *store.NodeData) {
	children, err := e.stores.Nodes.GetChildNodes(ctx, node.ID)
	if err != nil {
		e.fail(ctx, task, fmt.Sprintf("child nodes: %v", err))
		return
	}

	if len(children) == 0 {
		e.executeDirect(ctx, task, node, nil)
		return
	}

	subs := make([]prompts.Subordinate, len(children))
	for i, c := range children {
		subs[i] = prompts.Subordinate{
			NodeID:      c.ID.String(),
			RoleName:    c.RoleName,
			RoleType:    c.RoleType,
			Description: c.Description,
		}
	}

	var analysis *prompts.Analysis
	prompt, system := prompts.Analyze(task, node, subs)
	raw, err := e.generate(ctx, prompt, system)
	if err != nil {
		e.logger.Warn("analyze degraded to default plan", "task_id", task.ID, "error", err)
		analysis = &prompts.Analysis{
			NeedsDelegation: true,
			DelegationPlan:  defaultPlan(task, children),
			Raw:             map[string]any{"degraded": true, "error": err.Error()},
		}
	} else {
		analysis = prompts.ParseAnalysis(raw, true)
	}

	if !analysis.NeedsDelegation {
		e.executeDirect(ctx, task, node, analysis.DirectResponse)
		return
	}

	plan := validatePlan(analysis.DelegationPlan, node, children)
	if len(plan.Subtasks) == 0 {
		// Every planned subtask was filtered out (self-assignment, etc).
		e.executeDirect(ctx, task, node, analysis.DirectResponse)
		return
	}

	if e.hitl != nil && hitlGateRequired(node, store.ReviewDelegation, task) {
		if _, err := e.hitl.QueueForReview(ctx, node, task, store.ReviewDelegation, plan.ToMap()); err != nil {
			e.fail(ctx, task, fmt.Sprintf("queue delegation review: %v", err))
		}
		return // suspended in in_progress; resume delegates or falls back
	}

	e.doDelegate(ctx, task, node, plan)
}

// defaultPlan fans the task out to every direct child in parallel. Used
// when the LLM is unavailable.
func defaultPlan(task *store.TaskData, children []store.NodeData) *prompts.DelegationPlan {
	plan := &prompts.DelegationPlan{Strategy: store.StrategyParallel}
	for _, c := range children {
		plan.Subtasks = append(plan.Subtasks, prompts.PlannedSubtask{
			Title:       task.Title,
			Description: task.Description,
			AssignedTo:  c.ID.String(),
			Priority:    task.Priority,
		})
	}
	return plan
}

// validatePlan enforces the assignment rules: unknown assignees remap to
// the first direct child, self-assignments are dropped.
func validatePlan(plan *prompts.DelegationPlan, node *store.NodeData, children []store.NodeData) *prompts.DelegationPlan {
	valid := make(map[string]bool, len(children))
	for _, c := range children {
		valid[c.ID.String()] = true
	}
	fallback := children[0].ID.String()

	out := &prompts.DelegationPlan{
		Strategy:            plan.Strategy,
		SummaryInstructions: plan.SummaryInstructions,
	}
	for _, st := range plan.Subtasks {
		if st.AssignedTo == node.ID.String() {
			continue // self-delegation would recurse forever
		}
		if !valid[st.AssignedTo] {
			st.AssignedTo = fallback
		}
		out.Subtasks = append(out.Subtasks, st)
	}
	return out
}

// doDelegate persists the plan, creates the child tasks, and moves the
// parent to waiting. Children are created before expected_responses is set
// so a crash between the two resumes cleanly.
func (e *Engine) doDelegate(ctx context.Context, task *store.TaskData, node *store.NodeData, plan *prompts.DelegationPlan) {
	existing, err := e.stores.Tasks.GetSubtasks(ctx, task.ID)
	if err != nil {
		e.fail(ctx, task, fmt.Sprintf("subtask check: %v", err))
		return
	}
	if len(existing) > 0 {
		// An earlier delegation of this task already created its batch
		// (crash mid-handoff, or a duplicate review decision). Never
		// create a second batch; finish the handoff for the one that
		// exists.
		e.logger.Warn("delegation batch already exists, resuming handoff",
			"task_id", task.ID, "subtasks", len(existing))
		strategy := task.DelegationStrategy
		if strategy == "" {
			strategy = plan.Strategy
		}
		e.markDelegated(ctx, task, node, strategy, len(existing))
		return
	}

	if err := e.stores.Responses.CreateResponse(ctx, &store.ResponseData{
		ID:           store.GenNewID(),
		TaskID:       task.ID,
		NodeID:       node.ID,
		ResponseType: store.ResponseDelegationPlan,
		Content:      plan.ToMap(),
		Summary:      fmt.Sprintf("Delegated %d subtasks (%s)", len(plan.Subtasks), plan.Strategy),
		CreatedAt:    time.Now().UTC(),
	}); err != nil {
		e.fail(ctx, task, fmt.Sprintf("persist delegation plan: %v", err))
		return
	}

	var childIDs []uuid.UUID
	for _, st := range plan.Subtasks {
		assignee, err := uuid.Parse(st.AssignedTo)
		if err != nil {
			e.fail(ctx, task, fmt.Sprintf("invalid assignee id %q", st.AssignedTo))
			return
		}
		priority := st.Priority
		switch priority {
		case store.PriorityLow, store.PriorityMedium, store.PriorityHigh, store.PriorityUrgent:
		default:
			priority = task.Priority
		}
		now := time.Now().UTC()
		child := &store.TaskData{
			ID:             store.GenNewID(),
			OrgID:          task.OrgID,
			ParentTaskID:   &task.ID,
			AssignedNodeID: &assignee,
			Title:          st.Title,
			Description:    st.Description,
			InputData:      map[string]any{"instructions": st.Instructions},
			Status:         store.TaskStatusPending,
			Priority:       priority,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := e.stores.Tasks.CreateTask(ctx, child); err != nil {
			e.fail(ctx, task, fmt.Sprintf("create subtask: %v", err))
			return
		}
		childIDs = append(childIDs, child.ID)
	}

	e.markDelegated(ctx, task, node, plan.Strategy, len(childIDs))
}

// markDelegated performs the in_progress→delegated transition and hands off
// to startWaiting. Losing the transition means another path (a concurrent
// decision or a recovered worker) already owns the batch.
func (e *Engine) markDelegated(ctx context.Context, task *store.TaskData, node *store.NodeData, strategy string, expected int) {
	won, err := e.stores.Tasks.UpdateTaskStatus(ctx, task.ID, store.TaskStatusInProgress, store.TaskStatusDelegated, map[string]any{
		"expected_responses":  expected,
		"received_responses":  0,
		"delegation_strategy": strategy,
	})
	if err != nil {
		e.fail(ctx, task, fmt.Sprintf("mark delegated: %v", err))
		return
	}
	if !won {
		return
	}
	task.Status = store.TaskStatusDelegated
	task.ExpectedResponses = expected
	task.DelegationStrategy = strategy

	e.emitter.Emit(ctx, task.OrgID, protocol.EventTaskDelegated, &task.ID, &node.ID, nil, map[string]any{
		"subtasks": expected,
		"strategy": strategy,
	})
	e.logger.Info("task delegated", "task_id", task.ID, "subtasks", expected, "strategy", strategy)

	e.startWaiting(ctx, task)
}

// startWaiting finishes the delegated→waiting handoff and schedules the
// children per the strategy.
func (e *Engine) startWaiting(ctx context.Context, task *store.TaskData) {
	won, err := e.stores.Tasks.UpdateTaskStatus(ctx, task.ID, store.TaskStatusDelegated, store.TaskStatusWaiting, nil)
	if err != nil {
		e.fail(ctx, task, fmt.Sprintf("mark waiting: %v", err))
		return
	}
	if !won {
		return
	}

	subtasks, err := e.stores.Tasks.GetSubtasks(ctx, task.ID)
	if err != nil {
		e.logger.Error("subtask listing failed after delegation", "task_id", task.ID, "error", err)
		return
	}

	if task.DelegationStrategy == store.StrategySequential {
		for _, st := range subtasks {
			if st.Status == store.TaskStatusPending {
				e.enqueue(st.ID)
				break
			}
		}
		return
	}
	for _, st := range subtasks {
		if st.Status == store.TaskStatusPending {
			e.enqueue(st.ID)
		}
	}
}

// executeDirect runs the work at this node. A precomputed result (the
// analyze phase's direct_response) skips the second LLM call.
func (e *Engine) executeDirect(ctx context.Context, task *store.TaskData, node *store.NodeData, precomputed map[string]any) {
	content := precomputed
	if len(content) == 0 {
		prompt, system := prompts.Execute(task, node)
		raw, err := e.generate(ctx, prompt, system)
		if err != nil {
			e.logger.Warn("execute degraded", "task_id", task.ID, "error", err)
			content = map[string]any{
				"summary":  fmt.Sprintf("No AI result available for %q", task.Title),
				"degraded": true,
			}
		} else {
			content = prompts.ParseResult(raw)
		}
	}

	summary := prompts.Summary(content)
	resp := &store.ResponseData{
		ID:           store.GenNewID(),
		TaskID:       task.ID,
		NodeID:       node.ID,
		ResponseType: store.ResponseAnalysis,
		Content:      content,
		Summary:      summary,
		CreatedAt:    time.Now().UTC(),
	}
	if conf, ok := content["confidence_level"].(string); ok {
		resp.ConfidenceScore = confidenceScore(conf)
	}
	if err := e.stores.Responses.CreateResponse(ctx, resp); err != nil {
		e.fail(ctx, task, fmt.Sprintf("persist response: %v", err))
		return
	}

	if e.hitl != nil && hitlGateRequired(node, store.ReviewResponseApproval, task) {
		if _, err := e.hitl.QueueForReview(ctx, node, task, store.ReviewResponseApproval, content); err != nil {
			e.fail(ctx, task, fmt.Sprintf("queue response review: %v", err))
		}
		return // suspended; resume finalizes or fails
	}

	e.finalize(ctx, task, node, content, summary)
}

// aggregate synthesizes the children's outcomes once every child is
// terminal. LLM failure degrades to a mechanical merge of child summaries.
func (e *Engine) aggregate(ctx context.Context, task *store.TaskData) {
	node, err := e.nodeFor(ctx, task)
	if err != nil {
		e.fail(ctx, task, err.Error())
		return
	}

	subtasks, err := e.stores.Tasks.GetSubtasks(ctx, task.ID)
	if err != nil {
		e.fail(ctx, task, fmt.Sprintf("subtasks: %v", err))
		return
	}

	var results []prompts.ChildResult
	failures := 0
	for _, st := range subtasks {
		r := prompts.ChildResult{Title: st.Title}
		// assigned_node_id is SET NULL when the node was removed; keep the
		// result row without a role label.
		if st.AssignedNodeID != nil {
			if childNode, err := e.stores.Nodes.GetNode(ctx, *st.AssignedNodeID); err == nil {
				r.RoleName = childNode.RoleName
			}
		}
		if st.Status != store.TaskStatusCompleted {
			r.Failed = true
			r.Error = st.ErrorMessage
			if r.Error == "" {
				r.Error = "subtask " + st.Status
			}
			failures++
		} else {
			responses, err := e.stores.Responses.GetTaskResponses(ctx, st.ID)
			if err == nil {
				if outcome := store.OutcomeResponse(responses); outcome != nil {
					r.Summary = outcome.Summary
					r.Content = outcome.Content
				}
			}
		}
		results = append(results, r)
	}

	var content map[string]any
	prompt, system := prompts.Aggregate(task, node, results)
	raw, err := e.generate(ctx, prompt, system)
	if err != nil {
		e.logger.Warn("aggregate degraded to mechanical merge", "task_id", task.ID, "error", err)
		content = minimalSynthesis(results)
	} else {
		content = prompts.ParseResult(raw)
	}
	if failures > 0 {
		content["partial_failure"] = fmt.Sprintf("%d of %d subtasks did not complete", failures, len(subtasks))
	}

	summary := prompts.Summary(content)
	if err := e.stores.Responses.CreateResponse(ctx, &store.ResponseData{
		ID:           store.GenNewID(),
		TaskID:       task.ID,
		NodeID:       node.ID,
		ResponseType: store.ResponseSummary,
		Content:      content,
		Summary:      summary,
		CreatedAt:    time.Now().UTC(),
	}); err != nil {
		e.fail(ctx, task, fmt.Sprintf("persist summary: %v", err))
		return
	}

	if e.hitl != nil && hitlGateRequired(node, store.ReviewResponseApproval, task) {
		if _, err := e.hitl.QueueForReview(ctx, node, task, store.ReviewResponseApproval, content); err != nil {
			e.fail(ctx, task, fmt.Sprintf("queue response review: %v", err))
		}
		return
	}

	e.finalize(ctx, task, node, content, summary)
}

// minimalSynthesis merges child summaries without an LLM.
func minimalSynthesis(results []prompts.ChildResult) map[string]any {
	var parts []string
	for _, r := range results {
		if r.Failed {
			continue
		}
		if r.Summary != "" {
			parts = append(parts, r.Summary)
		}
	}
	return map[string]any{
		"summary":           strings.Join(parts, " "),
		"executive_summary": strings.Join(parts, " "),
		"degraded":          true,
	}
}

// finalize writes the outcome and propagates completion upward.
func (e *Engine) finalize(ctx context.Context, task *store.TaskData, node *store.NodeData, content map[string]any, summary string) {
	output := content
	if output == nil {
		output = map[string]any{}
	}
	if summary != "" {
		output["summary"] = summary
	}

	now := time.Now().UTC()
	won, err := e.stores.Tasks.UpdateTaskStatus(ctx, task.ID, task.Status, store.TaskStatusCompleted, map[string]any{
		"completed_at": now,
		"output_data":  output,
	})
	if err != nil {
		e.fail(ctx, task, fmt.Sprintf("complete: %v", err))
		return
	}
	if !won {
		return
	}
	task.Status = store.TaskStatusCompleted
	task.OutputData = output
	task.CompletedAt = &now
	e.releaseLocks(task.ID)

	e.emitter.Emit(ctx, task.OrgID, protocol.EventTaskCompleted, &task.ID, &node.ID, nil, map[string]any{
		"summary": summary,
	})
	e.logger.Info("task completed", "task_id", task.ID, "node_id", node.ID)

	if isRoot(task) {
		if e.notifier != nil {
			e.notifier.RootTaskCompleted(ctx, node, task)
		}
		return
	}
	e.childComplete(ctx, *task.ParentTaskID, task.ID)
}

// fail marks a task failed and still counts it toward its parent: a failed
// child is a terminal response.
func (e *Engine) fail(ctx context.Context, task *store.TaskData, msg string) {
	now := time.Now().UTC()
	won, err := e.stores.Tasks.UpdateTaskStatus(ctx, task.ID, task.Status, store.TaskStatusFailed, map[string]any{
		"completed_at":  now,
		"error_message": msg,
	})
	if err != nil {
		e.logger.Error("fail transition itself failed", "task_id", task.ID, "error", err)
		return
	}
	if !won {
		return
	}
	task.Status = store.TaskStatusFailed
	e.releaseLocks(task.ID)

	e.emitter.Emit(ctx, task.OrgID, protocol.EventTaskFailed, &task.ID, task.AssignedNodeID, nil, map[string]any{
		"error": msg,
	})
	e.logger.Warn("task failed", "task_id", task.ID, "error", msg)

	if task.ParentTaskID != nil {
		e.childComplete(ctx, *task.ParentTaskID, task.ID)
	}
}

// childComplete accounts one terminal child on the parent. The completion
// marker makes duplicate deliveries no-ops; the per-parent lock plus the
// store's bounded increment make the aggregate trigger fire exactly once.
func (e *Engine) childComplete(ctx context.Context, parentID, childID uuid.UUID) {
	lock := e.parentLock(parentID)
	lock.Lock()
	defer lock.Unlock()

	first, err := e.stores.Tasks.RecordChildCompletion(ctx, parentID, childID)
	if err != nil {
		e.logger.Error("record child completion failed", "parent", parentID, "child", childID, "error", err)
		return
	}
	if !first {
		return // duplicate delivery
	}

	parent, err := e.stores.Tasks.GetTask(ctx, parentID)
	if err != nil {
		e.logger.Error("parent load failed", "parent", parentID, "error", err)
		return
	}
	if store.TaskTerminal(parent.Status) {
		// Completion recorded but a terminal parent never reopens.
		e.logger.Info("child completed after parent terminal", "parent", parentID, "child", childID)
		e.releaseLocks(parentID)
		return
	}

	received, expected, err := e.stores.Tasks.IncrementReceived(ctx, parentID)
	if err != nil {
		if errors.Is(err, store.ErrNotPending) {
			// Dedup already gated this path; a saturated counter means the
			// books are wrong.
			e.emitter.Emit(ctx, parent.OrgID, protocol.EventInvariantViolated, &parentID, nil, nil, map[string]any{
				"detail": "received_responses saturated with completions outstanding",
			})
			e.fail(ctx, parent, "invariant violated: response counter saturated")
			return
		}
		e.logger.Error("increment received failed", "parent", parentID, "error", err)
		return
	}

	e.emitter.Emit(ctx, parent.OrgID, protocol.EventResponseRecv, &parentID, nil, nil, map[string]any{
		"child_task_id": childID.String(),
		"received":      received,
		"expected":      expected,
	})

	if received == expected {
		e.enqueue(parentID)
		return
	}

	if parent.DelegationStrategy == store.StrategySequential {
		subtasks, err := e.stores.Tasks.GetSubtasks(ctx, parentID)
		if err != nil {
			e.logger.Error("sequential advance failed", "parent", parentID, "error", err)
			return
		}
		for _, st := range subtasks {
			if st.Status == store.TaskStatusPending {
				e.enqueue(st.ID)
				break
			}
		}
	}
}

func (e *Engine) generate(ctx context.Context, prompt, system string) (string, error) {
	resp, err := e.provider.Generate(ctx, providers.GenerateRequest{
		Prompt:      prompt,
		System:      system,
		Temperature: e.opts.Temperature,
		MaxTokens:   e.opts.MaxTokens,
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

func (e *Engine) nodeFor(ctx context.Context, task *store.TaskData) (*store.NodeData, error) {
	if task.AssignedNodeID == nil {
		return nil, fmt.Errorf("task has no assigned node")
	}
	node, err := e.stores.Nodes.GetNode(ctx, *task.AssignedNodeID)
	if err != nil {
		return nil, fmt.Errorf("assigned node: %w", err)
	}
	return node, nil
}

func isRoot(task *store.TaskData) bool { return task.ParentTaskID == nil }

func hitlGateRequired(node *store.NodeData, reviewType string, task *store.TaskData) bool {
	return hitl.GateRequired(node, reviewType, isRoot(task))
}

func confidenceScore(level string) float64 {
	switch level {
	case "high":
		return 0.9
	case "medium":
		return 0.6
	case "low":
		return 0.3
	}
	return 0
}
