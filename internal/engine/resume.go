package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/nextlevelbuilder/aiorg/internal/hitl"
	"github.com/nextlevelbuilder/aiorg/internal/prompts"
	"github.com/nextlevelbuilder/aiorg/internal/store"
	"github.com/nextlevelbuilder/aiorg/pkg/protocol"
)

// ResumeHITL continues a task suspended at a review gate. Registered as
// the HITL manager's resume path; the manager has already resolved the
// queue item and written the audit record by the time this runs.
func (e *Engine) ResumeHITL(ctx context.Context, d hitl.Decision) error {
	taskID := d.Item.TaskID
	lock := e.taskLock(taskID)
	lock.Lock()
	defer lock.Unlock()

	task, err := e.stores.Tasks.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if store.TaskTerminal(task.Status) {
		e.logger.Warn("hitl decision on terminal task ignored", "task_id", taskID, "status", task.Status)
		return nil
	}

	node, err := e.stores.Nodes.GetNode(ctx, d.Item.NodeID)
	if err != nil {
		return err
	}

	switch d.Item.ReviewType {
	case store.ReviewTaskReceived:
		return e.resumeTaskReceived(ctx, task, node, d)
	case store.ReviewDelegation:
		return e.resumeDelegationReview(ctx, task, node, d)
	case store.ReviewResponseApproval:
		return e.resumeResponseApproval(ctx, task, node, d)
	}
	return fmt.Errorf("unknown review type %q", d.Item.ReviewType)
}

func (e *Engine) resumeTaskReceived(ctx context.Context, task *store.TaskData, node *store.NodeData, d hitl.Decision) error {
	switch d.Status {
	case store.HITLStatusApproved, store.HITLStatusOverridden:
		now := time.Now().UTC()
		won, err := e.stores.Tasks.UpdateTaskStatus(ctx, task.ID, store.TaskStatusWaiting, store.TaskStatusInProgress, map[string]any{
			"started_at": now,
		})
		if err != nil {
			return err
		}
		if !won {
			return nil
		}
		e.emitter.Emit(ctx, task.OrgID, protocol.EventTaskProcessing, &task.ID, &node.ID, nil, nil)
		e.enqueue(task.ID)
		return nil
	case store.HITLStatusRejected:
		e.fail(ctx, task, "HITL rejected: "+d.Reason)
		return nil
	case store.HITLStatusTimeout:
		e.fail(ctx, task, "HITL review timed out")
		return nil
	}
	return fmt.Errorf("unexpected decision %q", d.Status)
}

func (e *Engine) resumeDelegationReview(ctx context.Context, task *store.TaskData, node *store.NodeData, d hitl.Decision) error {
	switch d.Status {
	case store.HITLStatusApproved:
		plan := prompts.PlanFromMap(d.Item.Content)
		if plan == nil || len(plan.Subtasks) == 0 {
			e.executeDirect(ctx, task, node, nil)
			return nil
		}
		e.doDelegate(ctx, task, node, plan)
		return nil
	case store.HITLStatusOverridden:
		// The substituted plan replaces the reviewed one; it still goes
		// through assignment validation.
		plan := prompts.PlanFromMap(d.Content)
		if plan == nil || len(plan.Subtasks) == 0 {
			e.executeDirect(ctx, task, node, nil)
			return nil
		}
		children, err := e.stores.Nodes.GetChildNodes(ctx, node.ID)
		if err != nil || len(children) == 0 {
			e.executeDirect(ctx, task, node, nil)
			return nil
		}
		plan = validatePlan(plan, node, children)
		if len(plan.Subtasks) == 0 {
			e.executeDirect(ctx, task, node, nil)
			return nil
		}
		e.doDelegate(ctx, task, node, plan)
		return nil
	case store.HITLStatusRejected:
		// Rejected plan falls back to direct execution at this node.
		e.executeDirect(ctx, task, node, nil)
		return nil
	case store.HITLStatusTimeout:
		e.fail(ctx, task, "HITL review timed out")
		return nil
	}
	return fmt.Errorf("unexpected decision %q", d.Status)
}

func (e *Engine) resumeResponseApproval(ctx context.Context, task *store.TaskData, node *store.NodeData, d hitl.Decision) error {
	switch d.Status {
	case store.HITLStatusApproved:
		content := d.Item.Content
		e.finalize(ctx, task, node, content, prompts.Summary(content))
		return nil
	case store.HITLStatusOverridden:
		now := time.Now().UTC()
		if err := e.stores.Responses.CreateResponse(ctx, &store.ResponseData{
			ID:                 store.GenNewID(),
			TaskID:             task.ID,
			NodeID:             node.ID,
			ResponseType:       store.ResponseHumanOverride,
			Content:            d.Content,
			Summary:            prompts.Summary(d.Content),
			IsHumanModified:    true,
			OriginalAIContent:  d.Item.Content,
			ModificationReason: d.Reason,
			ModifiedBy:         d.User,
			ModifiedAt:         &now,
			CreatedAt:          now,
		}); err != nil {
			return fmt.Errorf("append human override: %w", err)
		}
		e.finalize(ctx, task, node, d.Content, prompts.Summary(d.Content))
		return nil
	case store.HITLStatusRejected:
		e.fail(ctx, task, "HITL rejected: "+d.Reason)
		return nil
	case store.HITLStatusTimeout:
		e.fail(ctx, task, "HITL review timed out")
		return nil
	}
	return fmt.Errorf("unexpected decision %q", d.Status)
}
