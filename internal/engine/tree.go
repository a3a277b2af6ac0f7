package engine

import (
	"context"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/aiorg/internal/store"
)

// TaskTree is the recursive view of a task, its responses, and the
// delegation subtree beneath it.
type TaskTree struct {
	Task      store.TaskData       `json:"task"`
	NodeLabel string               `json:"node_label,omitempty"`
	Responses []store.ResponseData `json:"responses,omitempty"`
	Subtasks  []*TaskTree          `json:"subtasks,omitempty"`
}

// Tree builds the full task tree rooted at taskID, ordered by subtask
// creation.
func (e *Engine) Tree(ctx context.Context, taskID uuid.UUID) (*TaskTree, error) {
	task, err := e.stores.Tasks.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	tree := &TaskTree{Task: *task}
	if task.AssignedNodeID != nil {
		if node, err := e.stores.Nodes.GetNode(ctx, *task.AssignedNodeID); err == nil {
			tree.NodeLabel = node.RoleName
		}
	}
	if responses, err := e.stores.Responses.GetTaskResponses(ctx, taskID); err == nil {
		tree.Responses = responses
	}

	subtasks, err := e.stores.Tasks.GetSubtasks(ctx, taskID)
	if err != nil {
		return nil, err
	}
	for _, st := range subtasks {
		child, err := e.Tree(ctx, st.ID)
		if err != nil {
			return nil, err
		}
		tree.Subtasks = append(tree.Subtasks, child)
	}
	return tree, nil
}
