// Package prompts builds role-conditioned prompt strings for the three
// orchestration phases: analyze (delegate-or-execute decision), execute
// (direct work at a node), and aggregate (synthesis of child responses).
// Builders are pure functions of node + task + neighbors.
package prompts

import (
	"fmt"
	"strings"

	"github.com/nextlevelbuilder/aiorg/internal/store"
)

// Subordinate is the neighbor view the analyze prompt exposes: enough to
// pick an assignee, nothing more.
type Subordinate struct {
	NodeID      string
	RoleName    string
	RoleType    string
	Description string
}

// SystemPrompt returns the role-conditioned system string shared by all
// three phases.
func SystemPrompt(node *store.NodeData) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("You are %s, %s in an AI organization.\n", node.RoleName, roleDescription(node.RoleType)))
	if node.Description != "" {
		sb.WriteString("\n## Your Role\n")
		sb.WriteString(node.Description + "\n")
	}
	sb.WriteString("\nAlways respond with a single JSON object, either inside a fenced ```json block or as a bare object. Do not include any text outside the JSON.\n")
	return sb.String()
}

func roleDescription(roleType string) string {
	switch roleType {
	case store.RoleExecutive:
		return "an executive responsible for high-level direction and final synthesis"
	case store.RoleManager:
		return "a manager who breaks work down and coordinates a team"
	case store.RoleAnalyst:
		return "an analyst who performs detailed hands-on work"
	case store.RoleCoordinator:
		return "a coordinator who routes work and tracks progress"
	default:
		return "a team member"
	}
}

// Analyze builds the delegate-or-execute decision prompt. The subordinate
// list is the complete set of valid assignees; the model is told so.
func Analyze(task *store.TaskData, node *store.NodeData, subs []Subordinate) (prompt, system string) {
	var sb strings.Builder
	sb.WriteString("# Task Analysis\n\n")
	sb.WriteString("Decide whether to handle the following task yourself or delegate it to your direct subordinates.\n\n")
	writeTask(&sb, task)

	if len(subs) > 0 {
		sb.WriteString("\n## Your Direct Subordinates\n")
		sb.WriteString("This list is complete and authoritative. Subtasks may only be assigned to ids from it.\n")
		for _, s := range subs {
			sb.WriteString(fmt.Sprintf("\n### %s (%s)\nid: %s\n", s.RoleName, s.RoleType, s.NodeID))
			if s.Description != "" {
				sb.WriteString(s.Description + "\n")
			}
		}
	} else {
		sb.WriteString("\nYou have no subordinates. You must handle this task yourself.\n")
	}

	sb.WriteString("\n## Response Format\n")
	sb.WriteString("Return JSON with these keys:\n")
	sb.WriteString("- needs_delegation: bool\n")
	sb.WriteString("- reasoning: string\n")
	sb.WriteString("- delegation_plan: { strategy: \"parallel\"|\"sequential\", subtasks: [{title, description, assigned_to, priority, instructions}], summary_instructions } (only when delegating)\n")
	sb.WriteString("- direct_response: { findings, analysis, recommendations, summary, confidence_level } (only when not delegating)\n")

	return sb.String(), SystemPrompt(node)
}

// Execute builds the direct-execution prompt.
func Execute(task *store.TaskData, node *store.NodeData) (prompt, system string) {
	var sb strings.Builder
	sb.WriteString("# Task Execution\n\n")
	sb.WriteString("Complete the following task yourself and report your results.\n\n")
	writeTask(&sb, task)

	sb.WriteString("\n## Response Format\n")
	sb.WriteString("Return JSON with these keys:\n")
	sb.WriteString("- findings: string\n")
	sb.WriteString("- analysis: string\n")
	sb.WriteString("- recommendations: string\n")
	sb.WriteString("- summary: string (one or two sentences)\n")
	sb.WriteString("- confidence_level: \"low\"|\"medium\"|\"high\"\n")

	return sb.String(), SystemPrompt(node)
}

// ChildResult is one subordinate's contribution fed into aggregation.
type ChildResult struct {
	Title    string
	RoleName string
	Summary  string
	Content  map[string]any
	Failed   bool
	Error    string
}

// Aggregate builds the synthesis prompt over completed subtask responses.
// Failed subtasks are listed so the synthesis can note the gaps.
func Aggregate(task *store.TaskData, node *store.NodeData, results []ChildResult) (prompt, system string) {
	var sb strings.Builder
	sb.WriteString("# Response Aggregation\n\n")
	sb.WriteString("Your subordinates have completed the subtasks you delegated. Synthesize their results into a single consolidated answer for the original task.\n\n")
	writeTask(&sb, task)

	sb.WriteString("\n## Subtask Results\n")
	for i, r := range results {
		sb.WriteString(fmt.Sprintf("\n### %d. %s (%s)\n", i+1, r.Title, r.RoleName))
		if r.Failed {
			sb.WriteString(fmt.Sprintf("FAILED: %s\n", r.Error))
			continue
		}
		if r.Summary != "" {
			sb.WriteString("Summary: " + r.Summary + "\n")
		}
		for _, k := range []string{"findings", "analysis", "recommendations"} {
			if v, ok := r.Content[k].(string); ok && v != "" {
				sb.WriteString(fmt.Sprintf("%s: %s\n", capitalize(k), v))
			}
		}
	}

	sb.WriteString("\n## Response Format\n")
	sb.WriteString("Return JSON with these keys:\n")
	sb.WriteString("- executive_summary: string\n")
	sb.WriteString("- key_findings: [string]\n")
	sb.WriteString("- synthesis: string\n")
	sb.WriteString("- consolidated_recommendations: [string]\n")
	sb.WriteString("- risk_assessment: string\n")
	sb.WriteString("- next_steps: [string]\n")
	sb.WriteString("- summary: string (one or two sentences)\n")

	return sb.String(), SystemPrompt(node)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func writeTask(sb *strings.Builder, task *store.TaskData) {
	sb.WriteString("## Task\n")
	sb.WriteString("Title: " + task.Title + "\n")
	if task.Description != "" {
		sb.WriteString("Description: " + task.Description + "\n")
	}
	if task.Priority != "" {
		sb.WriteString("Priority: " + task.Priority + "\n")
	}
	if instr, ok := task.InputData["instructions"].(string); ok && instr != "" {
		sb.WriteString("Instructions: " + instr + "\n")
	}
}
