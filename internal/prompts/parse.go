package prompts

import (
	"encoding/json"
	"strings"
	"unicode/utf8"
)

// Analysis is the parsed analyze-phase output.
type Analysis struct {
	NeedsDelegation bool            `json:"needs_delegation"`
	Reasoning       string          `json:"reasoning,omitempty"`
	DelegationPlan  *DelegationPlan `json:"delegation_plan,omitempty"`
	DirectResponse  map[string]any  `json:"direct_response,omitempty"`

	// Raw holds the full decoded object, preserved as the response content.
	Raw map[string]any `json:"-"`
}

// DelegationPlan describes how a task splits across subordinates.
type DelegationPlan struct {
	Strategy            string           `json:"strategy"` // "parallel" or "sequential"
	Subtasks            []PlannedSubtask `json:"subtasks"`
	SummaryInstructions string           `json:"summary_instructions,omitempty"`
}

// PlannedSubtask is one planned unit of delegated work.
type PlannedSubtask struct {
	Title        string `json:"title"`
	Description  string `json:"description,omitempty"`
	AssignedTo   string `json:"assigned_to"`
	Priority     string `json:"priority,omitempty"`
	Instructions string `json:"instructions,omitempty"`
}

// ParseAnalysis decodes an analyze-phase LLM response. Non-JSON output
// degrades to a text_response wrapper with delegation forced off; a node
// with no subordinates never delegates regardless of what the model said.
func ParseAnalysis(raw string, hasSubordinates bool) *Analysis {
	obj, ok := ExtractJSON(raw)
	if !ok {
		return &Analysis{
			NeedsDelegation: false,
			Raw:             map[string]any{"text_response": raw, "needs_delegation": false},
		}
	}

	a := &Analysis{Raw: obj}
	if v, ok := obj["needs_delegation"].(bool); ok {
		a.NeedsDelegation = v
	}
	if v, ok := obj["reasoning"].(string); ok {
		a.Reasoning = v
	}
	if v, ok := obj["direct_response"].(map[string]any); ok {
		a.DirectResponse = v
	}
	if planRaw, ok := obj["delegation_plan"].(map[string]any); ok {
		a.DelegationPlan = decodePlan(planRaw)
	}

	if !hasSubordinates {
		a.NeedsDelegation = false
		a.DelegationPlan = nil
	}
	// A delegation claim with no usable plan coerces to direct execution.
	if a.NeedsDelegation && (a.DelegationPlan == nil || len(a.DelegationPlan.Subtasks) == 0) {
		a.NeedsDelegation = false
	}
	return a
}

// PlanFromMap rebuilds a plan from its stored map form (a delegation_plan
// response or a HITL queue item's content).
func PlanFromMap(raw map[string]any) *DelegationPlan {
	if raw == nil {
		return nil
	}
	return decodePlan(raw)
}

// ToMap converts a plan to the map form persisted in responses and HITL
// queue items.
func (p *DelegationPlan) ToMap() map[string]any {
	subtasks := make([]any, 0, len(p.Subtasks))
	for _, st := range p.Subtasks {
		subtasks = append(subtasks, map[string]any{
			"title":        st.Title,
			"description":  st.Description,
			"assigned_to":  st.AssignedTo,
			"priority":     st.Priority,
			"instructions": st.Instructions,
		})
	}
	return map[string]any{
		"strategy":             p.Strategy,
		"subtasks":             subtasks,
		"summary_instructions": p.SummaryInstructions,
	}
}

func decodePlan(raw map[string]any) *DelegationPlan {
	plan := &DelegationPlan{Strategy: "parallel"}
	if v, ok := raw["strategy"].(string); ok && v == "sequential" {
		plan.Strategy = "sequential"
	}
	if v, ok := raw["summary_instructions"].(string); ok {
		plan.SummaryInstructions = v
	}
	subs, _ := raw["subtasks"].([]any)
	for _, s := range subs {
		m, ok := s.(map[string]any)
		if !ok {
			continue
		}
		st := PlannedSubtask{}
		if v, ok := m["title"].(string); ok {
			st.Title = v
		}
		if v, ok := m["description"].(string); ok {
			st.Description = v
		}
		if v, ok := m["assigned_to"].(string); ok {
			st.AssignedTo = v
		}
		if v, ok := m["priority"].(string); ok {
			st.Priority = v
		}
		if v, ok := m["instructions"].(string); ok {
			st.Instructions = v
		}
		if st.Title == "" {
			st.Title = "Subtask"
		}
		plan.Subtasks = append(plan.Subtasks, st)
	}
	return plan
}

// ParseResult decodes an execute- or aggregate-phase response into a
// structured map. Non-JSON output degrades to a text_response wrapper.
func ParseResult(raw string) map[string]any {
	if obj, ok := ExtractJSON(raw); ok {
		return obj
	}
	return map[string]any{"text_response": raw}
}

// Summary extracts the short summary from a parsed result, falling back to
// executive_summary and then a truncated text_response.
func Summary(content map[string]any) string {
	if v, ok := content["summary"].(string); ok && v != "" {
		return v
	}
	if v, ok := content["executive_summary"].(string); ok && v != "" {
		return v
	}
	if v, ok := content["text_response"].(string); ok && v != "" {
		if len(v) > 200 {
			cut := 200
			for cut > 0 && !utf8.RuneStart(v[cut]) {
				cut--
			}
			return v[:cut]
		}
		return v
	}
	return ""
}

// ExtractJSON pulls a single JSON object out of LLM output. It accepts a
// fenced ```json block, a bare fenced block, or a bare object embedded in
// surrounding prose.
func ExtractJSON(raw string) (map[string]any, bool) {
	s := strings.TrimSpace(raw)

	for _, fence := range []string{"```json", "```"} {
		if idx := strings.Index(s, fence); idx >= 0 {
			rest := s[idx+len(fence):]
			if end := strings.Index(rest, "```"); end >= 0 {
				if obj, ok := decodeObject(rest[:end]); ok {
					return obj, true
				}
			}
		}
	}

	// Bare object: take from the first { to the last }.
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		if obj, ok := decodeObject(s[start : end+1]); ok {
			return obj, true
		}
	}
	return nil, false
}

func decodeObject(s string) (map[string]any, bool) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(s)), &obj); err != nil {
		return nil, false
	}
	return obj, obj != nil
}
