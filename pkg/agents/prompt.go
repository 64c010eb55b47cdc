// Package agents hosts the agentadapter.Executor implementations
// ResearchFlow ships as reference agent backends (§12.4 of the design
// doc): one real hosted-LLM SDK per provider, plus deterministic stubs
// for the non-LLM tasks (calendar, extraction, delivery) that have no
// natural hosted-model shape.
package agents

import (
	"encoding/json"
	"fmt"
	"strings"

	"researchflow/pkg/agentadapter"
)

// SystemPrompt is the instruction every hosted-LLM backend sends as its
// system turn: respond with exactly one JSON object matching task's
// documented output contract, nothing else.
func SystemPrompt(task agentadapter.Task) string {
	return fmt.Sprintf("You are the %s step of a clinical research data request workflow. "+
		"Respond with exactly one JSON object matching the documented output contract for "+
		"this task and nothing else: no prose, no markdown fence.", task)
}

// UserPrompt renders input as the user turn every hosted-LLM backend
// sends, a plain JSON encoding of the node's input slice.
func UserPrompt(input map[string]any) (string, error) {
	body, err := json.Marshal(input)
	if err != nil {
		return "", fmt.Errorf("marshal agent input: %w", err)
	}
	return string(body), nil
}

// ParseJSONObject decodes a model's raw text reply into the
// map[string]any shape agentadapter.Executor.Execute returns, tolerating
// a ```json fenced block since models routinely wrap JSON in markdown
// even when told not to.
func ParseJSONObject(text string) (map[string]any, error) {
	trimmed := stripCodeFence(text)
	var out map[string]any
	if err := json.Unmarshal([]byte(trimmed), &out); err != nil {
		return nil, fmt.Errorf("parse model output as JSON: %w", err)
	}
	return out, nil
}

func stripCodeFence(text string) string {
	t := strings.TrimSpace(text)
	if !strings.HasPrefix(t, "```") {
		return t
	}
	if idx := strings.IndexByte(t, '\n'); idx >= 0 {
		t = t[idx+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(t), "```"))
}
