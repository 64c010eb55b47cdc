// Package anthropic implements agentadapter.Executor against the Claude
// API, the default llm.provider; when selected it serves every hosted
// agent task (§12.4).
package anthropic

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"researchflow/pkg/agentadapter"
	"researchflow/pkg/agents"
	"researchflow/pkg/config"
	"researchflow/pkg/tokencount"
)

// Executor calls the Claude Messages API once per Execute, asking the
// model to answer with a single JSON object and decoding it back into
// the output map the engine's node handlers expect.
type Executor struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

// New builds an Executor from a resolved API key and model name. Passing
// an empty model falls back to the configured default LLM model.
func New(apiKey, model string) *Executor {
	if model == "" {
		model = config.ModelClaudeSonnet4
	}
	return &Executor{
		client:    anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:     model,
		maxTokens: 4096,
	}
}

// Execute implements agentadapter.Executor.
func (e *Executor) Execute(ctx context.Context, task agentadapter.Task, input map[string]any) (map[string]any, error) {
	userPrompt, err := agents.UserPrompt(input)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", task, err)
	}

	resp, err := e.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(e.model),
		MaxTokens: e.maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: agents.SystemPrompt(task), Type: "text"},
		},
		Messages: []anthropic.MessageParam{
			{
				Role:    anthropic.MessageParamRoleUser,
				Content: []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(userPrompt)},
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic messages.new for %s: %w", task, err)
	}

	var text string
	for i := range resp.Content {
		block := &resp.Content[i]
		if block.Type == "text" {
			text += block.AsText().Text
		}
	}

	out, err := agents.ParseJSONObject(text)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", task, err)
	}

	counter, cErr := tokencount.NewCounter(e.model)
	if cErr == nil {
		out["_prompt_tokens"] = counter.Count(userPrompt)
		out["_completion_tokens"] = counter.Count(text)
	}
	out["_model"] = e.model
	return out, nil
}
