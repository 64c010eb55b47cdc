// Package openai implements agentadapter.Executor against the OpenAI
// Responses API, selectable as an alternate hosted backend via
// llm.provider: openai (§12.4).
package openai

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"

	"researchflow/pkg/agentadapter"
	"researchflow/pkg/agents"
	"researchflow/pkg/config"
	"researchflow/pkg/tokencount"
)

// Executor calls the Responses API once per Execute and decodes the
// model's reply as a single JSON object.
type Executor struct {
	client openai.Client
	model  string
}

// New builds an Executor from a resolved API key and model name. An
// empty model falls back to the configured default GPT model.
func New(apiKey, model string) *Executor {
	if model == "" {
		model = config.ModelGPT5
	}
	return &Executor{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

// Execute implements agentadapter.Executor.
func (e *Executor) Execute(ctx context.Context, task agentadapter.Task, input map[string]any) (map[string]any, error) {
	userPrompt, err := agents.UserPrompt(input)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", task, err)
	}

	fullPrompt := agents.SystemPrompt(task) + "\n\n" + userPrompt

	resp, err := e.client.Responses.New(ctx, responses.ResponseNewParams{
		Model: e.model,
		Input: responses.ResponseNewParamsInputUnion{OfString: openai.String(fullPrompt)},
	})
	if err != nil {
		return nil, fmt.Errorf("openai responses.new for %s: %w", task, err)
	}

	text := resp.OutputText()
	out, err := agents.ParseJSONObject(text)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", task, err)
	}

	counter, cErr := tokencount.NewCounter(e.model)
	if cErr == nil {
		out["_prompt_tokens"] = counter.Count(fullPrompt)
		out["_completion_tokens"] = counter.Count(text)
	}
	out["_model"] = e.model
	return out, nil
}
