// Package gemini implements agentadapter.Executor against Google's
// Gemini API, a third hosted backend available via llm.provider: gemini
// (§12.4).
package gemini

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"researchflow/pkg/agentadapter"
	"researchflow/pkg/agents"
	"researchflow/pkg/config"
	"researchflow/pkg/tokencount"
)

// Executor calls Gemini's GenerateContent once per Execute and decodes
// the reply as a single JSON object. The genai client is created lazily
// on first use, mirroring how the rest of the pack defers SDK client
// construction until a request actually needs it.
type Executor struct {
	apiKey string
	model  string
	client *genai.Client
}

// New builds an Executor from a resolved API key and model name. An
// empty model falls back to the configured default Gemini model.
func New(apiKey, model string) *Executor {
	if model == "" {
		model = config.ModelGemini25Pro
	}
	return &Executor{apiKey: apiKey, model: model}
}

func (e *Executor) ensureClient(ctx context.Context) error {
	if e.client != nil {
		return nil
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  e.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return fmt.Errorf("create gemini client: %w", err)
	}
	e.client = client
	return nil
}

// Execute implements agentadapter.Executor.
func (e *Executor) Execute(ctx context.Context, task agentadapter.Task, input map[string]any) (map[string]any, error) {
	if err := e.ensureClient(ctx); err != nil {
		return nil, err
	}

	userPrompt, err := agents.UserPrompt(input)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", task, err)
	}

	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(agents.SystemPrompt(task), genai.RoleUser),
	}

	result, err := e.client.Models.GenerateContent(ctx, e.model,
		[]*genai.Content{genai.NewContentFromText(userPrompt, genai.RoleUser)}, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini generatecontent for %s: %w", task, err)
	}

	text := result.Text()
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
