// Package ollama implements agentadapter.Executor against a local Ollama
// server, selected with llm.provider: ollama. When selected it serves every
// hosted agent task, so prompts never leave the institution's network
// (§12.4).
package ollama

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/ollama/ollama/api"

	"researchflow/pkg/agentadapter"
	"researchflow/pkg/agents"
	"researchflow/pkg/config"
	"researchflow/pkg/tokencount"
)

// Executor calls a local Ollama server's chat endpoint once per Execute,
// collecting the streamed response into a single reply before decoding it
// as JSON.
type Executor struct {
	client *api.Client
	model  string
}

// New builds an Executor pointed at baseURL (e.g. http://localhost:11434).
// An empty model falls back to the configured local model name.
func New(baseURL, model string) (*Executor, error) {
	if model == "" {
		model = config.ModelOllamaLocal
	}
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse ollama base url %q: %w", baseURL, err)
	}
	return &Executor{
		client: api.NewClient(parsed, http.DefaultClient),
		model:  model,
	}, nil
}

// Execute implements agentadapter.Executor.
func (e *Executor) Execute(ctx context.Context, task agentadapter.Task, input map[string]any) (map[string]any, error) {
	userPrompt, err := agents.UserPrompt(input)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", task, err)
	}

	stream := false
	req := &api.ChatRequest{
		Model: e.model,
		Messages: []api.Message{
			{Role: "system", Content: agents.SystemPrompt(task)},
			{Role: "user", Content: userPrompt},
		},
		Stream: &stream,
	}

	var response api.ChatResponse
	err = e.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		response = resp
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ollama chat for %s: %w", task, err)
	}
	text := response.Message.Content

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
