// Package tokencount provides tiktoken-based token counting utilities used
// to estimate context usage and cost before and after agent invocations.
package tokencount

import (
	"fmt"

	"github.com/tiktoken-go/tokenizer"

	"researchflow/pkg/config"
)

// Counter provides accurate token counting for different models.
type Counter struct {
	codec tokenizer.Codec
}

// NewCounter creates a token counter for the given model name. All
// supported models are approximated with GPT-4 encoding; none of
// Anthropic/OpenAI/Gemini/Ollama publish a public tiktoken-compatible
// encoder, so this is an estimate used for pre-flight budget checks, not
// an authoritative count.
func NewCounter(model string) (*Counter, error) {
	var tikModel tokenizer.Model
	switch model {
	case config.ModelOpenAIO3, config.ModelGPT5:
		tikModel = tokenizer.GPT4
	case config.ModelClaudeSonnet4, config.ModelClaudeOpus4:
		tikModel = tokenizer.GPT4
	default:
		tikModel = tokenizer.GPT4
	}

	codec, err := tokenizer.ForModel(tikModel)
	if err != nil {
		return nil, fmt.Errorf("create tokenizer codec for model %s: %w", model, err)
	}
	return &Counter{codec: codec}, nil
}

// Count returns the number of tokens in text.
func (c *Counter) Count(text string) int {
	if c.codec == nil {
		return len(text) / 4
	}
	n, err := c.codec.Count(text)
	if err != nil {
		return len(text) / 4
	}
	return n
}

// CountSimple counts tokens without requiring a Counter instance, using
// the module-wide default encoding.
func CountSimple(text string) int {
	c, err := NewCounter(config.ModelClaudeSonnet4)
	if err != nil {
		return len(text) / 4
	}
	return c.Count(text)
}

// WithinLimit reports whether text fits within limit tokens.
func (c *Counter) WithinLimit(text string, limit int) bool {
	return c.Count(text) <= limit
}

// TruncateToLimit truncates text to approximately fit within limit tokens,
// by proportional character count with a 0.9 safety margin, since token
// boundaries rarely align with byte offsets.
func (c *Counter) TruncateToLimit(text string, limit int) string {
	current := c.Count(text)
	if current <= limit {
		return text
	}
	ratio := float64(limit) / float64(current)
	charLimit := int(float64(len(text)) * ratio * 0.9)
	if charLimit >= len(text) {
		return text
	}
	return text[:charLimit] + "..."
}
