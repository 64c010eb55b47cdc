package tokencount

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"researchflow/pkg/config"
)

func TestCountTokensNonEmpty(t *testing.T) {
	c, err := NewCounter(config.ModelClaudeSonnet4)
	require.NoError(t, err)

	n := c.Count("the quick brown fox jumps over the lazy dog")
	assert.Greater(t, n, 0)
}

func TestWithinLimit(t *testing.T) {
	c, err := NewCounter(config.ModelClaudeSonnet4)
	require.NoError(t, err)

	assert.True(t, c.WithinLimit("short text", 1000))
	assert.False(t, c.WithinLimit(strings.Repeat("word ", 5000), 10))
}

func TestTruncateToLimit(t *testing.T) {
	c, err := NewCounter(config.ModelClaudeSonnet4)
	require.NoError(t, err)

	long := strings.Repeat("word ", 2000)
	truncated := c.TruncateToLimit(long, 50)
	assert.Less(t, len(truncated), len(long))
}

func TestCountSimpleFallback(t *testing.T) {
	n := CountSimple("hello world")
	assert.Greater(t, n, 0)
}
