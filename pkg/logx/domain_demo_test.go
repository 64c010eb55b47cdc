package logx

import (
	"context"
	"os"
	"testing"
)

// Use the same contextKey type as defined in context_debug_test.go.

// TestContextAwareDebugLogging exercises the full Debug(ctx, domain, ...)
// surface end to end: domain filtering, the State/Message/Flow
// convenience wrappers, and optional file output.
func TestContextAwareDebugLogging(t *testing.T) {
	SetDebugConfig(true, false, ".")
	SetDebugDomains([]string{"requirements", "approval", "routing"})

	ctx := context.WithValue(context.Background(), agentIDKey, "requirements-agent")

	// 1. Domain-filtered debug logging.
	Debug(ctx, "requirements", "Task processing started: %s", "gather requirements")
	Debug(ctx, "approval", "Decision recorded: %s", "approved")
	Debug(ctx, "routing", "Node routing: %s -> %s", "requirements", "phenotype")

	// This should be filtered out since "unknown" isn't enabled.
	Debug(ctx, "unknown", "This should not appear")

	// 2. Convenience helper functions.
	DebugState(ctx, "requirements", "transition", "gathering -> approval_pending", "requirements submitted")
	DebugMessage(ctx, "routing", "NODE", "queued for processing")
	DebugFlow(ctx, "requirements", "extraction", "complete", "3 fields populated")

	// 3. Narrower domain filtering.
	SetDebugDomains([]string{"requirements"})
	Debug(ctx, "requirements", "This should appear (requirements domain enabled)")
	Debug(ctx, "approval", "This should NOT appear (approval domain disabled)")

	// 4. File logging, only exercised if enabled via environment.
	if os.Getenv("DEBUG_FILE") == "1" {
		DebugToFile(ctx, "requirements", "test_debug.log", "File debug test: %s", "run complete")
	}

	// Reset for other tests.
	SetDebugConfig(false, false, ".")
	SetDebugDomains(nil)
}

// TestEnvironmentVariableControlDemo documents how to use environment
// variables to control debug logging.
func TestEnvironmentVariableControlDemo(t *testing.T) {
	t.Log("=== Environment Variable Control Examples ===")
	t.Log("To enable debug logging for specific domains:")
	t.Log("  DEBUG=1 DEBUG_DOMAINS=requirements,approval go test")
	t.Log("  DEBUG=1 DEBUG_FILE=1 DEBUG_DIR=./logs go test")
	t.Log("")
	t.Log("To enable debug for all domains:")
	t.Log("  DEBUG=1 go test")
	t.Log("")
	t.Log("To enable file logging:")
	t.Log("  DEBUG=1 DEBUG_FILE=1 go test")
}
