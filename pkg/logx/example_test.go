package logx

import (
	"fmt"
	"testing"
)

func ExampleLogger_engine_usage() {
	// Example of how the engine process might use the logger.
	fmt.Println("=== Engine Logging Demo ===")

	// Main engine logger.
	engine := NewLogger("engine")
	engine.Info("Starting engine")
	engine.Debug("Loading configuration from %s", "config.yaml")

	// Per-node loggers.
	requirements := NewLogger("requirements_agent")
	phenotype := NewLogger("phenotype_agent")
	extraction := NewLogger("extraction_agent")

	// Simulate a request moving through the workflow.
	requirements.Info("Gathering requirements for request: %s", "req-001")
	requirements.Debug("Checking completeness score")

	phenotype.Info("Received requirements from requirements_agent")
	phenotype.Warn("High complexity detected - estimated %d tokens", 800)

	extraction.Info("Running extraction against phenotype SQL")
	extraction.Error("Extraction failed: missing artifact bucket")

	// A node can create sub-loggers for distinct sub-operations.
	extractionRetry := extraction.WithAgentID("extraction_agent-retry")
	extractionRetry.Info("Retrying extraction after terminal failure")

	// Shutdown sequence.
	engine.Info("Initiating graceful shutdown")
	requirements.Info("Finishing in-flight node runs")
	phenotype.Info("Completing active invocations")
	extraction.Info("Finalizing extraction attempts")
	engine.Info("All workers stopped successfully")

	fmt.Println("=== End Demo ===")
}

func TestEngineUsage(t *testing.T) {
	ExampleLogger_engine_usage()
}
