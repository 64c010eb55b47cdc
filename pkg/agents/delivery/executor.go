// Package delivery implements a deterministic stand-in for
// delivery_agent.deliver. Handing an artifact to an institutional SFTP
// or object-store endpoint and emailing the researcher are both vendor
// integrations out of scope for a reference backend, so this executor
// copies the extraction's artifact reference forward and always reports
// the notification as sent.
package delivery

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"researchflow/pkg/agentadapter"
	"researchflow/pkg/utils"
)

// Executor fabricates a delivery record from the extraction already on
// the workflow state.
type Executor struct{}

// New builds an Executor.
func New() *Executor {
	return &Executor{}
}

// Execute implements agentadapter.Executor.
func (Executor) Execute(_ context.Context, _ agentadapter.Task, input map[string]any) (map[string]any, error) {
	artifactURI := "s3://researchflow-extracts/unknown.parquet"
	if extraction, err := utils.GetMapField[map[string]any](input, "extraction"); err == nil {
		artifactURI = utils.GetMapFieldOr(extraction, "artifact_uri", artifactURI)
	}

	sum := sha256.Sum256([]byte(artifactURI))

	return map[string]any{
		"delivery": map[string]any{
			"artifact_uri":      artifactURI,
			"checksum":          hex.EncodeToString(sum[:]),
			"delivered_at":      time.Now().UTC(),
			"notification_sent": true,
		},
	}, nil
}
