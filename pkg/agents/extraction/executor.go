// Package extraction implements a deterministic stand-in for
// extraction_agent.extract. Running an actual cohort query against a
// clinical warehouse is out of scope for a reference backend, so this
// executor derives a stable, reproducible row count from the phenotype
// SQL itself and writes a synthetic artifact URI.
package extraction

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/google/uuid"

	"researchflow/pkg/agentadapter"
	"researchflow/pkg/utils"
)

// Executor fabricates an extraction result sized from the phenotype
// SQL's hash, so repeated attempts against the same query return the
// same row count.
type Executor struct {
	artifactBucket string
}

// New builds an Executor that writes artifact URIs under bucket.
func New(bucket string) *Executor {
	if bucket == "" {
		bucket = "researchflow-extracts"
	}
	return &Executor{artifactBucket: bucket}
}

// Execute implements agentadapter.Executor.
func (e *Executor) Execute(_ context.Context, _ agentadapter.Task, input map[string]any) (map[string]any, error) {
	sql := utils.GetMapFieldOr(input, "phenotype_sql", "")
	attemptNo := 1
	if f := utils.GetMapFieldOr(input, "attempt_no", 0.0); f > 0 {
		attemptNo = int(f)
	} else if n := utils.GetMapFieldOr(input, "attempt_no", 0); n > 0 {
		attemptNo = n
	}

	h := fnv.New32a()
	_, _ = h.Write([]byte(sql))
	rowCount := int(h.Sum32()%5000) + 100

	phiLevel := "de_identified"
	if requirements, err := utils.GetMapField[map[string]any](input, "requirements"); err == nil {
		phiLevel = utils.GetMapFieldOr(requirements, "phi_level", phiLevel)
	}

	return map[string]any{
		"extraction": map[string]any{
			"row_count":         rowCount,
			"phi_level_applied": phiLevel,
			"artifact_uri":      fmt.Sprintf("s3://%s/%s.parquet", e.artifactBucket, uuid.NewString()),
			"extracted_at":      time.Now().UTC(),
			"attempt_no":        attemptNo,
		},
	}, nil
}
