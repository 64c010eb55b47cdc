package engine

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"

	"researchflow/pkg/agentadapter"
	"researchflow/pkg/config"
	"researchflow/pkg/persistence"
	"researchflow/pkg/wfstate"
)

func newTestStore(t *testing.T) *persistence.Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, persistence.InitSchema(db))
	return persistence.NewStore(db)
}

func testEngineConfig() config.EngineConfig {
	return config.EngineConfig{WorkerCount: 2, LeaseTTL: time.Minute, PollInterval: 50 * time.Millisecond}
}

func testCaps() config.IterationCaps {
	return config.IterationCaps{Requirements: 5, Phenotype: 5, QAReextract: 3}
}

// stubExecutor answers every happy-path task with a canned, decodable
// output, so a full Drive can run node-to-node without a real agent
// backend. Each task's output shape matches the ApplyOutput decoding in
// pkg/nodes/handlers.go.
type stubExecutor struct{}

func (stubExecutor) Execute(_ context.Context, task agentadapter.Task, _ map[string]any) (map[string]any, error) {
	now := time.Now().UTC()
	switch task {
	case "requirements_agent.gather":
		return map[string]any{
			"requirements": map[string]any{
				"study_title":    "Diabetes outcomes",
				"inclusion_list": []string{"adult", "type2"},
				"exclusion_list": []string{},
				"time_window":    map[string]any{"start": now.AddDate(-2, 0, 0), "end": now},
				"data_elements":  []string{"hba1c", "bmi"},
				"phi_level":      "de_identified",
			},
			"completeness_score":    1.0,
			"requirements_complete": true,
		}, nil
	case "phenotype_agent.validate_feasibility":
		return map[string]any{
			"phenotype_sql": "SELECT * FROM patients WHERE dx = 'E11'",
			"feasibility": map[string]any{
				"feasible":              true,
				"estimated_cohort_size": 340,
				"confidence_interval":   map[string]any{"low": 300, "high": 380},
				"data_availability":     map[string]any{},
			},
		}, nil
	case "calendar_agent.schedule_kickoff":
		return map[string]any{
			"kickoff_meeting": map[string]any{
				"scheduled_at": now.Add(24 * time.Hour),
				"attendees":    []string{"researcher@example.org"},
				"agenda":       "kickoff",
			},
		}, nil
	case "extraction_agent.extract":
		return map[string]any{
			"extraction": map[string]any{
				"row_count":         340,
				"phi_level_applied": "de_identified",
				"artifact_uri":      "s3://researchflow/extracts/req",
				"extracted_at":      now,
				"attempt_no":        1,
			},
		}, nil
	case "qa_agent.validate":
		return map[string]any{
			"qa_report": map[string]any{
				"overall_status": "passed",
				"checks":         []map[string]any{{"name": "row_count_nonzero", "passed": true, "severity": "info"}},
			},
		}, nil
	case "delivery_agent.deliver":
		return map[string]any{
			"delivery": map[string]any{
				"artifact_uri":      "s3://researchflow/delivery/req",
				"checksum":          "deadbeef",
				"delivered_at":      now,
				"notification_sent": true,
			},
		}, nil
	default:
		return nil, nil
	}
}

func newTestEngine(t *testing.T, store *persistence.Store, instanceID string) *Engine {
	t.Helper()
	adapter := agentadapter.New(stubExecutor{}, agentadapter.DefaultConfig)
	return New(store, adapter, instanceID, testEngineConfig(), testCaps())
}

func TestSubmitParksAtFirstGate(t *testing.T) {
	store := newTestStore(t)
	eng := newTestEngine(t, store, "engine-a")
	ctx := context.Background()

	requestID, err := eng.Submit(ctx, wfstate.Researcher{Name: "Dr. Okafor"}, "diabetic cohort")
	require.NoError(t, err)

	state, err := store.Load(ctx, requestID)
	require.NoError(t, err)
	assert.Equal(t, wfstate.PhaseRequirementsReview, state.CurrentPhase)
	assert.True(t, state.RequirementsComplete)
	assert.False(t, state.RequirementsApproved.IsSet())

	pending, err := store.ListPendingApprovals(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, wfstate.ApprovalTypeRequirements, pending[0].ApprovalType)

	reacquired, err := store.AcquireLease(ctx, requestID, "another-owner", time.Minute)
	require.NoError(t, err)
	assert.True(t, reacquired, "lease must be released once the workflow parks")
}

func TestDriveSkipsWhenLeaseHeldElsewhere(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	state := wfstate.NewWorkflowState(wfstate.NewRequestID(), wfstate.Researcher{Name: "Dr. Lin"}, "cohort")
	require.NoError(t, store.Create(ctx, state))

	acquired, err := store.AcquireLease(ctx, state.RequestID, "other-owner", time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)

	eng := newTestEngine(t, store, "engine-b")
	require.NoError(t, eng.Drive(ctx, state.RequestID))

	reloaded, err := store.Load(ctx, state.RequestID)
	require.NoError(t, err)
	assert.Equal(t, wfstate.PhaseNewRequest, reloaded.CurrentPhase, "a lease held elsewhere must block progress")
}

func TestFullHappyPathThroughDelivery(t *testing.T) {
	store := newTestStore(t)
	eng := newTestEngine(t, store, "engine-c")
	ctx := context.Background()

	requestID, err := eng.Submit(ctx, wfstate.Researcher{Name: "Dr. Okafor"}, "diabetic cohort")
	require.NoError(t, err)

	gates := []wfstate.ApprovalType{
		wfstate.ApprovalTypeRequirements,
		wfstate.ApprovalTypePhenotypeSQL,
		wfstate.ApprovalTypeExtraction,
		wfstate.ApprovalTypeQA,
	}
	for _, gateType := range gates {
		pending, err := store.ListPendingApprovals(ctx)
		require.NoError(t, err)
		require.Len(t, pending, 1, "exactly one open gate at a time on the happy path")
		require.Equal(t, gateType, pending[0].ApprovalType)

		require.NoError(t, store.DecideApproval(ctx, pending[0].ApprovalID, wfstate.ApprovalApproved, "reviewer@example.org", "looks good", nil, time.Now().UTC()))
		require.NoError(t, eng.Resume(ctx, requestID))
	}

	final, err := store.Load(ctx, requestID)
	require.NoError(t, err)
	assert.Equal(t, wfstate.PhaseComplete, final.CurrentPhase)
	require.NotNil(t, final.Delivery)
	assert.True(t, final.Delivery.NotificationSent)

	pending, err := store.ListPendingApprovals(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestRejectionLoopBackReentersWithFreshApproval(t *testing.T) {
	store := newTestStore(t)
	eng := newTestEngine(t, store, "engine-d")
	ctx := context.Background()

	requestID, err := eng.Submit(ctx, wfstate.Researcher{Name: "Dr. Okafor"}, "diabetic cohort")
	require.NoError(t, err)

	pending, err := store.ListPendingApprovals(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	firstApprovalID := pending[0].ApprovalID

	require.NoError(t, store.DecideApproval(ctx, firstApprovalID, wfstate.ApprovalRejected, "reviewer@example.org", "too broad", nil, time.Now().UTC()))
	require.NoError(t, eng.Resume(ctx, requestID))

	state, err := store.Load(ctx, requestID)
	require.NoError(t, err)
	assert.Equal(t, wfstate.PhaseRequirementsReview, state.CurrentPhase, "rejection loops back through gathering and re-parks at the same gate")
	assert.Equal(t, 2, state.IterationCounters[wfstate.LoopSiteRequirements])
	assert.False(t, state.RequirementsApproved.IsSet())

	all, err := store.ListApprovalsByRequest(ctx, requestID)
	require.NoError(t, err)
	require.Len(t, all, 2, "loop-back must create a fresh approval rather than re-consume the rejected one")
	assert.Equal(t, wfstate.ApprovalRejected, all[0].Status)
	assert.Equal(t, wfstate.ApprovalPending, all[1].Status)
}
