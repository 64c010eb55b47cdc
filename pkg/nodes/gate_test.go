package nodes

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"

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

func newGateTestState(requestID string) *wfstate.WorkflowState {
	s := wfstate.NewWorkflowState(requestID, wfstate.Researcher{Name: "Dr. Okafor"}, "diabetic cohort")
	s.Requirements = &wfstate.Requirements{StudyTitle: "Diabetes outcomes"}
	s.CurrentPhase = wfstate.PhaseRequirementsReview
	return s
}

func TestGateHandlerCreatesApprovalOnFirstEntry(t *testing.T) {
	store := newTestStore(t)
	gate := NewRequirementsReviewGate(store)
	ctx := context.Background()
	state := newGateTestState("req-1")
	require.NoError(t, store.Create(ctx, state))

	next, events, err := gate.Run(ctx, state)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, wfstate.AuditApprovalRequested, events[0].Kind)
	assert.False(t, next.RequirementsApproved.IsSet())

	pending, err := store.ListPendingApprovals(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, wfstate.ApprovalTypeRequirements, pending[0].ApprovalType)
}

func TestGateHandlerNoOpWhilePending(t *testing.T) {
	store := newTestStore(t)
	gate := NewRequirementsReviewGate(store)
	ctx := context.Background()
	state := newGateTestState("req-2")
	require.NoError(t, store.Create(ctx, state))

	next, _, err := gate.Run(ctx, state)
	require.NoError(t, err)

	again, events, err := gate.Run(ctx, next)
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.False(t, again.RequirementsApproved.IsSet())
}

func TestGateHandlerConsumesApprovedDecision(t *testing.T) {
	store := newTestStore(t)
	gate := NewRequirementsReviewGate(store)
	ctx := context.Background()
	state := newGateTestState("req-3")
	require.NoError(t, store.Create(ctx, state))

	next, _, err := gate.Run(ctx, state)
	require.NoError(t, err)

	pending, err := store.ListPendingApprovals(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.NoError(t, store.DecideApproval(ctx, pending[0].ApprovalID, wfstate.ApprovalApproved, "reviewer@example.org", "looks good", nil, time.Now().UTC()))

	decided, events, err := gate.Run(ctx, next)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, wfstate.AuditApprovalDecided, events[0].Kind)
	assert.True(t, decided.RequirementsApproved.Approved())
}

func TestGateHandlerModifyMergesPayload(t *testing.T) {
	store := newTestStore(t)
	gate := NewRequirementsReviewGate(store)
	ctx := context.Background()
	state := newGateTestState("req-4")
	require.NoError(t, store.Create(ctx, state))

	next, _, err := gate.Run(ctx, state)
	require.NoError(t, err)

	pending, err := store.ListPendingApprovals(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	modified := []byte(`{"study_title":"Revised title"}`)
	require.NoError(t, store.DecideApproval(ctx, pending[0].ApprovalID, wfstate.ApprovalModified, "reviewer@example.org", "tweaked title", modified, time.Now().UTC()))

	decided, _, err := gate.Run(ctx, next)
	require.NoError(t, err)
	assert.True(t, decided.RequirementsApproved.Approved())
	require.NotNil(t, decided.Requirements)
	assert.Equal(t, "Revised title", decided.Requirements.StudyTitle)
}

func TestGateHandlerRejectionThenLoopBackCreatesFreshApproval(t *testing.T) {
	store := newTestStore(t)
	gate := NewRequirementsReviewGate(store)
	ctx := context.Background()
	state := newGateTestState("req-5")
	require.NoError(t, store.Create(ctx, state))

	next, _, err := gate.Run(ctx, state)
	require.NoError(t, err)

	pending, err := store.ListPendingApprovals(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	firstApprovalID := pending[0].ApprovalID
	require.NoError(t, store.DecideApproval(ctx, firstApprovalID, wfstate.ApprovalRejected, "reviewer@example.org", "too broad", nil, time.Now().UTC()))

	rejected, _, err := gate.Run(ctx, next)
	require.NoError(t, err)
	assert.True(t, rejected.RequirementsApproved.Rejected())
	assert.Equal(t, "too broad", rejected.RequirementsApproved.Reason)

	// Simulate the engine's loop-back: reset the gate's decision and
	// bump the loop counter, then re-enter requirements_gathering before
	// coming back to the gate for a second pass.
	rejected.ResetLoopDecision(wfstate.LoopSiteRequirements)
	rejected.CurrentPhase = wfstate.PhaseRequirementsReview

	fresh, events, err := gate.Run(ctx, rejected)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, wfstate.AuditApprovalRequested, events[0].Kind)
	assert.False(t, fresh.RequirementsApproved.IsSet())

	all, err := store.ListApprovalsByRequest(ctx, "req-5")
	require.NoError(t, err)
	require.Len(t, all, 2, "loop-back must create a new approval rather than re-consume the stale one")
}
