// Package engine implements C6 (§4.7): the lease-guarded execution loop
// that drives a single workflow document through node handlers and
// routing decisions until it parks at an unresolved gate or lands on a
// terminal phase, plus the worker pool and crash-recovery sweep that
// apply that loop to every claimable request.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"researchflow/pkg/agentadapter"
	"researchflow/pkg/config"
	"researchflow/pkg/logx"
	"researchflow/pkg/metrics"
	"researchflow/pkg/nodes"
	"researchflow/pkg/persistence"
	"researchflow/pkg/routing"
	"researchflow/pkg/wfstate"
)

// recoverScanLimit bounds the single startup ListClaimable scan. Set
// high enough that a normal deployment's in-flight request count never
// truncates it; any requests past the limit are simply picked up by the
// regular poll workers a moment later.
const recoverScanLimit = 10000

// Engine owns the node and gate handler registry and drives requests
// through them. One Engine instance corresponds to one lease owner
// (§5); InstanceID is stamped into every lease it acquires.
type Engine struct {
	store      *persistence.Store
	caps       config.IterationCaps
	instanceID string
	workerCount int
	leaseTTL    time.Duration
	pollInterval time.Duration

	handlers map[wfstate.Phase]nodes.Handler

	logger   *logx.Logger
	recorder *metrics.Recorder
	shutdown chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	running  bool
}

// SetRecorder attaches a Prometheus recorder so every node run this
// Engine drives emits workflow_nodes_total/workflow_node_duration_seconds
// series. Optional: an Engine with no recorder simply skips observation.
func (e *Engine) SetRecorder(r *metrics.Recorder) {
	e.recorder = r
}

// New constructs an Engine around adapter, registering the six agent
// node handlers and four gate handlers that cover every non-terminal
// phase in §4.6.
func New(store *persistence.Store, adapter *agentadapter.Adapter, instanceID string, engineCfg config.EngineConfig, caps config.IterationCaps) *Engine {
	e := &Engine{
		store:        store,
		caps:         caps,
		instanceID:   instanceID,
		workerCount:  engineCfg.WorkerCount,
		leaseTTL:     engineCfg.LeaseTTL,
		pollInterval: engineCfg.PollInterval,
		handlers:     make(map[wfstate.Phase]nodes.Handler),
		logger:       logx.NewLogger("engine"),
		shutdown:     make(chan struct{}),
	}

	for _, h := range []*nodes.AgentHandler{
		nodes.NewRequirementsGatheringHandler(adapter),
		nodes.NewFeasibilityValidationHandler(adapter),
		nodes.NewScheduleKickoffHandler(adapter),
		nodes.NewDataExtractionHandler(adapter),
		nodes.NewQAValidationHandler(adapter),
		nodes.NewDataDeliveryHandler(adapter),
	} {
		e.handlers[h.Node] = h
	}

	for _, g := range []*nodes.GateHandler{
		nodes.NewRequirementsReviewGate(store),
		nodes.NewPhenotypeReviewGate(store),
		nodes.NewExtractionApprovalGate(store),
		nodes.NewQAReviewGate(store),
	} {
		e.handlers[g.Node] = g
	}

	return e
}

// Submit creates the initial document for a new request at
// PhaseNewRequest and immediately drives it as far as it will go
// (typically through requirements_gathering to the requirements_review
// gate, where it parks) — §4.7's "(a) new
// submissions" work source.
func (e *Engine) Submit(ctx context.Context, researcher wfstate.Researcher, initialRequest string) (string, error) {
	state := wfstate.NewWorkflowState(wfstate.NewRequestID(), researcher, initialRequest)
	if err := e.store.Create(ctx, state); err != nil {
		return "", fmt.Errorf("submit request: %w", err)
	}
	if err := e.AppendAudit(ctx, state.RequestID, wfstate.AuditCreated, string(wfstate.PhaseNewRequest), wfstate.ActorSystem, "info", nil); err != nil {
		e.logger.Warn("submit %s: append created audit event: %v", state.RequestID, err)
	}
	if err := e.Drive(ctx, state.RequestID); err != nil {
		return state.RequestID, fmt.Errorf("drive new request: %w", err)
	}
	return state.RequestID, nil
}

// Resume implements pkg/approval's Resumer interface (§4.7 "(b) approval
// decisions"): decide() calls this immediately after recording a
// decision so the workflow doesn't wait for the next poll tick.
func (e *Engine) Resume(ctx context.Context, requestID string) error {
	return e.Drive(ctx, requestID)
}

// AppendAudit is a small convenience wrapper so callers outside
// pkg/nodes (Submit, Recover) can emit a one-off audit event without
// reaching into persistence directly.
func (e *Engine) AppendAudit(ctx context.Context, requestID string, kind wfstate.AuditEventKind, node string, actor wfstate.AuditActorKind, severity string, payload []byte) error {
	return e.store.AppendAudit(ctx, &wfstate.AuditEvent{
		EventID:   wfstate.NewEventID(),
		RequestID: requestID,
		Timestamp: time.Now().UTC(),
		Kind:      kind,
		Node:      node,
		Actor:     string(actor),
		Severity:  severity,
		Payload:   payload,
	})
}

// Drive implements the execution loop of §4.7: acquire the lease, then
// repeatedly load, route, and dispatch until the workflow parks at an
// unresolved gate or lands on a terminal phase. Returns nil if the
// lease is already held elsewhere — that is a normal "try the next
// request" outcome, not a failure (§5).
func (e *Engine) Drive(ctx context.Context, requestID string) error {
	acquired, err := e.store.AcquireLease(ctx, requestID, e.instanceID, e.leaseTTL)
	if err != nil {
		return fmt.Errorf("acquire lease for %s: %w", requestID, err)
	}
	if !acquired {
		return nil
	}

	leaseHeld := true
	release := func() {
		if leaseHeld {
			if err := e.store.ReleaseLease(ctx, requestID, e.instanceID); err != nil {
				e.logger.Warn("release lease for %s: %v", requestID, err)
			}
			leaseHeld = false
		}
	}
	defer release()

	for {
		state, err := e.store.Load(ctx, requestID)
		if err != nil {
			return fmt.Errorf("load %s: %w", requestID, err)
		}
		expectedVersion := state.Version

		if wfstate.IsGate(state.CurrentPhase) {
			handler := e.handlers[state.CurrentPhase]
			runStart := time.Now()
			next, events, err := handler.Run(ctx, state)
			e.observeNode(string(state.CurrentPhase), err, runStart)
			if err != nil {
				return fmt.Errorf("run gate %s for %s: %w", state.CurrentPhase, requestID, err)
			}
			if len(events) > 0 {
				if err := e.persist(ctx, next, expectedVersion, events); err != nil {
					if agentadapter.Is(err, agentadapter.KindConcurrencyConflict) {
						continue
					}
					return err
				}
			}
			state = next
		}

		decision := routing.Route(state, e.caps)

		switch decision.Kind {
		case routing.KindTerminal:
			next, events := nodes.ApplyTerminal(state, decision.Phase, decision.Reason)
			if err := e.persist(ctx, next, state.Version, events); err != nil {
				if agentadapter.Is(err, agentadapter.KindConcurrencyConflict) {
					continue
				}
				return err
			}
			return nil

		case routing.KindPark:
			return nil

		case routing.KindNode:
			input := state
			if decision.LoopSite != "" {
				input = state.Clone()
				input.ResetLoopDecision(decision.LoopSite)
			}
			handler, ok := e.handlers[decision.Phase]
			if !ok {
				next, events := nodes.ApplyTerminal(state, wfstate.PhaseHumanReview, fmt.Sprintf("no handler registered for phase %q", decision.Phase))
				if err := e.persist(ctx, next, state.Version, events); err != nil && !agentadapter.Is(err, agentadapter.KindConcurrencyConflict) {
					return err
				}
				return nil
			}

			runStart := time.Now()
			next, events, err := handler.Run(ctx, input)
			e.observeNode(string(decision.Phase), err, runStart)
			if err != nil {
				return fmt.Errorf("run node %s for %s: %w", decision.Phase, requestID, err)
			}
			if err := e.persist(ctx, next, expectedVersion, events); err != nil {
				if agentadapter.Is(err, agentadapter.KindConcurrencyConflict) {
					continue
				}
				return err
			}
		}
	}
}

// Recover implements §4.9's startup recovery step: scan every claimable
// request and drive it once. A crashed worker's lease has already
// expired by the time this runs, so ListClaimable picks those requests
// up the same way it would on a normal poll tick; calling it explicitly
// at startup means recovery doesn't wait for the first poll interval to
// elapse.
func (e *Engine) Recover(ctx context.Context) error {
	requestIDs, err := e.store.ListClaimable(ctx, recoverScanLimit)
	if err != nil {
		return fmt.Errorf("recover: list claimable: %w", err)
	}
	for _, id := range requestIDs {
		if err := e.Drive(ctx, id); err != nil {
			e.logger.Warn("recover %s: %v", id, err)
		}
	}
	return nil
}

// Start launches workerCount poll workers, each repeatedly claiming a
// batch of requests and driving them, until Stop is called. Safe to
// call at most once per Engine.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return fmt.Errorf("engine is already running")
	}
	e.running = true
	e.mu.Unlock()

	if err := e.Recover(ctx); err != nil {
		e.logger.Warn("startup recovery: %v", err)
	}

	for i := 0; i < e.workerCount; i++ {
		e.wg.Add(1)
		go e.pollWorker(ctx, i)
	}
	return nil
}

// pollWorker repeatedly claims a small batch of requests and drives
// each one, until shutdown is signaled or ctx is cancelled.
func (e *Engine) pollWorker(ctx context.Context, id int) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.shutdown:
			return
		case <-ticker.C:
			requestIDs, err := e.store.ListClaimable(ctx, 8)
			if err != nil {
				e.logger.Warn("worker %d: list claimable: %v", id, err)
				continue
			}
			for _, requestID := range requestIDs {
				select {
				case <-ctx.Done():
					return
				case <-e.shutdown:
					return
				default:
				}
				if err := e.Drive(ctx, requestID); err != nil {
					e.logger.Warn("worker %d: drive %s: %v", id, requestID, err)
				}
			}
		}
	}
}

// Stop signals every poll worker to exit and waits for them, up to
// ctx's deadline.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = false
	e.mu.Unlock()

	close(e.shutdown)

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("engine stop timed out: %w", ctx.Err())
	}
}

// observeNode records one handler run's outcome and duration, a no-op if
// no recorder was attached.
func (e *Engine) observeNode(node string, err error, start time.Time) {
	if e.recorder == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	e.recorder.ObserveNode(node, outcome, time.Since(start))
}

// persist writes state and its audit events together inside one
// transaction (§4.2: "the state write and its audit events are
// persisted together or not at all") via Store.SaveWithAudit, after
// confirming state still satisfies the invariants of §3.1/§8 — a
// handler bug that produces an inconsistent document is caught here
// rather than persisted and discovered later.
func (e *Engine) persist(ctx context.Context, state *wfstate.WorkflowState, expectedVersion int64, events []*wfstate.AuditEvent) error {
	if err := wfstate.CheckInvariants(state); err != nil {
		return agentadapter.Wrap(agentadapter.KindInternal, state.RequestID, err, "invariant violated before persist")
	}
	if err := e.store.SaveWithAudit(ctx, state, expectedVersion, events); err != nil {
		if !agentadapter.Is(err, agentadapter.KindConcurrencyConflict) {
			return fmt.Errorf("save %s: %w", state.RequestID, err)
		}
		return err
	}
	return nil
}
