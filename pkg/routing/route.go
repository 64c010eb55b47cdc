// Package routing implements C5 (§4.5): the pure function deciding what
// the engine does next for a given workflow document. Route never
// mutates its argument and never calls the Adapter or Persistence — it
// is a lookup table expressed as Go control flow, table-driven tested
// against every transition in §4.6 and every loop site in §4.9.
package routing

import (
	"fmt"

	"researchflow/pkg/config"
	"researchflow/pkg/wfstate"
)

// Kind tags a Decision as one of the three outcomes §4.5 describes.
type Kind int8

const (
	// KindNode — run the node handler for Phase next.
	KindNode Kind = iota
	// KindPark — the routed node is an unresolved gate; release the
	// lease and wait for an external decision.
	KindPark
	// KindTerminal — the workflow has reached Phase, a terminal state;
	// never routes further.
	KindTerminal
)

// Decision is Route's pure output. LoopSite is non-empty when this
// decision represents a loop-back edge (§4.5: "increment the ...
// iteration counter"); the engine applies that increment when it acts
// on the decision, keeping Route itself free of side effects.
type Decision struct {
	Kind     Kind
	Phase    wfstate.Phase
	LoopSite string
	Reason   string
}

func nodeDecision(phase wfstate.Phase) Decision {
	return Decision{Kind: KindNode, Phase: phase}
}

func loopDecision(phase wfstate.Phase, site string) Decision {
	return Decision{Kind: KindNode, Phase: phase, LoopSite: site}
}

func terminalDecision(phase wfstate.Phase, reason string) Decision {
	return Decision{Kind: KindTerminal, Phase: phase, Reason: reason}
}

func parkDecision() Decision {
	return Decision{Kind: KindPark}
}

// Route computes the next step for state given the configured
// iteration caps (§4.6: "gate against a configurable per-site
// maximum"). It is deterministic and side-effect free: calling it twice
// on the same state returns the same Decision.
func Route(state *wfstate.WorkflowState, caps config.IterationCaps) Decision {
	if state.CancelRequested {
		return terminalDecision(wfstate.PhaseHumanReview, "cancelled by administrative action")
	}

	switch state.CurrentPhase {
	case wfstate.PhaseNewRequest:
		return nodeDecision(wfstate.PhaseRequirementsGathering)

	case wfstate.PhaseRequirementsGathering:
		if !state.RequirementsComplete {
			return nodeDecision(wfstate.PhaseRequirementsGathering)
		}
		return nodeDecision(wfstate.PhaseRequirementsReview)

	case wfstate.PhaseRequirementsReview:
		return routeGate(state.RequirementsApproved, wfstate.PhaseFeasibilityValidation,
			wfstate.PhaseRequirementsGathering, wfstate.LoopSiteRequirements,
			state.IterationCounters[wfstate.LoopSiteRequirements], caps.Requirements)

	case wfstate.PhaseFeasibilityValidation:
		if state.Feasibility != nil && !state.Feasibility.Feasible {
			return terminalDecision(wfstate.PhaseNotFeasible, "cohort not feasible")
		}
		return nodeDecision(wfstate.PhasePhenotypeReview)

	case wfstate.PhasePhenotypeReview:
		return routeGate(state.PhenotypeApproved, wfstate.PhaseScheduleKickoff,
			wfstate.PhaseFeasibilityValidation, wfstate.LoopSitePhenotype,
			state.IterationCounters[wfstate.LoopSitePhenotype], caps.Phenotype)

	case wfstate.PhaseScheduleKickoff:
		return nodeDecision(wfstate.PhaseExtractionApproval)

	case wfstate.PhaseExtractionApproval:
		if !state.ExtractionApproved.IsSet() {
			return parkDecision()
		}
		if state.ExtractionApproved.Approved() {
			return nodeDecision(wfstate.PhaseDataExtraction)
		}
		// Extraction approval has no loop predecessor (§4.6 lists only
		// three loop edges); a rejection here always escalates.
		return terminalDecision(wfstate.PhaseHumanReview, "extraction not approved: "+state.ExtractionApproved.Reason)

	case wfstate.PhaseDataExtraction:
		return nodeDecision(wfstate.PhaseQAValidation)

	case wfstate.PhaseQAValidation:
		if state.QAReport != nil && state.QAReport.OverallStatus == wfstate.QAStatusFailed {
			return terminalDecision(wfstate.PhaseQAFailed, "QA validation failed")
		}
		return nodeDecision(wfstate.PhaseQAReview)

	case wfstate.PhaseQAReview:
		return routeGate(state.QAApproved, wfstate.PhaseDataDelivery,
			wfstate.PhaseDataExtraction, wfstate.LoopSiteQAReextract,
			state.IterationCounters[wfstate.LoopSiteQAReextract], caps.QAReextract)

	case wfstate.PhaseDataDelivery:
		return terminalDecision(wfstate.PhaseComplete, "")

	case wfstate.PhaseComplete, wfstate.PhaseNotFeasible, wfstate.PhaseQAFailed, wfstate.PhaseHumanReview:
		return terminalDecision(state.CurrentPhase, state.EscalationReason)

	default:
		// Unknown phase or schema drift (§4.9): refuse to run, escalate
		// with the raw payload for operator inspection.
		return terminalDecision(wfstate.PhaseHumanReview, fmt.Sprintf("unknown phase %q", state.CurrentPhase))
	}
}

// routeGate implements the decision-routing table common to every gate
// node (§4.8): unresolved parks, approved moves forward, rejected loops
// back if the site's iteration count is below cap, else escalates.
func routeGate(decision wfstate.Decision, onApprove, onReject wfstate.Phase, loopSite string, count, cap int) Decision {
	if !decision.IsSet() {
		return parkDecision()
	}
	if decision.Approved() {
		return nodeDecision(onApprove)
	}
	if count >= cap {
		return terminalDecision(wfstate.PhaseHumanReview, fmt.Sprintf("%s iteration cap (%d) exceeded", loopSite, cap))
	}
	return loopDecision(onReject, loopSite)
}
