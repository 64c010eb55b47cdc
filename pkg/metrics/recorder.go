package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder records the Prometheus series the engine and approval
// service emit as they drive requests through the graph.
type Recorder struct {
	nodesTotal          *prometheus.CounterVec
	nodeDuration        *prometheus.HistogramVec
	agentInvocations    *prometheus.CounterVec
	agentRetries        *prometheus.CounterVec
	approvalsPending    *prometheus.GaugeVec
	approvalsDecided    *prometheus.CounterVec
	approvalsTimedOut   *prometheus.CounterVec
	llmTokensTotal      *prometheus.CounterVec
	llmCostsTotal       *prometheus.CounterVec
}

// NewRecorder registers and returns the ResearchFlow metric series.
// Call once per process; promauto panics on a duplicate registration,
// mirroring the teacher's recorder construction.
func NewRecorder() *Recorder {
	return &Recorder{
		nodesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "workflow_nodes_total",
				Help: "Total number of node handler runs, by node and outcome",
			},
			[]string{"node", "outcome"},
		),
		nodeDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "workflow_node_duration_seconds",
				Help:    "Duration of a single node handler run",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"node"},
		),
		agentInvocations: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agent_invocations_total",
				Help: "Total agent invocations by task and status",
			},
			[]string{"task", "status"},
		),
		agentRetries: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agent_retry_total",
				Help: "Total retry attempts issued by the agent adapter",
			},
			[]string{"task"},
		),
		approvalsPending: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "approvals_pending",
				Help: "Approvals currently awaiting a decision, by type",
			},
			[]string{"approval_type"},
		),
		approvalsDecided: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "approvals_decided_total",
				Help: "Total approvals decided, by type and decision",
			},
			[]string{"approval_type", "decision"},
		),
		approvalsTimedOut: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "approvals_timed_out_total",
				Help: "Total approvals moved to timed_out by the SLA sweeper",
			},
			[]string{"approval_type"},
		),
		llmTokensTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_tokens_total",
				Help: "Total tokens consumed by agent invocations",
			},
			[]string{"request_id", "model", "type"},
		),
		llmCostsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_costs_total",
				Help: "Total estimated USD cost of agent invocations",
			},
			[]string{"request_id", "model"},
		),
	}
}

// ObserveNode records one node handler run.
func (r *Recorder) ObserveNode(node, outcome string, duration time.Duration) {
	r.nodesTotal.WithLabelValues(node, outcome).Inc()
	r.nodeDuration.WithLabelValues(node).Observe(duration.Seconds())
}

// ObserveAgentInvocation records one Adapter.Invoke call's final status
// and how many attempts preceded it.
func (r *Recorder) ObserveAgentInvocation(task, status string, attempts int) {
	r.agentInvocations.WithLabelValues(task, status).Inc()
	if attempts > 1 {
		r.agentRetries.WithLabelValues(task).Add(float64(attempts - 1))
	}
}

// SetApprovalsPending sets the current pending-gauge for approvalType.
func (r *Recorder) SetApprovalsPending(approvalType string, count int) {
	r.approvalsPending.WithLabelValues(approvalType).Set(float64(count))
}

// ObserveApprovalDecided records a terminal, non-timeout decision.
func (r *Recorder) ObserveApprovalDecided(approvalType, decision string) {
	r.approvalsDecided.WithLabelValues(approvalType, decision).Inc()
}

// ObserveApprovalTimedOut records an SLA-sweep timeout transition.
func (r *Recorder) ObserveApprovalTimedOut(approvalType string) {
	r.approvalsTimedOut.WithLabelValues(approvalType).Inc()
}

// ObserveTokens records token usage for one agent invocation, keyed by
// the request_id it was made on behalf of so pkg/metrics' QueryService
// can aggregate per request.
func (r *Recorder) ObserveTokens(requestID, model string, promptTokens, completionTokens int, cost float64) {
	r.llmTokensTotal.WithLabelValues(requestID, model, "prompt").Add(float64(promptTokens))
	r.llmTokensTotal.WithLabelValues(requestID, model, "completion").Add(float64(completionTokens))
	r.llmCostsTotal.WithLabelValues(requestID, model).Add(cost)
}
