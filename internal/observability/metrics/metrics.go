package metrics

import "github.com/prometheus/client_golang/prometheus"

// Response paths recorded by ObserveResponse.
const (
	PathFilter  = "filter"
	PathPolicy  = "policy"
	PathModel   = "model"
	PathApology = "apology"
)

// Call purposes recorded by ObserveModelLatency.
const (
	PurposeFresh    = "fresh"
	PurposeImproved = "improved"
)

// PipelineMetrics exposes counters/histograms for the response pipeline.
type PipelineMetrics struct {
	responsesTotal    *prometheus.CounterVec
	policyErrorsTotal prometheus.Counter
	modelLatency      *prometheus.HistogramVec
}

// NewPipelineMetrics registers the pipeline collectors on reg, or on the
// default registerer when reg is nil.
func NewPipelineMetrics(reg prometheus.Registerer) *PipelineMetrics {
	m := &PipelineMetrics{
		responsesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chat",
			Subsystem: "pipeline",
			Name:      "responses_total",
			Help:      "Responses returned, by the stage that produced them",
		}, []string{"path"}),
		policyErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chat",
			Subsystem: "pipeline",
			Name:      "policy_errors_total",
			Help:      "Policy engine attempts that failed or returned nothing",
		}),
		modelLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "chat",
			Subsystem: "pipeline",
			Name:      "model_latency_seconds",
			Help:      "Latency of completion calls",
			Buckets:   prometheus.DefBuckets,
		}, []string{"purpose", "status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.responsesTotal, m.policyErrorsTotal, m.modelLatency)
	return m
}

// ObserveResponse counts a reply by the stage that produced it.
func (m *PipelineMetrics) ObserveResponse(path string) {
	if m == nil {
		return
	}
	m.responsesTotal.WithLabelValues(path).Inc()
}

// ObservePolicyError counts a policy engine attempt that fell through.
func (m *PipelineMetrics) ObservePolicyError() {
	if m == nil {
		return
	}
	m.policyErrorsTotal.Inc()
}

// ObserveModelLatency records one completion call.
func (m *PipelineMetrics) ObserveModelLatency(purpose string, failed bool, seconds float64) {
	if m == nil {
		return
	}
	status := "ok"
	if failed {
		status = "error"
	}
	m.modelLatency.WithLabelValues(purpose, status).Observe(seconds)
}
