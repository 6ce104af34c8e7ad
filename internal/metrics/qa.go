package metrics

import "github.com/prometheus/client_golang/prometheus"

// Answer resolution and LLM Prometheus metrics.
var (
	AnswerResolutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "caddie",
			Name:      "answer_resolutions_total",
			Help:      "Total resolved questions by resolution path",
		},
		[]string{"path"}, // "match" / "generated" / "irrelevant"
	)

	LLMRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "caddie",
			Name:      "llm_requests_total",
			Help:      "Total number of LLM completion requests",
		},
		[]string{"model", "status"},
	)

	LLMRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "caddie",
			Name:      "llm_request_duration_seconds",
			Help:      "LLM completion request duration in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"model"},
	)

	IndexDocuments = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "caddie",
			Name:      "index_documents",
			Help:      "Number of documents currently held by the semantic index",
		},
	)

	PrunedDocumentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "caddie",
			Name:      "pruned_documents_total",
			Help:      "Total documents removed by retention pruning",
		},
		[]string{"trigger"}, // "size_limit" / "cleanup"
	)
)

var qaMetricsRegistered bool

// RegisterQAMetrics registers answer resolution metrics. Must be called once from main.
func RegisterQAMetrics() {
	if qaMetricsRegistered {
		return
	}
	prometheus.MustRegister(AnswerResolutionsTotal)
	prometheus.MustRegister(LLMRequestsTotal)
	prometheus.MustRegister(LLMRequestDuration)
	prometheus.MustRegister(IndexDocuments)
	prometheus.MustRegister(PrunedDocumentsTotal)
	qaMetricsRegistered = true
}
