package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "presenca"

// Metrics provides observability for enrollment, recognition and the ledger.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Extractor call latency by operation ("register", "check") and outcome
	ExtractorLatency *prometheus.HistogramVec

	// Match outcomes: matched, no_match, ambiguous, empty_catalog
	MatchOutcome *prometheus.CounterVec

	// Best similarity score of every scored query
	MatchScore prometheus.Histogram

	// Check outcomes by result code ("CHECK_IN", "CHECK_OUT", "repeated", error codes)
	CheckOutcome *prometheus.CounterVec

	// Enrollment outcomes by result code
	EnrollmentOutcome *prometheus.CounterVec

	// Frames discarded during enrollment by reason
	DiscardedFrames *prometheus.CounterVec

	// Optimistic ledger conflicts that triggered a retry
	LedgerConflicts prometheus.Counter

	// Number of identities in the matcher index
	CatalogSize prometheus.Gauge

	// HTTP request latency by method, route and status
	RequestDuration *prometheus.HistogramVec

	// Webhook deliveries by outcome: delivered, retried, failed, dropped
	WebhookDeliveries *prometheus.CounterVec
}

// New creates the metrics and registers them on reg
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ExtractorLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "extractor_duration_seconds",
			Help:      "Duration of face detection and embedding calls",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"operation", "outcome"}),

		MatchOutcome: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "match_outcomes_total",
			Help:      "Total matcher outcomes",
		}, []string{"outcome"}),

		MatchScore: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "match_best_score",
			Help:      "Best cosine similarity of each matched query",
			Buckets:   []float64{0, 0.2, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 0.95, 1},
		}),

		CheckOutcome: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attendance_checks_total",
			Help:      "Total attendance checks by result",
		}, []string{"result"}),

		EnrollmentOutcome: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enrollments_total",
			Help:      "Total enrollment attempts by result",
		}, []string{"result"}),

		DiscardedFrames: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enrollment_discarded_frames_total",
			Help:      "Enrollment frames discarded before aggregation",
		}, []string{"reason"}),

		LedgerConflicts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_conflicts_total",
			Help:      "Concurrent attendance writes that had to be retried",
		}),

		CatalogSize: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "catalog_identities",
			Help:      "Identities loaded in the matcher",
		}),

		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),

		WebhookDeliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_deliveries_total",
			Help:      "Attendance webhook delivery attempts by outcome",
		}, []string{"outcome"}),
	}
}

// ObserveExtractor records the duration of one extractor call
func (m *Metrics) ObserveExtractor(operation, outcome string, d time.Duration) {
	if m != nil {
		m.ExtractorLatency.WithLabelValues(operation, outcome).Observe(d.Seconds())
	}
}

// IncrementMatch records a matcher outcome
func (m *Metrics) IncrementMatch(outcome string) {
	if m != nil {
		m.MatchOutcome.WithLabelValues(outcome).Inc()
	}
}

// ObserveScore records the best score of a query
func (m *Metrics) ObserveScore(score float64) {
	if m != nil {
		m.MatchScore.Observe(score)
	}
}

// IncrementCheck records the result of an attendance check
func (m *Metrics) IncrementCheck(result string) {
	if m != nil {
		m.CheckOutcome.WithLabelValues(result).Inc()
	}
}

// IncrementEnrollment records the result of an enrollment
func (m *Metrics) IncrementEnrollment(result string) {
	if m != nil {
		m.EnrollmentOutcome.WithLabelValues(result).Inc()
	}
}

// IncrementDiscarded records an enrollment frame that was not used
func (m *Metrics) IncrementDiscarded(reason string) {
	if m != nil {
		m.DiscardedFrames.WithLabelValues(reason).Inc()
	}
}

// IncrementConflict records a retried ledger write
func (m *Metrics) IncrementConflict() {
	if m != nil {
		m.LedgerConflicts.Inc()
	}
}

// SetCatalogSize records the number of indexed identities
func (m *Metrics) SetCatalogSize(n int) {
	if m != nil {
		m.CatalogSize.Set(float64(n))
	}
}

// ObserveRequest records one HTTP request
func (m *Metrics) ObserveRequest(method, route, status string, d time.Duration) {
	if m != nil {
		m.RequestDuration.WithLabelValues(method, route, status).Observe(d.Seconds())
	}
}

func (m *Metrics) IncrementWebhook(outcome string) {
	if m != nil {
		m.WebhookDeliveries.WithLabelValues(outcome).Inc()
	}
}
