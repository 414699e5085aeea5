package triage

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/linnemanlabs/sift/internal/mail"
)

// Metrics holds Prometheus metrics for the triage subsystem.
type Metrics struct {
	VerdictsTotal      *prometheus.CounterVec
	VerdictConfidence  prometheus.Histogram
	MovesTotal         *prometheus.CounterVec
	PatternAgreement   *prometheus.CounterVec
	ClassifyDuration   prometheus.Histogram
	ClassifyErrors     prometheus.Counter
	BatchDuration      prometheus.Histogram
	BatchClassified    prometheus.Histogram
	BatchSkipped       prometheus.Histogram
	BatchFailed        prometheus.Histogram
	FeedbackTotal      *prometheus.CounterVec
	RulePromotions     prometheus.Counter
	SnoozesProcessed   prometheus.Counter
}

// NewMetrics registers and returns triage metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		VerdictsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sift_verdicts_total",
			Help: "Total classification verdicts by suggested folder.",
		}, []string{"folder"}),
		VerdictConfidence: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sift_verdict_confidence",
			Help:    "Confidence distribution of classification verdicts.",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11), // 0.0 .. 1.0
		}),
		MovesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sift_moves_total",
			Help: "Total automatic folder moves by destination.",
		}, []string{"folder"}),
		PatternAgreement: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sift_pattern_agreement_total",
			Help: "Pattern hint vs LLM verdict agreement outcomes.",
		}, []string{"agreed"}),
		ClassifyDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sift_classify_duration_seconds",
			Help:    "Duration of individual classifier calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 9), // 0.25s .. ~64s
		}),
		ClassifyErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sift_classify_errors_total",
			Help: "Total failed classifier calls.",
		}),
		BatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sift_batch_duration_seconds",
			Help:    "Duration of classification batches in seconds.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1s .. ~512s
		}),
		BatchClassified: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sift_batch_classified",
			Help:    "Emails classified per batch.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1 .. 512
		}),
		BatchSkipped: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sift_batch_skipped",
			Help:    "Emails skipped per batch (budget or unresolved).",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1 .. 512
		}),
		BatchFailed: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sift_batch_failed",
			Help:    "Per-item failures per batch.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 8), // 1 .. 128
		}),
		FeedbackTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sift_feedback_total",
			Help: "Review feedback records by action.",
		}, []string{"action"}),
		RulePromotions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sift_sender_rule_promotions_total",
			Help: "Sender rules promoted to auto-apply.",
		}),
		SnoozesProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sift_snoozes_processed_total",
			Help: "Snoozed emails restored to their original folder.",
		}),
	}

	reg.MustRegister(
		m.VerdictsTotal,
		m.VerdictConfidence,
		m.MovesTotal,
		m.PatternAgreement,
		m.ClassifyDuration,
		m.ClassifyErrors,
		m.BatchDuration,
		m.BatchClassified,
		m.BatchSkipped,
		m.BatchFailed,
		m.FeedbackTotal,
		m.RulePromotions,
		m.SnoozesProcessed,
	)

	return m
}

// Hooks returns EngineHooks that increment the corresponding metrics.
func (m *Metrics) Hooks() EngineHooks {
	return EngineHooks{
		OnClassify: func(duration float64, err error) {
			m.ClassifyDuration.Observe(duration)
			if err != nil {
				m.ClassifyErrors.Inc()
			}
		},
		OnVerdict: func(folder mail.Folder, confidence float64, patternAgreed, moved bool) {
			m.VerdictsTotal.WithLabelValues(string(folder)).Inc()
			m.VerdictConfidence.Observe(confidence)
			agreed := "false"
			if patternAgreed {
				agreed = "true"
			}
			m.PatternAgreement.WithLabelValues(agreed).Inc()
			if moved {
				m.MovesTotal.WithLabelValues(string(folder)).Inc()
			}
		},
	}
}

// ObserveBatch records the outcome of one classification batch.
func (m *Metrics) ObserveBatch(res *BatchResult, duration float64) {
	m.BatchDuration.Observe(duration)
	m.BatchClassified.Observe(float64(res.Classified))
	m.BatchSkipped.Observe(float64(res.Skipped))
	m.BatchFailed.Observe(float64(res.Failed))
}

// IncFeedback counts one review feedback record.
func (m *Metrics) IncFeedback(action FeedbackAction) {
	m.FeedbackTotal.WithLabelValues(string(action)).Inc()
}

// IncRulePromotion counts a sender rule reaching auto-apply.
func (m *Metrics) IncRulePromotion() { m.RulePromotions.Inc() }

// IncSnoozeProcessed counts a restored snoozed email.
func (m *Metrics) IncSnoozeProcessed() { m.SnoozesProcessed.Inc() }
