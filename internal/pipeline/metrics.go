package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics 汇总采集流水线的 Prometheus 指标。nil 时所有记录操作为空操作。
type Metrics struct {
	runsTotal          *prometheus.CounterVec
	recordsTotal       *prometheus.CounterVec
	decisionsTotal     *prometheus.CounterVec
	attachmentsTotal   *prometheus.CounterVec
	writesTotal        *prometheus.CounterVec
	batchSize          prometheus.Histogram
	sweptTotal         prometheus.Counter
	runDurationSeconds prometheus.Histogram
}

// NewMetrics 在 reg 上注册指标，reg 为 nil 时使用默认注册器。
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		runsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "recruit_collector_runs_total",
			Help: "Collection runs by result",
		}, []string{"result"}),
		recordsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "recruit_collector_records_total",
			Help: "Upstream records by mapping outcome",
		}, []string{"outcome"}),
		decisionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "recruit_collector_decisions_total",
			Help: "Deduplication decisions",
		}, []string{"decision"}),
		attachmentsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "recruit_collector_attachment_extractions_total",
			Help: "Attachment extractions by result",
		}, []string{"result"}),
		writesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "recruit_collector_writes_total",
			Help: "Storage writes by result",
		}, []string{"result"}),
		batchSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "recruit_collector_batch_size",
			Help:    "Writes per committed chunk",
			Buckets: prometheus.ExponentialBuckets(10, 2, 7),
		}),
		sweptTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "recruit_collector_swept_total",
			Help: "Postings deleted by the retention sweep",
		}),
		runDurationSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "recruit_collector_run_duration_seconds",
			Help:    "Collection run duration",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
	}
}

func (m *Metrics) observeRun(result string, seconds float64) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(result).Inc()
	m.runDurationSeconds.Observe(seconds)
}

func (m *Metrics) incRecord(outcome string) {
	if m == nil {
		return
	}
	m.recordsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) incDecision(d Decision) {
	if m == nil {
		return
	}
	m.decisionsTotal.WithLabelValues(d.String()).Inc()
}

func (m *Metrics) incAttachment(result string) {
	if m == nil {
		return
	}
	m.attachmentsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) observeChunk(size, written, failed int) {
	if m == nil {
		return
	}
	m.batchSize.Observe(float64(size))
	m.writesTotal.WithLabelValues("ok").Add(float64(written))
	m.writesTotal.WithLabelValues("failed").Add(float64(failed))
}

func (m *Metrics) addSwept(n int) {
	if m == nil {
		return
	}
	m.sweptTotal.Add(float64(n))
}
