// Package metrics 导出 Prometheus 指标
package metrics

import (
	"net/http"
	"sync"

	"github.com/Akshita1414/Taarini/internal/consumer"
	"github.com/Akshita1414/Taarini/internal/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics Prometheus 指标集合（独立 registry）
type Metrics struct {
	registry *prometheus.Registry

	jobsFinished  *prometheus.CounterVec
	jobsSubmitted prometheus.Counter

	mu            sync.Mutex
	lastSubmitted uint64
	lastFinished  uint64
	jobProgress   float64
}

// New 创建指标集合
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		jobsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taarini_analysis_jobs_submitted_total",
			Help: "Total video analysis jobs submitted",
		}),
		jobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taarini_analysis_jobs_finished_total",
			Help: "Total video analysis jobs finished, by status and error kind",
		}, []string{"status", "error_kind"}),
	}

	m.registry.MustRegister(m.jobsSubmitted, m.jobsFinished)
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "taarini_analysis_job_progress_percent",
			Help: "Upload progress of the current analysis job",
		},
		func() float64 {
			m.mu.Lock()
			defer m.mu.Unlock()
			return m.jobProgress
		},
	))
	return m
}

// RegisterConsumer 注册实时消费者指标
func (m *Metrics) RegisterConsumer(src *consumer.Metrics) {
	counters := []struct {
		name string
		help string
		get  func(s consumer.MetricsSnapshot) int64
	}{
		{"taarini_live_sensor_snapshots_total", "Total sensor snapshots received", func(s consumer.MetricsSnapshot) int64 { return s.SensorSnapshots }},
		{"taarini_live_detection_snapshots_total", "Total detection snapshots received", func(s consumer.MetricsSnapshot) int64 { return s.DetectionSnapshots }},
		{"taarini_live_sensor_errors_total", "Total sensor stream errors", func(s consumer.MetricsSnapshot) int64 { return s.SensorErrors }},
		{"taarini_live_detection_errors_total", "Total detection stream errors", func(s consumer.MetricsSnapshot) int64 { return s.DetectionErrors }},
		{"taarini_live_states_published_total", "Total operational states published", func(s consumer.MetricsSnapshot) int64 { return s.StatesPublished }},
		{"taarini_live_states_dropped_total", "Total operational states dropped on a full queue", func(s consumer.MetricsSnapshot) int64 { return s.StatesDropped }},
		{"taarini_live_alert_transitions_total", "Total alert level transitions", func(s consumer.MetricsSnapshot) int64 { return s.AlertTransitions }},
		{"taarini_live_critical_alerts_total", "Total transitions into critical", func(s consumer.MetricsSnapshot) int64 { return s.CriticalAlerts }},
		{"taarini_live_state_cache_errors_total", "Total state cache write failures", func(s consumer.MetricsSnapshot) int64 { return s.ErrorsStateCache }},
		{"taarini_live_alert_sink_errors_total", "Total alert publication failures", func(s consumer.MetricsSnapshot) int64 { return s.ErrorsAlertSink }},
	}

	for _, c := range counters {
		get := c.get
		m.registry.MustRegister(prometheus.NewCounterFunc(
			prometheus.CounterOpts{Name: c.name, Help: c.help},
			func() float64 { return float64(get(src.GetSnapshot())) },
		))
	}
}

// RegisterLiveState 注册当前实时状态指标
func (m *Metrics) RegisterLiveState(current func() consumer.LiveSnapshot) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "taarini_live_alert_level",
			Help: "Current alert level (0 none, 1 warning, 2 critical)",
		},
		func() float64 { return levelValue(current().Assessment.Level) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "taarini_live_state_revision",
			Help: "Revision of the current operational state",
		},
		func() float64 { return float64(current().State.Revision) },
	))

	for _, id := range []models.StreamID{models.StreamSensor, models.StreamDetection} {
		id := id
		m.registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name:        "taarini_live_stream_up",
				Help:        "Whether the live stream is delivering (1 live, 0 connecting or errored)",
				ConstLabels: prometheus.Labels{"stream": string(id)},
			},
			func() float64 {
				if current().State.Status(id) == models.ConnectionLive {
					return 1
				}
				return 0
			},
		))
	}
}

// ObserveJob 分析任务状态观察者（analysis.Client.OnUpdate）
func (m *Metrics) ObserveJob(job models.AnalysisJob) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if job.Status == models.JobUploading && job.ID > m.lastSubmitted {
		m.lastSubmitted = job.ID
		m.jobsSubmitted.Inc()
	}
	if job.Status == models.JobUploading {
		m.jobProgress = float64(job.Progress)
	} else if job.Status != models.JobIdle {
		m.jobProgress = 100
	}
	if job.Status.Terminal() && job.ID > m.lastFinished {
		m.lastFinished = job.ID
		m.jobsFinished.WithLabelValues(string(job.Status), string(job.ErrorKind)).Inc()
	}
}

// Handler Prometheus HTTP 处理器
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func levelValue(level models.AlertLevel) float64 {
	switch level {
	case models.AlertCritical:
		return 2
	case models.AlertWarning:
		return 1
	default:
		return 0
	}
}
