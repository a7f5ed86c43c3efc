package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	SchedulerJobReasonDeadlineExceeded = "deadline_exceeded"
	SchedulerJobReasonGateway          = "gateway"
	SchedulerJobReasonUniqueViolation  = "unique_violation"
	SchedulerJobReasonNoActiveClass    = "no_active_class"
	SchedulerJobReasonUnknown          = "unknown"
)

// SchedulerMetrics captures enforcement scheduler health signals.
type SchedulerMetrics struct {
	jobRuns     *prometheus.CounterVec
	jobErrors   *prometheus.CounterVec
	jobTimeouts *prometheus.CounterVec
	jobDuration *prometheus.HistogramVec
	runLoopLag  prometheus.Observer

	samplesIngested *prometheus.CounterVec
	usersBlocked    *prometheus.CounterVec
	creditsRolled   *prometheus.CounterVec
	samplesPurged   prometheus.Counter
	gatewaySkips    *prometheus.CounterVec

	registerer prometheus.Registerer
	collectors []prometheus.Collector
}

// Config labels every scheduler metric with service identity.
type Config struct {
	ServiceName string
	Environment string
}

var (
	schedulerMetricsOnce sync.Once
	schedulerMetrics     *SchedulerMetrics
)

// Scheduler returns the singleton scheduler metrics registry.
func Scheduler() *SchedulerMetrics {
	return SchedulerWithConfig(Config{})
}

// SchedulerWithConfig returns the singleton scheduler metrics registry using config labels.
func SchedulerWithConfig(cfg Config) *SchedulerMetrics {
	schedulerMetricsOnce.Do(func() {
		schedulerMetrics = newSchedulerMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return schedulerMetrics
}

// ResetSchedulerMetricsForTest resets the scheduler metrics singleton for
// tests. The collectors must be unregistered first or the next singleton
// build panics on duplicate registration.
func ResetSchedulerMetricsForTest() {
	if schedulerMetrics != nil {
		for _, c := range schedulerMetrics.collectors {
			schedulerMetrics.registerer.Unregister(c)
		}
	}
	schedulerMetricsOnce = sync.Once{}
	schedulerMetrics = nil
}

func newSchedulerMetrics(registerer prometheus.Registerer, cfg Config) *SchedulerMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "portalmeter"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	m := &SchedulerMetrics{
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "portalmeter_scheduler_job_runs_total",
			Help:        "Number of scheduler job executions.",
			ConstLabels: constLabels,
		}, []string{"job"}),
		jobErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "portalmeter_scheduler_job_errors_total",
			Help:        "Number of scheduler job failures by reason.",
			ConstLabels: constLabels,
		}, []string{"job", "reason"}),
		jobTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "portalmeter_scheduler_job_timeouts_total",
			Help:        "Number of scheduler jobs that hit their deadline.",
			ConstLabels: constLabels,
		}, []string{"job"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "portalmeter_scheduler_job_duration_seconds",
			Help:        "Scheduler job wall time.",
			ConstLabels: constLabels,
			Buckets:     prometheus.DefBuckets,
		}, []string{"job"}),
		samplesIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "portalmeter_usage_samples_ingested_total",
			Help:        "Usage samples recorded per tenant.",
			ConstLabels: constLabels,
		}, []string{"tenant"}),
		usersBlocked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "portalmeter_users_blocked_total",
			Help:        "Hotspot users disabled by quota enforcement.",
			ConstLabels: constLabels,
		}, []string{"tenant"}),
		creditsRolled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "portalmeter_credits_rolled_total",
			Help:        "Daily credit rows created by rollover.",
			ConstLabels: constLabels,
		}, []string{"tenant"}),
		samplesPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "portalmeter_usage_samples_purged_total",
			Help:        "Usage samples removed by retention pruning.",
			ConstLabels: constLabels,
		}),
		gatewaySkips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "portalmeter_gateway_tenant_skips_total",
			Help:        "Ticks where a tenant was skipped because its router was unreachable.",
			ConstLabels: constLabels,
		}, []string{"tenant"}),
	}

	lag := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "portalmeter_scheduler_run_loop_lag_seconds",
		Help:        "Delay between scheduled and actual tick start.",
		ConstLabels: constLabels,
		Buckets:     []float64{0.1, 0.5, 1, 5, 15, 60, 300},
	})
	m.runLoopLag = lag

	m.registerer = registerer
	m.collectors = []prometheus.Collector{
		m.jobRuns, m.jobErrors, m.jobTimeouts, m.jobDuration,
		m.samplesIngested, m.usersBlocked, m.creditsRolled,
		m.samplesPurged, m.gatewaySkips, lag,
	}
	registerer.MustRegister(m.collectors...)
	return m
}

func (m *SchedulerMetrics) IncJobRun(job string) {
	m.jobRuns.WithLabelValues(job).Inc()
}

func (m *SchedulerMetrics) IncJobError(job string, err error) {
	m.jobErrors.WithLabelValues(job, ClassifySchedulerJobReason(err)).Inc()
}

func (m *SchedulerMetrics) IncJobTimeout(job string) {
	m.jobTimeouts.WithLabelValues(job).Inc()
}

func (m *SchedulerMetrics) ObserveJobDuration(job string, d time.Duration) {
	m.jobDuration.WithLabelValues(job).Observe(d.Seconds())
}

func (m *SchedulerMetrics) ObserveRunLoopLag(d time.Duration) {
	m.runLoopLag.Observe(d.Seconds())
}

func (m *SchedulerMetrics) AddSamplesIngested(tenant string, n int) {
	m.samplesIngested.WithLabelValues(tenant).Add(float64(n))
}

func (m *SchedulerMetrics) IncUserBlocked(tenant string) {
	m.usersBlocked.WithLabelValues(tenant).Inc()
}

func (m *SchedulerMetrics) AddCreditsRolled(tenant string, n int) {
	m.creditsRolled.WithLabelValues(tenant).Add(float64(n))
}

func (m *SchedulerMetrics) AddSamplesPurged(n int64) {
	m.samplesPurged.Add(float64(n))
}

func (m *SchedulerMetrics) IncGatewaySkip(tenant string) {
	m.gatewaySkips.WithLabelValues(tenant).Inc()
}

// ClassifySchedulerJobReason maps an error to a bounded label value.
func ClassifySchedulerJobReason(err error) string {
	if err == nil {
		return SchedulerJobReasonUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return SchedulerJobReasonDeadlineExceeded
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "gateway"):
		return SchedulerJobReasonGateway
	case strings.Contains(msg, "duplicate key"), strings.Contains(msg, "UNIQUE constraint"):
		return SchedulerJobReasonUniqueViolation
	case strings.Contains(msg, "no active service class"):
		return SchedulerJobReasonNoActiveClass
	default:
		return SchedulerJobReasonUnknown
	}
}
