package observability

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chapterbot/internal/chapters"
	"chapterbot/internal/fetch"
	"chapterbot/internal/task/scheduler"
)

const namespace = "chapterbot"

// Metrics implements chapters.Recorder on a private registry so tests and
// multiple instances never collide on the default one.
type Metrics struct {
	reg *prometheus.Registry

	fetchTotal    *prometheus.CounterVec
	fetchDuration prometheus.Histogram
	notifyTotal   *prometheus.CounterVec
	cyclesTotal   *prometheus.CounterVec
	itemsTotal    *prometheus.CounterVec
	changesTotal  prometheus.Counter
	lastSuccess   prometheus.Gauge
	cycleDuration prometheus.Histogram
}

func NewMetrics() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		fetchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_total",
			Help:      "Page fetches, labeled by result.",
		}, []string{"result"}),
		fetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Page fetch latency.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}),
		notifyTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notify_total",
			Help:      "New-chapter announcements, labeled by result.",
		}, []string{"result"}),
		cyclesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Poll cycles, labeled by result.",
		}, []string{"result"}),
		itemsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycle_items_total",
			Help:      "Per-item cycle results, labeled by kind.",
		}, []string{"kind"}),
		changesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "changes_total",
			Help:      "New chapters detected.",
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cycle_last_success_timestamp_seconds",
			Help:      "Unix time of the last cycle that was not aborted.",
		}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of one poll cycle.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
	}
	m.reg.MustRegister(
		m.fetchTotal, m.fetchDuration,
		m.notifyTotal,
		m.cyclesTotal, m.itemsTotal, m.changesTotal, m.lastSuccess, m.cycleDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func (m *Metrics) FetchObserved(d time.Duration, err error) {
	m.fetchDuration.Observe(d.Seconds())
	m.fetchTotal.WithLabelValues(fetchResult(err)).Inc()
}

func fetchResult(err error) string {
	var fe *fetch.Error
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.As(err, &fe) && fe.StatusCode != 0:
		return "status"
	default:
		return "error"
	}
}

func (m *Metrics) NotifyObserved(err error) {
	if err != nil {
		m.notifyTotal.WithLabelValues("error").Inc()
		return
	}
	m.notifyTotal.WithLabelValues("ok").Inc()
}

func (m *Metrics) CycleFinished(rep chapters.Report, err error) {
	if err != nil {
		m.cyclesTotal.WithLabelValues("aborted").Inc()
		return
	}
	m.cyclesTotal.WithLabelValues("ok").Inc()
	for _, res := range rep.Results {
		m.itemsTotal.WithLabelValues(string(res.Kind)).Inc()
		if res.Kind == chapters.ResultOK && res.Outcome == chapters.OutcomeChanged {
			m.changesTotal.Inc()
		}
	}
	if !rep.FinishedAt.IsZero() {
		m.lastSuccess.Set(float64(rep.FinishedAt.Unix()))
		m.cycleDuration.Observe(rep.FinishedAt.Sub(rep.StartedAt).Seconds())
	}
}

// WatchScheduler exports the scheduler's counters, read at scrape time.
func (m *Metrics) WatchScheduler(name string, snap func() scheduler.Snapshot) {
	labels := prometheus.Labels{"scheduler": name}
	counter := func(metric, help string, v func(scheduler.Snapshot) uint64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "scheduler",
			Name:        metric,
			Help:        help,
			ConstLabels: labels,
		}, func() float64 { return float64(v(snap())) })
	}
	m.reg.MustRegister(
		counter("runs_total", "Scheduled job runs.", func(s scheduler.Snapshot) uint64 { return s.Runs }),
		counter("skipped_total", "Triggers skipped because a run was in progress.", func(s scheduler.Snapshot) uint64 { return s.Skipped }),
		counter("failures_total", "Job runs that returned an error or panicked.", func(s scheduler.Snapshot) uint64 { return s.Failures }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "scheduler",
			Name:        "running",
			Help:        "1 while a job run is in progress.",
			ConstLabels: labels,
		}, func() float64 {
			if snap().Running {
				return 1
			}
			return 0
		}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "scheduler",
			Name:        "next_run_timestamp_seconds",
			Help:        "Unix time of the next scheduled run, 0 when not scheduled.",
			ConstLabels: labels,
		}, func() float64 {
			if next := snap().Next; !next.IsZero() {
				return float64(next.Unix())
			}
			return 0
		}),
	)
}

var _ chapters.Recorder = (*Metrics)(nil)
