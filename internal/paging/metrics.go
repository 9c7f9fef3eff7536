package paging

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	managerLabel = "manager"
	reasonLabel  = "reason"

	reasonNoData = "no_data"
	reasonError  = "error"
	reasonStale  = "stale"
)

type metrics struct {
	residentPages prometheus.Gauge
	loadedPages   prometheus.Gauge
	pendingTasks  prometheus.Gauge
	scheduled     prometheus.Counter
	evictions     prometheus.Counter
	discarded     *prometheus.CounterVec
	loadLatency   prometheus.Histogram
}

func newMetrics(reg prometheus.Registerer, id string) *metrics {
	factory := promauto.With(reg)
	labels := prometheus.Labels{managerLabel: id}
	return &metrics{
		residentPages: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "biomonkey_pages_resident",
			Help:        "The number of pages held in the page grid.",
			ConstLabels: labels,
		}),
		loadedPages: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "biomonkey_pages_loaded",
			Help:        "The number of pages with attached content.",
			ConstLabels: labels,
		}),
		pendingTasks: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "biomonkey_load_tasks_pending",
			Help:        "The number of page loads scheduled but not yet attached.",
			ConstLabels: labels,
		}),
		scheduled: factory.NewCounter(prometheus.CounterOpts{
			Name:        "biomonkey_load_tasks_scheduled",
			Help:        "The number of page loads scheduled.",
			ConstLabels: labels,
		}),
		evictions: factory.NewCounter(prometheus.CounterOpts{
			Name:        "biomonkey_pages_evicted",
			Help:        "The number of pages unloaded and removed from the grid.",
			ConstLabels: labels,
		}),
		discarded: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "biomonkey_load_results_discarded",
			Help:        "Completed page loads that were not attached.",
			ConstLabels: labels,
		}, []string{reasonLabel}),
		loadLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:        "biomonkey_load_duration_seconds",
			Help:        "The time spent generating a page.",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
	}
}

func (m *metrics) instrumentDiscard(reason string) {
	m.discarded.With(prometheus.Labels{reasonLabel: reason}).Inc()
}

func (m *metrics) instrumentLoad(d time.Duration) {
	m.loadLatency.Observe(d.Seconds())
}
