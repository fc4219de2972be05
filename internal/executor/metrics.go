package executor

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks executor throughput and concurrency for scraping. Built as
// a package-level singleton the way the teacher's canvas metrics are, so
// every Executor in a process shares one registration.
type Metrics struct {
	IntentsStarted   prometheus.Counter
	IntentsCompleted prometheus.Counter
	IntentsFailed    prometheus.Counter
	InFlight         prometheus.Gauge
	GraphsSubmitted  prometheus.Counter
}

var (
	metricsOnce     sync.Once
	metricsInstance *Metrics
)

// GetMetrics returns the process-wide executor Metrics, constructing it on
// first use.
func GetMetrics() *Metrics {
	metricsOnce.Do(func() {
		metricsInstance = &Metrics{
			IntentsStarted: promauto.NewCounter(prometheus.CounterOpts{
				Name: "nexus_executor_intents_started_total",
				Help: "Total intents the executor began running.",
			}),
			IntentsCompleted: promauto.NewCounter(prometheus.CounterOpts{
				Name: "nexus_executor_intents_completed_total",
				Help: "Total intents that reached a successful terminal observation.",
			}),
			IntentsFailed: promauto.NewCounter(prometheus.CounterOpts{
				Name: "nexus_executor_intents_failed_total",
				Help: "Total intents that reached an error terminal observation.",
			}),
			InFlight: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "nexus_executor_intents_in_flight",
				Help: "Intents currently executing.",
			}),
			GraphsSubmitted: promauto.NewCounter(prometheus.CounterOpts{
				Name: "nexus_executor_graphs_submitted_total",
				Help: "Total intent graphs submitted to Run.",
			}),
		}
	})
	return metricsInstance
}

func (m *Metrics) started() {
	if m == nil || m.IntentsStarted == nil {
		return
	}
	m.IntentsStarted.Inc()
	if m.InFlight != nil {
		m.InFlight.Inc()
	}
}

func (m *Metrics) completed(ok bool) {
	if m == nil {
		return
	}
	if m.InFlight != nil {
		m.InFlight.Dec()
	}
	if ok {
		if m.IntentsCompleted != nil {
			m.IntentsCompleted.Inc()
		}
		return
	}
	if m.IntentsFailed != nil {
		m.IntentsFailed.Inc()
	}
}

func (m *Metrics) graphSubmitted() {
	if m == nil || m.GraphsSubmitted == nil {
		return
	}
	m.GraphsSubmitted.Inc()
}
