// Package metrics exposes the coordinator's state transitions to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds every scopegate metric. Construct one per process with a
// private registry so tests can create collectors freely.
type Collector struct {
	registry *prometheus.Registry

	commandsEnqueued   prometheus.Counter
	commandsDispatched prometheus.Counter
	commandsRetried    prometheus.Counter
	commandsCompleted  prometheus.Counter
	commandsFailed     prometheus.Counter

	dispatchLatency prometheus.Histogram

	activeGrants   prometheus.Gauge
	poolInUse      prometheus.Gauge
	poolExhausted  prometheus.Counter
	selfTestFailed prometheus.Counter
}

func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		commandsEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scopegate_commands_enqueued_total",
			Help: "Commands accepted for dispatch across the privilege boundary.",
		}),
		commandsDispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scopegate_commands_dispatched_total",
			Help: "Dispatch attempts, including retries.",
		}),
		commandsRetried: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scopegate_commands_retried_total",
			Help: "Dispatch attempts that failed and were requeued.",
		}),
		commandsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scopegate_commands_completed_total",
			Help: "Commands that reached the completed terminal state.",
		}),
		commandsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scopegate_commands_failed_total",
			Help: "Commands that reached the failed terminal state.",
		}),
		dispatchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "scopegate_dispatch_latency_seconds",
			Help:    "Time spent in one helper dispatch.",
			Buckets: prometheus.DefBuckets,
		}),
		activeGrants: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scopegate_active_grants",
			Help: "Paths with an active platform access grant.",
		}),
		poolInUse: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scopegate_pool_in_use",
			Help: "Pooled resources currently handed out.",
		}),
		poolExhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scopegate_pool_exhausted_total",
			Help: "Add or acquire attempts refused because the pool was full or empty.",
		}),
		selfTestFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scopegate_pool_self_test_failed_total",
			Help: "Resources rejected by the admission self-test.",
		}),
	}

	c.registry.MustRegister(
		c.commandsEnqueued,
		c.commandsDispatched,
		c.commandsRetried,
		c.commandsCompleted,
		c.commandsFailed,
		c.dispatchLatency,
		c.activeGrants,
		c.poolInUse,
		c.poolExhausted,
		c.selfTestFailed,
	)
	return c
}

// Registry returns the private registry, for mounting a promhttp handler.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

func (c *Collector) RecordEnqueue()  { c.commandsEnqueued.Inc() }
func (c *Collector) RecordDispatch() { c.commandsDispatched.Inc() }
func (c *Collector) RecordRetry()    { c.commandsRetried.Inc() }

func (c *Collector) RecordCompleted(latencySeconds float64) {
	c.commandsCompleted.Inc()
	c.dispatchLatency.Observe(latencySeconds)
}

func (c *Collector) RecordFailed() { c.commandsFailed.Inc() }

func (c *Collector) SetActiveGrants(n int) { c.activeGrants.Set(float64(n)) }
func (c *Collector) SetPoolInUse(n int)    { c.poolInUse.Set(float64(n)) }
func (c *Collector) RecordPoolExhausted()  { c.poolExhausted.Inc() }
func (c *Collector) RecordSelfTestFailed() { c.selfTestFailed.Inc() }
