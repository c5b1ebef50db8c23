// Package metrics exposes the mjpegd Prometheus collectors: frame
// throughput, fan-out size, and the Polling Task's active/idle state,
// plus TCP source reconnect activity.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector implements poll.Metrics and stream.ReconnectObserver against a
// dedicated prometheus.Registry, so a process embedding mjpegd as a
// library can keep its own registry clean.
type Collector struct {
	registry *prometheus.Registry

	framesRead    prometheus.Counter
	framesSkipped prometheus.Counter
	subscribers   prometheus.Gauge
	taskActive    prometheus.Gauge
	tcpReconnects prometheus.Counter
}

// New builds a Collector registered against a fresh registry.
func New() *Collector {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	c := &Collector{
		registry: reg,
		framesRead: factory.NewCounter(prometheus.CounterOpts{
			Name: "mjpegd_frames_read_total",
			Help: "Frames successfully read from the frame source and dispatched.",
		}),
		framesSkipped: factory.NewCounter(prometheus.CounterOpts{
			Name: "mjpegd_frames_skipped_total",
			Help: "Ticks where the frame source reported a transient, zero-length read.",
		}),
		subscribers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mjpegd_subscribers",
			Help: "Number of clients currently enrolled with the active polling task.",
		}),
		taskActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mjpegd_polling_task_active",
			Help: "1 while a polling task is running, 0 while hibernating.",
		}),
		tcpReconnects: factory.NewCounter(prometheus.CounterOpts{
			Name: "mjpegd_tcp_reconnects_total",
			Help: "Reconnect attempts made by the TCP source.",
		}),
	}
	return c
}

// Registry returns the collector's prometheus registry, for mounting
// under a /metrics handler.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// SetTaskActive implements poll.Metrics.
func (c *Collector) SetTaskActive(active bool) {
	if active {
		c.taskActive.Set(1)
		return
	}
	c.taskActive.Set(0)
}

// SetSubscribers implements poll.Metrics.
func (c *Collector) SetSubscribers(n int) {
	c.subscribers.Set(float64(n))
}

// IncFramesRead implements poll.Metrics.
func (c *Collector) IncFramesRead() {
	c.framesRead.Inc()
}

// IncFramesSkipped implements poll.Metrics.
func (c *Collector) IncFramesSkipped() {
	c.framesSkipped.Inc()
}

// IncTCPReconnect records one TCP source reconnect attempt.
func (c *Collector) IncTCPReconnect() {
	c.tcpReconnects.Inc()
}
