// Package metrics wraps github.com/rcrowley/go-metrics, giving the
// block-graph core a small set of named counters/timers without
// leaking the upstream registry type through every package.
package metrics

import "github.com/rcrowley/go-metrics"

var registry = metrics.NewRegistry()

// NewRegisteredCounter registers and returns a monotonically
// increasing counter under name.
func NewRegisteredCounter(name string) metrics.Counter {
	return metrics.NewRegisteredCounter(name, registry)
}

// NewRegisteredTimer registers and returns a timer under name.
func NewRegisteredTimer(name string) metrics.Timer {
	return metrics.NewRegisteredTimer(name, registry)
}

// NewRegisteredGauge registers and returns a gauge under name.
func NewRegisteredGauge(name string) metrics.Gauge {
	return metrics.NewRegisteredGauge(name, registry)
}

// Registry exposes the backing registry for reporters (e.g. an
// InfluxDB/console reporter wired in by the embedding node).
func Registry() metrics.Registry { return registry }
