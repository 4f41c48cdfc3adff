// Package metrics exposes Prometheus counters for worker lifecycle
// transitions, fed from the event bus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/akosev/camnode/internal/events"
)

// Collector registers lifecycle metrics on its own registry so tests
// can run multiple instances without global-state collisions.
type Collector struct {
	registry *prometheus.Registry

	spawns        *prometheus.CounterVec
	exits         *prometheus.CounterVec
	spawnFailures *prometheus.CounterVec
	restarts      *prometheus.CounterVec
	forcedStops   *prometheus.CounterVec
	configReloads prometheus.Counter
	configErrors  prometheus.Counter
	running       prometheus.Gauge

	unsubs []func()
}

// NewCollector creates a collector subscribed to the bus.
func NewCollector(bus *events.Bus) *Collector {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	c := &Collector{
		registry: registry,
		spawns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "camnode_worker_spawns_total",
			Help: "Number of worker processes spawned.",
		}, []string{"camera", "output"}),
		exits: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "camnode_worker_exits_total",
			Help: "Number of unexpected worker exits.",
		}, []string{"camera", "output"}),
		spawnFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "camnode_worker_spawn_failures_total",
			Help: "Number of failed worker spawn attempts.",
		}, []string{"camera", "output"}),
		restarts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "camnode_worker_restarts_scheduled_total",
			Help: "Number of restarts scheduled after worker failures.",
		}, []string{"camera", "output"}),
		forcedStops: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "camnode_worker_forced_stops_total",
			Help: "Number of workers that ignored the graceful stop signal and were killed.",
		}, []string{"camera", "output"}),
		configReloads: factory.NewCounter(prometheus.CounterOpts{
			Name: "camnode_config_reloads_total",
			Help: "Number of configuration snapshots applied.",
		}),
		configErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "camnode_config_errors_total",
			Help: "Number of rejected configuration files.",
		}),
		running: factory.NewGauge(prometheus.GaugeOpts{
			Name: "camnode_workers_running",
			Help: "Number of worker processes currently running.",
		}),
	}

	c.unsubs = append(c.unsubs,
		bus.Subscribe(func(e events.WorkerSpawnedEvent) {
			c.spawns.WithLabelValues(e.Camera, e.Output).Inc()
			c.running.Inc()
		}),
		bus.Subscribe(func(e events.WorkerExitedEvent) {
			if e.SpawnFailed {
				c.spawnFailures.WithLabelValues(e.Camera, e.Output).Inc()
				return
			}
			c.exits.WithLabelValues(e.Camera, e.Output).Inc()
			c.running.Dec()
		}),
		bus.Subscribe(func(e events.RestartScheduledEvent) {
			c.restarts.WithLabelValues(e.Camera, e.Output).Inc()
		}),
		bus.Subscribe(func(e events.WorkerStoppedEvent) {
			if e.Forced {
				c.forcedStops.WithLabelValues(e.Camera, e.Output).Inc()
			}
			if e.PID > 0 {
				c.running.Dec()
			}
		}),
		bus.Subscribe(func(e events.ConfigReloadedEvent) {
			c.configReloads.Inc()
		}),
		bus.Subscribe(func(e events.ConfigErrorEvent) {
			c.configErrors.Inc()
		}),
	)

	return c
}

// Handler returns the scrape endpoint for this collector's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Close unsubscribes the collector from the bus.
func (c *Collector) Close() {
	for _, unsub := range c.unsubs {
		unsub()
	}
	c.unsubs = nil
}
