package monitor

import (
	"database/sql"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "playtime"

// Sweep outcomes used as the "result" label.
const (
	SweepCompleted = "completed"
	SweepSkipped   = "skipped"
	SweepIdle      = "idle"
	SweepPartial   = "partial"
)

// Sources are read on every Update to refresh the gauges.
type Sources struct {
	OnlinePlayers func() int
	ActiveQueues  func() int
	DBStats       func() sql.DBStats
}

// PrometheusMetrics owns a private registry with the tracker's metrics.
// All recording methods are safe on a nil receiver.
type PrometheusMetrics struct {
	Registry *prometheus.Registry

	monitor *Monitor

	mu      sync.RWMutex
	sources Sources

	transitions   *prometheus.CounterVec
	sweeps        *prometheus.CounterVec
	sweepDuration prometheus.Histogram
	sweepPlayers  prometheus.Gauge
	storeErrors   *prometheus.CounterVec
	cacheLookups  *prometheus.CounterVec
	degraded      prometheus.Counter
	reloads       *prometheus.CounterVec

	onlinePlayers prometheus.Gauge
	activeQueues  prometheus.Gauge
	dbOpen        prometheus.Gauge
	dbInUse       prometheus.Gauge
	dbWaitCount   prometheus.Gauge
	processCPU    prometheus.Gauge
	processRSS    prometheus.Gauge
}

// NewPrometheusMetrics creates and registers every metric. mon may be nil.
func NewPrometheusMetrics(mon *Monitor) *PrometheusMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	p := &PrometheusMetrics{
		Registry: reg,
		monitor:  mon,
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Player lifecycle transitions by kind and result.",
		}, []string{"kind", "result"}),
		sweeps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweeps_total",
			Help:      "Periodic sweeps by result.",
		}, []string{"result"}),
		sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Duration of sweeps that did work.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		sweepPlayers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sweep_players",
			Help:      "Players recomputed by the last sweep.",
		}),
		storeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_errors_total",
			Help:      "Failed store operations by operation.",
		}, []string{"op"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Cooldown cache lookups by result.",
		}, []string{"result"}),
		degraded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "degraded_reads_total",
			Help:      "Playtime queries answered from a stale value because the store failed.",
		}),
		reloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reloads_total",
			Help:      "Full recomputations by result.",
		}, []string{"result"}),
		onlinePlayers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "online_players",
			Help:      "Players with an open session.",
		}),
		activeQueues: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dispatcher_active_queues",
			Help:      "Players with queued or running work.",
		}),
		dbOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_open_connections",
			Help:      "Open store connections.",
		}),
		dbInUse: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_in_use_connections",
			Help:      "Store connections currently in use.",
		}),
		dbWaitCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_wait_count",
			Help:      "Total waits for a pooled store connection.",
		}),
		processCPU: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "process_cpu_percent",
			Help:      "Process CPU usage as reported by the OS.",
		}),
		processRSS: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "process_memory_bytes",
			Help:      "Process resident memory.",
		}),
	}

	reg.MustRegister(
		p.transitions, p.sweeps, p.sweepDuration, p.sweepPlayers,
		p.storeErrors, p.cacheLookups, p.degraded, p.reloads,
		p.onlinePlayers, p.activeQueues,
		p.dbOpen, p.dbInUse, p.dbWaitCount,
		p.processCPU, p.processRSS,
	)
	return p
}

// SetSources installs the callbacks read by Update.
func (p *PrometheusMetrics) SetSources(s Sources) {
	if p == nil {
		return
	}
	p.mu.Lock()
	p.sources = s
	p.mu.Unlock()
}

// Update refreshes the gauges before a scrape.
func (p *PrometheusMetrics) Update() {
	if p == nil {
		return
	}
	p.mu.RLock()
	s := p.sources
	p.mu.RUnlock()

	if s.OnlinePlayers != nil {
		p.onlinePlayers.Set(float64(s.OnlinePlayers()))
	}
	if s.ActiveQueues != nil {
		p.activeQueues.Set(float64(s.ActiveQueues()))
	}
	if s.DBStats != nil {
		st := s.DBStats()
		p.dbOpen.Set(float64(st.OpenConnections))
		p.dbInUse.Set(float64(st.InUse))
		p.dbWaitCount.Set(float64(st.WaitCount))
	}
	if p.monitor != nil {
		if info, err := p.monitor.GetProcessInfo(); err == nil {
			p.processCPU.Set(info.CPUPercent)
			p.processRSS.Set(float64(info.MemoryBytes))
		}
	}
}

// ObserveTransition counts a connect, server switch or disconnect.
func (p *PrometheusMetrics) ObserveTransition(kind string, err error) {
	if p == nil {
		return
	}
	p.transitions.WithLabelValues(kind, resultLabel(err)).Inc()
}

// ObserveSweep records one sweep tick.
func (p *PrometheusMetrics) ObserveSweep(result string, players int, d time.Duration) {
	if p == nil {
		return
	}
	p.sweeps.WithLabelValues(result).Inc()
	if result == SweepCompleted || result == SweepPartial {
		p.sweepDuration.Observe(d.Seconds())
		p.sweepPlayers.Set(float64(players))
	}
}

// IncStoreError counts a failed store operation.
func (p *PrometheusMetrics) IncStoreError(op string) {
	if p == nil {
		return
	}
	p.storeErrors.WithLabelValues(op).Inc()
}

// ObserveCacheLookup counts a cooldown cache hit or miss.
func (p *PrometheusMetrics) ObserveCacheLookup(hit bool) {
	if p == nil {
		return
	}
	if hit {
		p.cacheLookups.WithLabelValues("hit").Inc()
	} else {
		p.cacheLookups.WithLabelValues("miss").Inc()
	}
}

// IncDegraded counts a query served from a stale value.
func (p *PrometheusMetrics) IncDegraded() {
	if p == nil {
		return
	}
	p.degraded.Inc()
}

// ObserveReload counts a full recomputation.
func (p *PrometheusMetrics) ObserveReload(err error) {
	if p == nil {
		return
	}
	p.reloads.WithLabelValues(resultLabel(err)).Inc()
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
