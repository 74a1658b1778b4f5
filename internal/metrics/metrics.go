// Package metrics exposes orchestrator activity in the Prometheus text format.
//
//   - <ns>_cycles_total                    completed cycles
//   - <ns>_cycle_duration_seconds          cycle wall time
//   - <ns>_orders_total{event,side,reason} orders placed, cancelled or updated
//   - <ns>_unstuck_total{side,mode}        unstuck actions (slow|force|kill)
//   - <ns>_admissions_total{side}          symbols admitted to a side
//   - <ns>_exclusions_total{reason}        symbols excluded from the universe
//   - <ns>_wallet_exposure{side}           aggregate exposure after the last cycle
//   - <ns>_open_positions{side}            open legs after the last cycle
//   - <ns>_equity                          wallet equity in quote asset
//   - <ns>_errors_total{source}            error events
package metrics

import (
	"net/http"
	"strconv"

	"cryptoblade/internal/events"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private registry so several instances can coexist in tests
type Metrics struct {
	registry *prometheus.Registry

	cycles        prometheus.Counter
	cycleDuration prometheus.Histogram
	orders        *prometheus.CounterVec
	unstucks      *prometheus.CounterVec
	admissions    *prometheus.CounterVec
	exclusions    *prometheus.CounterVec
	exposure      *prometheus.GaugeVec
	openPositions *prometheus.GaugeVec
	equity        prometheus.Gauge
	errors        *prometheus.CounterVec
}

// New creates and registers all collectors under namespace
func New(namespace string) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Completed orchestrator cycles",
		}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of one orchestrator cycle",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_total",
			Help:      "Order events by event type, side and reason",
		}, []string{"event", "side", "reason"}),
		unstucks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unstuck_total",
			Help:      "Unstuck actions by position side and mode",
		}, []string{"side", "mode"}),
		admissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admissions_total",
			Help:      "Symbols admitted to open a new position",
		}, []string{"side"}),
		exclusions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exclusions_total",
			Help:      "Symbols excluded from the tradable universe",
		}, []string{"reason"}),
		exposure: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "wallet_exposure",
			Help:      "Aggregate wallet exposure per side after the last cycle",
		}, []string{"side"}),
		openPositions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_positions",
			Help:      "Open legs per side after the last cycle",
		}, []string{"side"}),
		equity: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "equity",
			Help:      "Wallet equity in the quote asset",
		}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Error events by source",
		}, []string{"source"}),
	}

	m.registry.MustRegister(
		m.cycles, m.cycleDuration, m.orders, m.unstucks, m.admissions,
		m.exclusions, m.exposure, m.openPositions, m.equity, m.errors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry is exposed for tests and extra collectors
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Attach subscribes to every bus event
func (m *Metrics) Attach(bus *events.EventBus) {
	bus.SubscribeAll(m.Observe)
}

// Observe updates the collectors for one event
func (m *Metrics) Observe(ev events.Event) {
	switch ev.Type {
	case events.EventOrderPlaced, events.EventOrderUpdate:
		m.orders.WithLabelValues(string(ev.Type), ev.String("position_side"), ev.String("reason")).Inc()
	case events.EventOrderCancelled:
		m.orders.WithLabelValues(string(ev.Type), "", ev.String("reason")).Inc()
	case events.EventUnstuckTriggered:
		m.unstucks.WithLabelValues(ev.String("side"), unstuckMode(ev)).Inc()
	case events.EventSymbolAdmitted:
		m.admissions.WithLabelValues(ev.String("side")).Inc()
	case events.EventSymbolExcluded:
		m.exclusions.WithLabelValues(ev.String("reason")).Inc()
	case events.EventCycleCompleted:
		m.cycles.Inc()
		if ms, ok := ev.Data["duration_ms"].(int64); ok {
			m.cycleDuration.Observe(float64(ms) / 1000)
		}
		setFromString(m.exposure.WithLabelValues("LONG"), ev.String("long_exposure"))
		setFromString(m.exposure.WithLabelValues("SHORT"), ev.String("short_exposure"))
		if n, ok := ev.Data["open_long"].(int); ok {
			m.openPositions.WithLabelValues("LONG").Set(float64(n))
		}
		if n, ok := ev.Data["open_short"].(int); ok {
			m.openPositions.WithLabelValues("SHORT").Set(float64(n))
		}
	case events.EventBalanceUpdate:
		setFromString(m.equity, ev.String("equity"))
	case events.EventError:
		m.errors.WithLabelValues(ev.String("source")).Inc()
	}
}

func unstuckMode(ev events.Event) string {
	if kill, _ := ev.Data["kill"].(bool); kill {
		return "kill"
	}
	if force, _ := ev.Data["force"].(bool); force {
		return "force"
	}
	return "slow"
}

// setFromString leaves g untouched when s is empty or malformed
func setFromString(g prometheus.Gauge, s string) {
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		g.Set(v)
	}
}
