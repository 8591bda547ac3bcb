package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics collects the checkpoint package's Prometheus
// counters and gauges, namespaced "checkpoint_".
//
// Exposed series:
//
//   - checkpoints_total (counter, labels: agent, branch)
//   - rollbacks_total (counter, labels: agent)
//   - recoveries_total (counter, labels: agent)
//   - branches_total (counter, labels: agent)
//   - merges_total (counter, labels: agent)
//   - errors_caught_total (counter, labels: agent)
//   - active_checkpoints (gauge, labels: agent): count of checkpoints
//     whose status is still active
type PrometheusMetrics struct {
	checkpoints       *prometheus.CounterVec
	rollbacks         *prometheus.CounterVec
	recoveries        *prometheus.CounterVec
	branches          *prometheus.CounterVec
	merges            *prometheus.CounterVec
	errorsCaught      *prometheus.CounterVec
	activeCheckpoints *prometheus.GaugeVec
}

// NewPrometheusMetrics registers the checkpoint metric family with
// registry. Pass prometheus.DefaultRegisterer for the global registry
// or a fresh prometheus.NewRegistry() for test isolation.
func NewPrometheusMetrics(registry prometheus.Registerer) *PrometheusMetrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &PrometheusMetrics{
		checkpoints: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "checkpoint",
			Name:      "checkpoints_total",
			Help:      "Checkpoints created",
		}, []string{"agent", "branch"}),
		rollbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "checkpoint",
			Name:      "rollbacks_total",
			Help:      "Rollback operations performed",
		}, []string{"agent"}),
		recoveries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "checkpoint",
			Name:      "recoveries_total",
			Help:      "Safe-executed calls that recovered via a successful fallback",
		}, []string{"agent"}),
		branches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "checkpoint",
			Name:      "branches_total",
			Help:      "Branches created",
		}, []string{"agent"}),
		merges: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "checkpoint",
			Name:      "merges_total",
			Help:      "Branch merges performed",
		}, []string{"agent"}),
		errorsCaught: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "checkpoint",
			Name:      "errors_caught_total",
			Help:      "Errors observed by safe_execute across all attempts",
		}, []string{"agent"}),
		activeCheckpoints: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "checkpoint",
			Name:      "active_checkpoints",
			Help:      "Checkpoints currently in the active status",
		}, []string{"agent"}),
	}
}

func (m *PrometheusMetrics) IncCheckpoint(agent, branch string) {
	m.checkpoints.WithLabelValues(agent, branch).Inc()
	m.activeCheckpoints.WithLabelValues(agent).Inc()
}

func (m *PrometheusMetrics) IncRollback(agent string, stepsRolledBack int) {
	m.rollbacks.WithLabelValues(agent).Inc()
	m.activeCheckpoints.WithLabelValues(agent).Sub(float64(stepsRolledBack))
}

func (m *PrometheusMetrics) IncRecovery(agent string) {
	m.recoveries.WithLabelValues(agent).Inc()
}

func (m *PrometheusMetrics) IncBranch(agent string) {
	m.branches.WithLabelValues(agent).Inc()
}

func (m *PrometheusMetrics) IncMerge(agent string) {
	m.merges.WithLabelValues(agent).Inc()
}

func (m *PrometheusMetrics) AddErrorsCaught(agent string, n int) {
	if n <= 0 {
		return
	}
	m.errorsCaught.WithLabelValues(agent).Add(float64(n))
}

// Emitter adapts PrometheusMetrics to the Emitter interface, so a
// Session can drive Prometheus purely through Event fan-out alongside
// any other configured emitter.
func (m *PrometheusMetrics) Emit(ev Event) {
	agent, _ := ev.Meta["agent"].(string)
	switch ev.Op {
	case "checkpoint":
		m.IncCheckpoint(agent, ev.Branch)
	case "rollback":
		steps, _ := ev.Meta["steps"].(int)
		m.IncRollback(agent, steps)
	case "branch":
		m.IncBranch(agent)
	case "merge":
		m.IncMerge(agent)
	case "safe_execute":
		if recovered, _ := ev.Meta["recovered"].(bool); recovered {
			m.IncRecovery(agent)
		}
		if caught, ok := ev.Meta["errors_caught"].(int); ok {
			m.AddErrorsCaught(agent, caught)
		}
	}
}
