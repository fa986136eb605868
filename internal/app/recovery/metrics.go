package recovery

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts recovery activity. A nil *Metrics records nothing.
type Metrics struct {
	transitions  *prometheus.CounterVec
	rejections   *prometheus.CounterVec
	retries      *prometheus.CounterVec
	sweepRuns    prometheus.Counter
	sweepExpired prometheus.Counter
	sweepRaced   prometheus.Counter
}

// NewMetrics registers the recovery collectors with reg. A nil reg creates
// unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "familyspace_recovery_transitions_total",
			Help: "Claim status transitions, by from and to status",
		}, []string{"from", "to"}),
		rejections: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "familyspace_recovery_rejections_total",
			Help: "Refused recovery operations, by operation and reason",
		}, []string{"operation", "reason"}),
		retries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "familyspace_recovery_retries_total",
			Help: "Retried attempts after a write conflict or transient store error",
		}, []string{"operation"}),
		sweepRuns: factory.NewCounter(prometheus.CounterOpts{
			Name: "familyspace_recovery_sweep_runs_total",
			Help: "Expiry sweep runs",
		}),
		sweepExpired: factory.NewCounter(prometheus.CounterOpts{
			Name: "familyspace_recovery_sweep_expired_total",
			Help: "Claims expired by the sweep",
		}),
		sweepRaced: factory.NewCounter(prometheus.CounterOpts{
			Name: "familyspace_recovery_sweep_raced_total",
			Help: "Sweep expirations lost to a concurrent writer",
		}),
	}
}

func (m *Metrics) transition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) rejection(op string, err error) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(op, Kind(err)).Inc()
}

func (m *Metrics) retry(op string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(op).Inc()
}

func (m *Metrics) sweep(res SweepResult) {
	if m == nil {
		return
	}
	m.sweepRuns.Inc()
	m.sweepExpired.Add(float64(res.Expired))
	m.sweepRaced.Add(float64(res.Raced))
}
