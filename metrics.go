package fedauth

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts authentication outcomes.  A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	LoginAttemptsTotal     *prometheus.CounterVec
	IdentitiesCreatedTotal *prometheus.CounterVec
	SessionsTotal          *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on reg when non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		LoginAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fedauth_login_attempts_total",
				Help: "Total number of login attempts by method and outcome",
			},
			[]string{"method", "outcome"},
		),
		IdentitiesCreatedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fedauth_identities_created_total",
				Help: "Total number of identities created by method",
			},
			[]string{"method"},
		),
		SessionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fedauth_sessions_total",
				Help: "Total number of session lifecycle events",
			},
			[]string{"event"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.LoginAttemptsTotal, m.IdentitiesCreatedTotal, m.SessionsTotal)
	}
	return m
}

func (m *Metrics) loginAttempt(method, outcome string) {
	if m == nil {
		return
	}
	m.LoginAttemptsTotal.WithLabelValues(method, outcome).Inc()
}

func (m *Metrics) identityCreated(method string) {
	if m == nil {
		return
	}
	m.IdentitiesCreatedTotal.WithLabelValues(method).Inc()
}

func (m *Metrics) sessionEvent(event string) {
	if m == nil {
		return
	}
	m.SessionsTotal.WithLabelValues(event).Inc()
}
