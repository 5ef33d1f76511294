package authz

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts kernel decisions by module and outcome.
type Metrics struct {
	decisions *prometheus.CounterVec
}

// NewMetrics registers the decision counters on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	decisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "aegis_authz_decisions_total",
		Help: "Authorization decisions by module and outcome.",
	}, []string{"module", "outcome"})
	reg.MustRegister(decisions)
	return &Metrics{decisions: decisions}
}

// Observe records one decision. Allowed decisions count under
// "allowed" (or "bypass" for super-admin short circuits); denials
// count under their reason code.
func (m *Metrics) Observe(module Module, d Decision) {
	if m == nil {
		return
	}
	outcome := "allowed"
	switch {
	case d.Allowed && d.Bypass:
		outcome = "bypass"
	case !d.Allowed:
		outcome = string(d.Reason)
	}
	m.decisions.WithLabelValues(string(module), outcome).Inc()
}
