package handlers

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	otpTotal *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		otpTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "auth",
			Name:      "otp_total",
			Help:      "OTP requests and verifications by outcome",
		}, []string{"step", "outcome"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.otpTotal)
	return m
}

func (m *Metrics) ObserveOTP(step, outcome string) {
	if m == nil {
		return
	}
	m.otpTotal.WithLabelValues(step, outcome).Inc()
}
