package metrics

import "github.com/prometheus/client_golang/prometheus"

// SchedulingMetrics covers availability queries and booking outcomes.
type SchedulingMetrics struct {
	availabilityBlocks *prometheus.HistogramVec
	bookingsTotal      *prometheus.CounterVec
}

func NewSchedulingMetrics(reg prometheus.Registerer) *SchedulingMetrics {
	m := &SchedulingMetrics{
		availabilityBlocks: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "scheduling",
			Name:      "availability_blocks",
			Help:      "Blocks returned per availability query",
			Buckets:   []float64{0, 1, 5, 10, 25, 50, 100, 250, 500},
		}, []string{"audience"}),
		bookingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scheduling",
			Name:      "bookings_total",
			Help:      "Booking attempts by kind and outcome",
		}, []string{"kind", "outcome"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.availabilityBlocks, m.bookingsTotal)
	return m
}

func (m *SchedulingMetrics) ObserveAvailability(audience string, blocks int) {
	if m == nil {
		return
	}
	m.availabilityBlocks.WithLabelValues(audience).Observe(float64(blocks))
}

func (m *SchedulingMetrics) ObserveBooking(kind, outcome string) {
	if m == nil {
		return
	}
	m.bookingsTotal.WithLabelValues(kind, outcome).Inc()
}
