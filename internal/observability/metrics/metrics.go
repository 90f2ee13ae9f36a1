package metrics

import "github.com/prometheus/client_golang/prometheus"

const (
	namespace = "studio"
	subsystem = "booking"
)

// BookingMetrics exposes counters/histograms for availability and booking flows.
type BookingMetrics struct {
	availabilityTotal   *prometheus.CounterVec
	availabilityLatency *prometheus.HistogramVec
	bookingsTotal       *prometheus.CounterVec
	mirrorFailures      prometheus.Counter
	mirrorRetries       *prometheus.CounterVec
	busySkipped         *prometheus.CounterVec
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		availabilityTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "availability_total",
			Help:      "Availability lookups by result",
		}, []string{"result"}),
		availabilityLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "availability_latency_seconds",
			Help:      "Latency of availability lookups including busy-source reads",
			Buckets:   prometheus.DefBuckets,
		}, []string{"result"}),
		bookingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "bookings_total",
			Help:      "Booking attempts by result",
		}, []string{"result"}),
		mirrorFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "mirror_failures_total",
			Help:      "Calendar mirror writes that failed after the reservation was stored",
		}),
		mirrorRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "mirror_retries_total",
			Help:      "Calendar mirror retries processed by the worker",
		}, []string{"result"}),
		busySkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "busy_entries_skipped_total",
			Help:      "External calendar entries skipped as malformed or non-blocking",
		}, []string{"source"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.availabilityTotal, m.availabilityLatency, m.bookingsTotal, m.mirrorFailures, m.mirrorRetries, m.busySkipped)
	return m
}

func (m *BookingMetrics) ObserveAvailability(result string, seconds float64) {
	if m == nil {
		return
	}
	m.availabilityTotal.WithLabelValues(result).Inc()
	m.availabilityLatency.WithLabelValues(result).Observe(seconds)
}

func (m *BookingMetrics) ObserveBooking(result string) {
	if m == nil {
		return
	}
	m.bookingsTotal.WithLabelValues(result).Inc()
}

func (m *BookingMetrics) ObserveMirrorFailure() {
	if m == nil {
		return
	}
	m.mirrorFailures.Inc()
}

func (m *BookingMetrics) ObserveMirrorRetry(result string) {
	if m == nil {
		return
	}
	m.mirrorRetries.WithLabelValues(result).Inc()
}

// ObserveSkippedBusy matches calendar.SkipFunc.
func (m *BookingMetrics) ObserveSkippedBusy(source, _ string) {
	if m == nil {
		return
	}
	m.busySkipped.WithLabelValues(source).Inc()
}
