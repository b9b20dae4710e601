package metrics

import "github.com/prometheus/client_golang/prometheus"

// BookingMetrics exposes counters/histograms for the booking lifecycle.
type BookingMetrics struct {
	webhookTotal     *prometheus.CounterVec
	webhookLatency   *prometheus.HistogramVec
	decisionsTotal   *prometheus.CounterVec
	gatewayCalls     *prometheus.CounterVec
	gatewayLatency   *prometheus.HistogramVec
	incidentsTotal   *prometheus.CounterVec
	extensionsTotal  *prometheus.CounterVec
	sweepsTotal      *prometheus.CounterVec
	idempotencyTotal *prometheus.CounterVec
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		webhookTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hotel",
			Subsystem: "payments",
			Name:      "webhook_events_total",
			Help:      "Payment provider webhook events by outcome",
		}, []string{"event_type", "status"}),
		webhookLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "hotel",
			Subsystem: "payments",
			Name:      "webhook_latency_seconds",
			Help:      "Latency of payment webhook processing",
			Buckets:   prometheus.DefBuckets,
		}, []string{"event_type"}),
		decisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hotel",
			Subsystem: "bookings",
			Name:      "decisions_total",
			Help:      "Staff approve/decline/cancel decisions by outcome",
		}, []string{"action", "outcome"}),
		gatewayCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hotel",
			Subsystem: "payments",
			Name:      "gateway_calls_total",
			Help:      "Payment gateway calls by operation and outcome",
		}, []string{"operation", "outcome"}),
		gatewayLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "hotel",
			Subsystem: "payments",
			Name:      "gateway_latency_seconds",
			Help:      "Latency of payment gateway calls",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		incidentsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hotel",
			Subsystem: "overstay",
			Name:      "incidents_total",
			Help:      "Overstay incidents by lifecycle step",
		}, []string{"status", "severity"}),
		extensionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hotel",
			Subsystem: "overstay",
			Name:      "extensions_total",
			Help:      "Stay extensions by status",
		}, []string{"status"}),
		sweepsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hotel",
			Subsystem: "overstay",
			Name:      "sweeps_total",
			Help:      "Overstay detection sweeps by outcome",
		}, []string{"outcome"}),
		idempotencyTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hotel",
			Subsystem: "payments",
			Name:      "idempotency_reservations_total",
			Help:      "Idempotency key reservations by result",
		}, []string{"result"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.webhookTotal, m.webhookLatency, m.decisionsTotal, m.gatewayCalls, m.gatewayLatency,
		m.incidentsTotal, m.extensionsTotal, m.sweepsTotal, m.idempotencyTotal)
	return m
}

func (m *BookingMetrics) ObserveWebhook(eventType, status string, seconds float64) {
	if m == nil {
		return
	}
	m.webhookTotal.WithLabelValues(eventType, status).Inc()
	m.webhookLatency.WithLabelValues(eventType).Observe(seconds)
}

func (m *BookingMetrics) ObserveDecision(action, outcome string) {
	if m == nil {
		return
	}
	m.decisionsTotal.WithLabelValues(action, outcome).Inc()
}

func (m *BookingMetrics) ObserveGatewayCall(operation string, err error, seconds float64) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.gatewayCalls.WithLabelValues(operation, outcome).Inc()
	m.gatewayLatency.WithLabelValues(operation).Observe(seconds)
}

func (m *BookingMetrics) ObserveIncident(status, severity string) {
	if m == nil {
		return
	}
	m.incidentsTotal.WithLabelValues(status, severity).Inc()
}

func (m *BookingMetrics) ObserveExtension(status string) {
	if m == nil {
		return
	}
	m.extensionsTotal.WithLabelValues(status).Inc()
}

func (m *BookingMetrics) ObserveSweep(outcome string) {
	if m == nil {
		return
	}
	m.sweepsTotal.WithLabelValues(outcome).Inc()
}

func (m *BookingMetrics) ObserveReservation(result string) {
	if m == nil {
		return
	}
	m.idempotencyTotal.WithLabelValues(result).Inc()
}
