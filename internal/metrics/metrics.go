package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Reservation outcome labels
const (
	OutcomeReserved    = "reserved"
	OutcomeSoldOut     = "sold_out"
	OutcomeUnavailable = "unavailable"
	OutcomeConflict    = "conflict"
	OutcomeError       = "error"
)

// Metrics holds the collectors exported on /metrics
type Metrics struct {
	Reservations        *prometheus.CounterVec
	CapacityConflicts   *prometheus.CounterVec
	InvariantViolations prometheus.Counter
	SweepRecords        *prometheus.CounterVec
	RefundResolutions   *prometheus.CounterVec
	InvitationResponses *prometheus.CounterVec
}

// New creates the collectors and registers them on reg.
// Pass prometheus.NewRegistry() in tests to avoid duplicate registration.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Reservations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tour_booking",
			Name:      "reservations_total",
			Help:      "Reservation attempts by outcome",
		}, []string{"outcome"}),
		CapacityConflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tour_booking",
			Name:      "capacity_conflicts_total",
			Help:      "Version conflicts hit while writing capacity counters",
		}, []string{"kind"}),
		InvariantViolations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tour_booking",
			Name:      "capacity_invariant_violations_total",
			Help:      "Releases that would have driven a capacity counter negative",
		}),
		SweepRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tour_booking",
			Name:      "sweep_records_total",
			Help:      "Records handled by background sweeps",
		}, []string{"sweep", "result"}),
		RefundResolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tour_booking",
			Name:      "refund_resolutions_total",
			Help:      "Refund policy resolutions by refund type and outcome",
		}, []string{"refund_type", "outcome"}),
		InvitationResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tour_booking",
			Name:      "invitation_responses_total",
			Help:      "Guide invitation responses",
		}, []string{"response"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.Reservations,
			m.CapacityConflicts,
			m.InvariantViolations,
			m.SweepRecords,
			m.RefundResolutions,
			m.InvitationResponses,
		)
	}
	return m
}

// NewNop returns collectors that are not registered anywhere
func NewNop() *Metrics {
	return New(nil)
}

// ObserveReservation counts one reservation attempt
func (m *Metrics) ObserveReservation(outcome string) {
	m.Reservations.WithLabelValues(outcome).Inc()
}

// ObserveConflict counts one failed compare-and-swap
func (m *Metrics) ObserveConflict(kind string) {
	m.CapacityConflicts.WithLabelValues(kind).Inc()
}

// ObserveInvariantViolation counts one clamped release
func (m *Metrics) ObserveInvariantViolation() {
	m.InvariantViolations.Inc()
}

// ObserveSweep counts one record handled by a sweep
func (m *Metrics) ObserveSweep(sweep, result string) {
	m.SweepRecords.WithLabelValues(sweep, result).Inc()
}

// ObserveRefund counts one refund resolution
func (m *Metrics) ObserveRefund(refundType, outcome string) {
	m.RefundResolutions.WithLabelValues(refundType, outcome).Inc()
}

// ObserveInvitationResponse counts one guide response
func (m *Metrics) ObserveInvitationResponse(response string) {
	m.InvitationResponses.WithLabelValues(response).Inc()
}
