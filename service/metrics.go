package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors a Node exposes at /metrics.
// Construct once per Node with NewMetrics; a nil *Metrics is also valid
// and simply discards observations, so callers that don't care about
// metrics don't need a registry around.
type Metrics struct {
	roundDuration *prometheus.HistogramVec
	blameRounds   *prometheus.CounterVec
	badMembers    *prometheus.CounterVec
}

// NewMetrics registers the round-duration histogram and blame/bad-member
// counters against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		roundDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "dcnet",
			Subsystem: "bulk_round",
			Name:      "duration_seconds",
			Help:      "Wall-clock time from Start to Finished for a bulk round.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		blameRounds: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dcnet",
			Subsystem: "bulk_round",
			Name:      "blame_rounds_total",
			Help:      "Number of bulk rounds that fell through to the blame subprotocol.",
		}, []string{}),
		badMembers: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dcnet",
			Subsystem: "bulk_round",
			Name:      "bad_members_total",
			Help:      "Roster members implicated by a finished round, by round id.",
		}, []string{"round_id"}),
	}
}

// ObserveRoundDuration records how long a round ran, tagged by outcome
// (Node records "ok", "faulty", or "cancelled").
func (m *Metrics) ObserveRoundDuration(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.roundDuration.WithLabelValues(outcome).Observe(seconds)
}

// IncBlameRound counts one round that invoked the blame subprotocol.
func (m *Metrics) IncBlameRound() {
	if m == nil {
		return
	}
	m.blameRounds.WithLabelValues().Inc()
}

// AddBadMembers accounts for n implicated members in the given round.
func (m *Metrics) AddBadMembers(roundID string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.badMembers.WithLabelValues(roundID).Add(float64(n))
}
