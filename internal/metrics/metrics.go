// Package metrics defines the Prometheus metrics exported by the agent.
// All metrics register with the default registry on package init.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "sos_agent"

// LocationSubmissionsTotal counts settled per-device location submissions.
// Label:
//   - outcome: "success" or "failure"
var LocationSubmissionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "location_submissions_total",
		Help:      "Total number of per-device location submissions, by outcome.",
	},
	[]string{"outcome"},
)

// LocationFanoutDuration measures how long a whole fan-out batch takes to settle.
var LocationFanoutDuration = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "location_fanout_duration_seconds",
		Help:      "Time from the first submission of a batch until every submission settled.",
		Buckets:   prometheus.DefBuckets,
	},
)

// TrackingActive is 1 while a continuous location watch is live.
var TrackingActive = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "tracking_active",
		Help:      "Whether a continuous location watch is currently active.",
	},
)

// SOSTriggersTotal counts SOS invocations.
// Label:
//   - outcome: "success", "permission_denied" or "failure"
var SOSTriggersTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sos_triggers_total",
		Help:      "Total number of SOS triggers, by outcome.",
	},
	[]string{"outcome"},
)

// Outcome label values.
const (
	OutcomeSuccess          = "success"
	OutcomeFailure          = "failure"
	OutcomePermissionDenied = "permission_denied"
)

// OutcomeLabel maps an error to an outcome label.
func OutcomeLabel(err error) string {
	if err != nil {
		return OutcomeFailure
	}
	return OutcomeSuccess
}
