// SPDX-License-Identifier: MIT
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Heartbeat outcomes.
const (
	OutcomeDelivered = "delivered"
	OutcomeRejected  = "rejected"
	OutcomeFailed    = "failed"
)

// Progress poll outcomes.
const (
	PollSuccess   = "success"
	PollError     = "error"
	PollMalformed = "malformed"
)

var (
	heartbeatsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ykwatch_heartbeats_total",
		Help: "Heartbeat send attempts by outcome",
	}, []string{"outcome"}) // outcome=delivered|rejected|failed

	heartbeatExhaustedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ykwatch_heartbeat_retry_exhausted_total",
		Help: "Ticks abandoned after the heartbeat retry budget ran out",
	})

	progressPollsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ykwatch_progress_polls_total",
		Help: "Progress poll attempts by outcome",
	}, []string{"outcome"}) // outcome=success|error|malformed

	restartsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ykwatch_restarts_total",
		Help: "Stall-triggered playback restarts",
	})

	serverInconsistenciesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ykwatch_server_inconsistencies_total",
		Help: "Items flagged completed by the server below the coverage threshold",
	})

	itemsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ykwatch_items_total",
		Help: "Watchable items processed by result",
	}, []string{"result"}) // result=completed|skipped|unplayable|abandoned

	currentCoverage = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ykwatch_current_item_coverage_percent",
		Help: "Server-credited coverage of the item currently being driven",
	})

	watchCreditedSeconds = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ykwatch_watch_credited_seconds_total",
		Help: "Watch seconds newly credited by the server across all items",
	})
)

// RecordHeartbeat counts one heartbeat send attempt.
func RecordHeartbeat(outcome string) {
	heartbeatsTotal.WithLabelValues(outcome).Inc()
}

// RecordHeartbeatExhausted counts one tick abandoned after all send attempts failed.
func RecordHeartbeatExhausted() {
	heartbeatExhaustedTotal.Inc()
}

// RecordPoll counts one progress poll.
func RecordPoll(outcome string) {
	progressPollsTotal.WithLabelValues(outcome).Inc()
}

// RecordRestart counts one stall-triggered restart.
func RecordRestart() {
	restartsTotal.Inc()
}

// RecordServerInconsistency counts one premature completed flag.
func RecordServerInconsistency() {
	serverInconsistenciesTotal.Inc()
}

// RecordItemResult counts one finished item by result.
func RecordItemResult(result string) {
	itemsTotal.WithLabelValues(result).Inc()
}

// SetCurrentCoverage publishes the coverage of the item in flight.
func SetCurrentCoverage(pct float64) {
	currentCoverage.Set(pct)
}

// AddWatchCredited accumulates newly credited watch seconds.
func AddWatchCredited(seconds float64) {
	if seconds > 0 {
		watchCreditedSeconds.Add(seconds)
	}
}
