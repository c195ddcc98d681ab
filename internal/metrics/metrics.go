// Package metrics exposes executor counters and gauges to Prometheus.
package metrics

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/arbexecutor/internal/domain"
)

// Attempt outcomes.
const (
	OutcomeSettled  = "settled"
	OutcomeAborted  = "aborted"
	OutcomeRejected = "rejected" // refused before any balance was touched
)

// Metrics groups the executor's collectors.
type Metrics struct {
	attempts   *prometheus.CounterVec
	duration   prometheus.Histogram
	profit     *prometheus.CounterVec
	loss       *prometheus.CounterVec
	halted     prometheus.Gauge
	flashLoans prometheus.Counter
	adminOps   *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		attempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "arbexec_attempts_total",
				Help: "Arbitrage attempts by outcome and error kind.",
			},
			[]string{"outcome", "kind"},
		),
		duration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "arbexec_attempt_duration_seconds",
				Help:    "Wall time of arbitrage attempts.",
				Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
			},
		),
		profit: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "arbexec_realized_profit",
				Help: "Net profit of settled attempts in whole tokens (float approximation).",
			},
			[]string{"token"},
		),
		loss: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "arbexec_realized_loss",
				Help: "Net loss of settled attempts in whole tokens (float approximation).",
			},
			[]string{"token"},
		),
		halted: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "arbexec_emergency_halt",
				Help: "1 while the emergency halt is engaged.",
			},
		),
		flashLoans: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "arbexec_flash_loans_total",
				Help: "Flash loans taken by settled attempts.",
			},
		),
		adminOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "arbexec_admin_operations_total",
				Help: "Administrative calls by operation and error kind.",
			},
			[]string{"op", "kind"},
		),
	}
	reg.MustRegister(m.attempts, m.duration, m.profit, m.loss, m.halted, m.flashLoans, m.adminOps)
	return m
}

// ObserveAttempt records one attempt. err is nil for settled attempts.
func (m *Metrics) ObserveAttempt(err error, d time.Duration) {
	kind := domain.Classify(err)
	outcome := OutcomeSettled
	switch kind {
	case domain.KindNone:
	case domain.KindAuthorization, domain.KindSafetyHalt, domain.KindParams, domain.KindReentrant, domain.KindBusy:
		outcome = OutcomeRejected
	default:
		outcome = OutcomeAborted
	}
	m.attempts.WithLabelValues(outcome, string(kind)).Inc()
	m.duration.Observe(d.Seconds())
}

// ObserveSettlement adds net profit or loss of a settled attempt, scaled by
// the token's decimals.
func (m *Metrics) ObserveSettlement(token common.Address, net *big.Int, decimals int, borrowed bool) {
	if borrowed {
		m.flashLoans.Inc()
	}
	if net == nil || net.Sign() == 0 {
		return
	}
	v := decimal.NewFromBigInt(net, -int32(decimals)).Abs().InexactFloat64()
	if net.Sign() > 0 {
		m.profit.WithLabelValues(token.Hex()).Add(v)
		return
	}
	m.loss.WithLabelValues(token.Hex()).Add(v)
}

// SetHalted mirrors the halt flag.
func (m *Metrics) SetHalted(halted bool) {
	if halted {
		m.halted.Set(1)
		return
	}
	m.halted.Set(0)
}

// ObserveAdmin records one administrative call.
func (m *Metrics) ObserveAdmin(op string, err error) {
	m.adminOps.WithLabelValues(op, string(domain.Classify(err))).Inc()
}
