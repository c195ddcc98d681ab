package domain

import (
	"math/big"
	"time"
)

// secondsPerDay is the width of one daily-loss accounting window.
const secondsPerDay = 86400

// DayIndex returns the number of whole days between the unix epoch and t.
func DayIndex(t time.Time) int64 {
	return t.Unix() / secondsPerDay
}

// SafetyState is the persistent safety configuration owned by the
// orchestrator. Limits are changed only by the authority; the daily-loss
// fields are changed by settlement and by day rollover.
type SafetyState struct {
	Halted         bool     `json:"halted"`
	MaxTradeSize   *big.Int `json:"max_trade_size"`
	DailyLossLimit *big.Int `json:"daily_loss_limit"`
	DailyLoss      *big.Int `json:"daily_loss"`
	LastResetDay   int64    `json:"last_reset_day"`
}

// Clone returns a deep copy so callers cannot mutate the owner's amounts.
func (s SafetyState) Clone() SafetyState {
	return SafetyState{
		Halted:         s.Halted,
		MaxTradeSize:   cloneAmount(s.MaxTradeSize),
		DailyLossLimit: cloneAmount(s.DailyLossLimit),
		DailyLoss:      cloneAmount(s.DailyLoss),
		LastResetDay:   s.LastResetDay,
	}
}

// Normalize replaces nil amounts with zero.
func (s *SafetyState) Normalize() {
	if s.MaxTradeSize == nil {
		s.MaxTradeSize = new(big.Int)
	}
	if s.DailyLossLimit == nil {
		s.DailyLossLimit = new(big.Int)
	}
	if s.DailyLoss == nil {
		s.DailyLoss = new(big.Int)
	}
}

func cloneAmount(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}
