package domain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Event names, also used as notification filters and bus message types.
const (
	EventArbitrageExecuted    = "arbitrage_executed"
	EventFlashLoanExecuted    = "flash_loan_executed"
	EventEmergencyHaltToggled = "emergency_halt_toggled"
	EventLimitsUpdated        = "limits_updated"
	EventWithdrawn            = "withdrawn"
)

// Event is a fact emitted for off-chain observers.
type Event interface {
	EventName() string
}

// ArbitrageExecuted is the completion record of a settled attempt.
type ArbitrageExecuted struct {
	AttemptID string         `json:"attempt_id"`
	BaseToken common.Address `json:"base_token"`
	// Profit is the measured base-token delta checked by the profit guard.
	Profit *big.Int `json:"profit"`
	// NetProfit is Profit minus any flash-loan premium.
	NetProfit *big.Int      `json:"net_profit"`
	Premium   *big.Int      `json:"premium"`
	Borrowed  bool          `json:"borrowed"`
	Steps     int           `json:"steps"`
	Cost      time.Duration `json:"cost_ns"`
	At        time.Time     `json:"at"`
}

func (ArbitrageExecuted) EventName() string { return EventArbitrageExecuted }

// FlashLoanExecuted is the capital-sourcing record of a settled attempt.
type FlashLoanExecuted struct {
	AttemptID string         `json:"attempt_id"`
	Asset     common.Address `json:"asset"`
	Amount    *big.Int       `json:"amount"`
	Premium   *big.Int       `json:"premium"`
	At        time.Time      `json:"at"`
}

func (FlashLoanExecuted) EventName() string { return EventFlashLoanExecuted }

// EmergencyHaltToggled records a flip of the halt flag.
type EmergencyHaltToggled struct {
	Halted bool      `json:"halted"`
	At     time.Time `json:"at"`
}

func (EmergencyHaltToggled) EventName() string { return EventEmergencyHaltToggled }

// LimitsUpdated records a replacement of both safety limits.
type LimitsUpdated struct {
	MaxTradeSize   *big.Int  `json:"max_trade_size"`
	DailyLossLimit *big.Int  `json:"daily_loss_limit"`
	At             time.Time `json:"at"`
}

func (LimitsUpdated) EventName() string { return EventLimitsUpdated }

// Withdrawn records a transfer of held balance to the authority.
type Withdrawn struct {
	Token  common.Address `json:"token"`
	Amount *big.Int       `json:"amount"`
	To     common.Address `json:"to"`
	At     time.Time      `json:"at"`
}

func (Withdrawn) EventName() string { return EventWithdrawn }

// EventSink receives emitted facts after the operation that produced them
// has committed.
type EventSink interface {
	Publish(ctx context.Context, events ...Event) error
}

// MultiSink fans events out to every sink and joins their errors.
type MultiSink []EventSink

// Publish implements EventSink.
func (m MultiSink) Publish(ctx context.Context, events ...Event) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Publish(ctx, events...); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// DiscardSink drops every event.
type DiscardSink struct{}

// Publish implements EventSink.
func (DiscardSink) Publish(context.Context, ...Event) error { return nil }

// Envelope is the wire form of an event on buses and websockets.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// EncodeEvent wraps ev in an Envelope and marshals it.
func EncodeEvent(ev Event) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", ev.EventName(), err)
	}
	return json.Marshal(Envelope{Type: ev.EventName(), Data: data})
}

// EventKey returns the partitioning key of ev: the attempt id for attempt
// records and the event name otherwise.
func EventKey(ev Event) string {
	switch e := ev.(type) {
	case ArbitrageExecuted:
		return e.AttemptID
	case FlashLoanExecuted:
		return e.AttemptID
	}
	return ev.EventName()
}
