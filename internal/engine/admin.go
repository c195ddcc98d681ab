package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/arbexecutor/internal/domain"
)

// admit runs the checks shared by every authority-only entrypoint and
// refreshes the safety state. The caller must hold o.mu.
func (o *Orchestrator) admit(ctx context.Context, op string, caller common.Address) error {
	if caller != o.authority {
		o.logger.WarnContext(ctx, "rejected administrative call",
			slog.String("op", op),
			slog.String("caller", caller.Hex()),
		)
		return &domain.UnauthorizedCallerError{Op: op, Caller: caller, Expected: o.authority}
	}
	return o.reload(ctx)
}

// reload replaces the in-memory safety state with the stored one. Nothing
// stored yet leaves the current state alone. The caller must hold o.mu.
func (o *Orchestrator) reload(ctx context.Context) error {
	if o.store == nil {
		return nil
	}
	stored, found, err := o.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load safety state: %w", err)
	}
	if !found {
		return nil
	}
	stored = stored.Clone()
	o.safetyMu.Lock()
	o.safety = stored
	o.safetyMu.Unlock()
	return nil
}

// Withdraw transfers amount of token held by the engine to the authority.
func (o *Orchestrator) Withdraw(ctx context.Context, caller, token common.Address, amount *big.Int) error {
	if err := checkReentrancy(ctx); err != nil {
		return err
	}
	var emitted []domain.Event
	defer func(parent context.Context) { o.publish(parent, emitted...) }(ctx)
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.admit(ctx, "withdraw", caller); err != nil {
		return err
	}
	if amount == nil || amount.Sign() < 0 {
		return &domain.ParamError{Field: "amount", Reason: "must be a non-negative amount"}
	}
	if err := o.ledger.Transfer(token, o.self, o.authority, amount); err != nil {
		return fmt.Errorf("withdraw %s of %s: %w", amount, token.Hex(), err)
	}
	o.logger.InfoContext(ctx, "withdrawn",
		slog.String("token", token.Hex()),
		slog.String("amount", amount.String()),
	)
	emitted = append(emitted, domain.Withdrawn{Token: token, Amount: new(big.Int).Set(amount), To: o.authority, At: o.clock()})
	return nil
}

// ToggleEmergencyHalt flips the halt flag and returns its new value.
func (o *Orchestrator) ToggleEmergencyHalt(ctx context.Context, caller common.Address) (bool, error) {
	if err := checkReentrancy(ctx); err != nil {
		return false, err
	}
	var emitted []domain.Event
	defer func(parent context.Context) { o.publish(parent, emitted...) }(ctx)
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.admit(ctx, "toggleEmergencyHalt", caller); err != nil {
		return false, err
	}
	next := o.Safety()
	next.Halted = !next.Halted
	if err := o.commitSafety(ctx, next); err != nil {
		return !next.Halted, err
	}
	o.logger.WarnContext(ctx, "emergency halt toggled", slog.Bool("halted", next.Halted))
	emitted = append(emitted, domain.EmergencyHaltToggled{Halted: next.Halted, At: o.clock()})
	return next.Halted, nil
}

// UpdateLimits replaces both limits verbatim. The daily-loss accumulator is
// left alone. A zero limit disables its check.
func (o *Orchestrator) UpdateLimits(ctx context.Context, caller common.Address, maxTradeSize, dailyLossLimit *big.Int) error {
	if err := checkReentrancy(ctx); err != nil {
		return err
	}
	var emitted []domain.Event
	defer func(parent context.Context) { o.publish(parent, emitted...) }(ctx)
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.admit(ctx, "updateLimits", caller); err != nil {
		return err
	}
	if maxTradeSize == nil || maxTradeSize.Sign() < 0 {
		return &domain.ParamError{Field: "max_trade_size", Reason: "must be a non-negative amount"}
	}
	if dailyLossLimit == nil || dailyLossLimit.Sign() < 0 {
		return &domain.ParamError{Field: "daily_loss_limit", Reason: "must be a non-negative amount"}
	}
	next := o.Safety()
	next.MaxTradeSize = new(big.Int).Set(maxTradeSize)
	next.DailyLossLimit = new(big.Int).Set(dailyLossLimit)
	if err := o.commitSafety(ctx, next); err != nil {
		return err
	}
	o.logger.InfoContext(ctx, "limits updated",
		slog.String("max_trade_size", maxTradeSize.String()),
		slog.String("daily_loss_limit", dailyLossLimit.String()),
	)
	emitted = append(emitted, domain.LimitsUpdated{
		MaxTradeSize:   new(big.Int).Set(maxTradeSize),
		DailyLossLimit: new(big.Int).Set(dailyLossLimit),
		At:             o.clock(),
	})
	return nil
}

// commitSafety persists next and, once stored, makes it current.
func (o *Orchestrator) commitSafety(ctx context.Context, next domain.SafetyState) error {
	if o.store != nil {
		if err := o.store.Save(ctx, next); err != nil {
			return fmt.Errorf("save safety state: %w", err)
		}
	}
	o.safetyMu.Lock()
	o.safety = next
	o.safetyMu.Unlock()
	return nil
}

// rollover zeroes the daily-loss accumulator once per elapsed day. It is
// committed even when the attempt that triggered it later aborts.
func (o *Orchestrator) rollover(ctx context.Context, now time.Time) {
	today := domain.DayIndex(now)
	next := o.Safety()
	if today <= next.LastResetDay {
		return
	}
	next.DailyLoss = new(big.Int)
	next.LastResetDay = today
	o.safetyMu.Lock()
	o.safety = next
	o.safetyMu.Unlock()
	if o.store != nil {
		if err := o.store.Save(ctx, next); err != nil {
			o.logger.WarnContext(ctx, "persist daily rollover failed", slog.String("error", err.Error()))
		}
	}
	o.logger.InfoContext(ctx, "daily loss reset", slog.Int64("day", today))
}

// recordLoss adds loss to the accumulator, failing when the daily limit
// would be exceeded.
func (o *Orchestrator) recordLoss(ctx context.Context, loss *big.Int) error {
	next := o.Safety()
	accumulated := new(big.Int).Add(next.DailyLoss, loss)
	if next.DailyLossLimit.Sign() > 0 && accumulated.Cmp(next.DailyLossLimit) > 0 {
		return &domain.DailyLossError{Loss: new(big.Int).Set(loss), Accumulated: new(big.Int).Set(next.DailyLoss), Limit: next.DailyLossLimit}
	}
	next.DailyLoss = accumulated
	return o.commitSafety(ctx, next)
}

// publish delivers events on a context that survives the caller's
// cancellation but not the publish timeout. It must not run under o.mu.
func (o *Orchestrator) publish(parent context.Context, events ...domain.Event) {
	if len(events) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), o.publishTimeout)
	defer cancel()
	if err := o.events.Publish(ctx, events...); err != nil {
		o.logger.WarnContext(ctx, "publish events failed",
			slog.Int("events", len(events)),
			slog.String("error", err.Error()),
		)
	}
}
