// Package notify forwards executor events to operator chat channels
// (Telegram, Discord). Events can be filtered by name so operators receive
// only the alerts they care about.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/arbexecutor/internal/domain"
)

// Sender is the interface that each notification channel must implement.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// Notifier dispatches notifications to one or more Senders. It implements
// domain.EventSink; only events whose name is in the allowed set are sent.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier that delivers to the given senders. If
// events is empty, every event is forwarded.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool {
	return len(n.senders) > 0
}

// Publish implements domain.EventSink.
func (n *Notifier) Publish(ctx context.Context, events ...domain.Event) error {
	var errs []string
	for _, ev := range events {
		if err := n.Notify(ctx, ev.EventName(), title(ev), describe(ev)); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Notify sends a notification to all senders only if the event type is in the
// allowed list.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", event))
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// dispatch sends to every sender. A failing sender does not stop delivery to
// the rest; failures are combined into one error.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	if len(n.senders) == 0 {
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}

	if len(errs) > 0 {
		return fmt.Errorf("%d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}

func title(ev domain.Event) string {
	switch e := ev.(type) {
	case domain.ArbitrageExecuted:
		return "Arbitrage settled"
	case domain.FlashLoanExecuted:
		return "Flash loan repaid"
	case domain.EmergencyHaltToggled:
		if e.Halted {
			return "Emergency halt ENGAGED"
		}
		return "Emergency halt released"
	case domain.LimitsUpdated:
		return "Safety limits updated"
	case domain.Withdrawn:
		return "Funds withdrawn"
	}
	return ev.EventName()
}

func describe(ev domain.Event) string {
	switch e := ev.(type) {
	case domain.ArbitrageExecuted:
		return fmt.Sprintf("attempt %s on %s: profit %s, net %s, premium %s, %d step(s) in %s",
			e.AttemptID, e.BaseToken.Hex(), e.Profit, e.NetProfit, e.Premium, e.Steps, e.Cost)
	case domain.FlashLoanExecuted:
		return fmt.Sprintf("attempt %s borrowed %s of %s, premium %s",
			e.AttemptID, e.Amount, e.Asset.Hex(), e.Premium)
	case domain.EmergencyHaltToggled:
		return fmt.Sprintf("halted=%t at %s", e.Halted, e.At.UTC().Format("2006-01-02 15:04:05"))
	case domain.LimitsUpdated:
		return fmt.Sprintf("max trade size %s, daily loss limit %s", e.MaxTradeSize, e.DailyLossLimit)
	case domain.Withdrawn:
		return fmt.Sprintf("%s of %s to %s", e.Amount, e.Token.Hex(), e.To.Hex())
	}
	return ev.EventName()
}

// Compile-time interface check.
var _ domain.EventSink = (*Notifier)(nil)
