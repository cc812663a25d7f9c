// Package notify delivers operator alerts to chat channels. Each alert has
// an event type, and the Notifier forwards only the configured types.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/arbbot/internal/domain"
)

// Event types.
const (
	EventOpportunity = "opportunity_detected"
	EventTrade       = "trade_executed"
	EventError       = "bot_error"
)

// Sender is one delivery channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier fans alerts out to every Sender. A failing sender never blocks
// the others.
type Notifier struct {
	senders          []Sender
	events           map[string]bool
	minProfitPercent float64
	logger           *slog.Logger
}

// NewNotifier creates a Notifier. An empty events list allows every event.
// Opportunity alerts below minProfitPercent are suppressed.
func NewNotifier(senders []Sender, events []string, minProfitPercent float64, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders:          senders,
		events:           allowed,
		minProfitPercent: minProfitPercent,
		logger:           logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether any sender is configured. A nil Notifier is
// disabled.
func (n *Notifier) Enabled() bool { return n != nil && len(n.senders) > 0 }

// Notify sends title and message for event when event is allowed.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if !n.Enabled() {
		return nil
	}
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", event))
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// Opportunity alerts on the best opportunity of a cycle.
func (n *Notifier) Opportunity(ctx context.Context, o domain.Opportunity) error {
	if o.ProfitPercent < n.minProfit() {
		return nil
	}
	return n.Notify(ctx, EventOpportunity,
		fmt.Sprintf("Arbitrage opportunity: %s %.2f%%", o.Symbol, o.ProfitPercent),
		FormatOpportunity(o))
}

// Trade alerts on an executed trade.
func (n *Notifier) Trade(ctx context.Context, t domain.TradeRecord) error {
	return n.Notify(ctx, EventTrade,
		fmt.Sprintf("Trade executed (%s): %s", t.Mode, t.Opportunity.Symbol),
		FormatOpportunity(t.Opportunity))
}

// Error alerts on a failed cycle.
func (n *Notifier) Error(ctx context.Context, err error) error {
	return n.Notify(ctx, EventError, "Bot error", err.Error())
}

func (n *Notifier) minProfit() float64 {
	if n == nil {
		return 0
	}
	return n.minProfitPercent
}

// FormatOpportunity renders o as a short multi-line message.
func FormatOpportunity(o domain.Opportunity) string {
	return fmt.Sprintf("Buy on %s at $%.2f\nSell on %s at $%.2f\nProfit: %.2f%% ($%.2f)\nVolume: %.6f",
		o.BuySource, o.BuyPrice, o.SellSource, o.SellPrice, o.ProfitPercent, o.ProfitUSD, o.Volume)
}

func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}
