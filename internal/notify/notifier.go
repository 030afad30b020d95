// Package notify delivers pass alerts to operator channels. Alerts are
// dispatched to every registered sender (Telegram, Discord) and filtered by
// event type so operators receive only the alerts they care about.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/treasurybot/internal/domain"
)

// Alert event types.
const (
	EventHedge      = "hedge"
	EventStopLoss   = "stop_loss"
	EventVenueError = "venue_error"
)

// Sender is the interface that each notification channel must implement.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// Notifier dispatches alerts to one or more Senders. Only event types in the
// allowed set are forwarded; an empty set allows everything.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier that will deliver to the given senders.
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

// Notify sends a notification to all senders if the event type is allowed.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "notifier: event filtered out", slog.String("event", event))
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// AlertPass turns the actionable parts of a pass report into alerts: hedge
// actions outside the band, stop-loss breaches, and venues that failed. Dry
// runs and quiet passes send nothing.
func (n *Notifier) AlertPass(ctx context.Context, report domain.PassReport) error {
	if report.DryRun || len(n.senders) == 0 {
		return nil
	}

	var errs []string
	send := func(event, title string, lines []string) {
		if len(lines) == 0 {
			return
		}
		if err := n.Notify(ctx, event, title, strings.Join(lines, "\n")); err != nil {
			errs = append(errs, err.Error())
		}
	}

	var hedges []string
	for _, d := range report.HedgeDecisions {
		if d.Action == domain.HedgeInRange {
			continue
		}
		hedges = append(hedges, fmt.Sprintf("%s %s $%.2f (exposure $%.2f, short $%.2f, ratio %.2f)",
			d.Symbol, d.Action, d.DeltaUSD, d.ExposureUSD, d.ShortUSD, d.CurrentRatio))
	}
	send(EventHedge, "Hedge actions "+report.StrategyID, hedges)

	var stops []string
	for _, sl := range report.StopLosses {
		stops = append(stops, fmt.Sprintf("%s %s down %.1f%% (cost $%.2f, value $%.2f)",
			sl.Venue, sl.VenueAssetKey, sl.LossPct*100, sl.CostBasisUSD, sl.CurrentValueUSD))
	}
	send(EventStopLoss, "Stop-loss breached "+report.StrategyID, stops)

	var venues []string
	for _, v := range report.Venues {
		if v.Error != "" {
			venues = append(venues, fmt.Sprintf("%s: %s", v.Venue, v.Error))
		}
	}
	send(EventVenueError, "Venues unavailable "+report.StrategyID, venues)

	if len(errs) > 0 {
		return fmt.Errorf("notify: %s", strings.Join(errs, "; "))
	}
	return nil
}

// dispatch sends to every sender. A single sender failure does not prevent
// delivery to the rest; failures are combined into the returned error.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "notifier: sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notifier: sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("%d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}
