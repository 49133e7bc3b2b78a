// Package notify fans trade and lifecycle alerts out to per-user channels.
// Delivery is filtered by each user's TelegramPreference, so operators receive
// only the alert categories they subscribed to.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/averylane/soltraderd/internal/domain"
	"github.com/averylane/soltraderd/internal/executor"
)

// Sender delivers a rendered alert to one chat.
type Sender interface {
	Send(ctx context.Context, chatID, title, message string) error
	// Name returns a human-readable identifier for the channel.
	Name() string
}

// Notifier resolves each user's delivery preference and dispatches to the
// registered senders. Delivery is best-effort: failures are logged, never
// surfaced to the trading path.
type Notifier struct {
	users   domain.UserStore
	senders []Sender
	logger  *slog.Logger
}

// NewNotifier creates a Notifier over the given senders.
func NewNotifier(users domain.UserStore, senders []Sender, logger *slog.Logger) *Notifier {
	return &Notifier{
		users:   users,
		senders: senders,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// TradeExecuted implements executor.Alerter.
func (n *Notifier) TradeExecuted(ctx context.Context, a executor.TradeAlert) {
	title := "Trade executed"
	if a.Simulated {
		title = "Trade simulated"
	}
	msg := fmt.Sprintf("%s %s\nAmount: %.6f (%.2f USD)\nImpact: %.2f%%\nTx: %s",
		strings.ToUpper(a.Strategy), a.Mint, a.AmountUI, a.USDValue, a.ImpactPct, a.TxHash)
	n.deliver(ctx, a.UserID, a.Category, title, msg)
}

// BotStopped reports a bot retiring or crashing to its owner. reason is the
// runtime's stop reason.
func (n *Notifier) BotStopped(ctx context.Context, userID, botID, reason string) {
	n.deliver(ctx, userID, "bot", "Bot stopped",
		fmt.Sprintf("Bot %s stopped: %s", botID, reason))
}

// deliver looks up the user's preference and fans out to every sender. A
// missing preference row means the user never linked a channel.
func (n *Notifier) deliver(ctx context.Context, userID, category, title, message string) {
	pref, err := n.users.GetTelegramPreference(ctx, userID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			n.logger.Warn("preference lookup failed",
				slog.String("user_id", userID),
				slog.String("error", err.Error()),
			)
		}
		return
	}
	if !pref.WantsEvent(category) {
		return
	}

	for _, s := range n.senders {
		if err := s.Send(ctx, pref.ChatID, title, message); err != nil {
			n.logger.Warn("sender failed",
				slog.String("sender", s.Name()),
				slog.String("user_id", userID),
				slog.String("error", err.Error()),
			)
		}
	}
}

var _ executor.Alerter = (*Notifier)(nil)
