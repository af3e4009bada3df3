// Package notify sends Telegram messages about new arbitrage alerts and
// cart verification outcomes.
package notify

import (
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/lithammer/dedent"
	"github.com/rs/zerolog/log"

	"github.com/mkoski/resale-scout/internal/cart"
	"github.com/mkoski/resale-scout/internal/storage"
)

// Sender abstracts the Telegram bot API for sending messages.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Notifier formats and delivers notifications to one chat. A nil
// Notifier is a no-op, so callers can run without Telegram configured.
type Notifier struct {
	bot    Sender
	chatID int64
}

func New(bot Sender, chatID int64) *Notifier {
	return &Notifier{bot: bot, chatID: chatID}
}

// AlertFound announces a new arbitrage opportunity.
func (n *Notifier) AlertFound(alert storage.Alert) {
	if n == nil {
		return
	}

	text := formatMessage(`
		🔔 *New resale opportunity*

		*%s*
		💴 Cost: ¥%.0f
		💵 Avg sold: $%.2f (%d matches)
		📈 Expected profit: $%.2f
		🎯 Similarity: %.0f%%`,
		escapeMarkdown(alert.Title),
		alert.PriceJPY,
		alert.AveragePrice,
		alert.MatchCount,
		alert.ExpectedProfit,
		alert.Similarity*100,
	)

	msg := tgbotapi.NewMessage(n.chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	if alert.ListingURL != "" {
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonURL("Open listing", alert.ListingURL),
			),
		)
	}
	n.send(msg)
}

// CartVerified summarizes a cart verification run.
func (n *Notifier) CartVerified(result cart.Result) {
	if n == nil {
		return
	}

	var sb strings.Builder
	sb.WriteString(formatMessage(`
		🛒 *Cart verification complete*

		✅ Verified: %d
		⚠️ Flagged: %d
		⏭ Skipped: %d

		💰 Cost: $%.2f → Revenue: $%.2f
		📈 ROI: %.1f%%`,
		result.ItemsVerified,
		result.ItemsFlagged,
		result.ItemsSkipped,
		result.TotalCost,
		result.TotalRevenue,
		result.ROIPercent,
	))

	for _, f := range result.FlaggedItems {
		sb.WriteString(fmt.Sprintf("\n• %s: %s", escapeMarkdown(f.Item.Title), escapeMarkdown(f.Reason)))
	}

	msg := tgbotapi.NewMessage(n.chatID, sb.String())
	msg.ParseMode = tgbotapi.ModeMarkdown
	n.send(msg)
}

func (n *Notifier) send(msg tgbotapi.MessageConfig) {
	if _, err := n.bot.Send(msg); err != nil {
		log.Error().Err(err).Int64("chatID", n.chatID).Msg("Failed to send Telegram message")
	}
}

func formatMessage(text string, a ...any) string {
	return fmt.Sprintf(strings.TrimSpace(dedent.Dedent(text)), a...)
}

func escapeMarkdown(s string) string {
	replacer := strings.NewReplacer(
		"_", "\\_",
		"*", "\\*",
		"`", "\\`",
		"[", "\\[",
	)
	return replacer.Replace(s)
}
