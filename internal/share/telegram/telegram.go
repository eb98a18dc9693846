// Package telegram shares transcripts by posting them to a Telegram chat.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"
	"unicode/utf16"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/exiyom/ihear/internal/config"
	"github.com/exiyom/ihear/internal/share"
	"github.com/exiyom/ihear/internal/speech"
)

// maxMessageUnits is Telegram's limit for a single text message, counted
// in UTF-16 code units.
const maxMessageUnits = 4096

// Sharer implements share.Sharer with a Telegram bot.
type Sharer struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

// New connects the bot. It fails if the token is rejected.
func New(cfg config.TelegramConfig) (*Sharer, error) {
	return newWithEndpoint(cfg, tgbotapi.APIEndpoint, &http.Client{Timeout: 15 * time.Second})
}

func newWithEndpoint(cfg config.TelegramConfig, endpoint string, client *http.Client) (*Sharer, error) {
	bot, err := tgbotapi.NewBotAPIWithClient(cfg.Token, endpoint, client)
	if err != nil {
		return nil, fmt.Errorf("failed to init bot: %w", err)
	}
	slog.Info("telegram sharer connected", "bot", bot.Self.UserName, "chat_id", cfg.ChatID)
	return &Sharer{bot: bot, chatID: cfg.ChatID}, nil
}

// Name returns the backend identifier.
func (s *Sharer) Name() string { return "telegram" }

// Share posts item to the configured chat, split across messages when it
// exceeds Telegram's length limit. The receipt points at the first message.
func (s *Sharer) Share(ctx context.Context, item share.Item) (share.Receipt, error) {
	var first int
	for i, part := range split(item.Text, maxMessageUnits) {
		if err := ctx.Err(); err != nil {
			return share.Receipt{}, err
		}
		msg := tgbotapi.NewMessage(s.chatID, part)
		sent, err := s.bot.Send(msg)
		if err != nil {
			return share.Receipt{}, speech.Wrap(s.Name(), "share", fmt.Errorf("send message: %w", err))
		}
		if i == 0 {
			first = sent.MessageID
		}
	}
	slog.Debug("telegram share sent", "chat_id", s.chatID, "message_id", first, "owner", item.Owner)
	return share.Receipt{Location: fmt.Sprintf("telegram:%d/%d", s.chatID, first)}, nil
}

// split cuts text into pieces of at most n UTF-16 code units without
// breaking a character. Empty text yields one placeholder piece since
// Telegram rejects empty messages.
func split(text string, n int) []string {
	if text == "" {
		return []string{"(empty transcript)"}
	}
	var (
		parts []string
		start int
		units int
	)
	for i, r := range text {
		w := utf16.RuneLen(r)
		if units+w > n && units > 0 {
			parts = append(parts, text[start:i])
			start, units = i, 0
		}
		units += w
	}
	return append(parts, text[start:])
}
