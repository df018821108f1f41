package telegram

import (
	"context"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"tg-pairbot/internal/domain"
	"tg-pairbot/internal/infra/metrics"
)

// Messenger реализует domain.Messenger поверх Bot API. Длинные тексты
// режутся на части в пределах лимита Telegram.
type Messenger struct {
	bot *tgbotapi.BotAPI
	log zerolog.Logger
}

var _ domain.Messenger = (*Messenger)(nil)

// NewMessenger создаёт отправщик.
func NewMessenger(bot *tgbotapi.BotAPI, log zerolog.Logger) *Messenger {
	return &Messenger{bot: bot, log: log}
}

// SendMessage отправляет обычный текст.
func (m *Messenger) SendMessage(ctx context.Context, chatID int64, text string) error {
	return m.send(ctx, chatID, text, "")
}

// SendHTML отправляет текст с HTML-разметкой (упоминания участников).
func (m *Messenger) SendHTML(ctx context.Context, chatID int64, text string) error {
	return m.send(ctx, chatID, text, tgbotapi.ModeHTML)
}

func (m *Messenger) send(ctx context.Context, chatID int64, text, parseMode string) error {
	for _, part := range SplitMessage(text) {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg := tgbotapi.NewMessage(chatID, part)
		msg.ParseMode = parseMode
		start := time.Now()
		_, err := m.bot.Send(msg)
		metrics.ObserveNetworkRequest("telegram_bot", "send_message", strconv.FormatInt(chatID, 10), start, err)
		if err != nil {
			metrics.BotSendErrors.Inc()
			m.log.Error().Err(err).Int64("chat_id", chatID).Msg("не удалось отправить сообщение")
			return err
		}
	}
	return nil
}
