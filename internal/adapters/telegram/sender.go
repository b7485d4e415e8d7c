package telegram

import (
	"context"
	"fmt"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"train-check-bot/internal/infra/metrics"
)

// API описывает часть клиента Bot API, которой пользуется бот.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Sender отправляет текстовые сообщения в чат, разбивая их по лимиту Telegram.
type Sender struct {
	api API
}

// NewSender создаёт отправителя.
func NewSender(api API) *Sender {
	return &Sender{api: api}
}

// Send отправляет текст в чат chatID.
func (s *Sender) Send(ctx context.Context, chatID int64, text string) error {
	for i, part := range SplitMessage(text) {
		if err := ctx.Err(); err != nil {
			return err
		}
		start := time.Now()
		_, err := s.api.Send(tgbotapi.NewMessage(chatID, part))
		metrics.ObserveNetworkRequest("telegram_bot", "send_message", strconv.FormatInt(chatID, 10), start, err)
		if err != nil {
			metrics.BotSendErrors.Inc()
			return fmt.Errorf("отправка части %d: %w", i+1, err)
		}
	}
	return nil
}
