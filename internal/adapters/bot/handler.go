package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"train-check-bot/internal/adapters/telegram"
	"train-check-bot/internal/domain"
	"train-check-bot/internal/infra/metrics"
)

const unsubscribePrefix = "unsub:"

// Subscriptions перечисляет операции с подписками, доступные из чата.
type Subscriptions interface {
	Subscribe(ctx context.Context, chatID int64, origin, destination string, departure domain.TimeOfDay) (string, error)
	UnsubscribeOne(ctx context.Context, chatID int64, origin, destination string, departure domain.TimeOfDay) (string, error)
	UnsubscribeByTravelID(ctx context.Context, chatID, travelID int64) (string, error)
	UnsubscribeAll(ctx context.Context, chatID int64) (int, error)
	ListSubscriptions(ctx context.Context, chatID int64) ([]domain.Travel, error)
}

// Board отдаёт текст табло отправлений.
type Board interface {
	Board(ctx context.Context, origin, destination string, rows int) string
}

// Handler обслуживает апдейты бота.
type Handler struct {
	api   telegram.API
	log   zerolog.Logger
	subs  Subscriptions
	board Board
}

// NewHandler создаёт обработчик.
func NewHandler(api telegram.API, log zerolog.Logger, subs Subscriptions, board Board) *Handler {
	return &Handler{api: api, log: log, subs: subs, board: board}
}

// HandleUpdate обрабатывает входящий апдейт.
func (h *Handler) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	if upd.Message != nil {
		h.handleMessage(ctx, upd.Message)
	} else if upd.CallbackQuery != nil {
		h.handleCallback(ctx, upd.CallbackQuery)
	}
}

func (h *Handler) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	name, args, ok := parseCommand(msg.Text)
	if !ok {
		return
	}
	chatID := msg.Chat.ID
	metrics.IncCommand(name)

	switch name {
	case "start", "help":
		h.reply(chatID, helpText, nil)
	case "board":
		h.handleBoard(ctx, chatID, args)
	case "subscribe":
		h.handleSubscribe(ctx, chatID, args)
	case "unsubscribe":
		h.handleUnsubscribe(ctx, chatID, args)
	default:
		h.reply(chatID, "Sorry, I didn't understand that command.", nil)
	}
}

func (h *Handler) handleBoard(ctx context.Context, chatID int64, args []string) {
	var origin, destination string
	rows := 0
	switch len(args) {
	case 1:
		origin = args[0]
	case 2:
		origin, destination = args[0], args[1]
	case 3:
		origin, destination = args[0], args[1]
		n, err := strconv.Atoi(args[2])
		if err != nil || n <= 0 {
			h.reply(chatID, "The number of rows should be a positive number, e.g. /board KGX CBG 5", nil)
			return
		}
		rows = n
	default:
		h.reply(chatID, "Tell me the station, e.g. /board KGX or /board KGX CBG", nil)
		return
	}
	h.reply(chatID, h.board.Board(ctx, origin, destination, rows), nil)
}

func (h *Handler) handleSubscribe(ctx context.Context, chatID int64, args []string) {
	origin, destination, departure, err := parseTravelArgs(args)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTime) {
			h.reply(chatID, fmt.Sprintf("I cannot read the departure time %q, use HH:MM (e.g. 12:23).", args[2]), nil)
			return
		}
		h.reply(chatID, subscribeUsage, nil)
		return
	}
	text, err := h.subs.Subscribe(ctx, chatID, origin, destination, departure)
	if err != nil {
		h.log.Error().Err(err).Int64("chat_id", chatID).Msg("не удалось оформить подписку")
		h.reply(chatID, "Something went wrong, I could not subscribe you. Please try again later.", nil)
		return
	}
	h.reply(chatID, text, nil)
}

func (h *Handler) handleUnsubscribe(ctx context.Context, chatID int64, args []string) {
	switch len(args) {
	case 0:
		text, keyboard, err := h.subscriptionsView(ctx, chatID)
		if err != nil {
			h.log.Error().Err(err).Int64("chat_id", chatID).Msg("не удалось получить подписки")
			h.reply(chatID, "Something went wrong, I could not load your subscriptions.", nil)
			return
		}
		h.reply(chatID, text, keyboard)
	case 1:
		if !strings.EqualFold(args[0], "all") {
			h.reply(chatID, "Sorry, I cannot understand that. Did you want to unsubscribe from all notifications? For that please use /unsubscribe all", nil)
			return
		}
		n, err := h.subs.UnsubscribeAll(ctx, chatID)
		if err != nil {
			h.log.Error().Err(err).Int64("chat_id", chatID).Msg("не удалось снять подписки")
			h.reply(chatID, "Something went wrong, I could not cancel your subscriptions.", nil)
			return
		}
		h.reply(chatID, fmt.Sprintf("I cancelled %d subscriptions.", n), nil)
	case 3:
		origin, destination, departure, err := parseTravelArgs(args)
		if err != nil {
			h.reply(chatID, fmt.Sprintf("I cannot read the departure time %q, use HH:MM (e.g. 12:23).", args[2]), nil)
			return
		}
		text, err := h.subs.UnsubscribeOne(ctx, chatID, origin, destination, departure)
		if err != nil {
			h.log.Error().Err(err).Int64("chat_id", chatID).Msg("не удалось снять подписку")
			h.reply(chatID, "Something went wrong, I could not cancel the subscription.", nil)
			return
		}
		h.reply(chatID, text, nil)
	default:
		h.reply(chatID, "I am sorry I cannot understand that. "+unsubscribeUsage, nil)
	}
}

func (h *Handler) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	defer h.answer(cb)
	if cb.Message == nil || !strings.HasPrefix(cb.Data, unsubscribePrefix) {
		return
	}
	chatID := cb.Message.Chat.ID
	metrics.IncCommand("unsubscribe_button")

	travelID, ok := parseID(cb.Data)
	var (
		result string
		err    error
	)
	if ok {
		result, err = h.subs.UnsubscribeByTravelID(ctx, chatID, travelID)
	} else {
		err = domain.ErrTravelNotFound
	}
	switch {
	case errors.Is(err, domain.ErrTravelNotFound):
		result = "This subscription no longer exists."
	case err != nil:
		h.log.Error().Err(err).Int64("chat_id", chatID).Int64("travel_id", travelID).Msg("не удалось снять подписку по кнопке")
		result = "Something went wrong, I could not cancel the subscription."
	}

	text, keyboard, err := h.subscriptionsView(ctx, chatID)
	if err != nil {
		h.log.Error().Err(err).Int64("chat_id", chatID).Msg("не удалось получить подписки")
		h.reply(chatID, result, nil)
		return
	}

	edit := tgbotapi.NewEditMessageText(chatID, cb.Message.MessageID, result+"\n"+text)
	edit.ReplyMarkup = keyboard
	start := time.Now()
	_, err = h.api.Request(edit)
	metrics.ObserveNetworkRequest("telegram_bot", "edit_message", strconv.FormatInt(chatID, 10), start, err)
	if err != nil {
		h.log.Error().Err(err).Msg("не удалось обновить сообщение")
	}
}

// subscriptionsView строит список подписок чата с кнопками отписки.
func (h *Handler) subscriptionsView(ctx context.Context, chatID int64) (string, *tgbotapi.InlineKeyboardMarkup, error) {
	travels, err := h.subs.ListSubscriptions(ctx, chatID)
	if err != nil {
		return "", nil, err
	}
	if len(travels) == 0 {
		return "You have no subscriptions.", nil, nil
	}
	text := fmt.Sprintf("You have %d subscriptions.\nClick to unsubscribe. %s", len(travels), unsubscribeUsage)
	return text, travelsKeyboard(travels), nil
}

func travelsKeyboard(travels []domain.Travel) *tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(travels))
	for _, t := range travels {
		label := fmt.Sprintf("- From %s to %s at %s", t.Origin, t.Destination, t.DepartureTime)
		data := unsubscribePrefix + strconv.FormatInt(t.ID, 10)
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData(label, data)))
	}
	markup := tgbotapi.NewInlineKeyboardMarkup(rows...)
	return &markup
}

func (h *Handler) answer(cb *tgbotapi.CallbackQuery) {
	start := time.Now()
	_, err := h.api.Request(tgbotapi.NewCallback(cb.ID, ""))
	target := ""
	if cb.From != nil {
		target = strconv.FormatInt(cb.From.ID, 10)
	}
	metrics.ObserveNetworkRequest("telegram_bot", "answer_callback", target, start, err)
	if err != nil {
		h.log.Error().Err(err).Msg("не удалось ответить на callback")
	}
}

func (h *Handler) reply(chatID int64, text string, keyboard *tgbotapi.InlineKeyboardMarkup) {
	parts := telegram.SplitMessage(text)
	for i, part := range parts {
		msg := tgbotapi.NewMessage(chatID, part)
		if i == 0 && keyboard != nil {
			msg.ReplyMarkup = keyboard
		}
		start := time.Now()
		_, err := h.api.Send(msg)
		metrics.ObserveNetworkRequest("telegram_bot", "send_message", strconv.FormatInt(chatID, 10), start, err)
		if err != nil {
			metrics.BotSendErrors.Inc()
			h.log.Error().Err(err).Msg("не удалось отправить сообщение")
			return
		}
	}
}

// parseCommand выделяет имя команды без «/» и @username и её аргументы.
func parseCommand(text string) (string, []string, bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return "", nil, false
	}
	name := strings.TrimPrefix(fields[0], "/")
	if at := strings.IndexByte(name, '@'); at >= 0 {
		name = name[:at]
	}
	if name == "" {
		return "", nil, false
	}
	return strings.ToLower(name), fields[1:], true
}

var errUsage = errors.New("expected ORIGIN DESTINATION HH:MM")

// parseTravelArgs разбирает аргументы вида ORIGIN DESTINATION HH:MM.
func parseTravelArgs(args []string) (string, string, domain.TimeOfDay, error) {
	if len(args) != 3 {
		return "", "", domain.TimeOfDay{}, errUsage
	}
	departure, err := domain.ParseTimeOfDay(args[2])
	if err != nil {
		return "", "", domain.TimeOfDay{}, err
	}
	return args[0], args[1], departure, nil
}

// parseID извлекает ID поездки из данных кнопки вида unsub:<id>.
func parseID(data string) (int64, bool) {
	parts := strings.Split(data, ":")
	if len(parts) != 2 {
		return 0, false
	}
	id, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

const subscribeUsage = "Subscribe to service updates by specifying\n" +
	"- The origin of your travel (e.g. kgx),\n" +
	"- The destination of your travel (e.g. cbg),\n" +
	"- Departure time (e.g. 12:23).\n" +
	"For example: /subscribe kgx cbg 12:23"

const unsubscribeUsage = "Or use /unsubscribe ORIGIN DESTINATION HH:MM to unsubscribe from a service update, " +
	"and /unsubscribe all to cancel all notifications."

const helpText = "Train Check Bot 🚂\n\n" +
	"Live departures from a station:\n/board KGX\n\n" +
	"or between stations:\n/board KGX CBG\n\n" +
	"To receive notifications in case anything goes wrong, subscribe to a service via:\n/subscribe KGX CBG 12:23\n\n" +
	"Manage your subscriptions with /unsubscribe."
