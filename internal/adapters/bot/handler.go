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

	"tg-pairbot/internal/adapters/telegram"
	"tg-pairbot/internal/domain"
	"tg-pairbot/internal/infra/metrics"
	"tg-pairbot/internal/usecase/announce"
	"tg-pairbot/internal/usecase/cycle"
	"tg-pairbot/internal/usecase/roster"
)

const welcomeText = `👋 Привет! Я бот случайных знакомств.

Раз в цикл я открываю окно записи: отправьте /join, и в конце окна я разобью записавшихся на пары для неформальной встречи. С кем вы уже встречались недавно, повторно не сведу.

Команды:
/join — записаться в текущее окно
/leave — передумать до закрытия окна
/status — кто уже записался
/help — эта справка`

const helpText = `Команды:
/join — записаться в текущее окно
/leave — выйти из подбора до закрытия окна
/status — состояние окна и список записавшихся
/delete_me — удалить мои данные

Для администраторов чата:
/poll_now — открыть окно записи немедленно
/pair — закрыть окно и составить пары сейчас`

// Handler обслуживает вебхук бота.
type Handler struct {
	bot        *tgbotapi.BotAPI
	log        zerolog.Logger
	rosterUC   *roster.Service
	cycleUC    *cycle.Service
	announceUC *announce.Service
	ownerID    int64
}

// NewHandler создаёт обработчик.
func NewHandler(bot *tgbotapi.BotAPI, log zerolog.Logger, rosterUC *roster.Service, cycleUC *cycle.Service, announceUC *announce.Service, ownerID int64) *Handler {
	return &Handler{
		bot:        bot,
		log:        log,
		rosterUC:   rosterUC,
		cycleUC:    cycleUC,
		announceUC: announceUC,
		ownerID:    ownerID,
	}
}

// HandleUpdate обрабатывает входящий апдейт.
func (h *Handler) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	if upd.MyChatMember != nil {
		h.handleMyChatMember(upd.MyChatMember)
		return
	}
	if upd.Message != nil {
		h.handleMessage(ctx, upd.Message)
	}
}

// handleMyChatMember регистрирует чат, когда бота добавляют в группу.
func (h *Handler) handleMyChatMember(upd *tgbotapi.ChatMemberUpdated) {
	if !isGroupChat(upd.Chat.Type) {
		return
	}
	status := upd.NewChatMember.Status
	if status != "member" && status != "administrator" {
		return
	}
	if _, err := h.rosterUC.Register(upd.Chat.ID, upd.Chat.Title); err != nil {
		h.log.Error().Err(err).Int64("chat_id", upd.Chat.ID).Msg("не удалось зарегистрировать чат")
		return
	}
	h.log.Info().Int64("chat_id", upd.Chat.ID).Str("title", upd.Chat.Title).Msg("бот добавлен в чат")
	h.reply(upd.Chat.ID, welcomeText)
}

func (h *Handler) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil {
		return
	}
	cmd := msg.Command()
	if cmd == "" {
		return
	}
	group := isGroupChat(msg.Chat.Type)
	if group {
		// Любая команда в группе поддерживает реестр актуальным.
		if _, err := h.rosterUC.Register(msg.Chat.ID, msg.Chat.Title); err != nil {
			h.log.Error().Err(err).Int64("chat_id", msg.Chat.ID).Msg("не удалось обновить чат")
		}
	}

	switch cmd {
	case "start":
		h.reply(msg.Chat.ID, welcomeText)
	case "help":
		h.reply(msg.Chat.ID, helpText)
	case "join":
		h.handleJoin(msg, group)
	case "leave":
		h.handleLeave(msg, group)
	case "status":
		h.handleStatus(msg, group)
	case "pair":
		h.handleForcePair(ctx, msg, group)
	case "poll_now":
		h.handleForcePoll(ctx, msg, group)
	case "delete_me":
		h.handleDeleteMe(msg)
	case "whoami":
		h.handleWhoAmI(msg)
	case "ad_add":
		h.handleAdAdd(msg)
	case "ad_list":
		h.handleAdList(msg)
	case "ad_del":
		h.handleAdDelete(msg)
	case "ad_send":
		h.handleAdSend(ctx, msg)
	default:
		h.reply(msg.Chat.ID, "Неизвестная команда. Используйте /help")
	}
}

func (h *Handler) handleJoin(msg *tgbotapi.Message, group bool) {
	if !group {
		h.reply(msg.Chat.ID, "Запись работает только в групповом чате.")
		return
	}
	member := memberFromUser(msg.From)
	closesAt, err := h.rosterUC.Join(msg.Chat.ID, member)
	switch {
	case errors.Is(err, roster.ErrNoOpenWindow):
		h.reply(msg.Chat.ID, "Окно записи сейчас закрыто. Я позову, когда начнётся следующий раунд.")
	case err != nil:
		h.log.Error().Err(err).Int64("chat_id", msg.Chat.ID).Msg("не удалось записать участника")
		h.reply(msg.Chat.ID, "Не получилось записать, попробуйте ещё раз.")
	default:
		text := fmt.Sprintf("%s, вы в подборе! Отменить — /leave.", displayName(msg.From))
		if closesAt != nil {
			text += fmt.Sprintf(" Окно закроется в %s.", closesAt.In(h.cycleUC.Location()).Format("15:04"))
		}
		h.reply(msg.Chat.ID, text)
	}
}

func (h *Handler) handleLeave(msg *tgbotapi.Message, group bool) {
	if !group {
		h.reply(msg.Chat.ID, "Запись работает только в групповом чате.")
		return
	}
	err := h.rosterUC.Leave(msg.Chat.ID, msg.From.ID)
	switch {
	case errors.Is(err, roster.ErrNoOpenWindow):
		h.reply(msg.Chat.ID, "Окно записи сейчас закрыто, выходить не из чего.")
	case err != nil:
		h.log.Error().Err(err).Int64("chat_id", msg.Chat.ID).Msg("не удалось исключить участника")
		h.reply(msg.Chat.ID, "Не получилось, попробуйте ещё раз.")
	default:
		h.reply(msg.Chat.ID, fmt.Sprintf("%s, вы вышли из подбора этого раунда.", displayName(msg.From)))
	}
}

func (h *Handler) handleStatus(msg *tgbotapi.Message, group bool) {
	if !group {
		h.reply(msg.Chat.ID, "Статус доступен только в групповом чате.")
		return
	}
	chat, members, err := h.rosterUC.Status(msg.Chat.ID)
	if err != nil {
		h.log.Error().Err(err).Int64("chat_id", msg.Chat.ID).Msg("не удалось получить статус")
		h.reply(msg.Chat.ID, "Не получилось узнать статус, попробуйте ещё раз.")
		return
	}
	if !chat.WindowOpen() {
		h.reply(msg.Chat.ID, "Окно записи закрыто. Следующий раунд откроется по расписанию.")
		return
	}
	var b strings.Builder
	b.WriteString("Окно записи открыто")
	if chat.WindowClosesAt != nil {
		b.WriteString(fmt.Sprintf(" до %s", chat.WindowClosesAt.In(h.cycleUC.Location()).Format("15:04")))
	}
	if len(members) == 0 {
		b.WriteString(".\nПока никто не записался — будьте первым: /join")
	} else {
		b.WriteString(fmt.Sprintf(".\nЗаписались (%d):", len(members)))
		for _, m := range members {
			name := strings.TrimSpace(m.FirstName)
			if name == "" && m.Username != "" {
				name = "@" + m.Username
			}
			if name == "" {
				name = fmt.Sprintf("участник %d", m.UserID)
			}
			b.WriteString("\n• " + name)
		}
	}
	h.reply(msg.Chat.ID, b.String())
}

func (h *Handler) handleForcePair(ctx context.Context, msg *tgbotapi.Message, group bool) {
	if !group {
		h.reply(msg.Chat.ID, "Команда работает только в групповом чате.")
		return
	}
	if !h.isChatAdmin(msg.Chat.ID, msg.From.ID) {
		h.reply(msg.Chat.ID, "Команда доступна только администраторам чата.")
		return
	}
	err := h.cycleUC.ForcePair(ctx, msg.Chat.ID)
	switch {
	case errors.Is(err, cycle.ErrNoOpenWindow):
		h.reply(msg.Chat.ID, "Окно записи не открыто — нечего закрывать. Откройте его командой /poll_now.")
	case err != nil:
		h.log.Error().Err(err).Int64("chat_id", msg.Chat.ID).Msg("не удалось форсировать подбор")
		h.reply(msg.Chat.ID, "Не получилось запустить подбор, попробуйте ещё раз.")
	default:
		h.reply(msg.Chat.ID, "Окно закрыто, составляю пары…")
	}
}

func (h *Handler) handleForcePoll(ctx context.Context, msg *tgbotapi.Message, group bool) {
	if !group {
		h.reply(msg.Chat.ID, "Команда работает только в групповом чате.")
		return
	}
	if !h.isChatAdmin(msg.Chat.ID, msg.From.ID) {
		h.reply(msg.Chat.ID, "Команда доступна только администраторам чата.")
		return
	}
	err := h.cycleUC.ForcePoll(ctx, msg.Chat.ID)
	switch {
	case errors.Is(err, cycle.ErrWindowAlreadyOpen):
		h.reply(msg.Chat.ID, "Окно записи уже открыто: /join, чтобы участвовать.")
	case err != nil:
		h.log.Error().Err(err).Int64("chat_id", msg.Chat.ID).Msg("не удалось открыть окно")
		h.reply(msg.Chat.ID, "Не получилось открыть окно, попробуйте ещё раз.")
	}
}

func (h *Handler) handleDeleteMe(msg *tgbotapi.Message) {
	if err := h.rosterUC.DeleteUserData(msg.From.ID); err != nil {
		h.log.Error().Err(err).Int64("user_id", msg.From.ID).Msg("не удалось удалить данные")
		h.reply(msg.Chat.ID, "Не получилось удалить данные, попробуйте ещё раз.")
		return
	}
	h.reply(msg.Chat.ID, "Готово: ваши заявки и профиль удалены.")
}

func (h *Handler) handleWhoAmI(msg *tgbotapi.Message) {
	role := "обычный пользователь"
	if msg.From.ID == h.ownerID {
		role = "владелец бота"
	}
	h.reply(msg.Chat.ID, fmt.Sprintf("Ваш id: %d (%s).", msg.From.ID, role))
}

func (h *Handler) isOwner(msg *tgbotapi.Message) bool {
	if h.ownerID != 0 && msg.From.ID == h.ownerID {
		return true
	}
	h.reply(msg.Chat.ID, "Команда доступна только владельцу бота.")
	return false
}

func (h *Handler) handleAdAdd(msg *tgbotapi.Message) {
	if !h.isOwner(msg) {
		return
	}
	a, err := h.announceUC.Add(msg.CommandArguments())
	switch {
	case errors.Is(err, announce.ErrEmptyAnnouncement):
		h.reply(msg.Chat.ID, "Использование: /ad_add <текст объявления>")
	case err != nil:
		h.log.Error().Err(err).Msg("не удалось сохранить объявление")
		h.reply(msg.Chat.ID, "Не получилось сохранить объявление.")
	default:
		h.reply(msg.Chat.ID, fmt.Sprintf("Объявление #%d сохранено.", a.ID))
	}
}

func (h *Handler) handleAdList(msg *tgbotapi.Message) {
	if !h.isOwner(msg) {
		return
	}
	list, err := h.announceUC.List()
	if err != nil {
		h.log.Error().Err(err).Msg("не удалось получить объявления")
		h.reply(msg.Chat.ID, "Не получилось получить список объявлений.")
		return
	}
	if len(list) == 0 {
		h.reply(msg.Chat.ID, "Объявлений нет.")
		return
	}
	var b strings.Builder
	b.WriteString("Объявления:")
	for _, a := range list {
		b.WriteString(fmt.Sprintf("\n#%d — %s", a.ID, a.Body))
	}
	h.reply(msg.Chat.ID, b.String())
}

func (h *Handler) handleAdDelete(msg *tgbotapi.Message) {
	if !h.isOwner(msg) {
		return
	}
	id, err := strconv.ParseInt(strings.TrimSpace(msg.CommandArguments()), 10, 64)
	if err != nil {
		h.reply(msg.Chat.ID, "Использование: /ad_del <id>")
		return
	}
	err = h.announceUC.Delete(id)
	switch {
	case errors.Is(err, announce.ErrAnnouncementNotFound):
		h.reply(msg.Chat.ID, fmt.Sprintf("Объявления #%d нет.", id))
	case err != nil:
		h.log.Error().Err(err).Msg("не удалось удалить объявление")
		h.reply(msg.Chat.ID, "Не получилось удалить объявление.")
	default:
		h.reply(msg.Chat.ID, fmt.Sprintf("Объявление #%d удалено.", id))
	}
}

func (h *Handler) handleAdSend(ctx context.Context, msg *tgbotapi.Message) {
	if !h.isOwner(msg) {
		return
	}
	var id *int64
	if arg := strings.TrimSpace(msg.CommandArguments()); arg != "" {
		parsed, err := strconv.ParseInt(arg, 10, 64)
		if err != nil {
			h.reply(msg.Chat.ID, "Использование: /ad_send [id]")
			return
		}
		id = &parsed
	}
	report, err := h.announceUC.Send(ctx, id)
	switch {
	case errors.Is(err, announce.ErrAnnouncementNotFound):
		h.reply(msg.Chat.ID, "Такого объявления нет.")
	case err != nil:
		h.log.Error().Err(err).Msg("рассылка прервана")
		h.reply(msg.Chat.ID, fmt.Sprintf("Рассылка прервана. Доставлено: %d, ошибок: %d.", report.Delivered, report.Failed))
	default:
		h.reply(msg.Chat.ID, fmt.Sprintf("Рассылка завершена. Доставлено: %d, ошибок: %d.", report.Delivered, report.Failed))
	}
}

// isChatAdmin проверяет права через getChatMember.
func (h *Handler) isChatAdmin(chatID, userID int64) bool {
	start := time.Now()
	member, err := h.bot.GetChatMember(tgbotapi.GetChatMemberConfig{
		ChatConfigWithUser: tgbotapi.ChatConfigWithUser{ChatID: chatID, UserID: userID},
	})
	metrics.ObserveNetworkRequest("telegram_bot", "get_chat_member", strconv.FormatInt(chatID, 10), start, err)
	if err != nil {
		h.log.Error().Err(err).Int64("chat_id", chatID).Int64("user_id", userID).Msg("не удалось проверить права")
		return false
	}
	return member.Status == "creator" || member.Status == "administrator"
}

func (h *Handler) reply(chatID int64, text string) {
	for _, part := range telegram.SplitMessage(text) {
		msg := tgbotapi.NewMessage(chatID, part)
		start := time.Now()
		_, err := h.bot.Send(msg)
		metrics.ObserveNetworkRequest("telegram_bot", "send_message", strconv.FormatInt(chatID, 10), start, err)
		if err != nil {
			metrics.BotSendErrors.Inc()
			h.log.Error().Err(err).Msg("не удалось отправить сообщение")
			return
		}
	}
}

func isGroupChat(chatType string) bool {
	return chatType == "group" || chatType == "supergroup"
}

func memberFromUser(u *tgbotapi.User) domain.Member {
	return domain.Member{UserID: u.ID, Username: u.UserName, FirstName: u.FirstName}
}

func displayName(u *tgbotapi.User) string {
	if name := strings.TrimSpace(u.FirstName); name != "" {
		return name
	}
	if u.UserName != "" {
		return "@" + u.UserName
	}
	return fmt.Sprintf("участник %d", u.ID)
}
