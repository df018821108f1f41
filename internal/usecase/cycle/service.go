package cycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tg-pairbot/internal/domain"
	"tg-pairbot/internal/infra/metrics"
)

// ErrWindowAlreadyOpen — в чате уже идёт окно записи.
var ErrWindowAlreadyOpen = errors.New("окно записи уже открыто")

// ErrNoOpenWindow — в чате нет открытого окна записи.
var ErrNoOpenWindow = errors.New("окно записи не открыто")

const tickInterval = 30 * time.Second

// Service управляет жизненным циклом окон записи: открывает их по
// расписанию, закрывает по таймауту либо по команде администратора и
// ставит задачи подбора в очередь.
type Service struct {
	chats     domain.ChatRepo
	queue     domain.PairingQueue
	messenger domain.Messenger
	cache     domain.Cache
	schedule  Schedule
	window    time.Duration
	logger    zerolog.Logger
	now       func() time.Time
}

// NewService создаёт сервис цикла.
func NewService(chats domain.ChatRepo, queue domain.PairingQueue, messenger domain.Messenger, cache domain.Cache, schedule Schedule, window time.Duration, logger zerolog.Logger) *Service {
	return &Service{
		chats:     chats,
		queue:     queue,
		messenger: messenger,
		cache:     cache,
		schedule:  schedule,
		window:    window,
		logger:    logger,
		now:       time.Now,
	}
}

// Run крутит цикл до отмены контекста. Каждый тик обходит реестр чатов:
// просроченные окна закрываются (в том числе после рестарта), наступившие
// моменты расписания открывают новые. Точность закрытия равна шагу тика.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Service) tick(ctx context.Context) {
	chats, err := s.chats.ListChats()
	if err != nil {
		s.logger.Error().Err(err).Msg("scheduler: не удалось получить список чатов")
		return
	}
	now := s.now()
	for _, chat := range chats {
		if err := s.tickChat(ctx, chat, now); err != nil {
			s.logger.Error().Err(err).Int64("chat_id", chat.ID).Msg("scheduler: ошибка обработки чата")
		}
	}
}

func (s *Service) tickChat(ctx context.Context, chat domain.Chat, now time.Time) error {
	if chat.WindowOpen() {
		if chat.WindowClosesAt != nil && !now.Before(*chat.WindowClosesAt) {
			return s.close(ctx, chat.ID, chat.ActiveRoundTag, domain.CauseScheduled)
		}
		return nil
	}

	lastFired := chat.CreatedAt
	if chat.LastFiredAt != nil {
		lastFired = *chat.LastFiredAt
	}
	fire, due := s.schedule.NextFire(now, lastFired)
	if !due {
		return nil
	}

	acquired, err := s.chats.AcquireCycle(chat.ID, fire)
	if err != nil {
		return fmt.Errorf("захват цикла: %w", err)
	}
	if !acquired {
		return nil
	}
	if err := s.chats.MarkFired(chat.ID, fire); err != nil {
		return fmt.Errorf("отметка срабатывания: %w", err)
	}
	return s.open(ctx, chat.ID)
}

// open открывает окно записи и анонсирует его в чате. Анонс дедуплицируется
// через кэш по id чата: после гонки рестартов чат не получит два
// приглашения на одно окно.
func (s *Service) open(ctx context.Context, chatID int64) error {
	tag := uuid.NewString()
	closesAt := s.now().Add(s.window)
	if err := s.chats.OpenWindow(chatID, tag, closesAt); err != nil {
		return fmt.Errorf("открытие окна: %w", err)
	}
	metrics.WindowsOpened.Inc()
	s.logger.Info().Int64("chat_id", chatID).Str("round_tag", tag).Time("closes_at", closesAt).Msg("scheduler: окно записи открыто")

	announce := func() error {
		text := fmt.Sprintf(
			"🔔 Открыто окно записи на раунд знакомств!\nОтправьте /join до %s, чтобы участвовать. Передумали — /leave.",
			closesAt.In(s.schedule.Location()).Format("15:04"),
		)
		return s.messenger.SendMessage(ctx, chatID, text)
	}
	if err := s.cache.Once(ctx, fmt.Sprintf("window_open:%d", chatID), s.window, announce); err != nil {
		// Окно уже открыто и закроется по расписанию, анонс не критичен.
		s.logger.Error().Err(err).Int64("chat_id", chatID).Msg("scheduler: не удалось анонсировать окно")
	}
	return nil
}

// close атомарно закрывает окно и ставит задачу подбора. Если окно уже
// закрыл другой процесс, ничего не делает.
func (s *Service) close(ctx context.Context, chatID int64, roundTag string, cause domain.PairingJobCause) error {
	ok, err := s.chats.CloseWindow(chatID, roundTag)
	if err != nil {
		return fmt.Errorf("закрытие окна: %w", err)
	}
	if !ok {
		return nil
	}
	job := domain.PairingJob{
		ID:          uuid.NewString(),
		ChatID:      chatID,
		RoundTag:    roundTag,
		Cause:       cause,
		RequestedAt: s.now(),
	}
	if err := s.queue.Enqueue(ctx, job); err != nil {
		return fmt.Errorf("постановка задачи подбора: %w", err)
	}
	s.logger.Info().Int64("chat_id", chatID).Str("round_tag", roundTag).Str("cause", string(cause)).Msg("scheduler: окно закрыто, задача поставлена")
	return nil
}

// Location возвращает таймзону расписания: в ней рендерятся все
// видимые пользователю времена закрытия окна.
func (s *Service) Location() *time.Location {
	return s.schedule.Location()
}

// ForcePoll открывает окно записи немедленно, не сдвигая расписание.
func (s *Service) ForcePoll(ctx context.Context, chatID int64) error {
	chat, err := s.chats.GetChat(chatID)
	if err != nil {
		return fmt.Errorf("чат: %w", err)
	}
	if chat.WindowOpen() {
		return ErrWindowAlreadyOpen
	}
	return s.open(ctx, chatID)
}

// ForcePair принудительно закрывает открытое окно и запускает подбор по
// текущим заявкам.
func (s *Service) ForcePair(ctx context.Context, chatID int64) error {
	chat, err := s.chats.GetChat(chatID)
	if err != nil {
		return fmt.Errorf("чат: %w", err)
	}
	if !chat.WindowOpen() {
		return ErrNoOpenWindow
	}
	return s.close(ctx, chatID, chat.ActiveRoundTag, domain.CauseManual)
}
