package announce

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"tg-pairbot/internal/domain"
	"tg-pairbot/internal/infra/metrics"
)

// ErrEmptyAnnouncement — текст объявления пуст.
var ErrEmptyAnnouncement = errors.New("текст объявления пуст")

// ErrAnnouncementNotFound — объявления с таким id нет.
var ErrAnnouncementNotFound = errors.New("объявление не найдено")

// Service управляет реестром объявлений и их рассылкой по чатам.
type Service struct {
	announcements domain.AnnouncementRepo
	chats         domain.ChatRepo
	messenger     domain.Messenger
	limiter       *rate.Limiter
	logger        zerolog.Logger
}

// NewService создаёт сервис объявлений. rps ограничивает темп рассылки.
func NewService(announcements domain.AnnouncementRepo, chats domain.ChatRepo, messenger domain.Messenger, rps float64, logger zerolog.Logger) *Service {
	return &Service{
		announcements: announcements,
		chats:         chats,
		messenger:     messenger,
		limiter:       rate.NewLimiter(rate.Limit(rps), 1),
		logger:        logger,
	}
}

// Add добавляет объявление в реестр.
func (s *Service) Add(body string) (domain.Announcement, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return domain.Announcement{}, ErrEmptyAnnouncement
	}
	return s.announcements.AddAnnouncement(body)
}

// List возвращает объявления в порядке добавления.
func (s *Service) List() ([]domain.Announcement, error) {
	return s.announcements.ListAnnouncements()
}

// Delete удаляет объявление. Отсутствие объявления — отдельная ошибка,
// чтобы владелец увидел опечатку в id.
func (s *Service) Delete(id int64) error {
	ok, err := s.announcements.DeleteAnnouncement(id)
	if err != nil {
		return fmt.Errorf("удаление объявления: %w", err)
	}
	if !ok {
		return ErrAnnouncementNotFound
	}
	return nil
}

// Send рассылает объявление по всем известным чатам. id == nil означает
// все объявления, старые первыми. Ошибка доставки в отдельный чат не
// прерывает обход: итог собирается в отчёт. Пустой реестр чатов — не
// ошибка, отчёт нулевой.
func (s *Service) Send(ctx context.Context, id *int64) (domain.BroadcastReport, error) {
	var list []domain.Announcement
	if id != nil {
		a, err := s.announcements.GetAnnouncement(*id)
		if err != nil {
			return domain.BroadcastReport{}, ErrAnnouncementNotFound
		}
		list = []domain.Announcement{a}
	} else {
		all, err := s.announcements.ListAnnouncements()
		if err != nil {
			return domain.BroadcastReport{}, fmt.Errorf("список объявлений: %w", err)
		}
		list = all
	}

	chats, err := s.chats.ListChats()
	if err != nil {
		return domain.BroadcastReport{}, fmt.Errorf("список чатов: %w", err)
	}

	var report domain.BroadcastReport
	for _, a := range list {
		for _, chat := range chats {
			if err := s.limiter.Wait(ctx); err != nil {
				return report, err
			}
			if err := s.messenger.SendMessage(ctx, chat.ID, a.Body); err != nil {
				report.Failed++
				metrics.BroadcastDeliveries.WithLabelValues("failed").Inc()
				s.logger.Error().Err(err).Int64("chat_id", chat.ID).Int64("announcement_id", a.ID).Msg("announce: доставка не удалась")
				continue
			}
			report.Delivered++
			metrics.BroadcastDeliveries.WithLabelValues("delivered").Inc()
		}
	}
	return report, nil
}
