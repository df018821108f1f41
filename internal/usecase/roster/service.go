package roster

import (
	"errors"
	"fmt"
	"time"

	"tg-pairbot/internal/domain"
)

// ErrNoOpenWindow — заявки принимаются только в открытое окно записи.
var ErrNoOpenWindow = errors.New("окно записи сейчас закрыто")

// Service управляет заявками участников и реестром чатов.
type Service struct {
	chats   domain.ChatRepo
	signals domain.SignalRepo
	members domain.MemberRepo
}

// NewService создаёт сервис заявок.
func NewService(chats domain.ChatRepo, signals domain.SignalRepo, members domain.MemberRepo) *Service {
	return &Service{chats: chats, signals: signals, members: members}
}

// Register вносит чат в реестр либо обновляет его название.
func (s *Service) Register(chatID int64, title string) (domain.Chat, error) {
	return s.chats.UpsertChat(chatID, title)
}

// Join записывает участника в открытое окно. Повторный /join ничего не
// меняет, /join после /leave возвращает участника: действует последний
// сигнал. Возвращает момент закрытия окна.
func (s *Service) Join(chatID int64, member domain.Member) (*time.Time, error) {
	chat, err := s.chats.GetChat(chatID)
	if err != nil {
		return nil, fmt.Errorf("чат: %w", err)
	}
	if !chat.WindowOpen() {
		return nil, ErrNoOpenWindow
	}
	if err := s.members.UpsertMember(member); err != nil {
		return nil, fmt.Errorf("профиль участника: %w", err)
	}
	if err := s.signals.SetSignal(chatID, member.UserID, chat.ActiveRoundTag, domain.SignalReady); err != nil {
		return nil, fmt.Errorf("заявка: %w", err)
	}
	return chat.WindowClosesAt, nil
}

// Leave выводит участника из подбора текущего окна немедленно.
func (s *Service) Leave(chatID, userID int64) error {
	chat, err := s.chats.GetChat(chatID)
	if err != nil {
		return fmt.Errorf("чат: %w", err)
	}
	if !chat.WindowOpen() {
		return ErrNoOpenWindow
	}
	if err := s.signals.SetSignal(chatID, userID, chat.ActiveRoundTag, domain.SignalWithdrawn); err != nil {
		return fmt.Errorf("заявка: %w", err)
	}
	return nil
}

// Status возвращает чат и список записавшихся в текущее окно. Если окно
// закрыто, список пуст.
func (s *Service) Status(chatID int64) (domain.Chat, []domain.Member, error) {
	chat, err := s.chats.GetChat(chatID)
	if err != nil {
		return domain.Chat{}, nil, fmt.Errorf("чат: %w", err)
	}
	if !chat.WindowOpen() {
		return chat, nil, nil
	}
	ids, err := s.signals.ReadySet(chatID, chat.ActiveRoundTag)
	if err != nil {
		return domain.Chat{}, nil, fmt.Errorf("участники окна: %w", err)
	}
	known, err := s.members.GetMembers(ids)
	if err != nil {
		return domain.Chat{}, nil, fmt.Errorf("профили участников: %w", err)
	}
	out := make([]domain.Member, 0, len(ids))
	for _, id := range ids {
		if m, ok := known[id]; ok {
			out = append(out, m)
		} else {
			out = append(out, domain.Member{UserID: id})
		}
	}
	return chat, out, nil
}

// DeleteUserData удаляет заявки пользователя по его запросу.
func (s *Service) DeleteUserData(userID int64) error {
	return s.signals.DeleteUserData(userID)
}
