package domain

import (
	"context"
	"errors"
	"time"
)

// ErrRoundExists — раунд с таким тегом уже записан.
var ErrRoundExists = errors.New("раунд с таким тегом уже записан")

// ChatRepo управляет реестром чатов и состоянием окна записи.
type ChatRepo interface {
	UpsertChat(chatID int64, title string) (Chat, error)
	GetChat(chatID int64) (Chat, error)
	ListChats() ([]Chat, error)
	// OpenWindow переводит чат в состояние открытого окна с указанным
	// тегом раунда.
	OpenWindow(chatID int64, roundTag string, closesAt time.Time) error
	// CloseWindow атомарно закрывает окно с указанным тегом. Возвращает
	// false, если окно уже закрыто другим процессом.
	CloseWindow(chatID int64, roundTag string) (bool, error)
	// MarkFired фиксирует момент расписания, на который цикл сработал.
	// Ручные опросы этот момент не сдвигают.
	MarkFired(chatID int64, firedAt time.Time) error
	// AcquireCycle помечает запуск цикла на указанный момент и
	// возвращает true, если запись была создана. Повтор того же периода
	// возвращает false без ошибки.
	AcquireCycle(chatID int64, scheduledFor time.Time) (bool, error)
}

// MemberRepo хранит профили участников для упоминаний.
type MemberRepo interface {
	UpsertMember(m Member) error
	GetMembers(userIDs []int64) (map[int64]Member, error)
}

// SignalRepo управляет заявками участников текущего окна.
type SignalRepo interface {
	// SetSignal создаёт либо перезаписывает заявку: действует последний
	// сигнал участника в рамках одного окна.
	SetSignal(chatID, userID int64, roundTag string, status SignalStatus) error
	// ReadySet возвращает участников окна со статусом ready.
	ReadySet(chatID int64, roundTag string) ([]int64, error)
	DeleteUserData(userID int64) error
}

// RoundRepo — журнал прошедших раундов (History Store).
type RoundRepo interface {
	// AppendRound записывает раунд транзакционно. Если раунд с этим
	// тегом уже существует, возвращает ErrRoundExists.
	AppendRound(chatID int64, roundTag string, groups []PairGroup) (Round, error)
	GetRoundByTag(chatID int64, roundTag string) (Round, error)
	// ListRecentRounds возвращает до k последних раундов чата, новые
	// первыми. Если раундов меньше k, возвращает все.
	ListRecentRounds(chatID int64, k int) ([]Round, error)
}

// AnnouncementRepo — журнал объявлений владельца.
type AnnouncementRepo interface {
	AddAnnouncement(body string) (Announcement, error)
	ListAnnouncements() ([]Announcement, error)
	GetAnnouncement(id int64) (Announcement, error)
	// DeleteAnnouncement возвращает false, если объявления с таким id
	// нет.
	DeleteAnnouncement(id int64) (bool, error)
}

// Messenger отправляет сообщения в чаты. Повторы и лимиты Telegram —
// забота транспорта, не ядра.
type Messenger interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
	SendHTML(ctx context.Context, chatID int64, text string) error
}

// Cache используется для простых TTL-хранилищ.
type Cache interface {
	// Once выполняет функцию, только если ключ ещё не был взят.
	Once(ctx context.Context, key string, ttl time.Duration, fn func() error) error
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
}
