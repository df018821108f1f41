package domain

import "time"

// Chat описывает групповой чат, в котором работает бот.
type Chat struct {
	ID             int64
	Title          string
	ActiveRoundTag string
	WindowClosesAt *time.Time
	LastFiredAt    *time.Time
	CreatedAt      time.Time
}

// WindowOpen сообщает, открыто ли сейчас окно записи.
func (c Chat) WindowOpen() bool {
	return c.ActiveRoundTag != ""
}

// Member описывает участника Telegram, известного боту.
type Member struct {
	UserID    int64
	Username  string
	FirstName string
}

// SignalStatus — статус заявки участника в текущем окне.
type SignalStatus string

const (
	// SignalReady — участник хочет попасть в подбор этого цикла.
	SignalReady SignalStatus = "ready"
	// SignalWithdrawn — участник вышел из подбора до закрытия окна.
	SignalWithdrawn SignalStatus = "withdrawn"
)

// Signal — заявка участника, привязанная к чату и открытому окну.
// Повторная команда того же участника перезаписывает заявку: действует
// последний сигнал.
type Signal struct {
	ChatID    int64
	UserID    int64
	RoundTag  string
	Status    SignalStatus
	UpdatedAt time.Time
}

// PairGroup — неупорядоченная пара участников либо тройка при нечётном
// пуле. C равен нулю для обычной пары.
type PairGroup struct {
	A int64
	B int64
	C int64
}

// IsTriad сообщает, что группа состоит из трёх участников.
func (g PairGroup) IsTriad() bool {
	return g.C != 0
}

// IDs возвращает участников группы.
func (g PairGroup) IDs() []int64 {
	if g.IsTriad() {
		return []int64{g.A, g.B, g.C}
	}
	return []int64{g.A, g.B}
}

// Edges возвращает все неупорядоченные связи внутри группы: одну для
// пары и три для тройки. Именно эти связи учитывает окно анти-повтора.
func (g PairGroup) Edges() [][2]int64 {
	if g.IsTriad() {
		return [][2]int64{{g.A, g.B}, {g.A, g.C}, {g.B, g.C}}
	}
	return [][2]int64{{g.A, g.B}}
}

// Round — зафиксированный результат одного цикла подбора. После записи
// раунд неизменяем.
type Round struct {
	ID        int64
	ChatID    int64
	RoundTag  string
	CreatedAt time.Time
	Groups    []PairGroup
}

// Announcement — объявление владельца бота для рассылки по всем чатам.
type Announcement struct {
	ID        int64
	Body      string
	CreatedAt time.Time
}

// BroadcastReport — итог рассылки: сколько доставок удалось и сколько
// чатов пришлось пропустить.
type BroadcastReport struct {
	Delivered int
	Failed    int
}
