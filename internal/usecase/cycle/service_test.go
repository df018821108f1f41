package cycle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"tg-pairbot/internal/domain"
)

type stubChats struct {
	chats      map[int64]domain.Chat
	acquired   map[string]bool
	closeOK    bool
	markedFire []time.Time
}

func newStubChats(chats ...domain.Chat) *stubChats {
	s := &stubChats{chats: make(map[int64]domain.Chat), acquired: make(map[string]bool), closeOK: true}
	for _, c := range chats {
		s.chats[c.ID] = c
	}
	return s
}

func (s *stubChats) UpsertChat(chatID int64, title string) (domain.Chat, error) {
	c := domain.Chat{ID: chatID, Title: title}
	s.chats[chatID] = c
	return c, nil
}
func (s *stubChats) GetChat(chatID int64) (domain.Chat, error) {
	c, ok := s.chats[chatID]
	if !ok {
		return domain.Chat{}, errors.New("чат не найден")
	}
	return c, nil
}
func (s *stubChats) ListChats() ([]domain.Chat, error) {
	var out []domain.Chat
	for _, c := range s.chats {
		out = append(out, c)
	}
	return out, nil
}
func (s *stubChats) OpenWindow(chatID int64, roundTag string, closesAt time.Time) error {
	c := s.chats[chatID]
	c.ActiveRoundTag = roundTag
	c.WindowClosesAt = &closesAt
	s.chats[chatID] = c
	return nil
}
func (s *stubChats) CloseWindow(chatID int64, roundTag string) (bool, error) {
	c := s.chats[chatID]
	if !s.closeOK || c.ActiveRoundTag != roundTag {
		return false, nil
	}
	c.ActiveRoundTag = ""
	c.WindowClosesAt = nil
	s.chats[chatID] = c
	return true, nil
}
func (s *stubChats) MarkFired(chatID int64, firedAt time.Time) error {
	c := s.chats[chatID]
	c.LastFiredAt = &firedAt
	s.chats[chatID] = c
	s.markedFire = append(s.markedFire, firedAt)
	return nil
}
func (s *stubChats) AcquireCycle(chatID int64, scheduledFor time.Time) (bool, error) {
	key := scheduledFor.UTC().String()
	if s.acquired[key] {
		return false, nil
	}
	s.acquired[key] = true
	return true, nil
}

type stubQueue struct {
	jobs []domain.PairingJob
}

func (q *stubQueue) Enqueue(_ context.Context, job domain.PairingJob) error {
	q.jobs = append(q.jobs, job)
	return nil
}
func (q *stubQueue) Receive(context.Context) (domain.PairingJob, domain.AckFunc, error) {
	return domain.PairingJob{}, nil, errors.New("не используется")
}

type stubMessenger struct {
	sent []string
}

func (m *stubMessenger) SendMessage(_ context.Context, _ int64, text string) error {
	m.sent = append(m.sent, text)
	return nil
}
func (m *stubMessenger) SendHTML(_ context.Context, _ int64, text string) error {
	m.sent = append(m.sent, text)
	return nil
}

// onceCache повторяет семантику SetNX: первый захват ключа выполняет
// функцию, повторные — нет.
type onceCache struct {
	keys map[string]bool
}

func newOnceCache() *onceCache {
	return &onceCache{keys: make(map[string]bool)}
}

func (c *onceCache) Once(_ context.Context, key string, _ time.Duration, fn func() error) error {
	if c.keys[key] {
		return nil
	}
	c.keys[key] = true
	if err := fn(); err != nil {
		delete(c.keys, key)
		return err
	}
	return nil
}
func (c *onceCache) Set(context.Context, string, []byte, time.Duration) error { return nil }
func (c *onceCache) Get(context.Context, string) ([]byte, error)              { return nil, nil }

func newTestService(t *testing.T, chats *stubChats, queue *stubQueue, messenger *stubMessenger, now time.Time) *Service {
	t.Helper()
	schedule, err := ParseSchedule("0 15 * * 1", "Europe/Moscow")
	if err != nil {
		t.Fatalf("не ожидали ошибку разбора: %v", err)
	}
	service := NewService(chats, queue, messenger, newOnceCache(), schedule, time.Hour, zerolog.Nop())
	service.now = func() time.Time { return now }
	return service
}

func TestOpenAnnouncesOncePerChat(t *testing.T) {
	// Гонка рестартов: два процесса открывают окно одному чату, но
	// приглашение в чат уходит один раз — ключ кэша стабилен для чата.
	loc, _ := time.LoadLocation("Europe/Moscow")
	now := time.Date(2024, 4, 10, 12, 0, 0, 0, loc)
	chats := newStubChats(domain.Chat{ID: -100, CreatedAt: now.Add(-time.Hour)})
	messenger := &stubMessenger{}
	service := newTestService(t, chats, &stubQueue{}, messenger, now)

	if err := service.open(context.Background(), -100); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if err := service.open(context.Background(), -100); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(messenger.sent) != 1 {
		t.Fatalf("повторное открытие продублировало анонс: %d отправок", len(messenger.sent))
	}
}

func TestServiceLocationMatchesSchedule(t *testing.T) {
	service := newTestService(t, newStubChats(), &stubQueue{}, &stubMessenger{}, time.Now())
	if got := service.Location().String(); got != "Europe/Moscow" {
		t.Fatalf("ожидали таймзону расписания, получили %s", got)
	}
}

func TestTickOpensDueWindow(t *testing.T) {
	loc, _ := time.LoadLocation("Europe/Moscow")
	created := time.Date(2024, 4, 3, 10, 0, 0, 0, loc)
	now := time.Date(2024, 4, 8, 15, 1, 0, 0, loc)

	chats := newStubChats(domain.Chat{ID: -100, CreatedAt: created})
	queue := &stubQueue{}
	messenger := &stubMessenger{}
	service := newTestService(t, chats, queue, messenger, now)

	service.tick(context.Background())

	chat, _ := chats.GetChat(-100)
	if !chat.WindowOpen() {
		t.Fatalf("ожидали открытое окно")
	}
	if len(messenger.sent) != 1 {
		t.Fatalf("ожидали один анонс, получили %d", len(messenger.sent))
	}
	if len(chats.markedFire) != 1 {
		t.Fatalf("ожидали отметку срабатывания")
	}

	// Повторный тик того же периода окно не трогает и не дублирует анонс.
	service.tick(context.Background())
	if len(messenger.sent) != 1 {
		t.Fatalf("повторный тик продублировал анонс")
	}
}

func TestTickClosesExpiredWindow(t *testing.T) {
	loc, _ := time.LoadLocation("Europe/Moscow")
	now := time.Date(2024, 4, 8, 16, 30, 0, 0, loc)
	closesAt := now.Add(-5 * time.Minute)
	chats := newStubChats(domain.Chat{ID: -100, ActiveRoundTag: "tag-1", WindowClosesAt: &closesAt, CreatedAt: now.Add(-time.Hour * 24)})
	queue := &stubQueue{}
	service := newTestService(t, chats, queue, &stubMessenger{}, now)

	service.tick(context.Background())

	chat, _ := chats.GetChat(-100)
	if chat.WindowOpen() {
		t.Fatalf("просроченное окно должно закрыться")
	}
	if len(queue.jobs) != 1 {
		t.Fatalf("ожидали одну задачу подбора, получили %d", len(queue.jobs))
	}
	if queue.jobs[0].RoundTag != "tag-1" || queue.jobs[0].Cause != domain.CauseScheduled {
		t.Fatalf("неверная задача: %+v", queue.jobs[0])
	}
}

func TestCloseLostRaceDoesNotEnqueue(t *testing.T) {
	loc, _ := time.LoadLocation("Europe/Moscow")
	now := time.Date(2024, 4, 8, 16, 30, 0, 0, loc)
	closesAt := now.Add(-time.Minute)
	chats := newStubChats(domain.Chat{ID: -100, ActiveRoundTag: "tag-1", WindowClosesAt: &closesAt, CreatedAt: now})
	chats.closeOK = false
	queue := &stubQueue{}
	service := newTestService(t, chats, queue, &stubMessenger{}, now)

	service.tick(context.Background())

	if len(queue.jobs) != 0 {
		t.Fatalf("проигранная гонка закрытия не должна ставить задачу")
	}
}

func TestForcePollAndForcePair(t *testing.T) {
	loc, _ := time.LoadLocation("Europe/Moscow")
	now := time.Date(2024, 4, 10, 12, 0, 0, 0, loc)
	chats := newStubChats(domain.Chat{ID: -100, CreatedAt: now.Add(-time.Hour)})
	queue := &stubQueue{}
	service := newTestService(t, chats, queue, &stubMessenger{}, now)

	if err := service.ForcePair(context.Background(), -100); !errors.Is(err, ErrNoOpenWindow) {
		t.Fatalf("ожидали ErrNoOpenWindow, получили %v", err)
	}

	if err := service.ForcePoll(context.Background(), -100); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if err := service.ForcePoll(context.Background(), -100); !errors.Is(err, ErrWindowAlreadyOpen) {
		t.Fatalf("ожидали ErrWindowAlreadyOpen, получили %v", err)
	}
	// Ручной опрос не сдвигает расписание.
	if len(chats.markedFire) != 0 {
		t.Fatalf("ручной опрос не должен отмечать срабатывание")
	}

	if err := service.ForcePair(context.Background(), -100); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(queue.jobs) != 1 {
		t.Fatalf("ожидали задачу подбора после принудительного закрытия")
	}
	if queue.jobs[0].Cause != domain.CauseManual {
		t.Fatalf("ожидали ручную причину, получили %s", queue.jobs[0].Cause)
	}
}
