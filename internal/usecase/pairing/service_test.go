package pairing

import (
	"errors"
	"strings"
	"testing"
	"time"

	"tg-pairbot/internal/domain"
)

type stubRepo struct {
	ready     []int64
	history   []domain.Round
	members   map[int64]domain.Member
	appended  []domain.Round
	appendErr error
}

func (s *stubRepo) SetSignal(int64, int64, string, domain.SignalStatus) error { return nil }
func (s *stubRepo) ReadySet(int64, string) ([]int64, error)                   { return s.ready, nil }
func (s *stubRepo) DeleteUserData(int64) error                                { return nil }

func (s *stubRepo) AppendRound(chatID int64, roundTag string, groups []domain.PairGroup) (domain.Round, error) {
	if s.appendErr != nil {
		return domain.Round{}, s.appendErr
	}
	round := domain.Round{ID: int64(len(s.appended) + 1), ChatID: chatID, RoundTag: roundTag, CreatedAt: time.Now(), Groups: groups}
	s.appended = append(s.appended, round)
	return round, nil
}
func (s *stubRepo) GetRoundByTag(chatID int64, roundTag string) (domain.Round, error) {
	for _, r := range s.appended {
		if r.ChatID == chatID && r.RoundTag == roundTag {
			return r, nil
		}
	}
	return domain.Round{}, errors.New("раунд не найден")
}
func (s *stubRepo) ListRecentRounds(int64, int) ([]domain.Round, error) { return s.history, nil }

func (s *stubRepo) UpsertMember(domain.Member) error { return nil }
func (s *stubRepo) GetMembers(ids []int64) (map[int64]domain.Member, error) {
	out := make(map[int64]domain.Member)
	for _, id := range ids {
		if m, ok := s.members[id]; ok {
			out[id] = m
		}
	}
	return out, nil
}

func TestBuildRoundPersistsGroups(t *testing.T) {
	repo := &stubRepo{ready: []int64{4, 1, 3, 2}}
	service := NewService(repo, repo, repo, 5)
	round, err := service.BuildRound(-100, "tag-1")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(round.Groups) != 2 {
		t.Fatalf("ожидали 2 пары, получили %d", len(round.Groups))
	}
	if len(repo.appended) != 1 {
		t.Fatalf("ожидали одну запись раунда")
	}
	if repo.appended[0].RoundTag != "tag-1" {
		t.Fatalf("тег раунда потерян: %q", repo.appended[0].RoundTag)
	}
}

func TestBuildRoundNotEnough(t *testing.T) {
	repo := &stubRepo{ready: []int64{1}}
	service := NewService(repo, repo, repo, 5)
	if _, err := service.BuildRound(-100, "tag-1"); !errors.Is(err, ErrNotEnoughParticipants) {
		t.Fatalf("ожидали ErrNotEnoughParticipants, получили %v", err)
	}
	if len(repo.appended) != 0 {
		t.Fatalf("раунд не должен записываться при пустом пуле")
	}
}

func TestBuildRoundDuplicateTag(t *testing.T) {
	repo := &stubRepo{ready: []int64{1, 2}, appendErr: ErrRoundExists}
	service := NewService(repo, repo, repo, 5)
	if _, err := service.BuildRound(-100, "tag-1"); !errors.Is(err, ErrRoundExists) {
		t.Fatalf("ожидали ErrRoundExists, получили %v", err)
	}
}

func TestFormatRoundMentions(t *testing.T) {
	round := domain.Round{Groups: []domain.PairGroup{{A: 1, B: 2}, {A: 3, B: 4, C: 5}}}
	members := map[int64]domain.Member{
		1: {UserID: 1, FirstName: "Аня"},
		2: {UserID: 2, Username: "bob"},
		3: {UserID: 3, FirstName: "<strong>"},
	}
	text := FormatRound(round, members)
	if !strings.Contains(text, `<a href="tg://user?id=1">Аня</a>`) {
		t.Fatalf("ожидали упоминание по имени: %s", text)
	}
	if !strings.Contains(text, `<a href="tg://user?id=2">@bob</a>`) {
		t.Fatalf("ожидали упоминание по username: %s", text)
	}
	if !strings.Contains(text, "&lt;strong&gt;") {
		t.Fatalf("имя не экранировано: %s", text)
	}
	if !strings.Contains(text, "участник 4") {
		t.Fatalf("ожидали заглушку для неизвестного участника: %s", text)
	}
}
