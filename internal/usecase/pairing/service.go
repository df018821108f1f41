package pairing

import (
	"errors"
	"fmt"
	"time"

	"tg-pairbot/internal/domain"
	"tg-pairbot/internal/infra/metrics"
)

// ErrRoundExists возвращается при попытке записать раунд с уже
// использованным тегом.
var ErrRoundExists = domain.ErrRoundExists

// Service реализует бизнес-логику построения раундов.
type Service struct {
	signals       domain.SignalRepo
	rounds        domain.RoundRepo
	members       domain.MemberRepo
	roundsToAvoid int
}

// NewService создаёт сервис подбора.
func NewService(signals domain.SignalRepo, rounds domain.RoundRepo, members domain.MemberRepo, roundsToAvoid int) *Service {
	return &Service{signals: signals, rounds: rounds, members: members, roundsToAvoid: roundsToAvoid}
}

// BuildRound строит и фиксирует раунд для закрытого окна. Пул — участники
// окна со статусом ready, штрафы — последние K раундов чата. Повторный
// вызов с тем же тегом возвращает ErrRoundExists: раунд уже записан.
func (s *Service) BuildRound(chatID int64, roundTag string) (domain.Round, error) {
	start := time.Now()
	round, err := s.buildRound(chatID, roundTag)
	metrics.PairingBuildSeconds.Observe(time.Since(start).Seconds())
	if err != nil {
		if !errors.Is(err, ErrNotEnoughParticipants) && !errors.Is(err, ErrRoundExists) {
			metrics.PairingErrors.Inc()
		}
		return domain.Round{}, err
	}
	metrics.RoundsBuilt.Inc()
	metrics.IncRoundForChat(chatID)
	return round, nil
}

func (s *Service) buildRound(chatID int64, roundTag string) (domain.Round, error) {
	ready, err := s.signals.ReadySet(chatID, roundTag)
	if err != nil {
		return domain.Round{}, fmt.Errorf("участники окна: %w", err)
	}

	history, err := s.rounds.ListRecentRounds(chatID, s.roundsToAvoid)
	if err != nil {
		return domain.Round{}, fmt.Errorf("история раундов: %w", err)
	}

	groups, err := ComputeRound(ready, BuildPenalties(history))
	if err != nil {
		return domain.Round{}, err
	}

	round, err := s.rounds.AppendRound(chatID, roundTag, groups)
	if err != nil {
		return domain.Round{}, err
	}
	return round, nil
}

// RoundByTag возвращает ранее записанный раунд.
func (s *Service) RoundByTag(chatID int64, roundTag string) (domain.Round, error) {
	return s.rounds.GetRoundByTag(chatID, roundTag)
}

// MembersOf возвращает профили участников раунда для упоминаний.
func (s *Service) MembersOf(round domain.Round) (map[int64]domain.Member, error) {
	var ids []int64
	for _, g := range round.Groups {
		ids = append(ids, g.IDs()...)
	}
	return s.members.GetMembers(ids)
}
