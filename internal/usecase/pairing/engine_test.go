package pairing

import (
	"errors"
	"reflect"
	"testing"

	"tg-pairbot/internal/domain"
)

func groupsCover(t *testing.T, groups []domain.PairGroup, ready []int64) {
	t.Helper()
	seen := make(map[int64]int)
	for _, g := range groups {
		for _, id := range g.IDs() {
			seen[id]++
		}
	}
	if len(seen) != len(ready) {
		t.Fatalf("ожидали %d участников в группах, получили %d", len(ready), len(seen))
	}
	for _, id := range ready {
		if seen[id] != 1 {
			t.Fatalf("участник %d встречается %d раз", id, seen[id])
		}
	}
}

func totalPenalty(groups []domain.PairGroup, p Penalties) int {
	total := 0
	for _, g := range groups {
		for _, e := range g.Edges() {
			total += p.Penalty(e[0], e[1])
		}
	}
	return total
}

func TestComputeRoundTooFew(t *testing.T) {
	if _, err := ComputeRound([]int64{7}, nil); !errors.Is(err, ErrNotEnoughParticipants) {
		t.Fatalf("ожидали ErrNotEnoughParticipants, получили %v", err)
	}
	if _, err := ComputeRound(nil, nil); !errors.Is(err, ErrNotEnoughParticipants) {
		t.Fatalf("ожидали ErrNotEnoughParticipants, получили %v", err)
	}
}

func TestComputeRoundCoversPool(t *testing.T) {
	ready := []int64{5, 1, 4, 2, 3, 6}
	groups, err := ComputeRound(ready, nil)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(groups) != 3 {
		t.Fatalf("ожидали 3 пары, получили %d", len(groups))
	}
	groupsCover(t, groups, ready)
}

func TestComputeRoundOddPoolHasOneTriad(t *testing.T) {
	ready := []int64{1, 2, 3, 4, 5}
	groups, err := ComputeRound(ready, nil)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	triads := 0
	for _, g := range groups {
		if g.IsTriad() {
			triads++
		}
	}
	if triads != 1 {
		t.Fatalf("ожидали ровно одну тройку, получили %d", triads)
	}
	if len(groups) != 2 {
		t.Fatalf("ожидали тройку и пару, получили %d групп", len(groups))
	}
	groupsCover(t, groups, ready)
}

func TestComputeRoundAvoidsRecentPartner(t *testing.T) {
	// В окне истории пара {1,2} встречалась, {3,4} тоже. Свободное от
	// повторов разбиение {1,3},{2,4} (или {1,4},{2,3}) обязано найтись.
	history := []domain.Round{
		{Groups: []domain.PairGroup{{A: 1, B: 2}, {A: 3, B: 4}}},
	}
	p := BuildPenalties(history)
	groups, err := ComputeRound([]int64{1, 2, 3, 4}, p)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if got := totalPenalty(groups, p); got != 0 {
		t.Fatalf("ожидали разбиение без повторов, штраф %d", got)
	}
}

func TestComputeRoundExhaustedPoolStillMatches(t *testing.T) {
	// Все пары уже встречались: подбор всё равно обязан вернуть
	// разбиение с минимальным суммарным штрафом.
	history := []domain.Round{
		{Groups: []domain.PairGroup{{A: 1, B: 2, C: 3}}},
		{Groups: []domain.PairGroup{{A: 1, B: 4}, {A: 2, B: 3}}},
		{Groups: []domain.PairGroup{{A: 1, B: 3}, {A: 2, B: 4}}},
		{Groups: []domain.PairGroup{{A: 3, B: 4}, {A: 1, B: 2}}},
	}
	p := BuildPenalties(history)
	ready := []int64{1, 2, 3, 4}
	groups, err := ComputeRound(ready, p)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	groupsCover(t, groups, ready)
	// Минимум перебираем вручную по трём возможным разбиениям.
	best := -1
	splits := [][]domain.PairGroup{
		{{A: 1, B: 2}, {A: 3, B: 4}},
		{{A: 1, B: 3}, {A: 2, B: 4}},
		{{A: 1, B: 4}, {A: 2, B: 3}},
	}
	for _, s := range splits {
		cost := totalPenalty(s, p)
		if best < 0 || cost < best {
			best = cost
		}
	}
	if got := totalPenalty(groups, p); got != best {
		t.Fatalf("ожидали минимальный штраф %d, получили %d", best, got)
	}
}

func TestComputeRoundDeterministic(t *testing.T) {
	history := []domain.Round{
		{Groups: []domain.PairGroup{{A: 10, B: 20}, {A: 30, B: 40, C: 50}}},
		{Groups: []domain.PairGroup{{A: 10, B: 30}, {A: 20, B: 50}}},
	}
	p := BuildPenalties(history)
	ready := []int64{50, 10, 40, 30, 20, 60, 70}
	first, err := ComputeRound(ready, p)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	for i := 0; i < 10; i++ {
		again, err := ComputeRound(ready, p)
		if err != nil {
			t.Fatalf("не ожидали ошибку: %v", err)
		}
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("подбор не детерминирован: %v и %v", first, again)
		}
	}
}

func TestBuildPenaltiesCountsTriadEdges(t *testing.T) {
	history := []domain.Round{
		{Groups: []domain.PairGroup{{A: 1, B: 2, C: 3}}},
		{Groups: []domain.PairGroup{{A: 2, B: 1}}},
	}
	p := BuildPenalties(history)
	if got := p.Penalty(1, 2); got != 2 {
		t.Fatalf("ожидали штраф 2 для пары {1,2}, получили %d", got)
	}
	if got := p.Penalty(3, 1); got != 1 {
		t.Fatalf("ожидали штраф 1 для пары {1,3}, получили %d", got)
	}
	if got := p.Penalty(1, 4); got != 0 {
		t.Fatalf("ожидали штраф 0 для незнакомой пары, получили %d", got)
	}
}

func TestPickTriadMinimizesInnerPenalty(t *testing.T) {
	// Участники 1 и 2 уже встречались со всеми: единственная тройка без
	// повторов — {3,4,5}.
	history := []domain.Round{
		{Groups: []domain.PairGroup{{A: 1, B: 3}, {A: 2, B: 4}}},
		{Groups: []domain.PairGroup{{A: 1, B: 4}, {A: 2, B: 5}}},
		{Groups: []domain.PairGroup{{A: 1, B: 5}, {A: 2, B: 3}}},
		{Groups: []domain.PairGroup{{A: 1, B: 2}}},
	}
	p := BuildPenalties(history)
	triad, rest := pickTriad([]int64{1, 2, 3, 4, 5}, p)
	if triad.A != 3 || triad.B != 4 || triad.C != 5 {
		t.Fatalf("ожидали тройку {3,4,5}, получили %+v", triad)
	}
	if !reflect.DeepEqual(rest, []int64{1, 2}) {
		t.Fatalf("ожидали остаток [1 2], получили %v", rest)
	}
}
