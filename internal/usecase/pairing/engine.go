package pairing

import (
	"errors"
	"sort"

	"tg-pairbot/internal/domain"
)

// ErrNotEnoughParticipants — в пуле меньше двух участников, подбор
// невозможен.
var ErrNotEnoughParticipants = errors.New("недостаточно участников для подбора")

type edge struct {
	a int64
	b int64
}

func normEdge(a, b int64) edge {
	if a > b {
		a, b = b, a
	}
	return edge{a: a, b: b}
}

// Penalties — счётчик встреч по неупорядоченным парам в окне анти-повтора.
type Penalties map[edge]int

// BuildPenalties строит матрицу штрафов по последним раундам истории.
// Тройки учитываются всеми тремя внутренними связями. Передавать следует
// не более K раундов; если их меньше, учитываются все.
func BuildPenalties(history []domain.Round) Penalties {
	p := make(Penalties)
	for _, r := range history {
		for _, g := range r.Groups {
			for _, e := range g.Edges() {
				p[normEdge(e[0], e[1])]++
			}
		}
	}
	return p
}

// Penalty возвращает число встреч пары в учтённом окне.
func (p Penalties) Penalty(a, b int64) int {
	return p[normEdge(a, b)]
}

// ComputeRound строит разбиение пула на пары (и одну тройку при нечётном
// размере) с минимальной суммой штрафов. Результат детерминирован:
// одинаковый вход даёт одинаковый выход. Исчерпанный пул не ошибка —
// возвращается разбиение с минимумом повторов.
func ComputeRound(ready []int64, penalties Penalties) ([]domain.PairGroup, error) {
	if len(ready) < 2 {
		return nil, ErrNotEnoughParticipants
	}

	pool := make([]int64, len(ready))
	copy(pool, ready)
	sort.Slice(pool, func(i, j int) bool { return pool[i] < pool[j] })

	var groups []domain.PairGroup
	if len(pool)%2 == 1 {
		triad, rest := pickTriad(pool, penalties)
		groups = append(groups, triad)
		pool = rest
	}

	pairs := matchPairs(pool, penalties)
	groups = append(groups, pairs...)
	return groups, nil
}

// pickTriad выбирает тройку с минимальной суммой трёх внутренних штрафов.
// При равенстве побеждает лексикографически меньшая по отсортированным id.
func pickTriad(pool []int64, penalties Penalties) (domain.PairGroup, []int64) {
	best := domain.PairGroup{}
	bestCost := -1
	for i := 0; i < len(pool); i++ {
		for j := i + 1; j < len(pool); j++ {
			for k := j + 1; k < len(pool); k++ {
				cost := penalties.Penalty(pool[i], pool[j]) +
					penalties.Penalty(pool[i], pool[k]) +
					penalties.Penalty(pool[j], pool[k])
				if bestCost < 0 || cost < bestCost {
					bestCost = cost
					best = domain.PairGroup{A: pool[i], B: pool[j], C: pool[k]}
				}
			}
		}
	}

	rest := make([]int64, 0, len(pool)-3)
	for _, id := range pool {
		if id != best.A && id != best.B && id != best.C {
			rest = append(rest, id)
		}
	}
	return best, rest
}

// matchPairs ищет совершенное паросочетание минимального суммарного
// штрафа перебором с отсечением: первым всегда сватается наименьший
// несматченный id, кандидаты идут по возрастанию, ветвь с частичной
// стоимостью не меньше лучшей отбрасывается. Нулевая стоимость
// останавливает поиск сразу.
func matchPairs(pool []int64, penalties Penalties) []domain.PairGroup {
	if len(pool) == 0 {
		return nil
	}

	used := make(map[int64]bool, len(pool))
	current := make([]domain.PairGroup, 0, len(pool)/2)
	var best []domain.PairGroup
	bestCost := -1

	var search func(cost int) bool
	search = func(cost int) bool {
		if bestCost >= 0 && cost >= bestCost {
			return false
		}
		var first int64
		found := false
		for _, id := range pool {
			if !used[id] {
				first = id
				found = true
				break
			}
		}
		if !found {
			bestCost = cost
			best = append(best[:0], current...)
			return bestCost == 0
		}

		used[first] = true
		for _, partner := range pool {
			if partner == first || used[partner] {
				continue
			}
			used[partner] = true
			current = append(current, domain.PairGroup{A: first, B: partner})
			done := search(cost + penalties.Penalty(first, partner))
			current = current[:len(current)-1]
			used[partner] = false
			if done {
				used[first] = false
				return true
			}
		}
		used[first] = false
		return false
	}

	search(0)

	out := make([]domain.PairGroup, len(best))
	copy(out, best)
	return out
}
