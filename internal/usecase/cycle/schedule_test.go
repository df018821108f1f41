package cycle

import (
	"testing"
	"time"
)

func mustSchedule(t *testing.T, spec, tz string) Schedule {
	t.Helper()
	s, err := ParseSchedule(spec, tz)
	if err != nil {
		t.Fatalf("не ожидали ошибку разбора: %v", err)
	}
	return s
}

func TestParseScheduleRejectsGarbage(t *testing.T) {
	if _, err := ParseSchedule("это не cron", "Europe/Moscow"); err == nil {
		t.Fatalf("ожидали ошибку разбора cron-выражения")
	}
	if _, err := ParseSchedule("0 15 * * 1", "Atlantis/Nowhere"); err == nil {
		t.Fatalf("ожидали ошибку разбора таймзоны")
	}
}

func TestNextFireFuture(t *testing.T) {
	// Понедельник 15:00 по Москве.
	s := mustSchedule(t, "0 15 * * 1", "Europe/Moscow")
	loc := s.Location()
	lastFired := time.Date(2024, 4, 1, 15, 0, 0, 0, loc) // понедельник
	now := time.Date(2024, 4, 3, 12, 0, 0, 0, loc)       // среда

	fire, due := s.NextFire(now, lastFired)
	if due {
		t.Fatalf("момент ещё не наступил, due=true")
	}
	want := time.Date(2024, 4, 8, 15, 0, 0, 0, loc)
	if !fire.Equal(want) {
		t.Fatalf("ожидали %v, получили %v", want, fire)
	}
}

func TestNextFireDue(t *testing.T) {
	s := mustSchedule(t, "0 15 * * 1", "Europe/Moscow")
	loc := s.Location()
	lastFired := time.Date(2024, 4, 1, 15, 0, 0, 0, loc)
	now := time.Date(2024, 4, 8, 15, 0, 30, 0, loc)

	fire, due := s.NextFire(now, lastFired)
	if !due {
		t.Fatalf("момент наступил, due=false")
	}
	want := time.Date(2024, 4, 8, 15, 0, 0, 0, loc)
	if !fire.Equal(want) {
		t.Fatalf("ожидали %v, получили %v", want, fire)
	}
}

func TestNextFireCatchUpFiresOnce(t *testing.T) {
	// Процесс лежал три недели: догоняем одним срабатыванием на самый
	// поздний пропущенный момент.
	s := mustSchedule(t, "0 15 * * 1", "Europe/Moscow")
	loc := s.Location()
	lastFired := time.Date(2024, 4, 1, 15, 0, 0, 0, loc)
	now := time.Date(2024, 4, 24, 9, 0, 0, 0, loc) // среда после трёх пропусков

	fire, due := s.NextFire(now, lastFired)
	if !due {
		t.Fatalf("пропущенные моменты есть, due=false")
	}
	want := time.Date(2024, 4, 22, 15, 0, 0, 0, loc)
	if !fire.Equal(want) {
		t.Fatalf("ожидали самый поздний пропущенный %v, получили %v", want, fire)
	}

	// После отметки срабатывания повторный вызов не возвращает тот же
	// момент: рестарт не приводит к двойному запуску.
	fire2, due2 := s.NextFire(now, fire)
	if due2 {
		t.Fatalf("после срабатывания следующий момент в будущем, due=true")
	}
	want2 := time.Date(2024, 4, 29, 15, 0, 0, 0, loc)
	if !fire2.Equal(want2) {
		t.Fatalf("ожидали %v, получили %v", want2, fire2)
	}
}

func TestNextFireTimezoneMatters(t *testing.T) {
	s := mustSchedule(t, "0 15 * * 1", "Europe/Moscow")
	loc := s.Location()
	lastFired := time.Date(2024, 4, 1, 15, 0, 0, 0, loc)
	// 12:30 UTC = 15:30 по Москве: момент этой недели уже прошёл.
	now := time.Date(2024, 4, 8, 12, 30, 0, 0, time.UTC)

	fire, due := s.NextFire(now, lastFired)
	if !due {
		t.Fatalf("по московскому времени момент прошёл, due=false")
	}
	want := time.Date(2024, 4, 8, 15, 0, 0, 0, loc)
	if !fire.Equal(want) {
		t.Fatalf("ожидали %v, получили %v", want, fire)
	}
}
