package cycle

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Schedule — расписание цикла: cron-выражение, вычисляемое в фиксированной
// таймзоне.
type Schedule struct {
	cron cron.Schedule
	loc  *time.Location
}

// ParseSchedule разбирает cron-выражение и таймзону. Ошибка в любом из них
// должна валить процесс на старте.
func ParseSchedule(spec, tz string) (Schedule, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return Schedule{}, fmt.Errorf("таймзона %q: %w", tz, err)
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	schedule, err := parser.Parse(spec)
	if err != nil {
		return Schedule{}, fmt.Errorf("cron-выражение %q: %w", spec, err)
	}
	return Schedule{cron: schedule, loc: loc}, nil
}

// Location возвращает таймзону расписания.
func (s Schedule) Location() *time.Location {
	return s.loc
}

// NextFire возвращает момент, на который цикл должен сработать, и признак
// того, что момент уже наступил. Если после lastFired прошло несколько
// моментов расписания, возвращается самый поздний пропущенный: догоняем
// одним срабатыванием, без шквала.
func (s Schedule) NextFire(now, lastFired time.Time) (time.Time, bool) {
	now = now.In(s.loc)
	fire := s.cron.Next(lastFired.In(s.loc))
	if fire.After(now) {
		return fire, false
	}
	for {
		next := s.cron.Next(fire)
		if next.After(now) {
			return fire, true
		}
		fire = next
	}
}
