package schedule

import (
	"time"

	"github.com/robfig/cron/v3"
)

// Schedule defines when a periodic job should run next.
type Schedule interface {
	// Next returns the first scheduled time strictly after from.
	Next(from time.Time) time.Time
}

// everySchedule runs on a fixed-interval grid anchored at an offset.
//
// Anchoring to a grid rather than "from + interval" means a late or crashed
// run doesn't permanently shift every subsequent run, and two jobs with the
// same interval can be phase-shifted apart by their offsets.
type everySchedule struct {
	interval time.Duration
	offset   time.Duration
}

// Every creates a schedule that runs at fixed intervals, aligned to the Unix
// epoch.
func Every(d time.Duration) Schedule {
	return &everySchedule{interval: d}
}

// EveryWithOffset creates a fixed-interval schedule whose grid is shifted by
// offset from the Unix epoch. Pass a specific date's elapsed-since-epoch
// duration to induce runs at particular times of day or days of week.
func EveryWithOffset(d, offset time.Duration) Schedule {
	return &everySchedule{interval: d, offset: offset}
}

func (s *everySchedule) Next(from time.Time) time.Time {
	anchor := time.Unix(0, 0).Add(s.offset)
	intervals := from.Sub(anchor) / s.interval
	next := anchor.Add(intervals * s.interval)
	for !next.After(from) {
		next = next.Add(s.interval)
	}
	return next
}

// dailySchedule runs at a specific time each day.
type dailySchedule struct {
	hour   int
	minute int
	loc    *time.Location
}

// Daily creates a schedule that runs at a specific UTC time each day.
func Daily(hour, minute int) Schedule {
	return &dailySchedule{hour: hour, minute: minute, loc: time.UTC}
}

func (s *dailySchedule) Next(from time.Time) time.Time {
	from = from.In(s.loc)
	next := time.Date(from.Year(), from.Month(), from.Day(), s.hour, s.minute, 0, 0, s.loc)
	if !next.After(from) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// cronSchedule wraps a cron expression.
type cronSchedule struct {
	schedule cron.Schedule
}

// Cron creates a schedule from a cron expression.
func Cron(expr string) Schedule {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	schedule, err := parser.Parse(expr)
	if err != nil {
		panic("invalid cron expression: " + err.Error())
	}
	return &cronSchedule{schedule: schedule}
}

func (s *cronSchedule) Next(from time.Time) time.Time {
	return s.schedule.Next(from)
}
