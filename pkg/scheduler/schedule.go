package scheduler

import (
	"fmt"
	"time"
)

// Schedule determines when a periodic job should run next.
type Schedule interface {
	Next(from time.Time) time.Time
	String() string
}

type intervalSchedule struct {
	every time.Duration
}

func (s intervalSchedule) Next(from time.Time) time.Time {
	return from.Add(s.every)
}

func (s intervalSchedule) String() string {
	return fmt.Sprintf("every %v", s.every)
}

// dailySchedule runs once per day at hour:minute UTC.
type dailySchedule struct {
	hour   int
	minute int
}

func (s dailySchedule) Next(from time.Time) time.Time {
	from = from.UTC()
	next := time.Date(from.Year(), from.Month(), from.Day(), s.hour, s.minute, 0, 0, time.UTC)
	if !next.After(from) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

func (s dailySchedule) String() string {
	return fmt.Sprintf("daily at %02d:%02d UTC", s.hour, s.minute)
}

// Every runs a job at a fixed interval.
func Every(d time.Duration) Schedule {
	return intervalSchedule{every: d}
}

// DailyAt runs a job once a day at the given UTC time.
func DailyAt(hour, minute int) Schedule {
	return dailySchedule{hour: hour, minute: minute}
}

// Parse accepts either a Go duration ("1h", "15m") or a daily "HH:MM" UTC time.
func Parse(spec string) (Schedule, error) {
	if d, err := time.ParseDuration(spec); err == nil {
		if d <= 0 {
			return nil, fmt.Errorf("%w: non-positive interval %q", ErrInvalidSchedule, spec)
		}
		return Every(d), nil
	}
	var h, m int
	if _, err := fmt.Sscanf(spec, "%d:%d", &h, &m); err != nil || h < 0 || h > 23 || m < 0 || m > 59 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSchedule, spec)
	}
	return DailyAt(h, m), nil
}
