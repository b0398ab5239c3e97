package cron

import (
	"fmt"
	"strings"
	"time"

	robfigcron "github.com/robfig/cron/v3"
)

// Schedule yields the next activation strictly after the given time.
type Schedule interface {
	Next(time.Time) time.Time
}

// Every runs a job at a fixed interval.
func Every(interval time.Duration) Schedule {
	return robfigcron.Every(interval)
}

// ParseSchedule accepts either a Go duration ("5m", "1h") or a five-field
// cron expression ("0 0 * * *"). Cron expressions are evaluated in UTC.
func ParseSchedule(spec string) (Schedule, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, fmt.Errorf("empty schedule")
	}
	if d, err := time.ParseDuration(spec); err == nil {
		if d < time.Second {
			return nil, fmt.Errorf("schedule interval %s below one second", d)
		}
		return Every(d), nil
	}
	sched, err := robfigcron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", spec, err)
	}
	return sched, nil
}
