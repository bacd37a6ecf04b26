// Package scheduler runs background maintenance for chatterflow on
// cron schedules. Its one resident job is the stale-metrics sweep.
package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// scheduleParser accepts five-field crontab lines, an optional leading
// seconds field, and descriptors like "@hourly" or "@every 10m".
var scheduleParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseSchedule parses a cron spec into a schedule.
func ParseSchedule(spec string) (cron.Schedule, error) {
	schedule, err := scheduleParser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return schedule, nil
}

// ValidateSchedule reports whether a cron spec parses.
func ValidateSchedule(spec string) error {
	_, err := ParseSchedule(spec)
	return err
}

// NextRun returns when the spec next fires after from.
func NextRun(spec string, from time.Time) (time.Time, error) {
	schedule, err := ParseSchedule(spec)
	if err != nil {
		return time.Time{}, err
	}
	return schedule.Next(from), nil
}
