package cron

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var cronParser = cron.NewParser(
	cron.SecondOptional |
		cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow |
		cron.Descriptor,
)

// ErrUnknownScheduleType is returned for schedule types other than at,
// every and cron.
var ErrUnknownScheduleType = errors.New("unknown schedule type")

// ParseSchedule builds a Schedule from its tool-call form: a type and a
// single string value (a date for at, milliseconds for every, an expression
// for cron). The value is validated.
func ParseSchedule(scheduleType, value string) (Schedule, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return Schedule{}, errors.New("schedule_value is required")
	}

	switch ScheduleType(scheduleType) {
	case ScheduleAt:
		if _, err := parseAt(value); err != nil {
			return Schedule{}, err
		}
		return Schedule{Type: ScheduleAt, Date: value}, nil
	case ScheduleEvery:
		ms, err := strconv.ParseInt(value, 10, 64)
		if err != nil || ms <= 0 {
			return Schedule{}, fmt.Errorf("invalid interval: %s", value)
		}
		return Schedule{Type: ScheduleEvery, IntervalMs: ms}, nil
	case ScheduleCron:
		if _, err := cronParser.Parse(value); err != nil {
			return Schedule{}, fmt.Errorf("invalid cron expression: %w", err)
		}
		return Schedule{Type: ScheduleCron, Expression: value}, nil
	default:
		return Schedule{}, fmt.Errorf("%w: %s", ErrUnknownScheduleType, scheduleType)
	}
}

// Next returns the next run time for the schedule after now. ok is false
// when a one-shot schedule is already past.
func (s Schedule) Next(now time.Time) (next time.Time, ok bool, err error) {
	switch s.Type {
	case ScheduleAt:
		at, err := parseAt(s.Date)
		if err != nil {
			return time.Time{}, false, err
		}
		if now.After(at) {
			return time.Time{}, false, nil
		}
		return at, true, nil
	case ScheduleEvery:
		if s.IntervalMs <= 0 {
			return time.Time{}, false, errors.New("every schedule missing interval")
		}
		return now.Add(time.Duration(s.IntervalMs) * time.Millisecond), true, nil
	case ScheduleCron:
		schedule, err := cronParser.Parse(s.Expression)
		if err != nil {
			return time.Time{}, false, fmt.Errorf("parse cron expression: %w", err)
		}
		next := schedule.Next(now)
		return next, !next.IsZero(), nil
	default:
		return time.Time{}, false, fmt.Errorf("%w: %s", ErrUnknownScheduleType, s.Type)
	}
}

func parseAt(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04", "2006-01-02 15:04"} {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid at schedule: %s", value)
}
