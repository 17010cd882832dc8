package cronjob

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser is a standard 5-field cron expression parser (minute hour dom month dow).
// It is used as a grammar check only; evaluation is done by NextCronTime.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// cronSearchLimit bounds NextCronTime to one (leap) year of minutes.
const cronSearchLimit = 366 * 24 * 60

// CalcNextRun returns the next run of job strictly after nowMs, in unix
// milliseconds, or 0 when there is no future occurrence.
func CalcNextRun(job Job, nowMs int64) int64 {
	s := job.Schedule
	switch s.Kind {
	case ScheduleAt:
		if s.AtMs > nowMs {
			return s.AtMs
		}
		return 0

	case ScheduleEvery:
		if s.EveryMs <= 0 {
			return 0
		}
		anchor := s.AnchorMs
		if anchor == 0 {
			anchor = job.CreatedAtMs
		}
		// missed periods are skipped, never replayed
		periods := floorDiv(nowMs-anchor, s.EveryMs)
		return anchor + (periods+1)*s.EveryMs

	case ScheduleCron:
		after := time.UnixMilli(nowMs).In(scheduleLocation(s.Tz))
		next, ok := NextCronTime(s.Expr, after)
		if !ok {
			return 0
		}
		return next.UnixMilli()

	default:
		return 0
	}
}

// NextCronTime returns the first whole minute strictly after `after` whose
// hour and minute match expr. Day-of-month, month and day-of-week are not
// evaluated. The search runs in after's location and gives up after a year.
func NextCronTime(expr string, after time.Time) (time.Time, bool) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return time.Time{}, false
	}
	minute, ok := parseCronField(fields[0], 59)
	if !ok {
		return time.Time{}, false
	}
	hour, ok := parseCronField(fields[1], 23)
	if !ok {
		return time.Time{}, false
	}

	loc := after.Location()
	t := time.Date(after.Year(), after.Month(), after.Day(), after.Hour(), after.Minute(), 0, 0, loc).Add(time.Minute)
	for i := 0; i < cronSearchLimit; i++ {
		if (minute < 0 || t.Minute() == minute) && (hour < 0 || t.Hour() == hour) {
			return t, true
		}
		t = t.Add(time.Minute)
	}
	return time.Time{}, false
}

// parseCronField accepts "*" (returned as -1) or a literal in [0, max].
func parseCronField(field string, max int) (int, bool) {
	if field == "*" {
		return -1, true
	}
	v, err := strconv.Atoi(field)
	if err != nil || v < 0 || v > max {
		return 0, false
	}
	return v, true
}

// ValidateSchedule checks that s is well formed and can be evaluated.
func ValidateSchedule(s Schedule) error {
	switch s.Kind {
	case ScheduleAt:
		if s.AtMs <= 0 {
			return fmt.Errorf("%w: at schedule requires atMs", ErrInvalidSchedule)
		}
	case ScheduleEvery:
		if s.EveryMs <= 0 {
			return fmt.Errorf("%w: every schedule requires a positive everyMs", ErrInvalidSchedule)
		}
		if s.AnchorMs < 0 {
			return fmt.Errorf("%w: anchorMs must not be negative", ErrInvalidSchedule)
		}
	case ScheduleCron:
		return validateCron(s.Expr, s.Tz)
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidSchedule, s.Kind)
	}
	return nil
}

func validateCron(expr, tz string) error {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return fmt.Errorf("%w: cron expression %q must have 5 fields", ErrInvalidSchedule, expr)
	}
	if _, err := cronParser.Parse(expr); err != nil {
		return fmt.Errorf("%w: parse cron expression %q: %v", ErrInvalidSchedule, expr, err)
	}
	if _, ok := parseCronField(fields[0], 59); !ok {
		return fmt.Errorf("%w: minute field %q must be a number or *", ErrUnsupportedCron, fields[0])
	}
	if _, ok := parseCronField(fields[1], 23); !ok {
		return fmt.Errorf("%w: hour field %q must be a number or *", ErrUnsupportedCron, fields[1])
	}
	if tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("%w: unknown time zone %q", ErrInvalidSchedule, tz)
		}
	}
	return nil
}

func scheduleLocation(tz string) *time.Location {
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.Local
	}
	return loc
}

// floorDiv rounds toward negative infinity so anchors in the future still
// produce the smallest aligned instant after now.
func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
