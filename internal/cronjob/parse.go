package cronjob

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	reIn         = regexp.MustCompile(`^in\s+(\d+)\s+(minute|hour|day|week)s?$`)
	reEvery      = regexp.MustCompile(`^every\s+(\d+)\s+(minute|hour|day)s?$`)
	reDailyAt    = regexp.MustCompile(`^(?:every\s+day|daily)\s+at\s+(.+)$`)
	reTomorrowAt = regexp.MustCompile(`^tomorrow\s+at\s+(.+)$`)
	reAt         = regexp.MustCompile(`^at\s+(.+)$`)
	reClock      = regexp.MustCompile(`^(\d{1,2})(?::(\d{2}))?\s*(am|pm)?$`)
	reRawCron    = regexp.MustCompile(`^(?:\d+|\*)(?:\s+(?:\d+|\*)){4}$`)
)

var unitDurations = map[string]time.Duration{
	"minute": time.Minute,
	"hour":   time.Hour,
	"day":    24 * time.Hour,
	"week":   7 * 24 * time.Hour,
}

// ParseSchedule turns a short English expression into a Schedule, relative to
// now. It recognizes:
//
//	in N minutes|hours|days|weeks
//	every N minutes|hours|days
//	every day at 9am / daily at 18:30
//	at 7pm / tomorrow at 8:15am
//	a raw 5-field cron expression of numbers and *
//
// The boolean is false when text matches none of these.
func ParseSchedule(text string, now time.Time) (Schedule, bool) {
	s := strings.Join(strings.Fields(strings.ToLower(text)), " ")
	if s == "" {
		return Schedule{}, false
	}

	if m := reIn.FindStringSubmatch(s); m != nil {
		d, ok := scaleUnit(m[1], unitDurations[m[2]])
		if !ok {
			return Schedule{}, false
		}
		at := now.Add(d).UnixMilli()
		if at <= now.UnixMilli() {
			return Schedule{}, false
		}
		return Schedule{Kind: ScheduleAt, AtMs: at}, true
	}

	if m := reEvery.FindStringSubmatch(s); m != nil {
		d, ok := scaleUnit(m[1], unitDurations[m[2]])
		if !ok || d.Milliseconds() <= 0 {
			return Schedule{}, false
		}
		return Schedule{
			Kind:     ScheduleEvery,
			EveryMs:  d.Milliseconds(),
			AnchorMs: now.UnixMilli(),
		}, true
	}

	if m := reDailyAt.FindStringSubmatch(s); m != nil {
		hour, minute, ok := parseClock(m[1])
		if !ok {
			return Schedule{}, false
		}
		return Schedule{Kind: ScheduleCron, Expr: fmt.Sprintf("%d %d * * *", minute, hour)}, true
	}

	if m := reTomorrowAt.FindStringSubmatch(s); m != nil {
		hour, minute, ok := parseClock(m[1])
		if !ok {
			return Schedule{}, false
		}
		at := clockOn(now.AddDate(0, 0, 1), hour, minute)
		return Schedule{Kind: ScheduleAt, AtMs: at.UnixMilli()}, true
	}

	if m := reAt.FindStringSubmatch(s); m != nil {
		hour, minute, ok := parseClock(m[1])
		if !ok {
			return Schedule{}, false
		}
		at := clockOn(now, hour, minute)
		if !at.After(now) {
			at = clockOn(now.AddDate(0, 0, 1), hour, minute)
		}
		return Schedule{Kind: ScheduleAt, AtMs: at.UnixMilli()}, true
	}

	if reRawCron.MatchString(s) {
		return Schedule{Kind: ScheduleCron, Expr: s}, true
	}

	return Schedule{}, false
}

// scaleUnit multiplies a positive decimal count by unit, failing instead of
// overflowing time.Duration.
func scaleUnit(count string, unit time.Duration) (time.Duration, bool) {
	n, err := strconv.ParseInt(count, 10, 64)
	if err != nil || n <= 0 || n > math.MaxInt64/int64(unit) {
		return 0, false
	}
	return time.Duration(n) * unit, true
}

// parseClock parses "9", "9am", "9:30pm" or "18:05" into a 24-hour time.
func parseClock(s string) (hour, minute int, ok bool) {
	m := reClock.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, 0, false
	}
	hour, _ = strconv.Atoi(m[1])
	if m[2] != "" {
		minute, _ = strconv.Atoi(m[2])
	}
	if minute > 59 {
		return 0, 0, false
	}

	switch m[3] {
	case "am", "pm":
		if hour < 1 || hour > 12 {
			return 0, 0, false
		}
		if hour == 12 {
			hour = 0
		}
		if m[3] == "pm" {
			hour += 12
		}
	default:
		if hour > 23 {
			return 0, 0, false
		}
	}
	return hour, minute, true
}

func clockOn(day time.Time, hour, minute int) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, day.Location())
}
