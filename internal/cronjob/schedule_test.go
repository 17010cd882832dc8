package cronjob

import (
	"errors"
	"testing"
	"time"
)

func ms(t time.Time) int64 { return t.UnixMilli() }

func TestCalcNextRun_EverySkipsMissedPeriods(t *testing.T) {
	t0 := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	interval := 7 * time.Minute
	job := Job{
		CreatedAtMs: ms(t0),
		Schedule:    Schedule{Kind: ScheduleEvery, EveryMs: interval.Milliseconds()},
	}

	offsets := []time.Duration{
		0,
		time.Millisecond,
		interval - time.Millisecond,
		interval,
		3*interval + 5*time.Second,
		72 * time.Hour, // long downtime
	}
	for _, off := range offsets {
		now := ms(t0.Add(off))
		got := CalcNextRun(job, now)
		want := ms(t0) + ((now-ms(t0))/interval.Milliseconds()+1)*interval.Milliseconds()
		if got != want {
			t.Errorf("offset %v: got %d, want %d", off, got, want)
		}
		if got <= now {
			t.Errorf("offset %v: next run %d not after now %d", off, got, now)
		}
	}
}

func TestCalcNextRun_EveryAnchor(t *testing.T) {
	created := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	anchor := created.Add(90 * time.Second)
	job := Job{
		CreatedAtMs: ms(created),
		Schedule:    Schedule{Kind: ScheduleEvery, EveryMs: time.Minute.Milliseconds(), AnchorMs: ms(anchor)},
	}

	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{"anchor overrides created", anchor.Add(10 * time.Second), anchor.Add(time.Minute)},
		{"exactly on a boundary", anchor.Add(2 * time.Minute), anchor.Add(3 * time.Minute)},
		{"anchor in the future", anchor.Add(-150 * time.Second), anchor.Add(-2 * time.Minute)},
		{"just before anchor", anchor.Add(-time.Millisecond), anchor},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CalcNextRun(job, ms(tt.now))
			if got != ms(tt.want) {
				t.Errorf("got %v, want %v", time.UnixMilli(got).UTC(), tt.want)
			}
			if got <= ms(tt.now) {
				t.Errorf("next run not after now")
			}
		})
	}
}

func TestCalcNextRun_At(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	future := Job{Schedule: Schedule{Kind: ScheduleAt, AtMs: ms(now.Add(time.Hour))}}
	if got := CalcNextRun(future, ms(now)); got != ms(now.Add(time.Hour)) {
		t.Errorf("future at: got %d", got)
	}

	past := Job{Schedule: Schedule{Kind: ScheduleAt, AtMs: ms(now.Add(-time.Hour))}}
	if got := CalcNextRun(past, ms(now)); got != 0 {
		t.Errorf("past at: expected no next run, got %d", got)
	}

	exactlyNow := Job{Schedule: Schedule{Kind: ScheduleAt, AtMs: ms(now)}}
	if got := CalcNextRun(exactlyNow, ms(now)); got != 0 {
		t.Errorf("at == now: expected no next run, got %d", got)
	}
}

func TestCalcNextRun_CronUsesTimeZone(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Tokyo")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	// 2026-01-15 10:00 UTC is 19:00 in Tokyo; next 09:00 Tokyo is the 16th.
	now := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	job := Job{Schedule: Schedule{Kind: ScheduleCron, Expr: "0 9 * * *", Tz: "Asia/Tokyo"}}

	got := time.UnixMilli(CalcNextRun(job, ms(now))).In(loc)
	want := time.Date(2026, 1, 16, 9, 0, 0, 0, loc)
	if !got.Equal(want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestNextCronTime(t *testing.T) {
	day := func(d, h, m int) time.Time { return time.Date(2026, 1, d, h, m, 0, 0, time.UTC) }

	tests := []struct {
		name  string
		expr  string
		after time.Time
		want  time.Time
		ok    bool
	}{
		{"later today", "30 14 * * *", day(15, 9, 0), day(15, 14, 30), true},
		{"already past rolls to tomorrow", "30 14 * * *", day(15, 15, 0), day(16, 14, 30), true},
		{"strictly after the matching minute", "30 14 * * *", day(15, 14, 30), day(16, 14, 30), true},
		{"seconds are dropped", "30 14 * * *", day(15, 14, 29).Add(59 * time.Second), day(15, 14, 30), true},
		{"every minute", "* * * * *", day(15, 9, 0).Add(10 * time.Second), day(15, 9, 1), true},
		{"every hour on the hour", "0 * * * *", day(15, 9, 1), day(15, 10, 0), true},
		{"minute wildcard within an hour", "* 3 * * *", day(15, 9, 0), day(16, 3, 0), true},
		{"dom and dow are not evaluated", "0 9 1 6 1", day(15, 10, 0), day(16, 9, 0), true},
		{"out of range never matches", "0 25 * * *", day(15, 10, 0), time.Time{}, false},
		{"step is not evaluated", "*/5 * * * *", day(15, 10, 0), time.Time{}, false},
		{"wrong field count", "0 9 * *", day(15, 10, 0), time.Time{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := NextCronTime(tt.expr, tt.after)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if ok && !got.Equal(tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestValidateSchedule(t *testing.T) {
	tests := []struct {
		name    string
		s       Schedule
		wantErr error
	}{
		{"at ok", Schedule{Kind: ScheduleAt, AtMs: 1}, nil},
		{"at missing", Schedule{Kind: ScheduleAt}, ErrInvalidSchedule},
		{"every ok", Schedule{Kind: ScheduleEvery, EveryMs: 1000}, nil},
		{"every zero", Schedule{Kind: ScheduleEvery}, ErrInvalidSchedule},
		{"cron ok", Schedule{Kind: ScheduleCron, Expr: "0 9 * * 1-5"}, nil},
		{"cron with tz", Schedule{Kind: ScheduleCron, Expr: "0 9 * * *", Tz: "UTC"}, nil},
		{"cron bad tz", Schedule{Kind: ScheduleCron, Expr: "0 9 * * *", Tz: "Mars/Olympus"}, ErrInvalidSchedule},
		{"cron grammar", Schedule{Kind: ScheduleCron, Expr: "0 9 * * funday"}, ErrInvalidSchedule},
		{"cron six fields", Schedule{Kind: ScheduleCron, Expr: "0 0 9 * * *"}, ErrInvalidSchedule},
		{"cron minute step", Schedule{Kind: ScheduleCron, Expr: "*/15 * * * *"}, ErrUnsupportedCron},
		{"cron hour list", Schedule{Kind: ScheduleCron, Expr: "0 9,18 * * *"}, ErrUnsupportedCron},
		{"unknown kind", Schedule{Kind: "weekly"}, ErrInvalidSchedule},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSchedule(tt.s)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("got %v, want %v", err, tt.wantErr)
			}
		})
	}
}
