package cronjob

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"
)

// fakeClock is a settable clock shared by the store and scheduler tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{now: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestStore(t *testing.T, clock *fakeClock) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "jobs.json")
	return NewStore(path, WithClock(clock.Now)), path
}

func TestStore_AddAssignsIDAndNextRun(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC))
	s, _ := newTestStore(t, clock)

	job, err := s.Add(JobInput{
		Name:     "stretch",
		Schedule: Schedule{Kind: ScheduleEvery, EveryMs: time.Hour.Milliseconds()},
		Message:  "stand up and stretch",
	})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if job.ID == "" {
		t.Fatal("expected generated id")
	}
	if !job.Enabled {
		t.Error("jobs default to enabled")
	}
	if want := clock.Now().Add(time.Hour).UnixMilli(); job.State.NextRunAtMs != want {
		t.Errorf("next run = %d, want %d", job.State.NextRunAtMs, want)
	}
	if job.CreatedAtMs != clock.Now().UnixMilli() || job.UpdatedAtMs != job.CreatedAtMs {
		t.Errorf("timestamps = %d/%d", job.CreatedAtMs, job.UpdatedAtMs)
	}
}

func TestStore_AddRejectsBadInput(t *testing.T) {
	clock := newFakeClock(time.Now())
	s, _ := newTestStore(t, clock)

	if _, err := s.Add(JobInput{Schedule: Schedule{Kind: ScheduleCron, Expr: "*/5 * * * *"}}); !errors.Is(err, ErrUnsupportedCron) {
		t.Errorf("step cron: got %v", err)
	}
	if _, err := s.Add(JobInput{Schedule: Schedule{Kind: ScheduleEvery}}); !errors.Is(err, ErrInvalidSchedule) {
		t.Errorf("zero interval: got %v", err)
	}
	_, err := s.Add(JobInput{
		Schedule: Schedule{Kind: ScheduleEvery, EveryMs: 1000},
		Delivery: &Delivery{Kind: DeliveryWebhook},
	})
	if !errors.Is(err, ErrInvalidDelivery) {
		t.Errorf("webhook without url: got %v", err)
	}
	if all := s.GetAll(true); len(all) != 0 {
		t.Fatalf("rejected jobs must not be stored: %v", all)
	}
}

func TestStore_CronStandupEndToEnd(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC))
	s, _ := newTestStore(t, clock)

	job, err := s.Add(JobInput{
		Name:     "standup",
		Schedule: Schedule{Kind: ScheduleCron, Expr: "0 9 * * *", Tz: "UTC"},
	})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	want := time.Date(2026, 1, 16, 9, 0, 0, 0, time.UTC).UnixMilli()
	if job.State.NextRunAtMs != want {
		t.Fatalf("next run = %v, want %v", time.UnixMilli(job.State.NextRunAtMs).UTC(), time.UnixMilli(want).UTC())
	}
}

func TestStore_RemoveThenGet(t *testing.T) {
	clock := newFakeClock(time.Now())
	s, _ := newTestStore(t, clock)

	a, _ := s.Add(JobInput{Name: "a", Schedule: Schedule{Kind: ScheduleEvery, EveryMs: 60_000}})
	b, _ := s.Add(JobInput{Name: "b", Schedule: Schedule{Kind: ScheduleEvery, EveryMs: 60_000}})

	if err := s.Remove(a.ID); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, ok := s.Get(a.ID); ok {
		t.Fatal("removed job still returned by Get")
	}
	all := s.GetAll(true)
	if len(all) != 1 || all[0].ID != b.ID {
		t.Fatalf("GetAll after Remove: %v", all)
	}
	if err := s.Remove(a.ID); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("second Remove: got %v", err)
	}
}

func TestStore_UpdatePreservesIDAndRecomputesOnlyOnScheduleChange(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC))
	s, _ := newTestStore(t, clock)

	job, _ := s.Add(JobInput{Name: "water", Schedule: Schedule{Kind: ScheduleEvery, EveryMs: time.Hour.Milliseconds()}})
	firstNext := job.State.NextRunAtMs

	clock.Advance(10 * time.Minute)
	name := "drink water"
	updated, err := s.Update(job.ID, JobPatch{Name: &name})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.ID != job.ID || updated.Name != name {
		t.Fatalf("updated = %+v", updated)
	}
	if updated.State.NextRunAtMs != firstNext {
		t.Error("next run must not change when the schedule is untouched")
	}
	if updated.UpdatedAtMs != clock.Now().UnixMilli() {
		t.Error("updatedAt not bumped")
	}

	// same schedule again is not a change
	same := job.Schedule
	updated, _ = s.Update(job.ID, JobPatch{Schedule: &same})
	if updated.State.NextRunAtMs != firstNext {
		t.Error("identical schedule must not recompute next run")
	}

	every30 := Schedule{Kind: ScheduleEvery, EveryMs: (30 * time.Minute).Milliseconds()}
	updated, _ = s.Update(job.ID, JobPatch{Schedule: &every30})
	if want := job.CreatedAtMs + (30 * time.Minute).Milliseconds(); updated.State.NextRunAtMs != want {
		t.Errorf("next run after schedule change = %d, want %d", updated.State.NextRunAtMs, want)
	}

	if _, err := s.Update("missing", JobPatch{Name: &name}); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("update missing: got %v", err)
	}
}

func TestStore_UpdateDelivery(t *testing.T) {
	clock := newFakeClock(time.Now())
	s, _ := newTestStore(t, clock)

	job, _ := s.Add(JobInput{
		Schedule: Schedule{Kind: ScheduleEvery, EveryMs: 60_000},
		Delivery: &Delivery{Kind: DeliveryTelegram, ChatID: "42"},
	})

	updated, _ := s.Update(job.ID, JobPatch{Delivery: &Delivery{Kind: DeliveryTerminal}})
	if updated.Delivery == nil || updated.Delivery.Kind != DeliveryTerminal {
		t.Fatalf("delivery = %+v", updated.Delivery)
	}
	updated, _ = s.Update(job.ID, JobPatch{ClearDelivery: true})
	if updated.Delivery != nil {
		t.Fatalf("delivery should be cleared, got %+v", updated.Delivery)
	}
}

func TestStore_GetReturnsCopies(t *testing.T) {
	clock := newFakeClock(time.Now())
	s, _ := newTestStore(t, clock)

	job, _ := s.Add(JobInput{
		Schedule: Schedule{Kind: ScheduleEvery, EveryMs: 60_000},
		Delivery: &Delivery{Kind: DeliveryTelegram, ChatID: "42"},
	})
	got, _ := s.Get(job.ID)
	got.Delivery.ChatID = "mutated"

	again, _ := s.Get(job.ID)
	if again.Delivery.ChatID != "42" {
		t.Fatal("mutating a returned job leaked into the store")
	}
}

func TestStore_GetDueJobs(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC))
	s, _ := newTestStore(t, clock)

	soon, _ := s.Add(JobInput{Name: "soon", Schedule: Schedule{Kind: ScheduleAt, AtMs: clock.Now().Add(time.Minute).UnixMilli()}})
	_, _ = s.Add(JobInput{Name: "later", Schedule: Schedule{Kind: ScheduleAt, AtMs: clock.Now().Add(time.Hour).UnixMilli()}})
	disabled, _ := s.Add(JobInput{
		Name:     "disabled",
		Enabled:  new(bool),
		Schedule: Schedule{Kind: ScheduleAt, AtMs: clock.Now().Add(time.Minute).UnixMilli()},
	})

	if due := s.GetDueJobs(); len(due) != 0 {
		t.Fatalf("nothing should be due yet: %v", due)
	}

	clock.Advance(time.Minute)
	due := s.GetDueJobs()
	if len(due) != 1 || due[0].ID != soon.ID {
		t.Fatalf("due = %v, want only %s", due, soon.ID)
	}
	for _, j := range due {
		if j.ID == disabled.ID {
			t.Fatal("disabled job returned as due")
		}
	}

	if enabled := s.GetAll(false); len(enabled) != 2 {
		t.Fatalf("GetAll(false) = %d jobs, want 2", len(enabled))
	}
}

func TestStore_MarkRunRecurring(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC))
	s, _ := newTestStore(t, clock)

	job, _ := s.Add(JobInput{Schedule: Schedule{Kind: ScheduleEvery, EveryMs: (10 * time.Minute).Milliseconds()}})

	clock.Advance(35 * time.Minute) // three periods missed
	s.MarkRun(job.ID, StatusError, "boom")

	got, ok := s.Get(job.ID)
	if !ok {
		t.Fatal("recurring job must survive a failed run")
	}
	if got.State.RunCount != 1 || got.State.LastStatus != StatusError || got.State.LastError != "boom" {
		t.Fatalf("state = %+v", got.State)
	}
	if got.State.LastRunAtMs != clock.Now().UnixMilli() {
		t.Errorf("last run = %d", got.State.LastRunAtMs)
	}
	if want := job.CreatedAtMs + (40 * time.Minute).Milliseconds(); got.State.NextRunAtMs != want {
		t.Errorf("next run = %d, want %d", got.State.NextRunAtMs, want)
	}

	s.MarkRun(job.ID, StatusOK, "")
	got, _ = s.Get(job.ID)
	if got.State.RunCount != 2 || got.State.LastError != "" {
		t.Fatalf("state after ok = %+v", got.State)
	}
}

func TestStore_MarkRunOneShot(t *testing.T) {
	keep := false
	tests := []struct {
		name        string
		deleteAfter *bool
		status      RunStatus
		wantDeleted bool
	}{
		{"deleted after success", nil, StatusOK, true},
		{"deleted even after failure", nil, StatusError, true},
		{"kept when opted out", &keep, StatusOK, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := newFakeClock(time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC))
			s, _ := newTestStore(t, clock)

			job, _ := s.Add(JobInput{
				DeleteAfterRun: tt.deleteAfter,
				Schedule:       Schedule{Kind: ScheduleAt, AtMs: clock.Now().Add(time.Minute).UnixMilli()},
			})
			clock.Advance(time.Minute)
			s.MarkRun(job.ID, tt.status, "")

			got, ok := s.Get(job.ID)
			if ok == tt.wantDeleted {
				t.Fatalf("present = %v, want deleted = %v", ok, tt.wantDeleted)
			}
			if ok && got.HasNextRun() {
				t.Errorf("kept one-shot must have no next run, got %d", got.State.NextRunAtMs)
			}
		})
	}
}

func TestStore_MarkRunMissingJob(t *testing.T) {
	s, path := newTestStore(t, newFakeClock(time.Now()))
	s.MarkRun("nope", StatusOK, "")
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("marking an unknown job must not write the store")
	}
}

func TestStore_PersistAndReload(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC))
	s, path := newTestStore(t, clock)

	job, err := s.Add(JobInput{
		Name:     "persist",
		Schedule: Schedule{Kind: ScheduleCron, Expr: "30 8 * * *", Tz: "UTC"},
		Message:  "hello",
		Delivery: &Delivery{Kind: DeliveryWebhook, URL: "http://example.invalid/hook"},
	})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read store: %v", err)
	}
	var doc storeDocument
	if err := sonic.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("store is not valid json: %v", err)
	}
	if doc.Version != storeVersion || len(doc.Jobs) != 1 || doc.LastUpdated != clock.Now().UnixMilli() {
		t.Fatalf("document = %+v", doc)
	}
	for _, key := range []string{`"nextRunAtMs"`, `"createdAtMs"`, `"expr"`, `"lastUpdated"`} {
		if !strings.Contains(string(raw), key) {
			t.Errorf("document missing %s", key)
		}
	}

	reopened := NewStore(path, WithClock(clock.Now))
	got, ok := reopened.Get(job.ID)
	if !ok {
		t.Fatal("job lost across reload")
	}
	if got.Name != "persist" || got.Message != "hello" || got.Delivery == nil || got.Delivery.URL != job.Delivery.URL {
		t.Fatalf("reloaded = %+v", got)
	}
	if got.State.NextRunAtMs != job.State.NextRunAtMs {
		t.Errorf("next run changed across reload")
	}
}

func TestStore_LoadTolerance(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    int
	}{
		{"corrupt document", "{not json", 0},
		{"empty file", "", 0},
		{"version mismatch still loads", `{"version": 7, "jobs": [{"id": "x", "name": "old", "enabled": true, "schedule": {"kind": "every", "everyMs": 1000}}], "lastUpdated": 1}`, 1},
		{"job without id dropped", `{"version": 1, "jobs": [{"name": "anon"}]}`, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "jobs.json")
			if err := os.WriteFile(path, []byte(tt.content), 0o644); err != nil {
				t.Fatal(err)
			}
			s := NewStore(path)
			if got := len(s.GetAll(true)); got != tt.want {
				t.Fatalf("loaded %d jobs, want %d", got, tt.want)
			}
		})
	}
}

func TestStore_WriteFailureWrapsStoreIO(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	if err := os.WriteFile(blocker, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	// parent of the store path is a regular file, so MkdirAll fails
	s := NewStore(filepath.Join(blocker, "jobs.json"))

	job, err := s.Add(JobInput{Schedule: Schedule{Kind: ScheduleEvery, EveryMs: 60_000}})
	if !errors.Is(err, ErrStoreIO) {
		t.Fatalf("got %v, want ErrStoreIO", err)
	}
	if _, ok := s.Get(job.ID); !ok {
		t.Fatal("job should stay in memory when persisting fails")
	}
}

func TestStore_ReloadIfChanged(t *testing.T) {
	clock := newFakeClock(time.Now())
	daemon, path := newTestStore(t, clock)
	if _, err := daemon.Add(JobInput{Name: "mine", Schedule: Schedule{Kind: ScheduleEvery, EveryMs: 60_000}}); err != nil {
		t.Fatal(err)
	}
	if daemon.ReloadIfChanged() {
		t.Fatal("own write must not trigger a reload")
	}

	cli := NewStore(path, WithClock(clock.Now))
	if _, err := cli.Add(JobInput{Name: "from cli", Schedule: Schedule{Kind: ScheduleEvery, EveryMs: 60_000}}); err != nil {
		t.Fatal(err)
	}
	// make sure the mtime moves even on coarse filesystems
	future := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatal(err)
	}

	if !daemon.ReloadIfChanged() {
		t.Fatal("expected reload after external write")
	}
	if got := len(daemon.GetAll(true)); got != 2 {
		t.Fatalf("daemon sees %d jobs, want 2", got)
	}
}
