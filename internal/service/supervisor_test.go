package service

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	metrics "github.com/tgifai/butler/internal/pkg/prometheus"
)

type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (c *callLog) add(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, s)
}

func (c *callLog) get() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

func tracked(log *callLog, name string, startErr error) Definition {
	return Definition{
		Name: name,
		Start: func(context.Context) error {
			log.add("start " + name)
			return startErr
		},
		Stop: func(context.Context) error {
			log.add("stop " + name)
			return nil
		},
	}
}

func statuses(s *Supervisor) map[string]Status {
	out := map[string]Status{}
	for _, snap := range s.GetAll() {
		out[snap.Name] = snap.Status
	}
	return out
}

func TestStartAll_ContinuesPastFailure(t *testing.T) {
	log := &callLog{}
	s := NewSupervisor()
	s.Register(tracked(log, "one", nil))
	s.Register(tracked(log, "two", errors.New("port in use")))
	s.Register(tracked(log, "three", nil))

	failed := s.StartAll(context.Background())
	if !reflect.DeepEqual(failed, []string{"two"}) {
		t.Fatalf("failed = %v", failed)
	}

	want := map[string]Status{"one": StatusRunning, "two": StatusError, "three": StatusRunning}
	if got := statuses(s); !reflect.DeepEqual(got, want) {
		t.Fatalf("statuses = %v, want %v", got, want)
	}
	if got := log.get(); !reflect.DeepEqual(got, []string{"start one", "start two", "start three"}) {
		t.Errorf("start order = %v", got)
	}

	two, _ := s.Get("two")
	if two.Error != "port in use" || two.StartedAt != nil {
		t.Errorf("failed snapshot = %+v", two)
	}
	one, _ := s.Get("one")
	if one.StartedAt == nil || one.Error != "" {
		t.Errorf("running snapshot = %+v", one)
	}
}

func TestStopAll_ReverseOrder(t *testing.T) {
	log := &callLog{}
	s := NewSupervisor()
	for _, name := range []string{"A", "B", "C"} {
		s.Register(tracked(log, name, nil))
	}
	s.StartAll(context.Background())
	log.calls = nil

	if failed := s.StopAll(context.Background()); len(failed) != 0 {
		t.Fatalf("failed = %v", failed)
	}
	if got := log.get(); !reflect.DeepEqual(got, []string{"stop C", "stop B", "stop A"}) {
		t.Fatalf("stop order = %v", got)
	}
	for name, st := range statuses(s) {
		if st != StatusStopped {
			t.Errorf("%s = %s", name, st)
		}
	}
}

func TestStartStop_AreIdempotent(t *testing.T) {
	log := &callLog{}
	s := NewSupervisor()
	s.Register(tracked(log, "svc", nil))
	ctx := context.Background()

	if !s.Stop(ctx, "svc") {
		t.Fatal("stopping a stopped service must succeed")
	}
	if !s.Start(ctx, "svc") || !s.Start(ctx, "svc") {
		t.Fatal("Start failed")
	}
	if !s.Stop(ctx, "svc") || !s.Stop(ctx, "svc") {
		t.Fatal("Stop failed")
	}
	if got := log.get(); !reflect.DeepEqual(got, []string{"start svc", "stop svc"}) {
		t.Fatalf("calls = %v", got)
	}
}

func TestRestart_StartsEvenIfStopFails(t *testing.T) {
	var starts int
	s := NewSupervisor()
	s.Register(Definition{
		Name:  "flaky",
		Start: func(context.Context) error { starts++; return nil },
		Stop:  func(context.Context) error { return errors.New("stuck") },
	})
	ctx := context.Background()
	s.Start(ctx, "flaky")

	if !s.Restart(ctx, "flaky") {
		t.Fatal("Restart should report the start result")
	}
	if starts != 2 {
		t.Errorf("starts = %d, want 2", starts)
	}
	snap, _ := s.Get("flaky")
	if snap.Status != StatusRunning || snap.Error != "" {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestStart_RecoversPanic(t *testing.T) {
	s := NewSupervisor()
	s.Register(Definition{
		Name:  "bad",
		Start: func(context.Context) error { panic("nil config") },
	})

	if s.Start(context.Background(), "bad") {
		t.Fatal("panicking start must fail")
	}
	snap, _ := s.Get("bad")
	if snap.Status != StatusError || snap.Error != "panic: nil config" {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestStop_FailureRecordsError(t *testing.T) {
	s := NewSupervisor()
	s.Register(Definition{Name: "svc", Stop: func(context.Context) error { return errors.New("busy") }})
	ctx := context.Background()
	s.Start(ctx, "svc")

	if s.Stop(ctx, "svc") {
		t.Fatal("failing stop must report false")
	}
	snap, _ := s.Get("svc")
	if snap.Status != StatusError || snap.Error != "busy" {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestUnknownService(t *testing.T) {
	s := NewSupervisor()
	ctx := context.Background()
	if s.Start(ctx, "ghost") || s.Stop(ctx, "ghost") || s.Restart(ctx, "ghost") {
		t.Fatal("unknown service must report false")
	}
	if _, ok := s.Get("ghost"); ok {
		t.Fatal("Get on unknown service")
	}
}

func TestRegister_LastRegistrationWins(t *testing.T) {
	log := &callLog{}
	s := NewSupervisor()
	s.Register(tracked(log, "a", nil))
	s.Register(tracked(log, "b", nil))
	s.Register(Definition{
		Name:  "a",
		Start: func(context.Context) error { log.add("start a v2"); return nil },
		Stats: func() map[string]any { return map[string]any{"version": 2} },
	})

	s.StartAll(context.Background())
	if got := log.get(); !reflect.DeepEqual(got, []string{"start a v2", "start b"}) {
		t.Fatalf("calls = %v", got)
	}
	all := s.GetAll()
	if len(all) != 2 || all[0].Name != "a" || all[0].Stats["version"] != 2 {
		t.Fatalf("snapshots = %+v", all)
	}
}

func TestRegister_ReplacingRunningServiceResetsStatus(t *testing.T) {
	log := &callLog{}
	s := NewSupervisor()
	s.Register(tracked(log, "replaced", nil))
	if !s.Start(context.Background(), "replaced") {
		t.Fatal("start failed")
	}
	gauge := metrics.ServiceStatus.WithLabelValues("replaced")
	if v := testutil.ToFloat64(gauge); v != 1 {
		t.Fatalf("gauge while running = %v", v)
	}

	s.Register(tracked(log, "replaced", nil))
	if v := testutil.ToFloat64(gauge); v != 0 {
		t.Errorf("gauge after replacement = %v, want 0", v)
	}
	if snap, _ := s.Get("replaced"); snap.Status != StatusStopped || snap.StartedAt != nil {
		t.Errorf("snapshot after replacement = %+v", snap)
	}
}

func TestRegister_WaitsForStartInProgress(t *testing.T) {
	s := NewSupervisor()
	entered, release := make(chan struct{}), make(chan struct{})
	s.Register(Definition{
		Name: "slow",
		Start: func(context.Context) error {
			close(entered)
			<-release
			return nil
		},
	})

	go s.Start(context.Background(), "slow")
	<-entered

	registered := make(chan struct{})
	go func() {
		s.Register(Definition{Name: "slow"})
		close(registered)
	}()

	select {
	case <-registered:
		t.Fatal("Register returned while the old Start was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-registered:
	case <-time.After(2 * time.Second):
		t.Fatal("Register did not return after Start finished")
	}
	if snap, _ := s.Get("slow"); snap.Status != StatusStopped {
		t.Errorf("status = %s, want stopped", snap.Status)
	}
}

func TestSharedRegistry(t *testing.T) {
	type chatClient struct{ id string }
	chatKey := NewKey[*chatClient]("chat")
	countKey := NewKey[int]("count")

	s := NewSupervisor()
	r := s.Shared()

	if _, ok := Lookup(r, chatKey); ok {
		t.Fatal("empty registry returned a value")
	}

	Set(r, chatKey, &chatClient{id: "tg"})
	Set(r, countKey, 3)

	c, ok := Lookup(r, chatKey)
	if !ok || c.id != "tg" {
		t.Fatalf("Lookup chat = %+v, %v", c, ok)
	}

	// same name, different type
	if _, ok := Lookup(r, NewKey[string]("count")); ok {
		t.Fatal("mismatched type must not be returned")
	}
	if got := r.Names(); !reflect.DeepEqual(got, []string{"chat", "count"}) {
		t.Errorf("Names = %v", got)
	}

	Delete(r, chatKey)
	if _, ok := Lookup(r, chatKey); ok {
		t.Fatal("value survived Delete")
	}
}
