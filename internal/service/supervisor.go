package service

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/tgifai/butler/internal/consts"
	"github.com/tgifai/butler/internal/pkg/logs"
	metrics "github.com/tgifai/butler/internal/pkg/prometheus"
)

var ErrUnknownService = errors.New("unknown service")

type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusError    Status = "error"
)

// Definition describes a long-running service. Start should return once the
// service is up; background work it spawns must end when Stop returns.
// Nil Start/Stop are treated as no-ops.
type Definition struct {
	Name  string
	Start func(ctx context.Context) error
	Stop  func(ctx context.Context) error
	Stats func() map[string]any
}

// Snapshot is a point-in-time view of one service.
type Snapshot struct {
	Name      string         `json:"name"`
	Status    Status         `json:"status"`
	Error     string         `json:"error,omitempty"`
	StartedAt *time.Time     `json:"started_at,omitempty"`
	Stats     map[string]any `json:"stats,omitempty"`
}

type entry struct {
	// op serializes lifecycle calls on this service.
	op sync.Mutex

	def       Definition
	status    Status
	err       string
	startedAt time.Time
}

// Supervisor owns the status of a set of named services and starts and
// stops them in registration order.
type Supervisor struct {
	mu      sync.RWMutex
	order   []string
	entries map[string]*entry

	shared *Registry
	now    func() time.Time
}

func NewSupervisor() *Supervisor {
	return &Supervisor{
		entries: make(map[string]*entry),
		shared:  NewRegistry(),
		now:     time.Now,
	}
}

// Shared returns the cross-service handle registry.
func (s *Supervisor) Shared() *Registry { return s.shared }

// Register adds def in stopped status. Registering an existing name replaces
// its definition but keeps its position in the start order; the replacement
// waits for a lifecycle call in progress on the old definition.
func (s *Supervisor) Register(def Definition) {
	if old, ok := s.entry(def.Name); ok {
		old.op.Lock()
		defer old.op.Unlock()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[def.Name]; ok {
		if e.status == StatusRunning {
			logs.Warn("[service] %s re-registered while running; the old instance is not stopped", def.Name)
		}
	} else {
		s.order = append(s.order, def.Name)
	}
	s.entries[def.Name] = &entry{def: def, status: StatusStopped}
	metrics.ServiceStatus.WithLabelValues(def.Name).Set(0)
}

// Start brings up one service. It reports true when the service is running
// afterwards; failures are recorded in its status, never returned.
func (s *Supervisor) Start(ctx context.Context, name string) bool {
	e, ok := s.entry(name)
	if !ok {
		logs.CtxWarn(ctx, "[service] start %s: %v", name, ErrUnknownService)
		return false
	}
	e.op.Lock()
	defer e.op.Unlock()

	if s.statusOf(e) == StatusRunning {
		return true
	}
	s.update(e, func(e *entry) { e.status = StatusStarting })

	ctx = context.WithValue(ctx, consts.CtxKeyService, name)
	logs.CtxInfo(ctx, "[service] starting %s", name)
	if err := invoke(ctx, e.def.Start); err != nil {
		s.fail(ctx, e, "start", err)
		return false
	}

	s.update(e, func(e *entry) {
		e.status = StatusRunning
		e.err = ""
		e.startedAt = s.now()
	})
	metrics.ServiceStatus.WithLabelValues(name).Set(1)
	logs.CtxInfo(ctx, "[service] %s running", name)
	return true
}

// Stop shuts down one service. It reports true when the service is stopped
// afterwards.
func (s *Supervisor) Stop(ctx context.Context, name string) bool {
	e, ok := s.entry(name)
	if !ok {
		logs.CtxWarn(ctx, "[service] stop %s: %v", name, ErrUnknownService)
		return false
	}
	e.op.Lock()
	defer e.op.Unlock()

	if s.statusOf(e) == StatusStopped {
		return true
	}

	ctx = context.WithValue(ctx, consts.CtxKeyService, name)
	logs.CtxInfo(ctx, "[service] stopping %s", name)
	if err := invoke(ctx, e.def.Stop); err != nil {
		s.fail(ctx, e, "stop", err)
		return false
	}

	s.update(e, func(e *entry) {
		e.status = StatusStopped
		e.err = ""
		e.startedAt = time.Time{}
	})
	metrics.ServiceStatus.WithLabelValues(name).Set(0)
	logs.CtxInfo(ctx, "[service] %s stopped", name)
	return true
}

// Restart stops then starts name; the start is attempted even if the stop
// failed.
func (s *Supervisor) Restart(ctx context.Context, name string) bool {
	s.Stop(ctx, name)
	return s.Start(ctx, name)
}

// StartAll starts every service in registration order, one at a time, and
// returns the names that failed. A failure does not stop the remaining starts.
func (s *Supervisor) StartAll(ctx context.Context) []string {
	var failed []string
	for _, name := range s.names() {
		if !s.Start(ctx, name) {
			failed = append(failed, name)
		}
	}
	return failed
}

// StopAll stops every service in reverse registration order.
func (s *Supervisor) StopAll(ctx context.Context) []string {
	names := s.names()
	var failed []string
	for i := len(names) - 1; i >= 0; i-- {
		if !s.Stop(ctx, names[i]) {
			failed = append(failed, names[i])
		}
	}
	return failed
}

// GetAll returns snapshots in registration order.
func (s *Supervisor) GetAll() []Snapshot {
	names := s.names()
	out := make([]Snapshot, 0, len(names))
	for _, name := range names {
		if snap, ok := s.Get(name); ok {
			out = append(out, snap)
		}
	}
	return out
}

func (s *Supervisor) Get(name string) (Snapshot, bool) {
	e, ok := s.entry(name)
	if !ok {
		return Snapshot{}, false
	}

	s.mu.RLock()
	snap := Snapshot{Name: name, Status: e.status, Error: e.err}
	if !e.startedAt.IsZero() {
		at := e.startedAt
		snap.StartedAt = &at
	}
	stats := e.def.Stats
	s.mu.RUnlock()

	if stats != nil {
		snap.Stats = collectStats(name, stats)
	}
	return snap, true
}

func (s *Supervisor) entry(name string) (*entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[name]
	return e, ok
}

func (s *Supervisor) names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.order...)
}

func (s *Supervisor) statusOf(e *entry) Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return e.status
}

func (s *Supervisor) update(e *entry, fn func(*entry)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(e)
}

func (s *Supervisor) fail(ctx context.Context, e *entry, op string, err error) {
	s.update(e, func(e *entry) {
		e.status = StatusError
		e.err = err.Error()
	})
	metrics.ServiceStatus.WithLabelValues(e.def.Name).Set(0)
	logs.CtxError(ctx, "[service] %s %s failed: %v", op, e.def.Name, err)
}

func invoke(ctx context.Context, fn func(context.Context) error) (err error) {
	if fn == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			logs.CtxError(ctx, "[service] panic: %v\n%s", r, debug.Stack())
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx)
}

func collectStats(name string, fn func() map[string]any) (stats map[string]any) {
	defer func() {
		if r := recover(); r != nil {
			logs.Warn("[service] stats for %s panicked: %v", name, r)
			stats = nil
		}
	}()
	return fn()
}
