package cronjob

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tgifai/butler/internal/consts"
	"github.com/tgifai/butler/internal/pkg/logs"
	metrics "github.com/tgifai/butler/internal/pkg/prometheus"
)

const (
	defaultCheckInterval  = 15 * time.Second
	defaultHandlerTimeout = 5 * time.Minute
)

// DeliveryHandler sends a job's message to the given delivery target. The
// returned error text is recorded verbatim as the job's last error.
type DeliveryHandler func(ctx context.Context, job Job, d Delivery) error

// Handlers routes jobs by delivery kind. A job without delivery, or whose
// kind has no handler, goes to Default; with no Default it is skipped.
type Handlers struct {
	Telegram DeliveryHandler
	Terminal DeliveryHandler
	Webhook  DeliveryHandler
	Default  func(ctx context.Context, job Job) error
}

// SchedulerOptions configures a Scheduler.
type SchedulerOptions struct {
	CheckInterval  time.Duration
	HandlerTimeout time.Duration
	Handlers       Handlers
	// OnJobRun observes every recorded run, after the store was updated.
	OnJobRun func(job Job, status RunStatus, errMsg string)
}

// TickResult summarizes one pass over the due jobs.
type TickResult struct {
	Due     int  `json:"due"`
	OK      int  `json:"ok"`
	Failed  int  `json:"failed"`
	Skipped int  `json:"skipped"`
	Aborted int  `json:"aborted"`
	Busy    bool `json:"busy"` // another tick was in progress; nothing ran
}

// Scheduler periodically dispatches due jobs from a Store.
type Scheduler struct {
	store *Store
	opts  SchedulerOptions

	mu     sync.Mutex // guards cancel
	cancel context.CancelFunc
	wg     sync.WaitGroup

	ticking      atomic.Bool
	lastTickAtMs atomic.Int64
	busyTicks    atomic.Int64
}

// NewScheduler creates a scheduler over store. Call Start to begin ticking.
func NewScheduler(store *Store, opts SchedulerOptions) *Scheduler {
	if opts.CheckInterval <= 0 {
		opts.CheckInterval = defaultCheckInterval
	}
	if opts.HandlerTimeout <= 0 {
		opts.HandlerTimeout = defaultHandlerTimeout
	}
	return &Scheduler{store: store, opts: opts}
}

// Store returns the scheduler's job store.
func (s *Scheduler) Store() *Store {
	return s.store
}

// Start reloads the store and begins the scheduling loop. It is a no-op when
// already running. The loop keeps ctx's values but not its cancellation; it
// runs until Stop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return nil
	}

	s.store.Reload()
	total, enabled := s.store.Count()

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop(runCtx)
	}()

	logs.CtxInfo(ctx, "[cronjob] scheduler started (interval=%s, jobs=%d, enabled=%d)", s.opts.CheckInterval, total, enabled)
	return nil
}

// Stop cancels the loop and any in-flight delivery, then waits for the loop
// to exit or ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logs.CtxInfo(ctx, "[cronjob] scheduler stopped")
		return nil
	case <-ctx.Done():
		logs.CtxWarn(ctx, "[cronjob] stop timed out waiting for the running tick")
		return fmt.Errorf("stop scheduler: %w", ctx.Err())
	}
}

// IsRunning reports whether the loop is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

// RunDue runs one tick now, outside the timer. It shares the overlap guard
// with the loop, so it reports Busy instead of running concurrently.
func (s *Scheduler) RunDue(ctx context.Context) TickResult {
	return s.tick(logs.WithNewLogID(ctx))
}

// Stats is reported through the service supervisor.
func (s *Scheduler) Stats() map[string]any {
	total, enabled := s.store.Count()
	stats := map[string]any{
		"jobs":           total,
		"enabled":        enabled,
		"check_interval": s.opts.CheckInterval.String(),
		"busy_ticks":     s.busyTicks.Load(),
	}
	if ms := s.lastTickAtMs.Load(); ms > 0 {
		stats["last_tick_at"] = time.UnixMilli(ms).Format(time.RFC3339)
	}
	return stats
}

func (s *Scheduler) loop(ctx context.Context) {
	ticker := time.NewTicker(s.opts.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(logs.WithNewLogID(ctx))
		}
	}
}

// tick dispatches due jobs sequentially in store order. A failing job never
// stops the rest; a cancelled ctx stops the pass before the next job.
func (s *Scheduler) tick(ctx context.Context) TickResult {
	if !s.ticking.CompareAndSwap(false, true) {
		s.busyTicks.Add(1)
		logs.CtxWarn(ctx, "[cronjob] previous tick still running, skipping")
		return TickResult{Busy: true}
	}
	defer s.ticking.Store(false)

	s.lastTickAtMs.Store(s.store.now().UnixMilli())
	s.store.ReloadIfChanged()

	due := s.store.GetDueJobs()
	res := TickResult{Due: len(due)}
	for _, job := range due {
		if ctx.Err() != nil {
			res.Aborted += len(due) - (res.OK + res.Failed + res.Skipped + res.Aborted)
			break
		}

		status, errMsg, aborted := s.dispatch(ctx, job)
		if aborted {
			// left due; it runs again after the next Start
			res.Aborted++
			logs.CtxWarn(ctx, "[cronjob] job %s (%s) aborted by shutdown", job.ID, job.Name)
			continue
		}

		switch status {
		case StatusOK:
			res.OK++
		case StatusError:
			res.Failed++
		case StatusSkipped:
			res.Skipped++
		}
		s.store.MarkRun(job.ID, status, errMsg)
		metrics.JobRuns.WithLabelValues(string(status)).Inc()
		if s.opts.OnJobRun != nil {
			s.opts.OnJobRun(job, status, errMsg)
		}
	}

	if res.Due > 0 {
		logs.CtxInfo(ctx, "[cronjob] tick: due=%d ok=%d failed=%d skipped=%d aborted=%d",
			res.Due, res.OK, res.Failed, res.Skipped, res.Aborted)
	}
	return res
}

func (s *Scheduler) dispatch(ctx context.Context, job Job) (status RunStatus, errMsg string, aborted bool) {
	handler := s.resolve(job)
	if handler == nil {
		logs.CtxWarn(ctx, "[cronjob] no handler for job %s (%s), skipping", job.ID, job.Name)
		return StatusSkipped, "no delivery handler", false
	}

	hctx, cancel := context.WithTimeout(context.WithValue(ctx, consts.CtxKeyJobID, job.ID), s.opts.HandlerTimeout)
	defer cancel()

	err := callHandler(hctx, job, handler)
	if err == nil {
		logs.CtxInfo(hctx, "[cronjob] fired job %s (%s)", job.ID, job.Name)
		return StatusOK, "", false
	}
	if ctx.Err() != nil && !errors.Is(err, context.DeadlineExceeded) {
		return "", "", true
	}

	logs.CtxWarn(hctx, "[cronjob] job %s (%s) delivery failed: %v", job.ID, job.Name, err)
	return StatusError, err.Error(), false
}

// resolve picks the handler for job by switching over its delivery kind.
func (s *Scheduler) resolve(job Job) func(context.Context, Job) error {
	h := s.opts.Handlers
	if job.Delivery != nil {
		d := *job.Delivery
		var dh DeliveryHandler
		switch d.Kind {
		case DeliveryTelegram:
			dh = h.Telegram
		case DeliveryTerminal:
			dh = h.Terminal
		case DeliveryWebhook:
			dh = h.Webhook
		}
		if dh != nil {
			return func(ctx context.Context, j Job) error { return dh(ctx, j, d) }
		}
	}
	return h.Default
}

func callHandler(ctx context.Context, job Job, handler func(context.Context, Job) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(ctx, job)
}
