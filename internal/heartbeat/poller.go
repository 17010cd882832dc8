package heartbeat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/tgifai/butler/internal/consts"
	"github.com/tgifai/butler/internal/pkg/logs"
	metrics "github.com/tgifai/butler/internal/pkg/prometheus"
)

// Sentinel is the reply that means "nothing needs attention".
const Sentinel = "HEARTBEAT_OK"

const defaultEvery = 30 * time.Minute

var (
	ErrAlreadyRunning = errors.New("heartbeat already running")
	ErrNoHandler      = errors.New("heartbeat handler not set")
)

// Trigger records what caused a run.
type Trigger string

const (
	TriggerSchedule Trigger = "schedule"
	TriggerManual   Trigger = "manual"
	TriggerRequest  Trigger = "request"
)

// Handler answers the heartbeat prompt, typically by asking the LLM.
type Handler func(ctx context.Context, prompt string) (string, error)

// DeliveryFunc forwards a response that needs attention to the user.
type DeliveryFunc func(ctx context.Context, res Result) error

// Result is the outcome of one poll.
type Result struct {
	Timestamp     time.Time
	Response      string
	NeedsDelivery bool
	TriggeredBy   Trigger
	Err           error
}

// Listener receives lifecycle notifications. For each run the order is
// OnRunning then exactly one of OnCompleted or OnError. Nil fields are skipped.
type Listener struct {
	OnStarted       func()
	OnRunning       func(trigger Trigger)
	OnCompleted     func(res Result)
	OnError         func(res Result)
	OnDeliveryError func(res Result, err error)
}

type Config struct {
	Enabled bool
	Every   time.Duration
	Prompt  string
	// AckMaxChars: short replies that merely contain the sentinel are suppressed too.
	AckMaxChars int
	// StartDelay postpones the first scheduled run; zero means the first run
	// happens after Every.
	StartDelay time.Duration
	// Timeout bounds a single handler call; zero means no bound.
	Timeout time.Duration
}

// Poller runs the heartbeat on a schedule and on demand. At most one run is
// in flight at a time.
type Poller struct {
	cfg Config
	now func() time.Time

	mu       sync.Mutex
	handler  Handler
	deliver  DeliveryFunc
	listener Listener

	loopCtx context.Context
	cancel  context.CancelFunc // non-nil while started
	wg      sync.WaitGroup

	running bool
	pending chan Result // waiter of the latest RequestNow, if any
	last    *Result
}

func NewPoller(cfg Config) *Poller {
	if cfg.Every <= 0 {
		cfg.Every = defaultEvery
	}
	return &Poller{cfg: cfg, now: time.Now}
}

func (p *Poller) SetHandler(h Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handler = h
}

func (p *Poller) SetDelivery(d DeliveryFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deliver = d
}

func (p *Poller) SetListener(l Listener) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listener = l
}

// Start arms the schedule. It reports false, doing nothing, when the poller
// is already started, disabled, or has no handler. The schedule keeps ctx's
// values but runs until Stop.
func (p *Poller) Start(ctx context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch {
	case p.cancel != nil:
		return false
	case !p.cfg.Enabled:
		logs.CtxInfo(ctx, "[heartbeat] disabled, not starting")
		return false
	case p.handler == nil:
		logs.CtxWarn(ctx, "[heartbeat] no handler set, not starting")
		return false
	}

	p.loopCtx, p.cancel = context.WithCancel(context.WithoutCancel(ctx))
	p.wg.Add(1)
	go func(ctx context.Context) {
		defer p.wg.Done()
		p.loop(ctx)
	}(p.loopCtx)

	logs.CtxInfo(ctx, "[heartbeat] started (every=%s, start_delay=%s)", p.cfg.Every, p.cfg.StartDelay)
	if p.listener.OnStarted != nil {
		p.listener.OnStarted()
	}
	return true
}

// Stop disarms both the start delay and the interval and aborts a scheduled
// run in flight, then waits for the loop to exit or ctx to expire.
func (p *Poller) Stop(ctx context.Context) error {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.loopCtx = nil
	p.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logs.CtxInfo(ctx, "[heartbeat] stopped")
		return nil
	case <-ctx.Done():
		logs.CtxWarn(ctx, "[heartbeat] stop timed out waiting for the running poll")
		return fmt.Errorf("stop heartbeat: %w", ctx.Err())
	}
}

// IsStarted reports whether the schedule is armed.
func (p *Poller) IsStarted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

// IsRunning reports whether a poll is in flight.
func (p *Poller) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// LastResult returns the most recent completed poll.
func (p *Poller) LastResult() (Result, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last == nil {
		return Result{}, false
	}
	return *p.last, true
}

// RunOnce polls now. It never fails: handler errors end up in Result.Err,
// and a call made while another poll is in flight returns immediately with
// ErrAlreadyRunning. Whatever the outcome, a pending RequestNow is resolved
// with the result.
func (p *Poller) RunOnce(ctx context.Context, trigger Trigger) Result {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return Result{Timestamp: p.now(), TriggeredBy: trigger, Err: ErrAlreadyRunning}
	}
	p.running = true
	handler, deliver, listener := p.handler, p.deliver, p.listener
	p.mu.Unlock()

	res := p.execute(ctx, trigger, handler, deliver, listener)

	p.mu.Lock()
	p.running = false
	p.last = &res
	waiter := p.pending
	p.pending = nil
	p.mu.Unlock()

	if waiter != nil {
		waiter <- res
		close(waiter)
	}
	return res
}

// RequestNow asks for a poll as soon as possible. If one is already in
// flight, the returned channel receives that poll's result; otherwise a new
// poll is triggered. Only the latest request is tracked: a newer call
// supersedes an older one, whose channel is closed without a value.
func (p *Poller) RequestNow(ctx context.Context, reason string) <-chan Result {
	ch := make(chan Result, 1)

	p.mu.Lock()
	if prev := p.pending; prev != nil {
		close(prev)
		logs.CtxWarn(ctx, "[heartbeat] earlier pending request superseded by %q", reason)
	}
	p.pending = ch
	busy := p.running
	runCtx := p.loopCtx
	p.mu.Unlock()

	if busy {
		logs.CtxInfo(ctx, "[heartbeat] request %q joins the poll in flight", reason)
		return ch
	}

	if runCtx == nil {
		runCtx = context.WithoutCancel(ctx)
	}
	logs.CtxInfo(ctx, "[heartbeat] poll requested: %s", reason)
	go p.RunOnce(runCtx, TriggerRequest)
	return ch
}

func (p *Poller) loop(ctx context.Context) {
	if p.cfg.StartDelay > 0 {
		timer := time.NewTimer(p.cfg.StartDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		p.scheduledRun(ctx)
	}

	ticker := time.NewTicker(p.cfg.Every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.scheduledRun(ctx)
		}
	}
}

func (p *Poller) scheduledRun(ctx context.Context) {
	res := p.RunOnce(ctx, TriggerSchedule)
	if errors.Is(res.Err, ErrAlreadyRunning) {
		logs.CtxInfo(ctx, "[heartbeat] scheduled poll skipped, another poll is in flight")
	}
}

func (p *Poller) execute(ctx context.Context, trigger Trigger, handler Handler, deliver DeliveryFunc, listener Listener) Result {
	ctx = logs.WithNewLogID(context.WithValue(ctx, consts.CtxKeyTrigger, trigger))
	res := Result{Timestamp: p.now(), TriggeredBy: trigger}

	if listener.OnRunning != nil {
		listener.OnRunning(trigger)
	}

	if handler == nil {
		res.Err = ErrNoHandler
	} else {
		if p.cfg.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
			defer cancel()
		}
		res.Response, res.Err = callHandler(ctx, handler, p.cfg.Prompt)
	}

	if res.Err != nil {
		logs.CtxWarn(ctx, "[heartbeat] %s poll failed: %v", trigger, res.Err)
		metrics.HeartbeatRuns.WithLabelValues(string(trigger), "error").Inc()
		if listener.OnError != nil {
			listener.OnError(res)
		}
		return res
	}

	res.NeedsDelivery = NeedsDelivery(res.Response, p.cfg.AckMaxChars)
	outcome := "suppressed"
	if res.NeedsDelivery {
		outcome = "delivered"
		if deliver != nil {
			if err := deliver(ctx, res); err != nil {
				logs.CtxWarn(ctx, "[heartbeat] deliver response: %v", err)
				if listener.OnDeliveryError != nil {
					listener.OnDeliveryError(res, err)
				}
			}
		}
	}
	logs.CtxInfo(ctx, "[heartbeat] %s poll done, %s (%d chars)", trigger, outcome, utf8.RuneCountInString(res.Response))
	metrics.HeartbeatRuns.WithLabelValues(string(trigger), outcome).Inc()

	if listener.OnCompleted != nil {
		listener.OnCompleted(res)
	}
	return res
}

// NeedsDelivery reports whether response carries something for the user:
// the bare sentinel never does, nor does a reply of at most ackMaxChars
// characters that contains it.
func NeedsDelivery(response string, ackMaxChars int) bool {
	trimmed := strings.TrimSpace(response)
	if trimmed == Sentinel {
		return false
	}
	if utf8.RuneCountInString(trimmed) <= ackMaxChars && strings.Contains(trimmed, Sentinel) {
		return false
	}
	return true
}

func callHandler(ctx context.Context, h Handler, prompt string) (resp string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("heartbeat handler panic: %v", r)
		}
	}()
	return h(ctx, prompt)
}
