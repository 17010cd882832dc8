package gateway

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/gg/gslice"
	"github.com/fatih/color"

	"github.com/tgifai/butler/internal/channel"
	"github.com/tgifai/butler/internal/channel/telegram"
	"github.com/tgifai/butler/internal/config"
	"github.com/tgifai/butler/internal/cronjob"
	"github.com/tgifai/butler/internal/delivery"
	"github.com/tgifai/butler/internal/heartbeat"
	"github.com/tgifai/butler/internal/pkg/logs"
	"github.com/tgifai/butler/internal/provider"
	"github.com/tgifai/butler/internal/provider/openai"
	"github.com/tgifai/butler/internal/service"
)

const (
	serviceTelegram = "telegram"
	serviceCronjob  = "cronjob"
	serviceHTTP     = "http"

	providerCheckTimeout = 15 * time.Second

	heartbeatSystemPrompt = "You are butler, a personal assistant running a periodic check-in. " +
		"Answer with HEARTBEAT_OK when nothing needs the user's attention."
)

// SchedulerKey holds the job scheduler while the cronjob service runs.
var SchedulerKey = service.NewKey[*cronjob.Scheduler]("cronjob.scheduler")

// Gateway owns every long-lived component of the daemon.
type Gateway struct {
	cfg *config.Config

	store      *cronjob.Store
	scheduler  *cronjob.Scheduler
	poller     *heartbeat.Poller
	supervisor *service.Supervisor

	llm      provider.Provider
	llmModel string

	chat     *telegram.Telegram
	notifier *delivery.Telegram
	terminal *delivery.Terminal
	commands *CommandRouter

	httpMu sync.Mutex
	http   *httpServer
}

// New builds the gateway from cfg and registers its services in start order:
// telegram (when enabled), cronjob (when enabled), http.
func New(ctx context.Context, cfg *config.Config) (*Gateway, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	gw := &Gateway{
		cfg:        cfg,
		store:      cronjob.NewStore(cfg.Cronjob.Store),
		supervisor: service.NewSupervisor(),
		terminal:   delivery.NewTerminal(color.Output),
		commands:   newCommandRouter(),
	}
	gw.notifier = delivery.NewTelegram(gw.supervisor.Shared(), cfg.Cronjob.DefaultChatID)
	registerBuiltinCommands(gw.commands)

	if err := gw.initScheduler(); err != nil {
		return nil, fmt.Errorf("init scheduler: %w", err)
	}
	if err := gw.initHeartbeat(ctx); err != nil {
		return nil, fmt.Errorf("init heartbeat: %w", err)
	}
	if err := gw.initChat(ctx); err != nil {
		return nil, fmt.Errorf("init chat: %w", err)
	}

	if cfg.Cronjob.IsEnabled() {
		gw.supervisor.Register(service.Definition{
			Name: serviceCronjob,
			Start: func(ctx context.Context) error {
				if err := gw.scheduler.Start(ctx); err != nil {
					return err
				}
				service.Set(gw.supervisor.Shared(), SchedulerKey, gw.scheduler)
				return nil
			},
			Stop: func(ctx context.Context) error {
				service.Delete(gw.supervisor.Shared(), SchedulerKey)
				return gw.scheduler.Stop(ctx)
			},
			Stats: gw.scheduler.Stats,
		})
	} else {
		logs.CtxInfo(ctx, "[gateway] cronjob is disabled, scheduler will not run")
	}

	gw.supervisor.Register(service.Definition{
		Name:  serviceHTTP,
		Start: gw.startHTTP,
		Stop:  gw.stopHTTP,
		Stats: gw.httpStats,
	})

	return gw, nil
}

func (gw *Gateway) Store() *cronjob.Store           { return gw.store }
func (gw *Gateway) Poller() *heartbeat.Poller       { return gw.poller }
func (gw *Gateway) Supervisor() *service.Supervisor { return gw.supervisor }

// Run starts every service and the heartbeat, blocks until ctx is done, then
// shuts everything down within the configured shutdown timeout.
func (gw *Gateway) Run(ctx context.Context) error {
	if failed := gw.supervisor.StartAll(ctx); len(failed) > 0 {
		logs.CtxWarn(ctx, "[gateway] services failed to start: %s", strings.Join(failed, ", "))
	}
	if gw.poller.Start(ctx) {
		logs.CtxInfo(ctx, "[gateway] heartbeat started (every %s)", gw.cfg.Heartbeat.Every())
	}
	if gw.llm != nil {
		go gw.checkProvider(ctx)
	}

	logs.CtxInfo(ctx, "[gateway] butler is running")
	<-ctx.Done()
	logs.CtxInfo(ctx, "[gateway] shutting down")

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), gw.cfg.Gateway.ShutdownWait())
	defer cancel()

	if err := gw.poller.Stop(stopCtx); err != nil {
		logs.CtxWarn(stopCtx, "[gateway] stop heartbeat: %v", err)
	}
	if failed := gw.supervisor.StopAll(stopCtx); len(failed) > 0 {
		return fmt.Errorf("services failed to stop: %s", strings.Join(failed, ", "))
	}

	logs.CtxInfo(stopCtx, "[gateway] all services stopped")
	return nil
}

func (gw *Gateway) initScheduler() error {
	webhook, err := delivery.NewWebhook()
	if err != nil {
		return err
	}

	handlers := cronjob.Handlers{
		Telegram: gw.notifier.Deliver,
		Terminal: gw.terminal.Deliver,
		Webhook:  webhook.Deliver,
	}
	switch gw.cfg.Cronjob.DefaultDelivery {
	case string(cronjob.DeliveryTelegram):
		handlers.Default = func(ctx context.Context, job cronjob.Job) error {
			return gw.notifier.Deliver(ctx, job, cronjob.Delivery{Kind: cronjob.DeliveryTelegram})
		}
	default:
		handlers.Default = func(ctx context.Context, job cronjob.Job) error {
			return gw.terminal.Deliver(ctx, job, cronjob.Delivery{Kind: cronjob.DeliveryTerminal})
		}
	}

	gw.scheduler = cronjob.NewScheduler(gw.store, cronjob.SchedulerOptions{
		CheckInterval:  gw.cfg.Cronjob.CheckInterval(),
		HandlerTimeout: gw.cfg.Cronjob.JobTimeout(),
		Handlers:       handlers,
		OnJobRun: func(job cronjob.Job, status cronjob.RunStatus, errMsg string) {
			if status == cronjob.StatusError {
				logs.Warn("[gateway] job %s (%s) failed: %s", job.ID, job.Name, errMsg)
			}
		},
	})
	return nil
}

func (gw *Gateway) initHeartbeat(ctx context.Context) error {
	hb := gw.cfg.Heartbeat
	gw.poller = heartbeat.NewPoller(heartbeat.Config{
		Enabled:     hb.Enabled,
		Every:       hb.Every(),
		Prompt:      hb.Prompt,
		AckMaxChars: hb.AckMaxChars,
		StartDelay:  hb.StartDelay(),
		Timeout:     hb.Timeout(),
	})
	gw.poller.SetDelivery(gw.deliverHeartbeat)
	gw.poller.SetListener(heartbeat.Listener{
		OnStarted: func() {
			logs.Info("[gateway] heartbeat loop started")
		},
		OnCompleted: func(res heartbeat.Result) {
			logs.Debug("[gateway] heartbeat (%s) done, delivered=%v", res.TriggeredBy, res.NeedsDelivery)
		},
		OnError: func(res heartbeat.Result) {
			logs.Warn("[gateway] heartbeat (%s) failed: %v", res.TriggeredBy, res.Err)
		},
		OnDeliveryError: func(res heartbeat.Result, err error) {
			logs.Warn("[gateway] heartbeat (%s) delivery failed: %v", res.TriggeredBy, err)
		},
	})

	if gw.cfg.Provider.Type == "" {
		if hb.Enabled {
			logs.CtxWarn(ctx, "[gateway] heartbeat is enabled but no provider is configured")
		}
		return nil
	}

	providerCfg, err := openai.ParseConfig(gw.cfg.Provider.Config)
	if err != nil {
		return fmt.Errorf("provider config: %w", err)
	}
	p, err := openai.NewProvider(ctx, providerCfg)
	if err != nil {
		return fmt.Errorf("create provider: %w", err)
	}

	gw.llm, gw.llmModel = p, providerCfg.Model
	gw.poller.SetHandler(heartbeat.WorkspaceHandler(hb.Workspace, func(ctx context.Context, prompt string) (string, error) {
		return p.Ask(ctx, heartbeatSystemPrompt, prompt)
	}))
	logs.CtxInfo(ctx, "[gateway] heartbeat uses %s model %s", p.Type(), providerCfg.Model)
	return nil
}

// checkProvider logs whether the heartbeat model is reachable.
func (gw *Gateway) checkProvider(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, providerCheckTimeout)
	defer cancel()

	models, err := gw.llm.ListModels(ctx)
	if err != nil {
		logs.CtxWarn(ctx, "[gateway] %s provider unreachable: %v", gw.llm.Type(), err)
		return
	}
	ids := gslice.Map(models, func(m provider.ModelInfo) string { return m.ID })
	if !gslice.Contains(ids, gw.llmModel) {
		logs.CtxWarn(ctx, "[gateway] model %s is not listed by the %s provider (%d models)", gw.llmModel, gw.llm.Type(), len(ids))
		return
	}
	logs.CtxInfo(ctx, "[gateway] %s provider reachable, model %s available", gw.llm.Type(), gw.llmModel)
}

// deliverHeartbeat sends a heartbeat that needs attention to the configured
// chat, or prints it when no chat is set.
func (gw *Gateway) deliverHeartbeat(ctx context.Context, res heartbeat.Result) error {
	text := strings.TrimSpace(res.Response)
	if text == "" {
		logs.CtxWarn(ctx, "[gateway] heartbeat returned an empty response, nothing to deliver")
		return nil
	}
	if chatID := gw.cfg.Heartbeat.ChatID; chatID != "" {
		return gw.notifier.Notify(ctx, chatID, "💓 "+text)
	}
	return gw.terminal.Notify(ctx, "heartbeat", text)
}

func (gw *Gateway) initChat(ctx context.Context) error {
	if !gw.cfg.Chat.Enabled {
		logs.CtxInfo(ctx, "[gateway] chat is disabled, skipping")
		return nil
	}

	tgCfg, err := telegram.ParseConfig(gw.cfg.Chat.Config)
	if err != nil {
		return err
	}
	gw.chat = telegram.New(*tgCfg)
	gw.chat.SetHandler(gw.handleMessage)

	gw.supervisor.Register(service.Definition{
		Name: serviceTelegram,
		Start: func(ctx context.Context) error {
			if err := gw.chat.Start(ctx); err != nil {
				return err
			}
			service.Set[channel.Sender](gw.supervisor.Shared(), delivery.ChatKey, gw.chat)
			return nil
		},
		Stop: func(ctx context.Context) error {
			service.Delete(gw.supervisor.Shared(), delivery.ChatKey)
			return gw.chat.Stop(ctx)
		},
		Stats: gw.chat.Stats,
	})
	return nil
}
