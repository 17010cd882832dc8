package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/tgifai/butler/internal/config"
	"github.com/tgifai/butler/internal/gateway"
	"github.com/tgifai/butler/internal/pkg/logs"
)

var gwHwd = &GatewayRunner{}

type GatewayRunner struct{}

func (r *GatewayRunner) cmd() *cli.Command {
	return &cli.Command{
		Name:  "gateway",
		Usage: "Manage the butler daemon",
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Run the scheduler, heartbeat, chat bot and control plane until interrupted",
				Action: r.run,
			},
		},
	}
}

func (r *GatewayRunner) run(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if err = r.initLogger(cfg.Logging); err != nil {
		return fmt.Errorf("init logger error: %w", err)
	}
	logs.InstallHertzLogger()
	defer logs.Flush()

	logs.CtxInfo(ctx, "booting butler, using config file: %s", config.Path())

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	gw, err := gateway.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build gateway: %w", err)
	}

	logs.CtxInfo(ctx, "press Ctrl+C to stop")
	if err = gw.Run(ctx); err != nil {
		logs.CtxError(ctx, "gateway shutdown: %v", err)
		return err
	}

	logs.CtxInfo(ctx, "all stopped, good bye!")
	return nil
}

func (r *GatewayRunner) initLogger(cfg config.LoggingConfig) error {
	return logs.Init(logs.Options{
		Level:      cfg.Level,
		Format:     cfg.Format,
		Output:     cfg.Output,
		File:       cfg.File,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	})
}
