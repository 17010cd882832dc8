package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/tgifai/butler/internal/config"
	"github.com/tgifai/butler/internal/consts"
	"github.com/tgifai/butler/internal/pkg/logs"
)

var errNotConfigured = errors.New("butler is not configured yet, run \"butler init\" to get started")

func main() {
	cmd := &cli.Command{
		Name:  "butler",
		Usage: "Reminders, heartbeat check-ins and a chat bot that runs them",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the config file",
				Value:   consts.DefaultConfigPath(),
			},
		},
		Commands: []*cli.Command{
			gwHwd.cmd(),
			cronjobHwd.cmd(),
			heartbeatHwd.cmd(),
			msgHwd.cmd(),
			initHwd.cmd(),
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		logs.Error("Command execution failed: %v", err)
		os.Exit(1)
	}
}

// loadConfig reads the file named by the global --config flag.
func loadConfig(cmd *cli.Command) (*config.Config, error) {
	path := cmd.String("config")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, errNotConfigured
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}
