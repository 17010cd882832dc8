package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/tgifai/butler/internal/channel/telegram"
)

var msgHwd = &MsgRunner{}

type MsgRunner struct{}

func (r *MsgRunner) cmd() *cli.Command {
	return &cli.Command{
		Name:  "msg",
		Usage: "Send a one-off message through the configured chat bot",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "chat-id",
				Usage: "Target chat ID, defaults to cronjob.default_chat_id",
			},
			&cli.StringFlag{
				Name:    "content",
				Aliases: []string{"m"},
				Usage:   "Message body (markdown)",
			},
		},
		Action: r.run,
	}
}

func (r *MsgRunner) run(ctx context.Context, cmd *cli.Command) error {
	content := strings.TrimSpace(cmd.String("content"))
	if content == "" {
		return errors.New("--content cannot be empty")
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if !cfg.Chat.Enabled {
		return errors.New("chat is disabled in the config")
	}

	chatID := strings.TrimSpace(cmd.String("chat-id"))
	if chatID == "" {
		chatID = cfg.Cronjob.DefaultChatID
	}
	if chatID == "" {
		return errors.New("--chat-id is required when cronjob.default_chat_id is not set")
	}

	tgCfg, err := telegram.ParseConfig(cfg.Chat.Config)
	if err != nil {
		return err
	}
	if err = telegram.Send(ctx, *tgCfg, chatID, content); err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}

	fmt.Printf("Sent message via telegram to chat %s\n", chatID)
	return nil
}
