package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/urfave/cli/v3"

	"github.com/tgifai/butler/internal/config"
	"github.com/tgifai/butler/internal/consts"
	"github.com/tgifai/butler/internal/pkg/utils"
)

var initHwd = &InitRunner{}

type InitRunner struct {
	scanner *bufio.Scanner
}

func (r *InitRunner) cmd() *cli.Command {
	return &cli.Command{
		Name:   "init",
		Usage:  "Interactive setup for first-time configuration",
		Action: r.run,
	}
}

var (
	cBanner  = color.New(color.FgCyan, color.Bold)
	cStep    = color.New(color.FgCyan, color.Bold)
	cWarn    = color.New(color.FgYellow)
	cSuccess = color.New(color.FgGreen)
	cError   = color.New(color.FgRed)
	cPrompt  = color.New(color.FgWhite, color.Bold)
	cDim     = color.New(color.FgHiBlack)
)

func (r *InitRunner) run(_ context.Context, cmd *cli.Command) error {
	r.scanner = bufio.NewScanner(os.Stdin)

	cfgPath := cmd.String("config")
	if _, err := os.Stat(cfgPath); err == nil {
		cWarn.Printf("  Config already exists at %s\n", cfgPath)
		if !r.confirm("  Overwrite existing config?", false) {
			fmt.Println("  Aborted.")
			return nil
		}
		fmt.Println()
	}

	fmt.Println()
	cBanner.Println("  butler")
	cDim.Println("  Reminders and heartbeat check-ins, delivered where you are.")
	fmt.Println()

	cfg := &config.Config{
		Gateway: config.GatewayConfig{
			Bind:   "127.0.0.1:18790",
			APIKey: utils.RandStr(32),
		},
		Logging: config.LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "both",
			File:       consts.DefaultLogFile(),
			MaxSize:    50,
			MaxBackups: 3,
			MaxAge:     7,
		},
		Cronjob: config.CronjobConfig{
			Store: consts.DefaultJobStorePath(),
		},
		Heartbeat: config.HeartbeatConfig{
			Workspace: consts.DefaultWorkspaceDir(),
		},
	}

	r.stepChat(cfg)
	r.stepProvider(cfg)
	r.stepHeartbeat(cfg)
	return r.stepConfirm(cfgPath, cfg)
}

func (r *InitRunner) stepChat(cfg *config.Config) {
	r.printStepHeader("Step 1", "Telegram bot")
	cDim.Println("  Leave the token empty to run without a chat bot.")
	fmt.Println()

	token := r.promptDefault("  Bot token", "")
	fmt.Println()
	if token == "" {
		cfg.Cronjob.DefaultDelivery = "terminal"
		cSuccess.Print("  ✓ Chat: disabled, reminders print to the console\n\n")
		return
	}

	chatID := r.promptRequired("  Your chat ID (reminders go here by default)")
	fmt.Println()

	cfg.Chat = config.ChatConfig{
		Type:    "telegram",
		Enabled: true,
		Config:  map[string]any{"token": token},
	}
	cfg.Cronjob.DefaultDelivery = "telegram"
	cfg.Cronjob.DefaultChatID = chatID
	cSuccess.Printf("  ✓ Chat: telegram, default chat %s\n\n", chatID)
}

func (r *InitRunner) stepProvider(cfg *config.Config) {
	r.printStepHeader("Step 2", "LLM provider")
	cDim.Println("  The heartbeat asks an OpenAI-compatible model to review HEARTBEAT.md.")
	cDim.Println("  Leave the key empty to skip it.")
	fmt.Println()

	apiKey := r.promptDefault("  API key", "")
	fmt.Println()
	if apiKey == "" {
		cSuccess.Print("  ✓ Provider: none\n\n")
		return
	}

	baseURL := r.promptDefault("  Base URL", "https://api.openai.com/v1")
	model := r.promptDefault("  Model", "gpt-4o-mini")
	fmt.Println()

	cfg.Provider = config.ProviderConfig{
		Type: "openai",
		Config: map[string]any{
			"api_key":  apiKey,
			"base_url": baseURL,
			"model":    model,
			"timeout":  60,
		},
	}
	cSuccess.Printf("  ✓ Provider: openai (%s)\n\n", model)
}

func (r *InitRunner) stepHeartbeat(cfg *config.Config) {
	r.printStepHeader("Step 3", "Heartbeat")
	if cfg.Provider.Type == "" {
		cDim.Print("  Skipped, the heartbeat needs a provider.\n\n")
		return
	}

	cfg.Heartbeat.Enabled = r.confirm("  Enable the periodic heartbeat?", true)
	if cfg.Heartbeat.Enabled {
		cfg.Heartbeat.EveryMin = 30
		cfg.Heartbeat.ChatID = cfg.Cronjob.DefaultChatID
	}
	fmt.Println()
	cSuccess.Printf("  ✓ Heartbeat: %v\n\n", cfg.Heartbeat.Enabled)
}

func (r *InitRunner) stepConfirm(cfgPath string, cfg *config.Config) error {
	r.printStepHeader("Step 4", "Review")

	cDim.Printf("  Config file:  %s\n", cfgPath)
	cDim.Printf("  Job store:    %s\n", cfg.Cronjob.Store)
	cDim.Printf("  Workspace:    %s\n", cfg.Heartbeat.Workspace)
	cDim.Printf("  Control API:  http://%s (bearer key saved in the config)\n", cfg.Gateway.Bind)
	fmt.Println()

	if !r.confirm("  Write config and initialize workspace?", true) {
		fmt.Println("  Aborted.")
		return nil
	}
	fmt.Println()

	if err := config.Set(cfgPath, cfg); err != nil {
		cError.Printf("  ✗ Invalid config: %v\n", err)
		return err
	}
	if err := config.Save(); err != nil {
		cError.Printf("  ✗ Failed to write config: %v\n", err)
		return err
	}
	cSuccess.Printf("  ✓ Created %s\n", cfgPath)

	if err := initWorkspace(cfg.Heartbeat.Workspace); err != nil {
		cError.Printf("  ✗ Failed to initialize workspace: %v\n", err)
		return err
	}
	cSuccess.Printf("  ✓ Initialized workspace at %s\n", cfg.Heartbeat.Workspace)

	fmt.Println()
	cSuccess.Println("  All set! Run \"butler gateway run\" to start.")
	fmt.Println()
	return nil
}

// initWorkspace writes the workspace templates, leaving existing files alone.
func initWorkspace(workspaceDir string) error {
	if err := os.MkdirAll(workspaceDir, 0o755); err != nil {
		return fmt.Errorf("create directory %s: %w", workspaceDir, err)
	}

	for name, tpl := range consts.WorkspaceTemplates {
		path := filepath.Join(workspaceDir, name)
		if _, err := os.Stat(path); err == nil {
			continue
		}
		if err := os.WriteFile(path, []byte(tpl), 0o644); err != nil {
			return fmt.Errorf("write template %s: %w", name, err)
		}
	}
	return nil
}

func (r *InitRunner) printStepHeader(step string, title string) {
	cStep.Printf("═══ %s: %s ═══\n\n", step, title)
}

func (r *InitRunner) promptDefault(label string, defaultVal string) string {
	if defaultVal != "" {
		cPrompt.Printf("%s ", label)
		cDim.Printf("[%s]", defaultVal)
		cPrompt.Print(" > ")
	} else {
		cPrompt.Printf("%s > ", label)
	}

	if r.scanner.Scan() {
		if val := strings.TrimSpace(r.scanner.Text()); val != "" {
			return val
		}
	}
	return defaultVal
}

// promptRequired asks until it gets an answer; it gives up with "" once
// stdin is exhausted.
func (r *InitRunner) promptRequired(label string) string {
	for {
		cPrompt.Printf("%s > ", label)
		if !r.scanner.Scan() {
			return ""
		}
		if val := strings.TrimSpace(r.scanner.Text()); val != "" {
			return val
		}
		cError.Println("  This field is required.")
	}
}

func (r *InitRunner) confirm(label string, defaultYes bool) bool {
	hint := "[y/N]"
	if defaultYes {
		hint = "[Y/n]"
	}

	cPrompt.Printf("%s %s > ", label, hint)
	if r.scanner.Scan() {
		val := strings.ToLower(strings.TrimSpace(r.scanner.Text()))
		if val == "" {
			return defaultYes
		}
		return val == "y" || val == "yes"
	}
	return defaultYes
}
