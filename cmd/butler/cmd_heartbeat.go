package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cloudwego/hertz/pkg/app/client"
	"github.com/cloudwego/hertz/pkg/protocol"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/fatih/color"
	"github.com/urfave/cli/v3"

	"github.com/tgifai/butler/internal/config"
	"github.com/tgifai/butler/internal/gateway"
	"github.com/tgifai/butler/internal/pkg/utils"
)

var heartbeatHwd = &HeartbeatRunner{}

// HeartbeatRunner talks to a running daemon over its control plane.
type HeartbeatRunner struct{}

func (r *HeartbeatRunner) cmd() *cli.Command {
	return &cli.Command{
		Name:  "heartbeat",
		Usage: "Inspect or trigger the heartbeat of a running daemon",
		Commands: []*cli.Command{
			{
				Name:   "now",
				Usage:  "Run a heartbeat immediately and print its result",
				Action: r.now,
			},
			{
				Name:   "last",
				Usage:  "Print the most recent heartbeat result",
				Action: r.last,
			},
		},
	}
}

func (r *HeartbeatRunner) now(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	// The daemon waits up to the heartbeat timeout before answering.
	wait := cfg.Heartbeat.Timeout() + 15*time.Second
	return r.call(ctx, cfg, consts.MethodPost, wait)
}

func (r *HeartbeatRunner) last(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	return r.call(ctx, cfg, consts.MethodGet, 10*time.Second)
}

func (r *HeartbeatRunner) call(ctx context.Context, cfg *config.Config, method string, timeout time.Duration) error {
	hc, err := client.NewClient(client.WithDialTimeout(3 * time.Second))
	if err != nil {
		return fmt.Errorf("create http client: %w", err)
	}

	req, resp := protocol.AcquireRequest(), protocol.AcquireResponse()
	defer func() {
		protocol.ReleaseRequest(req)
		protocol.ReleaseResponse(resp)
	}()
	req.SetMethod(method)
	req.SetRequestURI(controlPlaneURL(cfg.Gateway.Bind) + "/api/v1/heartbeat")
	if cfg.Gateway.APIKey != "" {
		req.SetHeader("Authorization", "Bearer "+cfg.Gateway.APIKey)
	}

	if err = hc.DoTimeout(ctx, req, resp, timeout); err != nil {
		return fmt.Errorf("reach butler at %s (is \"butler gateway run\" running?): %w", cfg.Gateway.Bind, err)
	}

	var body struct {
		Result gateway.HeartbeatView `json:"result"`
		Error  string                `json:"error"`
	}
	if err = sonic.Unmarshal(resp.Body(), &body); err != nil {
		return fmt.Errorf("decode response (HTTP %d): %s", resp.StatusCode(), utils.Truncate80(string(resp.Body())))
	}
	if resp.StatusCode() != consts.StatusOK {
		return errors.New(body.Error)
	}

	printHeartbeat(body.Result)
	return nil
}

func printHeartbeat(v gateway.HeartbeatView) {
	header := color.New(color.FgCyan, color.Bold)
	header.Printf("heartbeat %s (%s)\n", v.Timestamp.Local().Format(time.DateTime), v.TriggeredBy)
	switch {
	case v.Error != "":
		color.Red("  failed: %s", v.Error)
	case v.NeedsDelivery:
		fmt.Println(v.Response)
	default:
		color.Green("  nothing needs attention")
	}
}

// controlPlaneURL turns the daemon's bind address into a local URL; a
// wildcard host is reached through loopback.
func controlPlaneURL(bind string) string {
	host, port, err := net.SplitHostPort(bind)
	if err != nil {
		return "http://" + bind
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}
