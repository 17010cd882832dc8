package gateway

import (
	"context"
	"fmt"

	"github.com/tgifai/butler/internal/channel"
	"github.com/tgifai/butler/internal/pkg/logs"
	"github.com/tgifai/butler/internal/pkg/utils"
)

const unknownInputReply = "I only understand commands for now. Send /help to see them."

// handleMessage is the chat transport's message handler. Commands are
// dispatched through the router; anything else gets a hint.
func (gw *Gateway) handleMessage(ctx context.Context, msg *channel.Message) (string, error) {
	if msg == nil {
		return "", fmt.Errorf("message cannot be nil")
	}
	ctx = logs.WithNewLogID(ctx)
	logs.CtxDebug(ctx, "[msg] -> (%s#%s) %s", msg.ChannelType, msg.UserID, utils.Truncate80(msg.Content))

	cmd, args, ok := gw.commands.Match(msg.Content)
	if !ok {
		return unknownInputReply, nil
	}

	reply, err := cmd.Handler(ctx, gw, msg, args)
	if err != nil {
		logs.CtxWarn(ctx, "[gateway] command %s from chat %s failed: %v", cmd.Name, msg.ChatID, err)
		return "", fmt.Errorf("%s: %w", cmd.Name, err)
	}
	return reply, nil
}
