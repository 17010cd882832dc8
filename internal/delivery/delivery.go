// Package delivery implements the targets scheduled jobs and heartbeat
// alerts are sent to.
package delivery

import (
	"errors"
	"strings"

	"github.com/tgifai/butler/internal/channel"
	"github.com/tgifai/butler/internal/cronjob"
	"github.com/tgifai/butler/internal/service"
)

var (
	ErrNoChatID        = errors.New("no chat id for telegram delivery")
	ErrChatUnavailable = errors.New("chat transport is not running")
)

// ChatKey is where the chat transport publishes its sender while running.
var ChatKey = service.NewKey[channel.Sender]("chat.sender")

// ReminderText is the text a user sees when a job fires.
func ReminderText(job cronjob.Job) string {
	msg := strings.TrimSpace(job.Message)
	switch {
	case msg == "":
		return "⏰ " + job.Name
	case msg == job.Name:
		return "⏰ " + msg
	default:
		return "⏰ **" + job.Name + "**\n" + msg
	}
}
