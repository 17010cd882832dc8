package channel

import (
	"errors"
)

var ErrNotConnected = errors.New("channel is not connected")

type Type string

const (
	Telegram Type = "telegram"
)

type Message struct {
	ID          string
	ChannelType Type
	UserID      string
	Username    string
	ChatID      string
	Content     string
}
