// Package messaging defines the chat client the service listens to and replies through.
package messaging

import (
	"context"
	"errors"
	"strings"
)

// ErrNotAudio is returned when an audio-only operation gets another message type.
var ErrNotAudio = errors.New("message is not audio")

const (
	TypeAudio = "audio"
	TypePTT   = "ptt"
)

// InboundMessage is a message received from a chat.
type InboundMessage struct {
	ID       string `json:"id"`
	From     string `json:"from"`
	Type     string `json:"type"`
	MimeType string `json:"mimetype,omitempty"`
	// Body carries base64 media for some webhook configurations.
	Body string `json:"body,omitempty"`
}

// IsAudio reports whether the message is a voice note or audio attachment.
func (m InboundMessage) IsAudio() bool {
	return m.Type == TypeAudio || m.Type == TypePTT
}

// UserID returns the sender without its chat suffix ("551199999999@c.us" -> "551199999999").
func (m InboundMessage) UserID() string {
	user, _, _ := strings.Cut(m.From, "@")
	return user
}

// AudioHandler is invoked for every inbound audio message.
type AudioHandler func(ctx context.Context, msg InboundMessage)

// Client is the chat connection.
type Client interface {
	// OnInboundAudio registers a handler for audio messages.
	OnInboundAudio(handler AudioHandler)
	// Decrypt downloads and decrypts the media of an audio message.
	Decrypt(ctx context.Context, msg InboundMessage) ([]byte, error)
	// Reply sends text to chatID quoting the message inReplyTo.
	Reply(ctx context.Context, chatID, text, inReplyTo string) error
}
