// Package channels defines the chat platform boundary. Each platform
// (Telegram, Discord) implements Channel to receive and send messages in a
// unified way; optional capabilities live in the extension interfaces.
package channels

import (
	"context"
	"errors"
	"time"
)

// MessageType identifies the kind of message content.
type MessageType string

const (
	MessageText     MessageType = "text"
	MessageVoice    MessageType = "voice"
	MessageAudio    MessageType = "audio"
	MessageImage    MessageType = "image"
	MessageVideo    MessageType = "video"
	MessageDocument MessageType = "document"
	MessageSticker  MessageType = "sticker"

	// MessageMembership is a member joining or leaving a group.
	MessageMembership MessageType = "membership"
)

// Channel is implemented by every chat platform adapter.
type Channel interface {
	// Name returns the channel identifier (e.g. "telegram").
	Name() string

	// Connect establishes the connection and starts receiving.
	Connect(ctx context.Context) error

	// Disconnect gracefully closes the connection.
	Disconnect() error

	// Send sends a text message to the chat.
	Send(ctx context.Context, to string, message *OutgoingMessage) error

	// Receive returns a Go channel that emits incoming messages.
	Receive() <-chan *IncomingMessage

	IsConnected() bool

	Health() HealthStatus
}

// MediaChannel extends Channel with file upload and download.
type MediaChannel interface {
	Channel

	// SendMedia uploads a file (report PDF, image) to the chat.
	SendMedia(ctx context.Context, to string, media *MediaMessage) error

	// DownloadMedia fetches the media attached to an incoming message.
	// Returns the raw bytes and MIME type.
	DownloadMedia(ctx context.Context, msg *IncomingMessage) ([]byte, string, error)
}

// PresenceChannel extends Channel with a typing indicator.
type PresenceChannel interface {
	Channel

	SendTyping(ctx context.Context, to string) error
}

// AdminChannel reports whether a user administers a chat. Private chats
// count as administered by their only member.
type AdminChannel interface {
	Channel

	IsAdmin(ctx context.Context, chatID, userID string) (bool, error)
}

// IncomingMessage represents a message received from any channel.
type IncomingMessage struct {
	// ID is the message identifier in the source channel.
	ID string

	// Channel names the source channel.
	Channel string

	// From is the sender identifier on the platform.
	From string

	// FromName is the sender's short display name (first name, else
	// username). Empty when the platform gave neither.
	FromName string

	ChatID  string
	IsGroup bool

	Type MessageType

	// Content is the message text, or the caption for media messages.
	Content string

	Timestamp time.Time

	// Media describes the attachment, if any.
	Media *MediaInfo
}

// OutgoingMessage is a text message to send.
type OutgoingMessage struct {
	Content string

	// ReplyTo is the ID of the message being answered.
	ReplyTo string
}

// MediaMessage is a file to upload.
type MediaMessage struct {
	Type     MessageType
	Data     []byte
	MimeType string
	Filename string
	Caption  string
	ReplyTo  string
}

// MediaInfo describes media attached to an incoming message.
type MediaInfo struct {
	Type     MessageType
	MimeType string
	Filename string
	FileSize uint64

	// Duration in seconds (voice/audio/video).
	Duration uint32

	// Ref is the platform reference used to download the file (Telegram
	// file_id, Discord attachment URL).
	Ref string
}

// HealthStatus represents the health state of a channel.
type HealthStatus struct {
	Connected     bool
	LastMessageAt time.Time
	ErrorCount    int
	Details       map[string]any
}

// Errors.
var (
	ErrChannelDisconnected = errors.New("channel is not connected")
	ErrChannelNotFound     = errors.New("channel not found")
	ErrMediaNotSupported   = errors.New("media not supported by this channel")
	ErrMediaDownloadFailed = errors.New("failed to download media")
)

// SplitMessage splits text into chunks of at most maxLen runes, preferring
// newline boundaries.
func SplitMessage(text string, maxLen int) []string {
	runes := []rune(text)
	if len(runes) <= maxLen {
		return []string{text}
	}
	var chunks []string
	for len(runes) > 0 {
		if len(runes) <= maxLen {
			chunks = append(chunks, string(runes))
			break
		}
		cutAt := maxLen
		for i := maxLen - 1; i > maxLen/2; i-- {
			if runes[i] == '\n' {
				cutAt = i + 1
				break
			}
		}
		chunks = append(chunks, string(runes[:cutAt]))
		runes = runes[cutAt:]
	}
	return chunks
}
