// Package bot routes chat events to the dialogue session and the report
// pipeline and formats the replies.
package bot

import (
	"context"
	"strings"
)

// Kind classifies an inbound event.
type Kind string

const (
	KindText       Kind = "text"
	KindVoice      Kind = "voice"
	KindPhoto      Kind = "photo"
	KindSticker    Kind = "sticker"
	KindDocument   Kind = "document"
	KindMembership Kind = "membership"
	KindOther      Kind = "other"
)

// Event is one inbound chat message as seen by the router.
type Event struct {
	Channel   string
	ChatID    string
	MessageID string
	SenderID  string

	// SenderName is the short display name; empty falls back to a
	// generic listener name.
	SenderName string

	IsGroup bool
	IsAdmin bool
	Kind    Kind

	// Text is the body of a text message.
	Text string

	// Caption is the text attached to a voice note.
	Caption string

	// VoicePath is a local copy of the voice note. When empty, FetchVoice
	// is used to download it on demand.
	VoicePath  string
	FetchVoice func(ctx context.Context) (string, error)

	// Notify sends an interim status message. Optional.
	Notify func(text string)

	// Typing shows the typing indicator. Optional.
	Typing func()
}

func (ev *Event) notify(text string) {
	if ev.Notify != nil {
		ev.Notify(text)
	}
}

func (ev *Event) typing() {
	if ev.Typing != nil {
		ev.Typing()
	}
}

// command returns the command name of a "/name@bot args" message, or "".
func (ev *Event) command() string {
	text := strings.TrimSpace(ev.Text)
	if !strings.HasPrefix(text, "/") {
		return ""
	}
	fields := strings.Fields(text[1:])
	if len(fields) == 0 {
		return ""
	}
	name, _, _ := strings.Cut(fields[0], "@")
	return strings.ToLower(name)
}

// Reply is what the bot sends back.
type Reply struct {
	Text string

	// ReplyTo is the message being answered.
	ReplyTo string

	// File, when set, is uploaded with Text as its caption.
	File *File
}

// File is a local file to upload.
type File struct {
	Path string
	Name string

	// Cleanup, when set, releases the file once it has been delivered.
	Cleanup func()
}
