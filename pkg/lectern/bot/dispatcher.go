package bot

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sourcegraph/conc"

	"github.com/jholhewres/lectern/pkg/lectern/channels"
)

// Transport is the channel side the dispatcher talks to.
// *channels.Manager satisfies it.
type Transport interface {
	Messages() <-chan *channels.IncomingMessage
	Send(ctx context.Context, channelName, to string, msg *channels.OutgoingMessage) error
	SendMedia(ctx context.Context, channelName, to string, media *channels.MediaMessage) error
	DownloadMedia(ctx context.Context, msg *channels.IncomingMessage) ([]byte, string, error)
	SendTyping(ctx context.Context, channelName, to string) error
	IsAdmin(ctx context.Context, channelName, chatID, userID string) (bool, error)
}

// Handler turns an event into a reply. *Router satisfies it.
type Handler interface {
	Route(ctx context.Context, ev *Event) *Reply
}

// DispatcherConfig configures the dispatcher.
type DispatcherConfig struct {
	// QueueSize bounds the pending messages per chat. Defaults to 32.
	QueueSize int `yaml:"queue_size"`

	// VoiceDir holds downloaded voice notes. Defaults to the OS temp dir.
	VoiceDir string `yaml:"voice_dir"`
}

// Dispatcher consumes the transport's message stream. Each chat gets its
// own worker so a slow answer in one chat never stalls another, while
// answers within a chat keep question order.
type Dispatcher struct {
	cfg       DispatcherConfig
	transport Transport
	handler   Handler
	logger    *slog.Logger

	mu      sync.Mutex
	queues  map[string]chan *channels.IncomingMessage
	workers *conc.WaitGroup
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(cfg DispatcherConfig, transport Transport, handler Handler, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 32
	}
	return &Dispatcher{
		cfg:       cfg,
		transport: transport,
		handler:   handler,
		logger:    logger.With("component", "dispatcher"),
		queues:    make(map[string]chan *channels.IncomingMessage),
		workers:   conc.NewWaitGroup(),
	}
}

// Run dispatches until the stream closes or ctx is cancelled, then waits
// for the chat workers to drain their queues.
func (d *Dispatcher) Run(ctx context.Context) {
	defer d.shutdown()

	stream := d.transport.Messages()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-stream:
			if !ok {
				return
			}
			d.enqueue(ctx, msg)
		}
	}
}

func (d *Dispatcher) enqueue(ctx context.Context, msg *channels.IncomingMessage) {
	key := msg.Channel + ":" + msg.ChatID

	d.mu.Lock()
	q, ok := d.queues[key]
	if !ok {
		q = make(chan *channels.IncomingMessage, d.cfg.QueueSize)
		d.queues[key] = q
		d.workers.Go(func() { d.work(ctx, key, q) })
	}
	d.mu.Unlock()

	select {
	case q <- msg:
	default:
		d.logger.Warn("chat queue full, dropping message", "chat", key, "msg_id", msg.ID)
	}
}

func (d *Dispatcher) shutdown() {
	d.mu.Lock()
	for key, q := range d.queues {
		close(q)
		delete(d.queues, key)
	}
	d.mu.Unlock()

	if r := d.workers.WaitAndRecover(); r != nil {
		d.logger.Error("chat worker panicked", "panic", r.Value)
	}
	d.logger.Info("dispatcher stopped")
}

func (d *Dispatcher) work(ctx context.Context, key string, q <-chan *channels.IncomingMessage) {
	d.logger.Debug("chat worker started", "chat", key)
	for msg := range q {
		if ctx.Err() != nil {
			continue
		}
		d.handle(ctx, msg)
	}
}

// handle processes one message end to end. A panic is logged and the
// worker moves on to the next message.
func (d *Dispatcher) handle(ctx context.Context, msg *channels.IncomingMessage) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("panic while handling message", "msg_id", msg.ID, "chat_id", msg.ChatID, "panic", r)
		}
	}()

	ev, cleanup := d.event(ctx, msg)
	defer cleanup()

	reply := d.handler.Route(ctx, ev)
	if reply == nil {
		return
	}
	if reply.File != nil && reply.File.Cleanup != nil {
		defer reply.File.Cleanup()
	}
	if err := d.deliver(ctx, msg, reply); err != nil {
		d.logger.Error("failed to deliver reply", "channel", msg.Channel, "chat_id", msg.ChatID, "error", err)
	}
}

// event converts a channel message. The returned cleanup removes any voice
// note downloaded while routing.
func (d *Dispatcher) event(ctx context.Context, msg *channels.IncomingMessage) (*Event, func()) {
	ev := &Event{
		Channel:    msg.Channel,
		ChatID:     msg.ChatID,
		MessageID:  msg.ID,
		SenderID:   msg.From,
		SenderName: msg.FromName,
		IsGroup:    msg.IsGroup,
		Kind:       kindOf(msg.Type),
	}

	var downloaded []string
	cleanup := func() {
		for _, p := range downloaded {
			os.Remove(p)
		}
	}

	switch ev.Kind {
	case KindText:
		ev.Text = msg.Content
		if strings.HasPrefix(strings.TrimSpace(msg.Content), "/") {
			admin, err := d.transport.IsAdmin(ctx, msg.Channel, msg.ChatID, msg.From)
			if err != nil {
				d.logger.Warn("admin check failed", "chat_id", msg.ChatID, "user", msg.From, "error", err)
			}
			ev.IsAdmin = admin
		}
	case KindVoice:
		ev.Caption = msg.Content
		ev.FetchVoice = func(ctx context.Context) (string, error) {
			path, err := d.downloadVoice(ctx, msg)
			if err == nil {
				downloaded = append(downloaded, path)
			}
			return path, err
		}
	}

	ev.Notify = func(text string) {
		if err := d.transport.Send(ctx, msg.Channel, msg.ChatID, &channels.OutgoingMessage{Content: text, ReplyTo: msg.ID}); err != nil {
			d.logger.Warn("failed to send status message", "error", err)
		}
	}
	ev.Typing = func() {
		if err := d.transport.SendTyping(ctx, msg.Channel, msg.ChatID); err != nil {
			d.logger.Debug("typing indicator failed", "error", err)
		}
	}
	return ev, cleanup
}

func (d *Dispatcher) downloadVoice(ctx context.Context, msg *channels.IncomingMessage) (string, error) {
	data, mimeType, err := d.transport.DownloadMedia(ctx, msg)
	if err != nil {
		return "", err
	}

	ext := ".ogg"
	if exts, _ := mime.ExtensionsByType(mimeType); len(exts) > 0 {
		ext = exts[0]
	}
	if msg.Media != nil && msg.Media.Filename != "" {
		ext = filepath.Ext(msg.Media.Filename)
	}

	f, err := os.CreateTemp(d.cfg.VoiceDir, fmt.Sprintf("voice_%s_%s_*%s", safeName(msg.From), safeName(msg.ID), ext))
	if err != nil {
		return "", fmt.Errorf("creating voice file: %w", err)
	}
	_, err = f.Write(data)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("writing voice file: %w", err)
	}
	return f.Name(), nil
}

func (d *Dispatcher) deliver(ctx context.Context, msg *channels.IncomingMessage, reply *Reply) error {
	if reply.File == nil {
		return d.transport.Send(ctx, msg.Channel, msg.ChatID, &channels.OutgoingMessage{
			Content: reply.Text,
			ReplyTo: reply.ReplyTo,
		})
	}

	data, err := os.ReadFile(reply.File.Path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", reply.File.Path, err)
	}
	name := reply.File.Name
	if name == "" {
		name = filepath.Base(reply.File.Path)
	}
	return d.transport.SendMedia(ctx, msg.Channel, msg.ChatID, &channels.MediaMessage{
		Type:     channels.MessageDocument,
		Data:     data,
		MimeType: mime.TypeByExtension(filepath.Ext(name)),
		Filename: name,
		Caption:  reply.Text,
		ReplyTo:  reply.ReplyTo,
	})
}

func kindOf(t channels.MessageType) Kind {
	switch t {
	case channels.MessageText:
		return KindText
	case channels.MessageVoice, channels.MessageAudio:
		return KindVoice
	case channels.MessageImage:
		return KindPhoto
	case channels.MessageSticker:
		return KindSticker
	case channels.MessageDocument:
		return KindDocument
	case channels.MessageMembership:
		return KindMembership
	default:
		return KindOther
	}
}

// safeName keeps IDs usable inside file names.
func safeName(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == '*' || r == os.PathSeparator {
			return '_'
		}
		return r
	}, s)
}
