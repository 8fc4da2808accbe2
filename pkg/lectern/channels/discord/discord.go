// Package discord implements the Discord channel using discordgo.
//
// Features:
//   - Send/receive text, voice messages and attachments
//   - Typing indicators
//   - File upload for reports
//   - Guild and channel allowlists
//   - Admin checks via channel permissions
//   - Automatic reconnection via discordgo's gateway
package discord

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/jholhewres/lectern/pkg/lectern/channels"
)

// maxMessageLen is Discord's per-message character limit.
const maxMessageLen = 2000

// Config holds Discord channel configuration.
type Config struct {
	Enabled bool `yaml:"enabled"`

	// Token is the Discord bot token.
	Token string `yaml:"token"`

	// AllowedGuilds restricts which guild IDs the bot listens in.
	AllowedGuilds []string `yaml:"allowed_guilds"`

	// AllowedChannels restricts which channel IDs the bot listens in.
	AllowedChannels []string `yaml:"allowed_channels"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{}
}

// Discord implements channels.Channel, channels.MediaChannel,
// channels.PresenceChannel and channels.AdminChannel.
type Discord struct {
	cfg     Config
	logger  *slog.Logger
	session *discordgo.Session

	messages chan *channels.IncomingMessage

	connected  atomic.Bool
	lastMsg    atomic.Value // time.Time
	errorCount atomic.Int64

	// httpClient downloads attachments.
	httpClient *http.Client

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a new Discord channel instance.
func New(cfg Config, logger *slog.Logger) *Discord {
	if logger == nil {
		logger = slog.Default()
	}
	return &Discord{
		cfg:        cfg,
		logger:     logger.With("component", "discord"),
		messages:   make(chan *channels.IncomingMessage, 256),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// ---------- Channel Interface ----------

// Name returns "discord".
func (d *Discord) Name() string { return "discord" }

// Connect opens the Discord gateway WebSocket connection.
func (d *Discord) Connect(ctx context.Context) error {
	if d.cfg.Token == "" {
		return fmt.Errorf("discord: bot token is required")
	}
	d.ctx, d.cancel = context.WithCancel(ctx)

	session, err := discordgo.New("Bot " + d.cfg.Token)
	if err != nil {
		return fmt.Errorf("discord: creating session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent |
		discordgo.IntentsGuildMembers

	session.AddHandler(d.onMessageCreate)

	if err := session.Open(); err != nil {
		return fmt.Errorf("discord: opening gateway: %w", err)
	}

	d.session = session
	d.connected.Store(true)

	user := session.State.User
	d.logger.Info("discord: connected", "bot", user.Username, "id", user.ID)
	return nil
}

// Disconnect closes the Discord gateway connection.
func (d *Discord) Disconnect() error {
	if d.cancel != nil {
		d.cancel()
	}
	if d.session != nil {
		d.session.Close()
	}
	d.connected.Store(false)
	d.logger.Info("discord: disconnected")
	return nil
}

// Send sends a text message, split into 2000-character chunks. Only the
// first chunk references ReplyTo.
func (d *Discord) Send(ctx context.Context, to string, message *channels.OutgoingMessage) error {
	if d.session == nil {
		return channels.ErrChannelDisconnected
	}
	for i, chunk := range channels.SplitMessage(message.Content, maxMessageLen) {
		msgSend := &discordgo.MessageSend{Content: chunk}
		if i == 0 && message.ReplyTo != "" {
			msgSend.Reference = &discordgo.MessageReference{MessageID: message.ReplyTo, ChannelID: to}
		}
		if _, err := d.session.ChannelMessageSendComplex(to, msgSend, discordgo.WithContext(ctx)); err != nil {
			d.errorCount.Add(1)
			return fmt.Errorf("discord: send: %w", err)
		}
	}
	return nil
}

// Receive returns the incoming messages channel.
func (d *Discord) Receive() <-chan *channels.IncomingMessage {
	return d.messages
}

// IsConnected returns true if the bot is connected.
func (d *Discord) IsConnected() bool { return d.connected.Load() }

// Health returns the channel health status.
func (d *Discord) Health() channels.HealthStatus {
	var lastAt time.Time
	if v := d.lastMsg.Load(); v != nil {
		lastAt = v.(time.Time)
	}
	return channels.HealthStatus{
		Connected:     d.connected.Load(),
		LastMessageAt: lastAt,
		ErrorCount:    int(d.errorCount.Load()),
	}
}

// ---------- MediaChannel Interface ----------

// SendMedia uploads a file attachment.
func (d *Discord) SendMedia(ctx context.Context, to string, media *channels.MediaMessage) error {
	if d.session == nil {
		return channels.ErrChannelDisconnected
	}
	if len(media.Data) == 0 {
		return fmt.Errorf("discord: no media data")
	}

	filename := media.Filename
	if filename == "" {
		filename = "file"
	}
	msgSend := &discordgo.MessageSend{
		Content: media.Caption,
		Files: []*discordgo.File{
			{Name: filename, ContentType: media.MimeType, Reader: bytes.NewReader(media.Data)},
		},
	}
	if media.ReplyTo != "" {
		msgSend.Reference = &discordgo.MessageReference{MessageID: media.ReplyTo, ChannelID: to}
	}

	_, err := d.session.ChannelMessageSendComplex(to, msgSend, discordgo.WithContext(ctx))
	return err
}

// DownloadMedia downloads an attachment from an incoming message.
func (d *Discord) DownloadMedia(ctx context.Context, msg *channels.IncomingMessage) ([]byte, string, error) {
	if msg.Media == nil || msg.Media.Ref == "" {
		return nil, "", channels.ErrMediaDownloadFailed
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, msg.Media.Ref, nil)
	if err != nil {
		return nil, "", fmt.Errorf("discord: creating download request: %w", err)
	}
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("discord: download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("discord: download status %d: %w", resp.StatusCode, channels.ErrMediaDownloadFailed)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("discord: reading attachment: %w", err)
	}
	return data, msg.Media.MimeType, nil
}

// ---------- PresenceChannel Interface ----------

// SendTyping sends a typing indicator to the channel.
func (d *Discord) SendTyping(ctx context.Context, to string) error {
	if d.session == nil {
		return nil
	}
	return d.session.ChannelTyping(to, discordgo.WithContext(ctx))
}

// ---------- AdminChannel Interface ----------

// IsAdmin reports whether the user can administer the guild or manage
// messages in the channel. Direct messages always count as admin.
func (d *Discord) IsAdmin(ctx context.Context, chatID, userID string) (bool, error) {
	if d.session == nil {
		return false, channels.ErrChannelDisconnected
	}
	if ch, err := d.session.State.Channel(chatID); err == nil && ch.Type == discordgo.ChannelTypeDM {
		return true, nil
	}
	perms, err := d.session.UserChannelPermissions(userID, chatID, discordgo.WithContext(ctx))
	if err != nil {
		return false, fmt.Errorf("discord: permissions: %w", err)
	}
	return hasAdminPermission(perms), nil
}

func hasAdminPermission(perms int64) bool {
	return perms&discordgo.PermissionAdministrator != 0 ||
		perms&discordgo.PermissionManageGuild != 0 ||
		perms&discordgo.PermissionManageMessages != 0
}

// ---------- Event Handlers ----------

func (d *Discord) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	incoming := d.convertMessage(m.Message, s.State.User.ID)
	if incoming == nil {
		return
	}

	d.lastMsg.Store(time.Now())
	d.errorCount.Store(0)

	select {
	case d.messages <- incoming:
	default:
		d.logger.Warn("discord: message buffer full, dropping message", "msg_id", incoming.ID)
	}
}

// convertMessage maps a gateway message to an IncomingMessage, or nil
// when it comes from a bot or a filtered guild or channel.
func (d *Discord) convertMessage(m *discordgo.Message, botID string) *channels.IncomingMessage {
	if m.Author == nil || m.Author.ID == botID || m.Author.Bot {
		return nil
	}
	if len(d.cfg.AllowedGuilds) > 0 && m.GuildID != "" && !contains(d.cfg.AllowedGuilds, m.GuildID) {
		return nil
	}
	if len(d.cfg.AllowedChannels) > 0 && !contains(d.cfg.AllowedChannels, m.ChannelID) {
		return nil
	}

	incoming := &channels.IncomingMessage{
		ID:        m.ID,
		Channel:   "discord",
		From:      m.Author.ID,
		FromName:  displayName(m),
		ChatID:    m.ChannelID,
		IsGroup:   m.GuildID != "",
		Type:      channels.MessageText,
		Content:   m.Content,
		Timestamp: m.Timestamp,
	}

	switch m.Type {
	case discordgo.MessageTypeGuildMemberJoin, discordgo.MessageTypeRecipientAdd, discordgo.MessageTypeRecipientRemove:
		incoming.Type = channels.MessageMembership
		return incoming
	}

	if len(m.StickerItems) > 0 {
		incoming.Type = channels.MessageSticker
		return incoming
	}

	if len(m.Attachments) > 0 {
		att := m.Attachments[0]
		mediaType := inferMediaType(att.ContentType)
		if m.Flags&discordgo.MessageFlagsIsVoiceMessage != 0 {
			mediaType = channels.MessageVoice
		}
		incoming.Type = mediaType
		incoming.Media = &channels.MediaInfo{
			Type:     mediaType,
			Ref:      att.URL,
			MimeType: att.ContentType,
			FileSize: uint64(att.Size),
			Filename: att.Filename,
		}
	}
	return incoming
}

// ---------- Helpers ----------

// displayName prefers the guild nickname, then the global name, then the
// username.
func displayName(m *discordgo.Message) string {
	if m.Member != nil && m.Member.Nick != "" {
		return m.Member.Nick
	}
	if m.Author.GlobalName != "" {
		return m.Author.GlobalName
	}
	return m.Author.Username
}

// inferMediaType maps MIME types to message types.
func inferMediaType(contentType string) channels.MessageType {
	ct := strings.ToLower(contentType)
	switch {
	case strings.HasPrefix(ct, "image/"):
		return channels.MessageImage
	case strings.HasPrefix(ct, "audio/"):
		return channels.MessageAudio
	case strings.HasPrefix(ct, "video/"):
		return channels.MessageVideo
	default:
		return channels.MessageDocument
	}
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// Compile-time interface verification.
var (
	_ channels.Channel         = (*Discord)(nil)
	_ channels.MediaChannel    = (*Discord)(nil)
	_ channels.PresenceChannel = (*Discord)(nil)
	_ channels.AdminChannel    = (*Discord)(nil)
)
