// Package telegram implements the Telegram channel using the Bot API
// directly over HTTP.
//
// Features:
//   - Long polling for updates (getUpdates)
//   - Text, voice notes, captions and membership events
//   - Typing indicators (sendChatAction)
//   - Document upload (sendDocument) for reports
//   - Media download via getFile
//   - Admin checks via getChatMember, cached per (chat, user)
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/jholhewres/lectern/pkg/lectern/channels"
)

// maxMessageLen is the Bot API limit for sendMessage text.
const maxMessageLen = 4096

// Config holds Telegram channel configuration.
type Config struct {
	Enabled bool `yaml:"enabled"`

	// Token is the Bot API token (from @BotFather).
	Token string `yaml:"token"`

	// APIURL is the Bot API root. Defaults to https://api.telegram.org.
	APIURL string `yaml:"api_url"`

	// AllowedChats restricts which chat IDs the bot listens to.
	// Empty means every chat.
	AllowedChats []int64 `yaml:"allowed_chats"`

	RespondToGroups bool `yaml:"respond_to_groups"`
	RespondToDMs    bool `yaml:"respond_to_dms"`

	// AdminCacheTTL is how long a getChatMember answer is reused.
	AdminCacheTTL time.Duration `yaml:"admin_cache_ttl"`

	// DropPendingUpdates skips the backlog that accumulated while offline.
	DropPendingUpdates bool `yaml:"drop_pending_updates"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		APIURL:             "https://api.telegram.org",
		RespondToGroups:    true,
		RespondToDMs:       true,
		AdminCacheTTL:      5 * time.Minute,
		DropPendingUpdates: true,
	}
}

// Telegram implements channels.Channel, channels.MediaChannel,
// channels.PresenceChannel and channels.AdminChannel.
type Telegram struct {
	cfg    Config
	logger *slog.Logger
	client *http.Client

	// baseURL is <api>/bot<token>.
	baseURL string
	fileURL string

	messages chan *channels.IncomingMessage

	connected  atomic.Bool
	lastMsg    atomic.Value // time.Time
	errorCount atomic.Int64

	// offset is the last processed update ID + 1.
	offset int64

	// admins caches getChatMember results keyed by "chat:user".
	admins *cache.Cache

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a new Telegram channel instance.
func New(cfg Config, logger *slog.Logger) *Telegram {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultConfig().APIURL
	}
	if cfg.AdminCacheTTL <= 0 {
		cfg.AdminCacheTTL = DefaultConfig().AdminCacheTTL
	}
	api := strings.TrimRight(cfg.APIURL, "/")
	return &Telegram{
		cfg:      cfg,
		logger:   logger.With("component", "telegram"),
		client:   &http.Client{Timeout: 60 * time.Second},
		baseURL:  api + "/bot" + cfg.Token,
		fileURL:  api + "/file/bot" + cfg.Token,
		messages: make(chan *channels.IncomingMessage, 256),
		admins:   cache.New(cfg.AdminCacheTTL, 2*cfg.AdminCacheTTL),
	}
}

// ---------- Channel Interface ----------

// Name returns "telegram".
func (t *Telegram) Name() string { return "telegram" }

// Connect verifies the token and starts the long-polling loop.
func (t *Telegram) Connect(ctx context.Context) error {
	if t.cfg.Token == "" {
		return fmt.Errorf("telegram: bot token is required")
	}
	if t.connected.Load() {
		return nil
	}
	t.ctx, t.cancel = context.WithCancel(ctx)

	me, err := t.getMe(t.ctx)
	if err != nil {
		return fmt.Errorf("telegram: failed to verify token: %w", err)
	}
	if t.cfg.DropPendingUpdates {
		if _, err := t.apiCall(t.ctx, "deleteWebhook", map[string]any{"drop_pending_updates": true}); err != nil {
			t.logger.Warn("telegram: deleteWebhook failed", "error", err)
		}
	}
	t.logger.Info("telegram: connected", "bot", me.Username, "id", me.ID)
	t.connected.Store(true)

	go t.pollLoop()
	return nil
}

// Disconnect stops the polling loop.
func (t *Telegram) Disconnect() error {
	if t.cancel != nil {
		t.cancel()
	}
	t.connected.Store(false)
	t.logger.Info("telegram: disconnected")
	return nil
}

// Send sends a plain-text message split into 4096-character chunks. Only
// the first chunk is sent as a reply to ReplyTo.
func (t *Telegram) Send(ctx context.Context, to string, message *channels.OutgoingMessage) error {
	if !t.connected.Load() {
		return channels.ErrChannelDisconnected
	}
	chatID, err := strconv.ParseInt(to, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: invalid chat ID %q: %w", to, err)
	}

	for i, chunk := range channels.SplitMessage(message.Content, maxMessageLen) {
		payload := map[string]any{
			"chat_id": chatID,
			"text":    chunk,
		}
		if msgID, ok := parseMessageID(message.ReplyTo); ok && i == 0 {
			payload["reply_parameters"] = map[string]any{
				"message_id":                  msgID,
				"allow_sending_without_reply": true,
			}
		}
		if _, err := t.apiCall(ctx, "sendMessage", payload); err != nil {
			return err
		}
	}
	return nil
}

// Receive returns the incoming messages channel.
func (t *Telegram) Receive() <-chan *channels.IncomingMessage {
	return t.messages
}

// IsConnected returns true if the bot is connected.
func (t *Telegram) IsConnected() bool { return t.connected.Load() }

// Health returns the channel health status.
func (t *Telegram) Health() channels.HealthStatus {
	var lastAt time.Time
	if v := t.lastMsg.Load(); v != nil {
		lastAt = v.(time.Time)
	}
	return channels.HealthStatus{
		Connected:     t.connected.Load(),
		LastMessageAt: lastAt,
		ErrorCount:    int(t.errorCount.Load()),
		Details:       map[string]any{"admin_cache_entries": t.admins.ItemCount()},
	}
}

// ---------- MediaChannel Interface ----------

// SendMedia uploads a file. Everything except images goes out as a document.
func (t *Telegram) SendMedia(ctx context.Context, to string, media *channels.MediaMessage) error {
	if !t.connected.Load() {
		return channels.ErrChannelDisconnected
	}
	chatID, err := strconv.ParseInt(to, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: invalid chat ID %q: %w", to, err)
	}

	method, field := "sendDocument", "document"
	if media.Type == channels.MessageImage {
		method, field = "sendPhoto", "photo"
	}
	return t.uploadFile(ctx, method, chatID, field, media)
}

// DownloadMedia resolves the file_id with getFile and downloads the bytes.
func (t *Telegram) DownloadMedia(ctx context.Context, msg *channels.IncomingMessage) ([]byte, string, error) {
	if msg.Media == nil || msg.Media.Ref == "" {
		return nil, "", channels.ErrMediaDownloadFailed
	}

	file, err := t.getFile(ctx, msg.Media.Ref)
	if err != nil {
		return nil, "", fmt.Errorf("telegram: getFile failed: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.fileURL+"/"+file.FilePath, nil)
	if err != nil {
		return nil, "", fmt.Errorf("telegram: creating download request: %w", err)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("telegram: download failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("telegram: download status %d: %w", resp.StatusCode, channels.ErrMediaDownloadFailed)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("telegram: reading media: %w", err)
	}
	return data, msg.Media.MimeType, nil
}

// ---------- PresenceChannel Interface ----------

// SendTyping sends a "typing..." chat action.
func (t *Telegram) SendTyping(ctx context.Context, to string) error {
	if !t.connected.Load() {
		return nil
	}
	chatID, err := strconv.ParseInt(to, 10, 64)
	if err != nil {
		return nil
	}
	_, err = t.apiCall(ctx, "sendChatAction", map[string]any{
		"chat_id": chatID,
		"action":  "typing",
	})
	return err
}

// ---------- AdminChannel Interface ----------

// IsAdmin reports whether the user is the creator or an administrator of
// the chat. In a private chat the chat ID equals the user ID and the user
// always counts as admin.
func (t *Telegram) IsAdmin(ctx context.Context, chatID, userID string) (bool, error) {
	if chatID == userID {
		return true, nil
	}
	key := chatID + ":" + userID
	if v, ok := t.admins.Get(key); ok {
		return v.(bool), nil
	}

	cid, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return false, fmt.Errorf("telegram: invalid chat ID %q: %w", chatID, err)
	}
	uid, err := strconv.ParseInt(userID, 10, 64)
	if err != nil {
		return false, fmt.Errorf("telegram: invalid user ID %q: %w", userID, err)
	}

	data, err := t.apiCall(ctx, "getChatMember", map[string]any{"chat_id": cid, "user_id": uid})
	if err != nil {
		return false, err
	}
	var member struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(data, &member); err != nil {
		return false, fmt.Errorf("telegram: parsing getChatMember: %w", err)
	}

	admin := member.Status == "creator" || member.Status == "administrator"
	t.admins.SetDefault(key, admin)
	return admin, nil
}

// ---------- Polling ----------

func (t *Telegram) pollLoop() {
	t.logger.Info("telegram: polling started")
	backoff := time.Second

	for {
		select {
		case <-t.ctx.Done():
			t.logger.Info("telegram: polling stopped")
			return
		default:
		}

		updates, err := t.getUpdates(t.ctx, t.offset, 100, 30)
		if err != nil {
			if t.ctx.Err() != nil {
				return
			}
			t.errorCount.Add(1)
			t.logger.Warn("telegram: getUpdates error", "error", err, "backoff", backoff)
			select {
			case <-t.ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}

		backoff = time.Second
		t.errorCount.Store(0)

		for _, u := range updates {
			if u.UpdateID >= t.offset {
				t.offset = u.UpdateID + 1
			}
			if incoming := t.convertUpdate(u); incoming != nil {
				t.lastMsg.Store(time.Now())
				select {
				case t.messages <- incoming:
				default:
					t.logger.Warn("telegram: message buffer full, dropping message", "msg_id", incoming.ID)
				}
			}
		}
	}
}

// convertUpdate maps an update to an IncomingMessage, or nil when it is
// filtered out or carries no message.
func (t *Telegram) convertUpdate(u tgUpdate) *channels.IncomingMessage {
	msg := u.Message
	if msg == nil {
		return nil
	}

	isGroup := msg.Chat.Type == "group" || msg.Chat.Type == "supergroup"
	if len(t.cfg.AllowedChats) > 0 && !containsID(t.cfg.AllowedChats, msg.Chat.ID) {
		return nil
	}
	if isGroup && !t.cfg.RespondToGroups {
		return nil
	}
	if !isGroup && !t.cfg.RespondToDMs {
		return nil
	}

	incoming := &channels.IncomingMessage{
		ID:        strconv.Itoa(msg.MessageID),
		Channel:   "telegram",
		ChatID:    strconv.FormatInt(msg.Chat.ID, 10),
		IsGroup:   isGroup,
		Type:      channels.MessageText,
		Content:   msg.Text,
		Timestamp: time.Unix(int64(msg.Date), 0),
	}
	if msg.From != nil {
		incoming.From = strconv.FormatInt(msg.From.ID, 10)
		incoming.FromName = msg.From.FirstName
		if incoming.FromName == "" {
			incoming.FromName = msg.From.Username
		}
	}
	if incoming.Content == "" {
		incoming.Content = msg.Caption
	}

	switch {
	case msg.Voice != nil:
		incoming.Type = channels.MessageVoice
		incoming.Media = &channels.MediaInfo{
			Type:     channels.MessageVoice,
			Ref:      msg.Voice.FileID,
			MimeType: msg.Voice.MimeType,
			FileSize: uint64(msg.Voice.FileSize),
			Duration: uint32(msg.Voice.Duration),
		}
	case msg.Audio != nil:
		incoming.Type = channels.MessageAudio
		incoming.Media = &channels.MediaInfo{
			Type:     channels.MessageAudio,
			Ref:      msg.Audio.FileID,
			MimeType: msg.Audio.MimeType,
			FileSize: uint64(msg.Audio.FileSize),
			Duration: uint32(msg.Audio.Duration),
		}
	case len(msg.Photo) > 0:
		photo := msg.Photo[len(msg.Photo)-1]
		incoming.Type = channels.MessageImage
		incoming.Media = &channels.MediaInfo{Type: channels.MessageImage, Ref: photo.FileID, FileSize: uint64(photo.FileSize)}
	case msg.Video != nil:
		incoming.Type = channels.MessageVideo
		incoming.Media = &channels.MediaInfo{Type: channels.MessageVideo, Ref: msg.Video.FileID, MimeType: msg.Video.MimeType}
	case msg.Document != nil:
		incoming.Type = channels.MessageDocument
		incoming.Media = &channels.MediaInfo{
			Type:     channels.MessageDocument,
			Ref:      msg.Document.FileID,
			MimeType: msg.Document.MimeType,
			Filename: msg.Document.FileName,
			FileSize: uint64(msg.Document.FileSize),
		}
	case msg.Sticker != nil:
		incoming.Type = channels.MessageSticker
		incoming.Media = &channels.MediaInfo{Type: channels.MessageSticker, Ref: msg.Sticker.FileID}
	case len(msg.NewChatMembers) > 0 || msg.LeftChatMember != nil:
		incoming.Type = channels.MessageMembership
	}
	return incoming
}

// ---------- Telegram API Types ----------

type tgUpdate struct {
	UpdateID int64      `json:"update_id"`
	Message  *tgMessage `json:"message"`
}

type tgMessage struct {
	MessageID      int         `json:"message_id"`
	From           *tgUser     `json:"from"`
	Chat           tgChat      `json:"chat"`
	Date           int         `json:"date"`
	Text           string      `json:"text"`
	Caption        string      `json:"caption"`
	Photo          []tgFileRef `json:"photo"`
	Audio          *tgMedia    `json:"audio"`
	Voice          *tgMedia    `json:"voice"`
	Video          *tgMedia    `json:"video"`
	Document       *tgDocument `json:"document"`
	Sticker        *tgFileRef  `json:"sticker"`
	NewChatMembers []tgUser    `json:"new_chat_members"`
	LeftChatMember *tgUser     `json:"left_chat_member"`
}

type tgUser struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Username  string `json:"username"`
}

type tgChat struct {
	ID    int64  `json:"id"`
	Type  string `json:"type"` // "private", "group", "supergroup", "channel"
	Title string `json:"title"`
}

type tgFileRef struct {
	FileID   string `json:"file_id"`
	FileSize int    `json:"file_size"`
}

type tgMedia struct {
	FileID   string `json:"file_id"`
	Duration int    `json:"duration"`
	MimeType string `json:"mime_type"`
	FileSize int    `json:"file_size"`
}

type tgDocument struct {
	FileID   string `json:"file_id"`
	FileName string `json:"file_name"`
	MimeType string `json:"mime_type"`
	FileSize int    `json:"file_size"`
}

type tgFile struct {
	FileID   string `json:"file_id"`
	FilePath string `json:"file_path"`
}

// ---------- API Helpers ----------

func (t *Telegram) apiCall(ctx context.Context, method string, payload map[string]any) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("telegram: marshal %s: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/"+method, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("telegram: creating request for %s: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telegram: %s request failed: %w", method, err)
	}
	defer resp.Body.Close()
	return decodeResult(method, resp.Body)
}

func decodeResult(method string, r io.Reader) (json.RawMessage, error) {
	var result struct {
		OK          bool            `json:"ok"`
		Description string          `json:"description"`
		Result      json.RawMessage `json:"result"`
	}
	if err := json.NewDecoder(r).Decode(&result); err != nil {
		return nil, fmt.Errorf("telegram: decoding %s response: %w", method, err)
	}
	if !result.OK {
		return nil, fmt.Errorf("telegram: %s: %s", method, result.Description)
	}
	return result.Result, nil
}

func (t *Telegram) getMe(ctx context.Context) (*tgUser, error) {
	data, err := t.apiCall(ctx, "getMe", nil)
	if err != nil {
		return nil, err
	}
	var user tgUser
	if err := json.Unmarshal(data, &user); err != nil {
		return nil, fmt.Errorf("telegram: parsing getMe: %w", err)
	}
	return &user, nil
}

func (t *Telegram) getUpdates(ctx context.Context, offset int64, limit, timeoutSecs int) ([]tgUpdate, error) {
	data, err := t.apiCall(ctx, "getUpdates", map[string]any{
		"offset":          offset,
		"limit":           limit,
		"timeout":         timeoutSecs,
		"allowed_updates": []string{"message"},
	})
	if err != nil {
		return nil, err
	}
	var updates []tgUpdate
	if err := json.Unmarshal(data, &updates); err != nil {
		return nil, fmt.Errorf("telegram: parsing updates: %w", err)
	}
	return updates, nil
}

func (t *Telegram) getFile(ctx context.Context, fileID string) (*tgFile, error) {
	data, err := t.apiCall(ctx, "getFile", map[string]any{"file_id": fileID})
	if err != nil {
		return nil, err
	}
	var file tgFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("telegram: parsing getFile: %w", err)
	}
	return &file, nil
}

// uploadFile sends a file as multipart form data.
func (t *Telegram) uploadFile(ctx context.Context, method string, chatID int64, field string, media *channels.MediaMessage) error {
	if len(media.Data) == 0 {
		return fmt.Errorf("telegram: media data is required for upload")
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	_ = w.WriteField("chat_id", strconv.FormatInt(chatID, 10))
	if media.Caption != "" {
		_ = w.WriteField("caption", media.Caption)
	}
	if msgID, ok := parseMessageID(media.ReplyTo); ok {
		_ = w.WriteField("reply_to_message_id", strconv.FormatInt(msgID, 10))
	}

	filename := media.Filename
	if filename == "" {
		filename = "file"
	}
	part, err := w.CreateFormFile(field, filename)
	if err != nil {
		return fmt.Errorf("telegram: creating form file: %w", err)
	}
	if _, err := part.Write(media.Data); err != nil {
		return fmt.Errorf("telegram: writing file data: %w", err)
	}
	w.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/"+method, &buf)
	if err != nil {
		return fmt.Errorf("telegram: creating upload request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: upload failed: %w", err)
	}
	defer resp.Body.Close()

	_, err = decodeResult(method, resp.Body)
	return err
}

func parseMessageID(s string) (int64, bool) {
	if s == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(s, 10, 64)
	return id, err == nil
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// Compile-time interface verification.
var (
	_ channels.Channel         = (*Telegram)(nil)
	_ channels.MediaChannel    = (*Telegram)(nil)
	_ channels.PresenceChannel = (*Telegram)(nil)
	_ channels.AdminChannel    = (*Telegram)(nil)
)
