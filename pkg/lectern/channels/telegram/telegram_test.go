package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jholhewres/lectern/pkg/lectern/channels"
)

type fakeBotAPI struct {
	mu          sync.Mutex
	memberCalls atomic.Int32
	sent        []map[string]any
	uploads     []string
	status      string
}

func (f *fakeBotAPI) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ok := func(result any) {
			json.NewEncoder(w).Encode(map[string]any{"ok": true, "result": result})
		}
		switch {
		case strings.HasSuffix(r.URL.Path, "/getMe"):
			ok(map[string]any{"id": 1, "is_bot": true, "username": "lecture_bot"})
		case strings.HasSuffix(r.URL.Path, "/deleteWebhook"):
			ok(true)
		case strings.HasSuffix(r.URL.Path, "/getUpdates"):
			time.Sleep(20 * time.Millisecond)
			ok([]any{})
		case strings.HasSuffix(r.URL.Path, "/getChatMember"):
			f.memberCalls.Add(1)
			f.mu.Lock()
			status := f.status
			f.mu.Unlock()
			ok(map[string]any{"status": status})
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			var payload map[string]any
			if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
				t.Errorf("decode sendMessage: %v", err)
				return
			}
			f.mu.Lock()
			f.sent = append(f.sent, payload)
			f.mu.Unlock()
			ok(map[string]any{"message_id": 99})
		case strings.HasSuffix(r.URL.Path, "/sendDocument"):
			file, hdr, err := r.FormFile("document")
			if err != nil {
				t.Errorf("sendDocument without file: %v", err)
				return
			}
			data, _ := io.ReadAll(file)
			f.mu.Lock()
			f.uploads = append(f.uploads, fmt.Sprintf("%s|%s|%s|%s", r.FormValue("chat_id"), hdr.Filename, r.FormValue("caption"), data))
			f.mu.Unlock()
			ok(map[string]any{"message_id": 100})
		case strings.HasSuffix(r.URL.Path, "/getFile"):
			ok(map[string]any{"file_id": "voice-1", "file_path": "voice/file_1.oga"})
		case strings.HasSuffix(r.URL.Path, "/file/botTOKEN/voice/file_1.oga"):
			w.Write([]byte("OGGDATA"))
		default:
			json.NewEncoder(w).Encode(map[string]any{"ok": false, "description": "unknown method"})
		}
	})
}

func connectTest(t *testing.T, api *fakeBotAPI) *Telegram {
	t.Helper()
	srv := httptest.NewServer(api.handler(t))
	t.Cleanup(srv.Close)

	cfg := DefaultConfig()
	cfg.Token = "TOKEN"
	cfg.APIURL = srv.URL
	tg := New(cfg, nil)
	if err := tg.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { tg.Disconnect() })
	return tg
}

func TestTelegram_ConnectRequiresToken(t *testing.T) {
	tg := New(DefaultConfig(), nil)
	if err := tg.Connect(context.Background()); err == nil {
		t.Error("Connect() without token = nil, want error")
	}
}

func TestTelegram_IsAdmin(t *testing.T) {
	api := &fakeBotAPI{status: "administrator"}
	tg := connectTest(t, api)
	ctx := context.Background()

	got, err := tg.IsAdmin(ctx, "-100", "42")
	if err != nil || !got {
		t.Fatalf("IsAdmin() = %v, %v, want true", got, err)
	}
	if _, err := tg.IsAdmin(ctx, "-100", "42"); err != nil {
		t.Fatal(err)
	}
	if n := api.memberCalls.Load(); n != 1 {
		t.Errorf("getChatMember calls = %d, want 1 (cached)", n)
	}

	private, err := tg.IsAdmin(ctx, "42", "42")
	if err != nil || !private {
		t.Errorf("IsAdmin(private) = %v, %v, want true", private, err)
	}
	if n := api.memberCalls.Load(); n != 1 {
		t.Errorf("private chat hit getChatMember")
	}

	api.mu.Lock()
	api.status = "member"
	api.mu.Unlock()
	got, err = tg.IsAdmin(ctx, "-100", "7")
	if err != nil || got {
		t.Errorf("IsAdmin(member) = %v, %v, want false", got, err)
	}
}

func TestTelegram_SendAndUpload(t *testing.T) {
	api := &fakeBotAPI{}
	tg := connectTest(t, api)
	ctx := context.Background()

	if err := tg.Send(ctx, "-100", &channels.OutgoingMessage{Content: "Анна, ответ", ReplyTo: "5"}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	api.mu.Lock()
	if len(api.sent) != 1 || api.sent[0]["text"] != "Анна, ответ" {
		t.Errorf("sent = %v", api.sent)
	}
	if _, ok := api.sent[0]["reply_parameters"]; !ok {
		t.Error("reply_parameters missing")
	}
	api.mu.Unlock()

	long := strings.Repeat("я", maxMessageLen+10)
	if err := tg.Send(ctx, "-100", &channels.OutgoingMessage{Content: long, ReplyTo: "5"}); err != nil {
		t.Fatalf("Send(long) error = %v", err)
	}
	api.mu.Lock()
	if len(api.sent) != 3 {
		t.Errorf("sent %d messages, want 3", len(api.sent))
	} else if _, ok := api.sent[2]["reply_parameters"]; ok {
		t.Error("second chunk should not be a reply")
	}
	api.mu.Unlock()

	err := tg.SendMedia(ctx, "-100", &channels.MediaMessage{
		Type:     channels.MessageDocument,
		Data:     []byte("%PDF"),
		Filename: "report.pdf",
		Caption:  "готово",
	})
	if err != nil {
		t.Fatalf("SendMedia() error = %v", err)
	}
	api.mu.Lock()
	defer api.mu.Unlock()
	if len(api.uploads) != 1 || api.uploads[0] != "-100|report.pdf|готово|%PDF" {
		t.Errorf("uploads = %v", api.uploads)
	}
}

func TestTelegram_DownloadMedia(t *testing.T) {
	tg := connectTest(t, &fakeBotAPI{})
	msg := &channels.IncomingMessage{Media: &channels.MediaInfo{Ref: "voice-1", MimeType: "audio/ogg"}}

	data, mime, err := tg.DownloadMedia(context.Background(), msg)
	if err != nil {
		t.Fatalf("DownloadMedia() error = %v", err)
	}
	if string(data) != "OGGDATA" || mime != "audio/ogg" {
		t.Errorf("DownloadMedia() = %q, %q", data, mime)
	}

	if _, _, err := tg.DownloadMedia(context.Background(), &channels.IncomingMessage{}); err == nil {
		t.Error("DownloadMedia() without media = nil error")
	}
}

func TestTelegram_ConvertUpdate(t *testing.T) {
	user := &tgUser{ID: 42, FirstName: "Анна", Username: "anna"}
	group := tgChat{ID: -100, Type: "supergroup"}

	tests := []struct {
		name     string
		cfg      func(*Config)
		msg      *tgMessage
		wantNil  bool
		wantType channels.MessageType
		wantName string
		wantText string
	}{
		{
			name:     "group text",
			msg:      &tgMessage{MessageID: 1, From: user, Chat: group, Text: "Гига, вопрос"},
			wantType: channels.MessageText,
			wantName: "Анна",
			wantText: "Гига, вопрос",
		},
		{
			name:     "voice with caption",
			msg:      &tgMessage{MessageID: 2, From: user, Chat: group, Caption: "Гига", Voice: &tgMedia{FileID: "v"}},
			wantType: channels.MessageVoice,
			wantName: "Анна",
			wantText: "Гига",
		},
		{
			name:     "username fallback",
			msg:      &tgMessage{MessageID: 3, From: &tgUser{ID: 7, Username: "nick"}, Chat: group, Text: "x"},
			wantType: channels.MessageText,
			wantName: "nick",
			wantText: "x",
		},
		{
			name:     "member joined",
			msg:      &tgMessage{MessageID: 4, From: user, Chat: group, NewChatMembers: []tgUser{{ID: 9}}},
			wantType: channels.MessageMembership,
			wantName: "Анна",
		},
		{
			name:     "sticker",
			msg:      &tgMessage{MessageID: 5, From: user, Chat: group, Sticker: &tgFileRef{FileID: "s"}},
			wantType: channels.MessageSticker,
			wantName: "Анна",
		},
		{
			name:    "chat not allowed",
			cfg:     func(c *Config) { c.AllowedChats = []int64{-5} },
			msg:     &tgMessage{MessageID: 6, From: user, Chat: group, Text: "x"},
			wantNil: true,
		},
		{
			name:    "dms disabled",
			cfg:     func(c *Config) { c.RespondToDMs = false },
			msg:     &tgMessage{MessageID: 7, From: user, Chat: tgChat{ID: 42, Type: "private"}, Text: "x"},
			wantNil: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			if tt.cfg != nil {
				tt.cfg(&cfg)
			}
			tg := New(cfg, nil)
			got := tg.convertUpdate(tgUpdate{UpdateID: 1, Message: tt.msg})
			if tt.wantNil {
				if got != nil {
					t.Errorf("convertUpdate() = %+v, want nil", got)
				}
				return
			}
			if got == nil {
				t.Fatal("convertUpdate() = nil")
			}
			if got.Type != tt.wantType || got.FromName != tt.wantName || got.Content != tt.wantText {
				t.Errorf("convertUpdate() = type %q name %q text %q", got.Type, got.FromName, got.Content)
			}
		})
	}

	tg := New(DefaultConfig(), nil)
	if got := tg.convertUpdate(tgUpdate{UpdateID: 1}); got != nil {
		t.Errorf("convertUpdate(no message) = %+v, want nil", got)
	}
}
