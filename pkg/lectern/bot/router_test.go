package bot

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jholhewres/lectern/pkg/lectern/channels"
	"github.com/jholhewres/lectern/pkg/lectern/dialogue"
	"github.com/jholhewres/lectern/pkg/lectern/journal"
	"github.com/jholhewres/lectern/pkg/lectern/llm"
	"github.com/jholhewres/lectern/pkg/lectern/report"
	"github.com/jholhewres/lectern/pkg/lectern/scheduler"
	"github.com/jholhewres/lectern/pkg/lectern/trigger"
)

type echoLLM struct {
	mu        sync.Mutex
	questions []string
	err       error
}

func (e *echoLLM) Chat(_ context.Context, messages []llm.Message) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return "", e.err
	}
	q := messages[len(messages)-1].Content
	e.questions = append(e.questions, q)
	return "ответ на «" + q + "»", nil
}

type stubSpeech struct {
	transcript string
	warmErr    error
	ready      bool
	paths      []string
}

func (s *stubSpeech) Transcribe(_ context.Context, path string) string {
	s.paths = append(s.paths, path)
	return s.transcript
}

func (s *stubSpeech) Warm(context.Context) error {
	if s.warmErr == nil {
		s.ready = true
	}
	return s.warmErr
}

func (s *stubSpeech) Ready() bool { return s.ready }

type stubReporter struct {
	req  report.Request
	res  *report.Result
	err  error
	seen []string
}

func (s *stubReporter) CreateReport(_ context.Context, req report.Request) (*report.Result, error) {
	s.req = req
	for _, p := range req.Sources {
		if _, err := os.Stat(p); err == nil {
			s.seen = append(s.seen, filepath.Base(p))
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	if err := os.WriteFile(req.Output, []byte("%PDF-1.4"), 0o644); err != nil {
		return nil, err
	}
	res := *s.res
	res.OutputPath = req.Output
	return &res, nil
}

type memJournal struct {
	entries []journal.Entry
}

func (m *memJournal) Record(_ context.Context, e journal.Entry) (journal.Entry, error) {
	m.entries = append(m.entries, e)
	return e, nil
}

func (m *memJournal) Count(context.Context) (int, error) { return len(m.entries), nil }

func (m *memJournal) ExportDOCX(_ context.Context, path string) (int, error) {
	return len(m.entries), os.WriteFile(path, []byte("docx"), 0o644)
}

type fixture struct {
	router   *Router
	llm      *echoLLM
	speech   *stubSpeech
	reporter *stubReporter
	journal  *memJournal
	pool     *dialogue.Pool
}

func newFixture(t *testing.T, isolation dialogue.Isolation) *fixture {
	t.Helper()
	f := &fixture{
		llm:      &echoLLM{},
		speech:   &stubSpeech{},
		reporter: &stubReporter{res: &report.Result{SummaryText: "итоги"}},
		journal:  &memJournal{},
	}
	cfg := dialogue.DefaultConfig()
	cfg.Isolation = isolation
	pool, err := dialogue.NewPool(cfg,
		func(string) (string, error) { return "текст лекции", nil },
		func() (dialogue.Completer, error) { return f.llm, nil },
		nil,
	)
	if err != nil {
		t.Fatal(err)
	}
	if !pool.Init(context.Background()) {
		t.Fatal("pool Init() = false")
	}
	f.pool = pool

	rc := report.DefaultConfig()
	rc.Sources = []string{"transcript.docx"}
	f.router = NewRouter(RouterConfig{
		Detector: trigger.New(trigger.DefaultNames...),
		Sessions: pool,
		Speech:   f.speech,
		STTModel: "whisper-1",
		Reporter: f.reporter,
		Report:   rc,
		Journal:  f.journal,
	}, nil)
	return f
}

func textEvent(text string) *Event {
	return &Event{Channel: "telegram", ChatID: "-100", MessageID: "7", SenderName: "Анна", IsGroup: true, Kind: KindText, Text: text}
}

func TestRouter_Text(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		sender string
		want   string
	}{
		{"addressed question", "Гигачат, какие правила?", "Анна", "Анна, ответ на «какие правила?»"},
		{"at mention", "@giga что нового", "Анна", "Анна, ответ на «что нового»"},
		{"name only", "Гига!", "Анна", "Анна, я слушаю! Задайте ваш вопрос по лекции.\nПамятка - /help"},
		{"sender fallback", "giga вопрос", "", "Слушатель, ответ на «вопрос»"},
		{"not addressed", "какие правила?", "Анна", ""},
		{"name not first", "скажи, гигачат, что там", "Анна", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, dialogue.IsolationShared)
			ev := textEvent(tt.text)
			ev.SenderName = tt.sender

			got := f.router.Route(context.Background(), ev)
			if tt.want == "" {
				if got != nil {
					t.Errorf("Route() = %q, want nil", got.Text)
				}
				return
			}
			if got == nil {
				t.Fatal("Route() = nil")
			}
			if got.Text != tt.want {
				t.Errorf("Route() = %q, want %q", got.Text, tt.want)
			}
			if got.ReplyTo != "7" {
				t.Errorf("ReplyTo = %q, want 7", got.ReplyTo)
			}
		})
	}
}

func TestRouter_IgnoredKinds(t *testing.T) {
	f := newFixture(t, dialogue.IsolationShared)
	for _, kind := range []Kind{KindPhoto, KindSticker, KindDocument, KindMembership, KindOther} {
		ev := textEvent("Гигачат, вопрос")
		ev.Kind = kind
		if got := f.router.Route(context.Background(), ev); got != nil {
			t.Errorf("Route(%s) = %q, want nil", kind, got.Text)
		}
	}
	if len(f.llm.questions) != 0 {
		t.Errorf("LLM called for ignored kinds: %v", f.llm.questions)
	}
}

func TestRouter_Voice(t *testing.T) {
	tests := []struct {
		name       string
		caption    string
		transcript string
		want       string
		wantSTT    bool
		wantNotice bool
	}{
		{name: "caption question", caption: "Гигачат, что сказал спикер?", want: "Анна, ответ на «что сказал спикер?»"},
		{name: "caption name only", caption: "Гига", want: "Анна, я слушаю! Задайте ваш вопрос."},
		{name: "transcript question", transcript: "Гигачат какие выводы", want: "Анна, ответ на «какие выводы»", wantSTT: true, wantNotice: true},
		{name: "transcript name only", transcript: "гига", want: "Анна, я слушаю! Задайте ваш вопрос.", wantSTT: true, wantNotice: true},
		{name: "transcript not addressed", transcript: "просто разговор", wantSTT: true},
		{name: "nothing recognized", transcript: "", wantSTT: true},
		{name: "unaddressed caption falls back to speech", caption: "послушайте", transcript: "Гига итоги", want: "Анна, ответ на «итоги»", wantSTT: true, wantNotice: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, dialogue.IsolationShared)
			f.speech.transcript = tt.transcript

			var notices []string
			ev := &Event{
				Channel: "telegram", ChatID: "-100", MessageID: "9", SenderName: "Анна",
				Kind: KindVoice, Caption: tt.caption, VoicePath: "/tmp/voice.ogg",
				Notify: func(s string) { notices = append(notices, s) },
			}
			got := f.router.Route(context.Background(), ev)

			if tt.want == "" {
				if got != nil {
					t.Errorf("Route() = %q, want nil", got.Text)
				}
			} else if got == nil || got.Text != tt.want {
				t.Errorf("Route() = %v, want %q", got, tt.want)
			}
			if (len(f.speech.paths) > 0) != tt.wantSTT {
				t.Errorf("transcribed = %v, want %v", f.speech.paths, tt.wantSTT)
			}
			if (len(notices) > 0) != tt.wantNotice {
				t.Errorf("notices = %v, want notice %v", notices, tt.wantNotice)
			}
		})
	}
}

func TestRouter_VoiceFetch(t *testing.T) {
	f := newFixture(t, dialogue.IsolationShared)
	f.speech.transcript = "гигачат вопрос"

	ev := &Event{Channel: "telegram", ChatID: "1", Kind: KindVoice,
		FetchVoice: func(context.Context) (string, error) { return "/tmp/fetched.ogg", nil }}
	if got := f.router.Route(context.Background(), ev); got == nil {
		t.Fatal("Route() = nil")
	}
	if len(f.speech.paths) != 1 || f.speech.paths[0] != "/tmp/fetched.ogg" {
		t.Errorf("transcribed paths = %v", f.speech.paths)
	}

	ev.FetchVoice = func(context.Context) (string, error) { return "", errors.New("download failed") }
	if got := f.router.Route(context.Background(), ev); got != nil {
		t.Errorf("Route() after failed download = %q, want nil", got.Text)
	}
}

func TestRouter_JournalRecording(t *testing.T) {
	f := newFixture(t, dialogue.IsolationShared)
	ctx := context.Background()

	f.router.Route(ctx, textEvent("Гигачат, первый"))
	f.router.Route(ctx, textEvent("Гигачат"))
	f.llm.err = errors.New("down")
	f.router.Route(ctx, textEvent("Гигачат, второй"))

	if len(f.journal.entries) != 1 {
		t.Fatalf("journal entries = %d, want 1", len(f.journal.entries))
	}
	e := f.journal.entries[0]
	if e.Question != "первый" || e.Sender != "Анна" || e.ChatID != "-100" {
		t.Errorf("entry = %+v", e)
	}
}

func TestRouter_SharedHistory(t *testing.T) {
	f := newFixture(t, dialogue.IsolationShared)
	ctx := context.Background()

	a := textEvent("Гигачат, раз")
	b := textEvent("Гигачат, два")
	b.ChatID = "-200"
	f.router.Route(ctx, a)
	f.router.Route(ctx, b)

	if st := f.pool.Stats(); st.Sessions != 1 || st.Turns != 5 {
		t.Errorf("Stats() = %+v, want one session with 5 turns", st)
	}
}

func TestRouter_Commands(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		admin    bool
		want     string
		contains string
	}{
		{name: "start", text: "/start", contains: "Привет! Я AI-ассистент спикера"},
		{name: "help with bot suffix", text: "/help@lecture_bot", contains: "Гигачат, гигачат, Гига"},
		{name: "reload denied", text: "/reload", want: "❌ Только администраторы группы могут перезагружать агента"},
		{name: "reload", text: "/reload", admin: true, want: "✅ Агент успешно перезагружен!"},
		{name: "reset denied", text: "/reset", want: "❌ Только администраторы могут сбрасывать историю диалога"},
		{name: "reset", text: "/reset", admin: true, want: "🔄 История диалога сброшена. Можете задавать новые вопросы!"},
		{name: "report denied", text: "/report", want: "❌ Только администраторы могут создавать отчёт"},
		{name: "report", text: "/report", admin: true, want: "✅ Отчёт успешно создан!\nФайл: Отчёт_по_конференции.pdf"},
		{name: "stt denied", text: "/test_stt", want: "❌ Только администраторы могут тестировать STT"},
		{name: "stt", text: "/test_stt", admin: true, want: "✅ STT модель успешно загружена и готова к работе!"},
		{name: "status", text: "/status", admin: true, contains: "Сессии: 1"},
		{name: "unknown", text: "/weather"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, dialogue.IsolationShared)
			ev := textEvent(tt.text)
			ev.IsAdmin = tt.admin

			got := f.router.Route(context.Background(), ev)
			if tt.want == "" && tt.contains == "" {
				if got != nil {
					t.Errorf("Route() = %q, want nil", got.Text)
				}
				return
			}
			if got == nil {
				t.Fatal("Route() = nil")
			}
			if tt.want != "" && got.Text != tt.want {
				t.Errorf("Route() = %q, want %q", got.Text, tt.want)
			}
			if tt.contains != "" && !strings.Contains(got.Text, tt.contains) {
				t.Errorf("Route() = %q, want it to contain %q", got.Text, tt.contains)
			}
		})
	}
}

func TestRouter_ResetClearsHistory(t *testing.T) {
	f := newFixture(t, dialogue.IsolationPerChat)
	ctx := context.Background()

	f.router.Route(ctx, textEvent("Гигачат, вопрос"))
	other := textEvent("Гигачат, другой")
	other.ChatID = "-200"
	f.router.Route(ctx, other)

	reset := textEvent("/reset")
	reset.IsAdmin = true
	f.router.Route(ctx, reset)

	if got := f.pool.Get(ctx, "telegram:-100").Len(); got != 1 {
		t.Errorf("reset chat history Len() = %d, want 1", got)
	}
	if got := f.pool.Get(ctx, "telegram:-200").Len(); got != 3 {
		t.Errorf("other chat history Len() = %d, want 3", got)
	}
}

func TestRouter_Report(t *testing.T) {
	f := newFixture(t, dialogue.IsolationShared)
	f.router.cfg.Report.IncludeJournal = true
	ctx := context.Background()

	var notices []string
	ev := textEvent("/report")
	ev.IsAdmin = true
	ev.Notify = func(s string) { notices = append(notices, s) }

	f.router.Route(ctx, textEvent("Гигачат, вопрос"))
	got := f.router.Route(ctx, ev)
	if got == nil || got.File == nil {
		t.Fatalf("Route(/report) = %+v, want a file reply", got)
	}
	if got.File.Name != "Отчёт_по_конференции.pdf" {
		t.Errorf("File.Name = %q", got.File.Name)
	}
	if len(notices) != 1 || !strings.HasPrefix(notices[0], "📊 Начинаю создание отчёта") {
		t.Errorf("notices = %v", notices)
	}
	if len(f.reporter.req.Sources) != 2 || f.reporter.req.Sources[0] != "transcript.docx" {
		t.Errorf("sources = %v", f.reporter.req.Sources)
	}
	if len(f.reporter.seen) != 1 || f.reporter.seen[0] != journalExportName {
		t.Errorf("journal export not passed while reporting: %v", f.reporter.seen)
	}
	if _, err := os.Stat(f.reporter.req.Sources[1]); !os.IsNotExist(err) {
		t.Error("journal export left behind")
	}
	if _, err := os.Stat(got.File.Path); err != nil {
		t.Fatalf("report missing before delivery: %v", err)
	}
	if got.File.Cleanup == nil {
		t.Fatal("File.Cleanup = nil for a chat report")
	}
	got.File.Cleanup()
	if _, err := os.Stat(filepath.Dir(got.File.Path)); !os.IsNotExist(err) {
		t.Errorf("report dir still on disk after cleanup: %s", filepath.Dir(got.File.Path))
	}

	f.reporter.err = errors.New("soffice missing")
	got = f.router.Route(ctx, ev)
	if got == nil || got.File != nil || got.Text != "❌ Не удалось создать PDF-файл с отчётом" {
		t.Errorf("Route(/report) failure = %+v", got)
	}
}

func TestRouter_STTWarmFailure(t *testing.T) {
	f := newFixture(t, dialogue.IsolationShared)
	f.speech.warmErr = errors.New("no key")
	ev := textEvent("/test_stt")
	ev.IsAdmin = true
	if got := f.router.Route(context.Background(), ev); got == nil || got.Text != "❌ Ошибка загрузки STT модели" {
		t.Errorf("Route(/test_stt) = %+v", got)
	}
}

func TestRouter_BuildReportWithoutPipeline(t *testing.T) {
	f := newFixture(t, dialogue.IsolationShared)
	f.router.cfg.Reporter = nil

	if _, err := f.router.BuildReport(context.Background()); err == nil {
		t.Error("BuildReport() error = nil without a pipeline")
	}
	ev := textEvent("/report")
	ev.IsAdmin = true
	if got := f.router.Route(context.Background(), ev); got == nil || got.Text != "❌ Не удалось создать PDF-файл с отчётом" {
		t.Errorf("Route(/report) = %+v", got)
	}
}

func TestRouter_BuildReportKeepsNamedOutput(t *testing.T) {
	f := newFixture(t, dialogue.IsolationShared)
	out := filepath.Join(t.TempDir(), "итоги.pdf")
	f.router.cfg.Report.Output = out

	res, err := f.router.BuildReport(context.Background())
	if err != nil {
		t.Fatalf("BuildReport() error = %v", err)
	}
	if res.OutputPath != out {
		t.Errorf("OutputPath = %q, want %q", res.OutputPath, out)
	}
	if _, err := os.Stat(out); err != nil {
		t.Errorf("named output missing: %v", err)
	}

	res, cleanup, err := f.router.BuildTransientReport(context.Background())
	if err != nil {
		t.Fatalf("BuildTransientReport() error = %v", err)
	}
	if filepath.Base(res.OutputPath) != "итоги.pdf" || filepath.Dir(res.OutputPath) == filepath.Dir(out) {
		t.Errorf("transient OutputPath = %q", res.OutputPath)
	}
	cleanup()
	if _, err := os.Stat(res.OutputPath); !os.IsNotExist(err) {
		t.Errorf("transient report still on disk: %s", res.OutputPath)
	}
}

type stubJobs []scheduler.Status

func (s stubJobs) Statuses() []scheduler.Status { return s }

type stubHealth map[string]channels.HealthStatus

func (s stubHealth) HealthAll() map[string]channels.HealthStatus { return s }

func TestRouter_StatusJobsAndChannels(t *testing.T) {
	f := newFixture(t, dialogue.IsolationShared)
	last := time.Date(2026, 10, 16, 18, 0, 0, 0, time.UTC)
	f.router.cfg.Jobs = stubJobs{{
		Name:      "report",
		Schedule:  "0 18 * * 5",
		RunCount:  2,
		LastRunAt: last,
		LastError: "building report: soffice missing",
	}}
	f.router.cfg.Channels = stubHealth{
		"telegram": {Connected: true},
		"discord":  {Connected: false, ErrorCount: 3},
	}

	ev := textEvent("/status")
	ev.IsAdmin = true
	got := f.router.Route(context.Background(), ev)
	if got == nil {
		t.Fatal("Route(/status) = nil")
	}
	for _, want := range []string{
		"Канал discord: отключён, ошибок: 3\nКанал telegram: подключён",
		"Текст лекции: 12 символов",
		"Задача report (0 18 * * 5): запусков 2",
		"последний запуск 16.10 18:00",
		"ошибка: building report: soffice missing",
	} {
		if !strings.Contains(got.Text, want) {
			t.Errorf("status missing %q:\n%s", want, got.Text)
		}
	}
}
