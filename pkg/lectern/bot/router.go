package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/jholhewres/lectern/pkg/lectern/channels"
	"github.com/jholhewres/lectern/pkg/lectern/dialogue"
	"github.com/jholhewres/lectern/pkg/lectern/journal"
	"github.com/jholhewres/lectern/pkg/lectern/report"
	"github.com/jholhewres/lectern/pkg/lectern/scheduler"
	"github.com/jholhewres/lectern/pkg/lectern/trigger"
)

// DefaultSenderName is used when the platform gave no display name.
const DefaultSenderName = "Слушатель"

// Fixed replies.
const (
	msgListening      = "%s, я слушаю! Задайте ваш вопрос по лекции.\nПамятка - /help"
	msgListeningVoice = "%s, я слушаю! Задайте ваш вопрос."
	msgRecognizing    = "%s, 🎤 распознаю ваше голосовое сообщение..."

	msgReloadDenied = "❌ Только администраторы группы могут перезагружать агента"
	msgReloading    = "🔄 Перезагружаю агента и сбрасываю историю..."
	msgReloaded     = "✅ Агент успешно перезагружен!"
	msgReloadFailed = "❌ Ошибка при перезагрузке агента"

	msgResetDenied = "❌ Только администраторы могут сбрасывать историю диалога"
	msgReset       = "🔄 История диалога сброшена. Можете задавать новые вопросы!"

	msgReportDenied = "❌ Только администраторы могут создавать отчёт"
	msgReportStart  = "📊 Начинаю создание отчёта по конференции...\nЭто может занять некоторое время."
	msgReportDone   = "✅ Отчёт успешно создан!\nФайл: %s"
	msgReportFailed = "❌ Не удалось создать PDF-файл с отчётом"

	msgSTTDenied = "❌ Только администраторы могут тестировать STT"
	msgSTTStart  = "🔄 Инициализирую STT модель...\nМодель: %s"
	msgSTTReady  = "✅ STT модель успешно загружена и готова к работе!"
	msgSTTFailed = "❌ Ошибка загрузки STT модели"

	msgStatusDenied = "❌ Только администраторы могут просматривать статус"
)

const statusTimeFormat = "02.01 15:04"

// journalExportName is the file name of the exported Q&A source.
const journalExportName = "Вопросы_слушателей.docx"

// Speech is the speech-to-text adapter as the router needs it.
type Speech interface {
	Transcribe(ctx context.Context, audioPath string) string
	Warm(ctx context.Context) error
	Ready() bool
}

// Reporter builds the conference report.
type Reporter interface {
	CreateReport(ctx context.Context, req report.Request) (*report.Result, error)
}

// Journal records answered questions.
type Journal interface {
	Record(ctx context.Context, e journal.Entry) (journal.Entry, error)
	Count(ctx context.Context) (int, error)
	ExportDOCX(ctx context.Context, path string) (int, error)
}

// Jobs reports the state of scheduled jobs.
type Jobs interface {
	Statuses() []scheduler.Status
}

// ChannelHealth reports chat platform connectivity.
type ChannelHealth interface {
	HealthAll() map[string]channels.HealthStatus
}

// RouterConfig wires the router's collaborators. Speech, Reporter,
// Journal, Jobs and Channels are optional.
type RouterConfig struct {
	Detector *trigger.Detector
	Sessions *dialogue.Pool
	Speech   Speech
	STTModel string
	Reporter Reporter
	Report   report.Config
	Journal  Journal
	Jobs     Jobs
	Channels ChannelHealth
}

// Router classifies events and produces replies.
type Router struct {
	cfg      RouterConfig
	logger   *slog.Logger
	reportMu sync.Mutex
}

// NewRouter creates a router.
func NewRouter(cfg RouterConfig, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Detector == nil {
		cfg.Detector = trigger.New(trigger.DefaultNames...)
	}
	return &Router{cfg: cfg, logger: logger.With("component", "router")}
}

// Route handles one event. A nil reply means the event is ignored.
func (r *Router) Route(ctx context.Context, ev *Event) *Reply {
	if ev.Kind == KindText && strings.HasPrefix(strings.TrimSpace(ev.Text), "/") {
		return r.HandleAdminCommand(ctx, ev)
	}

	switch ev.Kind {
	case KindText:
		return r.routeText(ctx, ev)
	case KindVoice:
		return r.routeVoice(ctx, ev)
	default:
		r.logger.Info("ignoring message", "kind", ev.Kind, "sender", ev.SenderName, "chat_id", ev.ChatID)
		return nil
	}
}

func (r *Router) routeText(ctx context.Context, ev *Event) *Reply {
	addressed, question := r.cfg.Detector.Detect(ev.Text)
	if !addressed {
		r.logger.Debug("ignoring message without address", "sender", ev.SenderName, "text", preview(ev.Text, 30))
		return nil
	}
	r.logger.Info("question received", "sender", ev.SenderName, "chat_id", ev.ChatID, "text", preview(ev.Text, 50))

	name := senderName(ev)
	if question == "" {
		return &Reply{Text: fmt.Sprintf(msgListening, name), ReplyTo: ev.MessageID}
	}
	return r.answer(ctx, ev, question)
}

// routeVoice answers an addressing caption directly; otherwise the voice
// note is transcribed and the transcript must carry the address.
func (r *Router) routeVoice(ctx context.Context, ev *Event) *Reply {
	name := senderName(ev)

	if ev.Caption != "" {
		if addressed, question := r.cfg.Detector.Detect(ev.Caption); addressed {
			r.logger.Info("voice note with addressing caption", "sender", ev.SenderName)
			if question == "" {
				return &Reply{Text: fmt.Sprintf(msgListeningVoice, name), ReplyTo: ev.MessageID}
			}
			return r.answer(ctx, ev, question)
		}
	}

	if r.cfg.Speech == nil {
		r.logger.Debug("ignoring voice note, speech recognition not configured")
		return nil
	}

	path := ev.VoicePath
	if path == "" && ev.FetchVoice != nil {
		var err error
		if path, err = ev.FetchVoice(ctx); err != nil {
			r.logger.Error("failed to fetch voice note", "sender", ev.SenderName, "error", err)
			return nil
		}
	}
	if path == "" {
		return nil
	}

	transcript := r.cfg.Speech.Transcribe(ctx, path)
	if transcript == "" {
		r.logger.Info("voice note not recognized, ignoring", "sender", ev.SenderName)
		return nil
	}
	r.logger.Info("voice note transcribed", "text", preview(transcript, 100))

	addressed, question := r.cfg.Detector.Detect(transcript)
	if !addressed {
		r.logger.Info("transcript not addressed to the bot, ignoring")
		return nil
	}
	ev.notify(fmt.Sprintf(msgRecognizing, name))
	if question == "" {
		return &Reply{Text: fmt.Sprintf(msgListeningVoice, name), ReplyTo: ev.MessageID}
	}
	return r.answer(ctx, ev, question)
}

func (r *Router) answer(ctx context.Context, ev *Event, question string) *Reply {
	ev.typing()
	answer := r.cfg.Sessions.Get(ctx, sessionKey(ev)).Ask(ctx, question)
	r.record(ctx, ev, question, answer)
	return &Reply{Text: senderName(ev) + ", " + answer, ReplyTo: ev.MessageID}
}

func (r *Router) record(ctx context.Context, ev *Event, question, answer string) {
	if r.cfg.Journal == nil {
		return
	}
	switch answer {
	case dialogue.MsgNotInitialized, dialogue.MsgTransportFailure, dialogue.MsgEmptyQuestion:
		return
	}
	_, err := r.cfg.Journal.Record(ctx, journal.Entry{
		Channel:  ev.Channel,
		ChatID:   ev.ChatID,
		Sender:   senderName(ev),
		Question: question,
		Answer:   answer,
	})
	if err != nil {
		r.logger.Warn("failed to record answer", "error", err)
	}
}

// HandleAdminCommand handles a slash command. Unknown commands are ignored.
func (r *Router) HandleAdminCommand(ctx context.Context, ev *Event) *Reply {
	reply := func(text string) *Reply { return &Reply{Text: text, ReplyTo: ev.MessageID} }

	cmd := ev.command()
	r.logger.Info("command received", "command", cmd, "sender", ev.SenderName, "admin", ev.IsAdmin)

	switch cmd {
	case "start":
		return &Reply{Text: r.startText()}
	case "help":
		return &Reply{Text: r.helpText()}

	case "reload":
		if !ev.IsAdmin {
			return reply(msgReloadDenied)
		}
		ev.notify(msgReloading)
		if r.cfg.Sessions.ReloadAll(ctx) {
			return reply(msgReloaded)
		}
		return reply(msgReloadFailed)

	case "reset":
		if !ev.IsAdmin {
			return reply(msgResetDenied)
		}
		r.cfg.Sessions.Reload(ctx, sessionKey(ev))
		return reply(msgReset)

	case "report":
		if !ev.IsAdmin {
			return reply(msgReportDenied)
		}
		ev.notify(msgReportStart)
		return r.makeReport(ctx, ev)

	case "test_stt":
		if !ev.IsAdmin {
			return reply(msgSTTDenied)
		}
		if r.cfg.Speech == nil {
			return reply(msgSTTFailed)
		}
		ev.notify(fmt.Sprintf(msgSTTStart, r.cfg.STTModel))
		if err := r.cfg.Speech.Warm(ctx); err != nil {
			r.logger.Error("stt warm-up failed", "error", err)
			return reply(msgSTTFailed)
		}
		return reply(msgSTTReady)

	case "status":
		if !ev.IsAdmin {
			return reply(msgStatusDenied)
		}
		return reply(r.statusText(ctx))

	default:
		r.logger.Debug("ignoring unknown command", "command", cmd)
		return nil
	}
}

func (r *Router) makeReport(ctx context.Context, ev *Event) *Reply {
	res, cleanup, err := r.BuildTransientReport(ctx)
	if err != nil {
		r.logger.Error("report failed", "error", err)
		return &Reply{Text: msgReportFailed, ReplyTo: ev.MessageID}
	}

	name := filepath.Base(res.OutputPath)
	return &Reply{
		Text:    fmt.Sprintf(msgReportDone, name),
		ReplyTo: ev.MessageID,
		File:    &File{Path: res.OutputPath, Name: name, Cleanup: cleanup},
	}
}

// BuildReport runs the report pipeline over the configured sources, plus
// the exported journal when enabled, and writes to report.output.
func (r *Router) BuildReport(ctx context.Context) (*report.Result, error) {
	return r.buildReport(ctx, r.cfg.Report.Output)
}

// BuildTransientReport is BuildReport for reports that are only delivered:
// the output is written into a fresh temp directory and the returned
// cleanup removes it. On error nothing is left behind.
func (r *Router) BuildTransientReport(ctx context.Context) (*report.Result, func(), error) {
	dir, err := os.MkdirTemp("", "lectern-report-*")
	if err != nil {
		return nil, nil, fmt.Errorf("creating report dir: %w", err)
	}
	cleanup := func() {
		if err := os.RemoveAll(dir); err != nil {
			r.logger.Warn("failed to remove report dir", "dir", dir, "error", err)
		}
	}

	name := filepath.Base(r.cfg.Report.Output)
	if name == "." || name == string(filepath.Separator) {
		name = filepath.Base(report.DefaultConfig().Output)
	}
	res, err := r.buildReport(ctx, filepath.Join(dir, name))
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return res, cleanup, nil
}

// buildReport serializes runs so exported journals and outputs never mix.
func (r *Router) buildReport(ctx context.Context, output string) (*report.Result, error) {
	if r.cfg.Reporter == nil {
		return nil, errors.New("no report pipeline configured")
	}

	r.reportMu.Lock()
	defer r.reportMu.Unlock()

	sources := append([]string(nil), r.cfg.Report.Sources...)
	if r.cfg.Report.IncludeJournal && r.cfg.Journal != nil {
		dir, err := os.MkdirTemp("", "lectern-journal-*")
		if err == nil {
			defer os.RemoveAll(dir)
			path := filepath.Join(dir, journalExportName)
			if n, err := r.cfg.Journal.ExportDOCX(ctx, path); err != nil {
				r.logger.Warn("journal export failed, continuing without it", "error", err)
			} else if n > 0 {
				sources = append(sources, path)
			}
		}
	}

	return r.cfg.Reporter.CreateReport(ctx, report.Request{Sources: sources, Output: output})
}

func (r *Router) startText() string {
	names := r.displayNames()
	example := "Гигачат"
	if len(names) > 0 {
		example = names[0]
	}
	return "👋 Привет! Я AI-ассистент спикера.\n\n" +
		"Я изучил текст выступления и готов отвечать на ваши вопросы.\n\n" +
		"❓Чтобы задать вопрос, обратитесь ко мне по имени.\n" +
		"Некоторые допустимые обращения: " + strings.Join(names, ", ") + ".\n\n" +
		"🎤 Вы также можете использовать аудиосообщения!\n\n" +
		"Пример: " + example + ", какие три новых простых правила жизни внутри компании ввел спикер?"
}

func (r *Router) helpText() string {
	return "📚 Как пользоваться ботом:\n\n" +
		"В группе обращайтесь к боту по имени: " + strings.Join(r.cfg.Detector.Names(), ", ") + "\n\n" +
		"Пример: Гигачат, какой основной вывод лекции?\n\n" +
		"• Агент отвечает только на текстовые и голосовые сообщения, которые начинаются с обращения.\n\n" +
		"• ИИ-агент работает строго по материалу спикера и не пользуется дополнительной информацией.\n\n" +
		"🔥 Доступные команды:\n" +
		"/start - начать работу\n" +
		"/help - справка\n" +
		"/reset - сбросить историю диалога (только для админов)\n" +
		"/reload - перезагрузить агента (только для админов)\n" +
		"/report - создать отчет по речи спикера (только для админов)\n" +
		"/test_stt - проверить распознавание речи (только для админов)\n" +
		"/status - состояние бота (только для админов)"
}

func (r *Router) statusText(ctx context.Context) string {
	st := r.cfg.Sessions.Stats()
	var b strings.Builder
	b.WriteString("📈 Состояние\n")
	fmt.Fprintf(&b, "Сессии: %d (готово: %d, режим: %s)\n", st.Sessions, st.Ready, st.Isolation)
	fmt.Fprintf(&b, "Реплик в истории: %d\n", st.Turns)
	fmt.Fprintf(&b, "Текст лекции: %d символов\n", st.CorpusChars)

	stt := "отключено"
	if r.cfg.Speech != nil {
		stt = "не загружено"
		if r.cfg.Speech.Ready() {
			stt = "готово"
		}
	}
	fmt.Fprintf(&b, "Распознавание речи: %s", stt)

	if r.cfg.Journal != nil {
		if n, err := r.cfg.Journal.Count(ctx); err == nil {
			fmt.Fprintf(&b, "\nЗаписей в журнале: %d", n)
		}
	}

	if r.cfg.Channels != nil {
		health := r.cfg.Channels.HealthAll()
		names := make([]string, 0, len(health))
		for name := range health {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			h := health[name]
			state := "подключён"
			if !h.Connected {
				state = "отключён"
			}
			fmt.Fprintf(&b, "\nКанал %s: %s", name, state)
			if h.ErrorCount > 0 {
				fmt.Fprintf(&b, ", ошибок: %d", h.ErrorCount)
			}
		}
	}

	if r.cfg.Jobs != nil {
		for _, job := range r.cfg.Jobs.Statuses() {
			fmt.Fprintf(&b, "\nЗадача %s (%s): запусков %d", job.Name, job.Schedule, job.RunCount)
			if job.Running {
				b.WriteString(", выполняется")
			}
			if !job.LastRunAt.IsZero() {
				fmt.Fprintf(&b, ", последний запуск %s", job.LastRunAt.Format(statusTimeFormat))
			}
			if job.LastError != "" {
				fmt.Fprintf(&b, ", ошибка: %s", preview(job.LastError, 200))
			}
			if !job.NextRunAt.IsZero() {
				fmt.Fprintf(&b, ", следующий %s", job.NextRunAt.Format(statusTimeFormat))
			}
		}
	}
	return b.String()
}

// displayNames dedupes the trigger names case-insensitively.
func (r *Router) displayNames() []string {
	seen := make(map[string]bool)
	var out []string
	for _, n := range r.cfg.Detector.Names() {
		key := strings.ToLower(n)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, n)
	}
	return out
}

func senderName(ev *Event) string {
	if name := strings.TrimSpace(ev.SenderName); name != "" {
		return name
	}
	return DefaultSenderName
}

func sessionKey(ev *Event) string {
	return ev.Channel + ":" + ev.ChatID
}

func preview(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
