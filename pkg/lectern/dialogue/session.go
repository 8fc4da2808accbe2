// Package dialogue keeps the closed-book conversation about one lecture:
// a system turn embedding the transcript followed by the question and
// answer turns, replayed in full on every question.
package dialogue

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jholhewres/lectern/pkg/lectern/llm"
)

// ErrNotInitialized marks use of a session that has no loaded corpus.
var ErrNotInitialized = errors.New("dialogue session not initialized")

// Turn is one role-tagged message of the transcript.
type Turn = llm.Message

// Completer answers a full transcript with one assistant message.
type Completer interface {
	Chat(ctx context.Context, messages []llm.Message) (string, error)
}

// Connector creates a fresh LLM client handle.
type Connector func() (Completer, error)

// LoadFunc reads the lecture corpus from a path (document.Load).
type LoadFunc func(path string) (string, error)

// Isolation selects how conversations share history.
type Isolation string

const (
	// IsolationShared keeps one process-wide history for every chat.
	IsolationShared Isolation = "shared"

	// IsolationPerChat gives each conversation its own history.
	IsolationPerChat Isolation = "per_chat"
)

// Config configures dialogue sessions.
type Config struct {
	// LecturePath is the transcript (.txt or .docx).
	LecturePath string `yaml:"lecture_path"`

	// Isolation is "shared" (default) or "per_chat".
	Isolation Isolation `yaml:"isolation"`

	// RollbackFailedTurns removes the question turn when the model call
	// fails, so an unanswered question does not stay in the history.
	RollbackFailedTurns bool `yaml:"rollback_failed_turns"`

	// WatchCorpus reloads every session when the transcript file changes.
	WatchCorpus bool `yaml:"watch_corpus"`

	// WatchDebounce groups bursts of file events into one reload.
	WatchDebounce time.Duration `yaml:"watch_debounce"`
}

// DefaultConfig returns the default dialogue configuration.
func DefaultConfig() Config {
	return Config{
		Isolation:     IsolationShared,
		WatchDebounce: 2 * time.Second,
	}
}

// Session is a single conversation grounded in one lecture corpus.
// Ask and Reload are serialized by mu so turns are appended in pairs.
// Fields below state are written with both locks held and read under state
// alone, so accessors never wait for an LLM call in flight.
type Session struct {
	cfg     Config
	load    LoadFunc
	connect Connector
	logger  *slog.Logger

	mu     sync.Mutex
	client Completer

	state  sync.RWMutex
	ready  bool
	corpus string
	turns  []Turn
}

// NewSession creates an uninitialized session. Call Init before Ask.
func NewSession(cfg Config, load LoadFunc, connect Connector, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		cfg:     cfg,
		load:    load,
		connect: connect,
		logger:  logger.With("component", "dialogue"),
	}
}

// Init loads the corpus, connects the client and resets the history to
// the single system turn. It reports success instead of returning an error.
func (s *Session) Init(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initLocked(ctx)
}

func (s *Session) initLocked(_ context.Context) bool {
	s.state.Lock()
	s.ready = false
	s.turns = nil
	s.state.Unlock()

	corpus, err := s.load(s.cfg.LecturePath)
	if err != nil {
		s.logger.Error("failed to load lecture", "path", s.cfg.LecturePath, "error", err)
		return false
	}

	client, err := s.connect()
	if err != nil {
		s.logger.Error("failed to connect LLM client", "error", err)
		return false
	}

	s.client = client
	s.state.Lock()
	s.corpus = corpus
	s.turns = []Turn{{Role: llm.RoleSystem, Content: SystemPrompt(corpus)}}
	s.ready = true
	s.state.Unlock()

	s.logger.Info("session initialized",
		"path", s.cfg.LecturePath,
		"corpus_chars", len([]rune(corpus)),
	)
	return true
}

// Ask appends the question, sends the whole history and appends the answer.
// Failures are reported as fixed user-facing strings.
func (s *Session) Ask(ctx context.Context, question string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.ready {
		s.logger.Warn("question before initialization", "error", ErrNotInitialized)
		return MsgNotInitialized
	}
	if strings.TrimSpace(question) == "" {
		return MsgEmptyQuestion
	}

	s.state.Lock()
	s.turns = append(s.turns, Turn{Role: llm.RoleUser, Content: question})
	transcript := make([]Turn, len(s.turns))
	copy(transcript, s.turns)
	s.state.Unlock()

	start := time.Now()
	answer, err := s.client.Chat(ctx, transcript)
	if err != nil {
		s.logger.Error("LLM call failed",
			"error", err,
			"turns", len(transcript),
			"rollback", s.cfg.RollbackFailedTurns,
		)
		if s.cfg.RollbackFailedTurns {
			s.state.Lock()
			s.turns = s.turns[:len(s.turns)-1]
			s.state.Unlock()
		}
		return MsgTransportFailure
	}

	s.state.Lock()
	s.turns = append(s.turns, Turn{Role: llm.RoleAssistant, Content: answer})
	turns := len(s.turns)
	s.state.Unlock()
	s.logger.Debug("question answered",
		"turns", turns,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return answer
}

// Reload releases the current client (errors are only logged) and runs
// Init again with the same corpus path.
func (s *Session) Reload(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if closer, ok := s.client.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			s.logger.Warn("failed to close LLM client", "error", err)
		}
	}
	s.client = nil
	return s.initLocked(ctx)
}

// Ready reports whether the last Init or Reload succeeded.
func (s *Session) Ready() bool {
	s.state.RLock()
	defer s.state.RUnlock()
	return s.ready
}

// History returns a copy of the turns.
func (s *Session) History() []Turn {
	s.state.RLock()
	defer s.state.RUnlock()
	out := make([]Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

// Len returns the number of turns, system turn included.
func (s *Session) Len() int {
	s.state.RLock()
	defer s.state.RUnlock()
	return len(s.turns)
}

// Corpus returns the loaded lecture text.
func (s *Session) Corpus() string {
	s.state.RLock()
	defer s.state.RUnlock()
	return s.corpus
}
