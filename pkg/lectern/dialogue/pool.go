// pool.go implementa o roteamento de conversas para sessões: uma sessão
// compartilhada por todo o processo (padrão) ou uma sessão por chat.
package dialogue

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Pool hands out the session that owns a conversation.
type Pool struct {
	cfg     Config
	load    LoadFunc
	connect Connector
	logger  *slog.Logger

	mu       sync.Mutex
	shared   *Session
	sessions map[string]*chatSession
}

// chatSession runs the first Init exactly once; callers racing on a new
// key wait for it instead of seeing an uninitialized session.
type chatSession struct {
	session *Session
	init    sync.Once
}

// Stats summarizes the pool for /status.
type Stats struct {
	Isolation   Isolation
	Sessions    int
	Ready       int
	Turns       int
	CorpusChars int
}

// NewPool creates a pool. Unknown isolation modes are rejected.
func NewPool(cfg Config, load LoadFunc, connect Connector, logger *slog.Logger) (*Pool, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.Isolation {
	case "":
		cfg.Isolation = IsolationShared
	case IsolationShared, IsolationPerChat:
	default:
		return nil, fmt.Errorf("unknown dialogue isolation %q", cfg.Isolation)
	}

	p := &Pool{
		cfg:      cfg,
		load:     load,
		connect:  connect,
		logger:   logger,
		sessions: make(map[string]*chatSession),
	}
	if cfg.Isolation == IsolationShared {
		p.shared = NewSession(cfg, load, connect, logger)
	}
	return p, nil
}

// Isolation returns the active mode.
func (p *Pool) Isolation() Isolation { return p.cfg.Isolation }

// Init initializes the shared session, or checks that the corpus loads
// when sessions are created per chat.
func (p *Pool) Init(ctx context.Context) bool {
	if p.shared != nil {
		return p.shared.Init(ctx)
	}
	if _, err := p.load(p.cfg.LecturePath); err != nil {
		p.logger.Error("failed to load lecture", "path", p.cfg.LecturePath, "error", err)
		return false
	}
	return true
}

// Get returns the session for a conversation key, creating and
// initializing it on first use in per-chat mode.
func (p *Pool) Get(ctx context.Context, key string) *Session {
	if p.shared != nil {
		return p.shared
	}

	p.mu.Lock()
	cs, ok := p.sessions[key]
	if !ok {
		cs = &chatSession{session: NewSession(p.cfg, p.load, p.connect, p.logger.With("chat", key))}
		p.sessions[key] = cs
	}
	p.mu.Unlock()

	cs.init.Do(func() { cs.session.Init(ctx) })
	return cs.session
}

// Reload reloads the session serving key.
func (p *Pool) Reload(ctx context.Context, key string) bool {
	return p.Get(ctx, key).Reload(ctx)
}

// ReloadAll reloads every live session. It reports false if any failed.
func (p *Pool) ReloadAll(ctx context.Context) bool {
	if p.shared != nil {
		return p.shared.Reload(ctx)
	}

	ok := true
	for _, s := range p.snapshot() {
		if !s.Reload(ctx) {
			ok = false
		}
	}
	return ok
}

// Stats reports session counts and total turns.
func (p *Pool) Stats() Stats {
	st := Stats{Isolation: p.cfg.Isolation}
	for _, s := range p.snapshot() {
		st.Sessions++
		if s.Ready() {
			st.Ready++
		}
		st.Turns += s.Len()
		if n := len([]rune(s.Corpus())); n > st.CorpusChars {
			st.CorpusChars = n
		}
	}
	return st
}

func (p *Pool) snapshot() []*Session {
	if p.shared != nil {
		return []*Session{p.shared}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	keys := make([]string, 0, len(p.sessions))
	for k := range p.sessions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]*Session, 0, len(keys))
	for _, k := range keys {
		out = append(out, p.sessions[k].session)
	}
	return out
}
