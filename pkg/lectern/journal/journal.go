// Package journal keeps an append-only record of answered questions in a
// SQLite file. The report pipeline can fold the recorded Q&A back in as an
// extra source document.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite driver.

	"github.com/jholhewres/lectern/pkg/lectern/document"
)

const schema = `
CREATE TABLE IF NOT EXISTS qa_entries (
    id         TEXT PRIMARY KEY,
    channel    TEXT DEFAULT '',
    chat_id    TEXT DEFAULT '',
    sender     TEXT DEFAULT '',
    question   TEXT NOT NULL,
    answer     TEXT NOT NULL,
    created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_qa_entries_created ON qa_entries(created_at);
`

// Config configures the journal.
type Config struct {
	// Enabled turns recording on. Off by default.
	Enabled bool `yaml:"enabled"`

	// Path is the SQLite file. Defaults to ./data/journal.db.
	Path string `yaml:"path"`
}

// Entry is one answered question.
type Entry struct {
	ID        string
	Channel   string
	ChatID    string
	Sender    string
	Question  string
	Answer    string
	CreatedAt time.Time
}

// Store is the SQLite-backed journal.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (or creates) the journal database at path.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if path == "" {
		path = "./data/journal.db"
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create journal directory %q: %w", dir, err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open journal %q: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping journal: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create journal schema: %w", err)
	}

	return &Store{db: db, logger: logger.With("component", "journal")}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record appends an entry. ID and CreatedAt are filled when empty.
func (s *Store) Record(ctx context.Context, e Entry) (Entry, error) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO qa_entries (id, channel, chat_id, sender, question, answer, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Channel, e.ChatID, e.Sender, e.Question, e.Answer,
		e.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		s.logger.Error("failed to record entry", "chat_id", e.ChatID, "err", err)
		return e, fmt.Errorf("record journal entry: %w", err)
	}
	return e, nil
}

// List returns entries oldest first. limit <= 0 returns all of them.
func (s *Store) List(ctx context.Context, limit int) ([]Entry, error) {
	query := `
		SELECT id, channel, chat_id, sender, question, answer, created_at
		FROM qa_entries
		ORDER BY created_at ASC, rowid ASC`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list journal entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e         Entry
			createdAt string
		)
		if err := rows.Scan(&e.ID, &e.Channel, &e.ChatID, &e.Sender, &e.Question, &e.Answer, &createdAt); err != nil {
			return nil, fmt.Errorf("scan journal entry: %w", err)
		}
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Count returns the number of recorded entries.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM qa_entries").Scan(&n); err != nil {
		return 0, fmt.Errorf("count journal entries: %w", err)
	}
	return n, nil
}

// Clear deletes every entry and returns how many were removed.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM qa_entries")
	if err != nil {
		return 0, fmt.Errorf("clear journal: %w", err)
	}
	n, _ := res.RowsAffected()
	s.logger.Info("journal cleared", "entries", n)
	return n, nil
}

// ExportDOCX writes the journal as a Q&A transcript DOCX and returns the
// number of exported entries.
func (s *Store) ExportDOCX(ctx context.Context, path string) (int, error) {
	entries, err := s.List(ctx, 0)
	if err != nil {
		return 0, err
	}

	b := document.NewBuilder()
	b.Heading("Вопросы слушателей", 1)
	for _, e := range entries {
		sender := e.Sender
		if sender == "" {
			sender = "Слушатель"
		}
		b.Paragraph(fmt.Sprintf("Вопрос (%s): %s", sender, oneLine(e.Question)))
		b.Paragraph("Ответ: " + oneLine(e.Answer))
	}
	if err := b.Save(path); err != nil {
		return 0, fmt.Errorf("export journal: %w", err)
	}
	s.logger.Info("journal exported", "path", path, "entries", len(entries))
	return len(entries), nil
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
