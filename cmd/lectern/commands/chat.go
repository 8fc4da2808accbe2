package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/jholhewres/lectern/pkg/lectern/dialogue"
	"github.com/jholhewres/lectern/pkg/lectern/document"
	"github.com/jholhewres/lectern/pkg/lectern/llm"
)

// newChatCmd creates `lectern chat`, a local REPL against the lecture.
func newChatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat [question]",
		Short: "Ask questions about the lecture from the terminal",
		Long: `Ask the assistant about the lecture without a chat platform. With an
argument the question is answered once; otherwise an interactive session
starts (piped input is read line by line).

Session commands: /reset clears the history, /history prints it, /exit quits.

Examples:
  lectern chat "Какие три правила ввёл спикер?"
  lectern chat`,
		Args: cobra.MaximumNArgs(1),
		RunE: runChat,
	}
	return cmd
}

func runChat(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd, os.Stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config:\n%w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cfg := a.cfg.Dialogue
	cfg.Isolation = dialogue.IsolationShared
	session := dialogue.NewSession(cfg, document.Load, a.connectLLM, a.logger)
	if !session.Init(ctx) {
		return errors.New("failed to initialize the dialogue session, see the log above")
	}

	out := cmd.OutOrStdout()
	if len(args) == 1 {
		fmt.Fprintln(out, session.Ask(ctx, args[0]))
		return nil
	}

	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return chatPiped(ctx, session, os.Stdin, out)
	}
	return chatInteractive(ctx, session, out)
}

func chatInteractive(ctx context.Context, session *dialogue.Session, out io.Writer) error {
	historyFile := ""
	if dir, err := os.UserCacheDir(); err == nil {
		historyFile = filepath.Join(dir, "lectern", "chat_history")
		_ = os.MkdirAll(filepath.Dir(historyFile), 0o700)
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "❓ ",
		HistoryFile:     historyFile,
		InterruptPrompt: "^C",
		EOFPrompt:       "/exit",
		AutoComplete: readline.NewPrefixCompleter(
			readline.PcItem("/reset"),
			readline.PcItem("/history"),
			readline.PcItem("/exit"),
		),
		Stdout: out,
	})
	if err != nil {
		return fmt.Errorf("starting readline: %w", err)
	}
	defer rl.Close()

	fmt.Fprintln(out, "Задайте вопрос по лекции. /exit для выхода.")
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return nil
			}
			continue
		}
		if err != nil {
			return nil
		}
		if done := chatLine(ctx, session, strings.TrimSpace(line), out); done {
			return nil
		}
	}
}

func chatPiped(ctx context.Context, session *dialogue.Session, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if done := chatLine(ctx, session, strings.TrimSpace(scanner.Text()), out); done {
			return nil
		}
	}
	return scanner.Err()
}

// chatLine handles one input line and reports whether the session ended.
func chatLine(ctx context.Context, session *dialogue.Session, line string, out io.Writer) bool {
	switch line {
	case "":
		return false
	case "/exit", "/quit":
		return true
	case "/reset":
		if session.Reload(ctx) {
			fmt.Fprintln(out, "🔄 История диалога сброшена.")
		} else {
			fmt.Fprintln(out, "❌ Ошибка при перезагрузке агента")
		}
		return false
	case "/history":
		for _, turn := range session.History() {
			if turn.Role == llm.RoleSystem {
				continue
			}
			fmt.Fprintf(out, "[%s] %s\n", turn.Role, turn.Content)
		}
		return false
	}

	fmt.Fprintln(out, session.Ask(ctx, line))
	fmt.Fprintln(out)
	return ctx.Err() != nil
}
