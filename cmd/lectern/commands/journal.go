package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jholhewres/lectern/pkg/lectern/journal"
)

// newJournalCmd creates `lectern journal`.
func newJournalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Inspect the recorded audience questions",
		Long: `Inspect, export and clear the Q&A journal (journal.enabled).

Examples:
  lectern journal list -n 20
  lectern journal export questions.docx
  lectern journal clear`,
	}
	cmd.AddCommand(newJournalListCmd(), newJournalExportCmd(), newJournalClearCmd())
	return cmd
}

func newJournalListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Print the latest entries",
		RunE: func(cmd *cobra.Command, _ []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			return withJournal(cmd, func(ctx context.Context, j *journal.Store) error {
				entries, err := j.List(ctx, limit)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for _, e := range entries {
					fmt.Fprintf(out, "%s  %s:%s  %s\n  Q: %s\n  A: %s\n",
						e.CreatedAt.Format("2006-01-02 15:04"), e.Channel, e.ChatID, e.Sender, e.Question, e.Answer)
				}
				n, err := j.Count(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%d of %d entries\n", len(entries), n)
				return nil
			})
		},
	}
	cmd.Flags().IntP("limit", "n", 50, "number of entries")
	return cmd
}

func newJournalExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export <file.docx>",
		Short: "Write the journal as a DOCX report source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withJournal(cmd, func(ctx context.Context, j *journal.Store) error {
				n, err := j.ExportDOCX(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✅ %d entries written to %s\n", n, args[0])
				return nil
			})
		},
	}
}

func newJournalClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete every entry",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withJournal(cmd, func(ctx context.Context, j *journal.Store) error {
				n, err := j.Clear(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d entries deleted\n", n)
				return nil
			})
		},
	}
}

// withJournal opens the configured journal file for fn.
func withJournal(cmd *cobra.Command, fn func(ctx context.Context, j *journal.Store) error) error {
	a, err := loadApp(cmd, os.Stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	a.cfg.Journal.Enabled = true
	store, err := a.openJournal()
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(context.Background(), store)
}
