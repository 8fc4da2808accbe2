package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
)

// newTranscribeCmd creates `lectern transcribe`.
func newTranscribeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "transcribe <audio>...",
		Short: "Transcribe audio files with the configured speech backend",
		Long: `Run speech recognition on local audio files and print the text, one
file per line. Useful to check the stt section before serving.

Examples:
  lectern transcribe voice.ogg
  lectern transcribe a.ogg b.mp3`,
		Args: cobra.MinimumNArgs(1),
		RunE: runTranscribe,
	}
}

func runTranscribe(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd, os.Stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	a.cfg.STT.Enabled = true
	speech := a.newSpeech()
	if err := speech.Warm(ctx); err != nil {
		return fmt.Errorf("speech recognition unavailable: %w", err)
	}

	out := cmd.OutOrStdout()
	var failed int
	for _, path := range args {
		text := speech.Transcribe(ctx, path)
		if text == "" {
			failed++
			fmt.Fprintf(out, "%s: (not recognized)\n", path)
			continue
		}
		if len(args) > 1 {
			fmt.Fprintf(out, "%s: ", path)
		}
		fmt.Fprintln(out, text)
	}
	if failed == len(args) {
		return errors.New("nothing recognized")
	}
	return nil
}
