// Package commands implements the lectern CLI with cobra.
package commands

import (
	"github.com/spf13/cobra"
)

// NewRootCmd builds the root command with every subcommand registered.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "lectern",
		Short: "Lecture Q&A assistant and conference report generator",
		Long: `lectern answers audience questions strictly from a lecture transcript
in Telegram and Discord group chats, and turns the transcript and the
audience Q&A into a PDF report with a chart.

Examples:
  lectern setup
  lectern serve
  lectern chat
  lectern report transcript.docx questions.docx -o report.pdf
  lectern transcribe voice.ogg`,
		Version:      version,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newChatCmd(),
		newReportCmd(),
		newTranscribeCmd(),
		newJournalCmd(),
		newSetupCmd(),
		newConfigCmd(),
	)

	rootCmd.PersistentFlags().StringP("config", "c", "", "path to the config file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logs")

	return rootCmd
}
