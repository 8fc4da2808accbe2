package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/jholhewres/lectern/pkg/lectern/bot"
)

// newReportCmd creates `lectern report`.
func newReportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report [sources.docx...]",
		Short: "Build the conference report",
		Long: `Merge the source documents, summarize them with the LLM, render the
question chart and write the report. Without arguments the sources from
report.sources are used. An output ending in .docx skips PDF conversion.

Examples:
  lectern report
  lectern report transcript.docx questions.docx -o report.pdf
  lectern report transcript.docx --no-chart -o summary.docx`,
		RunE: runReport,
	}

	cmd.Flags().StringP("output", "o", "", "output file (.pdf or .docx)")
	cmd.Flags().Bool("no-chart", false, "skip chart execution")
	cmd.Flags().Bool("journal", false, "append the recorded Q&A journal as a source")
	return cmd
}

func runReport(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd, os.Stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	cfg := a.cfg
	if len(args) > 0 {
		cfg.Report.Sources = args
	}
	if out, _ := cmd.Flags().GetString("output"); out != "" {
		cfg.Report.Output = out
	}
	if noChart, _ := cmd.Flags().GetBool("no-chart"); noChart {
		cfg.Report.Chart.Enabled = false
	}
	if withJournal, _ := cmd.Flags().GetBool("journal"); withJournal {
		cfg.Report.IncludeJournal = true
		cfg.Journal.Enabled = true
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	pipeline, client, err := a.newReporter()
	if err != nil {
		return err
	}
	defer client.Close()

	var journal bot.Journal
	if cfg.Report.IncludeJournal {
		store, err := a.openJournal()
		if err != nil {
			return err
		}
		if store != nil {
			defer store.Close()
			journal = store
		}
	}

	router := bot.NewRouter(bot.RouterConfig{
		Reporter: pipeline,
		Report:   cfg.Report,
		Journal:  journal,
	}, a.logger)

	res, err := router.BuildReport(ctx)
	if err != nil {
		return err
	}

	chart := "no"
	if res.ChartGenerated {
		chart = "yes"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✅ %s (%d bytes, chart: %s, %s)\n",
		res.OutputPath, res.OutputSize, chart, res.Duration.Round(time.Millisecond))
	return nil
}
