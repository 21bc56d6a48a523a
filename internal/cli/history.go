package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/drcheck/internal/control"
	"github.com/vietddude/drcheck/internal/core/domain"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history [run_id]",
	Short: "List recorded assessment runs, or the steps of one run",
	Args:  cobra.MaximumNArgs(1),
	Run:   runHistory,
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "number of runs to list")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	if cfg.Database.URL == "" {
		slog.Error("Run history requires database.url")
		os.Exit(1)
	}

	ctx := context.Background()
	store, err := control.OpenStore(ctx, cfg)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = store.Close()
	}()

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
	defer func() {
		_ = w.Flush()
	}()

	if len(args) == 1 {
		run, err := store.Runs.Get(ctx, args[0])
		if err != nil {
			slog.Error("Failed to get run", "run", args[0], "error", err)
			os.Exit(1)
		}
		printSteps(w, run)
		return
	}

	runs, err := store.Runs.List(ctx, historyLimit)
	if err != nil {
		slog.Error("Failed to list runs", "error", err)
		os.Exit(1)
	}
	printRuns(w, runs)
}

func printRuns(w *tabwriter.Writer, runs []*domain.Run) {
	_, _ = fmt.Fprintln(w, "RUN\tENV\tSTRATEGY\tRESULT\tSTARTED\tDURATION\tERROR")
	for _, r := range runs {
		duration := "-"
		if r.FinishedAt != nil {
			duration = r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String()
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.Environment, r.Strategy, r.Result,
			r.StartedAt.Format(time.RFC3339), duration, r.Error)
	}
}

func printSteps(w *tabwriter.Writer, run *domain.Run) {
	_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", run.ID, run.Environment, run.Strategy, run.Result)
	_, _ = fmt.Fprintln(w, "SEQ\tSTEP\tDURATION\tERROR")
	for _, s := range run.Steps {
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", s.Seq, s.Name, s.Duration().Round(time.Millisecond), s.Error)
	}
}
