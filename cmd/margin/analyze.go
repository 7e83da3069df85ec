package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Veraticus/margin-intel/internal/analysis"
	"github.com/Veraticus/margin-intel/internal/cli"
	"github.com/Veraticus/margin-intel/internal/common"
	"github.com/Veraticus/margin-intel/internal/config"
	"github.com/Veraticus/margin-intel/internal/report"
)

const pollInterval = 100 * time.Millisecond

func analyzeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Analyze order and return exports locally",
		Long: `Run the full analysis in-process and print the report.

The orders export is required; the returns export is optional. Reports can be
printed as a terminal summary or as the JSON document the server serves.

Examples:
  # Summarize an orders export
  margin analyze --orders orders.csv

  # Include returns and steer the ranked actions
  margin analyze --orders orders.csv --returns returns.csv \
    --goal "Cut return losses" --constraints "No price changes"

  # Write the JSON report to a file
  margin analyze --orders orders.csv --output json --out report.json`,
		RunE: runAnalyze,
	}

	cmd.Flags().String("orders", "", "orders CSV export (required)")
	cmd.Flags().String("returns", "", "returns CSV export")
	cmd.Flags().String("goal", "", "business goal for action ranking")
	cmd.Flags().String("constraints", "", "constraints the actions must respect")
	cmd.Flags().String("output", "summary", "output format (summary, json)")
	cmd.Flags().String("out", "", "also write the JSON report to this file")
	cmd.Flags().Bool("sheets", false, "also export the report to Google Sheets")
	_ = cmd.MarkFlagRequired("orders")

	return cmd
}

func runAnalyze(cmd *cobra.Command, _ []string) error {
	ordersPath, _ := cmd.Flags().GetString("orders")
	returnsPath, _ := cmd.Flags().GetString("returns")
	goal, _ := cmd.Flags().GetString("goal")
	constraints, _ := cmd.Flags().GetString("constraints")
	outputFormat, _ := cmd.Flags().GetString("output")
	outPath, _ := cmd.Flags().GetString("out")
	toSheets, _ := cmd.Flags().GetBool("sheets")

	if outputFormat != "summary" && outputFormat != "json" {
		return fmt.Errorf("invalid output format: %s (valid options: summary, json)", outputFormat)
	}

	interruptHandler := cli.NewInterruptHandler(cmd.ErrOrStderr())
	ctx := interruptHandler.HandleInterrupts(cmd.Context(), "The report was not written.")

	settings, err := loadSettings()
	if err != nil {
		return err
	}

	orders, err := os.Open(config.ExpandPath(ordersPath))
	if err != nil {
		return common.NewUserError("Cannot read orders export", err)
	}
	defer closeFile(orders)

	sub := analysis.Submission{Orders: orders, Goal: goal, Constraints: constraints}
	if returnsPath != "" {
		returnsFile, openErr := os.Open(config.ExpandPath(returnsPath))
		if openErr != nil {
			return common.NewUserError("Cannot read returns export", openErr)
		}
		defer closeFile(returnsFile)
		sub.Returns = returnsFile
	}

	store := analysis.NewMemoryRunStore()
	executor := analysis.NewGoExecutor()
	engine, err := newEngine(settings, store, executor, nil, nil)
	if err != nil {
		return err
	}

	runID, err := engine.Submit(ctx, sub)
	if err != nil {
		if common.IsValidationError(err) {
			return common.NewUserError("The uploaded data cannot be analyzed", err)
		}
		return fmt.Errorf("failed to submit analysis: %w", err)
	}

	run, err := waitForRun(ctx, engine, runID, cli.NewRunProgress(cmd.ErrOrStderr()))
	if err != nil {
		if errors.Is(err, context.Canceled) && interruptHandler.WasInterrupted() {
			return nil
		}
		return err
	}
	if run.Status == analysis.StatusError {
		return fmt.Errorf("analysis failed: %s", run.Error)
	}

	rep, _, err := engine.Export(ctx, runID)
	if err != nil {
		return fmt.Errorf("failed to export report: %w", err)
	}

	if outPath != "" {
		if err := writeReportFile(config.ExpandPath(outPath), rep); err != nil {
			return err
		}
		slog.Debug("Report written", "path", outPath, "run_id", runID)
		fmt.Fprintln(cmd.ErrOrStderr(), cli.FormatSuccess("Report written to "+outPath))
	}
	if toSheets {
		result, err := exportToSheets(ctx, settings, rep)
		if err != nil {
			return err
		}
		slog.Debug("Report exported", "url", result.URL, "run_id", runID)
		fmt.Fprintln(cmd.ErrOrStderr(), cli.FormatSuccess("Report exported to "+result.URL))
	}

	out := cmd.OutOrStdout()
	switch outputFormat {
	case "json":
		return writeJSON(out, rep)
	default:
		_, err := fmt.Fprintln(out, "\n"+analysis.NewCLIFormatter().FormatSummary(rep))
		return err
	}
}

// runPoller is the read side of the run manager.
type runPoller interface {
	GetRun(ctx context.Context, runID string) (*analysis.Run, error)
}

// waitForRun polls until the run is terminal, feeding the progress bar.
func waitForRun(ctx context.Context, runs runPoller, runID string, progress *cli.RunProgress) (*analysis.Run, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		run, err := runs.GetRun(ctx, runID)
		if err != nil {
			return nil, fmt.Errorf("failed to poll run: %w", err)
		}
		progress.Update(run.Progress.Percent, run.Progress.Label)
		if run.Status.IsTerminal() {
			if run.Status == analysis.StatusDone {
				progress.Finish()
			}
			return run, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func writeJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}

func writeReportFile(path string, rep *report.Report) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := writeJSON(f, rep); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func closeFile(f *os.File) {
	if err := f.Close(); err != nil {
		slog.Debug("Failed to close file", "path", f.Name(), "error", err)
	}
}
