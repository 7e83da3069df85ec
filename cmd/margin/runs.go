package main

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Veraticus/margin-intel/internal/analysis"
	"github.com/Veraticus/margin-intel/internal/cli"
	"github.com/Veraticus/margin-intel/internal/client"
	"github.com/Veraticus/margin-intel/internal/common"
	"github.com/Veraticus/margin-intel/internal/config"
	"github.com/Veraticus/margin-intel/internal/tui"
)

func runsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect runs on a margin server",
		Long: `List completed runs, check a run's progress and download finished reports
from a running margin server.`,
	}

	cmd.PersistentFlags().String("server", client.DefaultBaseURL, "margin server URL")
	_ = viper.BindPFlag("client.server", cmd.PersistentFlags().Lookup("server"))

	cmd.AddCommand(runsListCmd())
	cmd.AddCommand(runsGetCmd())
	cmd.AddCommand(runsDownloadCmd())
	cmd.AddCommand(runsSheetsCmd())
	cmd.AddCommand(runsWatchCmd())

	return cmd
}

func newRunsClient() (*client.Client, error) {
	c, err := client.New(viper.GetString("client.server"))
	if err != nil {
		return nil, common.NewUserError("Invalid --server", err)
	}
	return c, nil
}

func runsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List completed runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := newRunsClient()
			if err != nil {
				return err
			}
			runs, err := c.List(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to list runs: %w", err)
			}
			if len(runs) == 0 {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), "No completed runs")
				return err
			}
			return printRunsTable(cmd.OutOrStdout(), runs, viper.GetString("report.currency"))
		},
	}
}

// printRunsTable renders run summaries with tablewriter.
func printRunsTable(w io.Writer, runs []analysis.RunSummary, currency string) error {
	table := tablewriter.NewWriter(w)
	table.Header("Run", "Generated", "Orders", "Returns", "Revenue")
	table.Configure(func(cfg *tablewriter.Config) {
		cfg.Row.Alignment.Global = tw.AlignRight
	})

	data := make([][]string, 0, len(runs))
	for _, r := range runs {
		data = append(data, []string{
			r.RunID,
			r.GeneratedAt.Format("2006-01-02 15:04:05"),
			strconv.Itoa(r.OrdersRows),
			strconv.Itoa(r.ReturnsRows),
			fmt.Sprintf("%.2f %s", r.TotalRevenue, currency),
		})
	}

	if err := table.Bulk(data); err != nil {
		return err
	}
	return table.Render()
}

func runsGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <run-id>",
		Short: "Show a run's status and progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newRunsClient()
			if err != nil {
				return err
			}
			run, err := c.Get(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("failed to get run %s: %w", args[0], err)
			}

			asJSON, _ := cmd.Flags().GetBool("json")
			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, run)
			}

			formatter := analysis.NewCLIFormatter()
			if _, err := fmt.Fprintln(out, formatter.FormatRun(run)); err != nil {
				return err
			}
			if run.Report != nil {
				_, err = fmt.Fprintln(out, "\n"+formatter.FormatSummary(run.Report))
			}
			return err
		},
	}
	cmd.Flags().Bool("json", false, "print the raw run document")
	return cmd
}

func runsDownloadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "download <run-id>",
		Short: "Download a finished run's JSON report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID := args[0]
			c, err := newRunsClient()
			if err != nil {
				return err
			}

			var buf bytes.Buffer
			if err := c.Download(cmd.Context(), runID, &buf); err != nil {
				return fmt.Errorf("failed to download run %s: %w", runID, err)
			}

			outPath, _ := cmd.Flags().GetString("out")
			if outPath == "" {
				_, err := buf.WriteTo(cmd.OutOrStdout())
				return err
			}

			path := config.ExpandPath(outPath)
			if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
				return fmt.Errorf("failed to write %s: %w", path, err)
			}
			slog.Debug("Report downloaded", "run_id", runID, "path", path)
			_, err = fmt.Fprintln(cmd.ErrOrStderr(), cli.FormatSuccess("Report saved to "+path))
			return err
		},
	}
	cmd.Flags().String("out", "", "write the report to this file instead of stdout")
	return cmd
}

func runsSheetsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sheets <run-id>",
		Short: "Export a finished run's report to Google Sheets",
		Long: `Write the report of a finished run into a Google spreadsheet with Summary,
Return Risk and Actions tabs.

Authenticate with sheets.service_account_path, or with sheets.client_id,
sheets.client_secret and sheets.refresh_token. Set sheets.spreadsheet_id to
update an existing spreadsheet; otherwise a new one is created.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings()
			if err != nil {
				return err
			}
			c, err := newRunsClient()
			if err != nil {
				return err
			}
			rep, err := c.Report(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("failed to fetch run %s: %w", args[0], err)
			}

			result, err := exportToSheets(cmd.Context(), settings, rep)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), result.URL)
			return err
		},
	}
}

func runsWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch <run-id>",
		Short: "Follow a run's progress live",
		Long: `Poll a run and show its progress until it finishes, then print the
report summary or the run's error.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newRunsClient()
			if err != nil {
				return err
			}
			interval, _ := cmd.Flags().GetDuration("interval")

			run, err := tui.Watch(cmd.Context(), c, tui.Config{RunID: args[0], Interval: interval},
				tea.WithInput(cmd.InOrStdin()), tea.WithOutput(cmd.OutOrStdout()))
			if err != nil {
				return fmt.Errorf("failed to watch run %s: %w", args[0], err)
			}
			if run == nil {
				return nil
			}
			if !run.Status.IsTerminal() {
				_, err = fmt.Fprintln(cmd.ErrOrStderr(), cli.FormatWarning("Stopped watching; run "+run.RunID+" continues on the server"))
				return err
			}

			formatter := analysis.NewCLIFormatter()
			out := cmd.OutOrStdout()
			if run.Status == analysis.StatusError {
				_, err = fmt.Fprintln(out, formatter.FormatRun(run))
				return err
			}

			rep, err := c.Report(cmd.Context(), run.RunID)
			if err != nil {
				return fmt.Errorf("failed to fetch report for run %s: %w", run.RunID, err)
			}
			_, err = fmt.Fprintln(out, formatter.FormatSummary(rep))
			return err
		},
	}
	cmd.Flags().Duration("interval", tui.DefaultInterval, "delay between polls")
	return cmd
}
