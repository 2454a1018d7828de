// Package cli implements the harness-reap command, which cleans up
// processes left behind by interrupted test runs.
package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/shirou/gopsutil/v4/process"
	"github.com/spf13/cobra"

	harness "github.com/basaltproject/go-harness"
	"github.com/basaltproject/go-harness/internal/symbols"
)

var (
	runID    string
	dryRun   bool
	timeout  time.Duration
	noColors bool
)

var rootCmd = &cobra.Command{
	Use:   "harness-reap",
	Short: "Clean up processes left behind by interrupted test runs.",
	Long: `harness-reap scans the process table for daemons started under the
test harness and terminates them. Every process the harness spawns
carries the ` + harness.RunIDEnvVar + ` environment variable, which is
how strays are recognized after the run that started them is gone.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if noColors {
			color.NoColor = true
		}
		return reap(cmd.Context(), cmd.OutOrStdout())
	},
}

// Execute runs the harness-reap command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.Flags().StringVar(&runID, "run-id", "", "only reap processes from this run (default: any run)")
	rootCmd.Flags().BoolVar(&dryRun, "dry-run", false, "list stray processes without signalling them")
	rootCmd.Flags().DurationVar(&timeout, "timeout", 3*time.Second, "how long to wait after each signal")
	rootCmd.Flags().BoolVar(&noColors, "no-colors", false, "disable colored output")
}

// procRow snapshots the fields we print before any signals fly. Names and
// ages are unreadable once the process is gone.
type procRow struct {
	pid  int32
	name string
	age  string
}

func reap(ctx context.Context, out io.Writer) error {
	strays, err := harness.FindStrayProcesses(ctx, runID)
	if err != nil {
		return err
	}
	if len(strays) == 0 {
		fmt.Fprintln(out, "No stray processes found.")
		return nil
	}

	rows := snapshot(ctx, strays)
	if dryRun {
		labels := map[int32]string{}
		for _, row := range rows {
			labels[row.pid] = color.YellowString("stray")
		}
		render(out, rows, labels)
		return nil
	}

	report, err := harness.ReapProcesses(ctx, nil, strays, harness.ReapWait(timeout))
	if err != nil {
		return err
	}
	render(out, rows, resultLabels(report))
	if len(report.Survivors) > 0 {
		return fmt.Errorf("%v processes survived SIGKILL", len(report.Survivors))
	}
	return nil
}

func snapshot(ctx context.Context, procs []*process.Process) []procRow {
	rows := make([]procRow, 0, len(procs))
	for _, p := range procs {
		row := procRow{pid: p.Pid, name: "?", age: "?"}
		if name, err := p.NameWithContext(ctx); err == nil {
			row.name = name
		}
		if created, err := p.CreateTimeWithContext(ctx); err == nil {
			started := time.UnixMilli(created)
			row.age = time.Since(started).Round(time.Second).String()
		}
		rows = append(rows, row)
	}
	return rows
}

func resultLabels(report harness.ReapReport) map[int32]string {
	labels := map[int32]string{}
	for _, pid := range report.Terminated {
		labels[pid] = color.GreenString("%v terminated", symbols.Status(0))
	}
	for _, pid := range report.Killed {
		labels[pid] = color.GreenString("%v killed", symbols.Status(0))
	}
	for _, pid := range report.Survivors {
		labels[pid] = color.RedString("%v survived", symbols.Status(1))
	}
	return labels
}

func render(out io.Writer, rows []procRow, results map[int32]string) {
	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"PID", "NAME", "AGE", "RESULT"})
	table.SetBorder(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetTablePadding("\t")
	table.SetNoWhiteSpace(true)
	for _, row := range rows {
		table.Append([]string{fmt.Sprint(row.pid), row.name, row.age, results[row.pid]})
	}
	table.Render()
}
