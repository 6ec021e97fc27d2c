package cli

import (
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/pilotforge/internal/engine"
)

// runResult renders a run report.
type runResult struct {
	*engine.RunReport
}

func (r runResult) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Run %s: %s\n", r.RunID, r.Outcome)
	if rep := r.Report; rep != nil {
		fmt.Fprintf(&b, "  budget %.2f for %.0fs of content\n", rep.Budget, rep.Duration)
		tw := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "  PILOT\tSTATUS\tALLOCATED\tSCORE\tRATIONALE")
		for _, p := range rep.Pilots {
			fmt.Fprintf(tw, "  %s\t%s\t%.2f\t%.1f\t%s\n", p.ID, p.Status, p.Allocated, p.Score, p.Rationale)
		}
		tw.Flush()
		if rep.Winner != "" {
			fmt.Fprintf(&b, "  winner: %s\n", rep.Winner)
		}
		if prod := rep.Production; prod != nil {
			done := len(prod.Scorable())
			fmt.Fprintf(&b, "  production: %d/%d task(s) done\n", done, len(prod.Tasks))
		}
		fmt.Fprintf(&b, "  ledger: spent %.2f, reserved %.2f, available %.2f\n",
			rep.Ledger.Spent, rep.Ledger.Reserved, rep.Ledger.Available)
	}
	if r.Error != "" {
		fmt.Fprintf(&b, "  error: [%s] %s\n", r.ErrorCode, r.Error)
	}
	return strings.TrimRight(b.String(), "\n")
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run a production: compete pilots, then produce with the winner",
		Long: `Run the production described by the configuration's production section.

Every candidate tier gets a pilot with its own budget allocation. Pilots
generate a few test segments, are scored by the quality oracle, and the
best passing pilot inherits the remaining budget for full production.

Interrupting the command (Ctrl-C) cancels the run; tasks already running
finish and the run record is still written.

Exit codes:
  0  run finished (completed, partial or satisfied)
  1  no viable pilot, or the run failed with a domain error
  2  bad configuration or unreadable database

Example:
  pilotforge run --config production.yaml`,
		Args: cobra.NoArgs,
		RunE: rootOpts.runE(func(cmd *cobra.Command, args []string) error {
			return runRun(rootOpts, cmd)
		}),
	}
}

func runRun(opts *RootOptions, cmd *cobra.Command) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := openApp(opts)
	if err != nil {
		return err
	}
	defer a.Close()

	cat, err := a.cfg.LoadCatalog()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load tier catalog", err)
	}
	runCfg, err := a.cfg.RunConfig(cat)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid production config", err)
	}
	eng, err := a.engine(ctx)
	if err != nil {
		return err
	}

	f := opts.formatter(cmd)
	f.VerboseLog("running %d segment(s) across %d tier(s), budget %.2f",
		len(runCfg.Scheduler.Segments), len(runCfg.Scheduler.Tiers), runCfg.Scheduler.Budget)

	rep, err := eng.Run(ctx, runCfg)
	if err != nil {
		exitErr := Failure("run failed", err)
		if rep != nil {
			exitErr.Details = rep
		}
		if ctx.Err() != nil {
			exitErr.Code, exitErr.ErrCode, exitErr.Message = ExitFailure, "E_CANCELLED", "run interrupted"
		}
		return exitErr
	}
	return f.Success(runResult{rep})
}
