package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/pilotforge/internal/engine"
	"github.com/roach88/pilotforge/internal/store"
)

// reportResult renders a stored run with its timeline.
type reportResult struct {
	*engine.RunReport
}

func (r reportResult) String() string {
	var b strings.Builder
	b.WriteString(runResult(r).String())
	if len(r.Timeline) > 0 {
		b.WriteString("\n  timeline:")
		for _, ev := range r.Timeline {
			from := string(ev.From)
			if from == "" {
				from = "-"
			}
			fmt.Fprintf(&b, "\n    %4d  %s  %s -> %s", ev.Seq, ev.PilotID, from, ev.To)
			if ev.Rationale != "" {
				fmt.Fprintf(&b, "  (%s)", ev.Rationale)
			}
		}
	}
	return b.String()
}

// RunList is the output of report without a run id.
type RunList []store.RunRecord

func (l RunList) String() string {
	if len(l) == 0 {
		return "No runs."
	}
	var b strings.Builder
	tw := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSTARTED\tFINISHED\tOUTCOME")
	for _, r := range l {
		finished, outcome := "-", r.Outcome
		if !r.FinishedAt.IsZero() {
			finished = r.FinishedAt.Format(time.RFC3339)
		}
		if outcome == "" {
			outcome = "running"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.ID, r.StartedAt.Format(time.RFC3339), finished, outcome)
	}
	tw.Flush()
	return strings.TrimRight(b.String(), "\n")
}

// MarshalJSON drops the raw reports from the listing.
func (l RunList) MarshalJSON() ([]byte, error) {
	type summary struct {
		ID         string    `json:"id"`
		StartedAt  time.Time `json:"started_at"`
		FinishedAt time.Time `json:"finished_at,omitzero"`
		Outcome    string    `json:"outcome,omitempty"`
	}
	out := make([]summary, len(l))
	for i, r := range l {
		out[i] = summary{ID: r.ID, StartedAt: r.StartedAt, FinishedAt: r.FinishedAt, Outcome: r.Outcome}
	}
	return json.Marshal(out)
}

// NewReportCommand creates the report command.
func NewReportCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "report [run-id]",
		Short: "Show a stored run report, or list runs",
		Long: `Show the persisted report of a run: pilots, winner, ledger snapshot and
the ordered timeline of pilot transitions. Without a run id, list runs.

Examples:
  pilotforge report
  pilotforge report 0192f3c4-... --format json`,
		Args: cobra.MaximumNArgs(1),
		RunE: rootOpts.runE(func(cmd *cobra.Command, args []string) error {
			return runReport(rootOpts, cmd, args)
		}),
	}
}

func runReport(opts *RootOptions, cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(opts)
	if err != nil {
		return err
	}
	defer a.Close()

	// Reading runs needs only the store.
	eng := engine.New(a.library, nil, nil, nil)
	f := opts.formatter(cmd)

	if len(args) == 0 {
		runs, err := eng.Runs(ctx)
		if err != nil {
			return Failure("report failed", err)
		}
		return f.Success(RunList(runs))
	}

	rep, err := eng.Report(ctx, args[0])
	if errors.Is(err, store.ErrNotFound) {
		return &ExitError{Code: ExitFailure, ErrCode: "E_NOT_FOUND", Message: "report failed", Err: err}
	}
	if err != nil {
		return Failure("report failed", err)
	}
	return f.Success(reportResult{rep})
}
