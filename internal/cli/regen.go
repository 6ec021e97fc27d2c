package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/pilotforge/internal/engine"
	"github.com/roach88/pilotforge/internal/pilot"
)

// RegenOptions holds flags for the regen command.
type RegenOptions struct {
	*RootOptions
	Tier     string
	Duration float64
	Budget   float64
}

type regenResult struct {
	*engine.RegenReport
}

func (r regenResult) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Regeneration %s: %s\n", r.RunID, r.Outcome)
	fmt.Fprintf(&b, "  rejected:  %s (%s/%s)\n", r.Reissue.BaseID, r.Reissue.SegmentID, r.Reissue.Type)
	fmt.Fprintf(&b, "  revision:  %s (#%d)\n", r.Reissue.NewID, r.Reissue.Revision)
	fmt.Fprintf(&b, "  task:      %s, %d attempt(s), cost %.2f\n", r.Task.Status, r.Task.Attempts, r.Task.Cost)
	if r.Error != "" {
		fmt.Fprintf(&b, "  error:     [%s] %s\n", r.ErrorCode, r.Error)
	}
	return strings.TrimRight(b.String(), "\n")
}

// NewRegenCommand creates the regen command.
func NewRegenCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RegenOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "regen <asset-id>",
		Short: "Regenerate a rejected asset as a new revision",
		Long: `Regenerate a REJECTED asset. The rejected record moves to REVISED and a
new record is produced with revision_of pointing at it.

The tier defaults to the one whose pilot produced the asset, and the
duration to the segment's duration in the configuration. The budget
defaults to twice the tier's estimate for that duration.

Examples:
  pilotforge regen 3f2a9c... --config production.yaml
  pilotforge regen 3f2a9c... --tier static_images --duration 12 --budget 1`,
		Args: cobra.ExactArgs(1),
		RunE: rootOpts.runE(func(cmd *cobra.Command, args []string) error {
			return runRegen(opts, cmd, args[0])
		}),
	}

	cmd.Flags().StringVar(&opts.Tier, "tier", "", "tier to regenerate with")
	cmd.Flags().Float64Var(&opts.Duration, "duration", 0, "segment duration in seconds")
	cmd.Flags().Float64Var(&opts.Budget, "budget", 0, "budget for the regeneration")

	return cmd
}

func runRegen(opts *RegenOptions, cmd *cobra.Command, assetID string) error {
	ctx := cmd.Context()
	a, err := openApp(opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.Close()

	rec, err := a.library.Get(ctx, assetID)
	if err != nil {
		return Failure("regen failed", err)
	}

	tierID := opts.Tier
	if tierID == "" {
		tierID = strings.TrimPrefix(rec.PilotID, pilot.ID(""))
	}
	if tierID == "" {
		return NewExitError(ExitCommandError, "asset has no pilot; pass --tier")
	}
	cat, err := a.cfg.LoadCatalog()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load tier catalog", err)
	}
	tier, err := cat.Get(tierID)
	if err != nil {
		return WrapExitError(ExitCommandError, "unknown tier", err)
	}

	duration := opts.Duration
	if duration <= 0 {
		for _, seg := range a.cfg.Production.Segments {
			if seg.ID == rec.SegmentID {
				duration = seg.DurationSeconds
			}
		}
	}
	if duration <= 0 {
		return NewExitError(ExitCommandError, fmt.Sprintf("duration of segment %s unknown; pass --duration", rec.SegmentID))
	}
	budget := opts.Budget
	if budget <= 0 {
		budget = 2 * tier.EstimatedCost(duration)
	}

	eng, err := a.engine(ctx)
	if err != nil {
		return err
	}
	rep, err := eng.Regenerate(ctx, assetID, engine.RegenConfig{
		Budget:          budget,
		Tier:            tier,
		DurationSeconds: duration,
		Runner:          a.cfg.RunnerConfig(),
	})
	if err != nil {
		exitErr := Failure("regen failed", err)
		if rep != nil {
			exitErr.Details = rep
		}
		return exitErr
	}
	return opts.formatter(cmd).Success(regenResult{rep})
}
