package cli

import (
	"fmt"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/pilotforge/internal/ir"
	"github.com/roach88/pilotforge/internal/planner"
)

// BuildOptions holds flags for the build command.
type BuildOptions struct {
	*RootOptions
	Only     string
	Segments []string
	Types    []string
}

type buildResult struct {
	planner.AssemblyPlan
	Complete bool `json:"complete"`
}

func (r buildResult) String() string {
	var b strings.Builder
	tw := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SEGMENT\tTYPE\tASSET\tSTATUS")
	for _, entry := range r.Segments {
		types := make([]ir.AssetType, 0, len(entry.Assets))
		for t := range entry.Assets {
			types = append(types, t)
		}
		slices.Sort(types)
		for _, t := range types {
			rec := entry.Assets[t]
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", entry.SegmentID, t, shortID(rec.ID), rec.Status)
		}
	}
	for _, m := range r.Missing {
		best := "-"
		if m.Best != "" {
			best = "best " + string(m.Best)
		}
		fmt.Fprintf(tw, "%s\t%s\tMISSING\t%s\n", m.SegmentID, m.Type, best)
	}
	tw.Flush()

	if r.Complete {
		b.WriteString("Plan complete.")
	} else {
		fmt.Fprintf(&b, "Plan incomplete: %d asset(s) missing.", len(r.Missing))
	}
	return b.String()
}

// NewBuildCommand creates the build command.
func NewBuildCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &BuildOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Print the assembly plan for the production",
		Long: `Pick one asset per segment and type for assembly. Without --only the
asset holding each manifest slot is used; with --only approved anything
not APPROVED is reported as missing.

Segments default to the configured production segments, or to every
segment in the library when no configuration is given. An incomplete
plan is not an error.

Examples:
  pilotforge build --only approved
  pilotforge build --segment seg-01 --segment seg-02 --type video --format json`,
		Args: cobra.NoArgs,
		RunE: rootOpts.runE(func(cmd *cobra.Command, args []string) error {
			return runBuild(opts, cmd)
		}),
	}

	cmd.Flags().StringVar(&opts.Only, "only", "", "restrict to a status (approved)")
	cmd.Flags().StringSliceVar(&opts.Segments, "segment", nil, "segment to assemble (repeatable, ordered)")
	cmd.Flags().StringSliceVar(&opts.Types, "type", nil, "asset type every segment needs (repeatable)")

	return cmd
}

func runBuild(opts *BuildOptions, cmd *cobra.Command) error {
	bo := planner.BuildOptions{Segments: opts.Segments}
	switch strings.ToLower(opts.Only) {
	case "":
	case "approved":
		bo.OnlyApproved = true
	default:
		return NewExitError(ExitCommandError, fmt.Sprintf("unsupported --only %q: must be approved", opts.Only))
	}
	for _, t := range opts.Types {
		at := ir.AssetType(t)
		if !at.Valid() {
			return NewExitError(ExitCommandError, fmt.Sprintf("unknown asset type %q", t))
		}
		bo.Types = append(bo.Types, at)
	}

	a, err := openApp(opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.Close()

	if len(bo.Segments) == 0 {
		for _, seg := range a.cfg.Production.Segments {
			bo.Segments = append(bo.Segments, seg.ID)
		}
	}

	plan, err := a.planner().BuildPlan(cmd.Context(), bo)
	if err != nil {
		return Failure("build failed", err)
	}
	return opts.formatter(cmd).Success(buildResult{AssemblyPlan: plan, Complete: plan.Complete()})
}
