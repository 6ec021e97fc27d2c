package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/pilotforge/internal/ir"
	"github.com/roach88/pilotforge/internal/library"
)

// AssetList is the output of list, approve and reject.
type AssetList []ir.AssetRecord

func (l AssetList) String() string {
	if len(l) == 0 {
		return "No assets."
	}
	var b strings.Builder
	tw := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tSTATUS\tSEGMENT\tPILOT\tVAR\tREVISION OF\tNOTES")
	for _, r := range l {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			shortID(r.ID), r.Type, r.Status, r.SegmentID, r.PilotID, r.Variation, shortID(r.RevisionOf), r.Notes)
	}
	tw.Flush()
	return strings.TrimRight(b.String(), "\n")
}

// shortID trims content-addressed ids for tables.
func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

// ListOptions holds flags for the list command.
type ListOptions struct {
	*RootOptions
	Type    string
	Status  string
	Segment string
	Pilot   string
	Tags    []string
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ListOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List assets in the content library",
		Long: `List asset records, optionally filtered by type, status, segment, pilot
and tags. Segment filters match primary segments and associations.

Examples:
  pilotforge list --status REVIEW
  pilotforge list --type video --segment seg-03 --format json`,
		Args: cobra.NoArgs,
		RunE: rootOpts.runE(func(cmd *cobra.Command, args []string) error {
			return runList(opts, cmd)
		}),
	}

	cmd.Flags().StringVar(&opts.Type, "type", "", "asset type (audio|image|figure|video)")
	cmd.Flags().StringVar(&opts.Status, "status", "", "asset status (DRAFT|REVIEW|APPROVED|REJECTED|REVISED)")
	cmd.Flags().StringVar(&opts.Segment, "segment", "", "segment id")
	cmd.Flags().StringVar(&opts.Pilot, "pilot", "", "pilot id")
	cmd.Flags().StringSliceVar(&opts.Tags, "tag", nil, "required tag (repeatable)")

	return cmd
}

func runList(opts *ListOptions, cmd *cobra.Command) error {
	q := library.Query{
		Type:    ir.AssetType(opts.Type),
		Status:  ir.AssetStatus(strings.ToUpper(opts.Status)),
		Segment: opts.Segment,
		Pilot:   opts.Pilot,
		Tags:    opts.Tags,
	}
	if q.Type != "" && !q.Type.Valid() {
		return NewExitError(ExitCommandError, fmt.Sprintf("unknown asset type %q", opts.Type))
	}
	if q.Status != "" && !q.Status.Valid() {
		return NewExitError(ExitCommandError, fmt.Sprintf("unknown asset status %q", opts.Status))
	}

	a, err := openApp(opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.Close()

	recs, err := a.library.Query(cmd.Context(), q)
	if err != nil {
		return Failure("list failed", err)
	}
	return opts.formatter(cmd).Success(AssetList(recs))
}

// NewApproveCommand creates the approve command.
func NewApproveCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "approve <asset-id>...",
		Short: "Approve assets, locking them against regeneration",
		Long: `Approve one or more DRAFT or REVIEW assets. Approved assets are locked:
later runs skip their segments and never overwrite them.

Example:
  pilotforge approve 3f2a9c...`,
		Args: cobra.MinimumNArgs(1),
		RunE: rootOpts.runE(func(cmd *cobra.Command, args []string) error {
			return runReview(rootOpts, cmd, args, func(a *app, id string) (ir.AssetRecord, error) {
				return a.library.Approve(cmd.Context(), id)
			})
		}),
	}
}

// NewSubmitCommand creates the submit command.
func NewSubmitCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "submit <asset-id>...",
		Short: "Move DRAFT or REVISED assets into REVIEW",
		Args:  cobra.MinimumNArgs(1),
		RunE: rootOpts.runE(func(cmd *cobra.Command, args []string) error {
			return runReview(rootOpts, cmd, args, func(a *app, id string) (ir.AssetRecord, error) {
				return a.library.Submit(cmd.Context(), id)
			})
		}),
	}
}

// NewRejectCommand creates the reject command.
func NewRejectCommand(rootOpts *RootOptions) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "reject <asset-id>...",
		Short: "Reject assets so they can be regenerated",
		Long: `Reject one or more assets. The reason is kept as the asset's notes and is
passed to the regeneration that replaces it.

Example:
  pilotforge reject 3f2a9c... --reason "text unreadable"`,
		Args: cobra.MinimumNArgs(1),
		RunE: rootOpts.runE(func(cmd *cobra.Command, args []string) error {
			return runReview(rootOpts, cmd, args, func(a *app, id string) (ir.AssetRecord, error) {
				return a.library.Reject(cmd.Context(), id, reason)
			})
		}),
	}
	cmd.Flags().StringVar(&reason, "reason", "", "why the asset was rejected")
	return cmd
}

// runReview applies one status change per id and stops at the first
// failure; earlier changes stay applied.
func runReview(opts *RootOptions, cmd *cobra.Command, ids []string, apply func(*app, string) (ir.AssetRecord, error)) error {
	a, err := openApp(opts)
	if err != nil {
		return err
	}
	defer a.Close()

	out := make(AssetList, 0, len(ids))
	for _, id := range ids {
		rec, err := apply(a, id)
		if err != nil {
			exitErr := Failure(cmd.Name()+" "+id+" failed", err)
			exitErr.Details = map[string]any{"applied": out}
			return exitErr
		}
		out = append(out, rec)
	}
	return opts.formatter(cmd).Success(out)
}
