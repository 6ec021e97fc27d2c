package cli

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/pilotforge/internal/library"
)

type importResult struct {
	library.ImportResult
	File string `json:"file"`
}

func (r importResult) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Imported %d record(s) from %s, skipped %d approved locally.", r.Imported, r.File, r.Skipped)
	for _, id := range r.Skips {
		fmt.Fprintf(&b, "\n  skipped %s", id)
	}
	return b.String()
}

type exportResult struct {
	File string `json:"file"`
}

func (r exportResult) String() string {
	return "Manifest written to " + r.File
}

// NewImportCommand creates the import command.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import <manifest.json>",
		Short: "Restore asset records from a manifest",
		Long: `Import a manifest file into the content library. Legacy v1 manifests are
upgraded on the fly and their records become APPROVED. Records already
APPROVED locally are never overwritten.

Example:
  pilotforge import manifest.json`,
		Args: cobra.ExactArgs(1),
		RunE: rootOpts.runE(func(cmd *cobra.Command, args []string) error {
			return runImport(rootOpts, cmd, args[0])
		}),
	}
}

func runImport(opts *RootOptions, cmd *cobra.Command, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open manifest", err)
	}
	defer file.Close()

	a, err := openApp(opts)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.library.ImportManifest(cmd.Context(), file)
	if err != nil {
		exitErr := Failure("import failed", err)
		exitErr.Details = res
		return exitErr
	}
	return opts.formatter(cmd).Success(importResult{ImportResult: res, File: path})
}

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the library's manifest",
		Long: `Export the manifest: one slot per segment and asset type, holding the
best record by status (APPROVED first). Without --output the manifest is
written to stdout as is, without the response envelope.

Examples:
  pilotforge export > manifest.json
  pilotforge export --output manifest.json --format json`,
		Args: cobra.NoArgs,
		RunE: rootOpts.runE(func(cmd *cobra.Command, args []string) error {
			a, err := openApp(rootOpts)
			if err != nil {
				return err
			}
			defer a.Close()

			if output == "" {
				if err := a.library.ExportManifest(cmd.Context(), cmd.OutOrStdout()); err != nil {
					return Failure("export failed", err)
				}
				return nil
			}

			var buf bytes.Buffer
			if err := a.library.ExportManifest(cmd.Context(), &buf); err != nil {
				return Failure("export failed", err)
			}
			if err := os.WriteFile(output, buf.Bytes(), 0o644); err != nil {
				return WrapExitError(ExitCommandError, "failed to write manifest", err)
			}
			return rootOpts.formatter(cmd).Success(exportResult{File: output})
		}),
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the manifest to a file")
	return cmd
}
