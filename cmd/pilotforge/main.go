// Command pilotforge runs competitive production pilots and manages the
// resulting content library.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/roach88/pilotforge/internal/cli"
)

func main() {
	// Replaced once the root command has parsed --verbose.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	err := cli.NewRootCommand().Execute()
	if err != nil && !cli.Reported(err) {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	os.Exit(cli.GetExitCode(err))
}
