// Package cli implements the hipiol commands.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package cli

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
}

// Logger returns a text logger on stderr honouring the verbose flag.
func (o *RootOptions) Logger() *slog.Logger {
	level := slog.LevelInfo
	if o.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// NewRootCommand creates the root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "hipiol",
		Short: "hipiol - asynchronous TCP I/O engine",
		Long:  "Demo server and benchmark client for the hipiol I/O engine.",
	}
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewBenchCommand(opts))
	return cmd
}
