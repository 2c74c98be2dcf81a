// Package cli is the jobengine command line: serve runs the engine and its
// HTTP control surface, the other commands talk to a running server.
package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands
type RootOptions struct {
	Config string
	Format string // "text" | "json"
	Server string
}

// ValidFormats defines the allowed output formats
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command of the jobengine CLI
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "jobengine",
		Short: "jobengine runs and controls a queue-fed worker job",
		Long: `jobengine runs a job whose workers are fed from prioritized queues,
and controls it over HTTP: start, pause, resume, delay, stop and kill the job
or a single worker, enqueue tasks and inspect the command log.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.Config, "config", "c", "", "path to configuration file")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (text|json)")
	cmd.PersistentFlags().StringVar(&opts.Server, "server", "http://localhost:8080", "base URL of a running jobengine server")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewControlCommand(opts))
	cmd.AddCommand(NewSendCommand(opts))
	cmd.AddCommand(NewCommandsCommand(opts))
	cmd.AddCommand(NewQueuesCommand(opts))

	return cmd
}
