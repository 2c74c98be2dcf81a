package cli

import (
	"errors"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cuongbtq/jobengine/internal/actor"
	"github.com/cuongbtq/jobengine/internal/job"
)

func formatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
}

// remoteErr maps a client error to an exit code
func remoteErr(message string, err error) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return WrapExitError(ExitFailure, message, err)
	}
	return WrapExitError(ExitCommandError, message, err)
}

// NewStatusCommand creates the status command
func NewStatusCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the job status and per-worker counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := NewClient(opts.Server, nil).Snapshot(cmd.Context())
			if err != nil {
				return remoteErr("failed to fetch status", err)
			}
			return formatter(opts, cmd).Print(s, func(w io.Writer) error {
				return writeSnapshot(w, s)
			})
		},
	}
}

// NewControlCommand creates the control command
func NewControlCommand(opts *RootOptions) *cobra.Command {
	var (
		worker  string
		seconds int
	)

	cmd := &cobra.Command{
		Use:   "control <action>",
		Short: "Send a control action to the job or one worker",
		Long: `Send a control action to the job, or to a single worker with --worker.

Actions: start, pause, resume, delay, stop, kill, check, process.
pause and delay take --seconds to resume or start again later.

Example:
  jobengine control start
  jobengine control pause --seconds 30
  jobengine control stop --worker default-w2`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			action := strings.ToLower(args[0])
			if _, err := actor.ParseAction(action); err != nil {
				return WrapExitError(ExitCommandError, "invalid action", err)
			}
			if seconds < 0 {
				return NewExitError(ExitCommandError, "seconds must not be negative")
			}

			resp, err := NewClient(opts.Server, nil).Control(cmd.Context(), worker, action, seconds)
			var apiErr *APIError
			if err != nil && !(errors.As(err, &apiErr) && resp.Target != "") {
				return remoteErr("failed to send control", err)
			}

			if printErr := formatter(opts, cmd).Print(resp, func(w io.Writer) error {
				return writeControl(w, resp)
			}); printErr != nil {
				return printErr
			}
			if err != nil {
				return WrapExitError(ExitFailure, "control rejected", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&worker, "worker", "w", "", "target a single worker by name")
	cmd.Flags().IntVarP(&seconds, "seconds", "s", 0, "seconds before a paused or delayed target starts again")
	return cmd
}

// NewSendCommand creates the send command
func NewSendCommand(opts *RootOptions) *cobra.Command {
	var attrs map[string]string

	cmd := &cobra.Command{
		Use:   "send <queue> <payload>",
		Short: "Enqueue a task",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := NewClient(opts.Server, nil).Send(cmd.Context(), args[0], args[1], attrs)
			if err != nil {
				return remoteErr("failed to send task", err)
			}
			return formatter(opts, cmd).Print(resp, func(w io.Writer) error {
				return writeEnqueue(w, resp)
			})
		},
	}

	cmd.Flags().StringToStringVarP(&attrs, "attr", "a", nil, "task attribute key=value, repeatable")
	return cmd
}

// NewCommandsCommand creates the commands command
func NewCommandsCommand(opts *RootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "commands",
		Short: "List recent control commands",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmds, err := NewClient(opts.Server, nil).Commands(cmd.Context(), limit)
			if err != nil {
				return remoteErr("failed to list commands", err)
			}
			if cmds == nil {
				cmds = []job.Command{}
			}
			return formatter(opts, cmd).Print(cmds, func(w io.Writer) error {
				return writeCommands(w, cmds)
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of commands to show")
	return cmd
}

// NewQueuesCommand creates the queues command
func NewQueuesCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "queues",
		Short: "List queues in polling order with their depth",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			queues, err := NewClient(opts.Server, nil).Queues(cmd.Context())
			if err != nil {
				return remoteErr("failed to list queues", err)
			}
			return formatter(opts, cmd).Print(queues, func(w io.Writer) error {
				return writeQueues(w, queues)
			})
		},
	}
}
