package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/cuongbtq/jobengine/internal/api/dto"
	"github.com/cuongbtq/jobengine/internal/job"
)

// Exit codes for CLI commands
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // the server answered but refused the request
	ExitCommandError = 2 // bad flags, config or an unreachable server
)

// ExitError carries the exit code a command should end with
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates an ExitError with the given code and message
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps err with an exit code
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error. Other errors map to ExitFailure.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// OutputFormatter writes results as JSON or as aligned text
type OutputFormatter struct {
	Format string
	Writer io.Writer
}

// Print writes data as indented JSON, or through text in text format
func (f *OutputFormatter) Print(data any, text func(w io.Writer) error) error {
	if f.Format == "json" {
		enc := json.NewEncoder(f.Writer)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	}
	return text(f.Writer)
}

func table(w io.Writer, write func(tw *tabwriter.Writer)) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	write(tw)
	return tw.Flush()
}

func writeSnapshot(w io.Writer, s job.Snapshot) error {
	fmt.Fprintf(w, "Job:    %s\n", s.Identity.FullName)
	fmt.Fprintf(w, "Status: %s\n", s.Status)
	if s.Error != "" {
		fmt.Fprintf(w, "Error:  %s\n", s.Error)
	}
	fmt.Fprintln(w)

	return table(w, func(tw *tabwriter.Writer) {
		fmt.Fprintln(tw, "WORKER\tSTATUS\tPENDING\tPROCESSED\tSUCCEEDED\tDENIED\tERRORED\tERROR")
		for _, ws := range s.Workers {
			c := ws.Counters
			fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t%d\t%s\n",
				ws.Identity.Name, ws.Status, ws.Pending, c.Processed, c.Succeeded, c.Denied, c.Errored, orDash(ws.Error))
		}
		t := s.Totals
		fmt.Fprintf(tw, "total\t\t\t%d\t%d\t%d\t%d\n", t.Processed, t.Succeeded, t.Denied, t.Errored)
	})
}

func writeControl(w io.Writer, r dto.ControlResponse) error {
	verdict := "accepted"
	if !r.Accepted {
		verdict = "rejected"
	}
	_, err := fmt.Fprintf(w, "%s %s: %s, status %s\n", r.Action, r.Target, verdict, r.Status)
	return err
}

func writeCommands(w io.Writer, cmds []job.Command) error {
	if len(cmds) == 0 {
		_, err := fmt.Fprintln(w, "No commands recorded")
		return err
	}
	return table(w, func(tw *tabwriter.Writer) {
		fmt.Fprintln(tw, "AT\tTARGET\tACTION\tSECONDS\tACCEPTED\tSTATUS\tERROR")
		for _, c := range cmds {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%t\t%s\t%s\n",
				c.At.UTC().Format(time.RFC3339), c.Target, c.Action, c.Seconds, c.Accepted, c.Status, orDash(c.Error))
		}
	})
}

func writeQueues(w io.Writer, queues []job.QueueInfo) error {
	return table(w, func(tw *tabwriter.Writer) {
		fmt.Fprintln(tw, "QUEUE\tPRIORITY\tDEPTH\tERROR")
		for _, q := range queues {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", q.Name, q.Priority, q.Depth, orDash(q.Error))
		}
	})
}

func writeEnqueue(w io.Writer, r dto.EnqueueResponse) error {
	_, err := fmt.Fprintf(w, "Task %s sent to %s\n", r.TaskID, r.Queue)
	return err
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
