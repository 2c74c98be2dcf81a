package actor

import (
	"fmt"
	"strings"
)

// Status is the lifecycle state of an actor
type Status int32

const (
	InActive Status = iota
	Starting
	Waiting
	Running
	Paused
	Stopped
	Completed
	Failed
	Killed
)

var statusNames = [...]string{
	InActive:  "inactive",
	Starting:  "starting",
	Waiting:   "waiting",
	Running:   "running",
	Paused:    "paused",
	Stopped:   "stopped",
	Completed: "completed",
	Failed:    "failed",
	Killed:    "killed",
}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return fmt.Sprintf("status(%d)", int32(s))
	}
	return statusNames[s]
}

// Absorbing reports whether no action can move the actor out of s.
func (s Status) Absorbing() bool {
	return s == Completed || s == Killed
}

// Halted reports whether the actor has stopped doing work, for good or until restarted.
func (s Status) Halted() bool {
	switch s {
	case Stopped, Completed, Failed, Killed:
		return true
	}
	return false
}

// Workable reports whether content may be handed to the work function.
func (s Status) Workable() bool {
	return s == Running || s == Waiting
}

// MarshalText implements encoding.TextMarshaler
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (s *Status) UnmarshalText(b []byte) error {
	parsed, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseStatus converts a status name into a Status
func ParseStatus(name string) (Status, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, n := range statusNames {
		if n == name {
			return Status(i), nil
		}
	}
	return InActive, fmt.Errorf("%w: %q", ErrUnknownStatus, name)
}

// Action is a request to transition an actor's status
type Action int32

const (
	Start Action = iota
	Pause
	Resume
	Delay
	Stop
	Kill
	Check
	Process
)

var actionNames = [...]string{
	Start:   "start",
	Pause:   "pause",
	Resume:  "resume",
	Delay:   "delay",
	Stop:    "stop",
	Kill:    "kill",
	Check:   "check",
	Process: "process",
}

func (a Action) String() string {
	if a < 0 || int(a) >= len(actionNames) {
		return fmt.Sprintf("action(%d)", int32(a))
	}
	return actionNames[a]
}

// MarshalText implements encoding.TextMarshaler
func (a Action) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (a *Action) UnmarshalText(b []byte) error {
	parsed, err := ParseAction(string(b))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// PassThrough reports whether the action reaches the hooks even though it never changes status.
func (a Action) PassThrough() bool {
	return a == Check || a == Process
}

// ParseAction converts an action name into an Action
func ParseAction(name string) (Action, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, n := range actionNames {
		if n == name {
			return Action(i), nil
		}
	}
	return Start, fmt.Errorf("%w: %q", ErrUnknownAction, name)
}

// Transition computes the status that follows current when action is applied.
// Completed and Killed are absorbing. Check and Process never change status.
func Transition(current Status, action Action) Status {
	if current.Absorbing() {
		return current
	}

	switch action {
	case Start, Resume:
		return Running
	case Pause:
		return Paused
	case Stop:
		return Stopped
	case Kill:
		return Killed
	case Delay:
		return InActive
	default:
		return current
	}
}
