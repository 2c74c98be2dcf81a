package actor

import "errors"

var (
	// ErrMailboxClosed is returned when posting to an actor whose loop has exited
	ErrMailboxClosed = errors.New("mailbox closed")

	// ErrMailboxFull is returned when the content lane is at capacity
	ErrMailboxFull = errors.New("mailbox full")

	// ErrAlreadyRunning is returned by Run when the dispatch loop is already active
	ErrAlreadyRunning = errors.New("actor already running")

	// ErrUnknownStatus is returned when a status name cannot be parsed
	ErrUnknownStatus = errors.New("unknown status")

	// ErrUnknownAction is returned when an action name cannot be parsed
	ErrUnknownAction = errors.New("unknown action")
)
