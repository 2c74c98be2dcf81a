// Package policy wraps operations with retry, limit, ratio and throttling behavior.
//
// A Policy decorates an Operation. Chain composes policies so that the
// first one listed is the outermost wrapper:
//
//	Chain([]Policy{recover, retry, limit}, op) runs as recover → retry → limit → op
package policy

import (
	"context"
	"errors"

	"github.com/cuongbtq/jobengine/internal/metrics"
)

// Code classifies an Outcome
type Code int

const (
	Succeeded Code = iota
	Errored
	Denied
	Invalid
	Ignored
	Limited
	Unexpected
)

var codeNames = [...]string{
	Succeeded:  "succeeded",
	Errored:    "errored",
	Denied:     "denied",
	Invalid:    "invalid",
	Ignored:    "ignored",
	Limited:    "limited",
	Unexpected: "unexpected",
}

func (c Code) String() string {
	if c < 0 || int(c) >= len(codeNames) {
		return "unknown"
	}
	return codeNames[c]
}

// Counter returns the counter that records outcomes with this code
func (c Code) Counter() metrics.Counter {
	switch c {
	case Succeeded:
		return metrics.Succeeded
	case Errored:
		return metrics.Errored
	case Denied, Limited:
		return metrics.Denied
	case Invalid:
		return metrics.Invalid
	case Ignored:
		return metrics.Ignored
	default:
		return metrics.Unexpected
	}
}

var (
	// ErrLimited is attached to outcomes rejected by Limit or Ratio
	ErrLimited = errors.New("limit reached")

	// ErrIgnored is attached to outcomes skipped by Step
	ErrIgnored = errors.New("call skipped")
)

// Outcome is the typed result of an operation. Failures are values, never panics.
type Outcome[O any] struct {
	Value O
	Err   error
	Code  Code
}

// Ok reports whether the outcome succeeded
func (o Outcome[O]) Ok() bool { return o.Code == Succeeded }

// Success wraps a value
func Success[O any](v O) Outcome[O] {
	return Outcome[O]{Value: v, Code: Succeeded}
}

// Failure wraps an error as Errored
func Failure[O any](err error) Outcome[O] {
	return Outcome[O]{Err: err, Code: Errored}
}

// Reject builds an outcome that never reached the operation
func Reject[O any](code Code, err error) Outcome[O] {
	return Outcome[O]{Err: err, Code: code}
}

// Operation is the unit of work a policy wraps
type Operation[I, O any] func(ctx context.Context, in I) Outcome[O]

// Policy decorates an operation
type Policy[I, O any] interface {
	Run(ctx context.Context, in I, op Operation[I, O]) Outcome[O]
}

// Func adapts a function to the Policy interface
type Func[I, O any] func(ctx context.Context, in I, op Operation[I, O]) Outcome[O]

func (f Func[I, O]) Run(ctx context.Context, in I, op Operation[I, O]) Outcome[O] {
	return f(ctx, in, op)
}

// Chain wraps op with policies. The first policy is the outermost.
func Chain[I, O any](policies []Policy[I, O], op Operation[I, O]) Operation[I, O] {
	h := op
	for i := len(policies) - 1; i >= 0; i-- {
		p := policies[i]
		next := h
		h = func(ctx context.Context, in I) Outcome[O] {
			return p.Run(ctx, in, next)
		}
	}
	return h
}
