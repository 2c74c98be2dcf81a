package actor

import "github.com/google/uuid"

// NoRef is the correlation id used when a message has no reference
const NoRef = "NONE"

// Envelope is a message delivered through an actor's mailbox.
// The set is closed: Control, Content and Request.
type Envelope interface {
	Reference() string
	envelope()
}

// Control asks an actor to apply an Action
type Control struct {
	ID      string
	Action  Action
	Msg     string
	Seconds int
	Ref     string

	reply chan Feedback
}

// NewControl creates a control message with a fresh id
func NewControl(action Action) Control {
	return Control{ID: uuid.NewString(), Action: action, Ref: NoRef}
}

// WithSeconds returns a copy of the control carrying a delay in seconds
func (c Control) WithSeconds(seconds int) Control {
	c.Seconds = seconds
	return c
}

// WithRef returns a copy of the control carrying a correlation id
func (c Control) WithRef(ref string) Control {
	c.Ref = ref
	return c
}

// WithMsg returns a copy of the control carrying a note
func (c Control) WithMsg(msg string) Control {
	c.Msg = msg
	return c
}

func (c Control) Reference() string { return refOrNone(c.Ref) }
func (Control) envelope()           {}

// Content hands a payload to the actor's work function
type Content[T any] struct {
	ID   string
	Data T
	Ref  string
}

// NewContent creates a content message with a fresh id
func NewContent[T any](data T) Content[T] {
	return Content[T]{ID: uuid.NewString(), Data: data, Ref: NoRef}
}

func (c Content[T]) Reference() string { return refOrNone(c.Ref) }
func (Content[T]) envelope()           {}

// Request asks the actor to pull its own payload
type Request struct {
	ID  string
	Ref string
}

// NewRequest creates a request message with a fresh id
func NewRequest(ref string) Request {
	return Request{ID: uuid.NewString(), Ref: refOrNone(ref)}
}

func (r Request) Reference() string { return refOrNone(r.Ref) }
func (Request) envelope()           {}

// Feedback is the reply to a Control message
type Feedback struct {
	Accepted bool   `json:"accepted"`
	Changed  bool   `json:"changed"`
	Action   Action `json:"action"`
	Status   Status `json:"status"`
}

func refOrNone(ref string) string {
	if ref == "" {
		return NoRef
	}
	return ref
}
