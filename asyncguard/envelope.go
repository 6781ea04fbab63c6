package asyncguard

import (
	"fmt"
	"strings"

	fluo "github.com/anggasct/fluo-asyncguards"
)

// Kind tells a triggering event apart from an envelope wrapping one
type Kind int

const (
	// Direct events were sent by the application
	Direct Kind = iota
	// Wrapped events carry the event that started a cascade
	Wrapped
)

// String returns the lowercase kind name
func (k Kind) String() string {
	if k == Wrapped {
		return "wrapped"
	}
	return "direct"
}

// Envelope is implemented by events that carry an original event
type Envelope interface {
	fluo.Event
	OriginalEvent() fluo.Event
}

// KindOf classifies an event
func KindOf(event fluo.Event) Kind {
	if env, ok := event.(Envelope); ok && env.OriginalEvent() != nil {
		return Wrapped
	}
	return Direct
}

// maxUnwrapDepth bounds Unwrap for envelopes that wrap themselves
const maxUnwrapDepth = 32

// Unwrap returns the innermost original event; Direct events are returned as is
func Unwrap(event fluo.Event) fluo.Event {
	for depth := 0; depth < maxUnwrapDepth; depth++ {
		env, ok := event.(Envelope)
		if !ok {
			return event
		}
		original := env.OriginalEvent()
		if original == nil {
			return event
		}
		event = original
	}
	return event
}

// Result is delivered when a guard predicate resolves
type Result struct {
	fluo.Event
	ID       GuardID
	Token    string
	Outcome  bool
	Original fluo.Event
}

// OriginalEvent implements Envelope
func (r *Result) OriginalEvent() fluo.Event {
	return r.Original
}

func newResult(id GuardID, token string, outcome bool, original fluo.Event) *Result {
	return &Result{
		Event:    fluo.NewEvent(id.DoneEvent(), outcome),
		ID:       id,
		Token:    token,
		Outcome:  outcome,
		Original: original,
	}
}

// Failure is delivered when a guard predicate returns an error or panics
type Failure struct {
	fluo.Event
	ID       GuardID
	Token    string
	Err      error
	Original fluo.Event
}

// OriginalEvent implements Envelope
func (f *Failure) OriginalEvent() fluo.Event {
	return f.Original
}

func newFailure(id GuardID, token string, err error, original fluo.Event) *Failure {
	return &Failure{
		Event:    fluo.NewEvent(id.FailureEvent(), err),
		ID:       id,
		Token:    token,
		Err:      err,
		Original: original,
	}
}

// GuardError is the payload of error.async-guard.<guard> events
type GuardError struct {
	Guard string
	ID    GuardID
	Err   error
	// Event is the event whose cascade failed
	Event fluo.Event
}

func (e *GuardError) Error() string {
	return fmt.Sprintf("async guard %s failed: %v", e.ID, e.Err)
}

func (e *GuardError) Unwrap() error {
	return e.Err
}

// ErrorEvent returns the event name that reports failures of a guard.
// Handlers for it belong in the compiled state's own transition table.
func ErrorEvent(guard string) string {
	return errorPrefix + guard
}

// IsErrorEvent reports whether an event name is a guard failure event
func IsErrorEvent(name string) bool {
	return strings.HasPrefix(name, errorPrefix)
}

// GuardErrorOf extracts the GuardError carried by an error.async-guard.<guard> event
func GuardErrorOf(event fluo.Event) (*GuardError, bool) {
	if event == nil || !IsErrorEvent(event.GetName()) {
		return nil, false
	}
	guardErr, ok := event.GetData().(*GuardError)
	return guardErr, ok
}
