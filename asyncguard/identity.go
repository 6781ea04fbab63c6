package asyncguard

import (
	"fmt"
	"strings"
)

const (
	idleSuffix     = "async-guards-init"
	stepPrefix     = "async-guards-"
	actorKeyPrefix = "asyncGuardActor#"

	donePrefix  = "done.async-guard."
	errorPrefix = "error.async-guard."
)

// GuardID identifies one cascade step
type GuardID struct {
	StateID string
	Event   string
	Guard   string
	Step    int
}

// String renders guard[state.event.step]
func (id GuardID) String() string {
	return fmt.Sprintf("%s[%s.%s.%d]", id.Guard, id.StateID, id.Event, id.Step)
}

// DoneEvent is the name of the event carrying the step's Result
func (id GuardID) DoneEvent() string {
	return donePrefix + id.String()
}

// FailureEvent is the name of the event carrying the step's Failure
func (id GuardID) FailureEvent() string {
	return errorPrefix + id.String()
}

// ActorKey is the context key holding the step's in-flight Task
func (id GuardID) ActorKey() string {
	return actorKeyPrefix + id.String()
}

// IdleStateID returns the ID of the idle substate of a compiled state
func IdleStateID(stateID string) string {
	return stateID + "." + idleSuffix
}

// StepStateID returns the ID of a cascade step substate
func StepStateID(stateID, event string, step int) string {
	return fmt.Sprintf("%s.%s%s-%d", stateID, stepPrefix, strings.ReplaceAll(event, ".", "_"), step)
}

// isActorKey reports whether a context key holds a Task
func isActorKey(key string) bool {
	return strings.HasPrefix(key, actorKeyPrefix)
}
