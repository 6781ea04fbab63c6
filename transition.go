package fluo

// Transition represents a compiled state transition
type Transition struct {
	SourceState string
	TargetState string
	EventName   string
	Guard       GuardFunc
	In          string
	Actions     []ActionFunc
	Description string
}

// NewTransition creates a new transition
func NewTransition(sourceState, targetState, eventName string) *Transition {
	return &Transition{
		SourceState: sourceState,
		TargetState: targetState,
		EventName:   eventName,
	}
}

// WithGuard adds a guard condition to the transition
func (t *Transition) WithGuard(guard GuardFunc) *Transition {
	t.Guard = guard
	return t
}

// WithAction appends an action to the transition
func (t *Transition) WithAction(action ActionFunc) *Transition {
	t.Actions = append(t.Actions, action)
	return t
}

// WithIn makes the transition conditional on another active state
func (t *Transition) WithIn(stateID string) *Transition {
	t.In = stateID
	return t
}

// IsTargetless reports whether the transition only runs actions
func (t *Transition) IsTargetless() bool {
	return t.TargetState == ""
}
