package fluo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Machine represents a state machine instance
type Machine interface {
	Start() error
	Stop() error
	Reset() error

	CurrentState() string
	GetStateHierarchy() []string
	IsInState(stateID string) bool
	GetActiveStates() []string

	Dispatch(event Event) *EventResult
	SendEvent(eventName string, eventData any) *EventResult
	SendEventWithContext(ctx context.Context, eventName string, eventData any) *EventResult
	HandleEvent(eventName string, eventData any) *EventResult
	HandleEventWithContext(ctx context.Context, eventName string, eventData any) *EventResult

	AddObserver(observer Observer)
	RemoveObserver(observer Observer)

	Context() Context

	MarshalJSON() ([]byte, error)
}

// MachineState represents the current state of the machine
type MachineState int

const (
	// Machine is stopped and not processing events
	MachineStateStopped MachineState = iota
	// Machine is running and processing events
	MachineStateStarted
	// Machine is in error state
	MachineStateError
)

// maxInternalEvents bounds the raised events handled within a single dispatch
const maxInternalEvents = 10000

// StateMachine implements the Machine interface.
// Events are processed run-to-completion: an event and every event raised
// while handling it are fully processed before Dispatch returns.
type StateMachine struct {
	definition   *machineDefinition
	active       map[string]bool
	queue        []Event
	context      Context
	observers    *ObserverManager
	machineState MachineState
	mutex        sync.RWMutex
}

// newStateMachine creates a new state machine instance
func newStateMachine(def *machineDefinition, parent context.Context) *StateMachine {
	sm := &StateMachine{
		definition:   def,
		active:       make(map[string]bool),
		observers:    NewObserverManager(),
		machineState: MachineStateStopped,
	}

	sm.context = NewContext(parent, sm)
	return sm
}

// safeEvaluateGuard safely evaluates a guard function with panic recovery
func safeEvaluateGuard(guard GuardFunc, ctx Context) (result bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = false
			err = fmt.Errorf("guard panic: %v", r)
		}
	}()

	result = guard(ctx)
	return result, nil
}

// safeExecuteAction safely executes an action function with panic recovery
func safeExecuteAction(action ActionFunc, ctx Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("action panic: %v", r)
		}
	}()

	err = action(ctx)
	return err
}

// Start enters the initial configuration
func (sm *StateMachine) Start() error {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	if sm.machineState == MachineStateStarted {
		return NewMachineError(ErrCodeInvalidState, "Start", "machine is already started")
	}

	sm.machineState = MachineStateStarted

	entry := make(map[string]State)
	sm.addDescendantsToEnter(sm.definition.root, entry)
	sm.enterStates(entry)

	sm.observers.NotifyMachineStarted(sm.context)
	sm.drainQueue()

	return nil
}

// Stop exits every active state, innermost first
func (sm *StateMachine) Stop() error {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	if sm.machineState != MachineStateStarted {
		return NewMachineNotStartedError("Stop")
	}

	sm.halt()
	sm.observers.NotifyMachineStopped(sm.context)
	return nil
}

// Reset stops the machine if needed so that the next Start re-enters the initial configuration
func (sm *StateMachine) Reset() error {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	if sm.machineState == MachineStateStarted {
		sm.halt()
		sm.observers.NotifyMachineStopped(sm.context)
	}
	sm.machineState = MachineStateStopped
	return nil
}

func (sm *StateMachine) halt() {
	sm.exitStates(sm.exitSet(nil))
	sm.queue = nil
	sm.machineState = MachineStateStopped
}

// CurrentState returns the first active leaf state in document order
func (sm *StateMachine) CurrentState() string {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()
	return sm.currentState()
}

// SendEvent sends an event
func (sm *StateMachine) SendEvent(eventName string, eventData any) *EventResult {
	return sm.SendEventWithContext(context.Background(), eventName, eventData)
}

// SendEventWithContext sends an event with context
func (sm *StateMachine) SendEventWithContext(ctx context.Context, eventName string, eventData any) *EventResult {
	return sm.HandleEventWithContext(ctx, eventName, eventData)
}

// HandleEvent handles an event synchronously
func (sm *StateMachine) HandleEvent(eventName string, eventData any) *EventResult {
	return sm.HandleEventWithContext(context.Background(), eventName, eventData)
}

// HandleEventWithContext handles an event synchronously unless ctx is already done
func (sm *StateMachine) HandleEventWithContext(ctx context.Context, eventName string, eventData any) *EventResult {
	if ctx != nil && ctx.Err() != nil {
		current := sm.CurrentState()
		return NewEventResult(false, false, current, current).
			WithRejection("event context is done").
			WithError(ctx.Err())
	}
	return sm.Dispatch(NewEvent(eventName, eventData))
}

// Dispatch processes an event instance and every event raised while handling it.
// The same instance is visible to actions through Context.GetCurrentEvent.
// Dispatch takes the machine lock; actions must use Context.Raise instead.
func (sm *StateMachine) Dispatch(event Event) *EventResult {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	current := sm.currentState()
	if sm.machineState != MachineStateStarted {
		return NewEventResult(false, false, current, current).
			WithRejection("machine is not started").
			WithError(NewMachineNotStartedError("Dispatch"))
	}

	if event == nil || strings.TrimSpace(event.GetName()) == "" {
		reason := "event name cannot be empty"
		sm.observers.NotifyEventRejected(event, reason, sm.context)
		return NewEventResult(false, false, current, current).
			WithRejection(reason).
			WithError(errors.New(reason))
	}

	result := sm.processEvent(event)
	sm.drainQueue()
	result.CurrentState = sm.currentState()
	return result
}

// drainQueue processes raised events in FIFO order
func (sm *StateMachine) drainQueue() {
	for processed := 0; len(sm.queue) > 0; processed++ {
		if sm.machineState != MachineStateStarted {
			sm.queue = nil
			return
		}
		if processed >= maxInternalEvents {
			sm.observers.NotifyError(NewMachineError(ErrCodeInvalidState, "Dispatch",
				fmt.Sprintf("more than %d raised events in one step, dropping %d", maxInternalEvents, len(sm.queue))),
				sm.context)
			sm.queue = nil
			return
		}
		event := sm.queue[0]
		sm.queue = sm.queue[1:]
		sm.processEvent(event)
	}
}

// processEvent selects and executes the enabled transitions for one event
func (sm *StateMachine) processEvent(event Event) *EventResult {
	previous := sm.currentState()
	if smCtx, ok := sm.context.(*StateMachineContext); ok {
		smCtx.updateCurrentEvent(event)
	}

	enabled := sm.selectTransitions(event)
	if len(enabled) == 0 {
		reason := fmt.Sprintf("no valid transition found for event '%s' in state '%s'", event.GetName(), previous)
		sm.observers.NotifyEventRejected(event, reason, sm.context)
		return NewEventResult(false, false, previous, previous).
			WithRejection(reason).
			WithError(NewNoTransitionError(previous, event.GetName()))
	}

	var (
		changed  bool
		executed int
		firstErr error
	)
	for _, transition := range enabled {
		// an earlier transition in this step may have exited the source
		if !sm.active[transition.SourceState] {
			continue
		}
		moved, err := sm.executeTransition(transition, event)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		executed++
		changed = changed || moved
	}

	result := NewEventResult(executed > 0, changed, previous, sm.currentState())
	if firstErr != nil {
		result = result.WithError(firstErr)
	}
	return result
}

// selectTransitions returns the enabled transitions in document order of
// the active leaf states, searching from each leaf up through its ancestors
func (sm *StateMachine) selectTransitions(event Event) []*Transition {
	var enabled []*Transition
	seen := make(map[*Transition]bool)

	for _, leaf := range sm.activeLeaves() {
		for s := leaf; s != nil; s = s.Parent() {
			transition := sm.firstEnabled(s.ID(), event)
			if transition == nil {
				continue
			}
			if !seen[transition] {
				seen[transition] = true
				enabled = append(enabled, transition)
			}
			break
		}
	}
	return enabled
}

// firstEnabled returns the first transition of a state that matches the event
// and whose in-state and guard conditions hold
func (sm *StateMachine) firstEnabled(stateID string, event Event) *Transition {
	transitions := sm.definition.transitions[stateID]
	for i := range transitions {
		transition := &transitions[i]
		if transition.EventName != event.GetName() {
			continue
		}
		if transition.In != "" && !sm.active[transition.In] {
			continue
		}
		if transition.Guard != nil {
			ok, err := safeEvaluateGuard(transition.Guard, sm.context)
			if err != nil {
				sm.observers.NotifyError(err, sm.context)
				continue
			}
			sm.observers.NotifyGuardEvaluation(stateID, transition.TargetState, event, ok, sm.context)
			if !ok {
				continue
			}
		}
		return transition
	}
	return nil
}

// executeTransition runs the transition actions and, for external
// transitions, exits and enters states around the transition domain.
// A failing action aborts the transition before any state changes.
func (sm *StateMachine) executeTransition(transition *Transition, event Event) (bool, error) {
	if smCtx, ok := sm.context.(*StateMachineContext); ok {
		smCtx.updateTransitionInfo(sm.currentState(), transition.SourceState, transition.TargetState, event)
	}

	for _, action := range transition.Actions {
		sm.observers.NotifyActionExecution("transition", transition.SourceState, event, sm.context)
		if err := safeExecuteAction(action, sm.context); err != nil {
			reason := fmt.Sprintf("transition action failed: %v", err)
			sm.observers.NotifyEventRejected(event, reason, sm.context)
			return false, NewActionError("transition", transition.SourceState, err)
		}
	}

	if transition.IsTargetless() {
		return false, nil
	}

	source := sm.definition.states[transition.SourceState]
	target := sm.definition.states[transition.TargetState]
	domain := sm.transitionDomain(source, target)

	sm.exitStates(sm.exitSet(domain))
	sm.enterStates(sm.entrySet(target, domain))

	sm.observers.NotifyTransition(transition.SourceState, transition.TargetState, event, sm.context)
	return true, nil
}

// transitionDomain returns the nearest compound ancestor of source that also
// contains target, or nil when the transition spans the whole machine
func (sm *StateMachine) transitionDomain(source, target State) State {
	for anc := source.Parent(); anc != nil; anc = anc.Parent() {
		if anc.IsParallel() {
			continue
		}
		if isDescendant(target, anc) {
			return anc
		}
	}
	return nil
}

// exitSet returns the active descendants of domain, innermost and latest first
func (sm *StateMachine) exitSet(domain State) []State {
	var states []State
	for _, s := range sm.definition.ordered {
		if !sm.active[s.ID()] {
			continue
		}
		if domain == nil || isDescendant(s, domain) {
			states = append(states, s)
		}
	}
	sort.SliceStable(states, func(i, j int) bool {
		return stateOrder(states[i]) > stateOrder(states[j])
	})
	return states
}

// entrySet returns the states entered when targeting target from within domain
func (sm *StateMachine) entrySet(target, domain State) map[string]State {
	entry := make(map[string]State)
	sm.addDescendantsToEnter(target, entry)

	for anc := target.Parent(); anc != nil; anc = anc.Parent() {
		if domain != nil && anc.ID() == domain.ID() {
			break
		}
		entry[anc.ID()] = anc
		if !anc.IsParallel() {
			continue
		}
		for _, region := range anc.Children() {
			if !coversRegion(entry, region) {
				sm.addDescendantsToEnter(region, entry)
			}
		}
	}
	return entry
}

// addDescendantsToEnter adds s and its default descendants
func (sm *StateMachine) addDescendantsToEnter(s State, entry map[string]State) {
	entry[s.ID()] = s
	switch {
	case s.IsParallel():
		for _, child := range s.Children() {
			sm.addDescendantsToEnter(child, entry)
		}
	case s.IsComposite():
		if composite, ok := s.(CompositeState); ok && composite.InitialState() != nil {
			sm.addDescendantsToEnter(composite.InitialState(), entry)
		}
	}
}

// coversRegion reports whether the entry set already holds region or one of its descendants
func coversRegion(entry map[string]State, region State) bool {
	for _, s := range entry {
		if s.ID() == region.ID() || isDescendant(s, region) {
			return true
		}
	}
	return false
}

// enterStates enters states in document order
func (sm *StateMachine) enterStates(entry map[string]State) {
	states := make([]State, 0, len(entry))
	for _, s := range entry {
		states = append(states, s)
	}
	sort.Slice(states, func(i, j int) bool {
		return stateOrder(states[i]) < stateOrder(states[j])
	})

	for _, s := range states {
		sm.active[s.ID()] = true
		if smCtx, ok := sm.context.(*StateMachineContext); ok {
			smCtx.updateCurrentState(sm.currentState())
		}
		sm.runStateActions("entry", s, func(b *AtomicStateImpl) []ActionFunc { return b.entryActions }, s.Enter)
		sm.observers.NotifyStateEnter(s.ID(), sm.context)
	}
}

// exitStates exits states in the given order
func (sm *StateMachine) exitStates(states []State) {
	for _, s := range states {
		sm.runStateActions("exit", s, func(b *AtomicStateImpl) []ActionFunc { return b.exitActions }, s.Exit)
		delete(sm.active, s.ID())
		sm.observers.NotifyStateExit(s.ID(), sm.context)
	}
	if smCtx, ok := sm.context.(*StateMachineContext); ok {
		smCtx.updateCurrentState(sm.currentState())
	}
}

// runStateActions executes entry or exit actions, reporting failures to observers.
// States not built on AtomicStateImpl fall back to their own Enter or Exit.
func (sm *StateMachine) runStateActions(kind string, s State, actions func(*AtomicStateImpl) []ActionFunc, fallback func(Context)) {
	b, ok := s.(interface{ base() *AtomicStateImpl })
	if !ok {
		fallback(sm.context)
		return
	}
	for _, action := range actions(b.base()) {
		sm.observers.NotifyActionExecution(kind, s.ID(), sm.context.GetCurrentEvent(), sm.context)
		if err := safeExecuteAction(action, sm.context); err != nil {
			sm.observers.NotifyError(NewActionError(kind, s.ID(), err), sm.context)
		}
	}
}

// activeLeaves returns the active leaf states in document order
func (sm *StateMachine) activeLeaves() []State {
	var leaves []State
	for _, s := range sm.definition.ordered {
		if sm.active[s.ID()] && len(s.Children()) == 0 {
			leaves = append(leaves, s)
		}
	}
	return leaves
}

func (sm *StateMachine) currentState() string {
	for _, s := range sm.definition.ordered {
		if sm.active[s.ID()] && len(s.Children()) == 0 {
			return s.ID()
		}
	}
	return ""
}

// isActive is called from actions while the machine lock is held
func (sm *StateMachine) isActive(stateID string) bool {
	return sm.active[stateID]
}

// enqueue is called from actions while the machine lock is held
func (sm *StateMachine) enqueue(event Event) {
	sm.queue = append(sm.queue, event)
}

// GetStateHierarchy returns the path from the root to the current state
func (sm *StateMachine) GetStateHierarchy() []string {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()

	current := sm.currentState()
	if current == "" {
		return []string{}
	}

	hierarchy := []string{current}
	for parent := sm.definition.states[current].Parent(); parent != nil; parent = parent.Parent() {
		hierarchy = append([]string{parent.ID()}, hierarchy...)
	}
	return hierarchy
}

// IsInState checks if a state is part of the active configuration
func (sm *StateMachine) IsInState(stateID string) bool {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()
	return sm.active[stateID]
}

// GetActiveStates returns all active states in document order
func (sm *StateMachine) GetActiveStates() []string {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()

	activeStates := []string{}
	for _, s := range sm.definition.ordered {
		if sm.active[s.ID()] {
			activeStates = append(activeStates, s.ID())
		}
	}
	return activeStates
}

// AddObserver adds an observer to the machine
func (sm *StateMachine) AddObserver(observer Observer) {
	sm.observers.AddObserver(observer)
}

// RemoveObserver removes an observer from the machine
func (sm *StateMachine) RemoveObserver(observer Observer) {
	sm.observers.RemoveObserver(observer)
}

// Context returns the machine's context
func (sm *StateMachine) Context() Context {
	return sm.context
}

// MarshalJSON serializes a snapshot of the machine
func (sm *StateMachine) MarshalJSON() ([]byte, error) {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()

	activeStates := []string{}
	for _, s := range sm.definition.ordered {
		if sm.active[s.ID()] {
			activeStates = append(activeStates, s.ID())
		}
	}

	data := map[string]any{
		"currentState": sm.currentState(),
		"activeStates": activeStates,
		"initialState": sm.definition.root.ID(),
		"machineState": sm.machineState,
		"contextData":  sm.context.GetAll(),
	}

	return json.Marshal(data)
}
