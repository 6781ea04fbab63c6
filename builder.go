package fluo

import (
	"context"
	"fmt"
	"sort"
)

// MachineDefinition represents the validated, immutable form of a declaration
type MachineDefinition interface {
	CreateInstance() Machine
	CreateInstanceWithContext(parent context.Context) Machine

	GetInitialState() string
	GetStates() map[string]State
	GetTransitions() map[string][]Transition
	Declaration() StateNode
}

// machineDefinition implements MachineDefinition
type machineDefinition struct {
	declaration StateNode
	root        State
	states      map[string]State
	ordered     []State
	transitions map[string][]Transition
}

// NewDefinition validates a declaration tree and prepares it for execution.
// Transitions that still carry an AsyncGuard are rejected; compile them with
// the asyncguard package first.
func NewDefinition(root StateNode) (MachineDefinition, error) {
	b := &definitionBuilder{
		states:      make(map[string]State),
		transitions: make(map[string][]Transition),
	}

	rootState, err := b.addState(root, nil)
	if err != nil {
		return nil, err
	}

	if err := b.validate(); err != nil {
		return nil, err
	}

	return &machineDefinition{
		declaration: root,
		root:        rootState,
		states:      b.states,
		ordered:     b.ordered,
		transitions: b.transitions,
	}, nil
}

// MustDefinition is NewDefinition that panics on invalid declarations
func MustDefinition(root StateNode) MachineDefinition {
	def, err := NewDefinition(root)
	if err != nil {
		panic(fmt.Sprintf("Failed to build machine: %v", err))
	}
	return def
}

// CreateInstance creates a new machine bound to context.Background
func (d *machineDefinition) CreateInstance() Machine {
	return d.CreateInstanceWithContext(context.Background())
}

// CreateInstanceWithContext creates a new machine whose context derives from parent
func (d *machineDefinition) CreateInstanceWithContext(parent context.Context) Machine {
	return newStateMachine(d, parent)
}

// GetInitialState returns the root state ID
func (d *machineDefinition) GetInitialState() string {
	return d.root.ID()
}

// GetStates returns all states by ID
func (d *machineDefinition) GetStates() map[string]State {
	return d.states
}

// GetTransitions returns transitions grouped by source state ID
func (d *machineDefinition) GetTransitions() map[string][]Transition {
	return d.transitions
}

// Declaration returns the declaration the definition was built from
func (d *machineDefinition) Declaration() StateNode {
	return d.declaration
}

// definitionBuilder flattens a declaration tree
type definitionBuilder struct {
	states      map[string]State
	ordered     []State
	transitions map[string][]Transition
}

// addState creates the runtime state for a node and recurses into its children
func (b *definitionBuilder) addState(node StateNode, parent State) (State, error) {
	if node.ID == "" {
		return nil, NewConfigurationError("StateNode", "state ID is mandatory")
	}
	if _, exists := b.states[node.ID]; exists {
		return nil, NewConfigurationError("StateNode", fmt.Sprintf("duplicate state ID '%s'", node.ID))
	}

	kind := node.Kind()
	var (
		state     State
		base      *AtomicStateImpl
		composite *CompositeStateImpl
	)
	switch kind {
	case Atomic, Final:
		if len(node.States) > 0 {
			return nil, NewConfigurationError(node.ID, fmt.Sprintf("%s state cannot have substates", kind))
		}
		atomic := NewAtomicState(node.ID)
		atomic.final = kind == Final
		state, base = atomic, atomic
	case Compound:
		composite = NewCompositeState(node.ID)
		state, base = composite, &composite.AtomicStateImpl
	case Parallel:
		parallel := NewParallelState(node.ID)
		composite = &parallel.CompositeStateImpl
		state, base = parallel, &parallel.AtomicStateImpl
	default:
		return nil, NewConfigurationError(node.ID, fmt.Sprintf("unknown state type %d", kind))
	}

	if composite != nil && len(node.States) == 0 {
		return nil, NewConfigurationError(node.ID, fmt.Sprintf("%s state requires substates", kind))
	}

	base.order = len(b.ordered)
	base.entryActions = append(base.entryActions, node.Entry...)
	base.exitActions = append(base.exitActions, node.Exit...)
	if parent != nil {
		base.WithParent(parent)
	}
	b.states[node.ID] = state
	b.ordered = append(b.ordered, state)

	for _, child := range node.States {
		childState, err := b.addState(child, state)
		if err != nil {
			return nil, err
		}
		composite.AddSubstate(childState)
		if kind == Compound && child.ID == node.Initial {
			composite.WithInitialState(childState)
		}
	}

	if node.Initial != "" {
		if kind != Compound {
			return nil, NewConfigurationError(node.ID, "only compound states declare an initial substate")
		}
		if composite.initialState == nil {
			return nil, NewConfigurationError(node.ID, fmt.Sprintf("initial state '%s' is not a direct substate", node.Initial))
		}
	}

	return state, b.addTransitions(node)
}

// addTransitions records the node's transition table in event-name order
func (b *definitionBuilder) addTransitions(node StateNode) error {
	events := make([]string, 0, len(node.On))
	for event := range node.On {
		events = append(events, event)
	}
	sort.Strings(events)

	for _, event := range events {
		if event == "" {
			return NewConfigurationError(node.ID, "event name cannot be empty")
		}
		for i, decl := range node.On[event] {
			if decl.HasAsyncGuard() {
				return NewConfigurationError(node.ID, fmt.Sprintf(
					"transition %d for event '%s' uses async guard '%s' and must be compiled with asyncguard.WithAsyncGuards",
					i, event, decl.AsyncGuard.DisplayName()))
			}
			b.transitions[node.ID] = append(b.transitions[node.ID], Transition{
				SourceState: node.ID,
				TargetState: decl.Target,
				EventName:   event,
				Guard:       decl.Guard,
				In:          decl.In,
				Actions:     decl.Actions,
				Description: decl.Description,
			})
		}
	}
	return nil
}

// validate checks that every reference points at a declared state
func (b *definitionBuilder) validate() error {
	for _, state := range b.ordered {
		for _, transition := range b.transitions[state.ID()] {
			if transition.TargetState != "" {
				if _, exists := b.states[transition.TargetState]; !exists {
					return NewConfigurationError(state.ID(), fmt.Sprintf(
						"target state '%s' does not exist for event '%s'", transition.TargetState, transition.EventName))
				}
			}
			if transition.In != "" {
				if _, exists := b.states[transition.In]; !exists {
					return NewConfigurationError(state.ID(), fmt.Sprintf(
						"in-state '%s' does not exist for event '%s'", transition.In, transition.EventName))
				}
			}
		}
	}
	return nil
}
