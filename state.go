package fluo

// State represents a state in the state machine
type State interface {
	ID() string
	Enter(ctx Context)
	Exit(ctx Context)
	Parent() State
	Children() []State
	IsComposite() bool
	IsParallel() bool
	IsFinal() bool
}

// CompositeState represents a state with substates
type CompositeState interface {
	State
	InitialState() State
}

// ActionFunc represents an enhanced action function with error support
type ActionFunc func(ctx Context) error

// GuardFunc represents a guard condition function
type GuardFunc func(ctx Context) bool

// AtomicStateImpl implements a leaf state
type AtomicStateImpl struct {
	id           string
	parent       State
	entryActions []ActionFunc
	exitActions  []ActionFunc
	final        bool
	order        int
}

// NewAtomicState creates a new atomic state
func NewAtomicState(id string) *AtomicStateImpl {
	return &AtomicStateImpl{id: id}
}

// NewFinalState creates a new final state
func NewFinalState(id string) *AtomicStateImpl {
	return &AtomicStateImpl{id: id, final: true}
}

// ID returns the state identifier
func (s *AtomicStateImpl) ID() string {
	return s.id
}

// Enter executes the entry actions in declaration order
func (s *AtomicStateImpl) Enter(ctx Context) {
	for _, action := range s.entryActions {
		_ = safeExecuteAction(action, ctx)
	}
}

// Exit executes the exit actions in declaration order
func (s *AtomicStateImpl) Exit(ctx Context) {
	for _, action := range s.exitActions {
		_ = safeExecuteAction(action, ctx)
	}
}

// Parent returns the parent state
func (s *AtomicStateImpl) Parent() State {
	return s.parent
}

// Children returns nil for atomic states
func (s *AtomicStateImpl) Children() []State {
	return nil
}

// IsComposite returns false for atomic states
func (s *AtomicStateImpl) IsComposite() bool {
	return false
}

// IsParallel returns false for atomic states
func (s *AtomicStateImpl) IsParallel() bool {
	return false
}

// IsFinal returns whether this is a final state
func (s *AtomicStateImpl) IsFinal() bool {
	return s.final
}

// WithEntryAction appends an entry action
func (s *AtomicStateImpl) WithEntryAction(action ActionFunc) *AtomicStateImpl {
	s.entryActions = append(s.entryActions, action)
	return s
}

// WithExitAction appends an exit action
func (s *AtomicStateImpl) WithExitAction(action ActionFunc) *AtomicStateImpl {
	s.exitActions = append(s.exitActions, action)
	return s
}

// WithParent sets the parent state
func (s *AtomicStateImpl) WithParent(parent State) *AtomicStateImpl {
	s.parent = parent
	return s
}

func (s *AtomicStateImpl) base() *AtomicStateImpl {
	return s
}

// CompositeStateImpl implements a hierarchical state with one active child
type CompositeStateImpl struct {
	AtomicStateImpl
	initialState State
	substates    []State
}

// NewCompositeState creates a new composite state
func NewCompositeState(id string) *CompositeStateImpl {
	return &CompositeStateImpl{
		AtomicStateImpl: *NewAtomicState(id),
		substates:       make([]State, 0),
	}
}

// IsComposite returns true for composite states
func (s *CompositeStateImpl) IsComposite() bool {
	return true
}

// InitialState returns the initial substate
func (s *CompositeStateImpl) InitialState() State {
	if s.initialState == nil && len(s.substates) > 0 {
		return s.substates[0]
	}
	return s.initialState
}

// Children returns all substates in declaration order
func (s *CompositeStateImpl) Children() []State {
	return s.substates
}

// AddSubstate adds a substate; the caller links the parent with WithParent
// so parallel states are seen as parallel by their children
func (s *CompositeStateImpl) AddSubstate(state State) {
	s.substates = append(s.substates, state)
}

// WithInitialState sets the initial substate
func (s *CompositeStateImpl) WithInitialState(state State) *CompositeStateImpl {
	s.initialState = state
	return s
}

// ParallelStateImpl implements a state whose children are orthogonal regions
type ParallelStateImpl struct {
	CompositeStateImpl
}

// NewParallelState creates a new parallel state
func NewParallelState(id string) *ParallelStateImpl {
	return &ParallelStateImpl{
		CompositeStateImpl: *NewCompositeState(id),
	}
}

// IsParallel returns true for parallel states
func (s *ParallelStateImpl) IsParallel() bool {
	return true
}

// Regions returns the orthogonal child states
func (s *ParallelStateImpl) Regions() []State {
	return s.substates
}

// stateOrder returns the document order assigned by the builder
func stateOrder(s State) int {
	if b, ok := s.(interface{ base() *AtomicStateImpl }); ok {
		return b.base().order
	}
	return 0
}

// isDescendant reports whether s is a proper descendant of ancestor
func isDescendant(s, ancestor State) bool {
	for p := s.Parent(); p != nil; p = p.Parent() {
		if p.ID() == ancestor.ID() {
			return true
		}
	}
	return false
}
