package fluo

import (
	"context"
	"reflect"
	"runtime"
	"strings"
)

// StateType classifies a declared state node
type StateType int

const (
	// Inferred lets the builder pick Atomic or Compound from the children
	Inferred StateType = iota
	// Atomic is a leaf state
	Atomic
	// Compound has exactly one active child at a time
	Compound
	// Parallel has all children active at the same time
	Parallel
	// Final is a terminal leaf state
	Final
)

// String returns the lowercase name of the state type
func (t StateType) String() string {
	switch t {
	case Atomic:
		return "atomic"
	case Compound:
		return "compound"
	case Parallel:
		return "parallel"
	case Final:
		return "final"
	default:
		return "inferred"
	}
}

// AsyncGuardFunc is a guard predicate that may block on I/O.
// data is a snapshot of the machine context taken when evaluation started.
type AsyncGuardFunc func(ctx context.Context, data map[string]any, event Event) (bool, error)

// AsyncGuard references an asynchronous guard, either by registry name or inline.
// The runtime never evaluates it; declarations using it must be compiled first.
type AsyncGuard struct {
	Name string
	Fn   AsyncGuardFunc
}

// NamedGuard references a guard resolved later against a registry
func NamedGuard(name string) *AsyncGuard {
	return &AsyncGuard{Name: name}
}

// InlineGuard wraps a predicate. An empty name is derived from the function symbol.
func InlineGuard(name string, fn AsyncGuardFunc) *AsyncGuard {
	return &AsyncGuard{Name: name, Fn: fn}
}

// IsInline reports whether the guard carries its own predicate
func (g *AsyncGuard) IsInline() bool {
	return g != nil && g.Fn != nil
}

// DisplayName returns the name used for identities and error routing
func (g *AsyncGuard) DisplayName() string {
	if g == nil {
		return ""
	}
	if g.Name != "" || g.Fn == nil {
		return g.Name
	}
	return funcName(g.Fn)
}

// funcName returns the package-relative symbol of a function value
func funcName(fn any) string {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func || v.IsNil() {
		return ""
	}
	f := runtime.FuncForPC(v.Pointer())
	if f == nil {
		return "anonymous"
	}
	name := f.Name()
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	if i := strings.Index(name, "."); i >= 0 {
		name = name[i+1:]
	}
	return name
}

// TransitionDecl declares one candidate transition for an event
type TransitionDecl struct {
	// Target is the destination state ID; empty means a targetless transition
	Target string
	// Guard is evaluated synchronously by the runtime
	Guard GuardFunc
	// AsyncGuard must be compiled away before the runtime accepts the declaration
	AsyncGuard *AsyncGuard
	// In makes the transition conditional on another state being active
	In string
	// Actions run before the source state is exited
	Actions []ActionFunc
	// Description is free text carried into visualizations
	Description string
}

// HasAsyncGuard reports whether the transition still needs compilation
func (t TransitionDecl) HasAsyncGuard() bool {
	return t.AsyncGuard != nil
}

// TransitionTable maps event names to ordered candidate transitions
type TransitionTable map[string][]TransitionDecl

// To declares an unguarded transition to target
func To(target string) []TransitionDecl {
	return []TransitionDecl{{Target: target}}
}

// Clone returns a table whose candidate slices can be modified independently
func (t TransitionTable) Clone() TransitionTable {
	if t == nil {
		return nil
	}
	out := make(TransitionTable, len(t))
	for event, candidates := range t {
		out[event] = append([]TransitionDecl(nil), candidates...)
	}
	return out
}

// StateNode is the declarative description of a state and its substates
type StateNode struct {
	ID      string
	Type    StateType
	Initial string
	States  []StateNode
	On      TransitionTable
	Entry   []ActionFunc
	Exit    []ActionFunc
	Meta    map[string]any
}

// Kind resolves the inferred state type
func (n StateNode) Kind() StateType {
	if n.Type != Inferred {
		return n.Type
	}
	if len(n.States) > 0 {
		return Compound
	}
	return Atomic
}

// Find returns the node with the given ID within the tree
func (n StateNode) Find(id string) (StateNode, bool) {
	if n.ID == id {
		return n, true
	}
	for _, child := range n.States {
		if found, ok := child.Find(id); ok {
			return found, true
		}
	}
	return StateNode{}, false
}

// Walk visits the tree in document order until fn returns false
func (n StateNode) Walk(fn func(node StateNode) bool) bool {
	if !fn(n) {
		return false
	}
	for _, child := range n.States {
		if !child.Walk(fn) {
			return false
		}
	}
	return true
}
