package observers

import (
	"fmt"
	"sort"
	"sync"

	fluo "github.com/anggasct/fluo-asyncguards"
)

// ValidationObserver checks a run against expected states and allowed transitions
type ValidationObserver struct {
	fluo.BaseObserver

	expectedStates     map[string]bool
	visitedStates      map[string]bool
	allowedTransitions map[string]map[string]bool
	violations         []string
	mutex              sync.RWMutex
}

// NewValidationObserver creates a new validation observer
func NewValidationObserver() *ValidationObserver {
	return &ValidationObserver{
		expectedStates:     make(map[string]bool),
		visitedStates:      make(map[string]bool),
		allowedTransitions: make(map[string]map[string]bool),
		violations:         make([]string, 0),
	}
}

// AddExpectedState adds a state that the run must visit
func (o *ValidationObserver) AddExpectedState(stateID string) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.expectedStates[stateID] = true
}

// AddAllowedTransition restricts the targets reachable from a source state.
// Sources without any allowed transition are not checked.
func (o *ValidationObserver) AddAllowedTransition(from, to string) {
	o.mutex.Lock()
	defer o.mutex.Unlock()

	if _, exists := o.allowedTransitions[from]; !exists {
		o.allowedTransitions[from] = make(map[string]bool)
	}
	o.allowedTransitions[from][to] = true
}

// OnStateEnter marks the state as visited
func (o *ValidationObserver) OnStateEnter(state string, ctx fluo.Context) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.visitedStates[state] = true
}

// OnTransition validates transitions
func (o *ValidationObserver) OnTransition(from string, to string, event fluo.Event, ctx fluo.Context) {
	o.mutex.Lock()
	defer o.mutex.Unlock()

	if allowed, exists := o.allowedTransitions[from]; exists && !allowed[to] {
		name := ""
		if event != nil {
			name = event.GetName()
		}
		o.violations = append(o.violations, fmt.Sprintf(
			"Invalid transition from '%s' to '%s' on event '%s'", from, to, name))
	}
}

// OnError records errors as violations
func (o *ValidationObserver) OnError(err error, ctx fluo.Context) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.violations = append(o.violations, fmt.Sprintf("Error occurred: %v", err))
}

// GetViolations returns all validation violations
func (o *ValidationObserver) GetViolations() []string {
	o.mutex.RLock()
	defer o.mutex.RUnlock()

	result := make([]string, len(o.violations))
	copy(result, o.violations)
	return result
}

// GetUnvisitedStates returns expected states that were not visited, sorted
func (o *ValidationObserver) GetUnvisitedStates() []string {
	o.mutex.RLock()
	defer o.mutex.RUnlock()

	var unvisited []string
	for state := range o.expectedStates {
		if !o.visitedStates[state] {
			unvisited = append(unvisited, state)
		}
	}
	sort.Strings(unvisited)
	return unvisited
}

// HasViolations returns whether any violations occurred
func (o *ValidationObserver) HasViolations() bool {
	o.mutex.RLock()
	defer o.mutex.RUnlock()
	return len(o.violations) > 0
}

// Reset resets the validation state
func (o *ValidationObserver) Reset() {
	o.mutex.Lock()
	defer o.mutex.Unlock()

	o.visitedStates = make(map[string]bool)
	o.violations = make([]string, 0)
}
