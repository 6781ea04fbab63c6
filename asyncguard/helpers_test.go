package asyncguard

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	fluo "github.com/anggasct/fluo-asyncguards"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type outcome struct {
	ok  bool
	err error
}

// controlledGuard blocks until the test releases an outcome or the task is cancelled
type controlledGuard struct {
	calls     atomic.Int32
	started   chan fluo.Event
	results   chan outcome
	cancelled chan struct{}
}

func newControlledGuard() *controlledGuard {
	return &controlledGuard{
		started:   make(chan fluo.Event, 16),
		results:   make(chan outcome, 16),
		cancelled: make(chan struct{}, 16),
	}
}

func (g *controlledGuard) fn(ctx context.Context, _ map[string]any, event fluo.Event) (bool, error) {
	g.calls.Add(1)
	g.started <- event
	select {
	case r := <-g.results:
		return r.ok, r.err
	case <-ctx.Done():
		g.cancelled <- struct{}{}
		return false, ctx.Err()
	}
}

func (g *controlledGuard) release(ok bool, err error) {
	g.results <- outcome{ok: ok, err: err}
}

func (g *controlledGuard) waitStarted(t *testing.T) fluo.Event {
	t.Helper()
	select {
	case event := <-g.started:
		return event
	case <-time.After(waitFor):
		t.Fatal("guard was not evaluated")
		return nil
	}
}

func (g *controlledGuard) waitCancelled(t *testing.T) {
	t.Helper()
	select {
	case <-g.cancelled:
	case <-time.After(waitFor):
		t.Fatal("guard was not cancelled")
	}
}

// constGuard resolves immediately and counts its calls
type constGuard struct {
	calls atomic.Int32
	ok    bool
	err   error
}

func (g *constGuard) fn(context.Context, map[string]any, fluo.Event) (bool, error) {
	g.calls.Add(1)
	return g.ok, g.err
}

// recorder collects the events seen by actions
type recorder struct {
	mutex  sync.Mutex
	events []fluo.Event
}

func (r *recorder) action(ctx fluo.Context) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.events = append(r.events, ctx.GetCurrentEvent())
	return nil
}

func (r *recorder) count() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return len(r.events)
}

func (r *recorder) last() fluo.Event {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if len(r.events) == 0 {
		return nil
	}
	return r.events[len(r.events)-1]
}

// chart wraps a compiled state into a runnable machine with common targets
func chart(t *testing.T, state fluo.StateNode, opts ...Option) fluo.Machine {
	t.Helper()

	compiled, err := WithAsyncGuards(state, opts...)
	require.NoError(t, err)

	root := fluo.StateNode{
		ID:      "root",
		Initial: state.ID,
		On: fluo.TransitionTable{
			"ABORT": fluo.To("Aborted"),
			"RESET": fluo.To(state.ID),
		},
		States: []fluo.StateNode{
			compiled,
			{ID: "Small"},
			{ID: "Large"},
			{ID: "Middle"},
			{ID: "Default"},
			{ID: "Aborted"},
		},
	}
	return start(t, root)
}

func start(t *testing.T, root fluo.StateNode) fluo.Machine {
	t.Helper()

	def, err := fluo.NewDefinition(root)
	require.NoError(t, err)

	machine := def.CreateInstance()
	require.NoError(t, machine.Start())
	t.Cleanup(func() { _ = machine.Stop() })
	return machine
}

func eventuallyIn(t *testing.T, machine fluo.Machine, stateID string) {
	t.Helper()
	require.Eventually(t, func() bool { return machine.IsInState(stateID) }, waitFor, tick,
		"machine did not reach %s, active: %v", stateID, machine.GetActiveStates())
}
