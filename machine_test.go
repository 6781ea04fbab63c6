package fluo

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"sync"
	"testing"
)

func TestStateMachine_Start(t *testing.T) {
	machine := CreateSimpleMachine()

	err := machine.Start()
	if err != nil {
		t.Fatalf("Expected no error starting machine, got: %v", err)
	}

	AssertState(t, machine, "idle")
}

func TestStateMachine_StartAlreadyStarted(t *testing.T) {
	machine := CreateSimpleMachine()

	_ = machine.Start()
	err := machine.Start()

	if err == nil {
		t.Error("Expected error when starting already started machine")
	}
	if GetErrorCode(err) != ErrCodeInvalidState {
		t.Errorf("Expected invalid state code, got %v", GetErrorCode(err))
	}
}

func TestStateMachine_Stop(t *testing.T) {
	machine := CreateHierarchicalMachine()
	observer := NewTestObserver()
	machine.AddObserver(observer)

	_ = machine.Start()
	_ = machine.HandleEvent("connect", nil)
	observer.Reset()

	err := machine.Stop()
	if err != nil {
		t.Fatalf("Expected no error stopping machine, got: %v", err)
	}

	if len(observer.Stopped) != 1 {
		t.Error("Expected machine stopped notification")
	}

	expected := []string{"online.idle", "online", "machine"}
	if got := observer.ExitedStates(); !reflect.DeepEqual(got, expected) {
		t.Errorf("Expected exit order %v, got %v", expected, got)
	}

	if len(machine.GetActiveStates()) != 0 {
		t.Errorf("Expected no active states after stop, got %v", machine.GetActiveStates())
	}
}

func TestStateMachine_StopNotStarted(t *testing.T) {
	machine := CreateSimpleMachine()

	err := machine.Stop()
	if err == nil {
		t.Error("Expected error when stopping non-started machine")
	}
	if !IsMachineError(err) {
		t.Errorf("Expected MachineError, got %T", err)
	}
}

func TestStateMachine_Reset(t *testing.T) {
	machine := CreateSimpleMachine()

	_ = machine.Start()
	_ = machine.HandleEvent("start", nil)
	AssertState(t, machine, "running")

	if err := machine.Reset(); err != nil {
		t.Fatalf("Expected no error resetting machine, got: %v", err)
	}

	result := machine.HandleEvent("stop", nil)
	if result.Processed {
		t.Error("Expected events to be rejected after reset")
	}

	if err := machine.Start(); err != nil {
		t.Fatalf("Expected restart to succeed, got: %v", err)
	}
	AssertState(t, machine, "idle")
}

func TestStateMachine_BasicTransition(t *testing.T) {
	machine := CreateSimpleMachine()
	observer := NewTestObserver()
	machine.AddObserver(observer)

	_ = machine.Start()
	observer.Reset()

	result := machine.HandleEvent("start", nil)

	AssertEventProcessed(t, result, true)
	AssertStateChanged(t, result, "idle", "running")
	AssertObserverCalled(t, observer, 1, 1, 1)

	last := observer.LastTransition()
	if last == nil || last.From != "idle" || last.To != "running" {
		t.Errorf("Expected idle -> running notification, got %+v", last)
	}
}

func TestStateMachine_InvalidTransition(t *testing.T) {
	machine := CreateSimpleMachine()
	observer := NewTestObserver()
	machine.AddObserver(observer)

	_ = machine.Start()

	result := machine.HandleEvent("unknown", nil)

	AssertEventProcessed(t, result, false)
	if !IsTransitionError(result.Error) {
		t.Errorf("Expected TransitionError, got %T", result.Error)
	}
	if result.RejectionReason == "" {
		t.Error("Expected rejection reason")
	}
	if len(observer.EventRejects) != 1 {
		t.Errorf("Expected 1 rejection notification, got %d", len(observer.EventRejects))
	}
	AssertState(t, machine, "idle")
}

func TestStateMachine_EmptyEventName(t *testing.T) {
	machine := CreateSimpleMachine()
	_ = machine.Start()

	for _, result := range []*EventResult{
		machine.HandleEvent("", nil),
		machine.HandleEvent("   ", nil),
		machine.Dispatch(nil),
	} {
		AssertEventProcessed(t, result, false)
		if result.Error == nil {
			t.Error("Expected error for empty event")
		}
	}
}

func TestStateMachine_HandleEventNotStarted(t *testing.T) {
	machine := CreateSimpleMachine()

	result := machine.HandleEvent("start", nil)

	AssertEventProcessed(t, result, false)
	if GetErrorCode(result.Error) != ErrCodeMachineNotStarted {
		t.Errorf("Expected machine not started code, got %v", GetErrorCode(result.Error))
	}
}

func TestStateMachine_HandleEventWithDoneContext(t *testing.T) {
	machine := CreateSimpleMachine()
	_ = machine.Start()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := machine.HandleEventWithContext(ctx, "start", nil)
	AssertEventProcessed(t, result, false)
	if !errors.Is(result.Error, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", result.Error)
	}
	AssertState(t, machine, "idle")

	result = machine.SendEventWithContext(context.Background(), "start", nil)
	AssertEventProcessed(t, result, true)
	AssertState(t, machine, "running")
}

func TestStateMachine_TargetlessTransition(t *testing.T) {
	count := 0
	machine := MustDefinition(StateNode{
		ID: "machine",
		States: []StateNode{
			{
				ID: "a",
				On: TransitionTable{"tick": {{Actions: []ActionFunc{func(ctx Context) error {
					count++
					return nil
				}}}}},
				Exit: []ActionFunc{func(ctx Context) error {
					t.Error("targetless transition must not exit the source")
					return nil
				}},
			},
		},
	}).CreateInstance()
	_ = machine.Start()

	result := machine.HandleEvent("tick", nil)
	AssertEventProcessed(t, result, true)
	if result.StateChanged {
		t.Error("Targetless transition should not change state")
	}
	if count != 1 {
		t.Errorf("Expected action to run once, got %d", count)
	}
}

func TestStateMachine_SelfTransition(t *testing.T) {
	observer := NewTestObserver()
	machine := MustDefinition(StateNode{
		ID: "machine",
		States: []StateNode{
			{ID: "a", On: TransitionTable{"again": To("a")}},
		},
	}).CreateInstance()
	machine.AddObserver(observer)
	_ = machine.Start()
	observer.Reset()

	result := machine.HandleEvent("again", nil)
	AssertEventProcessed(t, result, true)
	AssertObserverCalled(t, observer, 1, 1, 1)
}

func TestStateMachine_TransitionWithGuard(t *testing.T) {
	machine := CreateGuardedMachine()
	_ = machine.Start()

	machine.Context().Set("condition", true)
	machine.HandleEvent("decide", nil)
	AssertState(t, machine, "path_a")

	machine = CreateGuardedMachine()
	_ = machine.Start()
	machine.HandleEvent("decide", nil)
	AssertState(t, machine, "path_b")
}

func TestStateMachine_GuardPanic(t *testing.T) {
	observer := NewTestObserver()
	machine := MustDefinition(StateNode{
		ID: "machine",
		States: []StateNode{
			{ID: "a", On: TransitionTable{"go": {
				{Target: "b", Guard: func(ctx Context) bool { panic("broken guard") }},
				{Target: "c"},
			}}},
			{ID: "b"},
			{ID: "c"},
		},
	}).CreateInstance()
	machine.AddObserver(observer)
	_ = machine.Start()

	machine.HandleEvent("go", nil)

	AssertState(t, machine, "c")
	if observer.ErrorCount() != 1 {
		t.Errorf("Expected guard panic to be reported, got %d errors", observer.ErrorCount())
	}
}

func TestStateMachine_ActionOrder(t *testing.T) {
	var order []string
	record := func(name string) ActionFunc {
		return func(ctx Context) error {
			order = append(order, name)
			return nil
		}
	}

	machine := MustDefinition(StateNode{
		ID: "machine",
		States: []StateNode{
			{
				ID:   "a",
				Exit: []ActionFunc{record("exit a")},
				On: TransitionTable{"go": {{
					Target:  "b.inner",
					Actions: []ActionFunc{record("transition")},
				}}},
			},
			{
				ID:    "b",
				Entry: []ActionFunc{record("enter b")},
				States: []StateNode{
					{ID: "b.first", Entry: []ActionFunc{record("enter b.first")}},
					{ID: "b.inner", Entry: []ActionFunc{record("enter b.inner")}},
				},
			},
		},
	}).CreateInstance()
	_ = machine.Start()
	order = nil

	machine.HandleEvent("go", nil)

	expected := []string{"transition", "exit a", "enter b", "enter b.inner"}
	if !reflect.DeepEqual(order, expected) {
		t.Errorf("Expected %v, got %v", expected, order)
	}
	AssertState(t, machine, "b.inner")
}

func TestStateMachine_ActionErrorAbortsTransition(t *testing.T) {
	boom := errors.New("boom")
	machine := MustDefinition(StateNode{
		ID: "machine",
		States: []StateNode{
			{ID: "a", On: TransitionTable{"go": {{
				Target:  "b",
				Actions: []ActionFunc{func(ctx Context) error { return boom }},
			}}}},
			{ID: "b"},
		},
	}).CreateInstance()
	_ = machine.Start()

	result := machine.HandleEvent("go", nil)

	AssertEventProcessed(t, result, false)
	if !errors.Is(result.Error, boom) {
		t.Errorf("Expected wrapped action error, got %v", result.Error)
	}
	if !IsActionError(result.Error) {
		t.Errorf("Expected ActionError, got %T", result.Error)
	}
	AssertState(t, machine, "a")
}

func TestStateMachine_EntryActionErrorIsReported(t *testing.T) {
	observer := NewTestObserver()
	machine := MustDefinition(StateNode{
		ID: "machine",
		States: []StateNode{
			{ID: "a", On: TransitionTable{"go": To("b")}},
			{ID: "b", Entry: []ActionFunc{func(ctx Context) error { panic("entry failed") }}},
		},
	}).CreateInstance()
	machine.AddObserver(observer)
	_ = machine.Start()

	result := machine.HandleEvent("go", nil)

	AssertEventProcessed(t, result, true)
	AssertState(t, machine, "b")
	if observer.ErrorCount() != 1 {
		t.Errorf("Expected 1 error notification, got %d", observer.ErrorCount())
	}
	if !IsActionError(observer.Errors[0].Error) {
		t.Errorf("Expected ActionError, got %T", observer.Errors[0].Error)
	}
}

func TestStateMachine_HierarchicalTransitions(t *testing.T) {
	machine := CreateHierarchicalMachine()
	observer := NewTestObserver()
	machine.AddObserver(observer)

	_ = machine.Start()
	AssertState(t, machine, "offline")

	machine.HandleEvent("connect", nil)
	AssertState(t, machine, "online.idle")

	machine.HandleEvent("process", nil)
	AssertState(t, machine, "online.processing")

	observer.Reset()
	result := machine.HandleEvent("disconnect", nil)

	AssertStateChanged(t, result, "online.processing", "offline")
	expected := []string{"online.processing", "online"}
	if got := observer.ExitedStates(); !reflect.DeepEqual(got, expected) {
		t.Errorf("Expected exits %v, got %v", expected, got)
	}
}

func TestStateMachine_TransitionStaysInsideDomain(t *testing.T) {
	machine := CreateHierarchicalMachine()
	observer := NewTestObserver()
	machine.AddObserver(observer)

	_ = machine.Start()
	machine.HandleEvent("connect", nil)
	observer.Reset()

	machine.HandleEvent("process", nil)

	for _, state := range observer.ExitedStates() {
		if state == "online" {
			t.Error("Transition between siblings must not exit their parent")
		}
	}
	if got := observer.EnteredStates(); !reflect.DeepEqual(got, []string{"online.processing"}) {
		t.Errorf("Expected only online.processing to be entered, got %v", got)
	}
}

func TestStateMachine_ParallelRegions(t *testing.T) {
	machine := CreateParallelMachine()
	_ = machine.Start()

	machine.HandleEvent("activate", nil)

	expected := []string{"machine", "active", "motor", "motor.stopped", "lights", "lights.off"}
	if got := machine.GetActiveStates(); !reflect.DeepEqual(got, expected) {
		t.Errorf("Expected active states %v, got %v", expected, got)
	}

	machine.HandleEvent("start_motor", nil)
	if !machine.IsInState("motor.running") || !machine.IsInState("lights.off") {
		t.Errorf("Expected motor running with lights off, got %v", machine.GetActiveStates())
	}

	machine.HandleEvent("turn_on_lights", nil)
	if !machine.IsInState("motor.running") || !machine.IsInState("lights.on") {
		t.Errorf("Expected regions to change independently, got %v", machine.GetActiveStates())
	}

	machine.HandleEvent("deactivate", nil)
	AssertState(t, machine, "inactive")
	if machine.IsInState("motor") {
		t.Error("Expected regions to be exited with their parallel state")
	}
}

func TestStateMachine_EnterParallelRegionDirectly(t *testing.T) {
	machine := MustDefinition(StateNode{
		ID: "machine",
		States: []StateNode{
			{ID: "off", On: TransitionTable{"jump": To("right.two")}},
			{
				ID:   "both",
				Type: Parallel,
				States: []StateNode{
					{ID: "left", States: []StateNode{{ID: "left.one"}}},
					{ID: "right", States: []StateNode{{ID: "right.one"}, {ID: "right.two"}}},
				},
			},
		},
	}).CreateInstance()
	_ = machine.Start()

	machine.HandleEvent("jump", nil)

	expected := []string{"machine", "both", "left", "left.one", "right", "right.two"}
	if got := machine.GetActiveStates(); !reflect.DeepEqual(got, expected) {
		t.Errorf("Expected sibling regions to enter their defaults, got %v", got)
	}
}

func TestStateMachine_InCondition(t *testing.T) {
	machine := MustDefinition(StateNode{
		ID:   "machine",
		Type: Parallel,
		States: []StateNode{
			{
				ID: "mode",
				States: []StateNode{
					{ID: "mode.off", On: TransitionTable{"toggle": To("mode.on")}},
					{ID: "mode.on", On: TransitionTable{"toggle": To("mode.off")}},
				},
			},
			{
				ID: "flow",
				States: []StateNode{
					{ID: "flow.waiting", On: TransitionTable{"go": {{Target: "flow.done", In: "mode.on"}}}},
					{ID: "flow.done"},
				},
			},
		},
	}).CreateInstance()
	_ = machine.Start()

	result := machine.HandleEvent("go", nil)
	AssertEventProcessed(t, result, false)

	machine.HandleEvent("toggle", nil)
	machine.HandleEvent("go", nil)
	if !machine.IsInState("flow.done") {
		t.Errorf("Expected In condition to enable the transition, got %v", machine.GetActiveStates())
	}
}

func TestStateMachine_RaiseIsRunToCompletion(t *testing.T) {
	var order []string
	machine := MustDefinition(StateNode{
		ID: "machine",
		States: []StateNode{
			{ID: "a", On: TransitionTable{"go": {{
				Target: "b",
				Actions: []ActionFunc{func(ctx Context) error {
					ctx.Raise(NewEvent("next", nil))
					order = append(order, "raised")
					return nil
				}},
			}}}},
			{ID: "b", Entry: []ActionFunc{func(ctx Context) error {
				order = append(order, "entered b")
				return nil
			}}, On: TransitionTable{"next": To("c")}},
			{ID: "c"},
		},
	}).CreateInstance()
	_ = machine.Start()

	result := machine.HandleEvent("go", nil)

	if result.CurrentState != "c" {
		t.Errorf("Expected raised event to be processed before returning, got %s", result.CurrentState)
	}
	if !reflect.DeepEqual(order, []string{"raised", "entered b"}) {
		t.Errorf("Expected raised event to wait for the current step, got %v", order)
	}
}

func TestStateMachine_RaiseLoopIsBounded(t *testing.T) {
	observer := NewTestObserver()
	machine := MustDefinition(StateNode{
		ID: "machine",
		States: []StateNode{
			{ID: "a", On: TransitionTable{"ping": {{Actions: []ActionFunc{func(ctx Context) error {
				ctx.Raise(NewEvent("ping", nil))
				return nil
			}}}}}},
		},
	}).CreateInstance()
	machine.AddObserver(observer)
	_ = machine.Start()

	machine.HandleEvent("ping", nil)

	if observer.ErrorCount() != 1 {
		t.Fatalf("Expected runaway raise loop to be reported once, got %d", observer.ErrorCount())
	}
	if GetErrorCode(observer.Errors[0].Error) != ErrCodeInvalidState {
		t.Errorf("Expected invalid state code, got %v", GetErrorCode(observer.Errors[0].Error))
	}
}

func TestStateMachine_DispatchKeepsEventInstance(t *testing.T) {
	event := NewEvent("start", "payload")
	var seen Event
	machine := MustDefinition(StateNode{
		ID: "machine",
		States: []StateNode{
			{ID: "idle", On: TransitionTable{"start": {{
				Target: "running",
				Actions: []ActionFunc{func(ctx Context) error {
					seen = ctx.GetCurrentEvent()
					return nil
				}},
			}}}},
			{ID: "running"},
		},
	}).CreateInstance()
	_ = machine.Start()

	machine.Dispatch(event)

	if seen != event {
		t.Error("Expected actions to see the dispatched event instance")
	}
}

func TestStateMachine_FinalState(t *testing.T) {
	machine := CreateEdgeCaseMachine()
	_ = machine.Start()

	machine.HandleEvent("start", nil)
	machine.HandleEvent("finish", nil)
	AssertState(t, machine, "complete")

	result := machine.HandleEvent("start", nil)
	AssertEventProcessed(t, result, false)
}

func TestStateMachine_GetStateHierarchy(t *testing.T) {
	machine := CreateHierarchicalMachine()
	_ = machine.Start()
	machine.HandleEvent("connect", nil)

	expected := []string{"machine", "online", "online.idle"}
	if got := machine.GetStateHierarchy(); !reflect.DeepEqual(got, expected) {
		t.Errorf("Expected hierarchy %v, got %v", expected, got)
	}

	stopped := CreateSimpleMachine()
	if got := stopped.GetStateHierarchy(); len(got) != 0 {
		t.Errorf("Expected empty hierarchy before start, got %v", got)
	}
}

func TestStateMachine_AddRemoveObserver(t *testing.T) {
	machine := CreateSimpleMachine()
	observer := NewTestObserver()

	machine.AddObserver(observer)
	_ = machine.Start()
	machine.RemoveObserver(observer)
	machine.HandleEvent("start", nil)

	if observer.TransitionCount() != 0 {
		t.Errorf("Expected removed observer not to be notified, got %d transitions", observer.TransitionCount())
	}
	if len(observer.Started) != 1 {
		t.Error("Expected start notification before removal")
	}
}

func TestStateMachine_ThreadSafety(t *testing.T) {
	machine := CreateSimpleMachine()
	_ = machine.Start()

	var wg sync.WaitGroup
	done := make(chan bool, 2)
	results := make(chan string, 200)

	wg.Add(2)
	go func() {
		defer wg.Done()
		ConcurrentEventSender(machine, "start", 100, done)
	}()
	go func() {
		defer wg.Done()
		ConcurrentStateChecker(machine, 100, results)
	}()
	wg.Wait()
	close(results)

	for state := range results {
		if state != "idle" && state != "running" {
			t.Errorf("Unexpected state observed: %s", state)
		}
	}
	AssertState(t, machine, "running")
}

func TestStateMachine_JSONSerialization(t *testing.T) {
	machine := CreateHierarchicalMachine()
	_ = machine.Start()
	machine.HandleEvent("connect", nil)
	machine.Context().Set("user", "alice")

	data, err := json.Marshal(machine)
	if err != nil {
		t.Fatalf("Failed to marshal machine: %v", err)
	}

	var snapshot struct {
		CurrentState string         `json:"currentState"`
		ActiveStates []string       `json:"activeStates"`
		InitialState string         `json:"initialState"`
		ContextData  map[string]any `json:"contextData"`
	}
	if err := json.Unmarshal(data, &snapshot); err != nil {
		t.Fatalf("Failed to unmarshal snapshot: %v", err)
	}

	if snapshot.CurrentState != "online.idle" {
		t.Errorf("Expected current state online.idle, got %s", snapshot.CurrentState)
	}
	if snapshot.InitialState != "machine" {
		t.Errorf("Expected root machine, got %s", snapshot.InitialState)
	}
	if len(snapshot.ActiveStates) != 3 {
		t.Errorf("Expected 3 active states, got %v", snapshot.ActiveStates)
	}
	if snapshot.ContextData["user"] != "alice" {
		t.Errorf("Expected context data to be serialized, got %v", snapshot.ContextData)
	}
}

func TestStateMachine_CreateInstanceWithContext(t *testing.T) {
	type key struct{}
	parent := context.WithValue(context.Background(), key{}, "value")

	machine := MustDefinition(StateNode{ID: "machine", States: []StateNode{{ID: "a"}}}).
		CreateInstanceWithContext(parent)

	if machine.Context().Value(key{}) != "value" {
		t.Error("Expected machine context to derive from the parent context")
	}
	if machine.Context().GetMachine() != machine {
		t.Error("Expected context to reference its machine")
	}
}
