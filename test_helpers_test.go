package fluo

import (
	"context"
	"testing"
)

func TestTestObserver_RecordsNotifications(t *testing.T) {
	observer := NewTestObserver()
	ctx := NewContext(context.Background(), CreateSimpleMachine())
	event := NewEvent("test", "data")

	observer.OnTransition("a", "b", event, ctx)
	observer.OnStateExit("a", ctx)
	observer.OnStateEnter("b", ctx)
	observer.OnEventRejected(event, "rejected", ctx)
	observer.OnGuardEvaluation("a", "b", event, true, ctx)
	observer.OnActionExecution("entry", "b", event, ctx)
	observer.OnError(NewStateNotFoundError("c"), ctx)
	observer.OnMachineStarted(ctx)
	observer.OnMachineStopped(ctx)

	AssertObserverCalled(t, observer, 1, 1, 1)
	if last := observer.LastTransition(); last == nil || last.From != "a" || last.To != "b" {
		t.Errorf("Unexpected last transition: %+v", last)
	}
	if last := observer.LastStateEnter(); last == nil || last.State != "b" {
		t.Errorf("Unexpected last state enter: %+v", last)
	}
	if len(observer.EventRejects) != 1 || len(observer.Guards) != 1 || len(observer.Actions) != 1 {
		t.Error("Expected rejection, guard and action to be recorded")
	}
	if observer.ErrorCount() != 1 || len(observer.Started) != 1 || len(observer.Stopped) != 1 {
		t.Error("Expected error and lifecycle notifications to be recorded")
	}

	observer.Reset()
	AssertObserverCalled(t, observer, 0, 0, 0)
	if observer.LastTransition() != nil || observer.LastStateEnter() != nil {
		t.Error("Expected reset observer to have no last events")
	}
}

func TestTestHelpers_Fixtures(t *testing.T) {
	tests := []struct {
		name    string
		machine Machine
		events  []string
		want    string
	}{
		{"simple", CreateSimpleMachine(), []string{"start", "stop"}, "stopped"},
		{"hierarchical", CreateHierarchicalMachine(), []string{"connect", "process"}, "online.processing"},
		{"parallel", CreateParallelMachine(), []string{"activate", "start_motor"}, "motor.running"},
		{"guarded", CreateGuardedMachine(), []string{"decide"}, "path_b"},
		{"edge case", CreateEdgeCaseMachine(), []string{"start", "finish"}, "complete"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.machine.Start(); err != nil {
				t.Fatalf("Failed to start: %v", err)
			}
			for _, event := range tt.events {
				AssertEventProcessed(t, tt.machine.HandleEvent(event, nil), true)
			}
			AssertState(t, tt.machine, tt.want)
		})
	}
}

func TestTestHelpers_GuardedMachineReadsContext(t *testing.T) {
	machine := CreateGuardedMachine()
	_ = machine.Start()
	machine.Context().Set("condition", true)

	result := machine.HandleEvent("decide", nil)

	AssertStateChanged(t, result, "start", "path_a")
}

func TestTestHelpers_SharedActionAndGuard(t *testing.T) {
	ResetTestAction()
	SetTestGuard(true)
	defer ResetTestAction()
	defer SetTestGuard(false)

	ctx := CreateTestContext()
	if err := TestAction(ctx); err != nil || !TestActionCalled {
		t.Error("Expected TestAction to record the call")
	}
	if !TestGuard(ctx) {
		t.Error("Expected TestGuard to return the configured result")
	}

	event := CreateTestEvent("ping", 1)
	if event.GetName() != "ping" || event.GetData() != 1 {
		t.Errorf("Unexpected test event: %s %v", event.GetName(), event.GetData())
	}
}
