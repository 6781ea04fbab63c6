package asyncguard

import (
	"fmt"

	fluo "github.com/anggasct/fluo-asyncguards"
)

// eventPlan is the compiled form of one entry of a transition table
type eventPlan struct {
	event string

	// hoisted handlers stay on the compiled state itself
	hoisted  bool
	handlers []fluo.TransitionDecl

	// idle entries are installed on the idle substate
	idle  []fluo.TransitionDecl
	steps []fluo.StateNode

	// stale catches results no step owns anymore
	stale fluo.TransitionTable
}

// planEvent decides how one event's candidates are compiled
func (c *compiler) planEvent(event string, candidates []fluo.TransitionDecl) (eventPlan, error) {
	plan := eventPlan{event: event}

	for i, decl := range candidates {
		if decl.HasAsyncGuard() && decl.Guard != nil {
			return plan, c.errorf("transition %d for event '%s' has both a synchronous and an async guard", i, event)
		}
	}

	if IsErrorEvent(event) {
		for i, decl := range candidates {
			if decl.HasAsyncGuard() {
				return plan, c.errorf("guard error handler %d for '%s' cannot use an async guard", i, event)
			}
		}
		plan.hoisted = true
		plan.handlers = append([]fluo.TransitionDecl(nil), candidates...)
		return plan, nil
	}

	if len(candidates) == 0 || !candidates[0].HasAsyncGuard() {
		for i, decl := range candidates {
			if decl.HasAsyncGuard() {
				return plan, c.errorf("async guard '%s' in transition %d for event '%s' is unreachable behind a transition without one",
					decl.AsyncGuard.DisplayName(), i, event)
			}
		}
		plan.idle = append([]fluo.TransitionDecl(nil), candidates...)
		return plan, nil
	}

	predicates := make([]fluo.AsyncGuardFunc, len(candidates))
	for i, decl := range candidates {
		if !decl.HasAsyncGuard() {
			if decl.Guard != nil {
				return plan, c.errorf("transition %d for event '%s' uses a synchronous guard inside an async guard cascade", i, event)
			}
			if i < len(candidates)-1 && anyAsync(candidates[i+1:]) {
				return plan, c.errorf("async guards after transition %d for event '%s' are unreachable", i, event)
			}
			continue
		}
		fn, err := c.resolve(decl.AsyncGuard, event)
		if err != nil {
			return plan, err
		}
		predicates[i] = fn
	}

	steps := &cascade{
		stateID:    c.node.ID,
		event:      event,
		candidates: candidates,
		predicates: predicates,
		ambient:    c.opts.AmbientGuardEvaluation,
		runner:     c.runner,
		logger:     c.opts.Logger,
	}
	plan.idle = []fluo.TransitionDecl{{Target: steps.stepID(0)}}
	plan.steps = steps.steps()
	plan.stale = steps.staleHandlers()
	return plan, nil
}

// resolve returns the predicate of an inline guard or looks a named one up
func (c *compiler) resolve(guard *fluo.AsyncGuard, event string) (fluo.AsyncGuardFunc, error) {
	if guard.IsInline() {
		return guard.Fn, nil
	}
	if guard.Name == "" {
		return nil, c.errorf("async guard for event '%s' has neither a name nor a function", event)
	}
	fn, ok := c.opts.Guards[guard.Name]
	if !ok || fn == nil {
		return nil, c.errorf("async guard '%s' for event '%s' is not a function and is not registered", guard.Name, event)
	}
	return fn, nil
}

func anyAsync(candidates []fluo.TransitionDecl) bool {
	for _, decl := range candidates {
		if decl.HasAsyncGuard() {
			return true
		}
	}
	return false
}

func (c *compiler) errorf(format string, args ...any) error {
	return fluo.NewConfigurationError(c.node.ID, fmt.Sprintf(format, args...))
}
