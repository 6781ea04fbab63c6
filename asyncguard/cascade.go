package asyncguard

import (
	"fmt"

	"go.uber.org/zap"

	fluo "github.com/anggasct/fluo-asyncguards"
)

// Meta keys set on generated step states
const (
	MetaEvent = "asyncguard.event"
	MetaGuard = "asyncguard.guard"
	MetaStep  = "asyncguard.step"
)

// cascade holds the candidates of one event whose first candidate is async guarded
type cascade struct {
	stateID    string
	event      string
	candidates []fluo.TransitionDecl
	predicates []fluo.AsyncGuardFunc
	ambient    AmbientGuardEvaluation
	runner     taskRunner
	logger     *zap.Logger
}

func (c *cascade) idleID() string {
	return IdleStateID(c.stateID)
}

func (c *cascade) stepID(i int) string {
	return StepStateID(c.stateID, c.event, i)
}

// nextID is where a step goes when its guard does not win
func (c *cascade) nextID(i int) string {
	if i == len(c.candidates)-1 {
		return c.idleID()
	}
	return c.stepID(i + 1)
}

func (c *cascade) guardID(i int) GuardID {
	return GuardID{
		StateID: c.stateID,
		Event:   c.event,
		Guard:   c.candidates[i].AsyncGuard.DisplayName(),
		Step:    i,
	}
}

// steps builds one substate per candidate
func (c *cascade) steps() []fluo.StateNode {
	nodes := make([]fluo.StateNode, 0, len(c.candidates))
	for i, decl := range c.candidates {
		if decl.HasAsyncGuard() {
			nodes = append(nodes, c.guardedStep(i))
		} else {
			nodes = append(nodes, c.defaultStep(i))
		}
	}
	return nodes
}

// retrigger is the declared transition without its async guard. It fires
// when the original event is raised again after the guard won, or when
// the event arrives while the step is still pending.
func (c *cascade) retrigger(decl fluo.TransitionDecl, keepIn bool) fluo.TransitionDecl {
	out := fluo.TransitionDecl{
		Target:      decl.Target,
		Actions:     append([]fluo.ActionFunc(nil), decl.Actions...),
		Description: decl.Description,
	}
	if out.Target == "" {
		out.Target = c.idleID()
	}
	if keepIn {
		out.In = decl.In
	}
	return out
}

func (c *cascade) guardedStep(i int) fluo.StateNode {
	decl := c.candidates[i]
	id := c.guardID(i)

	trailingIn := ""
	if c.ambient.Trailing {
		trailingIn = decl.In
	}

	return fluo.StateNode{
		ID:   c.stepID(i),
		Type: fluo.Atomic,
		On: fluo.TransitionTable{
			c.event: {c.retrigger(decl, c.ambient.Trailing)},
			id.DoneEvent(): {
				{
					Guard:       resolvedTrue(id),
					In:          trailingIn,
					Actions:     []fluo.ActionFunc{raiseOriginal},
					Description: fmt.Sprintf("%s resolved true", id.Guard),
				},
				{
					Guard:       ownsResult(id),
					Target:      c.nextID(i),
					Description: fmt.Sprintf("%s did not pass", id.Guard),
				},
			},
			id.FailureEvent(): {
				{
					Guard:       ownsResult(id),
					Target:      c.nextID(i),
					Actions:     []fluo.ActionFunc{raiseGuardError(id)},
					Description: fmt.Sprintf("%s failed", id.Guard),
				},
			},
		},
		Entry: []fluo.ActionFunc{c.spawnAction(id, c.predicates[i], decl.In)},
		Exit:  []fluo.ActionFunc{cancelAction(id)},
		Meta: map[string]any{
			MetaEvent: c.event,
			MetaGuard: id.Guard,
			MetaStep:  i,
		},
	}
}

// staleHandlers swallow results of guard tasks that were replaced or
// cancelled. They sit on the compiled state so the active step's own
// candidates are tried first.
func (c *cascade) staleHandlers() fluo.TransitionTable {
	table := fluo.TransitionTable{}
	for i, decl := range c.candidates {
		if !decl.HasAsyncGuard() {
			continue
		}
		id := c.guardID(i)
		ignore := fluo.TransitionDecl{Description: fmt.Sprintf("stale %s result", id.Guard)}
		table[id.DoneEvent()] = []fluo.TransitionDecl{ignore}
		table[id.FailureEvent()] = []fluo.TransitionDecl{ignore}
	}
	return table
}

// defaultStep re-delivers the original event to the unguarded fallback
func (c *cascade) defaultStep(i int) fluo.StateNode {
	return fluo.StateNode{
		ID:    c.stepID(i),
		Type:  fluo.Atomic,
		On:    fluo.TransitionTable{c.event: {c.retrigger(c.candidates[i], true)}},
		Entry: []fluo.ActionFunc{raiseOriginal},
		Meta: map[string]any{
			MetaEvent: c.event,
			MetaStep:  i,
		},
	}
}

// spawnAction starts the guard task on step entry and stores its handle
func (c *cascade) spawnAction(id GuardID, predicate fluo.AsyncGuardFunc, in string) fluo.ActionFunc {
	key := id.ActorKey()
	return func(ctx fluo.Context) error {
		machine := ctx.GetMachine()
		if machine == nil {
			return fmt.Errorf("async guard %s: context is not bound to a machine", id)
		}

		fn := predicate
		if in != "" && c.ambient.Leading && !ctx.InState(in) {
			c.logger.Debug("ambient state inactive, resolving guard false",
				zap.String("guard", id.String()), zap.String("in", in))
			fn = resolveFalse
		}

		task := c.runner.spawn(ctx, id, fn, snapshot(ctx), ctx.GetCurrentEvent(), func(event fluo.Event) {
			machine.Dispatch(event)
		})
		ctx.Set(key, task)
		return nil
	}
}

// cancelAction cancels and forgets the step's task
func cancelAction(id GuardID) fluo.ActionFunc {
	key := id.ActorKey()
	return func(ctx fluo.Context) error {
		if value, ok := ctx.Get(key); ok {
			if task, ok := value.(*Task); ok {
				task.Cancel()
			}
			ctx.Delete(key)
		}
		return nil
	}
}

// raiseOriginal re-delivers the event that started the cascade
func raiseOriginal(ctx fluo.Context) error {
	if event := Unwrap(ctx.GetCurrentEvent()); event != nil {
		ctx.Raise(event)
	}
	return nil
}

// raiseGuardError reports a failed guard under its name
func raiseGuardError(id GuardID) fluo.ActionFunc {
	return func(ctx fluo.Context) error {
		guardErr := &GuardError{Guard: id.Guard, ID: id}
		if failure, ok := ctx.GetCurrentEvent().(*Failure); ok {
			guardErr.Err = failure.Err
			guardErr.Event = failure.Original
		}
		ctx.Raise(fluo.NewEvent(ErrorEvent(id.Guard), guardErr))
		return nil
	}
}

// ownsResult accepts only results of the task the step currently owns
func ownsResult(id GuardID) fluo.GuardFunc {
	key := id.ActorKey()
	return func(ctx fluo.Context) bool {
		var token string
		switch event := ctx.GetCurrentEvent().(type) {
		case *Result:
			token = event.Token
		case *Failure:
			token = event.Token
		default:
			return false
		}
		value, ok := ctx.Get(key)
		if !ok {
			return false
		}
		task, ok := value.(*Task)
		return ok && task.Token() == token
	}
}

func resolvedTrue(id GuardID) fluo.GuardFunc {
	owns := ownsResult(id)
	return func(ctx fluo.Context) bool {
		result, ok := ctx.GetCurrentEvent().(*Result)
		return ok && result.Outcome && owns(ctx)
	}
}

// snapshot copies the context data visible to predicates
func snapshot(ctx fluo.Context) map[string]any {
	data := ctx.GetAll()
	for key := range data {
		if isActorKey(key) {
			delete(data, key)
		}
	}
	return data
}
