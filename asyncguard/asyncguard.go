// Package asyncguard compiles state declarations whose transitions use
// asynchronous guards into plain declarations the fluo runtime can execute.
//
// A compiled state waits in an idle substate. An event whose first candidate
// has an async guard moves it into a cascade of step substates, one per
// candidate. Each step evaluates its guard on a separate goroutine and either
// re-delivers the original event to the declared transition or moves on to
// the next candidate. Leaving the state cancels the pending evaluation.
package asyncguard

import (
	"fmt"
	"maps"
	"sort"

	"go.uber.org/zap"

	fluo "github.com/anggasct/fluo-asyncguards"
)

// compiler carries the state being compiled and its resolved options
type compiler struct {
	node   fluo.StateNode
	opts   Options
	runner taskRunner
}

// WithAsyncGuards compiles an atomic state declaration. The input is not modified.
func WithAsyncGuards(node fluo.StateNode, opts ...Option) (fluo.StateNode, error) {
	return compile(node, newOptions(opts))
}

// MustWithAsyncGuards is WithAsyncGuards that panics on error
func MustWithAsyncGuards(node fluo.StateNode, opts ...Option) fluo.StateNode {
	compiled, err := WithAsyncGuards(node, opts...)
	if err != nil {
		panic(fmt.Sprintf("Failed to compile async guards: %v", err))
	}
	return compiled
}

func compile(node fluo.StateNode, opts Options) (fluo.StateNode, error) {
	if node.ID == "" {
		return fluo.StateNode{}, fluo.NewConfigurationError("asyncguard", "state node ID is mandatory when using async guards")
	}
	if node.On == nil {
		return fluo.StateNode{}, fluo.NewConfigurationError(node.ID, "transition table is mandatory when using async guards")
	}
	if len(node.States) > 0 || (node.Type != fluo.Inferred && node.Type != fluo.Atomic) {
		return fluo.StateNode{}, fluo.NewConfigurationError(node.ID, "async guards can only be compiled on atomic states")
	}

	c := &compiler{
		node:   node,
		opts:   opts,
		runner: taskRunner{logger: opts.Logger, metrics: opts.Metrics},
	}

	events := make([]string, 0, len(node.On))
	for event := range node.On {
		events = append(events, event)
	}
	sort.Strings(events)

	idle := fluo.StateNode{
		ID:   IdleStateID(node.ID),
		Type: fluo.Atomic,
		On:   fluo.TransitionTable{},
	}
	hoisted := fluo.TransitionTable{}
	var steps []fluo.StateNode
	seen := map[string]string{idle.ID: ""}

	for _, event := range events {
		plan, err := c.planEvent(event, node.On[event])
		if err != nil {
			return fluo.StateNode{}, err
		}
		if plan.hoisted {
			hoisted[event] = plan.handlers
		} else {
			idle.On[event] = plan.idle
		}
		for result, handlers := range plan.stale {
			hoisted[result] = append(hoisted[result], handlers...)
		}
		for _, step := range plan.steps {
			if other, exists := seen[step.ID]; exists {
				return fluo.StateNode{}, c.errorf("events '%s' and '%s' both compile to state '%s'", other, event, step.ID)
			}
			seen[step.ID] = event
		}
		steps = append(steps, plan.steps...)

		if len(plan.steps) > 0 {
			opts.Logger.Debug("compiled async guard cascade",
				zap.String("state", node.ID),
				zap.String("event", event),
				zap.Int("steps", len(plan.steps)))
		}
	}

	return fluo.StateNode{
		ID:      node.ID,
		Type:    fluo.Compound,
		Initial: idle.ID,
		States:  append([]fluo.StateNode{idle}, steps...),
		On:      hoisted,
		Entry:   append([]fluo.ActionFunc(nil), node.Entry...),
		Exit:    append([]fluo.ActionFunc(nil), node.Exit...),
		Meta:    maps.Clone(node.Meta),
	}, nil
}

// Apply compiles every atomic state of a tree that declares async guards
func Apply(root fluo.StateNode, opts ...Option) (fluo.StateNode, error) {
	return apply(root, newOptions(opts))
}

func apply(node fluo.StateNode, opts Options) (fluo.StateNode, error) {
	if len(node.States) == 0 {
		if !usesAsyncGuards(node) {
			return node, nil
		}
		return compile(node, opts)
	}

	if usesAsyncGuards(node) {
		return fluo.StateNode{}, fluo.NewConfigurationError(node.ID, "async guards can only be compiled on atomic states")
	}

	out := node
	out.States = make([]fluo.StateNode, len(node.States))
	for i, child := range node.States {
		compiled, err := apply(child, opts)
		if err != nil {
			return fluo.StateNode{}, err
		}
		out.States[i] = compiled
	}
	return out, nil
}

func usesAsyncGuards(node fluo.StateNode) bool {
	for _, candidates := range node.On {
		if anyAsync(candidates) {
			return true
		}
	}
	return false
}

// GuardNames lists the distinct async guard names referenced in a tree
func GuardNames(root fluo.StateNode) []string {
	set := make(map[string]struct{})
	root.Walk(func(node fluo.StateNode) bool {
		for _, candidates := range node.On {
			for _, decl := range candidates {
				if decl.HasAsyncGuard() {
					set[decl.AsyncGuard.DisplayName()] = struct{}{}
				}
			}
		}
		return true
	})

	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
