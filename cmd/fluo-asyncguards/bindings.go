package main

import (
	"context"
	"time"

	fluo "github.com/anggasct/fluo-asyncguards"
)

// noopBindings resolves every action and synchronous guard name so that a
// declaration can be compiled without its host program.
type noopBindings struct{}

func (noopBindings) Action(string) (fluo.ActionFunc, bool) {
	return func(fluo.Context) error { return nil }, true
}

func (noopBindings) Guard(string) (fluo.GuardFunc, bool) {
	return func(fluo.Context) bool { return true }, true
}

func stubGuard(result bool) fluo.AsyncGuardFunc {
	return func(context.Context, map[string]any, fluo.Event) (bool, error) {
		return result, nil
	}
}

func delayedGuard(result bool, delay time.Duration) fluo.AsyncGuardFunc {
	return func(ctx context.Context, _ map[string]any, _ fluo.Event) (bool, error) {
		select {
		case <-time.After(delay):
			return result, nil
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
}
