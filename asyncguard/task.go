package asyncguard

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	fluo "github.com/anggasct/fluo-asyncguards"
)

// Task is one in-flight guard evaluation owned by a cascade step
type Task struct {
	token  string
	id     GuardID
	cancel context.CancelFunc
	once   sync.Once
	done   chan struct{}
}

// Token returns the unique token attached to the task's result
func (t *Task) Token() string {
	return t.token
}

// GuardID returns the step the task evaluates for
func (t *Task) GuardID() GuardID {
	return t.id
}

// Cancel stops the predicate's context. Results produced afterwards are dropped.
func (t *Task) Cancel() {
	t.once.Do(t.cancel)
}

// Done is closed once the predicate has returned
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// taskRunner carries the ambient dependencies of spawned tasks
type taskRunner struct {
	logger  *zap.Logger
	metrics *Metrics
}

// spawn evaluates predicate on its own goroutine. The predicate sees the
// innermost original of event, and deliver receives exactly one Result or
// Failure unless the task is cancelled first.
func (r taskRunner) spawn(parent context.Context, id GuardID, predicate fluo.AsyncGuardFunc, data map[string]any, event fluo.Event, deliver func(fluo.Event)) *Task {
	ctx, cancel := context.WithCancel(parent)
	task := &Task{
		token:  uuid.NewString(),
		id:     id,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	original := Unwrap(event)
	logger := r.logger.With(zap.String("guard", id.String()), zap.String("task", task.token))

	r.metrics.started()
	logger.Debug("async guard started")

	go func() {
		defer close(task.done)
		defer task.Cancel()

		start := time.Now()
		outcome, err := evaluate(ctx, predicate, data, original)

		if ctx.Err() != nil {
			r.metrics.finished(id.Guard, OutcomeCancelled, time.Since(start))
			logger.Debug("async guard cancelled, dropping result")
			return
		}

		if err != nil {
			r.metrics.finished(id.Guard, OutcomeError, time.Since(start))
			logger.Warn("async guard failed", zap.Error(err))
			deliver(newFailure(id, task.token, err, original))
			return
		}

		label := OutcomeFalse
		if outcome {
			label = OutcomeTrue
		}
		r.metrics.finished(id.Guard, label, time.Since(start))
		logger.Debug("async guard resolved", zap.Bool("outcome", outcome))
		deliver(newResult(id, task.token, outcome, original))
	}()

	return task
}

// evaluate calls the predicate, converting a panic into an error
func evaluate(ctx context.Context, predicate fluo.AsyncGuardFunc, data map[string]any, event fluo.Event) (outcome bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			outcome = false
			err = fmt.Errorf("guard panic: %v", r)
		}
	}()

	return predicate(ctx, data, event)
}

// resolveFalse stands in for a guard whose ambient state is not active
func resolveFalse(context.Context, map[string]any, fluo.Event) (bool, error) {
	return false, nil
}
