// Package observers provides observers for monitoring state machine events
package observers

import (
	"go.uber.org/zap"

	fluo "github.com/anggasct/fluo-asyncguards"
)

// LoggingObserver logs state machine events to a zap logger.
// Lifecycle and transitions are logged at info, internal steps at debug.
type LoggingObserver struct {
	fluo.BaseObserver
	logger *zap.Logger
}

// NewLoggingObserver creates a new logging observer; a nil logger discards everything
func NewLoggingObserver(logger *zap.Logger) *LoggingObserver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LoggingObserver{logger: logger}
}

// NewDefaultLoggingObserver creates a logging observer on the global zap logger
func NewDefaultLoggingObserver() *LoggingObserver {
	return NewLoggingObserver(zap.L().Named("statemachine"))
}

func eventFields(event fluo.Event) []zap.Field {
	if event == nil {
		return nil
	}
	return []zap.Field{
		zap.String("event", event.GetName()),
		zap.String("event_id", event.GetID()),
	}
}

// OnTransition logs transitions
func (o *LoggingObserver) OnTransition(from string, to string, event fluo.Event, ctx fluo.Context) {
	o.logger.Info("transition",
		append([]zap.Field{zap.String("from", from), zap.String("to", to)}, eventFields(event)...)...)
}

// OnStateEnter logs state entry
func (o *LoggingObserver) OnStateEnter(state string, ctx fluo.Context) {
	o.logger.Debug("entering state", zap.String("state", state))
}

// OnStateExit logs state exit
func (o *LoggingObserver) OnStateExit(state string, ctx fluo.Context) {
	o.logger.Debug("exiting state", zap.String("state", state))
}

// OnGuardEvaluation logs guard results
func (o *LoggingObserver) OnGuardEvaluation(from string, to string, event fluo.Event, result bool, ctx fluo.Context) {
	o.logger.Debug("guard evaluated",
		append([]zap.Field{zap.String("from", from), zap.String("to", to), zap.Bool("result", result)}, eventFields(event)...)...)
}

// OnEventRejected logs events without an enabled transition
func (o *LoggingObserver) OnEventRejected(event fluo.Event, reason string, ctx fluo.Context) {
	o.logger.Debug("event rejected", append(eventFields(event), zap.String("reason", reason))...)
}

// OnError logs errors
func (o *LoggingObserver) OnError(err error, ctx fluo.Context) {
	o.logger.Error("state machine error", zap.Error(err), zap.Int("code", int(fluo.GetErrorCode(err))))
}

// OnActionExecution logs action execution
func (o *LoggingObserver) OnActionExecution(actionType string, state string, event fluo.Event, ctx fluo.Context) {
	o.logger.Debug("action",
		append([]zap.Field{zap.String("type", actionType), zap.String("state", state)}, eventFields(event)...)...)
}

// OnMachineStarted logs machine start
func (o *LoggingObserver) OnMachineStarted(ctx fluo.Context) {
	o.logger.Info("machine started", zap.String("state", ctx.GetCurrentState()))
}

// OnMachineStopped logs machine stop
func (o *LoggingObserver) OnMachineStopped(ctx fluo.Context) {
	o.logger.Info("machine stopped")
}
