package asyncguard

import (
	"go.uber.org/zap"

	fluo "github.com/anggasct/fluo-asyncguards"
)

// AmbientGuardEvaluation controls when a transition's In condition is checked
// relative to its async guard.
type AmbientGuardEvaluation struct {
	// Leading skips the async guard, resolving it false, when In is not active on step entry
	Leading bool
	// Trailing requires In to be active when a true result is processed
	Trailing bool
}

// Registry maps guard names to predicates
type Registry map[string]fluo.AsyncGuardFunc

// Options configures the compiler
type Options struct {
	AmbientGuardEvaluation AmbientGuardEvaluation
	Guards                 Registry
	Logger                 *zap.Logger
	Metrics                *Metrics
}

// Option mutates Options
type Option func(*Options)

// DefaultOptions returns leading-only ambient evaluation with no registry
func DefaultOptions() Options {
	return Options{
		AmbientGuardEvaluation: AmbientGuardEvaluation{Leading: true, Trailing: false},
		Logger:                 zap.NewNop(),
	}
}

// WithAmbientGuardEvaluation sets when In conditions are evaluated
func WithAmbientGuardEvaluation(leading, trailing bool) Option {
	return func(o *Options) {
		o.AmbientGuardEvaluation = AmbientGuardEvaluation{Leading: leading, Trailing: trailing}
	}
}

// WithGuards adds named guards. Later registrations win.
func WithGuards(guards Registry) Option {
	return func(o *Options) {
		if o.Guards == nil {
			o.Guards = make(Registry, len(guards))
		}
		for name, fn := range guards {
			o.Guards[name] = fn
		}
	}
}

// WithLogger sets the logger used by compiled states and their tasks
func WithLogger(logger *zap.Logger) Option {
	return func(o *Options) {
		if logger != nil {
			o.Logger = logger
		}
	}
}

// WithMetrics records guard evaluations
func WithMetrics(metrics *Metrics) Option {
	return func(o *Options) {
		o.Metrics = metrics
	}
}

func newOptions(opts []Option) Options {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
