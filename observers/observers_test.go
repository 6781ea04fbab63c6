package observers

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	fluo "github.com/anggasct/fluo-asyncguards"
)

func newTestMachine(t *testing.T) fluo.Machine {
	t.Helper()
	def, err := fluo.NewDefinition(fluo.StateNode{
		ID:      "machine",
		Initial: "idle",
		States: []fluo.StateNode{
			{ID: "idle", On: fluo.TransitionTable{"start": fluo.To("running")}},
			{ID: "running", On: fluo.TransitionTable{
				"stop": fluo.To("idle"),
				"fail": {{Actions: []fluo.ActionFunc{func(fluo.Context) error { return errors.New("broken") }}}},
			}},
		},
	})
	require.NoError(t, err)
	return def.CreateInstance()
}

func TestLoggingObserver(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	machine := newTestMachine(t)
	machine.AddObserver(NewLoggingObserver(zap.New(core)))

	require.NoError(t, machine.Start())
	machine.HandleEvent("start", nil)
	machine.HandleEvent("unknown", nil)
	require.NoError(t, machine.Stop())

	assert.Equal(t, 1, logs.FilterMessage("machine started").Len())
	assert.Equal(t, 1, logs.FilterMessage("machine stopped").Len())

	transitions := logs.FilterMessage("transition").All()
	require.Len(t, transitions, 1)
	assert.Equal(t, zapcore.InfoLevel, transitions[0].Level)
	assert.Equal(t, "idle", transitions[0].ContextMap()["from"])
	assert.Equal(t, "running", transitions[0].ContextMap()["to"])
	assert.Equal(t, "start", transitions[0].ContextMap()["event"])

	rejected := logs.FilterMessage("event rejected").All()
	require.Len(t, rejected, 1)
	assert.Equal(t, "unknown", rejected[0].ContextMap()["event"])

	assert.NotZero(t, logs.FilterMessage("entering state").FilterField(zap.String("state", "running")).Len())
	assert.NotZero(t, logs.FilterMessage("exiting state").FilterField(zap.String("state", "running")).Len())

	t.Run("errors", func(t *testing.T) {
		obs := NewLoggingObserver(zap.New(core))
		obs.OnError(fluo.NewStateNotFoundError("x"), fluo.NewSimpleContext())

		entries := logs.FilterMessage("state machine error").All()
		require.Len(t, entries, 1)
		assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)
		assert.Equal(t, int64(fluo.ErrCodeStateNotFound), entries[0].ContextMap()["code"])
	})

	t.Run("nil logger", func(t *testing.T) {
		assert.NotPanics(t, func() {
			NewLoggingObserver(nil).OnTransition("a", "b", nil, nil)
		})
	})
}

func TestMetricsObserver(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetricsObserver(reg)
	machine := newTestMachine(t)
	machine.AddObserver(metrics)

	require.NoError(t, machine.Start())
	machine.HandleEvent("start", nil)
	machine.HandleEvent("stop", nil)
	machine.HandleEvent("start", nil)
	machine.HandleEvent("unknown", nil)
	result := machine.HandleEvent("fail", nil)
	assert.Error(t, result.Error)

	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.transitions.WithLabelValues("idle", "running")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.transitions.WithLabelValues("running", "idle")))
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.entries.WithLabelValues("running")))
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.entries.WithLabelValues("idle")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.rejected.WithLabelValues("unknown")))

	count, err := testutil.GatherAndCount(reg, "fluo_state_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	metrics.OnError(errors.New("x"), nil)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.errors))
}

func TestValidationObserver(t *testing.T) {
	validation := NewValidationObserver()
	validation.AddExpectedState("running")
	validation.AddExpectedState("stopped")
	validation.AddAllowedTransition("idle", "running")
	validation.AddAllowedTransition("running", "stopped")

	machine := newTestMachine(t)
	machine.AddObserver(validation)
	require.NoError(t, machine.Start())

	machine.HandleEvent("start", nil)
	assert.False(t, validation.HasViolations())

	machine.HandleEvent("stop", nil)
	require.True(t, validation.HasViolations())
	assert.Equal(t, []string{"Invalid transition from 'running' to 'idle' on event 'stop'"}, validation.GetViolations())
	assert.Equal(t, []string{"stopped"}, validation.GetUnvisitedStates())

	validation.Reset()
	assert.False(t, validation.HasViolations())
	assert.Equal(t, []string{"running", "stopped"}, validation.GetUnvisitedStates())
}
