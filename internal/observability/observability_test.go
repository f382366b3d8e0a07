package observability

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewMetricsRegisters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.OutputsWritten.WithLabelValues("GTiff", "success").Inc()
	m.BandsWarped.Add(4)

	n, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	assert.Equal(t, 3, n, "plain counters are always exported, vectors only once used")
	assert.Equal(t, 4.0, testutil.ToFloat64(m.BandsWarped))

	assert.Panics(t, func() { NewMetrics(reg) }, "second registration must collide")
}

func TestNewMetricsForTestingIndependent(t *testing.T) {
	a, b := NewMetricsForTesting(), NewMetricsForTesting()
	a.FetchBytes.Add(10)
	assert.Equal(t, 10.0, testutil.ToFloat64(a.FetchBytes))
	assert.Zero(t, testutil.ToFloat64(b.FetchBytes))
}

func TestOutcome(t *testing.T) {
	assert.Equal(t, "success", Outcome(nil))
	assert.Equal(t, "error", Outcome(errors.New("x")))
}

func TestNewLogger(t *testing.T) {
	l, err := NewLogger("warn", "console", false)
	require.NoError(t, err)
	assert.False(t, l.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, l.Core().Enabled(zapcore.WarnLevel))

	l, err = NewLogger("error", "json", true)
	require.NoError(t, err)
	assert.True(t, l.Core().Enabled(zapcore.DebugLevel), "verbose wins over level")

	_, err = NewLogger("loud", "json", false)
	assert.Error(t, err)
	_, err = NewLogger("", "xml", false)
	assert.Error(t, err)

	assert.NotNil(t, OrNop(nil))
}
