package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPass_NeverExceedsThreshold(t *testing.T) {
	for _, id := range Layers {
		for sev := -3; sev <= 14; sev++ {
			r := Pass(id, sev, "ok", nil)
			assert.True(t, r.Passed)
			assert.LessOrEqual(t, r.Severity, Threshold(id), "layer %s severity %d", id, sev)
			assert.GreaterOrEqual(t, r.Severity, 0)
		}
	}
}

func TestFail_ClampsSeverity(t *testing.T) {
	assert.Equal(t, 1, Fail(L1, 0, "x", nil).Severity)
	assert.Equal(t, 10, Fail(L1, 42, "x", nil).Severity)
	assert.Equal(t, 7, Fail(L4, 7, "x", nil).Severity)

	r := Fail(L2, 6, "hate", nil, "hate.slur", "hate.slur", "")
	assert.Equal(t, []string{"hate.slur"}, r.RuleIDs)
}

func TestWarn(t *testing.T) {
	r := Warn(L6, "no sources", nil)
	assert.True(t, r.Passed)
	assert.Equal(t, 1, r.Severity)

	r = Warn(L3, "odd", nil)
	assert.Equal(t, 0, r.Severity)
}

func TestResult_Confidence(t *testing.T) {
	assert.Equal(t, 100.0, Pass(L1, 0, "", nil).Confidence())
	assert.Equal(t, 70.0, Fail(L1, 3, "", nil).Confidence())
	assert.Equal(t, 0.0, Fail(L1, 10, "", nil).Confidence())
}

func TestLayerID(t *testing.T) {
	assert.True(t, L3.Known())
	assert.True(t, L3.IsGuardrail())
	assert.False(t, V2.IsGuardrail())
	assert.False(t, LayerID("L9").Known())
	assert.Equal(t, 0, Threshold("L9"))
}

func TestFailedRuleIDs(t *testing.T) {
	rs := []Result{
		Fail(L4, 4, "term", nil, "term.b", "term.a"),
		Pass(L5, 0, "ok", nil),
		Fail(V1, 4, "contradiction", nil),
		Fail(L7, 5, "disclaimer", nil, "term.a"),
	}
	assert.Equal(t, []string{"V1", "term.a", "term.b"}, FailedRuleIDs(rs))
}

func TestMerge_OrdersLayers(t *testing.T) {
	in := Aggregate{PerLayer: []Result{Pass(L2, 0, "", nil), Pass(L1, 0, "", nil)}}
	out := Aggregate{
		PerLayer:        []Result{Fail(V2, 4, "", nil, "claim.x"), Pass(L4, 0, "", nil)},
		MandatoryFailed: []LayerID{V2},
	}

	m := Merge(out, in)
	require.Len(t, m.PerLayer, 4)
	assert.Equal(t, []LayerID{L1, L2, L4, V2}, []LayerID{
		m.PerLayer[0].Layer, m.PerLayer[1].Layer, m.PerLayer[2].Layer, m.PerLayer[3].Layer,
	})
	assert.Equal(t, []string{"claim.x"}, m.FailedRuleIDs)
	assert.Equal(t, 1, m.FailedLayers())

	r, ok := m.Layer(V2)
	require.True(t, ok)
	assert.False(t, r.Passed)
	_, ok = m.Layer(L7)
	assert.False(t, ok)
}
