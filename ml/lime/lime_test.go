package lime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func linear(x []float64) float64 {
	return 0.3 + 0.5*x[0] - 0.2*x[1]
}

func TestExplainer_Explain(t *testing.T) {
	e := New([]string{"a", "b", "c"}, WithSeed(7), WithSamples(500))
	instance := []float64{0.8, 0.4, 0.1}

	exp, err := e.Explain(instance, func(x []float64) float64 { return linear(x) })
	require.NoError(t, err)
	require.Len(t, exp.Weights, 3)

	assert.Equal(t, "a", exp.Weights[0].Name)
	assert.Equal(t, 0.8, exp.Weights[0].Value)
	assert.Greater(t, exp.Weights[0].Weight, 0.0)
	assert.Equal(t, "b", exp.Weights[1].Name)
	assert.Less(t, exp.Weights[1].Weight, 0.0)
	assert.Equal(t, "c", exp.Weights[2].Name)
	assert.InDelta(t, 0, exp.Weights[2].Weight, 1e-3)

	// slopes in standardized units
	assert.InDelta(t, 0.5*uniformStd, exp.Weights[0].Weight, 0.01)
	assert.InDelta(t, -0.2*uniformStd, exp.Weights[1].Weight, 0.01)

	assert.InDelta(t, linear(instance), exp.ModelPrediction, 1e-12)
	assert.InDelta(t, exp.ModelPrediction, exp.LocalPrediction, 0.01)
	assert.Greater(t, exp.Score, 0.99)
}

func TestExplainer_Explain_deterministic(t *testing.T) {
	predict := func(x []float64) float64 { return x[0] * x[1] }
	instance := []float64{0.3, 0.9}

	e1, err := New([]string{"a", "b"}, WithSeed(1)).Explain(instance, predict)
	require.NoError(t, err)
	e2, err := New([]string{"a", "b"}, WithSeed(1)).Explain(instance, predict)
	require.NoError(t, err)
	e3, err := New([]string{"a", "b"}, WithSeed(2)).Explain(instance, predict)
	require.NoError(t, err)

	assert.Equal(t, e1, e2)
	assert.NotEqual(t, e1, e3)
}

func TestExplainer_Explain_samplesStayInRange(t *testing.T) {
	e := New([]string{"a", "b"}, WithSamples(200))
	var calls int
	_, err := e.Explain([]float64{0, 1}, func(x []float64) float64 {
		calls++
		for _, v := range x {
			assert.True(t, v >= 0 && v <= 1, "sample out of range: %v", v)
		}
		return x[0]
	})
	require.NoError(t, err)
	assert.Equal(t, 200, calls)
}

func TestExplainer_Explain_errors(t *testing.T) {
	_, err := New(nil).Explain(nil, linear)
	assert.EqualError(t, err, "explainer has no feature")

	_, err = New([]string{"a", "b"}).Explain([]float64{1}, linear)
	assert.EqualError(t, err, "instance has 1 features, expected 2")
}

func TestOptions(t *testing.T) {
	e := New([]string{"a"}, WithSamples(1), WithReference([]float64{0.2, 0.3}, []float64{1, 1}))
	assert.Equal(t, DefaultSamples, e.Samples(), "too few samples are ignored")
	assert.Equal(t, []float64{0.5}, e.mean, "reference of the wrong size is ignored")

	e = New([]string{"a"}, WithSamples(10), WithReference([]float64{0.2}, []float64{0.1}))
	assert.Equal(t, 10, e.Samples())
	assert.Equal(t, []float64{0.2}, e.mean)
	assert.Equal(t, []float64{0.1}, e.std)
}
