// Package lime explains a single prediction of a regression model by fitting a
// weighted linear surrogate on perturbed samples around the instance.
package lime

import (
	"math"
	"math/rand"
	"sort"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

const (
	DefaultSamples = 1000
	ridgeAlpha     = 1.0
)

// uniformStd is the standard deviation of U(0, 1).
var uniformStd = 1 / math.Sqrt(12)

type (
	// PredictFunc maps a feature row to the explained model output.
	PredictFunc func(x []float64) float64

	Option func(*Explainer)

	// Explainer is safe for concurrent use; every call draws from its own seeded source.
	Explainer struct {
		names       []string
		mean, std   []float64
		samples     int
		seed        int64
		kernelWidth float64
	}

	FeatureWeight struct {
		Name   string  `json:"name"`
		Value  float64 `json:"value"`
		Weight float64 `json:"weight"`
	}

	Explanation struct {
		Weights         []FeatureWeight `json:"weights"` // sorted by |weight| desc
		Intercept       float64         `json:"intercept"`
		LocalPrediction float64         `json:"local_prediction"`
		ModelPrediction float64         `json:"model_prediction"`
		Score           float64         `json:"score"` // weighted R² of the surrogate
	}
)

func WithSamples(n int) Option {
	return func(e *Explainer) {
		if n > 1 {
			e.samples = n
		}
	}
}

func WithSeed(seed int64) Option {
	return func(e *Explainer) { e.seed = seed }
}

// WithReference overrides the distribution samples are drawn from.
func WithReference(mean, std []float64) Option {
	return func(e *Explainer) {
		if len(mean) == len(e.names) && len(std) == len(e.names) {
			e.mean, e.std = mean, std
		}
	}
}

// New builds an explainer for features in [0, 1], by default assumed uniform.
func New(names []string, opts ...Option) *Explainer {
	e := &Explainer{
		names:       names,
		mean:        make([]float64, len(names)),
		std:         make([]float64, len(names)),
		samples:     DefaultSamples,
		kernelWidth: 0.75 * math.Sqrt(float64(len(names))),
	}
	for i := range names {
		e.mean[i] = 0.5
		e.std[i] = uniformStd
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Explainer) Samples() int { return e.samples }

// Explain fits the surrogate around instance.
func (e *Explainer) Explain(instance []float64, predict PredictFunc) (Explanation, error) {
	d := len(e.names)
	if d == 0 {
		return Explanation{}, errors.New("explainer has no feature")
	}
	if len(instance) != d {
		return Explanation{}, errors.Errorf("instance has %d features, expected %d", len(instance), d)
	}

	raw, scaled := e.sample(instance)
	n, _ := raw.Dims()

	y := make([]float64, n)
	weights := make([]float64, n)
	origin := scaled.RawRowView(0)
	for i := 0; i < n; i++ {
		y[i] = predict(raw.RawRowView(i))
		dist := floats.Distance(scaled.RawRowView(i), origin, 2)
		weights[i] = math.Sqrt(math.Exp(-(dist * dist) / (e.kernelWidth * e.kernelWidth)))
	}

	coef, intercept, err := ridge(scaled, y, weights, ridgeAlpha)
	if err != nil {
		return Explanation{}, err
	}

	fitted := make([]float64, n)
	for i := 0; i < n; i++ {
		fitted[i] = intercept + floats.Dot(coef, scaled.RawRowView(i))
	}

	exp := Explanation{
		Weights:         make([]FeatureWeight, d),
		Intercept:       intercept,
		LocalPrediction: fitted[0],
		ModelPrediction: y[0],
		Score:           stat.RSquaredFrom(fitted, y, weights),
	}
	for i, name := range e.names {
		exp.Weights[i] = FeatureWeight{Name: name, Value: instance[i], Weight: coef[i]}
	}
	sort.SliceStable(exp.Weights, func(i, j int) bool {
		return math.Abs(exp.Weights[i].Weight) > math.Abs(exp.Weights[j].Weight)
	})
	return exp, nil
}

// sample draws the neighbourhood. Row 0 is the instance itself.
func (e *Explainer) sample(instance []float64) (raw, scaled *mat.Dense) {
	d := len(e.names)
	rnd := rand.New(rand.NewSource(e.seed))

	raw = mat.NewDense(e.samples, d, nil)
	scaled = mat.NewDense(e.samples, d, nil)
	for i := 0; i < e.samples; i++ {
		for j := 0; j < d; j++ {
			v := instance[j]
			if i > 0 {
				v = math.Max(0, math.Min(1, rnd.NormFloat64()*e.std[j]+e.mean[j]))
			}
			raw.Set(i, j, v)
			scale := e.std[j]
			if scale == 0 {
				scale = 1
			}
			scaled.Set(i, j, (v-e.mean[j])/scale)
		}
	}
	return raw, scaled
}

// ridge solves the weighted ridge regression of y on x with an unpenalized intercept.
func ridge(x *mat.Dense, y, w []float64, alpha float64) ([]float64, float64, error) {
	n, d := x.Dims()

	xMean := make([]float64, d)
	for j := 0; j < d; j++ {
		xMean[j] = stat.Mean(mat.Col(nil, j, x), w)
	}
	yMean := stat.Mean(y, w)

	// sqrt(w) * centered rows, so that Xcᵀ Xc is the weighted normal matrix
	xc := mat.NewDense(n, d, nil)
	yc := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		sw := math.Sqrt(w[i])
		for j := 0; j < d; j++ {
			xc.Set(i, j, sw*(x.At(i, j)-xMean[j]))
		}
		yc.SetVec(i, sw*(y[i]-yMean))
	}

	a := mat.NewSymDense(d, nil)
	a.SymOuterK(1, xc.T())
	for j := 0; j < d; j++ {
		a.SetSym(j, j, a.At(j, j)+alpha)
	}
	var b mat.VecDense
	b.MulVec(xc.T(), yc)

	var chol mat.Cholesky
	if ok := chol.Factorize(a); !ok {
		return nil, 0, errors.New("ridge system is not positive definite")
	}
	var beta mat.VecDense
	if err := chol.SolveVecTo(&beta, &b); err != nil {
		return nil, 0, errors.Wrap(err, "solving ridge system")
	}

	coef := mat.Col(nil, 0, &beta)
	return coef, yMean - floats.Dot(coef, xMean), nil
}
