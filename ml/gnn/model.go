// Package gnn evaluates the graph convolutional network that scores a student's
// trajectory in a module. Only inference lives here; weights are produced elsewhere.
package gnn

import (
	"encoding/json"
	"math"
	"math/rand"
	"os"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/abmarghoub/EduPathInsight/ml/features"
)

const (
	DefaultHiddenDim = 64
	DefaultNumLayers = 3
	outputDim        = 4 // success, dropout, grade, confidence
	gradeScale       = 20
)

// Model sources
const (
	SourceFile   = "file"
	SourceSeeded = "seeded"
)

type (
	// Layer is a dense transform: out = in * Weight + Bias.
	Layer struct {
		Weight [][]float64 `json:"weight"` // in x out
		Bias   []float64   `json:"bias"`
	}

	// Weights is the serialized form of a Model.
	Weights struct {
		Version   string  `json:"version"`
		InputDim  int     `json:"input_dim"`
		HiddenDim int     `json:"hidden_dim"`
		Convs     []Layer `json:"convs"`
		FC1       Layer   `json:"fc1"`
		FC2       Layer   `json:"fc2"`
	}

	// Output holds the model heads, each in [0, 1] except Grade in [0, 20].
	Output struct {
		Success    float64 `json:"success_probability"`
		Dropout    float64 `json:"dropout_probability"`
		Grade      float64 `json:"predicted_grade"`
		Confidence float64 `json:"confidence_score"`
	}

	// Info describes a loaded model.
	Info struct {
		Version   string   `json:"version"`
		Source    string   `json:"source"`
		Path      string   `json:"path,omitempty"`
		InputDim  int      `json:"input_dim"`
		HiddenDim int      `json:"hidden_dim"`
		NumLayers int      `json:"num_layers"`
		Features  []string `json:"features"`
	}

	denseLayer struct {
		w *mat.Dense
		b []float64
	}

	Model struct {
		info  Info
		convs []denseLayer
		fc1   denseLayer
		fc2   denseLayer
	}
)

// Load reads weights from a JSON file.
func Load(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading model weights")
	}
	var w Weights
	if err = json.Unmarshal(data, &w); err != nil {
		return nil, errors.Wrap(err, "decoding model weights")
	}
	m, err := FromWeights(w)
	if err != nil {
		return nil, err
	}
	m.info.Source = SourceFile
	m.info.Path = path
	return m, nil
}

// LoadOrSeed loads path when it exists, otherwise builds a seeded model.
func LoadOrSeed(path, version string, seed int64) (*Model, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		} else if !os.IsNotExist(err) {
			return nil, errors.Wrap(err, "checking model weights")
		}
	}
	return NewSeeded(version, seed, DefaultHiddenDim, DefaultNumLayers), nil
}

// NewSeeded builds a model with Xavier-uniform weights drawn from seed.
func NewSeeded(version string, seed int64, hiddenDim, numLayers int) *Model {
	rnd := rand.New(rand.NewSource(seed))
	layer := func(in, out int) Layer {
		limit := math.Sqrt(6 / float64(in+out))
		l := Layer{Weight: make([][]float64, in), Bias: make([]float64, out)}
		for i := range l.Weight {
			l.Weight[i] = make([]float64, out)
			for j := range l.Weight[i] {
				l.Weight[i][j] = (rnd.Float64()*2 - 1) * limit
			}
		}
		return l
	}

	w := Weights{Version: version, InputDim: InputDim, HiddenDim: hiddenDim}
	in := InputDim
	for i := 0; i < numLayers; i++ {
		w.Convs = append(w.Convs, layer(in, hiddenDim))
		in = hiddenDim
	}
	w.FC1 = layer(2*hiddenDim, hiddenDim)
	w.FC2 = layer(hiddenDim, outputDim)

	m, _ := FromWeights(w) // shapes are consistent by construction
	m.info.Source = SourceSeeded
	return m
}

// FromWeights validates shapes and builds a Model.
func FromWeights(w Weights) (*Model, error) {
	if w.InputDim != InputDim {
		return nil, errors.Errorf("model expects %d input features, graph provides %d", w.InputDim, InputDim)
	}
	if w.HiddenDim <= 0 {
		return nil, errors.Errorf("invalid hidden dimension %d", w.HiddenDim)
	}
	if len(w.Convs) == 0 {
		return nil, errors.New("model has no convolution layer")
	}

	m := &Model{info: Info{
		Version:   w.Version,
		InputDim:  w.InputDim,
		HiddenDim: w.HiddenDim,
		NumLayers: len(w.Convs),
		Features:  features.Names,
	}}
	in := w.InputDim
	for i, c := range w.Convs {
		l, err := c.dense(in, w.HiddenDim)
		if err != nil {
			return nil, errors.Wrapf(err, "conv %d", i)
		}
		m.convs = append(m.convs, l)
		in = w.HiddenDim
	}
	var err error
	if m.fc1, err = w.FC1.dense(2*w.HiddenDim, w.HiddenDim); err != nil {
		return nil, errors.Wrap(err, "fc1")
	}
	if m.fc2, err = w.FC2.dense(w.HiddenDim, outputDim); err != nil {
		return nil, errors.Wrap(err, "fc2")
	}
	return m, nil
}

func (l Layer) dense(in, out int) (denseLayer, error) {
	if in <= 0 || out <= 0 {
		return denseLayer{}, errors.Errorf("invalid %dx%d layer", in, out)
	}
	if len(l.Weight) != in || len(l.Bias) != out {
		return denseLayer{}, errors.Errorf("expected %dx%d weights and %d biases", in, out, out)
	}
	data := make([]float64, 0, in*out)
	for _, row := range l.Weight {
		if len(row) != out {
			return denseLayer{}, errors.Errorf("expected rows of %d weights", out)
		}
		data = append(data, row...)
	}
	return denseLayer{w: mat.NewDense(in, out, data), b: l.Bias}, nil
}

func (l denseLayer) forward(x mat.Matrix) *mat.Dense {
	var out mat.Dense
	out.Mul(x, l.w)
	out.Apply(func(_, j int, v float64) float64 { return v + l.b[j] }, &out)
	return &out
}

func (m *Model) Info() Info { return m.info }

func (m *Model) Version() string { return m.info.Version }

// Forward runs the network on g.
func (m *Model) Forward(g Graph) Output {
	adj := g.normalizedAdjacency()

	h := mat.DenseCopyOf(g.X)
	for _, conv := range m.convs {
		var agg mat.Dense
		agg.Mul(adj, h)
		h = conv.forward(&agg)
		h.Apply(relu, h)
	}

	pooled := pool(h)
	z := m.fc1.forward(pooled)
	z.Apply(relu, z)
	out := m.fc2.forward(z)

	return Output{
		Success:    sigmoid(out.At(0, 0)),
		Dropout:    sigmoid(out.At(0, 1)),
		Grade:      sigmoid(out.At(0, 2)) * gradeScale,
		Confidence: sigmoid(out.At(0, 3)),
	}
}

// Predict builds the student graph of v and runs the network.
func (m *Model) Predict(v features.Vector) Output {
	return m.Forward(BuildStudentGraph(v))
}

// SuccessProbability is Predict reduced to the success head, as used by explainers.
func (m *Model) SuccessProbability(x []float64) float64 {
	return m.Predict(features.Vector(x)).Success
}

// pool concatenates the mean and max of every column of h into a 1 x 2cols row.
func pool(h *mat.Dense) *mat.Dense {
	rows, cols := h.Dims()
	out := mat.NewDense(1, 2*cols, nil)
	for j := 0; j < cols; j++ {
		col := mat.Col(nil, j, h)
		maxV := math.Inf(-1)
		var sum float64
		for _, v := range col {
			sum += v
			maxV = math.Max(maxV, v)
		}
		out.Set(0, j, sum/float64(rows))
		out.Set(0, cols+j, maxV)
	}
	return out
}

// RiskLevel classifies a prediction.
func RiskLevel(success, dropout float64) string {
	switch {
	case dropout > 0.6 || success < 0.3:
		return RiskCritical
	case dropout > 0.4 || success < 0.5:
		return RiskHigh
	case dropout > 0.25 || success < 0.6:
		return RiskMedium
	}
	return RiskLow
}

// Risk levels
const (
	RiskLow      = "LOW"
	RiskMedium   = "MEDIUM"
	RiskHigh     = "HIGH"
	RiskCritical = "CRITICAL"
)

func relu(_, _ int, v float64) float64 { return math.Max(0, v) }

func sigmoid(v float64) float64 { return 1 / (1 + math.Exp(-v)) }
