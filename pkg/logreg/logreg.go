// Package logreg fits L2-regularized binary logistic regression models.
//
// The objective matches the usual liblinear/lbfgs formulation:
//
//	0.5*||w||² + C * Σ log(1 + exp(-y_i (w·x_i + b)))
//
// with y in {-1, +1} and an unregularized intercept b. Minimization is
// delegated to gonum's L-BFGS.
package logreg

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/optimize"
)

var (
	// ErrNoData is returned when Fit receives no examples.
	ErrNoData = errors.New("logreg: no training examples")

	// ErrShape is returned when feature rows or labels disagree in length.
	ErrShape = errors.New("logreg: inconsistent feature dimensions")
)

// Config controls fitting.
type Config struct {
	C             float64 `json:"c" mapstructure:"c" yaml:"c"`                                       // inverse regularization strength
	MaxIterations int     `json:"maxIterations" mapstructure:"max_iterations" yaml:"max_iterations"` // L-BFGS major iterations
}

// DefaultConfig returns C=1 and 100 iterations.
func DefaultConfig() Config {
	return Config{C: 1.0, MaxIterations: 100}
}

// Model is a fitted logistic regression.
type Model struct {
	Weights   []float64 `json:"weights"`
	Intercept float64   `json:"intercept"`
}

// Dim returns the expected feature length.
func (m *Model) Dim() int { return len(m.Weights) }

// Decision returns w·x + b. x shorter than the weights is treated as zero-padded.
func (m *Model) Decision(x []float64) float64 {
	n := len(x)
	if n > len(m.Weights) {
		n = len(m.Weights)
	}
	return floats.Dot(m.Weights[:n], x[:n]) + m.Intercept
}

// Probability returns the positive-class probability for x.
func (m *Model) Probability(x []float64) float64 {
	return Sigmoid(m.Decision(x))
}

// Predict returns the 0/1 class for x.
func (m *Model) Predict(x []float64) int {
	if m.Probability(x) >= 0.5 {
		return 1
	}
	return 0
}

// Accuracy returns the fraction of rows in X whose predicted class equals y.
func (m *Model) Accuracy(X [][]float64, y []int) float64 {
	if len(X) == 0 {
		return 0
	}
	correct := 0
	for i, x := range X {
		if m.Predict(x) == y[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(X))
}

// Fit trains a model on rows X with 0/1 labels y.
func Fit(X [][]float64, y []int, cfg Config) (*Model, error) {
	if len(X) == 0 {
		return nil, ErrNoData
	}
	if len(X) != len(y) {
		return nil, fmt.Errorf("%w: %d rows, %d labels", ErrShape, len(X), len(y))
	}
	dim := len(X[0])
	for i, x := range X {
		if len(x) != dim {
			return nil, fmt.Errorf("%w: row %d has %d features, want %d", ErrShape, i, len(x), dim)
		}
	}
	if cfg.C <= 0 {
		cfg.C = 1
	}

	signs := make([]float64, len(y))
	for i, label := range y {
		if label > 0 {
			signs[i] = 1
		} else {
			signs[i] = -1
		}
	}

	// params = [w..., b]
	margin := func(p []float64, x []float64) float64 {
		return floats.Dot(p[:dim], x) + p[dim]
	}

	problem := optimize.Problem{
		Func: func(p []float64) float64 {
			loss := 0.0
			for i, x := range X {
				loss += logOnePlusExp(-signs[i] * margin(p, x))
			}
			w := p[:dim]
			return 0.5*floats.Dot(w, w) + cfg.C*loss
		},
		Grad: func(grad, p []float64) {
			copy(grad[:dim], p[:dim])
			grad[dim] = 0
			for i, x := range X {
				// d/dz log(1+exp(-s z)) = -s * sigmoid(-s z)
				g := -signs[i] * Sigmoid(-signs[i]*margin(p, x)) * cfg.C
				floats.AddScaled(grad[:dim], g, x)
				grad[dim] += g
			}
		},
	}

	settings := &optimize.Settings{
		MajorIterations:   cfg.MaxIterations,
		GradientThreshold: 1e-6,
	}
	x0 := make([]float64, dim+1)
	result, err := optimize.Minimize(problem, x0, settings, &optimize.LBFGS{})
	if result == nil {
		return nil, fmt.Errorf("logreg: minimize: %w", err)
	}
	// Line search failures near the optimum still leave a usable location.
	if err != nil && !errors.Is(err, optimize.ErrLinesearcherFailure) {
		return nil, fmt.Errorf("logreg: minimize: %w", err)
	}

	params := result.X
	return &Model{
		Weights:   append([]float64(nil), params[:dim]...),
		Intercept: params[dim],
	}, nil
}

// Sigmoid is the logistic function.
func Sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}

// logOnePlusExp computes log(1+exp(z)) without overflow.
func logOnePlusExp(z float64) float64 {
	if z > 0 {
		return z + math.Log1p(math.Exp(-z))
	}
	return math.Log1p(math.Exp(z))
}
