// Package nde defines the contracts the sequential loop requires from a
// neural density estimator and its optimizer, plus a small reference
// estimator used by the demo command and the tests. The loop itself never
// looks inside a model: it toggles training mode, asks for a loss (which
// accumulates gradients), clips those gradients, and snapshots state.
package nde

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Param is one trainable parameter block: a flat value vector and its
// gradient accumulator, exposed so gradient clipping and the optimizer can
// operate without knowing the model's internals.
type Param struct {
	Value []float64
	Grad  []float64
}

// Model is a conditional density estimator q(data | params).
type Model interface {
	// SetTraining toggles gradient accumulation in Loss.
	SetTraining(on bool)

	// Loss returns the training objective for a batch of row-aligned
	// (data, params) pairs. In training mode it also accumulates gradients
	// into Params().
	Loss(data mat.Matrix, params mat.Matrix) (float64, error)

	// LogProb returns, for each row of params, the model log-likelihood of
	// the entire observed batch under that parameter vector (summed over
	// observation rows).
	LogProb(obs mat.Matrix, params mat.Matrix) ([]float64, error)

	// Params exposes the trainable parameter blocks for clipping and
	// optimization.
	Params() []*Param

	// State and SetState snapshot and restore the model wholesale. The
	// encoding is opaque to callers.
	State() ([]byte, error)
	SetState(state []byte) error
}

// Optimizer updates a Model's parameters from their accumulated gradients.
type Optimizer interface {
	ZeroGrad()
	Step()
}

// ClipGradNorm rescales all gradients in place so their combined L2 norm is
// at most maxNorm. A non-positive maxNorm disables clipping.
func ClipGradNorm(params []*Param, maxNorm float64) {
	if maxNorm <= 0 {
		return
	}

	total := 0.0
	for _, p := range params {
		for _, g := range p.Grad {
			total += g * g
		}
	}
	norm := math.Sqrt(total)
	if norm <= maxNorm {
		return
	}

	scale := maxNorm / norm
	for _, p := range params {
		for i := range p.Grad {
			p.Grad[i] *= scale
		}
	}
}
