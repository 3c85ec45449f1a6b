package nde

import "github.com/pkg/errors"

// SGD is plain stochastic gradient descent over a model's parameter blocks.
type SGD struct {
	params []*Param
	lr     float64
}

// NewSGD creates an SGD optimizer for the given model.
func NewSGD(m Model, lr float64) (*SGD, error) {
	if m == nil {
		return nil, errors.Errorf("A model is required")
	}
	if lr <= 0 {
		return nil, errors.Errorf("Learning rate must be positive (got %f)", lr)
	}

	return &SGD{params: m.Params(), lr: lr}, nil
}

// ZeroGrad clears all gradient accumulators.
func (o *SGD) ZeroGrad() {
	for _, p := range o.params {
		for i := range p.Grad {
			p.Grad[i] = 0
		}
	}
}

// Step applies one descent update from the accumulated gradients.
func (o *SGD) Step() {
	for _, p := range o.params {
		for i := range p.Value {
			p.Value[i] -= o.lr * p.Grad[i]
		}
	}
}
