package sampler

import (
	"context"
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/diff/fd"

	"github.com/seqlike/snel/buffer"
	"github.com/seqlike/snel/rand"
)

// ErrSamplingFailure indicates the MCMC procedure produced invalid (NaN)
// potential values or failed its convergence check. Never silently ignored.
var ErrSamplingFailure = errors.New("MCMC sampling failure")

// A Potential evaluates U(theta) = -log posterior(theta) for one parameter
// vector. +Inf marks a zero-density region (proposals there are rejected);
// NaN is a hard failure.
type Potential func(theta []float64) (float64, error)

// Dual-averaging constants from the standard adaptive-HMC scheme.
const (
	daGamma = 0.05
	daT0    = 10.0
	daKappa = 0.75
)

// Chain provides functionality around a single Hamiltonian Monte Carlo
// walker: leapfrog proposals with a Metropolis correction, step size adapted
// by dual averaging during warmup and frozen afterwards, and a sliding
// window of recorded potentials for convergence checks.
type Chain struct {
	Potential     Potential
	Gen           *rand.Generator
	LeapfrogSteps int
	TargetAccept  float64
	History       *buffer.CircularFloat

	theta    []float64
	u        float64
	stepSize float64

	accepted int64
	proposed int64

	// dual averaging state, only touched during Warmup
	mu        float64
	hBar      float64
	logEpsBar float64
	adaptIter int
}

// NewChain creates a chain at theta0 with the given initial step size and a
// history window of historyWindow recorded potentials. The starting point
// must have finite potential.
func NewChain(pot Potential, gen *rand.Generator, theta0 []float64, stepSize float64, leapfrogSteps int, targetAccept float64, historyWindow int) (*Chain, error) {
	if pot == nil || gen == nil {
		return nil, errors.Errorf("A potential and a random generator are required")
	}
	if len(theta0) < 1 {
		return nil, errors.Errorf("Empty starting point")
	}
	if stepSize <= 0 || leapfrogSteps < 1 {
		return nil, errors.Errorf("Invalid step size %f / leapfrog steps %d", stepSize, leapfrogSteps)
	}

	u, err := pot(theta0)
	if err != nil {
		return nil, errors.Wrap(err, "Potential failed at starting point")
	}
	if math.IsNaN(u) || math.IsInf(u, 0) {
		return nil, errors.Wrapf(ErrSamplingFailure, "non-finite potential %f at starting point", u)
	}

	c := &Chain{
		Potential:     pot,
		Gen:           gen,
		LeapfrogSteps: leapfrogSteps,
		TargetAccept:  targetAccept,
		History:       buffer.NewCircularFloat(historyWindow),
		theta:         append([]float64(nil), theta0...),
		u:             u,
		stepSize:      stepSize,
		mu:            math.Log(10 * stepSize),
	}
	return c, nil
}

// Warmup runs burnIn adaptation steps, discarding every draw, then freezes
// the step size at the dual-averaging estimate.
func (c *Chain) Warmup(ctx context.Context, burnIn int) error {
	for i := 0; i < burnIn; i++ {
		alpha, err := c.step(ctx)
		if err != nil {
			return errors.Wrap(err, "Failure during chain warmup")
		}
		c.adapt(alpha)
	}

	if c.adaptIter > 0 {
		c.stepSize = math.Exp(c.logEpsBar)
	}
	return nil
}

// Step advances the chain by one recorded draw.
func (c *Chain) Step(ctx context.Context) error {
	_, err := c.step(ctx)
	if err != nil {
		return err
	}
	c.History.Add(c.u)
	return nil
}

// Theta returns a copy of the current position.
func (c *Chain) Theta() []float64 {
	return append([]float64(nil), c.theta...)
}

// AcceptRate returns the fraction of proposals accepted so far.
func (c *Chain) AcceptRate() float64 {
	if c.proposed == 0 {
		return 0
	}
	return float64(c.accepted) / float64(c.proposed)
}

// StepSize returns the current leapfrog step size.
func (c *Chain) StepSize() float64 {
	return c.stepSize
}

// step makes one leapfrog proposal and returns the acceptance probability.
func (c *Chain) step(ctx context.Context) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, errors.Wrap(err, "MCMC cancelled")
	}

	dim := len(c.theta)
	r := make([]float64, dim)
	kinetic0 := 0.0
	for i := range r {
		r[i] = c.Gen.NormFloat64()
		kinetic0 += 0.5 * r[i] * r[i]
	}

	theta := append([]float64(nil), c.theta...)
	grad, err := c.gradU(theta)
	if err != nil {
		return 0, err
	}

	// Leapfrog integration. A step that leaves the support (infinite
	// potential or gradient) becomes a plain rejection.
	diverged := false
	for i := range r {
		r[i] -= 0.5 * c.stepSize * grad[i]
	}
	var u float64
	for l := 0; l < c.LeapfrogSteps; l++ {
		for i := range theta {
			theta[i] += c.stepSize * r[i]
		}

		u, err = c.Potential(theta)
		if err != nil {
			return 0, errors.Wrap(err, "Potential failed during leapfrog")
		}
		if math.IsNaN(u) {
			return 0, errors.Wrapf(ErrSamplingFailure, "potential is NaN at proposal")
		}
		if math.IsInf(u, 0) {
			diverged = true
			break
		}

		grad, err = c.gradU(theta)
		if err != nil {
			if errors.Cause(err) == ErrSamplingFailure {
				diverged = true
				break
			}
			return 0, err
		}

		scale := c.stepSize
		if l == c.LeapfrogSteps-1 {
			scale = 0.5 * c.stepSize
		}
		for i := range r {
			r[i] -= scale * grad[i]
		}
	}

	c.proposed++

	alpha := 0.0
	if !diverged {
		kinetic1 := 0.0
		for i := range r {
			kinetic1 += 0.5 * r[i] * r[i]
		}
		alpha = math.Exp((c.u + kinetic0) - (u + kinetic1))
		if alpha > 1 {
			alpha = 1
		}
		if math.IsNaN(alpha) {
			return 0, errors.Wrapf(ErrSamplingFailure, "NaN acceptance probability")
		}
	}

	if alpha > 0 && c.Gen.Float64() < alpha {
		c.theta = theta
		c.u = u
		c.accepted++
	}

	return alpha, nil
}

// adapt updates the dual-averaging step size estimate from one acceptance
// probability.
func (c *Chain) adapt(alpha float64) {
	c.adaptIter++
	t := float64(c.adaptIter)

	frac := 1.0 / (t + daT0)
	c.hBar = (1-frac)*c.hBar + frac*(c.TargetAccept-alpha)

	logEps := c.mu - math.Sqrt(t)/daGamma*c.hBar
	pow := math.Pow(t, -daKappa)
	c.logEpsBar = pow*logEps + (1-pow)*c.logEpsBar

	c.stepSize = math.Exp(logEps)
}

// gradU evaluates the potential gradient by central finite differences.
// Non-finite components surface as ErrSamplingFailure (callers inside the
// leapfrog loop downgrade that to a rejection).
func (c *Chain) gradU(theta []float64) ([]float64, error) {
	var evalErr error
	f := func(x []float64) float64 {
		u, err := c.Potential(x)
		if err != nil && evalErr == nil {
			evalErr = err
		}
		return u
	}

	grad := fd.Gradient(nil, f, theta, &fd.Settings{Formula: fd.Central})
	if evalErr != nil {
		return nil, errors.Wrap(evalErr, "Potential failed during gradient")
	}

	for i, g := range grad {
		if math.IsNaN(g) || math.IsInf(g, 0) {
			return nil, errors.Wrapf(ErrSamplingFailure, "non-finite gradient component %d", i)
		}
	}
	return grad, nil
}
