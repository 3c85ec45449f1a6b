// Package sampler computes the posterior approximation (prior plus model
// likelihood against observed data) and draws parameter samples from it with
// an adaptive Hamiltonian Monte Carlo walker.
package sampler

import (
	"context"
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/seqlike/snel/nde"
	"github.com/seqlike/snel/prior"
	"github.com/seqlike/snel/rand"
)

// Posterior evaluates log-densities of the current posterior approximation
// and samples from it. The observed batch is fixed; one posterior evaluation
// aggregates the model's evidence over every observed row.
type Posterior struct {
	Prior prior.Prior
	Model nde.Model
	Obs   *mat.Dense
	Gen   *rand.Generator

	// MCMC tuning. Zero values are replaced by defaults in NewPosterior.
	WalkerSteps   int
	BurnIn        int
	Thin          int
	LeapfrogSteps int
	StepSize      float64
	TargetAccept  float64

	// DriftTolerance bounds the allowed relative drift between the early
	// and late halves of the recorded potential window. Exceeding it fails
	// the draw with ErrSamplingFailure. Non-positive disables the check.
	DriftTolerance float64
}

// NewPosterior creates a posterior with default MCMC tuning.
func NewPosterior(pr prior.Prior, model nde.Model, obs *mat.Dense, gen *rand.Generator) (*Posterior, error) {
	if pr == nil || model == nil || gen == nil {
		return nil, errors.Errorf("Prior, model, and random generator are all required")
	}
	if obs == nil {
		return nil, errors.Errorf("An observed data batch is required")
	}

	return &Posterior{
		Prior:          pr,
		Model:          model,
		Obs:            obs,
		Gen:            gen,
		WalkerSteps:    200,
		BurnIn:         100,
		Thin:           1,
		LeapfrogSteps:  10,
		StepSize:       0.1,
		TargetAccept:   0.8,
		DriftTolerance: 5.0,
	}, nil
}

// LogPrior returns the prior log-density per row of params. Pure.
func (p *Posterior) LogPrior(params mat.Matrix) []float64 {
	return p.Prior.LogProb(params)
}

// LogPosterior returns, per row of params, the prior log-density plus
// (unless priorOnly) the model's log-likelihood of the full observed batch
// under that row.
func (p *Posterior) LogPosterior(params mat.Matrix, priorOnly bool) ([]float64, error) {
	lp := p.LogPrior(params)
	if priorOnly {
		return lp, nil
	}

	ll, err := p.Model.LogProb(p.Obs, params)
	if err != nil {
		return nil, errors.Wrap(err, "Model log-prob failed")
	}
	if len(ll) != len(lp) {
		return nil, errors.Errorf("Model returned %d log-probs for %d rows", len(ll), len(lp))
	}

	for i := range lp {
		lp[i] += ll[i]
	}
	return lp, nil
}

// SamplePosterior runs the adaptive HMC walker against the negative
// log-posterior: one prior draw seeds the chain, burnIn warmup steps are
// discarded, walkerSteps draws are recorded, and the last numSamples of them
// come back as a (numSamples, paramDim) matrix.
func (p *Posterior) SamplePosterior(ctx context.Context, numSamples int, walkerSteps int, burnIn int) (*mat.Dense, error) {
	if numSamples < 1 {
		return nil, errors.Errorf("numSamples must be positive (got %d)", numSamples)
	}
	if walkerSteps < numSamples {
		return nil, errors.Errorf("walkerSteps %d < numSamples %d", walkerSteps, numSamples)
	}

	seed := p.Prior.Sample(1)
	theta0 := append([]float64(nil), seed.RawRowView(0)...)

	ch, err := NewChain(p.potential, p.Gen, theta0, p.StepSize, p.LeapfrogSteps, p.TargetAccept, walkerSteps)
	if err != nil {
		return nil, err
	}

	if err := ch.Warmup(ctx, burnIn); err != nil {
		return nil, err
	}

	thin := p.Thin
	if thin < 1 {
		thin = 1
	}

	dim := len(theta0)
	draws := mat.NewDense(walkerSteps, dim, nil)
	for i := 0; i < walkerSteps; i++ {
		// Keep every thin-th state of the chain
		for k := 0; k < thin; k++ {
			if err := ch.Step(ctx); err != nil {
				return nil, errors.Wrapf(err, "Failure at walker step %d", i)
			}
		}
		draws.SetRow(i, ch.Theta())
	}

	if err := p.checkDrift(ch); err != nil {
		return nil, err
	}

	out := mat.NewDense(numSamples, dim, nil)
	for i := 0; i < numSamples; i++ {
		out.SetRow(i, draws.RawRowView(walkerSteps-numSamples+i))
	}
	return out, nil
}

// SamplePrior draws numSamples parameter vectors: directly from the prior
// when priorOnly, otherwise from the posterior approximation. This is the
// branch point that makes round 0 a prior-only bootstrap.
func (p *Posterior) SamplePrior(ctx context.Context, numSamples int, priorOnly bool) (*mat.Dense, error) {
	if priorOnly {
		if numSamples < 1 {
			return nil, errors.Errorf("numSamples must be positive (got %d)", numSamples)
		}
		return p.Prior.Sample(numSamples), nil
	}
	return p.SamplePosterior(ctx, numSamples, p.WalkerSteps, p.BurnIn)
}

// potential is U(theta) = -log posterior(theta) for a single vector.
func (p *Posterior) potential(theta []float64) (float64, error) {
	row := mat.NewDense(1, len(theta), theta)
	lp, err := p.LogPosterior(row, false)
	if err != nil {
		return 0, err
	}
	return -lp[0], nil
}

// checkDrift compares the early and late halves of the recorded potential
// window. A chain still sliding downhill at the end of sampling has not
// converged, and the draws cannot be trusted.
func (p *Posterior) checkDrift(ch *Chain) error {
	if p.DriftTolerance <= 0 {
		return nil
	}

	first := ch.History.FirstHalf()
	second := ch.History.SecondHalf()
	if first == nil || second == nil {
		return nil // window never filled, nothing to compare
	}

	m1 := first.Mean()
	m2 := second.Mean()
	drift := math.Abs(m1-m2) / (1.0 + math.Abs(m2))
	if drift > p.DriftTolerance {
		return errors.Wrapf(ErrSamplingFailure, "potential drift %.3f exceeds tolerance %.3f (chain has not converged)", drift, p.DriftTolerance)
	}
	return nil
}
