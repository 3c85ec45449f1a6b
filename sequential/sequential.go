// Package sequential orchestrates Sequential Neural Likelihood rounds:
// sample parameters (prior on round 0, posterior MCMC afterwards), simulate,
// append to the accumulated dataset, and retrain the density model, carrying
// the trained model and the full dataset from round to round.
package sequential

import (
	"context"
	"log"
	"time"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/seqlike/snel/nde"
	"github.com/seqlike/snel/prior"
	"github.com/seqlike/snel/rand"
	"github.com/seqlike/snel/sampler"
	"github.com/seqlike/snel/sim"
	"github.com/seqlike/snel/store"
	"github.com/seqlike/snel/train"
)

// Config is the whole run-construction surface. There is no live
// reconfiguration: build a new Sequential for a new run.
type Config struct {
	Prior   prior.Prior
	Obs     *mat.Dense
	Model   nde.Model
	Opt     nde.Optimizer
	Sim     sim.Simulator
	Scaler  store.Scaler
	Gen     *rand.Generator

	NRounds            int
	NumInitialSamples  int
	NumSamplesPerRound int
	SimsPerModel       int

	WalkerSteps int
	BurnIn      int
	Thin        int

	MaxEpochs     int
	Patience      int
	BatchSize     int
	ValidFraction float64
	GradClip      float64

	Checkpoint train.CheckpointStore
	Out        *log.Logger // optional progress logging

	// Progress, when set, is called after every completed round.
	Progress func(RoundResult)
}

// RoundResult records what one completed round did.
type RoundResult struct {
	Round         int
	NewRows       int
	TrainRows     int
	ValidRows     int
	BestValidLoss float64
	EarlyStopped  bool
	Elapsed       time.Duration
}

// Sequential owns the cross-round state: the accumulated dataset, the model
// being trained, and the posterior sampler pointed at that model.
type Sequential struct {
	cfg       Config
	paramDim  int
	dataDim   int
	store     *store.Store
	posterior *sampler.Posterior
	driver    *sim.Driver
	trainer   *train.Trainer
}

// New validates the configuration and assembles the run. The parameter
// dimension is inferred from the prior mean and the data dimension from the
// observed batch; the observed data is rescaled once here when a scaler is
// configured.
func New(cfg Config) (*Sequential, error) {
	if cfg.Prior == nil || cfg.Model == nil || cfg.Opt == nil || cfg.Sim == nil || cfg.Gen == nil {
		return nil, errors.Errorf("Prior, model, optimizer, simulator, and generator are all required")
	}
	if cfg.Obs == nil {
		return nil, errors.Errorf("An observed data batch is required")
	}
	if cfg.NRounds < 1 {
		return nil, errors.Errorf("NRounds must be at least 1 (got %d)", cfg.NRounds)
	}
	if cfg.NumInitialSamples < 1 || cfg.NumSamplesPerRound < 1 {
		return nil, errors.Errorf("Sample counts must be positive (%d initial, %d per round)", cfg.NumInitialSamples, cfg.NumSamplesPerRound)
	}

	paramDim := len(cfg.Prior.Mean())
	_, dataDim := cfg.Obs.Dims()

	obs := cfg.Obs
	if cfg.Scaler != nil {
		scaled, err := cfg.Scaler.Transform(obs)
		if err != nil {
			return nil, errors.Wrap(err, "Could not rescale observed data")
		}
		obs = scaled
	}

	st, err := store.New(cfg.Gen, cfg.ValidFraction, cfg.Scaler)
	if err != nil {
		return nil, err
	}

	post, err := sampler.NewPosterior(cfg.Prior, cfg.Model, obs, cfg.Gen)
	if err != nil {
		return nil, err
	}
	if cfg.WalkerSteps > 0 {
		post.WalkerSteps = cfg.WalkerSteps
	}
	if cfg.BurnIn > 0 {
		post.BurnIn = cfg.BurnIn
	}
	if cfg.Thin > 0 {
		post.Thin = cfg.Thin
	}

	driver, err := sim.NewDriver(cfg.Sim, cfg.SimsPerModel, paramDim, dataDim)
	if err != nil {
		return nil, err
	}

	trainer, err := train.NewTrainer(cfg.Model, cfg.Opt, cfg.Checkpoint, cfg.BatchSize, cfg.MaxEpochs, cfg.Patience, cfg.GradClip)
	if err != nil {
		return nil, err
	}
	trainer.Out = cfg.Out

	return &Sequential{
		cfg:       cfg,
		paramDim:  paramDim,
		dataDim:   dataDim,
		store:     st,
		posterior: post,
		driver:    driver,
		trainer:   trainer,
	}, nil
}

// Store exposes the accumulated dataset, e.g. for inspection after a failed
// run. Data appended before a failure stays put.
func (s *Sequential) Store() *store.Store {
	return s.store
}

// Posterior exposes the posterior sampler bound to the current model, e.g.
// for drawing final samples after the run.
func (s *Sequential) Posterior() *sampler.Posterior {
	return s.posterior
}

// Run executes all rounds strictly in sequence. Any failure aborts the run
// with the rounds completed so far; there is no rollback of the store or the
// checkpoint.
func (s *Sequential) Run(ctx context.Context) ([]RoundResult, error) {
	runStart := time.Now()
	results := make([]RoundResult, 0, s.cfg.NRounds)

	for r := 0; r < s.cfg.NRounds; r++ {
		roundStart := time.Now()

		// Round 0 bootstraps from the prior; later rounds sample the
		// posterior approximation under the just-trained model.
		var draws *mat.Dense
		var err error
		if r == 0 {
			draws, err = s.posterior.SamplePrior(ctx, s.cfg.NumInitialSamples, true)
		} else {
			draws, err = s.posterior.SamplePrior(ctx, s.cfg.NumSamplesPerRound, false)
		}
		if err != nil {
			return results, errors.Wrapf(err, "Round %d: drawing parameters failed", r)
		}

		data, expanded, err := s.driver.Simulate(draws)
		if err != nil {
			return results, errors.Wrapf(err, "Round %d: simulation failed", r)
		}

		if err := s.store.Append(data, expanded); err != nil {
			return results, errors.Wrapf(err, "Round %d: storing results failed", r)
		}

		// Train on everything accumulated so far, not just this round
		fit, err := s.trainer.Fit(s.store)
		if err != nil {
			return results, errors.Wrapf(err, "Round %d: training failed", r)
		}

		newRows, _ := data.Dims()
		res := RoundResult{
			Round:         r,
			NewRows:       newRows,
			TrainRows:     s.store.TrainLen(),
			ValidRows:     s.store.ValidLen(),
			BestValidLoss: fit.BestValidLoss,
			EarlyStopped:  fit.EarlyStopped,
			Elapsed:       time.Since(roundStart),
		}
		results = append(results, res)

		if s.cfg.Out != nil {
			s.cfg.Out.Printf("Round %d complete. Time elapsed: %v. Total time elapsed: %v.",
				r+1, res.Elapsed.Round(time.Millisecond), time.Since(runStart).Round(time.Millisecond))
		}
		if s.cfg.Progress != nil {
			s.cfg.Progress(res)
		}
	}

	return results, nil
}
