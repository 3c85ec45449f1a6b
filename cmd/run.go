package cmd

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/mat"

	"github.com/seqlike/snel/nde"
	"github.com/seqlike/snel/prior"
	"github.com/seqlike/snel/rand"
	"github.com/seqlike/snel/sequential"
	"github.com/seqlike/snel/train"
)

// toySim produces data = A*theta + noise, one observation row per parameter
// row. It stands in for an expensive external simulator in the demo run.
type toySim struct {
	gen   *rand.Generator
	a     *mat.Dense // dataDim x paramDim
	noise float64
}

// Simulate implements sim.Simulator.
func (t *toySim) Simulate(params *mat.Dense, simsPerModel int) (*mat.Dense, error) {
	var mean mat.Dense
	mean.Mul(params, t.a.T())

	r, c := mean.Dims()
	out := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			out.Set(i, j, mean.At(i, j)+t.noise*t.gen.NormFloat64())
		}
	}
	return out, nil
}

type runParams struct {
	paramDim           int
	dataDim            int
	obsCount           int
	nRounds            int
	numInitialSamples  int
	numSamplesPerRound int
	simsPerModel       int
	walkerSteps        int
	burnIn             int
	thin               int
	maxEpochs          int
	patience           int
	batchSize          int
	validFraction      float64
	gradClip           float64
	learnRate          float64
	noise              float64
	timeout            time.Duration
	logDir             string
	monitorAddr        string
}

func runCmd() *cobra.Command {
	p := &runParams{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute a sequential run against the built-in toy simulator",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDemo(p)
		},
	}

	cmd.Flags().IntVar(&p.paramDim, "param-dim", 2, "Parameter vector dimension")
	cmd.Flags().IntVar(&p.dataDim, "data-dim", 3, "Observation vector dimension")
	cmd.Flags().IntVar(&p.obsCount, "obs-count", 8, "Number of observed data rows")
	cmd.Flags().IntVar(&p.nRounds, "rounds", 4, "Number of sequential rounds")
	cmd.Flags().IntVar(&p.numInitialSamples, "initial-samples", 250, "Prior draws for round 0")
	cmd.Flags().IntVar(&p.numSamplesPerRound, "samples-per-round", 250, "Posterior draws per later round")
	cmd.Flags().IntVar(&p.simsPerModel, "sims-per-model", 1, "Simulations per parameter draw")
	cmd.Flags().IntVar(&p.walkerSteps, "walker-steps", 250, "Recorded MCMC steps per round")
	cmd.Flags().IntVar(&p.burnIn, "burn-in", 50, "Discarded MCMC warmup steps per round")
	cmd.Flags().IntVar(&p.thin, "thin", 1, "Keep every thin-th MCMC state")
	cmd.Flags().IntVar(&p.maxEpochs, "max-epochs", 200, "Training epoch cap per round")
	cmd.Flags().IntVar(&p.patience, "patience", 10, "Early stop patience in epochs")
	cmd.Flags().IntVar(&p.batchSize, "batch-size", 50, "Training batch size")
	cmd.Flags().Float64Var(&p.validFraction, "valid-fraction", 0.15, "Fraction of each round held out for validation")
	cmd.Flags().Float64Var(&p.gradClip, "grad-clip", 5, "Gradient norm ceiling")
	cmd.Flags().Float64Var(&p.learnRate, "lr", 0.01, "SGD learning rate")
	cmd.Flags().Float64Var(&p.noise, "noise", 0.1, "Toy simulator noise level")
	cmd.Flags().DurationVar(&p.timeout, "timeout", 0, "Abort the whole run after this long (0 = no timeout)")
	cmd.Flags().StringVar(&p.logDir, "log-dir", ".", "Location to store the model checkpoint")
	cmd.Flags().StringVar(&p.monitorAddr, "monitor", "", "Serve expvar progress on this address (e.g. :8000)")

	return cmd
}

func runDemo(p *runParams) error {
	out := log.New(os.Stdout, "", 0)

	gen, err := rand.NewGenerator(randomSeed)
	if err != nil {
		return err
	}

	mu := make([]float64, p.paramDim)
	sigma := make([]float64, p.paramDim)
	for i := range sigma {
		sigma[i] = 1
	}
	pr, err := prior.NewIndependentNormal(gen, mu, sigma)
	if err != nil {
		return err
	}

	// A fixed projection for the toy simulator: each data dim mixes the
	// parameter dims with distinct weights
	a := mat.NewDense(p.dataDim, p.paramDim, nil)
	for i := 0; i < p.dataDim; i++ {
		for j := 0; j < p.paramDim; j++ {
			a.Set(i, j, 1.0/float64(i+j+1))
		}
	}
	simulator := &toySim{gen: gen, a: a, noise: p.noise}

	// Observed data comes from one hidden truth drawn from the prior
	truth := pr.Sample(1)
	obsParams := mat.NewDense(p.obsCount, p.paramDim, nil)
	for i := 0; i < p.obsCount; i++ {
		obsParams.SetRow(i, truth.RawRowView(0))
	}
	obs, err := simulator.Simulate(obsParams, 1)
	if err != nil {
		return errors.Wrap(err, "Could not generate observed data")
	}
	out.Printf("Hidden truth: %.3f", mat.Formatted(truth))

	model, err := nde.NewLinearGaussian(p.paramDim, p.dataDim, gen)
	if err != nil {
		return err
	}
	opt, err := nde.NewSGD(model, p.learnRate)
	if err != nil {
		return err
	}

	ck := &train.FileCheckpoint{Path: filepath.Join(p.logDir, "snel.ckpt")}

	cfg := sequential.Config{
		Prior:              pr,
		Obs:                obs,
		Model:              model,
		Opt:                opt,
		Sim:                simulator,
		Gen:                gen,
		NRounds:            p.nRounds,
		NumInitialSamples:  p.numInitialSamples,
		NumSamplesPerRound: p.numSamplesPerRound,
		SimsPerModel:       p.simsPerModel,
		WalkerSteps:        p.walkerSteps,
		BurnIn:             p.burnIn,
		Thin:               p.thin,
		MaxEpochs:          p.maxEpochs,
		Patience:           p.patience,
		BatchSize:          p.batchSize,
		ValidFraction:      p.validFraction,
		GradClip:           p.gradClip,
		Checkpoint:         ck,
	}
	if verbose {
		cfg.Out = out
	}

	var mon *monitor
	if len(p.monitorAddr) > 0 {
		mon = &monitor{}
		if err := mon.Start(p.monitorAddr); err != nil {
			return err
		}
		defer mon.Stop()
		mon.Rounds.Set(int64(p.nRounds))
		cfg.Progress = mon.Update
	}

	seq, err := sequential.New(cfg)
	if err != nil {
		return err
	}

	ctx := context.Background()
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	results, err := seq.Run(ctx)
	for _, r := range results {
		out.Printf("Round %d: %d new rows (%d train / %d valid), best valid loss %.4f, %v",
			r.Round, r.NewRows, r.TrainRows, r.ValidRows, r.BestValidLoss, r.Elapsed.Round(time.Millisecond))
	}
	if err != nil {
		return err
	}

	// Final posterior draws under the fully trained model
	final, err := seq.Posterior().SamplePosterior(ctx, 10, p.walkerSteps, p.burnIn)
	if err != nil {
		return err
	}
	out.Printf("Posterior draws:\n%.3f", mat.Formatted(final))
	out.Printf("Checkpoint written to %s", ck.Path)

	return nil
}
