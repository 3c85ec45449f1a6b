// Package train runs the early-stopped epoch loop that fits the density
// model to the accumulated dataset, checkpointing on every validation
// improvement.
package train

import (
	"log"
	"math"

	"github.com/pkg/errors"

	"github.com/seqlike/snel/nde"
	"github.com/seqlike/snel/store"
)

// Trainer fits a model against a store. One Fit call is one round of
// training: all-or-nothing, any per-batch failure aborts immediately.
type Trainer struct {
	Model      nde.Model
	Opt        nde.Optimizer
	GradClip   float64
	BatchSize  int
	MaxEpochs  int
	Patience   int
	Checkpoint CheckpointStore
	Out        *log.Logger // optional progress logging
}

// Result reports how one Fit call ended.
type Result struct {
	Epochs        int
	BestValidLoss float64
	EarlyStopped  bool
}

// NewTrainer creates a trainer after validating its configuration.
func NewTrainer(m nde.Model, opt nde.Optimizer, ck CheckpointStore, batchSize int, maxEpochs int, patience int, gradClip float64) (*Trainer, error) {
	if m == nil || opt == nil {
		return nil, errors.Errorf("A model and an optimizer are required")
	}
	if batchSize < 1 || maxEpochs < 1 || patience < 0 {
		return nil, errors.Errorf("Invalid training config: batch %d, epochs %d, patience %d", batchSize, maxEpochs, patience)
	}

	return &Trainer{
		Model:      m,
		Opt:        opt,
		GradClip:   gradClip,
		BatchSize:  batchSize,
		MaxEpochs:  maxEpochs,
		Patience:   patience,
		Checkpoint: ck,
	}, nil
}

// Fit trains until validation loss stops improving for more than Patience
// consecutive epochs, or MaxEpochs is reached. The best validation loss is
// tracked per call (per round), and the model state at every improvement is
// written to the checkpoint store.
func (t *Trainer) Fit(s *store.Store) (*Result, error) {
	t.logf("Training on %d samples. Validating on %d samples.", s.TrainLen(), s.ValidLen())

	res := &Result{BestValidLoss: math.Inf(1)}
	stall := 0

	for epoch := 0; epoch < t.MaxEpochs; epoch++ {
		t.Model.SetTraining(true)

		batches, err := store.NewTrainBatches(s, t.BatchSize)
		if err != nil {
			return nil, errors.Wrapf(err, "Could not start training epoch %d", epoch)
		}

		for batches.Next() {
			t.Opt.ZeroGrad()
			_, err := t.Model.Loss(batches.Data(), batches.Params())
			if err != nil {
				return nil, errors.Wrapf(err, "Loss failed during epoch %d", epoch)
			}
			nde.ClipGradNorm(t.Model.Params(), t.GradClip)
			t.Opt.Step()
		}

		validLoss, err := t.validate(s)
		if err != nil {
			return nil, errors.Wrapf(err, "Validation failed after epoch %d", epoch)
		}

		res.Epochs = epoch + 1
		if validLoss < res.BestValidLoss {
			res.BestValidLoss = validLoss
			stall = 0
			if err := t.snapshot(); err != nil {
				return nil, err
			}
		} else {
			stall++
		}

		t.logf("Epoch %d validation loss: %.4f (best %.4f)", epoch, validLoss, res.BestValidLoss)

		if stall > t.Patience {
			res.EarlyStopped = true
			t.logf("Early stopped after %d epochs", epoch+1)
			break
		}
	}

	t.Model.SetTraining(false)
	return res, nil
}

// validate computes the mean loss over all validation batches with no
// gradient updates. An empty validation set yields +Inf, so no checkpoint
// is ever written from it.
func (t *Trainer) validate(s *store.Store) (float64, error) {
	t.Model.SetTraining(false)

	batches, err := store.NewValidBatches(s, t.BatchSize)
	if err != nil {
		return 0, err
	}

	total := 0.0
	count := 0
	for batches.Next() {
		loss, err := t.Model.Loss(batches.Data(), batches.Params())
		if err != nil {
			return 0, err
		}
		total += loss
		count++
	}

	if count == 0 {
		return math.Inf(1), nil
	}
	return total / float64(count), nil
}

// snapshot persists the model's current state as the new best checkpoint.
func (t *Trainer) snapshot() error {
	if t.Checkpoint == nil {
		return nil
	}

	state, err := t.Model.State()
	if err != nil {
		return errors.Wrap(err, "Could not serialize model for checkpoint")
	}
	if err := t.Checkpoint.Save(state); err != nil {
		return errors.Wrap(err, "Could not save checkpoint")
	}
	return nil
}

func (t *Trainer) logf(format string, args ...interface{}) {
	if t.Out != nil {
		t.Out.Printf(format, args...)
	}
}
