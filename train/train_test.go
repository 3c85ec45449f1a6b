package train

import (
	"fmt"
	"math"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/mat"

	"github.com/seqlike/snel/nde"
	"github.com/seqlike/snel/rand"
	"github.com/seqlike/snel/store"
)

// scriptModel is a stub whose validation loss follows a fixed script, one
// value per epoch, and whose "state" is a version bumped every epoch of
// training. That makes checkpoint contents checkable against the best epoch.
type scriptModel struct {
	losses    []float64
	epoch     int
	version   int
	training  bool
	failTrain bool
}

func (m *scriptModel) SetTraining(on bool) {
	if on && !m.training {
		m.epoch++
		m.version++
	}
	m.training = on
}

func (m *scriptModel) Loss(data, params mat.Matrix) (float64, error) {
	if m.training {
		if m.failTrain {
			return 0, errors.Errorf("scripted training failure")
		}
		return 1.0, nil
	}

	idx := m.epoch - 1
	if idx >= len(m.losses) {
		idx = len(m.losses) - 1
	}
	return m.losses[idx], nil
}

func (m *scriptModel) LogProb(obs, params mat.Matrix) ([]float64, error) {
	r, _ := params.Dims()
	return make([]float64, r), nil
}

func (m *scriptModel) Params() []*nde.Param { return nil }

func (m *scriptModel) State() ([]byte, error) {
	return []byte(fmt.Sprintf(`{"version":%d}`, m.version)), nil
}

func (m *scriptModel) SetState(s []byte) error { return nil }

type noopOpt struct{}

func (o *noopOpt) ZeroGrad() {}
func (o *noopOpt) Step()     {}

func filledStore(t *testing.T, validFraction float64) *store.Store {
	assert := assert.New(t)

	gen, err := rand.NewGenerator(42)
	assert.NoError(err)
	s, err := store.New(gen, validFraction, nil)
	assert.NoError(err)

	assert.NoError(s.Append(mat.NewDense(20, 2, nil), mat.NewDense(20, 1, nil)))
	return s
}

func TestTrainerValidation(t *testing.T) {
	assert := assert.New(t)

	m := &scriptModel{losses: []float64{1}}
	_, err := NewTrainer(nil, &noopOpt{}, nil, 4, 10, 2, 5)
	assert.Error(err)
	_, err = NewTrainer(m, &noopOpt{}, nil, 0, 10, 2, 5)
	assert.Error(err)
	_, err = NewTrainer(m, &noopOpt{}, nil, 4, 10, -1, 5)
	assert.Error(err)
}

func TestEarlyStopAndCheckpoint(t *testing.T) {
	assert := assert.New(t)

	// Improves at epochs 0 and 1, then stalls forever
	m := &scriptModel{losses: []float64{5, 3, 4, 4, 4, 4, 4, 4}}
	ck := &MemoryCheckpoint{}
	tr, err := NewTrainer(m, &noopOpt{}, ck, 4, 50, 2, 5)
	assert.NoError(err)

	res, err := tr.Fit(filledStore(t, 0.5))
	assert.NoError(err)

	// stall exceeds patience=2 at the 3rd non-improving epoch
	assert.True(res.EarlyStopped)
	assert.Equal(5, res.Epochs)
	assert.Equal(3.0, res.BestValidLoss)

	// Checkpoint reflects the best epoch (version 2), not the final one
	assert.Equal(2, ck.Saves())
	state, err := ck.Load()
	assert.NoError(err)
	assert.Equal(`{"version":2}`, string(state))
	assert.True(m.version > 2)
}

func TestMaxEpochsBound(t *testing.T) {
	assert := assert.New(t)

	// Strictly improving forever: only MaxEpochs stops it
	losses := make([]float64, 100)
	for i := range losses {
		losses[i] = 100 - float64(i)
	}
	m := &scriptModel{losses: losses}
	ck := &MemoryCheckpoint{}
	tr, err := NewTrainer(m, &noopOpt{}, ck, 4, 7, 3, 5)
	assert.NoError(err)

	res, err := tr.Fit(filledStore(t, 0.5))
	assert.NoError(err)
	assert.False(res.EarlyStopped)
	assert.Equal(7, res.Epochs)
	assert.Equal(7, ck.Saves())
}

func TestEmptyValidationSet(t *testing.T) {
	assert := assert.New(t)

	// validFraction of 0: validation loss is +Inf every epoch, so nothing
	// ever improves and no checkpoint is written
	m := &scriptModel{losses: []float64{1}}
	ck := &MemoryCheckpoint{}
	tr, err := NewTrainer(m, &noopOpt{}, ck, 4, 50, 2, 5)
	assert.NoError(err)

	res, err := tr.Fit(filledStore(t, 0.0))
	assert.NoError(err)
	assert.True(res.EarlyStopped)
	assert.Equal(3, res.Epochs) // patience+1 epochs, 0-indexed halt at patience
	assert.True(math.IsInf(res.BestValidLoss, 1))
	assert.Equal(0, ck.Saves())
	_, err = ck.Load()
	assert.Error(err)
}

func TestTrainingFailureIsFatal(t *testing.T) {
	assert := assert.New(t)

	m := &scriptModel{losses: []float64{1}, failTrain: true}
	tr, err := NewTrainer(m, &noopOpt{}, nil, 4, 50, 2, 5)
	assert.NoError(err)

	_, err = tr.Fit(filledStore(t, 0.5))
	assert.Error(err)
}

func TestInsufficientTrainingData(t *testing.T) {
	assert := assert.New(t)

	m := &scriptModel{losses: []float64{1}}
	tr, err := NewTrainer(m, &noopOpt{}, nil, 100, 50, 2, 5)
	assert.NoError(err)

	_, err = tr.Fit(filledStore(t, 0.5))
	assert.Error(err)
	assert.Equal(store.ErrInsufficientData, errors.Cause(err))
}

func TestFileCheckpoint(t *testing.T) {
	assert := assert.New(t)

	path := t.TempDir() + "/model.ckpt"
	ck := &FileCheckpoint{Path: path}
	assert.False(ck.Exists())

	assert.NoError(ck.Save([]byte(`{"version":1}`)))
	assert.True(ck.Exists())

	// Overwritten wholesale
	assert.NoError(ck.Save([]byte(`{"version":2}`)))
	state, err := ck.Load()
	assert.NoError(err)
	assert.Equal(`{"version":2}`, string(state))
}
