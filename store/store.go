// Package store holds the simulation results accumulated over a sequential
// run, partitioned into train and validation sets, and produces the
// mini-batches the trainer consumes. Rows only ever accumulate: nothing is
// dropped or rewritten across rounds.
package store

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/seqlike/snel/rand"
)

// ErrShapeMismatch indicates row-aligned sequences with different lengths.
var ErrShapeMismatch = errors.New("row count mismatch between paired sequences")

// A Scaler transforms raw simulation output before storage. It is applied
// exactly once per Append, never retroactively.
type Scaler interface {
	Transform(data *mat.Dense) (*mat.Dense, error)
}

// Store is the accumulated dataset: four growable, row-aligned sequences.
// data[i] was simulated from params[i] within each partition.
type Store struct {
	gen           *rand.Generator
	validFraction float64
	scaler        Scaler

	trainData   *mat.Dense
	trainParams *mat.Dense
	validData   *mat.Dense
	validParams *mat.Dense
}

// New creates an empty store. validFraction must be in [0, 1): the fraction
// of each Append routed to the validation partition.
func New(gen *rand.Generator, validFraction float64, scaler Scaler) (*Store, error) {
	if gen == nil {
		return nil, errors.Errorf("A random generator is required")
	}
	if validFraction < 0 || validFraction >= 1 {
		return nil, errors.Errorf("validFraction must be in [0, 1) (got %f)", validFraction)
	}

	return &Store{
		gen:           gen,
		validFraction: validFraction,
		scaler:        scaler,
	}, nil
}

// Append adds n row-aligned (data, params) pairs, routing a random
// floor(validFraction*n) of them to validation and the rest to training.
// The incoming data passes through the configured scaler (if any) before
// storage.
func (s *Store) Append(data *mat.Dense, params *mat.Dense) error {
	dr, _ := data.Dims()
	pr, _ := params.Dims()
	if dr != pr {
		return errors.Wrapf(ErrShapeMismatch, "data has %d rows, params has %d", dr, pr)
	}

	if s.scaler != nil {
		scaled, err := s.scaler.Transform(data)
		if err != nil {
			return errors.Wrap(err, "Scaler failed on appended data")
		}
		sr, _ := scaled.Dims()
		if sr != dr {
			return errors.Wrapf(ErrShapeMismatch, "scaler returned %d rows for %d inputs", sr, dr)
		}
		data = scaled
	}

	idx := s.gen.Perm(dr)
	m := int(math.Floor(s.validFraction * float64(dr)))
	validIdx := idx[:m]
	trainIdx := idx[m:]

	s.validData = stackRows(s.validData, takeRows(data, validIdx))
	s.validParams = stackRows(s.validParams, takeRows(params, validIdx))
	s.trainData = stackRows(s.trainData, takeRows(data, trainIdx))
	s.trainParams = stackRows(s.trainParams, takeRows(params, trainIdx))

	return nil
}

// TrainLen returns the number of training rows accumulated so far.
func (s *Store) TrainLen() int {
	return rowCount(s.trainData)
}

// ValidLen returns the number of validation rows accumulated so far.
func (s *Store) ValidLen() int {
	return rowCount(s.validData)
}

// TrainData returns the training data rows (nil while empty).
func (s *Store) TrainData() *mat.Dense { return s.trainData }

// TrainParams returns the training parameter rows (nil while empty).
func (s *Store) TrainParams() *mat.Dense { return s.trainParams }

// ValidData returns the validation data rows (nil while empty).
func (s *Store) ValidData() *mat.Dense { return s.validData }

// ValidParams returns the validation parameter rows (nil while empty).
func (s *Store) ValidParams() *mat.Dense { return s.validParams }

func rowCount(m *mat.Dense) int {
	if m == nil {
		return 0
	}
	r, _ := m.Dims()
	return r
}

// takeRows copies the given rows of src (in idx order) into a new matrix.
// Returns nil for an empty selection.
func takeRows(src *mat.Dense, idx []int) *mat.Dense {
	if len(idx) == 0 {
		return nil
	}
	_, c := src.Dims()
	out := mat.NewDense(len(idx), c, nil)
	for i, j := range idx {
		out.SetRow(i, src.RawRowView(j))
	}
	return out
}

// stackRows concatenates add below dst, tolerating nil on either side.
func stackRows(dst *mat.Dense, add *mat.Dense) *mat.Dense {
	if add == nil {
		return dst
	}
	if dst == nil {
		return mat.DenseCopyOf(add)
	}
	var out mat.Dense
	out.Stack(dst, add)
	return &out
}
