package store

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// ErrInsufficientData indicates a partition has fewer rows than one batch.
var ErrInsufficientData = errors.New("not enough rows for a single batch")

// Batches iterates over fixed-size mini-batches of row-aligned (data,
// params) pairs. A partial final batch is always dropped. Obtain a fresh
// iterator for every pass; a training iterator is reshuffled at
// construction.
type Batches struct {
	data      *mat.Dense
	params    *mat.Dense
	order     []int
	batchSize int
	pos       int

	curData   *mat.Dense
	curParams *mat.Dense
}

// NewTrainBatches returns a shuffled iterator over the training partition.
// Fails with ErrInsufficientData when fewer than batchSize training rows
// exist, since an epoch with zero batches would silently train on nothing.
func NewTrainBatches(s *Store, batchSize int) (*Batches, error) {
	if batchSize < 1 {
		return nil, errors.Errorf("Batch size must be positive (got %d)", batchSize)
	}
	n := s.TrainLen()
	if n < batchSize {
		return nil, errors.Wrapf(ErrInsufficientData, "train partition has %d rows, batch size is %d", n, batchSize)
	}

	return &Batches{
		data:      s.trainData,
		params:    s.trainParams,
		order:     s.gen.Perm(n),
		batchSize: batchSize,
	}, nil
}

// NewValidBatches returns a fixed-order iterator over the validation
// partition. An undersized (or empty) partition yields zero batches rather
// than an error: an empty validation set is a legal configuration
// (validFraction of 0).
func NewValidBatches(s *Store, batchSize int) (*Batches, error) {
	if batchSize < 1 {
		return nil, errors.Errorf("Batch size must be positive (got %d)", batchSize)
	}

	n := s.ValidLen()
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}

	return &Batches{
		data:      s.validData,
		params:    s.validParams,
		order:     order,
		batchSize: batchSize,
	}, nil
}

// Next advances to the next full batch, returning false when none remain.
func (b *Batches) Next() bool {
	if b.pos+b.batchSize > len(b.order) {
		return false
	}

	idx := b.order[b.pos : b.pos+b.batchSize]
	b.curData = takeRows(b.data, idx)
	b.curParams = takeRows(b.params, idx)
	b.pos += b.batchSize
	return true
}

// Data returns the current data batch. Only valid after Next returns true.
func (b *Batches) Data() *mat.Dense { return b.curData }

// Params returns the current params batch. Only valid after Next returns true.
func (b *Batches) Params() *mat.Dense { return b.curParams }
