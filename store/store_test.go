package store

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/mat"

	"github.com/seqlike/snel/rand"
)

func rowData(n, c int, base float64) *mat.Dense {
	out := mat.NewDense(n, c, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < c; j++ {
			out.Set(i, j, base+float64(i))
		}
	}
	return out
}

func TestStoreConstruction(t *testing.T) {
	assert := assert.New(t)

	gen, err := rand.NewGenerator(42)
	assert.NoError(err)

	_, err = New(nil, 0.1, nil)
	assert.Error(err)
	_, err = New(gen, -0.1, nil)
	assert.Error(err)
	_, err = New(gen, 1.0, nil)
	assert.Error(err)

	s, err := New(gen, 0.0, nil)
	assert.NoError(err)
	assert.Equal(0, s.TrainLen())
	assert.Equal(0, s.ValidLen())
}

func TestAppendAccounting(t *testing.T) {
	assert := assert.New(t)

	gen, err := rand.NewGenerator(42)
	assert.NoError(err)

	s, err := New(gen, 0.25, nil)
	assert.NoError(err)

	// Row count mismatch is rejected
	err = s.Append(rowData(3, 2, 0), rowData(4, 1, 0))
	assert.Error(err)
	assert.Equal(ErrShapeMismatch, errors.Cause(err))

	// 10 rows: floor(0.25*10) = 2 to validation
	assert.NoError(s.Append(rowData(10, 2, 0), rowData(10, 1, 0)))
	assert.Equal(8, s.TrainLen())
	assert.Equal(2, s.ValidLen())

	// 7 more rows: floor(0.25*7) = 1 to validation, cumulative
	assert.NoError(s.Append(rowData(7, 2, 100), rowData(7, 1, 100)))
	assert.Equal(14, s.TrainLen())
	assert.Equal(3, s.ValidLen())
	assert.Equal(17, s.TrainLen()+s.ValidLen())
}

func TestAppendKeepsRowPairing(t *testing.T) {
	assert := assert.New(t)

	gen, err := rand.NewGenerator(42)
	assert.NoError(err)

	s, err := New(gen, 0.5, nil)
	assert.NoError(err)

	// data row i is (i, i), param row i is (i): pairing survives the split
	n := 20
	data := mat.NewDense(n, 2, nil)
	params := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		data.Set(i, 0, float64(i))
		data.Set(i, 1, float64(i))
		params.Set(i, 0, float64(i))
	}
	assert.NoError(s.Append(data, params))

	check := func(d, p *mat.Dense) {
		r, _ := d.Dims()
		for i := 0; i < r; i++ {
			assert.Equal(p.At(i, 0), d.At(i, 0))
			assert.Equal(p.At(i, 0), d.At(i, 1))
		}
	}
	check(s.TrainData(), s.TrainParams())
	check(s.ValidData(), s.ValidParams())
}

type doubler struct{ calls int }

func (d *doubler) Transform(data *mat.Dense) (*mat.Dense, error) {
	d.calls++
	var out mat.Dense
	out.Scale(2, data)
	return &out, nil
}

func TestScalerAppliedOncePerAppend(t *testing.T) {
	assert := assert.New(t)

	gen, err := rand.NewGenerator(42)
	assert.NoError(err)

	sc := &doubler{}
	s, err := New(gen, 0.0, sc)
	assert.NoError(err)

	assert.NoError(s.Append(rowData(4, 1, 1), rowData(4, 1, 1)))
	assert.Equal(1, sc.calls)

	// All stored data was doubled exactly once; params untouched
	for i := 0; i < 4; i++ {
		assert.Equal(s.TrainData().At(i, 0), 2*s.TrainParams().At(i, 0))
	}

	// A second append does not re-scale existing rows
	assert.NoError(s.Append(rowData(4, 1, 10), rowData(4, 1, 10)))
	assert.Equal(2, sc.calls)
	assert.Equal(s.TrainData().At(0, 0), 2*s.TrainParams().At(0, 0))
}

func TestTrainBatches(t *testing.T) {
	assert := assert.New(t)

	gen, err := rand.NewGenerator(42)
	assert.NoError(err)

	s, err := New(gen, 0.0, nil)
	assert.NoError(err)
	assert.NoError(s.Append(rowData(10, 2, 0), rowData(10, 1, 0)))

	// 10 rows, batch 3 => 3 full batches, partial dropped
	b, err := NewTrainBatches(s, 3)
	assert.NoError(err)
	count := 0
	for b.Next() {
		r, c := b.Data().Dims()
		assert.Equal(3, r)
		assert.Equal(2, c)
		pr, pc := b.Params().Dims()
		assert.Equal(3, pr)
		assert.Equal(1, pc)

		// Pairing survives the shuffle
		for i := 0; i < r; i++ {
			assert.Equal(b.Params().At(i, 0), b.Data().At(i, 0))
		}
		count++
	}
	assert.Equal(3, count)

	// Too few rows for one batch
	_, err = NewTrainBatches(s, 11)
	assert.Error(err)
	assert.Equal(ErrInsufficientData, errors.Cause(err))

	_, err = NewTrainBatches(s, 0)
	assert.Error(err)
}

func TestValidBatchesFixedOrder(t *testing.T) {
	assert := assert.New(t)

	gen, err := rand.NewGenerator(42)
	assert.NoError(err)

	s, err := New(gen, 0.5, nil)
	assert.NoError(err)
	assert.NoError(s.Append(rowData(12, 1, 0), rowData(12, 1, 0)))
	assert.Equal(6, s.ValidLen())

	read := func() []float64 {
		b, err := NewValidBatches(s, 2)
		assert.NoError(err)
		var vals []float64
		for b.Next() {
			r, _ := b.Data().Dims()
			for i := 0; i < r; i++ {
				vals = append(vals, b.Data().At(i, 0))
			}
		}
		return vals
	}

	first := read()
	assert.Equal(6, len(first))
	assert.Equal(first, read()) // same order every pass
}

func TestValidBatchesEmptyPartition(t *testing.T) {
	assert := assert.New(t)

	gen, err := rand.NewGenerator(42)
	assert.NoError(err)

	// validFraction of 0: validation stays empty, iterator yields nothing
	s, err := New(gen, 0.0, nil)
	assert.NoError(err)
	assert.NoError(s.Append(rowData(10, 1, 0), rowData(10, 1, 0)))
	assert.Equal(0, s.ValidLen())

	b, err := NewValidBatches(s, 4)
	assert.NoError(err)
	assert.False(b.Next())
}
