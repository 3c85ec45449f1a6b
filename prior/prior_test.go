package prior

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/mat"

	"github.com/seqlike/snel/rand"
)

func TestNormalPrior(t *testing.T) {
	assert := assert.New(t)

	gen, err := rand.NewGenerator(42)
	assert.NoError(err)

	_, err = NewIndependentNormal(gen, []float64{0}, []float64{0, 1})
	assert.Error(err)
	_, err = NewIndependentNormal(gen, []float64{0}, []float64{-1})
	assert.Error(err)
	_, err = NewIndependentNormal(nil, []float64{0}, []float64{1})
	assert.Error(err)

	p, err := NewIndependentNormal(gen, []float64{1, -2}, []float64{1, 3})
	assert.NoError(err)
	assert.Equal([]float64{1, -2}, p.Mean())

	s := p.Sample(100)
	r, c := s.Dims()
	assert.Equal(100, r)
	assert.Equal(2, c)

	// Log-density is pure: same input, same output
	params := mat.NewDense(2, 2, []float64{0.5, 0.5, 1.0, -2.0})
	lp1 := p.LogProb(params)
	lp2 := p.LogProb(params)
	assert.Equal(lp1, lp2)
	assert.Equal(2, len(lp1))

	// The density should peak at the mean
	atMean := p.LogProb(mat.NewDense(1, 2, []float64{1, -2}))[0]
	offMean := p.LogProb(mat.NewDense(1, 2, []float64{3, 3}))[0]
	assert.True(atMean > offMean)

	// Width mismatch is a caller bug, not a partial density
	assert.Panics(func() { p.LogProb(mat.NewDense(1, 3, []float64{0, 0, 0})) })
	assert.Panics(func() { p.LogProb(mat.NewDense(2, 1, []float64{0, 0})) })
}

func TestUniformPrior(t *testing.T) {
	assert := assert.New(t)

	gen, err := rand.NewGenerator(42)
	assert.NoError(err)

	_, err = NewIndependentUniform(gen, []float64{1}, []float64{0})
	assert.Error(err)

	p, err := NewIndependentUniform(gen, []float64{-1, 0}, []float64{1, 10})
	assert.NoError(err)
	assert.Equal([]float64{0, 5}, p.Mean())

	s := p.Sample(200)
	r, c := s.Dims()
	assert.Equal(200, r)
	assert.Equal(2, c)
	for i := 0; i < r; i++ {
		assert.True(s.At(i, 0) >= -1 && s.At(i, 0) < 1)
		assert.True(s.At(i, 1) >= 0 && s.At(i, 1) < 10)
	}

	inside := p.LogProb(mat.NewDense(1, 2, []float64{0, 5}))[0]
	assert.InDelta(math.Log(1.0/2.0)+math.Log(1.0/10.0), inside, 1e-12)

	outside := p.LogProb(mat.NewDense(1, 2, []float64{2, 5}))[0]
	assert.True(math.IsInf(outside, -1))

	assert.Panics(func() { p.LogProb(mat.NewDense(1, 1, []float64{0})) })
}
