package rand

import (
	"math"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMTBadSeed(t *testing.T) {
	assert := assert.New(t)

	gen, err := NewGeneratorSlice([]uint64{})
	assert.Nil(gen)
	assert.Error(err)
}

func TestMTCanonicalSeed(t *testing.T) {
	assert := assert.New(t)

	gen, err := NewGeneratorSlice([]uint64{0x12345, 0x23456, 0x34567, 0x45678})
	assert.NotNil(gen)
	assert.NoError(err)

	origTestSeq := []uint64{
		7266447313870364031,
		4946485549665804864,
		16945909448695747420,
		16394063075524226720,
		4873882236456199058,
	}

	// Now convert to the format we should get from Int63
	for _, v := range origTestSeq {
		exp := int64(v & 0x7fffffffffffffff)
		act := gen.Int63()
		assert.Equal(exp, act)
	}
}

func TestPerm(t *testing.T) {
	assert := assert.New(t)

	gen, err := NewGenerator(42)
	assert.NoError(err)

	p := gen.Perm(17)
	assert.Equal(17, len(p))

	sorted := make([]int, len(p))
	copy(sorted, p)
	sort.Ints(sorted)
	for i, v := range sorted {
		assert.Equal(i, v)
	}

	// Degenerate sizes should still work
	assert.Equal(0, len(gen.Perm(0)))
	assert.Equal([]int{0}, gen.Perm(1))
}

func TestNormFloat64(t *testing.T) {
	assert := assert.New(t)

	gen, err := NewGenerator(42)
	assert.NoError(err)

	const n = 20000
	sum, sumSq := 0.0, 0.0
	for i := 0; i < n; i++ {
		v := gen.NormFloat64()
		assert.False(math.IsNaN(v))
		sum += v
		sumSq += v * v
	}

	mean := sum / n
	variance := sumSq/n - mean*mean
	assert.InDelta(0.0, mean, 0.05)
	assert.InDelta(1.0, variance, 0.05)
}
