package prior

import (
	"fmt"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/seqlike/snel/rand"
)

// checkWidth panics when a params matrix does not have one column per prior
// dimension. Like gonum's mat, shape misuse is a programming error, not a
// runtime condition.
func checkWidth(cols int, dims int) {
	if cols != dims {
		panic(fmt.Sprintf("prior: params width %d does not match prior dimension %d", cols, dims))
	}
}

// A Prior is a distribution over a fixed-dimension parameter vector. The
// sequential loop only ever reads from it: draws to bootstrap round 0 and to
// seed MCMC chains, log-densities inside the posterior, and the mean to
// infer the parameter dimension.
type Prior interface {
	Sample(n int) *mat.Dense
	LogProb(params mat.Matrix) []float64
	Mean() []float64
}

// IndependentNormal is a product of independent univariate normals, one per
// parameter dimension.
type IndependentNormal struct {
	gen  *rand.Generator
	dims []distuv.Normal
}

// NewIndependentNormal creates a normal prior with per-dimension means and
// standard deviations.
func NewIndependentNormal(gen *rand.Generator, mu []float64, sigma []float64) (*IndependentNormal, error) {
	if gen == nil {
		return nil, errors.Errorf("A random generator is required")
	}
	if len(mu) < 1 {
		return nil, errors.Errorf("A prior needs at least one dimension")
	}
	if len(mu) != len(sigma) {
		return nil, errors.Errorf("Dimension mismatch %d != %d between mu and sigma", len(mu), len(sigma))
	}

	dims := make([]distuv.Normal, len(mu))
	for i := range mu {
		if sigma[i] <= 0 {
			return nil, errors.Errorf("Sigma for dim %d must be positive (got %f)", i, sigma[i])
		}
		dims[i] = distuv.Normal{Mu: mu[i], Sigma: sigma[i]}
	}

	return &IndependentNormal{gen: gen, dims: dims}, nil
}

// Sample draws n parameter vectors as an (n, paramDim) matrix.
func (p *IndependentNormal) Sample(n int) *mat.Dense {
	d := len(p.dims)
	out := mat.NewDense(n, d, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < d; j++ {
			out.Set(i, j, p.dims[j].Mu+p.dims[j].Sigma*p.gen.NormFloat64())
		}
	}
	return out
}

// LogProb returns the prior log-density of each row of params. A pure
// function of the prior and its input. Panics when the params width does not
// match the prior dimension.
func (p *IndependentNormal) LogProb(params mat.Matrix) []float64 {
	r, c := params.Dims()
	checkWidth(c, len(p.dims))

	out := make([]float64, r)
	for i := 0; i < r; i++ {
		lp := 0.0
		for j := 0; j < c; j++ {
			lp += p.dims[j].LogProb(params.At(i, j))
		}
		out[i] = lp
	}
	return out
}

// Mean returns the per-dimension prior mean.
func (p *IndependentNormal) Mean() []float64 {
	m := make([]float64, len(p.dims))
	for i, d := range p.dims {
		m[i] = d.Mu
	}
	return m
}

// IndependentUniform is a product of independent uniforms on [min, max) per
// parameter dimension.
type IndependentUniform struct {
	gen  *rand.Generator
	dims []distuv.Uniform
}

// NewIndependentUniform creates a uniform prior with per-dimension bounds.
func NewIndependentUniform(gen *rand.Generator, min []float64, max []float64) (*IndependentUniform, error) {
	if gen == nil {
		return nil, errors.Errorf("A random generator is required")
	}
	if len(min) < 1 {
		return nil, errors.Errorf("A prior needs at least one dimension")
	}
	if len(min) != len(max) {
		return nil, errors.Errorf("Dimension mismatch %d != %d between min and max", len(min), len(max))
	}

	dims := make([]distuv.Uniform, len(min))
	for i := range min {
		if min[i] >= max[i] {
			return nil, errors.Errorf("Bounds for dim %d are inverted (%f >= %f)", i, min[i], max[i])
		}
		dims[i] = distuv.Uniform{Min: min[i], Max: max[i]}
	}

	return &IndependentUniform{gen: gen, dims: dims}, nil
}

// Sample draws n parameter vectors as an (n, paramDim) matrix.
func (p *IndependentUniform) Sample(n int) *mat.Dense {
	d := len(p.dims)
	out := mat.NewDense(n, d, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < d; j++ {
			u := p.dims[j]
			out.Set(i, j, u.Min+(u.Max-u.Min)*p.gen.Float64())
		}
	}
	return out
}

// LogProb returns the prior log-density of each row of params. Rows outside
// the support get -Inf. Panics when the params width does not match the
// prior dimension.
func (p *IndependentUniform) LogProb(params mat.Matrix) []float64 {
	r, c := params.Dims()
	checkWidth(c, len(p.dims))

	out := make([]float64, r)
	for i := 0; i < r; i++ {
		lp := 0.0
		for j := 0; j < c; j++ {
			lp += p.dims[j].LogProb(params.At(i, j))
		}
		out[i] = lp
	}
	return out
}

// Mean returns the per-dimension prior mean.
func (p *IndependentUniform) Mean() []float64 {
	m := make([]float64, len(p.dims))
	for i, d := range p.dims {
		m[i] = (d.Min + d.Max) / 2.0
	}
	return m
}
