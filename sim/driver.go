// Package sim maps parameter draws through an external simulator, expanding
// each draw into a configured number of simulations.
package sim

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// ErrSimulatorContract indicates the simulator returned the wrong number of
// observation rows for its input. Fatal: the driver never retries.
var ErrSimulatorContract = errors.New("simulator output rows do not match input parameter rows")

// A Simulator produces one observation row per input parameter row. The
// simsPerModel hint is forwarded so simulators that batch internally can use
// it; the row contract holds regardless.
type Simulator interface {
	Simulate(params *mat.Dense, simsPerModel int) (*mat.Dense, error)
}

// Driver reshapes parameter draws, replicates them simsPerModel times, and
// enforces the simulator's row contract.
type Driver struct {
	Sim          Simulator
	SimsPerModel int
	ParamDim     int
	DataDim      int
}

// NewDriver creates a driver. simsPerModel must be at least 1.
func NewDriver(s Simulator, simsPerModel int, paramDim int, dataDim int) (*Driver, error) {
	if s == nil {
		return nil, errors.Errorf("A simulator is required")
	}
	if simsPerModel < 1 {
		return nil, errors.Errorf("simsPerModel must be at least 1 (got %d)", simsPerModel)
	}
	if paramDim < 1 || dataDim < 1 {
		return nil, errors.Errorf("Invalid dimensions (%d, %d)", paramDim, dataDim)
	}

	return &Driver{
		Sim:          s,
		SimsPerModel: simsPerModel,
		ParamDim:     paramDim,
		DataDim:      dataDim,
	}, nil
}

// Simulate reshapes params to (-1, paramDim), stacks simsPerModel whole
// copies of the block (rows 0..m-1, m..2m-1, ... each repeat the original m
// rows in order), invokes the simulator once, and returns row-aligned
// (data, paramsExpanded).
func (d *Driver) Simulate(params *mat.Dense) (*mat.Dense, *mat.Dense, error) {
	block, err := reshapeRows(params, d.ParamDim)
	if err != nil {
		return nil, nil, err
	}

	m, _ := block.Dims()
	expanded := block
	for i := 1; i < d.SimsPerModel; i++ {
		var next mat.Dense
		next.Stack(expanded, block)
		expanded = &next
	}

	data, err := d.Sim.Simulate(expanded, d.SimsPerModel)
	if err != nil {
		return nil, nil, errors.Wrap(err, "Simulator call failed")
	}

	data, err = reshapeRows(data, d.DataDim)
	if err != nil {
		return nil, nil, errors.Wrap(err, "Simulator output has wrong width")
	}

	dr, _ := data.Dims()
	want := m * d.SimsPerModel
	if dr != want {
		return nil, nil, errors.Wrapf(ErrSimulatorContract, "got %d rows, want %d (%d params x %d sims)", dr, want, m, d.SimsPerModel)
	}

	return data, expanded, nil
}

// reshapeRows reinterprets a matrix as (-1, cols), requiring the element
// count to divide evenly.
func reshapeRows(m *mat.Dense, cols int) (*mat.Dense, error) {
	r, c := m.Dims()
	if c == cols {
		return m, nil
	}
	total := r * c
	if total%cols != 0 {
		return nil, errors.Errorf("Cannot reshape (%d, %d) to width %d", r, c, cols)
	}

	raw := m.RawMatrix()
	flat := make([]float64, 0, total)
	for i := 0; i < r; i++ {
		flat = append(flat, raw.Data[i*raw.Stride:i*raw.Stride+c]...)
	}
	return mat.NewDense(total/cols, cols, flat), nil
}
