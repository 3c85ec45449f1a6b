package nde

import (
	"encoding/json"
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/seqlike/snel/rand"
)

const logTwoPi = 1.8378770664093453

// LinearGaussian is a conditional density estimator where data is normal
// with an affine function of the parameters as its mean and a learned
// diagonal variance:
//
//	x | theta ~ N(W*theta + b, diag(exp(2*logSigma)))
//
// It is deliberately small: closed-form gradients, no hidden layers. It
// exists so the full loop can run end to end without an external estimator.
type LinearGaussian struct {
	paramDim int
	dataDim  int
	w        *Param // dataDim x paramDim, row-major
	b        *Param // dataDim
	logSigma *Param // dataDim
	training bool
}

type linearGaussianState struct {
	ParamDim int       `json:"param_dim"`
	DataDim  int       `json:"data_dim"`
	W        []float64 `json:"w"`
	B        []float64 `json:"b"`
	LogSigma []float64 `json:"log_sigma"`
}

// NewLinearGaussian creates an estimator with small random initial weights
// drawn from gen (zeros if gen is nil).
func NewLinearGaussian(paramDim int, dataDim int, gen *rand.Generator) (*LinearGaussian, error) {
	if paramDim < 1 || dataDim < 1 {
		return nil, errors.Errorf("Invalid dimensions (%d, %d)", paramDim, dataDim)
	}

	m := &LinearGaussian{
		paramDim: paramDim,
		dataDim:  dataDim,
		w:        &Param{Value: make([]float64, dataDim*paramDim), Grad: make([]float64, dataDim*paramDim)},
		b:        &Param{Value: make([]float64, dataDim), Grad: make([]float64, dataDim)},
		logSigma: &Param{Value: make([]float64, dataDim), Grad: make([]float64, dataDim)},
	}

	if gen != nil {
		for i := range m.w.Value {
			m.w.Value[i] = 0.1 * gen.NormFloat64()
		}
	}

	return m, nil
}

// SetTraining toggles gradient accumulation in Loss.
func (m *LinearGaussian) SetTraining(on bool) {
	m.training = on
}

// Params exposes the three parameter blocks (weights, bias, log-sigma).
func (m *LinearGaussian) Params() []*Param {
	return []*Param{m.w, m.b, m.logSigma}
}

// mean fills mu with W*theta + b for one parameter row.
func (m *LinearGaussian) mean(theta []float64, mu []float64) {
	for d := 0; d < m.dataDim; d++ {
		s := m.b.Value[d]
		for k := 0; k < m.paramDim; k++ {
			s += m.w.Value[d*m.paramDim+k] * theta[k]
		}
		mu[d] = s
	}
}

// Loss returns the mean negative log-likelihood of the batch. In training
// mode the gradients (averaged over the batch) are accumulated into Params.
func (m *LinearGaussian) Loss(data mat.Matrix, params mat.Matrix) (float64, error) {
	n, dc := data.Dims()
	pn, pc := params.Dims()
	if n != pn {
		return 0, errors.Errorf("Row count mismatch %d != %d between data and params", n, pn)
	}
	if dc != m.dataDim || pc != m.paramDim {
		return 0, errors.Errorf("Batch shape (%d, %d) does not match model (%d, %d)", dc, pc, m.dataDim, m.paramDim)
	}
	if n < 1 {
		return 0, errors.Errorf("Empty batch")
	}

	theta := make([]float64, m.paramDim)
	mu := make([]float64, m.dataDim)
	inv := 1.0 / float64(n)

	total := 0.0
	for i := 0; i < n; i++ {
		for k := 0; k < m.paramDim; k++ {
			theta[k] = params.At(i, k)
		}
		m.mean(theta, mu)

		for d := 0; d < m.dataDim; d++ {
			s := m.logSigma.Value[d]
			sigma := math.Exp(s)
			z := (data.At(i, d) - mu[d]) / sigma
			total += 0.5*z*z + s + 0.5*logTwoPi

			if m.training {
				gm := -z / sigma * inv // d(NLL)/d(mu_d), batch averaged
				for k := 0; k < m.paramDim; k++ {
					m.w.Grad[d*m.paramDim+k] += gm * theta[k]
				}
				m.b.Grad[d] += gm
				m.logSigma.Grad[d] += (1.0 - z*z) * inv
			}
		}
	}

	loss := total * inv
	if math.IsNaN(loss) || math.IsInf(loss, 0) {
		return 0, errors.Errorf("Non-finite loss %f", loss)
	}
	return loss, nil
}

// LogProb returns, per parameter row, the log-likelihood of the full
// observed batch under that parameter vector.
func (m *LinearGaussian) LogProb(obs mat.Matrix, params mat.Matrix) ([]float64, error) {
	on, oc := obs.Dims()
	pn, pc := params.Dims()
	if oc != m.dataDim || pc != m.paramDim {
		return nil, errors.Errorf("Shapes (%d, %d) do not match model (%d, %d)", oc, pc, m.dataDim, m.paramDim)
	}

	theta := make([]float64, m.paramDim)
	mu := make([]float64, m.dataDim)

	out := make([]float64, pn)
	for j := 0; j < pn; j++ {
		for k := 0; k < m.paramDim; k++ {
			theta[k] = params.At(j, k)
		}
		m.mean(theta, mu)

		lp := 0.0
		for i := 0; i < on; i++ {
			for d := 0; d < m.dataDim; d++ {
				s := m.logSigma.Value[d]
				z := (obs.At(i, d) - mu[d]) / math.Exp(s)
				lp += -0.5*z*z - s - 0.5*logTwoPi
			}
		}
		out[j] = lp
	}

	return out, nil
}

// State serializes the model parameters.
func (m *LinearGaussian) State() ([]byte, error) {
	st := linearGaussianState{
		ParamDim: m.paramDim,
		DataDim:  m.dataDim,
		W:        append([]float64(nil), m.w.Value...),
		B:        append([]float64(nil), m.b.Value...),
		LogSigma: append([]float64(nil), m.logSigma.Value...),
	}

	out, err := json.Marshal(&st)
	if err != nil {
		return nil, errors.Wrap(err, "Could not serialize model state")
	}
	return out, nil
}

// SetState restores the model parameters from a State snapshot.
func (m *LinearGaussian) SetState(state []byte) error {
	var st linearGaussianState
	if err := json.Unmarshal(state, &st); err != nil {
		return errors.Wrap(err, "Could not parse model state")
	}

	if st.ParamDim != m.paramDim || st.DataDim != m.dataDim {
		return errors.Errorf("State dims (%d, %d) do not match model (%d, %d)", st.ParamDim, st.DataDim, m.paramDim, m.dataDim)
	}
	if len(st.W) != len(m.w.Value) || len(st.B) != len(m.b.Value) || len(st.LogSigma) != len(m.logSigma.Value) {
		return errors.Errorf("State parameter sizes do not match model")
	}

	copy(m.w.Value, st.W)
	copy(m.b.Value, st.B)
	copy(m.logSigma.Value, st.LogSigma)
	return nil
}
