package nn

import (
	"github.com/kiln-ml/kiln/internal/tensor"
)

// LayerNorm normalizes the last dimension:
// y = gamma * (x - mean) / sqrt(var + eps) + beta.
//
// The forward pass is written in primitive ops so capture produces the
// decomposed ReduceMean/Sub/Mul/Sqrt/Div node sequence rather than a fused
// operator, keeping the exported opset requirement low.
type LayerNorm struct {
	gamma   *Parameter // [d_model]
	beta    *Parameter // [d_model]
	epsilon float32
	backend tensor.Backend
}

// NewLayerNorm creates a LayerNorm over the trailing dimension of size d.
func NewLayerNorm(d int, epsilon float32, backend tensor.Backend) *LayerNorm {
	return &LayerNorm{
		gamma:   NewParameter("weight", tensor.Full(tensor.Shape{d}, 1)),
		beta:    NewParameter("bias", tensor.Zeros(tensor.Shape{d})),
		epsilon: epsilon,
		backend: backend,
	}
}

// Forward normalizes [..., d_model] along the last dimension.
func (l *LayerNorm) Forward(x *tensor.RawTensor) *tensor.RawTensor {
	b := l.backend

	mean := b.MeanDim(x, -1, true)
	centered := b.Sub(x, mean)
	variance := b.MeanDim(b.Mul(centered, centered), -1, true)
	std := b.Sqrt(b.AddScalar(variance, l.epsilon))
	norm := b.Div(centered, std)

	return b.Add(b.Mul(norm, l.gamma.Tensor()), l.beta.Tensor())
}

// Parameters returns gamma ("weight") and beta ("bias").
func (l *LayerNorm) Parameters() []*Parameter {
	return []*Parameter{l.gamma, l.beta}
}
