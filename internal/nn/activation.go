package nn

import (
	"github.com/kiln-ml/kiln/internal/tensor"
)

// Activations are written as op compositions so capture emits plain
// Sigmoid/Mul node pairs instead of framework-specific fused operators.

// SiLU computes x * sigmoid(x).
func SiLU(b tensor.Backend, x *tensor.RawTensor) *tensor.RawTensor {
	return b.Mul(x, b.Sigmoid(x))
}

// QuickGELU computes x * sigmoid(1.702 * x), the GELU approximation used by
// CLIP-family checkpoints.
func QuickGELU(b tensor.Backend, x *tensor.RawTensor) *tensor.RawTensor {
	return b.Mul(x, b.Sigmoid(b.MulScalar(x, 1.702)))
}
