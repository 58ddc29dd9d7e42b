package nn

import (
	"fmt"

	"github.com/kiln-ml/kiln/internal/tensor"
)

// Linear implements a fully connected layer: y = x @ W + b.
//
// The weight is stored pre-transposed as [in_features, out_features] so a
// forward pass captures as a single MatMul followed by an Add, with no
// Transpose node per call. Checkpoints using the [out, in] layout are
// transposed by the loader on the way in.
//
// Inputs may carry leading batch dimensions: [..., in_features].
type Linear struct {
	inFeatures  int
	outFeatures int
	weight      *Parameter // [in_features, out_features]
	bias        *Parameter // [out_features], nil when the layer has no bias
	backend     tensor.Backend
}

// NewLinear creates a Linear layer with Xavier-initialized weights.
func NewLinear(inFeatures, outFeatures int, withBias bool, backend tensor.Backend) *Linear {
	l := &Linear{
		inFeatures:  inFeatures,
		outFeatures: outFeatures,
		weight:      NewTransposedParameter("weight", Xavier(inFeatures, outFeatures, tensor.Shape{inFeatures, outFeatures})),
		backend:     backend,
	}
	if withBias {
		l.bias = NewParameter("bias", tensor.Zeros(tensor.Shape{outFeatures}))
	}
	return l
}

// Forward computes y = x @ W + b for input [..., in_features].
func (l *Linear) Forward(x *tensor.RawTensor) *tensor.RawTensor {
	shape := x.Shape()
	if shape[len(shape)-1] != l.inFeatures {
		panic(fmt.Sprintf("linear: expected %d input features, got %d", l.inFeatures, shape[len(shape)-1]))
	}

	y := l.backend.MatMul(x, l.weight.Tensor())
	if l.bias != nil {
		y = l.backend.Add(y, l.bias.Tensor())
	}
	return y
}

// Parameters returns weight (and bias when present).
func (l *Linear) Parameters() []*Parameter {
	if l.bias == nil {
		return []*Parameter{l.weight}
	}
	return []*Parameter{l.weight, l.bias}
}
