package nn

import (
	"github.com/kiln-ml/kiln/internal/tensor"
)

// Conv2d implements a 2D convolution layer.
//
// The bias, when present, is stored as [1, out_channels, 1, 1] so the
// follow-up Add broadcasts over the spatial dimensions in both execution
// and capture. CLIP-family vision patch embeddings ship without a bias.
type Conv2d struct {
	weight   *Parameter // [out_channels, in_channels, k, k]
	bias     *Parameter // [1, out_channels, 1, 1], nil when the layer has no bias
	stride   int
	padding  int
	backend  tensor.Backend
	inCh     int
	outCh    int
	kernelSz int
}

// NewConv2d creates a Conv2d layer with Xavier-initialized weights.
func NewConv2d(inCh, outCh, kernelSize, stride, padding int, withBias bool, backend tensor.Backend) *Conv2d {
	fan := kernelSize * kernelSize
	c := &Conv2d{
		weight: NewParameter("weight",
			Xavier(inCh*fan, outCh*fan, tensor.Shape{outCh, inCh, kernelSize, kernelSize})),
		stride:   stride,
		padding:  padding,
		backend:  backend,
		inCh:     inCh,
		outCh:    outCh,
		kernelSz: kernelSize,
	}
	if withBias {
		c.bias = NewParameter("bias", tensor.Zeros(tensor.Shape{1, outCh, 1, 1}))
	}
	return c
}

// Forward applies the convolution to input [N, in_channels, H, W].
func (c *Conv2d) Forward(x *tensor.RawTensor) *tensor.RawTensor {
	y := c.backend.Conv2D(x, c.weight.Tensor(), c.stride, c.padding)
	if c.bias != nil {
		y = c.backend.Add(y, c.bias.Tensor())
	}
	return y
}

// Parameters returns weight (and bias when present).
func (c *Conv2d) Parameters() []*Parameter {
	if c.bias == nil {
		return []*Parameter{c.weight}
	}
	return []*Parameter{c.weight, c.bias}
}
