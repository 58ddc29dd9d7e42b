package trace

import (
	"github.com/kiln-ml/kiln/internal/onnx"
	"github.com/kiln-ml/kiln/internal/tensor"
)

// tensor.Backend implementation: every op computes via the inner backend
// and records the matching ONNX node.

// Add records an Add node.
func (t *Tracer) Add(a, b *tensor.RawTensor) *tensor.RawTensor {
	return t.record("Add", []*tensor.RawTensor{a, b}, t.inner.Add(a, b), nil)
}

// Sub records a Sub node.
func (t *Tracer) Sub(a, b *tensor.RawTensor) *tensor.RawTensor {
	return t.record("Sub", []*tensor.RawTensor{a, b}, t.inner.Sub(a, b), nil)
}

// Mul records a Mul node.
func (t *Tracer) Mul(a, b *tensor.RawTensor) *tensor.RawTensor {
	return t.record("Mul", []*tensor.RawTensor{a, b}, t.inner.Mul(a, b), nil)
}

// Div records a Div node.
func (t *Tracer) Div(a, b *tensor.RawTensor) *tensor.RawTensor {
	return t.record("Div", []*tensor.RawTensor{a, b}, t.inner.Div(a, b), nil)
}

// MatMul records a MatMul node.
func (t *Tracer) MatMul(a, b *tensor.RawTensor) *tensor.RawTensor {
	return t.record("MatMul", []*tensor.RawTensor{a, b}, t.inner.MatMul(a, b), nil)
}

// Conv2D records a Conv node with stride/pad/kernel attributes.
func (t *Tracer) Conv2D(input, kernel *tensor.RawTensor, stride, padding int) *tensor.RawTensor {
	kn := kernel.Shape()
	return t.record("Conv", []*tensor.RawTensor{input, kernel},
		t.inner.Conv2D(input, kernel, stride, padding), nil,
		onnx.IntsAttr("kernel_shape", int64(kn[2]), int64(kn[3])),
		onnx.IntsAttr("strides", int64(stride), int64(stride)),
		onnx.IntsAttr("pads", int64(padding), int64(padding), int64(padding), int64(padding)),
	)
}

// MaxPool2D records a MaxPool node.
func (t *Tracer) MaxPool2D(input *tensor.RawTensor, kernelSize, stride, padding int) *tensor.RawTensor {
	return t.record("MaxPool", []*tensor.RawTensor{input},
		t.inner.MaxPool2D(input, kernelSize, stride, padding), nil,
		onnx.IntsAttr("kernel_shape", int64(kernelSize), int64(kernelSize)),
		onnx.IntsAttr("strides", int64(stride), int64(stride)),
		onnx.IntsAttr("pads", int64(padding), int64(padding), int64(padding), int64(padding)),
	)
}

// Upsample2D records a Resize node in nearest mode. The ONNX inputs are
// (X, roi, scales); roi is unused in nearest/asymmetric mode, encoded as the
// empty optional input to keep scales in position.
func (t *Tracer) Upsample2D(input *tensor.RawTensor, scale int) *tensor.RawTensor {
	scales := t.constant(tensor.FromFloat32(tensor.Shape{4}, []float32{1, 1, float32(scale), float32(scale)}))
	return t.record("Resize", []*tensor.RawTensor{input},
		t.inner.Upsample2D(input, scale),
		[]string{"", scales},
		onnx.StringAttr("mode", "nearest"),
		onnx.StringAttr("coordinate_transformation_mode", "asymmetric"),
		onnx.StringAttr("nearest_mode", "floor"),
	)
}

// Reshape records a Reshape node; the target shape becomes an int64
// initializer input per the ONNX contract.
func (t *Tracer) Reshape(x *tensor.RawTensor, newShape tensor.Shape) *tensor.RawTensor {
	shapeInit := t.constant(tensor.FromInt64(tensor.Shape{len(newShape)}, newShape.ToInt64()))
	return t.record("Reshape", []*tensor.RawTensor{x},
		t.inner.Reshape(x, newShape),
		[]string{shapeInit},
	)
}

// Transpose records a Transpose node with an explicit perm attribute.
func (t *Tracer) Transpose(x *tensor.RawTensor, axes ...int) *tensor.RawTensor {
	ndim := len(x.Shape())
	if len(axes) == 0 {
		axes = make([]int, ndim)
		for i := range axes {
			axes[i] = ndim - 1 - i
		}
	}
	perm := make([]int64, len(axes))
	for i, ax := range axes {
		perm[i] = int64(ax)
	}
	return t.record("Transpose", []*tensor.RawTensor{x},
		t.inner.Transpose(x, axes...), nil,
		onnx.IntsAttr("perm", perm...),
	)
}

// AddScalar records an Add against a one-element constant.
func (t *Tracer) AddScalar(x *tensor.RawTensor, scalar float32) *tensor.RawTensor {
	c := t.constant(tensor.Scalar(scalar))
	return t.record("Add", []*tensor.RawTensor{x},
		t.inner.AddScalar(x, scalar),
		[]string{c},
	)
}

// MulScalar records a Mul against a one-element constant.
func (t *Tracer) MulScalar(x *tensor.RawTensor, scalar float32) *tensor.RawTensor {
	c := t.constant(tensor.Scalar(scalar))
	return t.record("Mul", []*tensor.RawTensor{x},
		t.inner.MulScalar(x, scalar),
		[]string{c},
	)
}

// Sqrt records a Sqrt node.
func (t *Tracer) Sqrt(x *tensor.RawTensor) *tensor.RawTensor {
	return t.record("Sqrt", []*tensor.RawTensor{x}, t.inner.Sqrt(x), nil)
}

// Sigmoid records a Sigmoid node.
func (t *Tracer) Sigmoid(x *tensor.RawTensor) *tensor.RawTensor {
	return t.record("Sigmoid", []*tensor.RawTensor{x}, t.inner.Sigmoid(x), nil)
}

// Softmax records a Softmax node with a normalized axis attribute.
func (t *Tracer) Softmax(x *tensor.RawTensor, dim int) *tensor.RawTensor {
	axis := dim
	if axis < 0 {
		axis += len(x.Shape())
	}
	return t.record("Softmax", []*tensor.RawTensor{x},
		t.inner.Softmax(x, dim), nil,
		onnx.IntAttr("axis", int64(axis)),
	)
}

// MeanDim records a ReduceMean node.
func (t *Tracer) MeanDim(x *tensor.RawTensor, dim int, keepDim bool) *tensor.RawTensor {
	axis := dim
	if axis < 0 {
		axis += len(x.Shape())
	}
	keep := int64(0)
	if keepDim {
		keep = 1
	}
	return t.record("ReduceMean", []*tensor.RawTensor{x},
		t.inner.MeanDim(x, dim, keepDim), nil,
		onnx.IntsAttr("axes", int64(axis)),
		onnx.IntAttr("keepdims", keep),
	)
}

// Cat records a Concat node.
func (t *Tracer) Cat(tensors []*tensor.RawTensor, dim int) *tensor.RawTensor {
	axis := dim
	if axis < 0 {
		axis += len(tensors[0].Shape())
	}
	return t.record("Concat", tensors,
		t.inner.Cat(tensors, dim), nil,
		onnx.IntAttr("axis", int64(axis)),
	)
}

// Embedding records a Gather over the embedding table (axis 0).
func (t *Tracer) Embedding(weight, indices *tensor.RawTensor) *tensor.RawTensor {
	return t.record("Gather", []*tensor.RawTensor{weight, indices},
		t.inner.Embedding(weight, indices), nil,
		onnx.IntAttr("axis", 0),
	)
}
