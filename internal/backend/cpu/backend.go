// Package cpu implements the pure-Go reference backend.
//
// Every operation computes on float32 (indices are int64) with naive loops.
// The exporter runs each graph exactly once per conversion, so clarity wins
// over throughput here.
package cpu

import (
	"fmt"
	"math"

	"github.com/kiln-ml/kiln/internal/tensor"
)

// Backend implements tensor.Backend on the CPU.
type Backend struct {
	device tensor.Device
}

// New creates a new CPU backend.
func New() *Backend {
	return &Backend{device: tensor.CPU}
}

// Name returns the backend name.
func (c *Backend) Name() string {
	return "CPU"
}

// Device returns the compute device.
func (c *Backend) Device() tensor.Device {
	return c.device
}

// Add performs element-wise addition with broadcasting.
func (c *Backend) Add(a, b *tensor.RawTensor) *tensor.RawTensor {
	return c.binaryOp("add", a, b, func(x, y float32) float32 { return x + y })
}

// Sub performs element-wise subtraction with broadcasting.
func (c *Backend) Sub(a, b *tensor.RawTensor) *tensor.RawTensor {
	return c.binaryOp("sub", a, b, func(x, y float32) float32 { return x - y })
}

// Mul performs element-wise multiplication with broadcasting.
func (c *Backend) Mul(a, b *tensor.RawTensor) *tensor.RawTensor {
	return c.binaryOp("mul", a, b, func(x, y float32) float32 { return x * y })
}

// Div performs element-wise division with broadcasting.
func (c *Backend) Div(a, b *tensor.RawTensor) *tensor.RawTensor {
	return c.binaryOp("div", a, b, func(x, y float32) float32 { return x / y })
}

// AddScalar adds a scalar to every element.
func (c *Backend) AddScalar(x *tensor.RawTensor, scalar float32) *tensor.RawTensor {
	return c.unaryOp("addscalar", x, func(v float32) float32 { return v + scalar })
}

// MulScalar multiplies every element by a scalar.
func (c *Backend) MulScalar(x *tensor.RawTensor, scalar float32) *tensor.RawTensor {
	return c.unaryOp("mulscalar", x, func(v float32) float32 { return v * scalar })
}

// Sqrt computes the element-wise square root.
func (c *Backend) Sqrt(x *tensor.RawTensor) *tensor.RawTensor {
	return c.unaryOp("sqrt", x, func(v float32) float32 { return float32(math.Sqrt(float64(v))) })
}

// Sigmoid computes the element-wise logistic function.
func (c *Backend) Sigmoid(x *tensor.RawTensor) *tensor.RawTensor {
	return c.unaryOp("sigmoid", x, func(v float32) float32 {
		return float32(1 / (1 + math.Exp(-float64(v))))
	})
}

// unaryOp applies fn to every element of a float32 tensor.
func (c *Backend) unaryOp(op string, x *tensor.RawTensor, fn func(float32) float32) *tensor.RawTensor {
	requireFloat32(op, x)
	result := tensor.MustNewRaw(x.Shape(), tensor.Float32, c.device)
	src := x.AsFloat32()
	dst := result.AsFloat32()
	for i, v := range src {
		dst[i] = fn(v)
	}
	return result
}

// binaryOp applies fn element-wise with NumPy-style broadcasting.
func (c *Backend) binaryOp(op string, a, b *tensor.RawTensor, fn func(x, y float32) float32) *tensor.RawTensor {
	requireFloat32(op, a)
	requireFloat32(op, b)

	outShape, needsBroadcast, err := tensor.BroadcastShapes(a.Shape(), b.Shape())
	if err != nil {
		panic(fmt.Sprintf("%s: %v", op, err))
	}

	result := tensor.MustNewRaw(outShape, tensor.Float32, c.device)
	av, bv := a.AsFloat32(), b.AsFloat32()
	dst := result.AsFloat32()

	if !needsBroadcast {
		for i := range dst {
			dst[i] = fn(av[i], bv[i])
		}
		return result
	}

	aIdx := newBroadcastIndexer(a.Shape(), outShape)
	bIdx := newBroadcastIndexer(b.Shape(), outShape)
	idx := make([]int, len(outShape))
	for i := range dst {
		dst[i] = fn(av[aIdx.offset(idx)], bv[bIdx.offset(idx)])
		increment(idx, outShape)
	}
	return result
}

// broadcastIndexer maps a multi-index in the output shape onto a flat offset
// in a (possibly lower-rank, size-1-padded) input shape.
type broadcastIndexer struct {
	strides []int // stride per output axis, 0 where the input broadcasts
}

func newBroadcastIndexer(in, out tensor.Shape) *broadcastIndexer {
	strides := make([]int, len(out))
	inStrides := in.ComputeStrides()
	offset := len(out) - len(in)
	for i := range out {
		j := i - offset
		if j < 0 || in[j] == 1 {
			continue
		}
		strides[i] = inStrides[j]
	}
	return &broadcastIndexer{strides: strides}
}

func (bi *broadcastIndexer) offset(idx []int) int {
	off := 0
	for i, v := range idx {
		off += v * bi.strides[i]
	}
	return off
}

// increment advances a row-major multi-index within shape.
func increment(idx []int, shape tensor.Shape) {
	for i := len(idx) - 1; i >= 0; i-- {
		idx[i]++
		if idx[i] < shape[i] {
			return
		}
		idx[i] = 0
	}
}

func requireFloat32(op string, t *tensor.RawTensor) {
	if t.DType() != tensor.Float32 {
		panic(fmt.Sprintf("%s: unsupported dtype %s (only float32)", op, t.DType()))
	}
}
