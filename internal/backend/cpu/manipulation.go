package cpu

import (
	"fmt"

	"github.com/kiln-ml/kiln/internal/tensor"
)

// Reshape returns a tensor with the same data under a new shape.
func (c *Backend) Reshape(t *tensor.RawTensor, newShape tensor.Shape) *tensor.RawTensor {
	view, err := t.Clone().WithShape(newShape)
	if err != nil {
		panic(fmt.Sprintf("reshape: %v", err))
	}
	return view
}

// Transpose permutes tensor axes. With no axes given, the order is reversed.
func (c *Backend) Transpose(t *tensor.RawTensor, axes ...int) *tensor.RawTensor {
	requireFloat32("transpose", t)

	shape := t.Shape()
	ndim := len(shape)
	if len(axes) == 0 {
		axes = make([]int, ndim)
		for i := range axes {
			axes[i] = ndim - 1 - i
		}
	}
	if len(axes) != ndim {
		panic(fmt.Sprintf("transpose: got %d axes for rank-%d tensor", len(axes), ndim))
	}
	seen := make([]bool, ndim)
	for _, ax := range axes {
		if ax < 0 || ax >= ndim || seen[ax] {
			panic(fmt.Sprintf("transpose: invalid axis permutation %v", axes))
		}
		seen[ax] = true
	}

	outShape := make(tensor.Shape, ndim)
	for i, ax := range axes {
		outShape[i] = shape[ax]
	}
	result := tensor.MustNewRaw(outShape, tensor.Float32, c.device)

	src := t.AsFloat32()
	dst := result.AsFloat32()
	inStrides := shape.ComputeStrides()

	idx := make([]int, ndim)
	for i := range dst {
		srcOff := 0
		for d, v := range idx {
			srcOff += v * inStrides[axes[d]]
		}
		dst[i] = src[srcOff]
		increment(idx, outShape)
	}

	return result
}

// Cat concatenates tensors along a dimension. All inputs must share dtype
// and every dimension except dim.
func (c *Backend) Cat(tensors []*tensor.RawTensor, dim int) *tensor.RawTensor {
	if len(tensors) == 0 {
		panic("cat: no tensors")
	}
	first := tensors[0].Shape()
	ndim := len(first)
	if dim < 0 {
		dim += ndim
	}
	if dim < 0 || dim >= ndim {
		panic(fmt.Sprintf("cat: dim %d out of range for rank %d", dim, ndim))
	}

	outShape := first.Clone()
	outShape[dim] = 0
	for _, t := range tensors {
		requireFloat32("cat", t)
		s := t.Shape()
		if len(s) != ndim {
			panic(fmt.Sprintf("cat: rank mismatch %v vs %v", first, s))
		}
		for d := 0; d < ndim; d++ {
			if d != dim && s[d] != first[d] {
				panic(fmt.Sprintf("cat: shape mismatch %v vs %v at dim %d", first, s, d))
			}
		}
		outShape[dim] += s[dim]
	}

	result := tensor.MustNewRaw(outShape, tensor.Float32, c.device)
	dst := result.AsFloat32()

	// Copy per outer row: the tensors interleave along dim.
	outer := 1
	for d := 0; d < dim; d++ {
		outer *= first[d]
	}
	inner := 1
	for d := dim + 1; d < ndim; d++ {
		inner *= first[d]
	}

	outRow := outShape[dim] * inner
	rowStart := 0
	for _, t := range tensors {
		src := t.AsFloat32()
		block := t.Shape()[dim] * inner
		for o := 0; o < outer; o++ {
			copy(dst[o*outRow+rowStart:o*outRow+rowStart+block], src[o*block:(o+1)*block])
		}
		rowStart += block
	}

	return result
}

// MeanDim computes the mean along a dimension.
func (c *Backend) MeanDim(x *tensor.RawTensor, dim int, keepDim bool) *tensor.RawTensor {
	requireFloat32("meandim", x)

	shape := x.Shape()
	ndim := len(shape)
	if dim < 0 {
		dim += ndim
	}
	if dim < 0 || dim >= ndim {
		panic(fmt.Sprintf("meandim: dim %d out of range for rank %d", dim, ndim))
	}

	outShape := tensor.Shape{}
	for d, s := range shape {
		switch {
		case d != dim:
			outShape = append(outShape, s)
		case keepDim:
			outShape = append(outShape, 1)
		}
	}
	if len(outShape) == 0 {
		outShape = tensor.Shape{1}
	}

	result := tensor.MustNewRaw(outShape, tensor.Float32, c.device)
	src := x.AsFloat32()
	dst := result.AsFloat32()

	outer := 1
	for d := 0; d < dim; d++ {
		outer *= shape[d]
	}
	reduce := shape[dim]
	inner := 1
	for d := dim + 1; d < ndim; d++ {
		inner *= shape[d]
	}

	for o := 0; o < outer; o++ {
		for i := 0; i < inner; i++ {
			var sum float32
			for r := 0; r < reduce; r++ {
				sum += src[(o*reduce+r)*inner+i]
			}
			dst[o*inner+i] = sum / float32(reduce)
		}
	}

	return result
}

// Embedding looks up rows of weight [V, D] by int64 indices.
func (c *Backend) Embedding(weight, indices *tensor.RawTensor) *tensor.RawTensor {
	requireFloat32("embedding", weight)
	if indices.DType() != tensor.Int64 {
		panic(fmt.Sprintf("embedding: indices dtype is %s, not int64", indices.DType()))
	}
	wShape := weight.Shape()
	if len(wShape) != 2 {
		panic(fmt.Sprintf("embedding: expected 2D weight, got %v", wShape))
	}
	vocab, dim := wShape[0], wShape[1]

	outShape := append(indices.Shape().Clone(), dim)
	result := tensor.MustNewRaw(outShape, tensor.Float32, c.device)

	w := weight.AsFloat32()
	idx := indices.AsInt64()
	dst := result.AsFloat32()

	for i, id := range idx {
		if id < 0 || id >= int64(vocab) {
			panic(fmt.Sprintf("embedding: index %d out of range [0, %d)", id, vocab))
		}
		copy(dst[i*dim:(i+1)*dim], w[int(id)*dim:(int(id)+1)*dim])
	}

	return result
}
