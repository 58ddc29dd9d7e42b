package cpu

import (
	"fmt"

	"github.com/kiln-ml/kiln/internal/tensor"
)

// MatMul multiplies matrices following the ONNX MatMul contract: 2D inputs
// are a plain matrix product, higher-rank inputs are stacks of matrices with
// broadcasting over the leading (batch) dimensions.
func (c *Backend) MatMul(a, b *tensor.RawTensor) *tensor.RawTensor {
	requireFloat32("matmul", a)
	requireFloat32("matmul", b)

	aShape, bShape := a.Shape(), b.Shape()
	if len(aShape) < 2 || len(bShape) < 2 {
		panic(fmt.Sprintf("matmul: inputs must be at least 2D, got %v x %v", aShape, bShape))
	}

	m, k := aShape[len(aShape)-2], aShape[len(aShape)-1]
	k2, n := bShape[len(bShape)-2], bShape[len(bShape)-1]
	if k != k2 {
		panic(fmt.Sprintf("matmul: inner dimensions differ: %v x %v", aShape, bShape))
	}

	aBatch := tensor.Shape(aShape[:len(aShape)-2])
	bBatch := tensor.Shape(bShape[:len(bShape)-2])
	batchShape, _, err := tensor.BroadcastShapes(aBatch, bBatch)
	if err != nil {
		panic(fmt.Sprintf("matmul: batch dimensions not broadcastable: %v", err))
	}

	outShape := append(batchShape.Clone(), m, n)
	result := tensor.MustNewRaw(outShape, tensor.Float32, c.device)

	av, bv := a.AsFloat32(), b.AsFloat32()
	dst := result.AsFloat32()

	aIdx := newBroadcastIndexer(aBatch, batchShape)
	bIdx := newBroadcastIndexer(bBatch, batchShape)

	numBatches := batchShape.NumElements()
	idx := make([]int, len(batchShape))
	for batch := 0; batch < numBatches; batch++ {
		aOff := aIdx.offset(idx) * m * k
		bOff := bIdx.offset(idx) * k * n
		oOff := batch * m * n

		for i := 0; i < m; i++ {
			for j := 0; j < n; j++ {
				var sum float32
				for p := 0; p < k; p++ {
					sum += av[aOff+i*k+p] * bv[bOff+p*n+j]
				}
				dst[oOff+i*n+j] = sum
			}
		}
		increment(idx, batchShape)
	}

	return result
}
