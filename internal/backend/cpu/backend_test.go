package cpu

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiln-ml/kiln/internal/tensor"
)

func TestAddBroadcast(t *testing.T) {
	b := New()

	a := tensor.FromFloat32(tensor.Shape{2, 3}, []float32{1, 2, 3, 4, 5, 6})
	bias := tensor.FromFloat32(tensor.Shape{3}, []float32{10, 20, 30})

	got := b.Add(a, bias)
	require.True(t, got.Shape().Equal(tensor.Shape{2, 3}))
	assert.Equal(t, []float32{11, 22, 33, 14, 25, 36}, got.AsFloat32())
}

func TestSubMulDiv(t *testing.T) {
	b := New()
	x := tensor.FromFloat32(tensor.Shape{4}, []float32{2, 4, 6, 8})
	y := tensor.FromFloat32(tensor.Shape{4}, []float32{1, 2, 3, 4})

	assert.Equal(t, []float32{1, 2, 3, 4}, b.Sub(x, y).AsFloat32())
	assert.Equal(t, []float32{2, 8, 18, 32}, b.Mul(x, y).AsFloat32())
	assert.Equal(t, []float32{2, 2, 2, 2}, b.Div(x, y).AsFloat32())
}

func TestMatMul2D(t *testing.T) {
	b := New()
	a := tensor.FromFloat32(tensor.Shape{2, 3}, []float32{1, 2, 3, 4, 5, 6})
	w := tensor.FromFloat32(tensor.Shape{3, 2}, []float32{7, 8, 9, 10, 11, 12})

	got := b.MatMul(a, w)
	require.True(t, got.Shape().Equal(tensor.Shape{2, 2}))
	assert.Equal(t, []float32{58, 64, 139, 154}, got.AsFloat32())
}

func TestMatMulBatched(t *testing.T) {
	b := New()

	// [2, 2, 2] @ [2, 2, 2]: identity times data in each batch.
	a := tensor.FromFloat32(tensor.Shape{2, 2, 2}, []float32{
		1, 0, 0, 1,
		1, 0, 0, 1,
	})
	x := tensor.FromFloat32(tensor.Shape{2, 2, 2}, []float32{
		1, 2, 3, 4,
		5, 6, 7, 8,
	})

	got := b.MatMul(a, x)
	require.True(t, got.Shape().Equal(tensor.Shape{2, 2, 2}))
	assert.Equal(t, x.AsFloat32(), got.AsFloat32())

	// Weight shared across the batch: [2, 2, 3] @ [3, 1].
	shared := b.MatMul(
		tensor.FromFloat32(tensor.Shape{2, 2, 3}, []float32{1, 1, 1, 2, 2, 2, 3, 3, 3, 4, 4, 4}),
		tensor.FromFloat32(tensor.Shape{3, 1}, []float32{1, 1, 1}),
	)
	require.True(t, shared.Shape().Equal(tensor.Shape{2, 2, 1}))
	assert.Equal(t, []float32{3, 6, 9, 12}, shared.AsFloat32())
}

func TestConv2DIdentity(t *testing.T) {
	b := New()

	input := tensor.Rand(tensor.Shape{1, 1, 4, 4})
	kernel := tensor.FromFloat32(tensor.Shape{1, 1, 1, 1}, []float32{1})

	got := b.Conv2D(input, kernel, 1, 0)
	require.True(t, got.Shape().Equal(tensor.Shape{1, 1, 4, 4}))
	assert.Equal(t, input.AsFloat32(), got.AsFloat32())
}

func TestConv2DStridePadding(t *testing.T) {
	b := New()

	input := tensor.Full(tensor.Shape{1, 1, 4, 4}, 1)
	kernel := tensor.Full(tensor.Shape{2, 1, 3, 3}, 1)

	got := b.Conv2D(input, kernel, 2, 1)
	require.True(t, got.Shape().Equal(tensor.Shape{1, 2, 2, 2}))
	// Top-left window with padding 1 covers a 2x2 region of ones.
	assert.Equal(t, float32(4), got.AsFloat32()[0])
}

func TestMaxPool2D(t *testing.T) {
	b := New()
	input := tensor.FromFloat32(tensor.Shape{1, 1, 2, 2}, []float32{1, 5, 3, 2})

	got := b.MaxPool2D(input, 2, 2, 0)
	require.True(t, got.Shape().Equal(tensor.Shape{1, 1, 1, 1}))
	assert.Equal(t, float32(5), got.AsFloat32()[0])
}

func TestUpsample2D(t *testing.T) {
	b := New()
	input := tensor.FromFloat32(tensor.Shape{1, 1, 2, 2}, []float32{1, 2, 3, 4})

	got := b.Upsample2D(input, 2)
	require.True(t, got.Shape().Equal(tensor.Shape{1, 1, 4, 4}))
	assert.Equal(t, []float32{
		1, 1, 2, 2,
		1, 1, 2, 2,
		3, 3, 4, 4,
		3, 3, 4, 4,
	}, got.AsFloat32())
}

func TestTranspose(t *testing.T) {
	b := New()
	x := tensor.FromFloat32(tensor.Shape{2, 3}, []float32{1, 2, 3, 4, 5, 6})

	got := b.Transpose(x)
	require.True(t, got.Shape().Equal(tensor.Shape{3, 2}))
	assert.Equal(t, []float32{1, 4, 2, 5, 3, 6}, got.AsFloat32())

	// Attention-style permutation on rank 4.
	y := tensor.Rand(tensor.Shape{1, 4, 2, 8})
	perm := b.Transpose(y, 0, 2, 1, 3)
	require.True(t, perm.Shape().Equal(tensor.Shape{1, 2, 4, 8}))
}

func TestSoftmax(t *testing.T) {
	b := New()
	x := tensor.FromFloat32(tensor.Shape{2, 2}, []float32{0, 0, 1, 3})

	got := b.Softmax(x, -1)
	data := got.AsFloat32()
	assert.InDelta(t, 0.5, data[0], 1e-6)
	assert.InDelta(t, 0.5, data[1], 1e-6)
	assert.InDelta(t, 1.0, float64(data[2]+data[3]), 1e-6)
	assert.Greater(t, data[3], data[2])
}

func TestMeanDim(t *testing.T) {
	b := New()
	x := tensor.FromFloat32(tensor.Shape{2, 3}, []float32{1, 2, 3, 4, 5, 6})

	kept := b.MeanDim(x, -1, true)
	require.True(t, kept.Shape().Equal(tensor.Shape{2, 1}))
	assert.Equal(t, []float32{2, 5}, kept.AsFloat32())

	dropped := b.MeanDim(x, 0, false)
	require.True(t, dropped.Shape().Equal(tensor.Shape{3}))
	assert.Equal(t, []float32{2.5, 3.5, 4.5}, dropped.AsFloat32())
}

func TestCat(t *testing.T) {
	b := New()
	x := tensor.FromFloat32(tensor.Shape{1, 2}, []float32{1, 2})
	y := tensor.FromFloat32(tensor.Shape{1, 2}, []float32{3, 4})

	dim0 := b.Cat([]*tensor.RawTensor{x, y}, 0)
	require.True(t, dim0.Shape().Equal(tensor.Shape{2, 2}))
	assert.Equal(t, []float32{1, 2, 3, 4}, dim0.AsFloat32())

	dim1 := b.Cat([]*tensor.RawTensor{x, y}, 1)
	require.True(t, dim1.Shape().Equal(tensor.Shape{1, 4}))
	assert.Equal(t, []float32{1, 2, 3, 4}, dim1.AsFloat32())
}

func TestEmbedding(t *testing.T) {
	b := New()
	weight := tensor.FromFloat32(tensor.Shape{3, 2}, []float32{0, 0, 1, 1, 2, 2})
	ids := tensor.FromInt64(tensor.Shape{1, 3}, []int64{2, 0, 1})

	got := b.Embedding(weight, ids)
	require.True(t, got.Shape().Equal(tensor.Shape{1, 3, 2}))
	assert.Equal(t, []float32{2, 2, 0, 0, 1, 1}, got.AsFloat32())
}

func TestSigmoidSqrtScalars(t *testing.T) {
	b := New()
	x := tensor.FromFloat32(tensor.Shape{2}, []float32{0, 4})

	sig := b.Sigmoid(x).AsFloat32()
	assert.InDelta(t, 0.5, sig[0], 1e-6)
	assert.InDelta(t, 1/(1+math.Exp(-4)), float64(sig[1]), 1e-6)

	assert.Equal(t, []float32{0, 2}, b.Sqrt(x).AsFloat32())
	assert.Equal(t, []float32{1, 5}, b.AddScalar(x, 1).AsFloat32())
	assert.Equal(t, []float32{0, 8}, b.MulScalar(x, 2).AsFloat32())
}
