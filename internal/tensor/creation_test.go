package tensor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tensorMinMax(t *RawTensor) (float32, float32) {
	data := t.AsFloat32()
	lo, hi := data[0], data[0]
	for _, v := range data {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}

// TestRandPlaceholderRange checks the placeholder contract: every element of
// a Rand tensor lies in [0, 1]. The dual embedding model traces with
// 224x224 placeholders, the segmentation model with 352x352.
func TestRandPlaceholderRange(t *testing.T) {
	shapes := []Shape{
		{1, 3, 224, 224},
		{1, 3, 352, 352},
	}

	for _, shape := range shapes {
		placeholder := Rand(shape)
		lo, hi := tensorMinMax(placeholder)

		assert.GreaterOrEqual(t, lo, float32(0.0), "placeholder %v minimum must be >= 0", shape)
		assert.LessOrEqual(t, hi, float32(1.0), "placeholder %v maximum must be <= 1", shape)
	}
}

// TestRandIsNotNormal guards against regressing to normal-distribution
// placeholders: uniform samples trivially stay within [-4, 4], while over a
// 224x224x3 tensor Randn essentially always escapes [0, 1].
func TestRandIsNotNormal(t *testing.T) {
	placeholder := Rand(Shape{1, 3, 224, 224})
	lo, hi := tensorMinMax(placeholder)
	assert.Greater(t, lo, float32(-4.0))
	assert.Less(t, hi, float32(4.0))

	normal := Randn(Shape{1, 3, 224, 224})
	lo, hi = tensorMinMax(normal)
	if lo >= 0 && hi <= 1 {
		t.Errorf("Randn stayed inside [0, 1] over %d samples; generator is suspect", normal.NumElements())
	}
}

func TestZerosAndFull(t *testing.T) {
	z := Zeros(Shape{2, 3})
	for _, v := range z.AsFloat32() {
		require.Zero(t, v)
	}

	f := Full(Shape{4}, 3.5)
	for _, v := range f.AsFloat32() {
		require.Equal(t, float32(3.5), v)
	}
}

func TestFromFloat32(t *testing.T) {
	values := []float32{1, 2, 3, 4, 5, 6}
	tt := FromFloat32(Shape{2, 3}, values)
	require.True(t, tt.Shape().Equal(Shape{2, 3}))
	assert.Equal(t, values, tt.AsFloat32())

	assert.Panics(t, func() { FromFloat32(Shape{2, 2}, values) })
}

func TestFromInt64(t *testing.T) {
	values := []int64{7, 8, 9}
	tt := FromInt64(Shape{1, 3}, values)
	require.Equal(t, Int64, tt.DType())
	assert.Equal(t, values, tt.AsInt64())
}
