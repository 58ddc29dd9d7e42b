package tensor

import (
	"math"
	"math/rand"
)

// Zeros creates a float32 tensor filled with zeros.
func Zeros(shape Shape) *RawTensor {
	return MustNewRaw(shape, Float32, CPU)
}

// Full creates a float32 tensor filled with a specific value.
func Full(shape Shape, value float32) *RawTensor {
	t := Zeros(shape)
	data := t.AsFloat32()
	for i := range data {
		data[i] = value
	}
	return t
}

// Scalar creates a one-element float32 tensor of shape [1].
func Scalar(value float32) *RawTensor {
	return Full(Shape{1}, value)
}

// Rand creates a float32 tensor with values uniformly distributed in [0, 1).
//
// This is the placeholder generator for graph capture: values represent
// pixel intensities before model-internal normalization, so every element
// must stay inside [0, 1]. Randn must never be used for placeholders.
func Rand(shape Shape) *RawTensor {
	t := Zeros(shape)
	data := t.AsFloat32()
	for i := range data {
		data[i] = float32(rand.Float64()) //nolint:gosec // G404: math/rand is intentional for placeholder data
	}
	return t
}

// Randn creates a float32 tensor with samples from a standard normal
// distribution (mean=0, std=1) using the Box-Muller transform.
//
// Unsuitable for image placeholders: samples routinely fall outside [0, 1].
func Randn(shape Shape) *RawTensor {
	t := Zeros(shape)
	data := t.AsFloat32()
	for i := 0; i < len(data); i += 2 {
		u1 := rand.Float64() //nolint:gosec // G404: math/rand is intentional
		u2 := rand.Float64() //nolint:gosec // G404: math/rand is intentional
		z0 := math.Sqrt(-2.0*math.Log(u1)) * math.Cos(2.0*math.Pi*u2)
		z1 := math.Sqrt(-2.0*math.Log(u1)) * math.Sin(2.0*math.Pi*u2)
		data[i] = float32(z0)
		if i+1 < len(data) {
			data[i+1] = float32(z1)
		}
	}
	return t
}

// FromFloat32 creates a float32 tensor from explicit values.
// Panics if the value count does not match the shape.
func FromFloat32(shape Shape, values []float32) *RawTensor {
	if shape.NumElements() != len(values) {
		panic("FromFloat32: value count does not match shape")
	}
	t := Zeros(shape)
	copy(t.AsFloat32(), values)
	return t
}

// FromInt64 creates an int64 tensor from explicit values.
// Panics if the value count does not match the shape.
func FromInt64(shape Shape, values []int64) *RawTensor {
	if shape.NumElements() != len(values) {
		panic("FromInt64: value count does not match shape")
	}
	t := MustNewRaw(shape, Int64, CPU)
	copy(t.AsInt64(), values)
	return t
}
