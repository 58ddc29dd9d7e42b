package tensor

import (
	"fmt"
	"unsafe"
)

// Device represents the compute device for tensor operations.
// The exporter only ever runs on CPU; the enum exists so backends keep a
// uniform signature.
type Device int

// Supported compute devices.
const (
	CPU Device = iota
)

// String returns a human-readable device name.
func (d Device) String() string {
	if d == CPU {
		return "CPU"
	}
	return "Unknown"
}

// RawTensor is the low-level tensor representation: a flat row-major byte
// buffer with shape, stride and runtime dtype information.
type RawTensor struct {
	data   []byte
	shape  Shape
	stride []int
	dtype  DataType
	device Device
}

// NewRaw creates a new RawTensor with the given shape and type.
// Memory is allocated zero-initialized.
func NewRaw(shape Shape, dtype DataType, device Device) (*RawTensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("invalid shape: %w", err)
	}

	return &RawTensor{
		data:   make([]byte, shape.NumElements()*dtype.Size()),
		shape:  shape.Clone(),
		stride: shape.ComputeStrides(),
		dtype:  dtype,
		device: device,
	}, nil
}

// MustNewRaw is NewRaw but panics on invalid shapes. Backends use it for
// result tensors whose shapes were already validated.
func MustNewRaw(shape Shape, dtype DataType, device Device) *RawTensor {
	t, err := NewRaw(shape, dtype, device)
	if err != nil {
		panic(err)
	}
	return t
}

// Shape returns the tensor shape.
func (r *RawTensor) Shape() Shape {
	return r.shape
}

// Stride returns the row-major strides.
func (r *RawTensor) Stride() []int {
	return r.stride
}

// DType returns the runtime data type.
func (r *RawTensor) DType() DataType {
	return r.dtype
}

// Device returns the compute device.
func (r *RawTensor) Device() Device {
	return r.device
}

// NumElements returns the number of elements.
func (r *RawTensor) NumElements() int {
	return r.shape.NumElements()
}

// Bytes returns the underlying byte buffer.
func (r *RawTensor) Bytes() []byte {
	return r.data
}

// AsFloat32 interprets the data as []float32.
// Panics if the tensor's dtype is not Float32.
func (r *RawTensor) AsFloat32() []float32 {
	if r.dtype != Float32 {
		panic(fmt.Sprintf("tensor dtype is %s, not float32", r.dtype))
	}
	//nolint:gosec // unsafe.Slice for zero-copy access, length checked by NumElements()
	return unsafe.Slice((*float32)(unsafe.Pointer(&r.data[0])), r.NumElements())
}

// AsInt64 interprets the data as []int64.
// Panics if the tensor's dtype is not Int64.
func (r *RawTensor) AsInt64() []int64 {
	if r.dtype != Int64 {
		panic(fmt.Sprintf("tensor dtype is %s, not int64", r.dtype))
	}
	//nolint:gosec // unsafe.Slice for zero-copy access, length checked by NumElements()
	return unsafe.Slice((*int64)(unsafe.Pointer(&r.data[0])), r.NumElements())
}

// AsUint8 interprets the data as []uint8.
// Panics if the tensor's dtype is not Uint8.
func (r *RawTensor) AsUint8() []uint8 {
	if r.dtype != Uint8 {
		panic(fmt.Sprintf("tensor dtype is %s, not uint8", r.dtype))
	}
	return r.data
}

// Clone returns a deep copy of the tensor.
func (r *RawTensor) Clone() *RawTensor {
	clone := MustNewRaw(r.shape, r.dtype, r.device)
	copy(clone.data, r.data)
	return clone
}

// WithShape returns a view of the same data under a new shape.
// The new shape must describe the same number of elements.
func (r *RawTensor) WithShape(shape Shape) (*RawTensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("invalid shape: %w", err)
	}
	if shape.NumElements() != r.NumElements() {
		return nil, fmt.Errorf("cannot reshape %v (%d elements) to %v (%d elements)",
			r.shape, r.NumElements(), shape, shape.NumElements())
	}
	return &RawTensor{
		data:   r.data,
		shape:  shape.Clone(),
		stride: shape.ComputeStrides(),
		dtype:  r.dtype,
		device: r.device,
	}, nil
}

// String returns a short description for debugging.
func (r *RawTensor) String() string {
	return fmt.Sprintf("RawTensor(%v, %s, %s)", r.shape, r.dtype, r.device)
}
