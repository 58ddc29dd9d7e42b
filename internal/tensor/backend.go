package tensor

// Backend defines the op surface the exporter's model architectures need.
// Two implementations exist: the CPU reference backend, which computes, and
// the trace backend, which computes via CPU and records an ONNX node per op.
//
// Operations panic on shape or dtype violations: by the time a model runs,
// its architecture has fixed every shape, so a violation is a programming
// error rather than an input error.
type Backend interface {
	// Element-wise binary operations with NumPy-style broadcasting.
	Add(a, b *RawTensor) *RawTensor
	Sub(a, b *RawTensor) *RawTensor
	Mul(a, b *RawTensor) *RawTensor
	Div(a, b *RawTensor) *RawTensor

	// MatMul multiplies matrices. 2D inputs are plain matrix product;
	// higher-rank inputs are treated as stacks of matrices over the
	// leading dimensions (the ONNX MatMul contract).
	MatMul(a, b *RawTensor) *RawTensor

	// Conv2D applies a 2D convolution.
	// Input [N, Cin, H, W], kernel [Cout, Cin, KH, KW]. Bias is applied
	// separately by the caller.
	Conv2D(input, kernel *RawTensor, stride, padding int) *RawTensor

	// MaxPool2D applies 2D max pooling over [N, C, H, W].
	MaxPool2D(input *RawTensor, kernelSize, stride, padding int) *RawTensor

	// Upsample2D scales the spatial dimensions of [N, C, H, W] by an
	// integer factor using nearest-neighbor interpolation.
	Upsample2D(input *RawTensor, scale int) *RawTensor

	// Shape operations.
	Reshape(t *RawTensor, newShape Shape) *RawTensor
	Transpose(t *RawTensor, axes ...int) *RawTensor

	// Scalar operations.
	AddScalar(x *RawTensor, scalar float32) *RawTensor
	MulScalar(x *RawTensor, scalar float32) *RawTensor

	// Math and activations.
	Sqrt(x *RawTensor) *RawTensor
	Sigmoid(x *RawTensor) *RawTensor
	Softmax(x *RawTensor, dim int) *RawTensor

	// Reductions.
	MeanDim(x *RawTensor, dim int, keepDim bool) *RawTensor

	// Manipulation.
	Cat(tensors []*RawTensor, dim int) *RawTensor

	// Embedding looks up rows of weight [V, D] by int64 indices [..].
	// The result shape is indices.Shape() + [D].
	Embedding(weight, indices *RawTensor) *RawTensor

	// Metadata.
	Name() string
	Device() Device
}
