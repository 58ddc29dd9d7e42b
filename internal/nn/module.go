// Package nn implements the neural network modules Kiln's model
// architectures are assembled from.
//
// Modules operate on *tensor.RawTensor with an injected tensor.Backend:
// running a module under the CPU backend computes, running it under the
// trace backend captures the equivalent ONNX node stream. Graph capture is
// dtype-erased, so no generic tensor wrapper is needed here.
package nn

import "github.com/kiln-ml/kiln/internal/tensor"

// Module is the base interface for network components.
type Module interface {
	// Forward computes the output of the module given an input tensor.
	Forward(x *tensor.RawTensor) *tensor.RawTensor

	// Parameters returns the module's parameters, names scoped relative
	// to the module itself. Containers prefix child names with a dotted
	// path, mirroring checkpoint key layout.
	Parameters() []*Parameter
}
