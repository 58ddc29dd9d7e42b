package nn

import "github.com/kiln-ml/kiln/internal/tensor"

// Parameter is a named weight tensor. The loader fills parameters from
// checkpoint files by name; the trace backend registers them as graph
// initializers under the same name.
type Parameter struct {
	name       string
	tensor     *tensor.RawTensor
	transposed bool
}

// NewParameter creates a named parameter around an initialized tensor.
func NewParameter(name string, t *tensor.RawTensor) *Parameter {
	return &Parameter{name: name, tensor: t}
}

// NewTransposedParameter creates a parameter stored transposed relative to
// its checkpoint layout. Linear weights use this: the module keeps
// [in, out] while checkpoints ship [out, in], and shape alone cannot tell
// the layouts apart when the matrix is square.
func NewTransposedParameter(name string, t *tensor.RawTensor) *Parameter {
	return &Parameter{name: name, tensor: t, transposed: true}
}

// Transposed reports whether the checkpoint entry must be transposed when
// loaded into this parameter.
func (p *Parameter) Transposed() bool {
	return p.transposed
}

// Name returns the parameter name.
func (p *Parameter) Name() string {
	return p.name
}

// Tensor returns the parameter tensor.
func (p *Parameter) Tensor() *tensor.RawTensor {
	return p.tensor
}

// Prefixed returns params with their names scoped under prefix, the way
// containers report nested weights. Layout flags are preserved.
func Prefixed(prefix string, params []*Parameter) []*Parameter {
	out := make([]*Parameter, len(params))
	for i, p := range params {
		out[i] = &Parameter{name: prefix + "." + p.name, tensor: p.tensor, transposed: p.transposed}
	}
	return out
}
