package nn

import (
	"github.com/kiln-ml/kiln/internal/tensor"
)

// EncoderBlock is a pre-norm transformer block: attention and an MLP with
// QuickGELU, each behind a LayerNorm with residual connections. Parameter
// names follow the CLIP checkpoint layout (layer_norm1, self_attn.*,
// layer_norm2, mlp.fc1, mlp.fc2).
type EncoderBlock struct {
	ln1     *LayerNorm
	attn    *MultiheadSelfAttention
	ln2     *LayerNorm
	fc1     *Linear
	fc2     *Linear
	backend tensor.Backend
}

// NewEncoderBlock creates a bidirectional encoder block.
func NewEncoderBlock(dim, heads, intermediate int, backend tensor.Backend) *EncoderBlock {
	return newEncoderBlock(NewMultiheadSelfAttention(dim, heads, backend), dim, intermediate, backend)
}

// NewCausalEncoderBlock creates a causal encoder block for a fixed context
// length (text encoders).
func NewCausalEncoderBlock(dim, heads, intermediate, contextLen int, backend tensor.Backend) *EncoderBlock {
	return newEncoderBlock(NewCausalSelfAttention(dim, heads, contextLen, backend), dim, intermediate, backend)
}

func newEncoderBlock(attn *MultiheadSelfAttention, dim, intermediate int, backend tensor.Backend) *EncoderBlock {
	return &EncoderBlock{
		ln1:     NewLayerNorm(dim, 1e-5, backend),
		attn:    attn,
		ln2:     NewLayerNorm(dim, 1e-5, backend),
		fc1:     NewLinear(dim, intermediate, true, backend),
		fc2:     NewLinear(intermediate, dim, true, backend),
		backend: backend,
	}
}

// Forward runs the block without a padding mask.
func (e *EncoderBlock) Forward(x *tensor.RawTensor) *tensor.RawTensor {
	return e.ForwardMasked(x, nil)
}

// ForwardMasked runs the block with an optional additive attention bias.
func (e *EncoderBlock) ForwardMasked(x, maskBias *tensor.RawTensor) *tensor.RawTensor {
	b := e.backend

	h := b.Add(x, e.attn.ForwardMasked(e.ln1.Forward(x), maskBias))

	m := e.fc1.Forward(e.ln2.Forward(h))
	m = QuickGELU(b, m)
	m = e.fc2.Forward(m)

	return b.Add(h, m)
}

// Parameters returns all block parameters under their CLIP-style names.
func (e *EncoderBlock) Parameters() []*Parameter {
	params := Prefixed("layer_norm1", e.ln1.Parameters())
	params = append(params, Prefixed("self_attn", e.attn.Parameters())...)
	params = append(params, Prefixed("layer_norm2", e.ln2.Parameters())...)
	params = append(params, Prefixed("mlp.fc1", e.fc1.Parameters())...)
	params = append(params, Prefixed("mlp.fc2", e.fc2.Parameters())...)
	return params
}
