package nn

import (
	"fmt"
	"math"

	"github.com/kiln-ml/kiln/internal/tensor"
)

// MultiheadSelfAttention implements scaled dot-product self-attention with
// separate q/k/v/out projections.
//
// A causal variant carries a precomputed additive mask sized for a fixed
// context length; inputs to a causal instance must use exactly that length
// (graph capture runs at the model's full context window).
type MultiheadSelfAttention struct {
	dim     int
	heads   int
	headDim int
	qProj   *Linear
	kProj   *Linear
	vProj   *Linear
	outProj *Linear
	causal  *tensor.RawTensor // [1, 1, ctx, ctx] additive mask, nil when bidirectional
	ctxLen  int
	backend tensor.Backend
}

// NewMultiheadSelfAttention creates a bidirectional self-attention module.
func NewMultiheadSelfAttention(dim, heads int, backend tensor.Backend) *MultiheadSelfAttention {
	if dim%heads != 0 {
		panic(fmt.Sprintf("attention: dim %d not divisible by heads %d", dim, heads))
	}
	return &MultiheadSelfAttention{
		dim:     dim,
		heads:   heads,
		headDim: dim / heads,
		qProj:   NewLinear(dim, dim, true, backend),
		kProj:   NewLinear(dim, dim, true, backend),
		vProj:   NewLinear(dim, dim, true, backend),
		outProj: NewLinear(dim, dim, true, backend),
		backend: backend,
	}
}

// NewCausalSelfAttention creates a causal self-attention module for a fixed
// context length.
func NewCausalSelfAttention(dim, heads, contextLen int, backend tensor.Backend) *MultiheadSelfAttention {
	a := NewMultiheadSelfAttention(dim, heads, backend)
	a.ctxLen = contextLen
	a.causal = causalMask(contextLen)
	return a
}

// causalMask builds an additive [1, 1, ctx, ctx] mask: 0 on and below the
// diagonal, a large negative value above.
func causalMask(ctx int) *tensor.RawTensor {
	mask := tensor.Zeros(tensor.Shape{1, 1, ctx, ctx})
	data := mask.AsFloat32()
	for i := 0; i < ctx; i++ {
		for j := i + 1; j < ctx; j++ {
			data[i*ctx+j] = -1e9
		}
	}
	return mask
}

// Forward runs self-attention without an additional padding mask.
func (a *MultiheadSelfAttention) Forward(x *tensor.RawTensor) *tensor.RawTensor {
	return a.ForwardMasked(x, nil)
}

// ForwardMasked runs self-attention over x [B, T, D]. maskBias, when
// non-nil, is an additive attention bias broadcastable to [B, heads, T, T]
// (typically [B, 1, 1, T] built from a padding mask).
func (a *MultiheadSelfAttention) ForwardMasked(x, maskBias *tensor.RawTensor) *tensor.RawTensor {
	b := a.backend
	shape := x.Shape()
	if len(shape) != 3 || shape[2] != a.dim {
		panic(fmt.Sprintf("attention: expected [batch, seq, %d], got %v", a.dim, shape))
	}
	batch, seq := shape[0], shape[1]
	if a.causal != nil && seq != a.ctxLen {
		panic(fmt.Sprintf("attention: causal module traced for context %d, got sequence %d", a.ctxLen, seq))
	}

	split := func(t *tensor.RawTensor) *tensor.RawTensor {
		t = b.Reshape(t, tensor.Shape{batch, seq, a.heads, a.headDim})
		return b.Transpose(t, 0, 2, 1, 3) // [B, H, T, hd]
	}

	q := split(a.qProj.Forward(x))
	k := split(a.kProj.Forward(x))
	v := split(a.vProj.Forward(x))

	scores := b.MatMul(q, b.Transpose(k, 0, 1, 3, 2))
	scores = b.MulScalar(scores, float32(1/math.Sqrt(float64(a.headDim))))

	if a.causal != nil {
		scores = b.Add(scores, a.causal)
	}
	if maskBias != nil {
		scores = b.Add(scores, maskBias)
	}

	attn := b.Softmax(scores, -1)
	ctx := b.MatMul(attn, v)           // [B, H, T, hd]
	ctx = b.Transpose(ctx, 0, 2, 1, 3) // [B, T, H, hd]
	ctx = b.Reshape(ctx, tensor.Shape{batch, seq, a.dim})

	return a.outProj.Forward(ctx)
}

// Parameters returns the four projection layers' weights.
func (a *MultiheadSelfAttention) Parameters() []*Parameter {
	params := Prefixed("q_proj", a.qProj.Parameters())
	params = append(params, Prefixed("k_proj", a.kProj.Parameters())...)
	params = append(params, Prefixed("v_proj", a.vProj.Parameters())...)
	params = append(params, Prefixed("out_proj", a.outProj.Parameters())...)
	return params
}
