package nn

import (
	"github.com/kiln-ml/kiln/internal/tensor"
)

// Embedding looks up dense vectors for int64 token indices.
// Capture lowers the lookup to an ONNX Gather over the weight initializer.
type Embedding struct {
	weight  *Parameter // [vocab_size, dim]
	backend tensor.Backend
}

// NewEmbedding creates an embedding table of vocabSize x dim.
func NewEmbedding(vocabSize, dim int, backend tensor.Backend) *Embedding {
	return &Embedding{
		weight:  NewParameter("weight", Xavier(vocabSize, dim, tensor.Shape{vocabSize, dim})),
		backend: backend,
	}
}

// Forward maps indices [...] to embeddings [..., dim].
func (e *Embedding) Forward(indices *tensor.RawTensor) *tensor.RawTensor {
	return e.backend.Embedding(e.weight.Tensor(), indices)
}

// Parameters returns the embedding table.
func (e *Embedding) Parameters() []*Parameter {
	return []*Parameter{e.weight}
}
