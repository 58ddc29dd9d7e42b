// Package tokenizer frames text prompts for CLIP-style text encoders.
//
// Graph capture only needs token ids that are valid embedding rows; the
// exported graph does not depend on which ids the placeholder prompt maps
// to. Text is tokenized with a BPE encoding and the raw ids are folded into
// the model vocabulary, framed as [BOS, ids..., EOS] and padded to the
// context length.
package tokenizer

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"

	"github.com/kiln-ml/kiln/internal/tensor"
)

// encodingName is the BPE encoding used for placeholder prompts.
const encodingName = "cl100k_base"

// Encoder produces raw token ids for a text.
type Encoder interface {
	Encode(text string) []int
}

type tiktokenEncoder struct {
	enc *tiktoken.Tiktoken
}

func (e tiktokenEncoder) Encode(text string) []int {
	return e.enc.Encode(text, nil, nil)
}

// ClipTokenizer converts prompts into fixed-length id sequences for a text
// encoder with the given vocabulary and context length. The two highest ids
// are reserved: vocab-2 is BOS, vocab-1 is EOS. Padding uses id 0.
type ClipTokenizer struct {
	enc           Encoder
	vocabSize     int
	contextLength int
}

// New creates a ClipTokenizer backed by the BPE encoding.
func New(vocabSize, contextLength int) (*ClipTokenizer, error) {
	enc, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		return nil, fmt.Errorf("failed to load tiktoken encoding %q: %w", encodingName, err)
	}
	return NewWithEncoder(tiktokenEncoder{enc: enc}, vocabSize, contextLength), nil
}

// NewWithEncoder creates a ClipTokenizer over a custom encoder.
func NewWithEncoder(enc Encoder, vocabSize, contextLength int) *ClipTokenizer {
	return &ClipTokenizer{enc: enc, vocabSize: vocabSize, contextLength: contextLength}
}

// BosToken returns the beginning-of-sequence id.
func (t *ClipTokenizer) BosToken() int64 {
	return int64(t.vocabSize - 2)
}

// EosToken returns the end-of-sequence id.
func (t *ClipTokenizer) EosToken() int64 {
	return int64(t.vocabSize - 1)
}

// ContextLength returns the fixed sequence length.
func (t *ClipTokenizer) ContextLength() int {
	return t.contextLength
}

// Encode tokenizes a batch of prompts into an input_ids tensor
// ([batch, context] int64) and an attention_mask tensor
// ([batch, context] float32, 1.0 on real tokens and 0.0 on padding).
// Prompts longer than the context are truncated, keeping BOS and EOS.
func (t *ClipTokenizer) Encode(texts []string) (ids, mask *tensor.RawTensor, err error) {
	if len(texts) == 0 {
		return nil, nil, fmt.Errorf("empty prompt batch")
	}

	batch := len(texts)
	ctx := t.contextLength
	idsData := make([]int64, batch*ctx)
	maskData := make([]float32, batch*ctx)

	for b, text := range texts {
		row := idsData[b*ctx : (b+1)*ctx]
		mrow := maskData[b*ctx : (b+1)*ctx]

		toks := t.enc.Encode(text)
		if len(toks) > ctx-2 {
			toks = toks[:ctx-2]
		}

		row[0] = t.BosToken()
		for i, id := range toks {
			// Raw BPE ids may exceed the model vocabulary; fold them into
			// the non-reserved range so every id is a valid embedding row.
			row[1+i] = int64(id % (t.vocabSize - 2))
		}
		row[1+len(toks)] = t.EosToken()
		for i := 0; i < len(toks)+2; i++ {
			mrow[i] = 1
		}
	}

	idsT := tensor.FromInt64(tensor.Shape{batch, ctx}, idsData)
	maskT := tensor.FromFloat32(tensor.Shape{batch, ctx}, maskData)
	return idsT, maskT, nil
}
