package tokenizer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiln-ml/kiln/internal/tensor"
)

// wordEncoder maps each whitespace-separated word to a fixed id.
type wordEncoder struct {
	ids map[string]int
}

func (e wordEncoder) Encode(text string) []int {
	var out []int
	for _, w := range strings.Fields(text) {
		out = append(out, e.ids[w])
	}
	return out
}

func TestEncodeFraming(t *testing.T) {
	enc := wordEncoder{ids: map[string]int{"a": 10, "photo": 20, "of": 30}}
	tok := NewWithEncoder(enc, 100, 8)

	ids, mask, err := tok.Encode([]string{"a photo of"})
	require.NoError(t, err)

	assert.Equal(t, tensor.Shape{1, 8}, ids.Shape())
	assert.Equal(t, tensor.Shape{1, 8}, mask.Shape())
	assert.Equal(t, tensor.Int64, ids.DType())
	assert.Equal(t, tensor.Float32, mask.DType())

	assert.Equal(t, []int64{98, 10, 20, 30, 99, 0, 0, 0}, ids.AsInt64())
	assert.Equal(t, []float32{1, 1, 1, 1, 1, 0, 0, 0}, mask.AsFloat32())
}

func TestEncodeTruncation(t *testing.T) {
	enc := wordEncoder{ids: map[string]int{"x": 5}}
	tok := NewWithEncoder(enc, 100, 4)

	ids, mask, err := tok.Encode([]string{"x x x x x x"})
	require.NoError(t, err)

	// Two content slots survive; BOS and EOS always present.
	assert.Equal(t, []int64{98, 5, 5, 99}, ids.AsInt64())
	assert.Equal(t, []float32{1, 1, 1, 1}, mask.AsFloat32())
}

func TestEncodeFoldsOutOfVocabIDs(t *testing.T) {
	enc := wordEncoder{ids: map[string]int{"rare": 100257}}
	tok := NewWithEncoder(enc, 100, 4)

	ids, _, err := tok.Encode([]string{"rare"})
	require.NoError(t, err)

	row := ids.AsInt64()
	for _, id := range row {
		assert.Less(t, id, int64(100))
		assert.GreaterOrEqual(t, id, int64(0))
	}
	assert.Equal(t, int64(100257%98), row[1])
}

func TestEncodeBatch(t *testing.T) {
	enc := wordEncoder{ids: map[string]int{"a": 1, "b": 2}}
	tok := NewWithEncoder(enc, 50, 5)

	ids, mask, err := tok.Encode([]string{"a", "a b"})
	require.NoError(t, err)

	assert.Equal(t, tensor.Shape{2, 5}, ids.Shape())
	assert.Equal(t, []int64{48, 1, 49, 0, 0, 48, 1, 2, 49, 0}, ids.AsInt64())
	assert.Equal(t, []float32{1, 1, 1, 0, 0, 1, 1, 1, 1, 0}, mask.AsFloat32())
}

func TestEncodeEmptyBatch(t *testing.T) {
	tok := NewWithEncoder(wordEncoder{}, 100, 8)
	_, _, err := tok.Encode(nil)
	require.Error(t, err)
}
