package nn

import (
	"math"
	"math/rand"

	"github.com/kiln-ml/kiln/internal/tensor"
)

// Xavier creates a tensor initialized with Xavier/Glorot uniform values in
// (-a, a) where a = sqrt(6 / (fanIn + fanOut)).
//
// Exported models normally overwrite these values from a checkpoint; the
// initialization keeps uncheckpointed runs (tests, dry runs) numerically
// sane.
func Xavier(fanIn, fanOut int, shape tensor.Shape) *tensor.RawTensor {
	t := tensor.Zeros(shape)
	data := t.AsFloat32()
	bound := math.Sqrt(6.0 / float64(fanIn+fanOut))
	for i := range data {
		data[i] = float32((rand.Float64()*2 - 1) * bound) //nolint:gosec // G404: weight init, not crypto
	}
	return t
}
