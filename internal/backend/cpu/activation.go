package cpu

import (
	"fmt"
	"math"

	"github.com/kiln-ml/kiln/internal/tensor"
)

// Softmax computes softmax along the specified dimension with the usual
// max-subtraction for numerical stability.
func (c *Backend) Softmax(x *tensor.RawTensor, dim int) *tensor.RawTensor {
	requireFloat32("softmax", x)

	shape := x.Shape()
	ndim := len(shape)
	if dim < 0 {
		dim += ndim
	}
	if dim < 0 || dim >= ndim {
		panic(fmt.Sprintf("softmax: dimension %d out of range for rank %d", dim, ndim))
	}

	result := tensor.MustNewRaw(shape, tensor.Float32, c.device)
	src := x.AsFloat32()
	dst := result.AsFloat32()

	outer := 1
	for d := 0; d < dim; d++ {
		outer *= shape[d]
	}
	size := shape[dim]
	inner := 1
	for d := dim + 1; d < ndim; d++ {
		inner *= shape[d]
	}

	for o := 0; o < outer; o++ {
		for i := 0; i < inner; i++ {
			base := o*size*inner + i

			maxV := float32(math.Inf(-1))
			for s := 0; s < size; s++ {
				if v := src[base+s*inner]; v > maxV {
					maxV = v
				}
			}

			var sum float32
			for s := 0; s < size; s++ {
				e := float32(math.Exp(float64(src[base+s*inner] - maxV)))
				dst[base+s*inner] = e
				sum += e
			}
			for s := 0; s < size; s++ {
				dst[base+s*inner] /= sum
			}
		}
	}

	return result
}
