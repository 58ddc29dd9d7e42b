package loader

import (
	"fmt"

	"github.com/kiln-ml/kiln/internal/nn"
	"github.com/kiln-ml/kiln/internal/tensor"
)

// Apply copies checkpoint weights into module parameters by name.
//
// Linear layers store their weight pre-transposed as [in, out] while
// checkpoints ship the conventional [out, in] layout. Parameters flagged
// Transposed are transposed on the way in; the flag (not a shape heuristic)
// decides, because square projection matrices look the same either way.
//
// Parameters missing from the checkpoint are an error; extra checkpoint
// entries are ignored (some exports carry optimizer state or buffers).
func Apply(params []*nn.Parameter, weights map[string]*tensor.RawTensor) error {
	for _, p := range params {
		src, ok := weights[p.Name()]
		if !ok {
			return fmt.Errorf("checkpoint is missing parameter %s", p.Name())
		}
		if err := fill(p, src); err != nil {
			return fmt.Errorf("parameter %s: %w", p.Name(), err)
		}
	}
	return nil
}

func fill(p *nn.Parameter, src *tensor.RawTensor) error {
	dst := p.Tensor()
	if src.DType() != dst.DType() {
		return fmt.Errorf("dtype mismatch: checkpoint %s, parameter %s", src.DType(), dst.DType())
	}

	if p.Transposed() {
		if len(src.Shape()) != 2 || !reversed(src.Shape(), dst.Shape()) {
			return fmt.Errorf("shape mismatch: checkpoint %v, parameter %v (transposed)", src.Shape(), dst.Shape())
		}
		if src.DType() != tensor.Float32 {
			return fmt.Errorf("transposed load requires float32, got %s", src.DType())
		}
		transposeInto(dst, src)
		return nil
	}

	// Convolution biases are stored [1, C, 1, 1] for broadcasting while
	// checkpoints ship them flat, so compare with singleton dims dropped.
	if !squeeze(src.Shape()).Equal(squeeze(dst.Shape())) {
		return fmt.Errorf("shape mismatch: checkpoint %v, parameter %v", src.Shape(), dst.Shape())
	}
	copy(dst.Bytes(), src.Bytes())
	return nil
}

// squeeze returns shape with all size-1 dimensions removed.
func squeeze(s tensor.Shape) tensor.Shape {
	out := tensor.Shape{}
	for _, d := range s {
		if d != 1 {
			out = append(out, d)
		}
	}
	return out
}

// reversed reports whether a equals b read back to front.
func reversed(a, b tensor.Shape) bool {
	if len(a) != len(b) {
		return false
	}
	for i, d := range a {
		if b[len(b)-1-i] != d {
			return false
		}
	}
	return true
}

// transposeInto writes the transpose of a [rows, cols] checkpoint tensor
// into a [cols, rows] parameter.
func transposeInto(dst, src *tensor.RawTensor) {
	rows, cols := src.Shape()[0], src.Shape()[1]
	s := src.AsFloat32()
	d := dst.AsFloat32()
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			d[j*rows+i] = s[i*cols+j]
		}
	}
}
