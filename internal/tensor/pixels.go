package tensor

import "fmt"

// Pixel conversion helpers.
//
// Placeholder images are float32 CHW tensors with intensities in [0, 1].
// Downstream tooling occasionally needs the uint8 HWC view (the layout
// browser canvases and image encoders expect); the conversion must stay
// inside [0, 255] and invert losslessly up to quantization.

// ToPixels converts a [3, H, W] or [1, 3, H, W] float32 tensor in [0, 1]
// into interleaved HWC uint8 pixel data.
// Returns an error when any element falls outside [0, 1].
func ToPixels(t *RawTensor) ([]uint8, int, int, error) {
	shape := t.Shape()
	if len(shape) == 4 {
		if shape[0] != 1 {
			return nil, 0, 0, fmt.Errorf("pixels: expected batch of 1, got %d", shape[0])
		}
		shape = shape[1:]
	}
	if len(shape) != 3 || shape[0] != 3 {
		return nil, 0, 0, fmt.Errorf("pixels: expected [3, H, W] image, got %v", t.Shape())
	}

	h, w := shape[1], shape[2]
	data := t.AsFloat32()
	plane := h * w
	out := make([]uint8, plane*3)

	for i, v := range data {
		if v < 0 || v > 1 {
			return nil, 0, 0, fmt.Errorf("pixels: value %v at index %d outside [0, 1]", v, i)
		}
	}

	for c := 0; c < 3; c++ {
		for p := 0; p < plane; p++ {
			out[p*3+c] = uint8(data[c*plane+p] * 255)
		}
	}
	return out, h, w, nil
}

// FromPixels converts interleaved HWC uint8 pixel data back into a
// [1, 3, H, W] float32 tensor with values in [0, 1].
func FromPixels(pixels []uint8, h, w int) (*RawTensor, error) {
	if len(pixels) != h*w*3 {
		return nil, fmt.Errorf("pixels: expected %d bytes for %dx%d RGB, got %d", h*w*3, h, w, len(pixels))
	}

	t := Zeros(Shape{1, 3, h, w})
	data := t.AsFloat32()
	plane := h * w
	for p := 0; p < plane; p++ {
		for c := 0; c < 3; c++ {
			data[c*plane+p] = float32(pixels[p*3+c]) / 255
		}
	}
	return t, nil
}
