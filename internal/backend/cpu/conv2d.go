package cpu

import (
	"fmt"
	"math"

	"github.com/kiln-ml/kiln/internal/tensor"
)

// Conv2D applies a 2D convolution with symmetric padding.
// Input [N, Cin, H, W], kernel [Cout, Cin, KH, KW] -> [N, Cout, Hout, Wout].
func (c *Backend) Conv2D(input, kernel *tensor.RawTensor, stride, padding int) *tensor.RawTensor {
	requireFloat32("conv2d", input)
	requireFloat32("conv2d", kernel)

	in, kn := input.Shape(), kernel.Shape()
	if len(in) != 4 || len(kn) != 4 {
		panic(fmt.Sprintf("conv2d: expected 4D input and kernel, got %v and %v", in, kn))
	}
	n, cin, h, w := in[0], in[1], in[2], in[3]
	cout, kcin, kh, kw := kn[0], kn[1], kn[2], kn[3]
	if cin != kcin {
		panic(fmt.Sprintf("conv2d: input channels %d != kernel channels %d", cin, kcin))
	}
	if stride < 1 {
		panic("conv2d: stride must be >= 1")
	}

	hout := (h+2*padding-kh)/stride + 1
	wout := (w+2*padding-kw)/stride + 1
	result := tensor.MustNewRaw(tensor.Shape{n, cout, hout, wout}, tensor.Float32, c.device)

	src := input.AsFloat32()
	ker := kernel.AsFloat32()
	dst := result.AsFloat32()

	for b := 0; b < n; b++ {
		for oc := 0; oc < cout; oc++ {
			for oy := 0; oy < hout; oy++ {
				for ox := 0; ox < wout; ox++ {
					var sum float32
					for ic := 0; ic < cin; ic++ {
						for ky := 0; ky < kh; ky++ {
							iy := oy*stride + ky - padding
							if iy < 0 || iy >= h {
								continue
							}
							for kx := 0; kx < kw; kx++ {
								ix := ox*stride + kx - padding
								if ix < 0 || ix >= w {
									continue
								}
								sum += src[((b*cin+ic)*h+iy)*w+ix] * ker[((oc*cin+ic)*kh+ky)*kw+kx]
							}
						}
					}
					dst[((b*cout+oc)*hout+oy)*wout+ox] = sum
				}
			}
		}
	}

	return result
}

// MaxPool2D applies 2D max pooling over [N, C, H, W].
func (c *Backend) MaxPool2D(input *tensor.RawTensor, kernelSize, stride, padding int) *tensor.RawTensor {
	requireFloat32("maxpool2d", input)

	in := input.Shape()
	if len(in) != 4 {
		panic(fmt.Sprintf("maxpool2d: expected 4D input, got %v", in))
	}
	n, ch, h, w := in[0], in[1], in[2], in[3]
	if stride < 1 {
		stride = kernelSize
	}

	hout := (h+2*padding-kernelSize)/stride + 1
	wout := (w+2*padding-kernelSize)/stride + 1
	result := tensor.MustNewRaw(tensor.Shape{n, ch, hout, wout}, tensor.Float32, c.device)

	src := input.AsFloat32()
	dst := result.AsFloat32()

	for b := 0; b < n; b++ {
		for cc := 0; cc < ch; cc++ {
			for oy := 0; oy < hout; oy++ {
				for ox := 0; ox < wout; ox++ {
					best := float32(math.Inf(-1))
					for ky := 0; ky < kernelSize; ky++ {
						iy := oy*stride + ky - padding
						if iy < 0 || iy >= h {
							continue
						}
						for kx := 0; kx < kernelSize; kx++ {
							ix := ox*stride + kx - padding
							if ix < 0 || ix >= w {
								continue
							}
							if v := src[((b*ch+cc)*h+iy)*w+ix]; v > best {
								best = v
							}
						}
					}
					dst[((b*ch+cc)*hout+oy)*wout+ox] = best
				}
			}
		}
	}

	return result
}

// Upsample2D scales the spatial dimensions of [N, C, H, W] by an integer
// factor using nearest-neighbor interpolation.
func (c *Backend) Upsample2D(input *tensor.RawTensor, scale int) *tensor.RawTensor {
	requireFloat32("upsample2d", input)
	if scale < 1 {
		panic("upsample2d: scale must be >= 1")
	}

	in := input.Shape()
	if len(in) != 4 {
		panic(fmt.Sprintf("upsample2d: expected 4D input, got %v", in))
	}
	n, ch, h, w := in[0], in[1], in[2], in[3]
	hout, wout := h*scale, w*scale
	result := tensor.MustNewRaw(tensor.Shape{n, ch, hout, wout}, tensor.Float32, c.device)

	src := input.AsFloat32()
	dst := result.AsFloat32()

	for b := 0; b < n; b++ {
		for cc := 0; cc < ch; cc++ {
			for oy := 0; oy < hout; oy++ {
				for ox := 0; ox < wout; ox++ {
					dst[((b*ch+cc)*hout+oy)*wout+ox] = src[((b*ch+cc)*h+oy/scale)*w+ox/scale]
				}
			}
		}
	}

	return result
}
