package zoo

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/kiln-ml/kiln/internal/nn"
	"github.com/kiln-ml/kiln/internal/tensor"
	"github.com/kiln-ml/kiln/internal/trace"
)

// DetectorConfig describes the instance segmentation detector.
type DetectorConfig struct {
	ImageSize    int `json:"image_size"`    // square input resolution
	NumClasses   int `json:"num_classes"`   // detection categories
	MaskCoeffs   int `json:"mask_coeffs"`   // coefficients per instance mask
	BaseChannels int `json:"base_channels"` // stem width; stages double it
	StageDepth   int `json:"stage_depth"`   // residual blocks per stage
}

// DefaultDetectorConfig returns the medium segmentation configuration.
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		ImageSize:    640,
		NumClasses:   80,
		MaskCoeffs:   32,
		BaseChannels: 48,
		StageDepth:   2,
	}
}

// LoadDetectorConfig reads a snapshot config.json, filling unset fields
// from the defaults.
func LoadDetectorConfig(path string) (DetectorConfig, error) {
	cfg := DefaultDetectorConfig()
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from the resolved snapshot directory
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// convBlock is a convolution followed by SiLU. Checkpoints ship with
// batch normalization folded into the convolution weights, so the block
// carries no separate normalization parameters.
type convBlock struct {
	conv    *nn.Conv2d
	backend tensor.Backend
}

func newConvBlock(inCh, outCh, kernel, stride int, backend tensor.Backend) *convBlock {
	return &convBlock{
		conv:    nn.NewConv2d(inCh, outCh, kernel, stride, kernel/2, true, backend),
		backend: backend,
	}
}

func (c *convBlock) Forward(x *tensor.RawTensor) *tensor.RawTensor {
	return nn.SiLU(c.backend, c.conv.Forward(x))
}

func (c *convBlock) Parameters() []*nn.Parameter {
	return nn.Prefixed("conv", c.conv.Parameters())
}

// bottleneck is a residual pair of 3x3 conv blocks at constant width.
type bottleneck struct {
	cv1, cv2 *convBlock
	backend  tensor.Backend
}

func newBottleneck(ch int, backend tensor.Backend) *bottleneck {
	return &bottleneck{
		cv1:     newConvBlock(ch, ch, 3, 1, backend),
		cv2:     newConvBlock(ch, ch, 3, 1, backend),
		backend: backend,
	}
}

func (b *bottleneck) Forward(x *tensor.RawTensor) *tensor.RawTensor {
	return b.backend.Add(x, b.cv2.Forward(b.cv1.Forward(x)))
}

func (b *bottleneck) Parameters() []*nn.Parameter {
	params := nn.Prefixed("cv1", b.cv1.Parameters())
	return append(params, nn.Prefixed("cv2", b.cv2.Parameters())...)
}

// stage downsamples by two and applies residual blocks.
type stage struct {
	down   *convBlock
	blocks []*bottleneck
}

func newStage(inCh, outCh, depth int, backend tensor.Backend) *stage {
	s := &stage{down: newConvBlock(inCh, outCh, 3, 2, backend)}
	for i := 0; i < depth; i++ {
		s.blocks = append(s.blocks, newBottleneck(outCh, backend))
	}
	return s
}

func (s *stage) Forward(x *tensor.RawTensor) *tensor.RawTensor {
	h := s.down.Forward(x)
	for _, blk := range s.blocks {
		h = blk.Forward(h)
	}
	return h
}

func (s *stage) Parameters() []*nn.Parameter {
	params := nn.Prefixed("down", s.down.Parameters())
	for i, blk := range s.blocks {
		params = append(params, nn.Prefixed(fmt.Sprintf("blocks.%d", i), blk.Parameters())...)
	}
	return params
}

// sppf is spatial pyramid pooling (fast): three stacked 5x5 max pools whose
// outputs are concatenated with the input and fused by a 1x1 conv.
type sppf struct {
	cv1, cv2 *convBlock
	backend  tensor.Backend
}

func newSPPF(ch int, backend tensor.Backend) *sppf {
	return &sppf{
		cv1:     newConvBlock(ch, ch/2, 1, 1, backend),
		cv2:     newConvBlock(ch/2*4, ch, 1, 1, backend),
		backend: backend,
	}
}

func (s *sppf) Forward(x *tensor.RawTensor) *tensor.RawTensor {
	b := s.backend
	h := s.cv1.Forward(x)
	p1 := b.MaxPool2D(h, 5, 1, 2)
	p2 := b.MaxPool2D(p1, 5, 1, 2)
	p3 := b.MaxPool2D(p2, 5, 1, 2)
	return s.cv2.Forward(b.Cat([]*tensor.RawTensor{h, p1, p2, p3}, 1))
}

func (s *sppf) Parameters() []*nn.Parameter {
	params := nn.Prefixed("cv1", s.cv1.Parameters())
	return append(params, nn.Prefixed("cv2", s.cv2.Parameters())...)
}

// head predicts per-anchor outputs at one scale: box coordinates, class
// scores and mask coefficients stacked along the channel dimension.
type head struct {
	stem *convBlock
	out  *nn.Conv2d
}

func newHead(inCh, outCh int, backend tensor.Backend) *head {
	return &head{
		stem: newConvBlock(inCh, inCh, 3, 1, backend),
		out:  nn.NewConv2d(inCh, outCh, 1, 1, 0, true, backend),
	}
}

func (h *head) Forward(x *tensor.RawTensor) *tensor.RawTensor {
	return h.out.Forward(h.stem.Forward(x))
}

func (h *head) Parameters() []*nn.Parameter {
	params := nn.Prefixed("stem", h.stem.Parameters())
	return append(params, nn.Prefixed("out", h.out.Parameters())...)
}

// Detector is a single-stage object detector with instance segmentation.
//
// The backbone downsamples to strides 8, 16 and 32; a detection head at
// each scale predicts 4 box coordinates, class scores and mask
// coefficients per anchor cell. Predictions from all scales flatten and
// concatenate into "output0" [batch, 4+classes+coeffs, anchors]; a
// prototype head on the stride-8 features produces the shared mask basis
// "output1" [batch, coeffs, size/4, size/4].
type Detector struct {
	cfg DetectorConfig

	stem   *convBlock
	stage1 *stage // stride 4
	stage2 *stage // stride 8
	stage3 *stage // stride 16
	stage4 *stage // stride 32
	sppf   *sppf

	heads [3]*head

	protoUp  *convBlock
	protoMid *convBlock
	protoOut *nn.Conv2d
	backend  tensor.Backend
}

// NewDetector builds a detector on the given backend.
func NewDetector(cfg DetectorConfig, backend tensor.Backend) *Detector {
	c := cfg.BaseChannels
	outCh := 4 + cfg.NumClasses + cfg.MaskCoeffs

	d := &Detector{
		cfg:     cfg,
		stem:    newConvBlock(3, c, 3, 2, backend),
		stage1:  newStage(c, 2*c, cfg.StageDepth, backend),
		stage2:  newStage(2*c, 4*c, cfg.StageDepth, backend),
		stage3:  newStage(4*c, 8*c, cfg.StageDepth, backend),
		stage4:  newStage(8*c, 16*c, cfg.StageDepth, backend),
		sppf:    newSPPF(16*c, backend),
		backend: backend,
	}
	d.heads[0] = newHead(4*c, outCh, backend)  // stride 8
	d.heads[1] = newHead(8*c, outCh, backend)  // stride 16
	d.heads[2] = newHead(16*c, outCh, backend) // stride 32

	d.protoUp = newConvBlock(4*c, 2*c, 3, 1, backend)
	d.protoMid = newConvBlock(2*c, 2*c, 3, 1, backend)
	d.protoOut = nn.NewConv2d(2*c, cfg.MaskCoeffs, 1, 1, 0, true, backend)
	return d
}

// Forward maps images [B, 3, S, S] to detections and mask prototypes.
func (d *Detector) Forward(images *tensor.RawTensor) (detections, protos *tensor.RawTensor) {
	b := d.backend
	batch := images.Shape()[0]
	outCh := 4 + d.cfg.NumClasses + d.cfg.MaskCoeffs

	h := d.stem.Forward(images)
	h = d.stage1.Forward(h)
	p3 := d.stage2.Forward(h)                  // stride 8
	p4 := d.stage3.Forward(p3)                 // stride 16
	p5 := d.sppf.Forward(d.stage4.Forward(p4)) // stride 32

	flat := func(idx int, feat *tensor.RawTensor) *tensor.RawTensor {
		y := d.heads[idx].Forward(feat)
		hw := y.Shape()[2] * y.Shape()[3]
		return b.Reshape(y, tensor.Shape{batch, outCh, hw})
	}
	detections = b.Cat([]*tensor.RawTensor{
		flat(0, p3), flat(1, p4), flat(2, p5),
	}, 2)

	m := d.protoUp.Forward(p3)
	m = b.Upsample2D(m, 2) // stride 4
	m = d.protoMid.Forward(m)
	protos = d.protoOut.Forward(m)
	return detections, protos
}

// Parameters returns all model weights under the "model.*" key layout.
func (d *Detector) Parameters() []*nn.Parameter {
	params := nn.Prefixed("model.stem", d.stem.Parameters())
	params = append(params, nn.Prefixed("model.stage1", d.stage1.Parameters())...)
	params = append(params, nn.Prefixed("model.stage2", d.stage2.Parameters())...)
	params = append(params, nn.Prefixed("model.stage3", d.stage3.Parameters())...)
	params = append(params, nn.Prefixed("model.stage4", d.stage4.Parameters())...)
	params = append(params, nn.Prefixed("model.sppf", d.sppf.Parameters())...)
	for i, h := range d.heads {
		params = append(params, nn.Prefixed(fmt.Sprintf("model.heads.%d", i), h.Parameters())...)
	}
	params = append(params, nn.Prefixed("model.proto.up", d.protoUp.Parameters())...)
	params = append(params, nn.Prefixed("model.proto.mid", d.protoMid.Parameters())...)
	params = append(params, nn.Prefixed("model.proto.out", d.protoOut.Parameters())...)
	return params
}

// Trace captures the detector graph: input "images", outputs "output0"
// (detections) and "output1" (mask prototypes).
func (d *Detector) Trace(tr *trace.Tracer) error {
	registerParams(tr, "", d.Parameters())

	images := tensor.Rand(tensor.Shape{1, 3, d.cfg.ImageSize, d.cfg.ImageSize})
	tr.Input("images", images, nil)

	detections, protos := d.Forward(images)
	if err := tr.Output("output0", detections, nil); err != nil {
		return err
	}
	return tr.Output("output1", protos, nil)
}
