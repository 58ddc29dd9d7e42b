package zoo

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/kiln-ml/kiln/internal/nn"
	"github.com/kiln-ml/kiln/internal/tensor"
	"github.com/kiln-ml/kiln/internal/trace"
)

// CLIPSegConfig describes the text-conditioned segmentation model: a CLIP
// backbone plus a lightweight convolutional decoder.
type CLIPSegConfig struct {
	Text          TextConfig   `json:"text_config"`
	Vision        VisionConfig `json:"vision_config"`
	ProjectionDim int          `json:"projection_dim"`
	DecoderDim    int          `json:"reduce_dim"`
}

// DefaultCLIPSegConfig returns the refined segmentation configuration:
// a ViT-B/16 trunk at 352x352 with a 64-wide decoder.
func DefaultCLIPSegConfig() CLIPSegConfig {
	return CLIPSegConfig{
		Text: TextConfig{
			VocabSize:        49408,
			HiddenSize:       512,
			IntermediateSize: 2048,
			NumLayers:        12,
			NumHeads:         8,
			ContextLength:    77,
		},
		Vision: VisionConfig{
			HiddenSize:       768,
			IntermediateSize: 3072,
			NumLayers:        12,
			NumHeads:         12,
			ImageSize:        352,
			PatchSize:        16,
		},
		ProjectionDim: 512,
		DecoderDim:    64,
	}
}

// LoadCLIPSegConfig reads a snapshot config.json, filling unset fields
// from the defaults.
func LoadCLIPSegConfig(path string) (CLIPSegConfig, error) {
	cfg := DefaultCLIPSegConfig()
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from the resolved snapshot directory
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// CLIPSeg predicts a segmentation logit map for an image conditioned on a
// text prompt. The vision trunk produces patch tokens; pooled text features
// modulate them via feature-wise linear modulation (FiLM); a convolutional
// decoder upsamples back to input resolution.
type CLIPSeg struct {
	cfg    CLIPSegConfig
	text   *textEncoder
	vision *visionEncoder

	reduce  *nn.Linear
	filmMul *nn.Linear
	filmAdd *nn.Linear
	block   *nn.EncoderBlock

	up1     *convBlock
	up2     *nn.Conv2d
	backend tensor.Backend
}

// NewCLIPSeg builds the segmentation model on the given backend.
func NewCLIPSeg(cfg CLIPSegConfig, backend tensor.Backend) *CLIPSeg {
	dd := cfg.DecoderDim
	return &CLIPSeg{
		cfg:     cfg,
		text:    newTextEncoder(cfg.Text, cfg.ProjectionDim, backend),
		vision:  newVisionEncoder(cfg.Vision, backend),
		reduce:  nn.NewLinear(cfg.Vision.HiddenSize, dd, true, backend),
		filmMul: nn.NewLinear(cfg.ProjectionDim, dd, true, backend),
		filmAdd: nn.NewLinear(cfg.ProjectionDim, dd, true, backend),
		block:   nn.NewEncoderBlock(dd, 4, dd*4, backend),
		up1:     newConvBlock(dd, dd, 3, 1, backend),
		up2:     nn.NewConv2d(dd, 1, 3, 1, 1, true, backend),
		backend: backend,
	}
}

// Forward maps pixel values [B, 3, S, S], input ids and a padding mask to
// a logit map [B, S, S].
func (m *CLIPSeg) Forward(pixels, inputIDs, mask *tensor.RawTensor) *tensor.RawTensor {
	b := m.backend
	batch := pixels.Shape()[0]
	grid := m.cfg.Vision.ImageSize / m.cfg.Vision.PatchSize
	dd := m.cfg.DecoderDim

	tokens := m.vision.forward(pixels) // [B, grid*grid+1, D]
	cond := m.text.forward(inputIDs, mask)

	t := m.reduce.Forward(tokens)
	mul := b.Reshape(m.filmMul.Forward(cond), tensor.Shape{batch, 1, dd})
	add := b.Reshape(m.filmAdd.Forward(cond), tensor.Shape{batch, 1, dd})
	t = b.Add(b.Mul(t, mul), add)
	t = m.block.Forward(t)

	// Drop the class token before rebuilding the spatial layout.
	patches := stripLeadingToken(b, t)

	h := b.Transpose(patches, 0, 2, 1)
	h = b.Reshape(h, tensor.Shape{batch, dd, grid, grid})
	h = b.Upsample2D(h, 4)
	h = m.up1.Forward(h)
	h = b.Upsample2D(h, 4)
	h = m.up2.Forward(h) // [B, 1, S, S]

	size := m.cfg.Vision.ImageSize
	return b.Reshape(h, tensor.Shape{batch, size, size})
}

// stripLeadingToken removes the class token from [B, T+1, D] without a
// Slice operator: a [T, T+1] selection matrix applied from the left keeps
// the graph inside the op set the backends implement.
func stripLeadingToken(b tensor.Backend, x *tensor.RawTensor) *tensor.RawTensor {
	shape := x.Shape()
	tokens := shape[1] - 1
	sel := tensor.Zeros(tensor.Shape{tokens, tokens + 1})
	data := sel.AsFloat32()
	for i := 0; i < tokens; i++ {
		data[i*(tokens+1)+i+1] = 1
	}
	return b.MatMul(sel, x)
}

// Parameters returns all model weights: the CLIP backbone under "clip.*"
// and the decoder under "decoder.*".
func (m *CLIPSeg) Parameters() []*nn.Parameter {
	params := nn.Prefixed("clip", m.text.parameters())
	params = append(params, nn.Prefixed("clip", m.vision.parameters())...)
	params = append(params, nn.Prefixed("decoder.reduce", m.reduce.Parameters())...)
	params = append(params, nn.Prefixed("decoder.film_mul", m.filmMul.Parameters())...)
	params = append(params, nn.Prefixed("decoder.film_add", m.filmAdd.Parameters())...)
	params = append(params, nn.Prefixed("decoder.block", m.block.Parameters())...)
	params = append(params, nn.Prefixed("decoder.up1", m.up1.Parameters())...)
	params = append(params, nn.Prefixed("decoder.up2", m.up2.Parameters())...)
	return params
}

// Trace captures the segmentation graph: inputs "input_ids",
// "pixel_values" and "attention_mask", output "logits". ids and mask are
// the placeholder token batch; pass nil to use an all-zero prompt.
func (m *CLIPSeg) Trace(tr *trace.Tracer, ids, mask *tensor.RawTensor) error {
	registerParams(tr, "", m.Parameters())

	if ids == nil || mask == nil {
		ids, mask = PlaceholderTokens(m.cfg.Text.ContextLength)
	}
	pixels := tensor.Rand(tensor.Shape{1, 3, m.cfg.Vision.ImageSize, m.cfg.Vision.ImageSize})

	tr.Input("input_ids", ids, nil)
	tr.Input("pixel_values", pixels, nil)
	tr.Input("attention_mask", mask, nil)

	logits := m.Forward(pixels, ids, mask)
	return tr.Output("logits", logits, nil)
}
