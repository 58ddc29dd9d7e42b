package zoo

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/kiln-ml/kiln/internal/nn"
	"github.com/kiln-ml/kiln/internal/tensor"
	"github.com/kiln-ml/kiln/internal/trace"
)

// TextConfig describes a CLIP-style causal text transformer.
type TextConfig struct {
	VocabSize        int `json:"vocab_size"`
	HiddenSize       int `json:"hidden_size"`
	IntermediateSize int `json:"intermediate_size"`
	NumLayers        int `json:"num_hidden_layers"`
	NumHeads         int `json:"num_attention_heads"`
	ContextLength    int `json:"max_position_embeddings"`
}

// VisionConfig describes a CLIP-style vision transformer.
type VisionConfig struct {
	HiddenSize       int `json:"hidden_size"`
	IntermediateSize int `json:"intermediate_size"`
	NumLayers        int `json:"num_hidden_layers"`
	NumHeads         int `json:"num_attention_heads"`
	ImageSize        int `json:"image_size"`
	PatchSize        int `json:"patch_size"`
}

// CLIPConfig describes a full vision-language embedder. The JSON layout
// matches the config.json shipped with CLIP checkpoints.
type CLIPConfig struct {
	Text          TextConfig   `json:"text_config"`
	Vision        VisionConfig `json:"vision_config"`
	ProjectionDim int          `json:"projection_dim"`
}

// DefaultCLIPConfig returns the ViT-B/32 configuration.
func DefaultCLIPConfig() CLIPConfig {
	return CLIPConfig{
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
			ImageSize:        224,
			PatchSize:        32,
		},
		ProjectionDim: 512,
	}
}

// LoadCLIPConfig reads a snapshot config.json, filling unset fields from
// the defaults.
func LoadCLIPConfig(path string) (CLIPConfig, error) {
	cfg := DefaultCLIPConfig()
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from the resolved snapshot directory
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// textEncoder is the causal transformer shared by CLIP and the
// text-conditioned segmenter: token and position embeddings, causal
// encoder blocks, a final LayerNorm and a projection into the shared
// embedding space.
type textEncoder struct {
	cfg      TextConfig
	tokenEmb *nn.Embedding
	posEmb   *nn.Parameter // [context, hidden]
	blocks   []*nn.EncoderBlock
	finalLN  *nn.LayerNorm
	proj     *nn.Linear
	backend  tensor.Backend
}

func newTextEncoder(cfg TextConfig, projectionDim int, backend tensor.Backend) *textEncoder {
	blocks := make([]*nn.EncoderBlock, cfg.NumLayers)
	for i := range blocks {
		blocks[i] = nn.NewCausalEncoderBlock(cfg.HiddenSize, cfg.NumHeads,
			cfg.IntermediateSize, cfg.ContextLength, backend)
	}
	return &textEncoder{
		cfg:      cfg,
		tokenEmb: nn.NewEmbedding(cfg.VocabSize, cfg.HiddenSize, backend),
		posEmb: nn.NewParameter("position_embedding.weight",
			nn.Xavier(cfg.ContextLength, cfg.HiddenSize, tensor.Shape{cfg.ContextLength, cfg.HiddenSize})),
		blocks:  blocks,
		finalLN: nn.NewLayerNorm(cfg.HiddenSize, 1e-5, backend),
		proj:    nn.NewLinear(cfg.HiddenSize, projectionDim, false, backend),
		backend: backend,
	}
}

// maskBias turns a [B, T] padding mask (1.0 real, 0.0 pad) into an additive
// attention bias [B, 1, 1, T]: 0 where attended, -1e9 where masked. The
// mask arrives as float32 so the exported graph needs no Cast node.
func (t *textEncoder) maskBias(mask *tensor.RawTensor) *tensor.RawTensor {
	b := t.backend
	shape := mask.Shape()
	bias := b.MulScalar(b.AddScalar(mask, -1), 1e9)
	return b.Reshape(bias, tensor.Shape{shape[0], 1, 1, shape[1]})
}

// forward maps input ids [B, T] and a padding mask [B, T] to pooled,
// projected text features [B, projection].
func (t *textEncoder) forward(inputIDs, mask *tensor.RawTensor) *tensor.RawTensor {
	b := t.backend

	h := t.tokenEmb.Forward(inputIDs) // [B, T, D]
	h = b.Add(h, t.posEmb.Tensor())   // position table broadcasts over batch
	bias := t.maskBias(mask)
	for _, blk := range t.blocks {
		h = blk.ForwardMasked(h, bias)
	}
	h = t.finalLN.Forward(h)
	pooled := b.MeanDim(h, 1, false) // [B, D]
	return t.proj.Forward(pooled)
}

// parameters returns all weights under the checkpoint key layout used by
// CLIP-family models ("text_model.*", "text_projection.weight").
func (t *textEncoder) parameters() []*nn.Parameter {
	params := nn.Prefixed("text_model.embeddings.token_embedding", t.tokenEmb.Parameters())
	params = append(params, nn.NewParameter("text_model.embeddings."+t.posEmb.Name(), t.posEmb.Tensor()))
	for i, blk := range t.blocks {
		params = append(params, nn.Prefixed(fmt.Sprintf("text_model.encoder.layers.%d", i), blk.Parameters())...)
	}
	params = append(params, nn.Prefixed("text_model.final_layer_norm", t.finalLN.Parameters())...)
	params = append(params, nn.Prefixed("text_projection", t.proj.Parameters())...)
	return params
}

// visionEncoder is the bidirectional vision transformer: patch embedding,
// class token, position embeddings and encoder blocks.
type visionEncoder struct {
	cfg      VisionConfig
	patchEmb *nn.Conv2d
	classEmb *nn.Parameter // [hidden]
	posEmb   *nn.Parameter // [tokens+1, hidden]
	preLN    *nn.LayerNorm
	blocks   []*nn.EncoderBlock
	postLN   *nn.LayerNorm
	backend  tensor.Backend
}

func newVisionEncoder(cfg VisionConfig, backend tensor.Backend) *visionEncoder {
	grid := cfg.ImageSize / cfg.PatchSize
	tokens := grid*grid + 1

	blocks := make([]*nn.EncoderBlock, cfg.NumLayers)
	for i := range blocks {
		blocks[i] = nn.NewEncoderBlock(cfg.HiddenSize, cfg.NumHeads, cfg.IntermediateSize, backend)
	}
	return &visionEncoder{
		cfg:      cfg,
		patchEmb: nn.NewConv2d(3, cfg.HiddenSize, cfg.PatchSize, cfg.PatchSize, 0, false, backend),
		classEmb: nn.NewParameter("class_embedding",
			nn.Xavier(cfg.HiddenSize, cfg.HiddenSize, tensor.Shape{cfg.HiddenSize})),
		posEmb: nn.NewParameter("position_embedding.weight",
			nn.Xavier(tokens, cfg.HiddenSize, tensor.Shape{tokens, cfg.HiddenSize})),
		preLN:   nn.NewLayerNorm(cfg.HiddenSize, 1e-5, backend),
		blocks:  blocks,
		postLN:  nn.NewLayerNorm(cfg.HiddenSize, 1e-5, backend),
		backend: backend,
	}
}

// embed maps pixel values [B, 3, S, S] to the token sequence
// [B, tokens+1, D] with the class token prepended.
func (v *visionEncoder) embed(pixels *tensor.RawTensor) *tensor.RawTensor {
	b := v.backend
	batch := pixels.Shape()[0]
	grid := v.cfg.ImageSize / v.cfg.PatchSize
	d := v.cfg.HiddenSize

	h := v.patchEmb.Forward(pixels) // [B, D, g, g]
	h = b.Reshape(h, tensor.Shape{batch, d, grid * grid})
	h = b.Transpose(h, 0, 2, 1) // [B, g*g, D]

	// Concat requires equal non-axis dims, so the class token is tiled to
	// the runtime batch through a zeroed [B, 1, D] anchor derived from h.
	cls := b.Reshape(v.classEmb.Tensor(), tensor.Shape{1, 1, d})
	anchor := b.MulScalar(b.MeanDim(h, 1, true), 0) // [B, 1, D]
	cls = b.Add(anchor, cls)
	h = b.Cat([]*tensor.RawTensor{cls, h}, 1) // [B, g*g+1, D]

	return b.Add(h, v.posEmb.Tensor())
}

// forward maps pixel values to the normalized token sequence.
func (v *visionEncoder) forward(pixels *tensor.RawTensor) *tensor.RawTensor {
	h := v.preLN.Forward(v.embed(pixels))
	for _, blk := range v.blocks {
		h = blk.Forward(h)
	}
	return v.postLN.Forward(h)
}

// parameters returns all weights under the "vision_model.*" key layout.
// The pre-norm key keeps the spelling used by shipped checkpoints.
func (v *visionEncoder) parameters() []*nn.Parameter {
	params := nn.Prefixed("vision_model.embeddings.patch_embedding", v.patchEmb.Parameters())
	params = append(params,
		nn.NewParameter("vision_model.embeddings."+v.classEmb.Name(), v.classEmb.Tensor()),
		nn.NewParameter("vision_model.embeddings."+v.posEmb.Name(), v.posEmb.Tensor()))
	params = append(params, nn.Prefixed("vision_model.pre_layrnorm", v.preLN.Parameters())...)
	for i, blk := range v.blocks {
		params = append(params, nn.Prefixed(fmt.Sprintf("vision_model.encoder.layers.%d", i), blk.Parameters())...)
	}
	params = append(params, nn.Prefixed("vision_model.post_layernorm", v.postLN.Parameters())...)
	return params
}

// CLIP pairs a text and a vision encoder projecting into a shared
// embedding space. The two towers export as separate graphs so inference
// can embed text and images independently.
type CLIP struct {
	cfg     CLIPConfig
	text    *textEncoder
	vision  *visionEncoder
	visProj *nn.Linear
	backend tensor.Backend
}

// NewCLIP builds a CLIP model on the given backend.
func NewCLIP(cfg CLIPConfig, backend tensor.Backend) *CLIP {
	return &CLIP{
		cfg:     cfg,
		text:    newTextEncoder(cfg.Text, cfg.ProjectionDim, backend),
		vision:  newVisionEncoder(cfg.Vision, backend),
		visProj: nn.NewLinear(cfg.Vision.HiddenSize, cfg.ProjectionDim, false, backend),
		backend: backend,
	}
}

// EncodeText maps input ids and a padding mask to text features.
func (c *CLIP) EncodeText(inputIDs, mask *tensor.RawTensor) *tensor.RawTensor {
	return c.text.forward(inputIDs, mask)
}

// EncodeImage maps pixel values to image features.
func (c *CLIP) EncodeImage(pixels *tensor.RawTensor) *tensor.RawTensor {
	pooled := c.backend.MeanDim(c.vision.forward(pixels), 1, false)
	return c.visProj.Forward(pooled)
}

// Parameters returns all model weights.
func (c *CLIP) Parameters() []*nn.Parameter {
	params := c.text.parameters()
	params = append(params, c.vision.parameters()...)
	params = append(params, nn.Prefixed("visual_projection", c.visProj.Parameters())...)
	return params
}

// TraceText captures the text tower: inputs "input_ids" and
// "attention_mask", output "text_features". ids and mask are the
// placeholder token batch; pass nil to use an all-zero prompt.
func (c *CLIP) TraceText(tr *trace.Tracer, ids, mask *tensor.RawTensor) error {
	registerParams(tr, "", c.text.parameters())

	if ids == nil || mask == nil {
		ids, mask = PlaceholderTokens(c.cfg.Text.ContextLength)
	}
	tr.Input("input_ids", ids, nil)
	tr.Input("attention_mask", mask, nil)

	feats := c.EncodeText(ids, mask)
	return tr.Output("text_features", feats, nil)
}

// TraceVision captures the vision tower: input "pixel_values", output
// "image_features".
func (c *CLIP) TraceVision(tr *trace.Tracer) error {
	registerParams(tr, "", c.vision.parameters())
	registerParams(tr, "visual_projection", c.visProj.Parameters())

	pixels := tensor.Rand(tensor.Shape{1, 3, c.cfg.Vision.ImageSize, c.cfg.Vision.ImageSize})
	tr.Input("pixel_values", pixels, nil)

	feats := c.EncodeImage(pixels)
	return tr.Output("image_features", feats, nil)
}

// PlaceholderTokens builds a one-row token batch for capture: all ids zero
// with a fully attended mask. Graph structure does not depend on the values.
func PlaceholderTokens(contextLength int) (ids, mask *tensor.RawTensor) {
	ids = tensor.FromInt64(tensor.Shape{1, contextLength}, make([]int64, contextLength))
	mask = tensor.Full(tensor.Shape{1, contextLength}, 1)
	return ids, mask
}
