package zoo

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiln-ml/kiln/internal/backend/cpu"
	"github.com/kiln-ml/kiln/internal/loader"
	"github.com/kiln-ml/kiln/internal/onnx"
	"github.com/kiln-ml/kiln/internal/tensor"
	"github.com/kiln-ml/kiln/internal/trace"
)

func tinyDetectorConfig() DetectorConfig {
	return DetectorConfig{
		ImageSize:    64,
		NumClasses:   3,
		MaskCoeffs:   4,
		BaseChannels: 4,
		StageDepth:   1,
	}
}

func tinyTextConfig() TextConfig {
	return TextConfig{
		VocabSize:        32,
		HiddenSize:       8,
		IntermediateSize: 16,
		NumLayers:        1,
		NumHeads:         2,
		ContextLength:    8,
	}
}

func tinyCLIPConfig() CLIPConfig {
	return CLIPConfig{
		Text: tinyTextConfig(),
		Vision: VisionConfig{
			HiddenSize:       8,
			IntermediateSize: 16,
			NumLayers:        1,
			NumHeads:         2,
			ImageSize:        32,
			PatchSize:        16,
		},
		ProjectionDim: 4,
	}
}

func tinyCLIPSegConfig() CLIPSegConfig {
	clip := tinyCLIPConfig()
	return CLIPSegConfig{
		Text:          clip.Text,
		Vision:        clip.Vision,
		ProjectionDim: clip.ProjectionDim,
		DecoderDim:    8,
	}
}

func graphIONames(g *onnx.GraphProto) (inputs, outputs []string) {
	for _, vi := range g.Inputs {
		inputs = append(inputs, vi.Name)
	}
	for _, vi := range g.Outputs {
		outputs = append(outputs, vi.Name)
	}
	return inputs, outputs
}

func TestDetectorForwardShapes(t *testing.T) {
	cfg := tinyDetectorConfig()
	det := NewDetector(cfg, cpu.New())

	images := tensor.Rand(tensor.Shape{1, 3, cfg.ImageSize, cfg.ImageSize})
	detections, protos := det.Forward(images)

	// Anchors across strides 8, 16 and 32.
	anchors := 8*8 + 4*4 + 2*2
	assert.Equal(t, tensor.Shape{1, 4 + 3 + 4, anchors}, detections.Shape())
	assert.Equal(t, tensor.Shape{1, cfg.MaskCoeffs, 16, 16}, protos.Shape())
}

func TestDetectorTrace(t *testing.T) {
	tr := trace.New(cpu.New())
	det := NewDetector(tinyDetectorConfig(), tr)

	require.NoError(t, det.Trace(tr))
	model, err := tr.Finalize("detector", 13)
	require.NoError(t, err)

	in, out := graphIONames(model.Graph)
	assert.Equal(t, []string{"images"}, in)
	assert.Equal(t, []string{"output0", "output1"}, out)

	// Every graph survives a wire round-trip.
	data, err := onnx.Encode(model)
	require.NoError(t, err)
	back, err := onnx.Parse(data)
	require.NoError(t, err)
	assert.Equal(t, len(model.Graph.Nodes), len(back.Graph.Nodes))
}

func TestCLIPTraceText(t *testing.T) {
	tr := trace.New(cpu.New())
	clip := NewCLIP(tinyCLIPConfig(), tr)

	require.NoError(t, clip.TraceText(tr, nil, nil))
	model, err := tr.Finalize("clip_text", 13)
	require.NoError(t, err)

	in, out := graphIONames(model.Graph)
	assert.Equal(t, []string{"input_ids", "attention_mask"}, in)
	assert.Equal(t, []string{"text_features"}, out)

	// Reshape targets are baked into the graph, so tokenized inputs
	// declare the concrete dims they were traced with.
	dims := model.Graph.Inputs[0].Type.TensorType.Shape.Dims
	require.Len(t, dims, 2)
	assert.Equal(t, int64(1), dims[0].DimValue)
	assert.Equal(t, int64(tinyTextConfig().ContextLength), dims[1].DimValue)
	assert.Empty(t, dims[0].DimParam)
}

func TestCLIPTraceVision(t *testing.T) {
	cfg := tinyCLIPConfig()
	tr := trace.New(cpu.New())
	clip := NewCLIP(cfg, tr)

	require.NoError(t, clip.TraceVision(tr))
	model, err := tr.Finalize("clip_vision", 13)
	require.NoError(t, err)

	in, out := graphIONames(model.Graph)
	assert.Equal(t, []string{"pixel_values"}, in)
	assert.Equal(t, []string{"image_features"}, out)

	dims := model.Graph.Inputs[0].Type.TensorType.Shape.Dims
	require.Len(t, dims, 4)
	assert.Equal(t, int64(1), dims[0].DimValue)
	assert.Empty(t, dims[0].DimParam)
	assert.Equal(t, int64(3), dims[1].DimValue)
	assert.Equal(t, int64(cfg.Vision.ImageSize), dims[2].DimValue)
}

func TestCLIPEncodeShapes(t *testing.T) {
	cfg := tinyCLIPConfig()
	clip := NewCLIP(cfg, cpu.New())

	ids, mask := PlaceholderTokens(cfg.Text.ContextLength)
	text := clip.EncodeText(ids, mask)
	assert.Equal(t, tensor.Shape{1, cfg.ProjectionDim}, text.Shape())

	pixels := tensor.Rand(tensor.Shape{1, 3, cfg.Vision.ImageSize, cfg.Vision.ImageSize})
	image := clip.EncodeImage(pixels)
	assert.Equal(t, tensor.Shape{1, cfg.ProjectionDim}, image.Shape())
}

func TestCLIPEncodeImageBatched(t *testing.T) {
	cfg := tinyCLIPConfig()
	clip := NewCLIP(cfg, cpu.New())

	// The class token is tiled to the runtime batch before the concat, so
	// multi-image batches embed without shape errors.
	pixels := tensor.Rand(tensor.Shape{2, 3, cfg.Vision.ImageSize, cfg.Vision.ImageSize})
	image := clip.EncodeImage(pixels)
	assert.Equal(t, tensor.Shape{2, cfg.ProjectionDim}, image.Shape())
}

func TestCLIPSegForwardAndTrace(t *testing.T) {
	cfg := tinyCLIPSegConfig()

	seg := NewCLIPSeg(cfg, cpu.New())
	ids, mask := PlaceholderTokens(cfg.Text.ContextLength)
	pixels := tensor.Rand(tensor.Shape{1, 3, cfg.Vision.ImageSize, cfg.Vision.ImageSize})
	logits := seg.Forward(pixels, ids, mask)
	assert.Equal(t, tensor.Shape{1, cfg.Vision.ImageSize, cfg.Vision.ImageSize}, logits.Shape())

	tr := trace.New(cpu.New())
	traced := NewCLIPSeg(cfg, tr)
	require.NoError(t, traced.Trace(tr, nil, nil))
	model, err := tr.Finalize("clipseg", 13)
	require.NoError(t, err)

	in, out := graphIONames(model.Graph)
	assert.Equal(t, []string{"input_ids", "pixel_values", "attention_mask"}, in)
	assert.Equal(t, []string{"logits"}, out)
}

func TestStripLeadingToken(t *testing.T) {
	b := cpu.New()
	x := tensor.FromFloat32(tensor.Shape{1, 3, 2}, []float32{
		9, 9, // class token
		1, 2,
		3, 4,
	})
	got := stripLeadingToken(b, x)
	assert.Equal(t, tensor.Shape{1, 2, 2}, got.Shape())
	assert.Equal(t, []float32{1, 2, 3, 4}, got.AsFloat32())
}

func TestParameterNamesUnique(t *testing.T) {
	models := map[string][]string{}
	for _, p := range NewDetector(tinyDetectorConfig(), cpu.New()).Parameters() {
		models["detector"] = append(models["detector"], p.Name())
	}
	for _, p := range NewCLIP(tinyCLIPConfig(), cpu.New()).Parameters() {
		models["clip"] = append(models["clip"], p.Name())
	}
	for _, p := range NewCLIPSeg(tinyCLIPSegConfig(), cpu.New()).Parameters() {
		models["clipseg"] = append(models["clipseg"], p.Name())
	}

	for model, names := range models {
		seen := map[string]bool{}
		for _, n := range names {
			assert.False(t, seen[n], "%s: duplicate parameter name %s", model, n)
			seen[n] = true
		}
	}
}

func TestApplyCheckpointWithoutPatchBias(t *testing.T) {
	b := cpu.New()
	clip := NewCLIP(tinyCLIPConfig(), b)
	params := clip.Parameters()

	// Published CLIP checkpoints ship the patch embedding conv without a
	// bias entry, so the module must not declare one.
	ckpt := map[string]*tensor.RawTensor{}
	for _, p := range params {
		assert.NotEqual(t, "vision_model.embeddings.patch_embedding.bias", p.Name())
		w := p.Tensor()
		if p.Transposed() {
			w = b.Transpose(w, 1, 0)
		}
		ckpt[p.Name()] = w
	}
	require.NoError(t, loader.Apply(params, ckpt))
}

func TestLoadCLIPConfigOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"projection_dim": 256,
		"vision_config": {"hidden_size": 768, "image_size": 224, "patch_size": 32, "num_hidden_layers": 12, "num_attention_heads": 12, "intermediate_size": 3072}
	}`), 0o644))

	cfg, err := LoadCLIPConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 256, cfg.ProjectionDim)
	assert.Equal(t, 32, cfg.Vision.PatchSize)
	// Unset sections keep their defaults.
	assert.Equal(t, 49408, cfg.Text.VocabSize)
}

func TestLoadDetectorConfigMissingFile(t *testing.T) {
	_, err := LoadDetectorConfig(filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)
}
