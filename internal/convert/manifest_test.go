package convert

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultManifest(t *testing.T) {
	m := DefaultManifest()
	require.NoError(t, m.Validate())

	assert.Equal(t, int64(13), m.Opset)
	assert.Equal(t, "browser-extension/models", m.OutputDir)
	assert.Equal(t, "flavour/CLIP-ViT-B-16-DataComp.XL-s13B-b90K", m.ClipModel)
	assert.Equal(t, "CIDAS/clipseg-rd64-refined", m.ClipSegModel)
	assert.Equal(t, "config.json", m.Files.Labels)

	// The detector default points at the expected local checkpoint so a
	// run without it reports a failed export instead of silently writing
	// an uninitialized graph.
	assert.Equal(t, "yolo11m-seg.safetensors", m.DetectorWeights)
}

func TestLoadManifestOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kiln.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
output_dir: /tmp/out
clip_model: ""
detector_weights: weights/detector.safetensors
prompts: ["a bicycle", "a crosswalk"]
files:
  detector: det.onnx
`), 0o644))

	m, err := LoadManifest(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/out", m.OutputDir)
	assert.Empty(t, m.ClipModel)
	assert.Equal(t, "weights/detector.safetensors", m.DetectorWeights)
	assert.Equal(t, []string{"a bicycle", "a crosswalk"}, m.Prompts)
	assert.Equal(t, "det.onnx", m.Files.Detector)
	// Untouched fields keep their defaults.
	assert.Equal(t, int64(13), m.Opset)
	assert.Equal(t, "clipseg.onnx", m.Files.ClipSeg)
}

func TestLoadManifestMissingFile(t *testing.T) {
	_, err := LoadManifest(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestLoadManifestRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kiln.yaml")
	require.NoError(t, os.WriteFile(path, []byte("output_dir: \"\"\n"), 0o644))
	_, err := LoadManifest(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "output_dir")
}

func TestManifestValidate(t *testing.T) {
	m := DefaultManifest()
	m.Opset = 0
	require.Error(t, m.Validate())

	m = DefaultManifest()
	m.Files.ClipVision = ""
	err := m.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "clip_vision")
}
