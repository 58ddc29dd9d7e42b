package convert

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// OutputFiles names the artifacts written into the output directory.
type OutputFiles struct {
	Detector   string `yaml:"detector"`
	ClipText   string `yaml:"clip_text"`
	ClipVision string `yaml:"clip_vision"`
	ClipSeg    string `yaml:"clipseg"`
	Labels     string `yaml:"labels"`
}

// Manifest configures one conversion run.
type Manifest struct {
	// OutputDir receives the exported graphs and the label configuration.
	OutputDir string `yaml:"output_dir"`
	// Opset is the ONNX operator set version stamped on every graph.
	Opset int64 `yaml:"opset"`

	// HubBaseURL and CacheDir configure snapshot resolution for the
	// hub-hosted models.
	HubBaseURL string `yaml:"hub_base_url"`
	CacheDir   string `yaml:"cache_dir"`

	// ClipModel and ClipSegModel are hub ids; DetectorWeights is a local
	// checkpoint path. Empty exports the detector architecture
	// uninitialized, so the default names the expected local checkpoint
	// and a missing file surfaces as a failed export.
	ClipModel       string `yaml:"clip_model"`
	ClipSegModel    string `yaml:"clipseg_model"`
	DetectorWeights string `yaml:"detector_weights"`

	// Prompts override the placeholder prompt batch traced through the
	// text-conditioned graphs. Empty uses the built-in prompt.
	Prompts []string `yaml:"prompts"`

	Files OutputFiles `yaml:"files"`
}

// DefaultManifest returns the standard conversion run.
func DefaultManifest() Manifest {
	return Manifest{
		OutputDir:       "browser-extension/models",
		Opset:           13,
		HubBaseURL:      "https://huggingface.co",
		CacheDir:        ".kiln-cache",
		ClipModel:       "flavour/CLIP-ViT-B-16-DataComp.XL-s13B-b90K",
		ClipSegModel:    "CIDAS/clipseg-rd64-refined",
		DetectorWeights: "yolo11m-seg.safetensors",
		Files: OutputFiles{
			Detector:   "detector-seg.onnx",
			ClipText:   "clip_text_encoder.onnx",
			ClipVision: "clip_vision_encoder.onnx",
			ClipSeg:    "clipseg.onnx",
			Labels:     "config.json",
		},
	}
}

// LoadManifest reads a YAML manifest, filling unset fields from the
// defaults.
func LoadManifest(path string) (Manifest, error) {
	m := DefaultManifest()
	data, err := os.ReadFile(path) //nolint:gosec // G304: manifest path is a CLI argument
	if err != nil {
		return m, fmt.Errorf("failed to read manifest: %w", err)
	}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("failed to parse manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return m, err
	}
	return m, nil
}

// Validate rejects manifests the pipeline cannot run with.
func (m *Manifest) Validate() error {
	if m.OutputDir == "" {
		return fmt.Errorf("manifest: output_dir must not be empty")
	}
	if m.Opset <= 0 {
		return fmt.Errorf("manifest: opset must be positive, got %d", m.Opset)
	}
	for name, f := range map[string]string{
		"files.detector":    m.Files.Detector,
		"files.clip_text":   m.Files.ClipText,
		"files.clip_vision": m.Files.ClipVision,
		"files.clipseg":     m.Files.ClipSeg,
		"files.labels":      m.Files.Labels,
	} {
		if f == "" {
			return fmt.Errorf("manifest: %s must not be empty", name)
		}
	}
	return nil
}
