// Package convert runs the export pipeline: it captures the inference
// graph of each model, writes the ONNX artifacts and emits the label
// configuration. Exports are best effort: a failing model is logged and
// recorded in the run report while the remaining models still convert.
package convert

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kiln-ml/kiln/internal/backend/cpu"
	"github.com/kiln-ml/kiln/internal/hub"
	"github.com/kiln-ml/kiln/internal/loader"
	"github.com/kiln-ml/kiln/internal/nn"
	"github.com/kiln-ml/kiln/internal/onnx"
	"github.com/kiln-ml/kiln/internal/tensor"
	"github.com/kiln-ml/kiln/internal/tokenizer"
	"github.com/kiln-ml/kiln/internal/trace"
	"github.com/kiln-ml/kiln/internal/zoo"
)

// producerName and producerVersion are stamped into every exported graph.
const (
	producerName    = "kiln"
	producerVersion = "1.0"
)

// placeholderPrompt is tokenized into the text placeholder fed through the
// text-conditioned graphs during capture.
const placeholderPrompt = "a bicycle"

// Converter exports the model set described by a manifest.
type Converter struct {
	m   Manifest
	hub *hub.Client
	log *zap.Logger

	// Architecture defaults, used when the manifest names no hub model.
	// Tests shrink these to keep capture fast.
	detectorConfig zoo.DetectorConfig
	clipConfig     zoo.CLIPConfig
	clipSegConfig  zoo.CLIPSegConfig

	// textPlaceholders supplies the placeholder token batch for the
	// text-conditioned graphs. Tests stub it to avoid the BPE tables.
	textPlaceholders func(cfg zoo.TextConfig) (ids, mask *tensor.RawTensor)
}

// New creates a Converter.
func New(m Manifest, log *zap.Logger) *Converter {
	c := &Converter{
		m:              m,
		hub:            hub.NewClient(m.CacheDir, log, hub.WithBaseURL(m.HubBaseURL)),
		log:            log,
		detectorConfig: zoo.DefaultDetectorConfig(),
		clipConfig:     zoo.DefaultCLIPConfig(),
		clipSegConfig:  zoo.DefaultCLIPSegConfig(),
	}
	c.textPlaceholders = c.placeholderText
	return c
}

// buildFunc captures one graph on the tracer and returns its graph name.
type buildFunc func(ctx context.Context, tr *trace.Tracer) (string, error)

// Run executes the pipeline. It fails fast only on output directory
// problems; per-model export errors are recorded in the returned report
// and the run continues. The label configuration is written regardless of
// export outcomes.
func (c *Converter) Run(ctx context.Context) (*Report, error) {
	if err := os.MkdirAll(c.m.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}

	report := &Report{RunID: uuid.NewString()}
	c.log.Info("starting conversion run",
		zap.String("run_id", report.RunID),
		zap.String("output_dir", c.m.OutputDir))

	exports := []struct {
		name  string
		file  string
		build buildFunc
	}{
		{"detector", c.m.Files.Detector, c.buildDetector},
		{"clip_text", c.m.Files.ClipText, c.buildClipText},
		{"clip_vision", c.m.Files.ClipVision, c.buildClipVision},
		{"clipseg", c.m.Files.ClipSeg, c.buildClipSeg},
	}
	for _, e := range exports {
		report.Add(c.exportOne(ctx, report.RunID, e.name, e.file, e.build))
	}

	labels := DefaultLabelConfig(c.m.Files)
	labelPath := filepath.Join(c.m.OutputDir, c.m.Files.Labels)
	start := time.Now()
	if err := labels.WriteTo(labelPath); err != nil {
		c.log.Error("failed to write label config", zap.Error(err))
		report.Add(ExportResult{Name: "labels", File: c.m.Files.Labels, Status: StatusFailed, Duration: time.Since(start), Err: err})
	} else {
		c.log.Info("label config written", zap.String("path", labelPath))
		report.Add(ExportResult{Name: "labels", File: c.m.Files.Labels, Status: StatusConverted, Duration: time.Since(start)})
	}

	c.log.Info("conversion run finished", zap.String("run_id", report.RunID), zap.Bool("failed", report.Failed()))
	return report, nil
}

// exportOne captures, writes and verifies one graph, isolating failures.
func (c *Converter) exportOne(ctx context.Context, runID, name, file string, build buildFunc) ExportResult {
	start := time.Now()
	path := filepath.Join(c.m.OutputDir, file)

	err := c.capture(ctx, runID, path, build)
	if err != nil {
		c.log.Error("export failed",
			zap.String("model", name),
			zap.Error(err))
		return ExportResult{Name: name, File: file, Status: StatusFailed, Duration: time.Since(start), Err: err}
	}

	// Read-back verification: a corrupt or missing artifact is logged but
	// never aborts the run.
	if _, err := onnx.ParseFile(path); err != nil {
		c.log.Warn("exported file failed verification",
			zap.String("model", name),
			zap.String("path", path),
			zap.Error(err))
		return ExportResult{Name: name, File: file, Status: StatusUnverified, Duration: time.Since(start), Err: err}
	}

	c.log.Info("model exported",
		zap.String("model", name),
		zap.String("path", path),
		zap.Duration("took", time.Since(start)))
	return ExportResult{Name: name, File: file, Status: StatusConverted, Duration: time.Since(start)}
}

// capture runs one build on a fresh tracer and writes the result. Backends
// panic on shape and dtype violations, so capture converts panics into
// errors to keep the per-model isolation contract.
func (c *Converter) capture(ctx context.Context, runID, path string, build buildFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("capture panicked: %v", r)
		}
	}()

	tr := trace.New(cpu.New())
	graphName, err := build(ctx, tr)
	if err != nil {
		return err
	}

	model, err := tr.Finalize(graphName, c.m.Opset)
	if err != nil {
		return err
	}
	model.ProducerName = producerName
	model.ProducerVersion = producerVersion
	model.MetadataProps = append(model.MetadataProps, onnx.StringStringEntry{Key: "run_id", Value: runID})

	return onnx.WriteFile(path, model)
}

func (c *Converter) buildDetector(_ context.Context, tr *trace.Tracer) (string, error) {
	det := zoo.NewDetector(c.detectorConfig, tr)

	if c.m.DetectorWeights != "" {
		if err := loadCheckpoint(c.m.DetectorWeights, det.Parameters); err != nil {
			return "", err
		}
	}
	return "detector", det.Trace(tr)
}

func (c *Converter) buildClipText(ctx context.Context, tr *trace.Tracer) (string, error) {
	clip, cfg, err := c.clipModel(ctx, tr)
	if err != nil {
		return "", err
	}
	ids, mask := c.textPlaceholders(cfg.Text)
	return "clip_text_encoder", clip.TraceText(tr, ids, mask)
}

func (c *Converter) buildClipVision(ctx context.Context, tr *trace.Tracer) (string, error) {
	clip, _, err := c.clipModel(ctx, tr)
	if err != nil {
		return "", err
	}
	return "clip_vision_encoder", clip.TraceVision(tr)
}

func (c *Converter) buildClipSeg(ctx context.Context, tr *trace.Tracer) (string, error) {
	cfg := c.clipSegConfig
	var weights string
	if c.m.ClipSegModel != "" {
		dir, err := c.hub.Resolve(ctx, c.m.ClipSegModel)
		if err != nil {
			return "", err
		}
		cfg, err = zoo.LoadCLIPSegConfig(filepath.Join(dir, "config.json"))
		if err != nil {
			return "", err
		}
		weights = filepath.Join(dir, "model.safetensors")
	}

	seg := zoo.NewCLIPSeg(cfg, tr)
	if weights != "" {
		if err := loadCheckpoint(weights, seg.Parameters); err != nil {
			return "", err
		}
	}
	ids, mask := c.textPlaceholders(cfg.Text)
	return "clipseg", seg.Trace(tr, ids, mask)
}

// clipModel builds the CLIP model, resolving config and weights from the
// hub when the manifest names a model id.
func (c *Converter) clipModel(ctx context.Context, tr *trace.Tracer) (*zoo.CLIP, zoo.CLIPConfig, error) {
	cfg := c.clipConfig
	var weights string
	if c.m.ClipModel != "" {
		dir, err := c.hub.Resolve(ctx, c.m.ClipModel)
		if err != nil {
			return nil, cfg, err
		}
		cfg, err = zoo.LoadCLIPConfig(filepath.Join(dir, "config.json"))
		if err != nil {
			return nil, cfg, err
		}
		weights = filepath.Join(dir, "model.safetensors")
	}

	clip := zoo.NewCLIP(cfg, tr)
	if weights != "" {
		if err := loadCheckpoint(weights, clip.Parameters); err != nil {
			return nil, cfg, err
		}
	}
	return clip, cfg, nil
}

// placeholderText tokenizes the placeholder prompt batch (the manifest's
// prompts, or the built-in one). When the tokenizer cannot initialize (its
// BPE tables are fetched lazily), capture falls back to the all-zero
// prompt; graph structure does not depend on token values.
func (c *Converter) placeholderText(cfg zoo.TextConfig) (ids, mask *tensor.RawTensor) {
	prompts := c.m.Prompts
	if len(prompts) == 0 {
		prompts = []string{placeholderPrompt}
	}
	tok, err := tokenizer.New(cfg.VocabSize, cfg.ContextLength)
	if err != nil {
		c.log.Warn("tokenizer unavailable, using zero placeholder prompt", zap.Error(err))
		return nil, nil
	}
	ids, mask, err = tok.Encode(prompts)
	if err != nil {
		c.log.Warn("failed to tokenize placeholder prompt", zap.Error(err))
		return nil, nil
	}
	return ids, mask
}

// loadCheckpoint reads a SafeTensors file and fills the given parameter set.
func loadCheckpoint(path string, params func() []*nn.Parameter) error {
	r, err := loader.NewSafeTensorsReader(path)
	if err != nil {
		return err
	}
	defer func() { _ = r.Close() }()

	weights, err := r.LoadAll()
	if err != nil {
		return err
	}
	return loader.Apply(params(), weights)
}
