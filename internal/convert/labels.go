package convert

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

// LabelConfig is the companion configuration consumed by the browser
// extension: model descriptors plus the label taxonomy that maps detector
// classes, embedding categories and challenge phrases onto each other.
type LabelConfig struct {
	Models ModelDescriptors `json:"models"`
	Labels Labels           `json:"labels"`
}

// ModelDescriptors locates each exported graph and records the input
// contract the runtime must honor.
type ModelDescriptors struct {
	Detector   DetectorDescriptor `json:"yolo"`
	ClipVision VisionDescriptor   `json:"clip_vision"`
	ClipText   TextDescriptor     `json:"clip_text"`
	ClipSeg    VisionDescriptor   `json:"clipseg"`
}

// DetectorDescriptor describes the detection graph and its class list.
type DetectorDescriptor struct {
	Path      string   `json:"path"`
	InputSize [2]int   `json:"input_size"`
	Classes   []string `json:"classes"`
}

// VisionDescriptor describes an image-input graph.
type VisionDescriptor struct {
	Path      string `json:"path"`
	InputSize [2]int `json:"input_size"`
}

// TextDescriptor describes a text-input graph.
type TextDescriptor struct {
	Path      string `json:"path"`
	VocabSize int    `json:"vocab_size"`
}

// Labels is the taxonomy block.
type Labels struct {
	// DetectorAlias maps a detector class to the set of detector classes
	// accepted as matches for it (many-to-many).
	DetectorAlias map[string][]string `json:"yolo_alias"`
	// Categories lists every category the embedding model scores.
	Categories []string `json:"clip_labels"`
	// ChallengeAlias maps free-text challenge phrases to canonical
	// categories.
	ChallengeAlias map[string]string `json:"challenge_alias"`
	// Thresholds holds per-category decision thresholds in [0, 1].
	Thresholds map[string]float64 `json:"thresholds"`
}

// cocoClasses is the detector's native class list, index-aligned with the
// class channels of "output0".
var cocoClasses = []string{
	"person", "bicycle", "car", "motorcycle", "airplane", "bus", "train", "truck", "boat",
	"traffic light", "fire hydrant", "stop sign", "parking meter", "bench", "bird", "cat",
	"dog", "horse", "sheep", "cow", "elephant", "bear", "zebra", "giraffe", "backpack",
	"umbrella", "handbag", "tie", "suitcase", "frisbee", "skis", "snowboard", "sports ball",
	"kite", "baseball bat", "baseball glove", "skateboard", "surfboard", "tennis racket",
	"bottle", "wine glass", "cup", "fork", "knife", "spoon", "bowl", "banana", "apple",
	"sandwich", "orange", "broccoli", "carrot", "hot dog", "pizza", "donut", "cake",
	"chair", "couch", "potted plant", "bed", "dining table", "toilet", "tv", "laptop",
	"mouse", "remote", "keyboard", "cell phone", "microwave", "oven", "toaster", "sink",
	"refrigerator", "book", "clock", "vase", "scissors", "teddy bear", "hair drier", "toothbrush",
}

// DefaultLabelConfig returns the label configuration for the exported model
// set. File paths are relative to the extension root; fileNames supplies
// the output names the pipeline actually wrote.
func DefaultLabelConfig(files OutputFiles) LabelConfig {
	return LabelConfig{
		Models: ModelDescriptors{
			Detector: DetectorDescriptor{
				Path:      "models/" + files.Detector,
				InputSize: [2]int{640, 640},
				Classes:   cocoClasses,
			},
			ClipVision: VisionDescriptor{
				Path:      "models/" + files.ClipVision,
				InputSize: [2]int{224, 224},
			},
			ClipText: TextDescriptor{
				Path:      "models/" + files.ClipText,
				VocabSize: 49408,
			},
			ClipSeg: VisionDescriptor{
				Path:      "models/" + files.ClipSeg,
				InputSize: [2]int{352, 352},
			},
		},
		Labels: Labels{
			DetectorAlias: map[string][]string{
				"bicycle":       {"bicycle"},
				"car":           {"car", "truck"},
				"bus":           {"bus", "truck"},
				"motorcycle":    {"motorcycle"},
				"boat":          {"boat"},
				"fire hydrant":  {"fire hydrant", "parking meter"},
				"parking meter": {"fire hydrant", "parking meter"},
				"traffic light": {"traffic light"},
			},
			Categories: []string{
				"bicycle", "boat", "bus", "car", "fire hydrant", "motorcycle", "traffic light",
				"bridge", "chimney", "crosswalk", "mountain", "palm tree", "stair", "tractor", "taxi",
			},
			ChallengeAlias: map[string]string{
				"car": "car", "cars": "car", "vehicles": "car",
				"taxis": "taxi", "taxi": "taxi",
				"bus": "bus", "buses": "bus",
				"motorcycle": "motorcycle", "motorcycles": "motorcycle",
				"bicycle": "bicycle", "bicycles": "bicycle",
				"boats": "boat", "boat": "boat",
				"tractors": "tractor", "tractor": "tractor",
				"stairs": "stair", "stair": "stair",
				"palm trees": "palm tree", "palm tree": "palm tree",
				"fire hydrants": "fire hydrant", "a fire hydrant": "fire hydrant", "fire hydrant": "fire hydrant",
				"parking meters": "parking meter", "parking meter": "parking meter",
				"crosswalks": "crosswalk", "crosswalk": "crosswalk",
				"traffic lights": "traffic light", "traffic light": "traffic light",
				"bridges": "bridge", "bridge": "bridge",
				"mountains or hills": "mountain", "mountain or hill": "mountain", "mountain": "mountain",
				"mountains": "mountain", "hills": "mountain", "hill": "mountain",
				"chimney": "chimney", "chimneys": "chimney",
			},
			Thresholds: map[string]float64{
				"bridge":    0.7285372716747225,
				"chimney":   0.7918647485226393,
				"crosswalk": 0.8879293048381806,
				"mountain":  0.5551278884819476,
				"palm tree": 0.8093279512040317,
				"stair":     0.9112694561691023,
				"tractor":   0.9385110986077537,
				"taxi":      0.7967491503432393,
			},
		},
	}
}

// Validate checks the taxonomy's referential integrity: detector aliases
// must name detector classes, challenge phrases must resolve to a category
// the pipeline can score (an embedding category or an aliased detector
// class), threshold keys must be embedding categories and thresholds must
// lie in [0, 1].
func (c *LabelConfig) Validate() error {
	detectorClasses := make(map[string]bool, len(c.Models.Detector.Classes))
	for _, cls := range c.Models.Detector.Classes {
		detectorClasses[cls] = true
	}
	categories := make(map[string]bool, len(c.Labels.Categories))
	for _, cat := range c.Labels.Categories {
		categories[cat] = true
	}

	for key, synonyms := range c.Labels.DetectorAlias {
		if !detectorClasses[key] {
			return fmt.Errorf("detector alias %q is not a detector class", key)
		}
		for _, syn := range synonyms {
			if !detectorClasses[syn] {
				return fmt.Errorf("detector alias %q lists unknown class %q", key, syn)
			}
		}
	}

	for phrase, canonical := range c.ChallengeTargets() {
		if !categories[canonical] && c.Labels.DetectorAlias[canonical] == nil {
			return fmt.Errorf("challenge phrase %q resolves to unrecognized category %q", phrase, canonical)
		}
	}

	for category, threshold := range c.Labels.Thresholds {
		if !categories[category] {
			return fmt.Errorf("threshold for unrecognized category %q", category)
		}
		if threshold < 0 || threshold > 1 {
			return fmt.Errorf("threshold for %q out of range: %v", category, threshold)
		}
	}
	return nil
}

// ChallengeTargets returns the challenge alias table.
func (c *LabelConfig) ChallengeTargets() map[string]string {
	return c.Labels.ChallengeAlias
}

// Prompts returns the sorted embedding categories, used as placeholder
// prompts when the manifest names none.
func (c *LabelConfig) Prompts() []string {
	out := append([]string(nil), c.Labels.Categories...)
	sort.Strings(out)
	return out
}

// WriteTo validates the configuration and writes it as indented JSON.
func (c *LabelConfig) WriteTo(path string) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid label config: %w", err)
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal label config: %w", err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(path, data, 0o644); err != nil { //nolint:gosec // config files are world-readable artifacts
		return fmt.Errorf("failed to write label config: %w", err)
	}
	return nil
}
