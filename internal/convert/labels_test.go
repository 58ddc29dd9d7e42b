package convert

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultLabelConfigValidates(t *testing.T) {
	c := DefaultLabelConfig(DefaultManifest().Files)
	require.NoError(t, c.Validate())

	assert.Len(t, c.Models.Detector.Classes, 80)
	assert.Equal(t, [2]int{640, 640}, c.Models.Detector.InputSize)
	assert.Equal(t, [2]int{352, 352}, c.Models.ClipSeg.InputSize)
	assert.Equal(t, 49408, c.Models.ClipText.VocabSize)
}

func TestValidateRejectsUnknownDetectorAlias(t *testing.T) {
	c := DefaultLabelConfig(DefaultManifest().Files)
	c.Labels.DetectorAlias["tractor"] = []string{"tractor"}
	err := c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tractor")
}

func TestValidateRejectsUnknownAliasTarget(t *testing.T) {
	c := DefaultLabelConfig(DefaultManifest().Files)
	c.Labels.DetectorAlias["car"] = append(c.Labels.DetectorAlias["car"], "hovercraft")
	require.Error(t, c.Validate())
}

func TestValidateRejectsUnresolvableChallengePhrase(t *testing.T) {
	c := DefaultLabelConfig(DefaultManifest().Files)
	c.Labels.ChallengeAlias["submarines"] = "submarine"
	err := c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "submarine")
}

// "parking meter" is not an embedding category, but it is an aliased
// detector class, so challenge phrases may still resolve to it.
func TestValidateAcceptsDetectorOnlyChallengeTarget(t *testing.T) {
	c := DefaultLabelConfig(DefaultManifest().Files)
	require.Equal(t, "parking meter", c.Labels.ChallengeAlias["parking meters"])
	assert.NotContains(t, c.Labels.Categories, "parking meter")
	require.NoError(t, c.Validate())
}

func TestValidateRejectsBadThresholds(t *testing.T) {
	c := DefaultLabelConfig(DefaultManifest().Files)
	c.Labels.Thresholds["bridge"] = 1.2
	require.Error(t, c.Validate())

	c = DefaultLabelConfig(DefaultManifest().Files)
	c.Labels.Thresholds["skyscraper"] = 0.5
	require.Error(t, c.Validate())
}

func TestWriteToRoundTrip(t *testing.T) {
	c := DefaultLabelConfig(DefaultManifest().Files)
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, c.WriteTo(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &raw))
	require.Contains(t, raw, "models")
	require.Contains(t, raw, "labels")

	var got LabelConfig
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, c.Labels.Thresholds, got.Labels.Thresholds)
	assert.Equal(t, c.Labels.DetectorAlias, got.Labels.DetectorAlias)
	assert.Equal(t, "models/detector-seg.onnx", got.Models.Detector.Path)
}

func TestWriteToRejectsInvalidConfig(t *testing.T) {
	c := DefaultLabelConfig(DefaultManifest().Files)
	c.Labels.Thresholds["bridge"] = -1
	err := c.WriteTo(filepath.Join(t.TempDir(), "config.json"))
	require.Error(t, err)
}

func TestPromptsSorted(t *testing.T) {
	c := DefaultLabelConfig(DefaultManifest().Files)
	prompts := c.Prompts()
	require.Len(t, prompts, len(c.Labels.Categories))
	assert.IsIncreasing(t, prompts)
}
