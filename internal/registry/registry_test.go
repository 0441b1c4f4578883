package registry

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const trainerYAML = `
kind: component
name: trainer
inputs:
  - name: lr
    type: float
run:
  kind: job
  container:
    image: python:3.12
`

const gpuPresetYAML = `
kind: operation
name: gpu
isPreset: true
queue: gpu-pool
`

func writeFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		path := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	}
	return root
}

func TestHubKey(t *testing.T) {
	testCases := []struct {
		rel     string
		want    string
		wantErr bool
	}{
		{rel: "trainer.yaml", want: "trainer"},
		{rel: "acme/trainer.yml", want: "acme/trainer"},
		{rel: "acme/trainer/v1.json", want: "acme/trainer:v1"},
		{rel: "a/b/c/d.yaml", wantErr: true},
		{rel: "acme/train:er.yaml", wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.rel, func(t *testing.T) {
			got, err := HubKey(tc.rel)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestLoad(t *testing.T) {
	// --- Arrange ---
	root := writeFiles(t, map[string]string{
		"acme/trainer.yaml":    trainerYAML,
		"acme/trainer/v2.yaml": trainerYAML,
		"presets/gpu.yaml":     gpuPresetYAML,
		"presets/unnamed.yaml": "isPreset: true\ntags: [nightly]\n",
		"README.md":            "ignored",
	})

	// --- Act ---
	reg, err := Load(context.Background(), root)

	// --- Assert ---
	require.NoError(t, err)
	assert.Equal(t, []string{"acme/trainer", "acme/trainer:v2"}, reg.Components())
	assert.Equal(t, []string{"gpu", "unnamed"}, reg.Presets())

	c, ok := reg.Component("acme/trainer:latest")
	require.True(t, ok, "untagged components answer :latest")
	assert.Equal(t, "trainer", c.Name)

	_, ok = reg.Component("acme/trainer:v3")
	assert.False(t, ok)

	p, ok := reg.Preset("gpu")
	require.True(t, ok)
	assert.Equal(t, "gpu-pool", *p.Queue)
}

func TestLoad_HiddenDocumentsAreSkipped(t *testing.T) {
	root := writeFiles(t, map[string]string{
		".cache/trainer.yaml": trainerYAML,
		"trainer.yaml":        trainerYAML,
	})

	reg, err := Load(context.Background(), root)

	require.NoError(t, err)
	assert.Equal(t, []string{"trainer"}, reg.Components())
}

func TestLoad_ReturnsCopies(t *testing.T) {
	root := writeFiles(t, map[string]string{"trainer.yaml": trainerYAML})
	reg, err := Load(context.Background(), root)
	require.NoError(t, err)

	first, _ := reg.Component("trainer")
	first.Name = "changed"
	second, _ := reg.Component("trainer")

	assert.Equal(t, "trainer", second.Name)
}

func TestLoad_AggregatesProblems(t *testing.T) {
	// --- Arrange ---
	root := writeFiles(t, map[string]string{
		"a/gpu.yaml":   gpuPresetYAML,
		"b/gpu.yaml":   gpuPresetYAML,
		"job.yaml":     "kind: operation\nname: job\nhubRef: trainer\n",
		"bad.yaml":     "kind: component\nname: bad\nrun: {kind: nonsense}\n",
		"x/y/z/w.yaml": trainerYAML,
	})

	// --- Act ---
	_, err := Load(context.Background(), root)

	// --- Assert ---
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Len(t, verr.Problems, 4)
	assert.Contains(t, err.Error(), `preset "gpu" is already defined in a/gpu.yaml`)
	assert.Contains(t, err.Error(), "job.yaml: operation is not a preset")
	assert.Contains(t, err.Error(), "bad.yaml:")
	assert.Contains(t, err.Error(), "nested too deep")
}

func TestValidate_ChainedPresets(t *testing.T) {
	root := writeFiles(t, map[string]string{"chained.yaml": "isPreset: true\npresets: [gpu]\n"})

	_, err := Load(context.Background(), root)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Len(t, verr.Problems, 1)
	assert.Contains(t, verr.Problems[0], "presets cannot list other presets")
}
