package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	t.Parallel()
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 60, cfg.Image.Width)
	assert.Equal(t, 40, cfg.Image.Height)
	assert.Equal(t, 5, cfg.Image.Wait)
	assert.Equal(t, "say", cfg.Image.Print)
	assert.Equal(t, "cfg", cfg.Video.Ext)
	assert.Equal(t, 6, cfg.Video.FrameWait)
	assert.Equal(t, ":9999", cfg.Server.Listen)
	assert.Equal(t, "8M", cfg.Server.BodyLimit)
	assert.Equal(t, 512, cfg.Server.MaxDimension)
}

func TestParse(t *testing.T) {
	t.Parallel()

	cfg, err := Parse(`
[image]
width = 30
keep_alpha = true
print = "echo"

[video]
frame_wait = 0
fps = 30.0
tick_rate = 60.0
ext = "txt"

[server]
output_dir = "/tmp/out"
`)
	require.NoError(t, err)

	assert.Equal(t, 30, cfg.Image.Width)
	assert.Equal(t, 40, cfg.Image.Height)
	assert.True(t, cfg.Image.KeepAlpha)
	assert.Equal(t, "echo", cfg.Image.Print)
	assert.Equal(t, "txt", cfg.Video.Ext)
	assert.Equal(t, "/tmp/out", cfg.Server.OutputDir)
	assert.Equal(t, ":9999", cfg.Server.Listen)
	assert.Equal(t, 0.5, cfg.Video.FrameRate(25))
}

func TestParseErrors(t *testing.T) {
	t.Parallel()

	testCases := []string{
		"[image]\nprint = \"shout\"",
		"[image]\nwait = -1",
		"[image]\nalpha_threshold = 300",
		"[image]\nalpha_threshold = 0\nkeep_alpha = true",
		"[server]\nbody_limit = \"lots\"",
		"[server]\nmax_dimension = 0",
		"[server]\nmax_source_dimension = -1",
		"[video]\nwidth = 0",
		"[video]\nframe_wait = -2",
		"[video]\nframe_wait = 0\ntick_rate = 0.0",
		"[video]\nunknown = 1",
		"[image\nwidth = 1",
	}
	for _, c := range testCases {
		_, err := Parse(c)
		assert.Error(t, err, c)
	}
}

func TestFrameRate(t *testing.T) {
	t.Parallel()

	v := Default().Video
	assert.Equal(t, 1.0/6, v.FrameRate(30))

	v.FrameWait = 0
	assert.Equal(t, 0.5, v.FrameRate(30))

	v.FPS = 15
	assert.Equal(t, 0.25, v.FrameRate(30))

	v.FPS = 0
	assert.Equal(t, 0.0, v.FrameRate(0))
}

func TestLoad(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "conscript.toml")
	require.NoError(t, os.WriteFile(path, []byte("[video]\nworkers = 3\n"), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Video.Workers)

	_, err = Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestAlphaThreshold(t *testing.T) {
	t.Parallel()

	cfg, err := Parse("[image]\nalpha_threshold = 1\nkeep_alpha = true")
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.Image.AlphaThreshold)

	_, err = Parse("[image]\nalpha_threshold = 0")
	assert.Error(t, err)
}
