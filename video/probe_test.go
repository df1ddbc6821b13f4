package video

import (
	"context"
	"errors"
	"io"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRate(t *testing.T) {
	t.Parallel()

	type tc struct {
		rate string
		want float64
	}
	testCases := []tc{
		{"30/1", 30},
		{"25", 25},
		{"0/0", 0},
		{"", 0},
		{"abc/1", 0},
		{"60/2", 30},
	}
	for _, c := range testCases {
		assert.Equal(t, c.want, parseRate(c.rate), c.rate)
	}
	assert.InDelta(t, 29.97, parseRate("30000/1001"), 0.001)
}

func TestParseProbe(t *testing.T) {
	t.Parallel()

	meta, err := parseProbe([]byte(`{
		"streams": [{
			"width": 640,
			"height": 360,
			"r_frame_rate": "30/1",
			"avg_frame_rate": "24/1",
			"nb_frames": "240"
		}],
		"format": {"duration": "10.000000"}
	}`), "clip")
	require.NoError(t, err)

	assert.Equal(t, "clip", meta.Title)
	assert.Equal(t, 640, meta.Width)
	assert.Equal(t, 360, meta.Height)
	assert.Equal(t, 24.0, meta.FPS)
	assert.Equal(t, 240, meta.Frames)
	assert.Equal(t, 10*time.Second, meta.Duration)
}

func TestParseProbeEstimatesFrames(t *testing.T) {
	t.Parallel()

	meta, err := parseProbe([]byte(`{
		"streams": [{"width": 4, "height": 3, "r_frame_rate": "10/1", "avg_frame_rate": "0/0"}],
		"format": {"duration": "2.5"}
	}`), "clip")
	require.NoError(t, err)
	assert.Equal(t, 10.0, meta.FPS)
	assert.Equal(t, 25, meta.Frames)
}

func TestParseProbeErrors(t *testing.T) {
	t.Parallel()

	_, err := parseProbe([]byte(`{"streams": [], "format": {}}`), "audio")
	assert.Error(t, err)

	_, err = parseProbe([]byte(`not json`), "broken")
	assert.Error(t, err)
}

func TestFramesAt(t *testing.T) {
	t.Parallel()

	meta := &Metadata{FPS: 24, Frames: 240, Duration: 10 * time.Second}
	assert.Equal(t, 240, meta.FramesAt(0))
	assert.Equal(t, 240, meta.FramesAt(24))
	assert.Equal(t, 300, meta.FramesAt(30))

	meta.Duration = 0
	assert.Equal(t, 240, meta.FramesAt(30))
}

func TestFileTitle(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "movie", FileTitle("/videos/movie.mp4"))
	assert.Equal(t, "clip.final", FileTitle("clip.final.webm"))
}

func TestFFmpegArgs(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{
		"-nostdin", "-i", "in.mp4", "-an", "-f", "image2pipe", "-vcodec", "bmp",
		"-vf", "scale=60:40:flags=neighbor", "pipe:1",
	}, FFmpegArgs("in.mp4", Options{Width: 60, Height: 40}))

	assert.Equal(t, []string{
		"-nostdin", "-i", "in.mp4", "-an", "-f", "image2pipe", "-vcodec", "bmp",
		"-r", "12.5", "-vf", "scale=8:6:flags=neighbor", "pipe:1",
	}, FFmpegArgs("in.mp4", Options{Width: 8, Height: 6, FPS: 12.5}))
}

func TestOpenValidates(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), "in.mp4", Options{Height: 1})
	assert.Error(t, err)
	_, err = Open(context.Background(), "in.mp4", Options{Width: 1})
	assert.Error(t, err)
	_, err = Open(context.Background(), "in.mp4", Options{Width: 1, Height: 1, FPS: -1})
	assert.Error(t, err)
	_, err = Open(context.Background(), filepath.Join(t.TempDir(), "missing.mp4"),
		Options{Width: 1, Height: 1})
	assert.Error(t, err)
}

func TestDecode(t *testing.T) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not installed")
	}
	if _, err := exec.LookPath("ffprobe"); err != nil {
		t.Skip("ffprobe not installed")
	}

	path := filepath.Join(t.TempDir(), "testsrc.mkv")
	out, err := exec.Command("ffmpeg", "-nostdin", "-v", "error",
		"-f", "lavfi", "-i", "testsrc=size=32x24:rate=10", "-t", "1",
		"-c:v", "ffv1", path).CombinedOutput()
	require.NoError(t, err, string(out))

	ctx := context.Background()
	meta, err := Probe(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, "testsrc", meta.Title)
	assert.Equal(t, 32, meta.Width)
	assert.Equal(t, 24, meta.Height)
	assert.Equal(t, 10.0, meta.FPS)

	src, err := Open(ctx, path, Options{Width: 8, Height: 6, Frames: meta.Frames})
	require.NoError(t, err)
	defer src.Close()
	assert.Equal(t, meta.Frames, src.Len())

	frames := 0
	for {
		img, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		assert.Equal(t, 8, img.Bounds().Dx())
		assert.Equal(t, 6, img.Bounds().Dy())
		frames++
	}
	assert.Greater(t, frames, 0)

	_, err = src.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)
}
