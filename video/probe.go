package video

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Metadata describes the video stream of a file.
type Metadata struct {
	Title    string
	Width    int
	Height   int
	FPS      float64
	Frames   int
	Duration time.Duration
}

// FramesAt returns the number of frames the video yields when resampled to
// fps. Zero fps keeps the source frame count.
func (m *Metadata) FramesAt(fps float64) int {
	if fps <= 0 || fps == m.FPS || m.Duration <= 0 {
		return m.Frames
	}
	return int(math.Round(m.Duration.Seconds() * fps))
}

// FileTitle returns the file name of path without its extension.
func FileTitle(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Probe reads the metadata of the first video stream in the file with
// ffprobe.
func Probe(ctx context.Context, path string) (*Metadata, error) {
	_, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	out, err := exec.CommandContext(ctx, "ffprobe", "-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height,r_frame_rate,avg_frame_rate,nb_frames:format=duration",
		"-of", "json", path).Output()
	if err != nil {
		return nil, fmt.Errorf("conscript video: ffprobe: %w", err)
	}

	return parseProbe(out, FileTitle(path))
}

type probeOutput struct {
	Streams []struct {
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		RFrameRate   string `json:"r_frame_rate"`
		AvgFrameRate string `json:"avg_frame_rate"`
		NbFrames     string `json:"nb_frames"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

func parseProbe(data []byte, title string) (*Metadata, error) {
	var out probeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("conscript video: failed to parse ffprobe output: %w", err)
	}

	if len(out.Streams) == 0 {
		return nil, fmt.Errorf("conscript video: %q has no video stream", title)
	}

	stream := out.Streams[0]
	meta := &Metadata{
		Title:  title,
		Width:  stream.Width,
		Height: stream.Height,
		FPS:    parseRate(stream.AvgFrameRate),
	}
	if meta.FPS == 0 {
		meta.FPS = parseRate(stream.RFrameRate)
	}

	if seconds, err := strconv.ParseFloat(out.Format.Duration, 64); err == nil {
		meta.Duration = time.Duration(seconds * float64(time.Second))
	}

	if n, err := strconv.Atoi(stream.NbFrames); err == nil {
		meta.Frames = n
	} else if meta.FPS > 0 && meta.Duration > 0 {
		meta.Frames = int(math.Round(meta.Duration.Seconds() * meta.FPS))
	}

	return meta, nil
}

// parseRate parses an ffprobe rational such as "30000/1001".
func parseRate(rate string) float64 {
	num, den := rate, "1"
	if i := strings.IndexByte(rate, '/'); i >= 0 {
		num, den = rate[:i], rate[i+1:]
	}

	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}

	return n / d
}
