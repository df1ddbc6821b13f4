// Package video decodes video files into frames through an ffmpeg
// subprocess.
package video

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"io/ioutil"
	"os"
	"os/exec"
	"strconv"

	"golang.org/x/image/bmp"
)

// Options configures the frames produced by Open.
type Options struct {
	Width  int
	Height int
	// FPS resamples the video to a fixed frame rate. Zero keeps the source
	// rate.
	FPS float64
	// Frames is the expected frame count reported through Len, usually
	// taken from Probe. Zero means unknown.
	Frames int
	Debug  bool
}

func (o *Options) validate() error {
	if o.Width <= 0 {
		return errors.New("conscript video: Open: width must be specified")
	}
	if o.Height <= 0 {
		return errors.New("conscript video: Open: height must be specified")
	}
	if o.FPS < 0 {
		return errors.New("conscript video: Open: fps must not be negative")
	}
	return nil
}

// Source yields resized frames of a video file. It implements
// conscript.FrameSource.
type Source struct {
	cmd    *exec.Cmd
	rd     *bufio.Reader
	pipe   io.ReadCloser
	cancel context.CancelFunc
	frames int
	done   bool
	waited bool
}

// FFmpegArgs returns the ffmpeg arguments Open decodes path with.
func FFmpegArgs(path string, opts Options) []string {
	args := []string{"-nostdin", "-i", path, "-an", "-f", "image2pipe", "-vcodec", "bmp"}
	if opts.FPS > 0 {
		args = append(args, "-r", strconv.FormatFloat(opts.FPS, 'f', -1, 64))
	}
	return append(args, "-vf",
		"scale="+strconv.Itoa(opts.Width)+":"+strconv.Itoa(opts.Height)+":flags=neighbor",
		"pipe:1")
}

// Open starts decoding the video at path. The caller must Close the source.
func Open(ctx context.Context, path string, opts Options) (*Source, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	if _, err := os.Stat(path); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(ctx, "ffmpeg", FFmpegArgs(path, opts)...)
	if opts.Debug {
		cmd.Stderr = os.Stderr
	} else {
		cmd.Stderr = ioutil.Discard
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, err
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("conscript video: failed to start ffmpeg: %w", err)
	}

	return &Source{
		cmd:    cmd,
		rd:     bufio.NewReader(stdout),
		pipe:   stdout,
		cancel: cancel,
		frames: opts.Frames,
	}, nil
}

// Next decodes the next frame. It returns io.EOF after the last frame.
func (s *Source) Next(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.done {
		return nil, io.EOF
	}

	img, err := bmp.Decode(s.rd)
	if err == nil {
		return img, nil
	}

	s.done = true
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		s.waited = true
		if werr := s.cmd.Wait(); werr != nil {
			return nil, fmt.Errorf("conscript video: ffmpeg: %w", werr)
		}
		return nil, io.EOF
	}

	return nil, fmt.Errorf("conscript video: frame decode error: %w", err)
}

// Len returns the expected number of frames, or 0 if unknown.
func (s *Source) Len() int {
	return s.frames
}

// Close stops ffmpeg and releases the source.
func (s *Source) Close() error {
	s.cancel()
	s.done = true
	if !s.waited {
		s.waited = true
		go io.Copy(ioutil.Discard, s.pipe)
		s.cmd.Wait()
	}
	return nil
}
