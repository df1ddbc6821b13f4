package conscript

import (
	"context"
	"image"
	"io"
)

// FrameSource yields animation frames in playback order. Next returns io.EOF
// once the source is exhausted.
type FrameSource interface {
	Next(ctx context.Context) (image.Image, error)
}

// FrameCounter is implemented by sources that know their frame count ahead
// of time.
type FrameCounter interface {
	Len() int
}

// SliceSource is a FrameSource over frames already held in memory.
type SliceSource struct {
	frames []image.Image
	pos    int
}

// NewSliceSource returns a source yielding frames in order.
func NewSliceSource(frames ...image.Image) *SliceSource {
	return &SliceSource{frames: frames}
}

// Next returns the next frame.
func (s *SliceSource) Next(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.pos >= len(s.frames) {
		return nil, io.EOF
	}
	img := s.frames[s.pos]
	s.pos++
	return img, nil
}

// Len returns the total number of frames.
func (s *SliceSource) Len() int {
	return len(s.frames)
}
