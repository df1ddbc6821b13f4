package conscript

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"
)

// ErrNoFrames is returned when packaging a source that yields no frames.
var ErrNoFrames = errors.New("conscript: Pack: source has no frames")

// DefaultExt is the extension given to generated scripts.
const DefaultExt = "cfg"

// FrameName returns the archive entry name of the 1-based frame index.
func FrameName(base, ext string, index int) string {
	return base + "_frame" + strconv.Itoa(index) + "." + ext
}

// StartName returns the archive entry name of the bootstrap script.
func StartName(base, ext string) string {
	return "start_" + base + "." + ext
}

// Progress reports that Frame frames out of Total have been staged. Total
// is 0 when the source does not know its length.
type Progress struct {
	Frame int
	Total int
}

// PackOptions configures Pack.
type PackOptions struct {
	// Base names the scripts, defaulting to the archive file name without
	// its extension.
	Base string
	Ext  string

	Print     PrintMethod
	FrameRate float64
	Quantizer *Quantizer

	Workers int
	TempDir string

	// OnProgress is called from the calling goroutine after each frame
	// script is staged, in frame order.
	OnProgress func(Progress)
}

func (o *PackOptions) validate(dest string) error {
	if dest == "" {
		return errors.New("conscript: Pack: destination must be specified")
	}
	if o.Base == "" {
		base := filepath.Base(dest)
		o.Base = strings.TrimSuffix(base, filepath.Ext(base))
	}
	if o.Base == "" || strings.ContainsAny(o.Base, " \t\r\n\";/\\") {
		return fmt.Errorf("conscript: Pack: invalid base name %q", o.Base)
	}
	if o.Ext == "" {
		o.Ext = DefaultExt
	}
	if strings.ContainsAny(o.Ext, " \t\r\n\";/\\.") {
		return fmt.Errorf("conscript: Pack: invalid extension %q", o.Ext)
	}
	if o.FrameRate <= 0 {
		return errors.New("conscript: Pack: frame rate must be specified")
	}
	if o.Quantizer == nil {
		q, err := NewQuantizer(DefaultPalette)
		if err != nil {
			return err
		}
		o.Quantizer = q
	}
	if o.Workers <= 0 {
		o.Workers = runtime.GOMAXPROCS(0)
	}
	return nil
}

// PackResult describes a written archive.
type PackResult struct {
	Path    string
	Frames  int
	Start   string
	Entries []string
}

type frameOrError struct {
	index  int
	script *FrameScript
	err    error
}

type frameJob struct {
	index  int
	img    image.Image
	next   string
	output chan<- frameOrError
}

// Pack encodes every frame of src into a chained frame script, adds a
// bootstrap script that starts the first frame and writes all of them into
// a zip archive at dest.
//
// Frame scripts are staged in a temporary directory that is always removed.
// The archive is written beside dest and renamed into place only once
// complete, so a failed or cancelled Pack leaves dest untouched.
func Pack(ctx context.Context, dest string, src FrameSource, opts PackOptions) (*PackResult, error) {
	if err := opts.validate(dest); err != nil {
		return nil, err
	}
	if src == nil {
		return nil, errors.New("conscript: Pack: frame source must not be nil")
	}

	staging, err := os.MkdirTemp(opts.TempDir, "conscript-")
	if err != nil {
		return nil, fmt.Errorf("conscript: Pack: failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(staging)

	total := 0
	if counter, ok := src.(FrameCounter); ok {
		total = counter.Len()
	}

	files, err := stageFrames(ctx, staging, src, total, opts)
	if err != nil {
		return nil, err
	}

	startName := StartName(opts.Base, opts.Ext)
	start := &FrameScript{Lines: []string{ExecDirective(FrameName(opts.Base, opts.Ext, 1))}}
	startPath := filepath.Join(staging, startName)
	err = os.WriteFile(startPath, []byte(start.String()+"\n"), 0644)
	if err != nil {
		return nil, fmt.Errorf("conscript: Pack: failed to stage %s: %w", startName, err)
	}
	files = append(files, startPath)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	err = writeFileAtomic(dest, func(w io.Writer) error {
		return writeArchive(w, files)
	})
	if err != nil {
		return nil, fmt.Errorf("conscript: Pack: failed to write archive: %w", err)
	}

	result := &PackResult{
		Path:   dest,
		Frames: len(files) - 1,
		Start:  startName,
	}
	for _, file := range files {
		result.Entries = append(result.Entries, filepath.Base(file))
	}

	return result, nil
}

func stageFrames(parent context.Context, staging string, src FrameSource,
	total int, opts PackOptions) ([]string, error) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	inbox := make(chan frameJob, opts.Workers*2)
	outputChan := make(chan chan frameOrError, opts.Workers*2)

	g.Go(func() error {
		return framePump(gctx, src, inbox, outputChan, opts)
	})

	for i := 0; i < opts.Workers; i++ {
		g.Go(func() error {
			frameWorker(gctx, inbox, opts)
			return nil
		})
	}

	var files []string
	consumeErr := func() error {
		for frameOutput := range outputChan {
			var frame frameOrError
			select {
			case frame = <-frameOutput:
			case <-gctx.Done():
				return nil
			}

			if frame.err != nil {
				if gctx.Err() != nil {
					// the pump's error is reported by g.Wait
					return nil
				}
				return fmt.Errorf("conscript: Pack: frame %d: %w", frame.index, frame.err)
			}

			name := FrameName(opts.Base, opts.Ext, frame.index)
			path := filepath.Join(staging, name)
			if err := stageScript(path, frame.script); err != nil {
				return fmt.Errorf("conscript: Pack: failed to stage %s: %w", name, err)
			}
			files = append(files, path)

			if opts.OnProgress != nil {
				opts.OnProgress(Progress{Frame: frame.index, Total: total})
			}
		}
		return nil
	}()

	cancel()
	err := g.Wait()
	if consumeErr != nil {
		return nil, consumeErr
	}
	if err != nil && !(errors.Is(err, context.Canceled) && parent.Err() == nil) {
		return nil, err
	}
	if err := parent.Err(); err != nil {
		return nil, err
	}

	if len(files) == 0 {
		return nil, ErrNoFrames
	}

	return files, nil
}

// framePump reads one frame ahead of the frame it dispatches, so that the
// last frame is known to be last and gets no chain directive.
func framePump(ctx context.Context, src FrameSource, inbox chan<- frameJob,
	outputChan chan<- chan frameOrError, opts PackOptions) error {
	defer close(inbox)
	defer close(outputChan)

	current, err := src.Next(ctx)
	if errors.Is(err, io.EOF) {
		return nil
	} else if err != nil {
		return fmt.Errorf("conscript: Pack: frame 1: %w", err)
	}

	for index := 1; ; index++ {
		upcoming, err := src.Next(ctx)
		last := errors.Is(err, io.EOF)
		if err != nil && !last {
			return fmt.Errorf("conscript: Pack: frame %d: %w", index+1, err)
		}

		var next string
		if !last {
			next = FrameName(opts.Base, opts.Ext, index+1)
		}

		frameOutput := make(chan frameOrError, 1)
		select {
		case inbox <- frameJob{
			index:  index,
			img:    current,
			next:   next,
			output: frameOutput,
		}:
		case <-ctx.Done():
			return ctx.Err()
		}

		select {
		case outputChan <- frameOutput:
		case <-ctx.Done():
			return ctx.Err()
		}

		if last {
			return nil
		}
		current = upcoming
	}
}

func frameWorker(ctx context.Context, inbox <-chan frameJob, opts PackOptions) {
	for job := range inbox {
		if err := ctx.Err(); err != nil {
			job.output <- frameOrError{index: job.index, err: err}
			continue
		}

		script, err := BuildScriptContext(ctx, job.img, opts.Quantizer, ScriptOptions{
			Print:     opts.Print,
			FrameRate: opts.FrameRate,
			Next:      job.next,
		})
		job.output <- frameOrError{index: job.index, script: script, err: err}
	}
}

func stageScript(path string, script *FrameScript) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	if _, err := script.WriteTo(f); err != nil {
		f.Close()
		return err
	}

	return f.Close()
}

func writeArchive(w io.Writer, files []string) error {
	zw := zip.NewWriter(w)

	for _, path := range files {
		if err := addArchiveFile(zw, path); err != nil {
			zw.Close()
			return err
		}
	}

	return zw.Close()
}

func addArchiveFile(zw *zip.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	header.Name = filepath.Base(path)
	header.Method = zip.Deflate

	wr, err := zw.CreateHeader(header)
	if err != nil {
		return err
	}

	_, err = io.Copy(wr, f)
	return err
}
