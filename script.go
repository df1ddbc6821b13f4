package conscript

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"
)

// PrintMethod is the console command used to draw a row.
type PrintMethod string

// Supported print methods.
const (
	Say  PrintMethod = "say"
	Echo PrintMethod = "echo"
)

// ParsePrintMethod parses a print method name.
func ParsePrintMethod(s string) (PrintMethod, error) {
	switch PrintMethod(strings.ToLower(strings.TrimSpace(s))) {
	case Say:
		return Say, nil
	case Echo:
		return Echo, nil
	}
	return "", fmt.Errorf("conscript: unknown print method %q", s)
}

// ErrModeConflict is returned when both a per-row wait and a frame rate are
// given.
var ErrModeConflict = errors.New("conscript: row wait and frame rate are mutually exclusive")

// ScriptOptions configures BuildScript. RowWait selects the static mode
// where a wait follows every row. FrameRate selects the animation mode where
// a single wait follows all rows and Next may chain to the following frame.
type ScriptOptions struct {
	Print PrintMethod

	RowWait int

	// FrameRate is expressed in frames per wait tick.
	FrameRate float64
	Next      string

	// Workers encodes rows in parallel when greater than 1.
	Workers int
}

func (o *ScriptOptions) validate() error {
	if o.Print == "" {
		o.Print = Say
	}
	if o.Print != Say && o.Print != Echo {
		return fmt.Errorf("conscript: BuildScript: unknown print method %q", o.Print)
	}
	if o.RowWait < 0 {
		return errors.New("conscript: BuildScript: row wait must not be negative")
	}
	if o.FrameRate < 0 || math.IsNaN(o.FrameRate) || math.IsInf(o.FrameRate, 0) {
		return errors.New("conscript: BuildScript: frame rate must be a positive number")
	}
	if o.RowWait > 0 && o.FrameRate > 0 {
		return ErrModeConflict
	}
	if o.Next != "" {
		if o.FrameRate == 0 {
			return errors.New("conscript: BuildScript: chaining requires a frame rate")
		}
		if strings.ContainsAny(o.Next, " \t\r\n\";") {
			return fmt.Errorf("conscript: BuildScript: invalid script name %q", o.Next)
		}
	}
	return nil
}

// FrameWait returns the wait, in ticks, that one frame is held for at the
// given frame rate.
func FrameWait(rate float64) int {
	if rate <= 0 {
		return 0
	}
	return int(math.Round(1 / rate))
}

// FrameRateFromFPS converts a video frame rate into frames per wait tick for
// a console running tickRate wait ticks per second.
func FrameRateFromFPS(fps, tickRate float64) float64 {
	if fps <= 0 || tickRate <= 0 {
		return 0
	}
	return fps / tickRate
}

// FrameScript is the list of console directives that draws one image.
type FrameScript struct {
	Lines []string
}

// BuildScript quantizes img and returns the script that draws it row by row.
func BuildScript(img image.Image, q *Quantizer, opts ScriptOptions) (*FrameScript, error) {
	return BuildScriptContext(context.Background(), img, q, opts)
}

// BuildScriptContext is BuildScript with cancellation checked between rows.
func BuildScriptContext(ctx context.Context, img image.Image, q *Quantizer,
	opts ScriptOptions) (*FrameScript, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if q == nil {
		return nil, errors.New("conscript: BuildScript: quantizer must not be nil")
	}
	if err := checkImage(img); err != nil {
		return nil, fmt.Errorf("conscript: BuildScript: %w", err)
	}

	b := img.Bounds()
	rows := make([]string, b.Dy())

	encodeRow := func(ctx context.Context, y int) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := make([]byte, 0, len(opts.Print)+b.Dx()+3)
		line = append(line, opts.Print...)
		line = append(line, ' ')
		line = AppendLine(line, q.QuantizeRow(img, b.Min.Y+y))
		rows[y] = string(line)
		return nil
	}

	if opts.Workers > 1 && len(rows) > 1 {
		g, gctx := errgroup.WithContext(ctx)
		for w := 0; w < opts.Workers; w++ {
			w := w
			g.Go(func() error {
				for y := w; y < len(rows); y += opts.Workers {
					if err := encodeRow(gctx, y); err != nil {
						return err
					}
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	} else {
		for y := range rows {
			if err := encodeRow(ctx, y); err != nil {
				return nil, err
			}
		}
	}

	script := &FrameScript{
		Lines: make([]string, 0, len(rows)*2+2),
	}

	for _, row := range rows {
		script.Lines = append(script.Lines, row)
		if opts.RowWait > 0 {
			script.Lines = append(script.Lines, waitDirective(opts.RowWait))
		}
	}

	if opts.FrameRate > 0 {
		script.Lines = append(script.Lines, waitDirective(FrameWait(opts.FrameRate)))
		if opts.Next != "" {
			script.Lines = append(script.Lines, ExecDirective(opts.Next))
		}
	}

	return script, nil
}

func waitDirective(n int) string {
	return "wait " + strconv.Itoa(n)
}

// ExecDirective returns the directive that runs the named script.
func ExecDirective(name string) string {
	return "exec " + name
}

// Next returns the script the frame chains to, if any.
func (f *FrameScript) Next() (string, bool) {
	if len(f.Lines) == 0 {
		return "", false
	}
	last := f.Lines[len(f.Lines)-1]
	if !strings.HasPrefix(last, "exec ") {
		return "", false
	}
	return strings.TrimPrefix(last, "exec "), true
}

// WriteTo writes the script, one directive per line.
func (f *FrameScript) WriteTo(w io.Writer) (int64, error) {
	wr := bufio.NewWriter(w)

	var total int64
	for i, line := range f.Lines {
		if i > 0 {
			if err := wr.WriteByte('\n'); err != nil {
				return total, err
			}
			total++
		}
		n, err := wr.WriteString(line)
		total += int64(n)
		if err != nil {
			return total, err
		}
	}

	return total, wr.Flush()
}

func (f *FrameScript) String() string {
	return strings.Join(f.Lines, "\n")
}

// WriteScriptFile writes the script to path. The file is written next to
// path first and renamed into place, so path never holds a partial script.
func WriteScriptFile(path string, script *FrameScript) error {
	return writeFileAtomic(path, func(w io.Writer) error {
		_, err := script.WriteTo(w)
		return err
	})
}

func writeFileAtomic(path string, write func(w io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}

	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if err := write(tmp); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return err
	}

	committed = true
	return nil
}
