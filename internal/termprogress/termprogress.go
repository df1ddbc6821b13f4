// Package termprogress prints packaging progress to a terminal.
package termprogress

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	colorable "github.com/mattn/go-colorable"
	isatty "github.com/mattn/go-isatty"

	"github.com/tmpim/conscript"
)

const barWidth = 30

// Printer renders progress either as a single redrawn bar (terminals) or as
// one line per frame. It is also an io.Writer for log output.
type Printer struct {
	mu     sync.Mutex
	w      io.Writer
	tty    bool
	label  string
	active bool
}

// NewStderr returns a printer writing to stderr, drawing a colored bar when
// stderr is a terminal.
func NewStderr(label string) *Printer {
	fd := os.Stderr.Fd()
	if isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd) {
		return &Printer{w: colorable.NewColorableStderr(), tty: true, label: label}
	}
	return New(os.Stderr, label)
}

// New returns a printer writing plain lines to w.
func New(w io.Writer, label string) *Printer {
	return &Printer{w: w, label: label}
}

// Update prints one progress step. It matches the PackOptions.OnProgress
// signature.
func (p *Printer) Update(pr conscript.Progress) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.tty {
		if pr.Total > 0 {
			fmt.Fprintf(p.w, "%s %d/%d\n", p.label, pr.Frame, pr.Total)
		} else {
			fmt.Fprintf(p.w, "%s %d\n", p.label, pr.Frame)
		}
		return
	}

	p.active = true
	if pr.Total <= 0 {
		fmt.Fprintf(p.w, "\r\033[36m%s\033[0m %d", p.label, pr.Frame)
		return
	}

	filled := pr.Frame * barWidth / pr.Total
	if filled > barWidth {
		filled = barWidth
	}
	fmt.Fprintf(p.w, "\r\033[36m%s\033[0m [\033[32m%s\033[0m%s] %d/%d",
		p.label, strings.Repeat("#", filled), strings.Repeat(" ", barWidth-filled),
		pr.Frame, pr.Total)
}

// Done ends the progress line.
func (p *Printer) Done() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.active {
		fmt.Fprintln(p.w)
		p.active = false
	}
}

// Write writes b below the progress bar, ending the bar line first so that
// log output can share the terminal with it.
func (p *Printer) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.active {
		if _, err := fmt.Fprintln(p.w); err != nil {
			return 0, err
		}
		p.active = false
	}
	return p.w.Write(b)
}
