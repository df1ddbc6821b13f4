package conscript

import (
	"errors"
	"fmt"
	"image/color"

	"github.com/lucasb-eyer/go-colorful"
)

// PaletteVersion identifies the DefaultPalette table. Every generated script
// depends on it, so it must be bumped whenever the table changes.
const PaletteVersion = 1

// Entry is a palette color bound to the identifier the console uses to
// select it.
type Entry struct {
	ID    byte
	Color color.RGBA
}

// Hex returns the entry color as #rrggbb.
func (e Entry) Hex() string {
	return colorful.Color{
		R: float64(e.Color.R) / 255.0,
		G: float64(e.Color.G) / 255.0,
		B: float64(e.Color.B) / 255.0,
	}.Hex()
}

func (e Entry) String() string {
	return fmt.Sprintf("%c,%s", e.ID, e.Hex())
}

// Palette is an ordered set of entries. Order matters: it decides which
// entry wins a distance tie.
type Palette []Entry

// DefaultPalette is the hue wheel plus white, lavender, gray and black that
// the console understands.
var DefaultPalette = mustPalette([]struct {
	id  byte
	hex string
}{
	{'a', "#ff0000"},
	{'b', "#ff5c00"},
	{'c', "#ff9500"},
	{'d', "#ffc800"},
	{'e', "#ffff00"},
	{'f', "#c8ff00"},
	{'g', "#95ff00"},
	{'h', "#5cff00"},
	{'i', "#00ff00"},
	{'j', "#00ff5c"},
	{'k', "#00ff95"},
	{'l', "#00ffc8"},
	{'m', "#00ffff"},
	{'n', "#00c8ff"},
	{'o', "#0095ff"},
	{'p', "#005cff"},
	{'q', "#0000ff"},
	{'r', "#5c00ff"},
	{'s', "#9500ff"},
	{'t', "#c800ff"},
	{'u', "#ff00ff"},
	{'v', "#ff00c8"},
	{'w', "#ff0095"},
	{'x', "#ff005c"},
	{'y', "#ffffff"},
	{'z', "#acacff"},
	{'9', "#959595"},
	{'0', "#000000"},
})

func mustPalette(defs []struct {
	id  byte
	hex string
}) Palette {
	p := make(Palette, 0, len(defs))
	for _, def := range defs {
		c, err := colorful.Hex(def.hex)
		if err != nil {
			panic("conscript: bad palette color " + def.hex + ": " + err.Error())
		}
		r, g, b := c.RGB255()
		p = append(p, Entry{ID: def.id, Color: color.RGBA{R: r, G: g, B: b, A: 0xff}})
	}

	if err := p.Validate(); err != nil {
		panic(err)
	}

	return p
}

var (
	errEmptyPalette = errors.New("conscript: palette must not be empty")
	errReservedID   = errors.New("conscript: palette identifier is reserved")
	errDuplicateID  = errors.New("conscript: palette identifier is duplicated")
)

// Validate checks that the palette is usable by the encoder.
func (p Palette) Validate() error {
	if len(p) == 0 {
		return errEmptyPalette
	}

	seen := make(map[byte]bool, len(p))
	for _, e := range p {
		if e.ID == Blank || e.ID == Marker || e.ID == '"' {
			return fmt.Errorf("%w: %q", errReservedID, e.ID)
		}
		if seen[e.ID] {
			return fmt.Errorf("%w: %q", errDuplicateID, e.ID)
		}
		seen[e.ID] = true
	}

	return nil
}

// Lookup returns the entry with the given identifier.
func (p Palette) Lookup(id byte) (Entry, bool) {
	for _, e := range p {
		if e.ID == id {
			return e, true
		}
	}
	return Entry{}, false
}
