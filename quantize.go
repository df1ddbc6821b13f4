package conscript

import (
	"image"
	"image/color"
)

// Blank marks a fully transparent pixel in a quantized row. It is never a
// palette identifier.
const Blank byte = ' '

// Quantizer maps colors onto a fixed palette. It is read-only after
// construction and safe for concurrent use.
type Quantizer struct {
	palette Palette
	rgb     [][3]int32
}

// NewQuantizer returns a quantizer for the given palette.
func NewQuantizer(p Palette) (*Quantizer, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	q := &Quantizer{
		palette: append(Palette(nil), p...),
		rgb:     make([][3]int32, len(p)),
	}
	for i, e := range p {
		q.rgb[i] = [3]int32{int32(e.Color.R), int32(e.Color.G), int32(e.Color.B)}
	}

	return q, nil
}

// Palette returns a copy of the quantizer's palette.
func (q *Quantizer) Palette() Palette {
	return append(Palette(nil), q.palette...)
}

// Nearest returns the palette entry closest to c by Euclidean distance in
// RGB space. Alpha is ignored. Ties go to the earlier entry.
func (q *Quantizer) Nearest(c color.Color) Entry {
	n := color.NRGBAModel.Convert(c).(color.NRGBA)
	return q.palette[q.nearest(n.R, n.G, n.B)]
}

func (q *Quantizer) nearest(r, g, b uint8) int {
	best := 0
	bestDist := int32(-1)
	for i, p := range q.rgb {
		dr := p[0] - int32(r)
		dg := p[1] - int32(g)
		db := p[2] - int32(b)
		dist := dr*dr + dg*dg + db*db
		if bestDist < 0 || dist < bestDist {
			best = i
			bestDist = dist
			if dist == 0 {
				break
			}
		}
	}
	return best
}

// QuantizedImage holds one row of identifiers per image row. A row element
// is either a palette identifier or Blank.
type QuantizedImage struct {
	Width  int
	Height int
	Rows   [][]byte

	palette Palette
}

// Quantize maps every pixel of img to a palette identifier. A pixel is Blank
// if and only if its alpha is exactly 0; any other alpha is treated as
// opaque.
func (q *Quantizer) Quantize(img image.Image) (*QuantizedImage, error) {
	if err := checkImage(img); err != nil {
		return nil, err
	}

	b := img.Bounds()
	result := &QuantizedImage{
		Width:   b.Dx(),
		Height:  b.Dy(),
		Rows:    make([][]byte, b.Dy()),
		palette: q.palette,
	}

	for y := b.Min.Y; y < b.Max.Y; y++ {
		result.Rows[y-b.Min.Y] = q.QuantizeRow(img, y)
	}

	return result, nil
}

// QuantizeRow quantizes row y of img.
func (q *Quantizer) QuantizeRow(img image.Image, y int) []byte {
	b := img.Bounds()
	row := make([]byte, b.Dx())
	for x := b.Min.X; x < b.Max.X; x++ {
		c := nrgbaAt(img, x, y)
		if c.A == 0 {
			row[x-b.Min.X] = Blank
			continue
		}
		row[x-b.Min.X] = q.palette[q.nearest(c.R, c.G, c.B)].ID
	}
	return row
}

// Image renders the quantized rows back into a raster, with Blank pixels
// left fully transparent. Useful as a preview of what the console draws.
func (qi *QuantizedImage) Image() *image.NRGBA {
	out := image.NewNRGBA(image.Rect(0, 0, qi.Width, qi.Height))
	for y, row := range qi.Rows {
		for x, id := range row {
			if id == Blank {
				continue
			}
			e, ok := qi.palette.Lookup(id)
			if !ok {
				continue
			}
			out.SetNRGBA(x, y, color.NRGBA{R: e.Color.R, G: e.Color.G, B: e.Color.B, A: 0xff})
		}
	}
	return out
}
