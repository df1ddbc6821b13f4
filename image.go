package conscript

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"reflect"

	"github.com/disintegration/gift"
	"github.com/disintegration/imaging"
)

// Errors returned for input that cannot be encoded.
var (
	ErrNilImage    = errors.New("conscript: image must not be nil")
	ErrEmptyImage  = errors.New("conscript: image must have a non-zero width and height")
	ErrBadChannels = errors.New("conscript: raw frame must have 3 or 4 channels")
)

// DefaultAlphaThreshold is the alpha below which a pixel becomes fully
// transparent when PrepareOptions.KeepAlpha is set.
const DefaultAlphaThreshold = 250

func checkImage(img image.Image) error {
	if img == nil {
		return ErrNilImage
	}
	if v := reflect.ValueOf(img); v.Kind() == reflect.Ptr && v.IsNil() {
		return ErrNilImage
	}
	if raw, ok := img.(*RawFrame); ok {
		return raw.Validate()
	}
	if img.Bounds().Dx() <= 0 || img.Bounds().Dy() <= 0 {
		return ErrEmptyImage
	}
	return nil
}

// nrgbaAt returns the straight alpha color at x, y.
func nrgbaAt(img image.Image, x, y int) color.NRGBA {
	switch v := img.(type) {
	case *image.NRGBA:
		return v.NRGBAAt(x, y)
	case *RawFrame:
		return v.NRGBAAt(x, y)
	default:
		return color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
	}
}

// RawFrame is a packed pixel buffer as produced by a decoder, with either 3
// (RGB) or 4 (RGBA) bytes per pixel. It implements image.Image once
// validated.
type RawFrame struct {
	Width    int
	Height   int
	Channels int
	Pix      []byte
}

// Validate checks the frame dimensions against its buffer.
func (f *RawFrame) Validate() error {
	if f == nil {
		return ErrNilImage
	}
	if f.Width <= 0 || f.Height <= 0 {
		return ErrEmptyImage
	}
	if f.Channels != 3 && f.Channels != 4 {
		return fmt.Errorf("%w, got %d", ErrBadChannels, f.Channels)
	}
	if len(f.Pix) != f.Width*f.Height*f.Channels {
		return fmt.Errorf("conscript: raw frame buffer is %d bytes, expected %d",
			len(f.Pix), f.Width*f.Height*f.Channels)
	}
	return nil
}

func (f *RawFrame) ColorModel() color.Model {
	return color.NRGBAModel
}

func (f *RawFrame) Bounds() image.Rectangle {
	return image.Rect(0, 0, f.Width, f.Height)
}

func (f *RawFrame) At(x, y int) color.Color {
	return f.NRGBAAt(x, y)
}

// NRGBAAt returns the pixel at x, y. RGB frames are fully opaque.
func (f *RawFrame) NRGBAAt(x, y int) color.NRGBA {
	if !(image.Point{x, y}.In(f.Bounds())) {
		return color.NRGBA{}
	}

	offset := (y*f.Width + x) * f.Channels
	c := color.NRGBA{
		R: f.Pix[offset],
		G: f.Pix[offset+1],
		B: f.Pix[offset+2],
		A: 0xff,
	}
	if f.Channels == 4 {
		c.A = f.Pix[offset+3]
	}
	return c
}

// PrepareOptions controls how a loaded image is turned into an encodable
// raster.
type PrepareOptions struct {
	// Width and Height resize the image with nearest-neighbour sampling.
	// Zero keeps the source size.
	Width  int
	Height int
	// KeepAlpha binarizes the alpha channel against AlphaThreshold instead
	// of compositing the image over white. A zero AlphaThreshold means
	// DefaultAlphaThreshold; 1 keeps every pixel with a non-zero alpha.
	KeepAlpha      bool
	AlphaThreshold uint8
}

// Size returns the dimensions PrepareImage produces for a source with the
// given bounds. A zero result means the options collapse the image.
func (o PrepareOptions) Size(bounds image.Rectangle) (width, height int) {
	if o.Width <= 0 && o.Height <= 0 {
		return bounds.Dx(), bounds.Dy()
	}

	width, height = o.Width, o.Height
	if width <= 0 && bounds.Dy() > 0 {
		width = bounds.Dx() * height / bounds.Dy()
	}
	if height <= 0 && bounds.Dx() > 0 {
		height = bounds.Dy() * width / bounds.Dx()
	}
	if width < 0 || height < 0 {
		return 0, 0
	}
	return width, height
}

// PrepareImage returns a new raster ready for BuildScript. The source image
// is never modified.
func PrepareImage(img image.Image, opts PrepareOptions) (*image.NRGBA, error) {
	if err := checkImage(img); err != nil {
		return nil, err
	}

	var out *image.NRGBA
	if opts.KeepAlpha {
		threshold := opts.AlphaThreshold
		if threshold == 0 {
			threshold = DefaultAlphaThreshold
		}

		out = imaging.Clone(img)
		for i := 3; i < len(out.Pix); i += 4 {
			if out.Pix[i] < threshold {
				out.Pix[i] = 0
			} else {
				out.Pix[i] = 0xff
			}
		}
	} else {
		b := img.Bounds()
		bg := imaging.New(b.Dx(), b.Dy(), color.White)
		out = imaging.Overlay(bg, img, image.Pt(0, 0), 1.0)
	}

	if opts.Width <= 0 && opts.Height <= 0 {
		return out, nil
	}

	width, height := opts.Size(out.Bounds())
	if width <= 0 || height <= 0 {
		return nil, ErrEmptyImage
	}

	return Resize(out, width, height), nil
}

// Resize scales img to exactly width x height with nearest-neighbour
// sampling so that palette colors are never blended.
func Resize(img image.Image, width, height int) *image.NRGBA {
	g := gift.New(gift.Resize(width, height, gift.NearestNeighborResampling))
	dst := image.NewNRGBA(g.Bounds(img.Bounds()))
	g.Draw(dst, img)
	return dst
}

// LoadImage opens and decodes an image file, applying EXIF orientation.
func LoadImage(path string) (image.Image, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("conscript: LoadImage: %w", err)
	}
	return img, nil
}
