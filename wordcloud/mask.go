package wordcloud

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"  // register decoder
	_ "image/jpeg" // register decoder
	_ "image/png"  // register decoder
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const maskFileExt = ".png"

// Mask constrains where words may be placed. Pure white and fully
// transparent pixels are background; everything else is the silhouette.
type Mask struct {
	img    image.Image
	bounds image.Rectangle
}

// NewMask wraps img as a mask.
func NewMask(img image.Image) *Mask {
	b := img.Bounds()
	return &Mask{img: img, bounds: image.Rect(0, 0, b.Dx(), b.Dy())}
}

// Bounds returns the mask's size, with the origin at 0,0.
func (m *Mask) Bounds() image.Rectangle {
	return m.bounds
}

// Image returns the underlying image.
func (m *Mask) Image() image.Image {
	return m.img
}

// Blocked reports whether the pixel at x,y (relative to Bounds) is outside
// the silhouette. Points outside the image are blocked.
func (m *Mask) Blocked(x, y int) bool {
	if !(image.Point{X: x, Y: y}).In(m.bounds) {
		return true
	}
	origin := m.img.Bounds().Min
	c := color.NRGBAModel.Convert(m.img.At(origin.X+x, origin.Y+y)).(color.NRGBA)
	if c.A == 0 {
		return true
	}
	return c.R == 0xff && c.G == 0xff && c.B == 0xff
}

// ColorSampler returns the color to draw a word occupying region r.
type ColorSampler interface {
	ColorAt(r image.Rectangle) color.Color
}

// ImageColors samples colors from an image, so rendered words pick up
// the palette of the image underneath them.
type ImageColors struct {
	img image.Image
}

// NewImageColors returns a ColorSampler backed by img.
func NewImageColors(img image.Image) *ImageColors {
	return &ImageColors{img: img}
}

// ColorAt returns the mean color of the image over r (relative to the
// image origin). A 1x1 rectangle samples a single pixel. Regions entirely
// outside the image get black.
func (s *ImageColors) ColorAt(r image.Rectangle) color.Color {
	b := s.img.Bounds()
	r = r.Add(b.Min).Intersect(b)
	if r.Empty() {
		return color.Black
	}
	var sumR, sumG, sumB, n uint64
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			c := color.NRGBAModel.Convert(s.img.At(x, y)).(color.NRGBA)
			sumR += uint64(c.R)
			sumG += uint64(c.G)
			sumB += uint64(c.B)
			n++
		}
	}
	return color.NRGBA{
		R: uint8(sumR / n),
		G: uint8(sumG / n),
		B: uint8(sumB / n),
		A: 0xff,
	}
}

// LoadMask reads and decodes the image at path. Decoding failures wrap
// [ErrDecode].
func LoadMask(path string) (*Mask, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = f.Close()
	}()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrDecode, path, err)
	}
	return NewMask(img), nil
}

// MaskResolver finds per-tenant mask images in Dir.
type MaskResolver struct {
	Dir string
}

// Path returns where the mask for tenantID is expected.
func (r MaskResolver) Path(tenantID string) string {
	return filepath.Join(r.Dir, tenantID+maskFileExt)
}

// Resolve loads the tenant's mask. A missing file is not an error: both
// return values are nil and the renderer falls back to a plain canvas.
// A file that exists but can't be decoded returns an error wrapping
// [ErrDecode].
func (r MaskResolver) Resolve(tenantID string) (*Mask, ColorSampler, error) {
	if err := validTenantID(tenantID); err != nil {
		return nil, nil, err
	}
	path := r.Path(tenantID)
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("error checking mask %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, nil, fmt.Errorf("%w: %s is a directory", ErrDecode, path)
	}
	mask, err := LoadMask(path)
	if err != nil {
		return nil, nil, err
	}
	return mask, NewImageColors(mask.Image()), nil
}

func validTenantID(tenantID string) error {
	if tenantID == "" ||
		tenantID == "." ||
		strings.Contains(tenantID, "..") ||
		strings.ContainsAny(tenantID, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidTenant, tenantID)
	}
	return nil
}
