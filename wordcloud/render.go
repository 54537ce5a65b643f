package wordcloud

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"
	"math/rand"

	"github.com/fogleman/gg"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
)

const (
	DefaultWidth            = 400
	DefaultHeight           = 200
	DefaultMaxWords         = 200
	DefaultMinFontSize      = 4
	DefaultFontStep         = 1
	DefaultPreferHorizontal = 0.9
	DefaultRelativeScaling  = 0.5
	DefaultMargin           = 2
	DefaultSeed             = 1

	// placement grid resolution, in pixels
	cellSize = 4
)

// DefaultPalette is used to color words when no ColorSampler is given.
var DefaultPalette = []color.Color{
	color.NRGBA{R: 0x44, G: 0x01, B: 0x54, A: 0xff},
	color.NRGBA{R: 0x48, G: 0x28, B: 0x78, A: 0xff},
	color.NRGBA{R: 0x3e, G: 0x49, B: 0x89, A: 0xff},
	color.NRGBA{R: 0x31, G: 0x68, B: 0x8e, A: 0xff},
	color.NRGBA{R: 0x26, G: 0x82, B: 0x8e, A: 0xff},
	color.NRGBA{R: 0x1f, G: 0x9e, B: 0x89, A: 0xff},
	color.NRGBA{R: 0x35, G: 0xb7, B: 0x79, A: 0xff},
	color.NRGBA{R: 0x6e, G: 0xce, B: 0x58, A: 0xff},
}

// Options configures a Renderer.
type Options struct {
	// Canvas size when no mask is used. With a mask, the mask's size wins.
	Width  int
	Height int

	Background color.Color

	// MaxWords caps how many of the most frequent words are considered
	MaxWords int

	MinFontSize float64

	// MaxFontSize is the starting size for the most frequent word.
	// 0 uses 40% of the canvas height.
	MaxFontSize float64

	// FontStep is how much to shrink a word that doesn't fit before retrying
	FontStep float64

	// PreferHorizontal is the probability a word is drawn horizontally
	PreferHorizontal float64

	// RelativeScaling controls how much frequency affects size. 0 only
	// uses rank, 1 makes size proportional to frequency.
	RelativeScaling float64

	// Margin is the padding, in pixels, around each word
	Margin int

	Seed    int64
	Palette []color.Color
}

// DefaultOptions returns a white 400x200 canvas with up to 200 words.
func DefaultOptions() Options {
	return Options{
		Width:            DefaultWidth,
		Height:           DefaultHeight,
		Background:       color.White,
		MaxWords:         DefaultMaxWords,
		MinFontSize:      DefaultMinFontSize,
		FontStep:         DefaultFontStep,
		PreferHorizontal: DefaultPreferHorizontal,
		RelativeScaling:  DefaultRelativeScaling,
		Margin:           DefaultMargin,
		Seed:             DefaultSeed,
		Palette:          DefaultPalette,
	}
}

// Renderer lays out words by frequency and rasterizes them. A Renderer is
// safe for concurrent use; each call keeps its own state.
type Renderer struct {
	opts Options
	font *opentype.Font
}

// NewRenderer returns a Renderer using the Go Regular font. Zero-valued
// options fall back to their defaults.
func NewRenderer(opts Options) (*Renderer, error) {
	f, err := opentype.Parse(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("error parsing font: %w", err)
	}
	def := DefaultOptions()
	if opts.Width <= 0 {
		opts.Width = def.Width
	}
	if opts.Height <= 0 {
		opts.Height = def.Height
	}
	if opts.Background == nil {
		opts.Background = def.Background
	}
	if opts.MaxWords <= 0 {
		opts.MaxWords = def.MaxWords
	}
	if opts.MinFontSize <= 0 {
		opts.MinFontSize = def.MinFontSize
	}
	if opts.FontStep <= 0 {
		opts.FontStep = def.FontStep
	}
	if opts.PreferHorizontal < 0 || opts.PreferHorizontal > 1 {
		opts.PreferHorizontal = def.PreferHorizontal
	}
	if opts.RelativeScaling < 0 || opts.RelativeScaling > 1 {
		opts.RelativeScaling = def.RelativeScaling
	}
	if opts.Margin < 0 {
		opts.Margin = def.Margin
	}
	if len(opts.Palette) == 0 {
		opts.Palette = def.Palette
	}
	return &Renderer{opts: opts, font: f}, nil
}

// Options returns the effective options.
func (r *Renderer) Options() Options {
	return r.opts
}

// PlacedWord describes where a word ended up.
type PlacedWord struct {
	Word     string
	Count    int
	FontSize float64
	Box      image.Rectangle
	Vertical bool
	Color    color.Color
}

// Cloud is a rendered word cloud.
type Cloud struct {
	Image  image.Image
	Placed []PlacedWord

	// Skipped counts words that were considered but didn't fit
	Skipped int
}

// SavePNG writes the cloud to path as a PNG.
func (c *Cloud) SavePNG(path string) error {
	return gg.SavePNG(path, c.Image)
}

// EncodePNG writes the cloud to w as a PNG.
func (c *Cloud) EncodePNG(w io.Writer) error {
	return png.Encode(w, c.Image)
}

// RenderText counts text with [Count] and renders the result, so
// delegating tokenizing to the renderer gives the same words as counting
// up front.
func (r *Renderer) RenderText(
	text string,
	stop StopwordSet,
	mask *Mask,
	colors ColorSampler,
) (*Cloud, error) {
	return r.Render(Count(text, stop), mask, colors)
}

// Render draws freq. When mask is set, words are only placed over its
// silhouette and the canvas takes the mask's size. When colors is set,
// each word takes the color of the region it covers, otherwise a palette
// color is used. An empty table returns [ErrEmptyInput].
func (r *Renderer) Render(
	freq FrequencyTable,
	mask *Mask,
	colors ColorSampler,
) (*Cloud, error) {
	words := freq.Top(r.opts.MaxWords)
	if len(words) == 0 {
		return nil, ErrEmptyInput
	}

	width, height := r.opts.Width, r.opts.Height
	if mask != nil {
		width, height = mask.Bounds().Dx(), mask.Bounds().Dy()
	}
	if width < cellSize || height < cellSize {
		return nil, fmt.Errorf("%w: canvas %dx%d too small", ErrNoRoom, width, height)
	}

	dc := gg.NewContext(width, height)
	dc.SetColor(r.opts.Background)
	dc.Clear()

	faces := newFaceCache(r.font)
	defer faces.close()

	grid := newOccupancy(width, height, mask)
	rng := rand.New(rand.NewSource(r.opts.Seed))

	maxSize := r.opts.MaxFontSize
	if maxSize <= 0 {
		maxSize = math.Round(float64(height) * 0.4)
	}

	cloud := &Cloud{}
	maxCount := float64(words[0].Count)
	lastFreq := 1.0
	fontSize := maxSize
	rs := r.opts.RelativeScaling

	for i, wc := range words {
		normFreq := float64(wc.Count) / maxCount
		if i > 0 && rs != 0 {
			fontSize = math.Round((rs*(normFreq/lastFreq) + (1 - rs)) * fontSize)
		}
		vertical := rng.Float64() >= r.opts.PreferHorizontal

		placed := false
		for size := fontSize; size >= r.opts.MinFontSize; size -= r.opts.FontStep {
			face, err := faces.get(size)
			if err != nil {
				return nil, err
			}
			dc.SetFontFace(face)
			tw, th := dc.MeasureString(wc.Word)
			bw := int(math.Ceil(tw)) + 2*r.opts.Margin
			bh := int(math.Ceil(th)) + 2*r.opts.Margin
			if vertical {
				bw, bh = bh, bw
			}
			cw := ceilDiv(bw, cellSize)
			ch := ceilDiv(bh, cellSize)

			col, row, ok := grid.randomFree(rng, cw, ch)
			if !ok {
				continue
			}
			grid.mark(col, row, cw, ch)

			box := image.Rect(col*cellSize, row*cellSize, col*cellSize+bw, row*cellSize+bh)
			var c color.Color
			if colors != nil {
				c = colors.ColorAt(box)
			} else {
				c = r.opts.Palette[rng.Intn(len(r.opts.Palette))]
			}
			drawWord(dc, wc.Word, box, vertical, c)

			cloud.Placed = append(
				cloud.Placed, PlacedWord{
					Word:     wc.Word,
					Count:    wc.Count,
					FontSize: size,
					Box:      box,
					Vertical: vertical,
					Color:    c,
				},
			)
			fontSize = size
			placed = true
			break
		}
		if !placed {
			// nothing smaller will fit anywhere the bigger words didn't
			cloud.Skipped = len(words) - i
			break
		}
		lastFreq = normFreq
	}

	if len(cloud.Placed) == 0 {
		return nil, ErrNoRoom
	}
	cloud.Image = dc.Image()
	return cloud, nil
}

func drawWord(dc *gg.Context, word string, box image.Rectangle, vertical bool, c color.Color) {
	cx := float64(box.Min.X) + float64(box.Dx())/2
	cy := float64(box.Min.Y) + float64(box.Dy())/2
	dc.SetColor(c)
	if !vertical {
		dc.DrawStringAnchored(word, cx, cy, 0.5, 0.5)
		return
	}
	dc.Push()
	dc.RotateAbout(gg.Radians(-90), cx, cy)
	dc.DrawStringAnchored(word, cx, cy, 0.5, 0.5)
	dc.Pop()
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

// faceCache holds one font.Face per (rounded) size for a single render.
type faceCache struct {
	font  *opentype.Font
	faces map[int]font.Face
}

func newFaceCache(f *opentype.Font) *faceCache {
	return &faceCache{font: f, faces: map[int]font.Face{}}
}

func (fc *faceCache) get(size float64) (font.Face, error) {
	key := int(math.Round(size))
	if key < 1 {
		key = 1
	}
	if face, ok := fc.faces[key]; ok {
		return face, nil
	}
	face, err := opentype.NewFace(
		fc.font, &opentype.FaceOptions{
			Size:    float64(key),
			DPI:     72,
			Hinting: font.HintingFull,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("error creating font face: %w", err)
	}
	fc.faces[key] = face
	return face, nil
}

func (fc *faceCache) close() {
	for _, face := range fc.faces {
		_ = face.Close()
	}
}

// occupancy tracks used cells and keeps a summed-area table so
// checking whether a rectangle of cells is free is O(1).
type occupancy struct {
	cols, rows int
	used       []bool
	sum        []int32
}

func newOccupancy(width, height int, mask *Mask) *occupancy {
	o := &occupancy{cols: width / cellSize, rows: height / cellSize}
	o.used = make([]bool, o.cols*o.rows)
	o.sum = make([]int32, (o.cols+1)*(o.rows+1))
	if mask != nil {
		for row := 0; row < o.rows; row++ {
			for col := 0; col < o.cols; col++ {
				o.used[row*o.cols+col] = cellBlocked(mask, col, row)
			}
		}
	}
	o.rebuild()
	return o
}

func cellBlocked(mask *Mask, col, row int) bool {
	for y := row * cellSize; y < (row+1)*cellSize; y++ {
		for x := col * cellSize; x < (col+1)*cellSize; x++ {
			if mask.Blocked(x, y) {
				return true
			}
		}
	}
	return false
}

func (o *occupancy) rebuild() {
	stride := o.cols + 1
	for row := 0; row < o.rows; row++ {
		var rowSum int32
		for col := 0; col < o.cols; col++ {
			if o.used[row*o.cols+col] {
				rowSum++
			}
			o.sum[(row+1)*stride+col+1] = o.sum[row*stride+col+1] + rowSum
		}
	}
}

func (o *occupancy) free(col, row, cw, ch int) bool {
	if col < 0 || row < 0 || col+cw > o.cols || row+ch > o.rows {
		return false
	}
	stride := o.cols + 1
	total := o.sum[(row+ch)*stride+col+cw] -
		o.sum[row*stride+col+cw] -
		o.sum[(row+ch)*stride+col] +
		o.sum[row*stride+col]
	return total == 0
}

// randomFree picks uniformly among every free position for a cw x ch box.
func (o *occupancy) randomFree(rng *rand.Rand, cw, ch int) (int, int, bool) {
	if cw > o.cols || ch > o.rows {
		return 0, 0, false
	}
	var candidates []int
	for row := 0; row+ch <= o.rows; row++ {
		for col := 0; col+cw <= o.cols; col++ {
			if o.free(col, row, cw, ch) {
				candidates = append(candidates, row*o.cols+col)
			}
		}
	}
	if len(candidates) == 0 {
		return 0, 0, false
	}
	pick := candidates[rng.Intn(len(candidates))]
	return pick % o.cols, pick / o.cols, true
}

func (o *occupancy) mark(col, row, cw, ch int) {
	for y := row; y < row+ch; y++ {
		for x := col; x < col+cw; x++ {
			o.used[y*o.cols+x] = true
		}
	}
	o.rebuild()
}
