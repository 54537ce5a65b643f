package wordcloud

import (
	"bytes"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sampleFreq = FrequencyTable{
	"matcha":  12,
	"oolong":  9,
	"sencha":  7,
	"kettle":  5,
	"steep":   4,
	"leaves":  3,
	"pot":     2,
	"biscuit": 1,
}

func newTestRenderer(t testing.TB, opts Options) *Renderer {
	t.Helper()
	r, err := NewRenderer(opts)
	require.NoError(t, err)
	return r
}

func TestRenderer_Empty(t *testing.T) {
	r := newTestRenderer(t, DefaultOptions())

	_, err := r.Render(FrequencyTable{}, nil, nil)
	require.ErrorIs(t, err, ErrEmptyInput)

	_, err = r.RenderText("the the the", DefaultStopwords(), nil, nil)
	require.ErrorIs(t, err, ErrEmptyInput)
}

func TestRenderer_Unmasked(t *testing.T) {
	r := newTestRenderer(t, DefaultOptions())

	cloud, err := r.Render(sampleFreq, nil, nil)
	require.NoError(t, err)
	require.NotEmpty(t, cloud.Placed)

	canvas := image.Rect(0, 0, DefaultWidth, DefaultHeight)
	assert.Equal(t, canvas, cloud.Image.Bounds())
	assert.Equal(t, "matcha", cloud.Placed[0].Word)

	for i, p := range cloud.Placed {
		assert.Truef(t, p.Box.In(canvas), "%s outside canvas: %v", p.Word, p.Box)
		assert.Truef(t, sampleFreq[p.Word] == p.Count, "count mismatch for %s", p.Word)
		assert.Contains(t, DefaultPalette, p.Color)
		for _, other := range cloud.Placed[i+1:] {
			assert.Falsef(
				t,
				p.Box.Overlaps(other.Box),
				"%s overlaps %s", p.Word, other.Word,
			)
		}
		if i > 0 {
			assert.LessOrEqual(t, p.FontSize, cloud.Placed[i-1].FontSize)
		}
	}
}

func TestRenderer_Masked(t *testing.T) {
	const size, inset = 200, 40
	img := squareMask(size, inset)
	mask := NewMask(img)
	opts := DefaultOptions()
	opts.Width = 50
	opts.Height = 50
	r := newTestRenderer(t, opts)

	cloud, err := r.Render(sampleFreq, mask, NewImageColors(img))
	require.NoError(t, err)
	require.NotEmpty(t, cloud.Placed)
	assert.Equal(t, image.Rect(0, 0, size, size), cloud.Image.Bounds())

	for _, p := range cloud.Placed {
		corners := []image.Point{
			p.Box.Min,
			{X: p.Box.Max.X - 1, Y: p.Box.Min.Y},
			{X: p.Box.Min.X, Y: p.Box.Max.Y - 1},
			{X: p.Box.Max.X - 1, Y: p.Box.Max.Y - 1},
		}
		for _, c := range corners {
			assert.Falsef(t, mask.Blocked(c.X, c.Y), "%s placed off mask at %v", p.Word, c)
		}
		assert.Equal(t, testRed, p.Color)
	}

	// outside the silhouette stays background
	assert.Equal(t, uint32(0xffff), gray(cloud.Image, 0, 0))
	assert.Equal(t, uint32(0xffff), gray(cloud.Image, size-1, size-1))
}

func TestRenderer_Deterministic(t *testing.T) {
	r := newTestRenderer(t, DefaultOptions())

	a, err := r.Render(sampleFreq, nil, nil)
	require.NoError(t, err)
	b, err := r.Render(sampleFreq, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, a.Placed, b.Placed)
}

func TestRenderer_MaxWords(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxWords = 3
	r := newTestRenderer(t, opts)

	cloud, err := r.Render(sampleFreq, nil, nil)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(cloud.Placed), 3)
}

func TestRenderer_NoRoom(t *testing.T) {
	img := squareMask(40, 20)
	r := newTestRenderer(t, DefaultOptions())

	_, err := r.Render(sampleFreq, NewMask(img), nil)
	require.ErrorIs(t, err, ErrNoRoom)
}

func TestRenderer_RenderTextMatchesCount(t *testing.T) {
	r := newTestRenderer(t, DefaultOptions())
	text := "matcha matcha oolong the sencha matcha"
	stop := DefaultStopwords()

	fromText, err := r.RenderText(text, stop, nil, nil)
	require.NoError(t, err)
	fromFreq, err := r.Render(Count(text, stop), nil, nil)
	require.NoError(t, err)

	assert.Equal(t, fromFreq.Placed, fromText.Placed)
}

func TestCloud_PNG(t *testing.T) {
	r := newTestRenderer(t, DefaultOptions())
	cloud, err := r.Render(sampleFreq, nil, nil)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, cloud.EncodePNG(&buf))
	decoded, err := png.Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, cloud.Image.Bounds(), decoded.Bounds())

	path := filepath.Join(t.TempDir(), "cloud.png")
	require.NoError(t, cloud.SavePNG(path))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}

func gray(img image.Image, x, y int) uint32 {
	r, g, b, _ := img.At(x, y).RGBA()
	return (r + g + b) / 3
}
