package render

import (
	"image"
	"image/color"
	"testing"

	"doodle-sync-backend/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isWhite(c color.Color) bool {
	r, g, b, _ := c.RGBA()
	return r == 0xffff && g == 0xffff && b == 0xffff
}

func countInk(img image.Image) int {
	b := img.Bounds()
	n := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if !isWhite(img.At(x, y)) {
				n++
			}
		}
	}
	return n
}

func TestSquare(t *testing.T) {
	d := &models.Doodle{
		Width:  400,
		Height: 400,
		Strokes: []models.Stroke{
			{Color: "#000000", Width: 6, Points: [][2]float64{{50, 50}, {350, 350}}},
		},
	}
	img, err := Square(d, 128)
	require.NoError(t, err)
	assert.Equal(t, 128, img.Bounds().Dx())
	assert.Equal(t, 128, img.Bounds().Dy())
	assert.Greater(t, countInk(img), 0, "stroke must leave ink on the canvas")
}

func TestSquareEmptyDoodle(t *testing.T) {
	img, err := Square(&models.Doodle{Width: 400, Height: 400}, 64)
	require.NoError(t, err)
	assert.Equal(t, 64, img.Bounds().Dx())
	assert.Equal(t, 0, countInk(img), "empty doodle renders a plain white square")
}

func TestSquareSinglePointDot(t *testing.T) {
	d := &models.Doodle{
		Width:  400,
		Height: 400,
		Strokes: []models.Stroke{
			{Color: "#0000FF", Width: 10, Points: [][2]float64{{200, 200}}},
		},
	}
	img, err := Square(d, 128)
	require.NoError(t, err)
	assert.Greater(t, countInk(img), 0, "a single tap must leave a visible dot")
}

func TestSquareFromBytes(t *testing.T) {
	d := &models.Doodle{
		Width:  400,
		Height: 400,
		Strokes: []models.Stroke{
			{Color: "#FF0000", Width: 4, Points: [][2]float64{{0, 0}, {100, 100}}},
		},
	}
	data, err := d.Encode()
	require.NoError(t, err)

	img, err := SquareFromBytes(data, 64)
	require.NoError(t, err)
	assert.Equal(t, 64, img.Bounds().Dx())

	_, err = SquareFromBytes([]byte("not json"), 64)
	assert.Error(t, err)

	_, err = SquareFromBytes([]byte(`{"w":400,"h":400,"strokes":[]}`), 64)
	assert.Error(t, err)
}

func TestDownscale(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 200, 100))

	small := Downscale(src, 50)
	assert.Equal(t, 50, small.Bounds().Dx())
	assert.Equal(t, 25, small.Bounds().Dy())

	// Already within bounds: returned unchanged.
	same := Downscale(src, 400)
	assert.Equal(t, src.Bounds(), same.Bounds())
}
