// Package render turns doodle vector payloads into raster images and
// resolves the best available visual source for a requested drawing.
package render

import (
	"fmt"
	"image"

	"doodle-sync-backend/internal/models"

	"github.com/gogpu/gg"
	xdraw "golang.org/x/image/draw"
)

// Padding, in doodle units, added around the stroke bounds before fitting.
const boundsPadding = 24

// Square renders a doodle centered on a white square of the given side.
// An empty doodle yields a plain white square.
func Square(d *models.Doodle, side int) (image.Image, error) {
	dc := gg.NewContext(side, side)
	defer dc.Close()
	dc.ClearWithColor(gg.White)

	minX, minY, maxX, maxY, ok := d.Bounds()
	if !ok {
		return dc.Image(), nil
	}

	minX -= boundsPadding
	minY -= boundsPadding
	maxX += boundsPadding
	maxY += boundsPadding

	w := maxX - minX
	h := maxY - minY
	scale := float64(side) / w
	if s := float64(side) / h; s < scale {
		scale = s
	}

	// Center the scaled bounds on the square.
	offsetX := (float64(side) - w*scale) / 2
	offsetY := (float64(side) - h*scale) / 2
	dc.Translate(offsetX, offsetY)
	dc.Scale(scale, scale)
	dc.Translate(-minX, -minY)

	dc.SetLineCap(gg.LineCapRound)
	dc.SetLineJoin(gg.LineJoinRound)

	for _, stroke := range d.Strokes {
		if len(stroke.Points) == 0 {
			continue
		}
		if stroke.Color != "" {
			dc.SetHexColor(stroke.Color)
		} else {
			dc.SetRGB(0, 0, 0)
		}
		width := stroke.Width
		if width <= 0 {
			width = 3
		}
		dc.SetLineWidth(width)

		if len(stroke.Points) == 1 {
			// A zero-length segment rasterizes to nothing; a tap becomes
			// a filled disc of the stroke width.
			dc.DrawCircle(stroke.Points[0][0], stroke.Points[0][1], width/2)
			if err := dc.Fill(); err != nil {
				return nil, fmt.Errorf("failed to fill dot: %w", err)
			}
			continue
		}

		dc.MoveTo(stroke.Points[0][0], stroke.Points[0][1])
		for _, p := range stroke.Points[1:] {
			dc.LineTo(p[0], p[1])
		}
		if err := dc.Stroke(); err != nil {
			return nil, fmt.Errorf("failed to stroke doodle: %w", err)
		}
	}

	return dc.Image(), nil
}

// SquareFromBytes decodes vector bytes and renders them.
func SquareFromBytes(vectorBytes []byte, side int) (image.Image, error) {
	d, err := models.DecodeDoodle(vectorBytes)
	if err != nil {
		return nil, err
	}
	return Square(d, side)
}

// Downscale bounds img to maxSide on its longer edge, preserving aspect
// ratio. Images already within the bound are returned unchanged.
func Downscale(img image.Image, maxSide int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	longest := w
	if h > longest {
		longest = h
	}
	if longest <= maxSide {
		return img
	}
	scale := float64(maxSide) / float64(longest)
	dst := image.NewRGBA(image.Rect(0, 0, int(float64(w)*scale), int(float64(h)*scale)))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), img, b, xdraw.Over, nil)
	return dst
}
