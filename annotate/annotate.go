package annotate

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	Thickness = 2
	// LabelOffset is the distance between the label baseline and the top edge.
	LabelOffset = 10
)

var BoxColor = color.NRGBA{R: 0, G: 255, B: 0, A: 255}

// Box is a labelled rectangle in pixel coordinates.
type Box struct {
	X1, Y1, X2, Y2 int
	Label          string
	Confidence     float64
}

// Caption renders the text drawn above a box.
func Caption(label string, confidence float64) string {
	return fmt.Sprintf("%s: %.2f", label, confidence)
}

// Draw paints every box onto dst in place.
func Draw(dst draw.Image, boxes []Box) {
	face := basicfont.Face7x13
	src := image.NewUniform(BoxColor)

	for _, b := range boxes {
		drawRect(dst, image.Rect(b.X1, b.Y1, b.X2, b.Y2), src)

		d := &font.Drawer{
			Dst:  dst,
			Src:  src,
			Face: face,
			Dot:  labelOrigin(dst.Bounds(), b, face.Metrics().Ascent.Ceil()),
		}
		d.DrawString(Caption(b.Label, b.Confidence))
	}
}

func labelOrigin(bounds image.Rectangle, b Box, ascent int) fixed.Point26_6 {
	x := b.X1
	y := b.Y1 - LabelOffset
	if y < bounds.Min.Y+ascent {
		y = bounds.Min.Y + ascent
	}
	return fixed.P(x, y)
}

func drawRect(dst draw.Image, r image.Rectangle, src image.Image) {
	edges := []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+Thickness),
		image.Rect(r.Min.X, r.Max.Y-Thickness, r.Max.X, r.Max.Y),
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+Thickness, r.Max.Y),
		image.Rect(r.Max.X-Thickness, r.Min.Y, r.Max.X, r.Max.Y),
	}
	for _, e := range edges {
		draw.Draw(dst, e.Intersect(dst.Bounds()), src, image.Point{}, draw.Src)
	}
}
