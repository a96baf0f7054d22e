package annotate

import (
	"bytes"
	"image"
	"image/color"
	"testing"
)

func TestCaption(t *testing.T) {
	if got := Caption("plov", 0.876); got != "plov: 0.88" {
		t.Errorf("Caption = %q", got)
	}
}

func TestDrawOutlinesBox(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 100, 100))
	Draw(img, []Box{{X1: 20, Y1: 40, X2: 60, Y2: 80, Label: "samsa", Confidence: 0.5}})

	edges := []image.Point{{20, 40}, {21, 41}, {59, 79}, {40, 40}, {20, 60}, {59, 60}, {40, 79}}
	for _, p := range edges {
		if got := img.NRGBAAt(p.X, p.Y); got != BoxColor {
			t.Errorf("edge pixel %v = %v, want green", p, got)
		}
	}

	if got := img.NRGBAAt(40, 60); got != (color.NRGBA{}) {
		t.Errorf("interior pixel changed: %v", got)
	}
	if got := img.NRGBAAt(90, 90); got != (color.NRGBA{}) {
		t.Errorf("outside pixel changed: %v", got)
	}

	var labelled bool
	for y := 20; y < 31 && !labelled; y++ {
		for x := 20; x < 60; x++ {
			if img.NRGBAAt(x, y) == BoxColor {
				labelled = true
				break
			}
		}
	}
	if !labelled {
		t.Error("no label pixels above the box")
	}
}

func TestDrawClipsToBounds(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 30, 30))
	Draw(img, []Box{{X1: 0, Y1: 0, X2: 30, Y2: 30, Label: "kurt", Confidence: 0.9}})

	if got := img.NRGBAAt(0, 29); got != BoxColor {
		t.Errorf("corner pixel = %v", got)
	}
}

func TestDrawNoBoxesLeavesImage(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 10, 10))
	for i := range img.Pix {
		img.Pix[i] = byte(i)
	}
	before := append([]byte(nil), img.Pix...)

	Draw(img, nil)

	if !bytes.Equal(before, img.Pix) {
		t.Error("image modified without boxes")
	}
}
