package detections

import (
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
)

// Letterbox describes how an image of Width x Height was fitted into a
// Size x Size canvas: scaled by Gain to ScaledW x ScaledH and offset by
// PadX, PadY.
type Letterbox struct {
	Width, Height    int
	Size             int
	Gain             float64
	ScaledW, ScaledH int
	PadX, PadY       int
}

func NewLetterbox(width, height, size int) Letterbox {
	gain := math.Min(float64(size)/float64(height), float64(size)/float64(width))

	scaledW := int(math.Max(1, math.Round(float64(width)*gain)))
	scaledH := int(math.Max(1, math.Round(float64(height)*gain)))

	return Letterbox{
		Width:   width,
		Height:  height,
		Size:    size,
		Gain:    gain,
		ScaledW: scaledW,
		ScaledH: scaledH,
		PadX:    int(math.Round(float64(size-scaledW)/2 - 0.1)),
		PadY:    int(math.Round(float64(size-scaledH)/2 - 0.1)),
	}
}

// Apply resizes img and pastes it centred on a gray canvas.
func (lb Letterbox) Apply(img image.Image) *image.NRGBA {
	resized := imaging.Resize(img, lb.ScaledW, lb.ScaledH, imaging.Linear)
	canvas := imaging.New(lb.Size, lb.Size, color.NRGBA{R: PadValue, G: PadValue, B: PadValue, A: 255})
	return imaging.Paste(canvas, resized, image.Pt(lb.PadX, lb.PadY))
}

// Restore maps a box from canvas coordinates back onto the original image,
// clipped to its bounds.
func (lb Letterbox) Restore(box [4]float32) [4]float32 {
	gain := float32(lb.Gain)
	w, h := float32(lb.Width), float32(lb.Height)

	return [4]float32{
		clamp((box[0]-float32(lb.PadX))/gain, 0, w),
		clamp((box[1]-float32(lb.PadY))/gain, 0, h),
		clamp((box[2]-float32(lb.PadX))/gain, 0, w),
		clamp((box[3]-float32(lb.PadY))/gain, 0, h),
	}
}

func clamp(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
