package segmentation

import (
	"image"

	"github.com/disintegration/imaging"
)

// Overlay resamples the mask to the original frame's resolution with bilinear
// interpolation and alpha-composites it on top of a copy of the original. The
// mask pixels already carry the global highlight opacity in their alpha
// channel; opacity is an additional multiplier (1.0 leaves it unchanged).
//
// The original frame is never mutated; the result is a fresh frame.
func Overlay(original *Frame, mask *image.NRGBA, opacity float64) *Frame {
	scaled := imaging.Resize(mask, original.Width(), original.Height(), imaging.Linear)
	composited := imaging.Overlay(original.Image, scaled, image.Pt(0, 0), opacity)
	return &Frame{Image: composited, Timestamp: original.Timestamp}
}
