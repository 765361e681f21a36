package segmentation

import "image/color"

const (
	// DefaultInputWidth and DefaultInputHeight are the model input resolution
	// used when the configuration does not override it.
	DefaultInputWidth  = 256
	DefaultInputHeight = 256

	// stdEpsilon is the floor applied to the per-frame standard deviation so a
	// uniform frame normalizes to zeros instead of NaN/Inf.
	stdEpsilon = 1e-6
)

// MaskColor is the single highlight color applied to every non-background
// label. Per-class identity is intentionally collapsed.
var MaskColor = color.NRGBA{R: 255, G: 255, B: 0, A: 128}
