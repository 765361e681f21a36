package segmentation

import (
	"fmt"
	"image"
)

// LabelMap holds one integer class label per output spatial position,
// row-major.
type LabelMap struct {
	Labels []int32
	Width  int
	Height int
}

// AllBackground reports whether every position carries the background label.
func (m *LabelMap) AllBackground() bool {
	for _, l := range m.Labels {
		if l != 0 {
			return false
		}
	}
	return true
}

// DecodeLabels interprets a model output tensor as per-pixel class labels.
//
// Two encodings are supported: float32 values (either already one label per
// pixel, or rank-4 class scores reduced here by per-pixel argmax) and int64
// labels. Output rank must be 3 ([1,H,W]) or 4 ([1,C,H,W]).
func DecodeLabels(out *OutputTensor) (*LabelMap, error) {
	var h, w, c int
	switch len(out.Shape) {
	case 4:
		c = int(out.Shape[1])
		h = int(out.Shape[2])
		w = int(out.Shape[3])
	case 3:
		c = 1
		h = int(out.Shape[1])
		w = int(out.Shape[2])
	default:
		return nil, fmt.Errorf("%w: rank %d (%v)", ErrUnexpectedShape, len(out.Shape), out.Shape)
	}
	if h <= 0 || w <= 0 || c <= 0 {
		return nil, fmt.Errorf("%w: %v", ErrUnexpectedShape, out.Shape)
	}

	n := h * w
	labels := make([]int32, n)

	switch {
	case out.Floats != nil:
		if len(out.Floats) != c*n {
			return nil, fmt.Errorf("%w: %d float values for shape %v", ErrDecode, len(out.Floats), out.Shape)
		}
		if c == 1 {
			for i := 0; i < n; i++ {
				labels[i] = int32(out.Floats[i])
			}
		} else {
			// Class scores: argmax over the channel dimension.
			for i := 0; i < n; i++ {
				best := int32(0)
				bestScore := out.Floats[i]
				for ch := 1; ch < c; ch++ {
					if s := out.Floats[ch*n+i]; s > bestScore {
						bestScore = s
						best = int32(ch)
					}
				}
				labels[i] = best
			}
		}
	case out.Ints != nil:
		if len(out.Ints) != n {
			return nil, fmt.Errorf("%w: %d int values for shape %v", ErrDecode, len(out.Ints), out.Shape)
		}
		for i := 0; i < n; i++ {
			labels[i] = int32(out.Ints[i])
		}
	default:
		return nil, fmt.Errorf("%w: output carries neither float32 nor int64 data", ErrDecode)
	}

	return &LabelMap{Labels: labels, Width: w, Height: h}, nil
}

// RenderMask renders a label map as an overlay image at the map's native
// resolution: background (label 0) fully transparent, every other label the
// fixed semi-transparent highlight color.
func RenderMask(m *LabelMap) *image.NRGBA {
	mask := image.NewNRGBA(image.Rect(0, 0, m.Width, m.Height))
	for i, label := range m.Labels {
		if label == 0 {
			continue // NewNRGBA zeroes pixels, already fully transparent
		}
		p := mask.Pix[i*4:]
		p[0] = MaskColor.R
		p[1] = MaskColor.G
		p[2] = MaskColor.B
		p[3] = MaskColor.A
	}
	return mask
}
