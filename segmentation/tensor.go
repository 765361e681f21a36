package segmentation

import (
	"image"
	"math"

	"github.com/disintegration/imaging"
)

// Tensor is a flat float32 sequence with an explicit NCHW shape.
type Tensor struct {
	Data  []float32
	Shape []int64
}

// OutputTensor is a model output copied out of the runtime. Exactly one of
// Floats or Ints is populated, matching the two output encodings the model
// contract allows.
type OutputTensor struct {
	Shape  []int64
	Floats []float32
	Ints   []int64
}

// BuildInputTensor resamples img to targetWidth x targetHeight with bilinear
// interpolation, converts to luminance, and applies per-frame z-score
// normalization. The per-frame statistics are deliberate: they adapt to
// exposure and gain differences between frames.
//
// The result always has shape [1, 1, targetHeight, targetWidth] regardless of
// the source resolution.
func BuildInputTensor(img image.Image, targetWidth, targetHeight int) *Tensor {
	resized := imaging.Resize(img, targetWidth, targetHeight, imaging.Linear)

	n := targetWidth * targetHeight
	buf := make([]float32, n)

	// First pass: luminance in the 0-255 range, accumulating the mean.
	var sum float64
	for i := 0; i < n; i++ {
		p := resized.Pix[i*4:]
		lum := 0.299*float32(p[0]) + 0.587*float32(p[1]) + 0.114*float32(p[2])
		buf[i] = lum
		sum += float64(lum)
	}
	mean := float32(sum / float64(n))

	// Second pass: population variance.
	var sumSq float64
	for i := 0; i < n; i++ {
		diff := float64(buf[i] - mean)
		sumSq += diff * diff
	}
	std := float32(math.Sqrt(sumSq / float64(n)))
	if std < stdEpsilon {
		// Uniform frame: without the floor this would divide by zero and
		// poison the tensor with non-finite values.
		std = stdEpsilon
	}

	// Third pass: z-score normalization in place.
	for i := 0; i < n; i++ {
		buf[i] = (buf[i] - mean) / std
	}

	return &Tensor{
		Data:  buf,
		Shape: []int64{1, 1, int64(targetHeight), int64(targetWidth)},
	}
}
