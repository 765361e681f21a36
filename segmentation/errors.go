package segmentation

import "errors"

// Error taxonomy for the per-frame pipeline. Stages wrap these sentinels with
// fmt.Errorf("%w: ...") so callers can match with errors.Is.
var (
	// ErrMalformedFrame marks an input buffer that cannot be decoded into an
	// image: truncated raw pixels or an undecodable compressed payload.
	ErrMalformedFrame = errors.New("malformed frame")

	// ErrModelLoad marks a missing, corrupt, or unsupported model asset.
	ErrModelLoad = errors.New("model load failed")

	// ErrInference marks a runtime fault during model execution.
	ErrInference = errors.New("inference failed")

	// ErrDecode marks an output tensor that cannot be interpreted as labels
	// under either supported encoding (float32 scores or int64 labels).
	ErrDecode = errors.New("output decode failed")

	// ErrUnexpectedShape marks an output tensor whose rank is not 3 or 4.
	ErrUnexpectedShape = errors.New("unexpected output shape")
)
