package segmentation

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"time"

	"github.com/disintegration/imaging"
)

// PixelFormat tags the wire encoding of a raw frame buffer.
type PixelFormat int

const (
	// FormatUncompressed means the buffer holds RGBA pixels of the declared
	// dimensions, row-major, 4 bytes per pixel.
	FormatUncompressed PixelFormat = iota
	// FormatCompressed means the buffer holds a standard codec payload
	// (JPEG or PNG).
	FormatCompressed
)

// RawFrame is one (buffer, metadata) tuple as delivered by the probe
// transport. The buffer backing storage may be reused by the caller after the
// decode call returns, so decoding always copies.
type RawFrame struct {
	Data      []byte
	Format    PixelFormat
	Width     int
	Height    int
	Size      int // declared payload length; 0 means len(Data)
	Timestamp time.Time
}

// Frame is a decoded pixel image plus its acquisition timestamp. Frames are
// treated as immutable once constructed; the pipeline never writes into a
// frame it did not create.
type Frame struct {
	Image     *image.NRGBA
	Timestamp time.Time
}

// DecodeFrame turns a raw wire buffer into a Frame. The returned frame owns
// its pixels; raw.Data is never retained.
func DecodeFrame(raw RawFrame) (*Frame, error) {
	size := raw.Size
	if size <= 0 || size > len(raw.Data) {
		size = len(raw.Data)
	}

	var img *image.NRGBA
	switch raw.Format {
	case FormatUncompressed:
		need := raw.Width * raw.Height * 4
		if raw.Width <= 0 || raw.Height <= 0 {
			return nil, fmt.Errorf("%w: invalid dimensions %dx%d", ErrMalformedFrame, raw.Width, raw.Height)
		}
		if size < need {
			return nil, fmt.Errorf("%w: buffer %d bytes, need %d for %dx%d", ErrMalformedFrame, size, need, raw.Width, raw.Height)
		}
		img = image.NewNRGBA(image.Rect(0, 0, raw.Width, raw.Height))
		copy(img.Pix, raw.Data[:need])
	case FormatCompressed:
		decoded, _, err := image.Decode(bytes.NewReader(raw.Data[:size]))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
		img = imaging.Clone(decoded)
	default:
		return nil, fmt.Errorf("%w: unknown pixel format %d", ErrMalformedFrame, raw.Format)
	}

	return &Frame{Image: img, Timestamp: raw.Timestamp}, nil
}

// Width returns the frame width in pixels.
func (f *Frame) Width() int { return f.Image.Bounds().Dx() }

// Height returns the frame height in pixels.
func (f *Frame) Height() int { return f.Image.Bounds().Dy() }

// Clone returns an independently owned copy of the frame.
func (f *Frame) Clone() *Frame {
	return &Frame{Image: imaging.Clone(f.Image), Timestamp: f.Timestamp}
}
