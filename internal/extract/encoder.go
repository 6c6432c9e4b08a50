package extract

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	"github.com/andresmejia3/voucherscan/internal/types"
	"golang.org/x/image/draw"
)

const defaultJPEGQuality = 90

// Encoder compresses a sampled frame for transmission to a recognizer.
type Encoder interface {
	Encode(frame types.Frame) ([]byte, error)
}

// JPEGEncoder encodes frames as baseline JPEG.
type JPEGEncoder struct {
	// Quality is the JPEG quality (1-100). Zero selects 90; text edges blur fast below that.
	Quality int
	// MaxWidth downscales wider frames, preserving aspect ratio. Zero keeps the source size.
	MaxWidth int
}

func (e JPEGEncoder) Encode(frame types.Frame) ([]byte, error) {
	img, err := frameImage(frame)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncodingFailed, err)
	}
	if e.MaxWidth > 0 && frame.Width > e.MaxWidth {
		h := frame.Height * e.MaxWidth / frame.Width
		if h < 1 {
			h = 1
		}
		dst := image.NewRGBA(image.Rect(0, 0, e.MaxWidth, h))
		draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
		img = dst
	}

	quality := e.Quality
	if quality <= 0 {
		quality = defaultJPEGQuality
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncodingFailed, err)
	}
	return buf.Bytes(), nil
}

// frameImage wraps the raw buffer in an image.Image without copying where the
// layout allows it.
func frameImage(f types.Frame) (image.Image, error) {
	if f.Width <= 0 || f.Height <= 0 {
		return nil, fmt.Errorf("invalid frame dimensions %dx%d", f.Width, f.Height)
	}
	if want := f.Width * f.Height * f.Channels; f.Channels > 0 && len(f.Pix) != want {
		return nil, fmt.Errorf("buffer holds %d bytes, %dx%dx%d needs %d", len(f.Pix), f.Width, f.Height, f.Channels, want)
	}
	rect := image.Rect(0, 0, f.Width, f.Height)

	switch f.Channels {
	case 1:
		return &image.Gray{Pix: f.Pix, Stride: f.Width, Rect: rect}, nil
	case 4:
		return &image.RGBA{Pix: f.Pix, Stride: f.Width * 4, Rect: rect}, nil
	case 3:
		rgba := image.NewRGBA(rect)
		for src, dst := 0, 0; src < len(f.Pix); src, dst = src+3, dst+4 {
			rgba.Pix[dst] = f.Pix[src]
			rgba.Pix[dst+1] = f.Pix[src+1]
			rgba.Pix[dst+2] = f.Pix[src+2]
			rgba.Pix[dst+3] = 0xFF
		}
		return rgba, nil
	default:
		return nil, fmt.Errorf("unsupported channel count %d", f.Channels)
	}
}
