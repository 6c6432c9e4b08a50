package extract

import (
	"errors"
	"fmt"

	"github.com/andresmejia3/voucherscan/internal/ocr"
)

// Fatal errors abort the whole extraction.
var (
	ErrInvalidFrameRate = errors.New("invalid video frame rate")
	ErrSourceUnreadable = errors.New("unable to read video source")
)

// Per-frame errors are isolated: logged, counted, never returned from Extract.
var (
	ErrEncodingFailed     = errors.New("failed to encode frame")
	ErrRecognitionService = ocr.ErrRecognition
)

// FrameError reports a failure confined to one sampled frame.
type FrameError struct {
	Index int
	Stage string // "encode" or "recognize"
	Err   error
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("frame %d: %s: %v", e.Index, e.Stage, e.Err)
}

func (e *FrameError) Unwrap() error { return e.Err }

// IsFatal reports whether err must stop an extraction rather than be isolated to a frame.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var fe *FrameError
	if errors.As(err, &fe) {
		return false
	}
	return !errors.Is(err, ErrEncodingFailed) && !errors.Is(err, ErrRecognitionService)
}
