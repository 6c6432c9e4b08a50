package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/andresmejia3/voucherscan/internal/types"
)

// VideoSource is an open, sequentially readable decoded stream.
type VideoSource interface {
	// FrameRate is the nominal frames per second reported by the container.
	FrameRate() float64
	// Next returns the next decoded frame, or io.EOF once the stream is exhausted.
	Next(ctx context.Context) (types.Frame, error)
	// Close releases the source.
	Close() error
}

// Sampler yields one frame per round(fps) frames read, starting with ordinal 0.
type Sampler struct {
	src      VideoSource
	interval int
	read     int
}

// NewSampler validates the source's frame rate. It never reads from src.
func NewSampler(src VideoSource) (*Sampler, error) {
	interval, err := SamplingInterval(src.FrameRate())
	if err != nil {
		return nil, err
	}
	return &Sampler{src: src, interval: interval}, nil
}

// SamplingInterval converts a frame rate into "every Nth frame".
func SamplingInterval(fps float64) (int, error) {
	if math.IsNaN(fps) || math.IsInf(fps, 0) || fps <= 0 {
		return 0, fmt.Errorf("%w: %v", ErrInvalidFrameRate, fps)
	}
	n := int(math.Round(fps))
	if n < 1 {
		n = 1
	}
	return n, nil
}

// Interval is the distance between two sampled ordinals.
func (s *Sampler) Interval() int { return s.interval }

// Read is the number of frames pulled from the source so far.
func (s *Sampler) Read() int { return s.read }

// Next returns the next sampled frame. It returns io.EOF on normal exhaustion
// and an ErrSourceUnreadable-wrapped error for any other read failure.
func (s *Sampler) Next(ctx context.Context) (types.Frame, error) {
	for {
		if err := ctx.Err(); err != nil {
			return types.Frame{}, err
		}
		frame, err := s.src.Next(ctx)
		if errors.Is(err, io.EOF) {
			return types.Frame{}, io.EOF
		}
		if err != nil {
			if ctx.Err() != nil {
				return types.Frame{}, ctx.Err()
			}
			return types.Frame{}, fmt.Errorf("%w: frame %d: %v", ErrSourceUnreadable, s.read, err)
		}
		idx := s.read
		s.read++
		if idx%s.interval != 0 {
			continue
		}
		frame.Index = idx
		return frame, nil
	}
}
