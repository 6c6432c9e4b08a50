package extract

import (
	"context"
	"errors"
	"io"
	"sync/atomic"

	"github.com/andresmejia3/voucherscan/internal/types"
)

// fakeSource is an in-memory VideoSource producing total frames of w×h RGB.
type fakeSource struct {
	fps    float64
	total  int
	render func(i int) types.Frame
	failAt int // read ordinal that fails with a decode error; -1 disables

	reads  int
	closes atomic.Int32
}

func newFakeSource(fps float64, total int) *fakeSource {
	return &fakeSource{fps: fps, total: total, failAt: -1}
}

func (f *fakeSource) FrameRate() float64 { return f.fps }

func (f *fakeSource) Next(ctx context.Context) (types.Frame, error) {
	if f.reads == f.failAt {
		return types.Frame{}, errors.New("corrupt packet")
	}
	if f.reads >= f.total {
		return types.Frame{}, io.EOF
	}
	i := f.reads
	f.reads++
	if f.render != nil {
		return f.render(i), nil
	}
	return solidFrame(4, 4, byte(i)), nil
}

func (f *fakeSource) Close() error {
	f.closes.Add(1)
	return nil
}

func solidFrame(w, h int, v byte) types.Frame {
	pix := make([]byte, w*h*3)
	for i := range pix {
		pix[i] = v
	}
	return types.Frame{Width: w, Height: h, Channels: 3, Pix: pix}
}
