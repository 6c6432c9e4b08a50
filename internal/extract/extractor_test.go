package extract

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/jpeg"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/andresmejia3/voucherscan/internal/ocr"
	"github.com/andresmejia3/voucherscan/internal/types"
	"github.com/fogleman/gg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// byPixel reads the frame's fill value back from the JPEG and answers with a
// fixed text per value, so each frame can be scripted by its ordinal.
func byPixel(t *testing.T, replies map[byte]string, fail map[byte]error) ocr.Recognizer {
	return ocr.Func(func(ctx context.Context, data []byte) (string, error) {
		img, err := jpeg.Decode(bytes.NewReader(data))
		if err != nil {
			t.Errorf("recognizer got invalid JPEG: %v", err)
			return "", err
		}
		r, _, _, _ := img.At(0, 0).RGBA()
		v := nearest(byte(r>>8), replies, fail)
		if err, ok := fail[v]; ok {
			return "", err
		}
		return replies[v], nil
	})
}

// nearest absorbs JPEG rounding on solid fills.
func nearest(v byte, replies map[byte]string, fail map[byte]error) byte {
	best, bestD := v, 256
	consider := func(k byte) {
		d := int(k) - int(v)
		if d < 0 {
			d = -d
		}
		if d < bestD {
			best, bestD = k, d
		}
	}
	for k := range replies {
		consider(k)
	}
	for k := range fail {
		consider(k)
	}
	return best
}

// distinctFills renders sampled frame i (ordinal i*interval) with fill value 40*i.
func distinctFills(interval int) func(i int) types.Frame {
	return func(i int) types.Frame {
		return solidFrame(8, 8, byte(40*(i/interval)))
	}
}

func TestExtractDeduplicates(t *testing.T) {
	src := newFakeSource(2, 4) // samples ordinals 0 and 2
	src.render = distinctFills(2)
	rec := byPixel(t, map[byte]string{0: "ABCD-1234-EFGH", 40: "again ABCD-1234-EFGH"}, nil)

	res, err := New(JPEGEncoder{}, rec, nil, WithWorkers(2)).Extract(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Codes.Len())
	assert.True(t, res.Codes.Has("ABCD-1234-EFGH"))
	assert.Equal(t, 0.0, res.FirstSeen["ABCD-1234-EFGH"])
	assert.Equal(t, Stats{FramesRead: 4, FramesSampled: 2, FramesWithCodes: 2}, res.Stats)
	assert.EqualValues(t, 1, src.closes.Load())
}

func TestExtractIsolatesRecognitionFailure(t *testing.T) {
	const sampled = 5
	src := newFakeSource(1, sampled)
	src.render = distinctFills(1)
	replies := map[byte]string{
		0:   "AAAA-0000-0000",
		40:  "BBBB-1111-1111",
		120: "CCCC-3333-3333",
		160: "DDDD-4444-4444",
	}
	fail := map[byte]error{80: &ocr.ServiceError{Backend: "stub", Message: "quota exceeded"}}

	res, err := New(JPEGEncoder{}, byPixel(t, replies, fail), nil,
		WithWorkers(3), WithLogger(zaptest.NewLogger(t))).Extract(context.Background(), src)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"AAAA-0000-0000", "BBBB-1111-1111", "CCCC-3333-3333", "DDDD-4444-4444"}, res.Codes.Sorted())
	assert.Equal(t, 1, res.Stats.RecognitionFailures)
	assert.Equal(t, 0, res.Stats.EncodeFailures)
	assert.False(t, res.Stats.AllFailed())
	assert.EqualValues(t, 1, src.closes.Load())
}

type failingEncoder struct{ failIndex map[int]bool }

func (f failingEncoder) Encode(frame types.Frame) ([]byte, error) {
	if f.failIndex[frame.Index] {
		return nil, errors.New("unsupported buffer shape")
	}
	return JPEGEncoder{}.Encode(frame)
}

func TestExtractIsolatesEncodingFailure(t *testing.T) {
	src := newFakeSource(1, 3)
	src.render = distinctFills(1)
	rec := byPixel(t, map[byte]string{0: "AAAA-0000-0000", 40: "BBBB-1111-1111", 80: "CCCC-2222-2222"}, nil)

	res, err := New(failingEncoder{failIndex: map[int]bool{1: true}}, rec, nil).Extract(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, []string{"AAAA-0000-0000", "CCCC-2222-2222"}, res.Codes.Sorted())
	assert.Equal(t, 1, res.Stats.EncodeFailures)
}

func TestExtractAllFramesFail(t *testing.T) {
	src := newFakeSource(1, 4)
	rec := ocr.Func(func(ctx context.Context, image []byte) (string, error) {
		return "", errors.New("connection reset by peer")
	})

	res, err := New(JPEGEncoder{}, rec, nil).Extract(context.Background(), src)
	require.NoError(t, err, "per-frame failures never fail the call")
	assert.Equal(t, 0, res.Codes.Len())
	assert.True(t, res.Stats.AllFailed())
	assert.Equal(t, 4, res.Stats.RecognitionFailures)
}

func TestExtractRecognizerPanicIsIsolated(t *testing.T) {
	src := newFakeSource(1, 2)
	src.render = distinctFills(1)
	rec := ocr.Func(func(ctx context.Context, data []byte) (string, error) {
		img, _ := jpeg.Decode(bytes.NewReader(data))
		if r, _, _, _ := img.At(0, 0).RGBA(); r>>8 > 20 {
			panic("nil response")
		}
		return "WXYZ-1234-5678", nil
	})

	res, err := New(JPEGEncoder{}, rec, nil, WithRecognizeTimeout(0)).Extract(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, []string{"WXYZ-1234-5678"}, res.Codes.Sorted())
	assert.Equal(t, 1, res.Stats.RecognitionFailures)
}

func TestExtractRecognizeTimeout(t *testing.T) {
	src := newFakeSource(1, 2)
	rec := ocr.Func(func(ctx context.Context, image []byte) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})

	start := time.Now()
	res, err := New(JPEGEncoder{}, rec, nil, WithRecognizeTimeout(20*time.Millisecond)).Extract(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Stats.RecognitionFailures)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestExtractInvalidFrameRate(t *testing.T) {
	called := false
	rec := ocr.Func(func(ctx context.Context, image []byte) (string, error) {
		called = true
		return "", nil
	})

	var states []State
	src := newFakeSource(0, 10)
	res, err := New(JPEGEncoder{}, rec, nil, WithStateHook(func(s State) { states = append(states, s) })).
		Extract(context.Background(), src)
	require.ErrorIs(t, err, ErrInvalidFrameRate)
	assert.True(t, IsFatal(err))
	assert.Nil(t, res)
	assert.Zero(t, src.reads)
	assert.False(t, called)
	assert.EqualValues(t, 1, src.closes.Load())
	assert.Equal(t, []State{StateSampling, StateFailed}, states)
}

func TestExtractSourceUnreadable(t *testing.T) {
	src := newFakeSource(1, 10)
	src.failAt = 4
	rec := ocr.Func(func(ctx context.Context, image []byte) (string, error) { return "", nil })

	_, err := New(JPEGEncoder{}, rec, nil).Extract(context.Background(), src)
	require.ErrorIs(t, err, ErrSourceUnreadable)
	assert.True(t, IsFatal(err))
	assert.EqualValues(t, 1, src.closes.Load())
}

func TestExtractCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32
	rec := ocr.Func(func(rctx context.Context, image []byte) (string, error) {
		if calls.Add(1) == 2 {
			cancel()
		}
		<-rctx.Done()
		return "", rctx.Err()
	})

	src := newFakeSource(1, 1000)
	_, err := New(JPEGEncoder{}, rec, nil, WithWorkers(2)).Extract(ctx, src)
	require.ErrorIs(t, err, context.Canceled)
	assert.Less(t, src.reads, 1000, "dispatch must stop after cancellation")
	assert.EqualValues(t, 1, src.closes.Load())
}

func TestExtractStatesAndProgress(t *testing.T) {
	var mu sync.Mutex
	var states []State
	lastRead := 0

	src := newFakeSource(5, 12)
	rec := ocr.Func(func(ctx context.Context, image []byte) (string, error) { return "", nil })
	res, err := New(JPEGEncoder{}, rec, nil,
		WithProgress(func(read int) { lastRead = read }),
		WithStateHook(func(s State) {
			mu.Lock()
			states = append(states, s)
			mu.Unlock()
		}),
	).Extract(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Codes.Len())
	assert.Equal(t, 3, res.Stats.FramesSampled)
	assert.Equal(t, 12, lastRead)
	assert.Equal(t, []State{StateSampling, StateProcessing, StateMerging, StateDone}, states)
}

// renderText draws text in black on a white frame, the way a promo overlay looks.
func renderText(w, h int, text string) types.Frame {
	dc := gg.NewContext(w, h)
	dc.SetRGB(1, 1, 1)
	dc.Clear()
	if text != "" {
		dc.SetRGB(0, 0, 0)
		dc.DrawString(text, 8, float64(h)/2)
	}
	rgba := dc.Image().(*image.RGBA)
	return types.Frame{Width: w, Height: h, Channels: 4, Pix: rgba.Pix}
}

// hasInk reports whether a decoded frame contains dark pixels.
func hasInk(img image.Image) bool {
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if r, g, bl, _ := img.At(x, y).RGBA(); (r+g+bl)/3>>8 < 100 {
				return true
			}
		}
	}
	return false
}

func TestExtractEndToEndSyntheticVideo(t *testing.T) {
	const code = "ABCD-1234-EFGH"
	const fps = 30

	// Five seconds of video with the overlay visible at seconds 0 and 5.
	src := newFakeSource(fps, 5*fps+1)
	src.render = func(i int) types.Frame {
		if i == 0 || i == 5*fps {
			return renderText(160, 40, code)
		}
		return renderText(160, 40, "")
	}

	var recognized atomic.Int32
	rec := ocr.Func(func(ctx context.Context, data []byte) (string, error) {
		img, err := jpeg.Decode(bytes.NewReader(data))
		if err != nil {
			return "", err
		}
		if hasInk(img) {
			recognized.Add(1)
			return code, nil
		}
		return "", nil
	})

	res, err := New(JPEGEncoder{}, rec, MustMatcher(DefaultPattern), WithWorkers(4)).Extract(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, []string{code}, res.Codes.Sorted())
	assert.EqualValues(t, 2, recognized.Load())
	assert.Equal(t, 6, res.Stats.FramesSampled)
	assert.Equal(t, 2, res.Stats.FramesWithCodes)
	assert.Equal(t, 0.0, res.FirstSeen[code])
	assert.EqualValues(t, 1, src.closes.Load())
}
