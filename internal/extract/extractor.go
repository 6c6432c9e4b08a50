// Package extract turns a decoded video stream into the set of voucher codes
// visible on screen: it samples one frame per second of video, fans the frames
// out to concurrent encode/recognize/match workers and merges what they find.
package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"sync"
	"time"

	"github.com/andresmejia3/voucherscan/internal/metrics"
	"github.com/andresmejia3/voucherscan/internal/ocr"
	"github.com/andresmejia3/voucherscan/internal/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const defaultRecognizeTimeout = 30 * time.Second

// Extractor runs the sampling and recognition pipeline. An Extractor holds no
// per-run state and may be shared by concurrent Extract calls.
type Extractor struct {
	encoder    Encoder
	recognizer ocr.Recognizer
	matcher    *Matcher
	workers    int
	timeout    time.Duration
	logger     *zap.Logger
	tracer     trace.Tracer
	progress   func(read int)
	onState    func(State)
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithWorkers sets how many frames are processed in parallel.
func WithWorkers(n int) Option {
	return func(e *Extractor) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithRecognizeTimeout bounds each recognition call. Zero or negative disables the bound.
func WithRecognizeTimeout(d time.Duration) Option {
	return func(e *Extractor) { e.timeout = d }
}

func WithLogger(l *zap.Logger) Option {
	return func(e *Extractor) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithProgress registers a callback invoked after every frame read from the
// source, with the running total. It runs on the read loop goroutine.
func WithProgress(fn func(read int)) Option {
	return func(e *Extractor) { e.progress = fn }
}

// WithStateHook registers a callback invoked on every state transition.
func WithStateHook(fn func(State)) Option {
	return func(e *Extractor) { e.onState = fn }
}

// New builds an Extractor. rec is typically shared process-wide; it is
// injected so tests can substitute a stub.
func New(enc Encoder, rec ocr.Recognizer, matcher *Matcher, opts ...Option) *Extractor {
	e := &Extractor{
		encoder: enc,
		matcher: matcher,
		workers: runtime.NumCPU(),
		timeout: defaultRecognizeTimeout,
		logger:  zap.NewNop(),
		tracer:  otel.Tracer("voucherscan/extract"),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.matcher == nil {
		e.matcher = MustMatcher(DefaultPattern)
	}
	e.recognizer = ocr.WithTimeout(rec, e.timeout)
	return e
}

// frameOutcome is what a worker hands to the aggregator for one frame.
type frameOutcome struct {
	Index int
	Codes []string
	Err   error
}

// Extract samples src, recognizes text on every sampled frame and returns the
// deduplicated codes found. src is closed before Extract returns, on every path.
//
// Only ErrInvalidFrameRate, ErrSourceUnreadable and context errors are
// returned. Frames that fail to encode or recognize are logged and counted in
// Result.Stats; an empty Result is a valid "no codes found".
func (e *Extractor) Extract(ctx context.Context, src VideoSource) (*Result, error) {
	defer func() {
		if err := src.Close(); err != nil {
			e.logger.Warn("failed to close video source", zap.Error(err))
		}
	}()

	ctx, span := e.tracer.Start(ctx, "Extractor.Extract")
	defer span.End()

	e.setState(StateSampling)
	sampler, err := NewSampler(src)
	if err != nil {
		return nil, e.fail(span, err)
	}
	fps := src.FrameRate()
	span.SetAttributes(
		attribute.Float64("video.fps", fps),
		attribute.Int("sample.interval", sampler.Interval()),
		attribute.Int("workers", e.workers),
	)
	e.logger.Debug("sampling video",
		zap.Float64("fps", fps),
		zap.Int("interval", sampler.Interval()),
		zap.Int("workers", e.workers),
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	tasks := make(chan types.FrameTask, e.workers)
	outcomes := make(chan frameOutcome, e.workers*2)
	var wg sync.WaitGroup

	// The aggregator is the only writer of res until it closes aggDone.
	res := newResult()
	aggDone := make(chan struct{})
	go func() {
		e.merge(outcomes, res, fps)
		close(aggDone)
	}()

	for i := 0; i < e.workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			e.work(ctx, workerID, tasks, outcomes)
		}(i)
	}

	e.setState(StateProcessing)
	sampled, readErr := e.dispatch(ctx, sampler, tasks)
	if readErr != nil {
		// Abandon in-flight recognition calls; their outcomes are discarded.
		cancel()
	}

	wg.Wait()
	e.setState(StateMerging)
	close(outcomes)
	<-aggDone

	res.Stats.FramesRead = sampler.Read()
	res.Stats.FramesSampled = sampled
	metrics.FramesReadTotal.Add(float64(res.Stats.FramesRead))
	metrics.FramesSampledTotal.Add(float64(sampled))

	if readErr != nil {
		return nil, e.fail(span, readErr)
	}

	span.SetAttributes(
		attribute.Int("frames.read", res.Stats.FramesRead),
		attribute.Int("frames.sampled", sampled),
		attribute.Int("frames.failed", res.Stats.Failed()),
		attribute.Int("codes.found", res.Codes.Len()),
	)
	if res.Stats.AllFailed() {
		e.logger.Warn("every sampled frame failed; result is empty",
			zap.Int("sampled", sampled),
			zap.Int("encode_failures", res.Stats.EncodeFailures),
			zap.Int("recognition_failures", res.Stats.RecognitionFailures),
		)
	}
	e.setState(StateDone)
	return res, nil
}

// dispatch runs the sequential read loop and closes tasks when it stops.
func (e *Extractor) dispatch(ctx context.Context, sampler *Sampler, tasks chan<- types.FrameTask) (int, error) {
	defer close(tasks)

	sent := 0
	lastRead := 0
	for {
		frame, err := sampler.Next(ctx)
		if e.progress != nil && sampler.Read() != lastRead {
			lastRead = sampler.Read()
			e.progress(lastRead)
		}
		if errors.Is(err, io.EOF) {
			return sent, nil
		}
		if err != nil {
			return sent, err
		}

		select {
		case tasks <- types.FrameTask{Index: frame.Index, Frame: frame}:
			sent++
		case <-ctx.Done():
			return sent, ctx.Err()
		}
	}
}

func (e *Extractor) work(ctx context.Context, workerID int, tasks <-chan types.FrameTask, outcomes chan<- frameOutcome) {
	for task := range tasks {
		// Keep draining after cancellation so dispatch never blocks on a full channel.
		if ctx.Err() != nil {
			continue
		}
		metrics.ActiveWorkers.Inc()
		out := e.process(ctx, task)
		metrics.ActiveWorkers.Dec()
		if out.Err != nil {
			e.logger.Debug("frame failed", zap.Int("worker", workerID), zap.Int("frame", task.Index), zap.Error(out.Err))
		}
		outcomes <- out
	}
}

// process runs encode, recognize and match for one frame. Any failure,
// including a panicking recognizer, is confined to the returned outcome.
func (e *Extractor) process(ctx context.Context, task types.FrameTask) (out frameOutcome) {
	out.Index = task.Index

	ctx, span := e.tracer.Start(ctx, "Extractor.processFrame",
		trace.WithAttributes(attribute.Int("frame.index", task.Index)))
	defer span.End()

	stage := "encode"
	defer func() {
		if r := recover(); r != nil {
			out = frameOutcome{Index: task.Index, Err: &FrameError{
				Index: task.Index,
				Stage: stage,
				Err:   stagePanic(stage, r),
			}}
		}
		if out.Err != nil {
			span.RecordError(out.Err)
			span.SetStatus(codes.Error, stage)
		}
	}()

	img, err := e.encoder.Encode(task.Frame)
	if err != nil {
		if !errors.Is(err, ErrEncodingFailed) {
			err = fmt.Errorf("%w: %v", ErrEncodingFailed, err)
		}
		out.Err = &FrameError{Index: task.Index, Stage: stage, Err: err}
		return out
	}

	stage = "recognize"
	start := time.Now()
	text, err := e.recognizer.Recognize(ctx, img)
	if err != nil {
		metrics.RecognizeDuration.WithLabelValues("error").Observe(time.Since(start).Seconds())
		out.Err = &FrameError{Index: task.Index, Stage: stage, Err: ocr.Wrap("recognizer", err)}
		return out
	}
	metrics.RecognizeDuration.WithLabelValues("ok").Observe(time.Since(start).Seconds())

	out.Codes = e.matcher.Match(text)
	span.SetAttributes(attribute.Int("codes", len(out.Codes)))
	return out
}

func stagePanic(stage string, r any) error {
	if stage == "encode" {
		return fmt.Errorf("%w: panic: %v", ErrEncodingFailed, r)
	}
	return &ocr.ServiceError{Backend: "recognizer", Message: fmt.Sprintf("panic: %v", r)}
}

// merge is the single accumulator for a run.
func (e *Extractor) merge(outcomes <-chan frameOutcome, res *Result, fps float64) {
	for out := range outcomes {
		if out.Err != nil {
			var fe *FrameError
			stage := "unknown"
			if errors.As(out.Err, &fe) {
				stage = fe.Stage
			}
			if stage == "encode" {
				res.Stats.EncodeFailures++
			} else {
				res.Stats.RecognitionFailures++
			}
			metrics.FrameFailuresTotal.WithLabelValues(stage).Inc()
			e.logger.Warn("error processing frame",
				zap.Int("frame", out.Index),
				zap.String("stage", stage),
				zap.Error(out.Err),
			)
			continue
		}

		if len(out.Codes) > 0 {
			res.Stats.FramesWithCodes++
		}
		at := float64(out.Index) / fps
		for _, code := range out.Codes {
			if res.add(code, at) {
				metrics.CodesFoundTotal.Inc()
				e.logger.Info("candidate code found", zap.String("code", code), zap.Int("frame", out.Index))
			}
		}
	}
}

func (e *Extractor) setState(s State) {
	e.logger.Debug("extractor state", zap.Stringer("state", s))
	if e.onState != nil {
		e.onState(s)
	}
}

func (e *Extractor) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	e.logger.Error("extraction failed", zap.Error(err))
	e.setState(StateFailed)
	return err
}
