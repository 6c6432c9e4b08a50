// Package ocr wraps the external text-recognition services a frame is sent to.
package ocr

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrRecognition matches every failure reported by a Recognizer, whether the
// service answered with an error payload or the call never completed.
var ErrRecognition = errors.New("recognition service error")

// Recognizer submits encoded image bytes to a text-recognition service.
type Recognizer interface {
	// Recognize returns the primary recognized text block, or "" when the
	// service found no text. "No text" is not an error.
	Recognize(ctx context.Context, image []byte) (string, error)
}

// ServiceError is the single failure type returned by recognizers.
type ServiceError struct {
	Backend string
	Message string
	Err     error
}

func (e *ServiceError) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Backend, e.Message, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Backend, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Backend, e.Err)
	default:
		return e.Backend + ": " + ErrRecognition.Error()
	}
}

func (e *ServiceError) Unwrap() error { return e.Err }

// Is reports every ServiceError as ErrRecognition.
func (e *ServiceError) Is(target error) bool { return target == ErrRecognition }

// Wrap turns any transport or service fault into a ServiceError.
func Wrap(backend string, err error) error {
	if err == nil {
		return nil
	}
	var se *ServiceError
	if errors.As(err, &se) {
		return err
	}
	return &ServiceError{Backend: backend, Err: err}
}

// Func adapts a plain function to the Recognizer interface.
type Func func(ctx context.Context, image []byte) (string, error)

func (f Func) Recognize(ctx context.Context, image []byte) (string, error) {
	return f(ctx, image)
}

type timeoutRecognizer struct {
	next    Recognizer
	timeout time.Duration
}

// WithTimeout bounds every Recognize call on r by d. A call that outlives d
// fails with a ServiceError wrapping context.DeadlineExceeded.
func WithTimeout(r Recognizer, d time.Duration) Recognizer {
	if d <= 0 {
		return r
	}
	return &timeoutRecognizer{next: r, timeout: d}
}

func (t *timeoutRecognizer) Recognize(ctx context.Context, image []byte) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	type reply struct {
		text string
		err  error
	}
	// Buffered so an abandoned call does not leak its goroutine on send.
	done := make(chan reply, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- reply{err: &ServiceError{Backend: "timeout", Message: fmt.Sprintf("panic: %v", r)}}
			}
		}()
		text, err := t.next.Recognize(ctx, image)
		done <- reply{text, err}
	}()

	select {
	case r := <-done:
		return r.text, Wrap("timeout", r.err)
	case <-ctx.Done():
		return "", &ServiceError{Backend: "timeout", Message: fmt.Sprintf("no reply within %s", t.timeout), Err: ctx.Err()}
	}
}
