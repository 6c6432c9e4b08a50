package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/andresmejia3/voucherscan/internal/ocr"
	"go.uber.org/zap"
)

const backendName = "engine"

// Pool is a fixed set of engine processes shared by concurrent Recognize calls.
// A process that fails mid-call is discarded and replaced.
type Pool struct {
	name   string
	args   []string
	idle   chan *EngineWorker
	logger *zap.Logger

	mu     sync.Mutex
	nextID int
	closed bool
	live   map[int]*EngineWorker
	spawn  func(id int) (*EngineWorker, error)
}

// NewPool starts size engine processes from command, a shell-style
// "program arg arg" string.
func NewPool(size int, command string, logger *zap.Logger) (*Pool, error) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return nil, errors.New("empty OCR engine command")
	}
	if size < 1 {
		size = 1
	}
	p := &Pool{
		name:   fields[0],
		args:   fields[1:],
		idle:   make(chan *EngineWorker, size),
		logger: logger,
		live:   make(map[int]*EngineWorker),
	}
	p.spawn = func(id int) (*EngineWorker, error) {
		return NewEngineWorker(id, p.name, p.args...)
	}

	for i := 0; i < size; i++ {
		w, err := p.start()
		if err != nil {
			p.Close()
			return nil, err
		}
		p.release(w)
	}
	return p, nil
}

func (p *Pool) start() (*EngineWorker, error) {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.mu.Unlock()

	w, err := p.spawn(id)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.live[id] = w
	p.mu.Unlock()
	return w, nil
}

// Recognize implements ocr.Recognizer.
func (p *Pool) Recognize(ctx context.Context, image []byte) (string, error) {
	var w *EngineWorker
	select {
	case w = <-p.idle:
	case <-ctx.Done():
		return "", &ocr.ServiceError{Backend: backendName, Message: "no idle engine", Err: ctx.Err()}
	}

	type reply struct {
		text string
		err  error
	}
	done := make(chan reply, 1)
	go func() {
		text, err := w.RecognizeFrame(image)
		done <- reply{text, err}
	}()

	select {
	case r := <-done:
		var engineErr *EngineError
		if r.err == nil || errors.As(r.err, &engineErr) {
			p.release(w)
			if r.err != nil {
				return "", &ocr.ServiceError{Backend: backendName, Message: engineErr.Message}
			}
			return r.text, nil
		}
		p.replace(w, r.err)
		return "", &ocr.ServiceError{Backend: backendName, Message: fmt.Sprintf("worker %d crashed", w.ID), Err: r.err}
	case <-ctx.Done():
		// The pipe read cannot be interrupted; killing the process unblocks it.
		w.Kill()
		<-done
		p.replace(w, ctx.Err())
		return "", &ocr.ServiceError{Backend: backendName, Err: ctx.Err()}
	}
}

// replace retires a broken worker and puts a fresh process in its slot.
func (p *Pool) replace(w *EngineWorker, cause error) {
	p.mu.Lock()
	delete(p.live, w.ID)
	closed := p.closed
	p.mu.Unlock()

	w.Close()
	// Safe to read once Close has waited for the process.
	logs := ""
	if w.Cmd != nil && w.Cmd.Stderr != nil {
		logs = w.Cmd.Stderr.String()
	}
	p.logger.Warn("ocr engine failed",
		zap.Int("worker", w.ID),
		zap.Error(cause),
		zap.String("stderr", logs),
	)
	if closed {
		return
	}

	fresh, err := p.start()
	if err != nil {
		// The pool shrinks by one; the remaining engines keep serving.
		p.logger.Error("failed to restart ocr engine", zap.Error(err))
		return
	}
	p.release(fresh)
}

// release hands w back to the idle queue, or stops it once the pool is closed.
// The check and the send share the lock with Close so no worker lands in the
// queue after it was drained.
func (p *Pool) release(w *EngineWorker) {
	p.mu.Lock()
	if !p.closed {
		p.idle <- w
		p.mu.Unlock()
		return
	}
	delete(p.live, w.ID)
	p.mu.Unlock()
	w.Close()
}

// Close stops the idle engines. Engines busy with a call are stopped when
// that call returns. Safe to call more than once.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	var workers []*EngineWorker
	for drained := false; !drained; {
		select {
		case w := <-p.idle:
			delete(p.live, w.ID)
			workers = append(workers, w)
		default:
			drained = true
		}
	}
	p.mu.Unlock()

	for _, w := range workers {
		w.Close()
	}
}
