// Package worker drives local OCR engine processes (for example a tesseract
// wrapper script) over a length-prefixed pipe protocol.
//
// Request on stdin:   [u32 len][image bytes]
// Response on FD 3:   [u32 len][payload]
// Payload:            [status u8 = 0][u32 len][text]   success
//                     [status u8 = 1][u32 len][message] engine error
package worker

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/andresmejia3/voucherscan/internal/utils"
)

const (
	statusOK    = 0
	statusError = 1
)

// EngineWorker is one running OCR engine process.
type EngineWorker struct {
	ID       int
	Cmd      *utils.SafeCommand
	Stdin    io.WriteCloser
	DataPipe io.ReadCloser
}

// NewEngineWorker starts name with args and wires its FD 3 as the response channel.
func NewEngineWorker(id int, name string, args ...string) (*EngineWorker, error) {
	cmd := utils.NewSafeCommand(name, args...)

	// Create a side-channel pipe (FD 3) so engine logs on stdout/stderr never corrupt frames
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	cmd.Cmd.ExtraFiles = []*os.File{w}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("worker %d failed to start: %w", id, err)
	}

	// Close the write-end in the parent so only the child holds it
	w.Close()

	return &EngineWorker{
		ID:       id,
		Cmd:      cmd,
		Stdin:    stdin,
		DataPipe: r,
	}, nil
}

// Communicate sends one length-prefixed message and reads one back.
func (w *EngineWorker) Communicate(data []byte) ([]byte, error) {
	if err := binary.Write(w.Stdin, binary.BigEndian, uint32(len(data))); err != nil {
		return nil, err
	}
	if _, err := w.Stdin.Write(data); err != nil {
		return nil, err
	}

	header := make([]byte, 4)
	if _, err := io.ReadFull(w.DataPipe, header); err != nil {
		return nil, err // the engine died before answering
	}

	respLen := binary.BigEndian.Uint32(header)
	respBody := make([]byte, respLen)
	_, err := io.ReadFull(w.DataPipe, respBody)
	return respBody, err
}

// RecognizeFrame sends an encoded image and decodes the engine's reply.
func (w *EngineWorker) RecognizeFrame(image []byte) (string, error) {
	resp, err := w.Communicate(image)
	if err != nil {
		return "", err
	}
	return decodeReply(resp)
}

// EngineError is an error the engine reported for one frame. The process is
// still healthy after returning it.
type EngineError struct {
	Message string
}

func (e *EngineError) Error() string { return "ocr engine error: " + e.Message }

func decodeReply(resp []byte) (string, error) {
	if len(resp) < 5 {
		return "", fmt.Errorf("short reply: %d bytes", len(resp))
	}
	status := resp[0]
	n := binary.BigEndian.Uint32(resp[1:5])
	if int(n) > len(resp)-5 {
		return "", fmt.Errorf("reply declares %d bytes, has %d", n, len(resp)-5)
	}
	body := string(resp[5 : 5+n])

	switch status {
	case statusOK:
		return body, nil
	case statusError:
		return "", &EngineError{Message: body}
	default:
		return "", fmt.Errorf("unknown reply status %d", status)
	}
}

// Kill stops the process without waiting for it to drain and unblocks any
// pending read on the data pipe.
func (w *EngineWorker) Kill() {
	if w.Cmd != nil && w.Cmd.Process != nil {
		w.Cmd.Process.Kill()
	}
	w.DataPipe.Close()
}

func (w *EngineWorker) Close() {
	w.Stdin.Close()
	w.DataPipe.Close()
	if w.Cmd != nil {
		w.Cmd.Wait()
	}
}
