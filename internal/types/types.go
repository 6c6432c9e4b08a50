package types

import "time"

// Frame is one decoded raster frame pulled from a video source.
// Pix is laid out row-major with Channels bytes per pixel (1 gray, 3 RGB, 4 RGBA).
type Frame struct {
	Index    int
	Width    int
	Height   int
	Channels int
	Pix      []byte
}

// FrameTask represents a single sampled frame sent to a worker for processing
type FrameTask struct {
	Index int
	Frame Frame
}

// ScanRecord is one persisted run of the extractor over a video.
type ScanRecord struct {
	ID            string
	VideoID       string
	Source        string
	FramesRead    int
	FramesSampled int
	FramesFailed  int
	ScannedAt     time.Time
}

// CodeRecord is a voucher code found during a scan.
type CodeRecord struct {
	Code      string
	VideoID   string
	Source    string
	FirstSeen float64 // seconds into the video
	ScannedAt time.Time
}

// ErrorResult captures the error object returned by an OCR service on failure
type ErrorResult struct {
	Error string `json:"error"`
}

// TextResult is the 2xx payload of an OCR service. Some services report
// failures with a 200 and a non-empty Error.
type TextResult struct {
	Text  string `json:"text"`
	Error string `json:"error,omitempty"`
}
