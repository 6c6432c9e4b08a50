package video

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/andresmejia3/voucherscan/internal/extract"
	"github.com/andresmejia3/voucherscan/internal/types"
	"github.com/andresmejia3/voucherscan/internal/utils"
)

const channels = 3 // rgb24

// FFmpegSource decodes a file with ffmpeg and reads raw RGB frames from its stdout.
// It implements extract.VideoSource.
type FFmpegSource struct {
	cmd       *utils.SafeCommand
	stdout    io.ReadCloser
	r         *bufio.Reader
	fps       float64
	width     int
	height    int
	frameSize int

	waited    bool
	closeOnce sync.Once
}

// OpenFFmpeg starts decoding path. info must come from Probe on the same file.
// Failures wrap extract.ErrSourceUnreadable.
func OpenFFmpeg(path string, info *Info) (*FFmpegSource, error) {
	if info == nil || info.Width <= 0 || info.Height <= 0 {
		return nil, fmt.Errorf("%w: unknown frame dimensions", extract.ErrSourceUnreadable)
	}
	if err := utils.RequireBinary("ffmpeg"); err != nil {
		return nil, fmt.Errorf("%w: %v", extract.ErrSourceUnreadable, err)
	}

	cmd := utils.NewSafeCommand("ffmpeg", decodeArgs(path)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", extract.ErrSourceUnreadable, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: failed to start ffmpeg: %v", extract.ErrSourceUnreadable, err)
	}

	frameSize := info.Width * info.Height * channels
	return &FFmpegSource{
		cmd:       cmd,
		stdout:    stdout,
		r:         bufio.NewReaderSize(stdout, frameSize),
		fps:       info.FPS,
		width:     info.Width,
		height:    info.Height,
		frameSize: frameSize,
	}, nil
}

// decodeArgs emits frames at the coded size Probe reports. Without
// -noautorotate ffmpeg applies display-matrix rotation and a 90 degree
// clip would come out height x width.
func decodeArgs(path string) []string {
	return []string{
		"-hide_banner", "-loglevel", "error",
		"-noautorotate", "-i", path,
		"-an", "-sn",
		"-f", "rawvideo", "-pix_fmt", "rgb24", "-",
	}
}

// FrameRate implements extract.VideoSource.
func (s *FFmpegSource) FrameRate() float64 { return s.fps }

// Next implements extract.VideoSource. A partial trailing frame counts as end of stream.
func (s *FFmpegSource) Next(ctx context.Context) (types.Frame, error) {
	if err := ctx.Err(); err != nil {
		return types.Frame{}, err
	}
	if s.waited {
		return types.Frame{}, io.EOF
	}

	pix := make([]byte, s.frameSize)
	_, err := io.ReadFull(s.r, pix)
	switch {
	case err == nil:
		return types.Frame{Width: s.width, Height: s.height, Channels: channels, Pix: pix}, nil
	case errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF):
		s.waited = true
		if werr := s.cmd.Wait(); werr != nil {
			return types.Frame{}, fmt.Errorf("ffmpeg exited: %v: %s", werr, strings.TrimSpace(s.cmd.Stderr.String()))
		}
		return types.Frame{}, io.EOF
	default:
		return types.Frame{}, err
	}
}

// Close stops ffmpeg if it is still running. Safe to call more than once.
func (s *FFmpegSource) Close() error {
	s.closeOnce.Do(func() {
		s.stdout.Close()
		if !s.waited {
			s.waited = true
			if s.cmd.Process != nil {
				s.cmd.Process.Kill()
			}
			// Killed on purpose, so the exit status carries no information.
			s.cmd.Wait()
		}
	})
	return nil
}
