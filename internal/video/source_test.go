package video

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"testing"

	"github.com/andresmejia3/voucherscan/internal/extract"
	"github.com/andresmejia3/voucherscan/internal/types"
	"github.com/andresmejia3/voucherscan/internal/utils"
)

func TestDecodeArgs(t *testing.T) {
	args := decodeArgs("in.mp4")
	noRotate, input := slices.Index(args, "-noautorotate"), slices.Index(args, "-i")
	if noRotate < 0 || noRotate > input {
		t.Errorf("Expected -noautorotate before -i, got %v", args)
	}
	if args[input+1] != "in.mp4" {
		t.Errorf("Expected input path after -i, got %v", args)
	}
	if slices.Contains(args, "-vf") {
		t.Errorf("Decoder must not rescale frames, got %v", args)
	}
	if args[len(args)-1] != "-" {
		t.Errorf("Expected output to stdout, got %v", args)
	}
}

func TestOpenFFmpeg_UnknownDimensions(t *testing.T) {
	_, err := OpenFFmpeg("whatever.mp4", &Info{FPS: 30})
	if !errors.Is(err, extract.ErrSourceUnreadable) {
		t.Fatalf("Expected ErrSourceUnreadable, got %v", err)
	}
}

func TestFFmpegSource_ReadsEveryFrame(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping ffmpeg-backed test in short mode")
	}
	path := makeTestVideo(t, "clip.mp4", 2, 10)
	info, err := Probe(context.Background(), path)
	if err != nil {
		t.Fatalf("Probe failed: %v", err)
	}

	src, err := OpenFFmpeg(path, info)
	if err != nil {
		t.Fatalf("OpenFFmpeg failed: %v", err)
	}
	defer src.Close()

	if src.FrameRate() != info.FPS {
		t.Errorf("FrameRate = %v, want %v", src.FrameRate(), info.FPS)
	}

	count := 0
	for {
		f, err := src.Next(context.Background())
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next failed after %d frames: %v", count, err)
		}
		if f.Width != 64 || f.Height != 48 || f.Channels != 3 || len(f.Pix) != 64*48*3 {
			t.Fatalf("Unexpected frame shape %dx%dx%d (%d bytes)", f.Width, f.Height, f.Channels, len(f.Pix))
		}
		count++
	}
	if count != 20 {
		t.Errorf("Expected 20 frames, got %d", count)
	}

	// Exhausted sources keep reporting EOF and close cleanly twice.
	if _, err := src.Next(context.Background()); err != io.EOF {
		t.Errorf("Expected io.EOF after exhaustion, got %v", err)
	}
	if err := src.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}

func TestFFmpegSource_CorruptFile(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping ffmpeg-backed test in short mode")
	}
	if err := utils.RequireBinary("ffmpeg"); err != nil {
		t.Skip(err)
	}
	path := filepath.Join(t.TempDir(), "broken.mp4")
	if err := os.WriteFile(path, []byte("this is not a video"), 0o644); err != nil {
		t.Fatal(err)
	}

	src, err := OpenFFmpeg(path, &Info{Width: 16, Height: 16, FPS: 30})
	if err != nil {
		t.Fatalf("OpenFFmpeg failed: %v", err)
	}
	defer src.Close()

	_, err = src.Next(context.Background())
	if err == nil || err == io.EOF {
		t.Fatalf("Expected a decode error, got %v", err)
	}
}

func TestFFmpegSource_CloseMidStream(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping ffmpeg-backed test in short mode")
	}
	path := makeTestVideo(t, "clip.mp4", 3, 10)
	info, err := Probe(context.Background(), path)
	if err != nil {
		t.Fatalf("Probe failed: %v", err)
	}
	src, err := OpenFFmpeg(path, info)
	if err != nil {
		t.Fatalf("OpenFFmpeg failed: %v", err)
	}
	if _, err := src.Next(context.Background()); err != nil {
		t.Fatalf("Next failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := src.Next(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if err := src.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}

// rotateTestVideo tags a copy of path with a 90 degree display rotation.
func rotateTestVideo(t *testing.T, path string) string {
	t.Helper()
	out := filepath.Join(t.TempDir(), "rotated.mp4")
	attempts := [][]string{
		{"-display_rotation:v:0", "90", "-i", path, "-c", "copy", out},
		{"-i", path, "-c", "copy", "-metadata:s:v:0", "rotate=90", out},
	}
	var last []byte
	for _, a := range attempts {
		args := append([]string{"-hide_banner", "-loglevel", "error", "-y"}, a...)
		b, err := exec.Command("ffmpeg", args...).CombinedOutput()
		if err == nil {
			return out
		}
		last = b
	}
	t.Skipf("ffmpeg could not tag rotation: %s", last)
	return ""
}

func firstFrame(t *testing.T, path string) types.Frame {
	t.Helper()
	info, err := Probe(context.Background(), path)
	if err != nil {
		t.Fatalf("Probe failed: %v", err)
	}
	src, err := OpenFFmpeg(path, info)
	if err != nil {
		t.Fatalf("OpenFFmpeg failed: %v", err)
	}
	defer src.Close()
	f, err := src.Next(context.Background())
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	return f
}

func TestFFmpegSource_RotatedVideo(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping ffmpeg-backed test in short mode")
	}
	plain := makeTestVideo(t, "clip.mp4", 1, 10)
	rotated := rotateTestVideo(t, plain)

	want := firstFrame(t, plain)
	got := firstFrame(t, rotated)
	if got.Width != 64 || got.Height != 48 {
		t.Fatalf("Expected coded size 64x48, got %dx%d", got.Width, got.Height)
	}
	// Stream copy keeps the bitstream, so only an applied rotation could
	// change the decoded pixels.
	if !bytes.Equal(got.Pix, want.Pix) {
		t.Error("Rotated clip decoded to different pixels than its source")
	}
}
