package video

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/andresmejia3/voucherscan/internal/utils"
)

// DefaultFormat prefers an mp4 stream so the probe fast path applies.
const DefaultFormat = "bestvideo[ext=mp4]/best[ext=mp4]/best"

// ErrDownloadFailed wraps every failure to produce a local copy of a remote video.
var ErrDownloadFailed = errors.New("video download failed")

// Fetcher downloads remote videos with yt-dlp into a private temp directory.
type Fetcher struct {
	Binary string // yt-dlp executable, "yt-dlp" when empty
	Dir    string // parent for temp directories, os.TempDir() when empty
	Format string // yt-dlp -f selector, DefaultFormat when empty
}

// Fetch downloads url and returns the local file path plus a cleanup func that
// removes the temp directory. cleanup is never nil, even on error.
func (f *Fetcher) Fetch(ctx context.Context, url string) (string, func(), error) {
	noop := func() {}
	bin := f.Binary
	if bin == "" {
		bin = "yt-dlp"
	}
	format := f.Format
	if format == "" {
		format = DefaultFormat
	}
	if err := utils.RequireBinary(bin); err != nil {
		return "", noop, fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}

	dir, err := os.MkdirTemp(f.Dir, "voucherscan-*")
	if err != nil {
		return "", noop, fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	cleanup := func() { os.RemoveAll(dir) }

	cmd := utils.NewSafeCommandContext(ctx, bin,
		"-f", format,
		"--no-playlist",
		"--quiet", "--no-warnings",
		"-o", filepath.Join(dir, "video.%(ext)s"),
		"--print", "after_move:filepath",
		url,
	)
	out, err := cmd.Output()
	if err != nil {
		cleanup()
		if ctx.Err() != nil {
			return "", noop, ctx.Err()
		}
		return "", noop, fmt.Errorf("%w: %v: %s", ErrDownloadFailed, err, strings.TrimSpace(cmd.Stderr.String()))
	}

	path := lastLine(string(out))
	if path == "" {
		// Older yt-dlp builds ignore --print after_move; fall back to the output template.
		matches, _ := filepath.Glob(filepath.Join(dir, "video.*"))
		if len(matches) > 0 {
			path = matches[0]
		}
	}
	if path == "" {
		cleanup()
		return "", noop, fmt.Errorf("%w: yt-dlp produced no file", ErrDownloadFailed)
	}
	if _, err := os.Stat(path); err != nil {
		cleanup()
		return "", noop, fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	return path, cleanup, nil
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			return l
		}
	}
	return ""
}
