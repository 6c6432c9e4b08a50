// Package video acquires and decodes the videos that feed the extractor:
// URL validation, yt-dlp downloads, container probing and an ffmpeg-backed
// frame source.
package video

import (
	"errors"
	"regexp"
	"strings"
)

// ErrInvalidURL is returned for input that does not look like a YouTube video link.
var ErrInvalidURL = errors.New("invalid YouTube URL")

var youtubeRegex = regexp.MustCompile(
	`^(https?://)?(www\.)?` +
		`(youtube|youtu|youtube-nocookie)\.(com|be)/` +
		`(watch\?v=|embed/|v/|.+\?v=)?([^&=%\?]{11})`,
)

// ValidateURL accepts youtube.com, youtu.be and youtube-nocookie links carrying an 11 character video id.
func ValidateURL(url string) error {
	if !youtubeRegex.MatchString(strings.TrimSpace(url)) {
		return ErrInvalidURL
	}
	return nil
}
