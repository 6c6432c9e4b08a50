package video

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Eyevinn/mp4ff/mp4"
	jsoniter "github.com/json-iterator/go"

	"github.com/andresmejia3/voucherscan/internal/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Info describes the first video stream of a file.
type Info struct {
	Width    int
	Height   int
	FPS      float64
	Frames   int // 0 when unknown
	Duration time.Duration
}

// Probe reads stream metadata. MP4 files are parsed in-process with mp4ff;
// anything else, or an MP4 the parser cannot handle, goes through ffprobe.
func Probe(ctx context.Context, path string) (*Info, error) {
	if info, err := probeMP4(path); err == nil {
		return info, nil
	}
	return probeFFprobe(ctx, path)
}

func probeMP4(path string) (*Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	// Lazy mdat keeps sample data on disk; only the moov tree is decoded.
	mp4File, err := mp4.DecodeFile(f, mp4.WithDecodeMode(mp4.DecModeLazyMdat))
	if err != nil {
		return nil, fmt.Errorf("decode mp4: %w", err)
	}
	if mp4File.IsFragmented() || mp4File.Moov == nil {
		return nil, errors.New("fragmented or moov-less mp4")
	}

	var videoTrack *mp4.TrakBox
	for _, trak := range mp4File.Moov.Traks {
		if trak.Mdia != nil && trak.Mdia.Hdlr != nil && trak.Mdia.Hdlr.HandlerType == "vide" {
			videoTrack = trak
			break
		}
	}
	if videoTrack == nil {
		return nil, errors.New("no video track found")
	}
	if videoTrack.Mdia.Mdhd == nil || videoTrack.Mdia.Minf == nil || videoTrack.Mdia.Minf.Stbl == nil {
		return nil, errors.New("no sample table found")
	}
	stbl := videoTrack.Mdia.Minf.Stbl
	if stbl.Stsz == nil || stbl.Stts == nil {
		return nil, errors.New("no stsz/stts box found")
	}

	info := &Info{}
	if stbl.Stsd != nil {
		for _, child := range stbl.Stsd.Children {
			if vse, ok := child.(*mp4.VisualSampleEntryBox); ok {
				info.Width = int(vse.Width)
				info.Height = int(vse.Height)
				break
			}
		}
	}
	if (info.Width == 0 || info.Height == 0) && videoTrack.Tkhd != nil {
		// tkhd stores 16.16 fixed point presentation size.
		info.Width = int(videoTrack.Tkhd.Width >> 16)
		info.Height = int(videoTrack.Tkhd.Height >> 16)
	}

	timescale := videoTrack.Mdia.Mdhd.Timescale
	samples := stbl.Stsz.SampleNumber
	if samples == 0 || timescale == 0 {
		return nil, errors.New("empty video track")
	}
	lastStart, lastDur := stbl.Stts.GetDecodeTime(samples)
	total := lastStart + uint64(lastDur)
	if total == 0 {
		return nil, errors.New("zero track duration")
	}

	info.Frames = int(samples)
	info.FPS = float64(samples) * float64(timescale) / float64(total)
	info.Duration = time.Duration(float64(total) / float64(timescale) * float64(time.Second))
	if info.Width == 0 || info.Height == 0 {
		return nil, errors.New("missing video dimensions")
	}
	return info, nil
}

type ffprobeOutput struct {
	Streams []struct {
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		RFrameRate   string `json:"r_frame_rate"`
		AvgFrameRate string `json:"avg_frame_rate"`
		NbFrames     string `json:"nb_frames"`
		Duration     string `json:"duration"`
	} `json:"streams"`
}

func probeFFprobe(ctx context.Context, path string) (*Info, error) {
	if err := utils.RequireBinary("ffprobe"); err != nil {
		return nil, err
	}
	cmd := utils.NewSafeCommandContext(ctx, "ffprobe", "-v", "error", "-select_streams", "v:0",
		"-show_entries", "stream=width,height,r_frame_rate,avg_frame_rate,nb_frames,duration",
		"-of", "json", path)
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe failed: %v: %s", err, strings.TrimSpace(cmd.Stderr.String()))
	}
	return parseFFprobe(out)
}

func parseFFprobe(data []byte) (*Info, error) {
	var res ffprobeOutput
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("ffprobe JSON parse error: %w", err)
	}
	if len(res.Streams) == 0 {
		return nil, errors.New("no video stream found")
	}
	s := res.Streams[0]

	// avg_frame_rate is what the decoder actually delivers; r_frame_rate is the container's guess.
	fps, err := ParseRate(s.AvgFrameRate)
	if err != nil || fps == 0 {
		fps, err = ParseRate(s.RFrameRate)
		if err != nil {
			return nil, err
		}
	}

	info := &Info{Width: s.Width, Height: s.Height, FPS: fps}
	if n, err := strconv.Atoi(s.NbFrames); err == nil {
		info.Frames = n
	}
	if d, err := strconv.ParseFloat(s.Duration, 64); err == nil {
		info.Duration = time.Duration(d * float64(time.Second))
	}
	if info.Width == 0 || info.Height == 0 {
		return nil, errors.New("missing video dimensions")
	}
	return info, nil
}

// ParseRate parses ffmpeg rationals like "30000/1001" as well as plain decimals.
func ParseRate(s string) (float64, error) {
	num, den, ok := strings.Cut(strings.TrimSpace(s), "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, fmt.Errorf("bad frame rate %q", s)
	}
	if !ok {
		return n, nil
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil {
		return 0, fmt.Errorf("bad frame rate %q", s)
	}
	if d == 0 {
		return 0, nil
	}
	r := n / d
	if math.IsNaN(r) || math.IsInf(r, 0) {
		return 0, fmt.Errorf("bad frame rate %q", s)
	}
	return r, nil
}
