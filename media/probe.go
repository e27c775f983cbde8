package media

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	ffmpeg "github.com/u2takey/ffmpeg-go"
)

// Info is the subset of ffprobe output the pipeline relies on.
type Info struct {
	Path       string
	Duration   float64
	Width      int
	Height     int
	FPS        float64
	VideoCodec string
	HasVideo   bool
	HasAudio   bool
}

// Probe inspects a media file with ffprobe.
func (e *Executor) Probe(ctx context.Context, path string) (*Info, error) {
	if path == "" {
		return nil, errors.New("file path is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out, err := ffmpeg.Probe(path)
	if err != nil {
		return nil, errors.Wrapf(err, "probe %s", path)
	}
	info, err := ParseProbe(out)
	if err != nil {
		return nil, errors.Wrapf(err, "probe %s", path)
	}
	info.Path = path
	return info, nil
}

type probeResult struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
	Streams []struct {
		CodecType  string `json:"codec_type"`
		CodecName  string `json:"codec_name"`
		Width      int    `json:"width"`
		Height     int    `json:"height"`
		RFrameRate string `json:"r_frame_rate"`
		Duration   string `json:"duration"`
	} `json:"streams"`
}

// ParseProbe decodes ffprobe's JSON output.
func ParseProbe(data string) (*Info, error) {
	var probe probeResult
	if err := json.Unmarshal([]byte(data), &probe); err != nil {
		return nil, errors.WithStack(err)
	}

	info := &Info{}
	if d, err := strconv.ParseFloat(probe.Format.Duration, 64); err == nil {
		info.Duration = d
	}
	for _, s := range probe.Streams {
		switch s.CodecType {
		case "video":
			if info.HasVideo {
				continue
			}
			info.HasVideo = true
			info.Width = s.Width
			info.Height = s.Height
			info.VideoCodec = s.CodecName
			info.FPS = parseFrameRate(s.RFrameRate)
			if info.Duration == 0 {
				if d, err := strconv.ParseFloat(s.Duration, 64); err == nil {
					info.Duration = d
				}
			}
		case "audio":
			info.HasAudio = true
		}
	}

	if !info.HasVideo {
		return nil, errors.New("no video stream found")
	}
	if info.Width <= 0 || info.Height <= 0 {
		return nil, errors.Errorf("invalid frame size %dx%d", info.Width, info.Height)
	}
	return info, nil
}

// parseFrameRate converts "30000/1001" style rates.
func parseFrameRate(rate string) float64 {
	num, den, found := strings.Cut(rate, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	if !found {
		return n
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}
	return n / d
}
