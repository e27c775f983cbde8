package compose

import (
	"fmt"

	ffmpeg "github.com/u2takey/ffmpeg-go"

	"twitch-shorts-pipeline/config"
	"twitch-shorts-pipeline/media"
)

// textLayer is one drawtext pass. The text is read from a file so titles
// never need filtergraph escaping.
type textLayer struct {
	TextFile string
	FontFile string // empty selects the fontconfig default
	Size     int
	Stroke   int
	Y        string
}

func seconds(d float64) string {
	return fmt.Sprintf("%.3f", d)
}

// backgroundStream loops the background image for the render duration, or
// generates a solid colour when no image is available.
func backgroundStream(cfg config.ComposeConfig, image string, dur float64) *ffmpeg.Stream {
	if image != "" {
		return ffmpeg.Input(image, ffmpeg.KwArgs{
			"loop":      1,
			"framerate": cfg.FPS,
			"t":         seconds(dur),
		}).
			Filter("scale", ffmpeg.Args{}, ffmpeg.KwArgs{"w": cfg.Width, "h": cfg.Height}).
			Filter("setsar", ffmpeg.Args{}, ffmpeg.KwArgs{"sar": 1})
	}
	color := cfg.BackgroundColor
	if color == "" {
		color = "black"
	}
	src := fmt.Sprintf("color=c=%s:s=%dx%d:r=%d:d=%s", color, cfg.Width, cfg.Height, cfg.FPS, seconds(dur))
	return ffmpeg.Input(src, ffmpeg.KwArgs{"f": "lavfi"})
}

func silentAudio(cfg config.ComposeConfig, dur float64) *ffmpeg.Stream {
	src := fmt.Sprintf("anullsrc=r=%d:cl=stereo", cfg.AudioSampleRate)
	return ffmpeg.Input(src, ffmpeg.KwArgs{"f": "lavfi", "t": seconds(dur)})
}

// overlayRegions crops and scales each region out of the source video and
// draws it over base.
func overlayRegions(base, video *ffmpeg.Stream, layout Layout) *ffmpeg.Stream {
	out := base
	for _, r := range layout.Regions {
		part := video.
			Filter("crop", ffmpeg.Args{}, ffmpeg.KwArgs{"w": r.Crop.W, "h": r.Crop.H, "x": r.Crop.X, "y": r.Crop.Y}).
			Filter("scale", ffmpeg.Args{}, ffmpeg.KwArgs{"w": r.ScaleW, "h": r.ScaleH})
		out = out.Overlay(part, "", ffmpeg.KwArgs{"x": r.X, "y": r.Y})
	}
	return out
}

func drawText(s *ffmpeg.Stream, layers []textLayer) *ffmpeg.Stream {
	for _, l := range layers {
		kw := ffmpeg.KwArgs{
			"textfile":     l.TextFile,
			"expansion":    "none",
			"fontcolor":    "white",
			"fontsize":     l.Size,
			"borderw":      l.Stroke,
			"bordercolor":  "black",
			"line_spacing": l.Size / 5,
			"x":            "(w-text_w)/2",
			"y":            l.Y,
		}
		if l.FontFile != "" {
			kw["fontfile"] = l.FontFile
		} else {
			kw["font"] = "Sans"
		}
		s = s.Filter("drawtext", ffmpeg.Args{}, kw)
	}
	return s
}

func finishVideo(s *ffmpeg.Stream, cfg config.ComposeConfig) *ffmpeg.Stream {
	return s.
		Filter("fps", ffmpeg.Args{}, ffmpeg.KwArgs{"fps": cfg.FPS}).
		Filter("format", ffmpeg.Args{}, ffmpeg.KwArgs{"pix_fmts": "yuv420p"})
}

// encodeArgs are shared by every segment so the concat demuxer can stream-copy.
func encodeArgs(cfg config.ComposeConfig, dur float64) ffmpeg.KwArgs {
	return ffmpeg.KwArgs{
		"c:v":                   cfg.VideoCodec,
		"preset":                cfg.Preset,
		"crf":                   cfg.CRF,
		"pix_fmt":               "yuv420p",
		"r":                     cfg.FPS,
		"c:a":                   cfg.AudioCodec,
		"ar":                    cfg.AudioSampleRate,
		"ac":                    2,
		"t":                     seconds(dur),
		"video_track_timescale": 90000,
		"movflags":              "+faststart",
	}
}

// mainGraph builds the short from the source clip.
func mainGraph(cfg config.ComposeConfig, in *media.Info, background string, layout Layout, text []textLayer, dur float64, output string) *ffmpeg.Stream {
	src := ffmpeg.Input(in.Path, ffmpeg.KwArgs{"t": seconds(dur)})

	video := overlayRegions(backgroundStream(cfg, background, dur), src.Video(), layout)
	video = finishVideo(drawText(video, text), cfg)

	audio := silentAudio(cfg, dur)
	if in.HasAudio {
		audio = src.Audio()
	}
	return ffmpeg.Output([]*ffmpeg.Stream{video, audio}, output, encodeArgs(cfg, dur))
}

// endCardGraph re-encodes the end-card with the main segment's parameters.
func endCardGraph(cfg config.ComposeConfig, in *media.Info, dur float64, output string) *ffmpeg.Stream {
	src := ffmpeg.Input(in.Path)
	video := finishVideo(src.Video().
		Filter("scale", ffmpeg.Args{}, ffmpeg.KwArgs{"w": cfg.Width, "h": cfg.Height}).
		Filter("setsar", ffmpeg.Args{}, ffmpeg.KwArgs{"sar": 1}), cfg)

	audio := silentAudio(cfg, dur)
	if in.HasAudio {
		audio = src.Audio()
	}
	return ffmpeg.Output([]*ffmpeg.Stream{video, audio}, output, encodeArgs(cfg, dur))
}
