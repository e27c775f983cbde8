// Package media runs ffmpeg and ffprobe for the composition stage.
package media

import (
	"bufio"
	"context"
	"io"
	"os/exec"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	ffmpeg "github.com/u2takey/ffmpeg-go"
)

// Executor handles all ffmpeg operations and streams their output to the logger.
type Executor struct {
	logger     zerolog.Logger
	ffmpegPath string
}

// New creates an executor. Both ffmpeg and ffprobe must be on PATH.
func New(logger zerolog.Logger) (*Executor, error) {
	ffmpegPath, err := exec.LookPath("ffmpeg")
	if err != nil {
		return nil, errors.Wrap(err, "ffmpeg not found in PATH")
	}
	// ffmpeg-go's Probe resolves ffprobe itself
	if _, err := exec.LookPath("ffprobe"); err != nil {
		return nil, errors.Wrap(err, "ffprobe not found in PATH")
	}
	return &Executor{
		logger:     logger.With().Str("component", "ffmpeg").Logger(),
		ffmpegPath: ffmpegPath,
	}, nil
}

// Run compiles an ffmpeg-go graph and executes it.
func (e *Executor) Run(ctx context.Context, stream *ffmpeg.Stream) error {
	if stream == nil {
		return errors.New("no ffmpeg graph provided")
	}
	return e.RunArgs(ctx, stream.OverWriteOutput().GetArgs())
}

// RunArgs executes ffmpeg with raw arguments.
func (e *Executor) RunArgs(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("no arguments provided")
	}
	full := append([]string{"-hide_banner", "-nostdin", "-loglevel", "info"}, args...)

	e.logger.Debug().Strs("args", full).Msg("executing ffmpeg")

	cmd := exec.CommandContext(ctx, e.ffmpegPath, full...)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return errors.Wrap(err, "create stderr pipe")
	}
	if err := cmd.Start(); err != nil {
		return errors.Wrap(err, "start ffmpeg")
	}

	tail := &tailBuffer{max: 8}
	e.stream(stderr, tail)

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errors.Wrapf(err, "ffmpeg failed: %s", tail.String())
	}
	return nil
}

func (e *Executor) stream(r io.Reader, tail *tailBuffer) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		tail.add(line)
		e.logger.Debug().Str("ffmpeg", line).Msg("render")
	}
}

// tailBuffer keeps the last lines of ffmpeg output for error messages.
type tailBuffer struct {
	max   int
	lines []string
}

func (t *tailBuffer) add(line string) {
	if strings.TrimSpace(line) == "" {
		return
	}
	t.lines = append(t.lines, line)
	if len(t.lines) > t.max {
		t.lines = t.lines[len(t.lines)-t.max:]
	}
}

func (t *tailBuffer) String() string {
	return strings.Join(t.lines, " | ")
}
