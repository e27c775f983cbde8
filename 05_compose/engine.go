// Package compose turns a landscape Twitch clip into a vertical short.
package compose

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	ffmpeg "github.com/u2takey/ffmpeg-go"

	"twitch-shorts-pipeline/config"
	"twitch-shorts-pipeline/media"
	"twitch-shorts-pipeline/types"
)

// ErrNoOutput is wrapped by every composition failure.
var ErrNoOutput = errors.New("composition produced no output")

// Stage is a step of one composition.
type Stage string

const (
	StageLoaded             Stage = "loaded"
	StageBackgroundPrepared Stage = "background_prepared"
	StageRegionsComposited  Stage = "regions_composited"
	StageTextOverlaid       Stage = "text_overlaid"
	StageEndCardAppended    Stage = "end_card_appended"
	StageRendered           Stage = "rendered"
	StageClosed             Stage = "closed"
)

// Error reports the stage a composition failed in.
type Error struct {
	Stage Stage
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("compose failed at %s: %v", e.Stage, e.Err)
}

func (e *Error) Unwrap() []error {
	return []error{ErrNoOutput, e.Err}
}

// Prober inspects media files.
type Prober interface {
	Probe(ctx context.Context, path string) (*media.Info, error)
}

// Runner executes ffmpeg graphs.
type Runner interface {
	Run(ctx context.Context, stream *ffmpeg.Stream) error
	Concat(ctx context.Context, workDir string, inputs []string, output string) error
}

// Request describes one composition.
type Request struct {
	Input              string
	Output             string
	MaxDurationSeconds float64
	Clip               types.ClipRecord
	Variant            types.Variant
}

// Engine composes shorts. One Engine may serve many sequential calls.
type Engine struct {
	cfg      config.ComposeConfig
	prober   Prober
	runner   Runner
	workRoot string
	logger   zerolog.Logger

	openHandles atomic.Int64
	observe     func(Stage)
}

// New creates an Engine. Per-call scratch files live under workRoot.
func New(cfg config.ComposeConfig, prober Prober, runner Runner, workRoot string, logger zerolog.Logger) *Engine {
	return &Engine{
		cfg:      cfg,
		prober:   prober,
		runner:   runner,
		workRoot: workRoot,
		logger:   logger,
	}
}

// OpenHandles reports media handles currently held by in-flight compositions.
func (e *Engine) OpenHandles() int64 {
	return e.openHandles.Load()
}

func (e *Engine) reached(s Stage) {
	e.logger.Debug().Str("stage", string(s)).Msg("compose")
	if e.observe != nil {
		e.observe(s)
	}
}

// Compose renders req.Input into req.Output and returns the output path.
// On failure no output file is left behind and the error wraps ErrNoOutput.
func (e *Engine) Compose(ctx context.Context, req Request) (out string, err error) {
	stage := StageLoaded
	fail := func(cause error) (string, error) {
		return "", &Error{Stage: stage, Err: cause}
	}

	if req.Input == "" || req.Output == "" {
		return fail(errors.New("input and output paths are required"))
	}
	s, err := e.newSession(e.workRoot)
	if err != nil {
		return fail(err)
	}
	defer func() {
		s.close()
		if err != nil {
			os.Remove(req.Output)
			out = ""
		}
		e.reached(StageClosed)
	}()

	// Loaded
	if err := s.open(req.Input); err != nil {
		return fail(errors.Wrap(err, "open source"))
	}
	src, err := e.prober.Probe(ctx, req.Input)
	if err != nil {
		return fail(errors.Wrap(err, "unreadable source"))
	}
	endCard := e.loadEndCard(ctx, s)
	var endCardDur float64
	if endCard != nil {
		endCardDur = endCard.Duration
	}
	budget, err := PlanBudget(src.Duration, req.MaxDurationSeconds, e.cfg.HardCeilingSec, endCardDur)
	if err != nil {
		return fail(err)
	}
	if endCard != nil && budget.EndCard == 0 {
		e.logger.Warn().Float64("end_card", endCardDur).Float64("ceiling", budget.Ceiling).Msg("end-card does not fit, skipping it")
	}
	e.reached(StageLoaded)

	stage = StageBackgroundPrepared
	background := e.background(s)
	e.reached(StageBackgroundPrepared)

	stage = StageRegionsComposited
	layout, err := PlanLayout(req.Variant, src.Width, src.Height, Canvas{Width: e.cfg.Width, Height: e.cfg.Height}, e.cfg)
	if err != nil {
		return fail(err)
	}
	e.reached(StageRegionsComposited)

	stage = StageTextOverlaid
	text, err := e.textLayers(s, req.Clip)
	if err != nil {
		return fail(err)
	}
	e.reached(StageTextOverlaid)

	stage = StageEndCardAppended
	mainOut := req.Output
	var endCardOut string
	if budget.EndCard > 0 {
		mainOut = s.path("main.mp4")
		endCardOut = s.path("end_card.mp4")
		if err := e.runner.Run(ctx, endCardGraph(e.cfg, endCard, budget.EndCard, endCardOut)); err != nil {
			return fail(errors.Wrap(err, "prepare end-card"))
		}
	}
	e.reached(StageEndCardAppended)

	stage = StageRendered
	if err := os.MkdirAll(filepath.Dir(req.Output), 0755); err != nil {
		return fail(errors.Wrap(err, "create output dir"))
	}
	if err := e.runner.Run(ctx, mainGraph(e.cfg, src, background, layout, text, budget.Main, mainOut)); err != nil {
		return fail(errors.Wrap(err, "render"))
	}
	if endCardOut != "" {
		if err := e.runner.Concat(ctx, s.dir, []string{mainOut, endCardOut}, req.Output); err != nil {
			return fail(errors.Wrap(err, "append end-card"))
		}
	}
	info, err := os.Stat(req.Output)
	if err != nil || info.Size() == 0 {
		return fail(errors.Errorf("no rendered file at %s", req.Output))
	}
	e.reached(StageRendered)

	e.logger.Info().
		Str("clip", req.Clip.ID).
		Str("variant", string(req.Variant)).
		Float64("duration", budget.Total()).
		Bool("end_card", budget.EndCard > 0).
		Str("output", req.Output).
		Msg("short composed")
	return req.Output, nil
}

// background returns the background image path, or "" for a solid colour.
func (e *Engine) background(s *session) string {
	p := e.cfg.Asset(e.cfg.BackgroundImage)
	if p == "" {
		return ""
	}
	if err := s.open(p); err != nil {
		e.logger.Debug().Err(err).Msg("background image unavailable, using solid colour")
		return ""
	}
	return p
}

func (e *Engine) loadEndCard(ctx context.Context, s *session) *media.Info {
	p := e.cfg.Asset(e.cfg.EndCard)
	if p == "" {
		return nil
	}
	if err := s.open(p); err != nil {
		e.logger.Debug().Err(err).Msg("no end-card")
		return nil
	}
	info, err := e.prober.Probe(ctx, p)
	if err != nil {
		e.logger.Warn().Err(err).Str("path", p).Msg("end-card unreadable, skipping it")
		return nil
	}
	if info.Duration <= 0 {
		return nil
	}
	return info
}

func (e *Engine) textLayers(s *session, clip types.ClipRecord) ([]textLayer, error) {
	var layers []textLayer

	if lines := WrapTitle(clip.Title, e.cfg.TitleMaxLineChar); len(lines) > 0 {
		p, err := s.writeText("title.txt", strings.Join(lines, "\n"))
		if err != nil {
			return nil, err
		}
		layers = append(layers, textLayer{
			TextFile: p,
			FontFile: e.font(e.cfg.TitleFont),
			Size:     e.cfg.TitleFontSize,
			Stroke:   e.cfg.TitleStroke,
			Y:        fmt.Sprintf("%d", e.cfg.TextMargin),
		})
	}

	if handle := clip.Handle(); handle != "" {
		p, err := s.writeText("handle.txt", handle)
		if err != nil {
			return nil, err
		}
		layers = append(layers, textLayer{
			TextFile: p,
			FontFile: e.font(e.cfg.HandleFont),
			Size:     e.cfg.HandleFontSize,
			Stroke:   e.cfg.HandleStroke,
			Y:        fmt.Sprintf("h-text_h-%d", e.cfg.TextMargin),
		})
	}
	return layers, nil
}

// font returns the preferred font file, or "" to fall back to the default face.
func (e *Engine) font(name string) string {
	p := e.cfg.Font(name)
	if p == "" {
		return ""
	}
	if info, err := os.Stat(p); err != nil || info.IsDir() {
		e.logger.Debug().Str("font", p).Msg("font not found, using default face")
		return ""
	}
	return p
}
