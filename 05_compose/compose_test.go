package compose

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	ffmpeg "github.com/u2takey/ffmpeg-go"

	"twitch-shorts-pipeline/config"
	"twitch-shorts-pipeline/media"
	"twitch-shorts-pipeline/types"
)

type fakeProber struct {
	infos map[string]*media.Info
}

func (p *fakeProber) Probe(_ context.Context, path string) (*media.Info, error) {
	info, ok := p.infos[path]
	if !ok {
		return nil, errors.Errorf("invalid data found when processing input %s", path)
	}
	cp := *info
	cp.Path = path
	return &cp, nil
}

type fakeRunner struct {
	engine      *Engine
	runs        [][]string
	concats     [][]string
	failRun     int // 1-based index of the Run call that fails, 0 never
	failConcat  bool
	heldHandles []int64
}

func outputArg(args []string) string {
	for i := len(args) - 1; i >= 0; i-- {
		if strings.HasSuffix(args[i], ".mp4") {
			return args[i]
		}
	}
	return ""
}

func (r *fakeRunner) Run(_ context.Context, stream *ffmpeg.Stream) error {
	args := stream.GetArgs()
	r.runs = append(r.runs, args)
	if r.engine != nil {
		r.heldHandles = append(r.heldHandles, r.engine.OpenHandles())
	}
	out := outputArg(args)
	if err := os.WriteFile(out, []byte("rendered"), 0644); err != nil {
		return err
	}
	if r.failRun == len(r.runs) {
		return errors.New("ffmpeg exited with status 1")
	}
	return nil
}

func (r *fakeRunner) Concat(_ context.Context, _ string, inputs []string, output string) error {
	r.concats = append(r.concats, append([]string(nil), inputs...))
	if r.failConcat {
		return errors.New("concat failed")
	}
	return os.WriteFile(output, []byte("joined"), 0644)
}

type fixture struct {
	cfg    config.ComposeConfig
	dir    string
	input  string
	output string
	work   string
	prober *fakeProber
	runner *fakeRunner
	stages []Stage
}

func newFixture(t *testing.T, sourceDur float64) *fixture {
	t.Helper()
	dir := t.TempDir()

	cfg := config.Default().Compose
	cfg.AssetsDir = filepath.Join(dir, "assets")
	cfg.FontsDir = filepath.Join(dir, "fonts")
	require.NoError(t, os.MkdirAll(cfg.AssetsDir, 0755))

	input := filepath.Join(dir, "raw", "clip.mp4")
	require.NoError(t, os.MkdirAll(filepath.Dir(input), 0755))
	require.NoError(t, os.WriteFile(input, []byte("source"), 0644))

	return &fixture{
		cfg:    cfg,
		dir:    dir,
		input:  input,
		output: filepath.Join(dir, "out", "clip.mp4"),
		work:   filepath.Join(dir, "work"),
		prober: &fakeProber{infos: map[string]*media.Info{
			input: {Duration: sourceDur, Width: 1920, Height: 1080, HasVideo: true, HasAudio: true},
		}},
		runner: &fakeRunner{},
	}
}

func (f *fixture) engine() *Engine {
	e := New(f.cfg, f.prober, f.runner, f.work, zerolog.Nop())
	e.observe = func(s Stage) { f.stages = append(f.stages, s) }
	f.runner.engine = e
	return e
}

func (f *fixture) request(v types.Variant) Request {
	return Request{
		Input:              f.input,
		Output:             f.output,
		MaxDurationSeconds: 180,
		Clip:               types.ClipRecord{ID: "clip", Title: "Incroyable clutch en fin de partie", BroadcasterName: "streamer"},
		Variant:            v,
	}
}

func (f *fixture) addEndCard(t *testing.T, dur float64) string {
	t.Helper()
	p := filepath.Join(f.cfg.AssetsDir, f.cfg.EndCard)
	require.NoError(t, os.WriteFile(p, []byte("end"), 0644))
	if dur > 0 {
		f.prober.infos[p] = &media.Info{Duration: dur, Width: 1080, Height: 1920, HasVideo: true}
	}
	return p
}

func joined(args []string) string {
	return strings.Join(args, " ")
}

func requireReleased(t *testing.T, f *fixture, e *Engine) {
	t.Helper()
	require.Zero(t, e.OpenHandles())
	entries, err := os.ReadDir(f.work)
	if err == nil {
		require.Empty(t, entries, "compose workspace left behind")
	}
	require.Equal(t, StageClosed, f.stages[len(f.stages)-1])
}

var allStages = []Stage{
	StageLoaded, StageBackgroundPrepared, StageRegionsComposited,
	StageTextOverlaid, StageEndCardAppended, StageRendered, StageClosed,
}

func TestComposeGameplay(t *testing.T) {
	f := newFixture(t, 30)
	e := f.engine()

	out, err := e.Compose(context.Background(), f.request(types.VariantGameplay))
	require.NoError(t, err)
	require.Equal(t, f.output, out)
	require.FileExists(t, out)
	require.Equal(t, allStages, f.stages)
	requireReleased(t, f, e)

	require.Len(t, f.runner.runs, 1)
	require.Empty(t, f.runner.concats)
	args := joined(f.runner.runs[0])
	require.Contains(t, f.runner.runs[0], "30.000")
	require.Contains(t, args, "color=c=black:s=1080x1920:r=30")
	require.Contains(t, args, "crop")
	require.Contains(t, args, "overlay")
	require.Contains(t, args, "drawtext")
	require.Contains(t, args, "libx264")
	require.Contains(t, args, "aac")
	require.NotContains(t, args, "anullsrc")

	// source handle is held while ffmpeg runs
	require.Equal(t, []int64{1}, f.runner.heldHandles)
}

func TestComposeTruncatesToCeiling(t *testing.T) {
	f := newFixture(t, 3600)
	e := f.engine()

	_, err := e.Compose(context.Background(), f.request(types.VariantChatting))
	require.NoError(t, err)
	require.Contains(t, f.runner.runs[0], "180.000")
	require.NotContains(t, f.runner.runs[0], "3600.000")

	f2 := newFixture(t, 3600)
	req := f2.request(types.VariantChatting)
	req.MaxDurationSeconds = 60
	_, err = f2.engine().Compose(context.Background(), req)
	require.NoError(t, err)
	require.Contains(t, f2.runner.runs[0], "60.000")
}

func TestComposeSilentSourceGetsSilentTrack(t *testing.T) {
	f := newFixture(t, 20)
	f.prober.infos[f.input].HasAudio = false

	_, err := f.engine().Compose(context.Background(), f.request(types.VariantChatting))
	require.NoError(t, err)
	require.Contains(t, joined(f.runner.runs[0]), "anullsrc=r=44100:cl=stereo")
}

func TestComposeBackgroundImage(t *testing.T) {
	f := newFixture(t, 20)
	bg := filepath.Join(f.cfg.AssetsDir, f.cfg.BackgroundImage)
	require.NoError(t, os.WriteFile(bg, []byte("png"), 0644))
	e := f.engine()

	_, err := e.Compose(context.Background(), f.request(types.VariantGameplay))
	require.NoError(t, err)
	args := joined(f.runner.runs[0])
	require.Contains(t, args, bg)
	require.Contains(t, args, "-loop")
	require.NotContains(t, args, "color=c=")
	require.Equal(t, []int64{2}, f.runner.heldHandles)
	requireReleased(t, f, e)
}

func TestComposeFontFallback(t *testing.T) {
	f := newFixture(t, 20)
	_, err := f.engine().Compose(context.Background(), f.request(types.VariantGameplay))
	require.NoError(t, err)
	require.Contains(t, joined(f.runner.runs[0]), "font=Sans")

	f = newFixture(t, 20)
	require.NoError(t, os.MkdirAll(f.cfg.FontsDir, 0755))
	font := filepath.Join(f.cfg.FontsDir, f.cfg.TitleFont)
	require.NoError(t, os.WriteFile(font, []byte("ttf"), 0644))
	_, err = f.engine().Compose(context.Background(), f.request(types.VariantGameplay))
	require.NoError(t, err)
	args := joined(f.runner.runs[0])
	require.Contains(t, args, "fontfile="+font)
	// handle font is still missing
	require.Contains(t, args, "font=Sans")
}

func TestComposeWithoutTextSkipsDrawtext(t *testing.T) {
	f := newFixture(t, 20)
	req := f.request(types.VariantChatting)
	req.Clip = types.ClipRecord{ID: "clip"}

	_, err := f.engine().Compose(context.Background(), req)
	require.NoError(t, err)
	require.NotContains(t, joined(f.runner.runs[0]), "drawtext")
}

func TestComposeAppendsEndCard(t *testing.T) {
	f := newFixture(t, 3600)
	f.addEndCard(t, 5)
	e := f.engine()

	out, err := e.Compose(context.Background(), f.request(types.VariantGameplay))
	require.NoError(t, err)
	require.FileExists(t, out)
	requireReleased(t, f, e)

	require.Len(t, f.runner.runs, 2)
	require.Contains(t, f.runner.runs[0], "5.000")
	require.Contains(t, f.runner.runs[1], "175.000")
	require.Len(t, f.runner.concats, 1)
	require.Len(t, f.runner.concats[0], 2)
	require.Equal(t, "main.mp4", filepath.Base(f.runner.concats[0][0]))
	require.Equal(t, "end_card.mp4", filepath.Base(f.runner.concats[0][1]))
	require.Equal(t, []int64{2, 2}, f.runner.heldHandles)
}

func TestComposeSkipsEndCardThatDoesNotFit(t *testing.T) {
	for name, dur := range map[string]float64{"too long": 200, "unreadable": 0} {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, 30)
			f.addEndCard(t, dur)
			e := f.engine()

			_, err := e.Compose(context.Background(), f.request(types.VariantGameplay))
			require.NoError(t, err)
			require.Len(t, f.runner.runs, 1)
			require.Empty(t, f.runner.concats)
			requireReleased(t, f, e)
		})
	}
}

func TestComposeFailuresReleaseEverything(t *testing.T) {
	tests := []struct {
		name  string
		setup func(f *fixture)
		stage Stage
	}{
		{
			name:  "corrupt source",
			setup: func(f *fixture) { delete(f.prober.infos, f.input) },
			stage: StageLoaded,
		},
		{
			name:  "missing source",
			setup: func(f *fixture) { os.Remove(f.input) },
			stage: StageLoaded,
		},
		{
			name:  "zero duration",
			setup: func(f *fixture) { f.prober.infos[f.input].Duration = 0 },
			stage: StageLoaded,
		},
		{
			name:  "webcam outside frame",
			setup: func(f *fixture) { f.prober.infos[f.input].Width, f.prober.infos[f.input].Height = 4, 4 },
			stage: StageRegionsComposited,
		},
		{
			name:  "render fails",
			setup: func(f *fixture) { f.runner.failRun = 1 },
			stage: StageRendered,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 30)
			tt.setup(f)
			e := f.engine()

			out, err := e.Compose(context.Background(), f.request(types.VariantGameplay))
			require.Empty(t, out)
			require.ErrorIs(t, err, ErrNoOutput)

			var cerr *Error
			require.ErrorAs(t, err, &cerr)
			require.Equal(t, tt.stage, cerr.Stage)

			require.NoFileExists(t, f.output)
			requireReleased(t, f, e)
		})
	}
}

func TestComposeEndCardFailures(t *testing.T) {
	f := newFixture(t, 30)
	f.addEndCard(t, 5)
	f.runner.failRun = 1
	e := f.engine()

	_, err := e.Compose(context.Background(), f.request(types.VariantGameplay))
	var cerr *Error
	require.ErrorAs(t, err, &cerr)
	require.Equal(t, StageEndCardAppended, cerr.Stage)
	requireReleased(t, f, e)

	f = newFixture(t, 30)
	f.addEndCard(t, 5)
	f.runner.failConcat = true
	e = f.engine()

	_, err = e.Compose(context.Background(), f.request(types.VariantGameplay))
	require.ErrorIs(t, err, ErrNoOutput)
	require.ErrorAs(t, err, &cerr)
	require.Equal(t, StageRendered, cerr.Stage)
	require.NoFileExists(t, f.output)
	requireReleased(t, f, e)
}

func TestComposeEngineIsReusable(t *testing.T) {
	f := newFixture(t, 30)
	e := f.engine()

	f.runner.failRun = 1
	_, err := e.Compose(context.Background(), f.request(types.VariantGameplay))
	require.Error(t, err)

	out, err := e.Compose(context.Background(), f.request(types.VariantChatting))
	require.NoError(t, err)
	require.FileExists(t, out)
	require.Zero(t, e.OpenHandles())
}

func TestComposeRequiresPaths(t *testing.T) {
	f := newFixture(t, 30)
	_, err := f.engine().Compose(context.Background(), Request{Input: f.input, Variant: types.VariantGameplay})
	require.ErrorIs(t, err, ErrNoOutput)
}
