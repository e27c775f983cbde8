package compose

import (
	"testing"

	"github.com/stretchr/testify/require"

	"twitch-shorts-pipeline/config"
	"twitch-shorts-pipeline/types"
)

var portrait = Canvas{Width: 1080, Height: 1920}

func TestGameplayLayout(t *testing.T) {
	cfg := config.Default().Compose

	l, err := PlanLayout(types.VariantGameplay, 1920, 1080, portrait, cfg)
	require.NoError(t, err)
	require.Len(t, l.Regions, 2)

	game, cam := l.Regions[0], l.Regions[1]
	require.Equal(t, "gameplay", game.Name)
	require.Equal(t, "webcam", cam.Name)

	require.Equal(t, Rect{X: 5, Y: 8, W: 537, H: 274}, cam.Crop)
	require.Equal(t, 633, cam.ScaleH)
	require.Equal(t, 1240, cam.ScaleW)
	require.Equal(t, (1080-1240)/2, cam.X)
	require.Equal(t, 0, cam.Y)

	require.Equal(t, Rect{X: 0, Y: 282, W: 1920, H: 798}, game.Crop)
	require.Equal(t, 1286, game.ScaleH)
	require.Equal(t, 3094, game.ScaleW)
	require.Equal(t, (1080-3094)/2, game.X)
	require.Equal(t, 633, game.Y)
}

func TestGameplayLayoutClampsWebcam(t *testing.T) {
	cfg := config.Default().Compose
	cfg.Webcam = config.Rect{X1: -10, Y1: -4, X2: 900, Y2: 100}

	l, err := PlanLayout(types.VariantGameplay, 640, 360, portrait, cfg)
	require.NoError(t, err)
	require.Equal(t, Rect{X: 0, Y: 0, W: 640, H: 100}, l.Regions[1].Crop)
	require.Equal(t, Rect{X: 0, Y: 100, W: 640, H: 260}, l.Regions[0].Crop)
}

func TestGameplayLayoutRejectsImpossibleWebcam(t *testing.T) {
	cfg := config.Default().Compose

	_, err := PlanLayout(types.VariantGameplay, 4, 4, portrait, cfg)
	require.Error(t, err)

	cfg.Webcam = config.Rect{X1: 0, Y1: 0, X2: 100, Y2: 400}
	_, err = PlanLayout(types.VariantGameplay, 640, 360, portrait, cfg)
	require.Error(t, err, "webcam covering the whole height leaves no gameplay area")
}

func TestChattingLayout(t *testing.T) {
	cfg := config.Default().Compose

	l, err := PlanLayout(types.VariantChatting, 1920, 1080, portrait, cfg)
	require.NoError(t, err)
	require.Len(t, l.Regions, 1)
	r := l.Regions[0]
	require.Equal(t, Rect{X: 656, Y: 0, W: 608, H: 1080}, r.Crop)
	require.Equal(t, 1080, r.ScaleW)
	require.Equal(t, 1920, r.ScaleH)
	require.Zero(t, r.X)
	require.Zero(t, r.Y)

	// a source narrower than the canvas is cropped top and bottom
	l, err = PlanLayout(types.VariantChatting, 720, 1920, portrait, cfg)
	require.NoError(t, err)
	require.Equal(t, Rect{X: 0, Y: 320, W: 720, H: 1280}, l.Regions[0].Crop)
}

func TestPlanLayoutErrors(t *testing.T) {
	cfg := config.Default().Compose
	_, err := PlanLayout(types.VariantChatting, 0, 1080, portrait, cfg)
	require.Error(t, err)
	_, err = PlanLayout(types.Variant("split"), 1920, 1080, portrait, cfg)
	require.Error(t, err)
}

func TestPlanBudget(t *testing.T) {
	tests := []struct {
		name                       string
		source, max, ceiling, card float64
		want                       Budget
	}{
		{"short clip untouched", 30, 180, 180, 0, Budget{Ceiling: 180, Main: 30}},
		{"long clip truncated", 3600, 180, 180, 0, Budget{Ceiling: 180, Main: 180}},
		{"request below ceiling", 3600, 60, 180, 0, Budget{Ceiling: 60, Main: 60}},
		{"request above ceiling", 3600, 600, 180, 0, Budget{Ceiling: 180, Main: 180}},
		{"no request", 3600, 0, 180, 0, Budget{Ceiling: 180, Main: 180}},
		{"end-card shortens main", 3600, 180, 180, 5, Budget{Ceiling: 180, Main: 175, EndCard: 5}},
		{"end-card after short clip", 30, 180, 180, 5, Budget{Ceiling: 180, Main: 30, EndCard: 5}},
		{"end-card too long", 30, 180, 180, 180, Budget{Ceiling: 180, Main: 30}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := PlanBudget(tt.source, tt.max, tt.ceiling, tt.card)
			require.NoError(t, err)
			require.Equal(t, tt.want, b)
			require.LessOrEqual(t, b.Total(), b.Ceiling)
		})
	}

	_, err := PlanBudget(0, 180, 180, 0)
	require.Error(t, err)
	_, err = PlanBudget(10, 0, 0, 0)
	require.Error(t, err)
}

func TestWrapTitle(t *testing.T) {
	require.Nil(t, WrapTitle("   ", 26))
	require.Equal(t, []string{"court"}, WrapTitle("court", 26))
	require.Equal(t,
		[]string{"Incroyable clutch en fin", "de partie classée"},
		WrapTitle("Incroyable clutch en fin de partie classée", 26))
	require.Equal(t, []string{"anticonstitutionnellement", "ok"}, WrapTitle("anticonstitutionnellement ok", 10))
	require.Equal(t, []string{"a b c"}, WrapTitle("a  b\tc", 0))
}
