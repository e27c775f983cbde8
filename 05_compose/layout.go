package compose

import (
	"math"
	"strings"

	"github.com/pkg/errors"

	"twitch-shorts-pipeline/config"
	"twitch-shorts-pipeline/types"
)

// Canvas is the output frame.
type Canvas struct {
	Width  int
	Height int
}

// Rect is a crop window in source pixels.
type Rect struct {
	X, Y, W, H int
}

// Region is one piece of the source placed on the canvas: crop, scale, position.
type Region struct {
	Name   string
	Crop   Rect
	ScaleW int
	ScaleH int
	X, Y   int
}

// Layout lists the regions in drawing order.
type Layout struct {
	Variant types.Variant
	Regions []Region
}

// PlanLayout computes the regions for a variant from the source frame size.
func PlanLayout(v types.Variant, srcW, srcH int, canvas Canvas, cfg config.ComposeConfig) (Layout, error) {
	if srcW <= 0 || srcH <= 0 {
		return Layout{}, errors.Errorf("invalid source frame %dx%d", srcW, srcH)
	}
	switch v {
	case types.VariantGameplay:
		return gameplayLayout(srcW, srcH, canvas, cfg.Webcam, cfg.TopRatio, cfg.BottomRatio)
	case types.VariantChatting:
		return chattingLayout(srcW, srcH, canvas), nil
	}
	return Layout{}, errors.Errorf("unknown variant %q", v)
}

// gameplayLayout stacks the webcam over the game area: the webcam crop fills
// the top share of the canvas, everything below the webcam's bottom edge
// fills the bottom share. Both are centred horizontally and may overflow.
func gameplayLayout(srcW, srcH int, canvas Canvas, cam config.Rect, topRatio, bottomRatio float64) (Layout, error) {
	x1, y1 := max(cam.X1, 0), max(cam.Y1, 0)
	x2, y2 := min(cam.X2, srcW), min(cam.Y2, srcH)
	if x2 <= x1 || y2 <= y1 {
		return Layout{}, errors.Errorf("webcam region (%d,%d)-(%d,%d) lies outside the %dx%d frame",
			cam.X1, cam.Y1, cam.X2, cam.Y2, srcW, srcH)
	}
	if y2 >= srcH {
		return Layout{}, errors.Errorf("no gameplay area below webcam edge y=%d in a %d high frame", y2, srcH)
	}

	topH := int(math.Floor(float64(canvas.Height) * topRatio))
	bottomH := int(math.Floor(float64(canvas.Height) * bottomRatio))

	camCrop := Rect{X: x1, Y: y1, W: x2 - x1, H: y2 - y1}
	camW := scaledWidth(camCrop.W, camCrop.H, topH)

	gameCrop := Rect{X: 0, Y: y2, W: srcW, H: srcH - y2}
	gameW := scaledWidth(gameCrop.W, gameCrop.H, bottomH)

	return Layout{
		Variant: types.VariantGameplay,
		Regions: []Region{
			{Name: "gameplay", Crop: gameCrop, ScaleW: gameW, ScaleH: bottomH, X: (canvas.Width - gameW) / 2, Y: topH},
			{Name: "webcam", Crop: camCrop, ScaleW: camW, ScaleH: topH, X: (canvas.Width - camW) / 2, Y: 0},
		},
	}, nil
}

// chattingLayout cover-scales the whole frame and keeps the centre.
func chattingLayout(srcW, srcH int, canvas Canvas) Layout {
	crop := Rect{W: srcW, H: srcH}
	// compare srcW/srcH with canvas.Width/canvas.Height without floats
	if srcW*canvas.Height > canvas.Width*srcH {
		crop.W = min(even(int(math.Round(float64(srcH)*float64(canvas.Width)/float64(canvas.Height)))), srcW)
		crop.X = (srcW - crop.W) / 2
	} else {
		crop.H = min(even(int(math.Round(float64(srcW)*float64(canvas.Height)/float64(canvas.Width)))), srcH)
		crop.Y = (srcH - crop.H) / 2
	}
	return Layout{
		Variant: types.VariantChatting,
		Regions: []Region{
			{Name: "full", Crop: crop, ScaleW: canvas.Width, ScaleH: canvas.Height},
		},
	}
}

func scaledWidth(w, h, targetH int) int {
	return even(int(math.Round(float64(w) * float64(targetH) / float64(h))))
}

func even(n int) int {
	if n < 2 {
		return 2
	}
	return n - n%2
}

// Budget is how much of the source and end-card end up in the output.
type Budget struct {
	Ceiling float64
	Main    float64
	EndCard float64
}

// Total is the output duration.
func (b Budget) Total() float64 {
	return b.Main + b.EndCard
}

// PlanBudget truncates the source so the whole short, end-card included,
// fits the ceiling. An end-card that leaves no room for the clip is dropped.
func PlanBudget(sourceDur, maxDur, hardCeiling, endCardDur float64) (Budget, error) {
	if sourceDur <= 0 {
		return Budget{}, errors.Errorf("source has no duration (%.3fs)", sourceDur)
	}
	ceiling := hardCeiling
	if maxDur > 0 && (ceiling <= 0 || maxDur < ceiling) {
		ceiling = maxDur
	}
	if ceiling <= 0 {
		return Budget{}, errors.New("no positive duration ceiling")
	}

	b := Budget{Ceiling: ceiling}
	if endCardDur > 0 && endCardDur < ceiling {
		b.EndCard = endCardDur
	}
	b.Main = math.Min(sourceDur, ceiling-b.EndCard)
	return b, nil
}

// WrapTitle breaks text into lines of at most width runes on word boundaries.
// Words longer than width are kept whole.
func WrapTitle(text string, width int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	if width <= 0 {
		return []string{strings.Join(words, " ")}
	}

	var lines []string
	line := words[0]
	for _, w := range words[1:] {
		if len([]rune(line))+1+len([]rune(w)) > width {
			lines = append(lines, line)
			line = w
			continue
		}
		line += " " + w
	}
	return append(lines, line)
}
