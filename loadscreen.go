package bedrock

import (
	"encoding/json"
	"fmt"
	"image/color"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/ebitenutil"
	"github.com/hajimehoshi/ebiten/v2/vector"
	"github.com/tanema/gween"
	"github.com/tanema/gween/ease"
)

// LoadScreenType is the registry name of the builtin load screen.
const LoadScreenType = "load_screen"

// LoadScreen shows the ContextManager's load progress as an eased bar with
// the status text under it. It never switches groups itself; the engine
// replaces it with the new group's entry point once loading completes.
type LoadScreen struct {
	*ContextBase
	cm *ContextManager

	// Duration is the tween length in seconds for each progress change.
	Duration float32
	Ease     ease.TweenFunc
	BarColor color.Color
	Width    float32
	Height   float32

	tween   *gween.Tween
	target  float32
	shown   float32
	status  string
	elapsed float64
}

// NewLoadScreen creates a load screen owned by g that reports on cm.
func NewLoadScreen(g *ContextGroup, name string, cm *ContextManager) *LoadScreen {
	return &LoadScreen{
		ContextBase: NewContextBase(name, g, ContextOptions{Overrides: true}),
		cm:          cm,
		Duration:    0.25,
		Ease:        ease.OutCubic,
		BarColor:    color.RGBA{R: 0x4c, G: 0xaf, B: 0x50, A: 0xff},
		Width:       320,
		Height:      12,
	}
}

type loadScreenOptions struct {
	Duration float32 `json:"duration,omitempty"`
	Width    float32 `json:"width,omitempty"`
	Height   float32 `json:"height,omitempty"`
}

func newLoadScreenFromConfig(g *ContextGroup, cfg ContextConfig) (Context, error) {
	ls := NewLoadScreen(g, cfg.Name, g.cm)
	ls.ContextBase = cfg.Base(g)
	ls.overrides = true
	if len(cfg.Options) > 0 {
		var o loadScreenOptions
		if err := json.Unmarshal(cfg.Options, &o); err != nil {
			return nil, fmt.Errorf("load screen options: %w", err)
		}
		if o.Duration > 0 {
			ls.Duration = o.Duration
		}
		if o.Width > 0 {
			ls.Width = o.Width
		}
		if o.Height > 0 {
			ls.Height = o.Height
		}
	}
	return ls, nil
}

// StartContext resets the bar so each load animates from zero.
func (l *LoadScreen) StartContext() {
	l.tween = nil
	l.target, l.shown = 0, 0
	l.elapsed = 0
	l.status = ""
	l.ContextBase.StartContext()
}

// Update polls the loader and advances the tween.
func (l *LoadScreen) Update(dt float64) {
	l.elapsed += dt
	p := float32(l.cm.LoadProgress())
	if p != l.target {
		l.target = p
		l.tween = gween.New(l.shown, p, l.Duration, l.Ease)
	}
	if l.tween != nil {
		v, done := l.tween.Update(float32(dt))
		l.shown = v
		if done {
			l.tween = nil
		}
	}
	l.status = l.cm.LoadStatus()
	l.ContextBase.Update(dt)
}

// Displayed returns the progress currently drawn, which trails the real
// progress by the tween.
func (l *LoadScreen) Displayed() float64 { return float64(l.shown) }

// Status returns the status text drawn under the bar.
func (l *LoadScreen) Status() string { return l.status }

func (l *LoadScreen) Render(target *ebiten.Image) {
	if target == nil {
		return
	}
	b := target.Bounds()
	x := (float32(b.Dx()) - l.Width) / 2
	y := (float32(b.Dy()) - l.Height) / 2
	vector.DrawFilledRect(target, x, y, l.Width, l.Height, color.Gray{Y: 0x30}, false)
	vector.DrawFilledRect(target, x, y, l.Width*l.shown, l.Height, l.BarColor, false)
	ebitenutil.DebugPrintAt(target, fmt.Sprintf("%s %3.0f%%", l.status, l.shown*100), int(x), int(y+l.Height)+4)
	l.ContextBase.Render(target)
}
