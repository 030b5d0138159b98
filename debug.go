package bedrock

import (
	"fmt"
	"image/color"
	"strings"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/ebitenutil"
)

// DebugOverlayType is the registry name of the debug overlay that NewApp
// registers.
const DebugOverlayType = "debug_overlay"

// debugRefresh is how often, in seconds, the overlay text is rebuilt.
const debugRefresh = 0.5

// DebugOverlay draws loop rates, the visible window and loader state in the
// top-left corner. It never overrides the contexts below it.
type DebugOverlay struct {
	*ContextBase
	engine func() *Engine

	sinceRefresh float64
	text         string
	bg           *ebiten.Image
}

// NewDebugOverlay creates an overlay owned by g reporting on the engine
// returned by engine, which may be resolved lazily.
func NewDebugOverlay(g *ContextGroup, name string, engine func() *Engine) *DebugOverlay {
	return &DebugOverlay{
		ContextBase: NewContextBase(name, g, ContextOptions{}),
		engine:      engine,
		// Refresh on the first update.
		sinceRefresh: debugRefresh,
	}
}

func (d *DebugOverlay) Update(dt float64) {
	d.sinceRefresh += dt
	if d.sinceRefresh < debugRefresh {
		return
	}
	d.sinceRefresh = 0
	e := d.engine()
	if e == nil {
		return
	}
	u, r := e.UpdateStats(), e.RenderStats()
	var b strings.Builder
	fmt.Fprintf(&b, "UPS: %.1f (min %.1f)\n", u.AvgFPS, u.MinFPS)
	fmt.Fprintf(&b, "FPS: %.1f (min %.1f)\n", r.AvgFPS, r.MinFPS)
	fmt.Fprintf(&b, "window: %s\n", strings.Join(e.VisibleContexts(), " > "))
	if g := e.CurrentContextGroup(); g != nil {
		fmt.Fprintf(&b, "group: %s\n", g.Name())
	}
	if e.dm.IsLoading() || e.dm.PendingUploads() > 0 {
		fmt.Fprintf(&b, "loading: %d uploads pending\n", e.dm.PendingUploads())
	}
	if e.IsPaused() {
		b.WriteString("paused\n")
	}
	d.text = b.String()
}

// Text returns the text drawn by the overlay.
func (d *DebugOverlay) Text() string { return d.text }

func (d *DebugOverlay) Render(target *ebiten.Image) {
	if target == nil || d.text == "" {
		return
	}
	if d.bg == nil {
		d.bg = ebiten.NewImage(220, 16)
		// Semi-transparent background for readability
		d.bg.Fill(color.RGBA{0, 0, 0, 128})
	}
	op := &ebiten.DrawImageOptions{}
	op.GeoM.Scale(1, float64(strings.Count(d.text, "\n")+1))
	target.DrawImage(d.bg, op)
	ebitenutil.DebugPrint(target, d.text)
}
