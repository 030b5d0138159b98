package bedrock

import (
	"sync"

	"github.com/hajimehoshi/ebiten/v2"
)

// Presenter supplies the render goroutine with a target for each frame and
// shows it when the frame is complete.
type Presenter interface {
	// Begin returns a cleared target for the next frame.
	Begin() *ebiten.Image
	// Present publishes the frame drawn since Begin.
	Present()
}

// EbitenPresenter double-buffers frames drawn on the render goroutine and
// hands the latest complete one to Ebitengine. Pass it to ebiten.RunGame on
// the main goroutine.
type EbitenPresenter struct {
	width, height int
	rt            *RuntimeState

	mu     sync.Mutex
	back   *ebiten.Image
	front  *ebiten.Image
	frames uint64

	// OnUpdate runs on the Ebitengine goroutine every tick, after the engine
	// bindings and before the quit check. Nil by default.
	OnUpdate func() error

	input *engineInput // set by NewApp from Config.Input
}

// NewEbitenPresenter creates a presenter with a logical screen of w by h.
// The game loop terminates once rt quits.
func NewEbitenPresenter(rt *RuntimeState, w, h int) *EbitenPresenter {
	return &EbitenPresenter{
		width:  w,
		height: h,
		rt:     rt,
		back:   ebiten.NewImage(w, h),
		front:  ebiten.NewImage(w, h),
	}
}

var _ ebiten.Game = (*EbitenPresenter)(nil)

// Begin returns the back buffer, cleared, for the next frame.
func (p *EbitenPresenter) Begin() *ebiten.Image {
	p.mu.Lock()
	back := p.back
	p.mu.Unlock()
	back.Clear()
	return back
}

// Present swaps the finished back buffer to the front.
func (p *EbitenPresenter) Present() {
	p.mu.Lock()
	p.back, p.front = p.front, p.back
	p.frames++
	p.mu.Unlock()
}

// Frames returns the number of presented frames.
func (p *EbitenPresenter) Frames() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.frames
}

// Update implements ebiten.Game.
func (p *EbitenPresenter) Update() error {
	if p.input != nil {
		p.input.poll()
	}
	if p.OnUpdate != nil {
		if err := p.OnUpdate(); err != nil {
			return err
		}
	}
	if p.rt.QuitRequested() {
		return ebiten.Termination
	}
	return nil
}

// Draw implements ebiten.Game.
func (p *EbitenPresenter) Draw(screen *ebiten.Image) {
	p.mu.Lock()
	defer p.mu.Unlock()
	screen.DrawImage(p.front, nil)
}

// Layout implements ebiten.Game.
func (p *EbitenPresenter) Layout(_, _ int) (int, int) {
	return p.width, p.height
}
