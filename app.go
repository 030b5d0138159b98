package bedrock

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// Thread names registered by App.
const (
	ThreadDataLoader    = "data-loader"
	ThreadContextLoader = "context-loader"
	ThreadRender        = "render"
	ThreadAssetWatch    = "asset-watch"
)

// AppOptions overrides what NewApp would otherwise build from the config.
type AppOptions struct {
	Registry  *Registry       // context types; nil means NewRegistry()
	Log       *zerolog.Logger // nil means a console logger on stderr
	FS        fs.FS           // asset files; nil means os.DirFS(AssetRoot)
	Presenter Presenter       // nil means an EbitenPresenter, unless Headless
	Events    EventSink
	Headless  bool
}

// App wires every subsystem for one run from a Config.
type App struct {
	Config    *Config
	Log       zerolog.Logger
	Runtime   *RuntimeState
	Threads   *ThreadManager
	Data      *DataManager
	Contexts  *ContextManager
	Engine    *Engine
	Presenter Presenter
}

// NewApp validates cfg and builds, without starting, every subsystem.
func NewApp(cfg *Config, opts AppOptions) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var log zerolog.Logger
	if opts.Log != nil {
		log = *opts.Log
	} else {
		l, err := NewLogger(os.Stderr, cfg.LogLevel)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrConfig, err)
		}
		log = l
	}
	reg := opts.Registry
	if reg == nil {
		reg = NewRegistry()
	}
	fsys := opts.FS
	if fsys == nil {
		root := cfg.AssetRoot
		if root == "" {
			root = "."
		}
		fsys = os.DirFS(root)
	}

	rt := NewRuntimeState()
	a := &App{
		Config:  cfg,
		Log:     log,
		Runtime: rt,
		Threads: NewThreadManager(rt, log),
	}
	reg.Register(DebugOverlayType, func(g *ContextGroup, cc ContextConfig) (Context, error) {
		o := NewDebugOverlay(g, cc.Name, func() *Engine { return a.Engine })
		o.ContextBase = cc.Base(g)
		o.overrides = false
		return o, nil
	})
	a.Data = NewDataManager(rt, log, DataOptions{FS: fsys, SampleRate: cfg.Audio.SampleRate})
	if cfg.AssetIndex != "" {
		if err := a.Data.Configure(cfg.AssetIndex); err != nil {
			return nil, err
		}
	}
	a.Contexts = NewContextManager(rt, log, a.Data)
	if err := a.Contexts.Configure(reg, cfg.Global, cfg.Groups, cfg.EntryGroup); err != nil {
		return nil, err
	}

	a.Presenter = opts.Presenter
	if a.Presenter == nil && !opts.Headless {
		a.Presenter = NewEbitenPresenter(rt, cfg.Window.Width, cfg.Window.Height)
	}
	eng, err := NewEngine(rt, log, a.Contexts, a.Data, EngineOptions{
		Config:    cfg.Engine,
		Presenter: a.Presenter,
		Events:    opts.Events,
	})
	if err != nil {
		return nil, err
	}
	a.Engine = eng
	if p, ok := a.Presenter.(*EbitenPresenter); ok && len(cfg.Input) > 0 {
		p.input = newEngineInput(cfg.Input, eng)
	}

	threads := map[string]ThreadFunc{
		ThreadDataLoader:    a.Data.Run,
		ThreadContextLoader: a.Contexts.Run,
		ThreadRender:        a.Engine.RenderLoop,
	}
	// The watcher reloads from AssetRoot on disk, which is only the source
	// Configure read when no FS was supplied.
	switch {
	case cfg.WatchAssets && opts.FS != nil:
		log.Warn().Msg("asset watch disabled: assets come from a custom filesystem")
	case cfg.WatchAssets:
		path := filepath.Join(cfg.AssetRoot, cfg.AssetIndex)
		threads[ThreadAssetWatch] = func(h *ThreadHandler) error {
			if !h.Start() {
				return nil
			}
			h.Running()
			defer h.Closing()
			return a.Data.WatchIndex(h.Context(), path)
		}
	}
	for _, name := range []string{ThreadDataLoader, ThreadContextLoader, ThreadRender, ThreadAssetWatch} {
		if fn, ok := threads[name]; ok {
			if err := a.Threads.Register(name, fn); err != nil {
				return nil, err
			}
		}
	}
	return a, nil
}

// Run starts the managed goroutines, loads the entry group, and drives the
// update loop on the calling goroutine until the run ends. With an
// EbitenPresenter, call Run from a secondary goroutine and ebiten.RunGame
// from the main one.
func (a *App) Run() error {
	if err := a.Threads.StartAll(); err != nil {
		a.Threads.StopAll()
		_ = a.Threads.Join()
		return err
	}

	g, err := a.Contexts.LoadEntryPoint(a.Runtime.Context())
	if err == nil {
		err = a.Engine.OpenContextStack(g.EntryPoint())
	}
	if err != nil {
		a.Threads.Error(err)
		_ = a.Threads.Join()
		a.release()
		return err
	}

	runErr := a.Engine.Run()
	joinErr := a.Threads.Join()
	a.release()
	if runErr != nil {
		return runErr
	}
	return joinErr
}

// release frees every group's data once no managed goroutine is left.
func (a *App) release() {
	a.Contexts.UnloadAll()
	if err := a.Data.ProcessPending(context.Background()); err != nil {
		a.Log.Warn().Err(err).Msg("release data")
	}
}

// Quit ends the run.
func (a *App) Quit() { a.Runtime.Quit() }
