// Package bedrock is a thread-coordinated application core for [Ebitengine]
// games: it decides which application state is live, when it is safe to
// change that decision, and how asset streaming is synchronised with it.
//
// A run has four goroutines. The update goroutine calls [Engine.Run] and
// owns the context stack. The render goroutine draws the visible part of
// the stack and uploads textures. The context loader streams
// [ContextGroup]s in and out, and the data loader decodes assets into
// [DataHandler]s.
//
// # Quick start
//
// Build an [App] from a JSON [Config] and run it next to Ebitengine:
//
//	cfg, err := bedrock.LoadConfigFile("game.json")
//	if err != nil {
//		log.Fatal(err)
//	}
//	reg := bedrock.NewRegistry()
//	reg.Register("title", newTitleScreen)
//	app, err := bedrock.NewApp(cfg, bedrock.AppOptions{Registry: reg})
//	if err != nil {
//		log.Fatal(err)
//	}
//	go func() { done <- app.Run() }()
//	ebiten.RunGame(app.Presenter.(*bedrock.EbitenPresenter))
//
// # Context stack
//
// Every state is a [Context]. Contexts are owned by a group and addressed
// by [ContextHandle]. Requests such as [Engine.OpenContext] or
// [Engine.CloseContext] may come from any goroutine; they are queued and
// applied by the update goroutine between ticks. Only the contexts from the
// top of the stack down to the first one whose OverridesPreviousContext
// reports true are updated and rendered.
//
// # Stack lock
//
// [LockMutex] (default) serialises the update and render goroutines with a
// fair lock. [LockTurns] forces them to alternate strictly using a
// [CircularLatch].
//
// # Shutdown
//
// A failure on any managed goroutine is fatal: [RuntimeState.Fail] sets the
// quit and error flags and wakes every goroutine blocked on a [Condition],
// the latch or the stack lock.
//
// [Ebitengine]: https://ebitengine.org
package bedrock
