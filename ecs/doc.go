// Package ecs provides ECS adapters for bedrock's engine lifecycle events.
//
// The primary adapter is [NewDonburiSink], which publishes engine events
// (contexts started and stopped, stack changes, group switches, pause) into
// a [Donburi] world as typed events. Subscribe to [LifecycleEventType] in
// your ECS systems to receive them.
//
// Usage:
//
//	sink := ecs.NewDonburiSink(world)
//	app, err := bedrock.NewApp(cfg, bedrock.AppOptions{Events: sink})
//
// Events are emitted on the update goroutine; process them from a context's
// Update so the world is only touched by that goroutine.
//
// [Donburi]: https://github.com/yohamta/donburi
package ecs
