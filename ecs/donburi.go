// Package ecs provides ECS adapters for bedrock.
package ecs

import (
	"github.com/phanxgames/bedrock"

	"github.com/yohamta/donburi"
	"github.com/yohamta/donburi/features/events"
)

// LifecycleEventType is the Donburi event type for bedrock engine events.
var LifecycleEventType = events.NewEventType[bedrock.Event]()

type donburiSink struct {
	world donburi.World
}

// NewDonburiSink creates an EventSink backed by a Donburi world. Events are
// published to LifecycleEventType and can be consumed with Subscribe and
// ProcessEvents.
func NewDonburiSink(world donburi.World) bedrock.EventSink {
	return &donburiSink{world: world}
}

func (s *donburiSink) Emit(event bedrock.Event) {
	LifecycleEventType.Publish(s.world, event)
}
