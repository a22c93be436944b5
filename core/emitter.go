package kernel

import "github.com/SeleneOSv1/Selene-OS-sub006/core/events"

type eventEmitter func(events.Event)

func noopEventEmitter(events.Event) {}
