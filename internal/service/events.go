package service

import (
	"github.com/ewhitmore/lmsx/internal/tree"
)

// EventType distinguishes the events the facade emits toward the UI
type EventType int

const (
	// EventConnectionChanged fires on connect and disconnect
	EventConnectionChanged EventType = iota

	// EventNodeState fires on every tree node state transition
	EventNodeState

	// EventFetchError fires for fetch failures worth surfacing, one
	// consolidated event per failed operation rather than one per page
	EventFetchError
)

// Event is one notification for progress indicators and status display
type Event struct {
	Type      EventType
	Connected bool        // EventConnectionChanged
	Node      *tree.Node  // EventNodeState
	State     tree.State  // EventNodeState
	Op        string      // EventFetchError: failing operation
	Err       error       // EventFetchError
}

// emit delivers an event without ever blocking a fetch; a slow or absent
// consumer drops events rather than stalling the core.
func (s *Service) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
	}
}
