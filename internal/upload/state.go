package upload

import "vanish-drop/internal/apperr"

type State int

const (
	StateIdle State = iota
	StateCollecting
	StateAwaitingCaption
	StateAwaitingTTL
	StateCommitted
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCollecting:
		return "collecting"
	case StateAwaitingCaption:
		return "awaiting-caption"
	case StateAwaitingTTL:
		return "awaiting-ttl"
	case StateCommitted:
		return "committed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

type Event int

const (
	EventItem Event = iota
	EventMore
	EventFinish
	EventCaption
	EventSkipCaption
	EventTTL
	EventCancel
)

func (e Event) String() string {
	switch e {
	case EventItem:
		return "item"
	case EventMore:
		return "more"
	case EventFinish:
		return "finish"
	case EventCaption:
		return "caption"
	case EventSkipCaption:
		return "skip-caption"
	case EventTTL:
		return "ttl"
	case EventCancel:
		return "cancel"
	default:
		return "unknown"
	}
}

// transition is total over (State, Event). Anything not listed is a
// protocol violation and leaves the state untouched.
func transition(from State, ev Event) (State, error) {
	switch from {
	case StateIdle:
		if ev == EventItem {
			return StateCollecting, nil
		}
	case StateCollecting:
		switch ev {
		case EventItem, EventMore:
			return StateCollecting, nil
		case EventFinish:
			return StateAwaitingCaption, nil
		case EventCancel:
			return StateCancelled, nil
		}
	case StateAwaitingCaption:
		switch ev {
		case EventCaption, EventSkipCaption:
			return StateAwaitingTTL, nil
		case EventCancel:
			return StateCancelled, nil
		}
	case StateAwaitingTTL:
		if ev == EventTTL {
			return StateCommitted, nil
		}
	}
	return from, apperr.Protocol("upload", ev.String()+" not allowed while "+from.String())
}
