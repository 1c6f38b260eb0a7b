package table

// State is the engine's lifecycle state.
type State int

const (
	StateConstructing State = iota
	StateConfiguring
	StateBuildingBody
	StateMounted
	StateReady
	StateDispatching
	StateResetting
)

func (s State) String() string {
	switch s {
	case StateConstructing:
		return "constructing"
	case StateConfiguring:
		return "configuring"
	case StateBuildingBody:
		return "building-body"
	case StateMounted:
		return "mounted"
	case StateReady:
		return "ready"
	case StateDispatching:
		return "dispatching"
	case StateResetting:
		return "resetting"
	default:
		return "unknown"
	}
}

// Event names a dispatch cycle.
type Event string

const (
	EventUpdateData       Event = "update:data"
	EventUpdateCustomBody Event = "update:custom-body"
	EventUpdateExtensions Event = "update:extensions"
	EventReset            Event = "reset"
)

// Valid reports whether the engine knows the event.
func (e Event) Valid() bool {
	switch e {
	case EventUpdateData, EventUpdateCustomBody, EventUpdateExtensions, EventReset:
		return true
	default:
		return false
	}
}
