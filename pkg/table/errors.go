package table

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownEvent is returned by Dispatch for an event the engine does not handle.
	ErrUnknownEvent = errors.New("unknown table event")

	// ErrDuplicatePlugin is returned by New when two plugins share a name.
	ErrDuplicatePlugin = errors.New("duplicate plugin name")

	// ErrNilPlugin is returned by New for a nil plugin entry.
	ErrNilPlugin = errors.New("nil plugin")

	// ErrCycleLimit is returned when queued cycles keep scheduling more cycles.
	ErrCycleLimit = errors.New("too many queued dispatch cycles")

	// ErrNotConfigured is returned by plugin actions invoked before the
	// plugin was registered with a table.
	ErrNotConfigured = errors.New("plugin is not attached to a table")
)

// HookError reports a plugin hook failure during a dispatch cycle or
// construction.
type HookError struct {
	Plugin string
	Hook   string
	Event  Event
	Err    error
}

func (e *HookError) Error() string {
	if e.Event == "" {
		return fmt.Sprintf("plugin %s: %s: %v", e.Plugin, e.Hook, e.Err)
	}
	return fmt.Sprintf("plugin %s: %s during %s: %v", e.Plugin, e.Hook, e.Event, e.Err)
}

func (e *HookError) Unwrap() error {
	return e.Err
}
