package table

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/platinummonkey/boringtable/pkg/extension"
)

// Priority orders same-named hooks across plugins. Lower runs first.
type Priority int

const (
	// PriorityFirst runs before normal plugins.
	PriorityFirst Priority = -1000
	// PriorityNormal is the default.
	PriorityNormal Priority = 0
	// PriorityShouldBeLast runs after every normal-priority plugin, e.g. so
	// pagination slices the body only after filtering and sorting.
	PriorityShouldBeLast Priority = 1000
)

func (p Priority) String() string {
	switch p {
	case PriorityFirst:
		return "first"
	case PriorityNormal:
		return "normal"
	case PriorityShouldBeLast:
		return "should-be-last"
	default:
		return strconv.Itoa(int(p))
	}
}

// ParsePriority accepts the named priorities or an integer.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "normal":
		return PriorityNormal, nil
	case "first":
		return PriorityFirst, nil
	case "should-be-last", "last":
		return PriorityShouldBeLast, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid priority %q", s)
	}
	return Priority(n), nil
}

// Plugin is the minimal plugin contract. All hooks are optional.
type Plugin interface {
	Name() string
	Priority() Priority
}

// Base carries a plugin's name and priority. Embed it to satisfy Plugin.
type Base struct {
	name     string
	priority Priority
}

// NewBase returns a Base.
func NewBase(name string, priority Priority) Base {
	return Base{name: name, priority: priority}
}

// Name returns the plugin name.
func (b Base) Name() string { return b.name }

// Priority returns the plugin priority.
func (b Base) Priority() Priority { return b.priority }

// SetPriority overrides the priority. It only has an effect before the
// plugin is passed to New.
func (b *Base) SetPriority(p Priority) { b.priority = p }

// Configurer is called once during construction, before any body derivation.
// Plugins keep the table reference for later actions.
type Configurer[T any] interface {
	Configure(ctx context.Context, t *Table[T]) (extension.Fragment, error)
}

// Mounter is called once after the first body derivation completes.
type Mounter interface {
	OnMount(ctx context.Context) error
}

// BodyRowCreator is called once per body row when rows are derived. The
// returned fragment is merged into the row's own extensions.
type BodyRowCreator[T any] interface {
	OnCreateBodyRow(ctx context.Context, row *BodyRow[T]) (extension.Fragment, error)
}

// BodyRowsObserver is called after body rows are (re)built.
type BodyRowsObserver interface {
	AfterCreateBodyRows(ctx context.Context) (extension.Fragment, error)
}

// CustomBodyTransformer receives the custom body produced by lower-priority
// plugins and returns the sequence handed to the next one. Rows are shared
// with the body and must not be mutated.
type CustomBodyTransformer[T any] interface {
	OnUpdateCustomBody(ctx context.Context, body []*BodyRow[T]) ([]*BodyRow[T], error)
}

// Extender contributes a fragment at the end of every dispatch cycle.
type Extender interface {
	OnUpdateExtensions(ctx context.Context) (extension.Fragment, error)
}

// Resetter restores plugin-owned state on the reset event.
type Resetter interface {
	OnReset(ctx context.Context) (extension.Fragment, error)
}

// SchemaDeclarer declares the types of the extension keys a plugin
// contributes. Fragments from the plugin are checked against it.
type SchemaDeclarer interface {
	ExtensionSchema() extension.Schema
}

// Hook names used in errors, logs and metrics.
const (
	HookConfigure           = "configure"
	HookOnMount             = "onMount"
	HookOnCreateBodyRow     = "onCreateBodyRow"
	HookAfterCreateBodyRows = "afterCreateBodyRows"
	HookOnUpdateCustomBody  = "onUpdateCustomBody"
	HookOnUpdateExtensions  = "onUpdateExtensions"
	HookOnReset             = "onReset"
)

// sortPlugins returns plugins ordered by ascending priority, keeping
// registration order for equal priorities.
func sortPlugins(plugins []Plugin) []Plugin {
	sorted := make([]Plugin, len(plugins))
	copy(sorted, plugins)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority() < sorted[j].Priority()
	})
	return sorted
}
