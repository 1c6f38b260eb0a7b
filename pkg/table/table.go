package table

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/boringtable/pkg/extension"
	"github.com/platinummonkey/boringtable/pkg/observer"
)

// Table is the engine for one logical table instance.
type Table[T any] struct {
	id       string
	columns  []Column[T]
	plugins  []Plugin
	log      logrus.FieldLogger
	recorder Recorder
	tracer   trace.Tracer
	maxQueue int
	obs      observer.Observer

	// cycleMu is held for the whole of a construction or dispatch run,
	// including cycles queued by hooks during it.
	cycleMu sync.Mutex
	active  atomic.Pointer[cycleToken]
	tokens  atomic.Uint64
	qmu     sync.Mutex
	queue   []request[T]

	// notifying is set while listeners run. Guarded by qmu.
	notifying bool

	// mu guards the fields below for readers outside the cycle.
	mu         sync.RWMutex
	data       []T
	body       []*BodyRow[T]
	customBody []*BodyRow[T]
	state      State
	cycles     uint64

	ext atomic.Pointer[extension.Extensions]
}

// New builds a table, configures and mounts its plugins and derives the
// initial body. Plugins are ordered by priority; equal priorities keep the
// order given here.
func New[T any](ctx context.Context, data []T, columns []Column[T], plugins []Plugin, opts ...Option) (*Table[T], error) {
	s := defaultSettings()
	for _, opt := range opts {
		opt(s)
	}
	if s.id == "" {
		s.id = uuid.NewString()
	}

	seen := make(map[string]struct{}, len(plugins))
	for i, p := range plugins {
		if p == nil {
			return nil, fmt.Errorf("plugin %d: %w", i, ErrNilPlugin)
		}
		if _, dup := seen[p.Name()]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicatePlugin, p.Name())
		}
		seen[p.Name()] = struct{}{}
	}

	t := &Table[T]{
		id:       s.id,
		columns:  append([]Column[T](nil), columns...),
		plugins:  sortPlugins(plugins),
		log:      s.log.WithField("table", s.id),
		recorder: s.recorder,
		tracer:   s.tracer,
		maxQueue: s.maxQueue,
		data:     cloneSlice(data),
		state:    StateConstructing,
	}
	t.ext.Store(extension.Empty())

	t.cycleMu.Lock()
	defer t.cycleMu.Unlock()

	ctx = t.enter(ctx)
	if err := t.construct(ctx); err != nil {
		t.abandon()
		return nil, err
	}
	if err := t.drain(ctx); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Table[T]) construct(ctx context.Context) error {
	frags := make([][]extension.Fragment, len(t.plugins))

	t.setState(StateConfiguring)
	for i, p := range t.plugins {
		c, ok := p.(Configurer[T])
		if !ok {
			continue
		}
		var frag extension.Fragment
		err := t.hook(ctx, p, HookConfigure, "", func() (err error) {
			frag, err = c.Configure(ctx, t)
			return err
		})
		if err != nil {
			return err
		}
		frags[i] = appendFragment(frags[i], frag)
	}

	t.setState(StateBuildingBody)
	if err := t.buildBody(ctx, "", frags); err != nil {
		return err
	}
	if err := t.rebuildExtensions(ctx, "", frags); err != nil {
		return err
	}

	t.setState(StateMounted)
	for _, p := range t.plugins {
		m, ok := p.(Mounter)
		if !ok {
			continue
		}
		if err := t.hook(ctx, p, HookOnMount, "", func() error { return m.OnMount(ctx) }); err != nil {
			return err
		}
	}

	t.setState(StateReady)
	t.log.WithField("plugins", len(t.plugins)).Debug("table ready")
	return nil
}

// ID returns the table's identifier.
func (t *Table[T]) ID() string {
	return t.id
}

// Columns returns the column definitions.
func (t *Table[T]) Columns() []Column[T] {
	return append([]Column[T](nil), t.columns...)
}

// Plugins returns the registered plugins in hook order.
func (t *Table[T]) Plugins() []Plugin {
	return append([]Plugin(nil), t.plugins...)
}

// Plugin looks a plugin up by name.
func (t *Table[T]) Plugin(name string) (Plugin, bool) {
	for _, p := range t.plugins {
		if p.Name() == name {
			return p, true
		}
	}
	return nil, false
}

// Data returns a copy of the current data set.
func (t *Table[T]) Data() []T {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return cloneSlice(t.data)
}

// Record returns the source record at index.
func (t *Table[T]) Record(index int) (T, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var zero T
	if index < 0 || index >= len(t.data) {
		return zero, false
	}
	return t.data[index], true
}

// Body returns the derived body rows.
func (t *Table[T]) Body() []*BodyRow[T] {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return cloneSlice(t.body)
}

// CustomBody returns the body after plugin transformation. Inside a
// custom-body hook it reflects the transformers that have already run.
func (t *Table[T]) CustomBody() []*BodyRow[T] {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return cloneSlice(t.customBody)
}

// Extensions returns the snapshot published by the last completed cycle.
func (t *Table[T]) Extensions() *extension.Extensions {
	return t.ext.Load()
}

// State returns the lifecycle state.
func (t *Table[T]) State() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// Cycles returns the number of completed dispatch cycles.
func (t *Table[T]) Cycles() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.cycles
}

// Subscribe registers a listener called after every completed cycle.
// Dispatch and SetData calls made from a listener are queued and run once
// the current cycle's notification has finished; they return nil when
// queued, and the error of a queued cycle goes to the call that started the
// run.
func (t *Table[T]) Subscribe(listener observer.Listener) func() {
	return t.obs.Subscribe(listener)
}

// Subscribers returns the number of live listeners, including pending
// WaitForUpdates channels.
func (t *Table[T]) Subscribers() int {
	return t.obs.Len()
}

// WaitForUpdates returns a channel closed after the next completed dispatch
// cycle has rebuilt the extensions and notified. It never closes if no
// further cycle completes.
func (t *Table[T]) WaitForUpdates() <-chan struct{} {
	ch, _ := t.waitForUpdates()
	return ch
}

// waitForUpdates is WaitForUpdates plus a disposer for callers that stop
// waiting early.
func (t *Table[T]) waitForUpdates() (<-chan struct{}, func()) {
	ch := make(chan struct{})

	var (
		mu      sync.Mutex
		fired   bool
		dispose func()
	)
	mu.Lock()
	dispose = t.obs.Subscribe(func() {
		mu.Lock()
		defer mu.Unlock()
		if fired {
			return
		}
		fired = true
		close(ch)
		dispose()
	})
	mu.Unlock()

	return ch, dispose
}

// AwaitUpdate blocks until the next completed cycle or until ctx is done.
func (t *Table[T]) AwaitUpdate(ctx context.Context) error {
	updated, dispose := t.waitForUpdates()
	select {
	case <-updated:
		return nil
	case <-ctx.Done():
		dispose()
		return ctx.Err()
	}
}

// InCycle reports whether ctx belongs to a cycle this table is running.
func (t *Table[T]) InCycle(ctx context.Context) bool {
	tok, ok := ctx.Value(cycleKey{}).(*cycleToken)
	return ok && t.active.Load() == tok
}

func (t *Table[T]) setState(s State) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

func appendFragment(frags []extension.Fragment, f extension.Fragment) []extension.Fragment {
	if len(f) == 0 {
		return frags
	}
	return append(frags, f)
}

func cloneSlice[E any](s []E) []E {
	if s == nil {
		return nil
	}
	out := make([]E, len(s))
	copy(out, s)
	return out
}
