package table

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/boringtable/pkg/extension"
)

type person struct {
	Name string
	Age  int
}

var personColumns = []Column[person]{
	{Key: "name", Header: "Name", Value: func(p person) any { return p.Name }},
	{Key: "age", Header: "Age", Value: func(p person) any { return p.Age }},
}

func people(n int) []person {
	out := make([]person, n)
	for i := range out {
		out[i] = person{Name: fmt.Sprintf("p%d", i), Age: 20 + i}
	}
	return out
}

// callLog collects hook invocations across plugins.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(plugin, hook string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, plugin+":"+hook)
}

func (l *callLog) get() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

func (l *callLog) reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = nil
}

func (l *callLog) filter(hook string) []string {
	var out []string
	for _, c := range l.get() {
		if len(c) > len(hook) && c[len(c)-len(hook):] == hook {
			out = append(out, c)
		}
	}
	return out
}

// probe implements every hook and records each call. Optional funcs override
// the default behavior.
type probe struct {
	Base
	log *callLog

	table     *Table[person]
	configure func(ctx context.Context) (extension.Fragment, error)
	row       func(ctx context.Context, row *BodyRow[person]) (extension.Fragment, error)
	after     func(ctx context.Context) (extension.Fragment, error)
	transform func(ctx context.Context, rows []*BodyRow[person]) ([]*BodyRow[person], error)
	extend    func(ctx context.Context) (extension.Fragment, error)
	reset     func(ctx context.Context) (extension.Fragment, error)
	mount     func(ctx context.Context) error
	schema    extension.Schema
}

func newProbe(name string, priority Priority, log *callLog) *probe {
	return &probe{Base: NewBase(name, priority), log: log}
}

func (p *probe) Configure(ctx context.Context, t *Table[person]) (extension.Fragment, error) {
	p.table = t
	p.log.add(p.Name(), HookConfigure)
	if p.configure != nil {
		return p.configure(ctx)
	}
	return nil, nil
}

func (p *probe) OnMount(ctx context.Context) error {
	p.log.add(p.Name(), HookOnMount)
	if p.mount != nil {
		return p.mount(ctx)
	}
	return nil
}

func (p *probe) OnCreateBodyRow(ctx context.Context, row *BodyRow[person]) (extension.Fragment, error) {
	p.log.add(p.Name(), HookOnCreateBodyRow)
	if p.row != nil {
		return p.row(ctx, row)
	}
	return nil, nil
}

func (p *probe) AfterCreateBodyRows(ctx context.Context) (extension.Fragment, error) {
	p.log.add(p.Name(), HookAfterCreateBodyRows)
	if p.after != nil {
		return p.after(ctx)
	}
	return nil, nil
}

func (p *probe) OnUpdateCustomBody(ctx context.Context, rows []*BodyRow[person]) ([]*BodyRow[person], error) {
	p.log.add(p.Name(), HookOnUpdateCustomBody)
	if p.transform != nil {
		return p.transform(ctx, rows)
	}
	return rows, nil
}

func (p *probe) OnUpdateExtensions(ctx context.Context) (extension.Fragment, error) {
	p.log.add(p.Name(), HookOnUpdateExtensions)
	if p.extend != nil {
		return p.extend(ctx)
	}
	return nil, nil
}

func (p *probe) OnReset(ctx context.Context) (extension.Fragment, error) {
	p.log.add(p.Name(), HookOnReset)
	if p.reset != nil {
		return p.reset(ctx)
	}
	return nil, nil
}

func (p *probe) ExtensionSchema() extension.Schema {
	return p.schema
}

// extenderOnly implements nothing but OnUpdateExtensions.
type extenderOnly struct {
	Base
	log  *callLog
	frag extension.Fragment
}

func (e *extenderOnly) OnUpdateExtensions(context.Context) (extension.Fragment, error) {
	e.log.add(e.Name(), HookOnUpdateExtensions)
	return e.frag, nil
}

type fakeRecorder struct {
	mu         sync.Mutex
	dispatches map[string]int
	failures   map[string]int
	hooks      map[string]int
	body       int
	custom     int
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{dispatches: map[string]int{}, failures: map[string]int{}, hooks: map[string]int{}}
}

func (r *fakeRecorder) RecordDispatch(_ context.Context, event string, _ time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dispatches[event]++
	if err != nil {
		r.failures[event]++
	}
}

func (r *fakeRecorder) RecordHook(_ context.Context, hook, plugin string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks[plugin+":"+hook]++
}

func (r *fakeRecorder) RecordRows(_ context.Context, _ string, body, customBody int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.body = body
	r.custom = customBody
}

func quietLogger() logrus.FieldLogger {
	log, _ := test.NewNullLogger()
	return log
}

func newTable(t *testing.T, data []person, plugins ...Plugin) *Table[person] {
	t.Helper()
	tbl, err := New(context.Background(), data, personColumns, plugins, WithLogger(quietLogger()))
	require.NoError(t, err)
	return tbl
}

func TestNew_ConstructionLifecycle(t *testing.T) {
	log := &callLog{}
	p := newProbe("probe", PriorityNormal, log)

	tbl := newTable(t, people(2), p)

	assert.Equal(t, []string{
		"probe:" + HookConfigure,
		"probe:" + HookOnCreateBodyRow,
		"probe:" + HookOnCreateBodyRow,
		"probe:" + HookAfterCreateBodyRows,
		"probe:" + HookOnUpdateCustomBody,
		"probe:" + HookOnUpdateExtensions,
		"probe:" + HookOnMount,
	}, log.get())
	assert.Same(t, tbl, p.table)
	assert.Equal(t, StateReady, tbl.State())
	assert.Equal(t, uint64(0), tbl.Cycles())
	assert.NotEmpty(t, tbl.ID())
	assert.Len(t, tbl.Body(), 2)
	assert.Len(t, tbl.CustomBody(), 2)
}

func TestNew_WithID(t *testing.T) {
	tbl, err := New(context.Background(), people(1), personColumns, nil, WithID("orders"))
	require.NoError(t, err)
	assert.Equal(t, "orders", tbl.ID())
}

func TestNew_RejectsDuplicateAndNilPlugins(t *testing.T) {
	log := &callLog{}

	_, err := New(context.Background(), nil, personColumns, []Plugin{
		newProbe("same", PriorityNormal, log),
		newProbe("same", PriorityFirst, log),
	})
	assert.ErrorIs(t, err, ErrDuplicatePlugin)

	_, err = New(context.Background(), nil, personColumns, []Plugin{nil})
	assert.ErrorIs(t, err, ErrNilPlugin)

	assert.Empty(t, log.get())
}

func TestNew_HookErrorAbortsConstruction(t *testing.T) {
	log := &callLog{}
	p := newProbe("broken", PriorityNormal, log)
	boom := errors.New("boom")
	p.configure = func(context.Context) (extension.Fragment, error) { return nil, boom }

	tbl, err := New(context.Background(), people(1), personColumns, []Plugin{p})
	require.Error(t, err)
	assert.Nil(t, tbl)
	assert.ErrorIs(t, err, boom)

	var hookErr *HookError
	require.ErrorAs(t, err, &hookErr)
	assert.Equal(t, "broken", hookErr.Plugin)
	assert.Equal(t, HookConfigure, hookErr.Hook)
	assert.Equal(t, []string{"broken:" + HookConfigure}, log.get())
}

func TestPlugins_PriorityOrderWithRegistrationTieBreak(t *testing.T) {
	log := &callLog{}
	a := newProbe("a", PriorityNormal, log)
	b := newProbe("b", PriorityFirst, log)
	c := newProbe("c", PriorityNormal, log)
	d := newProbe("d", PriorityShouldBeLast, log)
	e := newProbe("e", PriorityFirst, log)

	tbl := newTable(t, people(1), a, b, c, d, e)

	var names []string
	for _, p := range tbl.Plugins() {
		names = append(names, p.Name())
	}
	assert.Equal(t, []string{"b", "e", "a", "c", "d"}, names)

	log.reset()
	require.NoError(t, tbl.Dispatch(context.Background(), EventUpdateCustomBody))
	assert.Equal(t, []string{
		"b:" + HookOnUpdateCustomBody,
		"e:" + HookOnUpdateCustomBody,
		"a:" + HookOnUpdateCustomBody,
		"c:" + HookOnUpdateCustomBody,
		"d:" + HookOnUpdateCustomBody,
	}, log.filter(HookOnUpdateCustomBody))
	assert.Equal(t, []string{
		"b:" + HookOnUpdateExtensions,
		"e:" + HookOnUpdateExtensions,
		"a:" + HookOnUpdateExtensions,
		"c:" + HookOnUpdateExtensions,
		"d:" + HookOnUpdateExtensions,
	}, log.filter(HookOnUpdateExtensions))
}

func TestDispatch_OnlyImplementersAreCalled(t *testing.T) {
	log := &callLog{}
	ext := &extenderOnly{Base: NewBase("ext", PriorityFirst), log: log}
	p := newProbe("probe", PriorityNormal, log)

	tbl := newTable(t, people(3), p, ext)
	log.reset()

	require.NoError(t, tbl.SetData(context.Background(), people(2)))
	calls := log.get()
	assert.Equal(t, []string{
		"probe:" + HookOnCreateBodyRow,
		"probe:" + HookOnCreateBodyRow,
		"probe:" + HookAfterCreateBodyRows,
		"probe:" + HookOnUpdateCustomBody,
		"ext:" + HookOnUpdateExtensions,
		"probe:" + HookOnUpdateExtensions,
	}, calls)
}

func TestDispatch_EventPhases(t *testing.T) {
	tests := []struct {
		event Event
		want  []string
	}{
		{EventUpdateData, []string{HookOnCreateBodyRow, HookAfterCreateBodyRows, HookOnUpdateCustomBody, HookOnUpdateExtensions}},
		{EventUpdateCustomBody, []string{HookOnUpdateCustomBody, HookOnUpdateExtensions}},
		{EventUpdateExtensions, []string{HookOnUpdateExtensions}},
		{EventReset, []string{HookOnReset, HookOnUpdateCustomBody, HookOnUpdateExtensions}},
	}

	for _, tt := range tests {
		t.Run(string(tt.event), func(t *testing.T) {
			log := &callLog{}
			tbl := newTable(t, people(1), newProbe("p", PriorityNormal, log))
			log.reset()

			require.NoError(t, tbl.Dispatch(context.Background(), tt.event))

			var want []string
			for _, h := range tt.want {
				want = append(want, "p:"+h)
			}
			assert.Equal(t, want, log.get())
			assert.Equal(t, uint64(1), tbl.Cycles())
		})
	}
}

func TestDispatch_UnknownEvent(t *testing.T) {
	log := &callLog{}
	tbl := newTable(t, people(1), newProbe("p", PriorityNormal, log))
	log.reset()

	err := tbl.Dispatch(context.Background(), Event("update:everything"))
	assert.ErrorIs(t, err, ErrUnknownEvent)
	assert.Empty(t, log.get())
	assert.Equal(t, uint64(0), tbl.Cycles())
}

func TestExtensions_FullRebuildEachCycle(t *testing.T) {
	log := &callLog{}
	p := newProbe("p", PriorityNormal, log)
	round := 0
	p.extend = func(context.Context) (extension.Fragment, error) {
		round++
		if round == 1 {
			return extension.Fragment{"a": 1, "b": 2}, nil
		}
		return extension.Fragment{"a": 3}, nil
	}

	tbl := newTable(t, nil, p)
	ext := tbl.Extensions()
	assert.Equal(t, map[string]any{"a": 1, "b": 2}, ext.Map())

	require.NoError(t, tbl.Dispatch(context.Background(), EventUpdateExtensions))
	assert.Equal(t, map[string]any{"a": 3}, tbl.Extensions().Map())

	// the earlier snapshot is unaffected
	assert.Equal(t, map[string]any{"a": 1, "b": 2}, ext.Map())
}

func TestExtensions_LifecycleFragmentsLastOneCycle(t *testing.T) {
	log := &callLog{}
	p := newProbe("p", PriorityNormal, log)
	p.configure = func(context.Context) (extension.Fragment, error) {
		return extension.Fragment{"configured": true}, nil
	}
	p.after = func(context.Context) (extension.Fragment, error) {
		return extension.Fragment{"rows": len(p.table.Body())}, nil
	}
	p.reset = func(context.Context) (extension.Fragment, error) {
		return extension.Fragment{"wasReset": true}, nil
	}

	tbl := newTable(t, people(2), p)
	assert.Equal(t, map[string]any{"configured": true, "rows": 2}, tbl.Extensions().Map())

	require.NoError(t, tbl.Dispatch(context.Background(), EventUpdateExtensions))
	assert.Equal(t, 0, tbl.Extensions().Len())

	require.NoError(t, tbl.Reset(context.Background()))
	assert.Equal(t, map[string]any{"wasReset": true}, tbl.Extensions().Map())

	require.NoError(t, tbl.SetData(context.Background(), people(4)))
	assert.Equal(t, map[string]any{"rows": 4}, tbl.Extensions().Map())
}

func TestExtensions_LastWriteWins(t *testing.T) {
	log := &callLog{}
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	early := &extenderOnly{Base: NewBase("early", PriorityFirst), log: log, frag: extension.Fragment{"shared": "early", "own": 1}}
	late := &extenderOnly{Base: NewBase("late", PriorityNormal), log: log, frag: extension.Fragment{"shared": "late"}}

	tbl, err := New(context.Background(), nil, personColumns, []Plugin{late, early}, WithLogger(logger))
	require.NoError(t, err)

	v, ok := tbl.Extensions().Get("shared")
	require.True(t, ok)
	assert.Equal(t, "late", v)
	assert.Equal(t, "late", tbl.Extensions().Owner("shared"))
	assert.Equal(t, "early", tbl.Extensions().Owner("own"))

	var collisions int
	for _, e := range hook.AllEntries() {
		if e.Message == "extension key overwritten" {
			collisions++
			assert.Equal(t, "shared", e.Data["key"])
		}
	}
	assert.Equal(t, 1, collisions)
}

func TestExtensions_SchemaMismatchIsAHookError(t *testing.T) {
	log := &callLog{}
	p := newProbe("typed", PriorityNormal, log)
	count := extension.NewKey[int]("count")
	p.schema = extension.Schema{}
	count.Declare(p.schema)

	valid := true
	p.extend = func(context.Context) (extension.Fragment, error) {
		if valid {
			return extension.Fragment{"count": 1}, nil
		}
		return extension.Fragment{"count": "one"}, nil
	}

	tbl := newTable(t, nil, p)
	n, ok := count.From(tbl.Extensions())
	require.True(t, ok)
	assert.Equal(t, 1, n)

	valid = false
	err := tbl.Dispatch(context.Background(), EventUpdateExtensions)
	assert.ErrorIs(t, err, extension.ErrTypeMismatch)

	var hookErr *HookError
	require.ErrorAs(t, err, &hookErr)
	assert.Equal(t, "typed", hookErr.Plugin)
	assert.Equal(t, EventUpdateExtensions, hookErr.Event)

	n, _ = count.From(tbl.Extensions())
	assert.Equal(t, 1, n)
}

func TestDispatch_HookErrorSkipsRebuildAndNotify(t *testing.T) {
	log := &callLog{}
	failing := newProbe("failing", PriorityFirst, log)
	after := newProbe("after", PriorityNormal, log)
	after.extend = func(context.Context) (extension.Fragment, error) {
		return extension.Fragment{"n": len(log.get())}, nil
	}

	tbl := newTable(t, people(2), failing, after)
	before := tbl.Extensions()

	boom := errors.New("transform failed")
	failing.transform = func(context.Context, []*BodyRow[person]) ([]*BodyRow[person], error) {
		return nil, boom
	}

	notified := 0
	dispose := tbl.Subscribe(func() { notified++ })
	defer dispose()
	log.reset()

	err := tbl.Dispatch(context.Background(), EventUpdateCustomBody)
	require.ErrorIs(t, err, boom)

	var hookErr *HookError
	require.ErrorAs(t, err, &hookErr)
	assert.Equal(t, "failing", hookErr.Plugin)
	assert.Equal(t, HookOnUpdateCustomBody, hookErr.Hook)
	assert.Equal(t, EventUpdateCustomBody, hookErr.Event)
	assert.Contains(t, err.Error(), "during update:custom-body")

	assert.Equal(t, []string{"failing:" + HookOnUpdateCustomBody}, log.get())
	assert.Same(t, before, tbl.Extensions())
	assert.Zero(t, notified)
	assert.Equal(t, uint64(0), tbl.Cycles())
	assert.Equal(t, StateReady, tbl.State())

	// the engine keeps working once the hook recovers
	failing.transform = nil
	require.NoError(t, tbl.Dispatch(context.Background(), EventUpdateCustomBody))
	assert.Equal(t, 1, notified)
}

func TestWaitForUpdates_ClosesOnceAfterNextCycle(t *testing.T) {
	tbl := newTable(t, people(1))

	ch := tbl.WaitForUpdates()
	select {
	case <-ch:
		t.Fatal("closed before any cycle")
	default:
	}
	assert.Equal(t, 1, tbl.obs.Len())

	require.NoError(t, tbl.Dispatch(context.Background(), EventUpdateExtensions))
	select {
	case <-ch:
	default:
		t.Fatal("not closed after cycle")
	}
	assert.Equal(t, 0, tbl.obs.Len())

	// later cycles neither panic on a second close nor leak a subscription
	require.NoError(t, tbl.Dispatch(context.Background(), EventUpdateExtensions))
	assert.Equal(t, 0, tbl.obs.Len())
}

func TestWaitForUpdates_NotClosedByFailedCycle(t *testing.T) {
	log := &callLog{}
	p := newProbe("p", PriorityNormal, log)
	tbl := newTable(t, nil, p)

	p.extend = func(context.Context) (extension.Fragment, error) { return nil, errors.New("nope") }
	ch := tbl.WaitForUpdates()
	require.Error(t, tbl.Dispatch(context.Background(), EventUpdateExtensions))

	select {
	case <-ch:
		t.Fatal("closed by a failed cycle")
	default:
	}
}

func TestWaitForUpdates_FromAnotherGoroutine(t *testing.T) {
	tbl := newTable(t, people(1))
	ch := tbl.WaitForUpdates()

	go func() {
		_ = tbl.SetData(context.Background(), people(3))
	}()

	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for update")
	}
	assert.Len(t, tbl.Body(), 3)
}

func TestAwaitUpdate_ContextCancelled(t *testing.T) {
	tbl := newTable(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	assert.ErrorIs(t, tbl.AwaitUpdate(ctx), context.DeadlineExceeded)
}

func TestAwaitUpdate_CancelledWaitsDoNotLeak(t *testing.T) {
	tbl := newTable(t, people(1))
	base := tbl.Subscribers()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for i := 0; i < 100; i++ {
		assert.ErrorIs(t, tbl.AwaitUpdate(ctx), context.Canceled)
	}
	assert.Equal(t, base, tbl.Subscribers())

	done := make(chan error, 1)
	go func() { done <- tbl.AwaitUpdate(context.Background()) }()
	require.Eventually(t, func() bool { return tbl.Subscribers() == base+1 }, time.Second, time.Millisecond)
	require.NoError(t, tbl.Dispatch(context.Background(), EventUpdateExtensions))
	require.NoError(t, <-done)
	assert.Equal(t, base, tbl.Subscribers())
}

func TestCustomBody_DispatchIsIdempotent(t *testing.T) {
	log := &callLog{}
	evens := newProbe("evens", PriorityNormal, log)
	evens.transform = func(_ context.Context, rows []*BodyRow[person]) ([]*BodyRow[person], error) {
		var out []*BodyRow[person]
		for _, r := range rows {
			if r.Index%2 == 0 {
				out = append(out, r)
			}
		}
		return out, nil
	}
	firstTwo := newProbe("first-two", PriorityShouldBeLast, log)
	firstTwo.transform = func(_ context.Context, rows []*BodyRow[person]) ([]*BodyRow[person], error) {
		if len(rows) > 2 {
			rows = rows[:2]
		}
		return rows, nil
	}

	tbl := newTable(t, people(7), firstTwo, evens)

	require.NoError(t, tbl.Dispatch(context.Background(), EventUpdateCustomBody))
	first := tbl.CustomBody()
	require.NoError(t, tbl.Dispatch(context.Background(), EventUpdateCustomBody))
	second := tbl.CustomBody()

	assert.Equal(t, first, second)
	require.Len(t, second, 2)
	assert.Equal(t, 0, second[0].Index)
	assert.Equal(t, 2, second[1].Index)
	assert.Len(t, tbl.Body(), 7)
}

func TestCustomBody_NilTransformResultIsEmpty(t *testing.T) {
	log := &callLog{}
	p := newProbe("drop-all", PriorityNormal, log)
	p.transform = func(context.Context, []*BodyRow[person]) ([]*BodyRow[person], error) { return nil, nil }

	tbl := newTable(t, people(3), p)
	assert.NotNil(t, tbl.CustomBody())
	assert.Empty(t, tbl.CustomBody())
	assert.Len(t, tbl.Body(), 3)
}

func TestSetData_RederivesBodyAndCopiesInput(t *testing.T) {
	log := &callLog{}
	p := newProbe("p", PriorityNormal, log)
	p.row = func(_ context.Context, row *BodyRow[person]) (extension.Fragment, error) {
		return extension.Fragment{"adult": row.Source.Age >= 18}, nil
	}

	tbl := newTable(t, people(1), p)

	data := []person{{Name: "kid", Age: 9}, {Name: "grown", Age: 40}}
	require.NoError(t, tbl.SetData(context.Background(), data))
	data[0].Name = "mutated"

	assert.Equal(t, "kid", tbl.Data()[0].Name)
	body := tbl.Body()
	require.Len(t, body, 2)
	name, ok := body[0].Cell("name")
	require.True(t, ok)
	assert.Equal(t, "kid", name)
	assert.Equal(t, false, body[0].Extensions["adult"])
	assert.Equal(t, true, body[1].Extensions["adult"])
	assert.Equal(t, 1, body[1].Index)

	rec, ok := tbl.Record(1)
	require.True(t, ok)
	assert.Equal(t, "grown", rec.Name)
	_, ok = tbl.Record(2)
	assert.False(t, ok)

	require.NoError(t, tbl.SetData(context.Background(), []person{}))
	assert.Empty(t, tbl.Body())
	assert.Empty(t, tbl.CustomBody())
}

func TestDispatch_NestedCallsAreQueued(t *testing.T) {
	log := &callLog{}
	p := newProbe("nested", PriorityNormal, log)
	tbl := newTable(t, people(1), p)

	var inCycle bool
	var order []Event
	armed := true
	p.transform = func(ctx context.Context, rows []*BodyRow[person]) ([]*BodyRow[person], error) {
		inCycle = tbl.InCycle(ctx)
		order = append(order, EventUpdateCustomBody)
		if armed {
			armed = false
			// queued: runs after this cycle, before Dispatch returns
			if err := tbl.Dispatch(ctx, EventUpdateExtensions); err != nil {
				return nil, err
			}
			if err := tbl.SetData(ctx, people(4)); err != nil {
				return nil, err
			}
			assert.Len(t, tbl.Body(), 1)
		}
		return rows, nil
	}
	p.extend = func(context.Context) (extension.Fragment, error) {
		order = append(order, EventUpdateExtensions)
		return nil, nil
	}

	require.NoError(t, tbl.Dispatch(context.Background(), EventUpdateCustomBody))

	assert.True(t, inCycle)
	assert.False(t, tbl.InCycle(context.Background()))
	assert.Equal(t, uint64(3), tbl.Cycles())
	assert.Len(t, tbl.Body(), 4)
	assert.Equal(t, []Event{
		EventUpdateCustomBody, EventUpdateExtensions, // outer cycle
		EventUpdateExtensions, // queued update:extensions
		EventUpdateCustomBody, EventUpdateExtensions, // queued update:data
	}, order)
}

func TestDispatch_NestedCallsFromConstruction(t *testing.T) {
	log := &callLog{}
	p := newProbe("mounting", PriorityNormal, log)
	p.mount = func(ctx context.Context) error {
		return p.table.SetData(ctx, people(5))
	}

	tbl := newTable(t, people(1), p)
	assert.Len(t, tbl.Body(), 5)
	assert.Equal(t, uint64(1), tbl.Cycles())
}

func TestDispatch_QueuedCycleLimit(t *testing.T) {
	log := &callLog{}
	p := newProbe("loop", PriorityNormal, log)

	tbl, err := New(context.Background(), nil, personColumns, []Plugin{p},
		WithLogger(quietLogger()), WithMaxQueuedCycles(3))
	require.NoError(t, err)

	p.extend = func(ctx context.Context) (extension.Fragment, error) {
		return nil, tbl.Dispatch(ctx, EventUpdateExtensions)
	}

	err = tbl.Dispatch(context.Background(), EventUpdateExtensions)
	assert.ErrorIs(t, err, ErrCycleLimit)
	assert.Equal(t, uint64(4), tbl.Cycles())

	p.extend = nil
	require.NoError(t, tbl.Dispatch(context.Background(), EventUpdateExtensions))
	assert.Equal(t, uint64(5), tbl.Cycles())
}

func TestDispatch_QueuedCycleErrorIsReturned(t *testing.T) {
	log := &callLog{}
	p := newProbe("p", PriorityNormal, log)
	tbl := newTable(t, nil, p)

	boom := errors.New("reset failed")
	p.reset = func(context.Context) (extension.Fragment, error) { return nil, boom }
	p.transform = func(ctx context.Context, rows []*BodyRow[person]) ([]*BodyRow[person], error) {
		p.transform = nil
		return rows, tbl.Reset(ctx)
	}

	err := tbl.Dispatch(context.Background(), EventUpdateCustomBody)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, uint64(1), tbl.Cycles())
}

func TestDispatch_ConcurrentCallsAreSerialized(t *testing.T) {
	log := &callLog{}
	p := newProbe("p", PriorityNormal, log)

	var active, maxActive int
	var mu sync.Mutex
	p.extend = func(context.Context) (extension.Fragment, error) {
		mu.Lock()
		active++
		if active > maxActive {
			maxActive = active
		}
		mu.Unlock()
		time.Sleep(time.Millisecond)
		mu.Lock()
		active--
		mu.Unlock()
		return nil, nil
	}
	tbl := newTable(t, people(2), p)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				assert.NoError(t, tbl.SetData(context.Background(), people(i)))
				return
			}
			assert.NoError(t, tbl.Dispatch(context.Background(), EventUpdateCustomBody))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, uint64(10), tbl.Cycles())
	assert.Equal(t, 1, maxActive)
}

func TestSubscribe_NotifiedAfterEachCycle(t *testing.T) {
	tbl := newTable(t, people(1))

	var seen []uint64
	dispose := tbl.Subscribe(func() { seen = append(seen, tbl.Cycles()) })

	require.NoError(t, tbl.Dispatch(context.Background(), EventUpdateExtensions))
	require.NoError(t, tbl.Reset(context.Background()))
	dispose()
	require.NoError(t, tbl.Dispatch(context.Background(), EventUpdateExtensions))

	assert.Equal(t, []uint64{1, 2}, seen)
}

func TestRecorder_ReceivesMeasurements(t *testing.T) {
	log := &callLog{}
	p := newProbe("p", PriorityNormal, log)
	p.transform = func(_ context.Context, rows []*BodyRow[person]) ([]*BodyRow[person], error) {
		if len(rows) > 1 {
			rows = rows[:1]
		}
		return rows, nil
	}
	rec := newFakeRecorder()

	tbl, err := New(context.Background(), people(3), personColumns, []Plugin{p},
		WithLogger(quietLogger()), WithRecorder(rec))
	require.NoError(t, err)

	require.NoError(t, tbl.Dispatch(context.Background(), EventUpdateCustomBody))
	assert.Error(t, tbl.Dispatch(context.Background(), "bogus"))

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, 1, rec.dispatches[string(EventUpdateCustomBody)])
	assert.Zero(t, rec.dispatches["bogus"])
	assert.Equal(t, 3, rec.hooks["p:"+HookOnCreateBodyRow])
	assert.Equal(t, 2, rec.hooks["p:"+HookOnUpdateCustomBody])
	assert.Equal(t, 3, rec.body)
	assert.Equal(t, 1, rec.custom)
}

func TestAccessors_ReturnCopies(t *testing.T) {
	tbl := newTable(t, people(2), newProbe("p", PriorityNormal, &callLog{}))

	data := tbl.Data()
	data[0].Name = "changed"
	assert.Equal(t, "p0", tbl.Data()[0].Name)

	body := tbl.Body()
	body[0] = nil
	assert.NotNil(t, tbl.Body()[0])

	cols := tbl.Columns()
	cols[0].Key = "x"
	assert.Equal(t, "name", tbl.Columns()[0].Key)

	plugins := tbl.Plugins()
	plugins[0] = nil
	got, ok := tbl.Plugin("p")
	require.True(t, ok)
	assert.NotNil(t, got)
	_, ok = tbl.Plugin("missing")
	assert.False(t, ok)
}

func TestPriority_ParseAndString(t *testing.T) {
	tests := []struct {
		in   string
		want Priority
	}{
		{"", PriorityNormal},
		{"normal", PriorityNormal},
		{"first", PriorityFirst},
		{"Should-Be-Last", PriorityShouldBeLast},
		{"last", PriorityShouldBeLast},
		{"42", Priority(42)},
	}
	for _, tt := range tests {
		got, err := ParsePriority(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParsePriority("soon")
	assert.Error(t, err)

	assert.Equal(t, "should-be-last", PriorityShouldBeLast.String())
	assert.Equal(t, "7", Priority(7).String())
}

func TestStateAndEventStrings(t *testing.T) {
	assert.Equal(t, "ready", StateReady.String())
	assert.Equal(t, "resetting", StateResetting.String())
	assert.Equal(t, "unknown", State(99).String())
	assert.True(t, EventReset.Valid())
	assert.False(t, Event("update").Valid())
}

type testKey struct{}

func TestDetach_LeavesTheCycle(t *testing.T) {
	log := &callLog{}
	p := newProbe("p", PriorityNormal, log)
	tbl := newTable(t, nil, p)

	var inside, detached bool
	p.extend = func(ctx context.Context) (extension.Fragment, error) {
		inside = tbl.InCycle(ctx)
		detached = tbl.InCycle(Detach(ctx))
		return nil, nil
	}
	require.NoError(t, tbl.Dispatch(context.Background(), EventUpdateExtensions))
	assert.True(t, inside)
	assert.False(t, detached)

	ctx, cancel := context.WithCancel(context.WithValue(context.Background(), testKey{}, "kept"))
	d := Detach(ctx)
	cancel()
	assert.NoError(t, d.Err())
	assert.Equal(t, "kept", d.Value(testKey{}))
}

func TestSubscribe_ListenerDispatchIsQueued(t *testing.T) {
	tbl := newTable(t, people(1))

	var events []uint64
	fired := false
	dispose := tbl.Subscribe(func() {
		events = append(events, tbl.Cycles())
		if fired {
			return
		}
		fired = true
		assert.NoError(t, tbl.SetData(context.Background(), people(4)))
	})
	defer dispose()

	done := make(chan error, 1)
	go func() { done <- tbl.Dispatch(context.Background(), EventUpdateCustomBody) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("dispatch from a listener did not return")
	}
	assert.Equal(t, []uint64{1, 2}, events)
	assert.Len(t, tbl.Body(), 4)

	// the lock is free again for ordinary callers
	require.NoError(t, tbl.Dispatch(context.Background(), EventUpdateExtensions))
	assert.Equal(t, uint64(3), tbl.Cycles())
}

func TestSubscribe_ListenerDispatchLoopHitsLimit(t *testing.T) {
	tbl, err := New(context.Background(), people(1), personColumns, nil,
		WithLogger(quietLogger()), WithMaxQueuedCycles(3))
	require.NoError(t, err)

	dispose := tbl.Subscribe(func() {
		_ = tbl.Dispatch(context.Background(), EventUpdateExtensions)
	})

	done := make(chan error, 1)
	go func() { done <- tbl.Dispatch(context.Background(), EventUpdateExtensions) }()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrCycleLimit)
	case <-time.After(2 * time.Second):
		t.Fatal("dispatch from a listener did not return")
	}
	dispose()
	assert.Equal(t, uint64(4), tbl.Cycles())
}
