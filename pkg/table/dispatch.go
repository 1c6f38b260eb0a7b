package table

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/boringtable/pkg/extension"
)

type cycleKey struct{}

// cycleToken marks contexts handed to hooks. It is never zero-sized so that
// distinct tokens compare unequal.
type cycleToken struct {
	id uint64
}

type request[T any] struct {
	event   Event
	data    []T
	hasData bool
}

// Dispatch runs one dispatch cycle for event.
func (t *Table[T]) Dispatch(ctx context.Context, event Event) error {
	return t.submit(ctx, request[T]{event: event})
}

// SetData replaces the data set and dispatches update:data. Body rows are
// re-derived before any hook of the cycle runs.
func (t *Table[T]) SetData(ctx context.Context, data []T) error {
	return t.submit(ctx, request[T]{event: EventUpdateData, data: cloneSlice(data), hasData: true})
}

// Reset dispatches the reset event.
func (t *Table[T]) Reset(ctx context.Context) error {
	return t.Dispatch(ctx, EventReset)
}

func (t *Table[T]) submit(ctx context.Context, req request[T]) error {
	if !req.event.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownEvent, req.event)
	}
	if t.enqueueNested(ctx, req) {
		return nil
	}

	t.cycleMu.Lock()
	defer t.cycleMu.Unlock()

	ctx = t.enter(ctx)
	if err := t.runCycle(ctx, req); err != nil {
		t.abandon()
		return err
	}
	return t.drain(ctx)
}

// enqueueNested queues req when ctx belongs to the running cycle or when
// the table is notifying its listeners. Listeners run while the cycle lock
// is held, so a listener that dispatches cannot take it.
func (t *Table[T]) enqueueNested(ctx context.Context, req request[T]) bool {
	tok, _ := ctx.Value(cycleKey{}).(*cycleToken)

	t.qmu.Lock()
	defer t.qmu.Unlock()
	switch {
	case t.notifying:
	case tok != nil && t.active.Load() == tok:
	default:
		return false
	}
	t.queue = append(t.queue, req)
	t.log.WithField("event", req.event).Debug("queued nested dispatch")
	return true
}

// notify calls the listeners. Dispatches they make are queued.
func (t *Table[T]) notify() {
	t.qmu.Lock()
	t.notifying = true
	t.qmu.Unlock()
	defer func() {
		t.qmu.Lock()
		t.notifying = false
		t.qmu.Unlock()
	}()
	t.obs.Notify()
}

// enter marks a new run. The caller holds cycleMu.
func (t *Table[T]) enter(ctx context.Context) context.Context {
	tok := &cycleToken{id: t.tokens.Add(1)}
	t.active.Store(tok)
	return context.WithValue(ctx, cycleKey{}, tok)
}

// drain runs queued cycles until the queue is empty, then ends the run.
func (t *Table[T]) drain(ctx context.Context) error {
	for n := 0; ; n++ {
		t.qmu.Lock()
		if len(t.queue) == 0 {
			t.active.Store(nil)
			t.qmu.Unlock()
			return nil
		}
		req := t.queue[0]
		t.queue = t.queue[1:]
		t.qmu.Unlock()

		if n >= t.maxQueue {
			t.abandon()
			return fmt.Errorf("%w: more than %d", ErrCycleLimit, t.maxQueue)
		}
		if err := t.runCycle(ctx, req); err != nil {
			t.abandon()
			return err
		}
	}
}

// abandon ends the run and drops anything still queued.
func (t *Table[T]) abandon() {
	t.qmu.Lock()
	defer t.qmu.Unlock()
	if len(t.queue) > 0 {
		t.log.WithField("dropped", len(t.queue)).Warn("dropping queued dispatch cycles")
	}
	t.queue = nil
	t.active.Store(nil)
}

func (t *Table[T]) runCycle(ctx context.Context, req request[T]) (err error) {
	start := time.Now()
	ctx, span := t.tracer.Start(ctx, "table.dispatch", trace.WithAttributes(
		attribute.String("table.id", t.id),
		attribute.String("table.event", string(req.event)),
	))
	defer span.End()
	defer func() {
		t.recorder.RecordDispatch(ctx, string(req.event), time.Since(start), err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			t.log.WithError(err).WithField("event", req.event).Warn("dispatch cycle aborted")
		}
	}()

	if req.event == EventReset {
		t.setState(StateResetting)
	} else {
		t.setState(StateDispatching)
	}
	defer t.setState(StateReady)

	frags := make([][]extension.Fragment, len(t.plugins))

	switch req.event {
	case EventUpdateData:
		if req.hasData {
			t.mu.Lock()
			t.data = req.data
			t.mu.Unlock()
		}
		if err := t.buildBody(ctx, req.event, frags); err != nil {
			return err
		}
	case EventReset:
		if err := t.resetPlugins(ctx, frags); err != nil {
			return err
		}
		if err := t.refreshCustomBody(ctx, req.event); err != nil {
			return err
		}
	case EventUpdateCustomBody:
		if err := t.refreshCustomBody(ctx, req.event); err != nil {
			return err
		}
	}

	if err := t.rebuildExtensions(ctx, req.event, frags); err != nil {
		return err
	}

	t.mu.Lock()
	t.cycles++
	t.state = StateReady
	t.mu.Unlock()

	t.notify()
	t.log.WithFields(logrus.Fields{
		"event":    req.event,
		"duration": time.Since(start),
	}).Debug("dispatch cycle complete")
	return nil
}

// hook runs fn for plugin p and wraps its error.
func (t *Table[T]) hook(ctx context.Context, p Plugin, hook string, event Event, fn func() error) error {
	start := time.Now()
	err := fn()
	t.recorder.RecordHook(ctx, hook, p.Name(), time.Since(start))
	if err != nil {
		return &HookError{Plugin: p.Name(), Hook: hook, Event: event, Err: err}
	}
	return nil
}

// buildBody derives body rows from data, runs the per-row and after-create
// hooks and then re-derives the custom body.
func (t *Table[T]) buildBody(ctx context.Context, event Event, frags [][]extension.Fragment) error {
	t.mu.RLock()
	data := t.data
	t.mu.RUnlock()

	body := make([]*BodyRow[T], len(data))
	for i, record := range data {
		row := project(t.columns, i, record)
		for _, p := range t.plugins {
			c, ok := p.(BodyRowCreator[T])
			if !ok {
				continue
			}
			var frag extension.Fragment
			err := t.hook(ctx, p, HookOnCreateBodyRow, event, func() (err error) {
				frag, err = c.OnCreateBodyRow(ctx, row)
				return err
			})
			if err != nil {
				return err
			}
			for k, v := range frag {
				row.Extensions[k] = v
			}
		}
		body[i] = row
	}

	t.mu.Lock()
	t.body = body
	t.customBody = cloneSlice(body)
	t.mu.Unlock()

	for i, p := range t.plugins {
		o, ok := p.(BodyRowsObserver)
		if !ok {
			continue
		}
		var frag extension.Fragment
		err := t.hook(ctx, p, HookAfterCreateBodyRows, event, func() (err error) {
			frag, err = o.AfterCreateBodyRows(ctx)
			return err
		})
		if err != nil {
			return err
		}
		frags[i] = appendFragment(frags[i], frag)
	}

	return t.transformCustomBody(ctx, event)
}

// refreshCustomBody resets the custom body to the body rows and runs the
// transformation pipeline.
func (t *Table[T]) refreshCustomBody(ctx context.Context, event Event) error {
	t.mu.Lock()
	t.customBody = cloneSlice(t.body)
	t.mu.Unlock()
	return t.transformCustomBody(ctx, event)
}

func (t *Table[T]) transformCustomBody(ctx context.Context, event Event) error {
	t.mu.RLock()
	current := cloneSlice(t.customBody)
	bodyLen := len(t.body)
	t.mu.RUnlock()

	for _, p := range t.plugins {
		tr, ok := p.(CustomBodyTransformer[T])
		if !ok {
			continue
		}
		input := current
		var next []*BodyRow[T]
		err := t.hook(ctx, p, HookOnUpdateCustomBody, event, func() (err error) {
			next, err = tr.OnUpdateCustomBody(ctx, input)
			return err
		})
		if err != nil {
			return err
		}
		current = next
		t.mu.Lock()
		t.customBody = cloneSlice(current)
		t.mu.Unlock()
	}

	if current == nil {
		current = []*BodyRow[T]{}
		t.mu.Lock()
		t.customBody = current
		t.mu.Unlock()
	}
	t.recorder.RecordRows(ctx, t.id, bodyLen, len(current))
	return nil
}

func (t *Table[T]) resetPlugins(ctx context.Context, frags [][]extension.Fragment) error {
	for i, p := range t.plugins {
		r, ok := p.(Resetter)
		if !ok {
			continue
		}
		var frag extension.Fragment
		err := t.hook(ctx, p, HookOnReset, EventReset, func() (err error) {
			frag, err = r.OnReset(ctx)
			return err
		})
		if err != nil {
			return err
		}
		frags[i] = appendFragment(frags[i], frag)
	}
	return nil
}

// rebuildExtensions composes a fresh snapshot from this cycle's lifecycle
// fragments and every Extender, in plugin order, and publishes it.
func (t *Table[T]) rebuildExtensions(ctx context.Context, event Event, frags [][]extension.Fragment) error {
	comp := extension.NewComposer()

	for i, p := range t.plugins {
		var schema extension.Schema
		if d, ok := p.(SchemaDeclarer); ok {
			schema = d.ExtensionSchema()
		}

		for _, f := range frags[i] {
			if err := comp.AddChecked(p.Name(), schema, f); err != nil {
				return &HookError{Plugin: p.Name(), Hook: HookOnUpdateExtensions, Event: event, Err: err}
			}
		}

		e, ok := p.(Extender)
		if !ok {
			continue
		}
		var frag extension.Fragment
		err := t.hook(ctx, p, HookOnUpdateExtensions, event, func() (err error) {
			frag, err = e.OnUpdateExtensions(ctx)
			return err
		})
		if err != nil {
			return err
		}
		if err := comp.AddChecked(p.Name(), schema, frag); err != nil {
			return &HookError{Plugin: p.Name(), Hook: HookOnUpdateExtensions, Event: event, Err: err}
		}
	}

	for _, c := range comp.Collisions() {
		t.log.WithFields(logrus.Fields{
			"key":      c.Key,
			"previous": c.Previous,
			"winner":   c.Winner,
		}).Debug("extension key overwritten")
	}

	t.ext.Store(comp.Build())
	return nil
}

type detached struct {
	context.Context
}

func (d detached) Value(key any) any {
	if _, ok := key.(cycleKey); ok {
		return nil
	}
	return d.Context.Value(key)
}

// Detach returns a context for work that outlives the current hook, such as
// a background fetch. Calls made with it are not queued behind the cycle
// that launched them, and it is not cancelled with ctx.
func Detach(ctx context.Context) context.Context {
	return detached{context.WithoutCancel(ctx)}
}
