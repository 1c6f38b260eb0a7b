// Package change lets a render layer edit single records in place through
// an action attached to every body row.
package change

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/platinummonkey/boringtable/pkg/extension"
	"github.com/platinummonkey/boringtable/pkg/table"
)

// Name is the plugin name.
const Name = "change-plugin"

// ErrRowOutOfRange is returned when the row index no longer addresses a record.
var ErrRowOutOfRange = errors.New("row index out of range")

// Func replaces a record with the value returned by update.
type Func[T any] func(ctx context.Context, update func(prev T) T) error

// Key returns the row extension key holding the change action.
func Key[T any]() extension.Key[Func[T]] {
	return extension.NewKey[Func[T]]("change")
}

// Plugin attaches a change action to every body row and restores the
// records it was configured with on reset.
type Plugin[T any] struct {
	table.Base

	mu      sync.Mutex
	table   *table.Table[T]
	initial []T
}

// New returns a change plugin.
func New[T any]() *Plugin[T] {
	return &Plugin[T]{Base: table.NewBase(Name, table.PriorityNormal)}
}

// Configure snapshots the data the table starts with.
func (p *Plugin[T]) Configure(_ context.Context, t *table.Table[T]) (extension.Fragment, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.table = t
	p.initial = t.Data()
	return nil, nil
}

// OnCreateBodyRow contributes the row's change action.
func (p *Plugin[T]) OnCreateBodyRow(_ context.Context, row *table.BodyRow[T]) (extension.Fragment, error) {
	index := row.Index
	f := extension.Fragment{}
	Key[T]().Put(f, func(ctx context.Context, update func(prev T) T) error {
		return p.Change(ctx, index, update)
	})
	return f, nil
}

// OnReset restores the configured data. The restore runs as its own cycle
// right after the reset cycle.
func (p *Plugin[T]) OnReset(ctx context.Context) (extension.Fragment, error) {
	p.mu.Lock()
	t, initial := p.table, append([]T(nil), p.initial...)
	p.mu.Unlock()

	if t == nil {
		return nil, table.ErrNotConfigured
	}
	return nil, t.SetData(ctx, initial)
}

// Change replaces the record at index with update(record), re-derives the
// body and returns once the resulting cycle has completed. Concurrent
// changes to different rows may overwrite each other.
func (p *Plugin[T]) Change(ctx context.Context, index int, update func(prev T) T) error {
	p.mu.Lock()
	t := p.table
	p.mu.Unlock()
	if t == nil {
		return table.ErrNotConfigured
	}

	data := t.Data()
	if index < 0 || index >= len(data) {
		return fmt.Errorf("%w: %d", ErrRowOutOfRange, index)
	}
	data[index] = update(data[index])

	// SetData returns once its cycle has completed, or once it is queued
	// when called from a hook or a listener.
	return t.SetData(ctx, data)
}

// Set replaces the record at index with value.
func (p *Plugin[T]) Set(ctx context.Context, index int, value T) error {
	return p.Change(ctx, index, func(T) T { return value })
}
