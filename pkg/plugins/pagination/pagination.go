// Package pagination slices the custom body into pages.
package pagination

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/platinummonkey/boringtable/pkg/extension"
	"github.com/platinummonkey/boringtable/pkg/table"
)

// Name is the plugin name.
const Name = "pagination-plugin"

// ErrPageOutOfRange is returned by SetPage for a page outside 1..lastPage.
var ErrPageOutOfRange = errors.New("page out of range")

// Extension keys contributed by the plugin.
var (
	PageKey        = extension.NewKey[int]("page")
	PageSizeKey    = extension.NewKey[int]("pageSize")
	LastPageKey    = extension.NewKey[int]("lastPage")
	TotalItemsKey  = extension.NewKey[int]("totalItems")
	NextPageKey    = extension.NewKey[func(context.Context) error]("nextPage")
	PrevPageKey    = extension.NewKey[func(context.Context) error]("prevPage")
	SetPageKey     = extension.NewKey[func(context.Context, int) error]("setPage")
	SetPageSizeKey = extension.NewKey[func(context.Context, int) error]("setPageSize")
)

// Options configures the first page shown. A zero PageSize shows every row
// on one page, sized by the first non-empty body observed.
type Options struct {
	Page     int `yaml:"page" json:"page"`
	PageSize int `yaml:"pageSize" json:"pageSize"`
}

// Plugin paginates the custom body. It runs last so that it pages the rows
// left by filtering and sorting plugins.
type Plugin[T any] struct {
	table.Base

	initial Options

	mu         sync.Mutex
	table      *table.Table[T]
	page       int
	pageSize   int
	lastPage   int
	totalItems int
	counted    bool
}

// New returns a pagination plugin.
func New[T any](opts Options) *Plugin[T] {
	if opts.Page < 1 {
		opts.Page = 1
	}
	if opts.PageSize < 0 {
		opts.PageSize = 0
	}
	p := &Plugin[T]{
		Base:    table.NewBase(Name, table.PriorityShouldBeLast),
		initial: opts,
	}
	p.restore()
	return p
}

func (p *Plugin[T]) restore() {
	p.page = p.initial.Page
	p.pageSize = p.initial.PageSize
	p.lastPage = 0
	p.totalItems = 0
	p.counted = false
}

// Configure keeps the table for the page actions.
func (p *Plugin[T]) Configure(_ context.Context, t *table.Table[T]) (extension.Fragment, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.table = t
	return nil, nil
}

// OnUpdateCustomBody recomputes the page bounds and returns the current page.
// A change in the number of incoming rows moves back to the first page.
func (p *Plugin[T]) OnUpdateCustomBody(_ context.Context, rows []*table.BodyRow[T]) ([]*table.BodyRow[T], error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	total := len(rows)
	if p.counted && total != p.totalItems {
		p.page = 1
	}
	if p.pageSize == 0 && total > 0 {
		p.pageSize = total
	}
	p.totalItems = total
	p.counted = true
	p.lastPage = lastPage(total, p.pageSize)

	if p.page > p.lastPage {
		p.page = max(p.lastPage, 1)
	}
	if p.pageSize == 0 {
		return rows, nil
	}

	start := min((p.page-1)*p.pageSize, total)
	end := min(start+p.pageSize, total)
	return rows[start:end], nil
}

func lastPage(total, pageSize int) int {
	if pageSize <= 0 {
		return 0
	}
	return (total + pageSize - 1) / pageSize
}

// OnUpdateExtensions publishes the page state and actions.
func (p *Plugin[T]) OnUpdateExtensions(context.Context) (extension.Fragment, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	f := extension.Fragment{}
	PageKey.Put(f, p.page)
	PageSizeKey.Put(f, p.pageSize)
	LastPageKey.Put(f, p.lastPage)
	TotalItemsKey.Put(f, p.totalItems)
	NextPageKey.Put(f, p.NextPage)
	PrevPageKey.Put(f, p.PrevPage)
	SetPageKey.Put(f, p.SetPage)
	SetPageSizeKey.Put(f, p.SetPageSize)
	return f, nil
}

// OnReset restores the options the plugin was created with.
func (p *Plugin[T]) OnReset(context.Context) (extension.Fragment, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.restore()
	return nil, nil
}

// ExtensionSchema declares the contributed keys.
func (p *Plugin[T]) ExtensionSchema() extension.Schema {
	s := extension.Schema{}
	PageKey.Declare(s)
	PageSizeKey.Declare(s)
	LastPageKey.Declare(s)
	TotalItemsKey.Declare(s)
	NextPageKey.Declare(s)
	PrevPageKey.Declare(s)
	SetPageKey.Declare(s)
	SetPageSizeKey.Declare(s)
	return s
}

// Page returns the current page, starting at 1.
func (p *Plugin[T]) Page() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.page
}

// LastPage returns the number of pages.
func (p *Plugin[T]) LastPage() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastPage
}

// NextPage moves forward one page. It does nothing on the last page.
func (p *Plugin[T]) NextPage(ctx context.Context) error {
	return p.move(ctx, func() bool {
		if p.page >= p.lastPage {
			return false
		}
		p.page++
		return true
	})
}

// PrevPage moves back one page. It does nothing on the first page.
func (p *Plugin[T]) PrevPage(ctx context.Context) error {
	return p.move(ctx, func() bool {
		if p.page <= 1 {
			return false
		}
		p.page--
		return true
	})
}

// SetPage jumps to page n.
func (p *Plugin[T]) SetPage(ctx context.Context, n int) error {
	var err error
	moveErr := p.move(ctx, func() bool {
		if n < 1 || n > max(p.lastPage, 1) {
			err = fmt.Errorf("%w: %d not in 1..%d", ErrPageOutOfRange, n, p.lastPage)
			return false
		}
		if n == p.page {
			return false
		}
		p.page = n
		return true
	})
	if err != nil {
		return err
	}
	return moveErr
}

// SetPageSize changes the page size and returns to the first page.
func (p *Plugin[T]) SetPageSize(ctx context.Context, n int) error {
	if n < 1 {
		return fmt.Errorf("invalid page size %d", n)
	}
	return p.move(ctx, func() bool {
		p.pageSize = n
		p.page = 1
		return true
	})
}

// move applies change under the lock and re-runs the custom body when it
// reports a change.
func (p *Plugin[T]) move(ctx context.Context, change func() bool) error {
	p.mu.Lock()
	t := p.table
	if t == nil {
		p.mu.Unlock()
		return table.ErrNotConfigured
	}
	changed := change()
	p.mu.Unlock()

	if !changed {
		return nil
	}
	return t.Dispatch(ctx, table.EventUpdateCustomBody)
}
