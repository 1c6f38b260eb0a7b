package fetch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/boringtable/pkg/async"
	"github.com/platinummonkey/boringtable/pkg/extension"
	"github.com/platinummonkey/boringtable/pkg/table"
)

// Name is the plugin name.
const Name = "fetch-plugin"

// ErrUnknownParam is returned when setting a parameter the plugin was not
// created with.
var ErrUnknownParam = errors.New("unknown query parameter")

// DefaultTimeout bounds background fetches started by the default Launcher.
const DefaultTimeout = 30 * time.Second

// Extension keys contributed by the plugin. Result extensions are merged
// after them and may add further keys; result keys that collide with these
// are dropped.
var (
	QueryParamsKey      = extension.NewKey[map[string][]string]("queryParams")
	LoadingKey          = extension.NewKey[bool]("loading")
	ErrorKey            = extension.NewKey[string]("fetchError")
	FetchKey            = extension.NewKey[func(context.Context) error]("fetch")
	SetQueryParamKey    = extension.NewKey[func(context.Context, string, ...string) error]("setQueryParam")
	SetQueryParamsKey   = extension.NewKey[func(context.Context, QueryParams) error]("setQueryParams")
	ResetQueryParamsKey = extension.NewKey[func(context.Context) error]("resetQueryParams")
	ResetExtensionsKey  = extension.NewKey[func(context.Context) error]("resetExtensions")
	ResetKey            = extension.NewKey[func(context.Context) error]("reset")
)

// Launcher starts fn in the background.
type Launcher func(ctx context.Context, name string, fn func(context.Context) error)

// Options configures a fetch plugin.
type Options[T any] struct {
	Source            Source[T]
	SourceName        string
	QueryParams       QueryParams
	InitialExtensions extension.Fragment
	// NoFetchOnMount disables the fetch started when the table mounts.
	NoFetchOnMount bool
	Launcher       Launcher
	Timeout        time.Duration
	Logger         logrus.FieldLogger
	Recorder       Recorder
}

// Plugin loads table data from a Source.
type Plugin[T any] struct {
	table.Base

	source       Source[T]
	sourceName   string
	fetchOnMount bool
	launch       Launcher
	log          logrus.FieldLogger
	recorder     Recorder

	initialParams QueryParams
	initialExt    extension.Fragment

	mu      sync.Mutex
	table   *table.Table[T]
	params  QueryParams
	ext     extension.Fragment
	pending int
	lastErr error
}

// New returns a fetch plugin. The initial parameters and extensions are
// deep-copied; later changes to opts do not affect the plugin.
func New[T any](opts Options[T]) *Plugin[T] {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.SourceName == "" {
		opts.SourceName = fmt.Sprintf("%T", opts.Source)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	log := opts.Logger.WithField("plugin", Name)
	if opts.Launcher == nil {
		timeout := opts.Timeout
		opts.Launcher = func(ctx context.Context, name string, fn func(context.Context) error) {
			async.SafeGo(ctx, log, timeout, name, fn)
		}
	}

	p := &Plugin[T]{
		Base:          table.NewBase(Name, table.PriorityNormal),
		source:        opts.Source,
		sourceName:    opts.SourceName,
		fetchOnMount:  !opts.NoFetchOnMount,
		launch:        opts.Launcher,
		log:           log,
		recorder:      recorderOrNoop(opts.Recorder),
		initialParams: opts.QueryParams.Clone(),
		params:        opts.QueryParams.Clone(),
	}
	p.initialExt = p.withoutOwnKeys(opts.InitialExtensions)
	p.ext = p.initialExt.Clone()
	return p
}

// Configure keeps the table for later fetches.
func (p *Plugin[T]) Configure(_ context.Context, t *table.Table[T]) (extension.Fragment, error) {
	if p.source == nil {
		return nil, errors.New("fetch plugin requires a source")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.table = t
	return nil, nil
}

// OnMount starts the first fetch unless disabled.
func (p *Plugin[T]) OnMount(ctx context.Context) error {
	if p.fetchOnMount {
		p.start(ctx)
	}
	return nil
}

// OnReset restores the initial parameters and extensions and refetches.
func (p *Plugin[T]) OnReset(ctx context.Context) (extension.Fragment, error) {
	p.mu.Lock()
	p.params = p.initialParams.Clone()
	p.ext = p.initialExt.Clone()
	p.lastErr = nil
	p.mu.Unlock()

	p.start(ctx)
	return nil, nil
}

// OnUpdateExtensions publishes parameters, loading state, actions and the
// last result's extensions.
func (p *Plugin[T]) OnUpdateExtensions(context.Context) (extension.Fragment, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	f := extension.Fragment{}
	QueryParamsKey.Put(f, p.params.Values())
	LoadingKey.Put(f, p.pending > 0)
	if p.lastErr != nil {
		ErrorKey.Put(f, p.lastErr.Error())
	}
	FetchKey.Put(f, p.Fetch)
	SetQueryParamKey.Put(f, p.SetQueryParam)
	SetQueryParamsKey.Put(f, p.SetQueryParams)
	ResetQueryParamsKey.Put(f, p.ResetQueryParams)
	ResetExtensionsKey.Put(f, p.ResetExtensions)
	ResetKey.Put(f, p.Reset)
	for k, v := range p.ext.Clone() {
		f[k] = v
	}
	return f, nil
}

// ExtensionSchema declares the plugin's own keys.
func (p *Plugin[T]) ExtensionSchema() extension.Schema {
	s := extension.Schema{}
	QueryParamsKey.Declare(s)
	LoadingKey.Declare(s)
	ErrorKey.Declare(s)
	FetchKey.Declare(s)
	SetQueryParamKey.Declare(s)
	SetQueryParamsKey.Declare(s)
	ResetQueryParamsKey.Declare(s)
	ResetExtensionsKey.Declare(s)
	ResetKey.Declare(s)
	return s
}

// QueryParams returns a copy of the current parameters.
func (p *Plugin[T]) QueryParams() QueryParams {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.params.Clone()
}

// QueryString returns the encoded current parameters.
func (p *Plugin[T]) QueryString() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.params.Encode()
}

// Loading reports whether a fetch is in progress.
func (p *Plugin[T]) Loading() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pending > 0
}

// Fetch loads rows for the current parameters and replaces the table data.
// Loading is published before the source is called.
func (p *Plugin[T]) Fetch(ctx context.Context) error {
	p.mu.Lock()
	t := p.table
	if t == nil {
		p.mu.Unlock()
		return table.ErrNotConfigured
	}
	req := Request{QueryString: p.params.Encode(), Params: p.params.Values()}
	p.pending++
	p.mu.Unlock()

	if err := t.Dispatch(ctx, table.EventUpdateExtensions); err != nil {
		p.finish(nil, nil)
		return err
	}

	start := time.Now()
	res, err := p.source.Fetch(ctx, req)
	p.recorder.RecordFetch(ctx, p.sourceName, time.Since(start), err)
	p.finish(res, err)

	if err != nil {
		p.log.WithError(err).WithField("query", req.QueryString).Warn("fetch failed")
		if dispatchErr := t.Dispatch(ctx, table.EventUpdateExtensions); dispatchErr != nil {
			return errors.Join(err, dispatchErr)
		}
		return fmt.Errorf("fetch %s: %w", p.sourceName, err)
	}

	var data []T
	if res != nil {
		data = res.Data
	}
	return t.SetData(ctx, data)
}

func (p *Plugin[T]) finish(res *Result[T], err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending--
	p.lastErr = err
	if err == nil && res != nil && res.Extensions != nil {
		p.ext = p.withoutOwnKeys(res.Extensions)
	}
}

// withoutOwnKeys copies f without the keys the plugin publishes itself.
func (p *Plugin[T]) withoutOwnKeys(f extension.Fragment) extension.Fragment {
	out := f.Clone()
	for key := range p.ExtensionSchema() {
		if _, ok := out[key]; ok {
			p.log.WithField("key", key).Warn("ignoring result extension that shadows a plugin key")
			delete(out, key)
		}
	}
	return out
}

// start launches a fetch that outlives ctx and the cycle it belongs to.
func (p *Plugin[T]) start(ctx context.Context) {
	p.launch(table.Detach(ctx), "fetch "+p.sourceName, p.Fetch)
}

// SetQueryParam replaces the values of key and publishes the change. A fetch
// is started when the parameter requests one on change.
func (p *Plugin[T]) SetQueryParam(ctx context.Context, key string, values ...string) error {
	return p.UpdateQueryParam(ctx, key, func([]string) []string { return values })
}

// UpdateQueryParam replaces the values of key with update(current).
func (p *Plugin[T]) UpdateQueryParam(ctx context.Context, key string, update func(prev []string) []string) error {
	p.mu.Lock()
	t := p.table
	if t == nil {
		p.mu.Unlock()
		return table.ErrNotConfigured
	}
	param, ok := p.params[key]
	if !ok {
		p.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownParam, key)
	}
	param.Values = append([]string(nil), update(append([]string(nil), param.Values...))...)
	p.params[key] = param
	p.mu.Unlock()

	if err := t.Dispatch(ctx, table.EventUpdateExtensions); err != nil {
		return err
	}
	if param.RequestOnChange {
		p.start(ctx)
	}
	return nil
}

// SetQueryParams replaces the whole parameter set and publishes it. A fetch
// is started when any of the new parameters requests one on change.
func (p *Plugin[T]) SetQueryParams(ctx context.Context, params QueryParams) error {
	p.mu.Lock()
	t := p.table
	if t == nil {
		p.mu.Unlock()
		return table.ErrNotConfigured
	}
	p.params = params.Clone()
	p.mu.Unlock()

	if err := t.Dispatch(ctx, table.EventUpdateExtensions); err != nil {
		return err
	}
	for _, param := range params {
		if param.RequestOnChange {
			p.start(ctx)
			break
		}
	}
	return nil
}

// ResetQueryParams restores the initial parameters and refetches.
func (p *Plugin[T]) ResetQueryParams(ctx context.Context) error {
	return p.restore(ctx, true, false)
}

// ResetExtensions restores the initial result extensions and refetches.
func (p *Plugin[T]) ResetExtensions(ctx context.Context) error {
	return p.restore(ctx, false, true)
}

// Reset restores both parameters and extensions and refetches.
func (p *Plugin[T]) Reset(ctx context.Context) error {
	return p.restore(ctx, true, true)
}

func (p *Plugin[T]) restore(ctx context.Context, params, ext bool) error {
	p.mu.Lock()
	t := p.table
	if t == nil {
		p.mu.Unlock()
		return table.ErrNotConfigured
	}
	if params {
		p.params = p.initialParams.Clone()
	}
	if ext {
		p.ext = p.initialExt.Clone()
	}
	p.mu.Unlock()

	if err := t.Dispatch(ctx, table.EventUpdateExtensions); err != nil {
		return err
	}
	p.start(ctx)
	return nil
}
