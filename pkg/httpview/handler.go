package httpview

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sort"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/cors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/boringtable/pkg/extension"
	"github.com/platinummonkey/boringtable/pkg/httputil"
	"github.com/platinummonkey/boringtable/pkg/observability"
	"github.com/platinummonkey/boringtable/pkg/plugins/change"
	"github.com/platinummonkey/boringtable/pkg/plugins/fetch"
	"github.com/platinummonkey/boringtable/pkg/plugins/pagination"
	"github.com/platinummonkey/boringtable/pkg/table"
)

const (
	// DefaultWaitTimeout bounds GET /table/wait when no timeout is given.
	DefaultWaitTimeout = 30 * time.Second
	// DefaultMaxBodyBytes limits request bodies.
	DefaultMaxBodyBytes = 1 << 20
)

// Options configures a Handler. Every field is optional.
type Options struct {
	Logger       *observability.Logger
	Registry     *prometheus.Registry
	Metrics      *observability.Metrics
	Health       *observability.HealthChecker
	Version      string
	WaitTimeout  time.Duration
	MaxBodyBytes int64

	// RateLimit, when set, throttles the endpoints that change the table.
	RateLimit Limiter

	// AllowedOrigins enables CORS for browser render layers served from
	// other origins. "*" allows any origin.
	AllowedOrigins []string
}

// Handler serves one table.
type Handler[T any] struct {
	table       *table.Table[T]
	log         *observability.Logger
	health      *observability.HealthChecker
	waitTimeout time.Duration
	router      *mux.Router
	handler     http.Handler
}

// ColumnView describes a column in a snapshot.
type ColumnView struct {
	Key    string `json:"key"`
	Header string `json:"header"`
}

// Snapshot is the JSON view of a table.
type Snapshot[T any] struct {
	ID         string                `json:"id"`
	State      string                `json:"state"`
	Cycle      uint64                `json:"cycle"`
	Columns    []ColumnView          `json:"columns"`
	Extensions *extension.Extensions `json:"extensions"`
	Actions    []string              `json:"actions"`
	BodyLength int                   `json:"bodyLength"`
	Rows       []*table.BodyRow[T]   `json:"rows"`
}

// ActionRequest is the body for actions that take an integer.
type ActionRequest struct {
	Value *int `json:"value"`
}

// QueryRequest is the body of PUT /table/query/{key}.
type QueryRequest struct {
	Values []string `json:"values"`
}

// New builds the router for t.
func New[T any](t *table.Table[T], opts Options) *Handler[T] {
	if opts.Logger == nil {
		opts.Logger = observability.NewLogger(observability.InfoLevel, os.Stdout)
	}
	if opts.Registry == nil {
		opts.Registry = prometheus.NewRegistry()
	}
	if opts.Metrics == nil {
		opts.Metrics = observability.NewMetrics(opts.Registry)
	}
	if opts.Health == nil {
		opts.Health = observability.NewHealthChecker(nil, nil, opts.Version)
	}
	if opts.WaitTimeout <= 0 {
		opts.WaitTimeout = DefaultWaitTimeout
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}

	h := &Handler[T]{
		table:       t,
		log:         opts.Logger.WithField("table", t.ID()),
		health:      opts.Health,
		waitTimeout: opts.WaitTimeout,
		router:      mux.NewRouter(),
	}
	h.health.AddProbe("table", h.probe)

	r := h.router
	r.Use(observability.HTTPMetricsMiddleware(opts.Metrics, routeTemplate))
	r.HandleFunc("/table", h.getTable).Methods(http.MethodGet)
	r.HandleFunc("/table/wait", h.waitTable).Methods(http.MethodGet)

	limit := func(next http.HandlerFunc) http.Handler { return next }
	if opts.RateLimit != nil {
		mw := RateLimitMiddleware(opts.RateLimit, h.log)
		limit = func(next http.HandlerFunc) http.Handler { return mw(next) }
	}
	r.Handle("/table/actions/{name}", limit(h.invokeAction)).Methods(http.MethodPost)
	r.Handle("/table/reset", limit(h.reset)).Methods(http.MethodPost)
	r.Handle("/table/query/{key}", limit(h.setQuery)).Methods(http.MethodPut)
	r.Handle("/table/rows/{index}", limit(h.changeRow)).Methods(http.MethodPut)
	r.Handle("/metrics", observability.MetricsHandler(opts.Registry)).Methods(http.MethodGet)
	r.HandleFunc("/healthz", h.health.Liveness).Methods(http.MethodGet)
	r.HandleFunc("/readyz", h.health.Readiness).Methods(http.MethodGet)

	h.handler = otelhttp.NewHandler(
		httputil.Chain(
			httputil.RequestIDMiddleware,
			h.logging,
			h.recovery,
			httputil.MaxBytesMiddleware(opts.MaxBodyBytes),
		)(r),
		"boringtable",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
	if len(opts.AllowedOrigins) > 0 {
		h.handler = cors.New(cors.Options{
			AllowedOrigins: opts.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut},
			AllowedHeaders: []string{"Content-Type", httputil.RequestIDHeader},
			ExposedHeaders: []string{httputil.RequestIDHeader, "Retry-After", "X-RateLimit-Limit"},
		}).Handler(h.handler)
	}
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler[T]) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.handler.ServeHTTP(w, r)
}

// Router exposes the router so callers can mount extra routes.
func (h *Handler[T]) Router() *mux.Router {
	return h.router
}

// Snapshot captures the current view.
func (h *Handler[T]) Snapshot() Snapshot[T] {
	ext := h.table.Extensions()
	cols := h.table.Columns()
	views := make([]ColumnView, 0, len(cols))
	for _, c := range cols {
		views = append(views, ColumnView{Key: c.Key, Header: c.Header})
	}
	rows := h.table.CustomBody()
	if rows == nil {
		rows = []*table.BodyRow[T]{}
	}
	return Snapshot[T]{
		ID:         h.table.ID(),
		State:      h.table.State().String(),
		Cycle:      h.table.Cycles(),
		Columns:    views,
		Extensions: ext,
		Actions:    actions(ext),
		BodyLength: len(h.table.Body()),
		Rows:       rows,
	}
}

func actions(ext *extension.Extensions) []string {
	names := []string{}
	for _, key := range ext.Keys() {
		v, _ := ext.Get(key)
		switch v.(type) {
		case func(context.Context) error, func(context.Context, int) error:
			names = append(names, key)
		}
	}
	sort.Strings(names)
	return names
}

func (h *Handler[T]) probe(context.Context) error {
	if s := h.table.State(); s < table.StateMounted {
		return fmt.Errorf("table is %s", s)
	}
	return nil
}

func (h *Handler[T]) getTable(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, h.Snapshot())
}

func (h *Handler[T]) waitTable(w http.ResponseWriter, r *http.Request) {
	timeout, err := httputil.QueryDuration(r, "timeout", h.waitTimeout)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	switch err := h.table.AwaitUpdate(ctx); {
	case err == nil:
		httputil.WriteJSON(w, http.StatusOK, h.Snapshot())
	case r.Context().Err() != nil:
		// client went away
	default:
		httputil.WriteNoContent(w)
	}
}

func (h *Handler[T]) invokeAction(w http.ResponseWriter, r *http.Request) {
	name, ok := httputil.PathVar(w, r, "name")
	if !ok {
		return
	}

	v, found := h.table.Extensions().Get(name)
	if !found {
		httputil.WriteNotFound(w, "unknown action: "+name)
		return
	}

	var err error
	switch fn := v.(type) {
	case func(context.Context) error:
		err = fn(r.Context())
	case func(context.Context, int) error:
		var body ActionRequest
		if !httputil.ReadJSON(w, r, &body) {
			return
		}
		if body.Value == nil {
			httputil.WriteBadRequest(w, "value is required")
			return
		}
		err = fn(r.Context(), *body.Value)
	default:
		httputil.WriteBadRequest(w, name+" is not an action")
		return
	}

	if err != nil {
		h.writeActionError(w, r, name, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, h.Snapshot())
}

func (h *Handler[T]) reset(w http.ResponseWriter, r *http.Request) {
	if err := h.table.Reset(r.Context()); err != nil {
		h.writeActionError(w, r, "reset", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, h.Snapshot())
}

func (h *Handler[T]) setQuery(w http.ResponseWriter, r *http.Request) {
	key, ok := httputil.PathVar(w, r, "key")
	if !ok {
		return
	}
	set, found := fetch.SetQueryParamKey.From(h.table.Extensions())
	if !found {
		httputil.WriteNotFound(w, "table has no query parameters")
		return
	}

	var body QueryRequest
	if !httputil.ReadJSON(w, r, &body) {
		return
	}
	if err := set(r.Context(), key, body.Values...); err != nil {
		h.writeActionError(w, r, "setQueryParam", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, h.Snapshot())
}

func (h *Handler[T]) changeRow(w http.ResponseWriter, r *http.Request) {
	index, ok := httputil.PathInt(w, r, "index")
	if !ok {
		return
	}

	var row *table.BodyRow[T]
	for _, br := range h.table.Body() {
		if br.Index == index {
			row = br
			break
		}
	}
	if row == nil {
		httputil.WriteNotFound(w, fmt.Sprintf("no row at index %d", index))
		return
	}
	apply, found := change.Key[T]().From(row.Extensions)
	if !found {
		httputil.WriteNotFound(w, "rows cannot be changed")
		return
	}

	var record T
	if err := httputil.DecodeJSON(r, &record, false); err != nil {
		httputil.WriteRequestError(w, err)
		return
	}
	if err := apply(r.Context(), func(T) T { return record }); err != nil {
		h.writeActionError(w, r, "change", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, h.Snapshot())
}

func (h *Handler[T]) writeActionError(w http.ResponseWriter, r *http.Request, action string, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		observability.FromContext(r.Context()).WithError(err).WithField("action", action).Error("table action failed")
	}
	httputil.WriteErrorDetails(w, status, err, map[string]string{"action": action})
}

// StatusFor maps table and plugin errors to HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, pagination.ErrPageOutOfRange),
		errors.Is(err, fetch.ErrUnknownParam),
		errors.Is(err, change.ErrRowOutOfRange):
		return http.StatusUnprocessableEntity
	case errors.Is(err, table.ErrNotConfigured):
		return http.StatusConflict
	case errors.Is(err, table.ErrCycleLimit):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}
