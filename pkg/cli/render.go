package cli

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/boringtable/pkg/extension"
	"github.com/platinummonkey/boringtable/pkg/plugins"
	"github.com/platinummonkey/boringtable/pkg/plugins/fetch"
	"github.com/platinummonkey/boringtable/pkg/plugins/pagination"
	"github.com/platinummonkey/boringtable/pkg/source/filewatch"
	"github.com/platinummonkey/boringtable/pkg/table"
)

// queryFlag collects repeated -query key=value flags. Repeating a key
// appends a value.
type queryFlag map[string][]string

func (q queryFlag) String() string {
	parts := make([]string, 0, len(q))
	for k, vs := range q {
		parts = append(parts, k+"="+strings.Join(vs, ","))
	}
	return strings.Join(parts, " ")
}

func (q queryFlag) Set(s string) error {
	key, value, ok := strings.Cut(s, "=")
	if !ok || key == "" {
		return fmt.Errorf("query must be key=value, got %q", s)
	}
	q[key] = append(q[key], value)
	return nil
}

type renderOptions struct {
	manifest string
	rows     string
	page     int
	pageSize int
	query    queryFlag
	timeout  time.Duration
}

func newRenderCommand(out io.Writer) *Command {
	cmd := &Command{
		Name:        "render",
		Description: "Build a table from a manifest and print one page",
		Flags:       flag.NewFlagSet("render", flag.ContinueOnError),
		Out:         out,
	}
	opts := renderOptions{query: queryFlag{}}
	cmd.Flags.StringVar(&opts.manifest, "manifest", "", "Path to the table manifest")
	cmd.Flags.StringVar(&opts.rows, "rows", "", "JSON or YAML file with the initial rows")
	cmd.Flags.IntVar(&opts.page, "page", 0, "Page to show")
	cmd.Flags.IntVar(&opts.pageSize, "page-size", 0, "Rows per page")
	cmd.Flags.Var(opts.query, "query", "Query parameter key=value (repeatable)")
	cmd.Flags.DurationVar(&opts.timeout, "timeout", 30*time.Second, "Timeout for fetches")

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		return runRender(out, opts)
	}
	return cmd
}

// pendingFetches holds fetches started by the table so a one-shot render can
// run them in the foreground.
type pendingFetches struct {
	fns []func(context.Context) error
}

func (p *pendingFetches) launch(_ context.Context, _ string, fn func(context.Context) error) {
	p.fns = append(p.fns, fn)
}

func (p *pendingFetches) run(ctx context.Context) error {
	for len(p.fns) > 0 {
		fn := p.fns[0]
		p.fns = p.fns[1:]
		if err := fn(ctx); err != nil {
			return err
		}
	}
	return nil
}

func runRender(out io.Writer, opts renderOptions) error {
	if opts.manifest == "" {
		return fmt.Errorf("manifest is required")
	}
	ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
	defer cancel()

	m, err := plugins.LoadManifest(opts.manifest)
	if err != nil {
		return err
	}

	var data []plugins.Row
	if opts.rows != "" {
		raw, err := os.ReadFile(opts.rows)
		if err != nil {
			return fmt.Errorf("failed to read rows: %w", err)
		}
		if data, err = filewatch.Decode[plugins.Row](opts.rows, raw); err != nil {
			return err
		}
	}

	log := logrus.New()
	log.SetOutput(io.Discard)
	pending := &pendingFetches{}

	registry := plugins.NewRegistry[plugins.Row]()
	if err := plugins.RegisterBuiltins(registry, plugins.BuiltinDeps[plugins.Row]{
		Logger:   log,
		Launcher: pending.launch,
	}); err != nil {
		return err
	}
	chain, err := plugins.NewLoader(registry, log).Build(ctx, m)
	if err != nil {
		return err
	}

	tbl, err := table.New(ctx, data, plugins.RowColumns(m.Columns), chain,
		table.WithID(m.ID),
		table.WithLogger(log),
	)
	if err != nil {
		return err
	}
	if err := pending.run(ctx); err != nil {
		return err
	}

	if len(opts.query) > 0 {
		set, ok := fetch.SetQueryParamKey.From(tbl.Extensions())
		if !ok {
			return fmt.Errorf("table %s has no query parameters", m.ID)
		}
		for key, values := range opts.query {
			if err := set(ctx, key, values...); err != nil {
				return err
			}
		}
		if err := pending.run(ctx); err != nil {
			return err
		}
	}

	if opts.pageSize > 0 {
		if err := callInt(ctx, tbl.Extensions(), pagination.SetPageSizeKey, opts.pageSize); err != nil {
			return err
		}
	}
	if opts.page > 0 {
		if err := callInt(ctx, tbl.Extensions(), pagination.SetPageKey, opts.page); err != nil {
			return err
		}
	}

	return printView(out, viewOf(tbl))
}

func callInt(ctx context.Context, ext extension.Getter, key extension.Key[func(context.Context, int) error], n int) error {
	fn, ok := key.From(ext)
	if !ok {
		return fmt.Errorf("table has no %s action", key.Name())
	}
	return fn(ctx, n)
}
