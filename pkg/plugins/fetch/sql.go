package fetch

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/platinummonkey/boringtable/pkg/extension"
)

// Placeholder renders the n-th (1-based) bind parameter.
type Placeholder func(n int) string

// Placeholder styles for the bundled drivers.
var (
	QuestionPlaceholder Placeholder = func(int) string { return "?" }
	DollarPlaceholder   Placeholder = func(n int) string { return "$" + strconv.Itoa(n) }
)

// TotalKey carries the unpaged row count when SQLSource.CountTotal is set.
var TotalKey = extension.NewKey[int]("total")

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// ErrInvalidIdentifier is returned for table or column names that are not
// plain SQL identifiers.
var ErrInvalidIdentifier = errors.New("invalid SQL identifier")

// SQLSource reads rows from one table. Query parameters named in Filters
// become equality (or IN) conditions on the mapped column; LimitParam and
// OffsetParam select a window.
type SQLSource[T any] struct {
	DB          *sql.DB
	Table       string
	Columns     []string
	Filters     map[string]string
	OrderBy     string
	LimitParam  string
	OffsetParam string
	CountTotal  bool
	Placeholder Placeholder
	Scan        func(rows *sql.Rows) (T, error)
}

// Validate checks identifiers and required fields.
func (s *SQLSource[T]) Validate() error {
	if s.DB == nil {
		return errors.New("sql source: DB is required")
	}
	if s.Scan == nil {
		return errors.New("sql source: Scan is required")
	}
	if len(s.Columns) == 0 {
		return errors.New("sql source: at least one column is required")
	}
	names := append([]string{s.Table}, s.Columns...)
	for _, col := range s.Filters {
		names = append(names, col)
	}
	if s.OrderBy != "" {
		names = append(names, s.OrderBy)
	}
	for _, n := range names {
		if !identifier.MatchString(n) {
			return fmt.Errorf("%w: %q", ErrInvalidIdentifier, n)
		}
	}
	return nil
}

// Fetch runs the select (and the count query when enabled).
func (s *SQLSource[T]) Fetch(ctx context.Context, req Request) (*Result[T], error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}

	where, args := s.where(req.Params)

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s%s", strings.Join(s.Columns, ", "), s.Table, where)
	if s.OrderBy != "" {
		fmt.Fprintf(&b, " ORDER BY %s", s.OrderBy)
	}
	selectArgs := append([]any(nil), args...)
	if n, ok, err := intParam(req.Params, s.LimitParam); err != nil {
		return nil, err
	} else if ok {
		selectArgs = append(selectArgs, n)
		fmt.Fprintf(&b, " LIMIT %s", s.placeholder(len(selectArgs)))
	}
	if n, ok, err := intParam(req.Params, s.OffsetParam); err != nil {
		return nil, err
	} else if ok {
		selectArgs = append(selectArgs, n)
		fmt.Fprintf(&b, " OFFSET %s", s.placeholder(len(selectArgs)))
	}

	rows, err := s.DB.QueryContext(ctx, b.String(), selectArgs...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", s.Table, err)
	}
	defer rows.Close()

	data := []T{}
	for rows.Next() {
		rec, err := s.Scan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", s.Table, err)
		}
		data = append(data, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s rows: %w", s.Table, err)
	}

	result := &Result[T]{Data: data}
	if s.CountTotal {
		var total int
		query := fmt.Sprintf("SELECT COUNT(*) FROM %s%s", s.Table, where)
		if err := s.DB.QueryRowContext(ctx, query, args...).Scan(&total); err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", s.Table, err)
		}
		result.Extensions = extension.Fragment{}
		TotalKey.Put(result.Extensions, total)
	}
	return result, nil
}

func (s *SQLSource[T]) where(params map[string][]string) (string, []any) {
	names := make([]string, 0, len(s.Filters))
	for param := range s.Filters {
		names = append(names, param)
	}
	sort.Strings(names)

	var (
		conds []string
		args  []any
	)
	for _, param := range names {
		var values []string
		for _, v := range params[param] {
			if v != "" {
				values = append(values, v)
			}
		}
		if len(values) == 0 {
			continue
		}
		col := s.Filters[param]
		if len(values) == 1 {
			args = append(args, values[0])
			conds = append(conds, fmt.Sprintf("%s = %s", col, s.placeholder(len(args))))
			continue
		}
		marks := make([]string, len(values))
		for i, v := range values {
			args = append(args, v)
			marks[i] = s.placeholder(len(args))
		}
		conds = append(conds, fmt.Sprintf("%s IN (%s)", col, strings.Join(marks, ", ")))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (s *SQLSource[T]) placeholder(n int) string {
	if s.Placeholder == nil {
		return QuestionPlaceholder(n)
	}
	return s.Placeholder(n)
}

func intParam(params map[string][]string, name string) (int, bool, error) {
	if name == "" {
		return 0, false, nil
	}
	values := params[name]
	if len(values) == 0 || values[0] == "" {
		return 0, false, nil
	}
	n, err := strconv.Atoi(values[0])
	if err != nil || n < 0 {
		return 0, false, fmt.Errorf("query parameter %s: invalid count %q", name, values[0])
	}
	return n, true, nil
}
