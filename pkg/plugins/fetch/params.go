package fetch

import (
	"net/url"
	"sort"
)

// QueryParam is one query parameter. Values are encoded as repeated keys.
type QueryParam struct {
	Values          []string `yaml:"values" json:"values"`
	RequestOnChange bool     `yaml:"requestOnChange" json:"requestOnChange"`
}

// QueryParams maps parameter names to their state.
type QueryParams map[string]QueryParam

// Clone returns a deep copy.
func (q QueryParams) Clone() QueryParams {
	if q == nil {
		return QueryParams{}
	}
	out := make(QueryParams, len(q))
	for k, v := range q {
		out[k] = QueryParam{
			Values:          append([]string(nil), v.Values...),
			RequestOnChange: v.RequestOnChange,
		}
	}
	return out
}

// Values returns the current values of every parameter.
func (q QueryParams) Values() map[string][]string {
	out := make(map[string][]string, len(q))
	for k, v := range q {
		out[k] = append([]string(nil), v.Values...)
	}
	return out
}

// Names returns the parameter names in sorted order.
func (q QueryParams) Names() []string {
	names := make([]string, 0, len(q))
	for k := range q {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Encode builds the query string. Empty values are dropped, keys are sorted.
func (q QueryParams) Encode() string {
	v := url.Values{}
	for k, p := range q {
		for _, s := range p.Values {
			if s != "" {
				v.Add(k, s)
			}
		}
	}
	return v.Encode()
}
