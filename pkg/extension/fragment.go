package extension

// Getter is implemented by anything that exposes extension values by name.
type Getter interface {
	Get(key string) (any, bool)
}

// Fragment is one plugin's contribution to the composed extensions.
type Fragment map[string]any

// Get returns the value stored under key.
func (f Fragment) Get(key string) (any, bool) {
	v, ok := f[key]
	return v, ok
}

// Clone returns a deep copy of the fragment. Nested maps and slices of the
// supported shapes are copied so that mutating the clone never affects the
// original, and vice versa. Other values are copied by assignment.
func (f Fragment) Clone() Fragment {
	if f == nil {
		return nil
	}
	out := make(Fragment, len(f))
	for k, v := range f {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case Fragment:
		return val.Clone()
	case map[string]any:
		return map[string]any(Fragment(val).Clone())
	case map[string]string:
		out := make(map[string]string, len(val))
		for k, s := range val {
			out[k] = s
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	case []string:
		out := make([]string, len(val))
		copy(out, val)
		return out
	case []int:
		out := make([]int, len(val))
		copy(out, val)
		return out
	case []float64:
		out := make([]float64, len(val))
		copy(out, val)
		return out
	default:
		return v
	}
}

// Get reads key from g and converts it to V.
func Get[V any](g Getter, key string) (V, bool) {
	var zero V
	if g == nil {
		return zero, false
	}
	raw, ok := g.Get(key)
	if !ok {
		return zero, false
	}
	v, ok := raw.(V)
	return v, ok
}
