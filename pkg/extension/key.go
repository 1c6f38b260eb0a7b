package extension

import "reflect"

// Key is a typed extension name.
type Key[V any] struct {
	name string
}

// NewKey creates a typed key for name.
func NewKey[V any](name string) Key[V] {
	return Key[V]{name: name}
}

// Name returns the extension name.
func (k Key[V]) Name() string {
	return k.name
}

// Put stores v in f under the key's name.
func (k Key[V]) Put(f Fragment, v V) {
	f[k.name] = v
}

// From reads the key from g.
func (k Key[V]) From(g Getter) (V, bool) {
	return Get[V](g, k.name)
}

// Declare records the key's type in s.
func (k Key[V]) Declare(s Schema) {
	s[k.name] = reflect.TypeFor[V]()
}
