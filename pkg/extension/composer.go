package extension

import (
	"encoding/json"
	"reflect"
	"sort"
)

// Collision records a key that was set by more than one owner in a build.
type Collision struct {
	Key      string
	Previous string
	Winner   string
}

// Composer merges fragments shallowly in the order they are added.
type Composer struct {
	values     map[string]any
	owners     map[string]string
	collisions []Collision
}

// NewComposer returns an empty composer.
func NewComposer() *Composer {
	return &Composer{
		values: make(map[string]any),
		owners: make(map[string]string),
	}
}

// Add merges f into the composition. Keys already present are overwritten.
func (c *Composer) Add(owner string, f Fragment) {
	for k, v := range f {
		if prev, ok := c.owners[k]; ok && prev != owner {
			c.collisions = append(c.collisions, Collision{Key: k, Previous: prev, Winner: owner})
		}
		c.values[k] = v
		c.owners[k] = owner
	}
}

// AddChecked validates f against schema before merging it. Nothing is merged
// when the check fails.
func (c *Composer) AddChecked(owner string, schema Schema, f Fragment) error {
	if schema != nil {
		if err := schema.Check(owner, f); err != nil {
			return err
		}
	}
	c.Add(owner, f)
	return nil
}

// Collisions returns the overwrites recorded so far.
func (c *Composer) Collisions() []Collision {
	return c.collisions
}

// Build freezes the composition into a snapshot. The composer must not be
// used afterwards.
func (c *Composer) Build() *Extensions {
	return &Extensions{values: c.values, owners: c.owners}
}

// Extensions is an immutable composed snapshot.
type Extensions struct {
	values map[string]any
	owners map[string]string
}

// Empty returns a snapshot with no keys.
func Empty() *Extensions {
	return &Extensions{values: map[string]any{}, owners: map[string]string{}}
}

// Get returns the value stored under key.
func (e *Extensions) Get(key string) (any, bool) {
	if e == nil {
		return nil, false
	}
	v, ok := e.values[key]
	return v, ok
}

// Owner returns the name of the plugin that contributed key.
func (e *Extensions) Owner(key string) string {
	if e == nil {
		return ""
	}
	return e.owners[key]
}

// Len returns the number of keys.
func (e *Extensions) Len() int {
	if e == nil {
		return 0
	}
	return len(e.values)
}

// Keys returns all keys in sorted order.
func (e *Extensions) Keys() []string {
	if e == nil {
		return nil
	}
	keys := make([]string, 0, len(e.values))
	for k := range e.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Map returns a shallow copy of the snapshot's values.
func (e *Extensions) Map() map[string]any {
	out := make(map[string]any, e.Len())
	if e == nil {
		return out
	}
	for k, v := range e.values {
		out[k] = v
	}
	return out
}

// MarshalJSON encodes the data-valued keys. Actions (function values) and
// channels are omitted.
func (e *Extensions) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, e.Len())
	if e != nil {
		for k, v := range e.values {
			if v != nil {
				switch reflect.TypeOf(v).Kind() {
				case reflect.Func, reflect.Chan:
					continue
				}
			}
			out[k] = v
		}
	}
	return json.Marshal(out)
}
