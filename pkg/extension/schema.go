package extension

import (
	"errors"
	"fmt"
	"reflect"
)

// ErrTypeMismatch is returned when a fragment value does not match the type
// its owner declared for that key.
var ErrTypeMismatch = errors.New("extension type mismatch")

// TypeMismatchError describes a single failed schema check.
type TypeMismatchError struct {
	Owner    string
	Key      string
	Declared reflect.Type
	Got      reflect.Type
}

func (e *TypeMismatchError) Error() string {
	got := "nil"
	if e.Got != nil {
		got = e.Got.String()
	}
	return fmt.Sprintf("extension %q from %s: declared %s, got %s", e.Key, e.Owner, e.Declared, got)
}

func (e *TypeMismatchError) Unwrap() error {
	return ErrTypeMismatch
}

// Schema declares the type of each key a plugin contributes.
type Schema map[string]reflect.Type

// Check validates f against the schema. Keys the schema does not mention
// are accepted as-is.
func (s Schema) Check(owner string, f Fragment) error {
	for key, declared := range s {
		v, ok := f[key]
		if !ok {
			continue
		}
		if v == nil {
			if nillable(declared) {
				continue
			}
			return &TypeMismatchError{Owner: owner, Key: key, Declared: declared}
		}
		got := reflect.TypeOf(v)
		if !got.AssignableTo(declared) {
			return &TypeMismatchError{Owner: owner, Key: key, Declared: declared, Got: got}
		}
	}
	return nil
}

func nillable(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Interface, reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return true
	default:
		return false
	}
}
