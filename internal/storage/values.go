package storage

import (
	"fmt"
	"reflect"
	"time"
)

// Value reads attr from m. Nullable attributes are returned dereferenced,
// with nil for null.
func Value(m Model, attr string) (any, bool) {
	switch p := m.Field(attr).(type) {
	case nil:
		return nil, false
	case *int64:
		return *p, true
	case *string:
		return *p, true
	case **string:
		if *p == nil {
			return nil, true
		}
		return **p, true
	case *time.Time:
		return *p, true
	default:
		return reflect.ValueOf(p).Elem().Interface(), true
	}
}

// Assign stores v into attr of m, converting numeric inputs as needed.
func Assign(m Model, attr string, v any) error {
	switch p := m.Field(attr).(type) {
	case nil:
		return fmt.Errorf("%w %q on %s", ErrUnknownAttribute, attr, m.Entity())
	case *int64:
		n, ok := toInt64(v)
		if !ok {
			return fmt.Errorf("storage: %s.%s expects an integer, got %T", m.Entity(), attr, v)
		}
		*p = n
	case *string:
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("storage: %s.%s expects a string, got %T", m.Entity(), attr, v)
		}
		*p = s
	case **string:
		switch s := v.(type) {
		case nil:
			*p = nil
		case string:
			*p = &s
		case *string:
			*p = s
		default:
			return fmt.Errorf("storage: %s.%s expects a string, got %T", m.Entity(), attr, v)
		}
	case *time.Time:
		t, ok := v.(time.Time)
		if !ok {
			return fmt.Errorf("storage: %s.%s expects a time, got %T", m.Entity(), attr, v)
		}
		*p = t
	default:
		rv := reflect.ValueOf(p).Elem()
		nv := reflect.ValueOf(v)
		if !nv.IsValid() || !nv.Type().AssignableTo(rv.Type()) {
			return fmt.Errorf("storage: %s.%s cannot hold %T", m.Entity(), attr, v)
		}
		rv.Set(nv)
	}
	return nil
}

// Copy returns a fresh model of the same entity holding only attrs of m.
func Copy(d *Descriptor, m Model, attrs []string) (Model, error) {
	out := d.New()
	for _, a := range attrs {
		v, ok := Value(m, a)
		if !ok {
			return nil, fmt.Errorf("%w %q on %s", ErrUnknownAttribute, a, d.Entity)
		}
		if err := Assign(out, a, v); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Matches reports whether m satisfies every predicate of w.
func Matches(m Model, w Where) bool {
	for attr, want := range w {
		got, ok := Value(m, attr)
		if !ok {
			return false
		}
		if !matchValue(got, want) {
			return false
		}
	}
	return true
}

func matchValue(got, want any) bool {
	rv := reflect.ValueOf(want)
	if rv.Kind() == reflect.Slice {
		for i := 0; i < rv.Len(); i++ {
			if equal(got, rv.Index(i).Interface()) {
				return true
			}
		}
		return false
	}
	return equal(got, want)
}

func equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if x, ok := toInt64(a); ok {
		y, ok := toInt64(b)
		return ok && x == y
	}
	return reflect.DeepEqual(a, b)
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case float64:
		if n != float64(int64(n)) {
			return 0, false
		}
		return int64(n), true
	default:
		return 0, false
	}
}
