package program

import (
	"math"
	"slices"

	"github.com/janpfeifer/fusebench/internal/generics"
	"github.com/pkg/errors"
)

// Attrs holds the attributes of an operator. Values are int, float64, bool, string, []int or []float64.
type Attrs map[string]any

// Clone returns a copy of the attributes, with slices copied.
func (a Attrs) Clone() Attrs {
	if a == nil {
		return nil
	}
	c := make(Attrs, len(a))
	for name, value := range a {
		switch v := value.(type) {
		case []int:
			c[name] = slices.Clone(v)
		case []float64:
			c[name] = slices.Clone(v)
		default:
			c[name] = value
		}
	}
	return c
}

// Names returns the sorted attribute names.
func (a Attrs) Names() []string {
	return slices.Collect(generics.SortedKeys(a))
}

// Int returns the integer attribute name, or defaultValue if not set.
func (a Attrs) Int(name string, defaultValue int) (int, error) {
	value, found := a[name]
	if !found {
		return defaultValue, nil
	}
	switch v := value.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		if v == math.Trunc(v) {
			return int(v), nil
		}
	}
	return 0, errors.Errorf("attribute %q=%v (%T) is not an int", name, value, value)
}

// Ints returns the integer list attribute name, or defaultValue if not set.
func (a Attrs) Ints(name string, defaultValue ...int) ([]int, error) {
	value, found := a[name]
	if !found {
		return defaultValue, nil
	}
	switch v := value.(type) {
	case []int:
		return v, nil
	case []float64:
		ints := make([]int, len(v))
		for ii, f := range v {
			if f != math.Trunc(f) {
				return nil, errors.Errorf("attribute %q=%v is not a list of ints", name, value)
			}
			ints[ii] = int(f)
		}
		return ints, nil
	}
	return nil, errors.Errorf("attribute %q=%v (%T) is not a list of ints", name, value, value)
}

// Float returns the float attribute name, or defaultValue if not set.
func (a Attrs) Float(name string, defaultValue float64) (float64, error) {
	value, found := a[name]
	if !found {
		return defaultValue, nil
	}
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	}
	return 0, errors.Errorf("attribute %q=%v (%T) is not a float", name, value, value)
}

// Bool returns the bool attribute name, or defaultValue if not set.
func (a Attrs) Bool(name string, defaultValue bool) (bool, error) {
	value, found := a[name]
	if !found {
		return defaultValue, nil
	}
	if v, ok := value.(bool); ok {
		return v, nil
	}
	return false, errors.Errorf("attribute %q=%v (%T) is not a bool", name, value, value)
}

// String returns the string attribute name, or defaultValue if not set.
func (a Attrs) String(name string, defaultValue string) (string, error) {
	value, found := a[name]
	if !found {
		return defaultValue, nil
	}
	if v, ok := value.(string); ok {
		return v, nil
	}
	return "", errors.Errorf("attribute %q=%v (%T) is not a string", name, value, value)
}

// normalize converts values decoded from JSON: integral numbers become int, lists of
// numbers become []int if all integral or []float64 otherwise.
func (a Attrs) normalize() Attrs {
	for name, value := range a {
		switch v := value.(type) {
		case float64:
			if v == math.Trunc(v) && math.Abs(v) < 1<<53 {
				a[name] = int(v)
			}
		case []any:
			floats := make([]float64, 0, len(v))
			allInts := true
			for _, e := range v {
				f, ok := e.(float64)
				if !ok {
					break
				}
				allInts = allInts && f == math.Trunc(f)
				floats = append(floats, f)
			}
			if len(floats) != len(v) {
				continue
			}
			if allInts {
				ints := make([]int, len(floats))
				for ii, f := range floats {
					ints[ii] = int(f)
				}
				a[name] = ints
			} else {
				a[name] = floats
			}
		}
	}
	return a
}
