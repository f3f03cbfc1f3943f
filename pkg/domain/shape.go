package domain

import (
	"reflect"
	"strconv"
	"strings"
)

// Shape is the ordered list of an artifact's dimensions at capture time.
type Shape []int

// Shaper is implemented by artifacts with a multi-dimensional notion of size (tables, tensors).
type Shaper interface {
	Shape() []int
}

// Lener is implemented by artifacts with a one-dimensional length.
type Lener interface {
	Len() int
}

// ShapeOf derives the shape of v.
//
// Shaper wins over Lener; slices, arrays, maps, strings and channels report their
// length. A pointer is followed once. Anything else has an empty shape.
func ShapeOf(v any) Shape {
	if v == nil {
		return nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer && rv.IsNil() {
		return nil
	}

	switch a := v.(type) {
	case Shaper:
		return Shape(a.Shape()).Clone()
	case Lener:
		return Shape{a.Len()}
	}

	if rv.Kind() == reflect.Pointer {
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map, reflect.String, reflect.Chan:
		return Shape{rv.Len()}
	}
	return nil
}

// Clone returns an independent copy of s (nil stays nil).
func (s Shape) Clone() Shape {
	if s == nil {
		return nil
	}
	out := make(Shape, len(s))
	copy(out, s)
	return out
}

// Equal reports whether both shapes have the same dimensions. Nil and empty are equal.
func (s Shape) Equal(o Shape) bool {
	if len(s) != len(o) {
		return false
	}
	for i := range s {
		if s[i] != o[i] {
			return false
		}
	}
	return true
}

// String renders the shape as a tuple, e.g. "(3, 4)". An empty shape renders as "-".
func (s Shape) String() string {
	if len(s) == 0 {
		return "-"
	}
	parts := make([]string, len(s))
	for i, d := range s {
		parts[i] = strconv.Itoa(d)
	}
	if len(parts) == 1 {
		return "(" + parts[0] + ",)"
	}
	return "(" + strings.Join(parts, ", ") + ")"
}
