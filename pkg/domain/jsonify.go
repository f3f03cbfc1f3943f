package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"runtime"
)

// Jsonify converts v into a value encoding/json can always marshal.
//
// Primitives pass through, functions become their symbol name, maps with string
// keys and slices are converted element-wise, and values that fail to marshal
// degrade to their fmt representation. It never fails.
func Jsonify(v any) any {
	switch x := v.(type) {
	case nil, bool, string,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64:
		return x
	case float32:
		return jsonifyFloat(float64(x))
	case float64:
		return jsonifyFloat(x)
	case error:
		return x.Error()
	case json.RawMessage:
		if json.Valid(x) {
			return x
		}
		return string(x)
	case []byte:
		return string(x)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Func:
		if rv.IsNil() {
			return nil
		}
		if fn := runtime.FuncForPC(rv.Pointer()); fn != nil {
			return fn.Name()
		}
		return "<func>"
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			break
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[iter.Key().String()] = Jsonify(iter.Value().Interface())
		}
		return out
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return []any{}
		}
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = Jsonify(rv.Index(i).Interface())
		}
		return out
	case reflect.Chan, reflect.UnsafePointer:
		return fmt.Sprintf("%v", v)
	}

	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return json.RawMessage(b)
}

func jsonifyFloat(f float64) any {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return fmt.Sprintf("%v", f)
	}
	return f
}
